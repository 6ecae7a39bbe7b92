// Package timers implements the named timer manager: one-shot, repeating,
// and cron timers with replace-on-set semantics and race-safe delivery.
package timers

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tidefall/reflex/internal/clock"
	"github.com/tidefall/reflex/internal/rule"
)

// TimerError reports an invalid timer configuration, rejected at Set
// time.
type TimerError struct {
	Name    string
	Message string
}

func (e *TimerError) Error() string {
	return fmt.Sprintf("timer %q: %s", e.Name, e.Message)
}

// IsTimerError reports whether err is (or wraps) a TimerError.
func IsTimerError(err error) bool {
	var te *TimerError
	return errors.As(err, &te)
}

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Timer is a snapshot of a pending timer.
type Timer struct {
	Name          string        `json:"name"`
	CreatedAt     time.Time     `json:"createdAt"`
	FireAt        time.Time     `json:"fireAt"`
	Duration      time.Duration `json:"duration,omitempty"`
	Cron          string        `json:"cron,omitempty"`
	Repeat        bool          `json:"repeat,omitempty"`
	Count         int           `json:"count"`
	MaxCount      int           `json:"maxCount,omitempty"`
	OnExpire      rule.EmitSpec `json:"onExpire"`
	CorrelationID string        `json:"correlationId,omitempty"`
}

// ExpireFunc receives expired timers. The manager calls it outside its
// lock; the engine turns it into a timer job on the processing queue.
type ExpireFunc func(t Timer)

type entry struct {
	timer    Timer
	schedule cron.Schedule // nil for duration timers
	waker    clock.Waker
	gen      int64 // replacement generation, guards against stale wakes
}

// Manager owns all named timers.
//
// Invariants:
//   - at most one pending wake per timer name: Set with an existing name
//     cancels the prior wake before scheduling the new one
//   - a Cancel racing with a fire either cancels cleanly or allows
//     exactly one delivery, never both
//   - after Stop returns, no further deliveries happen
type Manager struct {
	mu       sync.Mutex
	clk      clock.Clock
	deliver  ExpireFunc
	timers   map[string]*entry
	nextGen  int64
	stopped  bool
	inflight sync.WaitGroup // deliveries between wake and deliver return
}

// NewManager creates a timer manager delivering expiries through deliver.
func NewManager(clk clock.Clock, deliver ExpireFunc) *Manager {
	return &Manager{
		clk:     clk,
		deliver: deliver,
		timers:  make(map[string]*entry),
	}
}

// Set schedules a timer from the spec, replacing any timer with the same
// name atomically. Returns the scheduled snapshot.
func (m *Manager) Set(spec rule.TimerSpec, correlationID string) (Timer, error) {
	if spec.Name == "" {
		return Timer{}, &TimerError{Name: spec.Name, Message: "name is required"}
	}
	hasDuration := spec.Duration > 0
	hasCron := spec.Cron != ""
	if hasDuration == hasCron {
		return Timer{}, &TimerError{Name: spec.Name, Message: "exactly one of duration or cron is required"}
	}
	if spec.OnExpire.Topic == "" {
		return Timer{}, &TimerError{Name: spec.Name, Message: "onExpire topic is required"}
	}

	var schedule cron.Schedule
	if hasCron {
		var err error
		schedule, err = cronParser.Parse(spec.Cron)
		if err != nil {
			return Timer{}, &TimerError{Name: spec.Name, Message: fmt.Sprintf("invalid cron expression: %v", err)}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return Timer{}, &TimerError{Name: spec.Name, Message: "manager is stopped"}
	}

	// Replace-on-set: the old wake is cancelled before the new one is
	// scheduled, so the old timer can never double-fire.
	if old, exists := m.timers[spec.Name]; exists {
		old.waker.Stop()
		delete(m.timers, spec.Name)
	}

	now := m.clk.Now()
	t := Timer{
		Name:          spec.Name,
		CreatedAt:     now,
		Duration:      spec.Duration.Std(),
		Cron:          spec.Cron,
		Repeat:        spec.Repeat,
		MaxCount:      spec.MaxCount,
		OnExpire:      spec.OnExpire,
		CorrelationID: correlationID,
	}
	if hasCron {
		t.FireAt = schedule.Next(now)
	} else {
		t.FireAt = now.Add(spec.Duration.Std())
	}

	m.nextGen++
	e := &entry{timer: t, schedule: schedule, gen: m.nextGen}
	m.timers[spec.Name] = e
	m.scheduleLocked(e)

	slog.Debug("timer set", "name", t.Name, "fire_at", t.FireAt, "cron", t.Cron)
	return t, nil
}

// Cancel removes a timer. Reports whether a pending timer existed.
func (m *Manager) Cancel(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, exists := m.timers[name]
	if !exists {
		return false
	}
	e.waker.Stop()
	delete(m.timers, name)
	slog.Debug("timer cancelled", "name", name)
	return true
}

// Get returns the pending timer with the given name.
func (m *Manager) Get(name string) (Timer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, exists := m.timers[name]
	if !exists {
		return Timer{}, false
	}
	return e.timer, true
}

// All returns every pending timer, sorted by name.
func (m *Manager) All() []Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Timer, 0, len(m.timers))
	for _, e := range m.timers {
		out = append(out, e.timer)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of pending timers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// Stop cancels all pending wakes. No deliveries happen after Stop
// returns.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	for name, e := range m.timers {
		e.waker.Stop()
		delete(m.timers, name)
	}
	m.mu.Unlock()

	// Wait out any delivery that won its race before stopped was set.
	m.inflight.Wait()
	slog.Debug("timer manager stopped")
}

// scheduleLocked arms the wake for an entry. Callers hold m.mu.
func (m *Manager) scheduleLocked(e *entry) {
	delay := e.timer.FireAt.Sub(m.clk.Now())
	if delay < 0 {
		delay = 0
	}
	gen := e.gen
	name := e.timer.Name
	e.waker = m.clk.AfterFunc(delay, func() {
		m.fire(name, gen)
	})
}

// fire handles a wake. The generation check makes stale wakes (replaced
// or cancelled timers) a no-op: either the cancel won and nothing is
// delivered, or the fire won and exactly one delivery happens.
func (m *Manager) fire(name string, gen int64) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	e, exists := m.timers[name]
	if !exists || e.gen != gen {
		m.mu.Unlock()
		return
	}

	e.timer.Count++
	fired := e.timer

	switch {
	case e.schedule != nil:
		// Cron timers compute the next instant from the wall clock after
		// each fire, unless the fire budget is spent.
		if e.timer.MaxCount > 0 && e.timer.Count >= e.timer.MaxCount {
			delete(m.timers, name)
		} else {
			e.timer.FireAt = e.schedule.Next(m.clk.Now())
			m.nextGen++
			e.gen = m.nextGen
			m.scheduleLocked(e)
		}
	case e.timer.Repeat:
		if e.timer.MaxCount > 0 && e.timer.Count >= e.timer.MaxCount {
			delete(m.timers, name)
		} else {
			e.timer.FireAt = m.clk.Now().Add(e.timer.Duration)
			m.nextGen++
			e.gen = m.nextGen
			m.scheduleLocked(e)
		}
	default:
		delete(m.timers, name)
	}
	m.inflight.Add(1)
	m.mu.Unlock()

	m.deliver(fired)
	m.inflight.Done()
}
