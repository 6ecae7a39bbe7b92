package clock

import (
	"sort"
	"sync"
	"time"
)

// Manual is a deterministic clock for tests.
//
// Time only moves when Advance or SetTime is called. Scheduled wakes fire
// synchronously inside Advance, in fire-time order, with ties broken by
// scheduling order. A wake callback may schedule further wakes; those fire
// within the same Advance if they fall inside the advanced span.
//
// Thread-safety: all methods are safe for concurrent use. Callbacks run
// without the internal lock held, so they may call back into the clock.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	nextID int64
	wakes  []*manualWaker
}

// NewManual creates a manual clock at the given start instant.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Waker {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	w := &manualWaker{
		clock: m,
		id:    m.nextID,
		at:    m.now.Add(d),
		fn:    fn,
	}
	m.wakes = append(m.wakes, w)
	return w
}

// Advance moves the clock forward by d, firing every wake whose deadline
// falls within the advanced span. Wakes fire at their own deadline: a
// callback that reads Now() during Advance sees its scheduled fire time,
// not the final time.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		w := m.popDue(target)
		if w == nil {
			break
		}
		w.fn()
	}

	m.mu.Lock()
	if target.After(m.now) {
		m.now = target
	}
	m.mu.Unlock()
}

// popDue removes and returns the earliest pending wake at or before
// target, moving now to its deadline. Returns nil when none are due.
func (m *Manual) popDue(target time.Time) *manualWaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	sort.SliceStable(m.wakes, func(i, j int) bool {
		if m.wakes[i].at.Equal(m.wakes[j].at) {
			return m.wakes[i].id < m.wakes[j].id
		}
		return m.wakes[i].at.Before(m.wakes[j].at)
	})
	for i, w := range m.wakes {
		if w.at.After(target) {
			continue
		}
		m.wakes = append(m.wakes[:i], m.wakes[i+1:]...)
		if w.at.After(m.now) {
			m.now = w.at
		}
		return w
	}
	return nil
}

func (m *Manual) remove(w *manualWaker) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, pending := range m.wakes {
		if pending == w {
			m.wakes = append(m.wakes[:i], m.wakes[i+1:]...)
			return true
		}
	}
	return false
}

// PendingWakes returns the number of scheduled, unfired wakes.
// Used by tests to verify cancellation.
func (m *Manual) PendingWakes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.wakes)
}

type manualWaker struct {
	clock *Manual
	id    int64
	at    time.Time
	fn    func()
}

func (w *manualWaker) Stop() bool { return w.clock.remove(w) }
