// Package temporal evaluates sequence, absence, count, and aggregate
// patterns over the event stream. Matchers keep per-pattern state fed by
// Observe and fire through a callback that the engine turns into a
// synthetic rule firing.
package temporal

import (
	"log/slog"
	"sync"
	"time"

	"github.com/tidefall/reflex/internal/clock"
	"github.com/tidefall/reflex/internal/events"
	"github.com/tidefall/reflex/internal/rule"
	"github.com/tidefall/reflex/internal/value"
)

// Firing reports a completed temporal pattern.
//
// Aliases maps matcher "as" names to the matched events' data, making
// them reachable from conditions and actions as ${alias.field}.
type Firing struct {
	RuleID        string
	PatternType   rule.TemporalType
	CorrelationID string
	Aliases       map[string]any
	Detail        map[string]any
}

// FireFunc receives pattern firings. Called outside the matcher lock.
type FireFunc func(f Firing)

// Matcher tracks every registered temporal rule.
//
// Thread-safety: Observe, Register, Unregister, and Stop are safe for
// concurrent use. Absence deadlines are scheduled on the shared clock so
// tests drive them deterministically.
type Matcher struct {
	mu       sync.Mutex
	clk      clock.Clock
	store    *events.Store
	fire     FireFunc
	patterns map[string]*tracked
	stopped  bool
}

type tracked struct {
	ruleID    string
	pattern   rule.TemporalPattern
	sequences map[string]*seqState  // correlation key -> progress
	absences  map[string]*absWindow // after-event id -> window
	samples   []sample              // count/aggregate sliding window
	satisfied bool                  // edge trigger state for count/aggregate
}

type seqState struct {
	next     int
	deadline time.Time
	aliases  map[string]any
}

type absWindow struct {
	after      *events.Event
	deadline   time.Time
	suppressed bool
	waker      clock.Waker
}

type sample struct {
	at  time.Time
	val float64
}

// NewMatcher creates a matcher that reads windows from the event store
// and reports firings through fire.
func NewMatcher(clk clock.Clock, store *events.Store, fire FireFunc) *Matcher {
	return &Matcher{
		clk:      clk,
		store:    store,
		fire:     fire,
		patterns: make(map[string]*tracked),
	}
}

// Register starts tracking a temporal rule's pattern.
func (m *Matcher) Register(ruleID string, p rule.TemporalPattern) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patterns[ruleID] = &tracked{
		ruleID:    ruleID,
		pattern:   p,
		sequences: make(map[string]*seqState),
		absences:  make(map[string]*absWindow),
	}
}

// Unregister drops a rule's pattern state and cancels pending absence
// deadlines.
func (m *Matcher) Unregister(ruleID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, exists := m.patterns[ruleID]
	if !exists {
		return
	}
	for _, w := range t.absences {
		if w.waker != nil {
			w.waker.Stop()
		}
	}
	delete(m.patterns, ruleID)
}

// Stop cancels all pending deadlines. No firings happen after Stop.
func (m *Matcher) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	for _, t := range m.patterns {
		for _, w := range t.absences {
			if w.waker != nil {
				w.waker.Stop()
			}
		}
	}
	m.patterns = make(map[string]*tracked)
}

// Observe feeds one ingested event through every tracked pattern.
func (m *Matcher) Observe(ev *events.Event) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	var firings []Firing
	for _, t := range m.patterns {
		switch t.pattern.Type {
		case rule.TemporalSequence:
			if f := m.observeSequence(t, ev); f != nil {
				firings = append(firings, *f)
			}
		case rule.TemporalAbsence:
			m.observeAbsence(t, ev)
		case rule.TemporalCount, rule.TemporalAggregate:
			if f := m.observeWindowed(t, ev); f != nil {
				firings = append(firings, *f)
			}
		}
	}
	m.mu.Unlock()

	for _, f := range firings {
		m.fire(f)
	}
}

// observeSequence advances per-correlation progress. The window opens at
// the first matched event; falling past the deadline resets progress,
// re-seeding from the current event when it matches the head matcher.
func (m *Matcher) observeSequence(t *tracked, ev *events.Event) *Firing {
	key := sequenceKey(t.pattern, ev)
	st := t.sequences[key]

	if st != nil && ev.Timestamp.After(st.deadline) {
		delete(t.sequences, key)
		st = nil
	}

	if st == nil {
		if !matcherMatches(&t.pattern.Sequence[0], ev) {
			return nil
		}
		st = &seqState{
			next:     1,
			deadline: ev.Timestamp.Add(t.pattern.Within.Std()),
			aliases:  map[string]any{},
		}
		bindAlias(st.aliases, &t.pattern.Sequence[0], ev)
		if len(t.pattern.Sequence) == 1 {
			delete(t.sequences, key)
			return m.firingLocked(t, ev, st.aliases, nil)
		}
		t.sequences[key] = st
		return nil
	}

	if !matcherMatches(&t.pattern.Sequence[st.next], ev) {
		return nil
	}
	bindAlias(st.aliases, &t.pattern.Sequence[st.next], ev)
	st.next++
	if st.next < len(t.pattern.Sequence) {
		return nil
	}
	delete(t.sequences, key)
	return m.firingLocked(t, ev, st.aliases, nil)
}

// observeAbsence opens a window on the after event and marks suppression
// when the expected event arrives inside it. The boundary is exclusive:
// an expected event at exactly after+within does not suppress.
func (m *Matcher) observeAbsence(t *tracked, ev *events.Event) {
	if matcherMatches(t.pattern.Expected, ev) {
		for _, w := range t.absences {
			if !ev.Timestamp.Before(w.after.Timestamp) && ev.Timestamp.Before(w.deadline) {
				w.suppressed = true
			}
		}
	}

	if matcherMatches(t.pattern.After, ev) {
		w := &absWindow{
			after:    ev,
			deadline: ev.Timestamp.Add(t.pattern.Within.Std()),
		}
		t.absences[ev.ID] = w
		ruleID := t.ruleID
		afterID := ev.ID
		delay := w.deadline.Sub(m.clk.Now())
		if delay < 0 {
			delay = 0
		}
		w.waker = m.clk.AfterFunc(delay, func() {
			m.absenceDeadline(ruleID, afterID)
		})
	}
}

// absenceDeadline fires the pattern if the window elapsed unsuppressed.
// The event store is consulted as well: an expected event may have been
// ingested before this pattern was registered.
func (m *Matcher) absenceDeadline(ruleID, afterID string) {
	m.mu.Lock()
	t, exists := m.patterns[ruleID]
	if !exists || m.stopped {
		m.mu.Unlock()
		return
	}
	w, exists := t.absences[afterID]
	if !exists {
		m.mu.Unlock()
		return
	}
	delete(t.absences, afterID)

	suppressed := w.suppressed
	if !suppressed {
		// Exclusive upper bound: shave the boundary instant off the
		// store query's inclusive range.
		for _, candidate := range m.store.InTimeRange(t.pattern.Expected.Topic, w.after.Timestamp, w.deadline.Add(-time.Nanosecond)) {
			if matcherMatches(t.pattern.Expected, candidate) {
				suppressed = true
				break
			}
		}
	}
	if suppressed {
		m.mu.Unlock()
		return
	}

	aliases := map[string]any{}
	bindAlias(aliases, t.pattern.After, w.after)
	f := m.firingLocked(t, w.after, aliases, map[string]any{
		"expectedTopic": t.pattern.Expected.Topic,
		"withinMs":      t.pattern.Within.Std().Milliseconds(),
	})
	m.mu.Unlock()

	if f != nil {
		m.fire(*f)
	}
}

// observeWindowed handles count and aggregate patterns. Firing is
// edge-triggered: the pattern fires when the windowed value transitions
// into satisfying the comparison and re-arms when it stops satisfying it.
func (m *Matcher) observeWindowed(t *tracked, ev *events.Event) *Firing {
	if !matcherMatches(t.pattern.Match, ev) {
		return nil
	}

	s := sample{at: ev.Timestamp, val: 1}
	if t.pattern.Type == rule.TemporalAggregate && t.pattern.Function != rule.AggCount {
		raw, ok := value.Lookup(map[string]any{"data": ev.Data}, "data."+t.pattern.Field)
		if !ok {
			return nil
		}
		f, ok := value.ToFloat(raw)
		if !ok {
			slog.Debug("aggregate field is not numeric",
				"rule_id", t.ruleID, "field", t.pattern.Field, "topic", ev.Topic)
			return nil
		}
		s.val = f
	}
	t.samples = append(t.samples, s)

	cutoff := ev.Timestamp.Add(-t.pattern.Window.Std())
	kept := t.samples[:0]
	for _, old := range t.samples {
		if !old.at.Before(cutoff) {
			kept = append(kept, old)
		}
	}
	t.samples = kept

	observed := windowValue(t.pattern, t.samples)
	satisfied := compare(t.pattern.Comparison, observed, t.pattern.Threshold)
	if !satisfied {
		t.satisfied = false
		return nil
	}
	if t.satisfied {
		return nil
	}
	t.satisfied = true

	return m.firingLocked(t, ev, map[string]any{}, map[string]any{
		"observed":  observed,
		"threshold": t.pattern.Threshold,
	})
}

func windowValue(p rule.TemporalPattern, samples []sample) float64 {
	if p.Type == rule.TemporalCount || p.Function == rule.AggCount {
		return float64(len(samples))
	}
	if len(samples) == 0 {
		return 0
	}
	switch p.Function {
	case rule.AggSum, rule.AggAvg:
		sum := 0.0
		for _, s := range samples {
			sum += s.val
		}
		if p.Function == rule.AggAvg {
			return sum / float64(len(samples))
		}
		return sum
	case rule.AggMin:
		min := samples[0].val
		for _, s := range samples[1:] {
			if s.val < min {
				min = s.val
			}
		}
		return min
	case rule.AggMax:
		max := samples[0].val
		for _, s := range samples[1:] {
			if s.val > max {
				max = s.val
			}
		}
		return max
	default:
		return 0
	}
}

func compare(cmp string, observed, threshold float64) bool {
	switch cmp {
	case "lte":
		return observed <= threshold
	case "eq":
		return observed == threshold
	default: // gte
		return observed >= threshold
	}
}

func (m *Matcher) firingLocked(t *tracked, trigger *events.Event, aliases, detail map[string]any) *Firing {
	return &Firing{
		RuleID:        t.ruleID,
		PatternType:   t.pattern.Type,
		CorrelationID: trigger.CorrelationID,
		Aliases:       aliases,
		Detail:        detail,
	}
}

func sequenceKey(p rule.TemporalPattern, ev *events.Event) string {
	if p.CorrelateBy != "" {
		if v, ok := value.Lookup(map[string]any{"data": ev.Data}, "data."+p.CorrelateBy); ok {
			return value.ToString(v)
		}
		return ""
	}
	return ev.CorrelationID
}

// matcherMatches applies a matcher's topic and per-field equality
// constraints to an event.
func matcherMatches(matcher *rule.EventMatcher, ev *events.Event) bool {
	if matcher == nil {
		return false
	}
	if !events.TopicMatches(matcher.Topic, ev.Topic) {
		return false
	}
	for field, want := range matcher.Where {
		got, ok := value.Lookup(map[string]any{"data": ev.Data}, "data."+field)
		if !ok || !value.Equal(got, want) {
			return false
		}
	}
	return true
}

func bindAlias(aliases map[string]any, matcher *rule.EventMatcher, ev *events.Event) {
	if matcher.As == "" {
		return
	}
	aliases[matcher.As] = ev.Data
}
