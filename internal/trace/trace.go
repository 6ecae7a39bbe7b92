// Package trace implements the bounded trace ring: every observable
// moment in the pipeline is recorded as a typed entry, retained in a
// fixed-size FIFO ring and fanned out synchronously to subscribers.
// Metrics, audit, and debug streams are pure consumers of this package.
package trace

import (
	"log/slog"
	"sync"
	"time"
)

// EntryType classifies trace entries.
type EntryType string

const (
	RuleTriggered      EntryType = "rule_triggered"
	RuleExecuted       EntryType = "rule_executed"
	RuleSkipped        EntryType = "rule_skipped"
	RuleFailed         EntryType = "rule_failed"
	ConditionEvaluated EntryType = "condition_evaluated"
	ActionCompleted    EntryType = "action_completed"
	ActionFailed       EntryType = "action_failed"
	EventEmitted       EntryType = "event_emitted"
	FactChanged        EntryType = "fact_changed"
	TimerSet           EntryType = "timer_set"
	TimerExpired       EntryType = "timer_expired"
	TimerCancelled     EntryType = "timer_cancelled"
	ChainDepthExceeded EntryType = "chain_depth_exceeded"
	TemporalMatched    EntryType = "temporal_matched"
	HotReloadStarted   EntryType = "hot_reload_started"
	HotReloadCompleted EntryType = "hot_reload_completed"
	HotReloadFailed    EntryType = "hot_reload_failed"
)

// Entry is one recorded moment.
type Entry struct {
	ID            int64          `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Type          EntryType      `json:"type"`
	RuleID        string         `json:"ruleId,omitempty"`
	RuleName      string         `json:"ruleName,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	DurationMs    float64        `json:"durationMs,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// Query filters entries. Zero fields match everything; Limit caps the
// result from the newest end (0 = no cap).
type Query struct {
	CorrelationID string
	RuleID        string
	Types         []EntryType
	Limit         int
}

// SubscribeFunc receives entries as they are recorded.
type SubscribeFunc func(Entry)

// UnsubscribeFunc removes a subscription.
type UnsubscribeFunc func()

// DefaultMaxEntries bounds the ring when no capacity is configured.
const DefaultMaxEntries = 10000

type subscriber struct {
	id int64
	fn SubscribeFunc
}

// Collector is the bounded trace ring.
//
// When full, the oldest entry is overwritten (FIFO eviction). When
// disabled, Record is a no-op and subscribers receive nothing.
// Subscribers are notified in insertion order, synchronously, before
// Record returns; a panicking subscriber is logged and skipped, the rest
// still run.
type Collector struct {
	mu      sync.RWMutex
	ring    []Entry
	head    int // next write position
	count   int
	nextID  int64
	enabled bool
	subs    []subscriber
	subID   int64
	now     func() time.Time
}

// NewCollector creates an enabled collector retaining at most maxEntries.
// maxEntries <= 0 selects DefaultMaxEntries. A nil now uses time.Now.
func NewCollector(maxEntries int, now func() time.Time) *Collector {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if now == nil {
		now = time.Now
	}
	return &Collector{
		ring:    make([]Entry, maxEntries),
		enabled: true,
		now:     now,
	}
}

// Record stamps and stores an entry, then fans it out. The entry's ID and
// Timestamp are assigned here; caller-set values are overwritten.
func (c *Collector) Record(e Entry) {
	c.mu.Lock()
	if !c.enabled {
		c.mu.Unlock()
		return
	}
	c.nextID++
	e.ID = c.nextID
	e.Timestamp = c.now()

	c.ring[c.head] = e
	c.head = (c.head + 1) % len(c.ring)
	if c.count < len(c.ring) {
		c.count++
	}
	subs := append([]subscriber(nil), c.subs...)
	c.mu.Unlock()

	for _, sub := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("trace subscriber panicked", "entry_type", e.Type, "panic", r)
				}
			}()
			sub.fn(e)
		}()
	}
}

// Query returns matching entries oldest-first.
func (c *Collector) Query(q Query) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Entry
	for i := 0; i < c.count; i++ {
		idx := (c.head - c.count + i + len(c.ring)) % len(c.ring)
		e := c.ring[idx]
		if q.CorrelationID != "" && e.CorrelationID != q.CorrelationID {
			continue
		}
		if q.RuleID != "" && e.RuleID != q.RuleID {
			continue
		}
		if len(q.Types) > 0 && !containsType(q.Types, e.Type) {
			continue
		}
		out = append(out, e)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out
}

// Len returns the number of retained entries.
func (c *Collector) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.count
}

// Capacity returns the ring size.
func (c *Collector) Capacity() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.ring)
}

// Subscribe registers a fan-out callback.
func (c *Collector) Subscribe(fn SubscribeFunc) UnsubscribeFunc {
	c.mu.Lock()
	c.subID++
	id := c.subID
	c.subs = append(c.subs, subscriber{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, sub := range c.subs {
			if sub.id == id {
				c.subs = append(c.subs[:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

// Enable turns recording on.
func (c *Collector) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = true
}

// Disable turns recording off. Entries already retained stay queryable.
func (c *Collector) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = false
}

// IsEnabled reports whether recording is on.
func (c *Collector) IsEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

func containsType(types []EntryType, t EntryType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}
