// Package facts implements the keyed fact store: versioned values with
// pattern queries and post-commit change subscriptions.
package facts

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrInvalidKey is returned by Set for empty keys.
var ErrInvalidKey = errors.New("facts: invalid key")

// Fact is a keyed value with metadata. Version is monotonic per key.
type Fact struct {
	Key       string    `json:"key"`
	Value     any       `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
	Version   int64     `json:"version"`
	Source    string    `json:"source,omitempty"`
}

// Change describes a committed mutation delivered to subscribers and to
// the engine's fact-trigger scheduler.
type Change struct {
	Fact    Fact
	Deleted bool
}

// ChangeFunc receives committed changes. Callbacks run synchronously
// after the write is visible to Get; they must not block for long.
type ChangeFunc func(Change)

// UnsubscribeFunc removes a subscription.
type UnsubscribeFunc func()

type subscription struct {
	id      int64
	pattern string
	fn      ChangeFunc
}

// Store is the fact store.
//
// Writes to the same key serialize on the store mutex; version numbers
// are monotonic per key. Subscribers are notified after the write
// commits, outside the lock, in subscription order.
//
// Policy: a Set that writes a value equal to the current one still
// commits (bumps version, refreshes updatedAt) and still notifies.
// Heartbeat-style touches are observable by fact-triggered rules.
type Store struct {
	mu     sync.RWMutex
	facts  map[string]Fact
	subs   []subscription
	nextID int64
	now    func() time.Time
}

// NewStore creates an empty fact store using the given time source.
// A nil now falls back to time.Now.
func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		facts: make(map[string]Fact),
		now:   now,
	}
}

// Get returns the current value for key.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.facts[key]
	if !ok {
		return nil, false
	}
	return f.Value, true
}

// GetFull returns the fact with metadata.
func (s *Store) GetFull(key string) (Fact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.facts[key]
	return f, ok
}

// Set writes a value, bumping the per-key version, and notifies
// subscribers after commit.
func (s *Store) Set(key string, val any, source string) (Fact, error) {
	if key == "" {
		return Fact{}, fmt.Errorf("%w: key must not be empty", ErrInvalidKey)
	}

	s.mu.Lock()
	prev := s.facts[key]
	f := Fact{
		Key:       key,
		Value:     val,
		UpdatedAt: s.now(),
		Version:   prev.Version + 1,
		Source:    source,
	}
	s.facts[key] = f
	subs := s.matchingSubsLocked(key)
	s.mu.Unlock()

	notify(subs, Change{Fact: f})
	return f, nil
}

// Delete removes a key. Reports whether the key existed. Subscribers see
// a Change with Deleted set.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	f, ok := s.facts[key]
	if ok {
		delete(s.facts, key)
	}
	subs := s.matchingSubsLocked(key)
	s.mu.Unlock()

	if !ok {
		return false
	}
	notify(subs, Change{Fact: f, Deleted: true})
	return true
}

// Query returns facts whose keys match the pattern, sorted by key for
// deterministic iteration.
func (s *Store) Query(pattern string) []Fact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Fact
	for key, f := range s.facts {
		if MatchPattern(pattern, key) {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// QueryFirst returns the first fact (by key order) matching the pattern.
// Literal patterns short-circuit to a map lookup.
func (s *Store) QueryFirst(pattern string) (Fact, bool) {
	if !IsPattern(pattern) {
		return s.GetFull(pattern)
	}
	matches := s.Query(pattern)
	if len(matches) == 0 {
		return Fact{}, false
	}
	return matches[0], true
}

// Len returns the number of stored facts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.facts)
}

// All returns every fact, sorted by key. Used for snapshots.
func (s *Store) All() []Fact {
	return s.Query("**")
}

// Subscribe registers a callback for changes to keys matching pattern.
// The returned function removes the subscription.
func (s *Store) Subscribe(pattern string, fn ChangeFunc) UnsubscribeFunc {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.subs = append(s.subs, subscription{id: id, pattern: pattern, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub.id == id {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
}

func (s *Store) matchingSubsLocked(key string) []subscription {
	var out []subscription
	for _, sub := range s.subs {
		if MatchPattern(sub.pattern, key) || sub.pattern == key {
			out = append(out, sub)
		}
	}
	return out
}

// notify delivers a change to subscribers in subscription order. A
// panicking subscriber is logged and does not block the rest.
func notify(subs []subscription, ch Change) {
	for _, sub := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("fact subscriber panicked",
						"key", ch.Fact.Key,
						"pattern", sub.pattern,
						"panic", r,
					)
				}
			}()
			sub.fn(ch)
		}()
	}
}
