package events

import (
	"sync"
	"time"
)

// DefaultMaxEvents bounds the ring when no explicit capacity is given.
const DefaultMaxEvents = 10000

// Store is a bounded ring of recent events with secondary indexes by
// topic and correlation id. When full, the oldest event is evicted from
// the ring and from every index atomically.
//
// Thread-safety: all methods are safe for concurrent use.
type Store struct {
	mu            sync.RWMutex
	max           int
	order         []*Event // insertion order, oldest first
	byID          map[string]*Event
	byTopic       map[string][]string // topic -> event ids, insertion order
	byCorrelation map[string][]string // correlation id -> event ids
}

// NewStore creates a store holding at most maxEvents events.
// maxEvents <= 0 selects DefaultMaxEvents.
func NewStore(maxEvents int) *Store {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	return &Store{
		max:           maxEvents,
		byID:          make(map[string]*Event),
		byTopic:       make(map[string][]string),
		byCorrelation: make(map[string][]string),
	}
}

// Store appends an event, evicting the oldest if the ring is full.
// Duplicate ids overwrite nothing: the second store of an id is ignored.
func (s *Store) Store(ev *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[ev.ID]; exists {
		return
	}
	if len(s.order) >= s.max {
		s.evictOldestLocked()
	}
	s.order = append(s.order, ev)
	s.byID[ev.ID] = ev
	s.byTopic[ev.Topic] = append(s.byTopic[ev.Topic], ev.ID)
	if ev.CorrelationID != "" {
		s.byCorrelation[ev.CorrelationID] = append(s.byCorrelation[ev.CorrelationID], ev.ID)
	}
}

// Get returns the event with the given id.
func (s *Store) Get(id string) (*Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.byID[id]
	return ev, ok
}

// Len returns the number of retained events.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// ByCorrelation returns retained events carrying the correlation id, in
// store order.
func (s *Store) ByCorrelation(correlationID string) []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byCorrelation[correlationID]
	out := make([]*Event, 0, len(ids))
	for _, id := range ids {
		if ev, ok := s.byID[id]; ok {
			out = append(out, ev)
		}
	}
	return out
}

// InTimeRange returns events on topic (literal or pattern) with
// from <= timestamp <= to, in store order.
func (s *Store) InTimeRange(topic string, from, to time.Time) []*Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Event
	for _, ev := range s.order {
		if !TopicMatches(topic, ev.Topic) {
			continue
		}
		if ev.Timestamp.Before(from) || ev.Timestamp.After(to) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// CountInWindow counts events on topic with timestamp >= now-window.
// The lower bound is inclusive.
func (s *Store) CountInWindow(topic string, window time.Duration, now time.Time) int {
	cutoff := now.Add(-window)
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, ev := range s.order {
		if ev.Timestamp.Before(cutoff) {
			continue
		}
		if TopicMatches(topic, ev.Topic) {
			count++
		}
	}
	return count
}

// Prune drops events older than the cutoff from the ring and all indexes.
// Returns the number of events removed.
func (s *Store) Prune(olderThan time.Duration, now time.Time) int {
	cutoff := now.Add(-olderThan)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for len(s.order) > 0 && s.order[0].Timestamp.Before(cutoff) {
		s.evictOldestLocked()
		removed++
	}
	return removed
}

// evictOldestLocked removes the front of the ring from every index.
// Callers hold s.mu.
func (s *Store) evictOldestLocked() {
	oldest := s.order[0]
	s.order[0] = nil // release the pointer before reslicing
	s.order = s.order[1:]
	delete(s.byID, oldest.ID)
	s.byTopic[oldest.Topic] = dropID(s.byTopic[oldest.Topic], oldest.ID)
	if len(s.byTopic[oldest.Topic]) == 0 {
		delete(s.byTopic, oldest.Topic)
	}
	if oldest.CorrelationID != "" {
		s.byCorrelation[oldest.CorrelationID] = dropID(s.byCorrelation[oldest.CorrelationID], oldest.ID)
		if len(s.byCorrelation[oldest.CorrelationID]) == 0 {
			delete(s.byCorrelation, oldest.CorrelationID)
		}
	}
}

// dropID removes the first occurrence of id. Eviction is FIFO, so the
// first occurrence is always the oldest entry.
func dropID(ids []string, id string) []string {
	for i, candidate := range ids {
		if candidate == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
