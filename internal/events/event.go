// Package events defines the immutable event envelope and the bounded
// event store with topic and correlation indexes.
package events

import "time"

// Event is the immutable envelope flowing through the pipeline.
//
// CorrelationID tags every event derived from one root ingress.
// CausationID names the immediate parent event; it is empty for roots.
// Events are never mutated after creation; Data is shared, treat it as
// read-only.
type Event struct {
	ID            string         `json:"id"`
	Topic         string         `json:"topic"`
	Data          map[string]any `json:"data,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Source        string         `json:"source,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	CausationID   string         `json:"causationId,omitempty"`
}

// TopicMatches reports whether an event topic matches a literal or
// pattern. Patterns use dot-separated segments where "*" matches exactly
// one segment; a bare "*" matches any topic.
func TopicMatches(pattern, topic string) bool {
	if pattern == topic || pattern == "*" {
		return true
	}
	pi, ti := 0, 0
	for {
		pseg, pnext, pok := nextSegment(pattern, pi)
		tseg, tnext, tok := nextSegment(topic, ti)
		if !pok || !tok {
			return !pok && !tok
		}
		if pseg != "*" && pseg != tseg {
			return false
		}
		pi, ti = pnext, tnext
	}
}

// IsPattern reports whether a topic string contains wildcard segments.
func IsPattern(topic string) bool {
	if topic == "*" {
		return true
	}
	for i := 0; ; {
		seg, next, ok := nextSegment(topic, i)
		if !ok {
			return false
		}
		if seg == "*" {
			return true
		}
		i = next
	}
}

func nextSegment(s string, start int) (seg string, next int, ok bool) {
	if start >= len(s) {
		return "", start, false
	}
	for i := start; i < len(s); i++ {
		if s[i] == '.' {
			return s[start:i], i + 1, true
		}
	}
	return s[start:], len(s) + 1, true
}
