// Package registry maintains the active rule set, indexed by trigger for
// candidate lookup in priority order.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tidefall/reflex/internal/events"
	"github.com/tidefall/reflex/internal/facts"
	"github.com/tidefall/reflex/internal/rule"
)

// ErrNotFound reports a missing rule id.
var ErrNotFound = errors.New("rule not found")

// ErrConflict reports a duplicate rule id on create.
var ErrConflict = errors.New("rule already exists")

// Options control registration behavior.
type Options struct {
	// SkipValidation registers the input without structural checks.
	SkipValidation bool
	// Replace allows overwriting an existing rule with the same id,
	// preserving CreatedAt and bumping Version. Without it a duplicate
	// id is a conflict.
	Replace bool
}

// Filter narrows List results. Zero fields match everything.
type Filter struct {
	Group   string
	Tag     string
	Enabled *bool
}

type entry struct {
	rule      rule.Rule
	insertion int64
}

// Registry is the indexed rule store.
//
// Register/Unregister are atomic with respect to candidate lookup:
// readers either see the rule in every index or in none. Returned rules
// are snapshots; the registry owns the stored copies.
type Registry struct {
	mu             sync.RWMutex
	rules          map[string]*entry
	seq            int64
	disabledGroups map[string]bool
	now            func() time.Time

	byTopic       map[string][]string // literal event topic -> rule ids
	byPattern     map[string][]string // event topic pattern -> rule ids
	byFactPattern map[string][]string // fact pattern -> rule ids
	byTimerName   map[string][]string // timer name -> rule ids
	temporal      []string            // temporal rule ids, insertion order
}

// New creates an empty registry. A nil now uses time.Now.
func New(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		rules:          make(map[string]*entry),
		disabledGroups: make(map[string]bool),
		now:            now,
		byTopic:        make(map[string][]string),
		byPattern:      make(map[string][]string),
		byFactPattern:  make(map[string][]string),
		byTimerName:    make(map[string][]string),
	}
}

// Register validates and stores a rule, assigning metadata. Replacing an
// existing rule keeps its CreatedAt and increments its Version.
func (r *Registry) Register(in rule.Input, opts Options) (rule.Rule, error) {
	if !opts.SkipValidation {
		if err := in.Validate(); err != nil {
			return rule.Rule{}, err
		}
	} else if in.ID == "" {
		return rule.Rule{}, &rule.ValidationError{Path: "id", Message: "rule id is required"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.rules[in.ID]
	if exists && !opts.Replace {
		return rule.Rule{}, fmt.Errorf("%w: %s", ErrConflict, in.ID)
	}

	version := 1
	created := r.now()
	if exists {
		version = existing.rule.Version + 1
		created = existing.rule.CreatedAt
		r.removeFromIndexesLocked(existing.rule)
	}

	stored := in.Materialize(r.now(), version)
	stored.CreatedAt = created

	r.seq++
	e := &entry{rule: stored, insertion: r.seq}
	r.rules[stored.ID] = e
	r.addToIndexesLocked(stored)

	return stored.Clone(), nil
}

// Unregister removes a rule. Reports whether it existed.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, exists := r.rules[id]
	if !exists {
		return false
	}
	r.removeFromIndexesLocked(e.rule)
	delete(r.rules, id)
	return true
}

// Get returns a snapshot of the rule.
func (r *Registry) Get(id string) (rule.Rule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, exists := r.rules[id]
	if !exists {
		return rule.Rule{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e.rule.Clone(), nil
}

// Enable marks a rule enabled.
func (r *Registry) Enable(id string) error { return r.setEnabled(id, true) }

// Disable marks a rule disabled. Disabled rules stay indexed but are
// filtered out of candidate lookups.
func (r *Registry) Disable(id string) error { return r.setEnabled(id, false) }

func (r *Registry) setEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, exists := r.rules[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if e.rule.Enabled != enabled {
		e.rule.Enabled = enabled
		e.rule.UpdatedAt = r.now()
	}
	return nil
}

// EnableGroup clears a group-level disable.
func (r *Registry) EnableGroup(group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.disabledGroups, group)
}

// DisableGroup suppresses every rule in the group without touching the
// per-rule enabled flags.
func (r *Registry) DisableGroup(group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabledGroups[group] = true
}

// List returns snapshots of rules matching the filter, ordered by
// priority descending with insertion order breaking ties.
func (r *Registry) List(f Filter) []rule.Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var entries []*entry
	for _, e := range r.rules {
		if f.Group != "" && e.rule.Group != f.Group {
			continue
		}
		if f.Tag != "" && !e.rule.HasTag(f.Tag) {
			continue
		}
		if f.Enabled != nil && e.rule.Enabled != *f.Enabled {
			continue
		}
		entries = append(entries, e)
	}
	return r.snapshotSorted(entries)
}

// Len returns the number of registered rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// CandidatesForEvent returns active rules triggered by the topic, in
// priority order. Literal-index matches precede pattern-index matches at
// equal priority and insertion rank; a rule appears once even if both
// indexes match.
func (r *Registry) CandidatesForEvent(topic string) []rule.Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var candidates []*entry
	for _, id := range r.byTopic[topic] {
		candidates = r.appendActiveLocked(candidates, seen, id)
	}
	for pattern, ids := range r.byPattern {
		if !events.TopicMatches(pattern, topic) {
			continue
		}
		for _, id := range ids {
			candidates = r.appendActiveLocked(candidates, seen, id)
		}
	}
	return r.snapshotSorted(candidates)
}

// CandidatesForFactChange returns active fact-triggered rules whose
// pattern matches the changed key, in priority order.
func (r *Registry) CandidatesForFactChange(key string) []rule.Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var candidates []*entry
	for pattern, ids := range r.byFactPattern {
		if pattern != key && !facts.MatchPattern(pattern, key) {
			continue
		}
		for _, id := range ids {
			candidates = r.appendActiveLocked(candidates, seen, id)
		}
	}
	return r.snapshotSorted(candidates)
}

// CandidatesForTimer returns active rules triggered by the named timer.
func (r *Registry) CandidatesForTimer(name string) []rule.Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	var candidates []*entry
	for _, id := range r.byTimerName[name] {
		candidates = r.appendActiveLocked(candidates, seen, id)
	}
	return r.snapshotSorted(candidates)
}

// TemporalRules returns active temporal rules in insertion order.
func (r *Registry) TemporalRules() []rule.Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []rule.Rule
	for _, id := range r.temporal {
		if e, exists := r.rules[id]; exists && r.activeLocked(e) {
			out = append(out, e.rule.Clone())
		}
	}
	return out
}

func (r *Registry) activeLocked(e *entry) bool {
	if !e.rule.Enabled {
		return false
	}
	if e.rule.Group != "" && r.disabledGroups[e.rule.Group] {
		return false
	}
	return true
}

func (r *Registry) appendActiveLocked(dst []*entry, seen map[string]bool, id string) []*entry {
	if seen[id] {
		return dst
	}
	seen[id] = true
	e, exists := r.rules[id]
	if !exists || !r.activeLocked(e) {
		return dst
	}
	return append(dst, e)
}

// snapshotSorted orders entries by priority descending, stable on
// insertion order, and clones them.
func (r *Registry) snapshotSorted(entries []*entry) []rule.Rule {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].rule.Priority != entries[j].rule.Priority {
			return entries[i].rule.Priority > entries[j].rule.Priority
		}
		return entries[i].insertion < entries[j].insertion
	})
	out := make([]rule.Rule, len(entries))
	for i, e := range entries {
		out[i] = e.rule.Clone()
	}
	return out
}

func (r *Registry) addToIndexesLocked(stored rule.Rule) {
	switch stored.Trigger.Type {
	case rule.TriggerEvent:
		if events.IsPattern(stored.Trigger.Topic) {
			r.byPattern[stored.Trigger.Topic] = append(r.byPattern[stored.Trigger.Topic], stored.ID)
		} else {
			r.byTopic[stored.Trigger.Topic] = append(r.byTopic[stored.Trigger.Topic], stored.ID)
		}
	case rule.TriggerFact:
		r.byFactPattern[stored.Trigger.Pattern] = append(r.byFactPattern[stored.Trigger.Pattern], stored.ID)
	case rule.TriggerTimer:
		r.byTimerName[stored.Trigger.Timer] = append(r.byTimerName[stored.Trigger.Timer], stored.ID)
	case rule.TriggerTemporal:
		r.temporal = append(r.temporal, stored.ID)
	}
}

func (r *Registry) removeFromIndexesLocked(stored rule.Rule) {
	switch stored.Trigger.Type {
	case rule.TriggerEvent:
		if events.IsPattern(stored.Trigger.Topic) {
			r.byPattern[stored.Trigger.Topic] = dropID(r.byPattern[stored.Trigger.Topic], stored.ID)
			if len(r.byPattern[stored.Trigger.Topic]) == 0 {
				delete(r.byPattern, stored.Trigger.Topic)
			}
		} else {
			r.byTopic[stored.Trigger.Topic] = dropID(r.byTopic[stored.Trigger.Topic], stored.ID)
			if len(r.byTopic[stored.Trigger.Topic]) == 0 {
				delete(r.byTopic, stored.Trigger.Topic)
			}
		}
	case rule.TriggerFact:
		r.byFactPattern[stored.Trigger.Pattern] = dropID(r.byFactPattern[stored.Trigger.Pattern], stored.ID)
		if len(r.byFactPattern[stored.Trigger.Pattern]) == 0 {
			delete(r.byFactPattern, stored.Trigger.Pattern)
		}
	case rule.TriggerTimer:
		r.byTimerName[stored.Trigger.Timer] = dropID(r.byTimerName[stored.Trigger.Timer], stored.ID)
		if len(r.byTimerName[stored.Trigger.Timer]) == 0 {
			delete(r.byTimerName, stored.Trigger.Timer)
		}
	case rule.TriggerTemporal:
		r.temporal = dropID(r.temporal, stored.ID)
	}
}

func dropID(ids []string, id string) []string {
	for i, candidate := range ids {
		if candidate == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
