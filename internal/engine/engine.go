// Package engine wires the stores, registry, matcher, timers, and
// executor into the processing pipeline: ingress enqueues jobs onto
// correlation-sharded queues, one worker per shard fires rules in
// priority order, and every effect either mutates a store or enqueues a
// follow-up job. Rules never execute inline with the caller.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidefall/reflex/internal/actions"
	"github.com/tidefall/reflex/internal/clock"
	"github.com/tidefall/reflex/internal/conditions"
	"github.com/tidefall/reflex/internal/events"
	"github.com/tidefall/reflex/internal/facts"
	"github.com/tidefall/reflex/internal/registry"
	"github.com/tidefall/reflex/internal/rule"
	"github.com/tidefall/reflex/internal/temporal"
	"github.com/tidefall/reflex/internal/timers"
	"github.com/tidefall/reflex/internal/trace"
)

// Topics of synthetic events the engine fabricates for rule contexts.
// Neither is fed back into the temporal matcher, which keeps pattern
// state driven by real ingress only.
const (
	TopicFactChanged     = "fact.changed"
	TopicTemporalMatched = "temporal.matched"
)

// ErrEmptyTopic rejects ingress events without a topic.
var ErrEmptyTopic = errors.New("event topic is required")

// Engine is the rule engine runtime.
//
// Ordering guarantee: jobs sharing a correlation id are processed in
// FIFO order on a single worker shard. Distinct correlations may
// interleave freely across shards.
type Engine struct {
	cfg    options
	log    *slog.Logger
	clk    clock.Clock
	ids    IDGenerator
	eval   *conditions.Evaluator
	guard  *firingGuard
	queues []*jobQueue
	wg     sync.WaitGroup
	closed atomic.Bool

	events  *events.Store
	facts   *facts.Store
	rules   *registry.Registry
	timers  *timers.Manager
	traces  *trace.Collector
	matcher *temporal.Matcher

	svcMu    sync.RWMutex
	services map[string]actions.Service

	pendingMu   sync.Mutex
	pending     int
	corrPending map[string]int
	idle        *sync.Cond
}

// New constructs and starts an engine. Workers run until Stop.
func New(opts ...Option) *Engine {
	cfg := defaultOptions()
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:         cfg,
		log:         logger,
		clk:         cfg.clk,
		ids:         cfg.ids,
		eval:        &conditions.Evaluator{Baseline: cfg.baseline},
		guard:       newFiringGuard(),
		services:    make(map[string]actions.Service),
		corrPending: make(map[string]int),
	}
	e.idle = sync.NewCond(&e.pendingMu)

	e.events = events.NewStore(cfg.maxEvents)
	e.facts = facts.NewStore(e.clk.Now)
	e.rules = registry.New(e.clk.Now)
	e.traces = trace.NewCollector(cfg.maxTraceEntries, e.clk.Now)
	e.timers = timers.NewManager(e.clk, e.onTimerExpired)
	e.matcher = temporal.NewMatcher(e.clk, e.events, e.onTemporalFiring)

	e.queues = make([]*jobQueue, cfg.maxConcurrency)
	for i := range e.queues {
		e.queues[i] = newJobQueue()
		e.wg.Add(1)
		go e.worker(e.queues[i])
	}

	logger.Debug("engine started",
		"shards", cfg.maxConcurrency,
		"max_chain_depth", cfg.maxChainDepth,
	)
	return e
}

// Emit ingests a root event. The event is stored immediately and
// processed asynchronously; the returned event carries the assigned id,
// timestamp, and correlation id.
func (e *Engine) Emit(topic string, data map[string]any) (*events.Event, error) {
	return e.EmitEvent(topic, data, "", "")
}

// EmitEvent ingests a root event with an explicit source and correlation
// id. An empty correlation id starts a new correlation rooted at the
// event's own id.
func (e *Engine) EmitEvent(topic string, data map[string]any, source, correlationID string) (*events.Event, error) {
	if e.closed.Load() {
		return nil, ErrStopped
	}
	if topic == "" {
		return nil, ErrEmptyTopic
	}

	ev := &events.Event{
		ID:            e.ids.Generate(),
		Topic:         topic,
		Data:          data,
		Timestamp:     e.clk.Now(),
		Source:        source,
		CorrelationID: correlationID,
	}
	if ev.CorrelationID == "" {
		ev.CorrelationID = ev.ID
	}
	e.events.Store(ev)
	e.enqueue(job{kind: jobEvent, event: ev, correlationID: ev.CorrelationID})
	return ev, nil
}

// SetFact writes a fact through the engine, scheduling fact-triggered
// rules on a fresh correlation.
func (e *Engine) SetFact(key string, val any) (facts.Fact, error) {
	if e.closed.Load() {
		return facts.Fact{}, ErrStopped
	}
	f, err := e.facts.Set(key, val, "api")
	if err != nil {
		return facts.Fact{}, err
	}
	e.enqueue(job{kind: jobFactChange, change: facts.Change{Fact: f}})
	return f, nil
}

// DeleteFact removes a fact, scheduling fact-triggered rules. Reports
// whether the fact existed.
func (e *Engine) DeleteFact(key string) bool {
	if e.closed.Load() {
		return false
	}
	f, ok := e.facts.GetFull(key)
	if !ok || !e.facts.Delete(key) {
		return false
	}
	f.Version++
	e.enqueue(job{kind: jobFactChange, change: facts.Change{Fact: f, Deleted: true}})
	return true
}

// GetFact returns the current fact for a literal key.
func (e *Engine) GetFact(key string) (facts.Fact, bool) { return e.facts.GetFull(key) }

// QueryFacts returns facts matching a key pattern, sorted by key.
func (e *Engine) QueryFacts(pattern string) []facts.Fact { return e.facts.Query(pattern) }

// AllFacts returns every fact, sorted by key.
func (e *Engine) AllFacts() []facts.Fact { return e.facts.All() }

// RegisterRule validates and installs a rule. Temporal rules also arm
// their pattern in the matcher; replacing a rule re-arms from scratch.
func (e *Engine) RegisterRule(in rule.Input, opts registry.Options) (rule.Rule, error) {
	if e.closed.Load() {
		return rule.Rule{}, ErrStopped
	}
	stored, err := e.rules.Register(in, opts)
	if err != nil {
		return rule.Rule{}, err
	}
	if stored.Trigger.Type == rule.TriggerTemporal {
		e.matcher.Register(stored.ID, *stored.Trigger.Temporal)
	} else {
		// The replaced rule may have been temporal.
		e.matcher.Unregister(stored.ID)
	}
	e.log.Info("rule registered",
		"rule_id", stored.ID,
		"trigger", string(stored.Trigger.Type),
		"version", stored.Version,
	)
	return stored, nil
}

// UnregisterRule removes a rule and its temporal state. Reports whether
// it existed.
func (e *Engine) UnregisterRule(id string) bool {
	removed := e.rules.Unregister(id)
	if removed {
		e.matcher.Unregister(id)
		e.log.Info("rule unregistered", "rule_id", id)
	}
	return removed
}

// GetRule returns a snapshot of a rule.
func (e *Engine) GetRule(id string) (rule.Rule, error) { return e.rules.Get(id) }

// ListRules returns rule snapshots matching the filter, priority order.
func (e *Engine) ListRules(f registry.Filter) []rule.Rule { return e.rules.List(f) }

// EnableRule marks a rule enabled.
func (e *Engine) EnableRule(id string) error { return e.rules.Enable(id) }

// DisableRule marks a rule disabled.
func (e *Engine) DisableRule(id string) error { return e.rules.Disable(id) }

// EnableGroup clears a group-level disable.
func (e *Engine) EnableGroup(group string) { e.rules.EnableGroup(group) }

// DisableGroup suppresses every rule in the group.
func (e *Engine) DisableGroup(group string) { e.rules.DisableGroup(group) }

// SetTimer schedules or replaces a named timer.
func (e *Engine) SetTimer(spec rule.TimerSpec, correlationID string) (timers.Timer, error) {
	if e.closed.Load() {
		return timers.Timer{}, ErrStopped
	}
	return e.setTimer(spec, correlationID)
}

func (e *Engine) setTimer(spec rule.TimerSpec, correlationID string) (timers.Timer, error) {
	t, err := e.timers.Set(spec, correlationID)
	if err != nil {
		return timers.Timer{}, err
	}
	e.traces.Record(trace.Entry{
		Type:          trace.TimerSet,
		CorrelationID: correlationID,
		Details: map[string]any{
			"name":   t.Name,
			"fireAt": t.FireAt,
			"topic":  t.OnExpire.Topic,
		},
	})
	return t, nil
}

// CancelTimer removes a pending timer. Reports whether it existed.
func (e *Engine) CancelTimer(name string) bool {
	return e.cancelTimer(name, "")
}

func (e *Engine) cancelTimer(name, correlationID string) bool {
	existed := e.timers.Cancel(name)
	if existed {
		e.traces.Record(trace.Entry{
			Type:          trace.TimerCancelled,
			CorrelationID: correlationID,
			Details:       map[string]any{"name": name},
		})
	}
	return existed
}

// GetTimer returns the pending timer with the given name.
func (e *Engine) GetTimer(name string) (timers.Timer, bool) { return e.timers.Get(name) }

// ListTimers returns every pending timer, sorted by name.
func (e *Engine) ListTimers() []timers.Timer { return e.timers.All() }

// RegisterService installs a capability callable from call_service
// actions, replacing any service with the same name.
func (e *Engine) RegisterService(name string, svc actions.Service) {
	e.svcMu.Lock()
	defer e.svcMu.Unlock()
	e.services[name] = svc
}

// UnregisterService removes a named service.
func (e *Engine) UnregisterService(name string) {
	e.svcMu.Lock()
	defer e.svcMu.Unlock()
	delete(e.services, name)
}

func (e *Engine) lookupService(name string) (actions.Service, bool) {
	e.svcMu.RLock()
	defer e.svcMu.RUnlock()
	svc, ok := e.services[name]
	return svc, ok
}

// Trace exposes the trace collector for queries and subscriptions.
func (e *Engine) Trace() *trace.Collector { return e.traces }

// EventByID returns a retained event.
func (e *Engine) EventByID(id string) (*events.Event, bool) { return e.events.Get(id) }

// EventsByCorrelation returns retained events for a correlation, in
// store order.
func (e *Engine) EventsByCorrelation(correlationID string) []*events.Event {
	return e.events.ByCorrelation(correlationID)
}

// Clock returns the engine's time source.
func (e *Engine) Clock() clock.Clock { return e.clk }

// RuleCount returns the number of registered rules.
func (e *Engine) RuleCount() int { return e.rules.Len() }

// FactCount returns the number of stored facts.
func (e *Engine) FactCount() int { return e.facts.Len() }

// TimerCount returns the number of pending timers.
func (e *Engine) TimerCount() int { return e.timers.Len() }

// TraceUtilization returns the trace ring's fill ratio in [0, 1].
func (e *Engine) TraceUtilization() float64 {
	return float64(e.traces.Len()) / float64(e.traces.Capacity())
}

// WaitForQueue blocks until every enqueued job (including chained
// follow-ups) has been processed, or the context expires.
func (e *Engine) WaitForQueue(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		e.pendingMu.Lock()
		e.idle.Broadcast()
		e.pendingMu.Unlock()
	})
	defer stop()

	e.pendingMu.Lock()
	defer e.pendingMu.Unlock()
	for e.pending != 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.idle.Wait()
	}
	return nil
}

// Stop shuts the engine down: ingress is rejected, timers and temporal
// deadlines are cancelled, and the queues drain within the context (or
// the configured shutdown timeout when the context has no deadline).
// Jobs still queued after the deadline are dropped.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.timers.Stop()
	e.matcher.Stop()

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.shutdownTimeout)
		defer cancel()
	}
	drainErr := e.WaitForQueue(ctx)

	for _, q := range e.queues {
		q.close()
	}
	e.wg.Wait()

	if drainErr != nil {
		e.log.Warn("engine stopped before queues drained", "error", drainErr)
		return fmt.Errorf("drain queues: %w", drainErr)
	}
	e.log.Debug("engine stopped")
	return nil
}

// enqueue routes a job to its correlation's shard and tracks it for
// WaitForQueue. Jobs without a correlation get a fresh one.
func (e *Engine) enqueue(j job) {
	if j.correlationID == "" {
		j.correlationID = e.ids.Generate()
	}

	e.pendingMu.Lock()
	e.pending++
	e.corrPending[j.correlationID]++
	e.pendingMu.Unlock()

	q := e.queues[shardFor(j.correlationID, len(e.queues))]
	if !q.enqueue(j) {
		e.finishJob(j.correlationID)
	}
}

// finishJob balances enqueue's bookkeeping. When a correlation's last
// job finishes, its dedup history is released.
func (e *Engine) finishJob(correlationID string) {
	e.pendingMu.Lock()
	e.pending--
	e.corrPending[correlationID]--
	quiesced := e.corrPending[correlationID] == 0
	if quiesced {
		delete(e.corrPending, correlationID)
	}
	if e.pending == 0 {
		e.idle.Broadcast()
	}
	e.pendingMu.Unlock()

	if quiesced {
		e.guard.clear(correlationID)
	}
}

func (e *Engine) worker(q *jobQueue) {
	defer e.wg.Done()
	for {
		if j, ok := q.tryDequeue(); ok {
			e.processJob(j)
			continue
		}
		if _, open := <-q.wait(); !open {
			return
		}
	}
}

// processJob dispatches one job. A panic in rule machinery is contained
// to the job: logged, counted against the correlation, worker survives.
func (e *Engine) processJob(j job) {
	defer e.finishJob(j.correlationID)
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("job processing panicked",
				"kind", int(j.kind),
				"correlation_id", j.correlationID,
				"panic", r,
			)
		}
	}()

	switch j.kind {
	case jobEvent:
		e.processEvent(j)
	case jobFactChange:
		e.processFactChange(j)
	case jobTimer:
		e.processTimer(j)
	case jobTemporal:
		e.processTemporal(j)
	}
}

func (e *Engine) processEvent(j job) {
	ev := j.event
	details := map[string]any{"topic": ev.Topic, "eventId": ev.ID}
	if ev.Source != "" {
		details["source"] = ev.Source
	}
	if ev.CausationID != "" {
		details["causationId"] = ev.CausationID
	}
	e.traces.Record(trace.Entry{
		Type:          trace.EventEmitted,
		CorrelationID: j.correlationID,
		Details:       details,
	})

	e.matcher.Observe(ev)
	e.fireRules(j, ev, e.rules.CandidatesForEvent(ev.Topic), nil)
}

// processFactChange fires fact-triggered rules against a synthetic
// context event describing the change. The synthetic event is not
// retained in the event store and not observed by temporal patterns.
func (e *Engine) processFactChange(j job) {
	ch := j.change
	e.traces.Record(trace.Entry{
		Type:          trace.FactChanged,
		CorrelationID: j.correlationID,
		Details: map[string]any{
			"key":     ch.Fact.Key,
			"deleted": ch.Deleted,
			"version": ch.Fact.Version,
		},
	})

	ev := &events.Event{
		ID:        e.ids.Generate(),
		Topic:     TopicFactChanged,
		Timestamp: e.clk.Now(),
		Source:    ch.Fact.Source,
		Data: map[string]any{
			"key":     ch.Fact.Key,
			"value":   ch.Fact.Value,
			"deleted": ch.Deleted,
		},
		CorrelationID: j.correlationID,
	}
	e.fireRules(j, ev, e.rules.CandidatesForFactChange(ch.Fact.Key), nil)
}

// processTimer synthesizes the timer's onExpire event and fires both the
// timer-triggered rules and any event-triggered rules listening on the
// expiry topic.
func (e *Engine) processTimer(j job) {
	t := j.timer
	e.traces.Record(trace.Entry{
		Type:          trace.TimerExpired,
		CorrelationID: j.correlationID,
		Details: map[string]any{
			"name":  t.Name,
			"count": t.Count,
			"topic": t.OnExpire.Topic,
		},
	})

	ev := &events.Event{
		ID:            e.ids.Generate(),
		Topic:         t.OnExpire.Topic,
		Data:          t.OnExpire.Data,
		Timestamp:     e.clk.Now(),
		Source:        "timer:" + t.Name,
		CorrelationID: j.correlationID,
	}
	e.events.Store(ev)
	e.matcher.Observe(ev)

	candidates := mergeCandidates(
		e.rules.CandidatesForTimer(t.Name),
		e.rules.CandidatesForEvent(ev.Topic),
	)
	e.fireRules(j, ev, candidates, nil)
}

// processTemporal fires the matched rule against a synthetic
// temporal.matched event, with the pattern's aliases bound into the
// evaluation context. The synthetic event is retained for inspection but
// not re-observed by the matcher.
func (e *Engine) processTemporal(j job) {
	f := j.firing
	r, err := e.rules.Get(f.RuleID)
	if err != nil || !r.Enabled {
		return
	}

	e.traces.Record(trace.Entry{
		Type:          trace.TemporalMatched,
		RuleID:        r.ID,
		RuleName:      r.Name,
		CorrelationID: j.correlationID,
		Details: map[string]any{
			"patternType": string(f.PatternType),
			"detail":      f.Detail,
		},
	})

	data := map[string]any{
		"ruleId":      r.ID,
		"patternType": string(f.PatternType),
	}
	for k, v := range f.Detail {
		data[k] = v
	}
	ev := &events.Event{
		ID:            e.ids.Generate(),
		Topic:         TopicTemporalMatched,
		Data:          data,
		Timestamp:     e.clk.Now(),
		CorrelationID: j.correlationID,
	}
	e.events.Store(ev)
	e.fireRules(j, ev, []rule.Rule{r}, f.Aliases)
}

// fireRules runs candidates in order, skipping (rule, event) pairs that
// already fired within this correlation.
func (e *Engine) fireRules(j job, ev *events.Event, candidates []rule.Rule, vars map[string]any) {
	for _, r := range candidates {
		if e.guard.seen(j.correlationID, r.ID, ev.ID) {
			e.traces.Record(trace.Entry{
				Type:          trace.RuleSkipped,
				RuleID:        r.ID,
				RuleName:      r.Name,
				CorrelationID: j.correlationID,
				Details:       map[string]any{"reason": "duplicate_firing", "eventId": ev.ID},
			})
			continue
		}
		e.fireRule(j, ev, r, vars)
	}
}

func (e *Engine) fireRule(j job, ev *events.Event, r rule.Rule, vars map[string]any) {
	e.traces.Record(trace.Entry{
		Type:          trace.RuleTriggered,
		RuleID:        r.ID,
		RuleName:      r.Name,
		CorrelationID: j.correlationID,
		Details:       map[string]any{"eventId": ev.ID, "topic": ev.Topic},
	})

	ectx := &conditions.Context{
		Event:         ev,
		FactLookup:    e.factLookup,
		Vars:          vars,
		CorrelationID: j.correlationID,
	}

	// Conditions short-circuit: the first failure skips the rule.
	for i, cond := range r.Conditions {
		condStart := time.Now()
		o := e.eval.Evaluate(cond, ectx)
		details := map[string]any{"index": i, "pass": o.Pass}
		for k, v := range o.Detail {
			details[k] = v
		}
		e.traces.Record(trace.Entry{
			Type:          trace.ConditionEvaluated,
			RuleID:        r.ID,
			RuleName:      r.Name,
			CorrelationID: j.correlationID,
			DurationMs:    float64(time.Since(condStart).Nanoseconds()) / 1e6,
			Details:       details,
		})
		if !o.Pass {
			e.traces.Record(trace.Entry{
				Type:          trace.RuleSkipped,
				RuleID:        r.ID,
				RuleName:      r.Name,
				CorrelationID: j.correlationID,
				Details:       map[string]any{"reason": "conditions_failed", "failedIndex": i},
			})
			return
		}
	}

	fx := &boundEffects{
		eng:           e,
		ruleID:        r.ID,
		correlationID: j.correlationID,
		causationID:   ev.ID,
		chainDepth:    j.chainDepth,
	}
	x := &actions.Executor{
		Effects:   fx,
		Evaluator: e.eval,
		Logger:    e.log,
		Observe: func(a rule.Action, d time.Duration, err error) {
			entry := trace.Entry{
				Type:          trace.ActionCompleted,
				RuleID:        r.ID,
				RuleName:      r.Name,
				CorrelationID: j.correlationID,
				DurationMs:    float64(d.Nanoseconds()) / 1e6,
				Details:       map[string]any{"actionType": string(a.Type)},
			}
			if err != nil {
				entry.Type = trace.ActionFailed
				entry.Details["error"] = err.Error()
			}
			e.traces.Record(entry)
		},
	}

	start := time.Now()
	err := x.Execute(context.Background(), r.Actions, ectx)
	elapsed := time.Since(start)
	if err != nil {
		e.traces.Record(trace.Entry{
			Type:          trace.RuleFailed,
			RuleID:        r.ID,
			RuleName:      r.Name,
			CorrelationID: j.correlationID,
			DurationMs:    float64(elapsed.Nanoseconds()) / 1e6,
			Details:       map[string]any{"error": err.Error()},
		})
		e.log.Warn("rule failed",
			"rule_id", r.ID,
			"correlation_id", j.correlationID,
			"error", err,
		)
		return
	}
	e.traces.Record(trace.Entry{
		Type:          trace.RuleExecuted,
		RuleID:        r.ID,
		RuleName:      r.Name,
		CorrelationID: j.correlationID,
		DurationMs:    float64(elapsed.Nanoseconds()) / 1e6,
	})
}

func (e *Engine) factLookup(keyOrPattern string) (any, bool) {
	f, ok := e.facts.QueryFirst(keyOrPattern)
	if !ok {
		return nil, false
	}
	return f.Value, true
}

// onTimerExpired receives deliveries from the timer manager, outside its
// lock, and turns them into queue jobs.
func (e *Engine) onTimerExpired(t timers.Timer) {
	if e.closed.Load() {
		return
	}
	corr := t.CorrelationID
	e.enqueue(job{kind: jobTimer, timer: t, correlationID: corr})
}

// onTemporalFiring receives firings from the matcher.
func (e *Engine) onTemporalFiring(f temporal.Firing) {
	if e.closed.Load() {
		return
	}
	firing := f
	e.enqueue(job{kind: jobTemporal, firing: &firing, correlationID: f.CorrelationID})
}

// mergeCandidates concatenates two priority-ordered candidate lists,
// dropping duplicates and re-sorting so priority still wins overall.
func mergeCandidates(a, b []rule.Rule) []rule.Rule {
	if len(b) == 0 {
		return a
	}
	seen := make(map[string]bool, len(a))
	merged := make([]rule.Rule, 0, len(a)+len(b))
	for _, r := range a {
		seen[r.ID] = true
		merged = append(merged, r)
	}
	for _, r := range b {
		if !seen[r.ID] {
			merged = append(merged, r)
		}
	}
	sort.SliceStable(merged, func(i, k int) bool {
		return merged[i].Priority > merged[k].Priority
	})
	return merged
}
