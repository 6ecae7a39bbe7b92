package engine

import (
	"github.com/tidefall/reflex/internal/actions"
	"github.com/tidefall/reflex/internal/events"
	"github.com/tidefall/reflex/internal/facts"
	"github.com/tidefall/reflex/internal/rule"
	"github.com/tidefall/reflex/internal/trace"
)

// boundEffects is the per-firing action sink. It carries the firing's
// correlation, the triggering event as causation, and the chain depth so
// follow-up jobs inherit the lineage. Chained work past the depth cap is
// dropped and traced, never executed.
type boundEffects struct {
	eng           *Engine
	ruleID        string
	correlationID string
	causationID   string
	chainDepth    int
}

var _ actions.Effects = (*boundEffects)(nil)

func (b *boundEffects) SetFact(key string, val any) error {
	f, err := b.eng.facts.Set(key, val, "rule:"+b.ruleID)
	if err != nil {
		return err
	}
	b.enqueueChained(job{kind: jobFactChange, change: facts.Change{Fact: f}})
	return nil
}

func (b *boundEffects) DeleteFact(key string) error {
	f, ok := b.eng.facts.GetFull(key)
	if !ok || !b.eng.facts.Delete(key) {
		// Deleting an absent fact is a no-op, not a rule failure.
		return nil
	}
	f.Version++
	b.enqueueChained(job{kind: jobFactChange, change: facts.Change{Fact: f, Deleted: true}})
	return nil
}

func (b *boundEffects) EmitChained(topic string, data map[string]any) {
	if b.overDepth() {
		return
	}
	ev := &events.Event{
		ID:            b.eng.ids.Generate(),
		Topic:         topic,
		Data:          data,
		Timestamp:     b.eng.clk.Now(),
		Source:        "rule:" + b.ruleID,
		CorrelationID: b.correlationID,
		CausationID:   b.causationID,
	}
	b.eng.events.Store(ev)
	b.eng.enqueue(job{
		kind:          jobEvent,
		event:         ev,
		correlationID: b.correlationID,
		chainDepth:    b.chainDepth + 1,
	})
}

func (b *boundEffects) SetTimer(spec rule.TimerSpec) error {
	_, err := b.eng.setTimer(spec, b.correlationID)
	return err
}

func (b *boundEffects) CancelTimer(name string) bool {
	return b.eng.cancelTimer(name, b.correlationID)
}

func (b *boundEffects) Service(name string) (actions.Service, bool) {
	return b.eng.lookupService(name)
}

// enqueueChained pushes a follow-up job at depth+1, applying the chain
// cap.
func (b *boundEffects) enqueueChained(j job) {
	if b.overDepth() {
		return
	}
	j.correlationID = b.correlationID
	j.chainDepth = b.chainDepth + 1
	b.eng.enqueue(j)
}

// overDepth applies the chain depth cap, tracing and logging the cut.
func (b *boundEffects) overDepth() bool {
	if b.chainDepth+1 <= b.eng.cfg.maxChainDepth {
		return false
	}
	cerr := &ChainDepthExceededError{
		CorrelationID: b.correlationID,
		Depth:         b.chainDepth + 1,
		Max:           b.eng.cfg.maxChainDepth,
	}
	b.eng.traces.Record(trace.Entry{
		Type:          trace.ChainDepthExceeded,
		RuleID:        b.ruleID,
		CorrelationID: b.correlationID,
		Details: map[string]any{
			"depth": cerr.Depth,
			"max":   cerr.Max,
		},
	})
	b.eng.log.Error("forward chain cut",
		"rule_id", b.ruleID,
		"correlation_id", b.correlationID,
		"error", cerr,
	)
	return true
}
