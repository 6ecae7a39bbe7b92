package actions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidefall/reflex/internal/conditions"
	"github.com/tidefall/reflex/internal/events"
	"github.com/tidefall/reflex/internal/rule"
)

// recorder captures effects for assertions.
type recorder struct {
	facts    map[string]any
	deleted  []string
	emitted  []emitted
	timers   []rule.TimerSpec
	canceled []string
	services map[string]Service
	setErr   error
}

type emitted struct {
	topic string
	data  map[string]any
}

func newRecorder() *recorder {
	return &recorder{facts: map[string]any{}, services: map[string]Service{}}
}

func (r *recorder) SetFact(key string, val any) error {
	if r.setErr != nil {
		return r.setErr
	}
	r.facts[key] = val
	return nil
}

func (r *recorder) DeleteFact(key string) error {
	r.deleted = append(r.deleted, key)
	delete(r.facts, key)
	return nil
}

func (r *recorder) EmitChained(topic string, data map[string]any) {
	r.emitted = append(r.emitted, emitted{topic: topic, data: data})
}

func (r *recorder) SetTimer(spec rule.TimerSpec) error {
	r.timers = append(r.timers, spec)
	return nil
}

func (r *recorder) CancelTimer(name string) bool {
	r.canceled = append(r.canceled, name)
	return true
}

func (r *recorder) Service(name string) (Service, bool) {
	svc, ok := r.services[name]
	return svc, ok
}

func execContext(data map[string]any) *conditions.Context {
	return &conditions.Context{
		Event: &events.Event{
			ID:            "ev-1",
			Topic:         "order.created",
			Data:          data,
			Timestamp:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
			CorrelationID: "corr-1",
		},
		CorrelationID: "corr-1",
	}
}

func newExecutor(fx Effects) *Executor {
	return &Executor{Effects: fx, Evaluator: &conditions.Evaluator{}}
}

func TestExecute_SetFactInterpolatesKeyAndResolvesValue(t *testing.T) {
	fx := newRecorder()
	x := newExecutor(fx)
	ectx := execContext(map[string]any{"id": "X", "total": 150.0})

	err := x.Execute(context.Background(), []rule.Action{
		{Type: rule.ActionSetFact, Key: "orders:high:${event.data.id}", Value: rule.LiteralValue(true)},
		{Type: rule.ActionSetFact, Key: "orders:total:X", Value: rule.RefValue("event.data.total")},
	}, ectx)

	require.NoError(t, err)
	assert.Equal(t, true, fx.facts["orders:high:X"])
	assert.Equal(t, 150.0, fx.facts["orders:total:X"], "ref value keeps its type")
}

func TestExecute_EmitEventResolvesDataTree(t *testing.T) {
	fx := newRecorder()
	x := newExecutor(fx)
	ectx := execContext(map[string]any{"id": "X", "total": 150.0})

	err := x.Execute(context.Background(), []rule.Action{{
		Type:  rule.ActionEmitEvent,
		Topic: "order.flagged",
		Data: map[string]any{
			"orderId": "${event.data.id}",
			"total":   map[string]any{"ref": "event.data.total"},
			"note":    "order ${event.data.id} flagged",
		},
	}}, ectx)

	require.NoError(t, err)
	require.Len(t, fx.emitted, 1)
	assert.Equal(t, "order.flagged", fx.emitted[0].topic)
	assert.Equal(t, "X", fx.emitted[0].data["orderId"])
	assert.Equal(t, 150.0, fx.emitted[0].data["total"], "whole-ref strings and ref objects keep types")
	assert.Equal(t, "order X flagged", fx.emitted[0].data["note"])
}

func TestExecute_TimerActions(t *testing.T) {
	fx := newRecorder()
	x := newExecutor(fx)
	ectx := execContext(map[string]any{"id": "X"})

	err := x.Execute(context.Background(), []rule.Action{
		{Type: rule.ActionSetTimer, Timer: &rule.TimerSpec{
			Name:     "escalate:${event.data.id}",
			Duration: rule.Duration(30 * time.Minute),
			OnExpire: rule.EmitSpec{Topic: "escalation.due", Data: map[string]any{"orderId": "${event.data.id}"}},
		}},
		{Type: rule.ActionCancelTimer, Name: "escalate:${event.data.id}"},
	}, ectx)

	require.NoError(t, err)
	require.Len(t, fx.timers, 1)
	assert.Equal(t, "escalate:X", fx.timers[0].Name)
	assert.Equal(t, "X", fx.timers[0].OnExpire.Data["orderId"])
	assert.Equal(t, []string{"escalate:X"}, fx.canceled)
}

func TestExecute_ErrorAbortsRemainingActions(t *testing.T) {
	fx := newRecorder()
	fx.setErr = errors.New("store full")
	x := newExecutor(fx)
	ectx := execContext(nil)

	err := x.Execute(context.Background(), []rule.Action{
		{Type: rule.ActionSetFact, Key: "k", Value: rule.LiteralValue(1)},
		{Type: rule.ActionEmitEvent, Topic: "never.sent"},
	}, ectx)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "actions[0]")
	assert.Empty(t, fx.emitted, "actions after the failure do not run")
}

func TestExecute_ObserveSeesEveryAction(t *testing.T) {
	fx := newRecorder()
	fx.setErr = errors.New("nope")
	var seen []rule.ActionType
	var errs int
	x := newExecutor(fx)
	x.Observe = func(a rule.Action, d time.Duration, err error) {
		seen = append(seen, a.Type)
		if err != nil {
			errs++
		}
	}
	ectx := execContext(nil)

	_ = x.Execute(context.Background(), []rule.Action{
		{Type: rule.ActionLog, Message: "hi"},
		{Type: rule.ActionSetFact, Key: "k", Value: rule.LiteralValue(1)},
	}, ectx)

	assert.Equal(t, []rule.ActionType{rule.ActionLog, rule.ActionSetFact}, seen)
	assert.Equal(t, 1, errs)
}

func TestExecute_ConditionalBranches(t *testing.T) {
	fx := newRecorder()
	x := newExecutor(fx)
	ectx := execContext(map[string]any{"total": 150.0})

	cond := rule.Condition{
		Source:   rule.Source{Type: rule.SourceEvent, Field: "data.total"},
		Operator: rule.OpGt,
		Value:    rule.LiteralValue(100),
	}
	actions := []rule.Action{{
		Type:       rule.ActionConditional,
		Conditions: []rule.Condition{cond},
		Then:       []rule.Action{{Type: rule.ActionSetFact, Key: "branch", Value: rule.LiteralValue("then")}},
		Else:       []rule.Action{{Type: rule.ActionSetFact, Key: "branch", Value: rule.LiteralValue("else")}},
	}}

	require.NoError(t, x.Execute(context.Background(), actions, ectx))
	assert.Equal(t, "then", fx.facts["branch"])

	ectx = execContext(map[string]any{"total": 50.0})
	require.NoError(t, x.Execute(context.Background(), actions, ectx))
	assert.Equal(t, "else", fx.facts["branch"])
}

func TestExecute_TryCatchAbsorbsAndBindsError(t *testing.T) {
	fx := newRecorder()
	fx.services["mailer"] = ServiceFunc(func(ctx context.Context, method string, args map[string]any) (any, error) {
		return nil, errors.New("smtp down")
	})
	x := newExecutor(fx)
	ectx := execContext(nil)

	err := x.Execute(context.Background(), []rule.Action{{
		Type: rule.ActionTryCatch,
		Try:  []rule.Action{{Type: rule.ActionCallService, Service: "mailer", Method: "send"}},
		Catch: &rule.CatchSpec{
			As: "failure",
			Actions: []rule.Action{{
				Type: rule.ActionSetFact, Key: "last_error",
				Value: rule.RefValue("failure.message"),
			}},
		},
		Finally: []rule.Action{{Type: rule.ActionSetFact, Key: "cleaned", Value: rule.LiteralValue(true)}},
	}}, ectx)

	require.NoError(t, err, "catch absorbs the failure")
	msg, ok := fx.facts["last_error"].(string)
	require.True(t, ok)
	assert.Contains(t, msg, "smtp down")
	assert.Equal(t, true, fx.facts["cleaned"])
}

func TestExecute_TryCatchFinallyAlwaysRuns(t *testing.T) {
	fx := newRecorder()
	x := newExecutor(fx)
	ectx := execContext(nil)

	err := x.Execute(context.Background(), []rule.Action{{
		Type:    rule.ActionTryCatch,
		Try:     []rule.Action{{Type: rule.ActionCallService, Service: "ghost", Method: "m"}},
		Finally: []rule.Action{{Type: rule.ActionSetFact, Key: "cleaned", Value: rule.LiteralValue(true)}},
	}}, ectx)

	require.Error(t, err, "no catch: the try error propagates")
	assert.Equal(t, true, fx.facts["cleaned"])
}

func TestExecute_CallServiceTimeout(t *testing.T) {
	fx := newRecorder()
	fx.services["slow"] = ServiceFunc(func(ctx context.Context, method string, args map[string]any) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
			return "done", nil
		}
	})
	x := newExecutor(fx)

	err := x.Execute(context.Background(), []rule.Action{{
		Type: rule.ActionCallService, Service: "slow", Method: "work", TimeoutMs: 10,
	}}, execContext(nil))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrActionTimeout)
}

func TestExecute_CallServiceResolvesArgs(t *testing.T) {
	fx := newRecorder()
	var gotArgs map[string]any
	fx.services["notify"] = ServiceFunc(func(ctx context.Context, method string, args map[string]any) (any, error) {
		gotArgs = args
		return nil, nil
	})
	x := newExecutor(fx)
	ectx := execContext(map[string]any{"id": "X"})

	err := x.Execute(context.Background(), []rule.Action{{
		Type: rule.ActionCallService, Service: "notify", Method: "send",
		Args: map[string]any{"orderId": "${event.data.id}"},
	}}, ectx)

	require.NoError(t, err)
	assert.Equal(t, "X", gotArgs["orderId"])
}

func TestInterpolate(t *testing.T) {
	ectx := execContext(map[string]any{"id": "X", "n": 5.0})

	assert.Equal(t, "order X has 5 items", Interpolate("order ${event.data.id} has ${event.data.n} items", ectx))
	assert.Equal(t, "costs $5", Interpolate("costs $$${event.data.n}", ectx))
	assert.Equal(t, "missing: ", Interpolate("missing: ${event.data.nope}", ectx))
	assert.Equal(t, "no refs", Interpolate("no refs", ectx))
	assert.Equal(t, "dangling ${open", Interpolate("dangling ${open", ectx))
}
