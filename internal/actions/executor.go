// Package actions executes rule action lists in declared order against an
// Effects sink provided by the engine.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tidefall/reflex/internal/conditions"
	"github.com/tidefall/reflex/internal/rule"
)

// Service is an external capability callable from call_service actions.
type Service interface {
	Call(ctx context.Context, method string, args map[string]any) (any, error)
}

// ServiceFunc adapts a function to the Service interface.
type ServiceFunc func(ctx context.Context, method string, args map[string]any) (any, error)

func (f ServiceFunc) Call(ctx context.Context, method string, args map[string]any) (any, error) {
	return f(ctx, method, args)
}

// Effects is the engine-provided sink for action side effects. Fact
// writes and chained emits enqueue follow-up processing jobs; they never
// execute rules inline.
type Effects interface {
	SetFact(key string, val any) error
	DeleteFact(key string) error
	EmitChained(topic string, data map[string]any)
	SetTimer(spec rule.TimerSpec) error
	CancelTimer(name string) bool
	Service(name string) (Service, bool)
}

// ObserveFunc sees each completed or failed action with its duration.
// The engine wires this to the trace collector.
type ObserveFunc func(a rule.Action, d time.Duration, err error)

// Executor runs ordered action lists. Each action runs to completion (or
// error) before the next starts; an error aborts the remainder unless a
// try_catch absorbs it.
type Executor struct {
	Effects   Effects
	Evaluator *conditions.Evaluator
	Logger    *slog.Logger
	Observe   ObserveFunc
}

// Execute runs the action list in order. The returned error is the first
// unabsorbed failure, wrapped as an ActionError.
func (x *Executor) Execute(ctx context.Context, list []rule.Action, ectx *conditions.Context) error {
	for i, a := range list {
		start := time.Now()
		err := x.run(ctx, a, ectx)
		if x.Observe != nil {
			x.Observe(a, time.Since(start), err)
		}
		if err != nil {
			return fmt.Errorf("actions[%d]: %w", i, err)
		}
	}
	return nil
}

func (x *Executor) run(ctx context.Context, a rule.Action, ectx *conditions.Context) error {
	switch a.Type {
	case rule.ActionSetFact:
		key := Interpolate(a.Key, ectx)
		return actionErr(a.Type, x.Effects.SetFact(key, resolveRuleValue(a.Value, ectx)))

	case rule.ActionDeleteFact:
		return actionErr(a.Type, x.Effects.DeleteFact(Interpolate(a.Key, ectx)))

	case rule.ActionEmitEvent:
		topic := Interpolate(a.Topic, ectx)
		data, _ := resolveTree(a.Data, ectx).(map[string]any)
		x.Effects.EmitChained(topic, data)
		return nil

	case rule.ActionSetTimer:
		spec := *a.Timer
		spec.Name = Interpolate(spec.Name, ectx)
		spec.OnExpire.Topic = Interpolate(spec.OnExpire.Topic, ectx)
		if spec.OnExpire.Data != nil {
			spec.OnExpire.Data, _ = resolveTree(spec.OnExpire.Data, ectx).(map[string]any)
		}
		return actionErr(a.Type, x.Effects.SetTimer(spec))

	case rule.ActionCancelTimer:
		x.Effects.CancelTimer(Interpolate(a.Name, ectx))
		return nil

	case rule.ActionCallService:
		return actionErr(a.Type, x.callService(ctx, a, ectx))

	case rule.ActionLog:
		x.logAction(a, ectx)
		return nil

	case rule.ActionConditional:
		pass, _ := x.Evaluator.EvaluateAll(a.Conditions, ectx)
		if pass {
			return x.Execute(ctx, a.Then, ectx)
		}
		return x.Execute(ctx, a.Else, ectx)

	case rule.ActionTryCatch:
		return x.tryCatch(ctx, a, ectx)

	default:
		return actionErr(a.Type, fmt.Errorf("unknown action type %q", a.Type))
	}
}

func (x *Executor) callService(ctx context.Context, a rule.Action, ectx *conditions.Context) error {
	svc, ok := x.Effects.Service(a.Service)
	if !ok {
		return fmt.Errorf("service %q is not registered", a.Service)
	}
	args, _ := resolveTree(a.Args, ectx).(map[string]any)

	callCtx := ctx
	if a.TimeoutMs > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(a.TimeoutMs)*time.Millisecond)
		defer cancel()
	}
	_, err := svc.Call(callCtx, a.Method, args)
	if err != nil && a.TimeoutMs > 0 && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s.%s after %dms", ErrActionTimeout, a.Service, a.Method, a.TimeoutMs)
	}
	return err
}

func (x *Executor) logAction(a rule.Action, ectx *conditions.Context) {
	logger := x.Logger
	if logger == nil {
		logger = slog.Default()
	}
	msg := Interpolate(a.Message, ectx)
	attrs := []any{"correlation_id", ectx.CorrelationID}
	switch a.Level {
	case "debug":
		logger.Debug(msg, attrs...)
	case "warn":
		logger.Warn(msg, attrs...)
	case "error":
		logger.Error(msg, attrs...)
	default:
		logger.Info(msg, attrs...)
	}
}

// tryCatch runs the try block; on failure the catch block runs with the
// error bound into the context under the configured name (default
// "error"); the finally block always runs. An error from catch or
// finally propagates and aborts the rule's remaining actions.
func (x *Executor) tryCatch(ctx context.Context, a rule.Action, ectx *conditions.Context) error {
	tryErr := x.Execute(ctx, a.Try, ectx)

	var catchErr error
	if tryErr != nil && a.Catch != nil {
		binding := "error"
		if a.Catch.As != "" {
			binding = a.Catch.As
		}
		detail := map[string]any{"message": tryErr.Error()}
		if ae, ok := AsActionError(tryErr); ok {
			detail["actionType"] = string(ae.ActionType)
		}
		catchCtx := ectx.Child(map[string]any{binding: detail})
		catchErr = x.Execute(ctx, a.Catch.Actions, catchCtx)
		tryErr = nil // absorbed
	}

	finallyErr := x.Execute(ctx, a.Finally, ectx)

	switch {
	case catchErr != nil:
		return catchErr
	case tryErr != nil:
		return tryErr
	default:
		return finallyErr
	}
}
