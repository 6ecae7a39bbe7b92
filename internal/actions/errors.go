package actions

import (
	"errors"
	"fmt"

	"github.com/tidefall/reflex/internal/rule"
)

// ErrActionTimeout marks a call_service action that exceeded its
// configured timeout.
var ErrActionTimeout = errors.New("action_timeout")

// ActionError wraps a failure from one action. Inside a try_catch it is
// surfaced to the catch binding; otherwise it aborts the firing rule's
// remaining actions.
type ActionError struct {
	ActionType rule.ActionType
	Cause      error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("action %s: %v", e.ActionType, e.Cause)
}

func (e *ActionError) Unwrap() error { return e.Cause }

// AsActionError extracts an ActionError from err, if present.
func AsActionError(err error) (*ActionError, bool) {
	var ae *ActionError
	ok := errors.As(err, &ae)
	return ae, ok
}

func actionErr(t rule.ActionType, cause error) error {
	if cause == nil {
		return nil
	}
	return &ActionError{ActionType: t, Cause: cause}
}
