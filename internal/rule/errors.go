package rule

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed rule, condition, action, or
// template. Validation failures are never retried; they go back to the
// caller.
type ValidationError struct {
	// Path locates the offending element, e.g. "actions[2].timer".
	Path string

	// Message describes what is wrong.
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("validation: %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("validation: %s", e.Message)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func validationf(path, format string, args ...any) error {
	return &ValidationError{Path: path, Message: fmt.Sprintf(format, args...)}
}
