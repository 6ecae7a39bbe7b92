package engine

import (
	"errors"
	"fmt"
)

// ErrStopped is returned by ingress calls after Stop.
var ErrStopped = errors.New("engine is stopped")

// ErrServiceUnavailable marks an optional subsystem that is not
// configured (persistence, baseline provider).
var ErrServiceUnavailable = errors.New("subsystem not configured")

// ChainDepthExceededError reports a forward chain that ran past the
// configured depth cap. The offending job is dropped and recorded; the
// worker carries on.
type ChainDepthExceededError struct {
	CorrelationID string
	Depth         int
	Max           int
}

func (e *ChainDepthExceededError) Error() string {
	return fmt.Sprintf("chain depth %d exceeds max %d (correlation=%s)", e.Depth, e.Max, e.CorrelationID)
}

// IsChainDepthExceeded reports whether err is a ChainDepthExceededError.
func IsChainDepthExceeded(err error) bool {
	var ce *ChainDepthExceededError
	return errors.As(err, &ce)
}
