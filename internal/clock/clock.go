// Package clock abstracts time so that timer expiry and temporal window
// evaluation are testable without real sleeps.
//
// Production code uses Real (thin wrappers over the time package). Tests
// use Manual, which only moves when Advance is called and fires scheduled
// wakes deterministically in fire-time order.
package clock

import "time"

// Clock provides the current time and schedulable wakes.
type Clock interface {
	Now() time.Time
	// AfterFunc schedules fn to run once d has elapsed. fn runs on an
	// unspecified goroutine. The returned Waker cancels the wake.
	AfterFunc(d time.Duration, fn func()) Waker
}

// Waker is a handle to a scheduled wake.
type Waker interface {
	// Stop cancels the wake. Reports true if it prevented the call from
	// running; false means the call already ran or was already stopped.
	Stop() bool
}

// Real is the wall-clock implementation backed by the time package.
type Real struct{}

// New returns the production clock.
func New() Clock { return Real{} }

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, fn func()) Waker {
	return realWaker{t: time.AfterFunc(d, fn)}
}

type realWaker struct{ t *time.Timer }

func (w realWaker) Stop() bool { return w.t.Stop() }
