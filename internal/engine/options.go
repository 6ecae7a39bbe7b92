package engine

import (
	"log/slog"
	"time"

	"github.com/tidefall/reflex/internal/clock"
	"github.com/tidefall/reflex/internal/conditions"
)

// DefaultMaxConcurrency is the number of worker shards when none is
// configured.
const DefaultMaxConcurrency = 10

// DefaultMaxChainDepth bounds forward chains when none is configured.
const DefaultMaxChainDepth = 64

type options struct {
	maxConcurrency  int
	maxChainDepth   int
	maxEvents       int
	maxTraceEntries int
	shutdownTimeout time.Duration
	clk             clock.Clock
	ids             IDGenerator
	baseline        conditions.BaselineProvider
	logger          *slog.Logger
}

// Option configures an Engine at construction.
type Option func(*options)

func defaultOptions() options {
	return options{
		maxConcurrency:  DefaultMaxConcurrency,
		maxChainDepth:   DefaultMaxChainDepth,
		shutdownTimeout: 5 * time.Second,
		clk:             clock.New(),
		ids:             UUIDv7Generator{},
	}
}

// WithMaxConcurrency sets the number of worker shards. Jobs of one
// correlation always land on the same shard, so 1 gives fully serial
// processing.
func WithMaxConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrency = n
		}
	}
}

// WithMaxChainDepth caps forward chains. A chained emit or fact write
// past the cap is dropped and traced.
func WithMaxChainDepth(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxChainDepth = n
		}
	}
}

// WithClock swaps the time source. Tests use clock.NewManual.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clk = c
		}
	}
}

// WithIDGenerator swaps the id source. Tests use NewSequenceGenerator.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) {
		if g != nil {
			o.ids = g
		}
	}
}

// WithMaxEvents bounds the event store ring.
func WithMaxEvents(n int) Option {
	return func(o *options) { o.maxEvents = n }
}

// WithMaxTraceEntries bounds the trace ring.
func WithMaxTraceEntries(n int) Option {
	return func(o *options) { o.maxTraceEntries = n }
}

// WithBaselineProvider wires the provider behind baseline conditions.
// Without one, baseline conditions evaluate false with
// baseline_unavailable detail.
func WithBaselineProvider(p conditions.BaselineProvider) Option {
	return func(o *options) { o.baseline = p }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithShutdownTimeout bounds the drain phase of Stop when the caller's
// context has no deadline of its own.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}
