// Package reload implements hot reloading of rule sources: poll the
// source, diff against the applied set by content hash, drain the
// engine, and swap only what changed. File sources additionally get an
// early poll kicked by filesystem notifications.
package reload

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tidefall/reflex/internal/registry"
	"github.com/tidefall/reflex/internal/rule"
	"github.com/tidefall/reflex/internal/trace"
)

// DefaultPollInterval is the source poll cadence when none is
// configured.
const DefaultPollInterval = 5 * time.Second

// Source yields the current desired rule set.
type Source interface {
	Load(ctx context.Context) ([]rule.Input, error)
	// Describe names the source for logs and traces.
	Describe() string
}

// Engine is the slice of the engine the watcher drives.
type Engine interface {
	RegisterRule(in rule.Input, opts registry.Options) (rule.Rule, error)
	UnregisterRule(id string) bool
	WaitForQueue(ctx context.Context) error
}

// Diff summarizes one reload cycle.
type Diff struct {
	Added    []string
	Removed  []string
	Modified []string
}

// Empty reports whether the cycle changed nothing.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Modified) == 0
}

// Options configure a Watcher.
type Options struct {
	// PollInterval between source loads. <= 0 selects the default.
	PollInterval time.Duration
	// ValidateBeforeApply re-validates every loaded rule and aborts the
	// whole cycle on the first failure, leaving the applied set intact.
	ValidateBeforeApply bool
	// DrainTimeout bounds the queue drain before a swap. <= 0 means 30s.
	DrainTimeout time.Duration
	Logger       *slog.Logger
}

// Watcher polls a source and applies changes to the engine.
//
// Apply is atomic with respect to rule processing: the queue is drained
// first, then removed and modified rules are unregistered and modified
// and added rules registered before any new job is produced by the
// watcher's caller.
type Watcher struct {
	eng    Engine
	src    Source
	traces *trace.Collector
	opts   Options
	log    *slog.Logger

	mu      sync.Mutex
	applied map[string]string // rule id -> content hash
	started bool

	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewWatcher creates a watcher. It does not poll until Start.
func NewWatcher(eng Engine, src Source, traces *trace.Collector, opts Options) *Watcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		eng:     eng,
		src:     src,
		traces:  traces,
		opts:    opts,
		log:     logger,
		applied: make(map[string]string),
		kick:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start runs an initial poll, then polls on the interval until Stop.
// The initial poll's error is returned; later errors are traced and
// logged only.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()

	_, err := w.Poll(ctx)
	go w.loop()
	return err
}

// Stop halts polling and waits for the loop to exit. Safe to call more
// than once. The wait happens outside the mutex: an in-flight Poll
// takes w.mu to diff and to commit the applied set.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.started = false
	close(w.stop)
	w.mu.Unlock()
	<-w.done
}

// Kick requests an early poll. Used by the fsnotify bridge; coalesces
// with a pending kick.
func (w *Watcher) Kick() {
	select {
	case w.kick <- struct{}{}:
	default:
	}
}

func (w *Watcher) loop() {
	defer close(w.done)
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
		case <-w.kick:
		}
		if _, err := w.Poll(context.Background()); err != nil {
			w.log.Error("rule reload failed", "source", w.src.Describe(), "error", err)
		}
	}
}

// Poll runs one reload cycle synchronously and returns its diff. A
// cycle with no changes records nothing.
func (w *Watcher) Poll(ctx context.Context) (Diff, error) {
	inputs, err := w.src.Load(ctx)
	if err != nil {
		w.record(trace.HotReloadFailed, map[string]any{
			"source": w.src.Describe(),
			"error":  err.Error(),
		})
		return Diff{}, err
	}

	desired := make(map[string]rule.Input, len(inputs))
	hashes := make(map[string]string, len(inputs))
	for _, in := range inputs {
		h, err := rule.HashInput(in)
		if err != nil {
			w.record(trace.HotReloadFailed, map[string]any{
				"source": w.src.Describe(),
				"error":  err.Error(),
			})
			return Diff{}, err
		}
		desired[in.ID] = in
		hashes[in.ID] = h
	}

	w.mu.Lock()
	diff := w.diffLocked(hashes)
	w.mu.Unlock()
	if diff.Empty() {
		return diff, nil
	}

	w.record(trace.HotReloadStarted, map[string]any{
		"source":   w.src.Describe(),
		"added":    len(diff.Added),
		"removed":  len(diff.Removed),
		"modified": len(diff.Modified),
	})

	if w.opts.ValidateBeforeApply {
		for _, in := range inputs {
			if err := in.Validate(); err != nil {
				w.record(trace.HotReloadFailed, map[string]any{
					"source": w.src.Describe(),
					"ruleId": in.ID,
					"error":  err.Error(),
				})
				return Diff{}, err
			}
		}
	}

	drainCtx, cancel := context.WithTimeout(ctx, w.opts.DrainTimeout)
	err = w.eng.WaitForQueue(drainCtx)
	cancel()
	if err != nil {
		w.record(trace.HotReloadFailed, map[string]any{
			"source": w.src.Describe(),
			"error":  "drain: " + err.Error(),
		})
		return Diff{}, err
	}

	for _, id := range diff.Removed {
		w.eng.UnregisterRule(id)
	}
	for _, id := range append(append([]string(nil), diff.Modified...), diff.Added...) {
		if _, err := w.eng.RegisterRule(desired[id], registry.Options{Replace: true}); err != nil {
			w.record(trace.HotReloadFailed, map[string]any{
				"source": w.src.Describe(),
				"ruleId": id,
				"error":  err.Error(),
			})
			return Diff{}, err
		}
	}

	w.mu.Lock()
	w.applied = hashes
	w.mu.Unlock()

	w.record(trace.HotReloadCompleted, map[string]any{
		"source":   w.src.Describe(),
		"added":    diff.Added,
		"removed":  diff.Removed,
		"modified": diff.Modified,
	})
	w.log.Info("rules reloaded",
		"source", w.src.Describe(),
		"added", len(diff.Added),
		"removed", len(diff.Removed),
		"modified", len(diff.Modified),
	)
	return diff, nil
}

func (w *Watcher) diffLocked(hashes map[string]string) Diff {
	var d Diff
	for id, h := range hashes {
		prev, exists := w.applied[id]
		switch {
		case !exists:
			d.Added = append(d.Added, id)
		case prev != h:
			d.Modified = append(d.Modified, id)
		}
	}
	for id := range w.applied {
		if _, still := hashes[id]; !still {
			d.Removed = append(d.Removed, id)
		}
	}
	return d
}

func (w *Watcher) record(t trace.EntryType, details map[string]any) {
	if w.traces == nil {
		return
	}
	w.traces.Record(trace.Entry{Type: t, Details: details})
}

// WatchFiles bridges fsnotify events on the given paths to Kick. The
// returned stop function closes the underlying watcher.
func WatchFiles(w *Watcher, paths ...string) (func(), error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, p := range paths {
		if err := fsw.Add(p); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	go func() {
		for {
			select {
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					w.Kick()
				}
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.log.Warn("file watch error", "error", err)
			}
		}
	}()
	return func() { fsw.Close() }, nil
}
