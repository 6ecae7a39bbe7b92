package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tidefall/reflex/internal/facts"
	"github.com/tidefall/reflex/internal/registry"
	"github.com/tidefall/reflex/internal/rule"
	"github.com/tidefall/reflex/internal/storage"
)

// SnapshotKey is the default storage key for engine state snapshots.
const SnapshotKey = "engine/state"

// snapshotState is the persisted shape: facts and rules only. Events,
// timers, and temporal progress are runtime state.
type snapshotState struct {
	Facts []facts.Fact `json:"facts"`
	Rules []rule.Rule  `json:"rules"`
}

// SaveSnapshot persists the current facts and rules under key.
func (e *Engine) SaveSnapshot(ctx context.Context, adapter storage.Adapter, key, serverID string) error {
	if adapter == nil {
		return fmt.Errorf("save snapshot: %w", ErrServiceUnavailable)
	}
	state := snapshotState{
		Facts: e.facts.All(),
		Rules: e.rules.List(registry.Filter{}),
	}
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	env := storage.Envelope{
		State: blob,
		Metadata: storage.Metadata{
			PersistedAt:   e.clk.Now(),
			ServerID:      serverID,
			SchemaVersion: storage.SchemaVersion,
		},
	}
	if err := adapter.Save(ctx, key, env); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	e.log.Info("snapshot saved",
		"key", key,
		"facts", len(state.Facts),
		"rules", len(state.Rules),
	)
	return nil
}

// LoadSnapshot restores facts and rules from the envelope under key.
// Restored facts are written directly to the store without scheduling
// fact-triggered rules, so a restart does not replay reactions to state
// that already existed. Reports whether a snapshot was found.
func (e *Engine) LoadSnapshot(ctx context.Context, adapter storage.Adapter, key string) (bool, error) {
	if adapter == nil {
		return false, fmt.Errorf("load snapshot: %w", ErrServiceUnavailable)
	}
	env, ok, err := adapter.Load(ctx, key)
	if err != nil {
		return false, fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		return false, nil
	}

	var state snapshotState
	if err := json.Unmarshal(env.State, &state); err != nil {
		return true, fmt.Errorf("decode snapshot: %w", err)
	}
	for _, f := range state.Facts {
		if _, err := e.facts.Set(f.Key, f.Value, f.Source); err != nil {
			return true, fmt.Errorf("restore fact %q: %w", f.Key, err)
		}
	}
	for _, r := range state.Rules {
		if _, err := e.RegisterRule(r.AsInput(), registry.Options{Replace: true}); err != nil {
			return true, fmt.Errorf("restore rule %q: %w", r.ID, err)
		}
	}

	e.log.Info("snapshot restored",
		"key", key,
		"facts", len(state.Facts),
		"rules", len(state.Rules),
		"persisted_at", env.Metadata.PersistedAt,
	)
	return true, nil
}
