// Package storage defines the keyed snapshot adapter capability:
// opaque JSON state blobs saved under string keys, wrapped in a metadata
// envelope. The engine and the persistence surfaces consume the
// capability; adapters never interpret the state.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// SchemaVersion is stamped into every envelope written by this build.
// Load rejects envelopes from a newer schema.
const SchemaVersion = 1

// ErrSchemaVersion reports an envelope written by a newer build.
var ErrSchemaVersion = errors.New("storage: unsupported schema version")

// Metadata describes a persisted envelope.
type Metadata struct {
	PersistedAt   time.Time `json:"persistedAt"`
	ServerID      string    `json:"serverId,omitempty"`
	SchemaVersion int       `json:"schemaVersion"`
}

// Envelope is an opaque state blob plus its metadata.
type Envelope struct {
	State    json.RawMessage `json:"state"`
	Metadata Metadata        `json:"metadata"`
}

// Adapter is the keyed persistence capability.
//
// Save replaces any envelope under the key atomically. Load reports
// ok=false for missing keys. ListKeys returns keys with the given
// prefix, sorted.
type Adapter interface {
	Save(ctx context.Context, key string, env Envelope) error
	Load(ctx context.Context, key string) (Envelope, bool, error)
	Delete(ctx context.Context, key string) (bool, error)
	Exists(ctx context.Context, key string) (bool, error)
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}
