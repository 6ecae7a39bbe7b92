package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process adapter. Useful in tests and embedded setups
// that do not want a file on disk.
//
// State blobs are copied on the way in and out so callers cannot alias
// stored bytes.
type Memory struct {
	mu        sync.RWMutex
	envelopes map[string]Envelope
}

// NewMemory creates an empty in-memory adapter.
func NewMemory() *Memory {
	return &Memory{envelopes: make(map[string]Envelope)}
}

func (m *Memory) Save(ctx context.Context, key string, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	env.State = append([]byte(nil), env.State...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.envelopes[key] = env
	return nil
}

func (m *Memory) Load(ctx context.Context, key string) (Envelope, bool, error) {
	if err := ctx.Err(); err != nil {
		return Envelope{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	env, ok := m.envelopes[key]
	if !ok {
		return Envelope{}, false, nil
	}
	if env.Metadata.SchemaVersion > SchemaVersion {
		return Envelope{}, false, ErrSchemaVersion
	}
	env.State = append([]byte(nil), env.State...)
	return env, true, nil
}

func (m *Memory) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.envelopes[key]
	delete(m.envelopes, key)
	return ok, nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.envelopes[key]
	return ok, nil
}

func (m *Memory) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.envelopes {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Close() error { return nil }
