package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// SQLite is a file-backed adapter. Each Save is a single upsert, so a
// crash mid-save leaves the previous envelope intact.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite creates or opens the envelope database at path.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode
//   - 5-second busy timeout for lock contention
//   - a single connection, since SQLite allows one writer at a time
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLite) Save(ctx context.Context, key string, env Envelope) error {
	state := env.State
	if state == nil {
		state = json.RawMessage("null")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO envelopes (key, state, persisted_at, server_id, schema_version)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			state = excluded.state,
			persisted_at = excluded.persisted_at,
			server_id = excluded.server_id,
			schema_version = excluded.schema_version`,
		key,
		string(state),
		env.Metadata.PersistedAt.UTC().Format(time.RFC3339Nano),
		env.Metadata.ServerID,
		env.Metadata.SchemaVersion,
	)
	if err != nil {
		return fmt.Errorf("save envelope %q: %w", key, err)
	}
	return nil
}

func (s *SQLite) Load(ctx context.Context, key string) (Envelope, bool, error) {
	var env Envelope
	var state, persistedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT state, persisted_at, server_id, schema_version FROM envelopes WHERE key = ?`, key,
	).Scan(&state, &persistedAt, &env.Metadata.ServerID, &env.Metadata.SchemaVersion)
	if err == sql.ErrNoRows {
		return Envelope{}, false, nil
	}
	if err != nil {
		return Envelope{}, false, fmt.Errorf("load envelope %q: %w", key, err)
	}
	if env.Metadata.SchemaVersion > SchemaVersion {
		return Envelope{}, false, fmt.Errorf("%w: %d", ErrSchemaVersion, env.Metadata.SchemaVersion)
	}
	env.State = json.RawMessage(state)
	env.Metadata.PersistedAt, err = time.Parse(time.RFC3339Nano, persistedAt)
	if err != nil {
		return Envelope{}, false, fmt.Errorf("parse persisted_at for %q: %w", key, err)
	}
	return env, true, nil
}

func (s *SQLite) Delete(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM envelopes WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("delete envelope %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLite) Exists(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM envelopes WHERE key = ?`, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check envelope %q: %w", key, err)
	}
	return true, nil
}

func (s *SQLite) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	// Prefix filtering happens here rather than via LIKE so keys with
	// metacharacters need no escaping.
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM envelopes ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list keys %q: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, rows.Err()
}
