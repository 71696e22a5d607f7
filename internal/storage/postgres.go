package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of pgxpool.Pool the provider needs; pgxmock satisfies it
// in tests.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS kv_entries (
	area       TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (area, key)
)`

// PostgresProvider persists key-value entries in a Postgres table. Change
// notifications fan out in-process after the commit succeeds; cross-process
// subscribers are out of scope.
type PostgresProvider struct {
	db     DB
	closer func()

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
}

// Connect opens a pgx pool for the DSN and returns a provider backed by it.
func Connect(ctx context.Context, dsn string) (*PostgresProvider, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	p := NewPostgresProvider(pool)
	p.closer = pool.Close
	if err := p.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgresProvider wraps an existing connection pool.
func NewPostgresProvider(db DB) *PostgresProvider {
	return &PostgresProvider{
		db:        db,
		listeners: make(map[int]Listener),
	}
}

// EnsureSchema creates the backing table when absent.
func (p *PostgresProvider) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure kv schema: %w", err)
	}
	return nil
}

// Get fetches the stored values for the requested keys; absent keys are
// omitted from the result.
func (p *PostgresProvider) Get(ctx context.Context, area string, keys []string) (map[string]json.RawMessage, error) {
	if len(keys) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	rows, err := p.db.Query(ctx,
		`SELECT key, value FROM kv_entries WHERE area = $1 AND key = ANY($2)`,
		area, keys,
	)
	if err != nil {
		return nil, fmt.Errorf("select kv entries: %w", err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage, len(keys))
	for rows.Next() {
		var key string
		var value json.RawMessage
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan kv entry: %w", err)
		}
		out[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kv entries: %w", err)
	}
	return out, nil
}

// Set upserts every entry in one transaction and notifies subscribers with
// the resulting diff after the commit. The previous values are read under a
// row lock so the diff reflects exactly what the upsert replaced.
func (p *PostgresProvider) Set(ctx context.Context, area string, entries map[string]json.RawMessage) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin kv transaction: %w", err)
	}
	diff := make(map[string]Change, len(entries))
	for key, value := range entries {
		var old json.RawMessage
		err := tx.QueryRow(ctx,
			`SELECT value FROM kv_entries WHERE area = $1 AND key = $2 FOR UPDATE`,
			area, key,
		).Scan(&old)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("read previous kv value: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO kv_entries (area, key, value, updated_at) VALUES ($1, $2, $3, now())
			 ON CONFLICT (area, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
			area, key, value,
		); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("upsert kv entry %q: %w", key, err)
		}
		diff[key] = Change{Key: key, Old: old, New: value}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit kv transaction: %w", err)
	}
	p.notify(area, diff)
	return nil
}

// Remove deletes the keys and notifies subscribers for those that existed.
func (p *PostgresProvider) Remove(ctx context.Context, area string, keys []string) error {
	diff := make(map[string]Change)
	for _, key := range keys {
		var old json.RawMessage
		err := p.db.QueryRow(ctx,
			`DELETE FROM kv_entries WHERE area = $1 AND key = $2 RETURNING value`,
			area, key,
		).Scan(&old)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return fmt.Errorf("delete kv entry %q: %w", key, err)
		}
		diff[key] = Change{Key: key, Old: old}
	}
	if len(diff) > 0 {
		p.notify(area, diff)
	}
	return nil
}

// Subscribe registers a change listener and returns its unsubscribe func.
func (p *PostgresProvider) Subscribe(fn Listener) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// Close releases the underlying pool when this provider owns it.
func (p *PostgresProvider) Close(context.Context) error {
	if p.closer != nil {
		p.closer()
	}
	return nil
}

func (p *PostgresProvider) notify(area string, diff map[string]Change) {
	p.mu.Lock()
	listeners := make([]Listener, 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()
	for _, fn := range listeners {
		fn(area, diff)
	}
}
