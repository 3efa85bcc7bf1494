package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	createDocumentsSQL = `CREATE TABLE IF NOT EXISTS kv_documents (
        key        text PRIMARY KEY,
        doc        jsonb NOT NULL,
        updated_at timestamptz NOT NULL DEFAULT now()
    );`

	getDocumentSQL = `SELECT doc FROM kv_documents WHERE key = $1;`

	putMergedSQL = `INSERT INTO kv_documents (key, doc) VALUES ($1, $2::jsonb)
    ON CONFLICT (key) DO UPDATE
    SET doc        = kv_documents.doc || EXCLUDED.doc,
        updated_at = now();`

	appendCappedSQL = `INSERT INTO kv_documents (key, doc)
    VALUES ($1, jsonb_build_array($2::jsonb))
    ON CONFLICT (key) DO UPDATE
    SET doc = (
        SELECT COALESCE(jsonb_agg(elem ORDER BY ord), '[]'::jsonb)
        FROM jsonb_array_elements(kv_documents.doc || jsonb_build_array($2::jsonb))
            WITH ORDINALITY AS t(elem, ord)
        WHERE ord > jsonb_array_length(kv_documents.doc || jsonb_build_array($2::jsonb)) - $3
    ),
    updated_at = now();`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Postgres implements KV on a single jsonb documents table.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wires a pgx pool into a Postgres document store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the documents table when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	pool, err := p.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, createDocumentsSQL); execErr != nil {
		return fmt.Errorf("ensure schema: %w", execErr)
	}
	return nil
}

// Close releases the underlying pool resources.
func (p *Postgres) Close() {
	if p == nil || p.pool == nil {
		return
	}
	p.pool.Close()
}

// Get returns the stored document, or nil when the key is absent.
func (p *Postgres) Get(ctx context.Context, key string) (json.RawMessage, error) {
	pool, err := p.getPool()
	if err != nil {
		return nil, err
	}

	var doc json.RawMessage
	if scanErr := pool.QueryRow(ctx, getDocumentSQL, key).Scan(&doc); scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document %q: %w", key, scanErr)
	}
	return doc, nil
}

// PutMerged shallow-merges a partial object over the stored document.
func (p *Postgres) PutMerged(ctx context.Context, key string, partial json.RawMessage) error {
	pool, err := p.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, putMergedSQL, key, []byte(partial)); execErr != nil {
		return fmt.Errorf("put merged %q: %w", key, execErr)
	}
	return nil
}

// AppendCapped atomically appends to an array document and truncates it to
// the most recent cap entries.
func (p *Postgres) AppendCapped(ctx context.Context, key string, item json.RawMessage, cap int) error {
	pool, err := p.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, appendCappedSQL, key, []byte(item), cap); execErr != nil {
		return fmt.Errorf("append capped %q: %w", key, execErr)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a
// release func.
func (p *Postgres) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := p.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// Unlock is best effort; the session release drops the lock anyway.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (p *Postgres) getPool() (*pgxpool.Pool, error) {
	if p == nil || p.pool == nil {
		return nil, ErrNotConfigured
	}
	return p.pool, nil
}

var _ KV = (*Postgres)(nil)
var _ AdvisoryLocker = (*Postgres)(nil)
