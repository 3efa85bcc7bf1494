package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"avgx-index/internal/config"
)

// ErrNotConfigured indicates the storage backend was not initialised.
var ErrNotConfigured = errors.New("store: backend not configured")

// KV is the abstract document store behind the history/baseline state. Any
// backing satisfies it as long as PutMerged is a shallow merge and
// AppendCapped drops oldest entries first.
type KV interface {
	// Get returns the stored document, or nil when the key is absent.
	Get(ctx context.Context, key string) (json.RawMessage, error)
	// PutMerged shallow-merges a partial JSON object over the stored one.
	PutMerged(ctx context.Context, key string, partial json.RawMessage) error
	// AppendCapped appends an item to a JSON array document, keeping at most
	// cap entries.
	AppendCapped(ctx context.Context, key string, item json.RawMessage, cap int) error
}

// AdvisoryLocker exposes advisory lock helpers for single-writer cycles.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}
