// Package storage persists the latest cycle snapshot so the last-good
// result survives process restarts. One row per configuration, replaced
// every cycle; this is deliberately not a price history.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fuelwatch/internal/config"
)

// ErrNotFound indicates no snapshot has been stored for the key yet.
var ErrNotFound = errors.New("storage: snapshot not found")

const schemaSQL = `CREATE TABLE IF NOT EXISTS poll_snapshots (
    config_key  TEXT PRIMARY KEY,
    state       TEXT NOT NULL,
    degraded    BOOLEAN NOT NULL,
    last_error  TEXT NOT NULL DEFAULT '',
    fetched_at  TIMESTAMPTZ,
    payload     JSONB NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);`

const upsertSnapshotSQL = `INSERT INTO poll_snapshots (
    config_key, state, degraded, last_error, fetched_at, payload, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,now())
ON CONFLICT (config_key) DO UPDATE
SET state      = EXCLUDED.state,
    degraded   = EXCLUDED.degraded,
    last_error = EXCLUDED.last_error,
    fetched_at = EXCLUDED.fetched_at,
    payload    = EXCLUDED.payload,
    updated_at = now();`

const getSnapshotSQL = `SELECT
    config_key, state, degraded, last_error, fetched_at, payload, updated_at
FROM poll_snapshots
WHERE config_key = $1;`

// SnapshotRecord is one persisted poll snapshot.
type SnapshotRecord struct {
	ConfigKey string
	State     string
	Degraded  bool
	LastError string
	FetchedAt *time.Time
	Payload   json.RawMessage
	UpdatedAt time.Time
}

// SnapshotStore defines snapshot persistence.
type SnapshotStore interface {
	UpsertSnapshot(ctx context.Context, record SnapshotRecord) error
	GetSnapshot(ctx context.Context, configKey string) (SnapshotRecord, error)
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

// Store persists snapshots in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the snapshot table when missing.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("init snapshot schema: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertSnapshot replaces the stored snapshot for a configuration.
func (s *Store) UpsertSnapshot(ctx context.Context, record SnapshotRecord) error {
	_, err := s.pool.Exec(ctx, upsertSnapshotSQL,
		record.ConfigKey,
		record.State,
		record.Degraded,
		record.LastError,
		record.FetchedAt,
		record.Payload,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// GetSnapshot loads the stored snapshot for a configuration.
func (s *Store) GetSnapshot(ctx context.Context, configKey string) (SnapshotRecord, error) {
	var record SnapshotRecord
	err := s.pool.QueryRow(ctx, getSnapshotSQL, configKey).Scan(
		&record.ConfigKey,
		&record.State,
		&record.Degraded,
		&record.LastError,
		&record.FetchedAt,
		&record.Payload,
		&record.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return SnapshotRecord{}, ErrNotFound
	}
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("get snapshot: %w", err)
	}
	return record, nil
}

var _ SnapshotStore = (*Store)(nil)
