// Package store persists jobs, runs, events, records, domain intelligence
// and intervention tasks in Postgres via sqlx.
package store

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

// Sentinel errors callers branch on with errors.Is.
var (
	ErrNotFound       = errors.New("store: not found")
	ErrRunNotLeasable = errors.New("store: run not leasable")
)

// Store wraps the database handle. All methods take a context and are
// safe for concurrent use.
type Store struct {
	db *sqlx.DB
}

// Open connects to Postgres via the pgx stdlib driver and verifies the
// connection.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle. Used by tests with sqlmock.
func NewWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close releases the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the schema. Idempotent; every statement is
// CREATE ... IF NOT EXISTS.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// jsonb marshals any value into a JSONB column and back.
type jsonb struct {
	v any
}

func asJSON(v any) jsonb { return jsonb{v: v} }

// Value implements driver.Valuer.
func (j jsonb) Value() (driver.Value, error) {
	if j.v == nil {
		return nil, nil
	}
	b, err := json.Marshal(j.v)
	if err != nil {
		return nil, fmt.Errorf("store: marshal jsonb: %w", err)
	}
	return b, nil
}

// scanJSON unmarshals a JSONB column into dst, tolerating NULL.
func scanJSON(raw []byte, dst any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("store: unmarshal jsonb: %w", err)
	}
	return nil
}
