package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/justapithecus/ferret/types"
)

// CommitRecords persists all records of a successful attempt in one
// transaction. No reader ever observes a partial batch; an error leaves
// zero rows behind.
func (s *Store) CommitRecords(ctx context.Context, records []types.Record) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: commit records: %w", err)
	}
	defer tx.Rollback()

	for i := range records {
		r := &records[i]
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO records (id, run_id, job_id, ordinal, fields, source_url, engine)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			r.ID, r.RunID, r.JobID, r.Ordinal, asJSON(r.Fields), r.SourceURL, r.Engine); err != nil {
			return fmt.Errorf("store: insert record %d: %w", r.Ordinal, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit records: %w", err)
	}
	return nil
}

// CountRecords returns how many records a run committed.
func (s *Store) CountRecords(ctx context.Context, runID uuid.UUID) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM records WHERE run_id = $1`, runID); err != nil {
		return 0, fmt.Errorf("store: count records: %w", err)
	}
	return n, nil
}
