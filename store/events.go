package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/ferret/types"
)

// AppendEvent appends one event to a run's stream, assigning the next
// sequence number inside a transaction. Seq is strictly monotonic per
// run: the unique (run_id, seq) constraint makes a lost race an insert
// error instead of a duplicate.
func (s *Store) AppendEvent(ctx context.Context, ev *types.RunEvent) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: append event: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.GetContext(ctx, &seq,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM run_events WHERE run_id = $1`,
		ev.RunID); err != nil {
		return fmt.Errorf("store: next event seq: %w", err)
	}

	ev.Seq = seq
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.Ts.IsZero() {
		ev.Ts = time.Now().UTC()
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO run_events (id, run_id, seq, level, message, meta, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		ev.ID, ev.RunID, ev.Seq, ev.Level, ev.Message, asJSON(ev.Meta), ev.Ts); err != nil {
		return fmt.Errorf("store: insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: append event: %w", err)
	}
	return nil
}

// ListEvents returns a run's events with seq greater than after, in seq
// order. after=0 returns the full history.
func (s *Store) ListEvents(ctx context.Context, runID uuid.UUID, after int64) ([]types.RunEvent, error) {
	var rows []struct {
		ID      uuid.UUID `db:"id"`
		RunID   uuid.UUID `db:"run_id"`
		Seq     int64     `db:"seq"`
		Level   string    `db:"level"`
		Message string    `db:"message"`
		Meta    []byte    `db:"meta"`
		Ts      time.Time `db:"ts"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM run_events WHERE run_id = $1 AND seq > $2 ORDER BY seq`,
		runID, after)
	if err != nil {
		return nil, fmt.Errorf("store: list events: %w", err)
	}
	out := make([]types.RunEvent, 0, len(rows))
	for _, r := range rows {
		ev := types.RunEvent{
			ID: r.ID, RunID: r.RunID, Seq: r.Seq,
			Level: types.EventLevel(r.Level), Message: r.Message, Ts: r.Ts,
		}
		if err := scanJSON(r.Meta, &ev.Meta); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}
