package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/ferret/types"
)

type runRow struct {
	ID             uuid.UUID  `db:"id"`
	JobID          uuid.UUID  `db:"job_id"`
	Status         string     `db:"status"`
	Attempt        int        `db:"attempt"`
	MaxAttempts    int        `db:"max_attempts"`
	RequestedMode  string     `db:"requested_mode"`
	ResolvedEngine string     `db:"resolved_engine"`
	BiasReason     string     `db:"bias_reason"`
	FailureCode    string     `db:"failure_code"`
	ErrorMessage   string     `db:"error_message"`
	InterventionID *uuid.UUID `db:"intervention_id"`
	Stats          []byte     `db:"stats"`
	LeaseOwner     string     `db:"lease_owner"`
	NotBefore      *time.Time `db:"not_before"`
	CreatedAt      time.Time  `db:"created_at"`
	StartedAt      *time.Time `db:"started_at"`
	FinishedAt     *time.Time `db:"finished_at"`
}

func (r *runRow) toRun() (*types.Run, error) {
	run := &types.Run{
		ID:             r.ID,
		JobID:          r.JobID,
		Status:         types.RunStatus(r.Status),
		Attempt:        r.Attempt,
		MaxAttempts:    r.MaxAttempts,
		RequestedMode:  types.EngineMode(r.RequestedMode),
		ResolvedEngine: types.Engine(r.ResolvedEngine),
		BiasReason:     r.BiasReason,
		FailureCode:    types.FailureCode(r.FailureCode),
		ErrorMessage:   r.ErrorMessage,
		InterventionID: r.InterventionID,
		LeaseOwner:     r.LeaseOwner,
		CreatedAt:      r.CreatedAt,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
	}
	if err := scanJSON(r.Stats, &run.Stats); err != nil {
		return nil, err
	}
	return run, nil
}

// CreateRun inserts a run in status queued. NotBefore delays pickup for
// backoff-scheduled retry runs; zero means immediately eligible.
func (s *Store) CreateRun(ctx context.Context, run *types.Run, notBefore time.Time) error {
	var nb *time.Time
	if !notBefore.IsZero() {
		nb = &notBefore
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, job_id, status, attempt, max_attempts, requested_mode,
		                  resolved_engine, stats, not_before)
		VALUES ($1, $2, 'queued', $3, $4, $5, $6, $7, $8)`,
		run.ID, run.JobID, run.Attempt, run.MaxAttempts, run.RequestedMode,
		run.ResolvedEngine, asJSON(run.Stats), nb)
	if err != nil {
		return fmt.Errorf("store: create run: %w", err)
	}
	return nil
}

// GetRun loads a run by id.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*types.Run, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM runs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get run: %w", err)
	}
	return row.toRun()
}

// GetRunStatus reads only the status column, used by executors to detect
// administrative cancellation between attempts.
func (s *Store) GetRunStatus(ctx context.Context, id uuid.UUID) (types.RunStatus, error) {
	var status string
	err := s.db.GetContext(ctx, &status, `SELECT status FROM runs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("store: run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("store: get run status: %w", err)
	}
	return types.RunStatus(status), nil
}

// LeaseRun performs the compare-and-set transition queued -> running for
// one specific run. Returns ErrRunNotLeasable when another executor holds
// it or the run left queued.
func (s *Store) LeaseRun(ctx context.Context, id uuid.UUID, owner string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = 'running', lease_owner = $2, started_at = now()
		WHERE id = $1 AND status = 'queued'
		  AND (not_before IS NULL OR not_before <= now())`,
		id, owner)
	if err != nil {
		return fmt.Errorf("store: lease run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: lease run: %w", err)
	}
	if n == 0 {
		return ErrRunNotLeasable
	}
	return nil
}

// DequeueRun leases the oldest eligible queued run for a worker. Returns
// ErrNotFound when the queue is empty. SKIP LOCKED keeps concurrent
// workers from colliding on the same row.
func (s *Store) DequeueRun(ctx context.Context, owner string) (*types.Run, error) {
	var row runRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE runs SET status = 'running', lease_owner = $1, started_at = now()
		WHERE id = (
			SELECT id FROM runs
			WHERE status = 'queued' AND (not_before IS NULL OR not_before <= now())
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING *`, owner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: dequeue run: %w", err)
	}
	return row.toRun()
}

// CompleteRun finishes a run successfully.
func (s *Store) CompleteRun(ctx context.Context, id uuid.UUID, engine types.Engine, stats types.RunStats) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = 'completed', resolved_engine = $2, stats = $3,
		                finished_at = now()
		WHERE id = $1 AND status = 'running'`,
		id, engine, asJSON(stats))
	if err != nil {
		return fmt.Errorf("store: complete run: %w", err)
	}
	return nil
}

// FailRun marks a run failed with a machine-readable code.
func (s *Store) FailRun(ctx context.Context, id uuid.UUID, code types.FailureCode, message string, stats types.RunStats) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = 'failed', failure_code = $2, error_message = $3,
		                stats = $4, finished_at = now()
		WHERE id = $1 AND status = 'running'`,
		id, code, message, asJSON(stats))
	if err != nil {
		return fmt.Errorf("store: fail run: %w", err)
	}
	return nil
}

// PauseRun parks a running run as waiting_for_human, linked to its
// intervention task. Idempotent on already-paused runs.
func (s *Store) PauseRun(ctx context.Context, id, taskID uuid.UUID, reason string, stats types.RunStats) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = 'waiting_for_human', intervention_id = $2,
		                error_message = $3, stats = $4
		WHERE id = $1 AND status IN ('running', 'waiting_for_human')`,
		id, taskID, reason, asJSON(stats))
	if err != nil {
		return fmt.Errorf("store: pause run: %w", err)
	}
	return nil
}

// ResumeRun moves a paused run back to queued. Compare-and-set: only
// waiting_for_human runs move, so double resolution cannot double-enqueue.
func (s *Store) ResumeRun(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = 'queued', error_message = '', lease_owner = '',
		                not_before = NULL
		WHERE id = $1 AND status = 'waiting_for_human'`, id)
	if err != nil {
		return false, fmt.Errorf("store: resume run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: resume run: %w", err)
	}
	return n > 0, nil
}

// AddEngineAttempt appends one attempt audit row.
func (s *Store) AddEngineAttempt(ctx context.Context, a *types.EngineAttempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engine_attempts (id, run_id, attempt, engine, status_code, success,
		                             records, signals, decision, reason, bias_reason,
		                             duration_ms, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.RunID, a.Attempt, a.Engine, a.StatusCode, a.Success,
		a.Records, asJSON(a.Signals), a.Decision, a.Reason, a.BiasReason,
		a.DurationMS, a.StartedAt)
	if err != nil {
		return fmt.Errorf("store: add engine attempt: %w", err)
	}
	return nil
}

// ListEngineAttempts returns a run's attempts in order.
func (s *Store) ListEngineAttempts(ctx context.Context, runID uuid.UUID) ([]types.EngineAttempt, error) {
	var rows []struct {
		ID         uuid.UUID `db:"id"`
		RunID      uuid.UUID `db:"run_id"`
		Attempt    int       `db:"attempt"`
		Engine     string    `db:"engine"`
		StatusCode int       `db:"status_code"`
		Success    bool      `db:"success"`
		Records    int       `db:"records"`
		Signals    []byte    `db:"signals"`
		Decision   string    `db:"decision"`
		Reason     string    `db:"reason"`
		BiasReason string    `db:"bias_reason"`
		DurationMS int64     `db:"duration_ms"`
		StartedAt  time.Time `db:"started_at"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM engine_attempts WHERE run_id = $1 ORDER BY attempt`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: list engine attempts: %w", err)
	}
	out := make([]types.EngineAttempt, 0, len(rows))
	for _, r := range rows {
		a := types.EngineAttempt{
			ID: r.ID, RunID: r.RunID, Attempt: r.Attempt,
			Engine: types.Engine(r.Engine), StatusCode: r.StatusCode,
			Success: r.Success, Records: r.Records,
			Decision: r.Decision, Reason: r.Reason, BiasReason: r.BiasReason,
			DurationMS: r.DurationMS, StartedAt: r.StartedAt,
		}
		if err := scanJSON(r.Signals, &a.Signals); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
