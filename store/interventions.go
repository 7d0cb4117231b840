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

type interventionRow struct {
	ID            uuid.UUID  `db:"id"`
	JobID         uuid.UUID  `db:"job_id"`
	RunID         *uuid.UUID `db:"run_id"`
	Type          string     `db:"type"`
	Status        string     `db:"status"`
	Priority      string     `db:"priority"`
	Domain        string     `db:"domain"`
	TriggerReason string     `db:"trigger_reason"`
	SnapshotRef   string     `db:"snapshot_ref"`
	Payload       []byte     `db:"payload"`
	Resolution    []byte     `db:"resolution"`
	ResolvedBy    string     `db:"resolved_by"`
	CreatedAt     time.Time  `db:"created_at"`
	ExpiresAt     time.Time  `db:"expires_at"`
	ResolvedAt    *time.Time `db:"resolved_at"`
}

func (r *interventionRow) toTask() (*types.InterventionTask, error) {
	task := &types.InterventionTask{
		ID:            r.ID,
		JobID:         r.JobID,
		RunID:         r.RunID,
		Type:          types.InterventionType(r.Type),
		Status:        types.InterventionStatus(r.Status),
		Priority:      types.Priority(r.Priority),
		Domain:        r.Domain,
		TriggerReason: r.TriggerReason,
		SnapshotRef:   r.SnapshotRef,
		ResolvedBy:    r.ResolvedBy,
		CreatedAt:     r.CreatedAt,
		ExpiresAt:     r.ExpiresAt,
		ResolvedAt:    r.ResolvedAt,
	}
	if err := scanJSON(r.Payload, &task.Payload); err != nil {
		return nil, err
	}
	if err := scanJSON(r.Resolution, &task.Resolution); err != nil {
		return nil, err
	}
	return task, nil
}

// CreateIntervention inserts a new pending task.
func (s *Store) CreateIntervention(ctx context.Context, t *types.InterventionTask) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO intervention_tasks (id, job_id, run_id, type, status, priority, domain,
		                                trigger_reason, snapshot_ref, payload, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.JobID, t.RunID, t.Type, t.Status, t.Priority, t.Domain,
		t.TriggerReason, t.SnapshotRef, asJSON(t.Payload), t.ExpiresAt)
	if err != nil {
		return fmt.Errorf("store: create intervention: %w", err)
	}
	return nil
}

// GetIntervention loads a task by id.
func (s *Store) GetIntervention(ctx context.Context, id uuid.UUID) (*types.InterventionTask, error) {
	var row interventionRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM intervention_tasks WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: intervention %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get intervention: %w", err)
	}
	return row.toTask()
}

// FindPendingIntervention looks for an open task with the same type and
// trigger reason for dedupe.
func (s *Store) FindPendingIntervention(ctx context.Context, jobID uuid.UUID, t types.InterventionType, reason string) (*types.InterventionTask, error) {
	var row interventionRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM intervention_tasks
		WHERE job_id = $1 AND type = $2 AND trigger_reason = $3
		  AND status IN ('pending', 'in_progress')
		ORDER BY created_at LIMIT 1`,
		jobID, t, reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find pending intervention: %w", err)
	}
	return row.toTask()
}

// CountOpenInterventions returns the open-task counts for throttling.
func (s *Store) CountOpenInterventions(ctx context.Context, jobID uuid.UUID, domain string) (perJob, perDomain int, err error) {
	err = s.db.GetContext(ctx, &perJob, `
		SELECT COUNT(*) FROM intervention_tasks
		WHERE job_id = $1 AND status IN ('pending', 'in_progress')`, jobID)
	if err != nil {
		return 0, 0, fmt.Errorf("store: count job interventions: %w", err)
	}
	err = s.db.GetContext(ctx, &perDomain, `
		SELECT COUNT(*) FROM intervention_tasks
		WHERE domain = $1 AND status IN ('pending', 'in_progress')`, domain)
	if err != nil {
		return 0, 0, fmt.Errorf("store: count domain interventions: %w", err)
	}
	return perJob, perDomain, nil
}

// AppendInterventionEvidence merges extra payload into an open task,
// used when a duplicate trigger is deduped against it.
func (s *Store) AppendInterventionEvidence(ctx context.Context, id uuid.UUID, evidence map[string]any) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE intervention_tasks
		SET payload = COALESCE(payload, '{}'::jsonb) || $2
		WHERE id = $1 AND status IN ('pending', 'in_progress')`,
		id, asJSON(evidence))
	if err != nil {
		return fmt.Errorf("store: append intervention evidence: %w", err)
	}
	return nil
}

// ResolveIntervention performs the compare-and-set pending -> resolved.
// Returns false without error when the task was already closed, which
// makes resolution idempotent.
func (s *Store) ResolveIntervention(ctx context.Context, id uuid.UUID, resolution map[string]any, resolver string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE intervention_tasks
		SET status = 'resolved', resolution = $2, resolved_by = $3, resolved_at = now()
		WHERE id = $1 AND status IN ('pending', 'in_progress')`,
		id, asJSON(resolution), resolver)
	if err != nil {
		return false, fmt.Errorf("store: resolve intervention: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: resolve intervention: %w", err)
	}
	return n > 0, nil
}

// CancelIntervention closes a task as cancelled. The linked run stays
// paused.
func (s *Store) CancelIntervention(ctx context.Context, id uuid.UUID, resolver string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE intervention_tasks
		SET status = 'cancelled', resolved_by = $2, resolved_at = now()
		WHERE id = $1 AND status IN ('pending', 'in_progress')`,
		id, resolver)
	if err != nil {
		return false, fmt.Errorf("store: cancel intervention: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: cancel intervention: %w", err)
	}
	return n > 0, nil
}

// ExpireInterventions transitions overdue open tasks to expired and
// returns how many moved. Paused runs stay paused.
func (s *Store) ExpireInterventions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE intervention_tasks
		SET status = 'expired'
		WHERE status IN ('pending', 'in_progress') AND expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("store: expire interventions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: expire interventions: %w", err)
	}
	return n, nil
}

// ListOpenInterventions returns open tasks ordered by priority then age.
func (s *Store) ListOpenInterventions(ctx context.Context) ([]types.InterventionTask, error) {
	var rows []interventionRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM intervention_tasks
		WHERE status IN ('pending', 'in_progress')
		ORDER BY CASE priority
			WHEN 'critical' THEN 0
			WHEN 'high' THEN 1
			WHEN 'normal' THEN 2
			ELSE 3 END, created_at`)
	if err != nil {
		return nil, fmt.Errorf("store: list open interventions: %w", err)
	}
	out := make([]types.InterventionTask, 0, len(rows))
	for i := range rows {
		t, err := rows[i].toTask()
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}
