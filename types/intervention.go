package types

import (
	"time"

	"github.com/google/uuid"
)

// InterventionTask asks a human for one specific action that unblocks a
// paused run.
type InterventionTask struct {
	ID    uuid.UUID  `db:"id" json:"id"`
	JobID uuid.UUID  `db:"job_id" json:"job_id"`
	RunID *uuid.UUID `db:"run_id" json:"run_id,omitempty"`

	Type     InterventionType   `db:"type" json:"type"`
	Status   InterventionStatus `db:"status" json:"status"`
	Priority Priority           `db:"priority" json:"priority"`

	Domain        string `db:"domain" json:"domain"`
	TriggerReason string `db:"trigger_reason" json:"trigger_reason"`
	// SnapshotRef points at the archived page body that triggered the
	// pause, when one was captured.
	SnapshotRef string `db:"snapshot_ref" json:"snapshot_ref,omitempty"`

	// Payload carries context for the human: offending URL, status
	// code, matched markers, accumulated evidence from deduped triggers.
	Payload map[string]any `db:"payload" json:"payload,omitempty"`

	// Resolution carries operator-supplied data back into the resumed
	// run, e.g. refreshed cookies for login_refresh.
	Resolution map[string]any `db:"resolution" json:"resolution,omitempty"`
	ResolvedBy string         `db:"resolved_by" json:"resolved_by,omitempty"`

	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expires_at"`
	ResolvedAt *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

// Expired reports whether the task's deadline has passed while it was
// still open.
func (t *InterventionTask) Expired(now time.Time) bool {
	return t.Status.IsOpen() && now.After(t.ExpiresAt)
}

// TTL returns the default pending lifetime for an intervention type.
// Captchas go stale fast; access reviews can wait two weeks.
func (t InterventionType) TTL() time.Duration {
	switch t {
	case InterventionCaptchaSolve:
		return 24 * time.Hour
	case InterventionLoginRefresh:
		return 24 * time.Hour
	case InterventionSelectorFix:
		return 72 * time.Hour
	case InterventionFieldConfirm:
		return 7 * 24 * time.Hour
	case InterventionManualAccess:
		return 14 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}
