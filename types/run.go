package types

import (
	"time"

	"github.com/google/uuid"
)

// Run is one execution of a job through the escalation ladder.
type Run struct {
	ID    uuid.UUID `db:"id" json:"id"`
	JobID uuid.UUID `db:"job_id" json:"job_id"`

	Status      RunStatus `db:"status" json:"status"`
	Attempt     int       `db:"attempt" json:"attempt"`
	MaxAttempts int       `db:"max_attempts" json:"max_attempts"`

	RequestedMode EngineMode `db:"requested_mode" json:"requested_mode"`
	// ResolvedEngine is the engine the planner chose to start on, with
	// the bias reason when domain history influenced the choice.
	ResolvedEngine Engine `db:"resolved_engine" json:"resolved_engine"`
	BiasReason     string `db:"bias_reason" json:"bias_reason,omitempty"`

	FailureCode  FailureCode `db:"failure_code" json:"failure_code,omitempty"`
	ErrorMessage string      `db:"error_message" json:"error_message,omitempty"`

	// InterventionID links a paused run to the task that resumes it.
	InterventionID *uuid.UUID `db:"intervention_id" json:"intervention_id,omitempty"`

	Stats RunStats `db:"stats" json:"stats"`

	// LeaseOwner identifies the worker holding the run, set by the CAS
	// transition queued -> running.
	LeaseOwner string `db:"lease_owner" json:"lease_owner,omitempty"`

	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	StartedAt  *time.Time `db:"started_at" json:"started_at,omitempty"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// RunStats accumulates per-run counters across attempts and pauses.
type RunStats struct {
	Records      int      `json:"records"`
	Escalations  int      `json:"escalations"`
	EnginesTried []Engine `json:"engines_tried,omitempty"`
	CostUnits    float64  `json:"cost_units"`
	PausedAt     string   `json:"paused_at,omitempty"`
	PauseReason  string   `json:"pause_reason,omitempty"`
	ResumedAt    string   `json:"resumed_at,omitempty"`
	SnapshotRef  string   `json:"snapshot_ref,omitempty"`
}

// Tried records an engine attempt exactly once per engine.
func (s *RunStats) Tried(e Engine) {
	for _, t := range s.EnginesTried {
		if t == e {
			return
		}
	}
	s.EnginesTried = append(s.EnginesTried, e)
}

// EngineAttempt is the audit row for one engine invocation within a run:
// which engine ran, what it saw, and what the classifier decided.
type EngineAttempt struct {
	ID      uuid.UUID `db:"id" json:"id"`
	RunID   uuid.UUID `db:"run_id" json:"run_id"`
	Attempt int       `db:"attempt" json:"attempt"`
	Engine  Engine    `db:"engine" json:"engine"`

	StatusCode int         `db:"status_code" json:"status_code"`
	Success    bool        `db:"success" json:"success"`
	Records    int         `db:"records" json:"records"`
	Signals    PageSignals `db:"signals" json:"signals"`

	// Decision is the classifier's tag for this attempt, with the
	// reason string that justified it.
	Decision string `db:"decision" json:"decision"`
	Reason   string `db:"reason" json:"reason,omitempty"`
	// BiasReason explains why the planner chose this engine, empty when
	// no domain history influenced the choice.
	BiasReason string `db:"bias_reason" json:"bias_reason,omitempty"`

	DurationMS int64     `db:"duration_ms" json:"duration_ms"`
	StartedAt  time.Time `db:"started_at" json:"started_at"`
}

// RunEvent is one entry in a run's ordered event stream. Seq is strictly
// monotonic per run, assigned at append time, and never reused.
type RunEvent struct {
	ID      uuid.UUID      `db:"id" json:"id"`
	RunID   uuid.UUID      `db:"run_id" json:"run_id"`
	Seq     int64          `db:"seq" json:"seq"`
	Level   EventLevel     `db:"level" json:"level"`
	Message string         `db:"message" json:"message"`
	Meta    map[string]any `db:"meta" json:"meta,omitempty"`
	Ts      time.Time      `db:"ts" json:"ts"`
}

// Record is one extracted item, committed atomically with its siblings
// when the producing attempt succeeds.
type Record struct {
	ID    uuid.UUID `db:"id" json:"id"`
	RunID uuid.UUID `db:"run_id" json:"run_id"`
	JobID uuid.UUID `db:"job_id" json:"job_id"`

	// Ordinal is the record's position within the run, starting at 0.
	Ordinal int `db:"ordinal" json:"ordinal"`

	Fields map[string]FieldValue `db:"fields" json:"fields"`

	SourceURL string    `db:"source_url" json:"source_url"`
	Engine    Engine    `db:"engine" json:"engine"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// FieldValue is one extracted field with its provenance and confidence.
type FieldValue struct {
	Value any    `json:"value"`
	Raw   string `json:"raw,omitempty"`
	// Confidence is in [0,1], rounded to two decimals.
	Confidence float64  `json:"confidence"`
	Sources    []string `json:"sources,omitempty"`
	Reasons    []string `json:"reasons,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}
