// Package adapter defines the run-completion fan-out boundary.
//
// Adapters notify downstream systems when a run reaches a terminal or
// parked state. The worker owns adapter lifecycle; users provide
// configuration only.
package adapter

import (
	"context"
	"time"

	"github.com/justapithecus/ferret/types"
)

// RunCompletedEvent is the payload published when a run finishes or is
// parked for a human.
type RunCompletedEvent struct {
	EventType string `json:"event_type"` // always "run_completed"
	RunID     string `json:"run_id"`
	JobID     string `json:"job_id"`
	Domain    string `json:"domain"`

	Status      string `json:"status"` // completed, failed, waiting_for_human
	FailureCode string `json:"failure_code,omitempty"`
	Engine      string `json:"engine,omitempty"`

	Records     int     `json:"records"`
	Escalations int     `json:"escalations"`
	CostUnits   float64 `json:"cost_units"`
	Attempt     int     `json:"attempt"`

	Timestamp string `json:"timestamp"` // ISO 8601
}

// FromRun shapes a finished run into its fan-out event.
func FromRun(run *types.Run, job *types.Job) *RunCompletedEvent {
	ev := &RunCompletedEvent{
		EventType:   "run_completed",
		RunID:       run.ID.String(),
		JobID:       run.JobID.String(),
		Status:      string(run.Status),
		FailureCode: string(run.FailureCode),
		Engine:      string(run.ResolvedEngine),
		Records:     run.Stats.Records,
		Escalations: run.Stats.Escalations,
		CostUnits:   run.Stats.CostUnits,
		Attempt:     run.Attempt,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
	if job != nil {
		ev.Domain = job.Domain()
	}
	return ev
}

// Adapter publishes run completion events to a downstream system.
type Adapter interface {
	// Publish sends a run completion event. Must respect context
	// cancellation and deadlines.
	Publish(ctx context.Context, event *RunCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}
