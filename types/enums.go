package types

import "fmt"

// Engine identifies one of the three extraction tiers.
type Engine string

// Engine constants, ordered by escalation cost.
const (
	EngineHTTP     Engine = "http"
	EngineBrowser  Engine = "browser"
	EngineProvider Engine = "provider"
)

// TierOrder is the fixed escalation path. Planning never moves backward
// through this slice within a single run.
var TierOrder = []Engine{EngineHTTP, EngineBrowser, EngineProvider}

// Cost returns the relative cost of one attempt on this engine, in units
// where a plain HTTP fetch is 1.0.
func (e Engine) Cost() float64 {
	switch e {
	case EngineBrowser:
		return 3.0
	case EngineProvider:
		return 10.0
	default:
		return 1.0
	}
}

// Next returns the next engine in the escalation path and false when the
// engine is already terminal.
func (e Engine) Next() (Engine, bool) {
	for i, t := range TierOrder {
		if t == e && i+1 < len(TierOrder) {
			return TierOrder[i+1], true
		}
	}
	return e, false
}

// Validate returns an error for unknown engine names.
func (e Engine) Validate() error {
	switch e {
	case EngineHTTP, EngineBrowser, EngineProvider:
		return nil
	}
	return fmt.Errorf("unknown engine %q", string(e))
}

// EngineMode is a job's engine preference: auto lets the planner choose
// and escalate; a concrete engine pins the run to that tier.
type EngineMode string

// Engine mode constants.
const (
	EngineModeAuto     EngineMode = "auto"
	EngineModeHTTP     EngineMode = "http"
	EngineModeBrowser  EngineMode = "browser"
	EngineModeProvider EngineMode = "provider"
)

// Forced returns the pinned engine and true when the mode disables
// escalation planning.
func (m EngineMode) Forced() (Engine, bool) {
	switch m {
	case EngineModeHTTP:
		return EngineHTTP, true
	case EngineModeBrowser:
		return EngineBrowser, true
	case EngineModeProvider:
		return EngineProvider, true
	}
	return "", false
}

// Validate returns an error for unknown engine modes.
func (m EngineMode) Validate() error {
	switch m {
	case EngineModeAuto, EngineModeHTTP, EngineModeBrowser, EngineModeProvider:
		return nil
	}
	return fmt.Errorf("unknown engine mode %q", string(m))
}

// RunStatus is the lifecycle state of a run. Legal transitions are
// queued -> running -> (completed | failed | waiting_for_human), and
// waiting_for_human -> queued on intervention resolution.
type RunStatus string

// Run status constants.
const (
	RunStatusQueued          RunStatus = "queued"
	RunStatusRunning         RunStatus = "running"
	RunStatusCompleted       RunStatus = "completed"
	RunStatusFailed          RunStatus = "failed"
	RunStatusWaitingForHuman RunStatus = "waiting_for_human"
)

// IsTerminal returns true when no further transitions are possible.
// waiting_for_human is parked, not terminal: resolution re-queues it.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// FailureCode classifies why an attempt or run failed.
type FailureCode string

// Failure code constants.
const (
	FailureNone         FailureCode = ""
	FailureBlocked      FailureCode = "blocked"
	FailureRateLimited  FailureCode = "rate_limited"
	FailureTimeout      FailureCode = "timeout"
	FailureNetwork      FailureCode = "network"
	FailureBadResponse  FailureCode = "bad_response"
	FailureSelectorMiss FailureCode = "selector_miss"
	FailureAuthExpired  FailureCode = "auth_expired"
	FailureCaptcha      FailureCode = "captcha"
	FailureKeyDepleted  FailureCode = "provider_key_depleted"
	FailureUnknown      FailureCode = "unknown"
)

// RetriableAcrossRuns reports whether a run ending with this code gets a
// follow-up run scheduled with backoff.
func (c FailureCode) RetriableAcrossRuns() bool {
	switch c {
	case FailureNetwork, FailureRateLimited, FailureUnknown:
		return true
	}
	return false
}

// CrawlMode selects between single-page and list extraction.
type CrawlMode string

// Crawl mode constants.
const (
	CrawlModeSingle CrawlMode = "single"
	CrawlModeList   CrawlMode = "list"
)

// AccessClass is the learned posture of a domain toward automated access:
// public is open, infra needs provider-grade fetching, human needs a
// captured session.
type AccessClass string

// Access class constants.
const (
	AccessClassPublic AccessClass = "public"
	AccessClassInfra  AccessClass = "infra"
	AccessClassHuman  AccessClass = "human"
)

// RequiresSession records whether a domain needs an authenticated session.
type RequiresSession string

// Session requirement constants.
const (
	SessionNotRequired RequiresSession = "no"
	SessionPreferred   RequiresSession = "preferred"
	SessionRequired    RequiresSession = "required"
)

// SessionHealth is the recorded health state of a pooled browser session.
type SessionHealth string

// Session health constants.
const (
	SessionValid   SessionHealth = "valid"
	SessionInvalid SessionHealth = "invalid"
	SessionExpired SessionHealth = "expired"
	SessionUnknown SessionHealth = "unknown"
)

// InterventionType names the human action a paused run is waiting on.
type InterventionType string

// Intervention type constants.
const (
	InterventionManualAccess InterventionType = "manual_access"
	InterventionLoginRefresh InterventionType = "login_refresh"
	InterventionCaptchaSolve InterventionType = "captcha_solve"
	InterventionSelectorFix  InterventionType = "selector_fix"
	InterventionFieldConfirm InterventionType = "field_confirm"
)

// Validate returns an error for unknown intervention types.
func (t InterventionType) Validate() error {
	switch t {
	case InterventionManualAccess, InterventionLoginRefresh, InterventionCaptchaSolve,
		InterventionSelectorFix, InterventionFieldConfirm:
		return nil
	}
	return fmt.Errorf("unknown intervention type %q", string(t))
}

// InterventionStatus is the lifecycle state of an intervention task.
type InterventionStatus string

// Intervention status constants.
const (
	InterventionPending    InterventionStatus = "pending"
	InterventionInProgress InterventionStatus = "in_progress"
	InterventionResolved   InterventionStatus = "resolved"
	InterventionExpired    InterventionStatus = "expired"
	InterventionCancelled  InterventionStatus = "cancelled"
)

// IsOpen returns true while the task still accepts a resolution.
func (s InterventionStatus) IsOpen() bool {
	return s == InterventionPending || s == InterventionInProgress
}

// Priority orders intervention tasks for the operator queue.
type Priority string

// Priority constants.
const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// EventLevel is the severity attached to a run event.
type EventLevel string

// Event level constants.
const (
	EventLevelInfo  EventLevel = "info"
	EventLevelWarn  EventLevel = "warn"
	EventLevelError EventLevel = "error"
)
