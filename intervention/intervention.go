// Package intervention manages the human-in-the-loop queue: pausing
// runs behind tasks, resolving tasks back into queued runs, and expiring
// tasks nobody picked up.
package intervention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/ferret/log"
	"github.com/justapithecus/ferret/types"
)

// Throttle caps. Past these, new triggers fail their run instead of
// piling more tasks onto the queue.
const (
	MaxOpenPerJob    = 5
	MaxOpenPerDomain = 20
)

// ErrThrottled means the open-task cap for the job or domain is reached.
var ErrThrottled = errors.New("intervention: open task limit reached")

// Store is the persistence surface the engine needs.
type Store interface {
	CreateIntervention(ctx context.Context, t *types.InterventionTask) error
	GetIntervention(ctx context.Context, id uuid.UUID) (*types.InterventionTask, error)
	FindPendingIntervention(ctx context.Context, jobID uuid.UUID, t types.InterventionType, reason string) (*types.InterventionTask, error)
	CountOpenInterventions(ctx context.Context, jobID uuid.UUID, domain string) (perJob, perDomain int, err error)
	AppendInterventionEvidence(ctx context.Context, id uuid.UUID, evidence map[string]any) error
	ResolveIntervention(ctx context.Context, id uuid.UUID, resolution map[string]any, resolver string) (bool, error)
	CancelIntervention(ctx context.Context, id uuid.UUID, resolver string) (bool, error)
	ExpireInterventions(ctx context.Context, now time.Time) (int64, error)

	PauseRun(ctx context.Context, id, taskID uuid.UUID, reason string, stats types.RunStats) error
	ResumeRun(ctx context.Context, id uuid.UUID) (bool, error)

	GetDomainStats(ctx context.Context, domain string) ([]types.DomainStats, error)
}

// SessionRegistry accepts operator-supplied session material captured
// during resolution. The session pool satisfies this.
type SessionRegistry interface {
	Register(sess *types.BrowserSession) error
}

// Emitter publishes run timeline events. May be nil.
type Emitter interface {
	Emit(ctx context.Context, runID uuid.UUID, level types.EventLevel, message string, meta map[string]any)
}

// Engine drives the intervention lifecycle.
type Engine struct {
	store    Store
	sessions SessionRegistry
	events   Emitter
	logger   *log.Logger
	ttl      func(types.InterventionType) time.Duration
	now      func() time.Time
}

// Options configures an Engine. Sessions and Events may be nil; TTL
// overrides fall back to the per-type defaults.
type Options struct {
	Sessions SessionRegistry
	Events   Emitter
	Logger   *log.Logger
	TTL      func(types.InterventionType) time.Duration
	Now      func() time.Time
}

// New builds an intervention engine over a store.
func New(store Store, opts Options) *Engine {
	e := &Engine{
		store:    store,
		sessions: opts.Sessions,
		events:   opts.Events,
		logger:   opts.Logger,
		ttl:      opts.TTL,
		now:      opts.Now,
	}
	if e.logger == nil {
		e.logger = log.NewNop()
	}
	if e.ttl == nil {
		e.ttl = func(t types.InterventionType) time.Duration { return t.TTL() }
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// PauseRequest carries everything needed to park a run behind a task.
type PauseRequest struct {
	Run  *types.Run
	Job  *types.Job
	Type types.InterventionType

	// TriggerReason is the stable dedupe key alongside Type; two pauses
	// with the same pair merge into one task.
	TriggerReason string

	// Payload is human-facing context: offending URL, status, markers.
	Payload     map[string]any
	SnapshotRef string
	Stats       types.RunStats
}

// Pause creates (or merges into) an intervention task and parks the run
// as waiting_for_human. The run and the task always move together; a
// duplicate trigger lands its evidence on the existing task instead of
// opening a second one.
func (e *Engine) Pause(ctx context.Context, req PauseRequest) (*types.InterventionTask, error) {
	if err := req.Type.Validate(); err != nil {
		return nil, fmt.Errorf("intervention: %w", err)
	}
	domain := req.Job.Domain()

	existing, err := e.store.FindPendingIntervention(ctx, req.Job.ID, req.Type, req.TriggerReason)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if len(req.Payload) > 0 {
			if err := e.store.AppendInterventionEvidence(ctx, existing.ID, req.Payload); err != nil {
				return nil, err
			}
		}
		if err := e.store.PauseRun(ctx, req.Run.ID, existing.ID, req.TriggerReason, req.Stats); err != nil {
			return nil, err
		}
		e.emit(ctx, req.Run.ID, types.EventLevelWarn, "run paused, merged into open intervention", map[string]any{
			"intervention_id": existing.ID.String(),
			"type":            string(req.Type),
			"reason":          req.TriggerReason,
		})
		return existing, nil
	}

	perJob, perDomain, err := e.store.CountOpenInterventions(ctx, req.Job.ID, domain)
	if err != nil {
		return nil, err
	}
	if perJob >= MaxOpenPerJob || perDomain >= MaxOpenPerDomain {
		e.logger.Warn("intervention throttled", map[string]any{
			"job_id": req.Job.ID.String(), "domain": domain,
			"open_per_job": perJob, "open_per_domain": perDomain,
		})
		return nil, ErrThrottled
	}

	now := e.now()
	task := &types.InterventionTask{
		ID:            uuid.New(),
		JobID:         req.Job.ID,
		RunID:         &req.Run.ID,
		Type:          req.Type,
		Status:        types.InterventionPending,
		Priority:      e.derivePriority(ctx, req.Type, domain),
		Domain:        domain,
		TriggerReason: req.TriggerReason,
		SnapshotRef:   req.SnapshotRef,
		Payload:       req.Payload,
		CreatedAt:     now,
		ExpiresAt:     now.Add(e.ttl(req.Type)),
	}
	if err := e.store.CreateIntervention(ctx, task); err != nil {
		return nil, err
	}
	if err := e.store.PauseRun(ctx, req.Run.ID, task.ID, req.TriggerReason, req.Stats); err != nil {
		return nil, err
	}

	e.emit(ctx, req.Run.ID, types.EventLevelWarn, "run paused for human intervention", map[string]any{
		"intervention_id": task.ID.String(),
		"type":            string(req.Type),
		"priority":        string(task.Priority),
		"reason":          req.TriggerReason,
		"expires_at":      task.ExpiresAt.Format(time.RFC3339),
	})
	e.logger.Info("intervention created", map[string]any{
		"intervention_id": task.ID.String(),
		"type":            string(req.Type),
		"domain":          domain,
		"priority":        string(task.Priority),
	})
	return task, nil
}

// Resolve closes a task with operator data and re-enqueues its run.
// Idempotent: a second resolution returns false and changes nothing.
func (e *Engine) Resolve(ctx context.Context, id uuid.UUID, resolution map[string]any, resolver string) (bool, error) {
	task, err := e.store.GetIntervention(ctx, id)
	if err != nil {
		return false, err
	}

	done, err := e.store.ResolveIntervention(ctx, id, resolution, resolver)
	if err != nil {
		return false, err
	}
	if !done {
		return false, nil
	}

	e.registerSession(task, resolution)

	if task.RunID != nil {
		resumed, err := e.store.ResumeRun(ctx, *task.RunID)
		if err != nil {
			return true, err
		}
		if resumed {
			e.emit(ctx, *task.RunID, types.EventLevelInfo, "intervention resolved, run re-enqueued", map[string]any{
				"intervention_id": id.String(),
				"resolved_by":     resolver,
			})
		}
	}
	e.logger.Info("intervention resolved", map[string]any{
		"intervention_id": id.String(),
		"type":            string(task.Type),
		"resolved_by":     resolver,
	})
	return true, nil
}

// Cancel closes a task without resuming its run; the run stays parked
// until an operator acts on it directly.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID, resolver string) (bool, error) {
	done, err := e.store.CancelIntervention(ctx, id, resolver)
	if err != nil {
		return false, err
	}
	if done {
		e.logger.Info("intervention cancelled", map[string]any{
			"intervention_id": id.String(), "by": resolver,
		})
	}
	return done, nil
}

// ExpireSweep moves overdue open tasks to expired. Runs they pinned stay
// paused; the sweep is about queue hygiene, not run state.
func (e *Engine) ExpireSweep(ctx context.Context) (int64, error) {
	n, err := e.store.ExpireInterventions(ctx, e.now())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Info("interventions expired", map[string]any{"count": n})
	}
	return n, nil
}

// derivePriority starts from the type's base urgency and bumps it when
// the domain is actively hostile.
func (e *Engine) derivePriority(ctx context.Context, t types.InterventionType, domain string) types.Priority {
	base := basePriority(t)

	stats, err := e.store.GetDomainStats(ctx, domain)
	if err != nil || len(stats) == 0 {
		return base
	}
	attempts, blocked := 0, 0
	for _, s := range stats {
		attempts += s.TotalAttempts
		blocked += s.Blocked403
	}
	if attempts >= 5 && float64(blocked)/float64(attempts) >= 0.5 {
		return bump(base)
	}
	return base
}

func basePriority(t types.InterventionType) types.Priority {
	switch t {
	case types.InterventionManualAccess, types.InterventionLoginRefresh:
		return types.PriorityHigh
	case types.InterventionCaptchaSolve, types.InterventionSelectorFix:
		return types.PriorityNormal
	case types.InterventionFieldConfirm:
		return types.PriorityLow
	default:
		return types.PriorityNormal
	}
}

func bump(p types.Priority) types.Priority {
	switch p {
	case types.PriorityLow:
		return types.PriorityNormal
	case types.PriorityNormal:
		return types.PriorityHigh
	case types.PriorityHigh:
		return types.PriorityCritical
	default:
		return p
	}
}

// registerSession turns resolution session material into a pooled
// session for auth-shaped interventions.
func (e *Engine) registerSession(task *types.InterventionTask, resolution map[string]any) {
	if e.sessions == nil {
		return
	}
	if task.Type != types.InterventionLoginRefresh && task.Type != types.InterventionCaptchaSolve &&
		task.Type != types.InterventionManualAccess {
		return
	}
	sess := sessionFromResolution(task, resolution)
	if sess == nil {
		return
	}
	if err := e.sessions.Register(sess); err != nil {
		e.logger.Warn("resolution session not registered", map[string]any{
			"intervention_id": task.ID.String(),
			"error":           err.Error(),
		})
		return
	}
	e.logger.Info("resolution session registered", map[string]any{
		"intervention_id": task.ID.String(),
		"session_key":     sess.Key.String(),
	})
}

// sessionFromResolution builds a session from operator-supplied cookies
// or storage state. Returns nil when the resolution carries neither.
func sessionFromResolution(task *types.InterventionTask, resolution map[string]any) *types.BrowserSession {
	if resolution == nil {
		return nil
	}
	sess := &types.BrowserSession{
		ID:     uuid.New(),
		Health: types.SessionValid,
		Key:    types.SessionKey{Domain: task.Domain},
	}
	if identity, ok := resolution["proxy_identity"].(string); ok {
		sess.Key.ProxyIdentity = identity
	}

	if state, ok := resolution["storage_state"].(string); ok && state != "" {
		sess.StorageState = []byte(state)
	}
	if rawCookies, ok := resolution["cookies"].([]any); ok {
		for _, rc := range rawCookies {
			m, ok := rc.(map[string]any)
			if !ok {
				continue
			}
			c := types.Cookie{}
			c.Name, _ = m["name"].(string)
			c.Value, _ = m["value"].(string)
			c.Domain, _ = m["domain"].(string)
			c.Path, _ = m["path"].(string)
			if exp, ok := m["expires"].(float64); ok {
				c.Expires = exp
			}
			if c.Name != "" {
				sess.Cookies = append(sess.Cookies, c)
			}
		}
	}
	if ua, ok := resolution["user_agent"].(string); ok {
		sess.UserAgent = ua
	}

	if len(sess.Cookies) == 0 && len(sess.StorageState) == 0 {
		return nil
	}
	return sess
}

func (e *Engine) emit(ctx context.Context, runID uuid.UUID, level types.EventLevel, msg string, meta map[string]any) {
	if e.events == nil {
		return
	}
	e.events.Emit(ctx, runID, level, msg, meta)
}
