// Package runtime executes leased runs: it plans the engine ladder,
// invokes tiers, classifies each attempt, and lands the run in exactly
// one of completed, failed, or waiting_for_human.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/ferret/adapter"
	"github.com/justapithecus/ferret/classifier"
	"github.com/justapithecus/ferret/config"
	"github.com/justapithecus/ferret/engine"
	"github.com/justapithecus/ferret/intel"
	"github.com/justapithecus/ferret/intervention"
	"github.com/justapithecus/ferret/log"
	"github.com/justapithecus/ferret/metrics"
	"github.com/justapithecus/ferret/planner"
	"github.com/justapithecus/ferret/snapshot"
	"github.com/justapithecus/ferret/store"
	"github.com/justapithecus/ferret/types"
)

// Store is the persistence surface the executor needs.
type Store interface {
	GetJob(ctx context.Context, id uuid.UUID) (*types.Job, error)
	GetFieldMap(ctx context.Context, jobID uuid.UUID) (*types.FieldMap, error)
	SetJobProfile(ctx context.Context, id uuid.UUID, profile *types.BrowserProfile) error

	GetRunStatus(ctx context.Context, id uuid.UUID) (types.RunStatus, error)
	CreateRun(ctx context.Context, run *types.Run, notBefore time.Time) error
	CompleteRun(ctx context.Context, id uuid.UUID, engine types.Engine, stats types.RunStats) error
	FailRun(ctx context.Context, id uuid.UUID, code types.FailureCode, message string, stats types.RunStats) error
	AddEngineAttempt(ctx context.Context, a *types.EngineAttempt) error
	CommitRecords(ctx context.Context, records []types.Record) error
}

// Intel feeds planning with domain history and folds outcomes back in.
type Intel interface {
	Lookup(ctx context.Context, domain string) (*intel.Snapshot, error)
	RecordOutcome(ctx context.Context, o store.DomainOutcome) error
}

// Sessions is the slice of the session pool the executor touches.
type Sessions interface {
	Acquire(domain, proxyIdentity string) *types.BrowserSession
	Create(key types.SessionKey, cookies []types.Cookie, storageState []byte, ua string, viewport types.Viewport) (*types.BrowserSession, error)
	MarkSuccess(key types.SessionKey, hadCaptcha bool) error
	MarkFailure(key types.SessionKey) error
	RecordDomainFailure(domain string)
	RecordDomainSuccess(domain string)
	BreakerOpen(domain string) bool
}

// Pauser parks runs behind intervention tasks.
type Pauser interface {
	Pause(ctx context.Context, req intervention.PauseRequest) (*types.InterventionTask, error)
}

// Emitter publishes run timeline events. May be nil.
type Emitter interface {
	Emit(ctx context.Context, runID uuid.UUID, level types.EventLevel, message string, meta map[string]any)
}

// ProxySelector assigns egress identities to domains.
type ProxySelector interface {
	Select(domain string) (name, url string)
	URL(name string) string
}

// Options wires an Executor. Store, Intel, Sessions, Pauser, and Engines
// are required; the rest may be nil.
type Options struct {
	Store    Store
	Intel    Intel
	Sessions Sessions
	Pauser   Pauser
	Events   Emitter
	Proxies  ProxySelector
	Engines  map[types.Engine]engine.Engine

	Snapshots snapshot.Archiver
	Metrics   *metrics.Collector

	// Notifier fans run-completion events out to downstream systems.
	// May be nil.
	Notifier adapter.Adapter

	// Strategy returns the per-domain engine-mode override, if any.
	Strategy func(domain string) (types.EngineMode, bool)
	// ProviderAvailable reports whether the provider tier can be
	// escalated to right now. Defaults to provider engine presence.
	ProviderAvailable func() bool

	Timeouts map[types.Engine]time.Duration
	Now      func() time.Time
}

// Executor drives one run at a time through the escalation ladder.
type Executor struct {
	opts Options
	now  func() time.Time
}

// New builds an executor.
func New(opts Options) (*Executor, error) {
	if opts.Store == nil || opts.Intel == nil || opts.Sessions == nil || opts.Pauser == nil {
		return nil, fmt.Errorf("runtime: store, intel, sessions and pauser are required")
	}
	if len(opts.Engines) == 0 {
		return nil, fmt.Errorf("runtime: at least one engine is required")
	}
	if opts.ProviderAvailable == nil {
		_, ok := opts.Engines[types.EngineProvider]
		opts.ProviderAvailable = func() bool { return ok }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Executor{opts: opts, now: opts.Now}, nil
}

// Execute runs one leased run to a terminal or parked state. The run
// must already be in status running.
func (e *Executor) Execute(ctx context.Context, run *types.Run) error {
	logger := log.NewLogger(log.RunContext{
		RunID: run.ID.String(), JobID: run.JobID.String(), Attempt: run.Attempt,
	})

	job, err := e.opts.Store.GetJob(ctx, run.JobID)
	if err != nil {
		return e.failRun(ctx, run, nil, run.RequestedMode, types.FailureUnknown, fmt.Sprintf("load job: %v", err), run.Stats)
	}
	fieldMap, err := e.opts.Store.GetFieldMap(ctx, run.JobID)
	if err != nil {
		return e.failRun(ctx, run, job, run.RequestedMode, types.FailureUnknown, fmt.Sprintf("load field map: %v", err), run.Stats)
	}

	domain := job.Domain()
	snap, err := e.opts.Intel.Lookup(ctx, domain)
	if err != nil {
		return e.failRun(ctx, run, job, run.RequestedMode, types.FailureUnknown, fmt.Sprintf("domain lookup: %v", err), run.Stats)
	}

	// An open breaker means the domain just burned consecutive attempts;
	// fail retriable so the standard backoff path schedules the retry
	// after the cooldown.
	if e.opts.Sessions.BreakerOpen(domain) {
		logger.Warn("domain circuit breaker open", map[string]any{"domain": domain})
		return e.failRun(ctx, run, job, run.RequestedMode, types.FailureRateLimited, "domain circuit breaker open", run.Stats)
	}

	identity, proxyURL := e.selectProxy(job, domain)
	stats := run.Stats

	// Session-gated domains need a warm session before any fetch is
	// worth attempting; without one the only path forward is a human.
	var sess *types.BrowserSession
	if snap.Config != nil &&
		(snap.Config.RequiresSession == types.SessionRequired || snap.Config.AccessClass == types.AccessClassHuman) {
		sess = e.opts.Sessions.Acquire(domain, identity)
		if sess == nil {
			return e.pauseRun(ctx, run, job, classifier.Decision{
				Tag:          classifier.TagPause,
				Intervention: types.InterventionManualAccess,
				Reason:       "session_gated:no_session",
			}, nil, stats)
		}
		e.opts.Metrics.IncSessionReused()
	}

	override := types.EngineModeAuto
	if e.opts.Strategy != nil {
		if m, ok := e.opts.Strategy(domain); ok {
			override = m
		}
	}
	// A concrete requested mode outranks the domain strategy: it is how
	// an operator pins a run, and how a retry resumes at the tier its
	// predecessor escalated to.
	requested := run.RequestedMode != "" && run.RequestedMode != types.EngineModeAuto
	if requested {
		override = run.RequestedMode
	}
	plan, biasReason := planner.Initial(job, snap, override, run.MaxAttempts, e.opts.ProviderAvailable())
	if requested {
		biasReason = "run_requested_mode"
	}
	run.ResolvedEngine = plan.Current()
	run.BiasReason = biasReason

	e.emit(ctx, run.ID, types.EventLevelInfo, "run started", map[string]any{
		"engine": string(plan.Current()), "domain": domain, "bias_reason": biasReason,
	})

	sawCaptcha := false
	for {
		if plan.Attempts() > 0 {
			// An operator may have cancelled or re-routed the run
			// between attempts.
			status, err := e.opts.Store.GetRunStatus(ctx, run.ID)
			if err == nil && status != types.RunStatusRunning {
				logger.Warn("run left running state externally", map[string]any{"status": string(status)})
				e.releaseSession(sess, false, sawCaptcha)
				return nil
			}
		}

		eng := plan.Current()
		tier, ok := e.opts.Engines[eng]
		if !ok {
			e.releaseSession(sess, false, sawCaptcha)
			return e.failRun(ctx, run, job, run.RequestedMode, types.FailureUnknown, fmt.Sprintf("engine %s not configured", eng), stats)
		}

		if eng != types.EngineHTTP && engine.EnsureProfile(job) {
			if err := e.opts.Store.SetJobProfile(ctx, job.ID, job.Profile); err != nil {
				logger.Warn("profile not persisted", map[string]any{"error": err.Error()})
			}
		}
		if sess == nil && eng == types.EngineBrowser {
			if sess = e.opts.Sessions.Acquire(domain, identity); sess != nil {
				e.opts.Metrics.IncSessionReused()
			}
		}

		req := types.FetchRequest{
			Job:           job,
			FieldMap:      fieldMap,
			Session:       sess,
			ProxyIdentity: identity,
			ProxyURL:      proxyURL,
			Timeout:       e.timeoutFor(eng),
		}

		started := e.now()
		res, err := tier.FetchAndExtract(ctx, req)
		plan.RecordAttempt()
		stats.Tried(eng)
		stats.CostUnits += eng.Cost()
		e.opts.Metrics.IncAttempt(string(eng), eng.Cost())
		if eng == types.EngineProvider {
			e.opts.Metrics.IncProviderCall()
		}

		if err != nil {
			e.releaseSession(sess, false, sawCaptcha)
			if errors.Is(err, engine.ErrKeyDepleted) {
				e.opts.Metrics.IncProviderKeyDepleted()
				return e.failRun(ctx, run, job, run.RequestedMode, types.FailureKeyDepleted, err.Error(), stats)
			}
			return e.failRun(ctx, run, job, run.RequestedMode, types.FailureUnknown, fmt.Sprintf("engine %s: %v", eng, err), stats)
		}
		if res.Signals.Captcha {
			sawCaptcha = true
		}

		decision := classifier.Classify(classifier.Input{
			StatusCode:        res.StatusCode,
			BodySize:          res.BodySize,
			Duration:          res.Meta.Duration,
			Engine:            eng,
			Signals:           res.Signals,
			Records:           len(res.Records),
			RequiredMissing:   res.RequiredMissing,
			SessionPresent:    sess != nil,
			DomainConfig:      snap.Config,
			ProviderAvailable: e.opts.ProviderAvailable(),
		})

		if err := e.opts.Store.AddEngineAttempt(ctx, &types.EngineAttempt{
			ID:         uuid.New(),
			RunID:      run.ID,
			Attempt:    plan.Attempts(),
			Engine:     eng,
			StatusCode: res.StatusCode,
			Success:    decision.Tag == classifier.TagProceed,
			Records:    len(res.Records),
			Signals:    res.Signals,
			Decision:   string(decision.Tag),
			Reason:     decision.Reason,
			BiasReason: biasReason,
			DurationMS: res.Meta.Duration.Milliseconds(),
			StartedAt:  started,
		}); err != nil {
			logger.Warn("attempt audit not recorded", map[string]any{"error": err.Error()})
		}
		biasReason = ""

		outcome := store.DomainOutcome{
			Domain:     domain,
			Engine:     eng,
			Success:    decision.Tag == classifier.TagProceed,
			Records:    len(res.Records),
			HadCaptcha: res.Signals.Captcha,
			Blocked403: res.StatusCode == 401 || res.StatusCode == 403,
			CostUnits:  eng.Cost(),
		}
		if decision.Escalates() {
			outcome.Escalations = 1
		}
		if err := e.opts.Intel.RecordOutcome(ctx, outcome); err != nil {
			logger.Warn("domain outcome not recorded", map[string]any{"error": err.Error()})
		}

		logger.Info("attempt classified", map[string]any{
			"engine": string(eng), "status": res.StatusCode,
			"records": len(res.Records), "decision": string(decision.Tag),
			"reason": decision.Reason,
		})

		switch decision.Tag {
		case classifier.TagProceed:
			return e.completeRun(ctx, run, job, eng, sess, res, sawCaptcha, identity, domain, stats)

		case classifier.TagEscalateBrowser, classifier.TagEscalateProvider:
			if sess == nil {
				e.opts.Sessions.RecordDomainFailure(domain)
			}
			if plan.Advance(decision) {
				stats.Escalations++
				e.opts.Metrics.IncEscalation()
				e.emit(ctx, run.ID, types.EventLevelInfo, "escalating", map[string]any{
					"from": string(eng), "to": string(plan.Current()), "reason": decision.Reason,
				})
				continue
			}
			e.releaseSession(sess, false, sawCaptcha)
			nextMode := types.EngineModeBrowser
			if decision.Tag == classifier.TagEscalateProvider {
				nextMode = types.EngineModeProvider
			}
			return e.failRun(ctx, run, job, nextMode, types.FailureUnknown,
				"escalation budget exhausted: "+decision.Reason, stats)

		case classifier.TagPause:
			e.releaseSession(sess, decision.Intervention == types.InterventionFieldConfirm, sawCaptcha)
			if sess == nil && decision.Intervention != types.InterventionFieldConfirm {
				e.opts.Sessions.RecordDomainFailure(domain)
			}
			return e.pauseRun(ctx, run, job, decision, res, stats)

		default:
			e.releaseSession(sess, false, sawCaptcha)
			if sess == nil {
				e.opts.Sessions.RecordDomainFailure(domain)
			}
			return e.failRun(ctx, run, job, run.RequestedMode, decision.FailureCode, decision.Reason, stats)
		}
	}
}

// completeRun commits records, settles session state, and finishes the
// run.
func (e *Executor) completeRun(ctx context.Context, run *types.Run, job *types.Job, eng types.Engine,
	sess *types.BrowserSession, res *types.FetchResult, sawCaptcha bool, identity, domain string,
	stats types.RunStats) error {

	e.releaseSession(sess, true, sawCaptcha)
	if sess == nil {
		e.opts.Sessions.RecordDomainSuccess(domain)
	}

	if captured := res.CapturedSession; captured != nil {
		key := types.SessionKey{Domain: domain, ProxyIdentity: identity}
		if _, err := e.opts.Sessions.Create(key, captured.Cookies, captured.StorageState,
			captured.UserAgent, captured.Viewport); err == nil {
			e.opts.Metrics.IncSessionCreated()
		}
	}

	for i := range res.Records {
		res.Records[i].ID = uuid.New()
		res.Records[i].RunID = run.ID
		res.Records[i].JobID = job.ID
	}
	if err := e.opts.Store.CommitRecords(ctx, res.Records); err != nil {
		return e.failRun(ctx, run, job, run.RequestedMode, types.FailureUnknown, fmt.Sprintf("commit records: %v", err), stats)
	}
	stats.Records = len(res.Records)
	e.opts.Metrics.AddRecordsCommitted(len(res.Records))

	if err := e.opts.Store.CompleteRun(ctx, run.ID, eng, stats); err != nil {
		return fmt.Errorf("runtime: complete run %s: %w", run.ID, err)
	}
	e.opts.Metrics.IncRunCompleted()
	e.emit(ctx, run.ID, types.EventLevelInfo, "run completed", map[string]any{
		"engine": string(eng), "records": len(res.Records), "cost_units": stats.CostUnits,
	})

	run.Status = types.RunStatusCompleted
	run.ResolvedEngine = eng
	run.Stats = stats
	e.notify(ctx, run, job)
	return nil
}

// pauseRun archives what the engine saw and parks the run behind an
// intervention task. A throttled pause fails the run instead.
func (e *Executor) pauseRun(ctx context.Context, run *types.Run, job *types.Job,
	decision classifier.Decision, res *types.FetchResult, stats types.RunStats) error {

	payload := map[string]any{"url": job.TargetURL}
	if res != nil {
		payload["status"] = res.StatusCode
		payload["engine"] = string(res.Meta.Engine)
		if len(res.Signals.BlockMarkers) > 0 {
			payload["block_markers"] = res.Signals.BlockMarkers
		}
		if len(res.Signals.LowConfidenceFields) > 0 {
			payload["low_confidence_fields"] = res.Signals.LowConfidenceFields
		}

		if e.opts.Snapshots != nil && res.BodySample != "" {
			ref, err := e.opts.Snapshots.Archive(ctx, run.ID, len(stats.EnginesTried), res.BodySample)
			if err == nil {
				stats.SnapshotRef = ref
			}
		}
	}
	stats.PausedAt = e.now().UTC().Format(time.RFC3339)
	stats.PauseReason = decision.Reason

	_, err := e.opts.Pauser.Pause(ctx, intervention.PauseRequest{
		Run:           run,
		Job:           job,
		Type:          decision.Intervention,
		TriggerReason: decision.Reason,
		Payload:       payload,
		SnapshotRef:   stats.SnapshotRef,
		Stats:         stats,
	})
	if errors.Is(err, intervention.ErrThrottled) {
		return e.failRun(ctx, run, job, run.RequestedMode, types.FailureUnknown, "intervention throttled: "+decision.Reason, stats)
	}
	if err != nil {
		return e.failRun(ctx, run, job, run.RequestedMode, types.FailureUnknown, fmt.Sprintf("pause run: %v", err), stats)
	}
	e.opts.Metrics.IncRunPaused()
	e.opts.Metrics.IncInterventionCreated()

	run.Status = types.RunStatusWaitingForHuman
	run.Stats = stats
	e.notify(ctx, run, job)
	return nil
}

// failRun terminally fails the run and, for retriable codes with budget
// left, schedules a backoff successor. nextMode is the mode the
// successor starts in: the run's own requested mode on ordinary
// failures, or the escalated tier when the last classified outcome
// called for escalation.
func (e *Executor) failRun(ctx context.Context, run *types.Run, job *types.Job,
	nextMode types.EngineMode, code types.FailureCode, message string, stats types.RunStats) error {

	if err := e.opts.Store.FailRun(ctx, run.ID, code, message, stats); err != nil {
		return fmt.Errorf("runtime: fail run %s: %w", run.ID, err)
	}
	e.opts.Metrics.IncRunFailed()
	e.emit(ctx, run.ID, types.EventLevelError, "run failed", map[string]any{
		"failure_code": string(code), "error": message,
	})

	run.Status = types.RunStatusFailed
	run.FailureCode = code
	run.ErrorMessage = message
	run.Stats = stats
	e.notify(ctx, run, job)

	if !code.RetriableAcrossRuns() || run.Attempt >= run.MaxAttempts {
		return nil
	}
	delay := Backoff(run.Attempt)
	next := &types.Run{
		ID:            uuid.New(),
		JobID:         run.JobID,
		Status:        types.RunStatusQueued,
		Attempt:       run.Attempt + 1,
		MaxAttempts:   run.MaxAttempts,
		RequestedMode: nextMode,
	}
	if err := e.opts.Store.CreateRun(ctx, next, e.now().Add(delay)); err != nil {
		return fmt.Errorf("runtime: schedule retry for %s: %w", run.ID, err)
	}
	e.emit(ctx, run.ID, types.EventLevelInfo, "retry scheduled", map[string]any{
		"next_run_id": next.ID.String(),
		"attempt":     next.Attempt,
		"delay":       delay.String(),
	})
	return nil
}

// notify publishes the terminal event downstream. Best effort.
func (e *Executor) notify(ctx context.Context, run *types.Run, job *types.Job) {
	if e.opts.Notifier == nil {
		return
	}
	_ = e.opts.Notifier.Publish(ctx, adapter.FromRun(run, job))
}

// releaseSession settles a held session. No-op when none was acquired.
func (e *Executor) releaseSession(sess *types.BrowserSession, success, sawCaptcha bool) {
	if sess == nil {
		return
	}
	if success {
		_ = e.opts.Sessions.MarkSuccess(sess.Key, sawCaptcha)
		return
	}
	_ = e.opts.Sessions.MarkFailure(sess.Key)
}

func (e *Executor) selectProxy(job *types.Job, domain string) (identity, proxyURL string) {
	if e.opts.Proxies == nil {
		return job.ProxyIdentity, ""
	}
	if job.ProxyIdentity != "" {
		return job.ProxyIdentity, e.opts.Proxies.URL(job.ProxyIdentity)
	}
	return e.opts.Proxies.Select(domain)
}

func (e *Executor) timeoutFor(eng types.Engine) time.Duration {
	if d, ok := e.opts.Timeouts[eng]; ok && d > 0 {
		return d
	}
	switch eng {
	case types.EngineBrowser:
		return config.DefaultNavTimeout
	case types.EngineProvider:
		return config.DefaultProviderTimeout
	default:
		return config.DefaultHTTPTimeout
	}
}

func (e *Executor) emit(ctx context.Context, runID uuid.UUID, level types.EventLevel, msg string, meta map[string]any) {
	if e.opts.Events == nil {
		return
	}
	e.opts.Events.Emit(ctx, runID, level, msg, meta)
}
