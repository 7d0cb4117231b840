package runtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/ferret/adapter"
	"github.com/justapithecus/ferret/engine"
	"github.com/justapithecus/ferret/intel"
	"github.com/justapithecus/ferret/intervention"
	"github.com/justapithecus/ferret/snapshot"
	"github.com/justapithecus/ferret/store"
	"github.com/justapithecus/ferret/types"
)

type completedCall struct {
	Engine types.Engine
	Stats  types.RunStats
}

type failedCall struct {
	Code    types.FailureCode
	Message string
	Stats   types.RunStats
}

type createdRun struct {
	Run       *types.Run
	NotBefore time.Time
}

type stubStore struct {
	mu sync.Mutex

	job      *types.Job
	fieldMap *types.FieldMap
	status   types.RunStatus

	completed  []completedCall
	failed     []failedCall
	created    []createdRun
	attempts   []types.EngineAttempt
	records    []types.Record
	profileSet int
	commitErr  error
}

func (s *stubStore) GetJob(ctx context.Context, id uuid.UUID) (*types.Job, error) {
	return s.job, nil
}

func (s *stubStore) GetFieldMap(ctx context.Context, jobID uuid.UUID) (*types.FieldMap, error) {
	return s.fieldMap, nil
}

func (s *stubStore) SetJobProfile(ctx context.Context, id uuid.UUID, profile *types.BrowserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profileSet++
	return nil
}

func (s *stubStore) GetRunStatus(ctx context.Context, id uuid.UUID) (types.RunStatus, error) {
	if s.status == "" {
		return types.RunStatusRunning, nil
	}
	return s.status, nil
}

func (s *stubStore) CreateRun(ctx context.Context, run *types.Run, notBefore time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, createdRun{Run: run, NotBefore: notBefore})
	return nil
}

func (s *stubStore) CompleteRun(ctx context.Context, id uuid.UUID, eng types.Engine, stats types.RunStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, completedCall{Engine: eng, Stats: stats})
	return nil
}

func (s *stubStore) FailRun(ctx context.Context, id uuid.UUID, code types.FailureCode, message string, stats types.RunStats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, failedCall{Code: code, Message: message, Stats: stats})
	return nil
}

func (s *stubStore) AddEngineAttempt(ctx context.Context, a *types.EngineAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, *a)
	return nil
}

func (s *stubStore) CommitRecords(ctx context.Context, records []types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return s.commitErr
	}
	s.records = append(s.records, records...)
	return nil
}

type stubIntel struct {
	snap     *intel.Snapshot
	outcomes []store.DomainOutcome
}

func (i *stubIntel) Lookup(ctx context.Context, domain string) (*intel.Snapshot, error) {
	if i.snap != nil {
		return i.snap, nil
	}
	return &intel.Snapshot{
		Domain: domain,
		Config: &types.DomainConfig{
			Domain:          domain,
			AccessClass:     types.AccessClassPublic,
			RequiresSession: types.SessionNotRequired,
		},
	}, nil
}

func (i *stubIntel) RecordOutcome(ctx context.Context, o store.DomainOutcome) error {
	i.outcomes = append(i.outcomes, o)
	return nil
}

type stubSessions struct {
	session *types.BrowserSession
	breaker bool

	acquired        int
	marksSuccess    []types.SessionKey
	marksFailure    []types.SessionKey
	created         []types.SessionKey
	domainFailures  []string
	domainSuccesses []string
}

func (s *stubSessions) Acquire(domain, proxyIdentity string) *types.BrowserSession {
	s.acquired++
	return s.session
}

func (s *stubSessions) Create(key types.SessionKey, cookies []types.Cookie, storageState []byte, ua string, viewport types.Viewport) (*types.BrowserSession, error) {
	s.created = append(s.created, key)
	return &types.BrowserSession{ID: uuid.New(), Key: key}, nil
}

func (s *stubSessions) MarkSuccess(key types.SessionKey, hadCaptcha bool) error {
	s.marksSuccess = append(s.marksSuccess, key)
	return nil
}

func (s *stubSessions) MarkFailure(key types.SessionKey) error {
	s.marksFailure = append(s.marksFailure, key)
	return nil
}

func (s *stubSessions) RecordDomainFailure(domain string) {
	s.domainFailures = append(s.domainFailures, domain)
}

func (s *stubSessions) RecordDomainSuccess(domain string) {
	s.domainSuccesses = append(s.domainSuccesses, domain)
}

func (s *stubSessions) BreakerOpen(domain string) bool { return s.breaker }

type stubPauser struct {
	requests []intervention.PauseRequest
	err      error
}

func (p *stubPauser) Pause(ctx context.Context, req intervention.PauseRequest) (*types.InterventionTask, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.requests = append(p.requests, req)
	return &types.InterventionTask{ID: uuid.New(), Type: req.Type}, nil
}

type stubEngine struct {
	name    types.Engine
	results []*types.FetchResult
	err     error
	calls   int
}

func (s *stubEngine) Name() types.Engine { return s.name }

func (s *stubEngine) FetchAndExtract(ctx context.Context, req types.FetchRequest) (*types.FetchResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	i := s.calls - 1
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i], nil
}

func okResult(eng types.Engine, records int) *types.FetchResult {
	res := &types.FetchResult{
		StatusCode: 200,
		BodySize:   4096,
		BodySample: "<html><body>page</body></html>",
		Meta:       types.EngineMetadata{Engine: eng, Duration: 80 * time.Millisecond},
	}
	for i := 0; i < records; i++ {
		res.Records = append(res.Records, types.Record{
			Ordinal: i, Engine: eng, SourceURL: "https://shop.example/p/1",
		})
	}
	return res
}

func deniedResult(eng types.Engine) *types.FetchResult {
	return &types.FetchResult{
		StatusCode:      403,
		BodySize:        512,
		BodySample:      "Access Denied",
		RequiredMissing: true,
		Meta:            types.EngineMetadata{Engine: eng, Duration: 40 * time.Millisecond},
	}
}

func testJob() *types.Job {
	return &types.Job{
		ID:          uuid.New(),
		Name:        "widgets",
		TargetURL:   "https://shop.example/p/1",
		EngineMode:  types.EngineModeAuto,
		CrawlMode:   types.CrawlModeSingle,
		MaxAttempts: 3,
	}
}

func testRun(job *types.Job) *types.Run {
	return &types.Run{
		ID:            uuid.New(),
		JobID:         job.ID,
		Status:        types.RunStatusRunning,
		Attempt:       1,
		MaxAttempts:   3,
		RequestedMode: types.EngineModeAuto,
	}
}

type fixture struct {
	store    *stubStore
	intel    *stubIntel
	sessions *stubSessions
	pauser   *stubPauser
	job      *types.Job
	run      *types.Run
}

func newFixture() *fixture {
	job := testJob()
	return &fixture{
		store: &stubStore{
			job: job,
			fieldMap: &types.FieldMap{JobID: job.ID, Fields: []types.SelectorSpec{
				{Name: "title", CSS: "h1", Required: true},
			}},
		},
		intel:    &stubIntel{},
		sessions: &stubSessions{},
		pauser:   &stubPauser{},
		job:      job,
		run:      testRun(job),
	}
}

func (f *fixture) executor(t *testing.T, engines map[types.Engine]engine.Engine, mutate func(*Options)) *Executor {
	t.Helper()
	opts := Options{
		Store:    f.store,
		Intel:    f.intel,
		Sessions: f.sessions,
		Pauser:   f.pauser,
		Engines:  engines,
	}
	if mutate != nil {
		mutate(&opts)
	}
	exec, err := New(opts)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	return exec
}

func TestExecuteCompletesOnFirstTier(t *testing.T) {
	f := newFixture()
	httpEng := &stubEngine{name: types.EngineHTTP, results: []*types.FetchResult{okResult(types.EngineHTTP, 2)}}
	exec := f.executor(t, map[types.Engine]engine.Engine{types.EngineHTTP: httpEng}, nil)

	if err := exec.Execute(context.Background(), f.run); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(f.store.completed) != 1 {
		t.Fatalf("completed: %d", len(f.store.completed))
	}
	done := f.store.completed[0]
	if done.Engine != types.EngineHTTP {
		t.Fatalf("engine: %v", done.Engine)
	}
	if done.Stats.Records != 2 || done.Stats.CostUnits != 1.0 {
		t.Fatalf("stats: %+v", done.Stats)
	}
	if len(f.store.records) != 2 {
		t.Fatalf("records committed: %d", len(f.store.records))
	}
	for _, r := range f.store.records {
		if r.RunID != f.run.ID || r.JobID != f.job.ID || r.ID == uuid.Nil {
			t.Fatalf("record not stamped: %+v", r)
		}
	}
	if len(f.store.attempts) != 1 || f.store.attempts[0].Decision != "proceed" {
		t.Fatalf("attempts: %+v", f.store.attempts)
	}
	if len(f.sessions.domainSuccesses) != 1 {
		t.Fatal("domain success not recorded")
	}
}

func TestExecuteEscalatesToBrowser(t *testing.T) {
	f := newFixture()
	httpEng := &stubEngine{name: types.EngineHTTP, results: []*types.FetchResult{deniedResult(types.EngineHTTP)}}
	browserEng := &stubEngine{name: types.EngineBrowser, results: []*types.FetchResult{okResult(types.EngineBrowser, 1)}}
	exec := f.executor(t, map[types.Engine]engine.Engine{
		types.EngineHTTP:    httpEng,
		types.EngineBrowser: browserEng,
	}, nil)

	if err := exec.Execute(context.Background(), f.run); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if httpEng.calls != 1 || browserEng.calls != 1 {
		t.Fatalf("calls: http=%d browser=%d", httpEng.calls, browserEng.calls)
	}
	done := f.store.completed[0]
	if done.Engine != types.EngineBrowser {
		t.Fatalf("engine: %v", done.Engine)
	}
	if done.Stats.Escalations != 1 {
		t.Fatalf("escalations: %d", done.Stats.Escalations)
	}
	if done.Stats.CostUnits != 4.0 {
		t.Fatalf("cost: %v", done.Stats.CostUnits)
	}
	want := []types.Engine{types.EngineHTTP, types.EngineBrowser}
	if len(done.Stats.EnginesTried) != 2 || done.Stats.EnginesTried[0] != want[0] || done.Stats.EnginesTried[1] != want[1] {
		t.Fatalf("engines tried: %v", done.Stats.EnginesTried)
	}
	// The denied attempt counted against the domain and fed the 403
	// ledger.
	if len(f.sessions.domainFailures) != 1 {
		t.Fatal("domain failure not recorded on the blocked attempt")
	}
	if len(f.intel.outcomes) != 2 || !f.intel.outcomes[0].Blocked403 || f.intel.outcomes[0].Escalations != 1 {
		t.Fatalf("outcomes: %+v", f.intel.outcomes)
	}
}

func TestExecuteSchedulesRetryOnNetworkFailure(t *testing.T) {
	f := newFixture()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	httpEng := &stubEngine{name: types.EngineHTTP, results: []*types.FetchResult{{
		Signals: types.PageSignals{NetworkError: true},
		Meta:    types.EngineMetadata{Engine: types.EngineHTTP},
	}}}
	exec := f.executor(t, map[types.Engine]engine.Engine{types.EngineHTTP: httpEng}, func(o *Options) {
		o.Now = func() time.Time { return now }
	})

	if err := exec.Execute(context.Background(), f.run); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(f.store.failed) != 1 || f.store.failed[0].Code != types.FailureNetwork {
		t.Fatalf("failed: %+v", f.store.failed)
	}
	if len(f.store.created) != 1 {
		t.Fatalf("successor runs: %d", len(f.store.created))
	}
	next := f.store.created[0]
	if next.Run.Attempt != 2 || next.Run.JobID != f.job.ID {
		t.Fatalf("successor: %+v", next.Run)
	}
	if got := next.NotBefore.Sub(now); got != 10*time.Second {
		t.Fatalf("backoff: %v", got)
	}
}

func TestExecuteNoRetryOnTerminalTimeout(t *testing.T) {
	f := newFixture()
	f.job.EngineMode = types.EngineModeBrowser
	browserEng := &stubEngine{name: types.EngineBrowser, results: []*types.FetchResult{{
		Signals: types.PageSignals{Timeout: true},
		Meta:    types.EngineMetadata{Engine: types.EngineBrowser},
	}}}
	exec := f.executor(t, map[types.Engine]engine.Engine{types.EngineBrowser: browserEng}, nil)

	if err := exec.Execute(context.Background(), f.run); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(f.store.failed) != 1 || f.store.failed[0].Code != types.FailureTimeout {
		t.Fatalf("failed: %+v", f.store.failed)
	}
	if len(f.store.created) != 0 {
		t.Fatal("timeout on the final tier must not schedule a retry")
	}
}

func TestExecutePausesForSelectorFix(t *testing.T) {
	f := newFixture()
	res := &types.FetchResult{
		StatusCode:      200,
		BodySize:        8192,
		BodySample:      strings.Repeat("<p>real page</p>", 64),
		RequiredMissing: true,
		Meta:            types.EngineMetadata{Engine: types.EngineHTTP},
	}
	httpEng := &stubEngine{name: types.EngineHTTP, results: []*types.FetchResult{res}}
	exec := f.executor(t, map[types.Engine]engine.Engine{types.EngineHTTP: httpEng}, func(o *Options) {
		o.Snapshots = snapshot.NewDirArchiver(t.TempDir())
	})

	if err := exec.Execute(context.Background(), f.run); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(f.pauser.requests) != 1 {
		t.Fatalf("pause requests: %d", len(f.pauser.requests))
	}
	req := f.pauser.requests[0]
	if req.Type != types.InterventionSelectorFix {
		t.Fatalf("type: %v", req.Type)
	}
	if req.Stats.PausedAt == "" || req.Stats.PauseReason == "" {
		t.Fatalf("pause stats: %+v", req.Stats)
	}
	if !strings.HasPrefix(req.SnapshotRef, "file://") {
		t.Fatalf("snapshot ref: %q", req.SnapshotRef)
	}
	if len(f.store.failed) != 0 || len(f.store.completed) != 0 {
		t.Fatal("a paused run is neither failed nor completed")
	}
}

func TestExecuteFailsWhenPauseThrottled(t *testing.T) {
	f := newFixture()
	f.pauser.err = intervention.ErrThrottled
	res := &types.FetchResult{
		StatusCode:      200,
		BodySize:        8192,
		BodySample:      strings.Repeat("x", 4096),
		RequiredMissing: true,
		Meta:            types.EngineMetadata{Engine: types.EngineHTTP},
	}
	httpEng := &stubEngine{name: types.EngineHTTP, results: []*types.FetchResult{res}}
	exec := f.executor(t, map[types.Engine]engine.Engine{types.EngineHTTP: httpEng}, nil)

	if err := exec.Execute(context.Background(), f.run); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(f.store.failed) != 1 {
		t.Fatalf("failed: %d", len(f.store.failed))
	}
	fail := f.store.failed[0]
	if fail.Code != types.FailureUnknown || !strings.HasPrefix(fail.Message, "intervention throttled") {
		t.Fatalf("failure: %+v", fail)
	}
}

func TestExecuteFailsFastOnOpenBreaker(t *testing.T) {
	f := newFixture()
	f.sessions.breaker = true
	httpEng := &stubEngine{name: types.EngineHTTP, results: []*types.FetchResult{okResult(types.EngineHTTP, 1)}}
	exec := f.executor(t, map[types.Engine]engine.Engine{types.EngineHTTP: httpEng}, nil)

	if err := exec.Execute(context.Background(), f.run); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if httpEng.calls != 0 {
		t.Fatal("no fetch should happen while the breaker is open")
	}
	if len(f.store.failed) != 1 || f.store.failed[0].Code != types.FailureRateLimited {
		t.Fatalf("failed: %+v", f.store.failed)
	}
	// rate_limited is retriable, so the cooldown retry is scheduled.
	if len(f.store.created) != 1 {
		t.Fatalf("successor runs: %d", len(f.store.created))
	}
}

func TestExecutePausesSessionGatedDomainWithoutSession(t *testing.T) {
	f := newFixture()
	f.intel.snap = &intel.Snapshot{
		Domain: "shop.example",
		Config: &types.DomainConfig{
			Domain:          "shop.example",
			AccessClass:     types.AccessClassHuman,
			RequiresSession: types.SessionRequired,
		},
	}
	httpEng := &stubEngine{name: types.EngineHTTP, results: []*types.FetchResult{okResult(types.EngineHTTP, 1)}}
	exec := f.executor(t, map[types.Engine]engine.Engine{types.EngineHTTP: httpEng}, nil)

	if err := exec.Execute(context.Background(), f.run); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if httpEng.calls != 0 {
		t.Fatal("session-gated domains must not be fetched without a session")
	}
	if len(f.pauser.requests) != 1 {
		t.Fatalf("pause requests: %d", len(f.pauser.requests))
	}
	req := f.pauser.requests[0]
	if req.Type != types.InterventionManualAccess || req.TriggerReason != "session_gated:no_session" {
		t.Fatalf("pause: type=%v reason=%q", req.Type, req.TriggerReason)
	}
}

func TestExecuteSettlesSessionAndRegistersCapture(t *testing.T) {
	f := newFixture()
	f.job.RequiresAuth = true
	f.sessions.session = &types.BrowserSession{
		ID:  uuid.New(),
		Key: types.SessionKey{Domain: "shop.example"},
	}

	res := okResult(types.EngineBrowser, 1)
	res.CapturedSession = &types.BrowserSession{
		Cookies:   []types.Cookie{{Name: "sid", Value: "fresh"}},
		UserAgent: "ua",
	}
	browserEng := &stubEngine{name: types.EngineBrowser, results: []*types.FetchResult{res}}
	exec := f.executor(t, map[types.Engine]engine.Engine{
		types.EngineHTTP:    &stubEngine{name: types.EngineHTTP, results: []*types.FetchResult{okResult(types.EngineHTTP, 1)}},
		types.EngineBrowser: browserEng,
	}, nil)

	if err := exec.Execute(context.Background(), f.run); err != nil {
		t.Fatalf("execute: %v", err)
	}
	// requires_auth pins the run to the browser tier.
	if browserEng.calls != 1 {
		t.Fatalf("browser calls: %d", browserEng.calls)
	}
	if len(f.sessions.marksSuccess) != 1 {
		t.Fatalf("mark success: %v", f.sessions.marksSuccess)
	}
	if len(f.sessions.created) != 1 || f.sessions.created[0].Domain != "shop.example" {
		t.Fatalf("captured session not registered: %v", f.sessions.created)
	}
	// The browser tier pinned a profile and persisted it.
	if f.store.profileSet != 1 || f.job.Profile == nil {
		t.Fatal("profile not pinned for the browser tier")
	}
}

func TestExecuteFailsOnDepletedProviderKeys(t *testing.T) {
	f := newFixture()
	f.job.EngineMode = types.EngineModeProvider
	providerEng := &stubEngine{name: types.EngineProvider, err: engine.ErrKeyDepleted}
	exec := f.executor(t, map[types.Engine]engine.Engine{types.EngineProvider: providerEng}, nil)

	if err := exec.Execute(context.Background(), f.run); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(f.store.failed) != 1 || f.store.failed[0].Code != types.FailureKeyDepleted {
		t.Fatalf("failed: %+v", f.store.failed)
	}
	if len(f.store.created) != 0 {
		t.Fatal("key depletion must not schedule a retry")
	}
}

func TestExecuteStopsWhenRunLeavesRunning(t *testing.T) {
	f := newFixture()
	httpEng := &stubEngine{name: types.EngineHTTP, results: []*types.FetchResult{deniedResult(types.EngineHTTP)}}
	browserEng := &stubEngine{name: types.EngineBrowser, results: []*types.FetchResult{okResult(types.EngineBrowser, 1)}}
	exec := f.executor(t, map[types.Engine]engine.Engine{
		types.EngineHTTP:    httpEng,
		types.EngineBrowser: browserEng,
	}, nil)
	f.store.status = types.RunStatusFailed

	if err := exec.Execute(context.Background(), f.run); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if browserEng.calls != 0 {
		t.Fatal("an externally stopped run must not keep attempting")
	}
	if len(f.store.completed) != 0 || len(f.store.failed) != 0 {
		t.Fatal("the executor must leave external state alone")
	}
}

func TestExecuteExhaustedEscalationBudget(t *testing.T) {
	f := newFixture()
	f.run.MaxAttempts = 1
	httpEng := &stubEngine{name: types.EngineHTTP, results: []*types.FetchResult{deniedResult(types.EngineHTTP)}}
	exec := f.executor(t, map[types.Engine]engine.Engine{
		types.EngineHTTP:    httpEng,
		types.EngineBrowser: &stubEngine{name: types.EngineBrowser, results: []*types.FetchResult{okResult(types.EngineBrowser, 1)}},
	}, nil)

	if err := exec.Execute(context.Background(), f.run); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(f.store.failed) != 1 {
		t.Fatalf("failed: %d", len(f.store.failed))
	}
	fail := f.store.failed[0]
	if fail.Code != types.FailureUnknown || !strings.HasPrefix(fail.Message, "escalation budget exhausted") {
		t.Fatalf("failure: %+v", fail)
	}
}

func TestExecuteFailsWhenRecordCommitFails(t *testing.T) {
	f := newFixture()
	f.store.commitErr = errors.New("insert records: connection reset")
	httpEng := &stubEngine{name: types.EngineHTTP, results: []*types.FetchResult{okResult(types.EngineHTTP, 2)}}
	exec := f.executor(t, map[types.Engine]engine.Engine{types.EngineHTTP: httpEng}, nil)

	if err := exec.Execute(context.Background(), f.run); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(f.store.completed) != 0 {
		t.Fatal("a run whose records did not land must not complete")
	}
	if len(f.store.failed) != 1 {
		t.Fatalf("failed: %d", len(f.store.failed))
	}
	fail := f.store.failed[0]
	if fail.Code != types.FailureUnknown || !strings.HasPrefix(fail.Message, "commit records") {
		t.Fatalf("failure: %+v", fail)
	}
}

func TestExecuteHonorsRequestedMode(t *testing.T) {
	f := newFixture()
	f.run.RequestedMode = types.EngineModeBrowser
	httpEng := &stubEngine{name: types.EngineHTTP, results: []*types.FetchResult{okResult(types.EngineHTTP, 1)}}
	browserEng := &stubEngine{name: types.EngineBrowser, results: []*types.FetchResult{okResult(types.EngineBrowser, 1)}}
	exec := f.executor(t, map[types.Engine]engine.Engine{
		types.EngineHTTP:    httpEng,
		types.EngineBrowser: browserEng,
	}, nil)

	if err := exec.Execute(context.Background(), f.run); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if httpEng.calls != 0 || browserEng.calls != 1 {
		t.Fatalf("calls: http=%d browser=%d", httpEng.calls, browserEng.calls)
	}
	if len(f.store.completed) != 1 || f.store.completed[0].Engine != types.EngineBrowser {
		t.Fatalf("completed: %+v", f.store.completed)
	}
	if len(f.store.attempts) != 1 || f.store.attempts[0].BiasReason != "run_requested_mode" {
		t.Fatalf("attempts: %+v", f.store.attempts)
	}
}

func TestExecuteRetryStartsAtEscalatedTier(t *testing.T) {
	f := newFixture()
	f.run.MaxAttempts = 2
	httpEng := &stubEngine{name: types.EngineHTTP, results: []*types.FetchResult{deniedResult(types.EngineHTTP)}}
	browserEng := &stubEngine{name: types.EngineBrowser, results: []*types.FetchResult{deniedResult(types.EngineBrowser)}}
	exec := f.executor(t, map[types.Engine]engine.Engine{
		types.EngineHTTP:     httpEng,
		types.EngineBrowser:  browserEng,
		types.EngineProvider: &stubEngine{name: types.EngineProvider, results: []*types.FetchResult{okResult(types.EngineProvider, 1)}},
	}, nil)

	if err := exec.Execute(context.Background(), f.run); err != nil {
		t.Fatalf("execute: %v", err)
	}
	// Both budgeted attempts were blocked and the last one wanted the
	// provider tier, so the run fails with a retry queued there.
	if len(f.store.failed) != 1 || !strings.HasPrefix(f.store.failed[0].Message, "escalation budget exhausted") {
		t.Fatalf("failed: %+v", f.store.failed)
	}
	if len(f.store.created) != 1 {
		t.Fatalf("successor runs: %d", len(f.store.created))
	}
	next := f.store.created[0].Run
	if next.RequestedMode != types.EngineModeProvider {
		t.Fatalf("successor mode: %q, want provider", next.RequestedMode)
	}
	if next.Attempt != 2 {
		t.Fatalf("successor attempt: %d", next.Attempt)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	if err == nil {
		t.Fatal("missing collaborators should be rejected")
	}
	f := newFixture()
	_, err = New(Options{Store: f.store, Intel: f.intel, Sessions: f.sessions, Pauser: f.pauser})
	if err == nil {
		t.Fatal("an executor with no engines should be rejected")
	}
}

func TestBackoffLadder(t *testing.T) {
	cases := []struct {
		retry int
		want  time.Duration
	}{
		{0, 10 * time.Second},
		{1, 10 * time.Second},
		{2, 30 * time.Second},
		{3, 90 * time.Second},
		{4, 270 * time.Second},
		{5, 300 * time.Second},
		{9, 300 * time.Second},
	}
	for _, tc := range cases {
		if got := Backoff(tc.retry); got != tc.want {
			t.Errorf("Backoff(%d) = %v, want %v", tc.retry, got, tc.want)
		}
	}
}

type stubNotifier struct {
	mu     sync.Mutex
	events []*adapter.RunCompletedEvent
}

func (n *stubNotifier) Publish(_ context.Context, ev *adapter.RunCompletedEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *stubNotifier) Close() error { return nil }

func TestExecutePublishesTerminalEvents(t *testing.T) {
	f := newFixture()
	notifier := &stubNotifier{}
	httpEng := &stubEngine{name: types.EngineHTTP, results: []*types.FetchResult{okResult(types.EngineHTTP, 3)}}
	exec := f.executor(t, map[types.Engine]engine.Engine{types.EngineHTTP: httpEng}, func(o *Options) {
		o.Notifier = notifier
	})

	if err := exec.Execute(context.Background(), f.run); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if len(notifier.events) != 1 {
		t.Fatalf("events: %d", len(notifier.events))
	}
	ev := notifier.events[0]
	if ev.EventType != "run_completed" || ev.Status != string(types.RunStatusCompleted) {
		t.Fatalf("event: %+v", ev)
	}
	if ev.Domain != "shop.example" || ev.Engine != string(types.EngineHTTP) || ev.Records != 3 {
		t.Fatalf("event payload: %+v", ev)
	}
}
