// Package metrics provides worker-level metrics collection.
//
// The Collector accumulates counters while a worker consumes runs. It is
// a leaf package with no internal dependencies. All increment methods
// are nil-receiver safe so instrumented code paths never need guards.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all collected counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after
// creation.
type Snapshot struct {
	// Run lifecycle
	RunsStarted   int64
	RunsCompleted int64
	RunsFailed    int64
	RunsPaused    int64

	// Attempts and escalation
	AttemptsByEngine map[string]int64
	Escalations      int64
	RecordsCommitted int64
	CostUnits        float64

	// Sessions
	SessionsCreated int64
	SessionsReused  int64
	SessionsRetired int64

	// Provider credits
	ProviderCalls        int64
	ProviderKeysDepleted int64

	// Interventions
	InterventionsCreated  int64
	InterventionsResolved int64
	InterventionsExpired  int64

	// Dimensions (informational, set at construction)
	Owner string
}

// Collector accumulates metrics for one worker.
// Thread-safe via sync.Mutex.
type Collector struct {
	mu sync.Mutex

	runsStarted   int64
	runsCompleted int64
	runsFailed    int64
	runsPaused    int64

	attemptsByEngine map[string]int64
	escalations      int64
	recordsCommitted int64
	costUnits        float64

	sessionsCreated int64
	sessionsReused  int64
	sessionsRetired int64

	providerCalls        int64
	providerKeysDepleted int64

	interventionsCreated  int64
	interventionsResolved int64
	interventionsExpired  int64

	owner string
}

// NewCollector creates a Collector labeled with the worker's lease owner.
func NewCollector(owner string) *Collector {
	return &Collector{
		attemptsByEngine: make(map[string]int64),
		owner:            owner,
	}
}

// --- Run lifecycle ---

// IncRunStarted records a leased run entering execution.
func (c *Collector) IncRunStarted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runsStarted++
	c.mu.Unlock()
}

// IncRunCompleted records a successful run completion.
func (c *Collector) IncRunCompleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runsCompleted++
	c.mu.Unlock()
}

// IncRunFailed records a terminal run failure.
func (c *Collector) IncRunFailed() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runsFailed++
	c.mu.Unlock()
}

// IncRunPaused records a run parked for human intervention.
func (c *Collector) IncRunPaused() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.runsPaused++
	c.mu.Unlock()
}

// --- Attempts ---

// IncAttempt records one engine attempt and its cost units.
func (c *Collector) IncAttempt(engine string, cost float64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.attemptsByEngine[engine]++
	c.costUnits += cost
	c.mu.Unlock()
}

// IncEscalation records an escalation between tiers.
func (c *Collector) IncEscalation() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.escalations++
	c.mu.Unlock()
}

// AddRecordsCommitted records how many records a run committed.
func (c *Collector) AddRecordsCommitted(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.recordsCommitted += int64(n)
	c.mu.Unlock()
}

// --- Sessions ---

// IncSessionCreated records a fresh session entering the pool.
func (c *Collector) IncSessionCreated() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsCreated++
	c.mu.Unlock()
}

// IncSessionReused records a warm session acquisition.
func (c *Collector) IncSessionReused() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsReused++
	c.mu.Unlock()
}

// IncSessionRetired records a session leaving the pool.
func (c *Collector) IncSessionRetired() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.sessionsRetired++
	c.mu.Unlock()
}

// --- Provider ---

// IncProviderCall records one billed provider fetch.
func (c *Collector) IncProviderCall() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.providerCalls++
	c.mu.Unlock()
}

// IncProviderKeyDepleted records a provider key running out of credits.
func (c *Collector) IncProviderKeyDepleted() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.providerKeysDepleted++
	c.mu.Unlock()
}

// --- Interventions ---

// IncInterventionCreated records a new intervention task.
func (c *Collector) IncInterventionCreated() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.interventionsCreated++
	c.mu.Unlock()
}

// IncInterventionResolved records a resolved intervention task.
func (c *Collector) IncInterventionResolved() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.interventionsResolved++
	c.mu.Unlock()
}

// AddInterventionsExpired records a batch of expired tasks.
func (c *Collector) AddInterventionsExpired(n int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.interventionsExpired += n
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters. The
// Collector can continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	attempts := make(map[string]int64, len(c.attemptsByEngine))
	for k, v := range c.attemptsByEngine {
		attempts[k] = v
	}

	return Snapshot{
		RunsStarted:   c.runsStarted,
		RunsCompleted: c.runsCompleted,
		RunsFailed:    c.runsFailed,
		RunsPaused:    c.runsPaused,

		AttemptsByEngine: attempts,
		Escalations:      c.escalations,
		RecordsCommitted: c.recordsCommitted,
		CostUnits:        c.costUnits,

		SessionsCreated: c.sessionsCreated,
		SessionsReused:  c.sessionsReused,
		SessionsRetired: c.sessionsRetired,

		ProviderCalls:        c.providerCalls,
		ProviderKeysDepleted: c.providerKeysDepleted,

		InterventionsCreated:  c.interventionsCreated,
		InterventionsResolved: c.interventionsResolved,
		InterventionsExpired:  c.interventionsExpired,

		Owner: c.owner,
	}
}
