// Package sessionpool keeps warm browser sessions as trust-scored assets
// keyed by (domain, proxy identity), persists them across restarts, and
// retires them deterministically.
package sessionpool

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/ferret/types"
)

// Options tune retirement. Zero values take the defaults.
type Options struct {
	TrustFloor float64       // minimum trust to hand out (default 40)
	MaxUses    int           // hard retirement cap (default 200)
	MaxAge     time.Duration // hard retirement cap (default 2h)

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Defaults for Options.
const (
	DefaultTrustFloor = 40.0
	DefaultMaxUses    = 200
	DefaultMaxAge     = 2 * time.Hour
)

type entry struct {
	session *types.BrowserSession
	held    bool
}

// Pool is the in-memory session registry. One mutex guards the map and
// the per-domain breakers; all session state changes happen under it, so
// acquire on the same key is naturally serialized.
type Pool struct {
	mu       sync.Mutex
	sessions map[types.SessionKey]*entry
	breakers map[string]*breaker

	vault *Vault
	opts  Options
	now   func() time.Time
}

// New builds a pool backed by the given vault, loading surviving
// sessions from disk and dropping any that are already retired.
func New(vault *Vault, opts Options) (*Pool, error) {
	if opts.TrustFloor == 0 {
		opts.TrustFloor = DefaultTrustFloor
	}
	if opts.MaxUses == 0 {
		opts.MaxUses = DefaultMaxUses
	}
	if opts.MaxAge == 0 {
		opts.MaxAge = DefaultMaxAge
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	p := &Pool{
		sessions: make(map[types.SessionKey]*entry),
		breakers: make(map[string]*breaker),
		vault:    vault,
		opts:     opts,
		now:      now,
	}

	if vault != nil {
		loaded, err := vault.LoadAll()
		if err != nil {
			return nil, err
		}
		for _, s := range loaded {
			if p.shouldRetire(s, now()) {
				vault.Delete(s.Key)
				continue
			}
			p.sessions[s.Key] = &entry{session: s}
		}
	}
	return p, nil
}

// shouldRetire evaluates the four hard-retirement predicates.
func (p *Pool) shouldRetire(s *types.BrowserSession, now time.Time) bool {
	if Trust(s, now) < p.opts.TrustFloor {
		return true
	}
	if s.FailureStreak >= 3 {
		return true
	}
	if s.UseCount >= p.opts.MaxUses {
		return true
	}
	if s.Age(now) >= p.opts.MaxAge {
		return true
	}
	return false
}

// Acquire hands out the session for (domain, identity) if it is healthy
// and not already held. Unhealthy sessions are retired on the spot and
// nil is returned; nil is also returned while the domain's circuit
// breaker is open. Callers release by reporting MarkSuccess or
// MarkFailure.
func (p *Pool) Acquire(domain, proxyIdentity string) *types.BrowserSession {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if b, ok := p.breakers[domain]; ok && b.open(now) {
		return nil
	}

	key := types.SessionKey{Domain: domain, ProxyIdentity: proxyIdentity}
	e, ok := p.sessions[key]
	if !ok {
		return nil
	}
	if p.shouldRetire(e.session, now) {
		p.retireLocked(key)
		return nil
	}
	if e.held {
		// A second concurrent requester gets nil, never a duplicate.
		return nil
	}
	e.held = true
	return e.session
}

// Create registers a fresh session captured after a successful
// authenticated extraction, replacing any existing one for the key.
func (p *Pool) Create(key types.SessionKey, cookies []types.Cookie, storageState []byte, ua string, viewport types.Viewport) (*types.BrowserSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	s := &types.BrowserSession{
		ID:            uuid.New(),
		Key:           key,
		Health:        types.SessionValid,
		Cookies:       cookies,
		StorageState:  storageState,
		UserAgent:     ua,
		Viewport:      viewport,
		UseCount:      1,
		CreatedAt:     now,
		LastUsedAt:    now,
		LastSuccessAt: &now,
	}
	p.sessions[key] = &entry{session: s}
	if err := p.persistLocked(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Register inserts an externally captured session, e.g. cookies supplied
// by an operator resolving a manual-access intervention.
func (p *Pool) Register(s *types.BrowserSession) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := p.now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.LastUsedAt.IsZero() {
		s.LastUsedAt = now
	}
	if s.Health == "" {
		s.Health = types.SessionValid
	}
	p.sessions[s.Key] = &entry{session: s}
	return p.persistLocked(s)
}

// MarkSuccess records a successful use: streak resets, use count grows,
// recency updates. The hold is released, and hard caps are re-checked so
// a session hitting its use cap retires immediately.
func (p *Pool) MarkSuccess(key types.SessionKey, hadCaptcha bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.sessions[key]
	if !ok {
		return fmt.Errorf("sessionpool: mark success: no session for %s", key)
	}
	now := p.now()
	s := e.session
	s.FailureStreak = 0
	s.UseCount++
	s.LastUsedAt = now
	s.LastSuccessAt = &now
	s.Health = types.SessionValid
	if hadCaptcha {
		s.CaptchaCount++
	}
	e.held = false

	if b, ok := p.breakers[key.Domain]; ok {
		b.recordSuccess()
	}

	if s.UseCount >= p.opts.MaxUses {
		p.retireLocked(key)
		return nil
	}
	return p.persistLocked(s)
}

// MarkFailure records a failed use and releases the hold. Three in a row
// retires the session. The domain breaker counts the failure too.
func (p *Pool) MarkFailure(key types.SessionKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.recordDomainFailureLocked(key.Domain)

	e, ok := p.sessions[key]
	if !ok {
		return nil
	}
	s := e.session
	s.FailureStreak++
	s.LastUsedAt = p.now()
	s.Health = types.SessionInvalid
	e.held = false

	if s.FailureStreak >= 3 {
		p.retireLocked(key)
		return nil
	}
	return p.persistLocked(s)
}

// RecordDomainFailure feeds the circuit breaker for attempts that never
// touched a session.
func (p *Pool) RecordDomainFailure(domain string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recordDomainFailureLocked(domain)
}

// RecordDomainSuccess resets the domain's breaker.
func (p *Pool) RecordDomainSuccess(domain string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.breakers[domain]; ok {
		b.recordSuccess()
	}
}

// BreakerOpen reports whether the domain's circuit breaker is tripped.
func (p *Pool) BreakerOpen(domain string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.breakers[domain]
	return ok && b.open(p.now())
}

func (p *Pool) recordDomainFailureLocked(domain string) {
	b, ok := p.breakers[domain]
	if !ok {
		b = &breaker{}
		p.breakers[domain] = b
	}
	b.recordFailure(p.now())
}

// Retire removes a session from the pool and from disk.
func (p *Pool) Retire(key types.SessionKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retireLocked(key)
}

func (p *Pool) retireLocked(key types.SessionKey) {
	delete(p.sessions, key)
	if p.vault != nil {
		p.vault.Delete(key)
	}
}

func (p *Pool) persistLocked(s *types.BrowserSession) error {
	if p.vault == nil {
		return nil
	}
	return p.vault.Save(s)
}

// Stats is the pool's observability snapshot.
type Stats struct {
	Live    int            `json:"live"`
	Held    int            `json:"held"`
	Domains map[string]int `json:"domains"`
}

// Snapshot aggregates the pool for the stats CLI.
func (p *Pool) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Stats{Domains: make(map[string]int)}
	for key, e := range p.sessions {
		st.Live++
		if e.held {
			st.Held++
		}
		st.Domains[key.Domain]++
	}
	return st
}
