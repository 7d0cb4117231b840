// Package intel is the domain intelligence store: per-(domain, engine)
// performance counters and the derived access classification that biases
// engine planning.
package intel

import (
	"context"
	"fmt"

	"github.com/justapithecus/ferret/store"
	"github.com/justapithecus/ferret/types"
)

// Biasing thresholds. A domain needs MinAttempts observations on an
// engine before its history can influence planning.
const (
	MinAttempts          = 5
	LowSuccessThreshold  = 0.20
	HighSuccessThreshold = 0.85
)

// Classification thresholds.
const (
	humanBlockRate   = 0.8
	infraBlockRate   = 0.5
	infraCaptchaCeil = 0.2
	providerProven   = 0.5
)

// Intelligence reads and derives domain knowledge. All mutation goes
// through RecordOutcome; classification is recomputed from counters.
type Intelligence struct {
	store *store.Store
}

// New returns an Intelligence over the given store.
func New(s *store.Store) *Intelligence {
	return &Intelligence{store: s}
}

// Snapshot is everything the planner and executor need to know about a
// domain before attempting it.
type Snapshot struct {
	Domain  string
	Config  *types.DomainConfig
	Engines map[types.Engine]*types.DomainStats
}

// Stats returns the per-engine stats, nil when the engine has no history.
func (s *Snapshot) Stats(e types.Engine) *types.DomainStats {
	return s.Engines[e]
}

// Lookup loads stats and config for a domain. Never-seen domains return
// an open-posture config and an empty engine map.
func (i *Intelligence) Lookup(ctx context.Context, domain string) (*Snapshot, error) {
	cfg, err := i.store.GetDomainConfig(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("intel: lookup %s: %w", domain, err)
	}
	rows, err := i.store.GetDomainStats(ctx, domain)
	if err != nil {
		return nil, fmt.Errorf("intel: lookup %s: %w", domain, err)
	}
	snap := &Snapshot{
		Domain:  domain,
		Config:  cfg,
		Engines: make(map[types.Engine]*types.DomainStats, len(rows)),
	}
	for idx := range rows {
		snap.Engines[rows[idx].Engine] = &rows[idx]
	}
	return snap, nil
}

// RecordOutcome folds one attempt outcome into the counters, then
// reclassifies the domain when the new evidence shifts its posture.
func (i *Intelligence) RecordOutcome(ctx context.Context, o store.DomainOutcome) error {
	if err := i.store.RecordDomainOutcome(ctx, o); err != nil {
		return err
	}

	snap, err := i.Lookup(ctx, o.Domain)
	if err != nil {
		return err
	}
	derived := Classify(snap)
	if derived.AccessClass == snap.Config.AccessClass &&
		derived.RequiresSession == snap.Config.RequiresSession {
		return nil
	}
	derived.Notes = snap.Config.Notes
	derived.PreferredEngine = snap.Config.PreferredEngine
	if err := i.store.UpsertDomainConfig(ctx, derived); err != nil {
		return fmt.Errorf("intel: reclassify %s: %w", o.Domain, err)
	}
	return nil
}

// Classify derives a domain's access posture from its counters. Pure:
// same snapshot, same answer.
//
// A domain becomes human when the HTTP tier is denied with 403s at least
// 80% of the time over enough attempts; it becomes infra when denials
// are common but captchas are rare and the provider tier has a proven
// record; otherwise it stays public. requires_session follows the human
// classification once it is backed by enough attempts.
func Classify(snap *Snapshot) *types.DomainConfig {
	cfg := &types.DomainConfig{
		Domain:          snap.Domain,
		AccessClass:     types.AccessClassPublic,
		RequiresSession: types.SessionNotRequired,
	}

	httpStats := snap.Stats(types.EngineHTTP)
	if httpStats == nil || httpStats.TotalAttempts < MinAttempts {
		return cfg
	}

	blockRate := httpStats.BlockRate()
	switch {
	case blockRate >= humanBlockRate:
		cfg.AccessClass = types.AccessClassHuman
		cfg.RequiresSession = types.SessionRequired
	case blockRate >= infraBlockRate && httpStats.CaptchaRate() < infraCaptchaCeil && providerWorks(snap):
		cfg.AccessClass = types.AccessClassInfra
		cfg.PreferredEngine = types.EngineProvider
		cfg.RequiresSession = types.SessionNotRequired
	}
	return cfg
}

func providerWorks(snap *Snapshot) bool {
	p := snap.Stats(types.EngineProvider)
	return p != nil && p.TotalAttempts >= MinAttempts && p.SuccessRate() > providerProven
}

// InitialBias picks the initial engine for an auto-mode run from domain
// history, returning the audit reason when history influenced the choice.
func InitialBias(snap *Snapshot) (types.Engine, string) {
	if snap.Config != nil && snap.Config.PreferredEngine != "" {
		return snap.Config.PreferredEngine,
			fmt.Sprintf("domain_bias:preferred_engine:%s", snap.Config.PreferredEngine)
	}

	httpStats := snap.Stats(types.EngineHTTP)
	if httpStats != nil && httpStats.TotalAttempts >= MinAttempts {
		rate := httpStats.SuccessRate()
		if rate < LowSuccessThreshold {
			return types.EngineBrowser, fmt.Sprintf(
				"domain_bias:http_low_success:%.2f_attempts:%d", rate, httpStats.TotalAttempts)
		}
		if rate > HighSuccessThreshold {
			return types.EngineHTTP, fmt.Sprintf(
				"domain_bias:http_high_success:%.2f_attempts:%d", rate, httpStats.TotalAttempts)
		}
	}

	browserStats := snap.Stats(types.EngineBrowser)
	if browserStats != nil && browserStats.TotalAttempts >= MinAttempts &&
		browserStats.SuccessRate() > HighSuccessThreshold {
		return types.EngineBrowser, fmt.Sprintf(
			"domain_bias:browser_proven:%.2f_attempts:%d",
			browserStats.SuccessRate(), browserStats.TotalAttempts)
	}

	return types.EngineHTTP, ""
}
