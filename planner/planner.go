// Package planner chooses the initial extraction engine for a run and
// advances it across tiers on classifier outcomes, with bounded cost.
package planner

import (
	"github.com/justapithecus/ferret/classifier"
	"github.com/justapithecus/ferret/intel"
	"github.com/justapithecus/ferret/types"
)

// Plan is the per-run escalation state. It is not safe for concurrent
// use; each executor owns one.
type Plan struct {
	// Pinned is set when the job's engine mode disables escalation.
	Pinned bool

	MaxAttempts int
	// ProviderAvailable is false when the provider tier has no usable
	// keys, which caps the ladder at browser.
	ProviderAvailable bool

	current  types.Engine
	attempts int
}

// Initial picks the first engine for a run. Order of authority: a
// per-domain strategy override, the job's explicit mode, the
// requires-auth pin to browser, then domain-intelligence bias.
func Initial(job *types.Job, snap *intel.Snapshot, override types.EngineMode, maxAttempts int, providerAvailable bool) (*Plan, string) {
	p := &Plan{MaxAttempts: maxAttempts, ProviderAvailable: providerAvailable}

	mode := job.EngineMode
	reason := ""
	if override != "" && override != types.EngineModeAuto {
		mode = override
		reason = "domain_strategy_override"
	}

	if engine, forced := mode.Forced(); forced {
		p.Pinned = true
		p.current = engine
		return p, reason
	}

	if job.RequiresAuth {
		p.current = types.EngineBrowser
		return p, "requires_auth"
	}

	engine, biasReason := intel.InitialBias(snap)
	p.current = engine
	return p, biasReason
}

// Current returns the engine the next attempt should use.
func (p *Plan) Current() types.Engine {
	return p.current
}

// Attempts returns how many attempts have been recorded.
func (p *Plan) Attempts() int {
	return p.attempts
}

// RecordAttempt counts one engine invocation.
func (p *Plan) RecordAttempt() {
	p.attempts++
}

// Advance applies a classifier decision and reports whether another
// attempt should run. Stop conditions: the mode is pinned, the attempt
// budget is spent, the decision does not escalate, or the requested tier
// is not above the current one.
func (p *Plan) Advance(d classifier.Decision) bool {
	if !d.Escalates() {
		return false
	}
	if p.Pinned {
		return false
	}
	if p.attempts >= p.MaxAttempts {
		return false
	}

	var target types.Engine
	switch d.Tag {
	case classifier.TagEscalateBrowser:
		target = types.EngineBrowser
	case classifier.TagEscalateProvider:
		if !p.ProviderAvailable {
			return false
		}
		target = types.EngineProvider
	default:
		return false
	}

	if !above(target, p.current) {
		return false
	}
	p.current = target
	return true
}

// above reports whether a sits strictly later than b in the tier order.
func above(a, b types.Engine) bool {
	ai, bi := -1, -1
	for i, e := range types.TierOrder {
		if e == a {
			ai = i
		}
		if e == b {
			bi = i
		}
	}
	return ai > bi
}
