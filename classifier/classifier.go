// Package classifier maps one engine attempt's observations to a single
// decision: proceed, escalate, pause for a human, or fail. The function
// is pure and deterministic; every input is observable.
package classifier

import (
	"fmt"
	"time"

	"github.com/justapithecus/ferret/types"
)

// Tag is the decision discriminator.
type Tag string

// Decision tags.
const (
	TagProceed          Tag = "proceed"
	TagEscalateBrowser  Tag = "escalate_to_browser"
	TagEscalateProvider Tag = "escalate_to_provider"
	TagPause            Tag = "pause"
	TagFail             Tag = "fail"
)

// Decision is the classifier's verdict for one attempt.
type Decision struct {
	Tag    Tag
	Reason string

	// Intervention is set when Tag is TagPause.
	Intervention types.InterventionType
	// FailureCode is set when Tag is TagFail.
	FailureCode types.FailureCode
}

// Escalates reports whether the decision moves to a higher tier.
func (d Decision) Escalates() bool {
	return d.Tag == TagEscalateBrowser || d.Tag == TagEscalateProvider
}

// Input is everything the classifier is allowed to look at.
type Input struct {
	StatusCode int
	BodySize   int
	Duration   time.Duration
	Engine     types.Engine
	Signals    types.PageSignals

	// Records is how many records the attempt extracted;
	// RequiredMissing is true when required fields yielded nothing.
	Records         int
	RequiredMissing bool

	SessionPresent bool
	DomainConfig   *types.DomainConfig

	// ProviderAvailable is false when the provider tier is disabled or
	// its keys are depleted.
	ProviderAvailable bool
}

// minValidBodySize separates real pages from stub error bodies when
// deciding selector_fix.
const minValidBodySize = 2048

// Classify applies the decision table. Rules are checked in priority
// order; the first match wins.
func Classify(in Input) Decision {
	sig := in.Signals

	// Transport-level failures never have a page to reason about.
	if sig.NetworkError {
		return Decision{Tag: TagFail, FailureCode: types.FailureNetwork,
			Reason: "network error with no response"}
	}
	if sig.Timeout {
		if d, ok := escalation(in, "fetch timed out"); ok {
			return d
		}
		return Decision{Tag: TagFail, FailureCode: types.FailureTimeout,
			Reason: "fetch timed out on final tier"}
	}

	denied := in.StatusCode == 401 || in.StatusCode == 403

	// Auth-shaped denials pause for a human before any escalation: a
	// stale session needs a refresh, and a session-gated domain without
	// a session needs manual access.
	if denied && in.SessionPresent {
		return Decision{Tag: TagPause, Intervention: types.InterventionLoginRefresh,
			Reason: fmt.Sprintf("status %d with session attached, session is stale", in.StatusCode)}
	}
	if denied && !in.SessionPresent && in.DomainConfig != nil &&
		in.DomainConfig.RequiresSession == types.SessionRequired {
		return Decision{Tag: TagPause, Intervention: types.InterventionManualAccess,
			Reason: fmt.Sprintf("status %d on session-gated domain with no session", in.StatusCode)}
	}

	ok2xx := in.StatusCode >= 200 && in.StatusCode < 300

	// A 2xx that delivered the expected extractions is a success no
	// matter what stray captcha widgets or block phrases the page body
	// carried; marker rules only matter when extraction fell short.
	if ok2xx && !in.RequiredMissing && in.Records > 0 {
		// Low-confidence typed fields hold back an otherwise good page.
		if len(sig.LowConfidenceFields) > 0 {
			return Decision{Tag: TagPause, Intervention: types.InterventionFieldConfirm,
				Reason: fmt.Sprintf("typed fields below confidence threshold: %v", sig.LowConfidenceFields)}
		}
		return Decision{Tag: TagProceed, Reason: "2xx with expected extractions"}
	}

	// Captcha with nowhere left to escalate needs a human solve.
	if sig.Captcha && (in.Engine == types.EngineProvider || !in.ProviderAvailable && in.Engine == types.EngineBrowser) {
		return Decision{Tag: TagPause, Intervention: types.InterventionCaptchaSolve,
			Reason: "captcha markers with provider tier exhausted"}
	}

	// Block-shaped observations escalate while tiers remain.
	if reason, blocked := blockReason(in); blocked {
		if d, ok := escalation(in, reason); ok {
			return d
		}
		return Decision{Tag: TagFail, FailureCode: terminalBlockCode(in), Reason: reason}
	}

	// JS-gated page: a 200 whose static DOM cannot satisfy the field
	// map. Escalate to a tier that executes scripts.
	if ok2xx && in.Records == 0 && (sig.JSApp || sig.EmptyAppShell) {
		reason := fmt.Sprintf("js app markers %v with zero extractions", sig.JSMarkers)
		if d, ok := escalation(in, reason); ok {
			return d
		}
		return Decision{Tag: TagPause, Intervention: types.InterventionSelectorFix, Reason: reason}
	}
	if ok2xx && in.Records == 0 && sig.NoIndex {
		if d, ok := escalation(in, "robots noindex with zero extractions"); ok {
			return d
		}
	}

	// A clearly valid page that yields nothing is a mapping problem,
	// not a blocking problem.
	if ok2xx && in.RequiredMissing && in.BodySize >= minValidBodySize && !sig.Blocked {
		return Decision{Tag: TagPause, Intervention: types.InterventionSelectorFix,
			Reason: "valid page, zero extractions for required fields"}
	}

	if !ok2xx {
		if d, ok := escalation(in, fmt.Sprintf("unexpected status %d", in.StatusCode)); ok {
			return d
		}
		return Decision{Tag: TagFail, FailureCode: types.FailureBadResponse,
			Reason: fmt.Sprintf("status %d on final tier", in.StatusCode)}
	}

	return Decision{Tag: TagFail, FailureCode: types.FailureUnknown,
		Reason: "no rule matched"}
}

// blockReason returns the matched block condition, if any: denial
// statuses, rate limiting, or anti-bot body markers.
func blockReason(in Input) (string, bool) {
	switch {
	case in.StatusCode == 429:
		return "status 429 rate limited", true
	case in.StatusCode == 401 || in.StatusCode == 403:
		return fmt.Sprintf("status %d denied", in.StatusCode), true
	case in.Signals.Blocked:
		return fmt.Sprintf("anti-bot markers %v", in.Signals.BlockMarkers), true
	}
	return "", false
}

// terminalBlockCode picks the failure code when a block survives every
// tier.
func terminalBlockCode(in Input) types.FailureCode {
	if in.StatusCode == 429 {
		return types.FailureRateLimited
	}
	if in.Signals.Captcha {
		return types.FailureCaptcha
	}
	return types.FailureBlocked
}

// escalation returns the next-tier decision, or false when no higher
// tier is available.
func escalation(in Input, reason string) (Decision, bool) {
	switch in.Engine {
	case types.EngineHTTP:
		return Decision{Tag: TagEscalateBrowser, Reason: reason}, true
	case types.EngineBrowser:
		if in.ProviderAvailable {
			return Decision{Tag: TagEscalateProvider, Reason: reason}, true
		}
	}
	return Decision{}, false
}
