package types

import "time"

// FetchRequest is the uniform input every extraction engine accepts.
type FetchRequest struct {
	Job      *Job
	FieldMap *FieldMap

	// Session is set when the pool attached a warm session; tiers that
	// cannot replay sessions ignore it.
	Session *BrowserSession

	ProxyIdentity string
	// ProxyURL is the concrete egress endpoint for the identity, empty
	// for direct egress.
	ProxyURL string

	Timeout time.Duration
}

// FetchResult is the uniform output of every extraction engine. A result
// carrying block signals is not an error; classification decides what
// happens next.
type FetchResult struct {
	StatusCode int
	BodySize   int

	Records []Record

	// BodySample is a truncated copy of the response body, kept for
	// signal detection and snapshot capture.
	BodySample string

	Signals PageSignals

	// RequiredMissing is true when required fields yielded no value on
	// an otherwise parseable page.
	RequiredMissing bool

	// CapturedSession is fresh session material the engine picked up on
	// a successful authenticated fetch, for Session Pool registration.
	CapturedSession *BrowserSession

	Meta EngineMetadata
}

// Succeeded reports whether the attempt produced at least one record with
// a 2xx status.
func (r *FetchResult) Succeeded() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300 && len(r.Records) > 0
}

// EngineMetadata is the closed per-attempt metadata an engine reports.
type EngineMetadata struct {
	Engine   Engine        `json:"engine"`
	FinalURL string        `json:"final_url,omitempty"`
	Duration time.Duration `json:"duration"`

	UsedSession bool `json:"used_session,omitempty"`

	// PagesFetched counts listing plus item pages in list mode, 1 in
	// single mode.
	PagesFetched int `json:"pages_fetched,omitempty"`

	// CreditsLeft and ProviderKeyID are reported by the provider tier
	// only; CreditsLeft is -1 elsewhere.
	CreditsLeft   int    `json:"credits_left,omitempty"`
	ProviderKeyID string `json:"provider_key_id,omitempty"`
}

// PageSignals are the escalation signals detected in a fetched page.
type PageSignals struct {
	// JSApp is true when the body carries SPA framework markers and the
	// static DOM is likely an empty shell.
	JSApp bool `json:"js_app,omitempty"`
	// JSMarkers lists which framework markers matched.
	JSMarkers []string `json:"js_markers,omitempty"`

	// Blocked is true when the body carries anti-bot challenge text.
	Blocked bool `json:"blocked,omitempty"`
	// BlockMarkers lists which challenge markers matched.
	BlockMarkers []string `json:"block_markers,omitempty"`

	// Captcha is true when the challenge looks like a captcha rather
	// than a plain denial.
	Captcha bool `json:"captcha,omitempty"`

	// NoIndex is true when robots meta marks the page noindex, a weak
	// signal the page resists static fetching.
	NoIndex bool `json:"noindex,omitempty"`

	// EmptyAppShell is true when a root application container exists
	// but holds no meaningful content.
	EmptyAppShell bool `json:"empty_app_shell,omitempty"`

	// NetworkError and Timeout mark transport-level failures where no
	// response was observed.
	NetworkError bool `json:"network_error,omitempty"`
	Timeout      bool `json:"timeout,omitempty"`

	// LowConfidenceFields lists required typed fields whose parsed
	// confidence fell below the confirmation threshold.
	LowConfidenceFields []string `json:"low_confidence_fields,omitempty"`
}

// Any reports whether any escalation-relevant signal fired.
func (s PageSignals) Any() bool {
	return s.JSApp || s.Blocked || s.Captcha || s.EmptyAppShell || s.NetworkError || s.Timeout
}
