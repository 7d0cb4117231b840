package engine

import "github.com/justapithecus/ferret/types"

// Profile defaults. A stable fingerprint reduces false blocks; this is
// consistent presentation, not evasion.
const (
	defaultViewportWidth  = 1920
	defaultViewportHeight = 1080
	defaultTimezone       = "America/New_York"
	defaultLocale         = "en-US"
)

// GenerateProfile returns a stable browser fingerprint for a job. The
// same profile is pinned to the job so every attempt presents the same
// surface.
func GenerateProfile(userAgent string) *types.BrowserProfile {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &types.BrowserProfile{
		UserAgent: userAgent,
		Viewport:  types.Viewport{Width: defaultViewportWidth, Height: defaultViewportHeight},
		Timezone:  defaultTimezone,
		Locale:    defaultLocale,
	}
}

// EnsureProfile fills a job's profile if it has none, returning whether
// a new one was pinned.
func EnsureProfile(job *types.Job) bool {
	if job.Profile != nil {
		return false
	}
	job.Profile = GenerateProfile("")
	return true
}

// AcceptLanguage derives the Accept-Language header from a profile's
// locale.
func AcceptLanguage(p *types.BrowserProfile) string {
	locale := defaultLocale
	if p != nil && p.Locale != "" {
		locale = p.Locale
	}
	return locale + ",en;q=0.9"
}
