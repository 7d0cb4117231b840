package classifier

import (
	"strings"

	"github.com/justapithecus/ferret/types"
)

// jsMarkers betray client-rendered pages whose static DOM is an empty
// shell.
var jsMarkers = []string{
	"__next_data__",
	"data-reactroot",
	"ng-version",
	"v-cloak",
	"window.__nuxt__",
	"__svelte",
}

// blockMarkers betray anti-bot interstitials and challenge pages.
var blockMarkers = []string{
	"checking your browser",
	"just a moment",
	"cf-browser-verification",
	"cf-mitigated",
	"attention required",
	"access denied",
	"request blocked",
	"are you a robot",
	"unusual traffic",
	"captcha",
}

// captchaMarkers single out challenges that need a human solve rather
// than a browser upgrade.
var captchaMarkers = []string{
	"captcha",
	"recaptcha",
	"h-captcha",
	"hcaptcha",
	"cf-turnstile",
}

// emptyShellMarkers are root containers that hold a client app.
var emptyShellMarkers = []string{
	`<div id="app"></div>`,
	`<div id="root"></div>`,
	`<div id="__next"></div>`,
}

// DetectSignals scans a body sample for escalation signals. Engines call
// this on every fetched page; the decision table consumes the result.
func DetectSignals(body string) types.PageSignals {
	lowered := strings.ToLower(body)
	var sig types.PageSignals

	for _, m := range jsMarkers {
		if strings.Contains(lowered, m) {
			sig.JSApp = true
			sig.JSMarkers = append(sig.JSMarkers, m)
		}
	}
	for _, m := range blockMarkers {
		if strings.Contains(lowered, m) {
			sig.Blocked = true
			sig.BlockMarkers = append(sig.BlockMarkers, m)
		}
	}
	for _, m := range captchaMarkers {
		if strings.Contains(lowered, m) {
			sig.Captcha = true
			break
		}
	}
	for _, m := range emptyShellMarkers {
		if strings.Contains(lowered, strings.ToLower(m)) {
			sig.JSApp = true
			sig.EmptyAppShell = true
			break
		}
	}
	if strings.Contains(lowered, `name="robots"`) && strings.Contains(lowered, "noindex") {
		sig.NoIndex = true
	}
	return sig
}
