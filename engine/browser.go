package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"

	"github.com/justapithecus/ferret/types"
)

// stealthScript smooths over the most common headless tells before any
// page script runs. Stable presentation, not an evasion arms race.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });
Object.defineProperty(navigator, 'plugins', { get: () => [1, 2, 3, 4, 5] });
Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'] });
Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => 8 });
Object.defineProperty(navigator, 'deviceMemory', { get: () => 8 });
`

// Humanized pacing bounds. Uniform jitter inside each window.
const (
	preNavDelayMin = 300 * time.Millisecond
	preNavDelayMax = 800 * time.Millisecond
	actionDelayMin = 500 * time.Millisecond
	actionDelayMax = 1000 * time.Millisecond
)

// BrowserEngine is tier 2: a real Chromium context driven headlessly,
// with session replay and capture. Handles script-rendered pages the
// HTTP tier cannot.
type BrowserEngine struct {
	NavTimeout time.Duration
	Headless   bool
	// WSEndpoint connects to a remote browser server when set; otherwise
	// a local Chromium is launched on first use.
	WSEndpoint       string
	ConsentSelectors []string

	mu      sync.Mutex
	pw      *playwright.Playwright
	browser playwright.Browser
}

// NewBrowserEngine builds the tier. The browser is started lazily on the
// first fetch.
func NewBrowserEngine(navTimeout time.Duration, headless bool, wsEndpoint string, consentSelectors []string) *BrowserEngine {
	if navTimeout == 0 {
		navTimeout = 30 * time.Second
	}
	return &BrowserEngine{
		NavTimeout:       navTimeout,
		Headless:         headless,
		WSEndpoint:       wsEndpoint,
		ConsentSelectors: consentSelectors,
	}
}

// Name implements Engine.
func (e *BrowserEngine) Name() types.Engine { return types.EngineBrowser }

// Close shuts down the shared browser. Safe to call when never started.
func (e *BrowserEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	if e.browser != nil {
		errs = append(errs, e.browser.Close())
		e.browser = nil
	}
	if e.pw != nil {
		errs = append(errs, e.pw.Stop())
		e.pw = nil
	}
	return errors.Join(errs...)
}

// FetchAndExtract implements Engine. One browser context serves the whole
// request; in list mode every item page reuses it.
func (e *BrowserEngine) FetchAndExtract(ctx context.Context, req types.FetchRequest) (*types.FetchResult, error) {
	if req.Job == nil || req.FieldMap == nil {
		return nil, fmt.Errorf("browser engine: job and field map are required")
	}

	started := time.Now()
	result := &types.FetchResult{
		Meta: types.EngineMetadata{Engine: types.EngineBrowser, CreditsLeft: -1},
	}

	bctx, err := e.newContext(req)
	if err != nil {
		return nil, fmt.Errorf("browser engine: %w", err)
	}
	defer bctx.Close()
	result.Meta.UsedSession = req.Session != nil

	page, err := bctx.NewPage()
	if err != nil {
		return nil, fmt.Errorf("browser engine: %w", err)
	}

	consented := false
	fetch := func(ctx context.Context, pageURL string) (*goquery.Document, *pageInfo, error) {
		info, err := e.navigate(ctx, page, pageURL, !consented)
		if err != nil {
			return nil, nil, err
		}
		consented = true
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(info.Body))
		if err != nil {
			return nil, nil, err
		}
		return doc, info, nil
	}

	if req.Job.CrawlMode == types.CrawlModeList && req.Job.List != nil {
		records, ext, info, pages, err := crawlList(ctx, fetch, req.Job.TargetURL, req.FieldMap, req.Job.List, types.EngineBrowser)
		if err != nil {
			return transportFailure(result, err, started), nil
		}
		fillResult(result, info, ext, records, started)
		result.Meta.PagesFetched = pages
		e.captureSession(bctx, req, result)
		return result, nil
	}

	doc, info, err := fetch(ctx, req.Job.TargetURL)
	if err != nil {
		return transportFailure(result, err, started), nil
	}

	var records []types.Record
	ext := ExtractFields(doc, req.FieldMap)
	if info.Status >= 200 && info.Status < 300 && !ext.Empty() {
		records = append(records, buildRecord(ext, info.FinalURL, types.EngineBrowser, 0))
	}
	fillResult(result, info, ext, records, started)
	result.Meta.PagesFetched = 1
	e.captureSession(bctx, req, result)
	return result, nil
}

// newContext builds a browser context carrying the job's pinned profile
// and, when present, the pooled session's cookies and storage state.
func (e *BrowserEngine) newContext(req types.FetchRequest) (playwright.BrowserContext, error) {
	browser, err := e.connect()
	if err != nil {
		return nil, err
	}

	profile := req.Job.Profile
	if profile == nil {
		profile = GenerateProfile("")
	}
	opts := playwright.BrowserNewContextOptions{
		UserAgent:  playwright.String(profile.UserAgent),
		Viewport:   &playwright.Size{Width: profile.Viewport.Width, Height: profile.Viewport.Height},
		TimezoneId: playwright.String(profile.Timezone),
		Locale:     playwright.String(profile.Locale),
		ExtraHttpHeaders: map[string]string{
			"Accept-Language": AcceptLanguage(profile),
		},
	}
	if req.ProxyURL != "" {
		opts.Proxy = &playwright.Proxy{Server: req.ProxyURL}
	}

	var statePath string
	if req.Session != nil && len(req.Session.StorageState) > 0 {
		statePath, err = writeStorageState(req.Session.StorageState)
		if err != nil {
			return nil, err
		}
		opts.StorageStatePath = playwright.String(statePath)
	}

	bctx, err := browser.NewContext(opts)
	if statePath != "" {
		os.Remove(statePath)
	}
	if err != nil {
		return nil, err
	}

	if err := bctx.AddInitScript(playwright.Script{Content: playwright.String(stealthScript)}); err != nil {
		bctx.Close()
		return nil, err
	}

	if req.Session != nil && len(req.Session.Cookies) > 0 && len(req.Session.StorageState) == 0 {
		if err := bctx.AddCookies(replayCookies(req.Session.Cookies)); err != nil {
			bctx.Close()
			return nil, err
		}
	}
	return bctx, nil
}

// navigate drives one page load with humanized pacing, consent dismissal
// on the first load, and a short settle wait for script-rendered content.
func (e *BrowserEngine) navigate(ctx context.Context, page playwright.Page, pageURL string, dismissConsent bool) (*pageInfo, error) {
	if err := pause(ctx, preNavDelayMin, preNavDelayMax); err != nil {
		return nil, err
	}

	resp, err := page.Goto(pageURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		Timeout:   playwright.Float(float64(e.NavTimeout.Milliseconds())),
	})
	if err != nil {
		return nil, err
	}

	// Script-rendered pages keep painting after domcontentloaded. A short
	// settle wait; pages that never go idle still proceed.
	_ = page.WaitForLoadState(playwright.PageWaitForLoadStateOptions{
		State:   playwright.LoadStateNetworkidle,
		Timeout: playwright.Float(3000),
	})

	if dismissConsent {
		e.dismissConsent(ctx, page)
	}

	status := 0
	if resp != nil {
		status = resp.Status()
	}
	body, err := page.Content()
	if err != nil {
		return nil, err
	}
	return &pageInfo{
		FinalURL: page.URL(),
		Status:   status,
		Body:     body,
		Size:     len(body),
	}, nil
}

// dismissConsent clicks the first visible configured consent selector,
// with cursor movement and pacing around the click. Best effort.
func (e *BrowserEngine) dismissConsent(ctx context.Context, page playwright.Page) {
	for _, sel := range e.ConsentSelectors {
		loc := page.Locator(sel).First()
		visible, err := loc.IsVisible()
		if err != nil || !visible {
			continue
		}
		if err := pause(ctx, actionDelayMin, actionDelayMax); err != nil {
			return
		}
		_ = page.Mouse().Move(200+rand.Float64()*400, 200+rand.Float64()*300)
		if loc.Click(playwright.LocatorClickOptions{Timeout: playwright.Float(2000)}) == nil {
			_ = pause(ctx, actionDelayMin, actionDelayMax)
			return
		}
	}
}

// captureSession snapshots the context's cookies and storage state into
// the result for pool registration, on authenticated jobs only.
func (e *BrowserEngine) captureSession(bctx playwright.BrowserContext, req types.FetchRequest, result *types.FetchResult) {
	if !req.Job.RequiresAuth || !result.Succeeded() {
		return
	}

	state, err := bctx.StorageState()
	if err != nil {
		return
	}
	blob, err := json.Marshal(state)
	if err != nil {
		return
	}

	profile := req.Job.Profile
	if profile == nil {
		profile = GenerateProfile("")
	}
	sess := &types.BrowserSession{
		ID: uuid.New(),
		Key: types.SessionKey{
			Domain:        req.Job.Domain(),
			ProxyIdentity: req.ProxyIdentity,
		},
		Health:       types.SessionValid,
		StorageState: blob,
		UserAgent:    profile.UserAgent,
		Viewport:     profile.Viewport,
	}
	for _, c := range state.Cookies {
		sess.Cookies = append(sess.Cookies, types.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		})
	}
	result.CapturedSession = sess
}

func (e *BrowserEngine) connect() (playwright.Browser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browser != nil && e.browser.IsConnected() {
		return e.browser, nil
	}

	if e.pw == nil {
		pw, err := playwright.Run()
		if err != nil {
			return nil, fmt.Errorf("start playwright: %w", err)
		}
		e.pw = pw
	}

	var (
		browser playwright.Browser
		err     error
	)
	if e.WSEndpoint != "" {
		browser, err = e.pw.Chromium.Connect(e.WSEndpoint)
	} else {
		browser, err = e.pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
			Headless: playwright.Bool(e.Headless),
		})
	}
	if err != nil {
		return nil, fmt.Errorf("start chromium: %w", err)
	}
	e.browser = browser
	return browser, nil
}

// pause sleeps for a jittered duration inside [min, max), honoring
// cancellation.
func pause(ctx context.Context, min, max time.Duration) error {
	d := min + time.Duration(rand.Int63n(int64(max-min)))
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func replayCookies(cookies []types.Cookie) []playwright.OptionalCookie {
	out := make([]playwright.OptionalCookie, 0, len(cookies))
	for _, c := range cookies {
		oc := playwright.OptionalCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   playwright.String(c.Domain),
			Path:     playwright.String(c.Path),
			HttpOnly: playwright.Bool(c.HTTPOnly),
			Secure:   playwright.Bool(c.Secure),
		}
		if c.Expires != 0 {
			oc.Expires = playwright.Float(c.Expires)
		}
		out = append(out, oc)
	}
	return out
}

func writeStorageState(blob []byte) (string, error) {
	f, err := os.CreateTemp("", "ferret-state-*.json")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(blob); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
