package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/justapithecus/ferret/types"
)

// ErrKeyDepleted means every configured provider key is out of credits.
var ErrKeyDepleted = errors.New("engine: all provider keys depleted")

// creditsHeader is where the provider reports the key's remaining
// credit balance.
const creditsHeader = "X-Credits-Remaining"

// UsageRecorder receives per-key credit accounting. The store satisfies
// this.
type UsageRecorder interface {
	RecordKeyUsage(ctx context.Context, keyID string, cost int, creditsLeft int) error
}

// KeyRing rotates through provider API keys, skipping depleted ones.
type KeyRing struct {
	mu   sync.Mutex
	keys []ringKey
	next int
}

type ringKey struct {
	key    string
	id     string
	active bool
}

// NewKeyRing hashes each key into a non-secret id for accounting.
func NewKeyRing(keys []string) *KeyRing {
	r := &KeyRing{}
	for _, k := range keys {
		sum := sha256.Sum256([]byte(k))
		r.keys = append(r.keys, ringKey{key: k, id: hex.EncodeToString(sum[:8]), active: true})
	}
	return r
}

// Pick returns the next active key. ErrKeyDepleted when none remain.
func (r *KeyRing) Pick() (key, id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for range r.keys {
		rk := &r.keys[r.next%len(r.keys)]
		r.next++
		if rk.active {
			return rk.key, rk.id, nil
		}
	}
	return "", "", ErrKeyDepleted
}

// Deplete deactivates a key that ran out of credits.
func (r *KeyRing) Deplete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.keys {
		if r.keys[i].id == id {
			r.keys[i].active = false
		}
	}
}

// Active reports whether any key still has credit.
func (r *KeyRing) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.keys {
		if r.keys[i].active {
			return true
		}
	}
	return false
}

// ProviderEngine is tier 3: one HTTPS call to a commercial fetch service
// that renders the page remotely through premium egress. Most capable,
// most expensive, charged per call.
type ProviderEngine struct {
	Client  *http.Client
	BaseURL string
	Country string
	Ring    *KeyRing
	Usage   UsageRecorder
}

// NewProviderEngine builds the tier. usage may be nil.
func NewProviderEngine(baseURL string, keys []string, country string, timeout time.Duration, usage UsageRecorder) *ProviderEngine {
	if baseURL == "" {
		baseURL = "https://app.scrapingbee.com/api/v1"
	}
	if country == "" {
		country = "us"
	}
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &ProviderEngine{
		Client:  &http.Client{Timeout: timeout},
		BaseURL: baseURL,
		Country: country,
		Ring:    NewKeyRing(keys),
		Usage:   usage,
	}
}

// Name implements Engine.
func (e *ProviderEngine) Name() types.Engine { return types.EngineProvider }

// FetchAndExtract implements Engine. List mode runs through the same
// remote-fetch path page by page.
func (e *ProviderEngine) FetchAndExtract(ctx context.Context, req types.FetchRequest) (*types.FetchResult, error) {
	if req.Job == nil || req.FieldMap == nil {
		return nil, fmt.Errorf("provider engine: job and field map are required")
	}

	started := time.Now()
	result := &types.FetchResult{
		Meta: types.EngineMetadata{Engine: types.EngineProvider, CreditsLeft: -1},
	}

	fetch := func(ctx context.Context, pageURL string) (*goquery.Document, *pageInfo, error) {
		return e.fetchOne(ctx, pageURL, result)
	}

	if req.Job.CrawlMode == types.CrawlModeList && req.Job.List != nil {
		records, ext, info, pages, err := crawlList(ctx, fetch, req.Job.TargetURL, req.FieldMap, req.Job.List, types.EngineProvider)
		if err != nil {
			if errors.Is(err, ErrKeyDepleted) {
				return nil, err
			}
			return transportFailure(result, err, started), nil
		}
		fillResult(result, info, ext, records, started)
		result.Meta.PagesFetched = pages
		return result, nil
	}

	doc, info, err := e.fetchOne(ctx, req.Job.TargetURL, result)
	if err != nil {
		if errors.Is(err, ErrKeyDepleted) {
			return nil, err
		}
		return transportFailure(result, err, started), nil
	}

	var records []types.Record
	ext := ExtractFields(doc, req.FieldMap)
	if info.Status >= 200 && info.Status < 300 && !ext.Empty() {
		records = append(records, buildRecord(ext, info.FinalURL, types.EngineProvider, 0))
	}
	fillResult(result, info, ext, records, started)
	result.Meta.PagesFetched = 1
	return result, nil
}

// fetchOne issues one provider call with render_js and premium egress,
// charging and accounting the key used.
func (e *ProviderEngine) fetchOne(ctx context.Context, pageURL string, result *types.FetchResult) (*goquery.Document, *pageInfo, error) {
	key, keyID, err := e.Ring.Pick()
	if err != nil {
		return nil, nil, err
	}

	params := url.Values{}
	params.Set("api_key", key)
	params.Set("url", pageURL)
	params.Set("render_js", "true")
	params.Set("premium_proxy", "true")
	params.Set("country_code", e.Country)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, e.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, nil, err
	}

	resp, err := e.Client.Do(httpReq)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, nil, err
	}

	creditsLeft := -1
	if v := resp.Header.Get(creditsHeader); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			creditsLeft = n
		}
	}
	result.Meta.CreditsLeft = creditsLeft
	result.Meta.ProviderKeyID = keyID
	if e.Usage != nil {
		// Accounting is best effort; a failed write never sinks the
		// fetch that already cost credits.
		_ = e.Usage.RecordKeyUsage(ctx, keyID, 1, creditsLeft)
	}
	if creditsLeft == 0 {
		e.Ring.Deplete(keyID)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, nil, err
	}
	return doc, &pageInfo{
		FinalURL: pageURL,
		Status:   resp.StatusCode,
		Body:     string(body),
		Size:     len(body),
	}, nil
}
