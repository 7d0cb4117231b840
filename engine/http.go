package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/justapithecus/ferret/classifier"
	"github.com/justapithecus/ferret/types"
)

// DefaultUserAgent is presented by the HTTP tier when no profile or
// config overrides it.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// HTTPEngine is tier 1: a plain HTTP fetch plus static HTML parsing.
// Cheapest, fastest, and defeated by anything that needs a script
// runtime.
type HTTPEngine struct {
	Client    *http.Client
	UserAgent string
	Timeout   time.Duration
}

// NewHTTPEngine builds the tier with a redirect-following client.
func NewHTTPEngine(userAgent string, timeout time.Duration) *HTTPEngine {
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	if timeout == 0 {
		timeout = 20 * time.Second
	}
	return &HTTPEngine{
		Client:    &http.Client{Timeout: timeout},
		UserAgent: userAgent,
		Timeout:   timeout,
	}
}

// Name implements Engine.
func (e *HTTPEngine) Name() types.Engine { return types.EngineHTTP }

// FetchAndExtract implements Engine.
func (e *HTTPEngine) FetchAndExtract(ctx context.Context, req types.FetchRequest) (*types.FetchResult, error) {
	if req.Job == nil || req.FieldMap == nil {
		return nil, fmt.Errorf("http engine: job and field map are required")
	}

	client := e.Client
	if req.ProxyURL != "" {
		proxied, err := e.proxiedClient(req.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("http engine: %w", err)
		}
		client = proxied
	}

	started := time.Now()
	fetch := func(ctx context.Context, pageURL string) (*goquery.Document, *pageInfo, error) {
		return e.fetchOne(ctx, client, pageURL, req)
	}

	result := &types.FetchResult{
		Meta: types.EngineMetadata{Engine: types.EngineHTTP, CreditsLeft: -1},
	}

	if req.Job.CrawlMode == types.CrawlModeList && req.Job.List != nil {
		records, ext, info, pages, err := crawlList(ctx, fetch, req.Job.TargetURL, req.FieldMap, req.Job.List, types.EngineHTTP)
		if err != nil {
			return transportFailure(result, err, started), nil
		}
		fillResult(result, info, ext, records, started)
		result.Meta.PagesFetched = pages
		return result, nil
	}

	doc, info, err := e.fetchOne(ctx, client, req.Job.TargetURL, req)
	if err != nil {
		return transportFailure(result, err, started), nil
	}

	var records []types.Record
	ext := ExtractFields(doc, req.FieldMap)
	if info.Status >= 200 && info.Status < 300 && !ext.Empty() {
		records = append(records, buildRecord(ext, info.FinalURL, types.EngineHTTP, 0))
	}
	fillResult(result, info, ext, records, started)
	result.Meta.PagesFetched = 1
	return result, nil
}

// fetchOne performs one GET with charset-aware decoding.
func (e *HTTPEngine) fetchOne(ctx context.Context, client *http.Client, pageURL string, req types.FetchRequest) (*goquery.Document, *pageInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, nil, err
	}
	httpReq.Header.Set("User-Agent", e.userAgentFor(req))
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	// Decode by declared charset before parsing; mislabeled legacy
	// encodings otherwise corrupt extracted text.
	reader, err := charset.NewReader(resp.Body, resp.Header.Get("Content-Type"))
	if err != nil {
		reader = resp.Body
	}
	body, err := io.ReadAll(io.LimitReader(reader, 10<<20))
	if err != nil {
		return nil, nil, err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, nil, err
	}

	finalURL := pageURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return doc, &pageInfo{
		FinalURL: finalURL,
		Status:   resp.StatusCode,
		Body:     string(body),
		Size:     len(body),
	}, nil
}

func (e *HTTPEngine) userAgentFor(req types.FetchRequest) string {
	if req.Job.Profile != nil && req.Job.Profile.UserAgent != "" {
		return req.Job.Profile.UserAgent
	}
	return e.UserAgent
}

func (e *HTTPEngine) proxiedClient(proxyURL string) (*http.Client, error) {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}
	return &http.Client{
		Timeout:   e.Timeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(parsed)},
	}, nil
}

// transportFailure shapes a no-response error into signals the
// classifier can act on.
func transportFailure(result *types.FetchResult, err error, started time.Time) *types.FetchResult {
	result.Meta.Duration = time.Since(started)
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) || isTimeout(err) {
		result.Signals.Timeout = true
	} else {
		result.Signals.NetworkError = true
	}
	return result
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// fillResult attaches page observations, detected signals and records.
func fillResult(result *types.FetchResult, info *pageInfo, ext *Extraction, records []types.Record, started time.Time) {
	if info != nil {
		result.StatusCode = info.Status
		result.BodySize = info.Size
		result.BodySample = sample(info.Body)
		result.Meta.FinalURL = info.FinalURL
		result.Signals = classifier.DetectSignals(result.BodySample)
	}
	result.Records = records
	if ext != nil {
		result.Signals.LowConfidenceFields = ext.LowConfidenceFields
		result.RequiredMissing = ext.RequiredMissing
	}
	result.Meta.Duration = time.Since(started)
}
