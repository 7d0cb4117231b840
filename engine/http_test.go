package engine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/justapithecus/ferret/types"
)

func singleJob(target string) *types.Job {
	return &types.Job{
		Name:      "test-job",
		TargetURL: target,
		CrawlMode: types.CrawlModeSingle,
	}
}

func titleFieldMap() *types.FieldMap {
	return &types.FieldMap{Fields: []types.SelectorSpec{
		{Name: "title", CSS: "h1", Required: true},
	}}
}

func TestHTTPEngineExtractsStaticPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Example Domain</title></head>
			<body><h1>Example Domain</h1><p>for illustrative examples</p></body></html>`))
	}))
	defer srv.Close()

	eng := NewHTTPEngine("", time.Second)
	res, err := eng.FetchAndExtract(context.Background(), types.FetchRequest{
		Job: singleJob(srv.URL), FieldMap: titleFieldMap(),
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("expected success, status=%d records=%d", res.StatusCode, len(res.Records))
	}
	if got := res.Records[0].Fields["title"].Value; got != "Example Domain" {
		t.Fatalf("title: got %v", got)
	}
	if res.Records[0].Engine != types.EngineHTTP {
		t.Fatalf("record engine: got %v", res.Records[0].Engine)
	}
	if res.Meta.PagesFetched != 1 {
		t.Fatalf("pages fetched: got %d", res.Meta.PagesFetched)
	}
}

func TestHTTPEngineSendsProfileUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte(`<html><body><h1>x</h1></body></html>`))
	}))
	defer srv.Close()

	job := singleJob(srv.URL)
	job.Profile = &types.BrowserProfile{UserAgent: "pinned-agent/1.0"}

	eng := NewHTTPEngine("", time.Second)
	if _, err := eng.FetchAndExtract(context.Background(), types.FetchRequest{Job: job, FieldMap: titleFieldMap()}); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotUA != "pinned-agent/1.0" {
		t.Fatalf("user agent: got %q", gotUA)
	}
}

func TestHTTPEngineDetectsBlockPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`<html><body><h2>Access Denied</h2>
			<p>You don't have permission to access this resource.</p></body></html>`))
	}))
	defer srv.Close()

	eng := NewHTTPEngine("", time.Second)
	res, err := eng.FetchAndExtract(context.Background(), types.FetchRequest{
		Job: singleJob(srv.URL), FieldMap: titleFieldMap(),
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status: got %d", res.StatusCode)
	}
	if !res.Signals.Blocked {
		t.Fatal("block markers should be detected")
	}
	if len(res.Records) != 0 {
		t.Fatalf("blocked page should yield no records, got %d", len(res.Records))
	}
}

func TestHTTPEngineDetectsJSAppShell(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><div id="root"></div>
			<script id="__NEXT_DATA__" type="application/json">{"props":{}}</script>
			</body></html>`))
	}))
	defer srv.Close()

	eng := NewHTTPEngine("", time.Second)
	res, err := eng.FetchAndExtract(context.Background(), types.FetchRequest{
		Job: singleJob(srv.URL), FieldMap: titleFieldMap(),
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !res.Signals.JSApp {
		t.Fatal("hydration marker should flag a script-rendered app")
	}
	if len(res.Records) != 0 {
		t.Fatal("empty shell should yield no records")
	}
}

func TestHTTPEngineTimeoutSignal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	eng := NewHTTPEngine("", 50*time.Millisecond)
	res, err := eng.FetchAndExtract(context.Background(), types.FetchRequest{
		Job: singleJob(srv.URL), FieldMap: titleFieldMap(),
	})
	if err != nil {
		t.Fatalf("transport failures are observations, not errors: %v", err)
	}
	if !res.Signals.Timeout {
		t.Fatalf("expected timeout signal, got %+v", res.Signals)
	}
}

func TestHTTPEngineNetworkErrorSignal(t *testing.T) {
	eng := NewHTTPEngine("", time.Second)
	res, err := eng.FetchAndExtract(context.Background(), types.FetchRequest{
		Job: singleJob("http://127.0.0.1:1/unreachable"), FieldMap: titleFieldMap(),
	})
	if err != nil {
		t.Fatalf("transport failures are observations, not errors: %v", err)
	}
	if !res.Signals.NetworkError {
		t.Fatalf("expected network error signal, got %+v", res.Signals)
	}
}

func TestHTTPEngineRejectsMissingInputs(t *testing.T) {
	eng := NewHTTPEngine("", time.Second)
	if _, err := eng.FetchAndExtract(context.Background(), types.FetchRequest{}); err == nil {
		t.Fatal("expected an error without job and field map")
	}
}
