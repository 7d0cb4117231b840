package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/justapithecus/ferret/types"
)

// listSite serves a two-page listing with three item pages.
func listSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `<html><body>
				<a class="item" href="/item/3">three</a>
			</body></html>`)
			return
		}
		fmt.Fprint(w, `<html><body>
			<a class="item" href="/item/1">one</a>
			<a class="item" href="/item/2">two</a>
			<a class="next" href="/list?page=2">next</a>
		</body></html>`)
	})
	mux.HandleFunc("/item/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><body><h1>Item %s</h1></body></html>`, r.URL.Path[len("/item/"):])
	})
	return httptest.NewServer(mux)
}

func listJob(target string, maxPages, maxItems int) *types.Job {
	return &types.Job{
		Name:      "list-job",
		TargetURL: target,
		CrawlMode: types.CrawlModeList,
		List: &types.ListConfig{
			ItemLinks:  types.SelectorRef{CSS: "a.item"},
			Pagination: &types.SelectorRef{CSS: "a.next"},
			MaxPages:   maxPages,
			MaxItems:   maxItems,
		},
	}
}

func TestListModeCrawlsItemsAndPaginates(t *testing.T) {
	srv := listSite(t)
	defer srv.Close()

	eng := NewHTTPEngine("", time.Second)
	res, err := eng.FetchAndExtract(context.Background(), types.FetchRequest{
		Job: listJob(srv.URL+"/list", 2, 10), FieldMap: titleFieldMap(),
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(res.Records) != 3 {
		t.Fatalf("records: got %d, want 3", len(res.Records))
	}
	for i, rec := range res.Records {
		if rec.Ordinal != i {
			t.Errorf("record %d: ordinal %d", i, rec.Ordinal)
		}
	}
	if got := res.Records[2].Fields["title"].Value; got != "Item 3" {
		t.Fatalf("third record title: got %v", got)
	}
	// Two listing pages plus three item pages.
	if res.Meta.PagesFetched != 5 {
		t.Fatalf("pages fetched: got %d, want 5", res.Meta.PagesFetched)
	}
}

func TestListModeHonorsMaxItems(t *testing.T) {
	srv := listSite(t)
	defer srv.Close()

	eng := NewHTTPEngine("", time.Second)
	res, err := eng.FetchAndExtract(context.Background(), types.FetchRequest{
		Job: listJob(srv.URL+"/list", 2, 1), FieldMap: titleFieldMap(),
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("records: got %d, want 1", len(res.Records))
	}
}

func TestListModeZeroMaxItemsExtractsNothing(t *testing.T) {
	srv := listSite(t)
	defer srv.Close()

	eng := NewHTTPEngine("", time.Second)
	res, err := eng.FetchAndExtract(context.Background(), types.FetchRequest{
		Job: listJob(srv.URL+"/list", 2, 0), FieldMap: titleFieldMap(),
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(res.Records) != 0 {
		t.Fatalf("records: got %d, want 0", len(res.Records))
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("listing status should still be reported, got %d", res.StatusCode)
	}
	if res.Meta.PagesFetched != 1 {
		t.Fatalf("only the listing should be fetched, got %d", res.Meta.PagesFetched)
	}
}

func TestListModeSkipsBadItemPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<a class="item" href="/item/broken">broken</a>
			<a class="item" href="/item/ok">ok</a>
		</body></html>`)
	})
	mux.HandleFunc("/item/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	mux.HandleFunc("/item/ok", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><h1>Survivor</h1></body></html>`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	job := listJob(srv.URL+"/list", 1, 10)
	job.List.Pagination = nil

	eng := NewHTTPEngine("", time.Second)
	res, err := eng.FetchAndExtract(context.Background(), types.FetchRequest{
		Job: job, FieldMap: titleFieldMap(),
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("records: got %d, want 1", len(res.Records))
	}
	if got := res.Records[0].Fields["title"].Value; got != "Survivor" {
		t.Fatalf("got %v", got)
	}
}

func TestListModeNonOKListingStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `<html><body>rate limited</body></html>`)
	}))
	defer srv.Close()

	eng := NewHTTPEngine("", time.Second)
	res, err := eng.FetchAndExtract(context.Background(), types.FetchRequest{
		Job: listJob(srv.URL+"/list", 2, 10), FieldMap: titleFieldMap(),
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status: got %d", res.StatusCode)
	}
	if len(res.Records) != 0 {
		t.Fatal("no items should be fetched from a failed listing")
	}
}
