package engine

import (
	"context"

	"github.com/PuerkitoBio/goquery"

	"github.com/justapithecus/ferret/types"
)

// pageInfo is what a tier observed fetching one URL.
type pageInfo struct {
	FinalURL string
	Status   int
	Body     string
	Size     int
}

// fetchPage fetches and parses one URL. A non-nil error means no
// response was observed at all.
type fetchPage func(ctx context.Context, url string) (*goquery.Document, *pageInfo, error)

// crawlList drives list-mode extraction over any tier's fetchPage:
// resolve item links from the listing, follow each up to max-items, and
// paginate up to max-pages. The listing page's info is returned so the
// caller can attach status and signals to the result.
func crawlList(ctx context.Context, fetch fetchPage, startURL string, fm *types.FieldMap, lc *types.ListConfig, eng types.Engine) ([]types.Record, *Extraction, *pageInfo, int, error) {
	pages := 0
	listPages := 0
	itemsFetched := 0
	var records []types.Record
	agg := &Extraction{Fields: map[string]types.FieldValue{}}

	pageURL := startURL
	var listingInfo *pageInfo

	for {
		doc, info, err := fetch(ctx, pageURL)
		if err != nil {
			return nil, nil, listingInfo, pages, err
		}
		pages++
		listPages++
		if listingInfo == nil {
			listingInfo = info
		}
		if info.Status < 200 || info.Status >= 300 {
			return records, agg, listingInfo, pages, nil
		}

		// A zero item cap means crawl the listing but extract nothing.
		if lc.MaxItems == 0 {
			return records, agg, listingInfo, pages, nil
		}

		links := ResolveLinks(doc, lc.ItemLinks, info.FinalURL)
		for _, link := range links {
			if itemsFetched >= lc.MaxItems {
				return records, agg, listingInfo, pages, nil
			}

			itemDoc, itemInfo, err := fetch(ctx, link)
			if err != nil || itemInfo.Status < 200 || itemInfo.Status >= 300 {
				// One bad item page does not sink the crawl.
				continue
			}
			pages++
			itemsFetched++

			ext := ExtractFields(itemDoc, fm)
			mergeSignals(agg, ext)
			if !ext.Empty() {
				records = append(records, buildRecord(ext, itemInfo.FinalURL, eng, len(records)))
			}
		}

		if lc.Pagination == nil || listPages >= lc.Pages() {
			return records, agg, listingInfo, pages, nil
		}
		next := firstLink(doc, *lc.Pagination, info.FinalURL)
		if next == "" {
			return records, agg, listingInfo, pages, nil
		}
		pageURL = next
	}
}

// mergeSignals folds per-item extraction quality into the aggregate the
// classifier sees.
func mergeSignals(agg, ext *Extraction) {
	if ext.RequiredMissing {
		agg.RequiredMissing = true
	}
	agg.LowConfidenceFields = append(agg.LowConfidenceFields, ext.LowConfidenceFields...)
}

// firstLink resolves the first match of a selector ref, for pagination.
func firstLink(doc *goquery.Document, ref types.SelectorRef, base string) string {
	links := ResolveLinks(doc, ref, base)
	if len(links) == 0 {
		return ""
	}
	return links[0]
}
