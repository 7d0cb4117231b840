// Package engine holds the three extraction tiers behind one contract:
// fetch a page, apply the field map, and report what was observed.
package engine

import (
	"context"

	"github.com/justapithecus/ferret/types"
)

// Engine is the uniform tier contract. Implementations never classify;
// they fetch, extract, and report observations. Errors are reserved for
// conditions with no observation at all (bad input, engine crash);
// transport failures come back as a result with NetworkError or Timeout
// signals set.
type Engine interface {
	Name() types.Engine
	FetchAndExtract(ctx context.Context, req types.FetchRequest) (*types.FetchResult, error)
}

// bodySampleLimit caps how much body is retained for signal detection
// and snapshots.
const bodySampleLimit = 64 * 1024

func sample(body string) string {
	if len(body) > bodySampleLimit {
		return body[:bodySampleLimit]
	}
	return body
}

// buildRecord shapes one page's extraction into a record. Run and job
// ids are stamped by the executor at commit time.
func buildRecord(ext *Extraction, sourceURL string, eng types.Engine, ordinal int) types.Record {
	return types.Record{
		Ordinal:   ordinal,
		Fields:    ext.Fields,
		SourceURL: sourceURL,
		Engine:    eng,
	}
}
