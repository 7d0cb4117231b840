package engine

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/justapithecus/ferret/types"
)

// Consensus bonuses: agreement across independent evidence channels
// raises confidence without ever overriding a non-null primary value.
const (
	consensusTwoBonus   = 0.2
	consensusThreeBonus = 0.3
)

// fieldAliases maps common field names onto the keys the consensus
// channels use for the same concept.
var fieldAliases = map[string][]string{
	"title":       {"name", "headline", "og:title", "twitter:title"},
	"description": {"og:description", "twitter:description", "abstract"},
	"image":       {"og:image", "twitter:image", "thumbnailurl"},
	"price":       {"og:price:amount", "product:price:amount", "lowprice"},
	"url":         {"og:url"},
	"author":      {"creator", "og:article:author"},
}

// consensusSources holds flattened key/value evidence from each channel.
type consensusSources struct {
	jsonLD   map[string]string
	meta     map[string]string
	embedded map[string]string
}

// channels returns the per-channel values found for a field name.
func (c *consensusSources) channels(name string) map[string]string {
	out := make(map[string]string, 3)
	if v, ok := lookupAliased(c.jsonLD, name); ok {
		out["jsonld"] = v
	}
	if v, ok := lookupAliased(c.meta, name); ok {
		out["meta"] = v
	}
	if v, ok := lookupAliased(c.embedded, name); ok {
		out["embedded"] = v
	}
	return out
}

func lookupAliased(m map[string]string, name string) (string, bool) {
	if m == nil {
		return "", false
	}
	key := strings.ToLower(name)
	if v, ok := m[key]; ok {
		return v, true
	}
	for _, alias := range fieldAliases[key] {
		if v, ok := m[alias]; ok {
			return v, true
		}
	}
	return "", false
}

// collectConsensus harvests JSON-LD blocks, OpenGraph/Twitter meta tags
// and embedded hydration payloads from a parsed document.
func collectConsensus(doc *goquery.Document) *consensusSources {
	src := &consensusSources{
		jsonLD:   make(map[string]string),
		meta:     make(map[string]string),
		embedded: make(map[string]string),
	}

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		var payload any
		if err := json.Unmarshal([]byte(s.Text()), &payload); err != nil {
			return
		}
		flattenInto(src.jsonLD, "", payload, 0)
	})

	doc.Find(`meta[property], meta[name]`).Each(func(_ int, s *goquery.Selection) {
		key, ok := s.Attr("property")
		if !ok {
			key, _ = s.Attr("name")
		}
		content, _ := s.Attr("content")
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" || content == "" {
			return
		}
		if strings.HasPrefix(key, "og:") || strings.HasPrefix(key, "twitter:") ||
			strings.HasPrefix(key, "product:") {
			src.meta[key] = strings.TrimSpace(content)
		}
	})

	doc.Find(`script#__NEXT_DATA__`).Each(func(_ int, s *goquery.Selection) {
		var payload any
		if err := json.Unmarshal([]byte(s.Text()), &payload); err != nil {
			return
		}
		flattenInto(src.embedded, "", payload, 0)
	})

	return src
}

// flattenInto records scalar leaves by their lowercased terminal key.
// Depth is capped; hydration payloads can be arbitrarily deep.
func flattenInto(out map[string]string, key string, v any, depth int) {
	if depth > 6 {
		return
	}
	switch val := v.(type) {
	case map[string]any:
		for k, child := range val {
			flattenInto(out, strings.ToLower(k), child, depth+1)
		}
	case []any:
		for _, child := range val {
			flattenInto(out, key, child, depth+1)
		}
	case string:
		if key != "" && val != "" {
			if _, exists := out[key]; !exists {
				out[key] = strings.TrimSpace(val)
			}
		}
	case float64:
		if key != "" {
			if _, exists := out[key]; !exists {
				out[key] = strings.TrimSpace(trimFloat(val))
			}
		}
	}
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%.2f", f)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

// amplify applies consensus to a primary extraction: agreement raises
// confidence, and a null primary may be filled from a channel value.
func amplify(primary types.FieldValue, spec *types.SelectorSpec, src *consensusSources) types.FieldValue {
	if spec.All || src == nil {
		return primary
	}
	channels := src.channels(spec.Name)
	if len(channels) == 0 {
		return primary
	}

	// Count channels agreeing with each other (and with the primary
	// when it exists).
	reference := ""
	if primary.Value != nil {
		if s, ok := primary.Value.(string); ok {
			reference = normalizeForComparison(s)
		}
	}

	counts := make(map[string]int)
	for name, v := range channels {
		n := normalizeForComparison(v)
		counts[n]++
		_ = name
	}

	var best string
	bestCount := 0
	for v, n := range counts {
		if n > bestCount {
			best, bestCount = v, n
		}
	}

	agreeing := bestCount
	if reference != "" && reference == best {
		agreeing++
	}

	switch {
	case agreeing >= 3:
		primary.Confidence = clamp01(primary.Confidence + consensusThreeBonus)
		primary.Reasons = append(primary.Reasons, "3 consensus channels agree")
	case agreeing >= 2:
		primary.Confidence = clamp01(primary.Confidence + consensusTwoBonus)
		primary.Reasons = append(primary.Reasons, "2 consensus channels agree")
	}

	// Consensus fills a hole but never overrides a present primary.
	if primary.Value == nil && bestCount > 0 {
		for name, v := range channels {
			if normalizeForComparison(v) == best {
				parsed := ParseTyped(spec.Type, v)
				parsed.Sources = append(parsed.Sources, name)
				parsed.Reasons = append(parsed.Reasons, "primary selector empty, consensus value used")
				if bestCount >= 2 {
					parsed.Confidence = clamp01(parsed.Confidence + consensusTwoBonus)
				}
				return parsed
			}
		}
	}

	if len(channels) > 0 && primary.Value != nil {
		for name := range channels {
			primary.Sources = append(primary.Sources, name)
		}
	}
	return primary
}

func normalizeForComparison(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func clamp01(f float64) float64 {
	if f > 1 {
		return 1
	}
	if f < 0 {
		return 0
	}
	return f
}

// resolveURL resolves href against base, returning "" for unusable refs.
func resolveURL(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	h, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	resolved := b.ResolveReference(h)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	return resolved.String()
}
