package engine

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/justapithecus/ferret/types"
)

// Extraction is one page's worth of field extraction plus the quality
// signals the classifier needs.
type Extraction struct {
	Fields map[string]types.FieldValue

	// RequiredMissing is true when at least one required field produced
	// no value at all.
	RequiredMissing bool

	// LowConfidenceFields lists required typed fields whose confidence
	// fell below ConfidenceThreshold.
	LowConfidenceFields []string
}

// Empty reports whether no field produced a value.
func (e *Extraction) Empty() bool {
	for _, v := range e.Fields {
		if v.Value != nil {
			return false
		}
	}
	return true
}

// ExtractFields applies a field map to a parsed document. The same code
// runs under every tier so a given DOM always yields the same values.
func ExtractFields(doc *goquery.Document, fm *types.FieldMap) *Extraction {
	ext := &Extraction{Fields: make(map[string]types.FieldValue, len(fm.Fields))}
	consensus := collectConsensus(doc)

	for i := range fm.Fields {
		spec := &fm.Fields[i]
		value := extractOne(doc, spec)
		value = amplify(value, spec, consensus)
		ext.Fields[spec.Name] = value

		if spec.Required {
			if value.Value == nil {
				ext.RequiredMissing = true
			} else if spec.Type != types.FieldText && value.Confidence < ConfidenceThreshold {
				ext.LowConfidenceFields = append(ext.LowConfidenceFields, spec.Name)
			}
		}
	}
	return ext
}

// extractOne runs the selector semantics for a single spec: select, take
// attr or normalized text, optionally regex, optionally typed-parse.
func extractOne(doc *goquery.Document, spec *types.SelectorSpec) types.FieldValue {
	sel := doc.Find(spec.CSS)
	if sel.Length() == 0 {
		return types.FieldValue{Confidence: 0}
	}
	if !spec.All {
		sel = sel.First()
	}

	var raws []string
	sel.Each(func(_ int, s *goquery.Selection) {
		raw := nodeValue(s, spec.Attr)
		if spec.Regex != "" {
			matched, ok := applyRegex(spec.Regex, raw)
			if !ok {
				return
			}
			raw = matched
		}
		if raw != "" {
			raws = append(raws, raw)
		}
	})
	if len(raws) == 0 {
		return types.FieldValue{Confidence: 0}
	}

	if spec.All {
		// Multi-value fields stay raw strings; typed parsing applies to
		// scalars only.
		return types.FieldValue{Value: raws, Raw: strings.Join(raws, "\n"), Confidence: 1.0}
	}
	return ParseTyped(spec.Type, raws[0])
}

// nodeValue extracts an attribute or whitespace-normalized text.
func nodeValue(s *goquery.Selection, attr string) string {
	if attr != "" {
		v, _ := s.Attr(attr)
		return strings.TrimSpace(v)
	}
	return normalizeText(s.Text())
}

// normalizeText collapses runs of whitespace and trims.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// applyRegex applies a post-extraction regex: first capture group when
// present, the whole match otherwise. No match yields nothing.
func applyRegex(pattern, raw string) (string, bool) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", false
	}
	groups := re.FindStringSubmatch(raw)
	if groups == nil {
		return "", false
	}
	if len(groups) > 1 && groups[1] != "" {
		return groups[1], true
	}
	return groups[0], true
}

// ResolveLinks applies an item-links selector and resolves hrefs against
// the document's base URL, deduplicating while preserving first
// occurrence. Used by list mode.
func ResolveLinks(doc *goquery.Document, ref types.SelectorRef, base string) []string {
	attr := ref.Attr
	if attr == "" {
		attr = "href"
	}

	seen := make(map[string]struct{})
	var links []string
	doc.Find(ref.CSS).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr(attr)
		if !ok || href == "" {
			return
		}
		resolved := resolveURL(base, href)
		if resolved == "" {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		links = append(links, resolved)
	})
	return links
}
