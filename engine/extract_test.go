package engine

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"github.com/justapithecus/ferret/types"
)

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return doc
}

func TestExtractFieldsBasicSelectors(t *testing.T) {
	doc := mustDoc(t, `<html><body>
		<h1 class="name">  Acme   Widget </h1>
		<a class="site" href="https://acme.example">site</a>
		<span class="phone">(555) 123-4567</span>
	</body></html>`)

	fm := &types.FieldMap{Fields: []types.SelectorSpec{
		{Name: "name", CSS: "h1.name", Required: true},
		{Name: "website", CSS: "a.site", Attr: "href", Type: types.FieldURL},
		{Name: "phone", CSS: "span.phone", Type: types.FieldPhone},
	}}

	ext := ExtractFields(doc, fm)
	if ext.RequiredMissing {
		t.Fatal("nothing required is missing")
	}
	if got := ext.Fields["name"].Value; got != "Acme Widget" {
		t.Errorf("name: got %v, want whitespace-normalized text", got)
	}
	if got := ext.Fields["website"].Value; got != "https://acme.example" {
		t.Errorf("website: got %v", got)
	}
	if got := ext.Fields["phone"].Value; got != "+15551234567" {
		t.Errorf("phone: got %v", got)
	}
}

func TestExtractFieldsRequiredMissing(t *testing.T) {
	doc := mustDoc(t, `<html><body><p>no matching nodes here</p></body></html>`)
	fm := &types.FieldMap{Fields: []types.SelectorSpec{
		{Name: "name", CSS: "h1.name", Required: true},
		{Name: "blurb", CSS: "p.blurb"},
	}}

	ext := ExtractFields(doc, fm)
	if !ext.RequiredMissing {
		t.Fatal("required field with no match should flag RequiredMissing")
	}
	if !ext.Empty() {
		t.Fatal("no field produced a value")
	}
}

func TestExtractFieldsLowConfidenceRequired(t *testing.T) {
	doc := mustDoc(t, `<html><body><span class="phone">12345</span></body></html>`)
	fm := &types.FieldMap{Fields: []types.SelectorSpec{
		{Name: "phone", CSS: "span.phone", Type: types.FieldPhone, Required: true},
	}}

	ext := ExtractFields(doc, fm)
	if ext.RequiredMissing {
		t.Fatal("a low-confidence value is still a value")
	}
	if len(ext.LowConfidenceFields) != 1 || ext.LowConfidenceFields[0] != "phone" {
		t.Fatalf("got %v, want [phone]", ext.LowConfidenceFields)
	}
}

func TestExtractFieldsRegexCaptureGroup(t *testing.T) {
	doc := mustDoc(t, `<html><body><span id="sku">SKU: AB-9912</span></body></html>`)
	fm := &types.FieldMap{Fields: []types.SelectorSpec{
		{Name: "sku", CSS: "#sku", Regex: `SKU:\s*([A-Z0-9-]+)`},
	}}

	ext := ExtractFields(doc, fm)
	if got := ext.Fields["sku"].Value; got != "AB-9912" {
		t.Fatalf("got %v, want first capture group", got)
	}
}

func TestExtractFieldsAllCollectsEveryMatch(t *testing.T) {
	doc := mustDoc(t, `<html><body>
		<li class="tag">alpha</li><li class="tag">beta</li><li class="tag">gamma</li>
	</body></html>`)
	fm := &types.FieldMap{Fields: []types.SelectorSpec{
		{Name: "tags", CSS: "li.tag", All: true},
	}}

	ext := ExtractFields(doc, fm)
	got, ok := ext.Fields["tags"].Value.([]string)
	if !ok {
		t.Fatalf("multi-value field should be []string, got %T", ext.Fields["tags"].Value)
	}
	if len(got) != 3 || got[0] != "alpha" || got[2] != "gamma" {
		t.Fatalf("got %v", got)
	}
}

func TestResolveLinksDedupesAndResolves(t *testing.T) {
	doc := mustDoc(t, `<html><body>
		<a class="item" href="/p/1">one</a>
		<a class="item" href="/p/2">two</a>
		<a class="item" href="https://shop.example/p/1">one again</a>
		<a class="item" href="mailto:x@example.com">mail</a>
		<a class="item">no href</a>
	</body></html>`)

	links := ResolveLinks(doc, types.SelectorRef{CSS: "a.item"}, "https://shop.example/list")
	want := []string{"https://shop.example/p/1", "https://shop.example/p/2"}
	if len(links) != len(want) {
		t.Fatalf("got %v, want %v", links, want)
	}
	for i := range want {
		if links[i] != want[i] {
			t.Fatalf("got %v, want %v", links, want)
		}
	}
}
