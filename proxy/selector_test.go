package proxy

import (
	"testing"

	"github.com/justapithecus/ferret/config"
)

func testConfig() map[string]config.ProxyIdentityConfig {
	return map[string]config.ProxyIdentityConfig{
		"datacenter-1":  {URL: "http://dc1.proxy.example:8080"},
		"residential-1": {URL: "http://res1.proxy.example:8080", Sticky: []string{"shop.example"}},
	}
}

func TestSelectStickySuffixWins(t *testing.T) {
	s := NewSelector(testConfig())

	name, url := s.Select("shop.example")
	if name != "residential-1" || url != "http://res1.proxy.example:8080" {
		t.Fatalf("got %q %q", name, url)
	}
	name, _ = s.Select("www.shop.example")
	if name != "residential-1" {
		t.Fatalf("subdomain should match sticky suffix, got %q", name)
	}
}

func TestSelectAssignmentIsStable(t *testing.T) {
	s := NewSelector(testConfig())

	first, _ := s.Select("other.example")
	for i := 0; i < 5; i++ {
		name, _ := s.Select("other.example")
		if name != first {
			t.Fatalf("assignment changed: %q then %q", first, name)
		}
	}
}

func TestSelectRoundRobinsNewDomains(t *testing.T) {
	s := NewSelector(testConfig())

	a, _ := s.Select("a.example")
	b, _ := s.Select("b.example")
	if a == b {
		t.Fatalf("consecutive new domains should rotate, both got %q", a)
	}
}

func TestSelectNoIdentitiesMeansDirect(t *testing.T) {
	s := NewSelector(nil)
	name, url := s.Select("anything.example")
	if name != "" || url != "" {
		t.Fatalf("got %q %q, want direct egress", name, url)
	}
}

func TestURLLookup(t *testing.T) {
	s := NewSelector(testConfig())
	if got := s.URL("datacenter-1"); got != "http://dc1.proxy.example:8080" {
		t.Fatalf("got %q", got)
	}
	if got := s.URL("unknown"); got != "" {
		t.Fatalf("unknown identity should be empty, got %q", got)
	}
}
