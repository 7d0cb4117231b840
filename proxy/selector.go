// Package proxy assigns egress identities to domains. Identities are
// opaque labels from configuration; stickiness keeps a domain on the
// same egress so sessions stay tied to one exit address.
package proxy

import (
	"sort"
	"strings"
	"sync"

	"github.com/justapithecus/ferret/config"
)

// Selector hands out proxy identities. Thread-safe.
type Selector struct {
	mu          sync.Mutex
	identities  []identity
	assignments map[string]string
	rrIndex     int
}

type identity struct {
	name   string
	url    string
	sticky []string
}

// NewSelector builds a selector from the configured identity map.
// Identity order is sorted by name so assignment is deterministic.
func NewSelector(cfg map[string]config.ProxyIdentityConfig) *Selector {
	s := &Selector{assignments: make(map[string]string)}
	names := make([]string, 0, len(cfg))
	for name := range cfg {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ic := cfg[name]
		s.identities = append(s.identities, identity{
			name:   name,
			url:    ic.URL,
			sticky: ic.Sticky,
		})
	}
	return s
}

// Select returns the identity label and egress URL for a domain.
// Precedence: configured sticky suffix, then an existing assignment,
// then round-robin. The chosen identity sticks to the domain for the
// selector's lifetime. Both values are empty when no identities are
// configured, which means direct egress.
func (s *Selector) Select(domain string) (name, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.identities) == 0 {
		return "", ""
	}

	for _, id := range s.identities {
		for _, suffix := range id.sticky {
			if matchesSuffix(domain, suffix) {
				s.assignments[domain] = id.name
				return id.name, id.url
			}
		}
	}

	if assigned, ok := s.assignments[domain]; ok {
		for _, id := range s.identities {
			if id.name == assigned {
				return id.name, id.url
			}
		}
	}

	id := s.identities[s.rrIndex%len(s.identities)]
	s.rrIndex++
	s.assignments[domain] = id.name
	return id.name, id.url
}

// URL returns the egress URL for a known identity label, "" otherwise.
func (s *Selector) URL(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.identities {
		if id.name == name {
			return id.url
		}
	}
	return ""
}

// Assignments returns a copy of the current domain assignments.
func (s *Selector) Assignments() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.assignments))
	for k, v := range s.assignments {
		out[k] = v
	}
	return out
}

// matchesSuffix reports whether domain equals suffix or is a subdomain
// of it.
func matchesSuffix(domain, suffix string) bool {
	if domain == suffix {
		return true
	}
	return strings.HasSuffix(domain, "."+suffix)
}
