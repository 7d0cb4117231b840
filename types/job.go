package types

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Job is the durable description of what to scrape and how. The executor
// treats jobs as read-only.
type Job struct {
	ID         uuid.UUID  `db:"id" json:"id"`
	Name       string     `db:"name" json:"name"`
	TargetURL  string     `db:"target_url" json:"target_url"`
	EngineMode EngineMode `db:"engine_mode" json:"engine_mode"`
	CrawlMode  CrawlMode  `db:"crawl_mode" json:"crawl_mode"`

	// RequiresAuth pins the run to the browser tier so a pooled session
	// can be attached.
	RequiresAuth bool `db:"requires_auth" json:"requires_auth"`

	// ProxyIdentity is an opaque label for the egress identity the run
	// should use. Empty means the selector assigns one.
	ProxyIdentity string `db:"proxy_identity" json:"proxy_identity,omitempty"`

	// Profile is the stable browser fingerprint for this job. Generated
	// on first browser-tier attempt when absent.
	Profile *BrowserProfile `db:"profile" json:"profile,omitempty"`

	List *ListConfig `db:"list_config" json:"list_config,omitempty"`

	MaxAttempts int       `db:"max_attempts" json:"max_attempts"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Domain returns the normalized host of the target URL, lowercased and
// with any port stripped.
func (j *Job) Domain() string {
	return NormalizeDomain(j.TargetURL)
}

// Validate checks the job is executable.
func (j *Job) Validate() error {
	if j.TargetURL == "" {
		return fmt.Errorf("job: target_url is required")
	}
	u, err := url.Parse(j.TargetURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("job: target_url %q is not an absolute http(s) URL", j.TargetURL)
	}
	if err := j.EngineMode.Validate(); err != nil {
		return fmt.Errorf("job: %w", err)
	}
	if j.CrawlMode == CrawlModeList && (j.List == nil || j.List.ItemLinks.CSS == "") {
		return fmt.Errorf("job: list mode requires an item-links selector")
	}
	if j.MaxAttempts < 1 {
		return fmt.Errorf("job: max_attempts must be >= 1")
	}
	return nil
}

// NormalizeDomain extracts the lowercased host from a URL, dropping any
// port. Invalid URLs normalize to the empty string.
func NormalizeDomain(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	if host == "" {
		host = strings.SplitN(u.Path, "/", 2)[0]
		if i := strings.IndexByte(host, ':'); i >= 0 {
			host = host[:i]
		}
	}
	return strings.ToLower(host)
}

// SelectorRef is a bare CSS selection: which nodes, which attribute, and
// whether to take every match or just the first.
type SelectorRef struct {
	CSS  string `json:"css"`
	Attr string `json:"attr,omitempty"`
	All  bool   `json:"all,omitempty"`
}

// ListConfig describes list-mode crawling: a selector yielding item page
// links, optional pagination, and caps on pages and items.
type ListConfig struct {
	ItemLinks  SelectorRef  `json:"item_links"`
	Pagination *SelectorRef `json:"pagination,omitempty"`
	MaxPages   int          `json:"max_pages,omitempty"`
	MaxItems   int          `json:"max_items,omitempty"`
}

// Pages returns the effective page cap, defaulting to 1.
func (c *ListConfig) Pages() int {
	if c == nil || c.MaxPages < 1 {
		return 1
	}
	return c.MaxPages
}

// BrowserProfile is a stable fingerprint a job presents on the browser
// tier. Stability matters more than realism: re-identification across
// attempts is what keeps sessions warm.
type BrowserProfile struct {
	UserAgent string   `json:"user_agent"`
	Viewport  Viewport `json:"viewport"`
	Timezone  string   `json:"timezone"`
	Locale    string   `json:"locale"`
}

// Viewport is a browser window size in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// FieldMap binds named output fields to selector specs for one job.
// Field names are unique within a map.
type FieldMap struct {
	ID        uuid.UUID      `db:"id" json:"id"`
	JobID     uuid.UUID      `db:"job_id" json:"job_id"`
	Version   int            `db:"version" json:"version"`
	Fields    []SelectorSpec `db:"fields" json:"fields"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

// Get returns the spec for a field name, or nil.
func (m *FieldMap) Get(name string) *SelectorSpec {
	for i := range m.Fields {
		if m.Fields[i].Name == name {
			return &m.Fields[i]
		}
	}
	return nil
}

// RequiredFields returns the names of all required fields in order.
func (m *FieldMap) RequiredFields() []string {
	var names []string
	for i := range m.Fields {
		if m.Fields[i].Required {
			names = append(names, m.Fields[i].Name)
		}
	}
	return names
}

// Validate checks field name uniqueness and selector presence.
func (m *FieldMap) Validate() error {
	seen := make(map[string]struct{}, len(m.Fields))
	for i := range m.Fields {
		f := &m.Fields[i]
		if f.Name == "" {
			return fmt.Errorf("field map: field %d has no name", i)
		}
		if f.CSS == "" {
			return fmt.Errorf("field map: field %q has no selector", f.Name)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("field map: duplicate field %q", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	return nil
}

// SelectorSpec describes how one named field is pulled out of a page:
// CSS selection, optional attribute, optional all-matches, optional
// post-extraction regex, and an optional typed parser.
type SelectorSpec struct {
	Name     string    `json:"name"`
	CSS      string    `json:"css"`
	Attr     string    `json:"attr,omitempty"`
	All      bool      `json:"all,omitempty"`
	Regex    string    `json:"regex,omitempty"`
	Type     FieldType `json:"type,omitempty"`
	Required bool      `json:"required,omitempty"`
}

// FieldType selects a typed parser applied after raw extraction.
type FieldType string

// Field type constants. Text is the zero value and applies no parser.
const (
	FieldText    FieldType = ""
	FieldPhone   FieldType = "phone"
	FieldEmail   FieldType = "email"
	FieldAddress FieldType = "address"
	FieldInteger FieldType = "integer"
	FieldURL     FieldType = "url"
	FieldMoney   FieldType = "money"
)
