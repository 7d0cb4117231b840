package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/justapithecus/ferret/types"
)

// Config represents a ferret.yaml configuration file.
// All values are optional and act as defaults for CLI flags.
// CLI flags always override config values.
type Config struct {
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	Worker       WorkerConfig       `yaml:"worker"`
	Engines      EngineConfig       `yaml:"engines"`
	Sessions     SessionConfig      `yaml:"sessions"`
	Intervention InterventionConfig `yaml:"intervention"`
	Snapshot     SnapshotConfig     `yaml:"snapshot"`
	Adapter      AdapterConfig      `yaml:"adapter"`

	// Proxies maps identity labels to egress endpoints. Identities stay
	// opaque strings end to end; only the selector reads the endpoints.
	Proxies map[string]ProxyIdentityConfig `yaml:"proxies"`

	// DomainStrategies overrides job engine-mode per domain.
	DomainStrategies map[string]types.EngineMode `yaml:"domain_strategies"`
}

// WorkerConfig sizes the run-consuming worker pool.
type WorkerConfig struct {
	Concurrency  int      `yaml:"concurrency"`
	PollInterval Duration `yaml:"poll_interval"`
	// Owner identifies this worker in run leases; defaults to hostname+pid.
	Owner string `yaml:"owner"`
}

// EngineConfig holds per-tier settings.
type EngineConfig struct {
	MaxAttempts int `yaml:"max_attempts"`

	HTTP     HTTPEngineConfig     `yaml:"http"`
	Browser  BrowserEngineConfig  `yaml:"browser"`
	Provider ProviderEngineConfig `yaml:"provider"`
}

// HTTPEngineConfig configures the first tier.
type HTTPEngineConfig struct {
	Timeout   Duration `yaml:"timeout"`
	UserAgent string   `yaml:"user_agent"`
}

// BrowserEngineConfig configures the headless browser tier.
type BrowserEngineConfig struct {
	NavTimeout Duration `yaml:"nav_timeout"`
	Headless   *bool    `yaml:"headless"`
	// WSEndpoint connects to a running browser instead of launching one.
	WSEndpoint string `yaml:"ws_endpoint"`
	// ConsentSelectors are clicked best-effort to dismiss cookie and
	// consent modals before extraction.
	ConsentSelectors []string `yaml:"consent_selectors"`
}

// ProviderEngineConfig configures the commercial fetch tier.
type ProviderEngineConfig struct {
	// APIKeys is a comma-separated list; the engine rotates to the next
	// active key when one is depleted.
	APIKeys string   `yaml:"api_keys"`
	BaseURL string   `yaml:"base_url"`
	Country string   `yaml:"country"`
	Timeout Duration `yaml:"timeout"`
}

// Keys splits the comma-separated key list, dropping empties.
func (p ProviderEngineConfig) Keys() []string {
	var keys []string
	for _, k := range strings.Split(p.APIKeys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// SessionConfig holds session pool tuning.
type SessionConfig struct {
	VaultPath  string   `yaml:"vault_path"`
	TrustFloor *float64 `yaml:"trust_floor"`
	MaxUses    *int     `yaml:"max_uses"`
	MaxAge     Duration `yaml:"max_age"`
}

// InterventionConfig holds per-type TTL overrides.
type InterventionConfig struct {
	TTL map[string]Duration `yaml:"ttl"`
}

// TTLFor returns the override for an intervention type, falling back to
// the built-in default.
func (c InterventionConfig) TTLFor(t types.InterventionType) time.Duration {
	if d, ok := c.TTL[string(t)]; ok && d.Duration > 0 {
		return d.Duration
	}
	return t.TTL()
}

// SnapshotConfig selects where paused-run page snapshots are archived.
type SnapshotConfig struct {
	Backend string `yaml:"backend"` // "dir" or "s3"
	Path    string `yaml:"path"`
	Bucket  string `yaml:"bucket"`
	Region  string `yaml:"region"`
	Prefix  string `yaml:"prefix"`
}

// AdapterConfig holds run-completed fan-out settings.
type AdapterConfig struct {
	Type    string            `yaml:"type"` // "redis" or "webhook"
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// ProxyIdentityConfig is one egress identity definition.
type ProxyIdentityConfig struct {
	URL string `yaml:"url"`
	// Sticky pins domains matching these suffixes to this identity.
	Sticky []string `yaml:"sticky,omitempty"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Defaults applied when the file or flags leave a value unset.
const (
	DefaultMaxAttempts     = 3
	DefaultHTTPTimeout     = 20 * time.Second
	DefaultNavTimeout      = 30 * time.Second
	DefaultProviderTimeout = 60 * time.Second
	DefaultConcurrency     = 4
	DefaultPollInterval    = 2 * time.Second
	DefaultTrustFloor      = 40.0
	DefaultMaxUses         = 200
	DefaultMaxAge          = 2 * time.Hour
	DefaultVaultPath       = ".ferret/sessions"
)

// ApplyDefaults fills unset values in place.
func (c *Config) ApplyDefaults() {
	if c.Engines.MaxAttempts == 0 {
		c.Engines.MaxAttempts = DefaultMaxAttempts
	}
	if c.Engines.HTTP.Timeout.Duration == 0 {
		c.Engines.HTTP.Timeout.Duration = DefaultHTTPTimeout
	}
	if c.Engines.Browser.NavTimeout.Duration == 0 {
		c.Engines.Browser.NavTimeout.Duration = DefaultNavTimeout
	}
	if c.Engines.Provider.Timeout.Duration == 0 {
		c.Engines.Provider.Timeout.Duration = DefaultProviderTimeout
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = DefaultConcurrency
	}
	if c.Worker.PollInterval.Duration == 0 {
		c.Worker.PollInterval.Duration = DefaultPollInterval
	}
	if c.Sessions.TrustFloor == nil {
		floor := DefaultTrustFloor
		c.Sessions.TrustFloor = &floor
	}
	if c.Sessions.MaxUses == nil {
		uses := DefaultMaxUses
		c.Sessions.MaxUses = &uses
	}
	if c.Sessions.MaxAge.Duration == 0 {
		c.Sessions.MaxAge.Duration = DefaultMaxAge
	}
	if c.Sessions.VaultPath == "" {
		c.Sessions.VaultPath = DefaultVaultPath
	}
	if c.Snapshot.Backend == "" {
		c.Snapshot.Backend = "dir"
	}
	if c.Snapshot.Path == "" {
		c.Snapshot.Path = ".ferret/snapshots"
	}
}

// ProxyIdentities returns the configured identity labels in sorted order
// for deterministic selection.
func (c *Config) ProxyIdentities() []string {
	if len(c.Proxies) == 0 {
		return nil
	}
	names := make([]string, 0, len(c.Proxies))
	for name := range c.Proxies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StrategyFor returns the per-domain engine-mode override, if any.
func (c *Config) StrategyFor(domain string) (types.EngineMode, bool) {
	m, ok := c.DomainStrategies[domain]
	return m, ok
}
