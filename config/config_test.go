package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/justapithecus/ferret/types"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("FERRET_TEST_DB", "postgres://localhost/ferret")

	got := ExpandEnv("database_url: ${FERRET_TEST_DB}")
	want := "database_url: postgres://localhost/ferret"
	if got != want {
		t.Fatalf("ExpandEnv = %q, want %q", got, want)
	}

	got = ExpandEnv("country: ${FERRET_TEST_UNSET:-us}")
	if got != "country: us" {
		t.Fatalf("default expansion = %q", got)
	}

	got = ExpandEnv("key: ${FERRET_TEST_UNSET}")
	if got != "key: " {
		t.Fatalf("unset expansion = %q", got)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ferret.yaml")
	body := `
database_url: postgres://localhost/ferret
engines:
  http:
    timeout: 5s
  provider:
    api_keys: "key-a, key-b"
sessions:
  trust_floor: 50
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Engines.HTTP.Timeout.Duration != 5*time.Second {
		t.Errorf("http timeout = %v, want 5s", cfg.Engines.HTTP.Timeout.Duration)
	}
	if cfg.Engines.Browser.NavTimeout.Duration != DefaultNavTimeout {
		t.Errorf("nav timeout default = %v", cfg.Engines.Browser.NavTimeout.Duration)
	}
	if cfg.Engines.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("max attempts default = %d", cfg.Engines.MaxAttempts)
	}
	if got := cfg.Engines.Provider.Keys(); len(got) != 2 || got[0] != "key-a" || got[1] != "key-b" {
		t.Errorf("provider keys = %v", got)
	}
	if cfg.Sessions.TrustFloor == nil || *cfg.Sessions.TrustFloor != 50 {
		t.Errorf("trust floor override lost: %v", cfg.Sessions.TrustFloor)
	}
	if *cfg.Sessions.MaxUses != DefaultMaxUses {
		t.Errorf("max uses default = %d", *cfg.Sessions.MaxUses)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil || cfg == nil {
		t.Fatalf("LoadOrDefault: cfg=%v err=%v", cfg, err)
	}
	if cfg.Engines.MaxAttempts != DefaultMaxAttempts {
		t.Error("defaults not applied on missing file")
	}
}

func TestInterventionTTLOverride(t *testing.T) {
	c := InterventionConfig{TTL: map[string]Duration{
		"captcha_solve": {Duration: time.Hour},
	}}
	if got := c.TTLFor(types.InterventionCaptchaSolve); got != time.Hour {
		t.Errorf("override = %v", got)
	}
	if got := c.TTLFor(types.InterventionManualAccess); got != 14*24*time.Hour {
		t.Errorf("manual_access default = %v", got)
	}
}
