package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionKey identifies a pooled browser session. One live session per
// (domain, proxy identity) pair.
type SessionKey struct {
	Domain        string `json:"domain"`
	ProxyIdentity string `json:"proxy_identity"`
}

// String renders the key in the "domain/identity" form used for vault
// filenames and log fields.
func (k SessionKey) String() string {
	return fmt.Sprintf("%s/%s", k.Domain, k.ProxyIdentity)
}

// Cookie is one browser cookie carried in a session.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
}

// BrowserSession is a warm authenticated browser context held by the
// session pool. Trust is computed on demand, never stored.
type BrowserSession struct {
	ID  uuid.UUID  `json:"id"`
	Key SessionKey `json:"key"`

	Health SessionHealth `json:"health"`

	Cookies []Cookie `json:"cookies,omitempty"`
	// StorageState is the serialized origin storage blob the browser
	// engine replays to restore the session.
	StorageState []byte `json:"storage_state,omitempty"`

	UserAgent string   `json:"user_agent"`
	Viewport  Viewport `json:"viewport"`

	UseCount      int `json:"use_count"`
	FailureStreak int `json:"failure_streak"`
	CaptchaCount  int `json:"captcha_count"`

	CreatedAt     time.Time  `json:"created_at"`
	LastUsedAt    time.Time  `json:"last_used_at"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// Age returns how long the session has existed, relative to now.
func (s *BrowserSession) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}
