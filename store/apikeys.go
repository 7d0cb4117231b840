package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// KeyID derives a stable non-secret identifier for a provider API key.
// Only the hash ever reaches the database.
func KeyID(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:8])
}

// RecordKeyUsage updates a provider key's credit counters after a call.
// creditsLeft comes from the provider's response; a key reaching zero is
// deactivated so rotation skips it.
func (s *Store) RecordKeyUsage(ctx context.Context, keyID string, cost int, creditsLeft int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_key_usage (key_id, credits_used, credits_left, active, last_used_at)
		VALUES ($1, $2, $3, $3 <> 0, now())
		ON CONFLICT (key_id) DO UPDATE SET
			credits_used = api_key_usage.credits_used + $2,
			credits_left = $3,
			active       = $3 <> 0,
			last_used_at = now()`,
		keyID, cost, creditsLeft)
	if err != nil {
		return fmt.Errorf("store: record key usage: %w", err)
	}
	return nil
}

// KeyActive reports whether a provider key is still usable. Unknown keys
// are active: they have never been observed depleted.
func (s *Store) KeyActive(ctx context.Context, keyID string) (bool, error) {
	var active bool
	err := s.db.GetContext(ctx, &active,
		`SELECT COALESCE((SELECT active FROM api_key_usage WHERE key_id = $1), TRUE)`,
		keyID)
	if err != nil {
		return false, fmt.Errorf("store: key active: %w", err)
	}
	return active, nil
}
