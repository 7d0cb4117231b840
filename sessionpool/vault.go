package sessionpool

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/justapithecus/ferret/types"
)

// Vault persists one JSON file per session so the pool survives process
// restarts. Writes are atomic: temp file in the same directory, then
// rename.
type Vault struct {
	dir string
}

// NewVault creates the vault directory if needed.
func NewVault(dir string) (*Vault, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("sessionpool: create vault dir: %w", err)
	}
	return &Vault{dir: dir}, nil
}

// path derives a filesystem-safe filename from the session key. Hashing
// sidesteps separator and length issues in domain names.
func (v *Vault) path(key types.SessionKey) string {
	sum := sha256.Sum256([]byte(key.String()))
	return filepath.Join(v.dir, hex.EncodeToString(sum[:8])+".json")
}

// Save writes a session file atomically.
func (v *Vault) Save(s *types.BrowserSession) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("sessionpool: marshal session %s: %w", s.Key, err)
	}

	target := v.path(s.Key)
	tmp, err := os.CreateTemp(v.dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("sessionpool: temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sessionpool: write session %s: %w", s.Key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("sessionpool: close session file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("sessionpool: rename session file: %w", err)
	}
	return nil
}

// Delete removes a session file. Missing files are not an error.
func (v *Vault) Delete(key types.SessionKey) error {
	if err := os.Remove(v.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sessionpool: delete session %s: %w", key, err)
	}
	return nil
}

// LoadAll reads every session file in the vault. Corrupt files are
// skipped, not fatal: a half-written file from a crash should not keep
// the pool from booting.
func (v *Vault) LoadAll() ([]*types.BrowserSession, error) {
	entries, err := os.ReadDir(v.dir)
	if err != nil {
		return nil, fmt.Errorf("sessionpool: read vault dir: %w", err)
	}

	var sessions []*types.BrowserSession
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(v.dir, e.Name()))
		if err != nil {
			continue
		}
		var s types.BrowserSession
		if err := json.Unmarshal(data, &s); err != nil {
			continue
		}
		sessions = append(sessions, &s)
	}
	return sessions, nil
}
