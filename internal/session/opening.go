package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// openingCacheFile is the per-campaign file holding a fully rendered opening
// turn keyed on a fingerprint of the session log.
const openingCacheFile = "opening-cache.json"

// OpeningCache persists the wire messages of a campaign's opening turn so a
// reconnect with an unchanged session log replays them byte-for-byte instead
// of invoking the model.
type OpeningCache struct {
	path string
}

// NewOpeningCache creates a cache over the campaign directory.
func NewOpeningCache(dir string) *OpeningCache {
	return &OpeningCache{path: filepath.Join(dir, openingCacheFile)}
}

type openingCacheDoc struct {
	SessionLogHash string            `json:"session_log_hash"`
	Messages       []json.RawMessage `json:"messages"`
}

// Fingerprint returns the cache key for a session log snapshot. An absent log
// fingerprints the same as an empty one.
func Fingerprint(sessionLog []byte) string {
	sum := sha256.Sum256(sessionLog)
	return hex.EncodeToString(sum[:])
}

// Load returns the cached opening messages when the stored fingerprint
// matches. A missing, unreadable, or stale cache file is a miss.
func (c *OpeningCache) Load(fingerprint string) ([]json.RawMessage, bool) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, false
	}
	var doc openingCacheDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false
	}
	if doc.SessionLogHash != fingerprint {
		return nil, false
	}
	return doc.Messages, true
}

// Store overwrites the cache with a freshly generated opening turn. The write
// goes through a temp file and an atomic rename so a concurrent reader never
// sees a torn document.
func (c *OpeningCache) Store(fingerprint string, messages []json.RawMessage) error {
	doc := openingCacheDoc{SessionLogHash: fingerprint, Messages: messages}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encode opening cache: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("session: write opening cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		if rmErr := os.Remove(tmp); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			err = errors.Join(err, rmErr)
		}
		return fmt.Errorf("session: commit opening cache: %w", err)
	}
	return nil
}
