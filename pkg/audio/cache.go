// Package audio provides the on-disk artifact cache for generated audio and
// the per-campaign voice registry that maps speakers to external voice IDs.
package audio

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Cache is a content-addressed store of generated audio blobs. Keys are a
// prefix (the artifact kind) plus a hash of the describing text; values are
// .mp3 files in a single flat directory shared across sessions.
//
// There is no eviction. The cache grows monotonically and operators prune it
// externally. Correctness under concurrent writers depends on the atomic
// rename in [Cache.Put].
type Cache struct {
	dir string
}

// NewCache opens (creating if needed) the cache directory.
func NewCache(dir string) (*Cache, error) {
	if dir == "" {
		return nil, errors.New("audio: cache dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("audio: create cache dir: %w", err)
	}
	return &Cache{dir: dir}, nil
}

// Key derives the cache filename for an artifact: the prefix, an underscore,
// and the first 16 hex characters of the SHA-256 of desc.
func Key(prefix, desc string) string {
	sum := sha256.Sum256([]byte(desc))
	return prefix + "_" + hex.EncodeToString(sum[:])[:16] + ".mp3"
}

// Get returns the cached bytes for key, or ok=false on a miss. A zero-byte
// file is a failed earlier write and counts as a miss.
func (c *Cache) Get(key string) ([]byte, bool) {
	data, err := os.ReadFile(filepath.Join(c.dir, key))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	return data, true
}

// Put stores data under key. The payload is staged in a .tmp file and renamed
// into place so readers never observe a partial artifact; on any failure the
// staging file is removed and no cache entry is left behind.
func (c *Cache) Put(key string, data []byte) error {
	final := filepath.Join(c.dir, key)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("audio: write cache entry %s: %w", key, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("audio: commit cache entry %s: %w", key, err)
	}
	return nil
}
