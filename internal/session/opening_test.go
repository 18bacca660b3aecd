package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// sha256 of the empty string: the fingerprint of a campaign with no log.
const emptyLogHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func TestFingerprint(t *testing.T) {
	t.Parallel()
	if got := Fingerprint(nil); got != emptyLogHash {
		t.Errorf("Fingerprint(nil) = %q", got)
	}
	if Fingerprint(nil) != Fingerprint([]byte{}) {
		t.Error("nil and empty logs fingerprint differently")
	}
	if Fingerprint([]byte("a")) == Fingerprint([]byte("b")) {
		t.Error("distinct logs collide")
	}
}

func TestOpeningCache_RoundTrip(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cache := NewOpeningCache(dir)

	if _, ok := cache.Load(emptyLogHash); ok {
		t.Fatal("hit on missing cache file")
	}

	msgs := []json.RawMessage{
		json.RawMessage(`{"type":"text_delta","content":"Hello."}`),
		json.RawMessage(`{"type":"text_end","content":"Hello."}`),
	}
	if err := cache.Store(emptyLogHash, msgs); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, ok := cache.Load(emptyLogHash)
	if !ok {
		t.Fatal("miss after store")
	}
	if len(got) != len(msgs) {
		t.Fatalf("got %d messages, want %d", len(got), len(msgs))
	}
	for i := range got {
		if string(got[i]) != string(msgs[i]) {
			t.Errorf("message %d = %s, want %s", i, got[i], msgs[i])
		}
	}

	// A different fingerprint is a miss even with a file present.
	if _, ok := cache.Load(Fingerprint([]byte("new log"))); ok {
		t.Error("hit on stale fingerprint")
	}
}

func TestOpeningCache_OverwriteAndCorruptFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cache := NewOpeningCache(dir)

	first := []json.RawMessage{json.RawMessage(`{"type":"text_end","content":"one"}`)}
	if err := cache.Store(emptyLogHash, first); err != nil {
		t.Fatalf("Store: %v", err)
	}
	next := Fingerprint([]byte("log grew"))
	second := []json.RawMessage{json.RawMessage(`{"type":"text_end","content":"two"}`)}
	if err := cache.Store(next, second); err != nil {
		t.Fatalf("Store overwrite: %v", err)
	}

	if _, ok := cache.Load(emptyLogHash); ok {
		t.Error("old fingerprint still hits after overwrite")
	}
	got, ok := cache.Load(next)
	if !ok || string(got[0]) != string(second[0]) {
		t.Errorf("Load after overwrite = %v, %v", got, ok)
	}

	if err := os.WriteFile(filepath.Join(dir, openingCacheFile), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("corrupt file: %v", err)
	}
	if _, ok := cache.Load(next); ok {
		t.Error("hit on corrupt cache file")
	}
}
