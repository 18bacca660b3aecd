package elevenlabs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/astralforge/astral/pkg/provider/tts"
)

func TestSynthesize(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if r.URL.Path != "/v1/text-to-speech/v-123" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("xi-api-key"); got != "key" {
			t.Errorf("xi-api-key = %q", got)
		}
		var body synthesizeRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body.Text != "Hello." || body.ModelID != defaultModel {
			t.Errorf("body = %+v", body)
		}
		if body.VoiceSettings == nil || body.VoiceSettings.SimilarityBoost != 0.8 {
			t.Errorf("voice settings = %+v", body.VoiceSettings)
		}
		w.Write([]byte("mp3"))
	}))
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := p.Synthesize(context.Background(), "Hello.", "v-123", &tts.Settings{Stability: 0.5, Similarity: 0.8})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(got) != "mp3" {
		t.Errorf("audio = %q", got)
	}
}

func TestSynthesize_NonOKStatusIsError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Synthesize(context.Background(), "Hi.", "v-123", nil); err == nil {
		t.Error("non-200 response did not error")
	}
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Error("empty apiKey accepted")
	}
}
