package audio

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// NarratorSpeaker is the reserved speaker identifier for the narrator voice.
const NarratorSpeaker = "narrator"

// Settings are optional per-voice style parameters forwarded to the TTS
// service. Each field is real-valued in [0, 1].
type Settings struct {
	Stability  float64 `json:"stability"`
	Similarity float64 `json:"similarity"`
	Style      float64 `json:"style"`
}

// Validate checks that every field lies in [0, 1].
func (s *Settings) Validate() error {
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"stability", s.Stability},
		{"similarity", s.Similarity},
		{"style", s.Style},
	} {
		if f.v < 0 || f.v > 1 {
			return fmt.Errorf("audio: voice setting %s = %v out of [0,1]", f.name, f.v)
		}
	}
	return nil
}

// Voice is one registry entry: an external-service voice ID plus optional
// style settings.
type Voice struct {
	VoiceID  string    `json:"voice_id"`
	Settings *Settings `json:"settings,omitempty"`
}

// Registry maps speaker identifiers to voices for one campaign. It is loaded
// once per session and read-only afterwards.
type Registry struct {
	Narrator *Voice           `json:"narrator,omitempty"`
	NPCs     map[string]Voice `json:"npcs,omitempty"`

	// Ambience is reserved for future per-campaign ambient presets and is
	// currently ignored by the pipeline.
	Ambience json.RawMessage `json:"ambience,omitempty"`
}

// LoadRegistry reads a voice-registry.json file. A missing file yields an
// empty registry, not an error: a campaign without one simply produces no
// voice audio.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Registry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audio: read voice registry: %w", err)
	}
	var r Registry
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("audio: parse voice registry %s: %w", path, err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks all voice settings in the registry.
func (r *Registry) Validate() error {
	if r.Narrator != nil && r.Narrator.Settings != nil {
		if err := r.Narrator.Settings.Validate(); err != nil {
			return fmt.Errorf("narrator: %w", err)
		}
	}
	for name, v := range r.NPCs {
		if v.Settings != nil {
			if err := v.Settings.Validate(); err != nil {
				return fmt.Errorf("npc %q: %w", name, err)
			}
		}
	}
	return nil
}

// Lookup resolves a speaker identifier to its voice. ok=false means the
// speaker has no registered voice and the utterance should be dropped.
func (r *Registry) Lookup(speaker string) (Voice, bool) {
	if speaker == NarratorSpeaker {
		if r.Narrator == nil || r.Narrator.VoiceID == "" {
			return Voice{}, false
		}
		return *r.Narrator, true
	}
	v, ok := r.NPCs[speaker]
	if !ok || v.VoiceID == "" {
		return Voice{}, false
	}
	return v, true
}
