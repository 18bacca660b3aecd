// Package tts defines the Provider interface for text-to-speech backends.
//
// A provider turns one finished utterance into one opaque audio blob. The
// pipeline performs its own sentence segmentation and ordering, so no
// streaming synthesis interface is needed; parallelism comes from the
// pipeline issuing multiple Synthesize calls at once.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Settings are optional voice-style parameters, each in [0, 1].
type Settings struct {
	Stability  float64
	Similarity float64
	Style      float64
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text in the given voice and returns the encoded
	// audio bytes (MP3 for the ElevenLabs backend). settings may be nil, in
	// which case the backend's defaults apply.
	Synthesize(ctx context.Context, text, voiceID string, settings *Settings) ([]byte, error)
}
