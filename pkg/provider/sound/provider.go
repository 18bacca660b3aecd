// Package sound defines the Provider interface for generative sound-effect
// backends, covering both one-shot effects and longer ambient loops.
//
// Implementations must be safe for concurrent use.
package sound

import "context"

// Provider is the abstraction over any sound-generation backend.
type Provider interface {
	// Generate produces encoded audio (MP3 for the ElevenLabs backend) from
	// a free-text description. seconds is a duration hint; a backend may
	// clamp it to its supported range.
	Generate(ctx context.Context, desc string, seconds float64) ([]byte, error)
}
