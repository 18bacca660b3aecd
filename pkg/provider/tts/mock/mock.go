// Package mock provides a test double for the tts.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/astralforge/astral/pkg/provider/tts"
)

// Call records a single invocation of Synthesize.
type Call struct {
	Text     string
	VoiceID  string
	Settings *tts.Settings
}

// Provider is a mock implementation of tts.Provider. By default each call
// returns a deterministic payload derived from the text; set SynthesizeFunc
// for full control or Err to inject failures.
type Provider struct {
	mu sync.Mutex

	// SynthesizeFunc, when set, handles every call.
	SynthesizeFunc func(ctx context.Context, text, voiceID string, settings *tts.Settings) ([]byte, error)

	// Err, when set, is returned by every call.
	Err error

	// Calls records every invocation in order.
	Calls []Call
}

var _ tts.Provider = (*Provider)(nil)

func (p *Provider) Synthesize(ctx context.Context, text, voiceID string, settings *tts.Settings) ([]byte, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Text: text, VoiceID: voiceID, Settings: settings})
	p.mu.Unlock()

	if p.Err != nil {
		return nil, p.Err
	}
	if p.SynthesizeFunc != nil {
		return p.SynthesizeFunc(ctx, text, voiceID, settings)
	}
	return []byte("tts:" + voiceID + ":" + text), nil
}

// CallCount reports how many times Synthesize has been invoked.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
