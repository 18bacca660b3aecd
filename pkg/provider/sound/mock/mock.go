// Package mock provides a test double for the sound.Provider interface.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/astralforge/astral/pkg/provider/sound"
)

// Call records a single invocation of Generate.
type Call struct {
	Desc    string
	Seconds float64
}

// Provider is a mock implementation of sound.Provider. By default each call
// returns a deterministic payload derived from the description; set
// GenerateFunc for full control or Err to inject failures.
type Provider struct {
	mu sync.Mutex

	// GenerateFunc, when set, handles every call.
	GenerateFunc func(ctx context.Context, desc string, seconds float64) ([]byte, error)

	// Err, when set, is returned by every call.
	Err error

	// Calls records every invocation in order.
	Calls []Call
}

var _ sound.Provider = (*Provider)(nil)

func (p *Provider) Generate(ctx context.Context, desc string, seconds float64) ([]byte, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, Call{Desc: desc, Seconds: seconds})
	p.mu.Unlock()

	if p.Err != nil {
		return nil, p.Err
	}
	if p.GenerateFunc != nil {
		return p.GenerateFunc(ctx, desc, seconds)
	}
	return []byte(fmt.Sprintf("sound:%s:%.0fs", desc, seconds)), nil
}

// CallCount reports how many times Generate has been invoked.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
