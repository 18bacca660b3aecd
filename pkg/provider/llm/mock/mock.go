// Package mock provides a test double for the llm.Provider interface.
//
// Script one or more responses, each an ordered slice of events, and the mock
// replays the next script on every Stream call while recording the requests it
// received:
//
//	p := &mock.Provider{Responses: [][]llm.Event{{
//		{Kind: llm.EventTextDelta, Text: "Hello."},
//		{Kind: llm.EventTextEnd},
//		{Kind: llm.EventStop, StopReason: "end_turn"},
//	}}}
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/astralforge/astral/pkg/provider/llm"
)

// Provider is a scripted implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Responses are replayed in order, one per Stream call. A call past the
	// end of the script returns ErrScriptExhausted.
	Responses [][]llm.Event

	// StreamErr, when set, is returned by every Stream call instead of a
	// scripted response.
	StreamErr error

	// Requests records every Request passed to Stream, in call order.
	Requests []llm.Request

	next int
}

var _ llm.Provider = (*Provider)(nil)

// ErrScriptExhausted is returned when Stream is called more times than there
// are scripted responses.
var ErrScriptExhausted = errors.New("mock: no scripted response left")

// Stream records the request and replays the next scripted response.
func (p *Provider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.Requests = append(p.Requests, req)
	if p.StreamErr != nil {
		return nil, p.StreamErr
	}
	if p.next >= len(p.Responses) {
		return nil, ErrScriptExhausted
	}
	script := p.Responses[p.next]
	p.next++

	events := make(chan llm.Event, len(script))
	for _, ev := range script {
		events <- ev
	}
	close(events)
	return &stream{events: events}, nil
}

// Calls reports how many times Stream has been invoked.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Requests)
}

type stream struct {
	events chan llm.Event
}

var _ llm.Stream = (*stream)(nil)

func (s *stream) Events() <-chan llm.Event { return s.events }
func (s *stream) Err() error               { return nil }
func (s *stream) Close() error             { return nil }
