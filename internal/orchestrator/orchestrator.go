// Package orchestrator drives the DM model conversation: streaming tool-use
// rounds, marker-aware clean/raw text events, and cooperative suspension for
// player-driven dice rolls.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/astralforge/astral/internal/game"
	"github.com/astralforge/astral/internal/marker"
	"github.com/astralforge/astral/internal/observe"
	"github.com/astralforge/astral/pkg/provider/llm"
)

// DefaultMaxToolRounds bounds tool-use iterations within one turn.
const DefaultMaxToolRounds = 10

// EventKind discriminates turn events.
type EventKind string

const (
	// EventTextDelta carries display-safe incremental text in Clean.
	EventTextDelta EventKind = "text_delta"

	// EventRawDelta carries the unmodified model substring in Raw; it feeds
	// the audio pipeline and is never forwarded to the client as-is.
	EventRawDelta EventKind = "raw_delta"

	// EventTextEnd closes one text block, carrying both forms.
	EventTextEnd EventKind = "text_end"

	// EventRollRequest suspends the turn until the host resolves the roll.
	EventRollRequest EventKind = "roll_request"

	// EventState carries a character/world state update in State.
	EventState EventKind = "state"

	// EventError reports a model failure; the turn ends cleanly after it.
	EventError EventKind = "error"
)

// RollRequest is the payload of an EventRollRequest.
type RollRequest struct {
	ToolUseID string
	Notation  string
	Reason    string
}

// Event is one element of a turn's event stream.
type Event struct {
	Kind  EventKind
	Clean string
	Raw   string
	Roll  *RollRequest
	State json.RawMessage
	Err   string
}

// Option is a functional option for configuring the Orchestrator.
type Option func(*Orchestrator)

// WithMaxToolRounds overrides the tool-round bound.
func WithMaxToolRounds(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxToolRounds = n
		}
	}
}

// WithSystemPrompt overrides the embedded DM system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *Orchestrator) {
		o.system = prompt
	}
}

// Orchestrator owns one session's conversation history. It is single-owner:
// only the session loop calls RunTurn, and never concurrently.
type Orchestrator struct {
	provider      llm.Provider
	tools         *game.Handler
	defs          []llm.ToolDefinition
	log           *slog.Logger
	metrics       *observe.Metrics
	model         string
	maxTokens     int
	maxToolRounds int
	system        string

	history []llm.Message
	rollCh  chan *game.RollResult
}

// New creates an orchestrator for one session.
func New(provider llm.Provider, tools *game.Handler, model string, maxTokens int, log *slog.Logger, metrics *observe.Metrics, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider:      provider,
		tools:         tools,
		defs:          game.ToolDefinitions(),
		log:           log,
		metrics:       metrics,
		model:         model,
		maxTokens:     maxTokens,
		maxToolRounds: DefaultMaxToolRounds,
		system:        SystemPrompt(),
		rollCh:        make(chan *game.RollResult, 1),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ResolveRoll hands a completed dice roll back to a turn suspended on a
// roll_request. Exactly one ResolveRoll is expected per roll_request.
func (o *Orchestrator) ResolveRoll(result *game.RollResult) {
	o.rollCh <- result
}

// RunTurn appends the player message to history and runs the full tool-use
// loop. Events arrive on the returned channel in order; the channel closes
// when the turn ends. The caller must drain it.
func (o *Orchestrator) RunTurn(ctx context.Context, playerMessage string) <-chan Event {
	events := make(chan Event, 32)
	go func() {
		defer close(events)
		o.runTurn(ctx, playerMessage, events)
	}()
	return events
}

func (o *Orchestrator) runTurn(ctx context.Context, playerMessage string, events chan<- Event) {
	o.history = append(o.history, llm.Message{
		Role:   llm.RoleUser,
		Blocks: []llm.Block{llm.TextBlock(playerMessage)},
	})

	for round := 0; round < o.maxToolRounds; round++ {
		toolCalls, err := o.streamRound(ctx, events)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				o.log.Error("model round failed", "round", round, "error", err)
				events <- Event{Kind: EventError, Err: "The narrator lost the thread. Try again."}
			}
			return
		}
		if len(toolCalls) == 0 {
			return
		}

		results := make([]llm.Block, 0, len(toolCalls))
		for _, call := range toolCalls {
			block, err := o.executeTool(ctx, call, events)
			if err != nil {
				return
			}
			results = append(results, block)
		}
		o.history = append(o.history, llm.Message{Role: llm.RoleUser, Blocks: results})
	}
	o.log.Warn("turn hit tool-round bound", "rounds", o.maxToolRounds)
}

// streamRound runs one streaming model request, emitting text events as they
// arrive and collecting any tool calls. The assistant message is appended to
// history before returning.
func (o *Orchestrator) streamRound(ctx context.Context, events chan<- Event) ([]llm.ToolUse, error) {
	if o.provider == nil {
		// Missing model credentials disable the capability, not the session.
		return nil, errors.New("orchestrator: no model provider configured")
	}
	stream, err := o.provider.Stream(ctx, llm.Request{
		Model:     o.model,
		System:    o.system,
		Messages:  o.history,
		Tools:     o.defs,
		MaxTokens: o.maxTokens,
	})
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var (
		blocks    []llm.Block
		toolCalls []llm.ToolUse
		raw       strings.Builder
		cleanSent string
	)

	for ev := range stream.Events() {
		switch ev.Kind {
		case llm.EventTextDelta:
			raw.WriteString(ev.Text)
			events <- Event{Kind: EventRawDelta, Raw: ev.Text}

			// Display text trails the raw stream by whatever suffix might
			// still be inside a half-open marker.
			clean := marker.Strip(marker.HoldBack(raw.String()))
			if len(clean) > len(cleanSent) {
				events <- Event{Kind: EventTextDelta, Clean: clean[len(cleanSent):]}
				cleanSent = clean
			}

		case llm.EventTextEnd:
			text := raw.String()
			if text == "" {
				continue
			}
			clean := marker.Strip(text)
			if len(clean) > len(cleanSent) {
				events <- Event{Kind: EventTextDelta, Clean: clean[len(cleanSent):]}
			}
			events <- Event{Kind: EventTextEnd, Clean: clean, Raw: text}
			blocks = append(blocks, llm.TextBlock(text))
			raw.Reset()
			cleanSent = ""

		case llm.EventToolUse:
			blocks = append(blocks, llm.ToolUseBlock(ev.ToolUse.ID, ev.ToolUse.Name, ev.ToolUse.Input))
			toolCalls = append(toolCalls, *ev.ToolUse)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}

	if len(blocks) > 0 {
		o.history = append(o.history, llm.Message{Role: llm.RoleAssistant, Blocks: blocks})
	}
	return toolCalls, nil
}

// executeTool resolves one queued tool call into a tool_result block.
// roll_dice suspends the turn until the host calls ResolveRoll.
func (o *Orchestrator) executeTool(ctx context.Context, call llm.ToolUse, events chan<- Event) (llm.Block, error) {
	if call.Name == game.RollDiceTool {
		return o.suspendForRoll(ctx, call, events)
	}

	outcome, err := o.tools.Execute(ctx, call.Name, call.Input)
	if err != nil {
		o.metrics.RecordToolCall(ctx, call.Name, "error")
		return llm.Block{}, err
	}
	o.metrics.RecordToolCall(ctx, call.Name, "ok")
	if outcome.StateUpdate != nil {
		events <- Event{Kind: EventState, State: outcome.StateUpdate}
	}
	return llm.ToolResultBlock(call.ID, outcome.Result, false), nil
}

func (o *Orchestrator) suspendForRoll(ctx context.Context, call llm.ToolUse, events chan<- Event) (llm.Block, error) {
	var in struct {
		Notation string `json:"notation"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal(call.Input, &in); err != nil || in.Notation == "" {
		o.metrics.RecordToolCall(ctx, call.Name, "error")
		return llm.ToolResultBlock(call.ID, `{"error":"invalid dice notation input"}`, true), nil
	}
	if err := game.ValidateNotation(in.Notation); err != nil {
		o.metrics.RecordToolCall(ctx, call.Name, "error")
		return llm.ToolResultBlock(call.ID, fmt.Sprintf(`{"error":%q}`, err.Error()), true), nil
	}

	events <- Event{Kind: EventRollRequest, Roll: &RollRequest{
		ToolUseID: call.ID,
		Notation:  in.Notation,
		Reason:    in.Reason,
	}}

	select {
	case <-ctx.Done():
		return llm.Block{}, ctx.Err()
	case result := <-o.rollCh:
		o.metrics.RecordToolCall(ctx, call.Name, "ok")
		payload, err := json.Marshal(result)
		if err != nil {
			return llm.Block{}, fmt.Errorf("orchestrator: encode roll result: %w", err)
		}
		return llm.ToolResultBlock(call.ID, string(payload), false), nil
	}
}
