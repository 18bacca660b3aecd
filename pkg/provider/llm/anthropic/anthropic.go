// Package anthropic implements llm.Provider over the Anthropic Messages
// streaming API. Text deltas are forwarded as they arrive; tool-use blocks are
// assembled from partial-JSON deltas and emitted whole on block stop.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/astralforge/astral/pkg/provider/llm"
)

// Provider implements llm.Provider backed by the Anthropic SDK.
type Provider struct {
	client sdk.Client
}

var _ llm.Provider = (*Provider)(nil)

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: apiKey must not be empty")
	}
	return &Provider{client: sdk.NewClient(option.WithAPIKey(apiKey))}, nil
}

// Stream starts a streaming Messages request.
func (p *Provider) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	params, err := encodeRequest(req)
	if err != nil {
		return nil, err
	}
	raw := p.client.Messages.NewStreaming(ctx, *params)
	if err := raw.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: start stream: %w", err)
	}

	s := &stream{
		raw:    raw,
		events: make(chan llm.Event, 32),
	}
	go s.run()
	return s, nil
}

func encodeRequest(req llm.Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	if req.Model == "" {
		return nil, errors.New("anthropic: model identifier is required")
	}
	if req.MaxTokens <= 0 {
		return nil, errors.New("anthropic: max_tokens must be positive")
	}

	msgs := make([]sdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Blocks))
		for _, b := range m.Blocks {
			switch b.Type {
			case "text":
				blocks = append(blocks, sdk.NewTextBlock(b.Text))
			case "tool_use":
				var input any
				if len(b.Input) > 0 {
					if err := json.Unmarshal(b.Input, &input); err != nil {
						return nil, fmt.Errorf("anthropic: tool_use input for %s: %w", b.ID, err)
					}
				} else {
					input = map[string]any{}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(b.ID, input, b.Name))
			case "tool_result":
				blocks = append(blocks, sdk.NewToolResultBlock(b.ToolUseID, b.Content, b.IsError))
			default:
				return nil, fmt.Errorf("anthropic: unsupported block type %q", b.Type)
			}
		}
		switch m.Role {
		case llm.RoleUser:
			msgs = append(msgs, sdk.NewUserMessage(blocks...))
		case llm.RoleAssistant:
			msgs = append(msgs, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("anthropic: unsupported role %q", m.Role)
		}
	}

	params := &sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools := make([]sdk.ToolUnionParam, 0, len(req.Tools))
		for _, def := range req.Tools {
			if def.Name == "" {
				return nil, errors.New("anthropic: tool definition missing name")
			}
			u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: def.InputSchema}, def.Name)
			if u.OfTool != nil && def.Description != "" {
				u.OfTool.Description = sdk.String(def.Description)
			}
			tools = append(tools, u)
		}
		params.Tools = tools
	}
	return params, nil
}

// stream adapts the SDK's SSE stream to llm.Stream.
type stream struct {
	raw    *ssestream.Stream[sdk.MessageStreamEventUnion]
	events chan llm.Event

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
}

var _ llm.Stream = (*stream)(nil)

func (s *stream) Events() <-chan llm.Event { return s.events }

func (s *stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() { err = s.raw.Close() })
	return err
}

func (s *stream) setErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// toolBuffer accumulates partial-JSON input deltas for one tool_use block.
type toolBuffer struct {
	id        string
	name      string
	fragments strings.Builder
}

func (s *stream) run() {
	defer close(s.events)
	defer s.raw.Close()

	tools := make(map[int]*toolBuffer)
	textOpen := make(map[int]bool)
	stopReason := ""

	for s.raw.Next() {
		switch ev := s.raw.Current().AsAny().(type) {
		case sdk.ContentBlockStartEvent:
			idx := int(ev.Index)
			switch start := ev.ContentBlock.AsAny().(type) {
			case sdk.ToolUseBlock:
				if start.ID == "" || start.Name == "" {
					s.setErr(fmt.Errorf("anthropic: tool_use block missing id or name"))
					return
				}
				tools[idx] = &toolBuffer{id: start.ID, name: start.Name}
			case sdk.TextBlock:
				textOpen[idx] = true
			}
		case sdk.ContentBlockDeltaEvent:
			idx := int(ev.Index)
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text != "" {
					s.events <- llm.Event{Kind: llm.EventTextDelta, Text: delta.Text}
				}
			case sdk.InputJSONDelta:
				if tb := tools[idx]; tb != nil {
					tb.fragments.WriteString(delta.PartialJSON)
				}
			}
		case sdk.ContentBlockStopEvent:
			idx := int(ev.Index)
			if textOpen[idx] {
				delete(textOpen, idx)
				s.events <- llm.Event{Kind: llm.EventTextEnd}
			}
			if tb := tools[idx]; tb != nil {
				delete(tools, idx)
				input := tb.fragments.String()
				if input == "" {
					input = "{}"
				}
				s.events <- llm.Event{Kind: llm.EventToolUse, ToolUse: &llm.ToolUse{
					ID:    tb.id,
					Name:  tb.name,
					Input: json.RawMessage(input),
				}}
			}
		case sdk.MessageDeltaEvent:
			if r := string(ev.Delta.StopReason); r != "" {
				stopReason = r
			}
		case sdk.MessageStopEvent:
			s.events <- llm.Event{Kind: llm.EventStop, StopReason: stopReason}
		}
	}
	if err := s.raw.Err(); err != nil && !errors.Is(err, context.Canceled) {
		s.setErr(fmt.Errorf("anthropic: stream: %w", err))
	} else if err != nil {
		s.setErr(err)
	}
}
