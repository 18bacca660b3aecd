// Package llm defines the streaming Provider interface for the language-model
// backend that drives the DM agent.
//
// The orchestrator needs more than a flat token stream: tool-use blocks arrive
// interleaved with text inside one model response, and the turn loop must see
// each as a discrete event in stream order. Providers therefore emit typed
// [Event] values — text deltas, completed tool-use blocks, and a final stop —
// rather than raw chunks.
//
// Implementations must be safe for concurrent use; each Stream call is an
// independent request.
package llm

import (
	"context"
	"encoding/json"
)

// Role of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Block is one content block inside a conversation message. Type selects
// which fields are meaningful.
type Block struct {
	// Type is "text", "tool_use", or "tool_result".
	Type string

	// Text content, for text blocks.
	Text string

	// Tool-use fields: the model-assigned call ID, the tool name, and the
	// raw JSON input.
	ID    string
	Name  string
	Input json.RawMessage

	// Tool-result fields: the ID of the tool_use block being answered, the
	// result payload, and whether it represents a failure.
	ToolUseID string
	Content   string
	IsError   bool
}

// TextBlock builds a text content block.
func TextBlock(text string) Block {
	return Block{Type: "text", Text: text}
}

// ToolUseBlock builds a tool-use content block.
func ToolUseBlock(id, name string, input json.RawMessage) Block {
	return Block{Type: "tool_use", ID: id, Name: name, Input: input}
}

// ToolResultBlock builds a tool-result content block.
func ToolResultBlock(toolUseID, content string, isError bool) Block {
	return Block{Type: "tool_result", ToolUseID: toolUseID, Content: content, IsError: isError}
}

// Message is one turn of conversation history.
type Message struct {
	Role   Role
	Blocks []Block
}

// ToolDefinition describes one tool offered to the model.
type ToolDefinition struct {
	Name        string
	Description string

	// InputSchema is a JSON Schema object for the tool input.
	InputSchema map[string]any
}

// Request carries everything one streaming model call needs. Messages must be
// non-empty.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolDefinition
	MaxTokens int
}

// EventKind discriminates stream events.
type EventKind string

const (
	// EventTextDelta carries an incremental text fragment in Text.
	EventTextDelta EventKind = "text_delta"

	// EventTextEnd marks the end of one text content block.
	EventTextEnd EventKind = "text_end"

	// EventToolUse carries a completed tool-use block (full input JSON
	// assembled) in ToolUse.
	EventToolUse EventKind = "tool_use"

	// EventStop is the final event of a successful stream; StopReason holds
	// the model's stop reason (e.g. "end_turn", "tool_use", "max_tokens").
	EventStop EventKind = "stop"
)

// ToolUse is a completed tool invocation requested by the model.
type ToolUse struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// Event is one element of a model response stream.
type Event struct {
	Kind       EventKind
	Text       string
	ToolUse    *ToolUse
	StopReason string
}

// Stream is a single in-flight model response.
//
// Events yields events in stream order and is closed when the response ends,
// successfully or not; after it closes, Err reports the terminal error, if
// any. Close releases the underlying connection early and is safe to call
// more than once.
type Stream interface {
	Events() <-chan Event
	Err() error
	Close() error
}

// Provider is the abstraction over the model backend.
type Provider interface {
	// Stream starts one streaming completion. It returns an error only when
	// the request cannot be started; failures mid-response surface through
	// [Stream.Err] after the event channel closes.
	Stream(ctx context.Context, req Request) (Stream, error)
}
