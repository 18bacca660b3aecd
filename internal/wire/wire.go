// Package wire defines the JSON message types exchanged with a connected
// client over the session socket. A single [Message] struct covers every
// server→client shape; omitempty keeps each encoded message down to the
// fields its type actually carries, so cached opening turns replay
// byte-compatible with live ones.
package wire

import "encoding/json"

// Server→client message types.
const (
	TypeState       = "state"
	TypeTextDelta   = "text_delta"
	TypeTextEnd     = "text_end"
	TypeAudio       = "audio"
	TypeRollRequest = "roll_request"
	TypeRollResult  = "roll_result"
	TypeError       = "error"
)

// Client→server message types. Player utterances carry no type field at all,
// only "message".
const (
	TypeSetAudioMode = "set_audio_mode"
	TypeRollExecute  = "roll_execute"
	TypeRollAck      = "roll_ack"
)

// Audio channels.
const (
	ChannelVoice   = "voice"
	ChannelAmbient = "ambient"
	ChannelSFX     = "sfx"
)

// Message is a server→client protocol message.
type Message struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`

	// Audio fields.
	Channel string `json:"channel,omitempty"`
	Speaker string `json:"speaker,omitempty"`
	Data    []byte `json:"data,omitempty"` // encoding/json base64-encodes []byte

	// State fields.
	Updates json.RawMessage `json:"updates,omitempty"`

	// Roll request fields.
	ToolUseID string `json:"tool_use_id,omitempty"`
	Notation  string `json:"notation,omitempty"`
	Reason    string `json:"reason,omitempty"`

	// Roll result fields. RollType is the remapped name for the roller's
	// internal "type" field, which would otherwise collide with the
	// transport-level Type above.
	RollType  string `json:"roll_type,omitempty"`
	Rolls     []int  `json:"rolls,omitempty"`
	Kept      []int  `json:"kept,omitempty"`
	Discarded []int  `json:"discarded,omitempty"`
	Modifier  *int   `json:"modifier,omitempty"`
	Total     *int   `json:"total,omitempty"`
	Natural20 bool   `json:"natural_20,omitempty"`
	Natural1  bool   `json:"natural_1,omitempty"`
}

// Inbound is a client→server message. Exactly one of Message (player
// utterance) or Type (control message) is expected to be set.
type Inbound struct {
	Type    string `json:"type,omitempty"`
	Message string `json:"message,omitempty"`
	Mode    string `json:"mode,omitempty"`
}

// TextDelta builds a clean-text streaming delta.
func TextDelta(content string) Message {
	return Message{Type: TypeTextDelta, Content: content}
}

// TextEnd builds the end-of-turn message carrying the full display text.
func TextEnd(content string) Message {
	return Message{Type: TypeTextEnd, Content: content}
}

// Voice builds a voice-channel audio message attributed to a speaker
// ("narrator" or an NPC name).
func Voice(speaker string, data []byte) Message {
	return Message{Type: TypeAudio, Channel: ChannelVoice, Speaker: speaker, Data: data}
}

// Ambient builds an ambient-loop audio message.
func Ambient(data []byte) Message {
	return Message{Type: TypeAudio, Channel: ChannelAmbient, Data: data}
}

// SFX builds a one-shot sound-effect audio message.
func SFX(data []byte) Message {
	return Message{Type: TypeAudio, Channel: ChannelSFX, Data: data}
}

// State builds a character/world state update message.
func State(updates json.RawMessage) Message {
	return Message{Type: TypeState, Updates: updates}
}

// RollRequest builds the dice-handshake request forwarded to the client.
func RollRequest(toolUseID, notation, reason string) Message {
	return Message{Type: TypeRollRequest, ToolUseID: toolUseID, Notation: notation, Reason: reason}
}

// Error builds a client-visible error message.
func Error(content string) Message {
	return Message{Type: TypeError, Content: content}
}
