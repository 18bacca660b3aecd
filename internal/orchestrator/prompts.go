package orchestrator

import (
	"bytes"
	_ "embed"
	"strings"
)

// endOfSessionMarker is the line the session log gains when a play session
// wraps up. Its presence is what makes the next opening a recap rather than a
// cold open.
const endOfSessionMarker = "end of session"

//go:embed prompts/dm_system.md
var dmSystemPrompt string

//go:embed prompts/opening_new.md
var openingNewPrompt string

//go:embed prompts/opening_recap.md
var openingRecapPrompt string

// SystemPrompt returns the embedded DM system prompt.
func SystemPrompt() string {
	return dmSystemPrompt
}

// OpeningMessage builds the synthetic player message that starts a session's
// first turn. A campaign whose session log has no completed session gets the
// cold-open prompt; one with a wrapped-up session gets the recap prompt with
// the log appended.
func OpeningMessage(sessionLog []byte) string {
	if !bytes.Contains(bytes.ToLower(sessionLog), []byte(endOfSessionMarker)) {
		return openingNewPrompt
	}
	var b strings.Builder
	b.WriteString(openingRecapPrompt)
	b.WriteString("\n\n---\n\n")
	b.Write(sessionLog)
	return b.String()
}
