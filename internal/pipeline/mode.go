package pipeline

import (
	"fmt"

	"github.com/astralforge/astral/internal/marker"
)

// Mode is the session audio filter. It decides which segment kinds become
// work items; suppressed segments are neither generated nor enqueued.
type Mode string

const (
	// ModeFull allows every audio kind.
	ModeFull Mode = "full"

	// ModeDialogue drops narrator speech but keeps NPC voices and effects.
	ModeDialogue Mode = "dialogue"

	// ModeAmbient drops all speech, keeping ambient loops and effects.
	ModeAmbient Mode = "ambient"

	// ModeOff disables audio entirely.
	ModeOff Mode = "off"
)

// ParseMode validates a client-supplied mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeFull, ModeDialogue, ModeAmbient, ModeOff:
		return Mode(s), nil
	}
	return "", fmt.Errorf("pipeline: unknown audio mode %q", s)
}

// Allows reports whether segments of kind k pass the filter.
func (m Mode) Allows(k marker.Kind) bool {
	switch m {
	case ModeFull:
		return k == marker.KindNarrate || k == marker.KindNPC || k == marker.KindAmbient || k == marker.KindSFX
	case ModeDialogue:
		return k == marker.KindNPC || k == marker.KindAmbient || k == marker.KindSFX
	case ModeAmbient:
		return k == marker.KindAmbient || k == marker.KindSFX
	}
	return false
}
