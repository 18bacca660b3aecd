package pipeline

import (
	"testing"

	"github.com/astralforge/astral/internal/marker"
)

func TestParseMode(t *testing.T) {
	t.Parallel()
	for _, valid := range []string{"full", "dialogue", "ambient", "off"} {
		if _, err := ParseMode(valid); err != nil {
			t.Errorf("ParseMode(%q): %v", valid, err)
		}
	}
	for _, invalid := range []string{"", "FULL", "mute", "all"} {
		if _, err := ParseMode(invalid); err == nil {
			t.Errorf("ParseMode(%q) accepted", invalid)
		}
	}
}

func TestMode_Allows(t *testing.T) {
	t.Parallel()
	tests := []struct {
		mode Mode
		want map[marker.Kind]bool
	}{
		{ModeFull, map[marker.Kind]bool{marker.KindNarrate: true, marker.KindNPC: true, marker.KindAmbient: true, marker.KindSFX: true}},
		{ModeDialogue, map[marker.Kind]bool{marker.KindNarrate: false, marker.KindNPC: true, marker.KindAmbient: true, marker.KindSFX: true}},
		{ModeAmbient, map[marker.Kind]bool{marker.KindNarrate: false, marker.KindNPC: false, marker.KindAmbient: true, marker.KindSFX: true}},
		{ModeOff, map[marker.Kind]bool{marker.KindNarrate: false, marker.KindNPC: false, marker.KindAmbient: false, marker.KindSFX: false}},
	}
	for _, tt := range tests {
		for kind, want := range tt.want {
			if got := tt.mode.Allows(kind); got != want {
				t.Errorf("%s.Allows(%s) = %v, want %v", tt.mode, kind, got, want)
			}
		}
	}
}
