// Package marker defines the inline marker grammar the DM model embeds in its
// narration and the operations over it: batch parsing into typed segments,
// stripping markers for display, and (in streamparser.go) incremental parsing
// of a token-by-token text stream.
//
// The recognised wire forms are:
//
//	[NARRATE]            switch to the narrator voice; text follows
//	[NPC:<name>]         switch to the named NPC's voice; text follows
//	[AMBIENT:<desc>]     trigger an ambient loop (atomic, no body)
//	[SFX:<desc>]         trigger a one-shot sound effect (atomic, no body)
//	[ROLL:<notation>[:<label>]]  request a dice roll (atomic, no body)
//
// Kinds are case-insensitive on the wire; the canonical form is lower-case.
// A bracket pair that does not match any of the five forms is not a marker —
// it is passed through as literal narration text.
package marker

import (
	"strings"
)

// Kind identifies the type of a parsed segment.
type Kind string

const (
	KindNarrate Kind = "narrate"
	KindNPC     Kind = "npc"
	KindAmbient Kind = "ambient"
	KindSFX     Kind = "sfx"
	KindRoll    Kind = "roll"
)

// IsVoice reports whether k is a voice-context kind (narrator or NPC speech).
func (k Kind) IsVoice() bool {
	return k == KindNarrate || k == KindNPC
}

// Segment is the unit exchanged between the parser and the audio pipeline.
type Segment struct {
	// Kind is the canonical segment kind.
	Kind Kind

	// Content is the utterance text. Empty for ambient, sfx, and roll segments.
	Content string

	// Meta holds the NPC name for npc segments, the descriptive phrase for
	// ambient/sfx segments, and the raw tail after "ROLL:" (notation plus an
	// optional ":<label>") for roll segments. Empty for narrate segments.
	Meta string
}

// parseTag classifies the body of a bracket pair (the text between '[' and
// ']'). It returns the canonical kind and the meta payload, or ok=false when
// the body is not a recognised marker.
func parseTag(body string) (kind Kind, meta string, ok bool) {
	name, payload, hasPayload := strings.Cut(body, ":")
	switch strings.ToUpper(name) {
	case "NARRATE":
		if hasPayload {
			return "", "", false
		}
		return KindNarrate, "", true
	case "NPC":
		if !hasPayload || !validName(payload, false) {
			return "", "", false
		}
		return KindNPC, strings.TrimSpace(payload), true
	case "AMBIENT":
		if !hasPayload || !validName(payload, true) {
			return "", "", false
		}
		return KindAmbient, strings.TrimSpace(payload), true
	case "SFX":
		if !hasPayload || !validName(payload, true) {
			return "", "", false
		}
		return KindSFX, strings.TrimSpace(payload), true
	case "ROLL":
		if !hasPayload || payload == "" {
			return "", "", false
		}
		return KindRoll, payload, true
	}
	return "", "", false
}

// validName reports whether s is a plausible marker payload: letters, digits,
// underscores, spaces, apostrophes, and (when allowComma is set) commas.
// This mirrors what the DM model is prompted to produce and keeps stray
// bracketed prose (e.g. "[sic]", "[see: page 12]") out of the marker space.
func validName(s string, allowComma bool) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == ' ' || r == '\'' || r == '-':
		case r == ',' && allowComma:
		default:
			return false
		}
	}
	return true
}

// Parse splits a complete text into an ordered slice of segments. Voice text
// is segmented at sentence boundaries with the voice context in force at that
// point; ambient, sfx, and roll markers become standalone segments in stream
// order. Parse is defined as feeding the whole text to a [StreamParser] in
// one delta and flushing, so batch and streaming output are identical by
// construction.
func Parse(text string) []Segment {
	var segs []Segment
	p := NewStreamParser(func(s Segment) { segs = append(segs, s) })
	p.Feed(text)
	p.Flush()
	return segs
}

// Strip produces display-safe text: ambient, sfx, and roll markers are
// dropped entirely, [NARRATE] is dropped, and [NPC:Name] is rewritten as the
// literal "Name: ". Unrecognised bracket pairs are kept verbatim. Runs of
// three or more newlines collapse to two.
func Strip(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	pos := 0
	for pos < len(text) {
		open := strings.IndexByte(text[pos:], '[')
		if open == -1 {
			b.WriteString(text[pos:])
			break
		}
		open += pos
		b.WriteString(text[pos:open])

		close := strings.IndexByte(text[open:], ']')
		if close == -1 {
			// No closing bracket anywhere — literal text.
			b.WriteString(text[open:])
			break
		}
		close += open

		kind, meta, ok := parseTag(text[open+1 : close])
		switch {
		case !ok:
			b.WriteString(text[open : close+1])
		case kind == KindNPC:
			b.WriteString(meta)
			b.WriteString(": ")
		default:
			// narrate/ambient/sfx/roll markers vanish from display text.
		}
		pos = close + 1
	}

	return collapseNewlines(b.String())
}

// HoldBack returns the longest prefix of s that is safe to classify: if s
// ends in an opened bracket with no matching ']', the prefix stops just
// before that '['. Callers stripping a live stream use this to avoid showing
// half-written markers.
func HoldBack(s string) string {
	open := strings.LastIndexByte(s, '[')
	if open == -1 {
		return s
	}
	if strings.IndexByte(s[open:], ']') != -1 {
		return s
	}
	return s[:open]
}

// collapseNewlines reduces runs of three or more '\n' to exactly two.
func collapseNewlines(s string) string {
	if !strings.Contains(s, "\n\n\n") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	run := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			run++
			if run <= 2 {
				b.WriteByte('\n')
			}
			continue
		}
		run = 0
		b.WriteByte(s[i])
	}
	return b.String()
}
