package marker

import "strings"

// StreamParser consumes raw text deltas — opaque fragments that arrive in
// order and may split a marker at any byte — and emits segments as soon as
// they can be classified unambiguously.
//
// The parser maintains a scan cursor over a growing raw buffer. The cursor
// only advances past bytes whose classification (marker vs. narration) is
// settled: an opened '[' with no matching ']' halts scanning until more input
// arrives, so a partial marker is never emitted and a ']'-less prefix is
// never misclassified.
//
// Voice text accumulates under the current voice context — (narrate, "") at
// start, updated by [NARRATE] and [NPC:name] markers — and is emitted one
// sentence at a time as boundaries appear. A voice switch flushes the pending
// accumulator under the old context first, even mid-sentence.
//
// StreamParser is not safe for concurrent use; a pipeline owns exactly one.
type StreamParser struct {
	emit func(Segment)

	buf string // raw input accumulated so far
	pos int    // scan cursor into buf

	ctxKind Kind   // current voice context: narrate or npc
	ctxName string // NPC name when ctxKind == KindNPC

	voice strings.Builder // voice text pending sentence segmentation
}

// NewStreamParser creates a parser that calls emit for each completed
// segment, in stream order. emit must not call back into the parser.
func NewStreamParser(emit func(Segment)) *StreamParser {
	return &StreamParser{
		emit:    emit,
		ctxKind: KindNarrate,
	}
}

// Feed appends a raw delta and scans for newly classifiable input. It never
// blocks and may emit zero or more segments synchronously.
func (p *StreamParser) Feed(delta string) {
	if delta == "" {
		return
	}
	p.buf += delta
	p.scan()
}

// Flush emits any residual voice-buffer text as one trailing segment under
// the current voice context, trimmed. Call at end of turn.
func (p *StreamParser) Flush() {
	p.flushVoice()
}

// Context returns the current voice context.
func (p *StreamParser) Context() (Kind, string) {
	return p.ctxKind, p.ctxName
}

// scan walks the raw buffer from the cursor, routing narration bytes to the
// voice accumulator and handling complete markers. It stops at an unclosed
// '[' and leaves the cursor there.
func (p *StreamParser) scan() {
	for p.pos < len(p.buf) {
		bracket := strings.IndexByte(p.buf[p.pos:], '[')
		if bracket == -1 {
			p.voice.WriteString(p.buf[p.pos:])
			p.pos = len(p.buf)
			p.emitSentences()
			return
		}
		bracket += p.pos

		if bracket > p.pos {
			p.voice.WriteString(p.buf[p.pos:bracket])
			p.emitSentences()
		}

		close := strings.IndexByte(p.buf[bracket:], ']')
		if close == -1 {
			// Incomplete marker — wait for more input.
			p.pos = bracket
			return
		}
		close += bracket

		kind, meta, ok := parseTag(p.buf[bracket+1 : close])
		if !ok {
			// Not a marker: the whole bracket pair is literal narration.
			p.voice.WriteString(p.buf[bracket : close+1])
			p.pos = close + 1
			p.emitSentences()
			continue
		}

		switch kind {
		case KindAmbient, KindSFX:
			// Standalone trigger; the voice buffer is left untouched.
			p.emit(Segment{Kind: kind, Meta: meta})
		case KindNarrate, KindNPC:
			p.flushVoice()
			p.ctxKind = kind
			if kind == KindNPC {
				p.ctxName = meta
			} else {
				p.ctxName = ""
			}
		case KindRoll:
			// Rolls are resolved at the orchestrator layer; just make sure
			// preceding speech is not held hostage by the suspension.
			p.flushVoice()
		}
		p.pos = close + 1
	}
}

// emitSentences drains complete sentences from the voice accumulator, each
// under the current voice context.
func (p *StreamParser) emitSentences() {
	for {
		end := sentenceEnd(p.voice.String())
		if end < 0 {
			return
		}
		text := p.voice.String()
		sentence := strings.TrimSpace(text[:end])
		rest := text[end:]
		p.voice.Reset()
		p.voice.WriteString(rest)
		if sentence != "" {
			p.emitVoice(sentence)
		}
	}
}

// flushVoice emits the trimmed remainder of the voice accumulator, if any.
func (p *StreamParser) flushVoice() {
	text := strings.TrimSpace(p.voice.String())
	p.voice.Reset()
	if text != "" {
		p.emitVoice(text)
	}
}

func (p *StreamParser) emitVoice(text string) {
	p.emit(Segment{Kind: p.ctxKind, Content: text, Meta: p.ctxName})
}

// sentenceEnd returns the index one past the first sentence boundary in s, or
// -1 when s contains no complete sentence. A boundary is terminal punctuation
// ('.', '!', '?') that is not part of an ellipsis, optionally followed by a
// single closing quote, then a whitespace byte. The returned index includes
// that whitespace byte, matching the accumulator split the caller performs.
func sentenceEnd(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		// "..": a period preceded by another period never ends a sentence.
		if c == '.' && i > 0 && s[i-1] == '.' {
			continue
		}
		j := i + 1
		if j < len(s) && (s[j] == '"' || s[j] == '\'') {
			j++
		}
		if j < len(s) && isSpace(s[j]) {
			return j + 1
		}
	}
	return -1
}

func isSpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}
