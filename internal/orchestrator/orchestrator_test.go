package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/astralforge/astral/internal/game"
	"github.com/astralforge/astral/internal/observe"
	"github.com/astralforge/astral/pkg/provider/llm"
	llmmock "github.com/astralforge/astral/pkg/provider/llm/mock"
)

func testOrchestrator(t *testing.T, provider llm.Provider, opts ...Option) *Orchestrator {
	t.Helper()
	dir := t.TempDir()
	players, _ := json.Marshal(map[string]*game.Character{
		"Mira": {HP: game.HP{Current: 10, Max: 10}},
	})
	if err := os.WriteFile(filepath.Join(dir, "player.json"), players, 0o644); err != nil {
		t.Fatalf("seed players: %v", err)
	}
	store, err := game.NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics, err := observe.NewMetrics(sdkmetric.NewMeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	handler := game.NewHandler(store, log)
	return New(provider, handler, "test-model", 1024, log, metrics, opts...)
}

func drainEvents(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(5 * time.Second):
			t.Fatalf("turn did not finish; events so far: %+v", out)
		}
	}
}

func eventsOfKind(events []Event, kind EventKind) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestRunTurn_TextOnly(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{Responses: [][]llm.Event{{
		{Kind: llm.EventTextDelta, Text: "[NARRATE] The door opens. [NPC"},
		{Kind: llm.EventTextDelta, Text: ":Guard] Halt."},
		{Kind: llm.EventTextEnd},
		{Kind: llm.EventStop, StopReason: "end_turn"},
	}}}
	o := testOrchestrator(t, provider)

	events := drainEvents(t, o.RunTurn(context.Background(), "I open the door"))

	// The half-open [NPC must never leak into display text.
	var clean strings.Builder
	for _, ev := range eventsOfKind(events, EventTextDelta) {
		if strings.Contains(ev.Clean, "[NPC") {
			t.Errorf("half-open marker leaked into clean delta %q", ev.Clean)
		}
		clean.WriteString(ev.Clean)
	}
	want := " The door opens.  Guard:  Halt."
	if clean.String() != want {
		t.Errorf("clean text = %q, want %q", clean.String(), want)
	}

	raws := eventsOfKind(events, EventRawDelta)
	if len(raws) != 2 || raws[0].Raw != "[NARRATE] The door opens. [NPC" {
		t.Errorf("raw deltas = %+v", raws)
	}

	ends := eventsOfKind(events, EventTextEnd)
	if len(ends) != 1 {
		t.Fatalf("text_end events = %+v", ends)
	}
	if ends[0].Raw != "[NARRATE] The door opens. [NPC:Guard] Halt." || ends[0].Clean != want {
		t.Errorf("text_end = %+v", ends[0])
	}

	if provider.Calls() != 1 {
		t.Errorf("model called %d times", provider.Calls())
	}
}

func TestRunTurn_ToolRoundThenText(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{Responses: [][]llm.Event{
		{
			{Kind: llm.EventTextDelta, Text: "[NARRATE] The arrow bites deep. "},
			{Kind: llm.EventTextEnd},
			{Kind: llm.EventToolUse, ToolUse: &llm.ToolUse{
				ID:    "tu_1",
				Name:  "update_hp",
				Input: json.RawMessage(`{"name":"Mira","amount":-4,"reason":"goblin arrow"}`),
			}},
			{Kind: llm.EventStop, StopReason: "tool_use"},
		},
		{
			{Kind: llm.EventTextDelta, Text: "[NARRATE] You stagger but hold your ground. "},
			{Kind: llm.EventTextEnd},
			{Kind: llm.EventStop, StopReason: "end_turn"},
		},
	}}
	o := testOrchestrator(t, provider)

	events := drainEvents(t, o.RunTurn(context.Background(), "I charge the goblin"))

	states := eventsOfKind(events, EventState)
	if len(states) != 1 {
		t.Fatalf("state events = %+v", states)
	}
	if !strings.Contains(string(states[0].State), `"Mira"`) {
		t.Errorf("state payload = %s", states[0].State)
	}

	if provider.Calls() != 2 {
		t.Fatalf("model called %d times, want 2", provider.Calls())
	}
	// The second request must carry the tool result back to the model.
	second := provider.Requests[1]
	last := second.Messages[len(second.Messages)-1]
	if last.Role != llm.RoleUser || len(last.Blocks) != 1 || last.Blocks[0].Type != "tool_result" {
		t.Fatalf("last message = %+v", last)
	}
	if last.Blocks[0].ToolUseID != "tu_1" || !strings.Contains(last.Blocks[0].Content, `"current":6`) {
		t.Errorf("tool result block = %+v", last.Blocks[0])
	}

	if got := eventsOfKind(events, EventTextEnd); len(got) != 2 {
		t.Errorf("text_end events = %d", len(got))
	}
}

func TestRunTurn_RollSuspendsExactlyOnce(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{Responses: [][]llm.Event{
		{
			{Kind: llm.EventToolUse, ToolUse: &llm.ToolUse{
				ID:    "tu_roll",
				Name:  game.RollDiceTool,
				Input: json.RawMessage(`{"notation":"1d20+3","reason":"Dexterity save"}`),
			}},
			{Kind: llm.EventStop, StopReason: "tool_use"},
		},
		{
			{Kind: llm.EventTextDelta, Text: "[NARRATE] You twist clear of the blade. "},
			{Kind: llm.EventTextEnd},
			{Kind: llm.EventStop, StopReason: "end_turn"},
		},
	}}
	o := testOrchestrator(t, provider)

	ch := o.RunTurn(context.Background(), "I dodge")

	var events []Event
	suspensions := 0
	for ev := range ch {
		events = append(events, ev)
		if ev.Kind == EventRollRequest {
			suspensions++
			if ev.Roll.ToolUseID != "tu_roll" || ev.Roll.Notation != "1d20+3" || ev.Roll.Reason != "Dexterity save" {
				t.Errorf("roll request = %+v", ev.Roll)
			}
			o.ResolveRoll(&game.RollResult{
				Notation: "1d20+3",
				Type:     game.RollStandard,
				Rolls:    []int{15},
				Modifier: 3,
				Total:    18,
			})
		}
	}

	if suspensions != 1 {
		t.Fatalf("suspension count = %d, want 1", suspensions)
	}
	if provider.Calls() != 2 {
		t.Fatalf("model called %d times", provider.Calls())
	}
	// The resolved roll is visible to the model as the tool result.
	second := provider.Requests[1]
	last := second.Messages[len(second.Messages)-1]
	if !strings.Contains(last.Blocks[0].Content, `"total":18`) {
		t.Errorf("roll tool result = %+v", last.Blocks[0])
	}
	if len(eventsOfKind(events, EventTextEnd)) != 1 {
		t.Errorf("events = %+v", events)
	}
}

func TestRunTurn_ModelFailureEndsCleanly(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{StreamErr: io.ErrUnexpectedEOF}
	o := testOrchestrator(t, provider)

	events := drainEvents(t, o.RunTurn(context.Background(), "Hello?"))
	errs := eventsOfKind(events, EventError)
	if len(errs) != 1 || errs[0].Err == "" {
		t.Fatalf("error events = %+v", events)
	}
}

func TestRunTurn_ToolRoundBound(t *testing.T) {
	t.Parallel()
	// Every round asks for another tool call; the loop must stop at the bound.
	toolRound := []llm.Event{
		{Kind: llm.EventToolUse, ToolUse: &llm.ToolUse{
			ID:    "tu_x",
			Name:  "get_character",
			Input: json.RawMessage(`{}`),
		}},
		{Kind: llm.EventStop, StopReason: "tool_use"},
	}
	provider := &llmmock.Provider{Responses: [][]llm.Event{toolRound, toolRound, toolRound}}
	o := testOrchestrator(t, provider, WithMaxToolRounds(2))

	drainEvents(t, o.RunTurn(context.Background(), "Loop forever"))
	if provider.Calls() != 2 {
		t.Errorf("model called %d times, want 2", provider.Calls())
	}
}

func TestRunTurn_InvalidRollInputDoesNotSuspend(t *testing.T) {
	t.Parallel()
	provider := &llmmock.Provider{Responses: [][]llm.Event{
		{
			{Kind: llm.EventToolUse, ToolUse: &llm.ToolUse{
				ID:    "tu_bad",
				Name:  game.RollDiceTool,
				Input: json.RawMessage(`{}`),
			}},
			{Kind: llm.EventStop, StopReason: "tool_use"},
		},
		{
			{Kind: llm.EventTextEnd},
			{Kind: llm.EventStop, StopReason: "end_turn"},
		},
	}}
	o := testOrchestrator(t, provider)

	events := drainEvents(t, o.RunTurn(context.Background(), "Roll nothing"))
	if len(eventsOfKind(events, EventRollRequest)) != 0 {
		t.Fatalf("suspended on invalid roll input: %+v", events)
	}
	// The model gets an error tool result instead.
	second := provider.Requests[1]
	last := second.Messages[len(second.Messages)-1]
	if !last.Blocks[0].IsError {
		t.Errorf("tool result = %+v", last.Blocks[0])
	}
}

func TestOpeningMessage(t *testing.T) {
	t.Parallel()
	fresh := OpeningMessage(nil)
	if !strings.Contains(fresh, "first session") {
		t.Errorf("cold open prompt = %q", fresh)
	}
	recap := OpeningMessage([]byte("## Session 1\nThe party met in a tavern.\n\n--- End of Session ---\n"))
	if !strings.Contains(recap, "recap") || !strings.Contains(recap, "The party met in a tavern.") {
		t.Errorf("recap prompt = %q", recap)
	}
	if fresh == recap {
		t.Error("prompts do not differ")
	}

	// A log from a session that never wrapped up still cold-opens.
	if got := OpeningMessage([]byte("## Session 1\nUnfinished business.\n")); got != fresh {
		t.Errorf("unfinished log prompt = %q", got)
	}
}
