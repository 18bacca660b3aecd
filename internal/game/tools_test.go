package game

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestHandler(t *testing.T, opts ...HandlerOption) (*Handler, *Store) {
	t.Helper()
	s := newTestStore(t)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewHandler(s, log, opts...), s
}

func TestToolDefinitions_CoverHandlerSurface(t *testing.T) {
	t.Parallel()
	defs := ToolDefinitions()
	byName := map[string]bool{}
	for _, d := range defs {
		if d.Description == "" || d.InputSchema == nil {
			t.Errorf("tool %s missing description or schema", d.Name)
		}
		byName[d.Name] = true
	}
	for _, want := range []string{
		RollDiceTool, "get_character", "update_hp", "update_xp", "update_inventory",
		"update_gold", "get_npc", "update_npc", "create_npc", "get_location",
		"move_party", "search_world", "search_plots", "update_plot",
		"lookup_monster", "lookup_spell",
	} {
		if !byName[want] {
			t.Errorf("tool %s not defined", want)
		}
	}
}

func TestExecute_UpdateHPEmitsStateUpdate(t *testing.T) {
	t.Parallel()
	h, s := newTestHandler(t)
	seedCharacter(t, s, "Mira", &Character{HP: HP{Current: 10, Max: 10}})

	out, err := h.Execute(context.Background(), "update_hp", json.RawMessage(`{"name":"Mira","amount":-4,"reason":"goblin arrow"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.Result, `"current":6`) {
		t.Errorf("result = %s", out.Result)
	}
	if out.StateUpdate == nil {
		t.Fatal("no state update for character mutation")
	}
	var state struct {
		Character string     `json:"character"`
		Sheet     *Character `json:"sheet"`
	}
	if err := json.Unmarshal(out.StateUpdate, &state); err != nil {
		t.Fatalf("parse state update: %v", err)
	}
	if state.Character != "Mira" || state.Sheet.HP.Current != 6 {
		t.Errorf("state update = %+v", state)
	}
}

func TestExecute_ReadOnlyToolsEmitNoStateUpdate(t *testing.T) {
	t.Parallel()
	h, s := newTestHandler(t)
	seedCharacter(t, s, "Mira", &Character{Class: "Rogue"})

	out, err := h.Execute(context.Background(), "get_character", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.StateUpdate != nil {
		t.Errorf("read-only tool produced state update: %s", out.StateUpdate)
	}
	if !strings.Contains(out.Result, "Rogue") {
		t.Errorf("result = %s", out.Result)
	}
}

func TestExecute_FailureIsReportedInResult(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t)

	out, err := h.Execute(context.Background(), "update_hp", json.RawMessage(`{"name":"Ghost","amount":-1}`))
	if err != nil {
		t.Fatalf("Execute returned hard error: %v", err)
	}
	if !strings.Contains(out.Result, "error") {
		t.Errorf("failure not embedded in result: %s", out.Result)
	}

	out, err = h.Execute(context.Background(), "no_such_tool", nil)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.Result, "unknown tool") {
		t.Errorf("unknown tool result = %s", out.Result)
	}
}

func TestExecute_LookupMonster(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/monsters/adult-red-dragon" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"name":             "Adult Red Dragon",
			"hit_points":       256,
			"challenge_rating": 17,
			"actions":          []map[string]any{{"name": "Bite", "desc": "Melee attack."}},
		})
	}))
	defer srv.Close()

	h, _ := newTestHandler(t, WithLookupBaseURL(srv.URL))
	out, err := h.Execute(context.Background(), "lookup_monster", json.RawMessage(`{"name":"Adult Red Dragon"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.Result, `"hp":256`) || !strings.Contains(out.Result, "Bite") {
		t.Errorf("result = %s", out.Result)
	}

	out, err = h.Execute(context.Background(), "lookup_monster", json.RawMessage(`{"name":"made up beast"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.Result, "not found") {
		t.Errorf("missing monster result = %s", out.Result)
	}
}

func TestExecute_LookupSpell(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/spells/fireball" {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"name":   "Fireball",
			"level":  3,
			"school": map[string]any{"name": "Evocation"},
			"desc":   []string{"A bright streak flashes.", "Each creature takes 8d6 fire damage."},
		})
	}))
	defer srv.Close()

	h, _ := newTestHandler(t, WithLookupBaseURL(srv.URL))
	out, err := h.Execute(context.Background(), "lookup_spell", json.RawMessage(`{"name":"Fireball"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out.Result, "Evocation") || !strings.Contains(out.Result, "8d6 fire damage") {
		t.Errorf("result = %s", out.Result)
	}
}
