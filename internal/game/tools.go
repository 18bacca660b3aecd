package game

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/astralforge/astral/pkg/provider/llm"
)

// RollDiceTool is the tool the orchestrator intercepts: instead of executing
// it here, the turn suspends so the player can trigger the roll.
const RollDiceTool = "roll_dice"

// dnd5eBaseURL is the public reference API backing lookup_monster and
// lookup_spell.
const dnd5eBaseURL = "https://www.dnd5eapi.co"

func objSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func strProp(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func intProp(desc string) map[string]any {
	return map[string]any{"type": "integer", "description": desc}
}

// ToolDefinitions returns the full tool surface offered to the DM model.
func ToolDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        RollDiceTool,
			Description: "Roll dice using standard notation (e.g., 1d20+5, 2d6, 2d20kh1 for advantage, 2d20kl1 for disadvantage). The player triggers the roll on their end.",
			InputSchema: objSchema(map[string]any{
				"notation": strProp("Dice notation (e.g., 1d20+5)"),
				"reason":   strProp("What the roll is for"),
			}, "notation"),
		},
		{
			Name:        "search_world",
			Description: "Search campaign world state — NPCs, locations, and plots.",
			InputSchema: objSchema(map[string]any{
				"query": strProp("Search query"),
			}, "query"),
		},
		{
			Name:        "get_character",
			Description: "Get the player character's current stats, HP, gold, and inventory.",
			InputSchema: objSchema(map[string]any{
				"name": strProp("Character name (optional, uses the active character if omitted)"),
			}),
		},
		{
			Name:        "update_hp",
			Description: "Apply damage (negative) or healing (positive) to the player character.",
			InputSchema: objSchema(map[string]any{
				"name":   strProp("Character name"),
				"amount": intProp("HP change (negative for damage, positive for healing)"),
				"reason": strProp("What caused the HP change"),
			}, "name", "amount"),
		},
		{
			Name:        "update_xp",
			Description: "Award experience points to the player character.",
			InputSchema: objSchema(map[string]any{
				"name":   strProp("Character name"),
				"amount": intProp("XP to award"),
			}, "name", "amount"),
		},
		{
			Name:        "update_inventory",
			Description: "Add or remove an item from the player character's inventory.",
			InputSchema: objSchema(map[string]any{
				"name":   strProp("Character name"),
				"action": map[string]any{"type": "string", "description": "add or remove", "enum": []string{"add", "remove"}},
				"item":   strProp("Item name"),
			}, "name", "action", "item"),
		},
		{
			Name:        "update_gold",
			Description: "Add (positive) or spend (negative) gold for the player character.",
			InputSchema: objSchema(map[string]any{
				"name":   strProp("Character name"),
				"amount": intProp("Gold change"),
			}, "name", "amount"),
		},
		{
			Name:        "get_npc",
			Description: "Get a known NPC's description, attitude, and event history.",
			InputSchema: objSchema(map[string]any{
				"name": strProp("NPC name"),
			}, "name"),
		},
		{
			Name:        "update_npc",
			Description: "Record an event in an NPC's history (a conversation, a favor, a grudge).",
			InputSchema: objSchema(map[string]any{
				"name":  strProp("NPC name"),
				"event": strProp("What happened"),
			}, "name", "event"),
		},
		{
			Name:        "create_npc",
			Description: "Create a new NPC the party has just met.",
			InputSchema: objSchema(map[string]any{
				"name":        strProp("NPC name"),
				"description": strProp("Who they are"),
				"attitude":    map[string]any{"type": "string", "description": "Disposition toward the party", "enum": validAttitudes},
			}, "name", "description", "attitude"),
		},
		{
			Name:        "get_location",
			Description: "Get a known location's description and event history.",
			InputSchema: objSchema(map[string]any{
				"name": strProp("Location name"),
			}, "name"),
		},
		{
			Name:        "move_party",
			Description: "Move the party to a new location.",
			InputSchema: objSchema(map[string]any{
				"destination": strProp("Where the party is going"),
			}, "destination"),
		},
		{
			Name:        "search_plots",
			Description: "Search active quests and story threads.",
			InputSchema: objSchema(map[string]any{
				"query": strProp("Search query (optional; empty returns all plots)"),
			}),
		},
		{
			Name:        "update_plot",
			Description: "Record progress on a quest or story thread, creating it if new.",
			InputSchema: objSchema(map[string]any{
				"name":  strProp("Plot/quest name"),
				"event": strProp("What happened"),
			}, "name", "event"),
		},
		{
			Name:        "lookup_monster",
			Description: "Look up a D&D 5e monster stat block (AC, HP, stats, actions).",
			InputSchema: objSchema(map[string]any{
				"name": strProp("Monster name (e.g., 'goblin', 'adult red dragon')"),
			}, "name"),
		},
		{
			Name:        "lookup_spell",
			Description: "Look up a D&D 5e spell (level, school, range, description).",
			InputSchema: objSchema(map[string]any{
				"name": strProp("Spell name (e.g., 'fireball', 'cure wounds')"),
			}, "name"),
		},
	}
}

// Outcome is the result of executing one tool call. Result is the JSON
// payload for the tool_result block; StateUpdate is non-nil when the call
// mutated character state the client should be told about.
type Outcome struct {
	Result      string
	StateUpdate json.RawMessage
}

// Handler executes tool calls against a campaign store. roll_dice never
// reaches it; the orchestrator suspends on that tool instead.
type Handler struct {
	store      *Store
	log        *slog.Logger
	httpClient *http.Client
	lookupURL  string
}

// HandlerOption is a functional option for configuring a Handler.
type HandlerOption func(*Handler)

// WithLookupBaseURL overrides the reference-API base URL. Used by tests.
func WithLookupBaseURL(url string) HandlerOption {
	return func(h *Handler) {
		h.lookupURL = url
	}
}

// WithHTTPClient overrides the HTTP client used for reference lookups.
func WithHTTPClient(c *http.Client) HandlerOption {
	return func(h *Handler) {
		h.httpClient = c
	}
}

// NewHandler creates a tool handler over the given store.
func NewHandler(store *Store, log *slog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		store:      store,
		log:        log,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		lookupURL:  dnd5eBaseURL,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Execute runs one tool call. Tool failures are reported inside the result
// payload (as {"error": ...}) so the model can recover; the returned error is
// reserved for encoding bugs.
func (h *Handler) Execute(ctx context.Context, name string, input json.RawMessage) (Outcome, error) {
	res, state, err := h.dispatch(ctx, name, input)
	if err != nil {
		h.log.Warn("tool call failed", "tool", name, "error", err)
		return encodeOutcome(map[string]string{"error": err.Error()}, nil)
	}
	return encodeOutcome(res, state)
}

func encodeOutcome(result any, state json.RawMessage) (Outcome, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return Outcome{}, fmt.Errorf("game: encode tool result: %w", err)
	}
	return Outcome{Result: string(data), StateUpdate: state}, nil
}

// characterUpdate builds the state payload sent to the client after a
// character mutation.
func characterUpdate(name string, c *Character) json.RawMessage {
	data, err := json.Marshal(map[string]any{"character": name, "sheet": c})
	if err != nil {
		return nil
	}
	return data
}

func (h *Handler) dispatch(ctx context.Context, name string, input json.RawMessage) (any, json.RawMessage, error) {
	var in struct {
		Name        string `json:"name"`
		Amount      int    `json:"amount"`
		Action      string `json:"action"`
		Item        string `json:"item"`
		Event       string `json:"event"`
		Description string `json:"description"`
		Attitude    string `json:"attitude"`
		Destination string `json:"destination"`
		Query       string `json:"query"`
		Reason      string `json:"reason"`
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, nil, fmt.Errorf("game: parse tool input: %w", err)
		}
	}

	switch name {
	case "get_character":
		c, resolved, err := h.store.GetCharacter(in.Name)
		if err != nil {
			return nil, nil, err
		}
		if c == nil {
			return nil, nil, fmt.Errorf("game: character not found")
		}
		return map[string]any{"name": resolved, "sheet": c}, nil, nil

	case "update_hp":
		c, err := h.store.ModifyHP(in.Name, in.Amount)
		if err != nil {
			return nil, nil, err
		}
		return map[string]any{"name": in.Name, "hp": c.HP, "reason": in.Reason}, characterUpdate(in.Name, c), nil

	case "update_xp":
		c, err := h.store.AwardXP(in.Name, in.Amount)
		if err != nil {
			return nil, nil, err
		}
		return map[string]any{"name": in.Name, "xp": c.XP}, characterUpdate(in.Name, c), nil

	case "update_inventory":
		c, err := h.store.ModifyInventory(in.Name, in.Action, in.Item)
		if err != nil {
			return nil, nil, err
		}
		return map[string]any{"name": in.Name, "inventory": c.Inventory}, characterUpdate(in.Name, c), nil

	case "update_gold":
		c, err := h.store.ModifyGold(in.Name, in.Amount)
		if err != nil {
			return nil, nil, err
		}
		return map[string]any{"name": in.Name, "gold": c.Gold}, characterUpdate(in.Name, c), nil

	case "get_npc":
		npc, err := h.store.GetNPC(in.Name)
		if err != nil {
			return nil, nil, err
		}
		if npc == nil {
			return nil, nil, fmt.Errorf("game: npc %q not found", in.Name)
		}
		return map[string]any{"name": in.Name, "npc": npc}, nil, nil

	case "update_npc":
		if err := h.store.UpdateNPC(in.Name, in.Event); err != nil {
			return nil, nil, err
		}
		return map[string]any{"success": true, "npc": in.Name, "event": in.Event}, nil, nil

	case "create_npc":
		if err := h.store.CreateNPC(in.Name, in.Description, in.Attitude); err != nil {
			return nil, nil, err
		}
		return map[string]any{"success": true, "npc": in.Name}, nil, nil

	case "get_location":
		loc, err := h.store.GetLocation(in.Name)
		if err != nil {
			return nil, nil, err
		}
		if loc == nil {
			return nil, nil, fmt.Errorf("game: location %q not found", in.Name)
		}
		return map[string]any{"name": in.Name, "location": loc}, nil, nil

	case "move_party":
		if err := h.store.MoveParty(in.Destination); err != nil {
			return nil, nil, err
		}
		return map[string]any{"success": true, "location": in.Destination}, nil, nil

	case "search_world":
		res, err := h.store.SearchWorld(in.Query)
		if err != nil {
			return nil, nil, err
		}
		return res, nil, nil

	case "search_plots":
		plots, err := h.store.SearchPlots(in.Query)
		if err != nil {
			return nil, nil, err
		}
		return map[string]any{"plots": plots}, nil, nil

	case "update_plot":
		if err := h.store.UpdatePlot(in.Name, in.Event); err != nil {
			return nil, nil, err
		}
		return map[string]any{"success": true, "plot": in.Name}, nil, nil

	case "lookup_monster":
		return h.lookup(ctx, "monsters", in.Name, monsterView)

	case "lookup_spell":
		return h.lookup(ctx, "spells", in.Name, spellView)
	}
	return nil, nil, fmt.Errorf("game: unknown tool %q", name)
}

// lookup fetches a reference entry from the 5e API and projects it through
// view into a compact result for the model.
func (h *Handler) lookup(ctx context.Context, kind, name string, view func(map[string]any) any) (any, json.RawMessage, error) {
	slug := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
	if slug == "" {
		return nil, nil, fmt.Errorf("game: lookup name must not be empty")
	}

	url := fmt.Sprintf("%s/api/%s/%s", h.lookupURL, kind, slug)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("game: build lookup request: %w", err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("game: lookup %s: %w", slug, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("game: %s %q not found", strings.TrimSuffix(kind, "s"), name)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, nil, fmt.Errorf("game: read lookup response: %w", err)
	}
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, nil, fmt.Errorf("game: parse lookup response: %w", err)
	}
	return view(data), nil, nil
}

// namedList projects [{name, desc}] pairs out of a 5e API sub-list.
func namedList(v any) []map[string]any {
	items, _ := v.([]any)
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, map[string]any{"name": m["name"], "desc": m["desc"]})
	}
	return out
}

func monsterView(data map[string]any) any {
	stats := map[string]any{
		"str": data["strength"],
		"dex": data["dexterity"],
		"con": data["constitution"],
		"int": data["intelligence"],
		"wis": data["wisdom"],
		"cha": data["charisma"],
	}
	return map[string]any{
		"name":              data["name"],
		"size":              data["size"],
		"type":              data["type"],
		"alignment":         data["alignment"],
		"ac":                data["armor_class"],
		"hp":                data["hit_points"],
		"hit_dice":          data["hit_dice"],
		"speed":             data["speed"],
		"stats":             stats,
		"cr":                data["challenge_rating"],
		"xp":                data["xp"],
		"actions":           namedList(data["actions"]),
		"special_abilities": namedList(data["special_abilities"]),
	}
}

func spellView(data map[string]any) any {
	school, _ := data["school"].(map[string]any)
	return map[string]any{
		"name":         data["name"],
		"level":        data["level"],
		"school":       school["name"],
		"casting_time": data["casting_time"],
		"range":        data["range"],
		"duration":     data["duration"],
		"components":   data["components"],
		"description":  joinStrings(data["desc"]),
		"higher_level": joinStrings(data["higher_level"]),
	}
}

func joinStrings(v any) string {
	items, _ := v.([]any)
	parts := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}
