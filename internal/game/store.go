package game

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Campaign state file names, all under the campaign data directory.
const (
	playersFile    = "player.json"
	npcsFile       = "npcs.json"
	locationsFile  = "locations.json"
	plotsFile      = "plots.json"
	sessionFile    = "session.json"
	sessionLogFile = "session-log.md"
)

// HP is a current/max hit-point pair.
type HP struct {
	Current int `json:"current"`
	Max     int `json:"max"`
}

// Character is one player character sheet.
type Character struct {
	Race      string   `json:"race,omitempty"`
	Class     string   `json:"class,omitempty"`
	Level     int      `json:"level,omitempty"`
	HP        HP       `json:"hp"`
	XP        int      `json:"xp"`
	Gold      int      `json:"gold"`
	Inventory []string `json:"inventory,omitempty"`
}

// NPC is one non-player character entry.
type NPC struct {
	Description string    `json:"description"`
	Attitude    string    `json:"attitude"`
	Created     time.Time `json:"created"`
	Events      []string  `json:"events"`
}

// Location is one known place in the campaign world.
type Location struct {
	Description string   `json:"description,omitempty"`
	Visited     bool     `json:"visited,omitempty"`
	Events      []string `json:"events,omitempty"`
}

// Plot is one quest or story thread.
type Plot struct {
	Description string   `json:"description,omitempty"`
	Status      string   `json:"status,omitempty"`
	Events      []string `json:"events,omitempty"`
}

// sessionState is the small mutable session header (session.json).
type sessionState struct {
	CurrentLocation string `json:"current_location,omitempty"`
}

// validAttitudes are the accepted dispositions for a new NPC.
var validAttitudes = []string{"friendly", "neutral", "hostile"}

// Store is the campaign state: a directory of flat JSON files plus the
// markdown session log. All mutating operations are read-modify-write with an
// atomic rename, serialized by an internal mutex; one Store is owned by one
// session.
type Store struct {
	mu  sync.Mutex
	dir string
}

// NewStore opens (creating if needed) a campaign data directory.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("game: store dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("game: create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the campaign data directory.
func (s *Store) Dir() string { return s.dir }

// load reads a JSON file into v. A missing file leaves v untouched, so
// callers pass in an initialized empty value.
func (s *Store) load(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("game: read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("game: parse %s: %w", name, err)
	}
	return nil
}

// save writes v as indented JSON through a staging file and atomic rename.
func (s *Store) save(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("game: encode %s: %w", name, err)
	}
	final := filepath.Join(s.dir, name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("game: write %s: %w", name, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("game: commit %s: %w", name, err)
	}
	return nil
}

// ─── Characters ───

// GetCharacter returns the named character, or the first character (by sorted
// name) when name is empty. ok=false when no such character exists.
func (s *Store) GetCharacter(name string) (*Character, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCharacterLocked(name)
}

func (s *Store) getCharacterLocked(name string) (*Character, string, error) {
	players := map[string]*Character{}
	if err := s.load(playersFile, &players); err != nil {
		return nil, "", err
	}
	if name == "" {
		names := make([]string, 0, len(players))
		for n := range players {
			names = append(names, n)
		}
		if len(names) == 0 {
			return nil, "", nil
		}
		sort.Strings(names)
		name = names[0]
	}
	return players[name], name, nil
}

// mutateCharacter applies fn to the named character and persists the result.
func (s *Store) mutateCharacter(name string, fn func(*Character)) (*Character, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	players := map[string]*Character{}
	if err := s.load(playersFile, &players); err != nil {
		return nil, err
	}
	c := players[name]
	if c == nil {
		return nil, fmt.Errorf("game: character %q not found", name)
	}
	fn(c)
	if err := s.save(playersFile, players); err != nil {
		return nil, err
	}
	return c, nil
}

// ModifyHP applies a hit-point delta (negative for damage) clamped to
// [0, max].
func (s *Store) ModifyHP(name string, amount int) (*Character, error) {
	return s.mutateCharacter(name, func(c *Character) {
		c.HP.Current += amount
		if c.HP.Current < 0 {
			c.HP.Current = 0
		}
		if c.HP.Max > 0 && c.HP.Current > c.HP.Max {
			c.HP.Current = c.HP.Max
		}
	})
}

// AwardXP adds experience points.
func (s *Store) AwardXP(name string, amount int) (*Character, error) {
	return s.mutateCharacter(name, func(c *Character) {
		c.XP += amount
		if c.XP < 0 {
			c.XP = 0
		}
	})
}

// ModifyGold applies a gold delta, floored at zero.
func (s *Store) ModifyGold(name string, amount int) (*Character, error) {
	return s.mutateCharacter(name, func(c *Character) {
		c.Gold += amount
		if c.Gold < 0 {
			c.Gold = 0
		}
	})
}

// ModifyInventory adds or removes an item. action is "add" or "remove";
// removing an item that is not held is a no-op.
func (s *Store) ModifyInventory(name, action, item string) (*Character, error) {
	if action != "add" && action != "remove" {
		return nil, fmt.Errorf("game: inventory action %q must be add or remove", action)
	}
	return s.mutateCharacter(name, func(c *Character) {
		if action == "add" {
			c.Inventory = append(c.Inventory, item)
			return
		}
		for i, held := range c.Inventory {
			if strings.EqualFold(held, item) {
				c.Inventory = append(c.Inventory[:i], c.Inventory[i+1:]...)
				return
			}
		}
	})
}

// ─── NPCs ───

// GetNPC returns the named NPC or nil when unknown.
func (s *Store) GetNPC(name string) (*NPC, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	npcs := map[string]*NPC{}
	if err := s.load(npcsFile, &npcs); err != nil {
		return nil, err
	}
	return npcs[name], nil
}

// CreateNPC adds a new NPC. Attitude must be friendly, neutral, or hostile;
// a duplicate name is an error.
func (s *Store) CreateNPC(name, description, attitude string) error {
	attitude = strings.ToLower(attitude)
	valid := false
	for _, a := range validAttitudes {
		if a == attitude {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("game: attitude %q must be one of %v", attitude, validAttitudes)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	npcs := map[string]*NPC{}
	if err := s.load(npcsFile, &npcs); err != nil {
		return err
	}
	if _, exists := npcs[name]; exists {
		return fmt.Errorf("game: npc %q already exists", name)
	}
	npcs[name] = &NPC{
		Description: description,
		Attitude:    attitude,
		Created:     time.Now().UTC(),
		Events:      []string{},
	}
	return s.save(npcsFile, npcs)
}

// UpdateNPC appends an event to the named NPC's history.
func (s *Store) UpdateNPC(name, event string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	npcs := map[string]*NPC{}
	if err := s.load(npcsFile, &npcs); err != nil {
		return err
	}
	npc := npcs[name]
	if npc == nil {
		return fmt.Errorf("game: npc %q not found", name)
	}
	npc.Events = append(npc.Events, event)
	return s.save(npcsFile, npcs)
}

// ─── Locations ───

// GetLocation returns the named location or nil when unknown.
func (s *Store) GetLocation(name string) (*Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	locs := map[string]*Location{}
	if err := s.load(locationsFile, &locs); err != nil {
		return nil, err
	}
	return locs[name], nil
}

// MoveParty sets the party's current location, creating the destination
// entry (marked visited) when it does not exist yet.
func (s *Store) MoveParty(destination string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	locs := map[string]*Location{}
	if err := s.load(locationsFile, &locs); err != nil {
		return err
	}
	loc := locs[destination]
	if loc == nil {
		loc = &Location{}
		locs[destination] = loc
	}
	loc.Visited = true
	if err := s.save(locationsFile, locs); err != nil {
		return err
	}

	var state sessionState
	if err := s.load(sessionFile, &state); err != nil {
		return err
	}
	state.CurrentLocation = destination
	return s.save(sessionFile, &state)
}

// CurrentLocation returns the party's current location name, if set.
func (s *Store) CurrentLocation() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var state sessionState
	if err := s.load(sessionFile, &state); err != nil {
		return "", err
	}
	return state.CurrentLocation, nil
}

// ─── Plots ───

// UpdatePlot appends an event to a plot, creating the plot (status "active")
// when it does not exist yet.
func (s *Store) UpdatePlot(name, event string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	plots := map[string]*Plot{}
	if err := s.load(plotsFile, &plots); err != nil {
		return err
	}
	p := plots[name]
	if p == nil {
		p = &Plot{Status: "active"}
		plots[name] = p
	}
	p.Events = append(p.Events, event)
	return s.save(plotsFile, plots)
}

// SearchPlots returns plots whose name, description, status, or events
// contain the query, case-insensitively. An empty query returns everything.
func (s *Store) SearchPlots(query string) (map[string]*Plot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	plots := map[string]*Plot{}
	if err := s.load(plotsFile, &plots); err != nil {
		return nil, err
	}
	if query == "" {
		return plots, nil
	}
	matches := map[string]*Plot{}
	for name, p := range plots {
		if matchesQuery(query, name, p.Description, p.Status, strings.Join(p.Events, " ")) {
			matches[name] = p
		}
	}
	return matches, nil
}

// ─── World search ───

// SearchResult groups cross-file matches for one world search.
type SearchResult struct {
	NPCs      map[string]*NPC      `json:"npcs,omitempty"`
	Locations map[string]*Location `json:"locations,omitempty"`
	Plots     map[string]*Plot     `json:"plots,omitempty"`
}

// SearchWorld performs a case-insensitive substring search across NPCs,
// locations, and plots.
func (s *Store) SearchWorld(query string) (*SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := &SearchResult{}

	npcs := map[string]*NPC{}
	if err := s.load(npcsFile, &npcs); err != nil {
		return nil, err
	}
	for name, n := range npcs {
		if matchesQuery(query, name, n.Description, n.Attitude, strings.Join(n.Events, " ")) {
			if res.NPCs == nil {
				res.NPCs = map[string]*NPC{}
			}
			res.NPCs[name] = n
		}
	}

	locs := map[string]*Location{}
	if err := s.load(locationsFile, &locs); err != nil {
		return nil, err
	}
	for name, l := range locs {
		if matchesQuery(query, name, l.Description, strings.Join(l.Events, " ")) {
			if res.Locations == nil {
				res.Locations = map[string]*Location{}
			}
			res.Locations[name] = l
		}
	}

	plots := map[string]*Plot{}
	if err := s.load(plotsFile, &plots); err != nil {
		return nil, err
	}
	for name, p := range plots {
		if matchesQuery(query, name, p.Description, p.Status, strings.Join(p.Events, " ")) {
			if res.Plots == nil {
				res.Plots = map[string]*Plot{}
			}
			res.Plots[name] = p
		}
	}

	return res, nil
}

func matchesQuery(query string, fields ...string) bool {
	q := strings.ToLower(query)
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

// ─── Session log ───

// SessionLog returns the raw session-log bytes. A missing log yields nil,
// which the opening cache treats as a fresh campaign.
func (s *Store) SessionLog() ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, sessionLogFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("game: read session log: %w", err)
	}
	return data, nil
}

// AppendSessionLog appends a block of text to the session log.
func (s *Store) AppendSessionLog(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(filepath.Join(s.dir, sessionLogFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("game: open session log: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return fmt.Errorf("game: append session log: %w", err)
	}
	return nil
}
