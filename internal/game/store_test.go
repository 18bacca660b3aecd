package game

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func seedCharacter(t *testing.T, s *Store, name string, c *Character) {
	t.Helper()
	data, err := json.Marshal(map[string]*Character{name: c})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), playersFile), data, 0o644); err != nil {
		t.Fatalf("seed players: %v", err)
	}
}

func TestStore_GetCharacter(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	seedCharacter(t, s, "Thorin", &Character{Class: "Fighter", HP: HP{Current: 12, Max: 12}})

	c, name, err := s.GetCharacter("Thorin")
	if err != nil {
		t.Fatalf("GetCharacter: %v", err)
	}
	if c == nil || name != "Thorin" || c.Class != "Fighter" {
		t.Errorf("got %+v, %q", c, name)
	}

	// Empty name resolves to the active (only) character.
	c, name, err = s.GetCharacter("")
	if err != nil {
		t.Fatalf("GetCharacter: %v", err)
	}
	if c == nil || name != "Thorin" {
		t.Errorf("default lookup = %+v, %q", c, name)
	}

	if c, _, err := s.GetCharacter("Nobody"); err != nil || c != nil {
		t.Errorf("unknown character = %+v, %v", c, err)
	}
}

func TestStore_ModifyHPClamps(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	seedCharacter(t, s, "Mira", &Character{HP: HP{Current: 8, Max: 10}})

	c, err := s.ModifyHP("Mira", -20)
	if err != nil {
		t.Fatalf("ModifyHP: %v", err)
	}
	if c.HP.Current != 0 {
		t.Errorf("damage did not floor at 0: %+v", c.HP)
	}

	c, err = s.ModifyHP("Mira", 99)
	if err != nil {
		t.Fatalf("ModifyHP: %v", err)
	}
	if c.HP.Current != 10 {
		t.Errorf("healing exceeded max: %+v", c.HP)
	}

	// The mutation must be durable.
	c, _, err = s.GetCharacter("Mira")
	if err != nil || c.HP.Current != 10 {
		t.Errorf("persisted HP = %+v, %v", c, err)
	}
}

func TestStore_ModifyHPUnknownCharacter(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if _, err := s.ModifyHP("Ghost", -1); err == nil {
		t.Error("mutation of unknown character succeeded")
	}
}

func TestStore_Inventory(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	seedCharacter(t, s, "Mira", &Character{})

	if _, err := s.ModifyInventory("Mira", "add", "rope"); err != nil {
		t.Fatalf("add: %v", err)
	}
	c, err := s.ModifyInventory("Mira", "add", "torch")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(c.Inventory) != 2 {
		t.Fatalf("inventory = %v", c.Inventory)
	}

	c, err = s.ModifyInventory("Mira", "remove", "Rope")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(c.Inventory) != 1 || c.Inventory[0] != "torch" {
		t.Errorf("inventory after remove = %v", c.Inventory)
	}

	// Removing an item that is not held is a no-op, not an error.
	if _, err := s.ModifyInventory("Mira", "remove", "wand"); err != nil {
		t.Errorf("remove of missing item: %v", err)
	}
	if _, err := s.ModifyInventory("Mira", "discard", "torch"); err == nil {
		t.Error("invalid action accepted")
	}
}

func TestStore_NPCLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if err := s.CreateNPC("Barkeep", "Runs the Drowned Rat", "Friendly"); err != nil {
		t.Fatalf("CreateNPC: %v", err)
	}
	if err := s.CreateNPC("Barkeep", "Impostor", "hostile"); err == nil {
		t.Error("duplicate NPC accepted")
	}
	if err := s.CreateNPC("Shade", "A shadow", "mysterious"); err == nil {
		t.Error("invalid attitude accepted")
	}

	if err := s.UpdateNPC("Barkeep", "Warned the party about the cellar"); err != nil {
		t.Fatalf("UpdateNPC: %v", err)
	}
	npc, err := s.GetNPC("Barkeep")
	if err != nil {
		t.Fatalf("GetNPC: %v", err)
	}
	if npc == nil || npc.Attitude != "friendly" || len(npc.Events) != 1 {
		t.Errorf("npc = %+v", npc)
	}
}

func TestStore_MovePartyTracksLocation(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	if err := s.MoveParty("Ironhollow"); err != nil {
		t.Fatalf("MoveParty: %v", err)
	}
	cur, err := s.CurrentLocation()
	if err != nil || cur != "Ironhollow" {
		t.Errorf("current location = %q, %v", cur, err)
	}
	loc, err := s.GetLocation("Ironhollow")
	if err != nil {
		t.Fatalf("GetLocation: %v", err)
	}
	if loc == nil || !loc.Visited {
		t.Errorf("location = %+v", loc)
	}
}

func TestStore_SearchWorld(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if err := s.CreateNPC("Barkeep", "Runs the tavern in Ironhollow", "friendly"); err != nil {
		t.Fatalf("CreateNPC: %v", err)
	}
	if err := s.MoveParty("Ironhollow"); err != nil {
		t.Fatalf("MoveParty: %v", err)
	}
	if err := s.UpdatePlot("The Cellar", "Strange noises below the tavern"); err != nil {
		t.Fatalf("UpdatePlot: %v", err)
	}

	res, err := s.SearchWorld("tavern")
	if err != nil {
		t.Fatalf("SearchWorld: %v", err)
	}
	if len(res.NPCs) != 1 || len(res.Plots) != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(res.Locations) != 0 {
		t.Errorf("unexpected location matches: %+v", res.Locations)
	}

	res, err = s.SearchWorld("ironhollow")
	if err != nil {
		t.Fatalf("SearchWorld: %v", err)
	}
	if len(res.Locations) != 1 {
		t.Errorf("location search = %+v", res)
	}
}

func TestStore_SessionLog(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	data, err := s.SessionLog()
	if err != nil || data != nil {
		t.Fatalf("fresh log = %q, %v", data, err)
	}

	if err := s.AppendSessionLog("## Session 1\nThe party met.\n"); err != nil {
		t.Fatalf("AppendSessionLog: %v", err)
	}
	if err := s.AppendSessionLog("They argued.\n"); err != nil {
		t.Fatalf("AppendSessionLog: %v", err)
	}
	data, err = s.SessionLog()
	if err != nil {
		t.Fatalf("SessionLog: %v", err)
	}
	if string(data) != "## Session 1\nThe party met.\nThey argued.\n" {
		t.Errorf("log = %q", data)
	}
}
