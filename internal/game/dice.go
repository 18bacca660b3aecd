// Package game holds the rules-side of the platform: the dice roller, the
// JSON campaign store, and the tool surface the DM model calls during a turn.
package game

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"slices"
	"strconv"
)

// Roll types, reported in [RollResult.Type].
const (
	RollStandard     = "standard"
	RollAdvantage    = "advantage"
	RollDisadvantage = "disadvantage"
)

const maxDiceCount = 100

// validSides are the physical die sizes accepted in notation.
var validSides = []int{4, 6, 8, 10, 12, 20, 100}

var (
	standardPattern     = regexp.MustCompile(`^(\d+)d(\d+)([+-]\d+)?$`)
	keepHighestPattern  = regexp.MustCompile(`^(\d+)d(\d+)kh(\d+)$`)
	keepLowestPattern   = regexp.MustCompile(`^(\d+)d(\d+)kl(\d+)$`)
)

// RollResult is the detailed outcome of one dice roll.
//
// The JSON field for Type is the roller-internal name "type"; the session
// controller remaps it to "roll_type" before the result crosses the client
// transport, where "type" is taken by the message envelope.
type RollResult struct {
	Notation string `json:"notation"`
	Type     string `json:"type"`
	Rolls    []int  `json:"rolls"`

	// Keep-highest/keep-lowest fields.
	Kept      []int `json:"kept,omitempty"`
	Discarded []int `json:"discarded,omitempty"`

	// Standard-roll modifier; always encoded so a +0 roll is explicit.
	Modifier int `json:"modifier"`

	Total int `json:"total"`

	// Natural20/Natural1 flag a critical or fumble on a single d20.
	Natural20 bool `json:"natural_20,omitempty"`
	Natural1  bool `json:"natural_1,omitempty"`
}

// Roller evaluates dice notation. The zero value is not usable; construct
// with [NewRoller] or [NewSeededRoller].
//
// A Roller is not safe for concurrent use; each session owns one.
type Roller struct {
	rng *rand.Rand
}

// NewRoller creates a Roller with an automatically-seeded source.
func NewRoller() *Roller {
	return &Roller{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeededRoller creates a deterministic Roller for tests.
func NewSeededRoller(seed uint64) *Roller {
	return &Roller{rng: rand.New(rand.NewPCG(seed, seed))}
}

// ValidateNotation reports whether notation is well-formed without consuming
// randomness. Used to reject a bad roll_dice call before the turn suspends on
// the client handshake.
func ValidateNotation(notation string) error {
	if m := keepHighestPattern.FindStringSubmatch(notation); m != nil {
		return validateKeep(notation, m)
	}
	if m := keepLowestPattern.FindStringSubmatch(notation); m != nil {
		return validateKeep(notation, m)
	}
	if m := standardPattern.FindStringSubmatch(notation); m != nil {
		_, _, err := parseDice(notation, m[1], m[2])
		return err
	}
	return fmt.Errorf("game: invalid dice notation %q", notation)
}

func validateKeep(notation string, m []string) error {
	count, _, err := parseDice(notation, m[1], m[2])
	if err != nil {
		return err
	}
	keep, err := strconv.Atoi(m[3])
	if err != nil || keep < 1 || keep > count {
		return fmt.Errorf("game: keep count in %q must be in [1, %d]", notation, count)
	}
	return nil
}

// Roll evaluates notation of the form NdS, NdS+K, NdS-K, NdSkh<K>, or
// NdSkl<K>. S must be one of 4, 6, 8, 10, 12, 20, 100 and N in [1, 100].
func (r *Roller) Roll(notation string) (*RollResult, error) {
	if m := keepHighestPattern.FindStringSubmatch(notation); m != nil {
		return r.rollKeep(notation, m, RollAdvantage)
	}
	if m := keepLowestPattern.FindStringSubmatch(notation); m != nil {
		return r.rollKeep(notation, m, RollDisadvantage)
	}
	if m := standardPattern.FindStringSubmatch(notation); m != nil {
		return r.rollStandard(notation, m)
	}
	return nil, fmt.Errorf("game: invalid dice notation %q", notation)
}

func (r *Roller) rollStandard(notation string, m []string) (*RollResult, error) {
	count, sides, err := parseDice(notation, m[1], m[2])
	if err != nil {
		return nil, err
	}
	modifier := 0
	if m[3] != "" {
		// The sign is part of the capture, so Atoi handles both directions.
		modifier, err = strconv.Atoi(m[3])
		if err != nil {
			return nil, fmt.Errorf("game: invalid modifier in %q", notation)
		}
	}

	rolls := r.rollDice(count, sides)
	total := modifier
	for _, v := range rolls {
		total += v
	}

	res := &RollResult{
		Notation: notation,
		Type:     RollStandard,
		Rolls:    rolls,
		Modifier: modifier,
		Total:    total,
	}
	if sides == 20 && count == 1 {
		res.Natural20 = rolls[0] == 20
		res.Natural1 = rolls[0] == 1
	}
	return res, nil
}

func (r *Roller) rollKeep(notation string, m []string, rollType string) (*RollResult, error) {
	count, sides, err := parseDice(notation, m[1], m[2])
	if err != nil {
		return nil, err
	}
	keep, err := strconv.Atoi(m[3])
	if err != nil || keep < 1 || keep > count {
		return nil, fmt.Errorf("game: keep count in %q must be in [1, %d]", notation, count)
	}

	rolls := r.rollDice(count, sides)
	if rollType == RollAdvantage {
		slices.SortFunc(rolls, func(a, b int) int { return b - a })
	} else {
		slices.Sort(rolls)
	}
	kept := rolls[:keep]
	total := 0
	for _, v := range kept {
		total += v
	}

	return &RollResult{
		Notation:  notation,
		Type:      rollType,
		Rolls:     rolls,
		Kept:      kept,
		Discarded: rolls[keep:],
		Total:     total,
	}, nil
}

func (r *Roller) rollDice(count, sides int) []int {
	rolls := make([]int, count)
	for i := range rolls {
		rolls[i] = r.rng.IntN(sides) + 1
	}
	return rolls
}

func parseDice(notation, countStr, sidesStr string) (count, sides int, err error) {
	count, err = strconv.Atoi(countStr)
	if err != nil || count < 1 || count > maxDiceCount {
		return 0, 0, fmt.Errorf("game: dice count in %q must be in [1, %d]", notation, maxDiceCount)
	}
	sides, err = strconv.Atoi(sidesStr)
	if err != nil || !slices.Contains(validSides, sides) {
		return 0, 0, fmt.Errorf("game: die size in %q must be one of %v", notation, validSides)
	}
	return count, sides, nil
}
