// ABOUTME: Dice pack providing the dice_roll tool.
// ABOUTME: Parses NdM formulas with optional keep-highest/lowest and a flat modifier.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/2389/seneschal/internal/protocol"
)

// Limits on a single formula.
const (
	MaxDice  = 100
	MaxSides = 1000
)

// ErrBadFormula indicates a dice formula that cannot be parsed or is out of range.
var ErrBadFormula = errors.New("invalid dice formula")

var formulaRe = regexp.MustCompile(`^(\d*)d(\d+)(?:(kh|kl)(\d+))?(?:([+-])(\d+))?$`)

// Formula is a parsed dice expression.
type Formula struct {
	Count    int
	Sides    int
	Keep     int  // 0 keeps every die
	KeepLow  bool // keep the lowest dice instead of the highest
	Modifier int
}

// ParseFormula parses expressions like "2d6", "d20+5", "4d6kh3" or "2d20kl1-1".
func ParseFormula(s string) (Formula, error) {
	text := strings.ToLower(strings.ReplaceAll(s, " ", ""))
	m := formulaRe.FindStringSubmatch(text)
	if m == nil {
		return Formula{}, fmt.Errorf("%w: %q", ErrBadFormula, s)
	}

	f := Formula{Count: 1}
	if m[1] != "" {
		f.Count, _ = strconv.Atoi(m[1])
	}
	f.Sides, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		f.Keep, _ = strconv.Atoi(m[4])
		f.KeepLow = m[3] == "kl"
	}
	if m[5] != "" {
		f.Modifier, _ = strconv.Atoi(m[6])
		if m[5] == "-" {
			f.Modifier = -f.Modifier
		}
	}

	switch {
	case f.Count < 1 || f.Count > MaxDice:
		return Formula{}, fmt.Errorf("%w: dice count must be between 1 and %d", ErrBadFormula, MaxDice)
	case f.Sides < 2 || f.Sides > MaxSides:
		return Formula{}, fmt.Errorf("%w: sides must be between 2 and %d", ErrBadFormula, MaxSides)
	case m[3] != "" && (f.Keep < 1 || f.Keep > f.Count):
		return Formula{}, fmt.Errorf("%w: keep must be between 1 and %d", ErrBadFormula, f.Count)
	}
	return f, nil
}

// String renders the canonical form of f.
func (f Formula) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%dd%d", f.Count, f.Sides)
	if f.Keep > 0 {
		if f.KeepLow {
			fmt.Fprintf(&b, "kl%d", f.Keep)
		} else {
			fmt.Fprintf(&b, "kh%d", f.Keep)
		}
	}
	if f.Modifier > 0 {
		fmt.Fprintf(&b, "+%d", f.Modifier)
	} else if f.Modifier < 0 {
		fmt.Fprintf(&b, "%d", f.Modifier)
	}
	return b.String()
}

// Roll is the outcome of rolling a formula.
type Roll struct {
	Formula  string `json:"formula"`
	Total    int    `json:"total"`
	Dice     []int  `json:"dice"`
	Kept     []int  `json:"kept,omitempty"`
	Modifier int    `json:"modifier,omitempty"`
}

// Roller returns a uniformly random value in [1, sides].
type Roller func(sides int) int

// DefaultRoller uses math/rand/v2.
func DefaultRoller(sides int) int {
	return rand.IntN(sides) + 1
}

// Roll rolls f with roller.
func (f Formula) Roll(roller Roller) Roll {
	dice := make([]int, f.Count)
	for i := range dice {
		dice[i] = roller(f.Sides)
	}

	counted := dice
	var kept []int
	if f.Keep > 0 {
		sorted := slices.Clone(dice)
		slices.Sort(sorted)
		if f.KeepLow {
			kept = sorted[:f.Keep]
		} else {
			kept = sorted[len(sorted)-f.Keep:]
		}
		counted = kept
	}

	total := f.Modifier
	for _, d := range counted {
		total += d
	}

	return Roll{
		Formula:  f.String(),
		Total:    total,
		Dice:     dice,
		Kept:     kept,
		Modifier: f.Modifier,
	}
}

// DicePack returns the pack providing dice_roll. A nil roller uses DefaultRoller.
func DicePack(roller Roller) *Pack {
	if roller == nil {
		roller = DefaultRoller
	}
	h := &diceHandlers{roll: roller}
	return &Pack{
		ID: "builtin:dice",
		Tools: []*Tool{
			{
				Definition: Definition{
					Name:        "dice_roll",
					Description: "Roll dice using standard notation such as 2d6, d20+5 or 4d6kh3",
					InputSchema: json.RawMessage(`{"type":"object","properties":{"formula":{"type":"string"},"reason":{"type":"string"}},"required":["formula"]}`),
					MinRole:     protocol.RolePlayer,
				},
				Handler: h.DiceRoll,
			},
		},
	}
}

type diceHandlers struct {
	roll Roller
}

type diceRollInput struct {
	Formula string `json:"formula"`
	Reason  string `json:"reason"`
}

func (h *diceHandlers) DiceRoll(_ context.Context, _ protocol.Caller, args json.RawMessage) (json.RawMessage, error) {
	var in diceRollInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if in.Formula == "" {
		return nil, fmt.Errorf("%w: formula is required", ErrBadFormula)
	}

	f, err := ParseFormula(in.Formula)
	if err != nil {
		return nil, err
	}

	return json.Marshal(f.Roll(h.roll))
}
