package quiz

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingRound means the catalogue has no definition for a round the
	// quiz needs. It is a configuration defect, never a recoverable state.
	ErrMissingRound = errors.New("missing round definition")

	// ErrInvalidRounds is returned for catalogues that decode but make no sense.
	ErrInvalidRounds = errors.New("invalid round catalogue")
)

//go:embed rounds.yaml
var defaultRounds []byte

// Round describes the grid shown for every question of one round.
type Round struct {
	Number      int    `yaml:"round"`
	Count       int    `yaml:"count"`
	Common      string `yaml:"common"`
	Odd         string `yaml:"odd"`
	CommonGlyph string `yaml:"common_glyph"`
	OddGlyph    string `yaml:"odd_glyph"`
	Title       string `yaml:"title,omitempty"`
}

// Rounds maps a round number to its definition.
type Rounds map[int]Round

type catalogue struct {
	Rounds []Round `yaml:"rounds"`
}

// LoadRounds decodes a YAML round catalogue.
func LoadRounds(r io.Reader) (Rounds, error) {
	var cat catalogue
	if err := yaml.NewDecoder(r).Decode(&cat); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRounds, err)
	}

	rounds := make(Rounds, len(cat.Rounds))
	for _, round := range cat.Rounds {
		if round.Number < 1 {
			return nil, fmt.Errorf("%w: round number %d must be at least 1", ErrInvalidRounds, round.Number)
		}
		if round.Count < 1 {
			return nil, fmt.Errorf("%w: round %d needs at least one item, got %d", ErrInvalidRounds, round.Number, round.Count)
		}
		if _, exists := rounds[round.Number]; exists {
			return nil, fmt.Errorf("%w: round %d defined twice", ErrInvalidRounds, round.Number)
		}
		rounds[round.Number] = round
	}

	return rounds, nil
}

// LoadRoundsFile reads a catalogue from disk.
func LoadRoundsFile(path string) (Rounds, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return LoadRounds(f)
}

// DefaultRounds returns the built-in catalogue.
func DefaultRounds() (Rounds, error) {
	return LoadRounds(bytes.NewReader(defaultRounds))
}

func (r Rounds) Lookup(number int) (Round, bool) {
	round, ok := r[number]
	return round, ok
}

// Validate checks that every round from 1 through maxRound is defined.
func (r Rounds) Validate(maxRound int) error {
	for n := 1; n <= maxRound; n++ {
		if _, ok := r[n]; !ok {
			return fmt.Errorf("%w: round %d", ErrMissingRound, n)
		}
	}
	return nil
}

// Numbers returns the defined round numbers in ascending order.
func (r Rounds) Numbers() []int {
	numbers := make([]int, 0, len(r))
	for n := range r {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)
	return numbers
}
