package quiz

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultRoundsCoverEveryRound(t *testing.T) {
	rounds, err := DefaultRounds()
	if err != nil {
		t.Fatalf("default rounds: %v", err)
	}
	if err := rounds.Validate(MaxRound); err != nil {
		t.Fatalf("validate: %v", err)
	}

	first, _ := rounds.Lookup(1)
	second, _ := rounds.Lookup(2)
	if first.Count != 5 || second.Count != 10 {
		t.Fatalf("expected 5 and 10 items in rounds 1 and 2, got %d and %d", first.Count, second.Count)
	}
	for _, n := range rounds.Numbers() {
		round := rounds[n]
		if round.Common == "" || round.Odd == "" || round.CommonGlyph == "" || round.OddGlyph == "" {
			t.Errorf("round %d is missing an image or glyph: %+v", n, round)
		}
	}
}

func TestLoadRounds(t *testing.T) {
	const doc = `
rounds:
  - round: 2
    count: 10
    common: b.svg
    odd: b_odd.svg
  - round: 1
    count: 5
    common: a.svg
    odd: a_odd.svg
`
	rounds, err := LoadRounds(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := rounds.Numbers(); len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Fatalf("unexpected round numbers %v", got)
	}
	if round, ok := rounds.Lookup(2); !ok || round.Odd != "b_odd.svg" {
		t.Fatalf("unexpected round 2: %+v", round)
	}
	if _, ok := rounds.Lookup(3); ok {
		t.Fatal("round 3 should not exist")
	}
}

func TestLoadRoundsRejectsBadCatalogues(t *testing.T) {
	cases := map[string]string{
		"zero count": `
rounds:
  - round: 1
    count: 0
`,
		"duplicate": `
rounds:
  - round: 1
    count: 5
  - round: 1
    count: 6
`,
		"round zero": `
rounds:
  - round: 0
    count: 5
`,
		"not yaml": "rounds: [",
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadRounds(strings.NewReader(doc)); !errors.Is(err, ErrInvalidRounds) {
				t.Fatalf("expected ErrInvalidRounds, got %v", err)
			}
		})
	}
}

func TestValidateReportsMissingRound(t *testing.T) {
	rounds := Rounds{
		1: {Number: 1, Count: 5},
		2: {Number: 2, Count: 10},
	}

	err := rounds.Validate(MaxRound)
	if !errors.Is(err, ErrMissingRound) {
		t.Fatalf("expected ErrMissingRound, got %v", err)
	}
	if !strings.Contains(err.Error(), "round 3") {
		t.Fatalf("expected the first missing round in %q", err)
	}
	if err := rounds.Validate(2); err != nil {
		t.Fatalf("validate up to 2: %v", err)
	}
}

func TestLoadRoundsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rounds.yaml")
	if err := os.WriteFile(path, []byte("rounds:\n  - round: 1\n    count: 3\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	rounds, err := LoadRoundsFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rounds[1].Count != 3 {
		t.Fatalf("expected count 3, got %d", rounds[1].Count)
	}

	if _, err := LoadRoundsFile(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
