package condition

import (
	"math/rand"
	"testing"
)

func TestWithinSequence_AllCellsOnce(t *testing.T) {
	seq := NewWithinSequence(rand.New(rand.NewSource(7)))

	if len(seq.Pairs) != 4 {
		t.Fatalf("expected 4 pairs, got %d", len(seq.Pairs))
	}
	seen := map[Pair]int{}
	for _, p := range seq.Pairs {
		seen[p]++
	}
	for _, p := range AllPairs() {
		if seen[p] != 1 {
			t.Errorf("pair %s appears %d times, want exactly once", p, seen[p])
		}
	}
}

func TestWithinSequence_DeterministicWithSeed(t *testing.T) {
	a := NewWithinSequence(rand.New(rand.NewSource(42)))
	b := NewWithinSequence(rand.New(rand.NewSource(42)))
	for i := range a.Pairs {
		if a.Pairs[i] != b.Pairs[i] {
			t.Fatalf("same seed should give same order: %v vs %v", a.Pairs, b.Pairs)
		}
	}
}

func TestSequence_AdvanceToCompletion(t *testing.T) {
	seq := NewWithinSequence(rand.New(rand.NewSource(1)))

	if seq.IsComplete() {
		t.Fatal("fresh sequence should not be complete")
	}
	for i := 0; i < 4; i++ {
		if seq.IsComplete() {
			t.Fatalf("complete too early at advance %d", i)
		}
		seq.Advance()
	}
	if !seq.IsComplete() {
		t.Error("four advances should complete a within-subject sequence")
	}
	if seq.Index != 4 {
		t.Errorf("expected index 4, got %d", seq.Index)
	}

	// Fifth advance saturates; no overflow.
	seq.Advance()
	if seq.Index != 4 {
		t.Errorf("advance past completion should keep index at 4, got %d", seq.Index)
	}

	// Current after completion returns the last pair, not an out-of-range access.
	p, idx, total := seq.Current()
	if idx != 4 || total != 4 {
		t.Errorf("expected (idx=4,total=4), got (%d,%d)", idx, total)
	}
	if p != seq.Pairs[3] {
		t.Errorf("post-completion Current should return pair at index 3, got %s", p)
	}
}

func TestBetweenSequence(t *testing.T) {
	p := Pair{DirectivenessLow, ChoicePresent}
	seq := NewBetweenSequence(p)

	got, idx, total := seq.Current()
	if got != p || idx != 0 || total != 1 {
		t.Errorf("unexpected current: %v %d %d", got, idx, total)
	}
	seq.Advance()
	if !seq.IsComplete() {
		t.Error("one advance should complete a length-1 sequence")
	}
}

func TestOrderRoundTrip(t *testing.T) {
	seq := NewWithinSequence(rand.New(rand.NewSource(3)))
	raw, err := EncodeOrder(seq.Pairs)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}

	pairs, err := DecodeOrder(raw)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(pairs) != 4 {
		t.Fatalf("expected 4 pairs, got %d", len(pairs))
	}
	for i := range pairs {
		if pairs[i] != seq.Pairs[i] {
			t.Errorf("pair %d changed in round trip: %s vs %s", i, pairs[i], seq.Pairs[i])
		}
	}
}

func TestDecodeOrder_Invalid(t *testing.T) {
	cases := []string{
		"",
		"[]",
		"not json",
		`[{"directiveness":"MEDIUM","choice_framing":"PRESENT"}]`,
		`[{"directiveness":"HIGH","choice_framing":"SOMETIMES"}]`,
	}
	for _, raw := range cases {
		if _, err := DecodeOrder(raw); err == nil {
			t.Errorf("expected decode error for %q", raw)
		}
	}
}
