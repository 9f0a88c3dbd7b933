package condition

import (
	"encoding/json"
	"fmt"
	"math/rand"
)

// Sequence tracks which condition pair is current for a session.
//
// Pairs is fixed at session creation and never reordered afterwards;
// Index only moves forward. Index == len(Pairs) means the session's
// condition sequence is exhausted and no further instruction generation
// is permitted.
type Sequence struct {
	Pairs []Pair
	Index int
}

// NewWithinSequence builds the full 2x2 sequence, shuffled uniformly at
// random exactly once. The random source is injected so tests can pin
// the ordering.
func NewWithinSequence(rng *rand.Rand) Sequence {
	pairs := AllPairs()
	rng.Shuffle(len(pairs), func(i, j int) {
		pairs[i], pairs[j] = pairs[j], pairs[i]
	})
	return Sequence{Pairs: pairs}
}

// NewBetweenSequence wraps a single resolved pair in a length-1 sequence
// so downstream callers never branch on the design mode.
func NewBetweenSequence(p Pair) Sequence {
	return Sequence{Pairs: []Pair{p}}
}

// Current returns the active pair plus the index and total. Once the
// sequence is complete it keeps returning the last pair rather than
// going out of range.
func (s Sequence) Current() (Pair, int, int) {
	total := len(s.Pairs)
	i := s.Index
	if i > total-1 {
		i = total - 1
	}
	return s.Pairs[i], s.Index, total
}

// IsComplete reports whether every condition has been consumed.
func (s Sequence) IsComplete() bool {
	return s.Index >= len(s.Pairs)
}

// Advance moves to the next condition. It saturates at len(Pairs) and is
// idempotent once there; the index never decreases.
func (s *Sequence) Advance() {
	if s.Index < len(s.Pairs) {
		s.Index++
	}
}

// EncodeOrder serializes the pair ordering for persistence.
func EncodeOrder(pairs []Pair) (string, error) {
	b, err := json.Marshal(pairs)
	if err != nil {
		return "", fmt.Errorf("encode condition order: %w", err)
	}
	return string(b), nil
}

// DecodeOrder restores a pair ordering from its persisted form, validating
// every condition value on the way in.
func DecodeOrder(raw string) ([]Pair, error) {
	var pairs []Pair
	if err := json.Unmarshal([]byte(raw), &pairs); err != nil {
		return nil, fmt.Errorf("decode condition order: %w", err)
	}
	if len(pairs) == 0 {
		return nil, fmt.Errorf("decode condition order: empty sequence")
	}
	for _, p := range pairs {
		if _, err := ParseDirectiveness(string(p.Directiveness)); err != nil {
			return nil, err
		}
		if _, err := ParseChoiceFraming(string(p.ChoiceFraming)); err != nil {
			return nil, err
		}
	}
	return pairs, nil
}
