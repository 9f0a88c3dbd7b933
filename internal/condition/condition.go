// Package condition defines the two manipulated expression parameters
// and the per-session condition sequencing state machine.
package condition

import (
	"fmt"
	"math/rand"
)

// Directiveness is the degree of imperative force required in rendered text.
type Directiveness string

const (
	DirectivenessHigh Directiveness = "HIGH"
	DirectivenessLow  Directiveness = "LOW"
)

// ChoiceFraming states whether rendered text must explicitly affirm the
// participant's freedom to choose.
type ChoiceFraming string

const (
	ChoicePresent ChoiceFraming = "PRESENT"
	ChoiceAbsent  ChoiceFraming = "ABSENT"
)

// Auto is accepted by the Resolve helpers and means "assign randomly".
// It is never a valid value for a stored condition.
const Auto = "AUTO"

// ParseDirectiveness validates a raw condition value. Unknown values are a
// configuration error and are never silently defaulted: the experimental
// manipulation must be exact.
func ParseDirectiveness(s string) (Directiveness, error) {
	switch Directiveness(s) {
	case DirectivenessHigh, DirectivenessLow:
		return Directiveness(s), nil
	}
	return "", fmt.Errorf("unsupported directiveness: %q", s)
}

// ParseChoiceFraming validates a raw condition value.
func ParseChoiceFraming(s string) (ChoiceFraming, error) {
	switch ChoiceFraming(s) {
	case ChoicePresent, ChoiceAbsent:
		return ChoiceFraming(s), nil
	}
	return "", fmt.Errorf("unsupported choice framing: %q", s)
}

// ResolveDirectiveness parses s, additionally accepting Auto as a request
// for a uniform random assignment from rng.
func ResolveDirectiveness(s string, rng *rand.Rand) (Directiveness, error) {
	if s == Auto {
		if rng.Intn(2) == 0 {
			return DirectivenessHigh, nil
		}
		return DirectivenessLow, nil
	}
	return ParseDirectiveness(s)
}

// ResolveChoiceFraming parses s, additionally accepting Auto.
func ResolveChoiceFraming(s string, rng *rand.Rand) (ChoiceFraming, error) {
	if s == Auto {
		if rng.Intn(2) == 0 {
			return ChoicePresent, nil
		}
		return ChoiceAbsent, nil
	}
	return ParseChoiceFraming(s)
}

// Pair is one cell of the 2x2 factorial design.
type Pair struct {
	Directiveness Directiveness `json:"directiveness"`
	ChoiceFraming ChoiceFraming `json:"choice_framing"`
}

func (p Pair) String() string {
	return string(p.Directiveness) + "/" + string(p.ChoiceFraming)
}

// AllPairs returns the four cells of the factorial design in canonical order.
func AllPairs() []Pair {
	return []Pair{
		{DirectivenessHigh, ChoicePresent},
		{DirectivenessHigh, ChoiceAbsent},
		{DirectivenessLow, ChoicePresent},
		{DirectivenessLow, ChoiceAbsent},
	}
}
