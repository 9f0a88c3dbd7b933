// Package plan builds and validates the condition-invariant content plan:
// the fixed description of three candidate actions that every rendering
// of a turn must reproduce faithfully, whatever the expression condition.
package plan

import (
	"encoding/json"
	"fmt"
)

// OptionIDs are the fixed labels, in order. A plan always has exactly one
// option per label.
var OptionIDs = [3]string{"A", "B", "C"}

// Option is one candidate action. Fields are never altered after plan
// creation; the content must stay identical across conditions.
type Option struct {
	ID          string   `json:"id"`
	Action      string   `json:"action"`
	DurationMin int      `json:"duration_min"`
	Steps       []string `json:"steps"`
	Reason      string   `json:"reason"`
}

// ContentPlan is the condition-invariant plan for one session.
type ContentPlan struct {
	Goal    string   `json:"goal"`
	Context string   `json:"context"`
	Options []Option `json:"options"`
}

// Validate checks the plan invariants: exactly 3 options labeled A, B, C
// in order, non-empty actions, positive durations, 1-3 steps each.
func (p *ContentPlan) Validate() error {
	if p == nil {
		return fmt.Errorf("plan is nil")
	}
	if len(p.Options) != len(OptionIDs) {
		return fmt.Errorf("plan has %d options, want %d", len(p.Options), len(OptionIDs))
	}
	for i, opt := range p.Options {
		if opt.ID != OptionIDs[i] {
			return fmt.Errorf("option %d has id %q, want %q", i, opt.ID, OptionIDs[i])
		}
		if opt.Action == "" {
			return fmt.Errorf("option %s has empty action", opt.ID)
		}
		if opt.DurationMin <= 0 {
			return fmt.Errorf("option %s has non-positive duration %d", opt.ID, opt.DurationMin)
		}
		if len(opt.Steps) < 1 || len(opt.Steps) > 3 {
			return fmt.Errorf("option %s has %d steps, want 1-3", opt.ID, len(opt.Steps))
		}
		for j, s := range opt.Steps {
			if s == "" {
				return fmt.Errorf("option %s step %d is empty", opt.ID, j)
			}
		}
	}
	return nil
}

// NumStepsTotal counts steps across all options.
func (p *ContentPlan) NumStepsTotal() int {
	n := 0
	for _, opt := range p.Options {
		n += len(opt.Steps)
	}
	return n
}

// ToJSON serializes the plan for persistence.
func (p *ContentPlan) ToJSON() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal plan: %w", err)
	}
	return string(b), nil
}

// FromJSON restores a persisted plan and re-checks its invariants.
func FromJSON(raw string) (*ContentPlan, error) {
	var p ContentPlan
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("persisted plan invalid: %w", err)
	}
	return &p, nil
}
