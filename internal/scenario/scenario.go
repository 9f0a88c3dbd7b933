// Package scenario loads pilot run definitions: a goal, its context, and
// scripted participant replies, so a whole session can be driven without a
// live participant.
package scenario

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is one scripted pilot session.
type Scenario struct {
	Name          string     `yaml:"name"`
	Goal          string     `yaml:"goal"`
	Context       string     `yaml:"context"`
	WithinSubject bool       `yaml:"within_subject"`
	Directiveness string     `yaml:"directiveness"`  // HIGH, LOW, or AUTO
	ChoiceFraming string     `yaml:"choice_framing"` // PRESENT, ABSENT, or AUTO
	Responses     []Response `yaml:"responses"`
}

// Response is one scripted participant reply.
type Response struct {
	Text         string `yaml:"text"`
	ActionChoice string `yaml:"action_choice"`
}

// File is the top-level pilot definition file.
type File struct {
	Scenarios []Scenario `yaml:"scenarios"`
}

// Load reads and validates a pilot definition file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse scenario file: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	if len(f.Scenarios) == 0 {
		return fmt.Errorf("scenario file defines no scenarios")
	}
	seen := map[string]bool{}
	for i, sc := range f.Scenarios {
		if sc.Name == "" {
			return fmt.Errorf("scenario %d: name is required", i)
		}
		if seen[sc.Name] {
			return fmt.Errorf("duplicate scenario name: %s", sc.Name)
		}
		seen[sc.Name] = true
		if sc.Goal == "" {
			return fmt.Errorf("scenario %s: goal is required", sc.Name)
		}
	}
	return nil
}

// Get returns the named scenario.
func (f *File) Get(name string) (*Scenario, error) {
	for i := range f.Scenarios {
		if f.Scenarios[i].Name == name {
			return &f.Scenarios[i], nil
		}
	}
	return nil, fmt.Errorf("scenario not found: %s", name)
}

// Builtin returns the default pilot scenarios used when no file is given.
func Builtin() *File {
	return &File{
		Scenarios: []Scenario{
			{
				Name:          "study-within",
				Goal:          "毎日30分勉強する",
				Context:       "平日の夜、帰宅後に時間がある",
				WithinSubject: true,
				Responses: []Response{
					{Text: "今日は5分だけやってみました", ActionChoice: "A"},
					{Text: "机の上を片付けました", ActionChoice: "B"},
					{Text: "計画をメモに書きました", ActionChoice: "C"},
				},
			},
			{
				Name:          "exercise-between",
				Goal:          "運動の習慣をつける",
				Context:       "在宅勤務で座りがち",
				Directiveness: "AUTO",
				ChoiceFraming: "AUTO",
				Responses: []Response{
					{Text: "少し歩いてきました", ActionChoice: "A"},
				},
			},
		},
	}
}
