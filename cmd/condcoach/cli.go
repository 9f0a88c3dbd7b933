// Package main defines the CLI structure using kong.
package main

import "github.com/alecthomas/kong"

// CLI defines the command-line interface.
type CLI struct {
	Config string `help:"Config file path (default: ./condcoach.toml)"`

	Start   StartCmd   `cmd:"" help:"Start a session and show its first instruction"`
	Next    NextCmd    `cmd:"" help:"Log a reply and render the next instruction"`
	Advance AdvanceCmd `cmd:"" help:"Store an evaluation and move to the next condition"`
	Status  StatusCmd  `cmd:"" help:"Show session progress"`
	Plan    PlanCmd    `cmd:"" help:"Show a session's fixed content plan"`
	Pilot   PilotCmd   `cmd:"" help:"Run a scripted pilot session"`
	Export  ExportCmd  `cmd:"" help:"Export all logged turns"`
	Doctor  DoctorCmd  `cmd:"" help:"Check backend configuration and reachability"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// StartCmd creates a session under an assigned or given condition.
type StartCmd struct {
	Goal          string `arg:"" help:"Behavior goal, e.g. 毎日30分勉強する"`
	Context       string `help:"Current situation of the participant"`
	Directiveness string `help:"HIGH, LOW, or AUTO (default from config)"`
	ChoiceFraming string `help:"PRESENT, ABSENT, or AUTO (default from config)"`
	Within        bool   `help:"Walk through all four conditions in one session"`
}

// NextCmd renders another instruction under the session's current condition.
type NextCmd struct {
	Session  string `arg:"" help:"Session ID"`
	Response string `short:"r" help:"Participant's reply to the previous instruction"`
	Choice   string `help:"Option the participant picked (A, B, or C)"`
}

// AdvanceCmd finishes a condition block: evaluation, advance, next render.
type AdvanceCmd struct {
	Session string `arg:"" help:"Session ID"`
	Turn    int64  `required:"" help:"Turn ID the evaluation belongs to"`

	Autonomy      []float64 `sep:"," help:"Autonomy scale items, e.g. 4,5,6"`
	Coercion      []float64 `sep:"," help:"Coercion scale items"`
	Directiveness []float64 `sep:"," help:"Perceived directiveness items"`
	Choice        []float64 `sep:"," help:"Perceived choice items"`
	Intention     []float64 `sep:"," help:"Behavioral intention items"`
	FreeText      string    `help:"Free-form comment"`

	Response     string `short:"r" help:"Participant's reply to the previous instruction"`
	ActionChoice string `help:"Option the participant picked (A, B, or C)"`
}

// StatusCmd shows where a session is in its condition sequence.
type StatusCmd struct {
	Session string `arg:"" help:"Session ID"`
}

// PlanCmd prints the session's fixed content plan.
type PlanCmd struct {
	Session string `arg:"" help:"Session ID"`
}

// PilotCmd drives a whole session from a scripted scenario.
type PilotCmd struct {
	Name string `arg:"" optional:"" default:"study-within" help:"Scenario name"`
	File string `short:"f" help:"Scenario YAML file (default: built-in scenarios)"`
}

// ExportCmd writes every logged turn joined with its session.
type ExportCmd struct {
	Format string `enum:"csv,json" default:"csv" help:"Output format (csv or json)"`
	Output string `short:"o" help:"Output path (default: stdout)"`
}

// DoctorCmd checks backend configuration, optionally with a live round trip.
type DoctorCmd struct {
	Ping bool `help:"Send a one-token request to verify the backend answers"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
