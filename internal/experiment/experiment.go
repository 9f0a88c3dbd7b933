// Package experiment manages experimental sessions: condition sequencing,
// the once-per-session fixed content plan, and per-turn logging with
// evaluation scores.
package experiment

import (
	"errors"
	"time"

	"github.com/exprlab/condcoach/internal/condition"
)

// Mode is the experimental design of a session.
type Mode string

const (
	// ModeBetween assigns one condition pair for the whole session.
	ModeBetween Mode = "BETWEEN"
	// ModeWithin walks the participant through all four condition pairs,
	// in an order shuffled once at session start.
	ModeWithin Mode = "WITHIN"
)

// ErrSessionComplete is returned when a turn is requested after the
// session's condition sequence is exhausted.
var ErrSessionComplete = errors.New("condition sequence complete")

// ErrSessionNotFound is returned for unknown session IDs.
var ErrSessionNotFound = errors.New("session not found")

// ErrTurnNotFound is returned for unknown turn IDs.
var ErrTurnNotFound = errors.New("turn not found")

// Session is one participant's experimental session.
type Session struct {
	ID             string
	Goal           string
	Mode           Mode
	ConditionOrder []condition.Pair
	ConditionIndex int
	FixedPlanJSON  string // empty until the fixed plan is computed
	InitialContext string
	CreatedAt      time.Time
}

// Sequence reconstructs the condition state machine from the stored state.
func (s *Session) Sequence() condition.Sequence {
	return condition.Sequence{Pairs: s.ConditionOrder, Index: s.ConditionIndex}
}

// TurnLog is one logged assistant-participant exchange.
type TurnLog struct {
	ID            int64
	SessionID     string
	TurnIndex     int
	Directiveness condition.Directiveness
	ChoiceFraming condition.ChoiceFraming

	Prompt   string // full prompt transcript (JSON message history)
	Output   string // text shown to the participant
	PlanJSON string

	NumOptions     int
	NumStepsTotal  int
	CharCount      int
	DeviationFlags []string
	RerenderCount  int

	UserResponse string
	ActionChoice string

	Evaluation *Evaluation
	CreatedAt  time.Time
}

// Evaluation carries the post-turn psychological scale responses.
// Item arrays hold the raw multi-item answers; the *Score fields are the
// computed means.
type Evaluation struct {
	AutonomyItems               []float64
	CoercionItems               []float64
	PerceivedDirectivenessItems []float64
	PerceivedChoiceItems        []float64
	IntentionItems              []float64

	AutonomyScore          *float64
	CoercionScore          *float64
	PerceivedDirectiveness *float64
	PerceivedChoice        *float64
	IntentionScore         *float64

	PerceivedEmpathy      *float64
	PerceivedValueSupport *float64
	PerceivedPoliteness   *float64
	FreeText              string
}

// ComputeScores fills every *Score field with the mean of its item array.
// Empty arrays leave the score unset.
func (e *Evaluation) ComputeScores() {
	e.AutonomyScore = mean(e.AutonomyItems)
	e.CoercionScore = mean(e.CoercionItems)
	e.PerceivedDirectiveness = mean(e.PerceivedDirectivenessItems)
	e.PerceivedChoice = mean(e.PerceivedChoiceItems)
	e.IntentionScore = mean(e.IntentionItems)
}

func mean(items []float64) *float64 {
	if len(items) == 0 {
		return nil
	}
	sum := 0.0
	for _, v := range items {
		sum += v
	}
	m := sum / float64(len(items))
	return &m
}

// Store is the persistence interface for sessions and turn logs.
type Store interface {
	CreateSession(s *Session) error
	GetSession(id string) (*Session, error)

	// AdvanceCondition increments the condition index, saturating at the
	// sequence length, and returns the new index. The update is atomic.
	AdvanceCondition(id string) (int, error)

	// SetFixedPlanIfAbsent stores planJSON only when no fixed plan exists
	// yet and returns the winning plan JSON either way, so concurrent
	// callers converge on one plan per session.
	SetFixedPlanIfAbsent(id, planJSON string) (string, error)

	LogTurn(t *TurnLog) error
	GetTurn(id int64) (*TurnLog, error)
	LastTurn(sessionID string) (*TurnLog, error) // nil when no turns yet
	UpdateEvaluation(turnID int64, ev *Evaluation) error

	// AllTurns returns every turn joined with its session, in log order,
	// for export.
	AllTurns() ([]ExportRow, error)

	Close() error
}
