package experiment

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/exprlab/condcoach/internal/condition"
	"github.com/exprlab/condcoach/internal/deviation"
	"github.com/exprlab/condcoach/internal/pipeline"
	"github.com/exprlab/condcoach/internal/plan"
)

// StartParams configures a new session. Directiveness and ChoiceFraming take
// HIGH/LOW, PRESENT/ABSENT, or AUTO for random assignment; both are ignored
// when WithinSubject is set.
type StartParams struct {
	Goal           string
	Directiveness  string
	ChoiceFraming  string
	WithinSubject  bool
	InitialContext string
}

// Manager runs sessions end to end: condition assignment, fixed-plan reuse,
// instruction generation, turn logging, and evaluation capture.
//
// Per-session operations that read state, render, and advance are serialized
// through a session-scoped mutex so concurrent callers cannot interleave a
// render with an advance.
type Manager struct {
	store Store
	pipe  *pipeline.Controller
	log   *logrus.Entry

	rngMu sync.Mutex
	rng   *rand.Rand

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager wires a manager over a store and a generation pipeline. The
// random source drives condition assignment and order shuffling; tests
// inject a seeded one.
func NewManager(store Store, pipe *pipeline.Controller, rng *rand.Rand) *Manager {
	return &Manager{
		store: store,
		pipe:  pipe,
		log:   logrus.WithField("component", "experiment"),
		rng:   rng,
		locks: make(map[string]*sync.Mutex),
	}
}

func (m *Manager) sessionLock(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// dropSessionLock evicts a completed session's mutex so the map stays
// bounded in long-lived hosts. A late caller gets a fresh mutex; every
// operation on a completed session is read-only or saturating, so the
// brief overlap is harmless.
func (m *Manager) dropSessionLock(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, id)
}

// StartSession creates a session, fixes its condition sequence and content
// plan, and renders the first instruction.
func (m *Manager) StartSession(ctx context.Context, p StartParams) (*Session, *TurnLog, error) {
	if p.Goal == "" {
		return nil, nil, fmt.Errorf("goal must not be empty")
	}

	var seq condition.Sequence
	mode := ModeBetween
	m.rngMu.Lock()
	if p.WithinSubject {
		mode = ModeWithin
		seq = condition.NewWithinSequence(m.rng)
	} else {
		dir, err := condition.ResolveDirectiveness(p.Directiveness, m.rng)
		if err == nil {
			var choice condition.ChoiceFraming
			choice, err = condition.ResolveChoiceFraming(p.ChoiceFraming, m.rng)
			seq = condition.NewBetweenSequence(condition.Pair{Directiveness: dir, ChoiceFraming: choice})
		}
		if err != nil {
			m.rngMu.Unlock()
			return nil, nil, err
		}
	}
	m.rngMu.Unlock()

	sess := &Session{
		ID:             uuid.NewString(),
		Goal:           p.Goal,
		Mode:           mode,
		ConditionOrder: seq.Pairs,
		InitialContext: p.InitialContext,
		CreatedAt:      time.Now().UTC(),
	}
	if err := m.store.CreateSession(sess); err != nil {
		return nil, nil, err
	}

	m.log.WithFields(logrus.Fields{
		"session": sess.ID,
		"mode":    mode,
		"first":   seq.Pairs[0].String(),
	}).Info("session started")

	turn, err := m.renderTurn(ctx, sess, "", "")
	if err != nil {
		return nil, nil, err
	}
	return sess, turn, nil
}

// CurrentCondition returns the active pair plus progress through the
// sequence (index, total).
func (m *Manager) CurrentCondition(sessionID string) (condition.Pair, int, int, error) {
	sess, err := m.store.GetSession(sessionID)
	if err != nil {
		return condition.Pair{}, 0, 0, err
	}
	pair, index, total := sess.Sequence().Current()
	return pair, index, total, nil
}

// IsComplete reports whether the session's condition sequence is exhausted.
func (m *Manager) IsComplete(sessionID string) (bool, error) {
	sess, err := m.store.GetSession(sessionID)
	if err != nil {
		return false, err
	}
	return sess.Sequence().IsComplete(), nil
}

// Advance moves the session to its next condition. Safe to call on a
// completed session; the index saturates.
func (m *Manager) Advance(sessionID string) (int, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return m.store.AdvanceCondition(sessionID)
}

// GetOrCreateFixedPlan returns the session's fixed content plan, generating
// and persisting it on first use. Racing callers converge on whichever plan
// was stored first. A stored plan that no longer parses is regenerated.
func (m *Manager) GetOrCreateFixedPlan(ctx context.Context, sessionID string) (*plan.ContentPlan, error) {
	sess, err := m.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	return m.fixedPlan(ctx, sess)
}

func (m *Manager) fixedPlan(ctx context.Context, sess *Session) (*plan.ContentPlan, error) {
	if sess.FixedPlanJSON != "" {
		p, err := plan.FromJSON(sess.FixedPlanJSON)
		if err == nil {
			return p, nil
		}
		m.log.WithFields(logrus.Fields{"session": sess.ID, "error": err}).
			Warn("stored fixed plan unreadable, regenerating")
	}

	generated, _, err := m.pipe.Planner().Generate(ctx, sess.Goal, sess.InitialContext)
	if err != nil {
		return nil, err
	}
	planJSON, err := generated.ToJSON()
	if err != nil {
		return nil, err
	}

	winner, err := m.store.SetFixedPlanIfAbsent(sess.ID, planJSON)
	if err != nil {
		return nil, err
	}
	sess.FixedPlanJSON = winner
	if winner != planJSON {
		if p, perr := plan.FromJSON(winner); perr == nil {
			return p, nil
		}
		// The stored winner is unreadable; fall through to our own plan.
	}
	return generated, nil
}

// NextTurn renders one instruction under the current condition, folding the
// participant's previous reply into the planning context, and logs the turn.
// Returns ErrSessionComplete once the sequence is exhausted.
func (m *Manager) NextTurn(ctx context.Context, sessionID, userResponse, actionChoice string) (*TurnLog, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return m.nextTurnLocked(ctx, sessionID, userResponse, actionChoice)
}

func (m *Manager) nextTurnLocked(ctx context.Context, sessionID, userResponse, actionChoice string) (*TurnLog, error) {
	sess, err := m.store.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Sequence().IsComplete() {
		m.dropSessionLock(sessionID)
		return nil, fmt.Errorf("%w: session %s", ErrSessionComplete, sessionID)
	}
	return m.renderTurn(ctx, sess, userResponse, actionChoice)
}

func (m *Manager) renderTurn(ctx context.Context, sess *Session, userResponse, actionChoice string) (*TurnLog, error) {
	fixed, err := m.fixedPlan(ctx, sess)
	if err != nil {
		return nil, err
	}

	pair, _, _ := sess.Sequence().Current()

	turnIndex := 0
	contextText := sess.InitialContext
	last, err := m.store.LastTurn(sess.ID)
	if err != nil {
		return nil, err
	}
	if last != nil {
		turnIndex = last.TurnIndex + 1
		contextText = turnContext(last.Output, userResponse)
	}

	inst, err := m.pipe.GenerateInstruction(ctx, pipeline.Request{
		Goal:      sess.Goal,
		Pair:      pair,
		Context:   contextText,
		FixedPlan: fixed,
	})
	if err != nil {
		return nil, err
	}

	turn := &TurnLog{
		SessionID:      sess.ID,
		TurnIndex:      turnIndex,
		Directiveness:  pair.Directiveness,
		ChoiceFraming:  pair.ChoiceFraming,
		Prompt:         inst.PromptTranscript,
		Output:         inst.Output,
		PlanJSON:       inst.PlanJSON,
		NumOptions:     inst.Integrity.NumOptions,
		NumStepsTotal:  inst.Integrity.NumStepsTotal,
		CharCount:      inst.Integrity.CharCount,
		DeviationFlags: flagStrings(inst.Flags),
		RerenderCount:  inst.RerenderCount,
		UserResponse:   userResponse,
		ActionChoice:   actionChoice,
		CreatedAt:      time.Now().UTC(),
	}
	if err := m.store.LogTurn(turn); err != nil {
		return nil, err
	}

	m.log.WithFields(logrus.Fields{
		"session":   sess.ID,
		"turn":      turnIndex,
		"pair":      pair.String(),
		"rerenders": turn.RerenderCount,
		"flags":     len(turn.DeviationFlags),
	}).Info("turn logged")

	return turn, nil
}

// Evaluate computes scale means and stores the responses on a turn.
func (m *Manager) Evaluate(turnID int64, ev *Evaluation) error {
	ev.ComputeScores()
	return m.store.UpdateEvaluation(turnID, ev)
}

// AdvanceTurn finishes one condition block: it stores the evaluation for the
// block's turn, advances the condition, and renders the next block's first
// instruction. When the sequence is exhausted it returns done=true and no
// turn. The whole read-render-advance is serialized per session.
func (m *Manager) AdvanceTurn(ctx context.Context, sessionID string, turnID int64, ev *Evaluation, userResponse, actionChoice string) (*TurnLog, bool, error) {
	lock := m.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if ev != nil {
		ev.ComputeScores()
		if err := m.store.UpdateEvaluation(turnID, ev); err != nil {
			return nil, false, err
		}
	}

	index, err := m.store.AdvanceCondition(sessionID)
	if err != nil {
		return nil, false, err
	}

	sess, err := m.store.GetSession(sessionID)
	if err != nil {
		return nil, false, err
	}
	if sess.Sequence().IsComplete() {
		m.dropSessionLock(sessionID)
		m.log.WithFields(logrus.Fields{"session": sessionID, "index": index}).
			Info("session complete")
		return nil, true, nil
	}

	turn, err := m.renderTurn(ctx, sess, userResponse, actionChoice)
	if err != nil {
		return nil, false, err
	}
	return turn, false, nil
}

// Export writes every logged turn joined with its session.
func (m *Manager) Export() ([]ExportRow, error) {
	return m.store.AllTurns()
}

func turnContext(lastOutput, userResponse string) string {
	ctx := "直前の提案: " + lastOutput
	if userResponse != "" {
		ctx += "\n直前のユーザー返答: " + userResponse
	}
	return ctx
}

func flagStrings(flags []deviation.Flag) []string {
	if len(flags) == 0 {
		return nil
	}
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = string(f)
	}
	return out
}
