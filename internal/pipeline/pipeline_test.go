package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/exprlab/condcoach/internal/condition"
	"github.com/exprlab/condcoach/internal/deviation"
	"github.com/exprlab/condcoach/internal/llm"
	"github.com/exprlab/condcoach/internal/plan"
)

// scriptedProvider returns canned responses in order, then repeats the last.
type scriptedProvider struct {
	responses []string
	err       error
	calls     int
	requests  []llm.ChatRequest
}

func (s *scriptedProvider) Chat(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	s.requests = append(s.requests, req)
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	i := s.calls - 1
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return &llm.ChatResponse{Content: s.responses[i]}, nil
}

func walkPlan() *plan.ContentPlan {
	return &plan.ContentPlan{
		Goal: "運動の習慣をつける",
		Options: []plan.Option{
			{ID: "A", Action: "10分だけ歩く", DurationMin: 10, Steps: []string{"靴を履く", "外に出る"}, Reason: "気分転換になるため"},
			{ID: "B", Action: "ストレッチをする", DurationMin: 5, Steps: []string{"マットを敷く"}, Reason: "体がほぐれるため"},
			{ID: "C", Action: "水を飲む", DurationMin: 1, Steps: []string{"コップに水をくむ"}, Reason: "区切りになるため"},
		},
	}
}

const cleanHighAbsent = "体を動かす時間です。次のとおり取り組んでください。\n" +
	"A) 10分だけ歩く（10分）：靴を履く→外に出る\n" +
	"B) ストレッチをする（5分）：マットを敷く\n" +
	"C) 水を飲む（1分）：コップに水をくむ\n" +
	"どの案も気分と体を整えるためのものです。まずA)から取り組みなさい。"

// Missing option C entirely, so fidelity flags fire.
const brokenHighAbsent = "体を動かす時間です。取り組んでください。\n" +
	"A) 10分だけ歩く（10分）：靴を履く→外に出る\n" +
	"B) ストレッチをする（5分）：マットを敷く"

var highAbsent = condition.Pair{
	Directiveness: condition.DirectivenessHigh,
	ChoiceFraming: condition.ChoiceAbsent,
}

func TestOrchestrate_CleanFirstAttempt(t *testing.T) {
	provider := &scriptedProvider{responses: []string{cleanHighAbsent}}
	c := NewController(provider, 2)

	result, history, err := c.Orchestrate(context.Background(), walkPlan(), highAbsent, "")
	if err != nil {
		t.Fatalf("orchestrate error: %v", err)
	}
	if result.RerenderCount != 0 {
		t.Errorf("expected 0 rerenders, got %d", result.RerenderCount)
	}
	if len(result.Flags) != 0 {
		t.Errorf("expected zero flags, got %v", result.Flags)
	}
	// system + plan request + one assistant reply
	if len(history) != 3 {
		t.Errorf("expected 3 history messages, got %d", len(history))
	}
	if result.Integrity.NumOptions != 3 || result.Integrity.NumStepsTotal != 4 {
		t.Errorf("unexpected integrity: %+v", result.Integrity)
	}
	if result.Integrity.CharCount != len([]rune(cleanHighAbsent)) {
		t.Errorf("char count should be rune-based, got %d", result.Integrity.CharCount)
	}
}

func TestOrchestrate_CorrectsOnce(t *testing.T) {
	provider := &scriptedProvider{responses: []string{brokenHighAbsent, cleanHighAbsent}}
	c := NewController(provider, 2)

	result, history, err := c.Orchestrate(context.Background(), walkPlan(), highAbsent, "")
	if err != nil {
		t.Fatalf("orchestrate error: %v", err)
	}
	if result.RerenderCount != 1 {
		t.Errorf("expected 1 rerender, got %d", result.RerenderCount)
	}
	if len(result.Flags) != 0 {
		t.Errorf("expected clean final text, got %v", result.Flags)
	}
	if result.Text != cleanHighAbsent {
		t.Error("final text should be the corrected attempt")
	}

	// The corrective user message names the violated flags and the second
	// render sees the full history.
	if len(history) != 5 {
		t.Fatalf("expected 5 history messages, got %d", len(history))
	}
	corrective := history[3]
	if corrective.Role != llm.RoleUser || !strings.Contains(corrective.Content, string(deviation.MissingAction("C"))) {
		t.Errorf("corrective message should name the missing element, got %+v", corrective)
	}
	secondReq := provider.requests[1]
	if len(secondReq.Messages) != 4 {
		t.Errorf("re-render should carry the full history, got %d messages", len(secondReq.Messages))
	}
}

func TestOrchestrate_ExhaustionStillReturnsText(t *testing.T) {
	provider := &scriptedProvider{responses: []string{brokenHighAbsent}}
	c := NewController(provider, 2)

	result, _, err := c.Orchestrate(context.Background(), walkPlan(), highAbsent, "")
	if err != nil {
		t.Fatalf("orchestrate error: %v", err)
	}
	if result.RerenderCount != 2 {
		t.Errorf("rerender count should equal the budget, got %d", result.RerenderCount)
	}
	if len(result.Flags) == 0 {
		t.Error("unresolved flags should travel with the result")
	}
	if result.Text == "" {
		t.Error("orchestrate must always return displayable text")
	}
	// attempt 0 + 2 rerenders
	if provider.calls != 3 {
		t.Errorf("expected 3 backend calls, got %d", provider.calls)
	}
}

func TestOrchestrate_ZeroBudget(t *testing.T) {
	provider := &scriptedProvider{responses: []string{brokenHighAbsent}}
	c := NewController(provider, 0)

	result, _, err := c.Orchestrate(context.Background(), walkPlan(), highAbsent, "")
	if err != nil {
		t.Fatalf("orchestrate error: %v", err)
	}
	if result.RerenderCount != 0 || provider.calls != 1 {
		t.Errorf("zero budget means exactly one render, got rerenders=%d calls=%d", result.RerenderCount, provider.calls)
	}
}

func TestOrchestrate_TransportError(t *testing.T) {
	wantErr := errors.New("bad gateway")
	provider := &scriptedProvider{err: wantErr}
	c := NewController(provider, 2)

	_, _, err := c.Orchestrate(context.Background(), walkPlan(), highAbsent, "")
	if !errors.Is(err, wantErr) {
		t.Errorf("transport failure should surface, got %v", err)
	}
}

func TestGenerateInstruction_WithFixedPlan(t *testing.T) {
	provider := &scriptedProvider{responses: []string{cleanHighAbsent}}
	c := NewController(provider, 2)

	inst, err := c.GenerateInstruction(context.Background(), Request{
		Goal:      "運動の習慣をつける",
		Pair:      highAbsent,
		FixedPlan: walkPlan(),
	})
	if err != nil {
		t.Fatalf("generate error: %v", err)
	}
	if inst.Output != cleanHighAbsent {
		t.Error("output should be the rendered text")
	}
	if !strings.Contains(inst.PlanJSON, "10分だけ歩く") {
		t.Error("plan JSON should carry the fixed plan")
	}
	if !strings.Contains(inst.PromptTranscript, "\"role\"") {
		t.Error("prompt transcript should be the serialized history")
	}
	if inst.RerenderCount != 0 || len(inst.Flags) != 0 {
		t.Errorf("unexpected metadata: rerenders=%d flags=%v", inst.RerenderCount, inst.Flags)
	}
	// Fixed plan means no planner call: exactly one backend round trip.
	if provider.calls != 1 {
		t.Errorf("expected 1 backend call, got %d", provider.calls)
	}
}

func TestGenerateInstruction_TurnContextReachesBackend(t *testing.T) {
	provider := &scriptedProvider{responses: []string{cleanHighAbsent}}
	c := NewController(provider, 2)

	turnContext := "直前のユーザー返答: 歩いてみました"
	_, err := c.GenerateInstruction(context.Background(), Request{
		Goal:      "運動の習慣をつける",
		Pair:      highAbsent,
		Context:   turnContext,
		FixedPlan: walkPlan(),
	})
	if err != nil {
		t.Fatalf("generate error: %v", err)
	}

	found := false
	for _, req := range provider.requests {
		for _, msg := range req.Messages {
			if strings.Contains(msg.Content, "歩いてみました") {
				found = true
			}
		}
	}
	if !found {
		t.Error("turn context should reach the backend even with a fixed plan")
	}
}

func TestGenerateInstruction_PlansWhenNoFixedPlan(t *testing.T) {
	planJSON := `{"options":[
		{"action":"10分だけ歩く","duration_min":10,"steps":["靴を履く","外に出る"],"reason":"気分転換になるため"},
		{"action":"ストレッチをする","duration_min":5,"steps":["マットを敷く"],"reason":"体がほぐれるため"},
		{"action":"水を飲む","duration_min":1,"steps":["コップに水をくむ"],"reason":"区切りになるため"}
	]}`
	provider := &scriptedProvider{responses: []string{planJSON, cleanHighAbsent}}
	c := NewController(provider, 2)

	inst, err := c.GenerateInstruction(context.Background(), Request{
		Goal: "運動の習慣をつける",
		Pair: highAbsent,
	})
	if err != nil {
		t.Fatalf("generate error: %v", err)
	}
	if provider.calls != 2 {
		t.Errorf("expected planner + render calls, got %d", provider.calls)
	}
	if inst.Integrity.NumOptions != 3 {
		t.Errorf("unexpected integrity: %+v", inst.Integrity)
	}
}
