// Package pipeline drives the verbalize/detect corrective loop and exposes
// the turn-level instruction generation surface.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/exprlab/condcoach/internal/condition"
	"github.com/exprlab/condcoach/internal/deviation"
	"github.com/exprlab/condcoach/internal/llm"
	"github.com/exprlab/condcoach/internal/plan"
	"github.com/exprlab/condcoach/internal/telemetry"
	"github.com/exprlab/condcoach/internal/verbalize"
)

// DefaultMaxAttempts bounds corrective re-renders per turn. Worst-case
// latency for one turn is (DefaultMaxAttempts+1) backend round trips plus
// at most one planner call.
const DefaultMaxAttempts = 2

// Integrity carries the content-integrity metrics logged with every turn.
type Integrity struct {
	NumOptions    int `json:"num_options"`
	NumStepsTotal int `json:"num_steps_total"`
	CharCount     int `json:"char_count"`
}

// Result is the outcome of one bounded corrective rendering loop.
// It is never mutated after creation.
type Result struct {
	Text          string
	Flags         []deviation.Flag
	RerenderCount int
	Integrity     Integrity
}

// Request asks for one instruction under one condition pair. FixedPlan, when
// set, is used as-is; otherwise a plan is generated for this turn.
type Request struct {
	Goal      string
	Pair      condition.Pair
	Context   string
	FixedPlan *plan.ContentPlan
}

// Instruction is the full turn artifact handed to the turn logger.
type Instruction struct {
	PromptTranscript string
	Output           string
	PlanJSON         string
	Integrity        Integrity
	Flags            []deviation.Flag
	RerenderCount    int
}

// Controller owns the planner, renderer, and the attempt budget.
type Controller struct {
	planner     *plan.Planner
	renderer    *verbalize.Renderer
	maxAttempts int
	log         *logrus.Entry
	tracer      trace.Tracer
}

// NewController builds a pipeline over one backend provider.
func NewController(provider llm.Provider, maxAttempts int) *Controller {
	if maxAttempts < 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Controller{
		planner:     plan.NewPlanner(provider),
		renderer:    verbalize.NewRenderer(provider),
		maxAttempts: maxAttempts,
		log:         logrus.WithField("component", "pipeline"),
		tracer:      telemetry.Tracer(),
	}
}

// Planner exposes the content planner for callers that fix a plan up front.
func (c *Controller) Planner() *plan.Planner {
	return c.planner
}

// Orchestrate renders the fixed plan under the given pair, re-rendering with
// corrective feedback until the text is clean or the attempt budget is spent.
// contextText is the running turn context folded into the plan request.
// On exhaustion it returns the last attempt's text with its flags: the
// pipeline always yields a displayable message; unresolved flags are
// data-quality signals, not failures. The returned history is the full
// conversation including every corrective exchange.
func (c *Controller) Orchestrate(ctx context.Context, p *plan.ContentPlan, pair condition.Pair, contextText string) (*Result, []llm.Message, error) {
	ctx, span := c.tracer.Start(ctx, "pipeline.render", trace.WithAttributes(
		attribute.String("condition.directiveness", string(pair.Directiveness)),
		attribute.String("condition.choice_framing", string(pair.ChoiceFraming)),
	))
	defer span.End()

	history := verbalize.NewConversation(p, pair, contextText)

	var text string
	var flags []deviation.Flag
	rerenders := 0
	for {
		rendered, err := c.renderer.Render(ctx, history)
		if err != nil {
			return nil, nil, err
		}
		text = rendered
		history = append(history, llm.Message{Role: llm.RoleAssistant, Content: text})

		flags = deviation.Detect(text, pair, p)
		if len(flags) == 0 || rerenders == c.maxAttempts {
			break
		}

		c.log.WithFields(logrus.Fields{
			"flags":   flags,
			"attempt": rerenders + 1,
			"pair":    pair.String(),
		}).Info("deviation detected, re-rendering")
		history = append(history, llm.Message{Role: llm.RoleUser, Content: deviation.CorrectiveMessage(flags)})
		rerenders++
	}

	if len(flags) > 0 {
		c.log.WithFields(logrus.Fields{"flags": flags, "pair": pair.String()}).
			Warn("attempt budget exhausted with unresolved flags")
	}
	span.SetAttributes(
		attribute.Int("pipeline.rerender_count", rerenders),
		attribute.Int("pipeline.flag_count", len(flags)),
	)

	result := &Result{
		Text:          text,
		Flags:         flags,
		RerenderCount: rerenders,
		Integrity: Integrity{
			NumOptions:    len(p.Options),
			NumStepsTotal: p.NumStepsTotal(),
			CharCount:     utf8.RuneCountInString(text),
		},
	}
	return result, history, nil
}

// GenerateInstruction produces one support message: plan (fixed or fresh),
// bounded corrective rendering, and the artifacts the turn logger persists.
func (c *Controller) GenerateInstruction(ctx context.Context, req Request) (*Instruction, error) {
	ctx, span := c.tracer.Start(ctx, "pipeline.turn")
	defer span.End()

	p := req.FixedPlan
	if p == nil {
		generated, _, err := c.planner.Generate(ctx, req.Goal, req.Context)
		if err != nil {
			return nil, err
		}
		p = generated
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("content plan invalid: %w", err)
	}

	result, history, err := c.Orchestrate(ctx, p, req.Pair, req.Context)
	if err != nil {
		return nil, err
	}

	transcript, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("marshal prompt transcript: %w", err)
	}
	planJSON, err := p.ToJSON()
	if err != nil {
		return nil, err
	}

	return &Instruction{
		PromptTranscript: string(transcript),
		Output:           result.Text,
		PlanJSON:         planJSON,
		Integrity:        result.Integrity,
		Flags:            result.Flags,
		RerenderCount:    result.RerenderCount,
	}, nil
}
