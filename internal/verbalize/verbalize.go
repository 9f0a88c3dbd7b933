// Package verbalize renders a fixed content plan into prose under one
// condition pair. The prompt fixes the structure of the output; only the
// expression register varies between conditions.
package verbalize

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/exprlab/condcoach/internal/condition"
	"github.com/exprlab/condcoach/internal/llm"
	"github.com/exprlab/condcoach/internal/plan"
	"github.com/exprlab/condcoach/internal/telemetry"
)

// FixedChoicePhrase is the exact freedom-of-choice sentence required
// verbatim (exactly once) under choice framing PRESENT, and forbidden
// under ABSENT. No paraphrase is acceptable; the detector matches it
// letter for letter.
const FixedChoicePhrase = "無理のない範囲で、どれを選ぶかはあなた次第です"

// StepSeparator joins an option's steps on its line.
const StepSeparator = "→"

const structureRules = "・最初に1〜2文の導入文を書いてください。\n" +
	"・その後、A) / B) / C) の3つの選択肢を1行に1つずつ書いてください。各行には、その行動の内容、所要時間（「10分」のように分単位の表記）、手順を「→」でつないだ列を必ず含めてください。\n" +
	"・最後に、各案の理由に触れる締めの1文を書いてください。\n" +
	"・行動の文言、手順の文言、所要時間の数字と「分」は、与えられた計画から一字一句変えずに使ってください。\n" +
	"・出力は日本語で、ユーザーに直接表示する本文のみとし、前置きやメタな説明は書かないでください。\n"

const highDirectivenessRules = "・「〜しなさい」「必ず〜してください」のような、明確で強い指示の文体で書いてください。\n" +
	"・上からの一方向の指示として読める語調にし、遠慮がちな表現は避けてください。\n"

const lowDirectivenessRules = "・命令表現（しなさい、しろ、せよ、しなければならない、必ず、今すぐ、絶対に、すべき）は一切使わないでください。\n" +
	"・「〜してみるのはいかがでしょう」「〜という選択肢もあります」のような、穏やかな提案の文体で書いてください。\n"

const choicePresentRules = "・本文のどこかに、次の一文を一度だけ、一字一句そのまま含めてください：「" +
	FixedChoicePhrase + "」\n"

const choiceAbsentRules = "・どれを選んでもよい、選ぶのは自由、あなたが決める、といった選択の自由に言及する文は一切書かないでください。\n"

// SystemPrompt builds the condition-specific rendering instruction.
// The switch is exhaustive over the 2x2 design.
func SystemPrompt(pair condition.Pair) string {
	var b strings.Builder
	b.WriteString("あなたは、ユーザーの行動目標を支援するメッセージを作成するアシスタントです。\n")
	b.WriteString(structureRules)

	switch pair.Directiveness {
	case condition.DirectivenessHigh:
		b.WriteString(highDirectivenessRules)
	case condition.DirectivenessLow:
		b.WriteString(lowDirectivenessRules)
	}

	switch pair.ChoiceFraming {
	case condition.ChoicePresent:
		b.WriteString(choicePresentRules)
	case condition.ChoiceAbsent:
		b.WriteString(choiceAbsentRules)
	}
	return b.String()
}

// PlanMessage serializes the fixed plan into the user message. Each field
// the detector later checks for is spelled out explicitly. situation carries
// the running turn context (previous message, participant reply); it informs
// the wording only, never the plan content, and is skipped when it merely
// repeats the plan's own context.
func PlanMessage(p *plan.ContentPlan, situation string) string {
	var b strings.Builder
	b.WriteString("以下の固定された行動計画を、指定の文体でメッセージにしてください。内容は変えないでください。\n")
	fmt.Fprintf(&b, "目標: %s\n", p.Goal)
	if p.Context != "" {
		fmt.Fprintf(&b, "状況: %s\n", p.Context)
	}
	if situation != "" && situation != p.Context {
		fmt.Fprintf(&b, "直近のやり取り（文体の参考にし、計画の内容は変えないでください）:\n%s\n", situation)
	}
	for _, opt := range p.Options {
		fmt.Fprintf(&b, "%s) 行動:「%s」 所要時間: %d分 手順: %s 理由: %s\n",
			opt.ID, opt.Action, opt.DurationMin,
			strings.Join(opt.Steps, StepSeparator), opt.Reason)
	}
	return b.String()
}

// NewConversation starts the rendering history for one turn: the
// condition-specific system instruction plus the plan request.
func NewConversation(p *plan.ContentPlan, pair condition.Pair, situation string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: SystemPrompt(pair)},
		{Role: llm.RoleUser, Content: PlanMessage(p, situation)},
	}
}

// Renderer performs one blocking render round trip against the backend.
type Renderer struct {
	provider llm.Provider
	log      *logrus.Entry
	tracer   trace.Tracer
}

// NewRenderer creates a renderer on top of a backend provider.
func NewRenderer(provider llm.Provider) *Renderer {
	return &Renderer{
		provider: provider,
		log:      logrus.WithField("component", "verbalizer"),
		tracer:   telemetry.Tracer(),
	}
}

// Render sends the full conversation history and returns the rendered text.
// Transport failures surface as hard errors.
func (r *Renderer) Render(ctx context.Context, history []llm.Message) (string, error) {
	ctx, span := r.tracer.Start(ctx, "verbalize.render")
	defer span.End()

	resp, err := r.provider.Chat(ctx, llm.ChatRequest{Messages: history})
	if err != nil {
		return "", fmt.Errorf("render request failed: %w", err)
	}
	text := strings.TrimSpace(resp.Content)
	r.log.WithFields(logrus.Fields{
		"chars":  len([]rune(text)),
		"tokens": resp.OutputTokens,
	}).Debug("rendered instruction")
	return text, nil
}
