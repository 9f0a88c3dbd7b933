package plan

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"

	"github.com/exprlab/condcoach/internal/llm"
	"github.com/exprlab/condcoach/internal/telemetry"
)

const plannerSystemPrompt = "あなたは行動支援の内容を設計するプランナーです。" +
	"ユーザーの目標と状況をもとに、実行候補となる行動案をちょうど3つ設計してください。\n" +
	"・出力はJSONオブジェクトのみとし、前置きや説明文、コードブロック記法は一切書かないでください。\n" +
	"・形式: {\"options\": [{\"action\": \"...\", \"duration_min\": 10, \"steps\": [\"...\", \"...\"], \"reason\": \"...\"}, ...]}\n" +
	"・action は具体的な行動を1つだけ、duration_min は正の整数（分）、steps は2〜3個の短い手順、reason はその行動を勧める理由を書いてください。\n" +
	"・文体や丁寧さの調整は不要です。内容だけを書き、命令調・提案調などの表現上の味付けは入れないでください。"

// Planner turns a goal and context into a fixed ContentPlan by asking the
// backend for a constrained JSON object and normalizing whatever comes back.
type Planner struct {
	provider llm.Provider
	log      *logrus.Entry
	tracer   trace.Tracer
}

// NewPlanner creates a planner on top of a backend provider.
func NewPlanner(provider llm.Provider) *Planner {
	return &Planner{
		provider: provider,
		log:      logrus.WithField("component", "planner"),
		tracer:   telemetry.Tracer(),
	}
}

// Generate produces a valid ContentPlan for the goal and context.
//
// Malformed, partial, or non-JSON backend output is normalized into a valid
// plan; total parse failure falls back to a deterministic built-in plan.
// The only error this returns is a backend transport failure.
func (pl *Planner) Generate(ctx context.Context, goal, contextText string) (*ContentPlan, []llm.Message, error) {
	ctx, span := pl.tracer.Start(ctx, "plan.generate")
	defer span.End()

	userPayload := fmt.Sprintf(
		"目標: %s\n状況: %s\n上記の目標と状況に対する行動案3つをJSONで出力してください。",
		goal, contextText,
	)
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: plannerSystemPrompt},
		{Role: llm.RoleUser, Content: userPayload},
	}

	resp, err := pl.provider.Chat(ctx, llm.ChatRequest{Messages: messages})
	if err != nil {
		return nil, nil, fmt.Errorf("content plan request failed: %w", err)
	}

	p := Normalize(resp.Content, goal, contextText)
	if err := p.Validate(); err != nil {
		// Normalization guarantees validity; reaching here is a bug, but the
		// planner still must not fail on bad content, so fall back.
		pl.log.WithFields(logrus.Fields{"error": err}).Warn("normalized plan invalid, using fallback")
		p = Fallback(goal, contextText)
	}

	transcript := append(messages, llm.Message{Role: llm.RoleAssistant, Content: resp.Content})
	return p, transcript, nil
}

// Fallback is the deterministic plan used when the backend output cannot be
// salvaged at all. It is generic on purpose: safe for any goal.
func Fallback(goal, contextText string) *ContentPlan {
	return &ContentPlan{
		Goal:    goal,
		Context: contextText,
		Options: []Option{
			{
				ID:          "A",
				Action:      "5分だけ着手する",
				DurationMin: 5,
				Steps:       []string{"やることを1つに絞る", "タイマーを5分にセットする"},
				Reason:      "最初の一歩を小さくすると始めやすいため",
			},
			{
				ID:          "B",
				Action:      "取り組む環境を整える",
				DurationMin: 10,
				Steps:       []string{"机の上を片付ける", "必要な道具を手元に置く"},
				Reason:      "環境が整うと集中しやすくなるため",
			},
			{
				ID:          "C",
				Action:      "今日の計画をメモに書く",
				DurationMin: 10,
				Steps:       []string{"紙とペンを用意する", "やることを3つ書き出す"},
				Reason:      "見通しが立つと負担感が下がるため",
			},
		},
	}
}
