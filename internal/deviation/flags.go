// Package deviation classifies rendered text against the expression
// constraints of its condition pair and the fidelity requirements of the
// fixed content plan. Flags are data-quality metadata, not errors: a
// flagged turn is still displayable, and unresolved flags travel with the
// result for later exclusion during analysis.
package deviation

import (
	"fmt"
	"strings"
)

// Flag identifies one detected violation.
type Flag string

// Expression-constraint flag kinds.
const (
	// ForbiddenImperative: imperative/obligation vocabulary under LOW.
	ForbiddenImperative Flag = "FORBIDDEN_IMPERATIVE"
	// MissingChoicePhrase: fixed freedom-of-choice sentence absent under PRESENT.
	MissingChoicePhrase Flag = "MISSING_CHOICE_PHRASE"
	// DuplicateChoicePhrase: fixed sentence appears more than once under PRESENT.
	DuplicateChoicePhrase Flag = "DUPLICATE_CHOICE_PHRASE"
	// ForbiddenChoicePhrase: fixed sentence present under ABSENT.
	ForbiddenChoicePhrase Flag = "FORBIDDEN_CHOICE_PHRASE"
	// ChoiceMetaLeak: agency-meta wording under ABSENT (basic pattern set).
	ChoiceMetaLeak Flag = "CHOICE_META_LEAK"
	// MissingCommandCue: no command-register cue under HIGH.
	MissingCommandCue Flag = "MISSING_COMMAND_CUE"
	// MissingSoftCue: no suggestion-register cue under LOW.
	MissingSoftCue Flag = "MISSING_SOFT_CUE"
	// AgencyLeakStrict: agency+choice-verb combination under ABSENT
	// (broader pattern set, kept independent of ChoiceMetaLeak).
	AgencyLeakStrict Flag = "AGENCY_LEAK_STRICT"
)

// Content-fidelity flags name the option and the missing element.

func MissingOptionMarker(id string) Flag {
	return Flag("MISSING_OPTION_MARKER_" + id)
}

func MissingAction(id string) Flag {
	return Flag("MISSING_ACTION_" + id)
}

func MissingDuration(id string) Flag {
	return Flag("MISSING_DURATION_" + id)
}

// MissingStep uses a 1-based step number.
func MissingStep(id string, n int) Flag {
	return Flag(fmt.Sprintf("MISSING_STEP_%s_%d", id, n))
}

// Describe returns a corrective instruction for one flag, in the language
// of the rendered output, suitable for feeding back to the backend.
func Describe(f Flag) string {
	switch f {
	case ForbiddenImperative:
		return "命令・義務の表現（しなさい、必ず、絶対に など）が含まれています。穏やかな提案表現に書き直してください。"
	case MissingChoicePhrase:
		return "指定された一文が一字一句そのまま含まれていません。本文のどこかに一度だけ、そのまま含めてください。"
	case DuplicateChoicePhrase:
		return "指定された一文が複数回含まれています。一度だけ残し、残りは削除してください。"
	case ForbiddenChoicePhrase:
		return "含めてはいけない固定の一文が含まれています。削除してください。"
	case ChoiceMetaLeak, AgencyLeakStrict:
		return "どれを選んでもよい・あなたが決める、といった選択の自由に言及する表現が含まれています。すべて削除してください。"
	case MissingCommandCue:
		return "指示の文体が弱すぎます。「〜しなさい」「必ず〜してください」のような明確な指示表現を使ってください。"
	case MissingSoftCue:
		return "提案の表現が見当たりません。「〜してみるのはいかがでしょう」のような穏やかな提案表現を使ってください。"
	}

	s := string(f)
	switch {
	case strings.HasPrefix(s, "MISSING_OPTION_MARKER_"):
		id := strings.TrimPrefix(s, "MISSING_OPTION_MARKER_")
		return fmt.Sprintf("選択肢 %s) の行がありません。%s) で始まる行を入れてください。", id, id)
	case strings.HasPrefix(s, "MISSING_ACTION_"):
		id := strings.TrimPrefix(s, "MISSING_ACTION_")
		return fmt.Sprintf("選択肢 %s の行動の文言が、計画と一字一句同じ形で含まれていません。", id)
	case strings.HasPrefix(s, "MISSING_DURATION_"):
		id := strings.TrimPrefix(s, "MISSING_DURATION_")
		return fmt.Sprintf("選択肢 %s の所要時間（「10分」のような分表記）が含まれていません。", id)
	case strings.HasPrefix(s, "MISSING_STEP_"):
		rest := strings.TrimPrefix(s, "MISSING_STEP_")
		return fmt.Sprintf("選択肢 %s の手順が、計画と一字一句同じ形で含まれていません。", strings.ReplaceAll(rest, "_", " の手順 "))
	}
	return "出力が制約を満たしていません。指示に沿って修正してください。"
}
