package deviation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/exprlab/condcoach/internal/condition"
	"github.com/exprlab/condcoach/internal/plan"
	"github.com/exprlab/condcoach/internal/verbalize"
)

// Rule is one independent predicate over rendered text. Rules never
// short-circuit each other: Detect runs every applicable rule and returns
// the union of triggered flags.
type Rule struct {
	Name    string
	Applies func(pair condition.Pair) bool
	Check   func(text string, p *plan.ContentPlan) []Flag
}

// Imperative/obligation markers banned under LOW. The しろ/せよ endings are
// anchored to a sentence boundary so hiragana runs like おもしろい do not
// trip them.
var imperativePatterns = []*regexp.Regexp{
	regexp.MustCompile(`なさい(?:[。！!」\n]|$)`),
	regexp.MustCompile(`しろ(?:[。！!」\n]|$)`),
	regexp.MustCompile(`せよ(?:[。！!」\n]|$)`),
	regexp.MustCompile(`しなければな`),
	regexp.MustCompile(`必ず`),
	regexp.MustCompile(`今すぐ`),
	regexp.MustCompile(`絶対に`),
	regexp.MustCompile(`するべき`),
	regexp.MustCompile(`すべきで`),
}

// Command-register cues, at least one of which must appear under HIGH.
var commandCues = []*regexp.Regexp{
	regexp.MustCompile(`なさい(?:[。！!」\n]|$)`),
	regexp.MustCompile(`ください`),
	regexp.MustCompile(`しろ(?:[。！!」\n]|$)`),
	regexp.MustCompile(`必ず`),
	regexp.MustCompile(`しなければ`),
}

// Suggestion-register cues, at least one of which must appear under LOW.
var softCues = []string{
	"してみる",
	"してみて",
	"してみません",
	"いかがでしょう",
	"という選択肢",
	"かもしれません",
	"てみては",
}

// Basic agency-meta patterns banned under ABSENT.
var choiceMetaPatterns = []*regexp.Regexp{
	regexp.MustCompile(`どれでも`),
	regexp.MustCompile(`選んでも(?:構いません|かまいません|よい|いい|大丈夫)`),
	regexp.MustCompile(`あなたが決め`),
	regexp.MustCompile(`あなた次第`),
	regexp.MustCompile(`選ばないという選択`),
	regexp.MustCompile(`自由に選`),
}

// Broader agency+choice-verb combinations, also banned under ABSENT.
// Kept as an independent rule with its own flag rather than merged into
// choiceMetaPatterns: the two sets cover different wording families and
// are tuned separately.
var strictLeakPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:どれ|どちら|いずれ|好きな|お好きな)[^。\n]{0,8}(?:選|決め)`),
	regexp.MustCompile(`お?任せしま`),
	regexp.MustCompile(`選ぶのは自由`),
}

func always(condition.Pair) bool { return true }

func whenLow(p condition.Pair) bool {
	return p.Directiveness == condition.DirectivenessLow
}

func whenHigh(p condition.Pair) bool {
	return p.Directiveness == condition.DirectivenessHigh
}

func whenPresent(p condition.Pair) bool {
	return p.ChoiceFraming == condition.ChoicePresent
}

func whenAbsent(p condition.Pair) bool {
	return p.ChoiceFraming == condition.ChoiceAbsent
}

// rules is the ordered list of independent predicate+flag pairs. Order
// only affects readability; Detect reports the union.
var rules = []Rule{
	{
		Name:    "imperative-ban",
		Applies: whenLow,
		Check: func(text string, _ *plan.ContentPlan) []Flag {
			for _, re := range imperativePatterns {
				if re.MatchString(text) {
					return []Flag{ForbiddenImperative}
				}
			}
			return nil
		},
	},
	{
		Name:    "choice-phrase-presence",
		Applies: whenPresent,
		Check: func(text string, _ *plan.ContentPlan) []Flag {
			switch n := strings.Count(text, verbalize.FixedChoicePhrase); {
			case n == 0:
				return []Flag{MissingChoicePhrase}
			case n > 1:
				return []Flag{DuplicateChoicePhrase}
			}
			return nil
		},
	},
	{
		Name:    "choice-phrase-absence",
		Applies: whenAbsent,
		Check: func(text string, _ *plan.ContentPlan) []Flag {
			var flags []Flag
			if strings.Contains(text, verbalize.FixedChoicePhrase) {
				flags = append(flags, ForbiddenChoicePhrase)
			}
			for _, re := range choiceMetaPatterns {
				if re.MatchString(text) {
					flags = append(flags, ChoiceMetaLeak)
					break
				}
			}
			return flags
		},
	},
	{
		Name:    "content-fidelity",
		Applies: always,
		Check:   checkFidelity,
	},
	{
		Name:    "command-cue-presence",
		Applies: whenHigh,
		Check: func(text string, _ *plan.ContentPlan) []Flag {
			for _, cue := range commandCues {
				if cue.MatchString(text) {
					return nil
				}
			}
			return []Flag{MissingCommandCue}
		},
	},
	{
		Name:    "soft-cue-presence",
		Applies: whenLow,
		Check: func(text string, _ *plan.ContentPlan) []Flag {
			for _, cue := range softCues {
				if strings.Contains(text, cue) {
					return nil
				}
			}
			return []Flag{MissingSoftCue}
		},
	},
	{
		Name:    "agency-leak-strict",
		Applies: whenAbsent,
		Check: func(text string, _ *plan.ContentPlan) []Flag {
			for _, re := range strictLeakPatterns {
				if re.MatchString(text) {
					return []Flag{AgencyLeakStrict}
				}
			}
			return nil
		},
	},
}

// checkFidelity verifies that every option's marker, action, duration token,
// and steps appear verbatim in the text.
func checkFidelity(text string, p *plan.ContentPlan) []Flag {
	var flags []Flag
	for _, opt := range p.Options {
		if !strings.Contains(text, opt.ID+")") && !strings.Contains(text, opt.ID+"）") {
			flags = append(flags, MissingOptionMarker(opt.ID))
		}
		if !strings.Contains(text, opt.Action) {
			flags = append(flags, MissingAction(opt.ID))
		}
		if !strings.Contains(text, fmt.Sprintf("%d分", opt.DurationMin)) {
			flags = append(flags, MissingDuration(opt.ID))
		}
		for i, step := range opt.Steps {
			if !strings.Contains(text, step) {
				flags = append(flags, MissingStep(opt.ID, i+1))
			}
		}
	}
	return flags
}

// Detect classifies text against every applicable rule and returns the
// union of triggered flags, deduplicated and sorted. It is a pure function:
// no rule short-circuits another and nothing is mutated.
func Detect(text string, pair condition.Pair, p *plan.ContentPlan) []Flag {
	seen := map[Flag]bool{}
	var flags []Flag
	for _, r := range rules {
		if !r.Applies(pair) {
			continue
		}
		for _, f := range r.Check(text, p) {
			if !seen[f] {
				seen[f] = true
				flags = append(flags, f)
			}
		}
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i] < flags[j] })
	return flags
}

// CorrectiveMessage builds the follow-up instruction naming the exact
// violated constraints, for appending to the rendering conversation.
func CorrectiveMessage(flags []Flag) string {
	var b strings.Builder
	b.WriteString("先ほどの出力には次の問題があります。内容（行動・手順・所要時間）は一切変えずに、問題だけを修正して全文を出力し直してください。\n")
	for _, f := range flags {
		fmt.Fprintf(&b, "・[%s] %s\n", f, Describe(f))
	}
	return b.String()
}
