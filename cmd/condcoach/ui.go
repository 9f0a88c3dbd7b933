package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/exprlab/condcoach/internal/experiment"
)

const bodyWidth = 72

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("6"))

	faintStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	bodyStyle = lipgloss.NewStyle().
			PaddingLeft(2)
)

func printTurn(turn *experiment.TurnLog, index, total int) {
	fmt.Println(titleStyle.Render(fmt.Sprintf("条件 %d/%d  %s/%s",
		index+1, total, turn.Directiveness, turn.ChoiceFraming)))
	fmt.Println()
	fmt.Println(bodyStyle.Render(wordwrap.String(turn.Output, bodyWidth)))
	fmt.Println()
	fmt.Println(faintStyle.Render(turnMeta(turn)))
}

func turnMeta(turn *experiment.TurnLog) string {
	meta := fmt.Sprintf("turn %d  %d文字  再生成 %d回",
		turn.ID, turn.CharCount, turn.RerenderCount)
	if len(turn.DeviationFlags) > 0 {
		meta += "  flags: " + strings.Join(turn.DeviationFlags, ", ")
	}
	return meta
}

func printKV(key, value string) {
	fmt.Printf("%s %s\n", labelStyle.Render(key+":"), value)
}
