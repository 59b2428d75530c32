package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"gosshield/artifact"
	"gosshield/common"
	"gosshield/technique"
)

var (
	techniquesSelected []string
	techniquesOS       string
)

var techniquesCmd = &cobra.Command{
	Use:   "techniques <input>",
	Short: "Show which techniques apply to an input and which stages stay reachable",
	Args:  cobra.ExactArgs(1),
	RunE:  runTechniques,
}

func init() {
	techniquesCmd.Flags().StringSliceVarP(&techniquesSelected, "technique", "T", nil, "Technique name or tag (repeatable)")
	techniquesCmd.Flags().StringVar(&techniquesOS, "os", "", "Target OS: windows, linux, mac (default: config or host)")
}

func runTechniques(cmd *cobra.Command, args []string) error {
	input, err := artifact.FromPath(args[0])
	if err != nil {
		return err
	}
	sel, err := selection(techniquesSelected)
	if err != nil {
		return err
	}
	targetOS, err := resolveOS(techniquesOS)
	if err != nil {
		return err
	}
	res, err := technique.Resolve(input.Stage(), targetOS, sel)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "📋 TECHNIQUES FOR %s (%s input, %s)\n\n", input.Name(), input.Stage(), targetOS)

	rows := make([][]string, 0, len(common.Techniques))
	for _, t := range common.Techniques {
		rows = append(rows, []string{t.Tag(), string(t), stageOf(t), yesNo(res.Eligible(t)), yesNo(sel[t])})
	}
	fmt.Fprint(out, renderTable([]string{"TAG", "NAME", "STAGE", "ELIGIBLE", "SELECTED"}, rows))

	stages := make([]string, 0, len(common.Stages))
	for _, s := range res.ReachableStages() {
		stages = append(stages, s.String())
	}
	fmt.Fprintf(out, "\n🎯 REACHABLE STAGES: %s\n", strings.Join(stages, ", "))
	for _, notice := range res.Ineligible() {
		fmt.Fprintf(out, "⚠️  %s\n", notice)
	}
	return nil
}

// renderTable lays rows out in padded columns separated by "|".
func renderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], lipgloss.Width(cell))
			}
		}
	}
	total := len(widths) - 1
	for i := range widths {
		widths[i] += 2
		total += widths[i]
	}

	header := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	sep := lipgloss.NewStyle().Faint(true)

	var sb strings.Builder
	line := func(style lipgloss.Style, values []string) {
		for i, v := range values {
			if i >= len(widths) {
				break
			}
			if i > 0 {
				sb.WriteString(sep.Render("|"))
			}
			sb.WriteString(style.Width(widths[i]).Render(v))
		}
		sb.WriteString("\n")
	}
	line(header, headers)
	sb.WriteString(sep.Render(strings.Repeat("-", total)) + "\n")
	for _, row := range rows {
		line(cell, row)
	}
	return sb.String()
}

func stageOf(t common.Technique) string {
	switch {
	case t.SourceLevel():
		return "source"
	case t == common.StripSymbols:
		return "object, executable"
	}
	return "executable"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
