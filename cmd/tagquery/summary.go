package main

import (
	"fmt"
	"io"
	"time"

	"tagquery/internal/runner"

	"github.com/charmbracelet/lipgloss"
)

// printSummary reports the run on w. Styling is dropped when w is not a
// terminal.
func printSummary(w io.Writer, sum runner.Summary) {
	r := lipgloss.NewRenderer(w)
	label := r.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	dim := r.NewStyle().Faint(true)

	detail := fmt.Sprintf("%d rows", sum.Rows)
	if sum.Taggings >= 0 {
		detail += fmt.Sprintf(" of %d taggings", sum.Taggings)
	}
	detail += fmt.Sprintf(" in %s", sum.Elapsed.Round(time.Millisecond))

	fmt.Fprintln(w, label.Render("✓ "+sum.Output)+" "+dim.Render(detail))
}
