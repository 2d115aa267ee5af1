package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	labelStyle = lipgloss.NewStyle().Bold(true)
)

// printRows writes aligned "label  value" lines.
func printRows(w io.Writer, rows [][2]string) {
	width := 0
	for _, row := range rows {
		width = max(width, len(row[0]))
	}
	for _, row := range rows {
		padding := strings.Repeat(" ", width-len(row[0]))
		fmt.Fprintf(w, "  %s%s  %s\n", labelStyle.Render(row[0]), padding, row[1])
	}
}

func formatScore(score float64) string {
	return fmt.Sprintf("%.2f", score)
}
