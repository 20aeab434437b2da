package cli

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ece6a"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#e0af68"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#f7768e"))
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#565f89"))
	boldStyle  = lipgloss.NewStyle().Bold(true)
)

// column defines a rendered table column.
type column struct {
	title string
	width int
}

// renderTable renders a non-interactive table string for CLI output.
func renderTable(columns []column, rows [][]string) string {
	if len(rows) == 0 {
		return mutedStyle.Render("nothing to show")
	}

	cols := make([]table.Column, len(columns))
	for i, c := range columns {
		cols[i] = table.Column{Title: c.title, Width: c.width}
	}
	tableRows := make([]table.Row, len(rows))
	for i, r := range rows {
		tableRows[i] = table.Row(r)
	}

	t := table.New(
		table.WithColumns(cols),
		table.WithRows(tableRows),
		table.WithFocused(false),
		table.WithHeight(len(rows)+1),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		Bold(true)
	s.Selected = lipgloss.NewStyle()
	t.SetStyles(s)
	return t.View()
}
