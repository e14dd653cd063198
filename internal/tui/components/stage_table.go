package components

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// StageRow is one line of a StageTable.
type StageRow struct {
	Name   string
	State  string
	Detail string

	// StateStyle colors the state column.
	StateStyle lipgloss.Style
}

// StageTable renders stage name, state and detail columns in a bordered box.
type StageTable struct {
	Rows []StageRow

	NameStyle   lipgloss.Style
	DetailStyle lipgloss.Style
	BorderStyle lipgloss.Style
}

// NewStageTable creates a new stage table.
func NewStageTable(rows []StageRow, nameStyle, detailStyle, borderStyle lipgloss.Style) StageTable {
	return StageTable{
		Rows:        rows,
		NameStyle:   nameStyle,
		DetailStyle: detailStyle,
		BorderStyle: borderStyle,
	}
}

// View renders the table. width is the available terminal width.
func (t StageTable) View(width int) string {
	boxWidth := width - 4
	if boxWidth < 40 {
		boxWidth = 40
	}

	nameWidth := 12
	for _, r := range t.Rows {
		if w := lipgloss.Width(r.Name) + 2; w > nameWidth {
			nameWidth = w
		}
	}

	var b strings.Builder
	for i, row := range t.Rows {
		name := t.NameStyle.Width(nameWidth).Render(row.Name)
		state := row.StateStyle.Width(9).Render(row.State)
		line := fmt.Sprintf("%s %s", name, state)
		if row.Detail != "" {
			line += " " + t.DetailStyle.Render(row.Detail)
		}
		b.WriteString(line)
		if i < len(t.Rows)-1 {
			b.WriteByte('\n')
		}
	}
	return t.BorderStyle.Width(boxWidth).Render(b.String())
}
