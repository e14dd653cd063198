package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

const (
	minRule = 20
	maxRule = 60
)

// RenderBanner returns the monitor header: product mark, version, the
// pipeline being run and a rule sized to width.
func RenderBanner(styles *StyleSet, version, pipeline string, width int) string {
	if version == "" {
		version = "dev"
	}
	if pipeline == "" {
		pipeline = "pipeline"
	}

	rule := min(max(width-4, minRule), maxRule)
	lines := []string{
		styles.Banner.Render("◉  O P E N F I L T E R") + "  " + styles.VersionPill.Render("v"+version),
		styles.Subtitle.Render("Running " + pipeline),
		lipgloss.NewStyle().Foreground(styles.Theme.Border).Render(strings.Repeat("─", rule)),
	}

	var b strings.Builder
	for _, l := range lines {
		b.WriteString("  ")
		b.WriteString(l)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String()
}
