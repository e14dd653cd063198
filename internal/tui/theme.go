package tui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/hiagors92/open-filter-challange/runtime"
)

// TermTheme holds the colors used by the monitor and the failure reporter.
type TermTheme struct {
	Name string

	Accent  lipgloss.Color
	Success lipgloss.Color
	Warning lipgloss.Color
	Error   lipgloss.Color

	Primary   lipgloss.Color
	Secondary lipgloss.Color
	Dim       lipgloss.Color
	Border    lipgloss.Color
}

// DarkTheme is the default theme.
var DarkTheme = TermTheme{
	Name:      "dark",
	Accent:    lipgloss.Color("#38bdf8"),
	Success:   lipgloss.Color("#22c55e"),
	Warning:   lipgloss.Color("#eab308"),
	Error:     lipgloss.Color("#ef4444"),
	Primary:   lipgloss.Color("#e0e0e8"),
	Secondary: lipgloss.Color("#888888"),
	Dim:       lipgloss.Color("#5a5a70"),
	Border:    lipgloss.Color("#2a2a3a"),
}

// LightTheme is for light terminal backgrounds.
var LightTheme = TermTheme{
	Name:      "light",
	Accent:    lipgloss.Color("#0369a1"),
	Success:   lipgloss.Color("#15803d"),
	Warning:   lipgloss.Color("#a16207"),
	Error:     lipgloss.Color("#b91c1c"),
	Primary:   lipgloss.Color("#0f172a"),
	Secondary: lipgloss.Color("#374151"),
	Dim:       lipgloss.Color("#4b5563"),
	Border:    lipgloss.Color("#d1d5db"),
}

// DetectTheme picks a theme from the flag value, then OPENFILTER_THEME, then
// the COLORFGBG hint. Dark is the fallback.
func DetectTheme(flagVal string) TermTheme {
	if t, ok := themeByName(flagVal); ok {
		return t
	}
	if t, ok := themeByName(os.Getenv("OPENFILTER_THEME")); ok {
		return t
	}

	// COLORFGBG is "fg;bg"; 7 and 15 are light backgrounds.
	if colorfgbg := os.Getenv("COLORFGBG"); colorfgbg != "" {
		parts := strings.Split(colorfgbg, ";")
		if bg := parts[len(parts)-1]; len(parts) >= 2 && (bg == "15" || bg == "7") {
			return LightTheme
		}
	}
	return DarkTheme
}

func themeByName(name string) (TermTheme, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "dark":
		return DarkTheme, true
	case "light":
		return LightTheme, true
	}
	return TermTheme{}, false
}

// StyleSet contains lipgloss styles derived from a theme.
type StyleSet struct {
	Theme TermTheme

	Title      lipgloss.Style
	Subtitle   lipgloss.Style
	DimTxt     lipgloss.Style
	SuccessTxt lipgloss.Style
	WarningTxt lipgloss.Style
	ErrorTxt   lipgloss.Style
	PrimaryTxt lipgloss.Style

	Banner      lipgloss.Style
	VersionPill lipgloss.Style

	SummaryKey   lipgloss.Style
	SummaryValue lipgloss.Style
	BorderedBox  lipgloss.Style

	// ErrorPrefix renders the "[ERRO]" tag of failure lines.
	ErrorPrefix lipgloss.Style
}

// NewStyleSet creates a StyleSet from a theme.
func NewStyleSet(theme TermTheme) *StyleSet {
	return &StyleSet{
		Theme: theme,

		Title:      lipgloss.NewStyle().Foreground(theme.Accent).Bold(true),
		Subtitle:   lipgloss.NewStyle().Foreground(theme.Secondary),
		DimTxt:     lipgloss.NewStyle().Foreground(theme.Dim),
		SuccessTxt: lipgloss.NewStyle().Foreground(theme.Success),
		WarningTxt: lipgloss.NewStyle().Foreground(theme.Warning),
		ErrorTxt:   lipgloss.NewStyle().Foreground(theme.Error),
		PrimaryTxt: lipgloss.NewStyle().Foreground(theme.Primary),

		Banner: lipgloss.NewStyle().
			Foreground(theme.Accent).
			Bold(true),
		VersionPill: lipgloss.NewStyle().
			Background(theme.Accent).
			Foreground(lipgloss.Color("#ffffff")).
			Padding(0, 1).
			Bold(true),

		SummaryKey: lipgloss.NewStyle().
			Foreground(theme.Secondary).
			Width(20),
		SummaryValue: lipgloss.NewStyle().
			Foreground(theme.Primary).
			Bold(true),
		BorderedBox: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(theme.Border).
			Padding(0, 1),

		ErrorPrefix: lipgloss.NewStyle().
			Foreground(theme.Error).
			Bold(true),
	}
}

// StateStyle returns the text style for a stage state.
func (s *StyleSet) StateStyle(st runtime.State) lipgloss.Style {
	switch st {
	case runtime.Running:
		return s.Title
	case runtime.Stopped:
		return s.SuccessTxt
	case runtime.Failed:
		return s.ErrorTxt
	}
	return s.DimTxt
}
