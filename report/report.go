// Package report turns a pipeline Outcome into the user-visible failure line
// and the process exit status.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/hiagors92/open-filter-challange/internal/tui"
	"github.com/hiagors92/open-filter-challange/internal/tui/components"
	"github.com/hiagors92/open-filter-challange/pipeline"
)

// Prefix starts every failure line.
const Prefix = "[ERRO]:"

// Exit statuses.
const (
	ExitSuccess = 0
	ExitFailure = 1
)

// Line returns "" for a successful outcome, otherwise "[ERRO]: <reason>"
// with the failure reason verbatim.
func Line(out *pipeline.Outcome) string {
	if out == nil {
		return Prefix + " pipeline produced no outcome"
	}
	if out.Success {
		return ""
	}
	return ErrorLine(out.Err)
}

// ErrorLine formats any error the way a failed run is reported.
func ErrorLine(err error) string {
	reason := "pipeline failed"
	if err != nil {
		reason = err.Error()
	}
	return Prefix + " " + reason
}

// Code returns the process exit status for out.
func Code(out *pipeline.Outcome) int {
	if out != nil && out.Success {
		return ExitSuccess
	}
	return ExitFailure
}

// Exit writes the failure line of out to w, if any, and returns the exit
// status. The prefix is colored when w is a terminal.
func Exit(w io.Writer, out *pipeline.Outcome) int {
	if line := Line(out); line != "" {
		fmt.Fprintln(w, colorize(w, line))
	}
	return Code(out)
}

// colorize styles the prefix of line when w is a terminal. The reason text
// is never altered.
func colorize(w io.Writer, line string) string {
	if !isTerminal(w) {
		return line
	}
	styles := tui.NewStyleSet(tui.DetectTheme(""))
	return styles.ErrorPrefix.Render(Prefix) + strings.TrimPrefix(line, Prefix)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Summary renders a per-stage table of out: state plus the failure reason of
// failed stages.
func Summary(out *pipeline.Outcome, width int) string {
	if out == nil {
		return ""
	}
	styles := tui.NewStyleSet(tui.DetectTheme(""))

	rows := make([]components.StageRow, 0, len(out.Stages))
	for _, name := range out.Stages {
		snap := out.States[name]
		detail := ""
		if snap.Reason != nil {
			detail = snap.Reason.Error()
		}
		rows = append(rows, components.StageRow{
			Name:       name,
			State:      snap.State.String(),
			Detail:     detail,
			StateStyle: styles.StateStyle(snap.State),
		})
	}

	status := styles.SuccessTxt.Render("success")
	if !out.Success {
		status = styles.ErrorTxt.Render("failed")
	}
	name := out.Pipeline
	if name == "" {
		name = "pipeline"
	}
	header := fmt.Sprintf("%s %s %s in %s (run %s)",
		styles.Title.Render(name), styles.DimTxt.Render("·"), status,
		out.Duration().Round(time.Millisecond), out.RunID)

	table := components.NewStageTable(rows, styles.PrimaryTxt, styles.DimTxt, styles.BorderedBox)
	return header + "\n" + table.View(width) + "\n"
}
