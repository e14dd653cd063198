package tui

import "github.com/hiagors92/open-filter-challange/runtime"

// StageEventMsg carries one stage state change into the monitor.
type StageEventMsg struct {
	Event runtime.StateEvent
}

// RunDoneMsg signals that the pipeline run returned.
type RunDoneMsg struct {
	Success bool
	Err     error
}
