package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/hiagors92/open-filter-challange/runtime"
)

// Outcome is the single result of one pipeline run.
type Outcome struct {
	RunID    uuid.UUID
	Pipeline string
	// Success is true iff every stage ended Stopped.
	Success bool
	// Err is the first failure detected, by wall-clock order.
	Err error
	// Stages lists stage names in declaration order.
	Stages     []string
	States     map[string]runtime.StateSnapshot
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is the wall-clock length of the run.
func (o *Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// Count returns how many stages ended in state s.
func (o *Outcome) Count(s runtime.State) int {
	n := 0
	for _, snap := range o.States {
		if snap.State == s {
			n++
		}
	}
	return n
}
