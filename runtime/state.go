package runtime

import (
	"fmt"
	"time"
)

// State is the lifecycle state of one stage.
type State int

const (
	Pending State = iota
	Running
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Stopped || s == Failed
}

var allowedTransitions = map[State]map[State]struct{}{
	Pending: {
		Running: {},
		Stopped: {},
		Failed:  {},
	},
	Running: {
		Stopped: {},
		Failed:  {},
	},
	Stopped: {},
	Failed:  {},
}

// ValidateTransition returns an error unless from -> to is allowed.
func ValidateTransition(from, to State) error {
	if _, ok := allowedTransitions[from]; !ok {
		return fmt.Errorf("invalid stage state: %s", from)
	}
	if _, ok := allowedTransitions[to]; !ok {
		return fmt.Errorf("invalid stage state: %s", to)
	}
	if _, ok := allowedTransitions[from][to]; !ok {
		return fmt.Errorf("invalid stage transition: %s -> %s", from, to)
	}
	return nil
}

// StateEvent records one state change of a stage.
type StateEvent struct {
	Stage  string
	From   State
	To     State
	Reason error
	At     time.Time
}

// StateSnapshot is the state of a stage at one point in time.
type StateSnapshot struct {
	State  State
	Reason error
	Since  time.Time
}
