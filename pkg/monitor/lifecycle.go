package monitor

import (
	"fmt"
)

// State is the lifecycle state of a Thread.
type State int

const (
	// StateNew is the state of a registered but not yet started thread.
	StateNew State = iota
	// StateRunnable is the state of a started thread which is not
	// suspended on any primitive of this package.
	StateRunnable
	// StateBlocked is the state of a thread parked on the entry queue
	// of a monitor.
	StateBlocked
	// StateWaiting is the state of a thread parked without timeout on
	// a condition or a join.
	StateWaiting
	// StateTimedWaiting is the state of a thread parked with a timeout.
	StateTimedWaiting
	// StateTerminated is the final state. There is no way out of it.
	StateTerminated
)

var stateNames = []string{
	"NEW",
	"RUNNABLE",
	"BLOCKED",
	"WAITING",
	"TIMED_WAITING",
	"TERMINATED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("STATE(%d)", int(s))
	}
	return stateNames[s]
}

// transitions is the complete lifecycle relation. A thread enters
// RUNNABLE on start, toggles between RUNNABLE and one of the suspended
// states at monitor entry respectively wait and join calls, and ends in
// TERMINATED when its work function returns.
var transitions = map[State][]State{
	StateNew:          {StateRunnable},
	StateRunnable:     {StateBlocked, StateWaiting, StateTimedWaiting, StateTerminated},
	StateBlocked:      {StateRunnable},
	StateWaiting:      {StateRunnable},
	StateTimedWaiting: {StateRunnable},
	StateTerminated:   nil,
}

func validTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
