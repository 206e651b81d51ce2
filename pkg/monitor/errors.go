package monitor

import (
	"fmt"
)

// ErrInterrupted is returned by a blocking operation when the blocked
// thread has been interrupted with Thread.Interrupt. The pending
// interrupt is consumed when the error is delivered.
var ErrInterrupted = fmt.Errorf("thread interrupted")

// ErrClosed is returned by buffer operations on a closed buffer.
var ErrClosed = fmt.Errorf("already closed")

// InvalidStateError reports a lifecycle operation executed in a thread
// state which forbids it, for example starting an already started
// thread.
type InvalidStateError struct {
	Thread Thread
	State  State
	Op     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: %s in state %s", e.Thread, e.Op, e.State)
}

// MonitorStateError reports a monitor operation executed by a thread
// which does not own the monitor, or a condition used with a monitor
// it does not belong to.
type MonitorStateError struct {
	Monitor string
	Thread  Thread
	Op      string
}

func (e *MonitorStateError) Error() string {
	return fmt.Sprintf("%s: %s by %s not owning the monitor", e.Monitor, e.Op, e.Thread)
}

// LockOrderError reports an acquisition which violates the rank order
// of a guard: a monitor was requested while a monitor of equal or
// higher rank of the same guard was already held.
type LockOrderError struct {
	Thread        Thread
	Holding       string
	HoldingRank   int
	Acquiring     string
	AcquiringRank int
}

func (e *LockOrderError) Error() string {
	return fmt.Sprintf("%s: acquiring %s (rank %d) while holding %s (rank %d)",
		e.Thread, e.Acquiring, e.AcquiringRank, e.Holding, e.HoldingRank)
}

// ArgumentError reports an invalid argument passed to a constructor
// or operation.
type ArgumentError struct {
	Param string
	Value any
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Param, e.Value)
}

// PanicError wraps a panic recovered from the work function of a
// thread, together with the stack of the faulting Go routine.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("thread panicked: %v", e.Value)
}
