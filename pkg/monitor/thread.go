package monitor

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Thread priorities. A priority is a pure scheduling hint reported to
// observers, the primitives of this package never consult it.
const (
	MinPriority  = 1
	NormPriority = 5
	MaxPriority  = 10
)

var threadIDs atomic.Int64

// WorkFunc is a Go function executed as a managed thread. The function
// gets the Thread handle driving it, which it passes to the blocking
// operations of this package. The handle MUST only be passed to
// blocking operations by the Go routine executing the WorkFunc.
// Inspecting it (State, Fault) or interrupting respectively joining it
// is safe from any Go routine.
type WorkFunc func(Thread)

type Thread = *thread

type thread struct {
	id       int64
	name     string
	priority int
	daemon   bool

	coordinator *coordinator
	work        WorkFunc

	state atomic.Int32

	lock        sync.Mutex
	interrupted bool
	parked      *waiter
	fault       *PanicError

	// held lists the monitors currently owned by this thread in
	// acquisition order. It is maintained by the owning Go routine
	// only and must never be touched by another one.
	held []*monitor

	done *latch
}

func newThread(c *coordinator, work WorkFunc, opts ...ThreadOption) Thread {
	if work == nil {
		panic("monitor: nil work function")
	}
	t := &thread{
		id:          threadIDs.Add(1),
		priority:    NormPriority,
		coordinator: c,
		work:        work,
	}
	for _, o := range opts {
		o(t)
	}
	if t.name == "" {
		t.name = ElementName("thread")
	}
	t.done = newLatch(t.name)
	t.state.Store(int32(StateNew))
	return t
}

func (t *thread) ID() int64 {
	return t.id
}

func (t *thread) Name() string {
	return t.name
}

func (t *thread) Priority() int {
	return t.priority
}

func (t *thread) IsDaemon() bool {
	return t.daemon
}

// State returns the current lifecycle state.
func (t *thread) State() State {
	return State(t.state.Load())
}

func (t *thread) String() string {
	return fmt.Sprintf("%s[%d]", t.name, t.id)
}

// Start transitions the thread from NEW to RUNNABLE and launches its
// work function on a dedicated Go routine. Starting a thread a second
// time fails with an InvalidStateError.
func (t *thread) Start() error {
	return t.coordinator.start(t)
}

// Join blocks until the thread terminates. The caller passes its own
// handle, which is parked in WAITING state and can be interrupted. A
// nil caller blocks the calling Go routine directly.
func (t *thread) Join(caller Thread) error {
	_, err := t.done.await(caller, false, 0)
	return err
}

// JoinTimeout blocks like Join but gives up after the given duration,
// reporting whether the thread terminated in time.
func (t *thread) JoinTimeout(caller Thread, timeout time.Duration) (bool, error) {
	return t.done.await(caller, true, timeout)
}

// Interrupt requests cancellation of the current or next blocking
// operation of the thread. A thread parked on a monitor, a condition,
// or a join unwinds with ErrInterrupted. Otherwise the request stays
// pending and is delivered at the next park point. Interrupting a
// terminated thread has no effect.
func (t *thread) Interrupt() {
	t.lock.Lock()
	defer t.lock.Unlock()

	if State(t.state.Load()) == StateTerminated {
		return
	}
	if t.interrupted {
		return
	}
	t.interrupted = true
	if t.parked != nil {
		select {
		case t.parked.wake <- wakeInterrupt:
		default:
		}
	}
}

// Interrupted reports whether an interrupt is pending, without
// consuming it.
func (t *thread) Interrupted() bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.interrupted
}

// Fault returns the panic which terminated the thread, if any.
func (t *thread) Fault() *PanicError {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.fault
}

func (t *thread) setFault(f *PanicError) {
	t.lock.Lock()
	t.fault = f
	t.lock.Unlock()
}

// setState performs a lifecycle transition. After start, transitions
// happen on the thread's own Go routine only.
func (t *thread) setState(to State) {
	from := State(t.state.Load())
	if !validTransition(from, to) {
		panic(fmt.Sprintf("illegal thread state transition %s -> %s", from, to))
	}
	t.state.Store(int32(to))
	t.coordinator.stateChanged(t, from, to)
}

// beginPark registers the waiter as the thread's active park. An
// interruptible park fails if an interrupt is already pending,
// consuming the pending request.
func (t *thread) beginPark(w *waiter, interruptible bool) bool {
	t.lock.Lock()
	defer t.lock.Unlock()

	if interruptible && t.interrupted {
		t.interrupted = false
		return false
	}
	t.parked = w
	return true
}

func (t *thread) endPark() {
	t.lock.Lock()
	t.parked = nil
	t.lock.Unlock()
}

func (t *thread) clearInterrupt() {
	t.lock.Lock()
	t.interrupted = false
	t.lock.Unlock()
}

func (t *thread) pushHeld(m *monitor) {
	t.held = append(t.held, m)
}

func (t *thread) popHeld(m *monitor) {
	for i := len(t.held) - 1; i >= 0; i-- {
		if t.held[i] == m {
			t.held = append(t.held[:i], t.held[i+1:]...)
			return
		}
	}
}
