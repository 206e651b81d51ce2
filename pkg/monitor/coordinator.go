// Package monitor provides explicit monitor based coordination for
// managed threads: reentrant monitors with condition wait queues,
// bounded FIFO buffers coupling producers and consumers, and a
// deadlock guard for code paths acquiring more than one monitor at
// once. Threads are plain Go routines tracked by a Coordinator, which
// observes their lifecycle state while they block on the
// synchronization primitives supported by this package.
package monitor

import (
	"sync"

	"github.com/google/uuid"

	"github.com/mandelsoft/monitor/pkg/logging"
)

// Coordinator tracks the execution of work functions as managed
// threads. A thread is the execution of a WorkFunc on a dedicated Go
// routine. The coordinator does not schedule threads, the host runtime
// does. It owns the thread handles, observes their lifecycle and
// offers quiescence over the non-daemon population.
type Coordinator = *coordinator

type coordinator struct {
	id  string
	log logging.Logger

	onStateChange func(t Thread, from, to State)

	lock    sync.Mutex
	threads []Thread

	wg sync.WaitGroup
}

// New creates a Coordinator.
func New(opts ...Option) Coordinator {
	c := &coordinator{
		id:  uuid.NewString(),
		log: logging.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ID returns the unique identity of the coordinator instance.
func (c *coordinator) ID() string {
	return c.id
}

// NewThread registers a work function without starting it. The
// returned handle stays in state NEW until Thread.Start is called.
func (c *coordinator) NewThread(work WorkFunc, opts ...ThreadOption) Thread {
	t := newThread(c, work, opts...)
	c.lock.Lock()
	c.threads = append(c.threads, t)
	c.lock.Unlock()
	return t
}

// Go registers and immediately starts a thread for the work function.
func (c *coordinator) Go(work WorkFunc, opts ...ThreadOption) Thread {
	t := c.NewThread(work, opts...)
	t.Start()
	return t
}

// Wait blocks the calling Go routine until all started non-daemon
// threads have terminated. Starting further non-daemon threads
// concurrently with Wait is not supported.
func (c *coordinator) Wait() {
	c.wg.Wait()
}

func (c *coordinator) start(t Thread) error {
	if !t.state.CompareAndSwap(int32(StateNew), int32(StateRunnable)) {
		return &InvalidStateError{Thread: t, State: t.State(), Op: "start"}
	}
	c.stateChanged(t, StateNew, StateRunnable)
	if !t.daemon {
		c.wg.Add(1)
	}
	c.log.Debug("thread started", "coordinator", c.id, "thread", t.String())
	go c.run(t)
	return nil
}

func (c *coordinator) run(t Thread) {
	defer c.finish(t)
	t.work(t)
}

// finish terminates the thread. A panic of the work function is
// captured as fault, and monitors still held by the faulting thread
// are released so no other thread stays parked on them forever.
func (c *coordinator) finish(t Thread) {
	if r := recover(); r != nil {
		t.setFault(&PanicError{Value: r, Stack: captureStack()})
		c.log.Error("thread faulted", "coordinator", c.id, "thread", t.String(), "panic", r)
	}
	for len(t.held) > 0 {
		t.held[len(t.held)-1].forceRelease(t)
	}
	t.setState(StateTerminated)
	if !t.daemon {
		c.wg.Done()
	}
	t.done.completeNow()
	c.log.Debug("thread terminated", "coordinator", c.id, "thread", t.String())
}

func (c *coordinator) stateChanged(t Thread, from, to State) {
	if c.onStateChange != nil {
		c.onStateChange(t, from, to)
	}
}

// CoordinatorStats is a point-in-time snapshot of the thread
// population by lifecycle state.
type CoordinatorStats struct {
	Threads      int
	New          int
	Runnable     int
	Blocked      int
	Waiting      int
	TimedWaiting int
	Terminated   int
	Daemons      int
}

// Stats returns a snapshot of the thread population.
func (c *coordinator) Stats() CoordinatorStats {
	c.lock.Lock()
	defer c.lock.Unlock()

	s := CoordinatorStats{Threads: len(c.threads)}
	for _, t := range c.threads {
		if t.daemon {
			s.Daemons++
		}
		switch t.State() {
		case StateNew:
			s.New++
		case StateRunnable:
			s.Runnable++
		case StateBlocked:
			s.Blocked++
		case StateWaiting:
			s.Waiting++
		case StateTimedWaiting:
			s.TimedWaiting++
		case StateTerminated:
			s.Terminated++
		}
	}
	return s
}

// Threads returns the handles of all registered threads.
func (c *coordinator) Threads() []Thread {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]Thread(nil), c.threads...)
}
