package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/mandelsoft/monitor/pkg/stats"
)

type Condition *condition

type condition struct {
	owner   *monitor
	waiting *waitQueue
}

// Monitor is a reentrant mutual exclusion lock with named condition
// wait queues. At most one thread owns a monitor at any instant; the
// reentrancy count equals the number of un-matched acquisitions by
// that owner. All blocking operations take the handle of the calling
// thread.
type Monitor interface {
	Name() string

	// Acquire takes ownership for the thread. Reentrant acquisition
	// by the current owner increments the count. A contended acquire
	// parks the thread in BLOCKED state on the entry queue, admission
	// is FIFO. Acquire can be interrupted and fails fast with a
	// LockOrderError if the acquisition violates the rank order of
	// the monitor's guard.
	Acquire(t Thread) error

	// TryAcquire takes ownership like Acquire but gives up after the
	// timeout, reporting whether the monitor was acquired. A
	// non-positive timeout polls without parking.
	TryAcquire(t Thread, timeout time.Duration) (bool, error)

	// Release gives up one level of ownership. When the count reaches
	// zero, ownership is handed to the first entry queue waiter.
	// Releasing a monitor not owned by the thread fails with a
	// MonitorStateError.
	Release(t Thread) error

	// NewCondition creates a named wait queue bound to this monitor.
	NewCondition(names ...string) Condition

	// Wait atomically releases the monitor, saving the reentrancy
	// count, and parks the thread in WAITING state on the condition.
	// On notification the thread contends for the monitor again and
	// Wait returns with ownership restored to the saved count.
	// Wake-ups do not guarantee the awaited condition holds, callers
	// MUST re-check it in a loop. When the parked thread is
	// interrupted, Wait unwinds with ErrInterrupted WITHOUT
	// re-acquiring the monitor.
	Wait(t Thread, c Condition) error

	// WaitTimeout waits like Wait but leaves the condition queue when
	// the timeout expires, reporting whether the wake-up was a
	// notification. The monitor is held again in both cases.
	WaitTimeout(t Thread, c Condition, timeout time.Duration) (notified bool, err error)

	// NotifyOne wakes the longest parked waiter of the condition,
	// which then contends for the monitor like any other acquirer.
	// Without waiters this is a no-op. The caller must own the
	// monitor.
	NotifyOne(t Thread, c Condition) error

	// NotifyAll wakes all waiters of the condition.
	NotifyAll(t Thread, c Condition) error

	// Stats returns a snapshot of the contention counters.
	Stats() MonitorStats
}

// MonitorStats is a read-only snapshot of the contention counters of
// a monitor.
type MonitorStats struct {
	Name       string
	Acquires   uint64
	Contended  uint64
	Waits      uint64
	Notifies   uint64
	Timeouts   uint64
	Interrupts uint64

	// Parked is the number of threads parked on the entry queue at
	// snapshot time.
	Parked int

	// Hold is the distribution of ownership durations, measured from
	// an ownership grant to the matching final release.
	Hold stats.Snapshot
}

type counters struct {
	acquires   uint64
	contended  uint64
	waits      uint64
	notifies   uint64
	timeouts   uint64
	interrupts uint64
}

type monitor struct {
	name string

	guard *guard
	rank  int

	mu       sync.Mutex
	owner    Thread
	count    int
	entry    *waitQueue
	acquired time.Time

	stats counters
	hold  *stats.Timing
}

func NewMonitor(names ...string) Monitor {
	return newMonitor(nil, 0, "monitor", names...)
}

func newMonitor(g *guard, rank int, typ string, names ...string) *monitor {
	return &monitor{
		name:  ElementName(typ, names...),
		guard: g,
		rank:  rank,
		entry: newWaitQueue("entry"),
		hold:  stats.New(),
	}
}

func (m *monitor) Name() string {
	return m.name
}

func (m *monitor) NewCondition(names ...string) Condition {
	return &condition{
		owner:   m,
		waiting: newWaitQueue(ElementName("condition", names...)),
	}
}

func (m *monitor) Acquire(t Thread) error {
	_, err := m.acquire(t, false, 0, 1, true)
	return err
}

func (m *monitor) TryAcquire(t Thread, timeout time.Duration) (bool, error) {
	return m.acquire(t, true, timeout, 1, true)
}

func (m *monitor) acquire(t Thread, timed bool, timeout time.Duration, depth int, interruptible bool) (bool, error) {
	if t == nil {
		panic("acquire without thread")
	}
	m.mu.Lock()
	if m.owner == t {
		m.count += depth
		m.mu.Unlock()
		return true, nil
	}
	if err := m.checkOrder(t); err != nil {
		m.mu.Unlock()
		return false, err
	}
	if m.owner == nil {
		m.own(t, depth)
		m.mu.Unlock()
		t.pushHeld(m)
		return true, nil
	}
	if timed && timeout <= 0 {
		m.mu.Unlock()
		return false, nil
	}
	m.stats.contended++
	w := newWaiter(t, depth)
	if !t.beginPark(w, interruptible) {
		m.mu.Unlock()
		return false, ErrInterrupted
	}
	m.entry.add(w)
	m.mu.Unlock()

	t.setState(StateBlocked)
	granted, err := m.awaitGrant(t, w, timed, timeout, interruptible)
	t.endPark()
	t.setState(StateRunnable)
	if granted {
		t.pushHeld(m)
	}
	return granted, err
}

// own hands the monitor to the thread. Caller holds m.mu.
func (m *monitor) own(t Thread, depth int) {
	m.owner = t
	m.count = depth
	m.acquired = time.Now()
	m.stats.acquires++
}

func (m *monitor) awaitGrant(t Thread, w *waiter, timed bool, timeout time.Duration, interruptible bool) (bool, error) {
	var expired <-chan time.Time
	if timed {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	for {
		select {
		case r := <-w.wake:
			switch r {
			case wakeGrant:
				return true, nil
			case wakeInterrupt:
				if !interruptible {
					// stays pending, keep waiting for the grant
					continue
				}
				m.mu.Lock()
				removed := m.entry.remove(w)
				if removed {
					m.stats.interrupts++
				}
				m.mu.Unlock()
				if removed {
					t.clearInterrupt()
					return false, ErrInterrupted
				}
				// granted concurrently, the grant is buffered
			default:
				panic(fmt.Sprintf("unexpected wake %d on entry queue", r))
			}
		case <-expired:
			m.mu.Lock()
			removed := m.entry.remove(w)
			if removed {
				m.stats.timeouts++
			}
			m.mu.Unlock()
			if removed {
				return false, nil
			}
			expired = nil
		}
	}
}

func (m *monitor) Release(t Thread) error {
	if t == nil {
		panic("release without thread")
	}
	m.mu.Lock()
	if m.owner != t {
		m.mu.Unlock()
		return &MonitorStateError{Monitor: m.name, Thread: t, Op: "release"}
	}
	m.count--
	if m.count > 0 {
		m.mu.Unlock()
		return nil
	}
	m.releaseLocked()
	m.mu.Unlock()
	t.popHeld(m)
	return nil
}

// releaseLocked clears ownership and hands the monitor to the next
// entry queue waiter, if any. Caller holds m.mu with count zero.
func (m *monitor) releaseLocked() {
	m.hold.Record(time.Since(m.acquired))
	m.owner = nil
	if w := m.entry.next(); w != nil {
		m.own(w.thread, w.depth)
		w.wake <- wakeGrant
	}
}

// forceRelease drops the complete ownership of a terminating thread
// so the monitor cannot stay wedged behind its fault.
func (m *monitor) forceRelease(t Thread) {
	m.mu.Lock()
	if m.owner == t {
		m.count = 0
		m.releaseLocked()
	}
	m.mu.Unlock()
	t.popHeld(m)
}

func (m *monitor) Wait(t Thread, c Condition) error {
	_, err := m.wait(t, c, false, 0)
	return err
}

func (m *monitor) WaitTimeout(t Thread, c Condition, timeout time.Duration) (bool, error) {
	return m.wait(t, c, true, timeout)
}

func (m *monitor) wait(t Thread, c Condition, timed bool, timeout time.Duration) (bool, error) {
	if t == nil {
		panic("wait without thread")
	}
	if c == nil {
		panic("wait without condition")
	}
	m.mu.Lock()
	if c.owner != m {
		m.mu.Unlock()
		return false, &MonitorStateError{Monitor: m.name, Thread: t, Op: "wait on foreign condition"}
	}
	if m.owner != t {
		m.mu.Unlock()
		return false, &MonitorStateError{Monitor: m.name, Thread: t, Op: "wait"}
	}
	// waiting implies re-acquiring later: holding a monitor of equal
	// or higher rank then would violate the guard, so it is rejected
	// here, before the monitor is unwound
	if m.guard != nil {
		for _, h := range t.held {
			if h != m && h.guard == m.guard && h.rank >= m.rank {
				m.mu.Unlock()
				return false, &LockOrderError{
					Thread:        t,
					Holding:       h.name,
					HoldingRank:   h.rank,
					Acquiring:     m.name,
					AcquiringRank: m.rank,
				}
			}
		}
	}
	depth := m.count
	m.count = 0
	w := newWaiter(t, depth)
	if !t.beginPark(w, true) {
		// pending interrupt: the monitor is released before the
		// error propagates
		m.releaseLocked()
		m.mu.Unlock()
		t.popHeld(m)
		return false, ErrInterrupted
	}
	c.waiting.add(w)
	m.stats.waits++
	m.releaseLocked()
	m.mu.Unlock()
	t.popHeld(m)

	if timed {
		t.setState(StateTimedWaiting)
	} else {
		t.setState(StateWaiting)
	}
	notified, err := m.awaitNotify(t, w, c, timed, timeout)
	t.endPark()
	t.setState(StateRunnable)
	if err != nil {
		return false, err
	}
	m.acquire(t, false, 0, depth, false)
	return notified, nil
}

func (m *monitor) awaitNotify(t Thread, w *waiter, c *condition, timed bool, timeout time.Duration) (bool, error) {
	var expired <-chan time.Time
	if timed {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	for {
		select {
		case r := <-w.wake:
			switch r {
			case wakeNotify:
				return true, nil
			case wakeInterrupt:
				m.mu.Lock()
				removed := c.waiting.remove(w)
				if removed {
					m.stats.interrupts++
				}
				m.mu.Unlock()
				if removed {
					t.clearInterrupt()
					return false, ErrInterrupted
				}
				// notified concurrently, the wake is buffered
			default:
				panic(fmt.Sprintf("unexpected wake %d on condition queue", r))
			}
		case <-expired:
			m.mu.Lock()
			removed := c.waiting.remove(w)
			if removed {
				m.stats.timeouts++
			}
			m.mu.Unlock()
			if removed {
				return false, nil
			}
			expired = nil
		}
	}
}

func (m *monitor) NotifyOne(t Thread, c Condition) error {
	return m.notify(t, c, false)
}

func (m *monitor) NotifyAll(t Thread, c Condition) error {
	return m.notify(t, c, true)
}

func (m *monitor) notify(t Thread, c Condition, all bool) error {
	if t == nil {
		panic("notify without thread")
	}
	if c == nil {
		panic("notify without condition")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.owner != m {
		return &MonitorStateError{Monitor: m.name, Thread: t, Op: "notify on foreign condition"}
	}
	if m.owner != t {
		return &MonitorStateError{Monitor: m.name, Thread: t, Op: "notify"}
	}
	for {
		w := c.waiting.next()
		if w == nil {
			return nil
		}
		m.stats.notifies++
		w.wake <- wakeNotify
		if !all {
			return nil
		}
	}
}

// checkOrder enforces the rank discipline of the guard on the first
// acquisition of a guarded monitor. Caller holds m.mu; the held list
// is stable because only the thread itself acquires on its behalf.
func (m *monitor) checkOrder(t Thread) error {
	if m.guard == nil {
		return nil
	}
	for _, h := range t.held {
		if h.guard == m.guard && h.rank >= m.rank {
			return &LockOrderError{
				Thread:        t,
				Holding:       h.name,
				HoldingRank:   h.rank,
				Acquiring:     m.name,
				AcquiringRank: m.rank,
			}
		}
	}
	return nil
}

func (m *monitor) Stats() MonitorStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	return MonitorStats{
		Name:       m.name,
		Acquires:   m.stats.acquires,
		Contended:  m.stats.contended,
		Waits:      m.stats.waits,
		Notifies:   m.stats.notifies,
		Timeouts:   m.stats.timeouts,
		Interrupts: m.stats.interrupts,
		Parked:     m.entry.len(),
		Hold:       m.hold.Snapshot(),
	}
}
