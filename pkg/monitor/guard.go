package monitor

import (
	"math/rand"
	"slices"
	"sync"
	"time"
)

// Guard is an ordering domain for monitors. It dispenses monitors
// carrying acquisition ranks and rejects any acquisition violating the
// ascending rank discipline with a LockOrderError, immediately instead
// of letting the program block forever on a circular wait. For code
// paths where a static order cannot be established, AcquireAll offers
// the alternative discipline of bounded waits with randomized backoff.
type Guard = *guard

type guard struct {
	lock sync.Mutex
	name string
	next int
}

// NewGuard creates an ordering domain.
func NewGuard(names ...string) Guard {
	return &guard{
		name: ElementName("guard", names...),
		next: 1,
	}
}

func (g *guard) Name() string {
	return g.name
}

// Monitor creates a monitor with the next higher rank of this guard.
// Monitors must be acquired in ascending rank order.
func (g *guard) Monitor(names ...string) Monitor {
	g.lock.Lock()
	rank := g.next
	g.next++
	g.lock.Unlock()
	return newMonitor(g, rank, "monitor", names...)
}

// MonitorRank creates a monitor with an explicit rank. Ranks need not
// be distinct, but monitors of equal rank must never be held together.
func (g *guard) MonitorRank(rank int, names ...string) Monitor {
	g.lock.Lock()
	if rank >= g.next {
		g.next = rank + 1
	}
	g.lock.Unlock()
	return newMonitor(g, rank, "monitor", names...)
}

const (
	baseRetryDelay = time.Millisecond
	maxRetryDelay  = 100 * time.Millisecond
)

// AcquireAll takes all given monitors using bounded waits. The
// monitors are acquired in ascending rank order, so bulk acquisition
// composes with the ordering discipline regardless of the argument
// order. When one of them cannot be acquired within the attempt
// timeout, every monitor taken in this round is released again and the
// round is retried after a randomized, exponentially growing backoff.
// AcquireAll returns once all monitors are held, or with
// ErrInterrupted when the thread is interrupted while parked or
// backing off.
func (g *guard) AcquireAll(t Thread, attempt time.Duration, monitors ...Monitor) error {
	ordered := append([]Monitor(nil), monitors...)
	slices.SortStableFunc(ordered, func(a, b Monitor) int {
		return a.(*monitor).rank - b.(*monitor).rank
	})
	for round := 0; ; round++ {
		acquired := 0
		var err error
		for _, m := range ordered {
			var ok bool
			ok, err = m.TryAcquire(t, attempt)
			if !ok || err != nil {
				break
			}
			acquired++
		}
		if acquired == len(ordered) {
			return nil
		}
		for i := acquired - 1; i >= 0; i-- {
			ordered[i].Release(t)
		}
		if err != nil {
			return err
		}
		if err := backoff(t, round); err != nil {
			return err
		}
	}
}

// ReleaseAll releases the monitors in reverse order, returning the
// first release failure.
func (g *guard) ReleaseAll(t Thread, monitors ...Monitor) error {
	var err error
	for i := len(monitors) - 1; i >= 0; i-- {
		if e := monitors[i].Release(t); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// backoff parks the thread for the retry delay of the given round. The
// delay grows exponentially and is randomized so competing threads do
// not retry in lock step.
func backoff(t Thread, round int) error {
	factor := min(round, 10)
	delay := baseRetryDelay * time.Duration(1<<uint(factor))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	delay = delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1))

	_, err := newLatch("backoff").await(t, true, delay)
	return err
}
