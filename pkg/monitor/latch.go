package monitor

import (
	"sync"
	"time"
)

// latch is a one-shot completion signal backing join and result
// delivery. Managed threads park on its wait queue and support
// interruption and timeouts, unmanaged Go routines block on the
// channel directly.
type latch struct {
	lock sync.Mutex

	complete bool
	ch       chan struct{}
	waiting  *waitQueue
}

func newLatch(names ...string) *latch {
	return &latch{
		ch:      make(chan struct{}),
		waiting: newWaitQueue(ElementName("latch", names...)),
	}
}

func (l *latch) isComplete() bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.complete
}

// completeNow completes the latch and releases all waiters. Completing
// a completed latch has no effect.
func (l *latch) completeNow() {
	l.lock.Lock()
	if l.complete {
		l.lock.Unlock()
		return
	}
	l.complete = true
	for w := l.waiting.next(); w != nil; w = l.waiting.next() {
		w.wake <- wakeNotify
	}
	l.lock.Unlock()
	close(l.ch)
}

// await blocks until the latch completes, reporting whether it did
// within the timeout. A nil thread blocks the calling Go routine on
// the channel instead of parking a managed thread.
func (l *latch) await(t Thread, timed bool, timeout time.Duration) (bool, error) {
	l.lock.Lock()
	if l.complete {
		l.lock.Unlock()
		return true, nil
	}
	if t == nil {
		l.lock.Unlock()
		if !timed {
			<-l.ch
			return true, nil
		}
		select {
		case <-l.ch:
			return true, nil
		case <-time.After(timeout):
			return false, nil
		}
	}
	w := newWaiter(t, 0)
	if !t.beginPark(w, true) {
		l.lock.Unlock()
		return false, ErrInterrupted
	}
	l.waiting.add(w)
	l.lock.Unlock()

	if timed {
		t.setState(StateTimedWaiting)
	} else {
		t.setState(StateWaiting)
	}
	done, err := l.awaitWake(t, w, timed, timeout)
	t.endPark()
	t.setState(StateRunnable)
	return done, err
}

func (l *latch) awaitWake(t Thread, w *waiter, timed bool, timeout time.Duration) (bool, error) {
	var expired <-chan time.Time
	if timed {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	for {
		select {
		case r := <-w.wake:
			if r == wakeInterrupt {
				l.lock.Lock()
				removed := l.waiting.remove(w)
				l.lock.Unlock()
				if removed {
					t.clearInterrupt()
					return false, ErrInterrupted
				}
				// completed concurrently, the wake is buffered
				continue
			}
			return true, nil
		case <-expired:
			l.lock.Lock()
			removed := l.waiting.remove(w)
			l.lock.Unlock()
			if removed {
				return false, nil
			}
			expired = nil
		}
	}
}
