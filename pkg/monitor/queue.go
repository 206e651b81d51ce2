package monitor

type wakeReason int

const (
	wakeGrant wakeReason = iota
	wakeNotify
	wakeInterrupt
)

// waiter represents a single park episode of a thread on a wait
// queue. The wake channel transports the reason the thread was woken.
// It is buffered for two slots so neither an owner side wake nor an
// interrupt ever blocks the sender: per episode at most one of each is
// sent. depth carries the reentrancy count to restore when monitor
// ownership is handed back.
type waiter struct {
	thread Thread
	wake   chan wakeReason
	depth  int
}

func newWaiter(t Thread, depth int) *waiter {
	return &waiter{
		thread: t,
		wake:   make(chan wakeReason, 2),
		depth:  depth,
	}
}

// waitQueue is a FIFO of parked waiters. It carries no lock of its
// own, all access happens under the lock of the primitive owning the
// queue. Wake senders remove the waiter from the queue before sending
// under that lock, so queue membership decides every wake race: a
// waiter finding itself still queued on interrupt or timer expiry has
// not been woken, a dequeued one consumes the buffered wake instead.
type waitQueue struct {
	name string
	list []*waiter
}

func newWaitQueue(name string) *waitQueue {
	return &waitQueue{name: name}
}

func (q *waitQueue) add(w *waiter) {
	q.list = append(q.list, w)
}

func (q *waitQueue) next() *waiter {
	if len(q.list) > 0 {
		w := q.list[0]
		q.list = q.list[1:]
		return w
	}
	return nil
}

func (q *waitQueue) remove(w *waiter) bool {
	for i, e := range q.list {
		if e == w {
			q.list = append(q.list[:i], q.list[i+1:]...)
			return true
		}
	}
	return false
}

func (q *waitQueue) len() int {
	return len(q.list)
}
