package main

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/mandelsoft/monitor/pkg/monitor"
)

// Queue is the backend moving items from producers to consumers. The
// monitor backend is this library, the channel and semaphore backends
// are the native constructions it competes with.
type Queue interface {
	Name() string
	Put(t monitor.Thread, v int) error
	Take(t monitor.Thread) (int, error)
	Close(t monitor.Thread) error
}

func newQueue(backend string, capacity int) (Queue, error) {
	switch backend {
	case "monitor":
		buf, err := monitor.NewBuffer[int](capacity, "sim")
		if err != nil {
			return nil, err
		}
		return &monitorQueue{buf: buf}, nil
	case "channel":
		return &channelQueue{ch: make(chan int, capacity)}, nil
	case "semaphore":
		return newSemaphoreQueue(capacity), nil
	}
	return nil, fmt.Errorf("unknown backend %q", backend)
}

type monitorQueue struct {
	buf monitor.Buffer[int]
}

func (q *monitorQueue) Name() string { return "monitor" }

func (q *monitorQueue) Put(t monitor.Thread, v int) error {
	return q.buf.Put(t, v)
}

func (q *monitorQueue) Take(t monitor.Thread) (int, error) {
	return q.buf.Take(t)
}

func (q *monitorQueue) Close(t monitor.Thread) error {
	return q.buf.Close(t)
}

// channelQueue relies on the simulation closing only after every
// producer has terminated, so a send never races the close.
type channelQueue struct {
	ch chan int
}

func (q *channelQueue) Name() string { return "channel" }

func (q *channelQueue) Put(_ monitor.Thread, v int) error {
	q.ch <- v
	return nil
}

func (q *channelQueue) Take(monitor.Thread) (int, error) {
	v, ok := <-q.ch
	if !ok {
		return 0, monitor.ErrClosed
	}
	return v, nil
}

func (q *channelQueue) Close(monitor.Thread) error {
	close(q.ch)
	return nil
}

// semaphoreQueue is the classic bounded queue built from a pair of
// counting semaphores guarding a locked slice. Close cancels the
// semaphore waits, leftover items are drained under the lock.
type semaphoreQueue struct {
	ctx    context.Context
	cancel context.CancelFunc

	slots *semaphore.Weighted
	avail *semaphore.Weighted

	mu     sync.Mutex
	items  []int
	closed bool
}

func newSemaphoreQueue(capacity int) *semaphoreQueue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &semaphoreQueue{
		ctx:    ctx,
		cancel: cancel,
		slots:  semaphore.NewWeighted(int64(capacity)),
		avail:  semaphore.NewWeighted(int64(capacity)),
	}
	_ = q.avail.Acquire(context.Background(), int64(capacity))
	return q
}

func (q *semaphoreQueue) Name() string { return "semaphore" }

func (q *semaphoreQueue) Put(_ monitor.Thread, v int) error {
	if err := q.slots.Acquire(q.ctx, 1); err != nil {
		return monitor.ErrClosed
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.slots.Release(1)
		return monitor.ErrClosed
	}
	q.items = append(q.items, v)
	q.mu.Unlock()
	q.avail.Release(1)
	return nil
}

func (q *semaphoreQueue) Take(monitor.Thread) (int, error) {
	if err := q.avail.Acquire(q.ctx, 1); err != nil {
		return q.drain()
	}
	q.mu.Lock()
	if len(q.items) == 0 {
		// the credited item was drained concurrently after close
		q.mu.Unlock()
		return 0, monitor.ErrClosed
	}
	v := q.items[0]
	q.items = q.items[1:]
	q.mu.Unlock()
	q.slots.Release(1)
	return v, nil
}

func (q *semaphoreQueue) drain() (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return 0, monitor.ErrClosed
	}
	v := q.items[0]
	q.items = q.items[1:]
	return v, nil
}

func (q *semaphoreQueue) Close(monitor.Thread) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return monitor.ErrClosed
	}
	q.closed = true
	q.mu.Unlock()
	q.cancel()
	return nil
}
