package monitor

import (
	"sync/atomic"
)

// Buffer supports communication among threads by exchanging items
// through fixed capacity FIFO storage. Once the capacity is exceeded
// any further Buffer.Put operation is blocked until an item is removed
// by a Buffer.Take operation, and Take blocks on an empty buffer until
// an item arrives. All storage mutation happens under the buffer's
// monitor.
type Buffer[T any] interface {
	// Put appends the item, parking the thread on the "not-full"
	// condition while the buffer is full. Items are never dropped and
	// never reordered.
	Put(t Thread, item T) error

	// Take removes and returns the oldest item, parking the thread on
	// the "not-empty" condition while the buffer is empty. After Close
	// the remaining items are drained before Take fails with
	// ErrClosed.
	Take(t Thread) (T, error)

	// TryPut appends the item without parking on a condition,
	// reporting false if the buffer is full.
	TryPut(t Thread, item T) (bool, error)

	// TryTake removes the oldest item without parking on a condition,
	// reporting false if the buffer is empty.
	TryTake(t Thread) (T, bool, error)

	// Close marks the buffer closed and releases every parked
	// producer and consumer. Put fails with ErrClosed afterwards,
	// Take drains the remaining items first. Closing twice fails
	// with ErrClosed.
	Close(t Thread) error

	// Len reports the number of buffered items at some instant
	// between the call and the return.
	Len() int

	// Cap reports the fixed capacity.
	Cap() int

	// Monitor returns the monitor guarding the buffer.
	Monitor() Monitor
}

type buffer[T any] struct {
	monitor  *monitor
	notFull  Condition
	notEmpty Condition

	capacity int
	size     int
	first    int
	items    []T
	closed   bool

	// length mirrors size for unsynchronized observation, it is
	// written under the monitor only
	length atomic.Int32
}

// NewBuffer creates a bounded buffer with the given fixed capacity.
// It fails with an ArgumentError if the capacity is not positive.
func NewBuffer[T any](capacity int, names ...string) (Buffer[T], error) {
	if capacity <= 0 {
		return nil, &ArgumentError{Param: "capacity", Value: capacity}
	}
	m := newMonitor(nil, 0, "buffer", names...)
	return &buffer[T]{
		monitor:  m,
		notFull:  m.NewCondition("not-full"),
		notEmpty: m.NewCondition("not-empty"),
		capacity: capacity,
		items:    make([]T, capacity),
	}, nil
}

func (b *buffer[T]) Put(t Thread, item T) error {
	if err := b.monitor.Acquire(t); err != nil {
		return err
	}
	for b.size == b.capacity && !b.closed {
		if err := b.monitor.Wait(t, b.notFull); err != nil {
			return err
		}
	}
	if b.closed {
		b.monitor.Release(t)
		return ErrClosed
	}
	b.items[(b.first+b.size)%b.capacity] = item
	b.size++
	b.length.Store(int32(b.size))

	b.monitor.NotifyOne(t, b.notEmpty)
	return b.monitor.Release(t)
}

func (b *buffer[T]) Take(t Thread) (T, error) {
	var zero T
	if err := b.monitor.Acquire(t); err != nil {
		return zero, err
	}
	for b.size == 0 {
		if b.closed {
			b.monitor.Release(t)
			return zero, ErrClosed
		}
		if err := b.monitor.Wait(t, b.notEmpty); err != nil {
			return zero, err
		}
	}
	item := b.items[b.first]
	b.size--
	b.first = (b.first + 1) % b.capacity
	b.length.Store(int32(b.size))

	b.monitor.NotifyOne(t, b.notFull)
	return item, b.monitor.Release(t)
}

func (b *buffer[T]) TryPut(t Thread, item T) (bool, error) {
	if err := b.monitor.Acquire(t); err != nil {
		return false, err
	}
	if b.closed {
		b.monitor.Release(t)
		return false, ErrClosed
	}
	if b.size == b.capacity {
		b.monitor.Release(t)
		return false, nil
	}
	b.items[(b.first+b.size)%b.capacity] = item
	b.size++
	b.length.Store(int32(b.size))

	b.monitor.NotifyOne(t, b.notEmpty)
	return true, b.monitor.Release(t)
}

func (b *buffer[T]) TryTake(t Thread) (T, bool, error) {
	var zero T
	if err := b.monitor.Acquire(t); err != nil {
		return zero, false, err
	}
	if b.size == 0 {
		closed := b.closed
		b.monitor.Release(t)
		if closed {
			return zero, false, ErrClosed
		}
		return zero, false, nil
	}
	item := b.items[b.first]
	b.size--
	b.first = (b.first + 1) % b.capacity
	b.length.Store(int32(b.size))

	b.monitor.NotifyOne(t, b.notFull)
	err := b.monitor.Release(t)
	return item, true, err
}

func (b *buffer[T]) Close(t Thread) error {
	if err := b.monitor.Acquire(t); err != nil {
		return err
	}
	if b.closed {
		b.monitor.Release(t)
		return ErrClosed
	}
	b.closed = true
	b.monitor.NotifyAll(t, b.notFull)
	b.monitor.NotifyAll(t, b.notEmpty)
	return b.monitor.Release(t)
}

func (b *buffer[T]) Len() int {
	return int(b.length.Load())
}

func (b *buffer[T]) Cap() int {
	return b.capacity
}

func (b *buffer[T]) Monitor() Monitor {
	return b.monitor
}
