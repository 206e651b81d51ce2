package monitor

// ResultFunc computes a value on a managed thread.
type ResultFunc[R any] func(Thread) (R, error)

// A Result delivers the outcome of a thread started with GoResult.
// The value consists of an object of the given type parameter and an
// error code. A thread terminated by a panic yields its PanicError
// instead.
type Result[R any] struct {
	thread Thread
	value  R
	err    error
}

// GoResult starts a thread computing a value, which is picked up with
// Result.Wait.
func GoResult[R any](c Coordinator, fn ResultFunc[R], opts ...ThreadOption) *Result[R] {
	if fn == nil {
		panic("monitor: nil result function")
	}
	r := &Result[R]{}
	r.thread = c.Go(func(t Thread) {
		r.value, r.err = fn(t)
	}, opts...)
	return r
}

// Thread returns the handle of the computing thread.
func (r *Result[R]) Thread() Thread {
	return r.thread
}

// IsDone reports whether the computation has terminated.
func (r *Result[R]) IsDone() bool {
	return r.thread.done.isComplete()
}

// Wait blocks until the computing thread terminated and returns the
// computed value. The caller passes its own handle, or nil when
// calling from an unmanaged Go routine.
func (r *Result[R]) Wait(t Thread) (R, error) {
	var zero R
	if err := r.thread.Join(t); err != nil {
		return zero, err
	}
	if f := r.thread.Fault(); f != nil {
		return zero, f
	}
	return r.value, r.err
}
