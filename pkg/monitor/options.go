package monitor

import (
	"fmt"

	"github.com/mandelsoft/monitor/pkg/logging"
)

// Option configures a Coordinator.
type Option func(*coordinator)

// WithLogger sets the logger used for lifecycle events. The default
// keeps the coordinator silent. It panics on a nil logger.
func WithLogger(log logging.Logger) Option {
	return func(c *coordinator) {
		if log == nil {
			panic("monitor: nil logger")
		}
		c.log = log
	}
}

// WithOnStateChange registers a callback invoked on every thread
// lifecycle transition. The callback runs on the transitioning Go
// routine and must not block or call back into blocking operations.
func WithOnStateChange(fn func(t Thread, from, to State)) Option {
	return func(c *coordinator) {
		c.onStateChange = fn
	}
}

// ThreadOption configures a single thread.
type ThreadOption func(*thread)

// WithName sets the display name of the thread.
func WithName(names ...string) ThreadOption {
	return func(t *thread) {
		t.name = ElementName("thread", names...)
	}
}

// WithPriority sets the advisory priority hint of the thread.
// It panics if p lies outside [MinPriority, MaxPriority].
func WithPriority(p int) ThreadOption {
	return func(t *thread) {
		if p < MinPriority || p > MaxPriority {
			panic(fmt.Sprintf("monitor: priority out of range: %d", p))
		}
		t.priority = p
	}
}

// WithDaemon marks the thread as a daemon thread. Coordinator.Wait
// does not wait for daemon threads.
func WithDaemon() ThreadOption {
	return func(t *thread) {
		t.daemon = true
	}
}
