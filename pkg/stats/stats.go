// Package stats aggregates duration samples into targeted quantiles.
package stats

import (
	"sync"
	"time"

	"github.com/bmizerany/perks/quantile"
)

// Timing aggregates observed durations. It is safe for concurrent use.
type Timing struct {
	lock   sync.Mutex
	count  int64
	sum    time.Duration
	stream *quantile.Stream
}

func New() *Timing {
	return &Timing{
		stream: quantile.NewTargeted(0.5, 0.95, 0.99),
	}
}

// Timer measures a single operation against a Timing.
type Timer struct {
	start  time.Time
	timing *Timing
}

// Time starts measuring an operation. Timer.Mark records it.
func (t *Timing) Time() Timer {
	return Timer{start: time.Now(), timing: t}
}

func (t Timer) Mark() {
	t.timing.Record(time.Since(t.start))
}

// Record adds a single observation.
func (t *Timing) Record(d time.Duration) {
	t.lock.Lock()
	defer t.lock.Unlock()

	t.count++
	t.sum += d
	t.stream.Insert(float64(d.Nanoseconds()))
}

// Query returns the given quantile of the observed durations.
func (t *Timing) Query(q float64) time.Duration {
	t.lock.Lock()
	defer t.lock.Unlock()
	return time.Duration(t.stream.Query(q))
}

// Snapshot is a read-only view of a Timing.
type Snapshot struct {
	Count int64
	Sum   time.Duration
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
}

// Mean returns the arithmetic mean of the observed durations.
func (s Snapshot) Mean() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / time.Duration(s.Count)
}

// Snapshot captures the current distribution. The Timing keeps
// aggregating afterwards.
func (t *Timing) Snapshot() Snapshot {
	t.lock.Lock()
	defer t.lock.Unlock()

	return Snapshot{
		Count: t.count,
		Sum:   t.sum,
		P50:   time.Duration(t.stream.Query(0.5)),
		P95:   time.Duration(t.stream.Query(0.95)),
		P99:   time.Duration(t.stream.Query(0.99)),
	}
}
