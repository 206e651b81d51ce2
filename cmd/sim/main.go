// Command sim saturates a bounded queue with producer and consumer
// threads and reports throughput, per-operation latency quantiles and
// the final coordinator and monitor counters. The optional transfer
// stage moves units between two guarded accounts from workers naming
// the monitors in opposite orders, exercising bounded bulk acquisition
// with backoff.
package main

import (
	"errors"
	"flag"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mandelsoft/monitor/pkg/logging"
	"github.com/mandelsoft/monitor/pkg/monitor"
	"github.com/mandelsoft/monitor/pkg/stats"
)

func main() {
	producers := flag.Int("producers", 4, "Producer thread count")
	consumers := flag.Int("consumers", 4, "Consumer thread count")
	capacity := flag.Int("capacity", 16, "Queue capacity")
	items := flag.Int("items", 100000, "Items sent per producer")
	backend := flag.String("backend", "monitor", "Queue backend: monitor, channel or semaphore")
	transfers := flag.Int("transfers", 0, "Guarded transfer rounds per worker, 0 skips the stage")
	workers := flag.Int("workers", 4, "Worker threads of the transfer stage")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	level := logging.LevelInfo
	if *verbose {
		level = logging.LevelDebug
	}
	log := logging.New(&logging.Config{Level: level, Format: "text", Output: os.Stdout})
	run := uuid.NewString()

	queue, err := newQueue(*backend, *capacity)
	if err != nil {
		log.Error("invalid arguments", "run", run, "error", err)
		os.Exit(1)
	}

	log.Info("simulation started", "run", run, "backend", queue.Name(),
		"producers", *producers, "consumers", *consumers,
		"capacity", *capacity, "items", *items)

	runPipe(log, run, queue, *producers, *consumers, *items)

	if *transfers > 0 {
		runTransfers(log, run, *workers, *transfers)
	}
}

// runPipe drives the queue with the configured thread population. The
// producers deliver a fixed item count each, the consumers drain until
// the close, and a closer thread closes the queue once all producers
// have terminated.
func runPipe(log logging.Logger, run string, queue Queue, producers, consumers, items int) {
	coord := monitor.New(monitor.WithLogger(log))
	putTiming := stats.New()
	takeTiming := stats.New()
	var moved atomic.Int64

	start := time.Now()

	senders := make([]monitor.Thread, 0, producers)
	for p := 0; p < producers; p++ {
		th := coord.Go(func(t monitor.Thread) {
			for i := 0; i < items; i++ {
				timer := putTiming.Time()
				if err := queue.Put(t, i); err != nil {
					log.Error("put failed", "run", run, "thread", t.String(), "error", err)
					return
				}
				timer.Mark()
			}
		}, monitor.WithName("producer", strconv.Itoa(p)))
		senders = append(senders, th)
	}

	for c := 0; c < consumers; c++ {
		coord.Go(func(t monitor.Thread) {
			for {
				timer := takeTiming.Time()
				if _, err := queue.Take(t); err != nil {
					if !errors.Is(err, monitor.ErrClosed) {
						log.Error("take failed", "run", run, "thread", t.String(), "error", err)
					}
					return
				}
				timer.Mark()
				moved.Add(1)
			}
		}, monitor.WithName("consumer", strconv.Itoa(c)))
	}

	coord.Go(func(t monitor.Thread) {
		for _, s := range senders {
			_ = s.Join(t)
		}
		if err := queue.Close(t); err != nil {
			log.Error("close failed", "run", run, "error", err)
		}
	}, monitor.WithName("closer"))

	coord.Wait()
	elapsed := time.Since(start)

	puts := putTiming.Snapshot()
	takes := takeTiming.Snapshot()
	total := int64(producers) * int64(items)

	log.Info("pipe finished", "run", run, "backend", queue.Name(),
		"moved", moved.Load(), "expected", total, "elapsed", elapsed,
		"throughput", float64(moved.Load())/elapsed.Seconds())
	log.Info("put latency", "run", run, "count", puts.Count,
		"mean", puts.Mean(), "p50", puts.P50, "p95", puts.P95, "p99", puts.P99)
	log.Info("take latency", "run", run, "count", takes.Count,
		"mean", takes.Mean(), "p50", takes.P50, "p95", takes.P95, "p99", takes.P99)

	if q, ok := queue.(*monitorQueue); ok {
		ms := q.buf.Monitor().Stats()
		log.Info("buffer monitor", "run", run, "name", ms.Name,
			"acquires", ms.Acquires, "contended", ms.Contended,
			"waits", ms.Waits, "notifies", ms.Notifies,
			"hold_p50", ms.Hold.P50, "hold_p95", ms.Hold.P95)
	}

	cs := coord.Stats()
	log.Info("threads", "run", run,
		"threads", cs.Threads, "terminated", cs.Terminated, "daemons", cs.Daemons)
}

// runTransfers moves units between two guarded accounts. Half of the
// acquisitions name the monitors in the opposite order, the balance
// total proves that bulk acquisition under contention stays atomic.
func runTransfers(log logging.Logger, run string, workers, rounds int) {
	coord := monitor.New(monitor.WithLogger(log))
	g := monitor.NewGuard("accounts")

	monA := g.Monitor("a")
	monB := g.Monitor("b")
	balanceA, balanceB := 1000, 1000

	timing := stats.New()
	start := time.Now()

	for w := 0; w < workers; w++ {
		coord.Go(func(t monitor.Thread) {
			for i := 0; i < rounds; i++ {
				first, second := monA, monB
				if (w+i)%2 == 1 {
					first, second = monB, monA
				}
				timer := timing.Time()
				if err := g.AcquireAll(t, time.Millisecond, first, second); err != nil {
					log.Error("transfer failed", "run", run, "thread", t.String(), "error", err)
					return
				}
				if first == monA {
					balanceA--
					balanceB++
				} else {
					balanceB--
					balanceA++
				}
				_ = g.ReleaseAll(t, first, second)
				timer.Mark()
			}
		}, monitor.WithName("transfer", strconv.Itoa(w)))
	}

	coord.Wait()
	elapsed := time.Since(start)

	snap := timing.Snapshot()
	log.Info("transfers finished", "run", run, "workers", workers, "rounds", rounds,
		"balance_a", balanceA, "balance_b", balanceB, "total", balanceA+balanceB,
		"elapsed", elapsed, "p50", snap.P50, "p95", snap.P95, "p99", snap.P99)
}
