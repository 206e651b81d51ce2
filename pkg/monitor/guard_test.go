package monitor_test

import (
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mandelsoft/monitor/pkg/monitor"
)

var _ = Describe("guard", func() {
	var coord monitor.Coordinator
	var g monitor.Guard
	var m1 monitor.Monitor
	var m2 monitor.Monitor

	BeforeEach(func() {
		coord = monitor.New()
		g = monitor.NewGuard("test")
		m1 = g.Monitor("m1")
		m2 = g.Monitor("m2")
	})

	It("detects inverted acquisition", func() {
		// ascending rank order is legal
		Expect(run(coord, func(t monitor.Thread) error {
			if err := m1.Acquire(t); err != nil {
				return err
			}
			if err := m2.Acquire(t); err != nil {
				return err
			}
			return g.ReleaseAll(t, m1, m2)
		})).To(Succeed())

		// the inverted order fails on the second acquisition instead
		// of risking a circular wait
		err := run(coord, func(t monitor.Thread) error {
			if err := m2.Acquire(t); err != nil {
				return err
			}
			aerr := m1.Acquire(t)
			if rerr := m2.Release(t); rerr != nil {
				return rerr
			}
			return aerr
		})

		var lo *monitor.LockOrderError
		Expect(errors.As(err, &lo)).To(BeTrue())
		Expect(lo.Holding).To(Equal("monitor:m2"))
		Expect(lo.HoldingRank).To(Equal(2))
		Expect(lo.Acquiring).To(Equal("monitor:m1"))
		Expect(lo.AcquiringRank).To(Equal(1))
	})

	It("scopes the rank discipline to the guard", func() {
		other := monitor.NewGuard("other")
		foreign := other.Monitor("n1")
		plain := monitor.NewMonitor("plain")

		Expect(run(coord, func(t monitor.Thread) error {
			if err := m2.Acquire(t); err != nil {
				return err
			}
			// monitors of other domains are not ranked against m2
			if err := foreign.Acquire(t); err != nil {
				return err
			}
			if err := plain.Acquire(t); err != nil {
				return err
			}
			if err := plain.Release(t); err != nil {
				return err
			}
			if err := foreign.Release(t); err != nil {
				return err
			}
			return m2.Release(t)
		})).To(Succeed())
	})

	It("assigns explicit ranks", func() {
		low := g.MonitorRank(10, "low")
		high := g.Monitor("high") // rank 11

		err := run(coord, func(t monitor.Thread) error {
			if err := low.Acquire(t); err != nil {
				return err
			}
			if err := high.Acquire(t); err != nil {
				return err
			}
			return g.ReleaseAll(t, low, high)
		})
		Expect(err).To(Succeed())

		err = run(coord, func(t monitor.Thread) error {
			if err := high.Acquire(t); err != nil {
				return err
			}
			aerr := low.Acquire(t)
			if rerr := high.Release(t); rerr != nil {
				return rerr
			}
			return aerr
		})
		var lo *monitor.LockOrderError
		Expect(errors.As(err, &lo)).To(BeTrue())
	})

	It("rejects waiting below a held rank", func() {
		cond := m1.NewCondition("cond")

		err := run(coord, func(t monitor.Thread) error {
			if err := m1.Acquire(t); err != nil {
				return err
			}
			if err := m2.Acquire(t); err != nil {
				return err
			}
			// waiting on m1 would re-acquire it behind m2 later
			werr := m1.Wait(t, cond)
			// the rejection left both monitors held
			if err := g.ReleaseAll(t, m1, m2); err != nil {
				return err
			}
			return werr
		})

		var lo *monitor.LockOrderError
		Expect(errors.As(err, &lo)).To(BeTrue())
		Expect(lo.Holding).To(Equal("monitor:m2"))
		Expect(lo.Acquiring).To(Equal("monitor:m1"))
	})

	It("converges on contended bulk acquisition", func() {
		const rounds = 20

		counter := 0
		bump := func(ms ...monitor.Monitor) func(t monitor.Thread) error {
			return func(t monitor.Thread) error {
				for i := 0; i < rounds; i++ {
					if err := g.AcquireAll(t, 5*time.Millisecond, ms...); err != nil {
						return err
					}
					counter++
					if err := g.ReleaseAll(t, ms...); err != nil {
						return err
					}
				}
				return nil
			}
		}

		// opposite argument orders, AcquireAll still converges
		r1 := monitor.GoResult(coord, func(t monitor.Thread) (struct{}, error) {
			return struct{}{}, bump(m1, m2)(t)
		})
		r2 := monitor.GoResult(coord, func(t monitor.Thread) (struct{}, error) {
			return struct{}{}, bump(m2, m1)(t)
		})

		_, err := r1.Wait(nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = r2.Wait(nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(counter).To(Equal(2 * rounds))
	})

	It("interrupts a backed off bulk acquisition", func() {
		held := make(chan struct{})
		gate := make(chan struct{})

		holder := coord.Go(func(t monitor.Thread) {
			m1.Acquire(t)
			close(held)
			<-gate
			m1.Release(t)
		})
		<-held

		r := monitor.GoResult(coord, func(t monitor.Thread) (error, error) {
			return g.AcquireAll(t, 10*time.Millisecond, m1, m2), nil
		})
		th := r.Thread()

		// the retry loop alternates bounded attempts and backoffs
		Eventually(th.State).WithTimeout(10 * time.Second).Should(Equal(monitor.StateTimedWaiting))
		th.Interrupt()

		aerr, err := r.Wait(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(aerr).To(MatchError(monitor.ErrInterrupted))

		close(gate)
		await(holder)

		// nothing stays held behind the unwound acquisition
		Expect(run(coord, func(t monitor.Thread) error {
			if err := g.AcquireAll(t, time.Second, m1, m2); err != nil {
				return err
			}
			return g.ReleaseAll(t, m1, m2)
		})).To(Succeed())
	})
})
