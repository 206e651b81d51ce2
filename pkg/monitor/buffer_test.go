package monitor_test

import (
	"errors"
	"fmt"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mandelsoft/monitor/pkg/monitor"
)

func bufferer(name string, prog *Stepper, buf monitor.Buffer[string]) monitor.WorkFunc {
	return func(t monitor.Thread) {
		fmt.Printf("%s: start\n", name)
		cnt := 0
		for {
			step, ok := <-prog.stepper
			if !ok {
				fmt.Printf("%s: end\n", name)
				return
			}
			prog.result.Add(step, name, "start")
			switch step {
			case PUT:
				cnt++
				if err := buf.Put(t, fmt.Sprintf("msg-%d", cnt)); err != nil {
					prog.result.Add(step, name, err.Error())
					continue
				}
				prog.result.Add(step, name)
			case TAKE:
				item, err := buf.Take(t)
				if err != nil {
					prog.result.Add(step, name, err.Error())
					continue
				}
				prog.result.Add(step, name, item)
			case TRYPUT:
				cnt++
				ok, err := buf.TryPut(t, fmt.Sprintf("msg-%d", cnt))
				switch {
				case err != nil:
					prog.result.Add(step, name, err.Error())
				case !ok:
					prog.result.Add(step, name, "full")
				default:
					prog.result.Add(step, name)
				}
			case TRYTAKE:
				item, ok, err := buf.TryTake(t)
				switch {
				case err != nil:
					prog.result.Add(step, name, err.Error())
				case !ok:
					prog.result.Add(step, name, "empty")
				default:
					prog.result.Add(step, name, item)
				}
			case CLOSE:
				if err := buf.Close(t); err != nil {
					prog.result.Add(step, name, err.Error())
					continue
				}
				prog.result.Add(step, name)
			}
		}
	}
}

var _ = Describe("buffer", func() {
	var coord monitor.Coordinator
	var results *LockResults
	var buf monitor.Buffer[string]

	BeforeEach(func() {
		coord = monitor.New()
		results = &LockResults{}

		var err error
		buf, err = monitor.NewBuffer[string](2, "test")
		Expect(err).NotTo(HaveOccurred())
	})

	It("handles sequence", func() {
		fmt.Printf("start buffer\n")

		s1 := NewStepper(results)
		s2 := NewStepper(results)

		e1 := coord.Go(bufferer("sender", s1, buf), monitor.WithName("sender"))
		e2 := coord.Go(bufferer("receiver", s2, buf), monitor.WithName("receiver"))

		s1.Step(PUT)
		s2.Step(TAKE)
		s1.Step(PUT)
		s2.Step(TAKE)
		s1.Step(PUT)
		s2.Step(TAKE)

		s1.Finish()
		s2.Finish()

		await(e1, e2)
		Expect(results.List()).To(Equal([]string{
			PUT.S("sender"),
			PUT.R("sender"),
			TAKE.S("receiver"),
			TAKE.R("receiver", "msg-1"),
			PUT.S("sender"),
			PUT.R("sender"),
			TAKE.S("receiver"),
			TAKE.R("receiver", "msg-2"),
			PUT.S("sender"),
			PUT.R("sender"),
			TAKE.S("receiver"),
			TAKE.R("receiver", "msg-3"),
		}))
		Expect(buf.Len()).To(BeZero())
		Expect(buf.Cap()).To(Equal(2))
		fmt.Printf("buffer done\n")
	})

	It("blocks takers on an empty buffer", func() {
		s1 := NewStepper(results)
		s2 := NewStepper(results)

		e1 := coord.Go(bufferer("sender", s1, buf), monitor.WithName("sender"))
		e2 := coord.Go(bufferer("receiver", s2, buf), monitor.WithName("receiver"))

		// a bounded probe reports instead of parking
		s2.Step(TRYTAKE)
		Expect(e2.State()).To(Equal(monitor.StateRunnable))
		Expect(buf.Monitor().Stats().Waits).To(BeZero())

		s2.Step(TAKE)
		Eventually(e2.State).WithTimeout(5 * time.Second).Should(Equal(monitor.StateWaiting))
		Expect(buf.Len()).To(BeZero())

		s1.Step(PUT)

		s1.Finish()
		s2.Finish()

		await(e1, e2)
		Expect(results.Of("sender")).To(Equal([]string{
			PUT.S("sender"),
			PUT.R("sender"),
		}))
		Expect(results.Of("receiver")).To(Equal([]string{
			TRYTAKE.S("receiver"),
			TRYTAKE.R("receiver", "empty"),
			TAKE.S("receiver"),
			TAKE.R("receiver", "msg-1"),
		}))
		order(results,
			TAKE.S("receiver"),
			PUT.S("sender"),
			TAKE.R("receiver", "msg-1"),
		)
		Expect(buf.Monitor().Stats().Waits).To(Equal(uint64(1)))
	})

	It("blocks producers on a full buffer", func() {
		s1 := NewStepper(results)
		s2 := NewStepper(results)

		e1 := coord.Go(bufferer("sender", s1, buf), monitor.WithName("sender"))
		e2 := coord.Go(bufferer("receiver", s2, buf), monitor.WithName("receiver"))

		s1.Step(PUT)
		s1.Step(PUT)
		Expect(buf.Len()).To(Equal(2))

		s1.Step(PUT)
		Eventually(e1.State).WithTimeout(5 * time.Second).Should(Equal(monitor.StateWaiting))
		// the parked put must not have touched the content
		Expect(buf.Len()).To(Equal(2))

		s2.Step(TAKE)
		Eventually(buf.Len).WithTimeout(5 * time.Second).Should(Equal(2))

		s2.Step(TAKE)
		s2.Step(TAKE)

		s1.Finish()
		s2.Finish()

		await(e1, e2)
		Expect(results.Of("sender")).To(Equal([]string{
			PUT.S("sender"),
			PUT.R("sender"),
			PUT.S("sender"),
			PUT.R("sender"),
			PUT.S("sender"),
			PUT.R("sender"),
		}))
		// the order survives the blocked put
		Expect(results.Of("receiver")).To(Equal([]string{
			TAKE.S("receiver"),
			TAKE.R("receiver", "msg-1"),
			TAKE.S("receiver"),
			TAKE.R("receiver", "msg-2"),
			TAKE.S("receiver"),
			TAKE.R("receiver", "msg-3"),
		}))
		order(results,
			PUT.S("sender"),
			PUT.R("sender"),
			PUT.S("sender"),
			PUT.R("sender"),
			PUT.S("sender"),
			TAKE.S("receiver"),
			PUT.R("sender"),
		)
		Expect(buf.Len()).To(BeZero())
	})

	It("hands off through a capacity one buffer", func() {
		one, err := monitor.NewBuffer[int](1, "one")
		Expect(err).NotTo(HaveOccurred())

		Expect(run(coord, func(t monitor.Thread) error {
			return one.Put(t, 42)
		})).To(Succeed())

		blocked := coord.Go(func(t monitor.Thread) {
			one.Put(t, 7)
		})
		Eventually(blocked.State).WithTimeout(5 * time.Second).Should(Equal(monitor.StateWaiting))
		Expect(one.Len()).To(Equal(1))

		first := monitor.GoResult(coord, func(t monitor.Thread) (int, error) {
			return one.Take(t)
		})
		v, err := first.Wait(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(42))

		// the freed slot admits the parked put
		await(blocked)

		second := monitor.GoResult(coord, func(t monitor.Thread) (int, error) {
			return one.Take(t)
		})
		v, err = second.Wait(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(7))
		Expect(one.Len()).To(BeZero())
	})

	It("drains and rejects after close", func() {
		s1 := NewStepper(results)

		e1 := coord.Go(bufferer("sender", s1, buf), monitor.WithName("sender"))

		s1.Step(PUT)
		s1.Step(PUT)
		s1.Step(TRYPUT)
		s1.Step(CLOSE)
		s1.Step(TRYTAKE)
		s1.Step(TRYTAKE)
		s1.Step(TRYTAKE)
		s1.Step(PUT)
		s1.Step(CLOSE)

		s1.Finish()

		await(e1)
		Expect(results.List()).To(Equal([]string{
			PUT.S("sender"),
			PUT.R("sender"),
			PUT.S("sender"),
			PUT.R("sender"),
			TRYPUT.S("sender"),
			TRYPUT.R("sender", "full"),
			CLOSE.S("sender"),
			CLOSE.R("sender"),
			TRYTAKE.S("sender"),
			TRYTAKE.R("sender", "msg-1"),
			TRYTAKE.S("sender"),
			TRYTAKE.R("sender", "msg-2"),
			TRYTAKE.S("sender"),
			TRYTAKE.R("sender", "already closed"),
			PUT.S("sender"),
			PUT.R("sender", "already closed"),
			CLOSE.S("sender"),
			CLOSE.R("sender", "already closed"),
		}))
		Expect(buf.Len()).To(BeZero())
	})

	It("wakes all parked producers on close", func() {
		s1 := NewStepper(results)
		s2 := NewStepper(results)
		s3 := NewStepper(results)

		e1 := coord.Go(bufferer("prod1", s1, buf), monitor.WithName("prod1"))
		e2 := coord.Go(bufferer("prod2", s2, buf), monitor.WithName("prod2"))
		e3 := coord.Go(bufferer("closer", s3, buf), monitor.WithName("closer"))

		s1.Step(PUT)
		s1.Step(PUT)
		s1.Step(PUT)
		s2.Step(PUT)

		notFull, _ := monitor.BufferConditions(buf)
		Expect(monitor.ConditionLen(buf.Monitor(), notFull)).To(Equal(2))

		s3.Step(CLOSE)

		s1.Finish()
		s2.Finish()
		s3.Finish()

		await(e1, e2, e3)
		Expect(results.Of("prod1")).To(Equal([]string{
			PUT.S("prod1"),
			PUT.R("prod1"),
			PUT.S("prod1"),
			PUT.R("prod1"),
			PUT.S("prod1"),
			PUT.R("prod1", "already closed"),
		}))
		Expect(results.Of("prod2")).To(Equal([]string{
			PUT.S("prod2"),
			PUT.R("prod2", "already closed"),
		}))
		Expect(results.Of("closer")).To(Equal([]string{
			CLOSE.S("closer"),
			CLOSE.R("closer"),
		}))
		order(results, CLOSE.S("closer"), PUT.R("prod1", "already closed"))
		order(results, CLOSE.S("closer"), PUT.R("prod2", "already closed"))

		// the rejected puts did not disturb the content
		Expect(buf.Len()).To(Equal(2))
	})

	It("holds the invariant across spurious wake-ups", func() {
		s1 := NewStepper(results)
		s2 := NewStepper(results)

		e1 := coord.Go(bufferer("sender", s1, buf), monitor.WithName("sender"))
		e2 := coord.Go(bufferer("receiver", s2, buf), monitor.WithName("receiver"))

		s2.Step(TAKE)
		Eventually(e2.State).WithTimeout(5 * time.Second).Should(Equal(monitor.StateWaiting))

		_, notEmpty := monitor.BufferConditions(buf)
		Expect(monitor.InjectSpuriousWake(buf.Monitor(), notEmpty)).To(BeTrue())

		// the woken taker re-checks the predicate and parks again
		time.Sleep(pace)
		Expect(e2.State()).To(Equal(monitor.StateWaiting))
		Expect(buf.Len()).To(BeZero())
		Expect(buf.Monitor().Stats().Waits).To(Equal(uint64(2)))

		s1.Step(PUT)

		s1.Finish()
		s2.Finish()

		await(e1, e2)
		Expect(results.Of("receiver")).To(Equal([]string{
			TAKE.S("receiver"),
			TAKE.R("receiver", "msg-1"),
		}))
	})

	It("rejects non positive capacities", func() {
		_, err := monitor.NewBuffer[string](0)
		var arg *monitor.ArgumentError
		Expect(errors.As(err, &arg)).To(BeTrue())
		Expect(arg.Param).To(Equal("capacity"))

		_, err = monitor.NewBuffer[string](-3)
		Expect(errors.As(err, &arg)).To(BeTrue())
	})

	It("moves every item exactly once under load", func() {
		const producers = 4
		const consumers = 4
		const items = 25

		load, err := monitor.NewBuffer[string](4, "load")
		Expect(err).NotTo(HaveOccurred())

		var lock sync.Mutex
		seen := map[string]int{}
		var produced []monitor.Thread

		for i := 0; i < producers; i++ {
			produced = append(produced, coord.Go(func(t monitor.Thread) {
				for j := 0; j < items; j++ {
					if err := load.Put(t, fmt.Sprintf("%s-%d", t.Name(), j)); err != nil {
						return
					}
				}
			}, monitor.WithName(fmt.Sprintf("prod%d", i))))
		}

		for i := 0; i < consumers; i++ {
			coord.Go(func(t monitor.Thread) {
				for {
					item, err := load.Take(t)
					if err != nil {
						return
					}
					lock.Lock()
					seen[item]++
					lock.Unlock()
				}
			}, monitor.WithName(fmt.Sprintf("cons%d", i)))
		}

		coord.Go(func(t monitor.Thread) {
			for _, p := range produced {
				p.Join(t)
			}
			load.Close(t)
		}, monitor.WithName("closer"))

		waited := make(chan struct{})
		go func() {
			coord.Wait()
			close(waited)
		}()
		Eventually(waited).WithTimeout(30 * time.Second).Should(BeClosed())

		lock.Lock()
		defer lock.Unlock()
		Expect(seen).To(HaveLen(producers * items))
		for item, cnt := range seen {
			Expect(cnt).To(Equal(1), "item %s delivered %d times", item, cnt)
		}
		Expect(load.Len()).To(BeZero())

		st := load.Monitor().Stats()
		Expect(st.Acquires).To(BeNumerically(">=", uint64(2*producers*items)))
		Expect(coord.Stats().Terminated).To(Equal(producers + consumers + 1))
	})
})
