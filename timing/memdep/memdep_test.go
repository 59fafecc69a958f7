package memdep_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/o3sim/insts"
	"github.com/sarchlab/o3sim/timing/memdep"
)

// testCPU satisfies sim.Named for unit binding.
type testCPU struct{}

func (testCPU) Name() string { return "cpu0" }

// recordingIQ records every ready notification, duplicates included, so
// specs can assert on exact signal counts.
type recordingIQ struct {
	ready []*insts.DynInst
}

func (q *recordingIQ) AddReadyMemInst(inst *insts.DynInst) {
	q.ready = append(q.ready, inst)
}

func (q *recordingIQ) seqNums() []uint64 {
	sns := make([]uint64, 0, len(q.ready))
	for _, inst := range q.ready {
		sns = append(sns, inst.SeqNum)
	}
	return sns
}

// recordingHook records hook invocations per position.
type recordingHook struct {
	items map[*sim.HookPos][]interface{}
}

func (h *recordingHook) Func(ctx sim.HookCtx) {
	if h.items == nil {
		h.items = make(map[*sim.HookPos][]interface{})
	}
	h.items[ctx.Pos] = append(h.items[ctx.Pos], ctx.Item)
}

func load(sn, pc uint64, operandsReady bool) *insts.DynInst {
	return &insts.DynInst{
		SeqNum: sn, PC: pc,
		Class:         insts.MemOpLoad,
		OperandsReady: operandsReady,
	}
}

func store(sn, pc uint64, operandsReady bool) *insts.DynInst {
	return &insts.DynInst{
		SeqNum: sn, PC: pc,
		Class:         insts.MemOpStore,
		OperandsReady: operandsReady,
	}
}

func barrier(sn uint64) *insts.DynInst {
	return &insts.DynInst{
		SeqNum: sn, PC: 0,
		Class:         insts.MemOpBarrier,
		OperandsReady: true,
	}
}

var _ = Describe("Unit", func() {
	var (
		u  *memdep.Unit
		rq *recordingIQ
	)

	const (
		storePC = 0x100
		loadPC  = 0x200
	)

	BeforeEach(func() {
		u = &memdep.Unit{}
		u.Init(memdep.DefaultConfig(), 0, testCPU{})
		rq = &recordingIQ{}
		u.SetIQ(rq)
	})

	// trainConflict teaches the predictor that storePC and loadPC form a
	// dependence, as a detected violation would.
	trainConflict := func() {
		u.Violation(store(0, storePC, true), load(0, loadPC, true))
	}

	It("should panic when initialized twice", func() {
		Expect(func() {
			u.Init(memdep.DefaultConfig(), 0, testCPU{})
		}).To(Panic())
	})

	It("should name itself after the owning CPU and thread", func() {
		Expect(u.Name()).To(Equal("cpu0.memDep0"))
	})

	It("should panic when asked about an untracked instruction", func() {
		Expect(func() {
			u.RegsReady(load(99, loadPC, false))
		}).To(Panic())
	})

	Context("with no predicted dependence", func() {
		It("should signal a load ready at insertion when operands are ready",
			func() {
				u.Insert(load(1, loadPC, true))

				Expect(rq.seqNums()).To(Equal([]uint64{1}))
			})

		It("should hold a load until its registers are ready", func() {
			ld := load(1, loadPC, false)
			u.Insert(ld)
			Expect(rq.ready).To(BeEmpty())

			u.RegsReady(ld)
			Expect(rq.seqNums()).To(Equal([]uint64{1}))
		})

		It("should count inserted loads and stores", func() {
			u.Insert(load(1, loadPC, true))
			u.Insert(store(2, storePC, true))

			Expect(u.Stats().InsertedLoads).To(Equal(uint64(1)))
			Expect(u.Stats().InsertedStores).To(Equal(uint64(1)))
			Expect(u.Stats().ConflictingLoads).To(BeZero())
		})
	})

	Context("with a trained store-load dependence", func() {
		BeforeEach(func() {
			trainConflict()
		})

		It("should gate the load behind the in-flight store", func() {
			st := store(1, storePC, true)
			ld := load(2, loadPC, true)

			u.Insert(st)
			u.Insert(ld)

			// Only the store is signaled; the load waits.
			Expect(rq.seqNums()).To(Equal([]uint64{1}))
			Expect(u.Stats().ConflictingLoads).To(Equal(uint64(1)))

			u.CompleteInst(st)
			Expect(rq.seqNums()).To(Equal([]uint64{1, 2}))
		})

		It("should signal exactly once, registers first", func() {
			st := store(1, storePC, true)
			ld := load(2, loadPC, false)
			u.Insert(st)
			u.Insert(ld)
			rq.ready = nil

			u.RegsReady(ld)
			Expect(rq.ready).To(BeEmpty())

			u.CompleteInst(st)
			Expect(rq.seqNums()).To(Equal([]uint64{2}))
		})

		It("should signal exactly once, memory first", func() {
			st := store(1, storePC, true)
			ld := load(2, loadPC, false)
			u.Insert(st)
			u.Insert(ld)
			rq.ready = nil

			u.CompleteInst(st)
			Expect(rq.ready).To(BeEmpty())

			u.RegsReady(ld)
			Expect(rq.seqNums()).To(Equal([]uint64{2}))
		})

		It("should treat a completed producer as zero dependencies", func() {
			st := store(1, storePC, true)
			u.Insert(st)
			u.CompleteInst(st)
			rq.ready = nil

			u.Insert(load(2, loadPC, true))

			Expect(rq.seqNums()).To(Equal([]uint64{2}))
			Expect(u.Stats().ConflictingLoads).To(BeZero())
		})

		It("should stop gating once the producer store issues", func() {
			st := store(1, storePC, true)
			u.Insert(st)
			u.Issue(st)
			rq.ready = nil

			u.Insert(load(2, loadPC, true))

			Expect(rq.seqNums()).To(Equal([]uint64{2}))
		})

		It("should not gate behind a store of another thread", func() {
			st := store(10, storePC, true)
			st.ThreadID = 1
			ld := load(11, loadPC, true)

			u.Insert(st)
			u.Insert(ld)

			// The trained pair only serializes within a thread; the load
			// proceeds even though a matching store of thread 1 is in
			// flight.
			Expect(rq.seqNums()).To(Equal([]uint64{10, 11}))
			Expect(u.Stats().ConflictingLoads).To(BeZero())

			u.Squash(9, 1)
			u.CompleteInst(ld)
			Expect(u.IsDrained()).To(BeTrue())
		})

		It("should not wake a squashed dependent", func() {
			st := store(1, storePC, true)
			ld := load(2, loadPC, true)
			u.Insert(st)
			u.Insert(ld)
			rq.ready = nil

			u.Squash(1, 0)
			u.CompleteInst(st)

			Expect(rq.ready).To(BeEmpty())
		})
	})

	Context("violation training round-trip", func() {
		It("should serialize later dynamic instances of a violating pair",
			func() {
				// First dynamic instances execute unordered; the pipeline
				// detects the violation after the fact.
				u.Violation(store(10, storePC, true), load(11, loadPC, true))

				st := store(100, storePC, true)
				ld := load(101, loadPC, true)
				u.Insert(st)
				u.Insert(ld)

				Expect(rq.seqNums()).To(Equal([]uint64{100}))

				u.CompleteInst(st)
				Expect(rq.seqNums()).To(Equal([]uint64{100, 101}))
			})
	})

	Context("barriers", func() {
		It("should gate a younger load behind an outstanding barrier", func() {
			b := barrier(10)
			ld := load(11, loadPC, true)

			u.InsertBarrier(b)
			u.Insert(ld)

			Expect(rq.seqNums()).To(Equal([]uint64{10}))

			u.CompleteInst(b)
			Expect(rq.seqNums()).To(Equal([]uint64{10, 11}))
		})

		It("should gate a younger store behind an outstanding barrier", func() {
			b := barrier(10)
			st := store(11, storePC, true)

			u.InsertBarrier(b)
			u.Insert(st)
			Expect(rq.seqNums()).To(Equal([]uint64{10}))

			u.CompleteInst(b)
			Expect(rq.seqNums()).To(Equal([]uint64{10, 11}))
		})

		It("should order barriers behind older barriers", func() {
			b1 := barrier(10)
			b2 := barrier(11)

			u.InsertBarrier(b1)
			u.InsertBarrier(b2)
			Expect(rq.seqNums()).To(Equal([]uint64{10}))

			u.CompleteInst(b1)
			Expect(rq.seqNums()).To(Equal([]uint64{10, 11}))
		})

		It("should not count fenced instructions as conflicting", func() {
			u.InsertBarrier(barrier(10))
			u.Insert(load(11, loadPC, true))
			u.Insert(store(12, storePC, true))

			Expect(u.Stats().ConflictingLoads).To(BeZero())
			Expect(u.Stats().ConflictingStores).To(BeZero())
		})

		It("should stop fencing when the barrier is squashed", func() {
			u.InsertBarrier(barrier(10))
			rq.ready = nil

			u.Squash(9, 0)
			u.Insert(load(11, loadPC, true))

			Expect(rq.seqNums()).To(Equal([]uint64{11}))
		})
	})

	Context("non-speculative instructions", func() {
		It("should never auto-promote a non-speculative entry", func() {
			ld := load(1, loadPC, true)
			u.InsertNonSpec(ld)
			Expect(rq.ready).To(BeEmpty())

			u.RegsReady(ld)
			Expect(rq.ready).To(BeEmpty())

			u.NonSpecInstReady(ld)
			Expect(rq.seqNums()).To(Equal([]uint64{1}))
		})

		It("should hold a non-speculative entry across producer completion",
			func() {
				trainConflict()
				st := store(1, storePC, true)
				ld := load(2, loadPC, true)
				u.Insert(st)
				u.InsertNonSpec(ld)
				rq.ready = nil

				u.CompleteInst(st)
				Expect(rq.ready).To(BeEmpty())

				u.NonSpecInstReady(ld)
				Expect(rq.seqNums()).To(Equal([]uint64{2}))
			})
	})

	Context("reschedule and replay", func() {
		It("should re-signal rescheduled instructions in order", func() {
			ld1 := load(1, loadPC, true)
			ld2 := load(2, loadPC+4, true)
			u.Insert(ld1)
			u.Insert(ld2)
			rq.ready = nil

			u.Reschedule(ld1)
			u.Reschedule(ld2)
			Expect(rq.ready).To(BeEmpty())

			u.Replay()
			Expect(rq.seqNums()).To(Equal([]uint64{1, 2}))

			// The queue is emptied by Replay.
			u.Replay()
			Expect(rq.seqNums()).To(Equal([]uint64{1, 2}))
		})

		It("should drop squashed instructions from the replay queue", func() {
			ld := load(5, loadPC, true)
			u.Insert(ld)
			u.Reschedule(ld)
			rq.ready = nil

			u.Squash(4, 0)
			u.Replay()

			Expect(rq.ready).To(BeEmpty())
		})
	})

	Context("squash", func() {
		It("should discard everything younger than the squash point", func() {
			for sn := uint64(1); sn <= 5; sn++ {
				u.Insert(load(sn, loadPC+4*sn, false))
			}

			u.Squash(3, 0)

			// Sequence 3 and below remain trackable.
			u.RegsReady(load(3, loadPC+12, false))
			Expect(func() { u.CompleteInst(load(3, loadPC+12, false)) }).
				NotTo(Panic())

			// Sequences 4 and 5 are gone.
			Expect(func() { u.RegsReady(load(4, loadPC+16, false)) }).
				To(Panic())
			Expect(func() { u.RegsReady(load(5, loadPC+20, false)) }).
				To(Panic())
		})

		It("should ignore completion of a squashed instruction", func() {
			ld := load(5, loadPC, true)
			u.Insert(ld)
			rq.ready = nil

			u.Squash(4, 0)

			// The pipeline may still deliver the completion after the
			// flush; the unit must drop it, not panic on the erased entry.
			Expect(func() { u.CompleteInst(ld) }).NotTo(Panic())
			Expect(rq.ready).To(BeEmpty())
			Expect(u.IsDrained()).To(BeTrue())
		})

		It("should leave other threads untouched", func() {
			other := load(7, loadPC, false)
			other.ThreadID = 1
			u.Insert(other)
			u.Insert(load(8, loadPC+4, false))

			u.Squash(0, 0)

			Expect(func() { u.RegsReady(other) }).NotTo(Panic())
		})
	})

	Context("drain", func() {
		It("should report drained only when nothing is tracked", func() {
			Expect(u.IsDrained()).To(BeTrue())

			ld := load(1, loadPC, true)
			u.Insert(ld)
			Expect(u.IsDrained()).To(BeFalse())

			u.CompleteInst(ld)
			Expect(u.IsDrained()).To(BeTrue())
			Expect(u.DrainSanityCheck).NotTo(Panic())
		})

		It("should drain after squashing down to the oldest instruction",
			func() {
				st := store(1, storePC, true)
				u.Insert(st)
				u.InsertBarrier(barrier(2))
				u.Insert(load(3, loadPC, false))

				u.Squash(1, 0)
				Expect(u.IsDrained()).To(BeFalse())

				u.CompleteInst(st)
				Expect(u.IsDrained()).To(BeTrue())
				Expect(u.DrainSanityCheck).NotTo(Panic())
			})

		It("should fail the sanity check while instructions remain", func() {
			u.Insert(load(1, loadPC, false))

			Expect(u.IsDrained()).To(BeFalse())
			Expect(u.DrainSanityCheck).To(Panic())
		})
	})

	Context("thread context takeover", func() {
		It("should forget trained dependences", func() {
			trainConflict()
			u.TakeOverFrom()

			u.Insert(store(1, storePC, true))
			u.Insert(load(2, loadPC, true))

			Expect(rq.seqNums()).To(Equal([]uint64{1, 2}))
			Expect(u.Stats().ConflictingLoads).To(BeZero())
		})
	})

	Context("hooks", func() {
		It("should fire ready and squash hooks", func() {
			hook := &recordingHook{}
			u.AcceptHook(hook)

			ld := load(1, loadPC, true)
			u.Insert(ld)
			u.Insert(load(2, loadPC+4, false))
			u.Squash(1, 0)

			Expect(hook.items[memdep.HookPosInstReady]).To(HaveLen(1))
			Expect(hook.items[memdep.HookPosInstReady][0]).
				To(BeIdenticalTo(ld))
			Expect(hook.items[memdep.HookPosInstSquashed]).To(HaveLen(1))
		})
	})

	Context("diagnostics", func() {
		It("should dump tracked instructions and the replay queue", func() {
			ld := load(1, loadPC, true)
			u.Insert(ld)
			u.Reschedule(ld)

			dump := u.DumpLists()

			Expect(dump).To(ContainSubstring("thread 0"))
			Expect(dump).To(ContainSubstring("[sn:1"))
			Expect(dump).To(ContainSubstring("replay queue"))
		})
	})

	Context("issue bookkeeping", func() {
		It("should count issued loads and stores", func() {
			ld := load(1, loadPC, true)
			st := store(2, storePC, true)
			u.Insert(ld)
			u.Insert(st)

			u.Issue(ld)
			u.Issue(st)

			Expect(u.Stats().IssuedLoads).To(Equal(uint64(1)))
			Expect(u.Stats().IssuedStores).To(Equal(uint64(1)))
		})
	})
})
