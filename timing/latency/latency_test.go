package latency_test

import (
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/o3sim/insts"
	"github.com/sarchlab/o3sim/timing/latency"
)

var _ = Describe("Table", func() {
	var table *latency.Table

	BeforeEach(func() {
		table = latency.NewTable()
	})

	It("should return per-class completion latencies", func() {
		ld := &insts.DynInst{Class: insts.MemOpLoad}
		st := &insts.DynInst{Class: insts.MemOpStore}
		b := &insts.DynInst{Class: insts.MemOpBarrier}

		Expect(table.CompletionLatency(ld)).To(Equal(uint64(4)))
		Expect(table.CompletionLatency(st)).To(Equal(uint64(1)))
		Expect(table.CompletionLatency(b)).To(Equal(uint64(2)))
	})

	It("should fall back to one cycle for nil instructions", func() {
		Expect(table.CompletionLatency(nil)).To(Equal(uint64(1)))
	})

	It("should honor a custom configuration", func() {
		config := latency.DefaultTimingConfig()
		config.LoadLatency = 7
		table = latency.NewTableWithConfig(config)

		ld := &insts.DynInst{Class: insts.MemOpLoad}
		Expect(table.CompletionLatency(ld)).To(Equal(uint64(7)))
	})
})

var _ = Describe("TimingConfig", func() {
	It("should round-trip through a JSON file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "timing.json")

		config := latency.DefaultTimingConfig()
		config.BarrierLatency = 9
		Expect(config.SaveConfig(path)).To(Succeed())

		loaded, err := latency.LoadConfig(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(loaded.BarrierLatency).To(Equal(uint64(9)))
		Expect(loaded.LoadLatency).To(Equal(config.LoadLatency))
	})

	It("should reject zero latencies", func() {
		config := latency.DefaultTimingConfig()
		config.LoadLatency = 0

		Expect(config.Validate()).To(HaveOccurred())
	})

	It("should fail on a missing file", func() {
		_, err := latency.LoadConfig("does-not-exist.json")
		Expect(err).To(HaveOccurred())
	})
})
