// Package latency provides completion timing for memory instructions in
// the cycle-stepped model. The driver uses it to decide how many cycles
// after issue an instruction reports completion to the dependence unit.
package latency

import (
	"github.com/sarchlab/o3sim/insts"
)

// Table provides completion latency lookups per memory operation class.
type Table struct {
	config *TimingConfig
}

// NewTable creates a latency table with default timing values.
func NewTable() *Table {
	return &Table{
		config: DefaultTimingConfig(),
	}
}

// NewTableWithConfig creates a latency table with custom timing values.
func NewTableWithConfig(config *TimingConfig) *Table {
	return &Table{
		config: config,
	}
}

// CompletionLatency returns the number of cycles between an instruction
// issuing and its completion being reported.
func (t *Table) CompletionLatency(inst *insts.DynInst) uint64 {
	if inst == nil {
		return 1
	}

	switch inst.Class {
	case insts.MemOpLoad:
		return t.config.LoadLatency
	case insts.MemOpStore:
		return t.config.StoreLatency
	case insts.MemOpBarrier:
		return t.config.BarrierLatency
	default:
		return 1
	}
}

// SquashPenalty returns the front-end refill penalty after a squash.
func (t *Table) SquashPenalty() uint64 {
	return t.config.SquashPenalty
}
