// Package insts provides the dynamic instruction model shared by the
// timing components.
//
// A DynInst is one in-flight dynamic instance of a memory instruction.
// It carries the identity the scheduling core needs (sequence number,
// hardware thread, PC, operation class); execution semantics live in the
// pipeline stages that produce and consume these handles.
package insts

import "fmt"

// MemOpClass classifies a dynamic memory instruction.
type MemOpClass int

const (
	// MemOpLoad is a load instruction.
	MemOpLoad MemOpClass = iota
	// MemOpStore is a store instruction.
	MemOpStore
	// MemOpBarrier is a full memory fence. It orders all later loads and
	// stores behind itself.
	MemOpBarrier
)

// String returns a short name for the class.
func (c MemOpClass) String() string {
	switch c {
	case MemOpLoad:
		return "load"
	case MemOpStore:
		return "store"
	case MemOpBarrier:
		return "barrier"
	default:
		return fmt.Sprintf("MemOpClass(%d)", int(c))
	}
}

// DynInst is one in-flight dynamic memory instruction.
type DynInst struct {
	// SeqNum is the global fetch sequence number. It is unique across all
	// in-flight instructions and monotonically increasing in fetch order.
	SeqNum uint64
	// ThreadID identifies the hardware thread context the instruction
	// belongs to.
	ThreadID int
	// PC is the address of the static instruction. The dependence
	// predictor indexes its tables by PC.
	PC uint64
	// Class is the memory operation class.
	Class MemOpClass
	// OperandsReady is true when the instruction enters the scheduler
	// with all register operands already available. Instructions with
	// outstanding register dependencies are signaled later through the
	// scheduler's RegsReady path.
	OperandsReady bool
	// Squashed is set when the instruction is discarded by a pipeline
	// flush. Late notifications for a squashed instruction are ignored.
	Squashed bool
}

// IsLoad returns true for load instructions.
func (i *DynInst) IsLoad() bool { return i.Class == MemOpLoad }

// IsStore returns true for store instructions.
func (i *DynInst) IsStore() bool { return i.Class == MemOpStore }

// IsBarrier returns true for memory barrier instructions.
func (i *DynInst) IsBarrier() bool { return i.Class == MemOpBarrier }

// String formats the instruction for diagnostic dumps.
func (i *DynInst) String() string {
	return fmt.Sprintf("[sn:%d tid:%d pc:%#x %s]",
		i.SeqNum, i.ThreadID, i.PC, i.Class)
}
