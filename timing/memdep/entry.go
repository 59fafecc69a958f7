package memdep

import (
	"container/list"
	"fmt"

	"github.com/sarchlab/o3sim/insts"
)

// depEntry is the bookkeeping record for one tracked memory instruction.
// An entry is shared between the sequence-number map, its thread's
// program-order list, and the dependents slice of every producer it
// waits on.
type depEntry struct {
	inst *insts.DynInst

	// listElem is the entry's slot in its thread's program-order list,
	// kept for O(1) removal.
	listElem *list.Element

	// dependents are the entries waiting on this instruction as their
	// memory producer, in registration order.
	dependents []*depEntry

	// regsReady is set once the register operands are available.
	regsReady bool
	// memDeps counts unresolved producer dependencies. The entry is
	// memory-ready when it reaches zero. It must never go negative.
	memDeps int

	// nonSpec marks entries that only NonSpecInstReady may release.
	nonSpec bool

	completed bool
	squashed  bool
}

// findEntry looks up the entry for a sequence number. A miss is a
// bookkeeping bug in this unit, not a modeled hardware condition, so it
// halts the simulation.
func (u *Unit) findEntry(seqNum uint64) *depEntry {
	entry, ok := u.entries[seqNum]
	if !ok {
		panic(fmt.Sprintf(
			"%s: no dependence entry for [sn:%d]", u.name, seqNum))
	}
	return entry
}

// insertEntry creates the entry for a newly tracked instruction and
// threads it into the sequence-number map and its thread's program-order
// list. The list for a thread is created on first use.
func (u *Unit) insertEntry(inst *insts.DynInst) *depEntry {
	entry := &depEntry{
		inst:      inst,
		regsReady: inst.OperandsReady,
	}

	l, ok := u.instLists[inst.ThreadID]
	if !ok {
		l = list.New()
		u.instLists[inst.ThreadID] = l
	}
	entry.listElem = l.PushBack(inst)

	u.entries[inst.SeqNum] = entry

	return entry
}

// eraseEntry removes the entry from the sequence-number map and its
// thread's program-order list. Dependents that still point at the entry
// keep it alive until they resolve.
func (u *Unit) eraseEntry(entry *depEntry) {
	u.instLists[entry.inst.ThreadID].Remove(entry.listElem)
	delete(u.entries, entry.inst.SeqNum)
}

// hasLoadBarrier reports whether an outstanding barrier fences loads.
func (u *Unit) hasLoadBarrier() bool {
	return len(u.loadBarrierSNs) > 0
}

// hasStoreBarrier reports whether an outstanding barrier fences stores.
func (u *Unit) hasStoreBarrier() bool {
	return len(u.storeBarrierSNs) > 0
}

// insertBarrierSN records a barrier in both barrier sets. A full fence
// gates both later loads and later stores.
func (u *Unit) insertBarrierSN(barrier *insts.DynInst) {
	u.loadBarrierSNs[barrier.SeqNum] = true
	u.storeBarrierSNs[barrier.SeqNum] = true
}

// eraseBarrierSN drops a barrier from both barrier sets, on its
// completion or squash.
func (u *Unit) eraseBarrierSN(barrier *insts.DynInst) {
	delete(u.loadBarrierSNs, barrier.SeqNum)
	delete(u.storeBarrierSNs, barrier.SeqNum)
}
