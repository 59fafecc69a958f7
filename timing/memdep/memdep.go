// Package memdep implements the memory dependence unit of an
// out-of-order core model.
//
// Every in-flight load, store, and barrier passes through this unit,
// which decides when it becomes eligible to issue. Eligibility combines
// register-operand readiness (signaled by the pipeline) with predicted
// memory ordering: a store-set predictor names the in-flight store a
// load is expected to depend on, and the unit serializes the pair by
// making the load a dependent of that store. Barriers gate all younger
// memory operations. The unit notifies the issue queue the moment an
// instruction has no remaining register or memory dependencies.
package memdep

import (
	"container/list"
	"fmt"
	"sort"
	"strings"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/o3sim/insts"
	"github.com/sarchlab/o3sim/timing/storeset"
)

// HookPosInstReady is triggered when an instruction is declared ready to
// issue. The hook item is the *insts.DynInst.
var HookPosInstReady = &sim.HookPos{Name: "MemDep Inst Ready"}

// HookPosInstSquashed is triggered when a tracked instruction is
// squashed. The hook item is the *insts.DynInst.
var HookPosInstSquashed = &sim.HookPos{Name: "MemDep Inst Squashed"}

// IssueQueue is the issue-scheduler boundary. The unit pushes ready
// notifications through it and never calls back in any other way.
// Signaling an already-ready instruction again must be safe; the issue
// queue absorbs duplicates.
type IssueQueue interface {
	AddReadyMemInst(inst *insts.DynInst)
}

// DepPredictor is the boundary to the memory dependence predictor. The
// unit consults it on every speculative insertion and trains it on
// detected ordering violations.
type DepPredictor interface {
	PredictProducer(pc uint64, tid int) (producer uint64, ok bool)
	InsertLoad(pc, seqNum uint64)
	InsertStore(pc, seqNum uint64, tid int)
	Issued(pc, seqNum uint64, isStore bool)
	TrainViolation(storePC, loadPC uint64)
	Squash(squashedSeqNum uint64, tid int)
	Clear()
}

// Config holds the unit parameters.
type Config struct {
	// StoreSet configures the embedded store-set dependence predictor.
	StoreSet storeset.Config `json:"store_set"`
}

// DefaultConfig returns the default unit configuration.
func DefaultConfig() Config {
	return Config{
		StoreSet: storeset.DefaultConfig(),
	}
}

// Unit is the memory dependence unit for one hardware thread.
//
// The zero value is not usable; call Init before any other operation.
type Unit struct {
	sim.HookableBase

	name   string
	id     int
	inited bool

	// entries maps sequence numbers to live dependence entries.
	entries map[uint64]*depEntry

	// instLists holds the per-thread program-order lists of tracked
	// instructions, created per thread on first insertion.
	instLists map[int]*list.List

	// instsToReplay holds instructions that were ready but failed to
	// dispatch and must be re-signaled by Replay.
	instsToReplay []*insts.DynInst

	loadBarrierSNs  map[uint64]bool
	storeBarrierSNs map[uint64]bool

	depPred DepPredictor

	iq IssueQueue

	stats Stats
}

// Init binds the unit to a thread and a named owner (the core model) and
// builds the embedded predictor. It panics when called twice.
func (u *Unit) Init(config Config, tid int, cpu sim.Named) {
	if u.inited {
		panic(fmt.Sprintf("%s: Init called twice", u.name))
	}
	u.inited = true

	u.name = fmt.Sprintf("%s.memDep%d", cpu.Name(), tid)
	u.id = tid
	u.entries = make(map[uint64]*depEntry)
	u.instLists = make(map[int]*list.List)
	u.loadBarrierSNs = make(map[uint64]bool)
	u.storeBarrierSNs = make(map[uint64]bool)
	u.depPred = storeset.New(config.StoreSet)
}

// Name returns the name of the unit.
func (u *Unit) Name() string {
	return u.name
}

// SetIQ wires the issue queue the unit signals readiness to.
func (u *Unit) SetIQ(iq IssueQueue) {
	u.iq = iq
}

// Insert tracks a speculative load or store. The instruction becomes a
// dependent of its predicted producer store, if that store is still in
// flight, and of every outstanding barrier that fences its direction. If
// nothing gates it and its registers are ready, it is immediately
// signaled to the issue queue.
func (u *Unit) Insert(inst *insts.DynInst) {
	entry := u.insertEntry(inst)

	if inst.IsLoad() {
		u.stats.InsertedLoads++
	} else {
		u.stats.InsertedStores++
	}

	// Only instructions gated by a predicted producer store count as
	// conflicting; barrier-gated instructions do not.
	producerSN, ok := u.depPred.PredictProducer(inst.PC, inst.ThreadID)
	if ok && producerSN < inst.SeqNum &&
		u.registerProducer(entry, producerSN) {
		if inst.IsLoad() {
			u.stats.ConflictingLoads++
		} else {
			u.stats.ConflictingStores++
		}
	}

	var barriers map[uint64]bool
	if inst.IsLoad() && u.hasLoadBarrier() {
		barriers = u.loadBarrierSNs
	} else if inst.IsStore() && u.hasStoreBarrier() {
		barriers = u.storeBarrierSNs
	}
	for barrierSN := range barriers {
		if barrierSN < inst.SeqNum {
			u.registerProducer(entry, barrierSN)
		}
	}

	u.trackInPredictor(inst)

	if entry.memDeps == 0 && entry.regsReady {
		u.moveToReady(entry)
	}
}

// registerProducer makes entry a dependent of the tracked instruction at
// producerSN. It reports whether the edge was acquired; a producer that
// already completed leaves nothing to wait for.
func (u *Unit) registerProducer(entry *depEntry, producerSN uint64) bool {
	producerEntry, ok := u.entries[producerSN]
	if !ok || producerEntry.completed {
		return false
	}

	producerEntry.dependents = append(producerEntry.dependents, entry)
	entry.memDeps++
	return true
}

// trackInPredictor keeps the predictor's in-flight store tracking
// current.
func (u *Unit) trackInPredictor(inst *insts.DynInst) {
	if inst.IsStore() {
		u.depPred.InsertStore(inst.PC, inst.SeqNum, inst.ThreadID)
	} else if inst.IsLoad() {
		u.depPred.InsertLoad(inst.PC, inst.SeqNum)
	}
}

// InsertNonSpec tracks an instruction whose readiness is driven
// externally, such as an uncacheable access that must not execute
// speculatively. The entry is never auto-promoted by dependency
// resolution; only NonSpecInstReady releases it.
func (u *Unit) InsertNonSpec(inst *insts.DynInst) {
	entry := u.insertEntry(inst)
	entry.nonSpec = true

	if inst.IsLoad() {
		u.stats.InsertedLoads++
	} else {
		u.stats.InsertedStores++
	}

	// The predictor still sees the instruction, so its in-flight store
	// state stays coherent with the pipeline.
	u.trackInPredictor(inst)
}

// InsertBarrier tracks a full memory fence. The barrier waits on every
// older outstanding barrier, and once recorded it fences all younger
// loads and stores until it completes or is squashed.
func (u *Unit) InsertBarrier(barrier *insts.DynInst) {
	entry := u.insertEntry(barrier)

	for barrierSN := range u.loadBarrierSNs {
		if barrierSN < barrier.SeqNum {
			u.registerProducer(entry, barrierSN)
		}
	}

	u.insertBarrierSN(barrier)

	if entry.memDeps == 0 && entry.regsReady {
		u.moveToReady(entry)
	}
}

// RegsReady marks the instruction's register operands as available. If
// no memory dependency remains, the instruction is signaled ready.
func (u *Unit) RegsReady(inst *insts.DynInst) {
	entry := u.findEntry(inst.SeqNum)
	entry.regsReady = true

	if entry.memDeps == 0 && !entry.nonSpec {
		u.moveToReady(entry)
	}
}

// NonSpecInstReady releases a non-speculatively tracked instruction.
// This is the only path that readies an entry inserted through
// InsertNonSpec.
func (u *Unit) NonSpecInstReady(inst *insts.DynInst) {
	entry := u.findEntry(inst.SeqNum)
	entry.regsReady = true
	u.moveToReady(entry)
}

// Reschedule defers an instruction that was declared ready but could not
// dispatch this cycle. Replay re-signals it later.
func (u *Unit) Reschedule(inst *insts.DynInst) {
	u.instsToReplay = append(u.instsToReplay, inst)
}

// Replay re-signals readiness for every rescheduled instruction, in
// reschedule order, and empties the replay queue.
func (u *Unit) Replay() {
	for _, inst := range u.instsToReplay {
		u.moveToReady(u.findEntry(inst.SeqNum))
	}
	u.instsToReplay = u.instsToReplay[:0]
}

// CompleteInst retires an instruction from dependence tracking and wakes
// its dependents. Each dependent loses one pending memory dependency; a
// dependent left with none whose registers are ready is signaled to the
// issue queue. A completed barrier stops fencing. Completion of an
// instruction the unit already squashed is ignored; its entry left
// tracking with the flush.
func (u *Unit) CompleteInst(inst *insts.DynInst) {
	if inst.Squashed {
		return
	}

	if inst.IsBarrier() {
		u.eraseBarrierSN(inst)
	}

	entry := u.findEntry(inst.SeqNum)
	entry.completed = true
	u.eraseEntry(entry)

	u.wakeDependents(entry)
}

// wakeDependents resolves one producer dependency on every dependent of
// a finished entry. Squashed dependents are orphaned handles and are
// only discarded, never woken.
func (u *Unit) wakeDependents(entry *depEntry) {
	for _, dependent := range entry.dependents {
		if dependent.squashed || dependent.completed {
			continue
		}

		dependent.memDeps--
		if dependent.memDeps < 0 {
			panic(fmt.Sprintf(
				"%s: negative memory dependency count on %s",
				u.name, dependent.inst))
		}

		if dependent.memDeps == 0 && dependent.regsReady &&
			!dependent.nonSpec {
			u.moveToReady(dependent)
		}
	}
	entry.dependents = nil
}

// moveToReady signals the issue queue that an instruction has no
// remaining dependency. Entries that already left tracking are not
// signaled.
func (u *Unit) moveToReady(entry *depEntry) {
	if entry.squashed || entry.completed {
		return
	}

	u.InvokeHook(sim.HookCtx{
		Domain: u,
		Pos:    HookPosInstReady,
		Item:   entry.inst,
	})

	if u.iq != nil {
		u.iq.AddReadyMemInst(entry.inst)
	}
}

// Squash discards every tracked instruction of the thread younger than
// squashedSeqNum, walking the program-order list youngest-first. The
// squashed entries leave the sequence-number map, the barrier sets, and
// the replay queue; producers that still list them as dependents simply
// discard them on wake.
func (u *Unit) Squash(squashedSeqNum uint64, tid int) {
	kept := u.instsToReplay[:0]
	for _, inst := range u.instsToReplay {
		if inst.ThreadID == tid && inst.SeqNum > squashedSeqNum {
			continue
		}
		kept = append(kept, inst)
	}
	u.instsToReplay = kept

	l, ok := u.instLists[tid]
	if ok {
		for elem := l.Back(); elem != nil; {
			inst := elem.Value.(*insts.DynInst)
			if inst.SeqNum <= squashedSeqNum {
				break
			}
			prev := elem.Prev()

			entry := u.findEntry(inst.SeqNum)
			entry.squashed = true
			inst.Squashed = true
			if inst.IsBarrier() {
				u.eraseBarrierSN(inst)
			}
			l.Remove(elem)
			delete(u.entries, inst.SeqNum)

			u.InvokeHook(sim.HookCtx{
				Domain: u,
				Pos:    HookPosInstSquashed,
				Item:   inst,
			})

			elem = prev
		}
	}

	u.depPred.Squash(squashedSeqNum, tid)
}

// Violation reports a detected memory ordering violation between a store
// and a younger load that executed too early. The pair trains the
// predictor; the squash and re-execution of the load are driven
// separately by the pipeline.
func (u *Unit) Violation(store, violatingLoad *insts.DynInst) {
	u.depPred.TrainViolation(store.PC, violatingLoad.PC)
}

// Issue records that an already-ready instruction was dispatched. It
// updates statistics and the predictor's in-flight store tracking and
// has no scheduling effect.
func (u *Unit) Issue(inst *insts.DynInst) {
	if inst.IsLoad() {
		u.stats.IssuedLoads++
	} else if inst.IsStore() {
		u.stats.IssuedStores++
	}

	u.depPred.Issued(inst.PC, inst.SeqNum, inst.IsStore())
}

// IsDrained reports whether the unit tracks nothing: no entries, empty
// program-order lists, an empty replay queue, and no outstanding
// barriers.
func (u *Unit) IsDrained() bool {
	if len(u.entries) > 0 || len(u.instsToReplay) > 0 {
		return false
	}
	if len(u.loadBarrierSNs) > 0 || len(u.storeBarrierSNs) > 0 {
		return false
	}
	for _, l := range u.instLists {
		if l.Len() > 0 {
			return false
		}
	}
	return true
}

// DrainSanityCheck panics if any tracking structure is non-empty at
// drain time. A leftover entry means the pipeline flushed an instruction
// this unit still tracks, which is a bookkeeping bug.
func (u *Unit) DrainSanityCheck() {
	for tid, l := range u.instLists {
		if l.Len() > 0 {
			panic(fmt.Sprintf(
				"%s: drain with %d instructions on thread %d list",
				u.name, l.Len(), tid))
		}
	}
	if len(u.entries) > 0 {
		panic(fmt.Sprintf(
			"%s: drain with %d dependence entries", u.name, len(u.entries)))
	}
	if len(u.instsToReplay) > 0 {
		panic(fmt.Sprintf(
			"%s: drain with %d instructions to replay",
			u.name, len(u.instsToReplay)))
	}
	if len(u.loadBarrierSNs) > 0 || len(u.storeBarrierSNs) > 0 {
		panic(fmt.Sprintf(
			"%s: drain with outstanding barriers (%d load, %d store)",
			u.name, len(u.loadBarrierSNs), len(u.storeBarrierSNs)))
	}
}

// TakeOverFrom prepares the unit to serve a migrated thread context. The
// predictor state of the previous context does not transfer.
func (u *Unit) TakeOverFrom() {
	u.depPred.Clear()
}

// DumpLists renders a human-readable snapshot of every tracked
// instruction, per thread in program order, plus the replay queue.
func (u *Unit) DumpLists() string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s tracked instructions:\n", u.name)

	tids := make([]int, 0, len(u.instLists))
	for tid := range u.instLists {
		tids = append(tids, tid)
	}
	sort.Ints(tids)

	for _, tid := range tids {
		fmt.Fprintf(&b, "  thread %d:\n", tid)
		for elem := u.instLists[tid].Front(); elem != nil; elem = elem.Next() {
			inst := elem.Value.(*insts.DynInst)
			entry := u.findEntry(inst.SeqNum)
			fmt.Fprintf(&b, "    %s regsReady:%t memDeps:%d\n",
				inst, entry.regsReady, entry.memDeps)
		}
	}

	fmt.Fprintf(&b, "  replay queue:\n")
	for _, inst := range u.instsToReplay {
		fmt.Fprintf(&b, "    %s\n", inst)
	}

	return b.String()
}
