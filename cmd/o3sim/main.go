// Package main provides the entry point for o3sim.
// o3sim models the memory dependence scheduling of an out-of-order core:
// it runs a synthetic load/store stream through the dependence unit,
// injects ordering violations, and reports how prediction converges.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"

	"github.com/sarchlab/akita/v4/datarecording"

	"github.com/sarchlab/o3sim/insts"
	"github.com/sarchlab/o3sim/timing/iq"
	"github.com/sarchlab/o3sim/timing/latency"
	"github.com/sarchlab/o3sim/timing/memdep"
)

var (
	numInsts   = flag.Uint64("n", 10000, "Number of memory instructions to simulate")
	seed       = flag.Int64("seed", 1, "Random seed for the synthetic stream")
	configPath = flag.String("config", "", "Path to timing configuration JSON file")
	statsDB    = flag.String("stats-db", "", "Record stats to this SQLite database")
	verbose    = flag.Bool("v", false, "Verbose output")
)

func main() {
	flag.Parse()

	timingConfig := latency.DefaultTimingConfig()
	if *configPath != "" {
		loaded, err := latency.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading timing config: %v\n", err)
			os.Exit(1)
		}
		if err := loaded.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "Invalid timing config: %v\n", err)
			os.Exit(1)
		}
		timingConfig = loaded
	}

	d := newDriver(timingConfig, *seed)
	d.run(*numInsts)

	d.unit.DrainSanityCheck()
	d.report()

	if *statsDB != "" {
		recorder := datarecording.NewDataRecorder(*statsDB)
		memdep.CreateStatsTable(recorder)
		d.unit.RecordStats(recorder)
		recorder.Flush()
	}
}

// model implements sim.Named so the dependence unit can bind to it.
type model struct{}

func (model) Name() string { return "o3core" }

// pendingEvent is a scheduled per-instruction event: a register-ready,
// non-speculative-ready, or completion notification due at a cycle.
type pendingEvent struct {
	cycle uint64
	inst  *insts.DynInst
	kind  eventKind
}

type eventKind int

const (
	evRegsReady eventKind = iota
	evNonSpecReady
	evComplete
)

// inflightStore tracks an aliasing candidate for violation injection.
type inflightStore struct {
	inst   *insts.DynInst
	addr   uint64
	issued bool
}

// driver pushes a synthetic memory instruction stream through the
// dependence unit cycle by cycle.
type driver struct {
	unit    *memdep.Unit
	ready   *iq.ReadyQueue
	lat     *latency.Table
	rng     *rand.Rand
	nextSN  uint64
	cycle   uint64
	events  []pendingEvent
	stores  []inflightStore
	addrOf  map[uint64]uint64
	nonSpec map[uint64]bool

	violations uint64
	squashes   uint64
}

func newDriver(config *latency.TimingConfig, seed int64) *driver {
	d := &driver{
		unit:    &memdep.Unit{},
		ready:   iq.NewReadyQueue(),
		lat:     latency.NewTableWithConfig(config),
		rng:     rand.New(rand.NewSource(seed)),
		nextSN:  1,
		addrOf:  make(map[uint64]uint64),
		nonSpec: make(map[uint64]bool),
	}

	d.unit.Init(memdep.DefaultConfig(), 0, model{})
	d.unit.SetIQ(d.ready)

	return d
}

// run simulates until n instructions have been fetched and everything in
// flight has drained.
func (d *driver) run(n uint64) {
	for d.nextSN <= n || !d.unit.IsDrained() {
		if d.nextSN <= n {
			d.fetch()
			if d.nextSN <= n && d.rng.Intn(2) == 0 {
				d.fetch()
			}
		}

		d.issueReady()
		d.processEvents()
		d.unit.Replay()

		d.cycle++
	}
}

// fetch synthesizes the next instruction and inserts it into the unit.
// A small pool of PCs and addresses guarantees recurring aliasing pairs,
// so the predictor has something to learn.
func (d *driver) fetch() {
	sn := d.nextSN
	d.nextSN++

	r := d.rng.Intn(100)
	switch {
	case r < 4:
		barrier := &insts.DynInst{
			SeqNum: sn, Class: insts.MemOpBarrier, OperandsReady: true,
		}
		d.unit.InsertBarrier(barrier)
		return
	case r < 52:
		d.fetchAccess(sn, insts.MemOpStore)
	default:
		d.fetchAccess(sn, insts.MemOpLoad)
	}
}

func (d *driver) fetchAccess(sn uint64, class insts.MemOpClass) {
	pc := 0x1000 + uint64(d.rng.Intn(8))*4
	addr := 0x8000 + uint64(d.rng.Intn(4))*8
	operandsReady := d.rng.Intn(100) < 70

	inst := &insts.DynInst{
		SeqNum: sn, PC: pc, Class: class, OperandsReady: operandsReady,
	}
	d.addrOf[sn] = addr

	if class == insts.MemOpLoad && d.rng.Intn(100) < 5 {
		// Uncacheable access: readiness is driven externally.
		d.nonSpec[sn] = true
		d.unit.InsertNonSpec(inst)
		d.scheduleAfter(inst, evNonSpecReady, 6)
	} else {
		d.unit.Insert(inst)
		if !operandsReady {
			d.scheduleAfter(inst, evRegsReady,
				uint64(1+d.rng.Intn(4)))
		}
	}

	if class == insts.MemOpStore {
		d.stores = append(d.stores, inflightStore{inst: inst, addr: addr})
	}
}

// issueReady dispatches up to two ready instructions per cycle. A load
// that issues past an older, not-yet-issued store to the same address is
// an ordering violation: the predictor is trained and the pipeline
// squashes back to just before the load.
func (d *driver) issueReady() {
	for slots := 0; slots < 2; slots++ {
		inst := d.ready.Pop()
		if inst == nil {
			return
		}

		// Occasional structural conflict: the instruction loses its
		// issue slot and goes through the replay queue instead.
		if d.rng.Intn(100) < 3 {
			d.unit.Reschedule(inst)
			continue
		}

		if inst.IsLoad() && !d.nonSpec[inst.SeqNum] {
			if st := d.olderConflictingStore(inst); st != nil {
				d.handleViolation(st, inst)
				continue
			}
		}

		d.unit.Issue(inst)
		if st := d.findStore(inst.SeqNum); st != nil {
			st.issued = true
		}
		d.scheduleAfter(inst, evComplete, d.lat.CompletionLatency(inst))
	}
}

func (d *driver) olderConflictingStore(ld *insts.DynInst) *insts.DynInst {
	addr := d.addrOf[ld.SeqNum]
	for i := range d.stores {
		st := &d.stores[i]
		if st.inst.SeqNum < ld.SeqNum && st.addr == addr && !st.issued {
			return st.inst
		}
	}
	return nil
}

func (d *driver) findStore(sn uint64) *inflightStore {
	for i := range d.stores {
		if d.stores[i].inst.SeqNum == sn {
			return &d.stores[i]
		}
	}
	return nil
}

// handleViolation trains the predictor and rolls the pipeline back to
// just before the violating load. Every scheduled event and in-flight
// record above the squash point is dropped with it.
func (d *driver) handleViolation(store, ld *insts.DynInst) {
	d.violations++
	d.squashes++

	d.unit.Violation(store, ld)

	squashSN := ld.SeqNum - 1
	d.unit.Squash(squashSN, 0)
	d.ready.Squash(squashSN, 0)

	kept := d.events[:0]
	for _, ev := range d.events {
		if ev.inst.SeqNum > squashSN {
			delete(d.addrOf, ev.inst.SeqNum)
			delete(d.nonSpec, ev.inst.SeqNum)
			continue
		}
		kept = append(kept, ev)
	}
	d.events = kept

	keptStores := d.stores[:0]
	for _, st := range d.stores {
		if st.inst.SeqNum > squashSN {
			continue
		}
		keptStores = append(keptStores, st)
	}
	d.stores = keptStores

	// The front end refills after the squash penalty; modeled as dead
	// cycles by skipping the clock forward.
	d.cycle += d.lat.SquashPenalty()
}

func (d *driver) scheduleAfter(inst *insts.DynInst, kind eventKind,
	delay uint64) {
	d.events = append(d.events, pendingEvent{
		cycle: d.cycle + delay,
		inst:  inst,
		kind:  kind,
	})
}

func (d *driver) processEvents() {
	kept := d.events[:0]
	for _, ev := range d.events {
		if ev.cycle > d.cycle {
			kept = append(kept, ev)
			continue
		}

		switch ev.kind {
		case evRegsReady:
			d.unit.RegsReady(ev.inst)
		case evNonSpecReady:
			d.unit.NonSpecInstReady(ev.inst)
		case evComplete:
			d.complete(ev.inst)
		}
	}
	d.events = kept
}

func (d *driver) complete(inst *insts.DynInst) {
	d.unit.CompleteInst(inst)

	if inst.IsStore() {
		kept := d.stores[:0]
		for _, st := range d.stores {
			if st.inst.SeqNum != inst.SeqNum {
				kept = append(kept, st)
			}
		}
		d.stores = kept
	}
	delete(d.addrOf, inst.SeqNum)
	delete(d.nonSpec, inst.SeqNum)
}

func (d *driver) report() {
	stats := d.unit.Stats()

	fmt.Printf("Cycles:             %d\n", d.cycle)
	fmt.Printf("Inserted loads:     %d\n", stats.InsertedLoads)
	fmt.Printf("Inserted stores:    %d\n", stats.InsertedStores)
	fmt.Printf("Conflicting loads:  %d\n", stats.ConflictingLoads)
	fmt.Printf("Conflicting stores: %d\n", stats.ConflictingStores)
	fmt.Printf("Issued loads:       %d\n", stats.IssuedLoads)
	fmt.Printf("Issued stores:      %d\n", stats.IssuedStores)
	fmt.Printf("Violations:         %d\n", d.violations)
	fmt.Printf("Squashes:           %d\n", d.squashes)

	if *verbose {
		fmt.Println()
		fmt.Print(d.unit.DumpLists())
	}
}
