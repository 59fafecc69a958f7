// Package storeset implements a store-set memory dependence predictor.
//
// The predictor learns, from observed ordering violations, which static
// loads depend on which static stores. Static instructions that were
// caught conflicting are merged into a common store set. When a load from
// a known set is inserted while a store of the same set is still in
// flight, the predictor names that store as the load's producer, so the
// scheduler can serialize the pair instead of re-discovering the
// violation.
//
// Two tables drive the prediction, indexed by PC:
//   - SSIT (Store Set ID Table): maps a static instruction to its store
//     set ID.
//   - LFST (Last Fetched Store Table): maps a store set ID to the
//     sequence number of the youngest in-flight store of that set.
package storeset

import "fmt"

// invalidSSID marks an unassigned store set.
const invalidSSID = -1

// Config holds the predictor table parameters.
type Config struct {
	// SSITSize is the number of Store Set ID Table entries.
	// Must be a power of 2. Default is 1024.
	SSITSize uint32 `json:"ssit_size"`
	// LFSTSize is the number of Last Fetched Store Table entries.
	// Must be a power of 2. Default is 1024.
	LFSTSize uint32 `json:"lfst_size"`
	// ClearPeriod is the number of tracked memory instructions between
	// periodic table wipes. Periodic clearing bounds the damage of stale
	// dependence pairs that no longer conflict. Zero disables clearing.
	// Default is 250000.
	ClearPeriod uint64 `json:"clear_period"`
}

// DefaultConfig returns the default predictor configuration.
func DefaultConfig() Config {
	return Config{
		SSITSize:    1024,
		LFSTSize:    1024,
		ClearPeriod: 250000,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.SSITSize == 0 || c.SSITSize&(c.SSITSize-1) != 0 {
		return fmt.Errorf("storeset: SSIT size %d is not a power of 2",
			c.SSITSize)
	}
	if c.LFSTSize == 0 || c.LFSTSize&(c.LFSTSize-1) != 0 {
		return fmt.Errorf("storeset: LFST size %d is not a power of 2",
			c.LFSTSize)
	}
	return nil
}

// Stats holds predictor statistics.
type Stats struct {
	// Lookups is the number of producer predictions requested.
	Lookups uint64
	// ProducersFound is the number of lookups that named an in-flight
	// producer store.
	ProducersFound uint64
	// Violations is the number of violation training events.
	Violations uint64
	// Merges is the number of violations that merged two existing
	// store sets.
	Merges uint64
	// Clears is the number of periodic table wipes.
	Clears uint64
}

// HitRate returns the fraction of lookups that found a producer,
// as a percentage.
func (s Stats) HitRate() float64 {
	if s.Lookups == 0 {
		return 0
	}
	return float64(s.ProducersFound) / float64(s.Lookups) * 100
}

// storeRecord remembers which set and thread an in-flight store belongs
// to, keyed by sequence number in Predictor.storeSets.
type storeRecord struct {
	ssid     int
	threadID int
}

// lfstEntry tracks the youngest in-flight store of one store set.
type lfstEntry struct {
	valid    bool
	seqNum   uint64
	threadID int
}

// Predictor is a store-set memory dependence predictor.
type Predictor struct {
	config Config

	// SSIT: store set ID per static instruction, invalidSSID if
	// unassigned.
	ssit []int

	// LFST: youngest in-flight store per store set.
	lfst []lfstEntry

	// In-flight stores by sequence number, so Squash can invalidate the
	// LFST entries that point at squashed stores.
	storeSets map[uint64]storeRecord

	// Memory instructions tracked since the last periodic clear.
	opsSinceClear uint64

	stats Stats
}

// New creates a predictor with the given configuration. It panics if the
// configuration is invalid; table sizes are a build-time decision, not a
// runtime condition.
func New(config Config) *Predictor {
	if err := config.Validate(); err != nil {
		panic(err.Error())
	}

	p := &Predictor{
		config:    config,
		ssit:      make([]int, config.SSITSize),
		lfst:      make([]lfstEntry, config.LFSTSize),
		storeSets: make(map[uint64]storeRecord),
	}
	for i := range p.ssit {
		p.ssit[i] = invalidSSID
	}

	return p
}

// ssitIndex folds a PC into an SSIT index. Instructions are 4-byte
// aligned, so the low bits carry no information.
func (p *Predictor) ssitIndex(pc uint64) uint32 {
	return uint32((pc >> 2) & uint64(p.config.SSITSize-1))
}

// calcSSID derives a fresh store set ID from a PC.
func (p *Predictor) calcSSID(pc uint64) int {
	return int((pc >> 2) & uint64(p.config.LFSTSize-1))
}

// PredictProducer returns the sequence number of the in-flight store the
// instruction at pc is predicted to depend on. ok is false when the
// instruction has no store set or its set has no store in flight.
// Dependence tracking is per hardware thread: a store fetched by another
// thread never gates this one.
func (p *Predictor) PredictProducer(pc uint64, tid int) (producer uint64,
	ok bool) {
	p.stats.Lookups++

	ssid := p.ssit[p.ssitIndex(pc)]
	if ssid == invalidSSID {
		return 0, false
	}

	entry := p.lfst[ssid]
	if !entry.valid || entry.threadID != tid {
		return 0, false
	}

	p.stats.ProducersFound++
	return entry.seqNum, true
}

// InsertLoad tracks a newly fetched load. Loads do not update the LFST;
// the call exists for the periodic-clear bookkeeping.
func (p *Predictor) InsertLoad(pc, seqNum uint64) {
	p.checkClear()
}

// InsertStore tracks a newly fetched store. If the store belongs to a
// store set, it becomes that set's last fetched store.
func (p *Predictor) InsertStore(pc, seqNum uint64, tid int) {
	p.checkClear()

	ssid := p.ssit[p.ssitIndex(pc)]
	if ssid == invalidSSID {
		return
	}

	p.lfst[ssid] = lfstEntry{valid: true, seqNum: seqNum, threadID: tid}
	p.storeSets[seqNum] = storeRecord{ssid: ssid, threadID: tid}
}

// Issued tells the predictor an instruction was dispatched to execution.
// An issued store stops being a dependence target: later loads of its set
// no longer need to wait for it.
func (p *Predictor) Issued(pc, seqNum uint64, isStore bool) {
	if !isStore {
		return
	}

	ssid := p.ssit[p.ssitIndex(pc)]
	if ssid == invalidSSID {
		return
	}

	if p.lfst[ssid].valid && p.lfst[ssid].seqNum == seqNum {
		p.lfst[ssid].valid = false
	}
	delete(p.storeSets, seqNum)
}

// TrainViolation teaches the predictor that the store at storePC and the
// load at loadPC form a true dependence. Both are placed in a common
// store set so future dynamic instances serialize.
func (p *Predictor) TrainViolation(storePC, loadPC uint64) {
	p.stats.Violations++

	loadIdx := p.ssitIndex(loadPC)
	storeIdx := p.ssitIndex(storePC)
	loadSSID := p.ssit[loadIdx]
	storeSSID := p.ssit[storeIdx]

	switch {
	case loadSSID == invalidSSID && storeSSID == invalidSSID:
		ssid := p.calcSSID(loadPC)
		p.ssit[loadIdx] = ssid
		p.ssit[storeIdx] = ssid
	case loadSSID != invalidSSID && storeSSID == invalidSSID:
		p.ssit[storeIdx] = loadSSID
	case loadSSID == invalidSSID && storeSSID != invalidSSID:
		p.ssit[loadIdx] = storeSSID
	default:
		// Both already assigned: merge into the smaller SSID so repeated
		// violations converge on one set.
		if loadSSID != storeSSID {
			p.stats.Merges++
			if loadSSID < storeSSID {
				p.ssit[storeIdx] = loadSSID
			} else {
				p.ssit[loadIdx] = storeSSID
			}
		}
	}
}

// Squash removes all tracked stores of the given thread younger than
// squashedSeqNum and invalidates LFST entries that pointed at them.
func (p *Predictor) Squash(squashedSeqNum uint64, tid int) {
	for seqNum, rec := range p.storeSets {
		if seqNum <= squashedSeqNum || rec.threadID != tid {
			continue
		}
		if p.lfst[rec.ssid].valid && p.lfst[rec.ssid].seqNum == seqNum {
			p.lfst[rec.ssid].valid = false
		}
		delete(p.storeSets, seqNum)
	}
}

// Clear wipes both tables and all in-flight store tracking.
func (p *Predictor) Clear() {
	for i := range p.ssit {
		p.ssit[i] = invalidSSID
	}
	for i := range p.lfst {
		p.lfst[i] = lfstEntry{}
	}
	p.storeSets = make(map[uint64]storeRecord)
	p.opsSinceClear = 0
}

// checkClear performs the periodic table wipe.
func (p *Predictor) checkClear() {
	if p.config.ClearPeriod == 0 {
		return
	}

	p.opsSinceClear++
	if p.opsSinceClear >= p.config.ClearPeriod {
		p.Clear()
		p.stats.Clears++
	}
}

// Stats returns the predictor statistics.
func (p *Predictor) Stats() Stats {
	return p.stats
}
