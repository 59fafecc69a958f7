package memdep

import "github.com/sarchlab/akita/v4/datarecording"

// Stats holds the unit's performance counters.
type Stats struct {
	// InsertedLoads is the number of loads inserted for tracking.
	InsertedLoads uint64
	// InsertedStores is the number of stores inserted for tracking.
	InsertedStores uint64
	// ConflictingLoads is the number of loads that had to wait on a
	// conflicting producer or barrier.
	ConflictingLoads uint64
	// ConflictingStores is the number of stores that had to wait on a
	// conflicting producer or barrier.
	ConflictingStores uint64
	// IssuedLoads is the number of loads dispatched to execution.
	IssuedLoads uint64
	// IssuedStores is the number of stores dispatched to execution.
	IssuedStores uint64
}

// Stats returns a copy of the unit's counters.
func (u *Unit) Stats() Stats {
	return u.stats
}

// statsTableName is the data-recorder table the stats rows go to.
const statsTableName = "memdep_stats"

// StatsRecord is one recorded row of unit counters.
type StatsRecord struct {
	Unit              string
	InsertedLoads     uint64
	InsertedStores    uint64
	ConflictingLoads  uint64
	ConflictingStores uint64
	IssuedLoads       uint64
	IssuedStores      uint64
}

// CreateStatsTable registers the stats table with a data recorder. Call
// it once per recorder, before any RecordStats.
func CreateStatsTable(recorder datarecording.DataRecorder) {
	recorder.CreateTable(statsTableName, StatsRecord{})
}

// RecordStats appends the unit's current counters to the recorder.
func (u *Unit) RecordStats(recorder datarecording.DataRecorder) {
	recorder.InsertData(statsTableName, StatsRecord{
		Unit:              u.name,
		InsertedLoads:     u.stats.InsertedLoads,
		InsertedStores:    u.stats.InsertedStores,
		ConflictingLoads:  u.stats.ConflictingLoads,
		ConflictingStores: u.stats.ConflictingStores,
		IssuedLoads:       u.stats.IssuedLoads,
		IssuedStores:      u.stats.IssuedStores,
	})
}
