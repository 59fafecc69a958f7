package latency

import (
	"encoding/json"
	"fmt"
	"os"
)

// TimingConfig holds completion latencies for memory operation classes.
// Values model a modern out-of-order core's load-to-use and store
// retirement timing.
type TimingConfig struct {
	// LoadLatency is the number of cycles between a load issuing and its
	// value being available. Default: 4 cycles (L1 hit).
	LoadLatency uint64 `json:"load_latency"`

	// StoreLatency is the number of cycles between a store issuing and
	// its completion from the scheduler's point of view. Default: 1
	// cycle (fire-and-forget into the store buffer).
	StoreLatency uint64 `json:"store_latency"`

	// BarrierLatency is the number of cycles a memory barrier occupies
	// after issue before it stops fencing. Default: 2 cycles.
	BarrierLatency uint64 `json:"barrier_latency"`

	// SquashPenalty is the number of cycles the front end needs to
	// refill after a memory-order squash. Default: 12 cycles.
	SquashPenalty uint64 `json:"squash_penalty"`
}

// DefaultTimingConfig returns a TimingConfig with default values.
func DefaultTimingConfig() *TimingConfig {
	return &TimingConfig{
		LoadLatency:    4,
		StoreLatency:   1,
		BarrierLatency: 2,
		SquashPenalty:  12,
	}
}

// LoadConfig loads a TimingConfig from a JSON file. Fields absent from
// the file keep their default values.
func LoadConfig(path string) (*TimingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timing config file: %w", err)
	}

	config := DefaultTimingConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse timing config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a TimingConfig to a JSON file.
func (c *TimingConfig) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize timing config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write timing config file: %w", err)
	}

	return nil
}

// Validate checks that all latency values are valid (> 0).
func (c *TimingConfig) Validate() error {
	if c.LoadLatency == 0 {
		return fmt.Errorf("load_latency must be > 0")
	}
	if c.StoreLatency == 0 {
		return fmt.Errorf("store_latency must be > 0")
	}
	if c.BarrierLatency == 0 {
		return fmt.Errorf("barrier_latency must be > 0")
	}
	return nil
}
