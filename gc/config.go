// ABOUTME: Tunables of the collection heuristics
// ABOUTME: Thresholds for safepoint-count and allocation-volume triggers

package gc

// Config holds the trigger thresholds of the safepoint heuristics.
type Config struct {
	// Threshold is the number of safepoints between collections. Zero
	// collects at every safepoint.
	Threshold uint64 `toml:"threshold"`
	// AllocationThresholdBytes is the allocation volume between
	// collections. Zero collects at every allocation.
	AllocationThresholdBytes uint64 `toml:"allocation_threshold_bytes"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		Threshold:                1000,
		AllocationThresholdBytes: 10000,
	}
}
