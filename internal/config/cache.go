package config

import "time"

// SeatMapCacheConfig controls the availability cache in front of the
// ledger.  With Redis configured the cache is shared between instances,
// otherwise it lives in process.
type SeatMapCacheConfig struct {
	Enabled bool
	TTL     time.Duration
	Prefix  string
}

// LoadSeatMapCacheConfig reads the SEATMAP_CACHE_* variables.
func LoadSeatMapCacheConfig() SeatMapCacheConfig {
	return SeatMapCacheConfig{
		Enabled: envBool("SEATMAP_CACHE_ENABLED", true),
		TTL:     envDur("SEATMAP_CACHE_TTL", 30*time.Second),
		Prefix:  envStr("SEATMAP_CACHE_PREFIX", "seatmap"),
	}
}
