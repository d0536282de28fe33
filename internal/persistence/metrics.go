package persistence

import (
	"sync"
	"time"
)

// MetricsSnapshot is a point-in-time copy of the engine's counters. It is
// created per engine instance and never persisted across restarts.
type MetricsSnapshot struct {
	Operations  uint64 `json:"operations"`
	Sets        uint64 `json:"sets"`
	Gets        uint64 `json:"gets"`
	Deletes     uint64 `json:"deletes"`
	Saves       uint64 `json:"saves"`
	Loads       uint64 `json:"loads"`
	Snapshots   uint64 `json:"snapshots"`
	Restores    uint64 `json:"restores"`
	Errors      uint64 `json:"errors"`
	CacheHits   uint64 `json:"cache_hits"`
	CacheMisses uint64 `json:"cache_misses"`

	TotalSaveTime time.Duration `json:"total_save_time"`
	TotalLoadTime time.Duration `json:"total_load_time"`
	AvgSaveTime   time.Duration `json:"avg_save_time"`
	AvgLoadTime   time.Duration `json:"avg_load_time"`

	LastSave time.Time `json:"last_save,omitempty"`
	LastLoad time.Time `json:"last_load,omitempty"`
}

// Metrics tracks operation counters behind a mutex. Updates go through
// the update closure so every counter change stays consistent.
type Metrics struct {
	mu    sync.RWMutex
	stats MetricsSnapshot
}

// NewMetrics creates an empty Metrics.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// update safely applies fn to the counters.
func (m *Metrics) update(fn func(*MetricsSnapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.stats)
}

// Snapshot returns a copy of the current counters with averages filled in.
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := m.stats
	if stats.Saves > 0 {
		stats.AvgSaveTime = stats.TotalSaveTime / time.Duration(stats.Saves)
	}
	if stats.Loads > 0 {
		stats.AvgLoadTime = stats.TotalLoadTime / time.Duration(stats.Loads)
	}
	return stats
}

// Reset zeroes every counter.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats = MetricsSnapshot{}
}
