package cache

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"statevault/internal/filter"
	"statevault/internal/logging"
)

// TieredConfig holds configuration for a TieredCache.
type TieredConfig struct {
	Name            string
	Fast            Config // Fast (memory-resident) tier
	Overflow        Config // Overflow tier receiving fast-tier evictions
	PromoteOnAccess bool   // Move overflow hits back to the fast tier
	EnableFilter    bool   // Cuckoo filter to skip overflow misses
	ThreadSafe      bool
}

// TieredStats combines both tier stats plus tier traffic counters.
type TieredStats struct {
	Name       string        `json:"name"`
	Fast       Stats         `json:"fast"`
	Overflow   Stats         `json:"overflow"`
	Cascades   uint64        `json:"cascades"`
	Promotions uint64        `json:"promotions"`
	Filter     *filter.Stats `json:"filter,omitempty"`
}

// TieredCache layers a fast Cache over an overflow Cache. Sets always land
// in the fast tier; entries the fast tier evicts to make room cascade into
// the overflow tier instead of being discarded.
type TieredCache struct {
	config   TieredConfig
	fast     *Cache
	overflow *Cache
	filter   *filter.CuckooFilter
	mutex    sync.Mutex

	// Atomic: cascade fires from fast-tier eviction, which the memory
	// pressure handler can trigger off the tiered cache's own lock.
	cascades   uint64
	promotions uint64
}

// NewTiered creates a TieredCache from config.
func NewTiered(config TieredConfig) (*TieredCache, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("tiered cache name cannot be empty")
	}

	tc := &TieredCache{config: config}

	overflowCfg := config.Overflow
	if overflowCfg.Name == "" {
		overflowCfg.Name = config.Name + "-overflow"
	}
	// The overflow tier discards its own victims.
	overflowCfg.OnEvict = nil
	overflowCfg.ThreadSafe = config.ThreadSafe
	overflow, err := New(overflowCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create overflow tier: %w", err)
	}

	fastCfg := config.Fast
	if fastCfg.Name == "" {
		fastCfg.Name = config.Name + "-fast"
	}
	fastCfg.ThreadSafe = config.ThreadSafe
	fastCfg.OnEvict = tc.cascade
	fast, err := New(fastCfg)
	if err != nil {
		overflow.Close()
		return nil, fmt.Errorf("failed to create fast tier: %w", err)
	}

	tc.fast = fast
	tc.overflow = overflow

	if config.EnableFilter {
		expected := uint64(overflowCfg.MaxEntries)
		if expected == 0 {
			expected = 1 << 16
		}
		f, err := filter.New(expected, 0.01)
		if err != nil {
			fast.Close()
			overflow.Close()
			return nil, fmt.Errorf("failed to create overflow filter: %w", err)
		}
		tc.filter = f
	}

	return tc, nil
}

func (tc *TieredCache) lock() {
	if tc.config.ThreadSafe {
		tc.mutex.Lock()
	}
}

func (tc *TieredCache) unlock() {
	if tc.config.ThreadSafe {
		tc.mutex.Unlock()
	}
}

// cascade receives fast-tier eviction victims and reinstates them in the
// overflow tier with their access metadata intact.
func (tc *TieredCache) cascade(key string, entry *Entry) {
	tc.overflow.restoreEntry(entry)
	atomic.AddUint64(&tc.cascades, 1)
	if tc.filter != nil {
		if err := tc.filter.Add([]byte(key)); err != nil {
			logging.Warn(nil, logging.ComponentFilter, logging.ActionSet,
				"Failed to add cascaded key to overflow filter", map[string]interface{}{
					"key":   key,
					"cache": tc.config.Name,
					"error": err.Error(),
				})
		}
	}
}

// Set stores the value in the fast tier, cascading any victim it displaces.
// A key already demoted to the overflow tier is superseded there.
func (tc *TieredCache) Set(key string, value interface{}, ttl time.Duration) error {
	tc.lock()
	defer tc.unlock()

	if tc.overflow.Delete(key) && tc.filter != nil {
		tc.filter.Delete([]byte(key))
	}
	return tc.fast.Set(key, value, ttl)
}

// Get checks the fast tier first and falls back to the overflow tier,
// promoting overflow hits when configured.
func (tc *TieredCache) Get(key string) (interface{}, bool) {
	tc.lock()
	defer tc.unlock()

	if value, ok := tc.fast.Get(key); ok {
		return value, true
	}

	if tc.filter != nil && !tc.filter.Contains([]byte(key)) {
		// Definitely not in the overflow tier.
		return nil, false
	}

	value, ok := tc.overflow.Get(key)
	if !ok {
		return nil, false
	}

	if tc.config.PromoteOnAccess {
		tc.promote(key)
	}
	return value, true
}

// promote moves an overflow entry back into the fast tier, keeping its
// access metadata. The fast tier may cascade another victim in response.
func (tc *TieredCache) promote(key string) {
	entry, err := tc.overflow.takeEntry(key)
	if err != nil {
		return
	}
	if tc.filter != nil {
		tc.filter.Delete([]byte(key))
	}
	tc.fast.restoreEntry(entry)
	atomic.AddUint64(&tc.promotions, 1)
}

// GetDefault returns the value for key, or def when absent in both tiers.
func (tc *TieredCache) GetDefault(key string, def interface{}) interface{} {
	if value, ok := tc.Get(key); ok {
		return value
	}
	return def
}

// Contains reports presence in either tier without touching access state.
func (tc *TieredCache) Contains(key string) bool {
	tc.lock()
	defer tc.unlock()

	if tc.fast.Contains(key) {
		return true
	}
	if tc.filter != nil && !tc.filter.Contains([]byte(key)) {
		return false
	}
	return tc.overflow.Contains(key)
}

// Delete removes the key from both tiers.
func (tc *TieredCache) Delete(key string) bool {
	tc.lock()
	defer tc.unlock()

	fastHit := tc.fast.Delete(key)
	overflowHit := tc.overflow.Delete(key)
	if overflowHit && tc.filter != nil {
		tc.filter.Delete([]byte(key))
	}
	return fastHit || overflowHit
}

// Clear empties both tiers.
func (tc *TieredCache) Clear() {
	tc.lock()
	defer tc.unlock()

	tc.fast.Clear()
	tc.overflow.Clear()
	if tc.filter != nil {
		tc.filter.Clear()
	}
}

// Len returns the combined unexpired entry count.
func (tc *TieredCache) Len() int {
	tc.lock()
	defer tc.unlock()
	return tc.fast.Len() + tc.overflow.Len()
}

// Keys returns the unexpired keys across both tiers.
func (tc *TieredCache) Keys() []string {
	tc.lock()
	defer tc.unlock()
	return append(tc.fast.Keys(), tc.overflow.Keys()...)
}

// Stats returns combined statistics for both tiers.
func (tc *TieredCache) Stats() TieredStats {
	tc.lock()
	defer tc.unlock()

	stats := TieredStats{
		Name:       tc.config.Name,
		Fast:       tc.fast.Stats(),
		Overflow:   tc.overflow.Stats(),
		Cascades:   atomic.LoadUint64(&tc.cascades),
		Promotions: atomic.LoadUint64(&tc.promotions),
	}
	if tc.filter != nil {
		stats.Filter = tc.filter.GetStats()
	}
	return stats
}

// Close shuts down both tiers.
func (tc *TieredCache) Close() {
	tc.fast.Close()
	tc.overflow.Close()
}
