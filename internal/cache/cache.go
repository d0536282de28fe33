package cache

import (
	"fmt"
	"sync"
	"time"

	"statevault/internal/errs"
	"statevault/internal/logging"
)

// Config holds configuration for a Cache
type Config struct {
	Name            string
	MaxEntries      int           // Maximum entry count, 0 = unbounded
	MaxMemory       uint64        // Maximum byte budget, 0 = unbounded
	DefaultTTL      time.Duration // Applied when Set is called with ttl 0
	EvictionPolicy  string        // "lru", "lfu", "fifo", "ttl"
	CleanupInterval time.Duration // Background expired sweep period, 0 = disabled
	ThreadSafe      bool

	// OnEvict is invoked for entries removed to make room (not for
	// expiry, deletes, or Clear). Used by the tiered cache cascade.
	OnEvict func(key string, entry *Entry)
}

// Stats holds cache statistics
type Stats struct {
	Name           string    `json:"name"`
	EvictionPolicy string    `json:"eviction_policy"`
	Entries        int       `json:"entries"`
	MaxEntries     int       `json:"max_entries"`
	MemoryUsed     uint64    `json:"memory_used"`
	MaxMemory      uint64    `json:"max_memory"`
	Hits           uint64    `json:"hits"`
	Misses         uint64    `json:"misses"`
	Evictions      uint64    `json:"evictions"`
	Expirations    uint64    `json:"expirations"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccess     time.Time `json:"last_access"`
}

// HitRate calculates the cache hit rate
func (s *Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0.0
	}
	return float64(s.Hits) / float64(total) * 100.0
}

// Cache is a key-value store with pluggable eviction, per-entry TTL, and
// byte-size accounting. Mutation happens only through Set, Delete, Clear,
// and internal eviction; reads touch access metadata only.
type Cache struct {
	config Config
	items  map[string]*Entry
	policy EvictionPolicy
	budget *MemoryBudget
	mutex  sync.Mutex
	stats  Stats

	stopCleanup chan struct{}
	closeOnce   sync.Once
}

// New creates a Cache from config.
func New(config Config) (*Cache, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("cache name cannot be empty")
	}
	if config.EvictionPolicy == "" {
		config.EvictionPolicy = "lru"
	}

	policy, err := NewEvictionPolicy(config.EvictionPolicy)
	if err != nil {
		return nil, err
	}

	c := &Cache{
		config:      config,
		items:       make(map[string]*Entry),
		policy:      policy,
		budget:      NewMemoryBudget(config.Name, int64(config.MaxMemory)),
		stopCleanup: make(chan struct{}),
		stats: Stats{
			Name:           config.Name,
			EvictionPolicy: policy.PolicyName(),
			MaxEntries:     config.MaxEntries,
			MaxMemory:      config.MaxMemory,
			CreatedAt:      time.Now(),
		},
	}

	c.budget.SetPressureHandlers(
		func(usage float64) { c.handleMemoryPressure("low", usage) },
		func(usage float64) { c.handleMemoryPressure("medium", usage) },
		func(usage float64) { c.handleMemoryPressure("high", usage) },
	)

	if config.CleanupInterval > 0 {
		go c.cleanupLoop()
	}

	return c, nil
}

func (c *Cache) lock() {
	if c.config.ThreadSafe {
		c.mutex.Lock()
	}
}

func (c *Cache) unlock() {
	if c.config.ThreadSafe {
		c.mutex.Unlock()
	}
}

// Set inserts or overwrites an entry. When the insert would exceed the
// entry-count or memory budget, victims chosen by the eviction policy are
// removed one at a time until it fits. A value that cannot fit even into
// an empty cache fails with errs.ErrCacheFull.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}

	data, valueType, err := serializeValue(value)
	if err != nil {
		return fmt.Errorf("failed to serialize value: %w", err)
	}
	size := uint64(len(data))

	c.lock()
	defer c.unlock()

	c.sweepExpiredLocked()

	if c.config.MaxMemory > 0 && size > c.config.MaxMemory {
		return errs.CacheFull("value of %d bytes exceeds budget of %d", size, c.config.MaxMemory)
	}

	// Replacing an existing entry frees its slot first.
	if existing, exists := c.items[key]; exists {
		c.removeLocked(key, existing, false)
	}

	// Evict one victim at a time, re-consulting the policy each round.
	for c.overCommittedLocked(size) {
		victim := c.policy.NextEvictionCandidate()
		if victim == "" {
			return errs.CacheFull("no eviction candidate for %d bytes", size)
		}
		entry, ok := c.items[victim]
		if !ok {
			// Stale policy tracking; drop it and retry.
			c.policy.OnDelete(&Entry{Key: victim})
			continue
		}
		c.removeLocked(victim, entry, false)
		c.stats.Evictions++
		if c.config.OnEvict != nil && !entry.IsExpired() {
			c.config.OnEvict(victim, entry)
		}
	}

	if ttl == 0 {
		ttl = c.config.DefaultTTL
	}
	now := time.Now()
	expiresAt := time.Time{}
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	entry := &Entry{
		Key:          key,
		ValueBytes:   data,
		ValueType:    valueType,
		Size:         size,
		CreatedAt:    now,
		ExpiresAt:    expiresAt,
		LastAccessed: now,
	}

	if err := c.budget.Reserve(int64(size)); err != nil {
		return errs.CacheFull("%v", err)
	}
	c.items[key] = entry
	c.stats.Entries = len(c.items)
	c.stats.MemoryUsed += size
	c.stats.LastAccess = now
	c.policy.OnInsert(entry)

	return nil
}

// Get returns the value for key and whether it was present and unexpired.
// Hits update the entry's access metadata; the policy decides whether the
// access affects eviction order (LRU/LFU yes, FIFO/TTL no).
func (c *Cache) Get(key string) (interface{}, bool) {
	c.lock()
	defer c.unlock()

	entry, exists := c.items[key]
	if !exists {
		c.stats.Misses++
		return nil, false
	}
	if entry.IsExpired() {
		c.removeLocked(key, entry, true)
		c.stats.Misses++
		return nil, false
	}

	entry.AccessCount++
	entry.LastAccessed = time.Now()
	c.stats.LastAccess = entry.LastAccessed
	c.policy.OnAccess(entry)

	value, err := entry.Value()
	if err != nil {
		logging.Error(nil, logging.ComponentCache, logging.ActionGet,
			"Failed to deserialize cached value", err, map[string]interface{}{
				"key":   key,
				"cache": c.config.Name,
			})
		c.stats.Misses++
		return nil, false
	}

	c.stats.Hits++
	return value, true
}

// GetDefault returns the value for key, or def when absent or expired.
func (c *Cache) GetDefault(key string, def interface{}) interface{} {
	if value, ok := c.Get(key); ok {
		return value
	}
	return def
}

// Contains reports whether key is present and unexpired. It does not
// mutate access metadata.
func (c *Cache) Contains(key string) bool {
	c.lock()
	defer c.unlock()

	entry, exists := c.items[key]
	return exists && !entry.IsExpired()
}

// Delete removes an entry and reports whether it existed.
func (c *Cache) Delete(key string) bool {
	c.lock()
	defer c.unlock()

	entry, exists := c.items[key]
	if !exists {
		return false
	}
	expired := entry.IsExpired()
	c.removeLocked(key, entry, expired)
	return !expired
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.lock()
	defer c.unlock()

	for key, entry := range c.items {
		c.policy.OnDelete(entry)
		c.budget.Release(int64(entry.Size))
		delete(c.items, key)
	}
	c.stats.Entries = 0
	c.stats.MemoryUsed = 0
	c.stats.LastAccess = time.Now()
}

// Len returns the number of unexpired entries.
func (c *Cache) Len() int {
	c.lock()
	defer c.unlock()

	n := 0
	for _, entry := range c.items {
		if !entry.IsExpired() {
			n++
		}
	}
	return n
}

// Keys returns the unexpired keys in no particular order.
func (c *Cache) Keys() []string {
	c.lock()
	defer c.unlock()

	keys := make([]string, 0, len(c.items))
	for key, entry := range c.items {
		if !entry.IsExpired() {
			keys = append(keys, key)
		}
	}
	return keys
}

// Stats returns a copy of the current statistics.
func (c *Cache) Stats() Stats {
	c.lock()
	defer c.unlock()

	stats := c.stats
	stats.Entries = len(c.items)
	return stats
}

// EntryMetadata returns the access metadata for key, failing with
// errs.ErrEntryNotFound when the key is absent or expired.
func (c *Cache) EntryMetadata(key string) (*EntryMetadata, error) {
	c.lock()
	defer c.unlock()

	entry, exists := c.items[key]
	if !exists || entry.IsExpired() {
		return nil, errs.EntryNotFound(key)
	}

	return &EntryMetadata{
		Key:          entry.Key,
		Size:         entry.Size,
		Age:          entry.Age(),
		IdleTime:     entry.IdleTime(),
		AccessCount:  entry.AccessCount,
		CreatedAt:    entry.CreatedAt,
		ExpiresAt:    entry.ExpiresAt,
		LastAccessed: entry.LastAccessed,
	}, nil
}

// Close stops the background cleanup loop.
func (c *Cache) Close() {
	c.closeOnce.Do(func() {
		close(c.stopCleanup)
	})
}

// entriesSnapshot copies the unexpired entries for persistence.
func (c *Cache) entriesSnapshot() []*Entry {
	c.lock()
	defer c.unlock()

	entries := make([]*Entry, 0, len(c.items))
	for _, entry := range c.items {
		if entry.IsExpired() {
			continue
		}
		clone := *entry
		clone.ValueBytes = append([]byte(nil), entry.ValueBytes...)
		entries = append(entries, &clone)
	}
	return entries
}

// restoreEntry reinstates a previously persisted or demoted entry,
// keeping its original access metadata. Making room may evict victims,
// which in turn may cascade through the OnEvict hook.
func (c *Cache) restoreEntry(entry *Entry) {
	if entry.IsExpired() {
		return
	}
	if c.config.MaxMemory > 0 && entry.Size > c.config.MaxMemory {
		return
	}

	c.lock()
	defer c.unlock()

	if existing, exists := c.items[entry.Key]; exists {
		c.removeLocked(entry.Key, existing, false)
	}
	for c.overCommittedLocked(entry.Size) {
		victim := c.policy.NextEvictionCandidate()
		if victim == "" {
			return
		}
		victimEntry, ok := c.items[victim]
		if !ok {
			c.policy.OnDelete(&Entry{Key: victim})
			continue
		}
		c.removeLocked(victim, victimEntry, false)
		c.stats.Evictions++
		if c.config.OnEvict != nil && !victimEntry.IsExpired() {
			c.config.OnEvict(victim, victimEntry)
		}
	}
	if err := c.budget.Reserve(int64(entry.Size)); err != nil {
		return
	}
	c.items[entry.Key] = entry
	c.stats.Entries = len(c.items)
	c.stats.MemoryUsed += entry.Size
	c.policy.OnInsert(entry)
}

// takeEntry removes and returns an unexpired entry, used when promoting
// between tiers.
func (c *Cache) takeEntry(key string) (*Entry, error) {
	c.lock()
	defer c.unlock()

	entry, exists := c.items[key]
	if !exists || entry.IsExpired() {
		return nil, errs.EntryNotFound(key)
	}
	c.removeLocked(key, entry, false)
	return entry, nil
}

// overCommittedLocked reports whether inserting incoming bytes would
// violate the count or byte budget.
func (c *Cache) overCommittedLocked(incoming uint64) bool {
	if len(c.items) == 0 {
		return false
	}
	if c.config.MaxEntries > 0 && len(c.items) >= c.config.MaxEntries {
		return true
	}
	if c.config.MaxMemory > 0 && c.stats.MemoryUsed+incoming > c.config.MaxMemory {
		return true
	}
	return false
}

// removeLocked drops an entry from the map, the policy, and the budget.
func (c *Cache) removeLocked(key string, entry *Entry, expired bool) {
	c.policy.OnDelete(entry)
	c.budget.Release(int64(entry.Size))
	delete(c.items, key)
	c.stats.Entries = len(c.items)
	c.stats.MemoryUsed -= entry.Size
	if expired {
		c.stats.Expirations++
	}
}

// sweepExpiredLocked removes every expired entry.
func (c *Cache) sweepExpiredLocked() int {
	removed := 0
	for key, entry := range c.items {
		if entry.IsExpired() {
			c.removeLocked(key, entry, true)
			removed++
		}
	}
	return removed
}

// SweepExpired removes expired entries and returns how many were dropped.
func (c *Cache) SweepExpired() int {
	c.lock()
	defer c.unlock()
	return c.sweepExpiredLocked()
}

// evictN force-evicts up to count entries chosen by the policy.
func (c *Cache) evictN(count int) int {
	c.lock()
	defer c.unlock()

	evicted := 0
	for i := 0; i < count; i++ {
		victim := c.policy.NextEvictionCandidate()
		if victim == "" {
			break
		}
		entry, ok := c.items[victim]
		if !ok {
			c.policy.OnDelete(&Entry{Key: victim})
			continue
		}
		c.removeLocked(victim, entry, false)
		c.stats.Evictions++
		if c.config.OnEvict != nil && !entry.IsExpired() {
			c.config.OnEvict(victim, entry)
		}
		evicted++
	}
	return evicted
}

// handleMemoryPressure reacts to budget pressure callbacks. Runs on its
// own goroutine, so it takes the lock like any other caller.
func (c *Cache) handleMemoryPressure(level string, usage float64) {
	switch level {
	case "low":
		c.SweepExpired()
	case "medium":
		c.SweepExpired()
		c.evictN(10)
	case "high":
		c.SweepExpired()
		c.evictN(50)
	}
	logging.Debug(nil, logging.ComponentCache, logging.ActionEvict,
		"Memory pressure handled", map[string]interface{}{
			"cache": c.config.Name,
			"level": level,
			"usage": usage,
		})
}

// cleanupLoop runs periodic cleanup of expired entries.
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.SweepExpired()
		case <-c.stopCleanup:
			return
		}
	}
}
