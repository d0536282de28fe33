package cache

import (
	"fmt"
	"time"
)

// EvictionPolicy defines the interface for eviction victim selection.
// Implementations track access patterns through the On* hooks and are
// re-consulted after every removal so selection always reflects the
// current population.
type EvictionPolicy interface {
	OnInsert(entry *Entry) // Handle new entries
	OnAccess(entry *Entry) // Update access patterns
	OnDelete(entry *Entry) // Clean up tracking

	// NextEvictionCandidate returns the key that should be evicted next,
	// or "" when the policy tracks no entries.
	NextEvictionCandidate() string

	// Policy metadata
	PolicyName() string
}

// NewEvictionPolicy creates the policy registered under the given name.
func NewEvictionPolicy(name string) (EvictionPolicy, error) {
	switch name {
	case "lru":
		return newLRUPolicy(), nil
	case "lfu":
		return newLFUPolicy(), nil
	case "fifo":
		return newFIFOPolicy(), nil
	case "ttl":
		return newTTLPolicy(), nil
	default:
		return nil, fmt.Errorf("unsupported eviction policy: %s", name)
	}
}

// lruPolicy evicts the entry with the oldest last-access time.
type lruPolicy struct {
	lastAccess map[string]time.Time
}

func newLRUPolicy() *lruPolicy {
	return &lruPolicy{lastAccess: make(map[string]time.Time)}
}

func (p *lruPolicy) OnInsert(entry *Entry) { p.lastAccess[entry.Key] = entry.LastAccessed }
func (p *lruPolicy) OnAccess(entry *Entry) { p.lastAccess[entry.Key] = entry.LastAccessed }
func (p *lruPolicy) OnDelete(entry *Entry) { delete(p.lastAccess, entry.Key) }

func (p *lruPolicy) NextEvictionCandidate() string {
	return oldestKey(p.lastAccess)
}

func (p *lruPolicy) PolicyName() string { return "lru" }

// lfuPolicy evicts the entry with the lowest access count, breaking ties
// by oldest last-access time.
type lfuPolicy struct {
	accessCount map[string]uint64
	lastAccess  map[string]time.Time
}

func newLFUPolicy() *lfuPolicy {
	return &lfuPolicy{
		accessCount: make(map[string]uint64),
		lastAccess:  make(map[string]time.Time),
	}
}

func (p *lfuPolicy) OnInsert(entry *Entry) {
	p.accessCount[entry.Key] = entry.AccessCount
	p.lastAccess[entry.Key] = entry.LastAccessed
}

func (p *lfuPolicy) OnAccess(entry *Entry) {
	p.accessCount[entry.Key] = entry.AccessCount
	p.lastAccess[entry.Key] = entry.LastAccessed
}

func (p *lfuPolicy) OnDelete(entry *Entry) {
	delete(p.accessCount, entry.Key)
	delete(p.lastAccess, entry.Key)
}

func (p *lfuPolicy) NextEvictionCandidate() string {
	var candidate string
	var minCount uint64
	var minAccess time.Time
	first := true

	for key, count := range p.accessCount {
		access := p.lastAccess[key]
		if first || count < minCount || (count == minCount && access.Before(minAccess)) {
			candidate = key
			minCount = count
			minAccess = access
			first = false
		}
	}
	return candidate
}

func (p *lfuPolicy) PolicyName() string { return "lfu" }

// fifoPolicy evicts the entry with the oldest creation time, ignoring
// access history entirely.
type fifoPolicy struct {
	createdAt map[string]time.Time
}

func newFIFOPolicy() *fifoPolicy {
	return &fifoPolicy{createdAt: make(map[string]time.Time)}
}

func (p *fifoPolicy) OnInsert(entry *Entry) { p.createdAt[entry.Key] = entry.CreatedAt }
func (p *fifoPolicy) OnAccess(entry *Entry) {} // access order is irrelevant to FIFO
func (p *fifoPolicy) OnDelete(entry *Entry) { delete(p.createdAt, entry.Key) }

func (p *fifoPolicy) NextEvictionCandidate() string {
	return oldestKey(p.createdAt)
}

func (p *fifoPolicy) PolicyName() string { return "fifo" }

// ttlPolicy evicts the entry with the nearest expiry deadline. Entries
// without a TTL are evicted last, by LRU among themselves.
type ttlPolicy struct {
	expiresAt  map[string]time.Time
	lastAccess map[string]time.Time
}

func newTTLPolicy() *ttlPolicy {
	return &ttlPolicy{
		expiresAt:  make(map[string]time.Time),
		lastAccess: make(map[string]time.Time),
	}
}

func (p *ttlPolicy) OnInsert(entry *Entry) {
	p.expiresAt[entry.Key] = entry.ExpiresAt
	p.lastAccess[entry.Key] = entry.LastAccessed
}

func (p *ttlPolicy) OnAccess(entry *Entry) {} // expiry order does not change on access

func (p *ttlPolicy) OnDelete(entry *Entry) {
	delete(p.expiresAt, entry.Key)
	delete(p.lastAccess, entry.Key)
}

func (p *ttlPolicy) NextEvictionCandidate() string {
	var candidate string
	var minExpiry time.Time
	found := false

	for key, expiry := range p.expiresAt {
		if expiry.IsZero() {
			continue
		}
		if !found || expiry.Before(minExpiry) {
			candidate = key
			minExpiry = expiry
			found = true
		}
	}
	if found {
		return candidate
	}

	// No entry carries a TTL; fall back to LRU among the rest.
	var oldest time.Time
	for key, expiry := range p.expiresAt {
		if !expiry.IsZero() {
			continue
		}
		access := p.lastAccess[key]
		if candidate == "" || access.Before(oldest) {
			candidate = key
			oldest = access
		}
	}
	return candidate
}

func (p *ttlPolicy) PolicyName() string { return "ttl" }

// oldestKey returns the key with the earliest timestamp in the map.
func oldestKey(times map[string]time.Time) string {
	var candidate string
	var oldest time.Time
	first := true

	for key, ts := range times {
		if first || ts.Before(oldest) {
			candidate = key
			oldest = ts
			first = false
		}
	}
	return candidate
}
