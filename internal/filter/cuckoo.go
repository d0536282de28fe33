// Package filter provides a Cuckoo filter used for cheap negative
// membership checks in front of slower cache tiers. Compared to a Bloom
// filter it supports deletions, which the tiered cache needs when overflow
// entries are promoted or dropped.
package filter

import (
	"crypto/rand"
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

var (
	// ErrFilterFull is returned when an insert fails even after the
	// maximum eviction chain length.
	ErrFilterFull = errors.New("cuckoo filter full")

	// ErrInvalidKey is returned for empty keys.
	ErrInvalidKey = errors.New("invalid filter key")
)

const (
	bucketSlots      = 4
	loadFactor       = 0.85
	maxEvictionChain = 500
)

// Stats reports filter occupancy and operation counters.
type Stats struct {
	Size              uint64  `json:"size"`
	Capacity          uint64  `json:"capacity"`
	LoadFactor        float64 `json:"load_factor"`
	FalsePositiveRate float64 `json:"false_positive_rate"`
	Lookups           uint64  `json:"lookups"`
	Adds              uint64  `json:"adds"`
	FailedAdds        uint64  `json:"failed_adds"`
	Deletes           uint64  `json:"deletes"`
	EvictionChains    uint64  `json:"eviction_chains"`
}

// bucket holds a fixed number of fingerprint slots.
type bucket struct {
	fingerprints [bucketSlots]uint16
	occupied     uint8 // bitmask of used slots
}

// CuckooFilter is a thread-safe probabilistic membership set.
type CuckooFilter struct {
	buckets         []bucket
	numBuckets      uint64
	fingerprintBits uint8
	fingerprintMask uint32
	capacity        uint64

	size           uint64 // atomic
	lookups        uint64
	adds           uint64
	failedAdds     uint64
	deletes        uint64
	evictionChains uint64

	mutex sync.RWMutex
}

// New creates a filter sized for expectedItems at the given false
// positive rate.
func New(expectedItems uint64, falsePositiveRate float64) (*CuckooFilter, error) {
	if expectedItems == 0 {
		return nil, errors.New("expected items must be greater than 0")
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		return nil, errors.New("false positive rate must be between 0 and 1")
	}

	// FPR ~ bucketSlots / 2^fingerprintBits
	bits := uint8(math.Ceil(math.Log2(float64(bucketSlots) / falsePositiveRate)))
	if bits > 16 {
		bits = 16
	}

	numBuckets := nextPowerOfTwo(uint64(math.Ceil(float64(expectedItems) / (bucketSlots * loadFactor))))

	return &CuckooFilter{
		buckets:         make([]bucket, numBuckets),
		numBuckets:      numBuckets,
		fingerprintBits: bits,
		fingerprintMask: (1 << bits) - 1,
		capacity:        uint64(float64(numBuckets) * bucketSlots * loadFactor),
	}, nil
}

// Add inserts a key into the filter.
func (cf *CuckooFilter) Add(key []byte) error {
	if len(key) == 0 {
		return ErrInvalidKey
	}
	atomic.AddUint64(&cf.adds, 1)

	if atomic.LoadUint64(&cf.size) >= cf.capacity {
		atomic.AddUint64(&cf.failedAdds, 1)
		return ErrFilterFull
	}

	hash := xxhash.Sum64(key)
	fp := cf.fingerprint(hash)
	b1 := hash % cf.numBuckets
	b2 := cf.altBucket(b1, fp)

	cf.mutex.Lock()
	defer cf.mutex.Unlock()

	if cf.insert(b1, fp) || cf.insert(b2, fp) {
		atomic.AddUint64(&cf.size, 1)
		return nil
	}
	if cf.evictAndInsert(b1, fp) {
		atomic.AddUint64(&cf.size, 1)
		return nil
	}

	atomic.AddUint64(&cf.failedAdds, 1)
	return ErrFilterFull
}

// Contains reports whether key might be present. False positives occur at
// the configured rate; false negatives do not.
func (cf *CuckooFilter) Contains(key []byte) bool {
	if len(key) == 0 {
		return false
	}
	atomic.AddUint64(&cf.lookups, 1)

	hash := xxhash.Sum64(key)
	fp := cf.fingerprint(hash)
	b1 := hash % cf.numBuckets
	b2 := cf.altBucket(b1, fp)

	cf.mutex.RLock()
	defer cf.mutex.RUnlock()

	return cf.contains(b1, fp) || cf.contains(b2, fp)
}

// Delete removes one occurrence of key and reports whether it was found.
func (cf *CuckooFilter) Delete(key []byte) bool {
	if len(key) == 0 {
		return false
	}
	atomic.AddUint64(&cf.deletes, 1)

	hash := xxhash.Sum64(key)
	fp := cf.fingerprint(hash)
	b1 := hash % cf.numBuckets
	b2 := cf.altBucket(b1, fp)

	cf.mutex.Lock()
	defer cf.mutex.Unlock()

	if cf.remove(b1, fp) || cf.remove(b2, fp) {
		atomic.AddUint64(&cf.size, ^uint64(0))
		return true
	}
	return false
}

// Clear removes every fingerprint.
func (cf *CuckooFilter) Clear() {
	cf.mutex.Lock()
	defer cf.mutex.Unlock()

	for i := range cf.buckets {
		cf.buckets[i] = bucket{}
	}
	atomic.StoreUint64(&cf.size, 0)
}

// Size returns the current number of fingerprints.
func (cf *CuckooFilter) Size() uint64 {
	return atomic.LoadUint64(&cf.size)
}

// GetStats returns a snapshot of filter statistics.
func (cf *CuckooFilter) GetStats() *Stats {
	size := atomic.LoadUint64(&cf.size)
	return &Stats{
		Size:              size,
		Capacity:          cf.capacity,
		LoadFactor:        float64(size) / float64(cf.capacity),
		FalsePositiveRate: float64(bucketSlots) / math.Pow(2, float64(cf.fingerprintBits)),
		Lookups:           atomic.LoadUint64(&cf.lookups),
		Adds:              atomic.LoadUint64(&cf.adds),
		FailedAdds:        atomic.LoadUint64(&cf.failedAdds),
		Deletes:           atomic.LoadUint64(&cf.deletes),
		EvictionChains:    atomic.LoadUint64(&cf.evictionChains),
	}
}

func (cf *CuckooFilter) fingerprint(hash uint64) uint32 {
	// Upper bits, mixed with lower bits, to stay uncorrelated with the
	// bucket index.
	fp := uint32(hash>>32) ^ uint32(hash)
	fp &= cf.fingerprintMask
	if fp == 0 {
		fp = 1
	}
	return fp
}

func (cf *CuckooFilter) altBucket(idx uint64, fp uint32) uint64 {
	alt := uint64(fp)
	alt ^= alt >> 16
	alt *= 0x85ebca6b
	alt ^= alt >> 13
	alt *= 0xc2b2ae35
	alt ^= alt >> 16
	return (idx ^ alt) % cf.numBuckets
}

func (cf *CuckooFilter) insert(idx uint64, fp uint32) bool {
	b := &cf.buckets[idx]
	for i := uint8(0); i < bucketSlots; i++ {
		if b.occupied&(1<<i) == 0 {
			b.fingerprints[i] = uint16(fp)
			b.occupied |= 1 << i
			return true
		}
	}
	return false
}

func (cf *CuckooFilter) contains(idx uint64, fp uint32) bool {
	b := &cf.buckets[idx]
	for i := uint8(0); i < bucketSlots; i++ {
		if b.occupied&(1<<i) != 0 && b.fingerprints[i] == uint16(fp) {
			return true
		}
	}
	return false
}

func (cf *CuckooFilter) remove(idx uint64, fp uint32) bool {
	b := &cf.buckets[idx]
	for i := uint8(0); i < bucketSlots; i++ {
		if b.occupied&(1<<i) != 0 && b.fingerprints[i] == uint16(fp) {
			b.fingerprints[i] = 0
			b.occupied &^= 1 << i
			return true
		}
	}
	return false
}

// evictAndInsert relocates fingerprints along a cuckoo chain to make room.
func (cf *CuckooFilter) evictAndInsert(idx uint64, fp uint32) bool {
	atomic.AddUint64(&cf.evictionChains, 1)

	currentBucket := idx
	currentFp := fp

	for chain := 0; chain < maxEvictionChain; chain++ {
		b := &cf.buckets[currentBucket]
		slot := randomOccupiedSlot(b)

		evicted := uint32(b.fingerprints[slot])
		b.fingerprints[slot] = uint16(currentFp)

		alt := cf.altBucket(currentBucket, evicted)
		if cf.insert(alt, evicted) {
			return true
		}
		currentBucket = alt
		currentFp = evicted
	}
	return false
}

func randomOccupiedSlot(b *bucket) uint8 {
	var occupied []uint8
	for i := uint8(0); i < bucketSlots; i++ {
		if b.occupied&(1<<i) != 0 {
			occupied = append(occupied, i)
		}
	}
	if len(occupied) == 0 {
		return 0
	}
	buf := make([]byte, 1)
	rand.Read(buf)
	return occupied[int(buf[0])%len(occupied)]
}

func nextPowerOfTwo(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}
