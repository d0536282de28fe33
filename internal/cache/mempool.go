package cache

import (
	"fmt"
	"sync/atomic"
)

// MemoryBudget tracks the bytes a cache is allowed to hold and detects
// memory pressure. All operations are O(1) and safe for concurrent use.
type MemoryBudget struct {
	name         string
	maxSize      int64 // 0 = unbounded
	currentUsage int64 // atomic

	// Memory pressure thresholds
	warningThreshold  float64 // Start getting nervous
	criticalThreshold float64 // Begin aggressive cleanup
	panicThreshold    float64 // Emergency eviction mode

	// Statistics
	totalReserves   int64
	totalReleases   int64
	reserveFailures int64

	// Memory pressure callbacks
	onWarningPressure  func(float64)
	onCriticalPressure func(float64)
	onPanicPressure    func(float64)
}

// NewMemoryBudget creates a budget tracker with the specified maximum size.
// A maxSize of 0 disables the limit; pressure detection is then inactive.
func NewMemoryBudget(name string, maxSize int64) *MemoryBudget {
	return &MemoryBudget{
		name:              name,
		maxSize:           maxSize,
		warningThreshold:  0.85,
		criticalThreshold: 0.90,
		panicThreshold:    0.95,
	}
}

// Reserve claims size bytes from the budget.
func (mb *MemoryBudget) Reserve(size int64) error {
	if size < 0 {
		return fmt.Errorf("invalid reservation size: %d", size)
	}

	if mb.maxSize > 0 {
		currentUsage := atomic.LoadInt64(&mb.currentUsage)
		if currentUsage+size > mb.maxSize {
			atomic.AddInt64(&mb.reserveFailures, 1)
			return fmt.Errorf("reservation would exceed budget: %d + %d > %d",
				currentUsage, size, mb.maxSize)
		}
	}

	newUsage := atomic.AddInt64(&mb.currentUsage, size)
	atomic.AddInt64(&mb.totalReserves, 1)

	if mb.maxSize > 0 {
		mb.checkMemoryPressure(float64(newUsage) / float64(mb.maxSize))
	}
	return nil
}

// Release returns size bytes to the budget.
func (mb *MemoryBudget) Release(size int64) {
	if size <= 0 {
		return
	}
	atomic.AddInt64(&mb.currentUsage, -size)
	atomic.AddInt64(&mb.totalReleases, 1)
}

// CurrentUsage returns current tracked usage.
func (mb *MemoryBudget) CurrentUsage() int64 {
	return atomic.LoadInt64(&mb.currentUsage)
}

// MaxSize returns the configured budget (0 = unbounded).
func (mb *MemoryBudget) MaxSize() int64 {
	return mb.maxSize
}

// AvailableSpace returns remaining budget, or MaxInt-ish for unbounded.
func (mb *MemoryBudget) AvailableSpace() int64 {
	if mb.maxSize == 0 {
		return int64(^uint64(0) >> 1)
	}
	return mb.maxSize - atomic.LoadInt64(&mb.currentUsage)
}

// MemoryPressure calculates current memory pressure (0.0 to 1.0).
func (mb *MemoryBudget) MemoryPressure() float64 {
	if mb.maxSize == 0 {
		return 0
	}
	return float64(atomic.LoadInt64(&mb.currentUsage)) / float64(mb.maxSize)
}

// SetPressureHandlers installs warning/critical/panic callbacks. Callbacks
// run on their own goroutine so they never block the reserving path.
func (mb *MemoryBudget) SetPressureHandlers(warning, critical, panic func(float64)) {
	mb.onWarningPressure = warning
	mb.onCriticalPressure = critical
	mb.onPanicPressure = panic
}

// SetPressureThresholds allows customization of pressure detection levels
func (mb *MemoryBudget) SetPressureThresholds(warning, critical, panic float64) error {
	if warning < 0 || warning > 1 || critical < 0 || critical > 1 || panic < 0 || panic > 1 {
		return fmt.Errorf("thresholds must be between 0.0 and 1.0")
	}
	if warning >= critical || critical >= panic {
		return fmt.Errorf("thresholds must be ordered: warning < critical < panic")
	}
	mb.warningThreshold = warning
	mb.criticalThreshold = critical
	mb.panicThreshold = panic
	return nil
}

// checkMemoryPressure evaluates current pressure and triggers callbacks
func (mb *MemoryBudget) checkMemoryPressure(pressure float64) {
	if pressure >= mb.panicThreshold && mb.onPanicPressure != nil {
		go mb.onPanicPressure(pressure)
	} else if pressure >= mb.criticalThreshold && mb.onCriticalPressure != nil {
		go mb.onCriticalPressure(pressure)
	} else if pressure >= mb.warningThreshold && mb.onWarningPressure != nil {
		go mb.onWarningPressure(pressure)
	}
}
