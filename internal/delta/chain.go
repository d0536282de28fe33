package delta

import (
	"sync"
	"time"

	"statevault/internal/errs"
	"statevault/internal/logging"
)

// ChainMetrics reports the current shape and cost of a chain.
type ChainMetrics struct {
	Records              int     `json:"records"`
	BaseKeys             int     `json:"base_keys"`
	TotalCompressedBytes int64   `json:"total_compressed_bytes"`
	AvgCompressionRatio  float64 `json:"avg_compression_ratio"`
	Compactions          uint64  `json:"compactions"`
	Rebaselines          uint64  `json:"rebaselines"`
}

// Chain owns an ordered sequence of Records anchored to a base state.
// Replaying the records in order from the base deterministically
// reproduces the state at each index. The chain exclusively owns its
// records and base; callers only ever receive copies.
type Chain struct {
	engine         *Engine
	base           map[string]interface{}
	records        []*Record
	maxChainLength int
	autoOptimize   bool

	current     map[string]interface{} // cached current state
	compactions uint64
	rebaselines uint64
	mutex       sync.Mutex
}

// NewChain creates a chain anchored to a copy of initial. When
// autoOptimize is set, the chain compacts itself once its length exceeds
// maxChainLength by merging the oldest records down to half the maximum.
func NewChain(engine *Engine, initial map[string]interface{}, maxChainLength int, autoOptimize bool) *Chain {
	if maxChainLength < 2 {
		maxChainLength = 2
	}
	base := CopyState(initial)
	return &Chain{
		engine:         engine,
		base:           base,
		maxChainLength: maxChainLength,
		autoOptimize:   autoOptimize,
		current:        CopyState(base),
	}
}

// AddState computes the delta between the chain's current state and the
// given state, appends it as a record, and returns the record.
func (c *Chain) AddState(state map[string]interface{}, timestamp time.Time) (*Record, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	d := c.engine.CalculateDelta(c.current, state, false)
	record, err := c.engine.CreateDeltaRecord(d.Changes, d.RemovedKeys, timestamp)
	if err != nil {
		return nil, err
	}

	c.records = append(c.records, record)
	c.current = CopyState(state)

	if c.autoOptimize && len(c.records) > c.maxChainLength {
		if err := c.optimizeLocked(); err != nil {
			return nil, err
		}
	}
	return record, nil
}

// Len returns the number of records in the chain.
func (c *Chain) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.records)
}

// StateAt reconstructs the state after the record at index by replaying
// the base plus every record up to and including it.
func (c *Chain) StateAt(index int) (map[string]interface{}, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if index < 0 || index >= len(c.records) {
		return nil, errs.Versioning("chain index %d out of range [0, %d)", index, len(c.records))
	}

	state := CopyState(c.base)
	for i := 0; i <= index; i++ {
		state = c.engine.ApplyDelta(state, &c.records[i].Delta)
	}
	return state, nil
}

// CurrentState returns a copy of the state after the newest record, or
// the base state for an empty chain.
func (c *Chain) CurrentState() map[string]interface{} {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return CopyState(c.current)
}

// BaseState returns a copy of the chain's base state.
func (c *Chain) BaseState() map[string]interface{} {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return CopyState(c.base)
}

// Rebaseline replaces the base state with the current reconstructed state
// and clears all records.
func (c *Chain) Rebaseline() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.base = CopyState(c.current)
	c.records = nil
	c.rebaselines++

	logging.Debug(nil, logging.ComponentChain, logging.ActionRebaseline,
		"Chain rebaselined", map[string]interface{}{
			"base_keys": len(c.base),
		})
}

// Metrics returns record count, total compressed size, and averaged
// compression ratio.
func (c *Chain) Metrics() ChainMetrics {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	m := ChainMetrics{
		Records:     len(c.records),
		BaseKeys:    len(c.base),
		Compactions: c.compactions,
		Rebaselines: c.rebaselines,
	}
	if len(c.records) == 0 {
		return m
	}

	var ratioSum float64
	for _, record := range c.records {
		m.TotalCompressedBytes += record.SizeBytes
		ratioSum += record.CompressionRatio
	}
	m.AvgCompressionRatio = ratioSum / float64(len(c.records))
	return m
}

// optimizeLocked compacts the chain by merging the oldest records into a
// single record so the chain shrinks to half its configured maximum.
// Reconstruction at every retained index is unchanged; only the internal
// representation gets shorter, so indices below the merge boundary
// collapse into index 0.
func (c *Chain) optimizeLocked() error {
	if len(c.records) <= c.maxChainLength {
		return nil
	}

	target := c.maxChainLength / 2
	if target < 1 {
		target = 1
	}
	mergeCount := len(c.records) - target + 1

	merged, err := c.engine.MergeDeltas(c.records[:mergeCount])
	if err != nil {
		return err
	}

	compacted := make([]*Record, 0, target)
	compacted = append(compacted, merged)
	compacted = append(compacted, c.records[mergeCount:]...)
	c.records = compacted
	c.compactions++

	logging.Debug(nil, logging.ComponentChain, logging.ActionCompaction,
		"Chain compacted", map[string]interface{}{
			"merged_records": mergeCount,
			"chain_length":   len(c.records),
		})
	return nil
}
