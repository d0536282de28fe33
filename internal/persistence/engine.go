// Package persistence composes the cache engine, the delta engine, and
// the snapshot manager behind one save/load/get/set interface with
// metrics, an optional operation journal, and auto-snapshot scheduling.
package persistence

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/pierrec/lz4/v4"

	"statevault/internal/cache"
	"statevault/internal/delta"
	"statevault/internal/errs"
	"statevault/internal/logging"
	"statevault/internal/snapshot"
)

const stateFileName = "state.dat"

// Config defines the composition of an Engine.
type Config struct {
	BasePath   string
	InstanceID string
	ThreadSafe bool

	// Cache composition
	CacheStrategy   string       // "basic", "tiered", "persistent"
	CacheConfig     cache.Config // fast/basic tier settings
	OverflowConfig  cache.Config // overflow tier settings (tiered strategy)
	PromoteOnAccess bool
	EnableFilter    bool
	PersistInterval time.Duration // persistent strategy

	// Delta tracking
	DeltaTracking  bool
	Compression    bool
	MaxChainLength int
	AutoOptimize   bool

	// Snapshots
	MaxSnapshots         int
	AutoSnapshotInterval time.Duration
	AutoSnapshotDelta    bool

	// Journal
	JournalEnabled      bool
	JournalSyncPolicy   string
	JournalSyncInterval time.Duration
}

// DefaultConfig returns production-ready defaults rooted at basePath.
func DefaultConfig(basePath string) Config {
	return Config{
		BasePath:      basePath,
		InstanceID:    "statevault-1",
		ThreadSafe:    true,
		CacheStrategy: "basic",
		CacheConfig: cache.Config{
			Name:           "store",
			MaxEntries:     10000,
			EvictionPolicy: "lru",
		},
		DeltaTracking:     true,
		Compression:       true,
		MaxChainLength:    20,
		AutoOptimize:      true,
		MaxSnapshots:      10,
		AutoSnapshotDelta: true,
		JournalSyncPolicy: "everysec",
	}
}

// cacheStore is the slice of cache behavior the engine composes over,
// satisfied by Cache, TieredCache, and PersistentCache alike.
type cacheStore interface {
	Set(key string, value interface{}, ttl time.Duration) error
	Get(key string) (interface{}, bool)
	Contains(key string) bool
	Delete(key string) bool
	Clear()
	Close()
}

// Engine is the persistence façade. It owns the authoritative state map;
// the cache engine is a write-through front, the delta chain tracks
// changes between snapshots, and the snapshot manager versions durable
// copies.
type Engine struct {
	config Config

	state     map[string]interface{}
	store     cacheStore
	deltaEng  *delta.Engine
	chain     *delta.Chain
	snapshots *snapshot.Manager
	journal   *Journal
	metrics   *Metrics

	dirty   bool // state changed since the last snapshot/restore
	mutex   sync.Mutex
	running bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEngine creates an Engine from config.
func NewEngine(config Config) (*Engine, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("%w: base path cannot be empty", errs.ErrPersistence)
	}
	if err := os.MkdirAll(config.BasePath, 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create base path: %v", errs.ErrPersistence, err)
	}

	e := &Engine{
		config:   config,
		state:    make(map[string]interface{}),
		deltaEng: delta.NewEngine(config.Compression),
		metrics:  NewMetrics(),
	}

	store, err := e.buildStore()
	if err != nil {
		return nil, err
	}
	e.store = store

	mgr, err := snapshot.NewManager(snapshot.Config{
		Dir:          filepath.Join(config.BasePath, "snapshots"),
		MaxSnapshots: config.MaxSnapshots,
		Compression:  config.Compression,
		ThreadSafe:   config.ThreadSafe,
	}, e.deltaEng)
	if err != nil {
		store.Close()
		return nil, err
	}
	e.snapshots = mgr

	if config.DeltaTracking {
		e.chain = delta.NewChain(e.deltaEng, nil, config.MaxChainLength, config.AutoOptimize)
	}

	if config.JournalEnabled {
		e.journal = NewJournal(JournalConfig{
			Path:         filepath.Join(config.BasePath, "journal.log"),
			SyncPolicy:   config.JournalSyncPolicy,
			SyncInterval: config.JournalSyncInterval,
		})
	}

	return e, nil
}

func (e *Engine) buildStore() (cacheStore, error) {
	cfg := e.config.CacheConfig
	if cfg.Name == "" {
		cfg.Name = "store"
	}
	cfg.ThreadSafe = e.config.ThreadSafe

	switch e.config.CacheStrategy {
	case "", "basic":
		return cache.New(cfg)
	case "tiered":
		return cache.NewTiered(cache.TieredConfig{
			Name:            cfg.Name,
			Fast:            cfg,
			Overflow:        e.config.OverflowConfig,
			PromoteOnAccess: e.config.PromoteOnAccess,
			EnableFilter:    e.config.EnableFilter,
			ThreadSafe:      e.config.ThreadSafe,
		})
	case "persistent":
		return cache.NewPersistent(cache.PersistentConfig{
			Cache:           cfg,
			FilePath:        filepath.Join(e.config.BasePath, "cache.dat"),
			PersistInterval: e.config.PersistInterval,
			PersistOnClose:  true,
		})
	default:
		return nil, fmt.Errorf("%w: unsupported cache strategy: %s", errs.ErrPersistence, e.config.CacheStrategy)
	}
}

func (e *Engine) lock() {
	if e.config.ThreadSafe {
		e.mutex.Lock()
	}
}

func (e *Engine) unlock() {
	if e.config.ThreadSafe {
		e.mutex.Unlock()
	}
}

// Start opens the journal and launches the auto-snapshot worker.
func (e *Engine) Start(ctx context.Context) error {
	e.lock()
	defer e.unlock()

	if e.running {
		return fmt.Errorf("%w: engine already running", errs.ErrPersistence)
	}
	if e.journal != nil {
		if err := e.journal.Open(); err != nil {
			return fmt.Errorf("%w: %v", errs.ErrPersistence, err)
		}
	}

	e.ctx, e.cancel = context.WithCancel(ctx)
	e.running = true

	if e.config.AutoSnapshotInterval > 0 {
		e.wg.Add(1)
		go e.autoSnapshotLoop()
	}

	logging.Info(e.ctx, logging.ComponentPersistence, logging.ActionStart,
		"Persistence engine started", map[string]interface{}{
			"instance":       e.config.InstanceID,
			"base_path":      e.config.BasePath,
			"cache_strategy": e.config.CacheStrategy,
			"journal":        e.journal != nil,
			"auto_snapshot":  e.config.AutoSnapshotInterval > 0,
		})
	return nil
}

// Stop halts background work and shuts down sub-components.
func (e *Engine) Stop() error {
	e.lock()
	defer e.unlock()

	if !e.running {
		return nil
	}
	e.cancel()
	e.running = false
	e.unlock()
	e.wg.Wait()
	e.lock()

	if e.journal != nil {
		if err := e.journal.Close(); err != nil {
			logging.Error(nil, logging.ComponentPersistence, logging.ActionStop,
				"Failed to close journal", err)
		}
	}
	e.store.Close()

	logging.Info(nil, logging.ComponentPersistence, logging.ActionStop,
		"Persistence engine stopped", map[string]interface{}{
			"instance": e.config.InstanceID,
		})
	return nil
}

// Save persists the given state as the authoritative store contents and
// returns an operation id.
func (e *Engine) Save(state map[string]interface{}) (string, error) {
	start := time.Now()
	opID := uuid.New().String()
	defer logging.StartTimer(nil, logging.ComponentPersistence, logging.ActionPersist, "Save state")()

	e.lock()
	defer e.unlock()

	e.state = delta.CopyState(state)
	if err := e.writeStateLocked(); err != nil {
		e.metrics.update(func(s *MetricsSnapshot) { s.Errors++ })
		return "", err
	}
	if e.chain != nil {
		if _, err := e.chain.AddState(e.state, time.Time{}); err != nil {
			e.metrics.update(func(s *MetricsSnapshot) { s.Errors++ })
			return "", err
		}
	}
	if e.journal != nil {
		// The saved state supersedes every logged operation.
		if err := e.journal.Truncate(); err != nil {
			logging.Warn(nil, logging.ComponentPersistence, logging.ActionPersist,
				"Failed to truncate journal after save", map[string]interface{}{
					"error": err.Error(),
				})
		}
	}
	e.dirty = true

	e.metrics.update(func(s *MetricsSnapshot) {
		s.Operations++
		s.Saves++
		s.TotalSaveTime += time.Since(start)
		s.LastSave = time.Now()
	})
	return opID, nil
}

// Load reads the durable state file, replays any journal entries written
// after the last save, repopulates the cache, and returns the state.
func (e *Engine) Load() (map[string]interface{}, error) {
	start := time.Now()

	e.lock()
	defer e.unlock()

	state, err := e.readStateLocked()
	if err != nil {
		e.metrics.update(func(s *MetricsSnapshot) { s.Errors++ })
		return nil, err
	}

	if e.journal != nil {
		entries, err := e.journal.Replay()
		if err != nil {
			e.metrics.update(func(s *MetricsSnapshot) { s.Errors++ })
			return nil, fmt.Errorf("%w: %v", errs.ErrPersistence, err)
		}
		for i := range entries {
			entry := &entries[i]
			switch entry.Operation {
			case "SET":
				value, err := entry.DecodeValue()
				if err != nil {
					return nil, fmt.Errorf("%w: %v", errs.ErrPersistence, err)
				}
				state[entry.Key] = value
			case "DEL":
				delete(state, entry.Key)
			case "CLEAR":
				state = make(map[string]interface{})
			}
		}
		if len(entries) > 0 {
			logging.Info(nil, logging.ComponentPersistence, logging.ActionReplay,
				"Journal entries replayed", map[string]interface{}{
					"entries": len(entries),
				})
		}
	}

	e.state = state
	e.repopulateCacheLocked()

	e.metrics.update(func(s *MetricsSnapshot) {
		s.Operations++
		s.Loads++
		s.TotalLoadTime += time.Since(start)
		s.LastLoad = time.Now()
	})
	return delta.CopyState(state), nil
}

// Get returns the value for key, first from the cache, falling back to
// the authoritative state map (re-warming the cache on a state hit).
func (e *Engine) Get(key string) (interface{}, bool) {
	e.lock()
	defer e.unlock()

	e.metrics.update(func(s *MetricsSnapshot) {
		s.Operations++
		s.Gets++
	})

	if value, ok := e.store.Get(key); ok {
		e.metrics.update(func(s *MetricsSnapshot) { s.CacheHits++ })
		return value, true
	}
	e.metrics.update(func(s *MetricsSnapshot) { s.CacheMisses++ })

	value, ok := e.state[key]
	if !ok {
		return nil, false
	}
	if err := e.store.Set(key, value, 0); err != nil {
		logging.Debug(nil, logging.ComponentPersistence, logging.ActionGet,
			"Failed to re-warm cache", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
	}
	return value, true
}

// GetDefault returns the value for key, or def when absent.
func (e *Engine) GetDefault(key string, def interface{}) interface{} {
	if value, ok := e.Get(key); ok {
		return value
	}
	return def
}

// Set writes through to both the cache and the authoritative state.
func (e *Engine) Set(key string, value interface{}) error {
	e.lock()
	defer e.unlock()

	e.metrics.update(func(s *MetricsSnapshot) {
		s.Operations++
		s.Sets++
	})

	if err := e.store.Set(key, value, 0); err != nil {
		e.metrics.update(func(s *MetricsSnapshot) { s.Errors++ })
		return err
	}
	e.state[key] = value
	e.dirty = true

	if e.journal != nil {
		if err := e.journal.LogSet(key, value); err != nil {
			logging.Warn(nil, logging.ComponentJournal, logging.ActionSet,
				"Failed to journal SET", map[string]interface{}{
					"key":   key,
					"error": err.Error(),
				})
		}
	}
	return nil
}

// Delete removes key from both the cache and the state, reporting whether
// it was present.
func (e *Engine) Delete(key string) bool {
	e.lock()
	defer e.unlock()

	e.metrics.update(func(s *MetricsSnapshot) {
		s.Operations++
		s.Deletes++
	})

	e.store.Delete(key)
	_, existed := e.state[key]
	if existed {
		delete(e.state, key)
		e.dirty = true
		if e.journal != nil {
			if err := e.journal.LogDelete(key); err != nil {
				logging.Warn(nil, logging.ComponentJournal, logging.ActionDelete,
					"Failed to journal DEL", map[string]interface{}{
						"key":   key,
						"error": err.Error(),
					})
			}
		}
	}
	return existed
}

// Clear empties the cache and the authoritative state.
func (e *Engine) Clear() {
	e.lock()
	defer e.unlock()

	e.metrics.update(func(s *MetricsSnapshot) { s.Operations++ })

	e.store.Clear()
	e.state = make(map[string]interface{})
	e.dirty = true
	if e.journal != nil {
		if err := e.journal.LogClear(); err != nil {
			logging.Warn(nil, logging.ComponentJournal, logging.ActionDelete,
				"Failed to journal CLEAR", map[string]interface{}{
					"error": err.Error(),
				})
		}
	}
}

// CreateSnapshot stores a full snapshot of the current state.
func (e *Engine) CreateSnapshot(opts snapshot.Options) (string, error) {
	e.lock()
	state := delta.CopyState(e.state)
	// The copy is what gets persisted, so the flag clears here; a write
	// landing while the snapshot is on its way to disk re-dirties the
	// engine instead of being masked by a reset after the fact.
	wasDirty := e.dirty
	e.dirty = false
	e.unlock()

	version, err := e.snapshots.CreateSnapshot(state, opts)
	if err != nil {
		e.lock()
		e.dirty = e.dirty || wasDirty
		e.unlock()
		e.metrics.update(func(s *MetricsSnapshot) { s.Errors++ })
		return "", err
	}

	e.lock()
	if e.chain != nil {
		e.chain.Rebaseline()
	}
	e.unlock()

	e.metrics.update(func(s *MetricsSnapshot) {
		s.Operations++
		s.Snapshots++
	})
	return version, nil
}

// CreateDeltaSnapshot stores a delta snapshot of the current state
// against baseVersion, or the latest snapshot when empty.
func (e *Engine) CreateDeltaSnapshot(baseVersion string, opts snapshot.Options) (string, error) {
	e.lock()
	state := delta.CopyState(e.state)
	wasDirty := e.dirty
	e.dirty = false
	e.unlock()

	version, err := e.snapshots.CreateDeltaSnapshot(state, baseVersion, opts)
	if err != nil {
		e.lock()
		e.dirty = e.dirty || wasDirty
		e.unlock()
		e.metrics.update(func(s *MetricsSnapshot) { s.Errors++ })
		return "", err
	}

	e.metrics.update(func(s *MetricsSnapshot) {
		s.Operations++
		s.Snapshots++
	})
	return version, nil
}

// RestoreSnapshot replaces the current state with a snapshot's data.
func (e *Engine) RestoreSnapshot(version string) error {
	data, _, err := e.snapshots.GetSnapshot(version)
	if err != nil {
		e.metrics.update(func(s *MetricsSnapshot) { s.Errors++ })
		return err
	}
	return e.adoptState(data)
}

// RestoreSnapshotByTag restores the most recent snapshot carrying tag.
func (e *Engine) RestoreSnapshotByTag(tag string) error {
	data, _, err := e.snapshots.GetSnapshotByTag(tag, true)
	if err != nil {
		e.metrics.update(func(s *MetricsSnapshot) { s.Errors++ })
		return err
	}
	return e.adoptState(data)
}

// adoptState installs data as the authoritative state, rewrites the state
// file, and rebuilds the cache.
func (e *Engine) adoptState(data map[string]interface{}) error {
	e.lock()
	defer e.unlock()

	e.state = delta.CopyState(data)
	e.repopulateCacheLocked()
	if err := e.writeStateLocked(); err != nil {
		e.metrics.update(func(s *MetricsSnapshot) { s.Errors++ })
		return err
	}
	if e.journal != nil {
		e.journal.Truncate()
	}
	e.dirty = false
	if e.chain != nil {
		e.chain.Rebaseline()
	}

	e.metrics.update(func(s *MetricsSnapshot) {
		s.Operations++
		s.Restores++
	})
	return nil
}

// ListSnapshots returns metadata for every stored snapshot, oldest first.
func (e *Engine) ListSnapshots() []*snapshot.Metadata {
	return e.snapshots.ListSnapshots()
}

// CompareSnapshots diffs two stored snapshots.
func (e *Engine) CompareSnapshots(v1, v2 string) (*delta.Delta, error) {
	return e.snapshots.CompareSnapshots(v1, v2)
}

// Snapshots exposes the underlying snapshot manager for tag, delete,
// export, and import operations.
func (e *Engine) Snapshots() *snapshot.Manager {
	return e.snapshots
}

// State returns a deep copy of the authoritative state map.
func (e *Engine) State() map[string]interface{} {
	e.lock()
	defer e.unlock()
	return delta.CopyState(e.state)
}

// HasChangesSinceLastSnapshot reports whether any mutation happened since
// the last snapshot or restore.
func (e *Engine) HasChangesSinceLastSnapshot() bool {
	e.lock()
	defer e.unlock()
	return e.dirty
}

// ChainMetrics returns the delta chain's metrics, or zero metrics when
// delta tracking is disabled.
func (e *Engine) ChainMetrics() delta.ChainMetrics {
	if e.chain == nil {
		return delta.ChainMetrics{}
	}
	return e.chain.Metrics()
}

// Metrics returns a snapshot of the engine's counters.
func (e *Engine) Metrics() MetricsSnapshot {
	return e.metrics.Snapshot()
}

// ResetMetrics zeroes the engine's counters.
func (e *Engine) ResetMetrics() {
	e.metrics.Reset()
}

// exportArchive is the whole-store transport format.
type exportArchive struct {
	InstanceID string
	CreatedAt  time.Time
	Checksum   uint64
	Compressed bool
	Payload    []byte
}

// ExportData writes the full current state to a standalone archive file.
func (e *Engine) ExportData(path string) error {
	e.lock()
	state := delta.CopyState(e.state)
	e.unlock()

	payload, err := encodeStatePayload(state)
	if err != nil {
		return fmt.Errorf("%w: failed to serialize export: %v", errs.ErrPersistence, err)
	}

	arch := exportArchive{
		InstanceID: e.config.InstanceID,
		CreatedAt:  time.Now(),
		Checksum:   xxhash.Sum64(payload),
		Compressed: e.config.Compression,
		Payload:    payload,
	}
	if e.config.Compression {
		if arch.Payload, err = compressPayload(payload); err != nil {
			return fmt.Errorf("%w: failed to compress export: %v", errs.ErrPersistence, err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: failed to create export file: %v", errs.ErrPersistence, err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(&arch); err != nil {
		return fmt.Errorf("%w: failed to encode export file: %v", errs.ErrPersistence, err)
	}

	logging.Info(nil, logging.ComponentPersistence, logging.ActionExport,
		"Store exported", map[string]interface{}{
			"path": path,
			"keys": len(state),
		})
	return nil
}

// ImportData replaces the current state with the contents of an archive
// written by ExportData.
func (e *Engine) ImportData(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: failed to open import file: %v", errs.ErrPersistence, err)
	}
	defer file.Close()

	var arch exportArchive
	if err := gob.NewDecoder(file).Decode(&arch); err != nil {
		return fmt.Errorf("%w: failed to decode import file: %v", errs.ErrPersistence, err)
	}

	payload := arch.Payload
	if arch.Compressed {
		if payload, err = decompressPayload(payload); err != nil {
			return errs.DataIntegrity("failed to decompress import: %v", err)
		}
	}
	if xxhash.Sum64(payload) != arch.Checksum {
		return errs.DataIntegrity("import checksum mismatch")
	}

	state, err := decodeStatePayload(payload)
	if err != nil {
		return errs.DataIntegrity("failed to decode import payload: %v", err)
	}

	if err := e.adoptState(state); err != nil {
		return err
	}
	e.lock()
	e.dirty = true
	e.unlock()

	logging.Info(nil, logging.ComponentPersistence, logging.ActionImport,
		"Store imported", map[string]interface{}{
			"path": path,
			"keys": len(state),
		})
	return nil
}

// writeStateLocked rewrites the durable state file atomically.
func (e *Engine) writeStateLocked() error {
	payload, err := encodeStatePayload(e.state)
	if err != nil {
		return fmt.Errorf("%w: failed to serialize state: %v", errs.ErrPersistence, err)
	}

	arch := exportArchive{
		InstanceID: e.config.InstanceID,
		CreatedAt:  time.Now(),
		Checksum:   xxhash.Sum64(payload),
		Compressed: e.config.Compression,
		Payload:    payload,
	}
	if e.config.Compression {
		if arch.Payload, err = compressPayload(payload); err != nil {
			return fmt.Errorf("%w: failed to compress state: %v", errs.ErrPersistence, err)
		}
	}

	path := filepath.Join(e.config.BasePath, stateFileName)
	tempFile := path + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("%w: failed to create state file: %v", errs.ErrPersistence, err)
	}
	if err := gob.NewEncoder(file).Encode(&arch); err != nil {
		file.Close()
		os.Remove(tempFile)
		return fmt.Errorf("%w: failed to encode state file: %v", errs.ErrPersistence, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempFile)
		return fmt.Errorf("%w: failed to sync state file: %v", errs.ErrPersistence, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("%w: failed to close state file: %v", errs.ErrPersistence, err)
	}
	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("%w: failed to finalize state file: %v", errs.ErrPersistence, err)
	}
	return nil
}

// readStateLocked reads the durable state file, returning an empty state
// when none exists yet.
func (e *Engine) readStateLocked() (map[string]interface{}, error) {
	path := filepath.Join(e.config.BasePath, stateFileName)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]interface{}), nil
		}
		return nil, fmt.Errorf("%w: failed to open state file: %v", errs.ErrPersistence, err)
	}
	defer file.Close()

	var arch exportArchive
	if err := gob.NewDecoder(file).Decode(&arch); err != nil {
		return nil, errs.DataIntegrity("failed to decode state file: %v", err)
	}

	payload := arch.Payload
	if arch.Compressed {
		if payload, err = decompressPayload(payload); err != nil {
			return nil, errs.DataIntegrity("failed to decompress state file: %v", err)
		}
	}
	if xxhash.Sum64(payload) != arch.Checksum {
		return nil, errs.DataIntegrity("state file checksum mismatch")
	}
	return decodeStatePayload(payload)
}

// repopulateCacheLocked rebuilds the write-through cache from the
// authoritative state.
func (e *Engine) repopulateCacheLocked() {
	e.store.Clear()
	for key, value := range e.state {
		if err := e.store.Set(key, value, 0); err != nil {
			logging.Debug(nil, logging.ComponentPersistence, logging.ActionRestore,
				"Skipped cache repopulation for key", map[string]interface{}{
					"key":   key,
					"error": err.Error(),
				})
		}
	}
}

// autoSnapshotLoop periodically snapshots the state when changes exist.
// Failures are logged; the timer re-arms without retrying early.
func (e *Engine) autoSnapshotLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.AutoSnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			if !e.HasChangesSinceLastSnapshot() {
				continue
			}
			var err error
			if e.config.AutoSnapshotDelta && len(e.snapshots.ListVersions()) > 0 {
				_, err = e.CreateDeltaSnapshot("", snapshot.Options{
					Description: "auto snapshot",
				})
			} else {
				_, err = e.CreateSnapshot(snapshot.Options{
					Description: "auto snapshot",
				})
			}
			if err != nil {
				logging.Error(nil, logging.ComponentPersistence, logging.ActionSnapshot,
					"Auto snapshot failed", err)
			}
		}
	}
}

func encodeStatePayload(state map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeStatePayload(payload []byte) (map[string]interface{}, error) {
	var state map[string]interface{}
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&state); err != nil {
		return nil, errs.DataIntegrity("failed to decode state payload: %v", err)
	}
	return state, nil
}

func compressPayload(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressPayload(data []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(data))
	return io.ReadAll(zr)
}
