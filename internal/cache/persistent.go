package cache

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"statevault/internal/logging"
)

// PersistentConfig holds configuration for a PersistentCache.
type PersistentConfig struct {
	Cache           Config
	FilePath        string        // Durable entry file
	PersistInterval time.Duration // 0 = manual Persist only
	PersistOnClose  bool
}

// persistedEntry is the durable form of an Entry.
type persistedEntry struct {
	Key          string
	ValueBytes   []byte
	ValueType    string
	Size         uint64
	CreatedAt    time.Time
	ExpiresAt    time.Time
	AccessCount  uint64
	LastAccessed time.Time
}

// PersistentCache wraps a Cache with periodic and on-demand serialization
// of its full entry set to durable storage. Construction replays the
// previously persisted entries, silently dropping any that expired while
// on disk.
type PersistentCache struct {
	*Cache

	config      PersistentConfig
	persistMu   sync.Mutex
	stopPersist chan struct{}
	closeOnce   sync.Once
}

// NewPersistent creates a PersistentCache, loading any previously
// persisted entries.
func NewPersistent(config PersistentConfig) (*PersistentCache, error) {
	if config.FilePath == "" {
		return nil, fmt.Errorf("persistent cache file path cannot be empty")
	}

	inner, err := New(config.Cache)
	if err != nil {
		return nil, err
	}

	pc := &PersistentCache{
		Cache:       inner,
		config:      config,
		stopPersist: make(chan struct{}),
	}

	if err := pc.loadEntries(); err != nil {
		inner.Close()
		return nil, fmt.Errorf("failed to load persisted entries: %w", err)
	}

	if config.PersistInterval > 0 {
		go pc.persistLoop()
	}

	return pc, nil
}

// Persist serializes the full unexpired entry set to the configured file,
// writing a temp file first and renaming it into place.
func (pc *PersistentCache) Persist() error {
	pc.persistMu.Lock()
	defer pc.persistMu.Unlock()

	entries := pc.entriesSnapshot()
	persisted := make([]persistedEntry, 0, len(entries))
	for _, e := range entries {
		persisted = append(persisted, persistedEntry{
			Key:          e.Key,
			ValueBytes:   e.ValueBytes,
			ValueType:    e.ValueType,
			Size:         e.Size,
			CreatedAt:    e.CreatedAt,
			ExpiresAt:    e.ExpiresAt,
			AccessCount:  e.AccessCount,
			LastAccessed: e.LastAccessed,
		})
	}

	if dir := filepath.Dir(pc.config.FilePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	tempFile := pc.config.FilePath + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create cache file: %w", err)
	}

	encoder := gob.NewEncoder(file)
	if err := encoder.Encode(persisted); err != nil {
		file.Close()
		os.Remove(tempFile)
		return fmt.Errorf("failed to encode cache entries: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempFile)
		return fmt.Errorf("failed to sync cache file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to close cache file: %w", err)
	}

	if err := os.Rename(tempFile, pc.config.FilePath); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to finalize cache file: %w", err)
	}

	logging.Debug(nil, logging.ComponentCache, logging.ActionPersist,
		"Cache entries persisted", map[string]interface{}{
			"cache":   pc.config.Cache.Name,
			"entries": len(persisted),
			"file":    pc.config.FilePath,
		})
	return nil
}

// loadEntries replays the persisted entry file into the cache.
func (pc *PersistentCache) loadEntries() error {
	file, err := os.Open(pc.config.FilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // First run, nothing persisted yet.
		}
		return err
	}
	defer file.Close()

	var persisted []persistedEntry
	decoder := gob.NewDecoder(file)
	if err := decoder.Decode(&persisted); err != nil {
		return fmt.Errorf("failed to decode cache entries: %w", err)
	}

	loaded, dropped := 0, 0
	for i := range persisted {
		p := &persisted[i]
		entry := &Entry{
			Key:          p.Key,
			ValueBytes:   p.ValueBytes,
			ValueType:    p.ValueType,
			Size:         p.Size,
			CreatedAt:    p.CreatedAt,
			ExpiresAt:    p.ExpiresAt,
			AccessCount:  p.AccessCount,
			LastAccessed: p.LastAccessed,
		}
		if entry.IsExpired() {
			dropped++
			continue
		}
		pc.restoreEntry(entry)
		loaded++
	}

	logging.Info(nil, logging.ComponentCache, logging.ActionRestore,
		"Persisted cache entries loaded", map[string]interface{}{
			"cache":   pc.config.Cache.Name,
			"loaded":  loaded,
			"expired": dropped,
		})
	return nil
}

// persistLoop writes the entry set on a fixed interval. A failed attempt
// is logged and retried on the next tick.
func (pc *PersistentCache) persistLoop() {
	ticker := time.NewTicker(pc.config.PersistInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := pc.Persist(); err != nil {
				logging.Error(nil, logging.ComponentCache, logging.ActionPersist,
					"Periodic cache persist failed", err, map[string]interface{}{
						"cache": pc.config.Cache.Name,
					})
			}
		case <-pc.stopPersist:
			return
		}
	}
}

// Close stops the persist loop, optionally persisting a final time, and
// shuts down the wrapped cache.
func (pc *PersistentCache) Close() {
	pc.closeOnce.Do(func() {
		close(pc.stopPersist)
		if pc.config.PersistOnClose {
			if err := pc.Persist(); err != nil {
				logging.Error(nil, logging.ComponentCache, logging.ActionPersist,
					"Final cache persist failed", err, map[string]interface{}{
						"cache": pc.config.Cache.Name,
					})
			}
		}
		pc.Cache.Close()
	})
}
