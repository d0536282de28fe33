package persistence

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"statevault/internal/logging"
)

// JournalConfig defines operation-journal behavior.
type JournalConfig struct {
	Path         string
	SyncPolicy   string // "always", "everysec", "no"
	SyncInterval time.Duration
}

// JournalEntry represents a single logged operation. Values travel as a
// gob payload so replay reproduces their concrete type.
type JournalEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"` // "SET", "DEL", "CLEAR"
	Key       string    `json:"key,omitempty"`
	Value     []byte    `json:"value,omitempty"`
}

// Journal is an append-only log of mutating operations, replayed over the
// loaded state at startup and truncated after a successful save.
type Journal struct {
	config JournalConfig
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex

	stats struct {
		TotalWrites int64
		LogSize     int64
		LastWrite   time.Time
		LastSync    time.Time
	}

	stopSync  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewJournal creates a journal writing to config.Path.
func NewJournal(config JournalConfig) *Journal {
	if config.SyncInterval <= 0 {
		config.SyncInterval = time.Second
	}
	return &Journal{
		config:   config,
		stopSync: make(chan struct{}),
	}
}

// Open opens or creates the journal file for appending and starts the
// periodic sync worker when the policy calls for one.
func (j *Journal) Open() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(j.config.Path), 0755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	file, err := os.OpenFile(j.config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal file: %w", err)
	}

	j.file = file
	j.writer = bufio.NewWriterSize(file, 64*1024)

	if info, err := file.Stat(); err == nil {
		j.stats.LogSize = info.Size()
	}

	if j.config.SyncPolicy == "everysec" {
		j.wg.Add(1)
		go j.syncLoop()
	}
	return nil
}

// Close flushes pending writes and closes the journal file.
func (j *Journal) Close() error {
	var closeErr error
	j.closeOnce.Do(func() {
		close(j.stopSync)
		j.wg.Wait()

		j.mu.Lock()
		defer j.mu.Unlock()

		if j.writer != nil {
			j.writer.Flush()
			j.writer = nil
		}
		if j.file != nil {
			closeErr = j.file.Close()
			j.file = nil
		}
	})
	return closeErr
}

// LogSet appends a SET operation.
func (j *Journal) LogSet(key string, value interface{}) error {
	payload, err := encodeJournalValue(value)
	if err != nil {
		return fmt.Errorf("failed to encode journal value: %w", err)
	}
	return j.writeEntry(JournalEntry{
		Timestamp: time.Now(),
		Operation: "SET",
		Key:       key,
		Value:     payload,
	})
}

// LogDelete appends a DEL operation.
func (j *Journal) LogDelete(key string) error {
	return j.writeEntry(JournalEntry{
		Timestamp: time.Now(),
		Operation: "DEL",
		Key:       key,
	})
}

// LogClear appends a CLEAR operation.
func (j *Journal) LogClear() error {
	return j.writeEntry(JournalEntry{
		Timestamp: time.Now(),
		Operation: "CLEAR",
	})
}

// writeEntry serializes an entry as one JSON line and applies the sync
// policy.
func (j *Journal) writeEntry(entry JournalEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.writer == nil {
		return fmt.Errorf("journal is not open")
	}
	if _, err := j.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}

	j.stats.TotalWrites++
	j.stats.LogSize += int64(len(data)) + 1
	j.stats.LastWrite = time.Now()

	if j.config.SyncPolicy == "always" {
		if err := j.writer.Flush(); err != nil {
			return fmt.Errorf("failed to flush journal: %w", err)
		}
		if err := j.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync journal: %w", err)
		}
		j.stats.LastSync = time.Now()
	}
	return nil
}

// Replay reads every journal entry from disk in write order.
func (j *Journal) Replay() ([]JournalEntry, error) {
	j.mu.Lock()
	if j.writer != nil {
		j.writer.Flush()
	}
	j.mu.Unlock()

	file, err := os.Open(j.config.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open journal for replay: %w", err)
	}
	defer file.Close()

	var entries []JournalEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var entry JournalEntry
		if err := json.Unmarshal(raw, &entry); err != nil {
			// A torn final write is expected after a crash; stop there.
			logging.Warn(nil, logging.ComponentJournal, logging.ActionReplay,
				"Stopping replay at corrupt journal line", map[string]interface{}{
					"line":  line,
					"error": err.Error(),
				})
			break
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan journal: %w", err)
	}
	return entries, nil
}

// Truncate discards the journal contents, typically after a successful
// full-state save made the logged operations redundant.
func (j *Journal) Truncate() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.writer != nil {
		j.writer.Flush()
	}
	if j.file != nil {
		if err := j.file.Truncate(0); err != nil {
			return fmt.Errorf("failed to truncate journal: %w", err)
		}
		if _, err := j.file.Seek(0, 0); err != nil {
			return fmt.Errorf("failed to rewind journal: %w", err)
		}
	}
	j.stats.LogSize = 0
	return nil
}

// Stats returns journal counters.
func (j *Journal) Stats() map[string]interface{} {
	j.mu.Lock()
	defer j.mu.Unlock()
	return map[string]interface{}{
		"total_writes": j.stats.TotalWrites,
		"log_size":     j.stats.LogSize,
		"last_write":   j.stats.LastWrite,
		"last_sync":    j.stats.LastSync,
	}
}

// syncLoop flushes the journal once per sync interval.
func (j *Journal) syncLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.mu.Lock()
			if j.writer != nil {
				j.writer.Flush()
				j.file.Sync()
				j.stats.LastSync = time.Now()
			}
			j.mu.Unlock()
		case <-j.stopSync:
			return
		}
	}
}

// DecodeValue converts a journal value payload back into its value.
func (e *JournalEntry) DecodeValue() (interface{}, error) {
	if len(e.Value) == 0 {
		return nil, nil
	}
	var value interface{}
	if err := gob.NewDecoder(bytes.NewReader(e.Value)).Decode(&value); err != nil {
		return nil, fmt.Errorf("failed to decode journal value: %w", err)
	}
	return value, nil
}

func encodeJournalValue(value interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
