// Package snapshot stores versioned, tagged, durably persisted copies of
// state, either standalone or as deltas relative to another snapshot, with
// a registry file as the single source of truth for what exists.
package snapshot

import (
	"bytes"
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

	"statevault/internal/delta"
	"statevault/internal/errs"
	"statevault/internal/logging"
)

const registryFileName = "registry.json"

// Config holds configuration for a Manager.
type Config struct {
	Dir          string // Directory holding data files and the registry
	MaxSnapshots int    // Oldest-first retention limit, 0 = unlimited
	Compression  bool   // lz4-compress data payloads
	ThreadSafe   bool
}

// Options carries the caller-supplied attributes of a new snapshot.
type Options struct {
	Version     string // Auto-generated when empty
	Tags        []string
	Description string
	UserInfo    map[string]interface{}
}

// Manager creates, resolves, compares, and transports snapshots. Delta
// snapshots are computed through the delta engine; recursive delta bases
// are resolved on read.
type Manager struct {
	config   Config
	registry *registry
	engine   *delta.Engine
	mutex    sync.Mutex
}

// dataEnvelope is the on-disk form of a snapshot data file.
type dataEnvelope struct {
	Kind       string
	Checksum   uint64
	Compressed bool
	Payload    []byte
}

// archive is the self-contained export/import form of a snapshot.
type archive struct {
	Metadata *Metadata
	Envelope dataEnvelope
}

// NewManager creates a Manager rooted at config.Dir, loading the
// persisted registry.
func NewManager(config Config, engine *delta.Engine) (*Manager, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("snapshot directory cannot be empty")
	}
	if engine == nil {
		engine = delta.NewEngine(config.Compression)
	}
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	reg, err := loadRegistry(filepath.Join(config.Dir, registryFileName))
	if err != nil {
		return nil, err
	}

	return &Manager{
		config:   config,
		registry: reg,
		engine:   engine,
	}, nil
}

func (m *Manager) lock() {
	if m.config.ThreadSafe {
		m.mutex.Lock()
	}
}

func (m *Manager) unlock() {
	if m.config.ThreadSafe {
		m.mutex.Unlock()
	}
}

// CreateSnapshot persists data as a standalone snapshot and returns its
// version id. The data file is written before the registry references it.
func (m *Manager) CreateSnapshot(data map[string]interface{}, opts Options) (string, error) {
	m.lock()
	defer m.unlock()

	payload, err := encodeState(data)
	if err != nil {
		return "", fmt.Errorf("%w: failed to serialize snapshot: %v", errs.ErrPersistence, err)
	}
	return m.storeLocked(KindFull, "", payload, opts)
}

// CreateDeltaSnapshot persists data as a delta against baseVersion (the
// latest snapshot when empty) and returns the new version id.
func (m *Manager) CreateDeltaSnapshot(data map[string]interface{}, baseVersion string, opts Options) (string, error) {
	m.lock()
	defer m.unlock()

	if baseVersion == "" {
		all := m.registry.sorted()
		if len(all) == 0 {
			return "", errs.SnapshotNotFound("no base snapshot for delta")
		}
		baseVersion = all[len(all)-1].Version
	}

	baseData, err := m.resolveLocked(baseVersion, nil)
	if err != nil {
		return "", err
	}

	d := m.engine.CalculateDelta(baseData, data, false)
	record, err := m.engine.CreateDeltaRecord(d.Changes, d.RemovedKeys, time.Time{})
	if err != nil {
		return "", err
	}
	payload, err := m.engine.SerializeDelta(record)
	if err != nil {
		return "", err
	}

	// The content hash covers the logical (reconstructed) data, not the
	// delta encoding, so full and delta snapshots of equal content match.
	fullPayload, err := encodeState(data)
	if err != nil {
		return "", fmt.Errorf("%w: failed to serialize snapshot: %v", errs.ErrPersistence, err)
	}

	version, err := m.storeLocked(KindDelta, baseVersion, payload, opts)
	if err != nil {
		return "", err
	}
	if entry, ok := m.registry.get(version); ok {
		entry.Metadata.ContentHash = fmt.Sprintf("%016x", xxhash.Sum64(fullPayload))
		if err := m.registry.save(); err != nil {
			return "", err
		}
	}
	return version, nil
}

// storeLocked writes the data file, registers the snapshot, and enforces
// the retention limit.
func (m *Manager) storeLocked(kind, baseVersion string, payload []byte, opts Options) (string, error) {
	version := opts.Version
	if version == "" {
		version = uuid.New().String()
	}
	if _, exists := m.registry.get(version); exists {
		return "", errs.Versioning("version already exists: %s", version)
	}

	envelope := dataEnvelope{
		Kind:       kind,
		Checksum:   xxhash.Sum64(payload),
		Compressed: m.config.Compression,
		Payload:    payload,
	}
	if m.config.Compression {
		compressed, err := compressPayload(payload)
		if err != nil {
			return "", fmt.Errorf("%w: failed to compress snapshot: %v", errs.ErrPersistence, err)
		}
		envelope.Payload = compressed
	}

	fileName := version + ".snap"
	if err := writeEnvelope(filepath.Join(m.config.Dir, fileName), &envelope); err != nil {
		return "", err
	}

	md := &Metadata{
		Version:     version,
		Kind:        kind,
		BaseVersion: baseVersion,
		CreatedAt:   time.Now(),
		Tags:        append([]string(nil), opts.Tags...),
		Description: opts.Description,
		UserInfo:    opts.UserInfo,
		ContentHash: fmt.Sprintf("%016x", envelope.Checksum),
		SizeBytes:   int64(len(envelope.Payload)),
	}
	m.registry.put(md, fileName)

	if err := m.enforceLimitLocked(); err != nil {
		return "", err
	}
	if err := m.registry.save(); err != nil {
		return "", err
	}

	logging.Info(nil, logging.ComponentSnapshot, logging.ActionSnapshot,
		"Snapshot created", map[string]interface{}{
			"version": version,
			"kind":    kind,
			"bytes":   md.SizeBytes,
		})
	return version, nil
}

// enforceLimitLocked evicts the oldest snapshots once the retention limit
// is exceeded. The registry is saved by the caller.
func (m *Manager) enforceLimitLocked() error {
	if m.config.MaxSnapshots <= 0 {
		return nil
	}
	all := m.registry.sorted()
	for len(all) > m.config.MaxSnapshots {
		oldest := all[0]
		if entry, ok := m.registry.get(oldest.Version); ok {
			os.Remove(filepath.Join(m.config.Dir, entry.File))
		}
		m.registry.remove(oldest.Version)
		logging.Debug(nil, logging.ComponentSnapshot, logging.ActionCleanup,
			"Retention limit evicted snapshot", map[string]interface{}{
				"version": oldest.Version,
			})
		all = all[1:]
	}
	return nil
}

// GetSnapshot returns the fully reconstructed data and metadata for a
// version, resolving recursive delta bases.
func (m *Manager) GetSnapshot(version string) (map[string]interface{}, *Metadata, error) {
	m.lock()
	defer m.unlock()

	entry, ok := m.registry.get(version)
	if !ok {
		return nil, nil, errs.SnapshotNotFound(version)
	}
	data, err := m.resolveLocked(version, nil)
	if err != nil {
		return nil, nil, err
	}
	return data, entry.Metadata, nil
}

// GetLatestSnapshot returns the most recently created snapshot.
func (m *Manager) GetLatestSnapshot() (map[string]interface{}, *Metadata, error) {
	m.lock()
	all := m.registry.sorted()
	m.unlock()

	if len(all) == 0 {
		return nil, nil, errs.SnapshotNotFound("no snapshots exist")
	}
	return m.GetSnapshot(all[len(all)-1].Version)
}

// GetSnapshotByTag returns a snapshot carrying the tag; the most recent
// match when latest is true, the oldest otherwise.
func (m *Manager) GetSnapshotByTag(tag string, latest bool) (map[string]interface{}, *Metadata, error) {
	m.lock()
	var match *Metadata
	for _, md := range m.registry.sorted() {
		if md.HasTag(tag) {
			match = md
			if !latest {
				break
			}
		}
	}
	m.unlock()

	if match == nil {
		return nil, nil, errs.SnapshotNotFound("tag: " + tag)
	}
	return m.GetSnapshot(match.Version)
}

// resolveLocked loads a snapshot's data, replaying delta chains back to
// their full base. visited guards against reference cycles.
func (m *Manager) resolveLocked(version string, visited map[string]bool) (map[string]interface{}, error) {
	if visited[version] {
		return nil, errs.Versioning("snapshot base cycle at %s", version)
	}
	entry, ok := m.registry.get(version)
	if !ok {
		return nil, errs.SnapshotNotFound(version)
	}

	envelope, err := readEnvelope(filepath.Join(m.config.Dir, entry.File))
	if err != nil {
		return nil, err
	}

	if envelope.Kind == KindFull {
		return decodeState(envelope.Payload)
	}

	record, err := m.engine.DeserializeDelta(envelope.Payload)
	if err != nil {
		return nil, err
	}
	if visited == nil {
		visited = make(map[string]bool)
	}
	visited[version] = true
	baseData, err := m.resolveLocked(entry.Metadata.BaseVersion, visited)
	if err != nil {
		return nil, err
	}
	return m.engine.ApplyDelta(baseData, &record.Delta), nil
}

// ListSnapshots returns all metadata, oldest first.
func (m *Manager) ListSnapshots() []*Metadata {
	m.lock()
	defer m.unlock()
	return m.registry.sorted()
}

// ListVersions returns all version ids, oldest first.
func (m *Manager) ListVersions() []string {
	m.lock()
	defer m.unlock()

	all := m.registry.sorted()
	versions := make([]string, len(all))
	for i, md := range all {
		versions[i] = md.Version
	}
	return versions
}

// ListTags returns the distinct tags across all snapshots.
func (m *Manager) ListTags() []string {
	m.lock()
	defer m.unlock()

	seen := make(map[string]bool)
	var tags []string
	for _, md := range m.registry.sorted() {
		for _, tag := range md.Tags {
			if !seen[tag] {
				seen[tag] = true
				tags = append(tags, tag)
			}
		}
	}
	return tags
}

// TagSnapshot adds a tag to a snapshot.
func (m *Manager) TagSnapshot(version, tag string) error {
	m.lock()
	defer m.unlock()

	entry, ok := m.registry.get(version)
	if !ok {
		return errs.SnapshotNotFound(version)
	}
	if entry.Metadata.HasTag(tag) {
		return nil
	}
	entry.Metadata.Tags = append(entry.Metadata.Tags, tag)
	return m.registry.save()
}

// UntagSnapshot removes a tag from a snapshot.
func (m *Manager) UntagSnapshot(version, tag string) error {
	m.lock()
	defer m.unlock()

	entry, ok := m.registry.get(version)
	if !ok {
		return errs.SnapshotNotFound(version)
	}
	tags := entry.Metadata.Tags[:0]
	for _, t := range entry.Metadata.Tags {
		if t != tag {
			tags = append(tags, t)
		}
	}
	entry.Metadata.Tags = tags
	return m.registry.save()
}

// DeleteSnapshot removes a snapshot's data and registry entry. Dependent
// delta snapshots are not cascade-deleted; accessing an orphan later
// fails with ErrSnapshotNotFound.
func (m *Manager) DeleteSnapshot(version string) error {
	m.lock()
	defer m.unlock()

	entry, ok := m.registry.get(version)
	if !ok {
		return errs.SnapshotNotFound(version)
	}
	if err := os.Remove(filepath.Join(m.config.Dir, entry.File)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: failed to remove snapshot data: %v", errs.ErrPersistence, err)
	}
	m.registry.remove(version)
	return m.registry.save()
}

// CompareSnapshots diffs the fully reconstructed states of two versions.
func (m *Manager) CompareSnapshots(v1, v2 string) (*delta.Delta, error) {
	m.lock()
	defer m.unlock()

	state1, err := m.resolveLocked(v1, nil)
	if err != nil {
		return nil, err
	}
	state2, err := m.resolveLocked(v2, nil)
	if err != nil {
		return nil, err
	}
	return m.engine.CalculateDelta(state1, state2, false), nil
}

// ExportSnapshot writes a self-contained archive of the snapshot to path.
// Delta snapshots are exported fully reconstructed so the archive never
// depends on the source store.
func (m *Manager) ExportSnapshot(version, path string) error {
	m.lock()
	defer m.unlock()

	entry, ok := m.registry.get(version)
	if !ok {
		return errs.SnapshotNotFound(version)
	}
	data, err := m.resolveLocked(version, nil)
	if err != nil {
		return err
	}
	payload, err := encodeState(data)
	if err != nil {
		return fmt.Errorf("%w: failed to serialize snapshot: %v", errs.ErrPersistence, err)
	}

	md := *entry.Metadata
	md.Kind = KindFull
	md.BaseVersion = ""
	md.ContentHash = fmt.Sprintf("%016x", xxhash.Sum64(payload))
	md.SizeBytes = int64(len(payload))

	arch := archive{
		Metadata: &md,
		Envelope: dataEnvelope{
			Kind:     KindFull,
			Checksum: xxhash.Sum64(payload),
			Payload:  payload,
		},
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: failed to create export file: %v", errs.ErrPersistence, err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(&arch); err != nil {
		return fmt.Errorf("%w: failed to encode export archive: %v", errs.ErrPersistence, err)
	}

	logging.Info(nil, logging.ComponentSnapshot, logging.ActionExport,
		"Snapshot exported", map[string]interface{}{
			"version": version,
			"path":    path,
		})
	return nil
}

// ImportSnapshot reads an archive written by ExportSnapshot, registering
// it under newVersion (the archive's own version when empty).
func (m *Manager) ImportSnapshot(path, newVersion string) (string, error) {
	m.lock()
	defer m.unlock()

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: failed to open import file: %v", errs.ErrPersistence, err)
	}
	defer file.Close()

	var arch archive
	if err := gob.NewDecoder(file).Decode(&arch); err != nil {
		return "", fmt.Errorf("%w: failed to decode import archive: %v", errs.ErrPersistence, err)
	}
	if arch.Metadata == nil {
		return "", errs.DataIntegrity("import archive has no metadata")
	}
	if xxhash.Sum64(arch.Envelope.Payload) != arch.Envelope.Checksum {
		return "", errs.DataIntegrity("import archive checksum mismatch")
	}
	data, err := decodeState(arch.Envelope.Payload)
	if err != nil {
		return "", err
	}

	version := newVersion
	if version == "" {
		version = arch.Metadata.Version
	}
	return m.storeLocked(KindFull, "", mustEncodeState(data), Options{
		Version:     version,
		Tags:        arch.Metadata.Tags,
		Description: arch.Metadata.Description,
		UserInfo:    arch.Metadata.UserInfo,
	})
}

// ClearAll irreversibly deletes every snapshot and resets the registry.
func (m *Manager) ClearAll() error {
	m.lock()
	defer m.unlock()

	for _, md := range m.registry.sorted() {
		if entry, ok := m.registry.get(md.Version); ok {
			os.Remove(filepath.Join(m.config.Dir, entry.File))
		}
		m.registry.remove(md.Version)
	}
	return m.registry.save()
}

// File helpers

func writeEnvelope(path string, envelope *dataEnvelope) error {
	tempFile := path + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("%w: failed to create snapshot file: %v", errs.ErrPersistence, err)
	}
	if err := gob.NewEncoder(file).Encode(envelope); err != nil {
		file.Close()
		os.Remove(tempFile)
		return fmt.Errorf("%w: failed to encode snapshot file: %v", errs.ErrPersistence, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempFile)
		return fmt.Errorf("%w: failed to sync snapshot file: %v", errs.ErrPersistence, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("%w: failed to close snapshot file: %v", errs.ErrPersistence, err)
	}
	if err := os.Rename(tempFile, path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("%w: failed to finalize snapshot file: %v", errs.ErrPersistence, err)
	}
	return nil
}

func readEnvelope(path string) (*dataEnvelope, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.SnapshotNotFound(filepath.Base(path))
		}
		return nil, fmt.Errorf("%w: failed to open snapshot file: %v", errs.ErrPersistence, err)
	}
	defer file.Close()

	var envelope dataEnvelope
	if err := gob.NewDecoder(file).Decode(&envelope); err != nil {
		return nil, errs.DataIntegrity("failed to decode snapshot file %s: %v", filepath.Base(path), err)
	}

	if envelope.Compressed {
		payload, err := decompressPayload(envelope.Payload)
		if err != nil {
			return nil, errs.DataIntegrity("failed to decompress snapshot %s: %v", filepath.Base(path), err)
		}
		envelope.Payload = payload
	}
	if xxhash.Sum64(envelope.Payload) != envelope.Checksum {
		return nil, errs.DataIntegrity("checksum mismatch in snapshot %s", filepath.Base(path))
	}
	return &envelope, nil
}

func encodeState(state map[string]interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func mustEncodeState(state map[string]interface{}) []byte {
	payload, err := encodeState(state)
	if err != nil {
		// State already round-tripped through gob on the way in.
		panic(err)
	}
	return payload
}

func decodeState(payload []byte) (map[string]interface{}, error) {
	var state map[string]interface{}
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&state); err != nil {
		return nil, errs.DataIntegrity("failed to decode snapshot payload: %v", err)
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
