package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// Metadata describes one stored snapshot. Full and delta snapshots share
// the same shape; delta snapshots additionally reference their base.
type Metadata struct {
	Version     string                 `json:"version"`
	Kind        string                 `json:"kind"` // "full" or "delta"
	BaseVersion string                 `json:"base_version,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	Tags        []string               `json:"tags,omitempty"`
	Description string                 `json:"description,omitempty"`
	UserInfo    map[string]interface{} `json:"user_info,omitempty"`
	ContentHash string                 `json:"content_hash"`
	SizeBytes   int64                  `json:"size_bytes"`
}

// HasTag reports whether the snapshot carries the given tag.
func (m *Metadata) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

const (
	// KindFull marks standalone snapshots.
	KindFull = "full"
	// KindDelta marks snapshots stored relative to a base version.
	KindDelta = "delta"
)

// registryEntry maps a version to its metadata and data file.
type registryEntry struct {
	Metadata *Metadata `json:"metadata"`
	File     string    `json:"file"`
}

// registry is the single source of truth for which snapshots exist. It is
// loaded from durable storage at construction and rewritten atomically
// after every mutation, after the data files it references are on disk.
type registry struct {
	path    string
	entries map[string]*registryEntry
}

// loadRegistry reads the registry file, or starts empty when none exists.
func loadRegistry(path string) (*registry, error) {
	r := &registry{
		path:    path,
		entries: make(map[string]*registryEntry),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("failed to read snapshot registry: %w", err)
	}
	if err := json.Unmarshal(data, &r.entries); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot registry: %w", err)
	}
	return r, nil
}

// save rewrites the registry file atomically (temp file + rename).
func (r *registry) save() error {
	data, err := json.MarshalIndent(r.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot registry: %w", err)
	}

	tempFile := r.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write snapshot registry: %w", err)
	}
	if err := os.Rename(tempFile, r.path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to finalize snapshot registry: %w", err)
	}
	return nil
}

func (r *registry) get(version string) (*registryEntry, bool) {
	entry, ok := r.entries[version]
	return entry, ok
}

func (r *registry) put(md *Metadata, file string) {
	r.entries[md.Version] = &registryEntry{Metadata: md, File: file}
}

func (r *registry) remove(version string) {
	delete(r.entries, version)
}

// sorted returns all metadata ordered oldest first.
func (r *registry) sorted() []*Metadata {
	all := make([]*Metadata, 0, len(r.entries))
	for _, entry := range r.entries {
		all = append(all, entry.Metadata)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].Version < all[j].Version
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return all
}
