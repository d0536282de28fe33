// Package errs defines the error taxonomy shared by the persistence
// framework. Every error kind wraps ErrPersistence so callers can branch
// on a specific kind or on the family as a whole with errors.Is.
package errs

import (
	"errors"
	"fmt"
)

// ErrPersistence is the base kind for every error produced by the framework.
var ErrPersistence = errors.New("persistence error")

var (
	// ErrCacheFull is returned when a set cannot make room even after
	// evicting every candidate (value larger than the configured budget).
	ErrCacheFull = fmt.Errorf("%w: cache full", ErrPersistence)

	// ErrEntryNotFound is returned by metadata lookups on missing or
	// expired cache keys. Plain value misses return defaults, not errors.
	ErrEntryNotFound = fmt.Errorf("%w: cache entry not found", ErrPersistence)

	// ErrDeltaCompression is returned on delta serialization or
	// deserialization failure, including checksum mismatches.
	ErrDeltaCompression = fmt.Errorf("%w: delta compression", ErrPersistence)

	// ErrSnapshotNotFound is returned when a version id, tag, or base
	// chain link does not resolve to a stored snapshot.
	ErrSnapshotNotFound = fmt.Errorf("%w: snapshot not found", ErrPersistence)

	// ErrVersioning is returned when a chain index or version reference
	// is out of range or inconsistent.
	ErrVersioning = fmt.Errorf("%w: versioning", ErrPersistence)

	// ErrDataIntegrity is returned when a computed checksum does not
	// match stored integrity metadata.
	ErrDataIntegrity = fmt.Errorf("%w: data integrity", ErrPersistence)
)

// CacheFull builds an ErrCacheFull with detail.
func CacheFull(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrCacheFull, fmt.Sprintf(format, args...))
}

// EntryNotFound builds an ErrEntryNotFound for a key.
func EntryNotFound(key string) error {
	return fmt.Errorf("%w: %s", ErrEntryNotFound, key)
}

// DeltaCompression builds an ErrDeltaCompression with detail.
func DeltaCompression(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrDeltaCompression, fmt.Sprintf(format, args...))
}

// SnapshotNotFound builds an ErrSnapshotNotFound for a version or tag.
func SnapshotNotFound(ref string) error {
	return fmt.Errorf("%w: %s", ErrSnapshotNotFound, ref)
}

// Versioning builds an ErrVersioning with detail.
func Versioning(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrVersioning, fmt.Sprintf(format, args...))
}

// DataIntegrity builds an ErrDataIntegrity with detail.
func DataIntegrity(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrDataIntegrity, fmt.Sprintf(format, args...))
}
