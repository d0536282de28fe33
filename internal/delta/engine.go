package delta

import (
	"bytes"
	"encoding/gob"
	"io"
	"reflect"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/pierrec/lz4/v4"

	"statevault/internal/errs"
)

// Engine computes and applies state diffs. It holds no state of its own
// beyond configuration; every operation is a pure function of its inputs.
type Engine struct {
	compression bool
}

// NewEngine creates an Engine. When compression is enabled, record
// payloads are lz4-compressed and the achieved ratio is reported on each
// Record.
func NewEngine(compression bool) *Engine {
	return &Engine{compression: compression}
}

// CalculateDelta diffs two states. Keys present in newState but absent or
// different in oldState land in Changes; keys present only in oldState
// land in RemovedKeys. With includeUnchanged, unchanged keys are carried
// in Changes too (used for forced full snapshots).
func (e *Engine) CalculateDelta(oldState, newState map[string]interface{}, includeUnchanged bool) *Delta {
	d := &Delta{
		Changes:     make(map[string]interface{}),
		RemovedKeys: []string{},
	}

	for key, newValue := range newState {
		oldValue, exists := oldState[key]
		if !exists || !reflect.DeepEqual(oldValue, newValue) || includeUnchanged {
			d.Changes[key] = newValue
		}
	}
	for key := range oldState {
		if _, exists := newState[key]; !exists {
			d.RemovedKeys = append(d.RemovedKeys, key)
		}
	}
	return d
}

// ApplyDelta applies Changes (upsert) then RemovedKeys (delete) to a copy
// of baseState. The base is never mutated. Satisfies
// ApplyDelta(A, CalculateDelta(A, B)) == B for all A, B, and reapplying
// the same delta is harmless.
func (e *Engine) ApplyDelta(baseState map[string]interface{}, d *Delta) map[string]interface{} {
	newState := CopyState(baseState)
	for key, value := range d.Changes {
		newState[key] = value
	}
	for _, key := range d.RemovedKeys {
		delete(newState, key)
	}
	return newState
}

// CreateDeltaRecord seals changes and removals into an immutable Record,
// computing the payload checksum and, when compression is enabled, the
// achieved compression ratio.
func (e *Engine) CreateDeltaRecord(changes map[string]interface{}, removedKeys []string, timestamp time.Time) (*Record, error) {
	if changes == nil {
		changes = make(map[string]interface{})
	}
	if removedKeys == nil {
		removedKeys = []string{}
	}
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	d := Delta{Changes: changes, RemovedKeys: removedKeys}
	payload, err := encodePayload(&d)
	if err != nil {
		return nil, errs.DeltaCompression("failed to serialize delta: %v", err)
	}

	record := &Record{
		Delta:            d,
		CreatedAt:        timestamp,
		CompressionRatio: 1.0,
		SizeBytes:        int64(len(payload)),
		Checksum:         xxhash.Sum64(payload),
	}

	if e.compression && len(payload) > 0 {
		compressed, err := compress(payload)
		if err != nil {
			return nil, errs.DeltaCompression("failed to compress delta: %v", err)
		}
		record.CompressionRatio = float64(len(compressed)) / float64(len(payload))
		record.SizeBytes = int64(len(compressed))
	}

	return record, nil
}

// MergeDeltas folds an ordered list of records into one equivalent
// record: a later delta's change or removal for a key overrides an
// earlier one. Returns nil for an empty input.
func (e *Engine) MergeDeltas(ordered []*Record) (*Record, error) {
	if len(ordered) == 0 {
		return nil, nil
	}

	changes := make(map[string]interface{})
	removed := make(map[string]struct{})

	for _, record := range ordered {
		for key, value := range record.Changes {
			changes[key] = value
			delete(removed, key)
		}
		for _, key := range record.RemovedKeys {
			delete(changes, key)
			removed[key] = struct{}{}
		}
	}

	removedKeys := make([]string, 0, len(removed))
	for key := range removed {
		removedKeys = append(removedKeys, key)
	}

	return e.CreateDeltaRecord(changes, removedKeys, ordered[len(ordered)-1].CreatedAt)
}

// wireRecord is the durable envelope for a Record.
type wireRecord struct {
	CreatedAt        time.Time
	Metadata         map[string]interface{}
	CompressionRatio float64
	SizeBytes        int64
	Checksum         uint64
	Compressed       bool
	Payload          []byte
}

// SerializeDelta produces the byte-exact wire form of a record.
func (e *Engine) SerializeDelta(record *Record) ([]byte, error) {
	payload, err := encodePayload(&record.Delta)
	if err != nil {
		return nil, errs.DeltaCompression("failed to serialize delta record: %v", err)
	}

	wire := wireRecord{
		CreatedAt:        record.CreatedAt,
		Metadata:         record.Metadata,
		CompressionRatio: record.CompressionRatio,
		SizeBytes:        record.SizeBytes,
		Checksum:         xxhash.Sum64(payload),
		Compressed:       e.compression,
		Payload:          payload,
	}
	if e.compression {
		if wire.Payload, err = compress(payload); err != nil {
			return nil, errs.DeltaCompression("failed to compress delta record: %v", err)
		}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&wire); err != nil {
		return nil, errs.DeltaCompression("failed to encode delta envelope: %v", err)
	}
	return buf.Bytes(), nil
}

// DeserializeDelta parses a wire-form record, verifying its checksum.
func (e *Engine) DeserializeDelta(data []byte) (*Record, error) {
	var wire wireRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&wire); err != nil {
		return nil, errs.DeltaCompression("failed to decode delta envelope: %v", err)
	}

	payload := wire.Payload
	if wire.Compressed {
		var err error
		if payload, err = decompress(payload); err != nil {
			return nil, errs.DeltaCompression("failed to decompress delta record: %v", err)
		}
	}
	if xxhash.Sum64(payload) != wire.Checksum {
		return nil, errs.DeltaCompression("checksum mismatch: stored %x", wire.Checksum)
	}

	var d Delta
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&d); err != nil {
		return nil, errs.DeltaCompression("failed to decode delta payload: %v", err)
	}

	return &Record{
		Delta:            d,
		CreatedAt:        wire.CreatedAt,
		Metadata:         wire.Metadata,
		CompressionRatio: wire.CompressionRatio,
		SizeBytes:        wire.SizeBytes,
		Checksum:         wire.Checksum,
	}, nil
}

// CopyState makes a shallow copy of a state map. Values are treated as
// immutable once stored.
func CopyState(state map[string]interface{}) map[string]interface{} {
	copied := make(map[string]interface{}, len(state))
	for key, value := range state {
		copied[key] = value
	}
	return copied
}

func encodePayload(d *Delta) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func compress(data []byte) ([]byte, error) {
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

func decompress(data []byte) ([]byte, error) {
	zr := lz4.NewReader(bytes.NewReader(data))
	return io.ReadAll(zr)
}
