// Package delta computes, applies, merges, and chains incremental state
// diffs. States are maps of key to serializable value; a Delta describes
// how to transform one state into another, and a Record is the immutable,
// checksummed form a Delta takes once it enters a chain or a snapshot.
package delta

import (
	"encoding/gob"
	"time"
)

// Delta describes the difference between two states: upserted keys under
// Changes and keys deleted since the base under RemovedKeys.
type Delta struct {
	Changes     map[string]interface{} `json:"changes"`
	RemovedKeys []string               `json:"removed_keys"`
}

// IsEmpty reports whether the delta carries no changes at all.
func (d *Delta) IsEmpty() bool {
	return len(d.Changes) == 0 && len(d.RemovedKeys) == 0
}

// Record is an immutable delta plus integrity and sizing metadata.
// Records are produced by Engine.CreateDeltaRecord or Engine.MergeDeltas
// and never mutated afterwards.
type Record struct {
	Delta

	CreatedAt        time.Time              `json:"created_at"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	CompressionRatio float64                `json:"compression_ratio"`
	SizeBytes        int64                  `json:"size_bytes"`
	Checksum         uint64                 `json:"checksum"`
}

func init() {
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
	gob.Register(time.Time{})
}
