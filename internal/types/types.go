// Package types provides domain models shared across Beacon components.
//
// Zero-dependency design: types.go and errors.go use only encoding/json to
// keep embedded binary size minimal. ID utilities in ids.go import uuid but
// are isolated for selective inclusion.
package types

import "encoding/json"

// RecordID represents a UUIDv7 per-record identifier.
// String alias enables type safety while maintaining JSON string serialization.
// UUIDv7 time-ordering ensures sequential IDs cluster in B-tree indexes.
type RecordID string

// SessionID represents a UUIDv7 session identifier.
type SessionID string

// RecordKind distinguishes discrete tracking events from people profile
// updates. Both travel through the same outbox but to different endpoints.
type RecordKind string

const (
	KindEvent   RecordKind = "event"
	KindProfile RecordKind = "profile"
)

// Properties represents an event or profile property mapping.
// Values are JSON-compatible (string, float64, bool, nil, nested map/slice)
// as produced by encoding/json unmarshaling.
type Properties map[string]any

// Record is a single tracking event or profile update, immutable once
// created. Stamped with identity and session metadata at creation time and
// owned exclusively by the outbox until acknowledged or evicted.
type Record struct {
	Kind              RecordKind `json:"kind"`
	EventName         string     `json:"event,omitempty"` // events only
	DistinctID        string     `json:"distinct_id"`
	Token             string     `json:"token"`
	RecordID          RecordID   `json:"record_id"`
	SessionID         SessionID  `json:"session_id"`
	SessionSeq        int64      `json:"session_seq"`
	SessionStartEpoch int64      `json:"session_start_epoch"`
	Time              int64      `json:"time"` // epoch seconds at creation
	Properties        Properties `json:"properties,omitempty"`
}

// Encode serializes the record for durable storage and wire delivery.
func (r *Record) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRecord reverses Encode.
func DecodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Resource limits enforced by the pipeline to bound memory and storage.
const (
	// MaxPropertyDepth prevents stack overflow during recursive key-path
	// resolution. 16 levels handles deeply nested property maps.
	MaxPropertyDepth = 16

	// MaxInOperandValues limits "in" operand list size to prevent quadratic
	// comparison cost during selector evaluation.
	MaxInOperandValues = 64

	// MaxRecordSize limits a single serialized record. Larger payloads should
	// reference external storage rather than ride the event pipeline.
	MaxRecordSize = 1024 * 1024

	// DefaultMaxOutboxEntries bounds the durable outbox. Under sustained
	// network outage the outbox is a bounded buffer, not a delivery log;
	// entries are evicted per the configured policy.
	DefaultMaxOutboxEntries = 5000

	// DefaultFlushBatchSize is the maximum records claimed per send.
	DefaultFlushBatchSize = 50

	// MaxMemoryOverflowRecords bounds the in-memory fallback used when the
	// durable store rejects a write.
	MaxMemoryOverflowRecords = 256
)

// AnyEvent is the wildcard sentinel matched by display triggers regardless
// of the actual event name.
const AnyEvent = "$any_event"
