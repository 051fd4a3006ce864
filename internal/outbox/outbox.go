// Package outbox implements the durable buffer between application tracking
// calls and network delivery.
//
// Records are appended with a strictly increasing sequence number and owned
// by the outbox until a flush attempt acknowledges or capacity pressure
// evicts them. The outbox is a bounded buffer, not a guaranteed-delivery
// log: under sustained outage the configured eviction policy drops entries.
//
// A batch claim marks rows with a fresh claim token in one UPDATE, so an
// entry is held by at most one in-flight flush attempt. Tokens do not
// survive restarts; stale claims are cleared on construction (crash
// recovery).
package outbox

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/perimetric/beacon/internal/core/db"
	"github.com/perimetric/beacon/internal/types"
)

// EvictionPolicy selects which entries are dropped under capacity pressure.
type EvictionPolicy string

const (
	// EvictOldestFirst drops the oldest entries regardless of kind.
	EvictOldestFirst EvictionPolicy = "oldest_first"
	// EvictProfileFirst drops profile updates (oldest first) before
	// touching events, then falls back to oldest-first.
	EvictProfileFirst EvictionPolicy = "profile_first"
)

// Entry is one claimed outbox row.
type Entry struct {
	Seq    int64            `db:"seq"`
	Kind   types.RecordKind `db:"kind"`
	Record []byte           `db:"record"`
}

// Batch is a set of claimed entries sharing one claim token.
// Entries are ordered by non-decreasing sequence number.
type Batch struct {
	Token   string
	Entries []Entry
}

// Outbox is the durable record buffer.
// Safe under concurrent application-thread enqueues and a single background
// claim/release/delete sequence.
type Outbox struct {
	queries    *db.Queries
	maxEntries int
	policy     EvictionPolicy
	logger     *slog.Logger

	mu       sync.Mutex
	overflow []overflowRecord
}

// overflowRecord is a record held in memory after a durable write failed.
type overflowRecord struct {
	kind    types.RecordKind
	encoded []byte
}

// New creates an outbox over the given query set and clears claims left by
// a previous process (a crashed flush attempt must not pin entries forever).
func New(queries *db.Queries, maxEntries int, policy EvictionPolicy, logger *slog.Logger) (*Outbox, error) {
	if queries == nil {
		return nil, fmt.Errorf("queries cannot be nil")
	}
	if maxEntries <= 0 {
		maxEntries = types.DefaultMaxOutboxEntries
	}
	if policy == "" {
		policy = EvictOldestFirst
	}
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := queries.Exec("outbox-clear-claims"); err != nil {
		return nil, fmt.Errorf("%w: clear stale claims: %v", types.ErrStorage, err)
	}

	return &Outbox{
		queries:    queries,
		maxEntries: maxEntries,
		policy:     policy,
		logger:     logger,
	}, nil
}

// Enqueue appends a record and returns its sequence number.
// A durable-write failure degrades to a bounded in-memory overflow for the
// record (drained opportunistically by later enqueues) and reports
// types.ErrStorage; it never panics into the caller.
func (o *Outbox) Enqueue(rec *types.Record) (int64, error) {
	encoded, err := rec.Encode()
	if err != nil {
		return 0, fmt.Errorf("encode record: %w", err)
	}
	if len(encoded) > types.MaxRecordSize {
		return 0, types.ErrRecordTooLarge
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.drainOverflowLocked()

	seq, err := o.insertLocked(rec.Kind, encoded)
	if err != nil {
		o.stashOverflowLocked(rec.Kind, encoded)
		return 0, fmt.Errorf("%w: %v", types.ErrStorage, err)
	}

	if err := o.evictLocked(); err != nil {
		// Eviction failure leaves the buffer oversized, not inconsistent.
		o.logger.Warn("outbox eviction failed", "error", err)
	}

	return seq, nil
}

// insertLocked writes one encoded record and returns its sequence number.
func (o *Outbox) insertLocked(kind types.RecordKind, encoded []byte) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := o.queries.Exec("outbox-insert", string(kind), string(encoded), now); err != nil {
		return 0, err
	}
	// MAX(seq) under the enqueue mutex: lib/pq has no LastInsertId.
	var seq int64
	if err := o.queries.Get("outbox-max-seq", &seq); err != nil {
		return 0, err
	}
	return seq, nil
}

// drainOverflowLocked retries in-memory records against durable storage.
// Stops at the first failure; remaining records wait for the next attempt.
func (o *Outbox) drainOverflowLocked() {
	for len(o.overflow) > 0 {
		rec := o.overflow[0]
		if _, err := o.insertLocked(rec.kind, rec.encoded); err != nil {
			return
		}
		o.overflow[0] = overflowRecord{}
		o.overflow = o.overflow[1:]
	}
}

// stashOverflowLocked appends to the bounded in-memory fallback.
func (o *Outbox) stashOverflowLocked(kind types.RecordKind, encoded []byte) {
	if len(o.overflow) >= types.MaxMemoryOverflowRecords {
		o.overflow = o.overflow[1:]
	}
	o.overflow = append(o.overflow, overflowRecord{kind: kind, encoded: encoded})
	o.logger.Warn("durable enqueue failed, record held in memory",
		"overflow_depth", len(o.overflow))
}

// evictLocked enforces the retained-size bound per the configured policy.
func (o *Outbox) evictLocked() error {
	var count int
	if err := o.queries.Get("outbox-count", &count); err != nil {
		return err
	}
	excess := count - o.maxEntries
	if excess <= 0 {
		return nil
	}

	if o.policy == EvictProfileFirst {
		res, err := o.queries.Exec("outbox-evict-profile-first", excess)
		if err != nil {
			return err
		}
		if dropped, err := res.RowsAffected(); err == nil {
			excess -= int(dropped)
		}
		if excess <= 0 {
			o.logger.Debug("outbox evicted profile updates under capacity pressure")
			return nil
		}
	}

	if _, err := o.queries.Exec("outbox-evict-oldest", excess); err != nil {
		return err
	}
	o.logger.Debug("outbox evicted oldest entries under capacity pressure", "evicted", excess)
	return nil
}

// ClaimBatch atomically claims up to maxCount oldest unclaimed entries.
// Entries already claimed by another in-flight attempt are excluded.
// Returns nil when nothing is claimable.
func (o *Outbox) ClaimBatch(maxCount int) (*Batch, error) {
	if maxCount <= 0 {
		maxCount = types.DefaultFlushBatchSize
	}
	token := uuid.NewString()

	res, err := o.queries.Exec("outbox-claim", token, maxCount)
	if err != nil {
		return nil, fmt.Errorf("%w: claim batch: %v", types.ErrStorage, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, nil
	}

	var entries []Entry
	if err := o.queries.Select("outbox-select-claimed", &entries, token); err != nil {
		return nil, fmt.Errorf("%w: load claimed batch: %v", types.ErrStorage, err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	return &Batch{Token: token, Entries: entries}, nil
}

// ReleaseBatch un-claims a batch after a transient send failure so its
// entries become eligible for the next attempt.
func (o *Outbox) ReleaseBatch(b *Batch) error {
	if b == nil {
		return nil
	}
	if _, err := o.queries.Exec("outbox-release", b.Token); err != nil {
		return fmt.Errorf("%w: release batch: %v", types.ErrStorage, err)
	}
	return nil
}

// DeleteBatch permanently removes a batch, either acknowledged by the
// server or dropped as poisoned.
func (o *Outbox) DeleteBatch(b *Batch) error {
	if b == nil {
		return nil
	}
	if _, err := o.queries.Exec("outbox-delete-claimed", b.Token); err != nil {
		return fmt.Errorf("%w: delete batch: %v", types.ErrStorage, err)
	}
	return nil
}

// Count returns the number of retained entries.
func (o *Outbox) Count() (int, error) {
	var count int
	if err := o.queries.Get("outbox-count", &count); err != nil {
		return 0, fmt.Errorf("%w: count: %v", types.ErrStorage, err)
	}
	return count, nil
}
