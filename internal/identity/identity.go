// Package identity tracks who the current records belong to.
//
// Distinct-id, anonymous device id, and super-properties persist through
// the kv table so identity survives restarts. Sessions do not: every
// process start opens a fresh session with its own id, start epoch, and
// monotonically increasing per-record sequence.
package identity

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/perimetric/beacon/internal/core/db"
	"github.com/perimetric/beacon/internal/types"
)

const (
	distinctIDKey  = "identity_distinct_id"
	anonymousIDKey = "identity_anonymous_id"
	superPropsKey  = "identity_super_props"
)

// State holds the current identity and session. Safe for concurrent use.
type State struct {
	queries *db.Queries
	logger  *slog.Logger
	token   string

	mu           sync.Mutex
	distinctID   string
	anonymousID  string
	superProps   types.Properties
	sessionID    types.SessionID
	sessionSeq   int64
	sessionStart int64
}

// New restores persisted identity, minting an anonymous device id on first
// run, and opens a fresh session.
func New(queries *db.Queries, token string, logger *slog.Logger) (*State, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &State{
		queries:    queries,
		logger:     logger,
		token:      token,
		superProps: types.Properties{},
	}

	anon, ok, err := queries.KVGet(anonymousIDKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		anon = types.NewAnonymousID()
		s.persist(anonymousIDKey, anon)
	}
	s.anonymousID = anon

	distinct, ok, err := queries.KVGet(distinctIDKey)
	if err != nil {
		return nil, err
	}
	if !ok || distinct == "" {
		distinct = anon
	}
	s.distinctID = distinct

	if raw, ok, err := queries.KVGet(superPropsKey); err != nil {
		return nil, err
	} else if ok {
		if err := json.Unmarshal([]byte(raw), &s.superProps); err != nil {
			logger.Warn("discarding malformed persisted super-properties", "error", err)
			s.superProps = types.Properties{}
		}
	}

	s.startSessionLocked()
	return s, nil
}

// startSessionLocked opens a new session. Callers hold s.mu (or own s
// exclusively during construction).
func (s *State) startSessionLocked() {
	s.sessionID = types.NewSessionID()
	s.sessionSeq = 0
	s.sessionStart = time.Now().Unix()
}

// persist writes one identity key, degrading to a warning on storage
// failure so identity changes never crash the caller.
func (s *State) persist(key, value string) {
	if err := s.queries.KVSet(key, value); err != nil {
		s.logger.Warn("persist identity state failed", "key", key, "error", err)
	}
}

func (s *State) persistSuperLocked() {
	raw, err := json.Marshal(s.superProps)
	if err != nil {
		s.logger.Warn("marshal super-properties failed", "error", err)
		return
	}
	s.persist(superPropsKey, string(raw))
}

// Token returns the API token records are stamped with.
func (s *State) Token() string { return s.token }

// DistinctID returns the current distinct-id.
func (s *State) DistinctID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.distinctID
}

// AnonymousID returns the device-scoped anonymous id.
func (s *State) AnonymousID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.anonymousID
}

// Identify switches the current distinct-id, typically after login.
func (s *State) Identify(distinctID string) {
	if distinctID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.distinctID = distinctID
	s.persist(distinctIDKey, distinctID)
}

// Reset discards the current identity: new anonymous id, distinct-id back
// to anonymous, super-properties cleared, fresh session.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.anonymousID = types.NewAnonymousID()
	s.distinctID = s.anonymousID
	s.superProps = types.Properties{}
	s.startSessionLocked()

	s.persist(anonymousIDKey, s.anonymousID)
	s.persist(distinctIDKey, s.distinctID)
	s.persistSuperLocked()
}

// RegisterSuper merges properties stamped onto every outgoing record.
func (s *State) RegisterSuper(props types.Properties) {
	if len(props) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range props {
		s.superProps[k] = v
	}
	s.persistSuperLocked()
}

// UnregisterSuper removes one super-property.
func (s *State) UnregisterSuper(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.superProps[key]; !ok {
		return
	}
	delete(s.superProps, key)
	s.persistSuperLocked()
}

// SuperProperties returns a copy of the current super-properties.
func (s *State) SuperProperties() types.Properties {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(types.Properties, len(s.superProps))
	for k, v := range s.superProps {
		out[k] = v
	}
	return out
}

// Stamp builds an immutable record carrying the current identity and
// session metadata. Super-properties merge under the call's properties;
// an explicit property wins over a super-property of the same name.
func (s *State) Stamp(kind types.RecordKind, eventName string, props types.Properties) *types.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionSeq++

	merged := make(types.Properties, len(s.superProps)+len(props))
	if kind == types.KindEvent {
		for k, v := range s.superProps {
			merged[k] = v
		}
	}
	for k, v := range props {
		merged[k] = v
	}

	return &types.Record{
		Kind:              kind,
		EventName:         eventName,
		DistinctID:        s.distinctID,
		Token:             s.token,
		RecordID:          types.NewRecordID(),
		SessionID:         s.sessionID,
		SessionSeq:        s.sessionSeq,
		SessionStartEpoch: s.sessionStart,
		Time:              time.Now().Unix(),
		Properties:        merged,
	}
}
