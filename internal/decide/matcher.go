// internal/decide/matcher.go
package decide

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/perimetric/beacon/internal/selector"
	"github.com/perimetric/beacon/internal/types"
)

/*
 * First-time-event matching.
 *
 * A FirstTimeEventDefinition pairs a feature flag with a targeting rule:
 * when a tracked event first satisfies the rule, the flag's pending variant
 * is assigned and the definition is retired. Firing is permanent for the
 * lifetime of the matcher: a flag-config refetch never reintroduces a
 * composite key that already fired, so a one-time event cannot fire twice
 * across fetches.
 *
 * Concurrency: scans (OnEventTracked) and full replacement (flag-config
 * refetch) serialize on one mutex, so no definition is visible as pending
 * to two concurrent scans and a refetch cannot lose an in-flight fire.
 * Assignments are emitted after the lock is released; exactly-once is
 * already guaranteed by removal under the lock, and emitting outside it
 * keeps a re-entrant delegate from deadlocking.
 */

// FirstTimeEventDefinition targets one event pattern with a pending flag
// variant. Uniquely identified by FlagKey + ":" + Hash.
type FirstTimeEventDefinition struct {
	FlagKey        string
	FlagID         int64
	ProjectID      int64
	Hash           string
	EventName      string
	PropertyFilter *selector.Compiled // nil = match on event name alone
	PendingVariant json.RawMessage
}

// CompositeKey returns the definition's unique identity.
func (d *FirstTimeEventDefinition) CompositeKey() string {
	return d.FlagKey + ":" + d.Hash
}

// AssignmentFunc receives a fired variant assignment.
type AssignmentFunc func(flagKey string, variant json.RawMessage)

// FirstTimeEventMatcher holds the pending definition set and the permanent
// record of fired composite keys.
type FirstTimeEventMatcher struct {
	mu      sync.Mutex
	pending map[string]*FirstTimeEventDefinition
	fired   map[string]struct{}
	assign  AssignmentFunc
	logger  *slog.Logger
}

// NewFirstTimeEventMatcher creates a matcher emitting assignments to assign.
func NewFirstTimeEventMatcher(assign AssignmentFunc, logger *slog.Logger) *FirstTimeEventMatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FirstTimeEventMatcher{
		pending: make(map[string]*FirstTimeEventDefinition),
		fired:   make(map[string]struct{}),
		assign:  assign,
		logger:  logger,
	}
}

// OnEventTracked scans pending definitions against a tracked event.
// Every matching definition fires exactly once: it is removed from the
// pending set under the lock, then its variant assignment is emitted.
// Multiple definitions may match the same event and all fire.
func (m *FirstTimeEventMatcher) OnEventTracked(eventName string, props types.Properties) {
	m.mu.Lock()
	var matched []*FirstTimeEventDefinition
	for key, def := range m.pending {
		if !m.definitionMatches(def, eventName, props) {
			continue
		}
		delete(m.pending, key)
		m.fired[key] = struct{}{}
		matched = append(matched, def)
	}
	m.mu.Unlock()

	for _, def := range matched {
		m.logger.Debug("first-time event fired",
			"flag_key", def.FlagKey, "event", eventName)
		if m.assign != nil {
			m.assign(def.FlagKey, def.PendingVariant)
		}
	}
}

// definitionMatches applies the event-name and property-filter checks.
// Filter evaluation errors are logged and treated as non-match.
func (m *FirstTimeEventMatcher) definitionMatches(def *FirstTimeEventDefinition, eventName string, props types.Properties) bool {
	if def.EventName != eventName {
		return false
	}
	if def.PropertyFilter == nil {
		return true
	}
	ok, err := def.PropertyFilter.Evaluate(props)
	if err != nil {
		m.logger.Warn("property filter evaluation failed, treating as non-match",
			"flag_key", def.FlagKey, "event", eventName, "error", err)
		return false
	}
	return ok
}

// ReplaceDefinitions installs a fresh definition set from a flag-config
// fetch. Composite keys that already fired stay excluded permanently;
// duplicate keys within one fetch keep the first occurrence.
func (m *FirstTimeEventMatcher) ReplaceDefinitions(defs []*FirstTimeEventDefinition) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := make(map[string]*FirstTimeEventDefinition, len(defs))
	for _, def := range defs {
		if def == nil {
			continue
		}
		key := def.CompositeKey()
		if _, done := m.fired[key]; done {
			continue
		}
		if _, dup := next[key]; dup {
			continue
		}
		next[key] = def
	}
	m.pending = next
}

// PendingCount returns the number of definitions awaiting their event.
func (m *FirstTimeEventMatcher) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
