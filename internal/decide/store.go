// Package decide reconciles server-pushed configuration against local state:
// pending surveys and notifications deduplicated by server identity, and
// first-time-event definitions matched against tracked events.
package decide

import (
	"sync"
	"sync/atomic"

	"github.com/perimetric/beacon/internal/content"
)

// Listener is invoked when a report call adds new pending content.
// At most one invocation per ReportResults call, never per item. The
// argument is the distinct-id owning the store.
type Listener func(distinctID string)

// PendingUpdateStore holds not-yet-consumed server-pushed content for one
// (token, distinct-id) identity. Items are deduplicated by server-assigned
// integer ID: an identity seen once is never re-added, even if the server
// reports it again.
//
// Shared between application threads (pops) and the background network
// thread (reports); all queue mutation runs under one mutex.
type PendingUpdateStore struct {
	mu         sync.Mutex
	token      string
	distinctID string

	seenSurveys       map[int]struct{}
	seenNotifications map[int]struct{}
	surveys           []*content.Survey
	notifications     []*content.Notification

	listener  Listener
	destroyed atomic.Bool
}

// NewPendingUpdateStore creates a store for the given identity.
// The listener may be nil.
func NewPendingUpdateStore(token, distinctID string, listener Listener) *PendingUpdateStore {
	return &PendingUpdateStore{
		token:             token,
		distinctID:        distinctID,
		seenSurveys:       make(map[int]struct{}),
		seenNotifications: make(map[int]struct{}),
		listener:          listener,
	}
}

// Token returns the API token owning this store.
func (s *PendingUpdateStore) Token() string { return s.token }

// DistinctID returns the distinct-id owning this store.
func (s *PendingUpdateStore) DistinctID() string { return s.distinctID }

// ReportResults records newly delivered content. Already-seen identities are
// no-ops. If anything was newly added and the store has pending content, the
// listener fires exactly once for the whole call.
//
// Destruction is deliberately not consulted inside the locked section: a
// report racing Destroy is harmless as long as no callback is delivered once
// destruction has been observed, which the post-lock check guarantees.
func (s *PendingUpdateStore) ReportResults(surveys []*content.Survey, notifications []*content.Notification) {
	s.mu.Lock()
	added := false
	for _, sv := range surveys {
		if sv == nil {
			continue
		}
		if _, seen := s.seenSurveys[sv.ID]; seen {
			continue
		}
		s.seenSurveys[sv.ID] = struct{}{}
		s.surveys = append(s.surveys, sv)
		added = true
	}
	for _, n := range notifications {
		if n == nil {
			continue
		}
		if _, seen := s.seenNotifications[n.ID]; seen {
			continue
		}
		s.seenNotifications[n.ID] = struct{}{}
		s.notifications = append(s.notifications, n)
		added = true
	}
	notify := added && (len(s.surveys) > 0 || len(s.notifications) > 0)
	listener := s.listener
	s.mu.Unlock()

	if notify && listener != nil && !s.destroyed.Load() {
		listener(s.distinctID)
	}
}

// PopSurvey dequeues the oldest unseen survey, or nil when none is pending.
func (s *PendingUpdateStore) PopSurvey() *content.Survey {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.surveys) == 0 {
		return nil
	}
	sv := s.surveys[0]
	s.surveys[0] = nil
	s.surveys = s.surveys[1:]
	return sv
}

// PopNotification dequeues the oldest unseen notification, or nil when none
// is pending.
func (s *PendingUpdateStore) PopNotification() *content.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.notifications) == 0 {
		return nil
	}
	n := s.notifications[0]
	s.notifications[0] = nil
	s.notifications = s.notifications[1:]
	return n
}

// HasUpdatesAvailable reports whether any survey or notification is pending.
func (s *PendingUpdateStore) HasUpdatesAvailable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.surveys) > 0 || len(s.notifications) > 0
}

// Destroy marks the store defunct. One-way latch: late-arriving async
// results are still absorbed but produce no listener callback.
func (s *PendingUpdateStore) Destroy() {
	s.destroyed.Store(true)
}

// IsDestroyed reports whether Destroy has been called.
func (s *PendingUpdateStore) IsDestroyed() bool {
	return s.destroyed.Load()
}
