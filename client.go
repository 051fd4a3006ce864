// Package beacon is an embeddable analytics event pipeline: tracking
// calls are stamped with identity and session metadata, buffered in a
// durable outbox, and delivered in batches by a single background worker
// with retry and backoff. Server-pushed configuration (surveys, in-app
// notifications, flag variants with first-time-event targeting) is
// reconciled against locally tracked state.
package beacon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/perimetric/beacon/internal/capability"
	"github.com/perimetric/beacon/internal/content"
	"github.com/perimetric/beacon/internal/core/config"
	"github.com/perimetric/beacon/internal/core/db"
	"github.com/perimetric/beacon/internal/crashhook"
	"github.com/perimetric/beacon/internal/decide"
	"github.com/perimetric/beacon/internal/delivery"
	"github.com/perimetric/beacon/internal/flush"
	"github.com/perimetric/beacon/internal/identity"
	"github.com/perimetric/beacon/internal/outbox"
	"github.com/perimetric/beacon/internal/trigger"
	"github.com/perimetric/beacon/internal/types"
)

// UpdatesListener is invoked (outside any lock) when new surveys or
// notifications become available for the current identity.
type UpdatesListener func(distinctID string)

// Client is the SDK entry point. All methods are safe for concurrent use;
// tracking calls never block on network I/O.
type Client struct {
	cfg    *config.PipelineConfig
	logger *slog.Logger

	conn     *sqlx.DB
	queries  *db.Queries
	identity *identity.State
	outbox   *outbox.Outbox
	worker   *flush.Worker
	decide   *decide.Client
	matcher  *decide.FirstTimeEventMatcher
	caps     *capability.Registry

	mu      sync.Mutex
	pending *decide.PendingUpdateStore

	listener UpdatesListener
	crashID  uint64

	optedOut  atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Options customizes client construction beyond the config file surface.
type Options struct {
	Logger *slog.Logger
	// Sender overrides the HTTP ingestion client, for relays and tests.
	Sender delivery.Sender
	// OnUpdatesAvailable is invoked when the pending-update store gains
	// new content.
	OnUpdatesAvailable UpdatesListener
}

// New opens the durable store, restores identity, and starts the flush
// worker. The returned client must be Closed to release the database.
func New(cfg *config.PipelineConfig, opts Options) (*Client, error) {
	if cfg == nil {
		cfg = config.DefaultPipelineConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.MigrateUp(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	queries, err := db.LoadQueries(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("load queries: %w", err)
	}

	ident, err := identity.New(queries, cfg.Token, logger)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("restore identity: %w", err)
	}

	ob, err := outbox.New(queries, cfg.MaxEntries, outbox.EvictionPolicy(cfg.EvictionPolicy), logger)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open outbox: %w", err)
	}

	sender := opts.Sender
	if sender == nil {
		sender = delivery.NewHTTPSender(cfg.IngestURL, cfg.SendTimeout, logger)
	}

	worker := flush.NewWorker(ob, sender, queries, flush.Options{
		BatchSize:       cfg.FlushBatchSize,
		InitialInterval: cfg.BackoffInitial,
		MaxInterval:     cfg.BackoffMax,
	}, logger)

	c := &Client{
		cfg:      cfg,
		logger:   logger,
		conn:     conn,
		queries:  queries,
		identity: ident,
		outbox:   ob,
		worker:   worker,
		decide:   decide.NewClient(cfg.DecideURL, cfg.SendTimeout, logger),
		caps:     capability.NewRegistry(),
		listener: opts.OnUpdatesAvailable,
	}
	c.matcher = decide.NewFirstTimeEventMatcher(c.onVariantAssigned, logger)
	c.pending = decide.NewPendingUpdateStore(cfg.Token, ident.DistinctID(), c.notifyUpdates)

	worker.Start()
	c.crashID = crashhook.Register(crashHandle{c})

	return c, nil
}

// Track records a discrete event. The call stamps identity, runs
// first-time-event matching, enqueues durably, and returns; delivery
// happens in the background. A storage failure degrades to an in-memory
// hold for the record and is reported, never panicked.
func (c *Client) Track(eventName string, props types.Properties) error {
	if c.optedOut.Load() || eventName == "" {
		return nil
	}

	rec := c.identity.Stamp(types.KindEvent, eventName, props)
	c.matcher.OnEventTracked(eventName, rec.Properties)

	if _, err := c.outbox.Enqueue(rec); err != nil {
		return err
	}
	c.worker.RequestFlush()
	return nil
}

// PeopleSet records a profile property update for the current identity.
func (c *Client) PeopleSet(props types.Properties) error {
	if c.optedOut.Load() || len(props) == 0 {
		return nil
	}

	rec := c.identity.Stamp(types.KindProfile, "", props)
	if _, err := c.outbox.Enqueue(rec); err != nil {
		return err
	}
	c.worker.RequestFlush()
	return nil
}

// Identify switches the current distinct-id. The pending-update store is
// rebuilt for the new identity; updates queued for the old identity are
// discarded.
func (c *Client) Identify(distinctID string) {
	if c.optedOut.Load() || distinctID == "" {
		return
	}
	c.identity.Identify(distinctID)

	c.mu.Lock()
	old := c.pending
	c.pending = decide.NewPendingUpdateStore(c.cfg.Token, distinctID, c.notifyUpdates)
	c.mu.Unlock()
	old.Destroy()
}

// Reset discards the current identity entirely (logout): new anonymous
// id, cleared super-properties, fresh session and pending-update store.
func (c *Client) Reset() {
	c.identity.Reset()

	c.mu.Lock()
	old := c.pending
	c.pending = decide.NewPendingUpdateStore(c.cfg.Token, c.identity.DistinctID(), c.notifyUpdates)
	c.mu.Unlock()
	old.Destroy()
}

// RegisterSuper merges properties stamped onto every future event.
func (c *Client) RegisterSuper(props types.Properties) {
	c.identity.RegisterSuper(props)
}

// UnregisterSuper removes one super-property.
func (c *Client) UnregisterSuper(key string) {
	c.identity.UnregisterSuper(key)
}

// Flush asks the background worker to drain the outbox now. Non-blocking;
// requests coalesce while a flush is in flight.
func (c *Client) Flush() {
	c.worker.RequestFlush()
}

// ReloadDecide fetches server-pushed configuration for the current
// identity and reconciles it: new surveys/notifications feed the
// pending-update store, flag targeting rules replace the matcher's
// definition set. A 304 leaves local state untouched.
func (c *Client) ReloadDecide(ctx context.Context) error {
	resp, notModified, err := c.decide.Fetch(ctx, c.cfg.Token, c.identity.DistinctID())
	if err != nil {
		return err
	}
	if notModified {
		return nil
	}

	c.matcher.ReplaceDefinitions(c.decide.Definitions(resp))

	c.mu.Lock()
	store := c.pending
	c.mu.Unlock()
	store.ReportResults(resp.Surveys, resp.Notifications)
	return nil
}

// PopSurvey returns the next unseen survey for the current identity, nil
// when none are pending.
func (c *Client) PopSurvey() *content.Survey {
	c.mu.Lock()
	store := c.pending
	c.mu.Unlock()
	return store.PopSurvey()
}

// PopNotification returns the next unseen in-app notification, nil when
// none are pending.
func (c *Client) PopNotification() *content.Notification {
	c.mu.Lock()
	store := c.pending
	c.mu.Unlock()
	return store.PopNotification()
}

// HasUpdatesAvailable reports whether unseen surveys or notifications are
// queued for the current identity.
func (c *Client) HasUpdatesAvailable() bool {
	c.mu.Lock()
	store := c.pending
	c.mu.Unlock()
	return store.HasUpdatesAvailable()
}

// ShouldDisplay reports whether a notification's display triggers admit
// the given event. A notification without triggers displays
// unconditionally; a malformed trigger disables itself, not its peers.
// Evaluation errors gate closed.
func (c *Client) ShouldDisplay(n *content.Notification, eventName string, props types.Properties) bool {
	if n == nil {
		return false
	}
	if len(n.DisplayTriggers) == 0 {
		return true
	}
	for _, raw := range n.DisplayTriggers {
		dt, err := trigger.Decode(raw, c.logger)
		if err != nil {
			c.logger.Warn("skipping malformed display trigger",
				"notification_id", n.ID, "error", err)
			continue
		}
		if dt.Matches(eventName, props) {
			return true
		}
	}
	return false
}

// Capabilities exposes the optional-capability registry for host wiring.
func (c *Client) Capabilities() *capability.Registry {
	return c.caps
}

// OptOut halts collection: the pending-update store is destroyed so
// late-arriving results produce no further delivery, and subsequent
// tracking calls become no-ops. The worker keeps draining already
// enqueued records until Close.
func (c *Client) OptOut() {
	if c.optedOut.Swap(true) {
		return
	}
	c.mu.Lock()
	store := c.pending
	c.mu.Unlock()
	store.Destroy()
}

// Close stops the flush worker (draining any in-flight cycle), releases
// the crash hook registration, and closes the database.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		crashhook.Deregister(c.crashID)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.worker.Stop(ctx); err != nil {
			c.logger.Warn("flush worker did not stop cleanly", "error", err)
		}

		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// notifyUpdates relays pending-store availability to the host listener.
func (c *Client) notifyUpdates(distinctID string) {
	if c.listener != nil {
		c.listener(distinctID)
	}
}

// onVariantAssigned records a first-time-event flag assignment as its own
// event so downstream analysis sees exactly one assignment per rule.
func (c *Client) onVariantAssigned(flagKey string, variant json.RawMessage) {
	rec := c.identity.Stamp(types.KindEvent, "$flag_variant_assigned", types.Properties{
		"flag_key": flagKey,
		"variant":  string(variant),
	})
	if _, err := c.outbox.Enqueue(rec); err != nil {
		c.logger.Warn("record flag assignment failed", "flag_key", flagKey, "error", err)
		return
	}
	c.worker.RequestFlush()
}

// crashHandle adapts the client for process-wide crash recording.
type crashHandle struct{ c *Client }

// RecordCrash enqueues a final crash event and nudges the worker. The
// process is dying; this is best-effort by construction.
func (h crashHandle) RecordCrash(reason string) {
	rec := h.c.identity.Stamp(types.KindEvent, "$crash", types.Properties{
		"reason": reason,
	})
	if _, err := h.c.outbox.Enqueue(rec); err != nil {
		return
	}
	h.c.worker.RequestFlush()
}
