// Package flush runs the single background worker that drains the outbox.
//
// One goroutine owns the entire claim/send/acknowledge sequence, so at most
// one flush is in flight per process. Flush requests arriving while a cycle
// runs are coalesced through a size-1 signal channel; the active cycle picks
// up newly enqueued entries on its next iteration.
//
// Backoff is exponential with the server's Retry-After hint as a floor,
// capped at a maximum interval. The next-allowed-send timestamp is persisted
// so a restart during an outage does not hammer the endpoint.
package flush

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/perimetric/beacon/internal/core/db"
	"github.com/perimetric/beacon/internal/delivery"
	"github.com/perimetric/beacon/internal/outbox"
	"github.com/perimetric/beacon/internal/types"
)

const nextAllowedKey = "flush_next_allowed"

// Options tune the worker. Zero values select defaults.
type Options struct {
	BatchSize       int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Worker drains the outbox in the background.
type Worker struct {
	outbox  *outbox.Outbox
	sender  delivery.Sender
	queries *db.Queries
	logger  *slog.Logger

	batchSize   int
	maxInterval time.Duration

	bo          *backoff.ExponentialBackOff
	nextAllowed time.Time

	signal chan struct{}
	wake   *time.Timer

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a stopped worker. Persisted backoff state from a
// previous process is restored so a restart mid-outage stays quiet until
// the next-allowed timestamp.
func NewWorker(ob *outbox.Outbox, sender delivery.Sender, queries *db.Queries, opts Options, logger *slog.Logger) *Worker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = types.DefaultFlushBatchSize
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 2 * time.Second
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 10 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.InitialInterval
	bo.MaxInterval = opts.MaxInterval
	// The configured interval is a floor the endpoint can rely on, so no
	// downward jitter.
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0 // the worker retries for the life of the process
	bo.Reset()

	w := &Worker{
		outbox:      ob,
		sender:      sender,
		queries:     queries,
		logger:      logger,
		batchSize:   opts.BatchSize,
		maxInterval: opts.MaxInterval,
		bo:          bo,
		signal:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	w.restoreNextAllowed()
	return w
}

// Start launches the worker goroutine.
func (w *Worker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.run(ctx)
}

// RequestFlush asks the worker to drain the outbox. Requests while a cycle
// is active coalesce; the call never blocks.
func (w *Worker) RequestFlush() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// Stop shuts the worker down, waiting for the in-flight cycle up to the
// context deadline.
func (w *Worker) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
	})
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	// Drained lazily; nil channel when no wake is scheduled.
	var wakeC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.signal:
		case <-wakeC:
			wakeC = nil
		}

		wakeC = w.cycle(ctx, wakeC)
	}
}

// cycle drains the outbox until it is empty or a transient failure stops
// it. Returns a wake channel when a retry is scheduled.
func (w *Worker) cycle(ctx context.Context, wakeC <-chan time.Time) <-chan time.Time {
	if wait := time.Until(w.nextAllowed); wait > 0 {
		return w.scheduleWake(wait)
	}

	for {
		if ctx.Err() != nil {
			return wakeC
		}

		batch, err := w.outbox.ClaimBatch(w.batchSize)
		if err != nil {
			w.logger.Warn("claim batch failed", "error", err)
			return wakeC
		}
		if batch == nil {
			return wakeC
		}

		err = w.sender.Send(ctx, batch)
		switch {
		case err == nil:
			if err := w.outbox.DeleteBatch(batch); err != nil {
				w.logger.Warn("delete acknowledged batch failed", "error", err)
			}
			w.resetBackoff()

		case errors.Is(err, types.ErrPermanentDelivery):
			// Poisoned batch: retrying can never succeed, drop it so the
			// remaining entries keep flowing.
			w.logger.Error("dropping batch after permanent delivery failure",
				"entries", len(batch.Entries), "error", err)
			if err := w.outbox.DeleteBatch(batch); err != nil {
				w.logger.Warn("delete poisoned batch failed", "error", err)
			}

		default:
			if err := w.outbox.ReleaseBatch(batch); err != nil {
				w.logger.Warn("release batch failed", "error", err)
			}
			wait := w.nextBackoff(err)
			w.logger.Info("transient delivery failure, backing off",
				"wait", wait, "error", err)
			return w.scheduleWake(wait)
		}
	}
}

// nextBackoff computes and persists the wait before the next attempt.
// A server Retry-After hint acts as a floor on the exponential interval.
func (w *Worker) nextBackoff(err error) time.Duration {
	wait := w.bo.NextBackOff()

	var transient *delivery.TransientError
	if errors.As(err, &transient) && transient.RetryAfter > wait {
		wait = transient.RetryAfter
	}
	if wait > w.maxInterval {
		wait = w.maxInterval
	}

	w.nextAllowed = time.Now().Add(wait)
	w.persistNextAllowed()
	return wait
}

func (w *Worker) resetBackoff() {
	w.bo.Reset()
	w.nextAllowed = time.Time{}
	if err := w.queries.KVDelete(nextAllowedKey); err != nil {
		w.logger.Warn("clear backoff state failed", "error", err)
	}
}

func (w *Worker) persistNextAllowed() {
	value := w.nextAllowed.UTC().Format(time.RFC3339Nano)
	if err := w.queries.KVSet(nextAllowedKey, value); err != nil {
		w.logger.Warn("persist backoff state failed", "error", err)
	}
}

func (w *Worker) restoreNextAllowed() {
	value, ok, err := w.queries.KVGet(nextAllowedKey)
	if err != nil {
		w.logger.Warn("restore backoff state failed", "error", err)
		return
	}
	if !ok {
		return
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		w.logger.Warn("discarding malformed backoff state", "value", value)
		return
	}
	if t.After(time.Now()) {
		w.nextAllowed = t
	}
}

// scheduleWake arms (or re-arms) the retry timer and returns its channel.
func (w *Worker) scheduleWake(wait time.Duration) <-chan time.Time {
	if w.wake == nil {
		w.wake = time.NewTimer(wait)
		return w.wake.C
	}
	if !w.wake.Stop() {
		select {
		case <-w.wake.C:
		default:
		}
	}
	w.wake.Reset(wait)
	return w.wake.C
}
