// Package delivery sends record batches to the remote ingestion endpoint
// and classifies every outcome into success, transient, or permanent.
//
// The classification is what keeps the pipeline alive: transient failures
// (network, timeout, 5xx, 429) are retried with backoff, permanent failures
// (other 4xx) mark the batch as poisoned so a single malformed record can
// never stall delivery forever.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/perimetric/beacon/internal/outbox"
	"github.com/perimetric/beacon/internal/types"
)

// TransientError reports a failure worth retrying. RetryAfter carries the
// server's Retry-After hint when present, zero otherwise.
type TransientError struct {
	RetryAfter time.Duration
	cause      error
}

func (e *TransientError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("transient delivery failure (retry after %s): %v", e.RetryAfter, e.cause)
	}
	return fmt.Sprintf("transient delivery failure: %v", e.cause)
}

func (e *TransientError) Unwrap() error { return types.ErrTransientDelivery }

// PermanentError reports a failure that can never succeed on retry.
type PermanentError struct {
	Status int
	cause  error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent delivery failure (status %d): %v", e.Status, e.cause)
}

func (e *PermanentError) Unwrap() error { return types.ErrPermanentDelivery }

// Sender transmits one claimed batch. A nil return means the server
// acknowledged every record in the batch.
type Sender interface {
	Send(ctx context.Context, batch *outbox.Batch) error
}

// HTTPSender posts JSON record arrays over HTTPS. Events and profile
// updates ride the same outbox but land on separate ingestion paths.
type HTTPSender struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger
}

// NewHTTPSender creates a sender against baseURL with a per-request timeout.
func NewHTTPSender(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSender{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// endpoint paths per record kind.
const (
	trackPath  = "/track"
	engagePath = "/engage"
)

// Send splits the batch by record kind and posts each group as a JSON
// array. The first transient failure aborts the send; a permanent failure
// is reported only when no group failed transiently, so the caller's
// drop-the-batch handling never races a retryable condition.
func (s *HTTPSender) Send(ctx context.Context, batch *outbox.Batch) error {
	if batch == nil || len(batch.Entries) == 0 {
		return nil
	}

	var events, profiles []json.RawMessage
	for _, entry := range batch.Entries {
		switch entry.Kind {
		case types.KindProfile:
			profiles = append(profiles, json.RawMessage(entry.Record))
		default:
			events = append(events, json.RawMessage(entry.Record))
		}
	}

	var permanent error
	if len(events) > 0 {
		if err := s.post(ctx, trackPath, events); err != nil {
			if _, ok := err.(*PermanentError); !ok {
				return err
			}
			permanent = err
		}
	}
	if len(profiles) > 0 {
		if err := s.post(ctx, engagePath, profiles); err != nil {
			if _, ok := err.(*PermanentError); !ok {
				return err
			}
			permanent = err
		}
	}
	return permanent
}

func (s *HTTPSender) post(ctx context.Context, path string, records []json.RawMessage) error {
	payload, err := json.Marshal(records)
	if err != nil {
		return &PermanentError{cause: fmt.Errorf("marshal batch: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &PermanentError{cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		// Timeouts and connection resets are retryable.
		return &TransientError{cause: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return classifyStatus(resp)
}

// classifyStatus maps a response to the delivery error taxonomy.
// 2xx success; 408/429/5xx transient; other 4xx permanent.
func classifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return &TransientError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			cause:      fmt.Errorf("server returned %d", resp.StatusCode),
		}
	default:
		return &PermanentError{
			Status: resp.StatusCode,
			cause:  fmt.Errorf("server rejected payload"),
		}
	}
}

// parseRetryAfter reads the delay-seconds form of the Retry-After header.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
