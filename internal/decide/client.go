// internal/decide/client.go
package decide

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/perimetric/beacon/internal/content"
	"github.com/perimetric/beacon/internal/selector"
	"github.com/perimetric/beacon/internal/types"
)

/*
 * Decide endpoint client.
 *
 * Fetches server-pushed configuration (surveys, notifications, flag config
 * with first-time-event targeting) for one (token, distinct-id) identity.
 *
 * ETag caching: the server's ETag rides back as If-None-Match on the next
 * fetch; 304 short-circuits parsing entirely. Content-addressable ETags make
 * unchanged configuration effectively free on the wire.
 *
 * Malformed entries: a flag whose property filter fails to compile is
 * skipped with a warning and the rest of the payload is processed. One bad
 * rule must not poison the whole configuration.
 */

// Response is the parsed decide payload.
type Response struct {
	Surveys       []*content.Survey       `json:"surveys"`
	Notifications []*content.Notification `json:"notifications"`
	Flags         []FlagConfig            `json:"flags"`
}

// FlagConfig is one feature flag definition with optional first-time-event
// targeting rules.
type FlagConfig struct {
	FlagKey         string               `json:"flag_key"`
	FlagID          int64                `json:"flag_id"`
	ProjectID       int64                `json:"project_id"`
	FirstTimeEvents []FirstTimeEventRule `json:"first_time_events,omitempty"`
}

// FirstTimeEventRule is the wire form of a first-time-event targeting rule.
type FirstTimeEventRule struct {
	Hash            string          `json:"hash"`
	EventName       string          `json:"event"`
	PropertyFilters json.RawMessage `json:"property_filters,omitempty"`
	Variant         json.RawMessage `json:"variant"`
}

// Client fetches decide responses with ETag caching.
// Safe for use from a single background fetch loop; the etag guard makes
// concurrent fetches safe as well.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *slog.Logger

	mu   sync.Mutex
	etag string
}

// NewClient creates a decide client for the given base URL.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Fetch retrieves decide configuration for the identity.
// Returns (nil, true, nil) when the server reports the configuration
// unchanged (304). Transport and 5xx failures wrap ErrTransientDelivery.
func (c *Client) Fetch(ctx context.Context, token, distinctID string) (*Response, bool, error) {
	endpoint := fmt.Sprintf("%s/decide?%s", c.baseURL, url.Values{
		"token":       {token},
		"distinct_id": {distinctID},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build decide request: %w", err)
	}
	c.mu.Lock()
	if c.etag != "" {
		req.Header.Set("If-None-Match", c.etag)
	}
	c.mu.Unlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", types.ErrTransientDelivery, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		return nil, true, nil
	case resp.StatusCode >= 500:
		return nil, false, fmt.Errorf("%w: decide returned %d", types.ErrTransientDelivery, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("decide returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, types.MaxRecordSize))
	if err != nil {
		return nil, false, fmt.Errorf("%w: read decide body: %v", types.ErrTransientDelivery, err)
	}

	var parsed Response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, false, fmt.Errorf("parse decide response: %w", err)
	}

	if etag := resp.Header.Get("ETag"); etag != "" {
		c.mu.Lock()
		c.etag = etag
		c.mu.Unlock()
	}

	return &parsed, false, nil
}

// Definitions compiles a response's first-time-event rules into matcher
// definitions. Rules with malformed property filters are skipped and logged.
func (c *Client) Definitions(resp *Response) []*FirstTimeEventDefinition {
	if resp == nil {
		return nil
	}

	var defs []*FirstTimeEventDefinition
	for _, flag := range resp.Flags {
		for _, rule := range flag.FirstTimeEvents {
			def := &FirstTimeEventDefinition{
				FlagKey:        flag.FlagKey,
				FlagID:         flag.FlagID,
				ProjectID:      flag.ProjectID,
				Hash:           rule.Hash,
				EventName:      rule.EventName,
				PendingVariant: rule.Variant,
			}
			if len(rule.PropertyFilters) > 0 && string(rule.PropertyFilters) != "null" {
				compiled, err := selector.Compile(rule.PropertyFilters)
				if err != nil {
					// Skip malformed rule - continue processing others.
					c.logger.Warn("skipping first-time event rule with malformed filter",
						"flag_key", flag.FlagKey, "hash", rule.Hash, "error", err)
					continue
				}
				def.PropertyFilter = compiled
			}
			defs = append(defs, def)
		}
	}
	return defs
}
