// internal/decide/client_test.go
package decide

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const decideBody = `{
	"surveys": [{"id": 1, "collection_id": 9, "questions": []}],
	"notifications": [{"id": 10, "type": "mini", "body": "hi"}],
	"flags": [
		{
			"flag_key": "checkout-redesign",
			"flag_id": 3,
			"project_id": 12,
			"first_time_events": [
				{"hash": "h1", "event": "purchase", "property_filters": {">": [{"property": "amount"}, 10]}, "variant": "treatment"},
				{"hash": "h2", "event": "signup", "variant": "control"},
				{"hash": "h3", "event": "purchase", "property_filters": {"bogus-op": [1]}, "variant": "broken"}
			]
		}
	]
}`

func TestFetch_ParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok-1", r.URL.Query().Get("token"))
		assert.Equal(t, "user-1", r.URL.Query().Get("distinct_id"))
		w.Header().Set("ETag", `"abc123"`)
		w.Write([]byte(decideBody))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	resp, notModified, err := c.Fetch(context.Background(), "tok-1", "user-1")
	require.NoError(t, err)
	require.False(t, notModified)
	require.NotNil(t, resp)

	assert.Len(t, resp.Surveys, 1)
	assert.Len(t, resp.Notifications, 1)
	require.Len(t, resp.Flags, 1)
	assert.Equal(t, "checkout-redesign", resp.Flags[0].FlagKey)
}

func TestFetch_ETagNotModified(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		if r.Header.Get("If-None-Match") == `"abc123"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"abc123"`)
		w.Write([]byte(`{"surveys": [], "notifications": [], "flags": []}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)

	_, notModified, err := c.Fetch(context.Background(), "tok", "u")
	require.NoError(t, err)
	assert.False(t, notModified)

	resp, notModified, err := c.Fetch(context.Background(), "tok", "u")
	require.NoError(t, err)
	assert.True(t, notModified, "second fetch should hit the ETag cache")
	assert.Nil(t, resp)
	assert.Equal(t, int32(2), requests.Load())
}

func TestFetch_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	_, _, err := c.Fetch(context.Background(), "tok", "u")
	require.Error(t, err)
	assert.ErrorContains(t, err, "transient")
}

func TestDefinitions_SkipsMalformedFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(decideBody))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second, nil)
	resp, _, err := c.Fetch(context.Background(), "tok", "u")
	require.NoError(t, err)

	defs := c.Definitions(resp)
	// h3 has a malformed filter and is skipped; h1 and h2 survive.
	require.Len(t, defs, 2)
	assert.Equal(t, "checkout-redesign:h1", defs[0].CompositeKey())
	assert.NotNil(t, defs[0].PropertyFilter)
	assert.Equal(t, "checkout-redesign:h2", defs[1].CompositeKey())
	assert.Nil(t, defs[1].PropertyFilter)
}
