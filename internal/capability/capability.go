// Package capability is a registry for optional integrations the host
// application may or may not provide (push token sources, in-app display
// surfaces, crash reporters). Lookups fail explicitly instead of nil-panic
// when a capability was never wired in.
package capability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/perimetric/beacon/internal/types"
)

// Registry maps capability names to providers. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]any
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]any)}
}

// Register installs (or replaces) a provider under name. A nil provider
// removes the registration.
func (r *Registry) Register(name string, provider any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if provider == nil {
		delete(r.providers, name)
		return
	}
	r.providers[name] = provider
}

// Resolve returns the provider registered under name.
func (r *Registry) Resolve(name string) (any, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	provider, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrCapabilityNotPresent, name)
	}
	return provider, nil
}

// ResolveEventually polls for a provider that may be registered after
// startup (e.g. a surface created once the UI is up). It retries at the
// given interval up to maxAttempts, honoring context cancellation. The
// attempt cap is hard: a capability that never shows up yields
// types.ErrCapabilityNotPresent, not an unbounded wait.
func (r *Registry) ResolveEventually(ctx context.Context, name string, interval time.Duration, maxAttempts int) (any, error) {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		provider, err := r.Resolve(name)
		if err == nil {
			return provider, nil
		}
		if attempt >= maxAttempts {
			return nil, fmt.Errorf("%w: %s (after %d attempts)",
				types.ErrCapabilityNotPresent, name, attempt)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
