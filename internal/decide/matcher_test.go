// internal/decide/matcher_test.go
package decide

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/perimetric/beacon/internal/selector"
	"github.com/perimetric/beacon/internal/types"
)

func defWithFilter(t *testing.T, flagKey, hash, event, filter string) *FirstTimeEventDefinition {
	t.Helper()
	def := &FirstTimeEventDefinition{
		FlagKey:        flagKey,
		Hash:           hash,
		EventName:      event,
		PendingVariant: json.RawMessage(`"treatment"`),
	}
	if filter != "" {
		compiled, err := selector.Compile(json.RawMessage(filter))
		if err != nil {
			t.Fatalf("Compile(%s) error = %v", filter, err)
		}
		def.PropertyFilter = compiled
	}
	return def
}

func TestOnEventTracked_FiresOnce(t *testing.T) {
	var fired atomic.Int32
	m := NewFirstTimeEventMatcher(func(flagKey string, variant json.RawMessage) {
		if flagKey != "checkout-redesign" {
			t.Errorf("flagKey = %q, want checkout-redesign", flagKey)
		}
		if string(variant) != `"treatment"` {
			t.Errorf("variant = %s, want \"treatment\"", variant)
		}
		fired.Add(1)
	}, nil)

	m.ReplaceDefinitions([]*FirstTimeEventDefinition{
		defWithFilter(t, "checkout-redesign", "h1", "purchase", ""),
	})

	for i := 0; i < 5; i++ {
		m.OnEventTracked("purchase", nil)
	}

	if got := fired.Load(); got != 1 {
		t.Errorf("assignments = %d, want 1 (definition fires at most once)", got)
	}
	if got := m.PendingCount(); got != 0 {
		t.Errorf("PendingCount() = %d, want 0", got)
	}
}

func TestOnEventTracked_PropertyFilterGates(t *testing.T) {
	var fired atomic.Int32
	m := NewFirstTimeEventMatcher(func(string, json.RawMessage) { fired.Add(1) }, nil)

	m.ReplaceDefinitions([]*FirstTimeEventDefinition{
		defWithFilter(t, "big-spender", "h1", "purchase", `{">": [{"property": "amount"}, 100]}`),
	})

	m.OnEventTracked("purchase", types.Properties{"amount": float64(50)})
	if got := fired.Load(); got != 0 {
		t.Fatalf("assignments = %d after non-matching props, want 0", got)
	}
	m.OnEventTracked("signup", types.Properties{"amount": float64(500)})
	if got := fired.Load(); got != 0 {
		t.Fatalf("assignments = %d after wrong event, want 0", got)
	}
	m.OnEventTracked("purchase", types.Properties{"amount": float64(500)})
	if got := fired.Load(); got != 1 {
		t.Errorf("assignments = %d, want 1", got)
	}
}

func TestOnEventTracked_FilterErrorIsNonMatch(t *testing.T) {
	var fired atomic.Int32
	m := NewFirstTimeEventMatcher(func(string, json.RawMessage) { fired.Add(1) }, nil)

	m.ReplaceDefinitions([]*FirstTimeEventDefinition{
		defWithFilter(t, "flag", "h1", "purchase", `{">": [{"property": "amount"}, 100]}`),
	})

	// String amount is a type mismatch; the definition must survive.
	m.OnEventTracked("purchase", types.Properties{"amount": "lots"})
	if got := fired.Load(); got != 0 {
		t.Fatalf("assignments = %d, want 0", got)
	}
	if got := m.PendingCount(); got != 1 {
		t.Errorf("PendingCount() = %d, want 1 (non-match keeps definition)", got)
	}
}

func TestOnEventTracked_MultipleDefinitionsAllFire(t *testing.T) {
	var mu sync.Mutex
	firedKeys := map[string]int{}
	m := NewFirstTimeEventMatcher(func(flagKey string, _ json.RawMessage) {
		mu.Lock()
		firedKeys[flagKey]++
		mu.Unlock()
	}, nil)

	m.ReplaceDefinitions([]*FirstTimeEventDefinition{
		defWithFilter(t, "flag-a", "h1", "purchase", ""),
		defWithFilter(t, "flag-b", "h2", "purchase", ""),
		defWithFilter(t, "flag-c", "h3", "signup", ""),
	})

	m.OnEventTracked("purchase", nil)

	mu.Lock()
	defer mu.Unlock()
	if firedKeys["flag-a"] != 1 || firedKeys["flag-b"] != 1 {
		t.Errorf("firedKeys = %v, want flag-a and flag-b fired once each", firedKeys)
	}
	if firedKeys["flag-c"] != 0 {
		t.Errorf("flag-c fired on wrong event")
	}
}

func TestOnEventTracked_ConcurrentAtMostOnce(t *testing.T) {
	var fired atomic.Int32
	m := NewFirstTimeEventMatcher(func(string, json.RawMessage) { fired.Add(1) }, nil)

	m.ReplaceDefinitions([]*FirstTimeEventDefinition{
		defWithFilter(t, "flag", "h1", "purchase", ""),
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.OnEventTracked("purchase", nil)
		}()
	}
	wg.Wait()

	if got := fired.Load(); got != 1 {
		t.Errorf("assignments = %d under concurrent tracking, want 1", got)
	}
}

func TestReplaceDefinitions_FiredKeysStayExcluded(t *testing.T) {
	var fired atomic.Int32
	m := NewFirstTimeEventMatcher(func(string, json.RawMessage) { fired.Add(1) }, nil)

	defs := []*FirstTimeEventDefinition{defWithFilter(t, "flag", "h1", "purchase", "")}
	m.ReplaceDefinitions(defs)
	m.OnEventTracked("purchase", nil)
	if got := fired.Load(); got != 1 {
		t.Fatalf("assignments = %d, want 1", got)
	}

	// A refetch delivering the same composite key must not rearm it.
	m.ReplaceDefinitions([]*FirstTimeEventDefinition{defWithFilter(t, "flag", "h1", "purchase", "")})
	if got := m.PendingCount(); got != 0 {
		t.Errorf("PendingCount() = %d after refetch of fired key, want 0", got)
	}
	m.OnEventTracked("purchase", nil)
	if got := fired.Load(); got != 1 {
		t.Errorf("assignments = %d after refetch, want 1 (firing is permanent)", got)
	}

	// A different hash for the same flag is a new definition and may fire.
	m.ReplaceDefinitions([]*FirstTimeEventDefinition{defWithFilter(t, "flag", "h2", "purchase", "")})
	m.OnEventTracked("purchase", nil)
	if got := fired.Load(); got != 2 {
		t.Errorf("assignments = %d, want 2 (new hash is a new definition)", got)
	}
}

func TestReplaceDefinitions_DuplicateKeysKeepFirst(t *testing.T) {
	m := NewFirstTimeEventMatcher(nil, nil)
	m.ReplaceDefinitions([]*FirstTimeEventDefinition{
		defWithFilter(t, "flag", "h1", "purchase", ""),
		defWithFilter(t, "flag", "h1", "signup", ""),
	})
	if got := m.PendingCount(); got != 1 {
		t.Errorf("PendingCount() = %d, want 1 (at most one per composite key)", got)
	}
}
