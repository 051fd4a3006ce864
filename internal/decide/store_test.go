// internal/decide/store_test.go
package decide

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/perimetric/beacon/internal/content"
)

func TestReportResults_DedupByIdentity(t *testing.T) {
	var calls atomic.Int32
	store := NewPendingUpdateStore("token", "user-1", func(string) {
		calls.Add(1)
	})

	survey := &content.Survey{ID: 42}
	store.ReportResults([]*content.Survey{survey}, nil)
	store.ReportResults([]*content.Survey{survey}, nil)
	store.ReportResults([]*content.Survey{{ID: 42}}, nil)

	// Re-delivery of identity 42 is a no-op: one queue entry, one callback.
	if got := calls.Load(); got != 1 {
		t.Errorf("listener invocations = %d, want 1", got)
	}
	if sv := store.PopSurvey(); sv == nil || sv.ID != 42 {
		t.Fatalf("PopSurvey() = %v, want survey 42", sv)
	}
	if sv := store.PopSurvey(); sv != nil {
		t.Errorf("PopSurvey() = %v, want nil after drain", sv)
	}
}

func TestReportResults_ListenerOncePerCall(t *testing.T) {
	var calls atomic.Int32
	var gotDistinct atomic.Value
	store := NewPendingUpdateStore("token", "user-1", func(distinctID string) {
		calls.Add(1)
		gotDistinct.Store(distinctID)
	})

	store.ReportResults(
		[]*content.Survey{{ID: 1}, {ID: 2}, {ID: 3}},
		[]*content.Notification{{ID: 10}, {ID: 11}},
	)

	if got := calls.Load(); got != 1 {
		t.Errorf("listener invocations = %d, want 1 (batched, not per item)", got)
	}
	if got := gotDistinct.Load(); got != "user-1" {
		t.Errorf("listener distinct-id = %v, want user-1", got)
	}
}

func TestReportResults_NoNewItemsNoCallback(t *testing.T) {
	var calls atomic.Int32
	store := NewPendingUpdateStore("token", "user-1", func(string) {
		calls.Add(1)
	})

	store.ReportResults([]*content.Survey{{ID: 1}}, nil)
	store.ReportResults([]*content.Survey{{ID: 1}}, nil) // all duplicates

	if got := calls.Load(); got != 1 {
		t.Errorf("listener invocations = %d, want 1", got)
	}
}

func TestPop_FIFOOrder(t *testing.T) {
	store := NewPendingUpdateStore("token", "user-1", nil)
	store.ReportResults(nil, []*content.Notification{{ID: 1}, {ID: 2}})
	store.ReportResults(nil, []*content.Notification{{ID: 3}})

	for _, want := range []int{1, 2, 3} {
		n := store.PopNotification()
		if n == nil || n.ID != want {
			t.Fatalf("PopNotification() = %v, want notification %d", n, want)
		}
	}
	if store.HasUpdatesAvailable() {
		t.Error("HasUpdatesAvailable() = true after drain")
	}
}

func TestHasUpdatesAvailable(t *testing.T) {
	store := NewPendingUpdateStore("token", "user-1", nil)
	if store.HasUpdatesAvailable() {
		t.Error("HasUpdatesAvailable() = true on empty store")
	}
	store.ReportResults([]*content.Survey{{ID: 1}}, nil)
	if !store.HasUpdatesAvailable() {
		t.Error("HasUpdatesAvailable() = false with pending survey")
	}
}

func TestDestroy_SuppressesCallbacks(t *testing.T) {
	var calls atomic.Int32
	store := NewPendingUpdateStore("token", "user-1", func(string) {
		calls.Add(1)
	})

	store.Destroy()
	if !store.IsDestroyed() {
		t.Fatal("IsDestroyed() = false after Destroy")
	}

	// Late-arriving results are absorbed but deliver no callback.
	store.ReportResults([]*content.Survey{{ID: 1}}, nil)
	if got := calls.Load(); got != 0 {
		t.Errorf("listener invocations after destroy = %d, want 0", got)
	}
}

func TestStore_ConcurrentReportAndPop(t *testing.T) {
	store := NewPendingUpdateStore("token", "user-1", nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				store.ReportResults([]*content.Survey{{ID: base*50 + j}}, nil)
			}
		}(i)
	}

	var popped atomic.Int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if store.PopSurvey() != nil {
					popped.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	// Drain remaining; total popped must equal total distinct reported.
	for store.PopSurvey() != nil {
		popped.Add(1)
	}
	if got := popped.Load(); got != 400 {
		t.Errorf("total popped = %d, want 400", got)
	}
}
