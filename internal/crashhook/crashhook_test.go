package crashhook

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandle struct {
	mu      sync.Mutex
	reasons []string
}

func (h *recordingHandle) RecordCrash(reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reasons = append(h.reasons, reason)
}

func (h *recordingHandle) recorded() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.reasons...)
}

type panickingHandle struct{}

func (panickingHandle) RecordCrash(string) { panic("broken handle") }

func TestNotify_ReachesAllRegisteredHandles(t *testing.T) {
	a := &recordingHandle{}
	b := &recordingHandle{}
	idA := Register(a)
	idB := Register(b)
	defer Deregister(idA)
	defer Deregister(idB)

	Notify("signal: terminated")

	assert.Equal(t, []string{"signal: terminated"}, a.recorded())
	assert.Equal(t, []string{"signal: terminated"}, b.recorded())
}

func TestDeregister_StopsDelivery(t *testing.T) {
	h := &recordingHandle{}
	id := Register(h)
	Deregister(id)

	Notify("signal: terminated")

	assert.Empty(t, h.recorded())
}

func TestNotify_BrokenHandleDoesNotMaskOthers(t *testing.T) {
	broken := Register(panickingHandle{})
	h := &recordingHandle{}
	id := Register(h)
	defer Deregister(broken)
	defer Deregister(id)

	require.NotPanics(t, func() { Notify("panic: boom") })
	assert.Equal(t, []string{"panic: boom"}, h.recorded())
}

func TestChain_PreservesExistingHandler(t *testing.T) {
	h := &recordingHandle{}
	id := Register(h)
	defer Deregister(id)

	var chained []string
	Chain(func(reason string) { chained = append(chained, reason) })

	Notify("panic: boom")

	assert.Equal(t, []string{"panic: boom"}, h.recorded())
	assert.Equal(t, []string{"panic: boom"}, chained)
}

func TestNotify_BrokenChainedHandlerDoesNotMaskOthers(t *testing.T) {
	h := &recordingHandle{}
	id := Register(h)
	defer Deregister(id)

	var chained []string
	Chain(func(string) { panic("broken chained handler") })
	Chain(func(reason string) { chained = append(chained, reason) })

	require.NotPanics(t, func() { Notify("panic: boom") })
	assert.Equal(t, []string{"panic: boom"}, h.recorded())
	assert.Contains(t, chained, "panic: boom")
}

func TestRecovered_RecordsAndRepanics(t *testing.T) {
	h := &recordingHandle{}
	id := Register(h)
	defer Deregister(id)

	assert.PanicsWithValue(t, "boom", func() {
		defer Recovered()
		panic("boom")
	})
	assert.Equal(t, []string{"panic: boom"}, h.recorded())
}
