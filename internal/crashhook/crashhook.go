// Package crashhook records a final event into every active client's
// outbox when the process is going down abnormally.
//
// Clients register a handle on startup and deregister on Close. The
// process-wide hook is installed once, no matter how many clients exist;
// installing over an existing handler chains to it rather than replacing
// it. Dispatch is synchronous and best-effort: the process is dying, so a
// handle that fails to record is skipped, never retried.
package crashhook

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Handle is a client's crash-recording surface.
type Handle interface {
	RecordCrash(reason string)
}

// HandlerFunc is a previously installed crash handler to chain to.
type HandlerFunc func(reason string)

var (
	mu       sync.Mutex
	handles  = make(map[uint64]Handle)
	nextID   uint64
	previous []HandlerFunc

	installOnce sync.Once
)

// Register adds a client handle and installs the process hook on first
// use. The returned id deregisters the handle.
func Register(h Handle) uint64 {
	installOnce.Do(installSignalHook)

	mu.Lock()
	defer mu.Unlock()
	nextID++
	handles[nextID] = h
	return nextID
}

// Deregister removes a handle. Unknown ids are ignored.
func Deregister(id uint64) {
	mu.Lock()
	defer mu.Unlock()
	delete(handles, id)
}

// Chain installs a handler invoked after the registered handles on every
// crash dispatch, preserving whatever crash reporting the host application
// already had.
func Chain(h HandlerFunc) {
	if h == nil {
		return
	}
	mu.Lock()
	defer mu.Unlock()
	previous = append(previous, h)
}

// Notify dispatches a crash reason to every registered handle, then to the
// chained handlers. Safe to call from any goroutine.
func Notify(reason string) {
	mu.Lock()
	snapshot := make([]Handle, 0, len(handles))
	for _, h := range handles {
		snapshot = append(snapshot, h)
	}
	chained := make([]HandlerFunc, len(previous))
	copy(chained, previous)
	mu.Unlock()

	for _, h := range snapshot {
		func() {
			defer func() { recover() }() // a broken handle must not mask the others
			h.RecordCrash(reason)
		}()
	}
	for _, h := range chained {
		func() {
			defer func() { recover() }() // same guard for chained handlers
			h(reason)
		}()
	}
}

// Recovered is meant for deferred use at the top of SDK goroutines:
//
//	defer crashhook.Recovered()
//
// It records the panic into every registered handle and re-panics so the
// runtime still prints the goroutine trace.
func Recovered() {
	r := recover()
	if r == nil {
		return
	}
	Notify(fmt.Sprintf("panic: %v", r))
	panic(r)
}

// installSignalHook forwards fatal termination signals through Notify
// before restoring default disposition and re-raising, so the process
// still dies with the expected status.
func installSignalHook() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGABRT)

	go func() {
		sig := <-signals
		Notify(fmt.Sprintf("signal: %s", sig))
		signal.Reset(sig)
		if s, ok := sig.(syscall.Signal); ok {
			syscall.Kill(os.Getpid(), s)
		}
	}()
}
