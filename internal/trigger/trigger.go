// Package trigger binds event names to optional selector predicates.
//
// A DisplayTrigger gates in-app content and first-time-event definitions:
// it matches when its event name is the $any_event wildcard or equals the
// tracked event name, and its selector (if any) evaluates true. Selector
// evaluation failures are logged and treated as non-match; a broken
// predicate must never surface an error into the tracking path.
package trigger

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/perimetric/beacon/internal/selector"
	"github.com/perimetric/beacon/internal/types"
)

// DisplayTrigger matches tracked events by name and optional selector.
// Immutable after construction; safe for concurrent Matches calls.
type DisplayTrigger struct {
	eventName string
	sel       *selector.Compiled
	logger    *slog.Logger
}

// wireTrigger is the serialized form of a trigger.
type wireTrigger struct {
	EventName string          `json:"event"`
	Selector  json.RawMessage `json:"selector,omitempty"`
}

// New creates a trigger for the given event name and optional selector JSON.
// An empty selector means the trigger matches on event name alone.
// Returns types.ErrPredicateSyntax (wrapped) for malformed selectors.
func New(eventName string, selectorJSON json.RawMessage, logger *slog.Logger) (*DisplayTrigger, error) {
	if eventName == "" {
		return nil, fmt.Errorf("%w: trigger event name required", types.ErrPredicateSyntax)
	}
	if logger == nil {
		logger = slog.Default()
	}

	t := &DisplayTrigger{eventName: eventName, logger: logger}
	if len(selectorJSON) > 0 && string(selectorJSON) != "null" {
		sel, err := selector.Compile(selectorJSON)
		if err != nil {
			return nil, err
		}
		t.sel = sel
	}
	return t, nil
}

// EventName returns the trigger's target event name (possibly $any_event).
func (t *DisplayTrigger) EventName() string {
	return t.eventName
}

// Matches reports whether the tracked event satisfies this trigger.
// Fail-closed: selector evaluation errors are logged and count as non-match.
func (t *DisplayTrigger) Matches(eventName string, props types.Properties) bool {
	if t.eventName != types.AnyEvent && t.eventName != eventName {
		return false
	}
	if t.sel == nil {
		return true
	}

	ok, err := t.sel.Evaluate(props)
	if err != nil {
		t.logger.Warn("trigger selector evaluation failed, treating as non-match",
			"event", eventName, "error", err)
		return false
	}
	return ok
}

// Decode parses a serialized trigger, attaching logger for evaluation
// warnings.
func Decode(data []byte, logger *slog.Logger) (*DisplayTrigger, error) {
	var w wireTrigger
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrPredicateSyntax, err)
	}
	return New(w.EventName, w.Selector, logger)
}

// MarshalJSON implements json.Marshaler for the content codec.
func (t *DisplayTrigger) MarshalJSON() ([]byte, error) {
	w := wireTrigger{EventName: t.eventName}
	if t.sel != nil {
		w.Selector = t.sel.Source()
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler for the content codec.
// Recompiles the selector so a decoded trigger behaves identically.
func (t *DisplayTrigger) UnmarshalJSON(data []byte) error {
	var w wireTrigger
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", types.ErrPredicateSyntax, err)
	}

	decoded, err := New(w.EventName, w.Selector, t.logger)
	if err != nil {
		return err
	}
	*t = *decoded
	return nil
}
