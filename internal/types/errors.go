package types

import "errors"

// Sentinel errors for Beacon operations.
var (
	// ErrPredicateSyntax indicates malformed selector JSON. Surfaced at
	// compile time only; a compiled selector never raises it mid-evaluation.
	ErrPredicateSyntax = errors.New("malformed selector predicate")

	// ErrEvaluation indicates an unexpected type mismatch during predicate
	// evaluation. Callers at the trigger/matcher boundary treat it as
	// non-match.
	ErrEvaluation = errors.New("selector evaluation failed")

	// ErrTransientDelivery indicates a retryable send failure
	// (network error, 5xx, timeout). Retried with backoff.
	ErrTransientDelivery = errors.New("transient delivery failure")

	// ErrPermanentDelivery indicates the server rejected the payload as
	// malformed (4xx). The batch is dropped, never retried.
	ErrPermanentDelivery = errors.New("permanent delivery failure")

	// ErrStorage indicates a persistence layer failure. Enqueue degrades to
	// in-memory best-effort for the affected record.
	ErrStorage = errors.New("durable storage failure")

	// ErrStoreDestroyed indicates the pending-update store has been
	// logically invalidated by opt-out or reset.
	ErrStoreDestroyed = errors.New("pending update store destroyed")

	// ErrCapabilityNotPresent indicates a named capability provider was
	// never registered.
	ErrCapabilityNotPresent = errors.New("capability not present")

	// ErrRecordTooLarge indicates a serialized record exceeds MaxRecordSize.
	ErrRecordTooLarge = errors.New("record exceeds maximum size")

	// ErrPathTooDeep indicates a property key path exceeds MaxPropertyDepth.
	ErrPathTooDeep = errors.New("property path exceeds maximum depth")

	// ErrTooManyInValues indicates an "in" operand exceeds MaxInOperandValues.
	ErrTooManyInValues = errors.New("in operand has too many values")

	// ErrUnknownContentVersion indicates a content envelope with an
	// unsupported codec version.
	ErrUnknownContentVersion = errors.New("unknown content codec version")
)
