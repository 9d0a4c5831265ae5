// Package cerrors defines the typed error taxonomy shared by every layer of
// the inference runtime. Callers are expected to use errors.Is/errors.As
// against the exported Kind sentinels rather than matching on message text.
package cerrors

import "fmt"

// Kind identifies which category of failure an Error represents.
type Kind int

const (
	// KindUnknownBrain is returned when a Runtime operation references a
	// BrainId that has never been added or has already been removed.
	KindUnknownBrain Kind = iota
	// KindUnknownInputKey is returned when a State carries a name that does
	// not match any of an inferer's declared input slots.
	KindUnknownInputKey
	// KindShapeMismatch is returned when a pushed vector's length does not
	// equal the target slot's per-sample element count.
	KindShapeMismatch
	// KindNoMatchingBatchSize is returned by FixedBatchInferer when asked to
	// run a view whose size is not in its compiled set.
	KindNoMatchingBatchSize
	// KindNoRecurrentPairs is returned by RecurrentTracker auto-discovery
	// when no input/output name+shape pair can be found.
	KindNoRecurrentPairs
	// KindGraphIntrospection is returned when ModelApi cannot resolve a
	// non-leading dimension as concrete.
	KindGraphIntrospection
	// KindExecution is returned when the underlying graph engine fails to
	// run a plan.
	KindExecution
	// KindOrphanedData is returned by clear/remove_inferer when the
	// discarded model still had queued work.
	KindOrphanedData
	// KindInternal wraps a lower-layer fault that escapes every other
	// category.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindUnknownBrain:
		return "unknown_brain"
	case KindUnknownInputKey:
		return "unknown_input_key"
	case KindShapeMismatch:
		return "shape_mismatch"
	case KindNoMatchingBatchSize:
		return "no_matching_batch_size"
	case KindNoRecurrentPairs:
		return "no_recurrent_pairs"
	case KindGraphIntrospection:
		return "graph_introspection_error"
	case KindExecution:
		return "execution_error"
	case KindOrphanedData:
		return "orphaned_data"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the single error type produced by this module. Fields beyond Kind
// and Message are best-effort context attached by the producing call site.
type Error struct {
	Kind    Kind
	Message string
	// OrphanedIDs carries the ids discarded by a KindOrphanedData error —
	// the BrainIds of models that still had queued work when removed or
	// cleared.
	OrphanedIDs []uint64
	cause       error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause, if any, to errors.Is/errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, cerrors.New(cerrors.KindUnknownBrain, "")) style sentinel
// comparisons work without comparing messages.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New constructs an Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind around an existing cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

// Orphaned constructs a KindOrphanedData error carrying the discarded ids.
func Orphaned(ids []uint64) *Error {
	return &Error{
		Kind:        KindOrphanedData,
		Message:     fmt.Sprintf("%d model(s) had queued data", len(ids)),
		OrphanedIDs: ids,
	}
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if ok := asError(err, &e); ok {
		return e.Kind, true
	}
	return KindInternal, false
}

func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
