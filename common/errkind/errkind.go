// Package errkind defines the closed set of error kinds surfaced
// synchronously by the thread-group coordination core (registry lookups,
// roster edits, and the constraint-change protocol).  Barrier-internal
// anomalies are never represented here — they are invariant violations,
// and are fatal by panic rather than by returning a Kind.
package errkind

import "fmt"

// Kind is one of the error kinds named in the external interface of the
// thread-group coordination core.
type Kind int

const (
	// OK indicates no error.
	OK Kind = iota
	// NotFound indicates a registry lookup miss.
	NotFound
	// NotEmpty indicates delete was attempted on a non-empty group.
	NotEmpty
	// AllocFail indicates a dynamic allocation was denied.
	AllocFail
	// NotMember indicates leave was called by a non-member.
	NotMember
	// FailedWithRollback indicates at least one peer failed to commit
	// the target constraint; all members were left on prior or default.
	FailedWithRollback
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "ok"
	case NotFound:
		return "not found"
	case NotEmpty:
		return "not empty"
	case AllocFail:
		return "alloc fail"
	case NotMember:
		return "not member"
	case FailedWithRollback:
		return "failed with rollback"
	default:
		return "unknown"
	}
}

// Error wraps a Kind with a contextual message, matching the
// sentinel-error-per-condition style the teacher uses in
// roothash/memory (errRuntimeExists, errNoSuchRuntime, ...), but keeping
// the Kind inspectable via errors.As for callers that branch on it.
type Error struct {
	Kind Kind
	msg  string
}

func (e *Error) Error() string {
	if e.msg == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

// Is reports whether target is an *Error with the same Kind, so callers
// can use errors.Is(err, errkind.New(errkind.NotFound, "")).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// New constructs an *Error of the given kind with a contextual message.
func New(kind Kind, msg string) error {
	return &Error{Kind: kind, msg: msg}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// As extracts the Kind of err, returning (kind, true) if err is (or
// wraps) an *Error, or (OK, false) otherwise.
func As(err error) (Kind, bool) {
	var e *Error
	if ok := asError(err, &e); !ok {
		return OK, false
	}
	return e.Kind, true
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
