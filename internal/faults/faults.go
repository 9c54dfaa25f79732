// Package faults classifies the failures the resolution, health and deploy
// paths can produce, so callers can tell an unresolved hierarchy value from a
// missing processing unit or a transient fetch error.
package faults

import (
	"errors"
	"fmt"
)

// Kind is the classification of a failure.
type Kind int

const (
	// KindUnresolvedPath: a hierarchy value or base path needed to build the
	// expected path is missing.
	KindUnresolvedPath Kind = iota
	// KindNotFound: no processing unit exists at the expected path.
	KindNotFound
	// KindTransientFetch: a status or topology fetch failed (network, 5xx).
	KindTransientFetch
	// KindVersionConflict: the target already holds a different version.
	KindVersionConflict
	// KindFatalDeploy: any other push/delete/update failure.
	KindFatalDeploy
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindUnresolvedPath:
		return "unresolved_path"
	case KindNotFound:
		return "not_found"
	case KindTransientFetch:
		return "transient_fetch"
	case KindVersionConflict:
		return "version_conflict"
	case KindFatalDeploy:
		return "fatal_deploy"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per kind.
var (
	ErrUnresolvedPath  = errors.New("unresolved path")
	ErrNotFound        = errors.New("processing unit not found")
	ErrTransientFetch  = errors.New("transient fetch error")
	ErrVersionConflict = errors.New("version conflict")
	ErrFatalDeploy     = errors.New("deploy failed")
)

func (k Kind) sentinel() error {
	switch k {
	case KindUnresolvedPath:
		return ErrUnresolvedPath
	case KindNotFound:
		return ErrNotFound
	case KindTransientFetch:
		return ErrTransientFetch
	case KindVersionConflict:
		return ErrVersionConflict
	default:
		return ErrFatalDeploy
	}
}

// Error wraps an underlying error with its classification and the operation
// that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// Error implements the error interface. The underlying message is passed
// through verbatim so deploy failures surface exactly what the instance said.
func (e *Error) Error() string {
	if e.Err == nil {
		if e.Op == "" {
			return e.Kind.sentinel().Error()
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Kind.sentinel())
	}
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err.Error())
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's kind, so
// errors.Is(err, ErrNotFound) works on classified errors.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// New creates a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Unresolved creates a KindUnresolvedPath error with a formatted reason.
func Unresolved(op, format string, args ...any) *Error {
	return &Error{Kind: KindUnresolvedPath, Op: op, Err: fmt.Errorf("%w: "+format, append([]any{ErrUnresolvedPath}, args...)...)}
}

// KindOf returns the classification of err. Unclassified errors are fatal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, ErrUnresolvedPath):
		return KindUnresolvedPath
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTransientFetch):
		return KindTransientFetch
	case errors.Is(err, ErrVersionConflict):
		return KindVersionConflict
	}
	return KindFatalDeploy
}

// IsUnresolved checks if err is an unresolved path failure
func IsUnresolved(err error) bool {
	return err != nil && errors.Is(err, ErrUnresolvedPath)
}

// IsNotFound checks if err is a missing processing unit
func IsNotFound(err error) bool {
	return err != nil && errors.Is(err, ErrNotFound)
}

// IsTransient checks if err is a transient fetch failure
func IsTransient(err error) bool {
	return err != nil && errors.Is(err, ErrTransientFetch)
}
