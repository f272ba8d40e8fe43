// Package etlerr defines the single tagged error type returned by pipeline
// stages. Each stage reports failures with its own Kind; the orchestrator maps
// the Kind onto a process outcome.
package etlerr

import (
	"errors"
	"fmt"
)

// Kind identifies the stage (or configuration) that produced an error.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfig
	KindExtraction
	KindTransformation
	KindLoad
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindExtraction:
		return "extraction"
	case KindTransformation:
		return "transformation"
	case KindLoad:
		return "load"
	default:
		return "unknown"
	}
}

// Reason refines a load error into the operator action it needs.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonNotFound: a bucket, object or dataset is missing and must be created.
	ReasonNotFound
	// ReasonPermissionDenied: the running identity lacks a role.
	ReasonPermissionDenied
	// ReasonSchemaMismatch: the destination table has incompatible columns.
	ReasonSchemaMismatch
)

func (r Reason) String() string {
	switch r {
	case ReasonNotFound:
		return "not_found"
	case ReasonPermissionDenied:
		return "permission_denied"
	case ReasonSchemaMismatch:
		return "schema_mismatch"
	default:
		return "none"
	}
}

// Error is a stage error carrying a human-actionable message and, when there
// is one, the underlying cause.
type Error struct {
	Kind   Kind
	Reason Reason
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an Error of kind k with a formatted message.
func New(k Kind, format string, a ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, a...)}
}

// Wrap returns an Error of kind k wrapping err.
func Wrap(k Kind, err error, format string, a ...any) *Error {
	return &Error{Kind: k, Msg: fmt.Sprintf(format, a...), Err: err}
}

// WithReason sets the reason and returns e for chaining.
func (e *Error) WithReason(r Reason) *Error {
	e.Reason = r
	return e
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// ReasonOf returns the Reason of the first *Error in err's chain.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonNone
}

// Is reports whether err carries kind k.
func Is(err error, k Kind) bool { return err != nil && KindOf(err) == k }
