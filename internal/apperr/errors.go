package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure for callers that have to decide between showing a form error,
// reporting partial results or paging an operator.
type Kind string

const (
	KindInput     Kind = "input"
	KindNotFound  Kind = "not_found"
	KindConflict  Kind = "conflict"
	KindPartial   Kind = "partial_failure"
	KindIntegrity Kind = "integrity"
	KindInternal  Kind = "internal"
)

// Failure is one itemized failure inside a partial result.
type Failure struct {
	Item  string `json:"item"`
	Error string `json:"error"`
}

// Error is the structured failure returned by every core operation.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error

	// Failed lists the items that did not make it when Kind is KindPartial.
	Failed []Failure
	// Orphaned lists record IDs that could not be rolled back.
	Orphaned []string
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func Input(op, format string, args ...any) *Error {
	return &Error{Kind: KindInput, Op: op, Message: fmt.Sprintf(format, args...)}
}

func NotFound(op, what string, err error) *Error {
	return &Error{Kind: KindNotFound, Op: op, Message: what + " not found", Err: err}
}

func Conflict(op, msg string, err error) *Error {
	return &Error{Kind: KindConflict, Op: op, Message: msg, Err: err}
}

func Partial(op, msg string, failed []Failure) *Error {
	return &Error{Kind: KindPartial, Op: op, Message: msg, Failed: failed}
}

// Integrity reports a failure that left (or may have left) the record store inconsistent.
func Integrity(op, msg string, err error, orphaned ...string) *Error {
	return &Error{Kind: KindIntegrity, Op: op, Message: msg, Err: err, Orphaned: orphaned}
}

func Internal(op, msg string, err error) *Error {
	return &Error{Kind: KindInternal, Op: op, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsAlert reports whether err needs operator attention rather than a user-facing message.
func IsAlert(err error) bool { return KindOf(err) == KindIntegrity }

// As is a shorthand for errors.As into *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
