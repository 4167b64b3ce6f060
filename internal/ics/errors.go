package ics

import (
	"errors"
	"fmt"

	"calimport/internal/model"
)

// Failure categories. Every error returned by this package matches exactly
// one of them with errors.Is.
var (
	// ErrInvalidArgument means the caller handed in something unusable.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrIO means reading or seeking the source failed.
	ErrIO = errors.New("i/o failure")
	// ErrStructure means the document (or a reassembled fragment of it) is
	// malformed.
	ErrStructure = errors.New("malformed calendar data")
)

// Error describes a failure of a scan or extraction.
type Error struct {
	Op     string
	Kind   error
	Offset int64 // byte offset in the source, -1 if unknown
	Err    error
}

func (e *Error) Error() string {
	msg := "ics " + e.Op + ": " + e.Kind.Error()
	if e.Offset >= 0 {
		msg += fmt.Sprintf(" at byte %d", e.Offset)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ObjectError is a failure scoped to a single reassembled object.
type ObjectError struct {
	Type model.ComponentType
	Key  string
	Err  error
}

func (e *ObjectError) Error() string {
	key := e.Key
	if key == "" {
		key = "anonymous"
	}
	return fmt.Sprintf("ics: %s %q: %v", e.Type, key, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

func newError(op string, kind error, offset int64, err error) *Error {
	return &Error{Op: op, Kind: kind, Offset: offset, Err: err}
}

func structuralf(op string, offset int64, format string, args ...any) *Error {
	return newError(op, ErrStructure, offset, fmt.Errorf(format, args...))
}
