// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindOperationInput  Kind = "OPERATION_INPUT"
	KindInputValidation Kind = "INPUT_VALIDATION"
	KindExternalState   Kind = "EXTERNAL_STATE"
	KindInternalState   Kind = "INTERNAL_STATE"
	KindSerialization   Kind = "SERIALIZATION"
)

// Error carries the failure kind plus the repository/path/line context the
// failing operation was working on, so callers can render more than a string.
type Error struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	Repository string `json:"repository,omitempty"`
	Path       string `json:"path,omitempty"`
	Line       int    `json:"line,omitempty"`
	Err        error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) WithRepository(name string) *Error {
	e.Repository = name
	return e
}

func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

func (e *Error) WithLine(line int) *Error {
	e.Line = line
	return e
}

func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

func OperationInput(format string, args ...any) *Error {
	return newError(KindOperationInput, format, args...)
}

func InputValidation(format string, args ...any) *Error {
	return newError(KindInputValidation, format, args...)
}

func ExternalState(format string, args ...any) *Error {
	return newError(KindExternalState, format, args...)
}

func InternalState(format string, args ...any) *Error {
	return newError(KindInternalState, format, args...)
}

func Serialization(format string, args ...any) *Error {
	return newError(KindSerialization, format, args...)
}

// KindOf returns the kind of err if it is (or wraps) an *Error, else "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
