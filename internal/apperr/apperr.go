// Package apperr defines the error kinds surfaced to the HTTP boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	Unknown Kind = iota
	DecodeFailure
	ModelLoadFailure
	InferenceFailure
	IOFailure
	AuthFailure
	ValidationFailure
	Conflict
)

func (k Kind) String() string {
	switch k {
	case DecodeFailure:
		return "decode_failure"
	case ModelLoadFailure:
		return "model_load_failure"
	case InferenceFailure:
		return "inference_failure"
	case IOFailure:
		return "io_failure"
	case AuthFailure:
		return "auth_failure"
	case ValidationFailure:
		return "validation_failure"
	case Conflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error carries a Kind together with the operation that failed and its cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err with kind and op. A nil err still produces an error.
func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Newf builds an error of the given kind from a format string.
func Newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to the status code rendered by handlers.
func HTTPStatus(kind Kind) int {
	switch kind {
	case DecodeFailure, ValidationFailure:
		return http.StatusBadRequest
	case AuthFailure:
		return http.StatusUnauthorized
	case Conflict:
		return http.StatusConflict
	case ModelLoadFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
