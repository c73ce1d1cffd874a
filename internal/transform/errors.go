package transform

import (
	"errors"
	"fmt"
)

// Error is the terminal failure class for malformed or pathological media.
// It is never retried: redelivering corrupt bytes produces the same result.
type Error struct {
	Reason string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("transform: %s: %v", e.Reason, e.cause)
	}
	return "transform: " + e.Reason
}

func (e *Error) Unwrap() error {
	return e.cause
}

func newError(reason string, cause error) *Error {
	return &Error{Reason: reason, cause: cause}
}

const (
	ReasonCorruptInput     = "corrupt_input"
	ReasonUnsupportedInput = "unsupported_input"
	ReasonTooLarge         = "pathological_dimensions"
	ReasonEncodeFailed     = "encode_failed"
	ReasonWorkerPanic      = "worker_panic"
)

func IsError(err error) bool {
	var te *Error
	return errors.As(err, &te)
}
