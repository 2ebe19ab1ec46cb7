package storyloom

import (
	"context"
	"errors"
	"fmt"

	"github.com/storyloom-ai/storyloom/provider"
)

// Error kinds recorded in snapshots and surfaced to external collaborators.
// Transient provider failures are retried inside the provider adapters; any
// error that reaches the executor is permanent for the thread.
const (
	ErrorKindPermanent               = "permanent"
	ErrorKindSchemaValidation        = "schema_validation"
	ErrorKindMediaGuardrailExhausted = "media_guardrail_exhausted"
	ErrorKindScalarConflict          = "scalar_conflict"
	ErrorKindTimeout                 = "timeout"
	ErrorKindCancelled               = "cancelled"
	ErrorKindInternal                = "internal"
)

// Error is a classified workflow error. It supports Go's error wrapping
// patterns with Unwrap.
type Error struct {
	Kind    string `json:"kind"`
	Cause   string `json:"cause"`
	Wrapped error  `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Wrapped
}

// NewError creates an Error with the given kind and cause.
func NewError(kind, cause string) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// Errorf creates an Error with a formatted cause.
func Errorf(kind, format string, args ...any) *Error {
	wrapped := fmt.Errorf(format, args...)
	return &Error{Kind: kind, Cause: wrapped.Error(), Wrapped: errors.Unwrap(wrapped)}
}

// ClassifyError folds an arbitrary handler error into a classified Error.
func ClassifyError(err error) *Error {
	var classified *Error
	if errors.As(err, &classified) {
		return classified
	}
	var schemaErr *provider.SchemaValidationError
	if errors.As(err, &schemaErr) {
		return &Error{Kind: ErrorKindSchemaValidation, Cause: err.Error(), Wrapped: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: ErrorKindCancelled, Cause: err.Error(), Wrapped: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrorKindTimeout, Cause: err.Error(), Wrapped: err}
	}
	return &Error{Kind: ErrorKindPermanent, Cause: err.Error(), Wrapped: err}
}
