package model

import (
	"errors"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrTagUnauthorized marks a missing, malformed or unknown credential.
	// The reason is never exposed to callers.
	ErrTagUnauthorized = goerr.NewTag("unauthorized")

	// ErrTagValidation marks a schema violation in caller input
	ErrTagValidation = goerr.NewTag("validation")

	// ErrTagUpstream marks a failure of the embedding provider or the backing store
	ErrTagUpstream = goerr.NewTag("upstream")

	// ErrTagEmbeddingUnavailable marks a failed, timed out or malformed embedding call
	ErrTagEmbeddingUnavailable = goerr.NewTag("embedding_unavailable")

	// ErrTagNotFound is reserved for per-record lookups
	ErrTagNotFound = goerr.NewTag("not_found")
)

const (
	valueField  = "field"
	valueReason = "reason"
)

// NewValidationError creates a validation error for a single input field. The
// message is safe to return to the caller.
func NewValidationError(field, msg string, opts ...goerr.Option) error {
	opts = append(opts,
		goerr.T(ErrTagValidation),
		goerr.V(valueField, field),
		goerr.V(valueReason, msg),
	)
	return goerr.New(msg, opts...)
}

// FieldError is the caller-facing detail of a validation failure
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationDetail extracts field-level detail from a validation error. ok is false
// when err is not a validation error.
func ValidationDetail(err error) (detail *FieldError, ok bool) {
	if !goerr.HasTag(err, ErrTagValidation) {
		return nil, false
	}

	detail = &FieldError{Message: "invalid input"}

	// The innermost goerr.Error carrying the field is the one created by
	// NewValidationError
	for e := err; e != nil; e = errors.Unwrap(e) {
		ge, ok := e.(*goerr.Error)
		if !ok {
			continue
		}
		values := ge.Values()
		if field, ok := values[valueField].(string); ok {
			detail.Field = field
		}
		if reason, ok := values[valueReason].(string); ok {
			detail.Message = reason
		}
	}

	return detail, true
}
