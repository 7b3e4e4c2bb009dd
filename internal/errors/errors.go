package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// Kind classifies a failure of the classification pipeline.
type Kind string

const (
	KindValidation        Kind = "VALIDATION_ERROR"
	KindOracleTimeout     Kind = "ORACLE_TIMEOUT"
	KindOracleUnavailable Kind = "ORACLE_UNAVAILABLE"
	KindMalformedResponse Kind = "MALFORMED_RESPONSE"
	KindStorage           Kind = "STORAGE_ERROR"
	KindNotFound          Kind = "NOT_FOUND"
)

// DumpError is the typed failure surfaced by the classifier, storage and processor.
type DumpError struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *DumpError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *DumpError) Unwrap() error {
	return e.Err
}

// NewValidation creates an error for malformed input to the core.
func NewValidation(msg string) *DumpError {
	return &DumpError{
		Kind:    KindValidation,
		Message: msg,
	}
}

// NewOracleTimeout creates an error for a classification call that ran past its deadline.
func NewOracleTimeout(after time.Duration, err error) *DumpError {
	return &DumpError{
		Kind:    KindOracleTimeout,
		Message: fmt.Sprintf("classification call timed out after %s", after),
		Details: map[string]any{"timeout": after.String()},
		Err:     err,
	}
}

// NewOracleUnavailable creates an error for a failed or non-2xx classification call.
// status is 0 when no HTTP response was received.
func NewOracleUnavailable(status int, err error) *DumpError {
	msg := "classification service unavailable"
	if status != 0 {
		msg = fmt.Sprintf("classification service returned status %d", status)
	}
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &DumpError{
		Kind:    KindOracleUnavailable,
		Message: msg,
		Details: map[string]any{"status": status},
		Err:     err,
	}
}

// NewMalformedResponse creates an error for a reply that does not parse into the expected shape.
func NewMalformedResponse(reason string, raw string) *DumpError {
	return &DumpError{
		Kind:    KindMalformedResponse,
		Message: fmt.Sprintf("failed to parse AI response: %s", reason),
		Details: map[string]any{"raw": raw},
	}
}

// NewStorage creates an error for a failed persistence call.
func NewStorage(op string, err error) *DumpError {
	msg := op
	if err != nil {
		msg = fmt.Sprintf("%s: %v", op, err)
	}
	return &DumpError{
		Kind:    KindStorage,
		Message: msg,
		Details: map[string]any{"op": op},
		Err:     err,
	}
}

// NewNotFound creates an error for a missing record.
func NewNotFound(what, id string) *DumpError {
	return &DumpError{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s not found: %s", what, id),
		Details: map[string]any{"id": id},
	}
}

// Is checks if err, or anything it wraps, is a DumpError of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// KindOf returns the kind of the first DumpError in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var dErr *DumpError
	if stderrors.As(err, &dErr) {
		return dErr.Kind
	}
	return ""
}

// Transient reports whether err is a failure worth retrying.
// A malformed response points at a prompt or schema bug and is never transient.
func Transient(err error) bool {
	switch KindOf(err) {
	case KindOracleTimeout, KindOracleUnavailable:
		return true
	}
	return false
}
