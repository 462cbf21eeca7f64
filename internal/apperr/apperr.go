// Package apperr defines the error taxonomy shared across ragflow's
// components and maps it to HTTP status codes at the API boundary.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind distinguishes the broad class of a ProviderError.
type Kind string

const (
	KindAuth          Kind = "auth"
	KindRateLimited   Kind = "rate_limited"
	KindModelNotFound Kind = "model_not_found"
	KindTransient     Kind = "transient"
	KindPermanent     Kind = "permanent"
)

// Retryable reports whether the registry should retry a provider call of
// this kind.
func (k Kind) Retryable() bool {
	return k == KindTransient
}

// ValidationError signals a malformed request.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// AuthError signals a missing or invalid bearer token.
type AuthError struct{ Msg string }

func (e *AuthError) Error() string { return e.Msg }

// ForbiddenError signals a cross-tenant or role violation.
type ForbiddenError struct{ Msg string }

func (e *ForbiddenError) Error() string { return e.Msg }

// NotFoundError signals a missing entity, or one outside the caller's
// tenant (the two are indistinguishable by design).
type NotFoundError struct{ Resource, ID string }

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// ConflictError signals an invariant violation such as a duplicate pending
// approval or a vector dimension mismatch.
type ConflictError struct{ Msg string }

func (e *ConflictError) Error() string { return e.Msg }

// ProviderError wraps a failure from an embedding or chat provider,
// tagged with the retry-relevant Kind.
type ProviderError struct {
	Kind       Kind
	RetryAfter int // seconds, set only for KindRateLimited
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (%s): %v", e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// TimeoutError signals a background task exceeded its wall-clock budget.
type TimeoutError struct{ Msg string }

func (e *TimeoutError) Error() string { return e.Msg }

// CancelledError signals explicit client cancellation.
type CancelledError struct{ Msg string }

func (e *CancelledError) Error() string { return e.Msg }

// InternalError wraps an unexpected failure, tagged with a correlation id
// for log correlation.
type InternalError struct {
	CorrelationID string
	Err           error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error [%s]: %v", e.CorrelationID, e.Err)
}

func (e *InternalError) Unwrap() error { return e.Err }

// StatusCode maps an error to the HTTP status code it should surface as,
// per the error envelope convention below. Unrecognized errors map to 500.
func StatusCode(err error) int {
	var (
		validation *ValidationError
		auth       *AuthError
		forbidden  *ForbiddenError
		notFound   *NotFoundError
		conflict   *ConflictError
		provider   *ProviderError
		timeout    *TimeoutError
		cancelled  *CancelledError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &auth):
		return http.StatusUnauthorized
	case errors.As(err, &forbidden):
		return http.StatusForbidden
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &provider):
		if provider.Kind == KindRateLimited {
			return http.StatusTooManyRequests
		}
		return http.StatusServiceUnavailable
	case errors.As(err, &timeout):
		return http.StatusServiceUnavailable
	case errors.As(err, &cancelled):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Detail renders the {"detail": "..."} envelope body handlers return.
func Detail(err error) map[string]string {
	return map[string]string{"detail": err.Error()}
}
