// Package apperr defines the error kinds surfaced by the external clients
// and the workflow. Callers match them with errors.As.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// AuthError means credentials were missing or rejected. The affected
// service should not be called again until the process is reconfigured.
type AuthError struct {
	Service string
	Detail  string
}

func (e *AuthError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: credentials rejected", e.Service)
	}
	return fmt.Sprintf("%s: credentials rejected: %s", e.Service, e.Detail)
}

// RateLimitError means the service asked us to slow down. It is never
// retried automatically.
type RateLimitError struct {
	Service    string
	RetryAfter time.Duration
	// Remaining is the quota left in the current window, -1 when unknown.
	Remaining int
	Detail    string
}

func (e *RateLimitError) Error() string {
	msg := fmt.Sprintf("%s: rate limited", e.Service)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(", retry in %s", e.RetryAfter.Round(time.Second))
	}
	if e.Remaining >= 0 {
		msg += fmt.Sprintf(", %d requests left", e.Remaining)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// TransientError wraps network failures and 5xx responses that outlived the
// client's retry budget. The user may simply re-issue the command.
type TransientError struct {
	Service string
	Err     error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: temporarily unavailable: %v", e.Service, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NotFoundError means a lookup returned nothing usable.
type NotFoundError struct {
	What  string
	Query string
}

func (e *NotFoundError) Error() string {
	if e.Query == "" {
		return fmt.Sprintf("no %s found", e.What)
	}
	return fmt.Sprintf("no %s found for %q", e.What, e.Query)
}

// InvalidSelectionError reports a 1-based index outside [1, Max].
type InvalidSelectionError struct {
	Index int
	Max   int
}

func (e *InvalidSelectionError) Error() string {
	if e.Max == 0 {
		return fmt.Sprintf("invalid selection %d: nothing to choose from", e.Index)
	}
	return fmt.Sprintf("invalid selection %d: choose between 1 and %d", e.Index, e.Max)
}

// GenerationError means the local model was unreachable or produced no text.
type GenerationError struct {
	Model string
	Err   error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("generation with %s failed: empty output", e.Model)
	}
	return fmt.Sprintf("generation with %s failed: %v", e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// StateError rejects a command that is not valid in the current phase.
type StateError struct {
	Command string
	State   string
	// Expected is the next step that is valid from State.
	Expected string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s is not available while %s; next: %s", e.Command, e.State, e.Expected)
}

// RejectedError means the service understood the request and refused it,
// for example duplicate or over-long content.
type RejectedError struct {
	Service string
	Status  int
	Detail  string
}

func (e *RejectedError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s rejected the request (status %d): %s", e.Service, e.Status, e.Detail)
	}
	return fmt.Sprintf("%s rejected the request: %s", e.Service, e.Detail)
}

// UsageError reports a malformed command argument.
type UsageError struct {
	Command string
	Usage   string
	Reason  string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("%s: %s (usage: %s)", e.Command, e.Reason, e.Usage)
}

// Kind returns a short label for metrics and logs.
func Kind(err error) string {
	var (
		authErr  *AuthError
		rateErr  *RateLimitError
		transErr *TransientError
		nfErr    *NotFoundError
		selErr   *InvalidSelectionError
		genErr   *GenerationError
		stErr    *StateError
		rejErr   *RejectedError
		useErr   *UsageError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &genErr):
		return "generation"
	case errors.As(err, &authErr):
		return "auth"
	case errors.As(err, &rateErr):
		return "rate_limit"
	case errors.As(err, &transErr):
		return "transient"
	case errors.As(err, &nfErr):
		return "not_found"
	case errors.As(err, &selErr):
		return "invalid_selection"
	case errors.As(err, &stErr):
		return "state"
	case errors.As(err, &rejErr):
		return "rejected"
	case errors.As(err, &useErr):
		return "usage"
	default:
		return "internal"
	}
}

// IsFatal reports whether err should stop the workflow for its service.
func IsFatal(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
