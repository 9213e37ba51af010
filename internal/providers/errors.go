package providers

import (
	"context"
	"errors"
	"fmt"

	"costshub/internal/costmodel"
)

// AuthError means the provider rejected the client's credentials. Retrying
// cannot help until the credentials change, so the orchestrator treats it as
// fatal for the provider within the run.
type AuthError struct {
	Provider costmodel.Provider
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s authentication failed: %v", e.Provider, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransientError means the provider failed in a way a later attempt may
// resolve: rate limits, 5xx responses, connection resets.
type TransientError struct {
	Provider costmodel.Provider
	Reason   string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s transient failure (%s): %v", e.Provider, e.Reason, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// TimeoutError means a provider call exceeded its deadline.
type TimeoutError struct {
	Provider costmodel.Provider
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s request timed out: %v", e.Provider, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// MalformedDataError means the provider returned a response the adapter could
// not interpret. The offending rows are dropped and counted; the response is
// not retried, since the provider would return the same payload again.
type MalformedDataError struct {
	Provider costmodel.Provider
	Detail   string
}

func (e *MalformedDataError) Error() string {
	return fmt.Sprintf("%s returned malformed data: %s", e.Provider, e.Detail)
}

// IsRetryable reports whether a later attempt at the same request could
// succeed. Timeouts and transient failures qualify; auth and malformed-data
// failures do not.
func IsRetryable(err error) bool {
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	var timeout *TimeoutError
	if errors.As(err, &timeout) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsAuth reports whether err is a credential failure.
func IsAuth(err error) bool {
	var auth *AuthError
	return errors.As(err, &auth)
}
