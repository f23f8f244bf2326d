// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Common sentinels across storage/sync/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication or a missing session.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates the backend asked the client to slow down.
	ErrRateLimited = errors.New("rate limited")

	// ErrValidation indicates input rejected locally before any network call.
	ErrValidation = errors.New("validation")

	// ErrTransport indicates the request never produced a response.
	ErrTransport = errors.New("transport failure")

	// ErrTimeout indicates the client-side deadline expired.
	ErrTimeout = errors.New("timeout")

	// ErrDecode indicates a malformed payload or storage blob.
	ErrDecode = errors.New("decode failure")

	// ErrNotReady indicates the session store has not been initialized yet.
	ErrNotReady = errors.New("not ready")

	// ErrAlreadyInitialized indicates a second Initialize call.
	ErrAlreadyInitialized = errors.New("already initialized")

	// ErrClosed indicates the owning consumer is gone.
	ErrClosed = errors.New("closed")

	// ErrUnsupported indicates the resource does not offer the operation.
	ErrUnsupported = errors.New("unsupported")
)

// Validation returns an ErrValidation-wrapped error with a formatted reason.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// HTTPError is a non-2xx response from the backend.
type HTTPError struct {
	Op     string
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
}

// Is maps well-known statuses onto the sentinels.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	}
	return false
}

// DecodeError reports a malformed record. Index is -1 for single objects.
type DecodeError struct {
	Index  int
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("decode: field %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("decode: record %d: field %q: %s", e.Index, e.Field, e.Reason)
}

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// Retryable reports whether retrying the same call may succeed.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTransport) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited) {
		return true
	}
	var he *HTTPError
	return errors.As(err, &he) && he.Status >= 500
}
