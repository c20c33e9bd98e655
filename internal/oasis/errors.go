package oasis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// StatusError reports a non-2xx response from the OASIS API.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("oasis returned HTTP %d", e.Code)
}

// Transient reports whether the status indicates a temporary condition worth
// retrying. OASIS signals rate limiting with 429 and maintenance windows with
// 503; any other non-2xx status is a permanent rejection of the request.
func (e *StatusError) Transient() bool {
	return e.Code == http.StatusTooManyRequests || e.Code == http.StatusServiceUnavailable
}

// FetchError wraps the last observed cause once a download gives up and
// records how many attempts were made.
type FetchError struct {
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("download failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// transient reports whether err is worth retrying: a retryable HTTP status or
// a network-level failure, including request timeouts. Cancellation is never
// retried. Deadline expiry is not matched here: an http.Client timeout also
// satisfies errors.Is(err, context.DeadlineExceeded), so expiry of the
// caller's deadline is Download's context check, not an error-chain test.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	var ne net.Error
	return errors.As(err, &ne)
}
