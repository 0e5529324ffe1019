package backends

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Backend failures are transient from the orchestrator's point of view: they
// are always caught and converted into a missing signal, never into an
// orchestration failure.
var (
	// ErrBackendUnavailable covers connection failures and 5xx responses.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrBackendTimeout marks a call that exceeded its deadline.
	ErrBackendTimeout = errors.New("backend timeout")

	// ErrBadResponse marks a response that did not match the backend's
	// documented schema. Not retriable.
	ErrBadResponse = errors.New("backend bad response")
)

// Classify maps a raw transport error onto the backend error taxonomy.
// Errors already in the taxonomy pass through unchanged.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrBackendUnavailable),
		errors.Is(err, ErrBackendTimeout),
		errors.Is(err, ErrBadResponse):
		return err
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

// StatusError converts a non-2xx HTTP status into the taxonomy: 5xx means
// the backend is down, anything else is a contract violation.
func StatusError(status int, body []byte) error {
	if status >= 500 {
		return fmt.Errorf("%w: status %d: %s", ErrBackendUnavailable, status, truncate(body, 256))
	}
	return fmt.Errorf("%w: status %d: %s", ErrBadResponse, status, truncate(body, 256))
}

func truncate(b []byte, limit int) string {
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}
