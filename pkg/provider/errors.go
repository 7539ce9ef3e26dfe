package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/voxbridge/voxbridge/pkg/types"
)

// Kind classifies an adapter failure. The orchestrator branches on Kind (and
// the Retryable hint) to decide between retrying, falling back, and aborting.
type Kind string

const (
	// KindTimeout means the vendor did not answer within the adapter's
	// request timeout, or the context deadline expired mid-call.
	KindTimeout Kind = "TIMEOUT"

	// KindRateLimited means the vendor rejected the call for quota reasons.
	// RetryAfter may carry the vendor's suggested wait.
	KindRateLimited Kind = "RATE_LIMITED"

	// KindSchema means the raw vendor response failed validation against the
	// vendor's declared schema. Never retryable — the same request would
	// produce the same malformed answer.
	KindSchema Kind = "PROVIDER_SCHEMA_ERROR"

	// KindProvider is any other vendor-side failure (5xx, connection reset,
	// malformed request rejection).
	KindProvider Kind = "PROVIDER_ERROR"
)

// Error is the typed failure returned by [Adapter.Send].
type Error struct {
	// Kind classifies the failure.
	Kind Kind

	// Provider is the vendor that produced the failure.
	Provider types.Provider

	// Status is the HTTP-style status reported by the vendor, or 0 when the
	// failure happened before a status was received.
	Status int

	// Retryable hints whether an identical attempt could plausibly succeed.
	Retryable bool

	// RetryAfter is the vendor-suggested wait before retrying. Zero when the
	// vendor gave no hint. Only meaningful for KindRateLimited.
	RetryAfter time.Duration

	// Raw is the raw vendor payload that triggered a schema failure,
	// preserved for diagnosis. Nil for other kinds.
	Raw json.RawMessage

	// Message is a human-readable description safe to persist. It must not
	// contain secrets or full vendor bodies.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Provider, e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

// AsError extracts a [*Error] from err's chain. The second return is false
// when err carries no provider error.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsRetryable reports whether err is a provider error the orchestrator may
// retry: a timeout, a rate limit, or a provider error that is either flagged
// retryable or carries a 5xx status. Schema errors and unknown error types
// are never retryable.
func IsRetryable(err error) bool {
	pe, ok := AsError(err)
	if !ok {
		return false
	}
	switch pe.Kind {
	case KindTimeout, KindRateLimited:
		return true
	case KindProvider:
		return pe.Retryable || pe.Status >= 500
	}
	return false
}
