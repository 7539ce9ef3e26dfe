// Package provider defines the Adapter interface for upstream AI vendors.
//
// An adapter wraps one vendor's wire protocol and exposes a uniform
// request/response shape to the orchestrator. Adapters translate the neutral
// [types.Request] into the vendor's native format, validate the raw vendor
// response against the vendor's declared schema, and translate it back.
//
// Adapters never retry. Retry policy, backoff, and fallback selection live
// entirely in the orchestrator; an adapter's job is a single attempt with a
// faithful, classified error on failure.
//
// Implementors must be safe for concurrent use.
package provider

import (
	"context"

	"github.com/voxbridge/voxbridge/pkg/types"
)

// Adapter is the abstraction over a single AI vendor.
//
// Send performs exactly one attempt against the vendor. On failure it returns
// a [*Error] carrying the error kind, the HTTP-style status where one exists,
// and a retryability hint for the orchestrator. Any other error type returned
// from Send is treated as non-retryable by callers.
//
// Implementations must propagate context cancellation promptly and must bound
// each attempt with their vendor's request timeout.
type Adapter interface {
	// Name returns the provider identity this adapter speaks for.
	Name() types.Provider

	// Send performs a single completion attempt.
	Send(ctx context.Context, req types.Request) (*types.Response, error)
}
