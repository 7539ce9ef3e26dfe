// Package mock provides a test double for the provider.Adapter interface.
//
// Use Adapter in unit tests to verify that the orchestrator and pipeline send
// correct requests and to feed controlled responses without the mock vendors'
// latency simulation. All fields are safe to set before calling any method;
// mutating them during a concurrent call is the caller's responsibility.
//
// Example:
//
//	a := &mock.Adapter{
//	    Provider: types.VendorA,
//	    Response: &types.Response{Content: "Hello!"},
//	}
//	resp, err := a.Send(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/voxbridge/voxbridge/pkg/provider"
	"github.com/voxbridge/voxbridge/pkg/types"
)

// SendCall records a single invocation of Send.
type SendCall struct {
	// Ctx is the context passed to Send.
	Ctx context.Context
	// Req is the request passed to Send.
	Req types.Request
}

// Adapter is a mock implementation of provider.Adapter.
// Zero values cause Send to return an empty response and nil error.
type Adapter struct {
	mu sync.Mutex

	// Provider is returned by Name. Defaults to types.VendorA when unset.
	Provider types.Provider

	// Response is returned by Send when Err and SendFunc are unset.
	Response *types.Response

	// Err, if non-nil, is returned from Send instead of Response.
	Err error

	// Errs, if non-empty, is consumed one entry per Send call before falling
	// back to Err/Response. A nil entry means that call succeeds with
	// Response. Use this to script fail-then-succeed sequences.
	Errs []error

	// SendFunc, if non-nil, overrides all other response fields.
	SendFunc func(ctx context.Context, req types.Request) (*types.Response, error)

	// SendCalls records every invocation of Send in order.
	SendCalls []SendCall
}

var _ provider.Adapter = (*Adapter)(nil)

// Name implements provider.Adapter.
func (a *Adapter) Name() types.Provider {
	if a.Provider == "" {
		return types.VendorA
	}
	return a.Provider
}

// Send implements provider.Adapter, recording the call before answering from
// the configured fields.
func (a *Adapter) Send(ctx context.Context, req types.Request) (*types.Response, error) {
	a.mu.Lock()
	a.SendCalls = append(a.SendCalls, SendCall{Ctx: ctx, Req: req})
	var scripted error
	hasScripted := false
	if len(a.Errs) > 0 {
		scripted, hasScripted = a.Errs[0], true
		a.Errs = a.Errs[1:]
	}
	a.mu.Unlock()

	if a.SendFunc != nil {
		return a.SendFunc(ctx, req)
	}
	if hasScripted {
		if scripted != nil {
			return nil, scripted
		}
	} else if a.Err != nil {
		return nil, a.Err
	}
	if a.Response == nil {
		return &types.Response{}, nil
	}
	resp := *a.Response
	return &resp, nil
}

// CallCount returns the number of recorded Send invocations.
func (a *Adapter) CallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.SendCalls)
}
