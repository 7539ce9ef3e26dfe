package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/voxbridge/voxbridge/pkg/provider"
	"github.com/voxbridge/voxbridge/pkg/provider/mock"
	"github.com/voxbridge/voxbridge/pkg/types"
)

// noSleep is the test sleep stub: it records delays and never waits.
type noSleep struct {
	delays []time.Duration
}

func (s *noSleep) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func retryable500(p types.Provider) *provider.Error {
	return &provider.Error{
		Kind:      provider.KindProvider,
		Provider:  p,
		Status:    500,
		Retryable: true,
		Message:   "upstream internal error",
	}
}

func testRequest() types.Request {
	return types.Request{
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	}
}

func TestExecute_FirstAttemptSucceeds(t *testing.T) {
	a := &mock.Adapter{
		Provider: types.VendorA,
		Response: &types.Response{Content: "ok", TokensIn: 3, TokensOut: 5},
	}
	s := &noSleep{}
	o := New(Config{Sleep: s.sleep}, a)

	res, err := o.Execute(context.Background(), types.VendorA, types.VendorB, testRequest())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Response == nil || res.Response.Content != "ok" {
		t.Fatalf("response = %+v, want content ok", res.Response)
	}
	if res.UsedFallback {
		t.Fatal("fallback must not be used on primary success")
	}
	if len(res.Attempts) != 1 {
		t.Fatalf("attempts = %d, want 1", len(res.Attempts))
	}
	if len(s.delays) != 0 {
		t.Fatalf("slept %d times on a first-attempt success", len(s.delays))
	}
}

func TestExecute_RetriesThenSucceeds(t *testing.T) {
	a := &mock.Adapter{
		Provider: types.VendorA,
		Response: &types.Response{Content: "ok"},
		Errs:     []error{retryable500(types.VendorA), retryable500(types.VendorA), nil},
	}
	s := &noSleep{}
	o := New(Config{Sleep: s.sleep}, a)

	res, err := o.Execute(context.Background(), types.VendorA, "", testRequest())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(res.Attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(res.Attempts))
	}
	if res.Attempts[2].Number != 3 {
		t.Fatalf("last attempt number = %d, want 3", res.Attempts[2].Number)
	}
	if len(s.delays) != 2 {
		t.Fatalf("slept %d times, want 2", len(s.delays))
	}
}

func TestExecute_FallbackAfterPrimaryExhausted(t *testing.T) {
	a := &mock.Adapter{Provider: types.VendorA, Err: retryable500(types.VendorA)}
	b := &mock.Adapter{Provider: types.VendorB, Response: &types.Response{Content: "from b"}}
	s := &noSleep{}
	o := New(Config{Sleep: s.sleep}, a, b)

	res, err := o.Execute(context.Background(), types.VendorA, types.VendorB, testRequest())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.UsedFallback {
		t.Fatal("usedFallback = false, want true")
	}
	if res.Provider != types.VendorB {
		t.Fatalf("provider = %s, want VENDOR_B", res.Provider)
	}
	// 3 failed primary attempts + 1 successful fallback, cumulatively numbered.
	if len(res.Attempts) != 4 {
		t.Fatalf("attempts = %d, want 4", len(res.Attempts))
	}
	for i, at := range res.Attempts {
		if at.Number != i+1 {
			t.Fatalf("attempt %d numbered %d, want cumulative ordering", i, at.Number)
		}
	}
	if !res.Attempts[3].IsFallback {
		t.Fatal("final attempt not marked as fallback")
	}
}

func TestExecute_RetryBoundAcrossBothPaths(t *testing.T) {
	a := &mock.Adapter{Provider: types.VendorA, Err: retryable500(types.VendorA)}
	b := &mock.Adapter{Provider: types.VendorB, Err: retryable500(types.VendorB)}
	s := &noSleep{}
	o := New(Config{MaxAttempts: 3, Sleep: s.sleep}, a, b)

	res, err := o.Execute(context.Background(), types.VendorA, types.VendorB, testRequest())
	if err == nil {
		t.Fatal("expected total failure")
	}
	if got := len(res.Attempts); got > 2*3 {
		t.Fatalf("attempts = %d, want <= 2·MaxAttempts", got)
	}
	if got := len(res.Attempts); got != 6 {
		t.Fatalf("attempts = %d, want 6", got)
	}
	if res.Provider != types.VendorB || !res.UsedFallback {
		t.Fatalf("failure attributed to %s (fallback=%v), want VENDOR_B fallback", res.Provider, res.UsedFallback)
	}
}

func TestExecute_SameProviderFallbackRunsOnePath(t *testing.T) {
	a := &mock.Adapter{Provider: types.VendorA, Err: retryable500(types.VendorA)}
	s := &noSleep{}
	o := New(Config{MaxAttempts: 3, Sleep: s.sleep}, a)

	res, err := o.Execute(context.Background(), types.VendorA, types.VendorA, testRequest())
	if err == nil {
		t.Fatal("expected failure")
	}
	if len(res.Attempts) != 3 {
		t.Fatalf("attempts = %d, want 3 (no second path for fallback == primary)", len(res.Attempts))
	}
}

func TestExecute_NonRetryableAbortsPathThenFallsBack(t *testing.T) {
	schemaErr := &provider.Error{
		Kind:     provider.KindSchema,
		Provider: types.VendorA,
		Message:  "bad payload",
	}
	a := &mock.Adapter{Provider: types.VendorA, Err: schemaErr}
	b := &mock.Adapter{Provider: types.VendorB, Response: &types.Response{Content: "rescued"}}
	s := &noSleep{}
	o := New(Config{Sleep: s.sleep}, a, b)

	res, err := o.Execute(context.Background(), types.VendorA, types.VendorB, testRequest())
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if a.CallCount() != 1 {
		t.Fatalf("primary called %d times, want 1 (non-retryable abort)", a.CallCount())
	}
	if !res.UsedFallback || res.Response.Content != "rescued" {
		t.Fatalf("fallback did not serve: %+v", res)
	}
}

func TestExecute_BackoffWindow(t *testing.T) {
	a := &mock.Adapter{Provider: types.VendorA, Err: retryable500(types.VendorA)}
	s := &noSleep{}
	cfg := Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2,
		Sleep:        s.sleep,
	}
	o := New(cfg, a)

	_, _ = o.Execute(context.Background(), types.VendorA, "", testRequest())

	if len(s.delays) != 4 {
		t.Fatalf("recorded %d delays, want 4", len(s.delays))
	}
	base := float64(cfg.InitialDelay)
	for k, d := range s.delays {
		want := base
		for i := 0; i < k; i++ {
			want *= cfg.Multiplier
		}
		if want > float64(cfg.MaxDelay) {
			want = float64(cfg.MaxDelay)
		}
		lo, hi := time.Duration(want), time.Duration(want*1.3)
		if d < lo || d > hi {
			t.Fatalf("retry %d slept %v, want within [%v, %v]", k+1, d, lo, hi)
		}
	}
}

func TestExecute_NoFallbackConfigured(t *testing.T) {
	a := &mock.Adapter{Provider: types.VendorA, Err: retryable500(types.VendorA)}
	s := &noSleep{}
	o := New(Config{Sleep: s.sleep}, a)

	res, err := o.Execute(context.Background(), types.VendorA, "", testRequest())
	if err == nil {
		t.Fatal("expected failure")
	}
	if res.UsedFallback {
		t.Fatal("usedFallback = true without a configured fallback")
	}
	if len(res.Attempts) != DefaultMaxAttempts {
		t.Fatalf("attempts = %d, want %d", len(res.Attempts), DefaultMaxAttempts)
	}
}

func TestExecute_UnregisteredProvider(t *testing.T) {
	s := &noSleep{}
	o := New(Config{Sleep: s.sleep})

	res, err := o.Execute(context.Background(), types.VendorA, "", testRequest())
	if err == nil {
		t.Fatal("expected error for unregistered provider")
	}
	if len(res.Attempts) != 1 {
		t.Fatalf("attempts = %d, want 1 synthetic failed attempt", len(res.Attempts))
	}
}
