package billing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/voxbridge/voxbridge/internal/store"
	"github.com/voxbridge/voxbridge/pkg/types"
)

// fakeUsageStore records usage events in memory and simulates the
// exactly-once guard with a seen-set.
type fakeUsageStore struct {
	events []store.UsageEvent
	seen   map[string]bool
	err    error
}

func (f *fakeUsageStore) RecordUsageExactlyOnce(_ context.Context, ev *store.UsageEvent) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	if f.seen[ev.ProviderCallID] {
		return false, nil
	}
	f.seen[ev.ProviderCallID] = true
	f.events = append(f.events, *ev)
	return true, nil
}

func session(demo bool) *store.Session {
	return &store.Session{ID: "sess-1", TenantID: "t-1", AgentID: "a-1", DemoMode: demo}
}

func successCall() *store.ProviderCall {
	return &store.ProviderCall{
		ID: "pc-1", SessionID: "sess-1", Provider: types.VendorA,
		TokensIn: 1000, TokensOut: 500, Status: store.CallSuccess,
	}
}

func TestRecord_PricesAndSnapshots(t *testing.T) {
	fake := &fakeUsageStore{}
	r := NewRecorder(fake, nil, nil)

	created, err := r.Record(context.Background(), session(false), successCall())
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if !created {
		t.Fatal("expected a new usage event")
	}

	ev := fake.events[0]
	// VENDOR_A default rates: $0.03/1k in, $0.06/1k out.
	// 1000 in = $0.03, 500 out = $0.03 → $0.06 = 6 cents.
	if ev.CostCents != 6 {
		t.Fatalf("cost = %d cents, want 6", ev.CostCents)
	}
	if ev.TotalTokens != 1500 {
		t.Fatalf("total tokens = %d, want 1500", ev.TotalTokens)
	}

	var snap map[string]any
	if err := json.Unmarshal(ev.PricingSnapshot, &snap); err != nil {
		t.Fatalf("snapshot is not valid JSON: %v", err)
	}
	if snap["provider"] != string(types.VendorA) {
		t.Fatalf("snapshot provider = %v, want VENDOR_A", snap["provider"])
	}
}

func TestRecord_SkipsDemoSessions(t *testing.T) {
	fake := &fakeUsageStore{}
	r := NewRecorder(fake, nil, nil)

	created, err := r.Record(context.Background(), session(true), successCall())
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if created || len(fake.events) != 0 {
		t.Fatal("demo sessions must never be billed")
	}
}

func TestRecord_SkipsFailedCalls(t *testing.T) {
	fake := &fakeUsageStore{}
	r := NewRecorder(fake, nil, nil)

	for _, status := range []store.CallStatus{store.CallFailed, store.CallTimeout, store.CallRateLimited} {
		call := successCall()
		call.Status = status
		created, err := r.Record(context.Background(), session(false), call)
		if err != nil {
			t.Fatalf("Record(%s): %v", status, err)
		}
		if created {
			t.Fatalf("status %s must not be billed", status)
		}
	}
}

func TestRecord_SecondAttemptIsNoOp(t *testing.T) {
	fake := &fakeUsageStore{}
	r := NewRecorder(fake, nil, nil)
	ctx := context.Background()

	if _, err := r.Record(ctx, session(false), successCall()); err != nil {
		t.Fatalf("Record: %v", err)
	}
	created, err := r.Record(ctx, session(false), successCall())
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if created || len(fake.events) != 1 {
		t.Fatalf("duplicate billing: created=%v events=%d", created, len(fake.events))
	}
}

func TestRecord_StoreErrorPropagates(t *testing.T) {
	fake := &fakeUsageStore{err: errors.New("connection reset")}
	r := NewRecorder(fake, nil, nil)

	if _, err := r.Record(context.Background(), session(false), successCall()); err == nil {
		t.Fatal("store error must propagate")
	}
}
