// Package billing turns successful provider calls into usage events. The
// exactly-once property lives in the database (the billed flag flip plus
// the unique provider_call_id); this layer adds pricing, the demo-mode
// exemption, and the snapshot that makes old events auditable after a
// rate change.
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/internal/pricing"
	"github.com/voxbridge/voxbridge/internal/store"
)

// UsageStore is the slice of the store the recorder needs.
type UsageStore interface {
	RecordUsageExactlyOnce(ctx context.Context, ev *store.UsageEvent) (bool, error)
}

var _ UsageStore = (*store.Store)(nil)

// Recorder prices and records usage.
type Recorder struct {
	store UsageStore
	rates *pricing.Table
	log   *slog.Logger
}

// NewRecorder builds a Recorder. A nil rates table uses the defaults.
func NewRecorder(s UsageStore, rates *pricing.Table, log *slog.Logger) *Recorder {
	if rates == nil {
		rates = pricing.Default()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{store: s, rates: rates, log: log}
}

// Record bills one provider call against its session. Demo sessions and
// non-successful calls are skipped. Returns true when a new usage event
// was created; false means it was skipped or already billed, which is not
// an error.
func (r *Recorder) Record(ctx context.Context, sess *store.Session, call *store.ProviderCall) (bool, error) {
	if sess.DemoMode {
		return false, nil
	}
	if call.Status != store.CallSuccess {
		return false, nil
	}

	snap := r.rates.SnapshotFor(call.Provider)
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return false, fmt.Errorf("billing: encode pricing snapshot: %w", err)
	}

	ev := &store.UsageEvent{
		TenantID:        sess.TenantID,
		AgentID:         sess.AgentID,
		SessionID:       sess.ID,
		ProviderCallID:  call.ID,
		Provider:        call.Provider,
		TokensIn:        call.TokensIn,
		TokensOut:       call.TokensOut,
		TotalTokens:     call.TokensIn + call.TokensOut,
		CostCents:       r.rates.CostCents(call.Provider, call.TokensIn, call.TokensOut),
		PricingSnapshot: snapJSON,
	}
	created, err := r.store.RecordUsageExactlyOnce(ctx, ev)
	if err != nil {
		return false, fmt.Errorf("billing: record usage: %w", err)
	}
	if created {
		observe.DefaultMetrics().RecordUsage(ctx,
			string(call.Provider), int64(call.TokensIn), int64(call.TokensOut), ev.CostCents)
		r.log.Debug("usage recorded",
			"provider_call_id", call.ID,
			"provider", call.Provider,
			"tokens", ev.TotalTokens,
			"cost_cents", ev.CostCents)
	}
	return created, nil
}
