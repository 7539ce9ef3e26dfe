// Package orchestrator wraps provider adapters with timeout, bounded retry,
// jittered exponential backoff, and fallback-provider selection.
//
// The orchestrator holds no cross-call state: every Execute call runs its own
// primary path (and, when configured, fallback path) from scratch. Attempt
// numbers are cumulative across both paths so that persisted provider-call
// records retain global ordering.
//
// Orchestrator is safe for concurrent use.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/pkg/provider"
	"github.com/voxbridge/voxbridge/pkg/types"
)

// Defaults for [Config].
const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = 100 * time.Millisecond
	DefaultMaxDelay     = 5 * time.Second
	DefaultMultiplier   = 2.0

	// jitterFrac is the upper bound of the uniform jitter added to each
	// backoff delay, as a fraction of the base delay.
	jitterFrac = 0.3
)

// Config holds the retry tuning knobs. Zero-value fields are replaced with
// the defaults above.
type Config struct {
	// MaxAttempts bounds the attempts within one provider path. The total
	// across primary and fallback paths is therefore at most 2·MaxAttempts.
	MaxAttempts int

	// InitialDelay is the pre-sleep before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff.
	MaxDelay time.Duration

	// Multiplier is the backoff growth factor between retries.
	Multiplier float64

	// Sleep is the wait function used between attempts. Tests inject a
	// recording stub; nil uses a context-aware real sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Attempt records a single adapter call, successful or not. The pipeline
// persists one provider-call row per Attempt so that analytics see every
// try, including the ones the orchestrator recovered from.
type Attempt struct {
	// Provider is the vendor this attempt targeted.
	Provider types.Provider

	// IsFallback reports whether the attempt belongs to the fallback path.
	IsFallback bool

	// Number is the cumulative attempt number across both paths, 1-based.
	Number int

	// Response is the vendor response on success, nil on failure.
	Response *types.Response

	// Err is the classified failure, nil on success.
	Err error

	// LatencyMs is the observed duration of this attempt.
	LatencyMs int64
}

// Result summarises an Execute call.
type Result struct {
	// Response is the successful vendor response. Nil when Execute returned
	// an error.
	Response *types.Response

	// Provider is the vendor that served the response, or the vendor of the
	// last failed attempt.
	Provider types.Provider

	// UsedFallback reports whether the serving (or last-failing) attempt ran
	// on the fallback path.
	UsedFallback bool

	// Attempts holds every attempt made, in order.
	Attempts []Attempt

	// LatencyMs is the latency of the serving attempt.
	LatencyMs int64
}

// Orchestrator routes neutral requests through registered adapters.
type Orchestrator struct {
	cfg      Config
	adapters map[types.Provider]provider.Adapter
}

// New creates an Orchestrator over the given adapters. Zero-value config
// fields are replaced with defaults.
func New(cfg Config, adapters ...provider.Adapter) *Orchestrator {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultInitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultMaxDelay
	}
	if cfg.Multiplier <= 1 {
		cfg.Multiplier = DefaultMultiplier
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}
	m := make(map[types.Provider]provider.Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Name()] = a
	}
	return &Orchestrator{cfg: cfg, adapters: m}
}

// Execute runs req against primary, retrying per the config, then against
// fallback when one is configured and differs from primary. When fallback
// equals primary the primary path's retries already covered that vendor, so
// no second path runs.
//
// The returned Result always carries the full attempt history, including on
// error. The returned error is the classified failure of the last attempt.
func (o *Orchestrator) Execute(ctx context.Context, primary, fallback types.Provider, req types.Request) (*Result, error) {
	res := &Result{}

	// Primary path.
	pathErr := o.attemptPath(ctx, res, primary, false, req)
	if pathErr == nil {
		return o.finish(res, lastAttempt(res)), nil
	}

	if fallback == "" || fallback == primary {
		last := lastAttempt(res)
		o.finish(res, last)
		return res, pathErr
	}

	slog.Warn("primary provider exhausted, switching to fallback",
		"primary", primary, "fallback", fallback, "attempts", len(res.Attempts))

	fbErr := o.attemptPath(ctx, res, fallback, true, req)
	last := lastAttempt(res)
	o.finish(res, last)
	if fbErr != nil {
		return res, fbErr
	}
	return res, nil
}

// attemptPath runs up to MaxAttempts attempts against one provider,
// appending every attempt to res. It returns nil as soon as an attempt
// succeeds; a non-retryable failure aborts the path immediately.
func (o *Orchestrator) attemptPath(ctx context.Context, res *Result, p types.Provider, isFallback bool, req types.Request) error {
	adapter, ok := o.adapters[p]
	if !ok {
		err := fmt.Errorf("orchestrator: no adapter registered for provider %q", p)
		res.Attempts = append(res.Attempts, Attempt{
			Provider:   p,
			IsFallback: isFallback,
			Number:     len(res.Attempts) + 1,
			Err:        err,
		})
		return err
	}

	var lastErr error
	for n := 1; n <= o.cfg.MaxAttempts; n++ {
		if n > 1 {
			if err := o.cfg.Sleep(ctx, o.backoff(n-1)); err != nil {
				return lastErr
			}
		}

		start := time.Now()
		resp, err := adapter.Send(ctx, req)
		attempt := Attempt{
			Provider:   p,
			IsFallback: isFallback,
			Number:     len(res.Attempts) + 1,
			Response:   resp,
			Err:        err,
			LatencyMs:  time.Since(start).Milliseconds(),
		}
		if resp != nil && resp.LatencyMs > 0 {
			attempt.LatencyMs = resp.LatencyMs
		}
		res.Attempts = append(res.Attempts, attempt)
		recordAttempt(ctx, attempt)

		if err == nil {
			return nil
		}
		lastErr = err

		if !provider.IsRetryable(err) {
			slog.Warn("non-retryable provider error, aborting path",
				"provider", p, "attempt", attempt.Number, "err", err)
			return err
		}
		slog.Info("retryable provider error",
			"provider", p, "attempt", attempt.Number, "err", err)
	}
	return lastErr
}

// recordAttempt emits the per-attempt provider metrics.
func recordAttempt(ctx context.Context, a Attempt) {
	status := "ok"
	var kind string
	if a.Err != nil {
		status = "error"
		kind = "UNKNOWN"
		if pe, ok := provider.AsError(a.Err); ok {
			kind = string(pe.Kind)
		}
	}
	observe.DefaultMetrics().RecordProviderCall(ctx,
		string(a.Provider), status, a.IsFallback, float64(a.LatencyMs)/1000, kind)
}

// backoff computes the pre-sleep before retry k (1-based): the capped
// exponential base plus uniform jitter in [0, 0.3·base].
func (o *Orchestrator) backoff(k int) time.Duration {
	base := float64(o.cfg.InitialDelay)
	for i := 1; i < k; i++ {
		base *= o.cfg.Multiplier
		if base >= float64(o.cfg.MaxDelay) {
			base = float64(o.cfg.MaxDelay)
			break
		}
	}
	if base > float64(o.cfg.MaxDelay) {
		base = float64(o.cfg.MaxDelay)
	}
	jitter := rand.Float64() * jitterFrac * base
	return time.Duration(base + jitter)
}

// finish fills the Result summary fields from the deciding attempt.
func (o *Orchestrator) finish(res *Result, last Attempt) *Result {
	res.Provider = last.Provider
	res.UsedFallback = last.IsFallback
	res.LatencyMs = last.LatencyMs
	if last.Err == nil {
		res.Response = last.Response
	}
	return res
}

// lastAttempt returns the most recent attempt. Callers only invoke it after
// at least one attempt has been recorded.
func lastAttempt(res *Result) Attempt {
	return res.Attempts[len(res.Attempts)-1]
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
