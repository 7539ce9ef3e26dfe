// Package vendora implements the [provider.Adapter] for the VENDOR_A
// personality.
//
// VENDOR_A is a deterministic mock with fault injection: 50–200 ms base
// latency, a 5% chance of a 1–3 s latency spike, and a 10% chance of a
// retryable 500-class provider error. The simulated backend speaks a
// choices/usage wire shape; the adapter validates every raw payload against
// that shape before translating it, exactly as a real SDK-backed adapter
// would.
package vendora

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/voxbridge/voxbridge/pkg/provider"
	"github.com/voxbridge/voxbridge/pkg/provider/heuristic"
	"github.com/voxbridge/voxbridge/pkg/types"
)

// Default tuning for the VENDOR_A personality.
const (
	DefaultTimeout    = 30 * time.Second
	defaultMinLatency = 50 * time.Millisecond
	defaultMaxLatency = 200 * time.Millisecond

	spikeRate    = 0.05
	spikeMin     = 1 * time.Second
	spikeMax     = 3 * time.Second
	faultRate    = 0.10
	tokenDivisor = 4
)

// Config tunes the adapter. The zero value gives the personality described
// in the package comment with a randomly seeded fault dice.
type Config struct {
	// Timeout bounds a single Send attempt. Default 30s.
	Timeout time.Duration

	// Faults enables the random 500-error and latency-spike injection.
	Faults bool

	// Seed seeds the fault dice for reproducible runs. Zero uses a random
	// seed.
	Seed uint64

	// MinLatency and MaxLatency bound the simulated base latency. Tests set
	// both to 0 to avoid sleeping.
	MinLatency time.Duration
	MaxLatency time.Duration

	// latencyConfigured distinguishes an explicit zero from an unset value.
	LatencyConfigured bool
}

// Adapter is the VENDOR_A implementation of [provider.Adapter].
// Safe for concurrent use.
type Adapter struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
}

var _ provider.Adapter = (*Adapter)(nil)

// New creates a VENDOR_A adapter. Zero-value config fields are replaced with
// the personality defaults.
func New(cfg Config) *Adapter {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if !cfg.LatencyConfigured {
		cfg.MinLatency = defaultMinLatency
		cfg.MaxLatency = defaultMaxLatency
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	return &Adapter{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(seed, seed^0xa5a5a5a5)),
	}
}

// Name implements [provider.Adapter].
func (a *Adapter) Name() types.Provider { return types.VendorA }

// Send implements [provider.Adapter]. It simulates one backend round trip:
// latency, fault dice, raw wire payload, schema validation, translation.
func (a *Adapter) Send(ctx context.Context, req types.Request) (*types.Response, error) {
	if len(req.Messages) == 0 {
		return nil, &provider.Error{
			Kind:     provider.KindProvider,
			Provider: types.VendorA,
			Status:   400,
			Message:  "messages must not be empty",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	delay, fail := a.roll()
	start := time.Now()
	if err := sleep(ctx, delay); err != nil {
		return nil, &provider.Error{
			Kind:      provider.KindTimeout,
			Provider:  types.VendorA,
			Retryable: true,
			Message:   "request timed out",
		}
	}
	if fail {
		return nil, &provider.Error{
			Kind:      provider.KindProvider,
			Provider:  types.VendorA,
			Status:    500,
			Retryable: true,
			Message:   "upstream internal error",
		}
	}

	raw := a.backend(req)
	resp, err := translate(raw)
	if err != nil {
		return nil, err
	}
	resp.LatencyMs = time.Since(start).Milliseconds()
	return resp, nil
}

// roll draws the latency and failure outcome for one attempt under the lock.
func (a *Adapter) roll() (time.Duration, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delay := a.cfg.MinLatency
	if span := a.cfg.MaxLatency - a.cfg.MinLatency; span > 0 {
		delay += time.Duration(a.rng.Int64N(int64(span)))
	}
	if !a.cfg.Faults {
		return delay, false
	}
	if a.rng.Float64() < spikeRate {
		delay += spikeMin + time.Duration(a.rng.Int64N(int64(spikeMax-spikeMin)))
	}
	return delay, a.rng.Float64() < faultRate
}

// wireResponse is VENDOR_A's raw wire shape.
type wireResponse struct {
	ID      string       `json:"id"`
	Choices []wireChoice `json:"choices"`
	Usage   *wireUsage   `json:"usage"`
}

type wireChoice struct {
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type wireMessage struct {
	Content   string         `json:"content"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name string `json:"name"`
	// Arguments is the JSON-encoded argument object, mirroring how real
	// vendors ship tool arguments as an embedded string.
	Arguments string `json:"arguments"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// backend produces the raw vendor payload for req. The reply logic is shared
// with VENDOR_B through the heuristic package; only the wire encoding is
// vendor-specific.
func (a *Adapter) backend(req types.Request) []byte {
	turn := heuristic.Reply(req)

	msg := wireMessage{Content: turn.Content}
	for _, tc := range turn.ToolCalls {
		args, _ := json.Marshal(tc.Args)
		msg.ToolCalls = append(msg.ToolCalls, wireToolCall{
			ID: tc.ID,
			Function: wireFunction{
				Name:      tc.Name,
				Arguments: string(args),
			},
		})
	}

	finish := "stop"
	if len(turn.ToolCalls) > 0 {
		finish = "tool_calls"
	}
	out := wireResponse{
		ID: fmt.Sprintf("cmpl-%d", a.seq()),
		Choices: []wireChoice{{
			Message:      msg,
			FinishReason: finish,
		}},
		Usage: &wireUsage{
			PromptTokens:     heuristic.CountTokens(req) + tokenDivisor,
			CompletionTokens: len(turn.Content)/tokenDivisor + 8,
		},
	}
	raw, _ := json.Marshal(out)
	return raw
}

// seq draws a monotonic-ish completion id component.
func (a *Adapter) seq() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rng.Int64()
}

// translate validates raw against the wire schema and converts it to the
// neutral shape. Validation failures are non-retryable schema errors that
// carry the raw payload for diagnosis.
func translate(raw []byte) (*types.Response, error) {
	schemaErr := func(format string, args ...any) error {
		return &provider.Error{
			Kind:     provider.KindSchema,
			Provider: types.VendorA,
			Raw:      json.RawMessage(raw),
			Message:  fmt.Sprintf(format, args...),
		}
	}

	var wire wireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, schemaErr("decode response: %v", err)
	}
	if len(wire.Choices) == 0 {
		return nil, schemaErr("response has no choices")
	}
	if wire.Usage == nil {
		return nil, schemaErr("response missing usage block")
	}
	if wire.Usage.PromptTokens < 0 || wire.Usage.CompletionTokens < 0 {
		return nil, schemaErr("negative token counts in usage block")
	}

	choice := wire.Choices[0]
	resp := &types.Response{
		Content:   choice.Message.Content,
		TokensIn:  wire.Usage.PromptTokens,
		TokensOut: wire.Usage.CompletionTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		if tc.Function.Name == "" {
			return nil, schemaErr("tool call %q has no function name", tc.ID)
		}
		var args map[string]any
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, schemaErr("tool call %q has malformed arguments: %v", tc.ID, err)
			}
		}
		resp.ToolCalls = append(resp.ToolCalls, types.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: args,
		})
	}
	return resp, nil
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
