// Package vendorb implements the [provider.Adapter] for the VENDOR_B
// personality.
//
// VENDOR_B is the faster of the two mock vendors: 30–100 ms base latency with
// a 5% chance of a rate-limit rejection carrying a suggested retry-after of
// 1–3 s. The simulated backend speaks a content-blocks wire shape; the
// adapter validates every raw payload against that shape before translating.
package vendorb

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

// Default tuning for the VENDOR_B personality.
const (
	DefaultTimeout    = 15 * time.Second
	defaultMinLatency = 30 * time.Millisecond
	defaultMaxLatency = 100 * time.Millisecond

	rateLimitRate = 0.05
	retryAfterMin = 1000 * time.Millisecond
	retryAfterMax = 3000 * time.Millisecond
)

// Config tunes the adapter. The zero value gives the personality described
// in the package comment with a randomly seeded fault dice.
type Config struct {
	// Timeout bounds a single Send attempt. Default 15s.
	Timeout time.Duration

	// Faults enables the random rate-limit injection.
	Faults bool

	// Seed seeds the fault dice for reproducible runs. Zero uses a random
	// seed.
	Seed uint64

	// MinLatency and MaxLatency bound the simulated base latency.
	MinLatency time.Duration
	MaxLatency time.Duration

	// LatencyConfigured distinguishes an explicit zero from an unset value.
	LatencyConfigured bool
}

// Adapter is the VENDOR_B implementation of [provider.Adapter].
// Safe for concurrent use.
type Adapter struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
}

var _ provider.Adapter = (*Adapter)(nil)

// New creates a VENDOR_B adapter. Zero-value config fields are replaced with
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
		rng: rand.New(rand.NewPCG(seed, seed^0x5a5a5a5a)),
	}
}

// Name implements [provider.Adapter].
func (b *Adapter) Name() types.Provider { return types.VendorB }

// Send implements [provider.Adapter].
func (b *Adapter) Send(ctx context.Context, req types.Request) (*types.Response, error) {
	if len(req.Messages) == 0 {
		return nil, &provider.Error{
			Kind:     provider.KindProvider,
			Provider: types.VendorB,
			Status:   400,
			Message:  "messages must not be empty",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	delay, limited, retryAfter := b.roll()
	start := time.Now()
	if err := sleep(ctx, delay); err != nil {
		return nil, &provider.Error{
			Kind:      provider.KindTimeout,
			Provider:  types.VendorB,
			Retryable: true,
			Message:   "request timed out",
		}
	}
	if limited {
		return nil, &provider.Error{
			Kind:       provider.KindRateLimited,
			Provider:   types.VendorB,
			Status:     429,
			Retryable:  true,
			RetryAfter: retryAfter,
			Message:    "rate limit exceeded",
		}
	}

	resp, err := translate(b.backend(req))
	if err != nil {
		return nil, err
	}
	resp.LatencyMs = time.Since(start).Milliseconds()
	return resp, nil
}

// roll draws latency and the rate-limit outcome for one attempt.
func (b *Adapter) roll() (delay time.Duration, limited bool, retryAfter time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay = b.cfg.MinLatency
	if span := b.cfg.MaxLatency - b.cfg.MinLatency; span > 0 {
		delay += time.Duration(b.rng.Int64N(int64(span)))
	}
	if b.cfg.Faults && b.rng.Float64() < rateLimitRate {
		limited = true
		retryAfter = retryAfterMin + time.Duration(b.rng.Int64N(int64(retryAfterMax-retryAfterMin)))
	}
	return delay, limited, retryAfter
}

// wireResponse is VENDOR_B's raw wire shape: a flat list of typed content
// blocks plus a usage record.
type wireResponse struct {
	Type    string      `json:"type"`
	Content []wireBlock `json:"content"`
	Usage   *wireUsage  `json:"usage"`
}

type wireBlock struct {
	Type string `json:"type"`

	// Text is set for "text" blocks.
	Text string `json:"text,omitempty"`

	// ID, Name and Input are set for "tool_use" blocks.
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// backend produces the raw vendor payload for req.
func (b *Adapter) backend(req types.Request) []byte {
	turn := heuristic.Reply(req)

	var blocks []wireBlock
	if turn.Content != "" {
		blocks = append(blocks, wireBlock{Type: "text", Text: turn.Content})
	}
	for _, tc := range turn.ToolCalls {
		blocks = append(blocks, wireBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Name,
			Input: tc.Args,
		})
	}
	out := wireResponse{
		Type:    "message",
		Content: blocks,
		Usage: &wireUsage{
			InputTokens:  heuristic.CountTokens(req) + 2,
			OutputTokens: len(turn.Content)/4 + 6,
		},
	}
	raw, _ := json.Marshal(out)
	return raw
}

// translate validates raw against the wire schema and converts it to the
// neutral shape.
func translate(raw []byte) (*types.Response, error) {
	schemaErr := func(format string, args ...any) error {
		return &provider.Error{
			Kind:     provider.KindSchema,
			Provider: types.VendorB,
			Raw:      json.RawMessage(raw),
			Message:  fmt.Sprintf(format, args...),
		}
	}

	var wire wireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, schemaErr("decode response: %v", err)
	}
	if wire.Type != "message" {
		return nil, schemaErr("unexpected response type %q", wire.Type)
	}
	if wire.Usage == nil {
		return nil, schemaErr("response missing usage block")
	}
	if len(wire.Content) == 0 {
		return nil, schemaErr("response has no content blocks")
	}

	resp := &types.Response{
		TokensIn:  wire.Usage.InputTokens,
		TokensOut: wire.Usage.OutputTokens,
	}
	for _, blk := range wire.Content {
		switch blk.Type {
		case "text":
			resp.Content += blk.Text
		case "tool_use":
			if blk.Name == "" {
				return nil, schemaErr("tool_use block %q has no name", blk.ID)
			}
			resp.ToolCalls = append(resp.ToolCalls, types.ToolCall{
				ID:   blk.ID,
				Name: blk.Name,
				Args: blk.Input,
			})
		default:
			return nil, schemaErr("unknown content block type %q", blk.Type)
		}
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
