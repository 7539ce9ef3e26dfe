package vendorb

import (
	"context"
	"testing"
	"time"

	"github.com/voxbridge/voxbridge/pkg/provider"
	"github.com/voxbridge/voxbridge/pkg/types"
)

func fastConfig() Config {
	return Config{LatencyConfigured: true}
}

func TestSend_PlainReply(t *testing.T) {
	b := New(fastConfig())
	resp, err := b.Send(context.Background(), types.Request{
		Messages: []types.Message{{Role: types.RoleUser, Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if resp.Content == "" {
		t.Fatal("expected non-empty content")
	}
	if resp.TokensIn <= 0 || resp.TokensOut <= 0 {
		t.Fatalf("token counts = %d/%d, want positive", resp.TokensIn, resp.TokensOut)
	}
}

func TestSend_RateLimitInjection(t *testing.T) {
	cfg := fastConfig()
	cfg.Faults = true
	cfg.Seed = 11
	b := New(cfg)

	req := types.Request{
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	}
	for i := 0; i < 400; i++ {
		_, err := b.Send(context.Background(), req)
		if err == nil {
			continue
		}
		pe, ok := provider.AsError(err)
		if !ok {
			t.Fatalf("err = %v, want *provider.Error", err)
		}
		if pe.Kind != provider.KindRateLimited {
			t.Fatalf("kind = %s, want RATE_LIMITED", pe.Kind)
		}
		if pe.RetryAfter < time.Second || pe.RetryAfter > 3*time.Second {
			t.Fatalf("retryAfter = %v, want within [1s, 3s]", pe.RetryAfter)
		}
		if !provider.IsRetryable(err) {
			t.Fatal("rate limits must be retryable")
		}
		return
	}
	t.Fatal("no rate limit in 400 attempts at a 5% rate")
}

func TestTranslate_SchemaValidation(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{"content": [`},
		{"wrong type", `{"type":"error","content":[{"type":"text","text":"x"}],"usage":{"input_tokens":1,"output_tokens":1}}`},
		{"missing usage", `{"type":"message","content":[{"type":"text","text":"x"}]}`},
		{"no content blocks", `{"type":"message","content":[],"usage":{"input_tokens":1,"output_tokens":1}}`},
		{"unknown block type", `{"type":"message","content":[{"type":"image"}],"usage":{"input_tokens":1,"output_tokens":1}}`},
		{"nameless tool_use", `{"type":"message","content":[{"type":"tool_use","id":"c1"}],"usage":{"input_tokens":1,"output_tokens":1}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := translate([]byte(tc.raw))
			pe, ok := provider.AsError(err)
			if !ok {
				t.Fatalf("err = %v, want *provider.Error", err)
			}
			if pe.Kind != provider.KindSchema {
				t.Fatalf("kind = %s, want schema error", pe.Kind)
			}
			if len(pe.Raw) == 0 {
				t.Fatal("schema error must carry the raw payload")
			}
		})
	}
}

func TestTranslate_ToolUseBlocks(t *testing.T) {
	raw := `{
		"type": "message",
		"content": [
			{"type": "text", "text": "checking"},
			{"type": "tool_use", "id": "c1", "name": "InvoiceLookup", "input": {"orderId": "12345"}}
		],
		"usage": {"input_tokens": 9, "output_tokens": 4}
	}`
	resp, err := translate([]byte(raw))
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if resp.Content != "checking" {
		t.Fatalf("content = %q, want checking", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "InvoiceLookup" {
		t.Fatalf("tool calls not translated: %+v", resp.ToolCalls)
	}
}
