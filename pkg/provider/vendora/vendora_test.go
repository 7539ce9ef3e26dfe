package vendora

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/voxbridge/voxbridge/pkg/provider"
	"github.com/voxbridge/voxbridge/pkg/types"
)

// fastConfig disables latency simulation and fault injection.
func fastConfig() Config {
	return Config{LatencyConfigured: true}
}

func TestSend_PlainReply(t *testing.T) {
	a := New(fastConfig())
	resp, err := a.Send(context.Background(), types.Request{
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

func TestSend_OrderIDEmitsToolCall(t *testing.T) {
	a := New(fastConfig())
	resp, err := a.Send(context.Background(), types.Request{
		Messages: []types.Message{{Role: types.RoleUser, Content: "where is order #12345?"}},
		Tools:    []types.ToolDefinition{{Name: "InvoiceLookup"}},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.ToolCalls))
	}
	if resp.ToolCalls[0].Args["orderId"] != "12345" {
		t.Fatalf("orderId = %v, want 12345", resp.ToolCalls[0].Args["orderId"])
	}
}

func TestSend_EmptyMessagesRejected(t *testing.T) {
	a := New(fastConfig())
	_, err := a.Send(context.Background(), types.Request{})
	pe, ok := provider.AsError(err)
	if !ok {
		t.Fatalf("err = %v, want *provider.Error", err)
	}
	if pe.Status != 400 {
		t.Fatalf("status = %d, want 400", pe.Status)
	}
	if provider.IsRetryable(err) {
		t.Fatal("a 400 must not be retryable")
	}
}

func TestSend_FaultInjectionEventuallyFails(t *testing.T) {
	cfg := fastConfig()
	cfg.Faults = true
	cfg.Seed = 7
	a := New(cfg)

	req := types.Request{
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	}
	sawFailure := false
	for i := 0; i < 200 && !sawFailure; i++ {
		_, err := a.Send(context.Background(), req)
		if err == nil {
			continue
		}
		pe, ok := provider.AsError(err)
		if !ok {
			t.Fatalf("err = %v, want *provider.Error", err)
		}
		if pe.Kind != provider.KindProvider || pe.Status != 500 {
			t.Fatalf("fault = %v, want retryable 500", pe)
		}
		if !provider.IsRetryable(err) {
			t.Fatal("injected 500 must be retryable")
		}
		sawFailure = true
	}
	if !sawFailure {
		t.Fatal("no injected failure in 200 attempts at a 10% rate")
	}
}

func TestSend_ContextCancellationIsTimeout(t *testing.T) {
	cfg := Config{
		LatencyConfigured: true,
		MinLatency:        time.Second,
		MaxLatency:        2 * time.Second,
	}
	a := New(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := a.Send(ctx, types.Request{
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	})
	pe, ok := provider.AsError(err)
	if !ok || pe.Kind != provider.KindTimeout {
		t.Fatalf("err = %v, want timeout error", err)
	}
}

func TestTranslate_SchemaValidation(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{"choices": [`},
		{"no choices", `{"id":"x","choices":[],"usage":{"prompt_tokens":1,"completion_tokens":1}}`},
		{"missing usage", `{"id":"x","choices":[{"message":{"content":"hi"}}]}`},
		{"negative tokens", `{"id":"x","choices":[{"message":{"content":"hi"}}],"usage":{"prompt_tokens":-1,"completion_tokens":1}}`},
		{"nameless tool call", `{"id":"x","choices":[{"message":{"content":"","tool_calls":[{"id":"c1","function":{"name":"","arguments":"{}"}}]}}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`},
		{"malformed tool args", `{"id":"x","choices":[{"message":{"content":"","tool_calls":[{"id":"c1","function":{"name":"T","arguments":"{"}}]}}],"usage":{"prompt_tokens":1,"completion_tokens":1}}`},
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
			if provider.IsRetryable(err) {
				t.Fatal("schema errors must never be retryable")
			}
			if len(pe.Raw) == 0 {
				t.Fatal("schema error must carry the raw payload")
			}
		})
	}
}

func TestTranslate_ValidPayload(t *testing.T) {
	raw, _ := json.Marshal(wireResponse{
		ID: "cmpl-1",
		Choices: []wireChoice{{
			Message: wireMessage{
				Content: "here you go",
				ToolCalls: []wireToolCall{{
					ID:       "c1",
					Function: wireFunction{Name: "InvoiceLookup", Arguments: `{"orderId":"12345"}`},
				}},
			},
			FinishReason: "tool_calls",
		}},
		Usage: &wireUsage{PromptTokens: 12, CompletionTokens: 7},
	})

	resp, err := translate(raw)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if resp.TokensIn != 12 || resp.TokensOut != 7 {
		t.Fatalf("tokens = %d/%d, want 12/7", resp.TokensIn, resp.TokensOut)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Args["orderId"] != "12345" {
		t.Fatalf("tool calls not translated: %+v", resp.ToolCalls)
	}
}

func TestSend_NeverRetriesInternally(t *testing.T) {
	// The adapter performs exactly one attempt: with faults seeded to fail
	// on the first roll, Send must surface the error instead of retrying.
	cfg := fastConfig()
	cfg.Faults = true

	req := types.Request{
		Messages: []types.Message{{Role: types.RoleUser, Content: "hi"}},
	}
	for seed := uint64(1); seed < 50; seed++ {
		cfg.Seed = seed
		a := New(cfg)
		if _, err := a.Send(context.Background(), req); err != nil {
			var pe *provider.Error
			if !errors.As(err, &pe) {
				t.Fatalf("seed %d: err = %v, want *provider.Error", seed, err)
			}
			return // first failing seed proves the single-attempt contract
		}
	}
	t.Fatal("no failing seed found")
}
