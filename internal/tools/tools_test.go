package tools

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxbridge/voxbridge/internal/store"
	"github.com/voxbridge/voxbridge/pkg/types"
)

// recordingAuditor captures audit rows in memory.
type recordingAuditor struct {
	mu   sync.Mutex
	rows []store.ToolExecution
	err  error
}

func (a *recordingAuditor) InsertToolExecution(_ context.Context, te *store.ToolExecution) (*store.ToolExecution, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	a.rows = append(a.rows, *te)
	return te, nil
}

func newTestRegistry(t *testing.T, auditor Auditor) *Registry {
	t.Helper()
	r := NewRegistry(auditor, nil)
	if err := r.Register(InvoiceLookup()); err != nil {
		t.Fatalf("register InvoiceLookup: %v", err)
	}
	return r
}

func TestExecute_InvoiceFound(t *testing.T) {
	auditor := &recordingAuditor{}
	r := newTestRegistry(t, auditor)

	tr := r.Execute(context.Background(),
		ExecContext{SessionID: "s1", Enabled: []string{"InvoiceLookup"}},
		types.ToolCall{ID: "call_1", Name: "InvoiceLookup", Args: map[string]any{"orderId": "10002"}})

	if tr.Error != "" {
		t.Fatalf("unexpected error: %s", tr.Error)
	}
	out, ok := tr.Result.(map[string]any)
	if !ok || out["success"] != true {
		t.Fatalf("result = %#v, want success payload", tr.Result)
	}
	if len(auditor.rows) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(auditor.rows))
	}
	if auditor.rows[0].Status != store.ToolExecSuccess {
		t.Fatalf("audit status = %s, want SUCCESS", auditor.rows[0].Status)
	}
}

func TestExecute_UnknownOrderIsStructuredFailure(t *testing.T) {
	r := newTestRegistry(t, nil)

	tr := r.Execute(context.Background(),
		ExecContext{Enabled: []string{"InvoiceLookup"}},
		types.ToolCall{ID: "c", Name: "InvoiceLookup", Args: map[string]any{"orderId": "99999"}})

	if tr.Error != "" {
		t.Fatalf("unknown order must not be an execution error, got %s", tr.Error)
	}
	out := tr.Result.(map[string]any)
	if out["success"] != false || out["error"] != "Order not found" {
		t.Fatalf("result = %#v, want not-found payload", out)
	}
}

func TestExecute_ArgumentValidation(t *testing.T) {
	r := newTestRegistry(t, nil)
	ec := ExecContext{Enabled: []string{"InvoiceLookup"}}

	tr := r.Execute(context.Background(), ec,
		types.ToolCall{ID: "c", Name: "InvoiceLookup", Args: map[string]any{}})
	if tr.Error == "" {
		t.Fatal("missing arguments must fail")
	}

	tr = r.Execute(context.Background(), ec,
		types.ToolCall{ID: "c", Name: "InvoiceLookup",
			Args: map[string]any{"orderId": "10001", "invoiceNumber": "INV-2026-0142"}})
	if !strings.Contains(tr.Error, "mutually exclusive") {
		t.Fatalf("error = %q, want mutual-exclusion failure", tr.Error)
	}
}

func TestExecute_NotEnabled(t *testing.T) {
	auditor := &recordingAuditor{}
	r := newTestRegistry(t, auditor)

	tr := r.Execute(context.Background(),
		ExecContext{Enabled: nil},
		types.ToolCall{ID: "c", Name: "InvoiceLookup", Args: map[string]any{"orderId": "10001"}})

	if !strings.Contains(tr.Error, "not enabled") {
		t.Fatalf("error = %q, want not-enabled", tr.Error)
	}
	if auditor.rows[0].Status != store.ToolExecFailed {
		t.Fatalf("audit status = %s, want FAILED", auditor.rows[0].Status)
	}
}

func TestExecute_UnknownTool(t *testing.T) {
	r := newTestRegistry(t, nil)

	tr := r.Execute(context.Background(),
		ExecContext{Enabled: []string{"Nonexistent"}},
		types.ToolCall{ID: "c", Name: "Nonexistent"})

	if !strings.Contains(tr.Error, "not found") {
		t.Fatalf("error = %q, want not-found", tr.Error)
	}
}

func TestExecute_Timeout(t *testing.T) {
	auditor := &recordingAuditor{}
	r := NewRegistry(auditor, nil)
	err := r.Register(&Tool{
		Name:   "Slow",
		Limits: Limits{Timeout: 20 * time.Millisecond},
		Handler: func(ctx context.Context, _ map[string]any) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return "done", nil
			}
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	tr := r.Execute(context.Background(),
		ExecContext{Enabled: []string{"Slow"}},
		types.ToolCall{ID: "c", Name: "Slow"})

	if !strings.Contains(tr.Error, "timed out") {
		t.Fatalf("error = %q, want timeout", tr.Error)
	}
	if auditor.rows[0].Status != store.ToolExecTimeout {
		t.Fatalf("audit status = %s, want TIMEOUT", auditor.rows[0].Status)
	}
}

func TestExecute_PayloadLimit(t *testing.T) {
	r := NewRegistry(nil, nil)
	err := r.Register(&Tool{
		Name:   "Big",
		Limits: Limits{MaxPayloadBytes: 10},
		Handler: func(context.Context, map[string]any) (any, error) {
			return strings.Repeat("x", 100), nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	tr := r.Execute(context.Background(),
		ExecContext{Enabled: []string{"Big"}},
		types.ToolCall{ID: "c", Name: "Big"})
	if !strings.Contains(tr.Error, "payload") {
		t.Fatalf("error = %q, want payload limit", tr.Error)
	}
}

func TestExecute_PanicRecovered(t *testing.T) {
	r := NewRegistry(nil, nil)
	if err := r.Register(&Tool{
		Name: "Boom",
		Handler: func(context.Context, map[string]any) (any, error) {
			panic("kaboom")
		},
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	tr := r.Execute(context.Background(),
		ExecContext{Enabled: []string{"Boom"}},
		types.ToolCall{ID: "c", Name: "Boom"})
	if !strings.Contains(tr.Error, "panicked") {
		t.Fatalf("error = %q, want recovered panic", tr.Error)
	}
}

func TestExecute_AuditFailureIsNonFatal(t *testing.T) {
	auditor := &recordingAuditor{err: errors.New("db down")}
	r := newTestRegistry(t, auditor)

	tr := r.Execute(context.Background(),
		ExecContext{Enabled: []string{"InvoiceLookup"}},
		types.ToolCall{ID: "c", Name: "InvoiceLookup", Args: map[string]any{"orderId": "10001"}})
	if tr.Error != "" {
		t.Fatalf("audit failure leaked into result: %s", tr.Error)
	}
}

func TestDefinitions_FiltersToEnabled(t *testing.T) {
	r := newTestRegistry(t, nil)

	defs := r.Definitions([]string{"InvoiceLookup", "Ghost"})
	if len(defs) != 1 || defs[0].Name != "InvoiceLookup" {
		t.Fatalf("defs = %+v, want just InvoiceLookup", defs)
	}
	if len(r.Definitions(nil)) != 0 {
		t.Fatal("empty enabled set must produce no definitions")
	}
}

func TestRegister_Validation(t *testing.T) {
	r := NewRegistry(nil, nil)
	if err := r.Register(&Tool{Name: ""}); err == nil {
		t.Fatal("empty name must be rejected")
	}
	if err := r.Register(&Tool{Name: "NoHandler"}); err == nil {
		t.Fatal("nil handler must be rejected")
	}
	ok := &Tool{Name: "Ok", Handler: func(context.Context, map[string]any) (any, error) { return nil, nil }}
	if err := r.Register(ok); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(ok); err == nil {
		t.Fatal("duplicate registration must be rejected")
	}
}
