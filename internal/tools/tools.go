// Package tools hosts the agent tool registry. Tools are server-side
// functions the model can call mid-conversation; the registry enforces
// per-agent enablement, execution timeouts, and payload limits, and writes
// an audit record for every invocation.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/internal/store"
	"github.com/voxbridge/voxbridge/pkg/types"
)

var (
	// ErrNotFound means no registered tool has the requested name.
	ErrNotFound = errors.New("tools: tool not found")
	// ErrForbidden means the tool exists but the agent has not enabled it.
	ErrForbidden = errors.New("tools: tool not enabled for agent")
	// ErrTimeout means the tool ran past its configured limit.
	ErrTimeout = errors.New("tools: execution timed out")
	// ErrPayloadTooLarge means the tool's output exceeded its byte limit.
	ErrPayloadTooLarge = errors.New("tools: output exceeds payload limit")
)

// Permissions declares what a tool is allowed to touch. They are metadata
// surfaced to operators, not an enforcement mechanism.
type Permissions struct {
	DataAccess         []string `json:"dataAccess,omitempty"`
	NetworkAccess      bool     `json:"networkAccess"`
	EstimatedCostCents int64    `json:"estimatedCostCents"`
}

// Limits bounds a single execution.
type Limits struct {
	Timeout         time.Duration
	MaxPayloadBytes int
}

// Handler executes a tool call. The returned value must be JSON-encodable.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool is one registered server-side function.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON-schema fragment describing the arguments.
	Parameters  map[string]any
	Permissions Permissions
	Limits      Limits
	Handler     Handler
}

// Auditor persists tool-invocation records. *store.Store satisfies it.
type Auditor interface {
	InsertToolExecution(ctx context.Context, te *store.ToolExecution) (*store.ToolExecution, error)
}

var _ Auditor = (*store.Store)(nil)

// Registry holds the registered tools. Registration happens once at
// startup; after that the registry is read-only and safe for concurrent
// use.
type Registry struct {
	tools   map[string]*Tool
	auditor Auditor
	log     *slog.Logger
}

// NewRegistry builds an empty registry. auditor may be nil, which disables
// the audit trail (tests).
func NewRegistry(auditor Auditor, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		tools:   map[string]*Tool{},
		auditor: auditor,
		log:     log,
	}
}

// Register adds a tool, applying default limits where unset.
func (r *Registry) Register(t *Tool) error {
	if t.Name == "" {
		return errors.New("tools: register: empty tool name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tools: register %s: nil handler", t.Name)
	}
	if _, dup := r.tools[t.Name]; dup {
		return fmt.Errorf("tools: register %s: already registered", t.Name)
	}
	if t.Limits.Timeout <= 0 {
		t.Limits.Timeout = 10 * time.Second
	}
	if t.Limits.MaxPayloadBytes <= 0 {
		t.Limits.MaxPayloadBytes = 64 * 1024
	}
	r.tools[t.Name] = t
	return nil
}

// Definitions returns the provider-facing catalog for an agent's enabled
// set, preserving the order of enabled.
func (r *Registry) Definitions(enabled []string) []types.ToolDefinition {
	defs := make([]types.ToolDefinition, 0, len(enabled))
	for _, name := range enabled {
		t, ok := r.tools[name]
		if !ok {
			continue
		}
		defs = append(defs, types.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return defs
}

// ExecContext carries the identifiers an execution is audited under.
type ExecContext struct {
	SessionID     string
	MessageID     string
	CorrelationID string
	// Enabled is the agent's enabled tool set.
	Enabled []string
}

// Execute runs one tool call under its limits and records the outcome.
// Errors are folded into the returned ToolResult rather than failing the
// conversation: the model sees {"success": false, ...} and can recover.
func (r *Registry) Execute(ctx context.Context, ec ExecContext, call types.ToolCall) types.ToolResult {
	start := time.Now()
	result, err := r.run(ctx, ec, call)
	latency := time.Since(start)

	tr := types.ToolResult{CallID: call.ID, Result: result}
	status := store.ToolExecSuccess
	if err != nil {
		tr.Error = err.Error()
		status = store.ToolExecFailed
		if errors.Is(err, ErrTimeout) {
			status = store.ToolExecTimeout
		}
		r.log.Warn("tool execution failed",
			"tool", call.Name, "session_id", ec.SessionID, "error", err)
	}

	r.audit(ctx, ec, call, tr, status, latency)
	observe.DefaultMetrics().RecordToolCall(ctx, call.Name, string(status), latency.Seconds())
	return tr
}

func (r *Registry) run(ctx context.Context, ec ExecContext, call types.ToolCall) (any, error) {
	t, ok := r.tools[call.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, call.Name)
	}
	if !enabled(ec.Enabled, call.Name) {
		return nil, fmt.Errorf("%w: %s", ErrForbidden, call.Name)
	}

	runCtx, cancel := context.WithTimeout(ctx, t.Limits.Timeout)
	defer cancel()

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("tools: %s panicked: %v", call.Name, p)}
			}
		}()
		result, err := t.Handler(runCtx, call.Args)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-runCtx.Done():
		return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, call.Name, t.Limits.Timeout)
	case out := <-done:
		if out.err != nil {
			return nil, out.err
		}
		if err := checkPayload(out.result, t.Limits.MaxPayloadBytes); err != nil {
			return nil, err
		}
		return out.result, nil
	}
}

// audit writes the invocation record. Audit failures are logged, never
// propagated: losing one audit row must not fail a user-visible turn.
func (r *Registry) audit(ctx context.Context, ec ExecContext, call types.ToolCall, tr types.ToolResult, status store.ToolExecStatus, latency time.Duration) {
	if r.auditor == nil {
		return
	}
	input, _ := json.Marshal(call.Args)
	var output []byte
	if tr.Result != nil {
		output, _ = json.Marshal(tr.Result)
	}
	var costCents int64
	if t, ok := r.tools[call.Name]; ok {
		costCents = t.Permissions.EstimatedCostCents
	}
	_, err := r.auditor.InsertToolExecution(ctx, &store.ToolExecution{
		SessionID:     ec.SessionID,
		MessageID:     ec.MessageID,
		CorrelationID: ec.CorrelationID,
		ToolName:      call.Name,
		ToolInput:     input,
		ToolOutput:    output,
		Status:        status,
		ErrorMessage:  tr.Error,
		LatencyMs:     latency.Milliseconds(),
		CostCents:     costCents,
	})
	if err != nil {
		r.log.Error("tool audit write failed",
			"tool", call.Name, "session_id", ec.SessionID, "error", err)
	}
}

func enabled(set []string, name string) bool {
	for _, s := range set {
		if s == name {
			return true
		}
	}
	return false
}

func checkPayload(result any, limit int) error {
	if result == nil {
		return nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("tools: encode output: %w", err)
	}
	if len(b) > limit {
		return fmt.Errorf("%w: %d bytes > %d", ErrPayloadTooLarge, len(b), limit)
	}
	return nil
}
