// Package pipeline drives one conversation turn end to end: idempotency
// short-circuit, session locking, history assembly, the provider call with
// retry and fallback, the tool loop, and persistence of every message and
// provider attempt along the way.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/voxbridge/voxbridge/internal/gateway"
	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/internal/orchestrator"
	"github.com/voxbridge/voxbridge/internal/sessionlock"
	"github.com/voxbridge/voxbridge/internal/store"
	"github.com/voxbridge/voxbridge/internal/tools"
	"github.com/voxbridge/voxbridge/pkg/provider"
	"github.com/voxbridge/voxbridge/pkg/types"
)

const (
	// DefaultHistoryLimit caps how many persisted messages feed each
	// provider request.
	DefaultHistoryLimit = 50

	// DefaultMaxToolRounds bounds the tool loop. When the model still wants
	// tools after this many rounds the turn closes with a cap note instead.
	DefaultMaxToolRounds = 4
)

// Store is the slice of the data layer the pipeline uses.
type Store interface {
	GetSession(ctx context.Context, tenantID, sessionID string) (*store.Session, error)
	GetAgent(ctx context.Context, tenantID, agentID string) (*store.Agent, error)
	InsertMessage(ctx context.Context, m *store.Message) (*store.Message, error)
	FindUserMessageByKey(ctx context.Context, sessionID, key string) (*store.Message, error)
	MessageBySequence(ctx context.Context, sessionID string, seq int) (*store.Message, error)
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]store.Message, error)
	InsertProviderCall(ctx context.Context, pc *store.ProviderCall) (*store.ProviderCall, error)
	GetProviderCall(ctx context.Context, id string) (*store.ProviderCall, error)
}

var _ Store = (*store.Store)(nil)

// Executor runs a provider request with retry and fallback.
type Executor interface {
	Execute(ctx context.Context, primary, fallback types.Provider, req types.Request) (*orchestrator.Result, error)
}

var _ Executor = (*orchestrator.Orchestrator)(nil)

// Biller records usage for a successful provider call.
type Biller interface {
	Record(ctx context.Context, sess *store.Session, call *store.ProviderCall) (bool, error)
}

// ToolRunner is the slice of the tool registry the pipeline uses.
type ToolRunner interface {
	Definitions(enabled []string) []types.ToolDefinition
	Execute(ctx context.Context, ec tools.ExecContext, call types.ToolCall) types.ToolResult
}

// Config tunes a Pipeline.
type Config struct {
	HistoryLimit  int
	MaxToolRounds int
}

// Pipeline processes message turns.
type Pipeline struct {
	store   Store
	orch    Executor
	tools   ToolRunner
	billing Biller
	locks   sessionlock.Locker
	log     *slog.Logger
	cfg     Config
}

// New wires a Pipeline. billing and tools may be nil in reduced setups
// (billing disabled, no tools registered).
func New(s Store, orch Executor, tr ToolRunner, b Biller, locks sessionlock.Locker, cfg Config, log *slog.Logger) *Pipeline {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{store: s, orch: orch, tools: tr, billing: b, locks: locks, log: log, cfg: cfg}
}

// SendInput is one inbound user turn.
type SendInput struct {
	TenantID       string
	SessionID      string
	Content        string
	IdempotencyKey string
	CorrelationID  string

	// AudioArtifactID links the user message to stored audio when the turn
	// arrived through the voice passthrough.
	AudioArtifactID string
}

// Result is the outcome of a processed turn.
type Result struct {
	UserMessage *store.Message

	// AssistantMessage is the final reply. Nil only on a replayed turn whose
	// original processing died before producing one.
	AssistantMessage *store.Message

	// Replayed is true when the idempotency key matched an earlier turn and
	// no new processing happened.
	Replayed bool

	Provider     types.Provider
	UsedFallback bool
	TokensIn     int
	TokensOut    int
	LatencyMs    int64
	ToolRounds   int
}

// SendMessage processes one user turn against a session.
func (p *Pipeline) SendMessage(ctx context.Context, in SendInput) (*Result, error) {
	if strings.TrimSpace(in.Content) == "" {
		return nil, gateway.New(gateway.CodeValidation, "message content must not be empty")
	}

	sess, err := p.store.GetSession(ctx, in.TenantID, in.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, gateway.New(gateway.CodeNotFound, "session not found")
		}
		return nil, fmt.Errorf("pipeline: load session: %w", err)
	}

	// The short-circuit runs before the lock: a replay never needs to wait
	// behind live processing.
	if in.IdempotencyKey != "" {
		if res, ok, err := p.replay(ctx, sess, in.IdempotencyKey); err != nil {
			return nil, err
		} else if ok {
			return res, nil
		}
	}

	release, err := p.locks.TryAcquire(ctx, sess.ID)
	if err != nil {
		if errors.Is(err, sessionlock.ErrLocked) {
			return nil, gateway.New(gateway.CodeConflict, "session is already processing a message")
		}
		return nil, fmt.Errorf("pipeline: acquire session lock: %w", err)
	}
	defer release()

	met := observe.DefaultMetrics()
	met.ActiveSessions.Add(ctx, 1)
	defer met.ActiveSessions.Add(ctx, -1)
	start := time.Now()
	defer func() { met.TurnDuration.Record(ctx, time.Since(start).Seconds()) }()

	// Re-read under the lock: the session may have been ended between the
	// initial load and acquisition.
	sess, err = p.store.GetSession(ctx, in.TenantID, in.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, gateway.New(gateway.CodeNotFound, "session not found")
		}
		return nil, fmt.Errorf("pipeline: reload session: %w", err)
	}
	if sess.Status != store.SessionActive {
		return nil, gateway.Newf(gateway.CodeValidation, "session is %s, not ACTIVE", sess.Status)
	}

	agent, err := p.store.GetAgent(ctx, sess.TenantID, sess.AgentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, gateway.New(gateway.CodeNotFound, "agent not found")
		}
		return nil, fmt.Errorf("pipeline: load agent: %w", err)
	}
	if !agent.IsActive {
		return nil, gateway.New(gateway.CodeConflict, "agent is disabled")
	}

	userMsg, err := p.store.InsertMessage(ctx, &store.Message{
		SessionID:      sess.ID,
		Role:           store.MessageUser,
		Content:        in.Content,
		IdempotencyKey: in.IdempotencyKey,
		AudioArtifact:  in.AudioArtifactID,
	})
	if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
		// Lost a race with a concurrent identical request; serve its result.
		res, ok, rerr := p.replay(ctx, sess, in.IdempotencyKey)
		if rerr != nil {
			return nil, rerr
		}
		if !ok {
			return nil, gateway.New(gateway.CodeConflict, "duplicate request is still processing")
		}
		return res, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: insert user message: %w", err)
	}

	history, err := p.store.RecentMessages(ctx, sess.ID, p.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load history: %w", err)
	}

	req := types.Request{
		SystemPrompt: agent.SystemPrompt,
		Messages:     toNeutral(history, p.log),
		Temperature:  agent.Temperature,
		MaxTokens:    agent.MaxTokens,
	}
	if p.tools != nil {
		req.Tools = p.tools.Definitions(agent.EnabledTools)
	}

	res := &Result{UserMessage: userMsg}
	resp, call, err := p.invoke(ctx, sess, agent, in.CorrelationID, req, res)
	if err != nil {
		return nil, toGatewayError(err)
	}

	// Tool loop: execute requested tools, feed results back, repeat until
	// the model answers in text or the round cap trips.
	for len(resp.ToolCalls) > 0 {
		if res.ToolRounds >= p.cfg.MaxToolRounds {
			capped, err := p.store.InsertMessage(ctx, &store.Message{
				SessionID:      sess.ID,
				Role:           store.MessageAssistant,
				Content:        "I wasn't able to finish the requested lookups within the allowed number of tool rounds. Please narrow the request and try again.",
				ProviderCallID: call.ID,
			})
			if err != nil {
				return nil, fmt.Errorf("pipeline: insert cap message: %w", err)
			}
			res.AssistantMessage = capped
			return res, nil
		}
		res.ToolRounds++

		interim, err := p.store.InsertMessage(ctx, &store.Message{
			SessionID:      sess.ID,
			Role:           store.MessageAssistant,
			Content:        resp.Content,
			ToolCalls:      resp.ToolCalls,
			ProviderCallID: call.ID,
		})
		if err != nil {
			return nil, fmt.Errorf("pipeline: insert interim assistant message: %w", err)
		}

		results := make([]types.ToolResult, 0, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			results = append(results, p.tools.Execute(ctx, tools.ExecContext{
				SessionID:     sess.ID,
				MessageID:     interim.ID,
				CorrelationID: in.CorrelationID,
				Enabled:       agent.EnabledTools,
			}, tc))
		}

		// One TOOL row per call, so the transcript can attribute each result
		// to its originating call id.
		for _, tr := range results {
			payload, err := json.Marshal(tr)
			if err != nil {
				return nil, fmt.Errorf("pipeline: encode tool result: %w", err)
			}
			if _, err := p.store.InsertMessage(ctx, &store.Message{
				SessionID: sess.ID,
				Role:      store.MessageTool,
				Content:   string(payload),
			}); err != nil {
				return nil, fmt.Errorf("pipeline: insert tool message: %w", err)
			}
		}

		// The follow-up request is rebuilt from the persisted transcript, so
		// the history cap applies to tool rounds too. A synthetic empty user
		// entry closes the request; it is never persisted.
		history, err = p.store.RecentMessages(ctx, sess.ID, p.cfg.HistoryLimit)
		if err != nil {
			return nil, fmt.Errorf("pipeline: reload history: %w", err)
		}
		req.Messages = append(toNeutral(history, p.log), types.Message{Role: types.RoleUser})

		resp, call, err = p.invoke(ctx, sess, agent, in.CorrelationID, req, res)
		if err != nil {
			return nil, toGatewayError(err)
		}
	}

	assistant, err := p.store.InsertMessage(ctx, &store.Message{
		SessionID:      sess.ID,
		Role:           store.MessageAssistant,
		Content:        resp.Content,
		ProviderCallID: call.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: insert assistant message: %w", err)
	}
	res.AssistantMessage = assistant
	return res, nil
}

// invoke runs one orchestrated provider call, persists every attempt as a
// provider_calls row, and bills the successful one. The attempt audit is
// written even when the whole call fails.
func (p *Pipeline) invoke(ctx context.Context, sess *store.Session, agent *store.Agent, corrID string, req types.Request, res *Result) (*types.Response, *store.ProviderCall, error) {
	orchRes, execErr := p.orch.Execute(ctx, agent.PrimaryProvider, agent.FallbackProvider, req)

	var success *store.ProviderCall
	for _, a := range orchRes.Attempts {
		pc := &store.ProviderCall{
			SessionID:     sess.ID,
			CorrelationID: corrID,
			Provider:      a.Provider,
			IsFallback:    a.IsFallback,
			AttemptNumber: a.Number,
			LatencyMs:     a.LatencyMs,
		}
		if a.Err == nil {
			pc.Status = store.CallSuccess
			pc.TokensIn = a.Response.TokensIn
			pc.TokensOut = a.Response.TokensOut
		} else {
			pc.Status = callStatus(a.Err)
			pc.ErrorCode = string(errorKind(a.Err))
			pc.ErrorMessage = a.Err.Error()
		}

		stored, err := p.store.InsertProviderCall(ctx, pc)
		if err != nil {
			if a.Err == nil {
				// The successful call's row backs the assistant message and
				// the usage event; without it the turn cannot complete.
				return nil, nil, fmt.Errorf("pipeline: persist provider call: %w", err)
			}
			p.log.Error("failed to persist provider call attempt",
				"session_id", sess.ID, "provider", a.Provider, "error", err)
			continue
		}
		if a.Err == nil {
			success = stored
		}
	}

	if execErr != nil {
		return nil, nil, execErr
	}

	if p.billing != nil && success != nil {
		if _, err := p.billing.Record(ctx, sess, success); err != nil {
			// The user-visible turn already succeeded; billing has its own
			// audit trail (billed=false) for reconciliation.
			p.log.Error("usage recording failed",
				"session_id", sess.ID, "provider_call_id", success.ID, "error", err)
		}
	}

	res.Provider = orchRes.Provider
	res.UsedFallback = orchRes.UsedFallback
	res.TokensIn += orchRes.Response.TokensIn
	res.TokensOut += orchRes.Response.TokensOut
	res.LatencyMs += orchRes.LatencyMs
	return orchRes.Response, success, nil
}

// replay serves a turn previously processed under the same idempotency
// key. Returns ok=false when the key is unknown.
func (p *Pipeline) replay(ctx context.Context, sess *store.Session, key string) (*Result, bool, error) {
	userMsg, err := p.store.FindUserMessageByKey(ctx, sess.ID, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pipeline: replay lookup: %w", err)
	}

	res := &Result{UserMessage: userMsg, Replayed: true}

	// The final reply is the first ASSISTANT message after the user turn
	// that carries no tool calls. The walk visits the interim assistant and
	// TOOL rows of the original turn's tool rounds on the way, re-assembling
	// the provider accounting from their persisted calls so a replayed
	// response carries the same metadata as the original.
	for seq := userMsg.SequenceNumber + 1; ; seq++ {
		m, err := p.store.MessageBySequence(ctx, sess.ID, seq)
		if errors.Is(err, store.ErrNotFound) {
			break
		}
		if err != nil {
			return nil, false, fmt.Errorf("pipeline: replay walk: %w", err)
		}
		if m.Role == store.MessageUser {
			// The next turn started; the original died without a reply.
			break
		}
		if m.Role != store.MessageAssistant {
			continue
		}

		if m.ProviderCallID != "" {
			pc, err := p.store.GetProviderCall(ctx, m.ProviderCallID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, false, fmt.Errorf("pipeline: replay provider call: %w", err)
			}
			if err == nil {
				res.Provider = pc.Provider
				res.UsedFallback = pc.IsFallback
				res.TokensIn += pc.TokensIn
				res.TokensOut += pc.TokensOut
				res.LatencyMs += pc.LatencyMs
			}
		}
		if len(m.ToolCalls) > 0 {
			res.ToolRounds++
			continue
		}
		res.AssistantMessage = m
		break
	}
	return res, true, nil
}

// toNeutral converts persisted history into the provider request shape.
// Each TOOL row carries one result in its content column; consecutive TOOL
// rows collapse into a single tool message so a multi-call round re-enters
// the request the same way it left the model.
func toNeutral(history []store.Message, log *slog.Logger) []types.Message {
	out := make([]types.Message, 0, len(history))
	for _, m := range history {
		if m.Role == store.MessageTool {
			var tr types.ToolResult
			if err := json.Unmarshal([]byte(m.Content), &tr); err != nil {
				log.Warn("undecodable tool message in history",
					"message_id", m.ID, "error", err)
				continue
			}
			if n := len(out); n > 0 && out[n-1].Role == types.RoleTool {
				out[n-1].ToolResults = append(out[n-1].ToolResults, tr)
				continue
			}
			out = append(out, types.Message{
				Role:        types.RoleTool,
				ToolResults: []types.ToolResult{tr},
			})
			continue
		}
		out = append(out, types.Message{
			Role:      m.Role.NeutralRole(),
			Content:   m.Content,
			ToolCalls: m.ToolCalls,
		})
	}
	return out
}

// callStatus maps a provider error onto the persisted call status.
func callStatus(err error) store.CallStatus {
	if pe, ok := provider.AsError(err); ok {
		switch pe.Kind {
		case provider.KindTimeout:
			return store.CallTimeout
		case provider.KindRateLimited:
			return store.CallRateLimited
		}
	}
	return store.CallFailed
}

func errorKind(err error) provider.Kind {
	if pe, ok := provider.AsError(err); ok {
		return pe.Kind
	}
	return provider.KindProvider
}

// toGatewayError classifies an orchestrator failure for the HTTP surface.
func toGatewayError(err error) error {
	var ge *gateway.Error
	if errors.As(err, &ge) {
		return err
	}
	if pe, ok := provider.AsError(err); ok {
		switch pe.Kind {
		case provider.KindTimeout:
			return gateway.Wrap(gateway.CodeTimeout, "provider request timed out", err)
		case provider.KindRateLimited:
			return gateway.Wrap(gateway.CodeRateLimited, "provider rate limited the request", err)
		case provider.KindSchema:
			return gateway.Wrap(gateway.CodeProviderSchema, "provider returned a malformed response", err)
		}
		return gateway.Wrap(gateway.CodeProvider, "provider request failed", err)
	}
	return gateway.Wrap(gateway.CodeProvider, "provider request failed", err)
}
