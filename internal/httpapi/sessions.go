package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/voxbridge/voxbridge/internal/gateway"
	"github.com/voxbridge/voxbridge/internal/jobs"
	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/internal/pipeline"
	"github.com/voxbridge/voxbridge/internal/store"
)

// IdempotencyKeyHeader collapses repeated message POSTs into one effect.
const IdempotencyKeyHeader = "X-Idempotency-Key"

type createSessionRequest struct {
	AgentID    string         `json:"agentId" validate:"required"`
	CustomerID string         `json:"customerId" validate:"required,max=200"`
	Channel    string         `json:"channel" validate:"omitempty,oneof=CHAT VOICE"`
	Metadata   map[string]any `json:"metadata"`
}

// handleCreateSession creates a session, or returns the existing ACTIVE one
// for the same (agent, customer) pair.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	var req createSessionRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	if _, err := s.store.GetAgent(r.Context(), p.TenantID, req.AgentID); err != nil {
		s.fail(w, r, notFoundAs(err, "agent"))
		return
	}

	sess, err := s.store.CreateSession(r.Context(), &store.Session{
		TenantID:   p.TenantID,
		AgentID:    req.AgentID,
		CustomerID: req.CustomerID,
		Channel:    store.Channel(req.Channel),
		Metadata:   req.Metadata,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, toSessionView(sess))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	sessions, err := s.store.ListSessions(r.Context(), p.TenantID, queryInt(r, "limit"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]sessionView, len(sessions))
	for i := range sessions {
		views[i] = toSessionView(&sessions[i])
	}
	s.respond(w, http.StatusOK, views)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	sess, err := s.store.GetSession(r.Context(), p.TenantID, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, notFoundAs(err, "session"))
		return
	}
	s.respond(w, http.StatusOK, toSessionView(sess))
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	sess, err := s.store.EndSession(r.Context(), p.TenantID, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, notFoundAs(err, "session"))
		return
	}
	s.respond(w, http.StatusOK, toSessionView(sess))
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	sessionID := mux.Vars(r)["id"]

	// Tenant scope check before touching the transcript.
	if _, err := s.store.GetSession(r.Context(), p.TenantID, sessionID); err != nil {
		s.fail(w, r, notFoundAs(err, "session"))
		return
	}

	messages, err := s.store.RecentMessages(r.Context(), sessionID, queryInt(r, "limit"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]messageView, len(messages))
	for i := range messages {
		views[i] = toMessageView(&messages[i])
	}
	s.respond(w, http.StatusOK, views)
}

type postMessageRequest struct {
	Content string `json:"content" validate:"required,max=32768"`
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.runTurn(w, r, req.Content, "")
}

// runTurn drives one synchronous pipeline turn and renders the assistant
// reply. Shared by the chat and voice-transcript endpoints.
func (s *Server) runTurn(w http.ResponseWriter, r *http.Request, content, artifactID string) {
	p, _ := PrincipalFrom(r.Context())
	res, err := s.sender.SendMessage(r.Context(), pipeline.SendInput{
		TenantID:        p.TenantID,
		SessionID:       mux.Vars(r)["id"],
		Content:         content,
		IdempotencyKey:  r.Header.Get(IdempotencyKeyHeader),
		CorrelationID:   observe.CorrelationID(r.Context()),
		AudioArtifactID: artifactID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if res.AssistantMessage == nil {
		// Replayed key whose original processing never produced a reply.
		s.fail(w, r, gateway.New(gateway.CodeConflict,
			"a previous request with this idempotency key did not complete; retry with a new key"))
		return
	}

	am := res.AssistantMessage
	s.respond(w, http.StatusOK, turnView{
		ID:        am.ID,
		SessionID: am.SessionID,
		Role:      am.Role,
		Content:   am.Content,
		ToolCalls: am.ToolCalls,
		CreatedAt: am.CreatedAt,
		Metadata: turnMetadata{
			Provider:      res.Provider,
			TokensIn:      res.TokensIn,
			TokensOut:     res.TokensOut,
			LatencyMs:     res.LatencyMs,
			CorrelationID: observe.CorrelationID(r.Context()),
			UsedFallback:  res.UsedFallback,
		},
	})
}

type asyncMessageRequest struct {
	Content        string `json:"content" validate:"required,max=32768"`
	CallbackURL    string `json:"callbackUrl" validate:"omitempty,url"`
	IdempotencyKey string `json:"idempotencyKey" validate:"max=200"`
}

// handlePostMessageAsync enqueues the turn as a durable job and returns 202
// immediately. The caller polls /jobs/{id} or supplies a callback URL.
func (s *Server) handlePostMessageAsync(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	sessionID := mux.Vars(r)["id"]

	var req asyncMessageRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := s.store.GetSession(r.Context(), p.TenantID, sessionID); err != nil {
		s.fail(w, r, notFoundAs(err, "session"))
		return
	}

	key := req.IdempotencyKey
	if key == "" {
		key = r.Header.Get(IdempotencyKeyHeader)
	}
	input, err := json.Marshal(jobs.SendMessageInput{
		SessionID:      sessionID,
		Content:        req.Content,
		IdempotencyKey: key,
		CorrelationID:  observe.CorrelationID(r.Context()),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	job, err := s.store.EnqueueJob(r.Context(), &store.Job{
		TenantID:       p.TenantID,
		Type:           store.JobSendMessage,
		IdempotencyKey: key,
		Input:          input,
		CallbackURL:    req.CallbackURL,
		MaxAttempts:    s.cfg.JobMaxAttempts,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusAccepted, toJobView(job))
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	job, err := s.store.GetJob(r.Context(), p.TenantID, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, notFoundAs(err, "job"))
		return
	}
	s.respond(w, http.StatusOK, toJobView(job))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	status := store.JobStatus(r.URL.Query().Get("status"))
	list, err := s.store.ListJobs(r.Context(), p.TenantID, status, queryInt(r, "limit"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]jobView, len(list))
	for i := range list {
		views[i] = toJobView(&list[i])
	}
	s.respond(w, http.StatusOK, views)
}

// queryInt parses an optional integer query parameter; absent or malformed
// values come back as 0 and callers apply their defaults.
func queryInt(r *http.Request, name string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(name))
	return n
}
