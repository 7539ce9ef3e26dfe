package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/voxbridge/voxbridge/internal/store"
	"github.com/voxbridge/voxbridge/pkg/types"
)

type agentRequest struct {
	Name             string         `json:"name" validate:"required,max=200"`
	Description      string         `json:"description" validate:"max=2000"`
	PrimaryProvider  string         `json:"primaryProvider" validate:"required,oneof=VENDOR_A VENDOR_B"`
	FallbackProvider string         `json:"fallbackProvider" validate:"omitempty,oneof=VENDOR_A VENDOR_B"`
	SystemPrompt     string         `json:"systemPrompt"`
	Temperature      float64        `json:"temperature" validate:"gte=0,lte=2"`
	MaxTokens        int            `json:"maxTokens" validate:"gte=0,lte=32768"`
	EnabledTools     []string       `json:"enabledTools"`
	VoiceEnabled     bool           `json:"voiceEnabled"`
	VoiceConfig      map[string]any `json:"voiceConfig"`
	IsActive         *bool          `json:"isActive"`
}

// apply copies the request onto an agent model. New agents default to active
// unless the request says otherwise.
func (req *agentRequest) apply(a *store.Agent) {
	a.Name = req.Name
	a.Description = req.Description
	a.PrimaryProvider = types.Provider(req.PrimaryProvider)
	a.FallbackProvider = types.Provider(req.FallbackProvider)
	a.SystemPrompt = req.SystemPrompt
	a.Temperature = req.Temperature
	a.MaxTokens = req.MaxTokens
	a.EnabledTools = req.EnabledTools
	a.VoiceEnabled = req.VoiceEnabled
	a.VoiceConfig = req.VoiceConfig
	a.IsActive = true
	if req.IsActive != nil {
		a.IsActive = *req.IsActive
	}
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	var req agentRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	agent := &store.Agent{TenantID: p.TenantID}
	req.apply(agent)
	agent, err := s.store.CreateAgent(r.Context(), agent)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusCreated, toAgentView(agent))
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	agents, err := s.store.ListAgents(r.Context(), p.TenantID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]agentView, len(agents))
	for i := range agents {
		views[i] = toAgentView(&agents[i])
	}
	s.respond(w, http.StatusOK, views)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	agent, err := s.store.GetAgent(r.Context(), p.TenantID, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, notFoundAs(err, "agent"))
		return
	}
	s.respond(w, http.StatusOK, toAgentView(agent))
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	var req agentRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}

	agent := &store.Agent{ID: mux.Vars(r)["id"], TenantID: p.TenantID}
	req.apply(agent)
	agent, err := s.store.UpdateAgent(r.Context(), agent)
	if err != nil {
		s.fail(w, r, notFoundAs(err, "agent"))
		return
	}
	s.respond(w, http.StatusOK, toAgentView(agent))
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	if err := s.store.DeleteAgent(r.Context(), p.TenantID, mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, notFoundAs(err, "agent"))
		return
	}
	s.respond(w, http.StatusNoContent, nil)
}

// handleDemoSession creates or reuses the agent's demo session. Demo turns
// run the full pipeline but are never billed.
func (s *Server) handleDemoSession(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	agentID := mux.Vars(r)["id"]

	if _, err := s.store.GetAgent(r.Context(), p.TenantID, agentID); err != nil {
		s.fail(w, r, notFoundAs(err, "agent"))
		return
	}

	sess, err := s.store.CreateSession(r.Context(), &store.Session{
		TenantID:   p.TenantID,
		AgentID:    agentID,
		CustomerID: "demo-" + p.TenantID,
		Channel:    store.ChannelChat,
		DemoMode:   true,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respond(w, http.StatusOK, toSessionView(sess))
}
