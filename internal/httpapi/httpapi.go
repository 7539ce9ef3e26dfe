// Package httpapi exposes the gateway over HTTP at /api/v1. It owns
// authentication, request validation, and the uniform error envelope;
// conversation semantics live in the pipeline and the data layer.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/internal/pipeline"
	"github.com/voxbridge/voxbridge/internal/store"
)

// DefaultKeyPrefix is prepended to issued API keys when the config does
// not override it.
const DefaultKeyPrefix = "vb_live_"

// Store is the slice of the data layer the HTTP boundary uses.
type Store interface {
	GetAPIKeyByHash(ctx context.Context, hash string) (*store.APIKey, error)
	TouchAPIKey(ctx context.Context, keyID string) error

	CreateTenant(ctx context.Context, name, email string) (*store.Tenant, error)
	GetTenant(ctx context.Context, id string) (*store.Tenant, error)
	CreateAPIKey(ctx context.Context, tenantID, prefix, hash string, role store.Role, expiresAt *time.Time) (*store.APIKey, error)
	ListAPIKeys(ctx context.Context, tenantID string) ([]store.APIKey, error)
	RevokeAPIKey(ctx context.Context, tenantID, keyID string) error
	RotateAPIKey(ctx context.Context, tenantID, keyID, newPrefix, newHash string) (*store.APIKey, error)

	CreateAgent(ctx context.Context, a *store.Agent) (*store.Agent, error)
	GetAgent(ctx context.Context, tenantID, agentID string) (*store.Agent, error)
	ListAgents(ctx context.Context, tenantID string) ([]store.Agent, error)
	UpdateAgent(ctx context.Context, a *store.Agent) (*store.Agent, error)
	DeleteAgent(ctx context.Context, tenantID, agentID string) error

	CreateSession(ctx context.Context, sess *store.Session) (*store.Session, error)
	GetSession(ctx context.Context, tenantID, sessionID string) (*store.Session, error)
	ListSessions(ctx context.Context, tenantID string, limit int) ([]store.Session, error)
	EndSession(ctx context.Context, tenantID, sessionID string) (*store.Session, error)
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]store.Message, error)

	EnqueueJob(ctx context.Context, j *store.Job) (*store.Job, error)
	GetJob(ctx context.Context, tenantID, jobID string) (*store.Job, error)
	ListJobs(ctx context.Context, tenantID string, status store.JobStatus, limit int) ([]store.Job, error)

	GetUsageSummary(ctx context.Context, tenantID string, w store.UsageWindow) (*store.UsageSummary, error)
	GetUsageBreakdown(ctx context.Context, tenantID, groupBy string, w store.UsageWindow) ([]store.UsageBucket, error)
	GetTopAgents(ctx context.Context, tenantID string, limit int) ([]store.UsageBucket, error)

	InsertAudioArtifact(ctx context.Context, a *store.AudioArtifact) (*store.AudioArtifact, error)
	GetAudioArtifact(ctx context.Context, sessionID, artifactID string) (*store.AudioArtifact, error)
}

var _ Store = (*store.Store)(nil)

// Sender processes one message turn. *pipeline.Pipeline satisfies it.
type Sender interface {
	SendMessage(ctx context.Context, in pipeline.SendInput) (*pipeline.Result, error)
}

var _ Sender = (*pipeline.Pipeline)(nil)

// Config tunes the HTTP boundary.
type Config struct {
	// KeyPrefix is prepended to issued API keys.
	KeyPrefix string

	// AudioDir is where store-audio payloads are written. Empty disables
	// audio storage.
	AudioDir string

	// JobMaxAttempts is the retry budget for jobs enqueued via the async
	// message endpoint. Zero uses the store default.
	JobMaxAttempts int
}

// Server is the HTTP boundary of the gateway.
type Server struct {
	store  Store
	sender Sender
	valid  *validator.Validate
	cfg    Config
	log    *slog.Logger
	now    func() time.Time
}

// NewServer wires the HTTP boundary.
func NewServer(s Store, sender Sender, cfg Config, log *slog.Logger) *Server {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		store:  s,
		sender: sender,
		valid:  newValidator(),
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

// newValidator builds the request validator, reporting field names by their
// json tag so envelope details match the wire format.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Router builds the full route table. Every route runs behind the
// observability middleware; everything except tenant creation additionally
// requires an API key.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(observe.Middleware(observe.DefaultMetrics()))

	api := r.PathPrefix("/api/v1").Subrouter()

	// Tenant creation is the bootstrap path: it issues the first API key.
	api.HandleFunc("/tenants", s.handleCreateTenant).Methods(http.MethodPost)

	authed := api.NewRoute().Subrouter()
	authed.Use(s.authenticate)

	authed.HandleFunc("/tenants/me", s.handleCurrentTenant).Methods(http.MethodGet)

	authed.HandleFunc("/api-keys", s.requireAdmin(s.handleCreateAPIKey)).Methods(http.MethodPost)
	authed.HandleFunc("/api-keys", s.requireAdmin(s.handleListAPIKeys)).Methods(http.MethodGet)
	authed.HandleFunc("/api-keys/{id}", s.requireAdmin(s.handleRevokeAPIKey)).Methods(http.MethodDelete)
	authed.HandleFunc("/api-keys/{id}/rotate", s.requireAdmin(s.handleRotateAPIKey)).Methods(http.MethodPost)

	authed.HandleFunc("/agents", s.requireAdmin(s.handleCreateAgent)).Methods(http.MethodPost)
	authed.HandleFunc("/agents", s.handleListAgents).Methods(http.MethodGet)
	authed.HandleFunc("/agents/{id}", s.handleGetAgent).Methods(http.MethodGet)
	authed.HandleFunc("/agents/{id}", s.requireAdmin(s.handleUpdateAgent)).Methods(http.MethodPut)
	authed.HandleFunc("/agents/{id}", s.requireAdmin(s.handleDeleteAgent)).Methods(http.MethodDelete)
	authed.HandleFunc("/agents/{id}/demo", s.handleDemoSession).Methods(http.MethodPost)

	authed.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	authed.HandleFunc("/sessions", s.handleListSessions).Methods(http.MethodGet)
	authed.HandleFunc("/sessions/{id}", s.handleGetSession).Methods(http.MethodGet)
	authed.HandleFunc("/sessions/{id}/end", s.handleEndSession).Methods(http.MethodPost)
	authed.HandleFunc("/sessions/{id}/messages", s.handleListMessages).Methods(http.MethodGet)
	authed.HandleFunc("/sessions/{id}/messages", s.handlePostMessage).Methods(http.MethodPost)
	authed.HandleFunc("/sessions/{id}/messages/async", s.handlePostMessageAsync).Methods(http.MethodPost)

	authed.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	authed.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)

	authed.HandleFunc("/usage", s.handleUsageSummary).Methods(http.MethodGet)
	authed.HandleFunc("/usage/breakdown", s.handleUsageBreakdown).Methods(http.MethodGet)
	authed.HandleFunc("/usage/top-agents", s.handleTopAgents).Methods(http.MethodGet)

	// Literal voice paths are registered before the {artifactId} catch-all.
	authed.HandleFunc("/sessions/{id}/voice/transcript", s.handleVoiceTranscript).Methods(http.MethodPost)
	authed.HandleFunc("/sessions/{id}/voice/store-audio", s.handleStoreAudio).Methods(http.MethodPost)
	authed.HandleFunc("/sessions/{id}/voice/{artifactId}/metadata", s.handleArtifactMetadata).Methods(http.MethodGet)
	authed.HandleFunc("/sessions/{id}/voice/{artifactId}", s.handleGetArtifact).Methods(http.MethodGet)

	return r
}
