package httpapi

import (
	"encoding/json"
	"time"

	"github.com/voxbridge/voxbridge/internal/store"
	"github.com/voxbridge/voxbridge/pkg/types"
)

// Wire representations. The store models carry internal fields (hashes,
// lock bookkeeping, file paths) that must never reach clients, so every
// resource gets an explicit view.

type tenantView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

func toTenantView(t *store.Tenant) tenantView {
	return tenantView{ID: t.ID, Name: t.Name, Email: t.Email, CreatedAt: t.CreatedAt}
}

type apiKeyView struct {
	ID         string     `json:"id"`
	Prefix     string     `json:"prefix"`
	Role       store.Role `json:"role"`
	CreatedAt  time.Time  `json:"createdAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	RevokedAt  *time.Time `json:"revokedAt,omitempty"`
	LastUsedAt *time.Time `json:"lastUsedAt,omitempty"`
}

func toAPIKeyView(k *store.APIKey) apiKeyView {
	return apiKeyView{
		ID:         k.ID,
		Prefix:     k.Prefix,
		Role:       k.Role,
		CreatedAt:  k.CreatedAt,
		ExpiresAt:  k.ExpiresAt,
		RevokedAt:  k.RevokedAt,
		LastUsedAt: k.LastUsedAt,
	}
}

// issuedKeyView is the one-time response carrying the plaintext key.
type issuedKeyView struct {
	apiKeyView
	Key string `json:"key"`
}

type agentView struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"`
	Description      string         `json:"description,omitempty"`
	PrimaryProvider  types.Provider `json:"primaryProvider"`
	FallbackProvider types.Provider `json:"fallbackProvider,omitempty"`
	SystemPrompt     string         `json:"systemPrompt"`
	Temperature      float64        `json:"temperature"`
	MaxTokens        int            `json:"maxTokens"`
	EnabledTools     []string       `json:"enabledTools"`
	VoiceEnabled     bool           `json:"voiceEnabled"`
	IsActive         bool           `json:"isActive"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

func toAgentView(a *store.Agent) agentView {
	return agentView{
		ID:               a.ID,
		Name:             a.Name,
		Description:      a.Description,
		PrimaryProvider:  a.PrimaryProvider,
		FallbackProvider: a.FallbackProvider,
		SystemPrompt:     a.SystemPrompt,
		Temperature:      a.Temperature,
		MaxTokens:        a.MaxTokens,
		EnabledTools:     a.EnabledTools,
		VoiceEnabled:     a.VoiceEnabled,
		IsActive:         a.IsActive,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

type sessionView struct {
	ID         string              `json:"id"`
	AgentID    string              `json:"agentId"`
	CustomerID string              `json:"customerId"`
	Channel    store.Channel       `json:"channel"`
	Status     store.SessionStatus `json:"status"`
	DemoMode   bool                `json:"demoMode"`
	Metadata   map[string]any      `json:"metadata,omitempty"`
	CreatedAt  time.Time           `json:"createdAt"`
	EndedAt    *time.Time          `json:"endedAt,omitempty"`
}

func toSessionView(sess *store.Session) sessionView {
	return sessionView{
		ID:         sess.ID,
		AgentID:    sess.AgentID,
		CustomerID: sess.CustomerID,
		Channel:    sess.Channel,
		Status:     sess.Status,
		DemoMode:   sess.DemoMode,
		Metadata:   sess.Metadata,
		CreatedAt:  sess.CreatedAt,
		EndedAt:    sess.EndedAt,
	}
}

type messageView struct {
	ID             string            `json:"id"`
	SessionID      string            `json:"sessionId"`
	SequenceNumber int               `json:"sequenceNumber"`
	Role           store.MessageRole `json:"role"`
	Content        string            `json:"content"`
	ToolCalls      []types.ToolCall  `json:"toolCalls,omitempty"`
	AudioArtifact  string            `json:"audioArtifactId,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

func toMessageView(m *store.Message) messageView {
	return messageView{
		ID:             m.ID,
		SessionID:      m.SessionID,
		SequenceNumber: m.SequenceNumber,
		Role:           m.Role,
		Content:        m.Content,
		ToolCalls:      m.ToolCalls,
		AudioArtifact:  m.AudioArtifact,
		CreatedAt:      m.CreatedAt,
	}
}

// turnMetadata is the provider accounting attached to an assistant reply.
type turnMetadata struct {
	Provider      types.Provider `json:"provider"`
	TokensIn      int            `json:"tokensIn"`
	TokensOut     int            `json:"tokensOut"`
	LatencyMs     int64          `json:"latencyMs"`
	CorrelationID string         `json:"correlationId"`
	UsedFallback  bool           `json:"usedFallback"`
}

// turnView is the success response of a message POST.
type turnView struct {
	ID        string            `json:"id"`
	SessionID string            `json:"sessionId"`
	Role      store.MessageRole `json:"role"`
	Content   string            `json:"content"`
	ToolCalls []types.ToolCall  `json:"toolCalls"`
	CreatedAt time.Time         `json:"createdAt"`
	Metadata  turnMetadata      `json:"metadata"`
}

type jobView struct {
	ID          string          `json:"id"`
	Type        store.JobType   `json:"type"`
	Status      store.JobStatus `json:"status"`
	Progress    int             `json:"progress"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

func toJobView(j *store.Job) jobView {
	return jobView{
		ID:          j.ID,
		Type:        j.Type,
		Status:      j.Status,
		Progress:    j.Progress,
		Output:      json.RawMessage(j.Output),
		Error:       j.ErrorMessage,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}

type artifactView struct {
	ID         string             `json:"id"`
	SessionID  string             `json:"sessionId"`
	Type       store.ArtifactType `json:"type"`
	FileSize   int64              `json:"fileSize"`
	DurationMs int64              `json:"durationMs"`
	Format     string             `json:"format"`
	SampleRate int                `json:"sampleRate"`
	Provider   string             `json:"provider,omitempty"`
	Transcript string             `json:"transcript,omitempty"`
	LatencyMs  int64              `json:"latencyMs"`
	CreatedAt  time.Time          `json:"createdAt"`
}

func toArtifactView(a *store.AudioArtifact) artifactView {
	return artifactView{
		ID:         a.ID,
		SessionID:  a.SessionID,
		Type:       a.Type,
		FileSize:   a.FileSize,
		DurationMs: a.DurationMs,
		Format:     a.Format,
		SampleRate: a.SampleRate,
		Provider:   a.Provider,
		Transcript: a.Transcript,
		LatencyMs:  a.LatencyMs,
		CreatedAt:  a.CreatedAt,
	}
}
