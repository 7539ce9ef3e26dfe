package store

import (
	"time"

	"github.com/voxbridge/voxbridge/pkg/types"
)

// Role is an API key's authorization level.
type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleAnalyst Role = "ANALYST"
)

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool {
	return r == RoleAdmin || r == RoleAnalyst
}

// Channel is a session's input modality.
type Channel string

const (
	ChannelChat  Channel = "CHAT"
	ChannelVoice Channel = "VOICE"
)

// IsValid reports whether c is a recognised channel.
func (c Channel) IsValid() bool {
	return c == ChannelChat || c == ChannelVoice
}

// SessionStatus is a session's lifecycle state.
type SessionStatus string

const (
	SessionActive SessionStatus = "ACTIVE"
	SessionEnded  SessionStatus = "ENDED"
	SessionError  SessionStatus = "ERROR"
)

// MessageRole is the persisted transcript role. The neutral lower-case
// [types.Role] used on provider requests maps 1:1 onto these values.
type MessageRole string

const (
	MessageUser      MessageRole = "USER"
	MessageAssistant MessageRole = "ASSISTANT"
	MessageSystem    MessageRole = "SYSTEM"
	MessageTool      MessageRole = "TOOL"
)

// NeutralRole translates the persisted role into the provider-facing role.
func (r MessageRole) NeutralRole() types.Role {
	switch r {
	case MessageUser:
		return types.RoleUser
	case MessageAssistant:
		return types.RoleAssistant
	case MessageSystem:
		return types.RoleSystem
	case MessageTool:
		return types.RoleTool
	}
	return types.RoleUser
}

// CallStatus is the outcome of one provider attempt.
type CallStatus string

const (
	CallSuccess     CallStatus = "SUCCESS"
	CallFailed      CallStatus = "FAILED"
	CallTimeout     CallStatus = "TIMEOUT"
	CallRateLimited CallStatus = "RATE_LIMITED"
)

// JobStatus is a queued job's lifecycle state.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// JobType dispatches a job to its executor.
type JobType string

const (
	JobSendMessage  JobType = "SEND_MESSAGE"
	JobVoiceProcess JobType = "VOICE_PROCESS"
)

// IsValid reports whether t is a recognised job type.
func (t JobType) IsValid() bool {
	return t == JobSendMessage || t == JobVoiceProcess
}

// ToolExecStatus is the outcome of one tool invocation.
type ToolExecStatus string

const (
	ToolExecSuccess ToolExecStatus = "SUCCESS"
	ToolExecFailed  ToolExecStatus = "FAILED"
	ToolExecTimeout ToolExecStatus = "TIMEOUT"
)

// ArtifactType distinguishes stored audio directions.
type ArtifactType string

const (
	ArtifactUserInput       ArtifactType = "USER_INPUT"
	ArtifactAssistantOutput ArtifactType = "ASSISTANT_OUTPUT"
)

// Tenant is the top-level owner boundary.
type Tenant struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

// APIKey is an authentication principal. Only the SHA-256 hash of the
// plaintext is stored; Prefix keeps the first bytes for display.
type APIKey struct {
	ID         string
	TenantID   string
	Prefix     string
	Hash       string
	Role       Role
	CreatedAt  time.Time
	ExpiresAt  *time.Time
	RevokedAt  *time.Time
	LastUsedAt *time.Time
}

// Valid reports whether the key may authenticate right now.
func (k *APIKey) Valid(now time.Time) bool {
	if k.RevokedAt != nil {
		return false
	}
	if k.ExpiresAt != nil && !k.ExpiresAt.After(now) {
		return false
	}
	return true
}

// Agent is a per-tenant reusable conversation configuration.
type Agent struct {
	ID               string
	TenantID         string
	Name             string
	Description      string
	PrimaryProvider  types.Provider
	FallbackProvider types.Provider // empty when no fallback is configured
	SystemPrompt     string
	Temperature      float64
	MaxTokens        int
	EnabledTools     []string
	VoiceEnabled     bool
	VoiceConfig      map[string]any
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Session is a conversation between an agent and an identified customer.
type Session struct {
	ID         string
	TenantID   string
	AgentID    string
	CustomerID string
	Channel    Channel
	Status     SessionStatus
	DemoMode   bool
	Metadata   map[string]any
	CreatedAt  time.Time
	EndedAt    *time.Time
}

// Message is one transcript entry with a monotonic per-session sequence.
type Message struct {
	ID             string
	SessionID      string
	SequenceNumber int
	IdempotencyKey string // empty when not supplied
	Role           MessageRole
	Content        string
	ToolCalls      []types.ToolCall
	ProviderCallID string // set on ASSISTANT messages produced by a call
	AudioArtifact  string // artifact id, set for voice-channel messages
	CreatedAt      time.Time
}

// ProviderCall records one outbound vendor attempt, successful or not.
type ProviderCall struct {
	ID            string
	SessionID     string
	CorrelationID string
	Provider      types.Provider
	IsFallback    bool
	TokensIn      int
	TokensOut     int
	LatencyMs     int64
	Status        CallStatus
	ErrorCode     string
	ErrorMessage  string
	AttemptNumber int
	Billed        bool
	CreatedAt     time.Time
}

// UsageEvent is the cost-accounting unit; exactly one per successfully
// billed provider call. ProviderCallID uniqueness is the exactly-once guard.
type UsageEvent struct {
	ID              string
	TenantID        string
	AgentID         string
	SessionID       string
	ProviderCallID  string
	Provider        types.Provider
	TokensIn        int
	TokensOut       int
	TotalTokens     int
	CostCents       int64
	PricingSnapshot []byte // JSON copy of the rate tuple used
	CreatedAt       time.Time
}

// Job is a unit of durable asynchronous work.
type Job struct {
	ID             string
	TenantID       string
	Type           JobType
	IdempotencyKey string
	Input          []byte // JSON
	Output         []byte // JSON, set on completion
	Status         JobStatus
	Progress       int
	ErrorMessage   string
	LastError      string
	CallbackURL    string
	CallbackSent   bool
	LockedAt       *time.Time
	LockedBy       string
	LockExpiresAt  *time.Time
	Attempts       int
	MaxAttempts    int
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// ToolExecution is the audit record of one tool invocation.
type ToolExecution struct {
	ID            string
	SessionID     string
	MessageID     string
	CorrelationID string
	ToolName      string
	ToolInput     []byte // JSON
	ToolOutput    []byte // JSON, nil on failure
	Status        ToolExecStatus
	ErrorMessage  string
	LatencyMs     int64
	CostCents     int64
	CreatedAt     time.Time
}

// AudioArtifact is opaque stored audio attached to a session.
type AudioArtifact struct {
	ID         string
	SessionID  string
	Type       ArtifactType
	FilePath   string
	FileSize   int64
	DurationMs int64
	Format     string
	SampleRate int
	Provider   string
	Transcript string
	LatencyMs  int64
	CreatedAt  time.Time
}
