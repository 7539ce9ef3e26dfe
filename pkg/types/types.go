// Package types defines the shared types used across all VoxBridge packages.
//
// These types form the lingua franca between provider adapters, the
// orchestrator, the message pipeline, and the billing layer. They are
// intentionally minimal — each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

// Provider identifies a configured upstream AI vendor.
type Provider string

const (
	// VendorA is the primary mock vendor personality: higher base latency,
	// occasional latency spikes, and a 10% server-error rate.
	VendorA Provider = "VENDOR_A"

	// VendorB is the secondary mock vendor personality: lower base latency
	// with a 5% rate-limit rate.
	VendorB Provider = "VENDOR_B"
)

// IsValid reports whether p is a recognised provider.
func (p Provider) IsValid() bool {
	return p == VendorA || p == VendorB
}

// Role is the neutral conversation role used in provider requests.
// Persisted messages use the upper-case store enum; adapters and the
// pipeline translate between the two at the boundary.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ToolCall is a structured request emitted by the assistant to invoke a
// named tool. Args is a free-form structured value whose shape is declared
// by the tool's parameter schema.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResult carries the outcome of one tool call back to the model on the
// follow-up turn. Exactly one of Result or Error is meaningful.
type ToolResult struct {
	// CallID matches the ID of the ToolCall this result answers.
	CallID string `json:"id"`

	// Result is the tool's output on success.
	Result any `json:"result,omitempty"`

	// Error is a human-readable failure description when the tool failed.
	Error string `json:"error,omitempty"`
}

// Message is one neutral conversation entry sent to a provider.
type Message struct {
	// Role is the speaker of this entry.
	Role Role `json:"role"`

	// Content is the textual body. May be empty for an assistant entry that
	// carries only tool calls, or for the synthetic final user turn of a
	// tool-result round.
	Content string `json:"content"`

	// ToolCalls are the calls emitted by an assistant entry, if any.
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`

	// ToolResults are the results carried by a tool entry, one per answered
	// call.
	ToolResults []ToolResult `json:"toolResults,omitempty"`
}

// ToolDefinition is the provider-facing schema of one callable tool.
type ToolDefinition struct {
	// Name is the registry name the model uses to call the tool.
	Name string `json:"name"`

	// Description tells the model when the tool is appropriate.
	Description string `json:"description"`

	// Parameters is a JSON Schema object describing the tool's arguments.
	Parameters map[string]any `json:"parameters"`
}

// Request is the neutral request shape consumed by every provider adapter.
type Request struct {
	// SystemPrompt is the agent's high-priority instruction, injected before
	// the conversation history.
	SystemPrompt string

	// Messages is the ordered conversation history including the new user
	// turn. Must be non-empty.
	Messages []Message

	// Temperature controls output randomness in [0.0, 2.0].
	Temperature float64

	// MaxTokens caps the number of completion tokens.
	MaxTokens int

	// Tools is the catalog offered to the model, restricted to the agent's
	// enabled set. Nil when the agent enables no tools.
	Tools []ToolDefinition
}

// Response is the neutral response shape produced by every provider adapter.
type Response struct {
	// Content is the assistant's reply text. Empty when the model responds
	// exclusively with tool calls.
	Content string

	// TokensIn is the prompt token count reported by the vendor.
	TokensIn int

	// TokensOut is the completion token count reported by the vendor.
	TokensOut int

	// LatencyMs is the observed wall-clock latency of the vendor call.
	LatencyMs int64

	// ToolCalls lists tool invocations requested by the model. The caller is
	// responsible for executing them and driving the follow-up turn.
	ToolCalls []ToolCall
}
