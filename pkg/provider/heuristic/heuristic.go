// Package heuristic implements the deterministic reply logic shared by the
// mock vendor personalities.
//
// Both vendors answer with the same conversational rules — only their wire
// encodings differ:
//
//   - A user message containing a numeric order id yields a tool call on
//     InvoiceLookup, provided the request offers that tool.
//   - A follow-up turn (empty final user message after tool results) yields a
//     natural-language answer summarising the tool results.
//   - Anything else yields a plain acknowledgement.
package heuristic

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/voxbridge/voxbridge/pkg/types"
)

// InvoiceLookupTool is the tool name the heuristic emits calls for.
const InvoiceLookupTool = "InvoiceLookup"

// orderIDPattern matches an order id of at least four digits, optionally
// prefixed by '#'.
var orderIDPattern = regexp.MustCompile(`#?(\d{4,})`)

// Turn is the model's decision for one request: either a textual answer, or
// one or more tool calls (with possibly empty content).
type Turn struct {
	Content   string
	ToolCalls []types.ToolCall
}

// Reply computes the deterministic model turn for req.
func Reply(req types.Request) Turn {
	last, ok := lastUserMessage(req.Messages)
	if !ok {
		return Turn{Content: "Hello! How can I help you today?"}
	}

	// An empty final user turn marks a tool-result round: answer from the
	// accumulated results instead of calling tools again.
	if strings.TrimSpace(last.Content) == "" {
		return Turn{Content: answerFromResults(req.Messages)}
	}

	if offersTool(req.Tools, InvoiceLookupTool) {
		if m := orderIDPattern.FindStringSubmatch(last.Content); m != nil {
			orderID := m[1]
			return Turn{
				Content: "",
				ToolCalls: []types.ToolCall{{
					ID:   "call_" + orderID,
					Name: InvoiceLookupTool,
					Args: map[string]any{"orderId": orderID},
				}},
			}
		}
	}

	return Turn{Content: acknowledge(last.Content)}
}

// CountTokens estimates the prompt token count for req. The estimate is
// deterministic and proportional to the textual volume of the request, which
// is all the billing and budget paths need from a mock.
func CountTokens(req types.Request) int {
	n := len(req.SystemPrompt)
	for _, m := range req.Messages {
		n += len(m.Content) + 8
		for _, tc := range m.ToolCalls {
			n += len(tc.Name) + 16
		}
		for _, tr := range m.ToolResults {
			if raw, err := json.Marshal(tr.Result); err == nil {
				n += len(raw)
			}
		}
	}
	return n / 4
}

// lastUserMessage returns the final user-role entry of msgs.
func lastUserMessage(msgs []types.Message) (types.Message, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == types.RoleUser {
			return msgs[i], true
		}
	}
	return types.Message{}, false
}

// offersTool reports whether the request's tool catalog contains name.
func offersTool(tools []types.ToolDefinition, name string) bool {
	for _, t := range tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

// answerFromResults renders a natural-language answer from the most recent
// tool results in the conversation.
func answerFromResults(msgs []types.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != types.RoleTool {
			continue
		}
		var parts []string
		for _, tr := range msgs[i].ToolResults {
			if tr.Error != "" {
				parts = append(parts, fmt.Sprintf("I couldn't complete the lookup: %s.", tr.Error))
				continue
			}
			raw, err := json.Marshal(tr.Result)
			if err != nil {
				continue
			}
			parts = append(parts, "Here is what I found: "+string(raw))
		}
		if len(parts) > 0 {
			return strings.Join(parts, " ")
		}
	}
	return "I looked into it but found no further details."
}

// acknowledge is the fallback textual reply for an ordinary user turn.
func acknowledge(content string) string {
	content = strings.TrimSpace(content)
	if len(content) > 80 {
		content = content[:80] + "…"
	}
	return fmt.Sprintf("You said: %q. I'm a demo assistant — ask me about an order number to see a tool call.", content)
}
