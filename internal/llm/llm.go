// Package llm defines the provider-neutral conversation model the session
// loop runs on. A transcript is a flat []ChatMessage: the system prompt
// first, then the user request, then alternating assistant turns and tool
// results. Provider clients translate this shape to their own wire format.
package llm

// Transcript roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatMessage is one transcript entry. Assistant entries may carry tool
// calls; tool entries answer exactly one call, named by ToolCallID.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ChatResponse is one model turn. FinishReason is "tool_calls" when the
// model wants tools run, "stop" when it answered in prose.
type ChatResponse struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason"`
}

func SystemMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleSystem, Content: content}
}

func UserMessage(content string) ChatMessage {
	return ChatMessage{Role: RoleUser, Content: content}
}

// AssistantMessage records a model turn, tool calls included, back into the
// transcript.
func AssistantMessage(content string, calls []ToolCall) ChatMessage {
	return ChatMessage{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// ToolResultMessage wraps one tool outcome for the transcript.
func ToolResultMessage(callID, content string) ChatMessage {
	return ChatMessage{Role: RoleTool, ToolCallID: callID, Content: content}
}
