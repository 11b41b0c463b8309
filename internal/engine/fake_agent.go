package engine

import (
	"context"
	"encoding/json"
	"net"
	"strings"

	"webweaver/engine/internal/llm"
)

// Prompt markers the deterministic fake reacts to. They make session flows
// reproducible without a remote agent when WEBWEAVER_FAKE_AGENT is set.
const fakeNetworkMarker = "[network-error]"
const fakeRateLimitMarker = "[rate-limit]"
const fakeAnswerOnlyMarker = "[answer-only]"
const fakeBrokenMarker = "[broken]"
const fakeKeepEditingMarker = "[keep-editing]"

func newFakeAgent() AgentClient {
	return &fakeAgent{}
}

type fakeAgent struct{}

type fakeNetErr struct{}

func (fakeNetErr) Error() string   { return "network unavailable" }
func (fakeNetErr) Timeout() bool   { return true }
func (fakeNetErr) Temporary() bool { return true }

func (f *fakeAgent) ValidateKey(_ context.Context, apiKey string) error {
	if isInvalidKey(apiKey) {
		return llm.ErrUnauthorized
	}
	return nil
}

func (f *fakeAgent) Decide(_ context.Context, apiKey, _ string, messages []llm.ChatMessage, _ []llm.Tool) (llm.ChatResponse, error) {
	if isInvalidKey(apiKey) {
		return llm.ChatResponse{}, llm.ErrUnauthorized
	}
	lastUser := lastUserMessage(messages)
	if strings.Contains(lastUser, fakeNetworkMarker) {
		return llm.ChatResponse{}, fakeNetErr{}
	}
	if strings.Contains(lastUser, fakeRateLimitMarker) {
		return llm.ChatResponse{}, llm.ErrRateLimited
	}
	if strings.Contains(lastUser, fakeKeepEditingMarker) {
		return llm.ChatResponse{
			ToolCalls:    []llm.ToolCall{buildToolCall("call-view", "view", map[string]any{"path": "/App.jsx"})},
			FinishReason: "tool_calls",
		}, nil
	}
	if hasToolResultAfterLastUser(messages) || strings.Contains(lastUser, fakeAnswerOnlyMarker) {
		return llm.ChatResponse{
			Content:      buildFinalAnswer(lastUser),
			FinishReason: "stop",
		}, nil
	}
	return llm.ChatResponse{
		ToolCalls:    fakeEditCalls(lastUser),
		FinishReason: "tool_calls",
	}, nil
}

// fakeEditCalls scaffolds a starter project in one round so a fake session
// ends with a previewable tree.
func fakeEditCalls(lastUser string) []llm.ToolCall {
	app := `import "./styles.css";

export default function App() {
  return (
    <main className="app">
      <h1>Hello from the preview</h1>
    </main>
  );
}
`
	if strings.Contains(lastUser, fakeBrokenMarker) {
		app = "export default function App() {\n  return (\n}\n"
	}
	styles := `.app { font-family: system-ui, sans-serif; padding: 2rem; }
`
	return []llm.ToolCall{
		buildToolCall("call-app", "create", map[string]any{"path": "/App.jsx", "content": app}),
		buildToolCall("call-styles", "create", map[string]any{"path": "/styles.css", "content": styles}),
	}
}

func buildToolCall(id, name string, args map[string]any) llm.ToolCall {
	encoded, err := json.Marshal(args)
	if err != nil {
		encoded = []byte("{}")
	}
	return llm.ToolCall{
		ID:   id,
		Type: "function",
		Function: llm.ToolCallFunction{
			Name:      name,
			Arguments: string(encoded),
		},
	}
}

func buildFinalAnswer(lastUser string) string {
	if strings.TrimSpace(lastUser) == "" {
		return "The project is ready."
	}
	return "Created /App.jsx and /styles.css with a starter component."
}

func lastUserMessage(messages []llm.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func hasToolResultAfterLastUser(messages []llm.ChatMessage) bool {
	lastUserIdx := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			lastUserIdx = i
			break
		}
	}
	if lastUserIdx < 0 {
		return false
	}
	for i := lastUserIdx + 1; i < len(messages); i++ {
		if messages[i].Role == llm.RoleTool {
			return true
		}
	}
	return false
}

func isInvalidKey(key string) bool {
	trimmed := strings.TrimSpace(key)
	if trimmed == "" {
		return true
	}
	lower := strings.ToLower(trimmed)
	return strings.Contains(lower, "invalid") || strings.Contains(lower, "bad")
}

var _ net.Error = fakeNetErr{}
