package llm

import "encoding/json"

// Tool advertises one callable function to the model. Parameters is the
// JSON Schema for its arguments, kept as raw JSON so the tool set controls
// the exact wording the model sees.
type Tool struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall is one invocation the model asked for. ID ties the eventual
// result back to this call.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction names the function and carries its arguments as the raw
// JSON string the model produced.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}
