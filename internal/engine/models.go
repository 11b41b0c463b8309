package engine

import (
	"context"
	"encoding/json"
	"strings"

	"webweaver/engine/internal/errinfo"
)

const (
	ModelDefaultID = "gpt-5.2"
	ModelMiniID    = "gpt-5.2-mini"
	ModelCodexID   = "gpt-5.3-codex"
)

// fallbackContextTokens is assumed for models the catalog does not know,
// e.g. a model name passed straight through SessionRun.
const fallbackContextTokens = 32000

type ModelInfo struct {
	ModelID       string `json:"model_id"`
	DisplayName   string `json:"display_name"`
	ContextTokens int    `json:"context_tokens_estimate"`
	SupportsTools bool   `json:"supports_tools"`
}

var modelRegistry = map[string]ModelInfo{
	ModelDefaultID: {
		ModelID:       ModelDefaultID,
		DisplayName:   "GPT-5.2",
		ContextTokens: 200000,
		SupportsTools: true,
	},
	ModelMiniID: {
		ModelID:       ModelMiniID,
		DisplayName:   "GPT-5.2 Mini",
		ContextTokens: 200000,
		SupportsTools: true,
	},
	ModelCodexID: {
		ModelID:       ModelCodexID,
		DisplayName:   "GPT-5.3 Codex",
		ContextTokens: 200000,
		SupportsTools: true,
	},
}

func listSupportedModels() []ModelInfo {
	return []ModelInfo{
		modelRegistry[ModelDefaultID],
		modelRegistry[ModelMiniID],
		modelRegistry[ModelCodexID],
	}
}

func getModel(modelID string) (ModelInfo, bool) {
	model, ok := modelRegistry[strings.TrimSpace(modelID)]
	return model, ok
}

// modelContextTokens returns the context window estimate used for
// transcript pressure, tolerating unknown model names.
func modelContextTokens(modelID string) int {
	if model, ok := getModel(modelID); ok && model.ContextTokens > 0 {
		return model.ContextTokens
	}
	return fallbackContextTokens
}

// AgentListModels reports the models usable as the decision agent plus the
// configured default.
func (e *Engine) AgentListModels(ctx context.Context, _ json.RawMessage) (any, *errinfo.ErrorInfo) {
	settingsData, err := e.settings.Load()
	if err != nil {
		return nil, errinfo.FileReadFailed(errinfo.PhaseSettings, err.Error())
	}
	return map[string]any{
		"models":        listSupportedModels(),
		"default_model": settingsData.AgentModel,
	}, nil
}
