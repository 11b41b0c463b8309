package engine

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"webweaver/engine/internal/settings"
)

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return data
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	dataDir := t.TempDir()
	os.Setenv("WEBWEAVER_DATA_DIR", dataDir)
	t.Cleanup(func() { os.Unsetenv("WEBWEAVER_DATA_DIR") })

	eng, err := New(opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func TestEngineGetInfo(t *testing.T) {
	eng := newTestEngine(t)
	resp, errInfo := eng.EngineGetInfo(context.Background(), nil)
	if errInfo != nil {
		t.Fatalf("get info: %v", errInfo)
	}
	info := resp.(map[string]any)
	if info["engine_version"] != EngineVersion {
		t.Fatalf("expected engine version %s, got %v", EngineVersion, info["engine_version"])
	}
	if info["api_version"] != APIVersion {
		t.Fatalf("expected api version %s, got %v", APIVersion, info["api_version"])
	}
}

func TestAgentKeyLifecycle(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	resp, errInfo := eng.AgentGetStatus(ctx, nil)
	if errInfo != nil {
		t.Fatalf("status: %v", errInfo)
	}
	if resp.(map[string]any)["configured"] != false {
		t.Fatalf("expected unconfigured agent")
	}

	if _, errInfo := eng.AgentSetApiKey(ctx, mustJSON(t, map[string]any{"api_key": "  "})); errInfo == nil {
		t.Fatalf("expected validation error for blank key")
	} else if errInfo.ErrorCode != "VALIDATION_FAILED" {
		t.Fatalf("expected VALIDATION_FAILED, got %s", errInfo.ErrorCode)
	}

	if _, errInfo := eng.AgentSetApiKey(ctx, mustJSON(t, map[string]any{"api_key": "sk-test-123"})); errInfo != nil {
		t.Fatalf("set key: %v", errInfo)
	}
	resp, errInfo = eng.AgentGetStatus(ctx, nil)
	if errInfo != nil {
		t.Fatalf("status: %v", errInfo)
	}
	if resp.(map[string]any)["configured"] != true {
		t.Fatalf("expected configured agent after set")
	}

	if _, errInfo := eng.AgentClearApiKey(ctx, nil); errInfo != nil {
		t.Fatalf("clear key: %v", errInfo)
	}
	resp, errInfo = eng.AgentGetStatus(ctx, nil)
	if errInfo != nil {
		t.Fatalf("status: %v", errInfo)
	}
	if resp.(map[string]any)["configured"] != false {
		t.Fatalf("expected unconfigured agent after clear")
	}
}

func TestAgentValidate(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, WithAgentClient(AgentOpenAI, newFakeAgent()))

	if _, errInfo := eng.AgentValidate(ctx, nil); errInfo == nil {
		t.Fatalf("expected error without key")
	} else if errInfo.ErrorCode != "AGENT_NOT_CONFIGURED" {
		t.Fatalf("expected AGENT_NOT_CONFIGURED, got %s", errInfo.ErrorCode)
	}

	if _, errInfo := eng.AgentSetApiKey(ctx, mustJSON(t, map[string]any{"api_key": "invalid-key"})); errInfo != nil {
		t.Fatalf("set key: %v", errInfo)
	}
	if _, errInfo := eng.AgentValidate(ctx, nil); errInfo == nil {
		t.Fatalf("expected auth failure for invalid key")
	} else if errInfo.ErrorCode != "AGENT_AUTH_FAILED" {
		t.Fatalf("expected AGENT_AUTH_FAILED, got %s", errInfo.ErrorCode)
	}

	if _, errInfo := eng.AgentSetApiKey(ctx, mustJSON(t, map[string]any{"api_key": "sk-good"})); errInfo != nil {
		t.Fatalf("set key: %v", errInfo)
	}
	resp, errInfo := eng.AgentValidate(ctx, nil)
	if errInfo != nil {
		t.Fatalf("validate: %v", errInfo)
	}
	if resp.(map[string]any)["ok"] != true {
		t.Fatalf("expected ok validation")
	}
}

func TestSettingsDefaultsAndPartialUpdate(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t)

	resp, errInfo := eng.SettingsGet(ctx, nil)
	if errInfo != nil {
		t.Fatalf("get: %v", errInfo)
	}
	initial := resp.(*settings.Settings)
	if initial.MaxRounds != 8 {
		t.Fatalf("expected default max_rounds 8, got %d", initial.MaxRounds)
	}
	if initial.AgentProvider != AgentOpenAI {
		t.Fatalf("expected openai provider, got %s", initial.AgentProvider)
	}
	if initial.AliasPrefix != "@/" || initial.AliasTarget != "/" {
		t.Fatalf("unexpected alias defaults: %s -> %s", initial.AliasPrefix, initial.AliasTarget)
	}

	resp, errInfo = eng.SettingsUpdate(ctx, mustJSON(t, map[string]any{"max_rounds": 3}))
	if errInfo != nil {
		t.Fatalf("update: %v", errInfo)
	}
	updated := resp.(*settings.Settings)
	if updated.MaxRounds != 3 {
		t.Fatalf("expected max_rounds 3, got %d", updated.MaxRounds)
	}
	if updated.AgentModel != initial.AgentModel {
		t.Fatalf("partial update changed model: %s -> %s", initial.AgentModel, updated.AgentModel)
	}

	resp, errInfo = eng.SettingsGet(ctx, nil)
	if errInfo != nil {
		t.Fatalf("get after update: %v", errInfo)
	}
	if resp.(*settings.Settings).MaxRounds != 3 {
		t.Fatalf("update did not persist")
	}
}

func TestSettingsUpdateUnknownProvider(t *testing.T) {
	eng := newTestEngine(t)
	_, errInfo := eng.SettingsUpdate(context.Background(), mustJSON(t, map[string]any{"agent_provider": "martian"}))
	if errInfo == nil {
		t.Fatalf("expected error for unknown provider")
	}
	if errInfo.ErrorCode != "VALIDATION_FAILED" {
		t.Fatalf("expected VALIDATION_FAILED, got %s", errInfo.ErrorCode)
	}
}
