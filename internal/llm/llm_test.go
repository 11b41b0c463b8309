package llm

import (
	"context"
	"testing"
)

func TestMessageConstructors(t *testing.T) {
	sys := SystemMessage("rules")
	if sys.Role != RoleSystem || sys.Content != "rules" {
		t.Fatalf("system: %+v", sys)
	}
	usr := UserMessage("build it")
	if usr.Role != RoleUser || usr.Content != "build it" {
		t.Fatalf("user: %+v", usr)
	}
	calls := []ToolCall{{ID: "c1", Type: "function", Function: ToolCallFunction{Name: "create_file"}}}
	asst := AssistantMessage("working on it", calls)
	if asst.Role != RoleAssistant || len(asst.ToolCalls) != 1 || asst.ToolCalls[0].ID != "c1" {
		t.Fatalf("assistant: %+v", asst)
	}
	res := ToolResultMessage("c1", "created /App.jsx")
	if res.Role != RoleTool || res.ToolCallID != "c1" || res.Content != "created /App.jsx" {
		t.Fatalf("tool result: %+v", res)
	}
}

func TestRequestProfileRoundTrip(t *testing.T) {
	ctx := WithRequestProfile(context.Background(), RequestProfile{ReasoningEffort: "high"})
	profile, ok := RequestProfileFromContext(ctx)
	if !ok {
		t.Fatal("expected profile in context")
	}
	if profile.ReasoningEffort != "high" {
		t.Fatalf("got %q", profile.ReasoningEffort)
	}
}

func TestRequestProfileAbsent(t *testing.T) {
	if profile, ok := RequestProfileFromContext(context.Background()); ok {
		t.Fatalf("expected no profile, got %+v", profile)
	}
	if profile, ok := RequestProfileFromContext(nil); ok {
		t.Fatalf("nil context: expected no profile, got %+v", profile)
	}
}

func TestWithRequestProfileNilContext(t *testing.T) {
	ctx := WithRequestProfile(nil, RequestProfile{ReasoningEffort: "low"})
	profile, ok := RequestProfileFromContext(ctx)
	if !ok || profile.ReasoningEffort != "low" {
		t.Fatalf("got ok=%v profile=%+v", ok, profile)
	}
}
