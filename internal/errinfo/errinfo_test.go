package errinfo

import "testing"

func TestAgentNotConfigured(t *testing.T) {
	err := AgentNotConfigured(PhaseSettings)
	if err.ErrorCode != CodeAgentNotConfigured {
		t.Fatalf("expected agent not configured")
	}
	if len(err.Actions) == 0 || err.Actions[0] != ActionOpenSettings {
		t.Fatalf("expected open_settings action")
	}
}

func TestSyntaxErrorCarriesPosition(t *testing.T) {
	err := SyntaxError(PhaseTransform, "/App.jsx", 3, 14, "unterminated string")
	if err.ErrorCode != CodeSyntaxError {
		t.Fatalf("expected syntax error")
	}
	if err.Path != "/App.jsx" || err.Line != 3 || err.Col != 14 {
		t.Fatalf("expected path and position to be set, got %+v", err)
	}
}

func TestToolHelpers(t *testing.T) {
	nf := FileNotFound(PhaseTools, "/missing.txt")
	if nf.ErrorCode != CodeFileNotFound || nf.Path != "/missing.txt" {
		t.Fatalf("expected file not found with path")
	}
	am := AmbiguousMatch(PhaseTools, "/a.txt", "2 occurrences")
	if am.ErrorCode != CodeAmbiguousMatch {
		t.Fatalf("expected ambiguous match")
	}
	timeout := AgentTimeout(PhaseAgent, "decision deadline exceeded")
	if !timeout.Retryable {
		t.Fatalf("expected agent timeout to be retryable")
	}
}
