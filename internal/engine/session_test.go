package engine

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"webweaver/engine/internal/store"
	"webweaver/engine/internal/vfs"
)

func newConfiguredEngine(t *testing.T, agent AgentClient) *Engine {
	t.Helper()
	eng := newTestEngine(t, WithAgentClient(AgentOpenAI, agent))
	if _, errInfo := eng.AgentSetApiKey(context.Background(), mustJSON(t, map[string]any{"api_key": "sk-session-test"})); errInfo != nil {
		t.Fatalf("set key: %v", errInfo)
	}
	return eng
}

func runSession(t *testing.T, eng *Engine, params map[string]any) map[string]any {
	t.Helper()
	resp, errInfo := eng.SessionRun(context.Background(), mustJSON(t, params))
	if errInfo != nil {
		t.Fatalf("session run: %v", errInfo)
	}
	return resp.(map[string]any)
}

func TestSessionRunCreatesFileOnEmptyTree(t *testing.T) {
	agent := &scriptedAgent{steps: []scriptedStep{
		{resp: toolsResponse("creating",
			buildToolCall("c1", "create", map[string]any{"path": "/App.txt", "content": "hello"}))},
		{resp: answerResponse("done")},
	}}
	eng := newConfiguredEngine(t, agent)

	resp := runSession(t, eng, map[string]any{
		"tree":   []vfs.Record{},
		"prompt": "Create App.txt containing hello.",
	})

	if !strings.HasPrefix(resp["session_id"].(string), "s-") {
		t.Fatalf("unexpected session id %v", resp["session_id"])
	}
	if resp["termination"] != terminationCompleted {
		t.Fatalf("expected completed, got %v", resp["termination"])
	}
	if resp["rounds"] != 2 {
		t.Fatalf("expected 2 rounds, got %v", resp["rounds"])
	}
	if resp["answer"] != "done" {
		t.Fatalf("expected final answer, got %v", resp["answer"])
	}
	records := resp["tree"].([]vfs.Record)
	if len(records) != 1 {
		t.Fatalf("expected one record, got %+v", records)
	}
	if records[0].Path != "/App.txt" || records[0].Type != vfs.TypeFile || records[0].Content != "hello" {
		t.Fatalf("unexpected record %+v", records[0])
	}
	changes := resp["changes"].([]sessionChange)
	if len(changes) != 1 || changes[0].Path != "/App.txt" || changes[0].ChangeType != "added" || changes[0].LinesAdded != 1 {
		t.Fatalf("unexpected changes %+v", changes)
	}
	if resp["tool_calls"] != 1 || resp["tool_errors"] != 0 {
		t.Fatalf("unexpected call counts: %v calls, %v errors", resp["tool_calls"], resp["tool_errors"])
	}
	detail := resp["rounds_detail"].([]roundCheckpoint)
	if len(detail) != 2 || detail[0].ToolCalls != 1 || detail[1].Round != 2 {
		t.Fatalf("unexpected rounds detail %+v", detail)
	}
	if _, ok := resp["error"]; ok {
		t.Fatalf("completed session must not carry an error")
	}
}

func TestSessionRunKeepsMutationsOnRoundLimit(t *testing.T) {
	agent := &scriptedAgent{
		steps: []scriptedStep{{resp: toolsResponse("still going",
			buildToolCall("c1", "create", map[string]any{"path": "/notes.txt", "content": "draft"}))}},
		repeatLast: true,
	}
	eng := newConfiguredEngine(t, agent)

	resp := runSession(t, eng, map[string]any{
		"tree":       []vfs.Record{},
		"prompt":     "Keep editing forever.",
		"max_rounds": 2,
	})

	if resp["termination"] != terminationRoundLimit {
		t.Fatalf("expected round_limit, got %v", resp["termination"])
	}
	if resp["rounds"] != 2 {
		t.Fatalf("request max_rounds must override settings, got %v rounds", resp["rounds"])
	}
	if _, ok := resp["error"]; ok {
		t.Fatalf("round limit is a normal outcome, got error %v", resp["error"])
	}
	records := resp["tree"].([]vfs.Record)
	if len(records) != 1 || records[0].Path != "/notes.txt" {
		t.Fatalf("mutations must survive the round limit, got %+v", records)
	}
}

func TestSessionRunValidation(t *testing.T) {
	eng := newConfiguredEngine(t, &scriptedAgent{})

	_, errInfo := eng.SessionRun(context.Background(), mustJSON(t, map[string]any{
		"tree":   []vfs.Record{},
		"prompt": "   ",
	}))
	if errInfo == nil || errInfo.ErrorCode != "VALIDATION_FAILED" {
		t.Fatalf("expected VALIDATION_FAILED for blank prompt, got %v", errInfo)
	}

	_, errInfo = eng.SessionRun(context.Background(), mustJSON(t, map[string]any{
		"tree":   []map[string]any{{"path": "/x", "type": "symlink"}},
		"prompt": "do it",
	}))
	if errInfo == nil || errInfo.ErrorCode != "VALIDATION_FAILED" {
		t.Fatalf("expected VALIDATION_FAILED for bad record type, got %v", errInfo)
	}
}

func TestSessionRunRequiresConfiguredAgent(t *testing.T) {
	eng := newTestEngine(t, WithAgentClient(AgentOpenAI, &scriptedAgent{}))

	_, errInfo := eng.SessionRun(context.Background(), mustJSON(t, map[string]any{
		"tree":   []vfs.Record{},
		"prompt": "do it",
	}))
	if errInfo == nil || errInfo.ErrorCode != "AGENT_NOT_CONFIGURED" {
		t.Fatalf("expected AGENT_NOT_CONFIGURED, got %v", errInfo)
	}
}

func TestSessionRunRecordsHistory(t *testing.T) {
	agent := &scriptedAgent{steps: []scriptedStep{{resp: answerResponse("nothing to do")}}}
	eng := newConfiguredEngine(t, agent)

	resp := runSession(t, eng, map[string]any{
		"tree":   []vfs.Record{},
		"prompt": "Inspect the project.",
	})
	sessionID := resp["session_id"].(string)

	listResp, errInfo := eng.SessionHistoryList(context.Background(), nil)
	if errInfo != nil {
		t.Fatalf("history list: %v", errInfo)
	}
	sessions := listResp.(map[string]any)["sessions"].([]store.SessionRecord)
	if len(sessions) != 1 || sessions[0].SessionID != sessionID {
		t.Fatalf("expected the finished session in history, got %+v", sessions)
	}

	getResp, errInfo := eng.SessionHistoryGet(context.Background(), mustJSON(t, map[string]any{"session_id": sessionID}))
	if errInfo != nil {
		t.Fatalf("history get: %v", errInfo)
	}
	rec := getResp.(store.SessionRecord)
	if rec.Termination != terminationCompleted || rec.Prompt != "Inspect the project." {
		t.Fatalf("unexpected record %+v", rec)
	}
	if rec.Answer != "nothing to do" {
		t.Fatalf("expected answer persisted, got %q", rec.Answer)
	}

	_, errInfo = eng.SessionHistoryGet(context.Background(), mustJSON(t, map[string]any{"session_id": "s-missing"}))
	if errInfo == nil || errInfo.ErrorCode != "SESSION_NOT_FOUND" {
		t.Fatalf("expected SESSION_NOT_FOUND, got %v", errInfo)
	}
}

func TestSessionCancelUnknownSession(t *testing.T) {
	eng := newTestEngine(t)
	resp, errInfo := eng.SessionCancel(context.Background(), mustJSON(t, map[string]any{"session_id": "s-unknown"}))
	if errInfo != nil {
		t.Fatalf("cancel: %v", errInfo)
	}
	if resp.(map[string]any)["canceled"] != false {
		t.Fatalf("unknown session must report canceled=false")
	}
}

func TestSessionCancelStopsRunningSession(t *testing.T) {
	eng := newConfiguredEngine(t, stallingAgent{})
	params := mustJSON(t, map[string]any{
		"tree":   []vfs.Record{},
		"prompt": "spin until canceled",
	})

	done := make(chan map[string]any, 1)
	go func() {
		resp, errInfo := eng.SessionRun(context.Background(), params)
		if errInfo != nil {
			done <- map[string]any{"rpc_error": errInfo}
			return
		}
		done <- resp.(map[string]any)
	}()

	sessionID := waitForActiveSession(t, eng)
	cancelResp, errInfo := eng.SessionCancel(context.Background(), mustJSON(t, map[string]any{"session_id": sessionID}))
	if errInfo != nil {
		t.Fatalf("cancel: %v", errInfo)
	}
	if cancelResp.(map[string]any)["canceled"] != true {
		t.Fatalf("expected cancel to hit the running session")
	}

	select {
	case resp := <-done:
		if rpcErr, ok := resp["rpc_error"]; ok {
			t.Fatalf("canceled session must still return a result, got %v", rpcErr)
		}
		if resp["termination"] != terminationCanceled {
			t.Fatalf("expected canceled termination, got %v", resp["termination"])
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not stop after cancel")
	}
}

func waitForActiveSession(t *testing.T, eng *Engine) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		eng.runMu.Lock()
		for id := range eng.sessionRuns {
			eng.runMu.Unlock()
			return id
		}
		eng.runMu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no session registered within deadline")
	return ""
}

func TestSessionRunWithFakeAgentEnv(t *testing.T) {
	os.Setenv("WEBWEAVER_FAKE_AGENT", "1")
	t.Cleanup(func() { os.Unsetenv("WEBWEAVER_FAKE_AGENT") })
	eng := newTestEngine(t)

	resp := runSession(t, eng, map[string]any{
		"tree":   []vfs.Record{},
		"prompt": "Build a landing page.",
	})

	if resp["termination"] != terminationCompleted {
		t.Fatalf("expected completed, got %v", resp["termination"])
	}
	if resp["rounds"] != 2 {
		t.Fatalf("expected scaffold then answer, got %v rounds", resp["rounds"])
	}
	records := resp["tree"].([]vfs.Record)
	if len(records) != 2 || records[0].Path != "/App.jsx" || records[1].Path != "/styles.css" {
		t.Fatalf("expected starter tree, got %+v", records)
	}
	changes := resp["changes"].([]sessionChange)
	if len(changes) != 2 {
		t.Fatalf("expected two added files, got %+v", changes)
	}
	if answer := resp["answer"].(string); !strings.Contains(answer, "starter component") {
		t.Fatalf("unexpected answer %q", answer)
	}
}

func TestTreeValidateCanonicalOrder(t *testing.T) {
	eng := newTestEngine(t)
	resp, errInfo := eng.TreeValidate(context.Background(), mustJSON(t, map[string]any{
		"tree": []vfs.Record{
			{Path: "/src/app.js", Type: vfs.TypeFile, Content: "x"},
			{Path: "/README.md", Type: vfs.TypeFile, Content: "r"},
		},
	}))
	if errInfo != nil {
		t.Fatalf("validate: %v", errInfo)
	}
	result := resp.(map[string]any)
	records := result["tree"].([]vfs.Record)
	wantPaths := []string{"/README.md", "/src", "/src/app.js"}
	if len(records) != len(wantPaths) {
		t.Fatalf("expected %d records, got %+v", len(wantPaths), records)
	}
	for i, want := range wantPaths {
		if records[i].Path != want {
			t.Fatalf("expected %s at %d, got %s", want, i, records[i].Path)
		}
	}
	if records[1].Type != vfs.TypeDirectory {
		t.Fatalf("expected implied directory record, got %+v", records[1])
	}
	if result["files"] != 2 || result["directories"] != 1 {
		t.Fatalf("unexpected counts %v files, %v dirs", result["files"], result["directories"])
	}
	if result["tree_hash"] == "" {
		t.Fatalf("expected tree hash")
	}

	_, errInfo = eng.TreeValidate(context.Background(), mustJSON(t, map[string]any{
		"tree": []map[string]any{{"path": "/x", "type": "link"}},
	}))
	if errInfo == nil || errInfo.ErrorCode != "VALIDATION_FAILED" {
		t.Fatalf("expected VALIDATION_FAILED, got %v", errInfo)
	}
}

func TestBuildSessionUserMessage(t *testing.T) {
	tree := vfs.New()
	msg := buildSessionUserMessage(tree, "Add a header.")
	if !strings.HasPrefix(msg, "The project is empty.") {
		t.Fatalf("expected empty-project preamble, got %q", msg)
	}
	if !strings.HasSuffix(msg, "Add a header.") {
		t.Fatalf("expected prompt at the end, got %q", msg)
	}

	if err := tree.Set("/App.jsx", "a\nb\nc"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	msg = buildSessionUserMessage(tree, "Add a header.")
	if !strings.Contains(msg, "/App.jsx (3 lines)") {
		t.Fatalf("expected manifest entry, got %q", msg)
	}
}

func TestComputeTreeChanges(t *testing.T) {
	before := vfs.New()
	if err := before.Set("/a.txt", "one\ntwo\n"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := before.Set("/b.txt", "gone"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	after := before.Clone()
	if err := after.Set("/a.txt", "one\nthree\n"); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if err := after.Remove("/b.txt"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := after.Set("/c.txt", "new\n"); err != nil {
		t.Fatalf("add: %v", err)
	}

	changes := computeTreeChanges(before, after)
	if len(changes) != 3 {
		t.Fatalf("expected 3 changes, got %+v", changes)
	}
	if changes[0].Path != "/a.txt" || changes[0].ChangeType != "modified" || changes[0].LinesAdded != 1 || changes[0].LinesRemoved != 1 {
		t.Fatalf("unexpected modified change %+v", changes[0])
	}
	if changes[1].Path != "/b.txt" || changes[1].ChangeType != "removed" || changes[1].LinesRemoved != 1 {
		t.Fatalf("unexpected removed change %+v", changes[1])
	}
	if changes[2].Path != "/c.txt" || changes[2].ChangeType != "added" || changes[2].LinesAdded != 1 {
		t.Fatalf("unexpected added change %+v", changes[2])
	}
}
