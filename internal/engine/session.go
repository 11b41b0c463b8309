package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"webweaver/engine/internal/diff"
	"webweaver/engine/internal/errinfo"
	"webweaver/engine/internal/llm"
	"webweaver/engine/internal/store"
	"webweaver/engine/internal/vfs"
)

const sessionSystemPrompt = `You are the editing agent for a browser-based web project workspace. The project is a virtual file tree of JavaScript/JSX modules and stylesheets; the entry component usually lives at /App.jsx or /App.tsx.

Work by calling tools:
- view a file or directory before changing it
- create writes a whole file; str_replace and insert make targeted edits
- rename_file and delete_file restructure the tree

Paths are absolute and /-delimited. Make the smallest change that satisfies the request. When the work is done, reply WITHOUT tool calls and briefly describe what you changed.`

type sessionChange struct {
	Path         string `json:"path"`
	ChangeType   string `json:"change_type"`
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
}

// SessionRun executes one bounded editing session against the supplied
// tree and returns the mutated tree with the agent's answer. Mutations
// applied before a timeout or failure are kept and returned.
func (e *Engine) SessionRun(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		Tree      []vfs.Record      `json:"tree"`
		Prompt    string            `json:"prompt"`
		Context   []llm.ChatMessage `json:"context"`
		MaxRounds int               `json:"max_rounds"`
		Model     string            `json:"model"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSession, "invalid params")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSession, "prompt is required")
	}

	tree, err := vfs.Deserialize(req.Tree)
	if err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSession, fmt.Sprintf("invalid tree: %s", err.Error()))
	}
	original := tree.Clone()

	settingsData, err := e.settings.Load()
	if err != nil {
		return nil, errinfo.FileReadFailed(errinfo.PhaseSettings, err.Error())
	}
	client, errInfo := e.clientForAgent(settingsData.AgentProvider)
	if errInfo != nil {
		return nil, errInfo
	}
	apiKey, errInfo := e.agentKey()
	if errInfo != nil {
		return nil, errInfo
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = settingsData.AgentModel
	}
	maxRounds := settingsData.MaxRounds
	if req.MaxRounds > 0 {
		maxRounds = req.MaxRounds
	}

	runCtx, sessionID, errInfo := e.beginSessionRun(ctx)
	if errInfo != nil {
		return nil, errInfo
	}
	defer e.endSessionRun(sessionID)

	if effort := strings.TrimSpace(settingsData.AgentReasoningEffort); effort != "" {
		runCtx = llm.WithRequestProfile(runCtx, llm.RequestProfile{ReasoningEffort: effort})
	}

	messages := make([]llm.ChatMessage, 0, len(req.Context)+2)
	messages = append(messages, llm.SystemMessage(sessionSystemPrompt))
	messages = append(messages, req.Context...)
	messages = append(messages, llm.UserMessage(buildSessionUserMessage(tree, req.Prompt)))

	e.logger.Info("session.start", "session_id", sessionID, "model", model,
		"max_rounds", maxRounds, "tree_files", len(req.Tree), "context_messages", len(req.Context))
	startedAt := e.now()

	result := e.runSessionLoop(runCtx, sessionLoopConfig{
		sessionID:              sessionID,
		client:                 client,
		apiKey:                 apiKey,
		model:                  model,
		messages:               messages,
		tools:                  EditingTools,
		maxRounds:              maxRounds,
		maxToolCallsPerRound:   settingsData.MaxToolCallsPerRound,
		maxConsecutiveFailures: settingsData.MaxConsecutiveFailures,
		agentTimeout:           time.Duration(settingsData.AgentTimeoutSeconds) * time.Second,
		tree:                   tree,
	})

	durationMS := e.now().Sub(startedAt).Milliseconds()
	if durationMS < 0 {
		durationMS = 0
	}
	changes := computeTreeChanges(original, tree)
	e.notifySessionFinished(sessionID, result.termination)

	if e.history != nil && settingsData.HistoryEnabled {
		rec := store.SessionRecord{
			SessionID:   sessionID,
			CreatedAt:   startedAt,
			Prompt:      req.Prompt,
			Model:       model,
			Rounds:      result.rounds,
			Termination: result.termination,
			Answer:      result.finalText,
			ToolCalls:   result.toolCalls,
			Failures:    result.toolErrors,
			TreeHash:    tree.Hash(),
			DurationMS:  durationMS,
		}
		if err := e.history.Insert(context.Background(), rec); err != nil {
			e.logger.Warn("history.insert_failed", "session_id", sessionID, "error", err.Error())
		}
	}

	resp := map[string]any{
		"session_id":    sessionID,
		"tree":          tree.Serialize(),
		"answer":        result.finalText,
		"rounds":        result.rounds,
		"termination":   result.termination,
		"rounds_detail": result.checkpoints,
		"tool_calls":    result.toolCalls,
		"tool_errors":   result.toolErrors,
		"changes":       changes,
		"duration_ms":   durationMS,
	}
	if result.err != nil {
		result.err.SessionID = sessionID
		resp["error"] = result.err
	}
	return resp, nil
}

func (e *Engine) SessionCancel(_ context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSession, "invalid params")
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSession, "session_id is required")
	}
	canceled := e.cancelSessionRun(req.SessionID)
	e.logger.Info("session.cancel_requested", "session_id", req.SessionID, "canceled", canceled)
	return map[string]any{"canceled": canceled}, nil
}

// TreeValidate round-trips a record list through the tree and returns the
// canonical serialization, for callers that persist trees externally.
func (e *Engine) TreeValidate(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		Tree []vfs.Record `json:"tree"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSession, "invalid params")
	}
	tree, err := vfs.Deserialize(req.Tree)
	if err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseSession, fmt.Sprintf("invalid tree: %s", err.Error()))
	}
	files, dirs := tree.Counts()
	return map[string]any{
		"tree":        tree.Serialize(),
		"files":       files,
		"directories": dirs,
		"tree_hash":   tree.Hash(),
	}, nil
}

func (e *Engine) SessionHistoryList(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	if e.history == nil {
		return nil, errinfo.HistoryUnavailable(errinfo.PhaseHistory, "session history is disabled")
	}
	var req struct {
		Limit int `json:"limit"`
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, errinfo.ValidationFailed(errinfo.PhaseHistory, "invalid params")
		}
	}
	records, err := e.history.List(ctx, req.Limit)
	if err != nil {
		return nil, errinfo.HistoryUnavailable(errinfo.PhaseHistory, err.Error())
	}
	return map[string]any{"sessions": records}, nil
}

func (e *Engine) SessionHistoryGet(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	if e.history == nil {
		return nil, errinfo.HistoryUnavailable(errinfo.PhaseHistory, "session history is disabled")
	}
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseHistory, "invalid params")
	}
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, errinfo.ValidationFailed(errinfo.PhaseHistory, "session_id is required")
	}
	rec, err := e.history.Get(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errinfo.SessionNotFound(errinfo.PhaseHistory, req.SessionID)
		}
		return nil, errinfo.HistoryUnavailable(errinfo.PhaseHistory, err.Error())
	}
	return rec, nil
}

// buildSessionUserMessage prefixes the prompt with a compact manifest so
// the agent knows the tree's shape before its first view call.
func buildSessionUserMessage(tree *vfs.Tree, prompt string) string {
	var b strings.Builder
	files, _ := tree.Counts()
	if files == 0 {
		b.WriteString("The project is empty.\n\n")
	} else {
		b.WriteString("Project files:\n")
		_ = tree.WalkFiles(func(p, content string) error {
			fmt.Fprintf(&b, "  %s (%d lines)\n", p, len(splitLines(content)))
			return nil
		})
		b.WriteString("\n")
	}
	b.WriteString(prompt)
	return b.String()
}

func computeTreeChanges(before, after *vfs.Tree) []sessionChange {
	beforeFiles := map[string]string{}
	_ = before.WalkFiles(func(p, content string) error {
		beforeFiles[p] = content
		return nil
	})
	afterFiles := map[string]string{}
	_ = after.WalkFiles(func(p, content string) error {
		afterFiles[p] = content
		return nil
	})

	paths := make([]string, 0, len(beforeFiles)+len(afterFiles))
	seen := map[string]struct{}{}
	for p := range beforeFiles {
		paths = append(paths, p)
		seen[p] = struct{}{}
	}
	for p := range afterFiles {
		if _, ok := seen[p]; !ok {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	changes := []sessionChange{}
	for _, p := range paths {
		oldContent, hadOld := beforeFiles[p]
		newContent, hasNew := afterFiles[p]
		switch {
		case !hadOld && hasNew:
			added, removed := diff.Stats("", newContent)
			changes = append(changes, sessionChange{Path: p, ChangeType: "added", LinesAdded: added, LinesRemoved: removed})
		case hadOld && !hasNew:
			added, removed := diff.Stats(oldContent, "")
			changes = append(changes, sessionChange{Path: p, ChangeType: "removed", LinesAdded: added, LinesRemoved: removed})
		case oldContent != newContent:
			added, removed := diff.Stats(oldContent, newContent)
			changes = append(changes, sessionChange{Path: p, ChangeType: "modified", LinesAdded: added, LinesRemoved: removed})
		}
	}
	return changes
}
