package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"webweaver/engine/internal/diff"
	"webweaver/engine/internal/errinfo"
	"webweaver/engine/internal/llm"
	"webweaver/engine/internal/vfs"
)

// EditingTools defines the tools available to the agent during a session.
var EditingTools = []llm.Tool{
	{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "view",
			Description: "View a file's content or list a directory. Use this to inspect the project before editing.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "Absolute path, e.g. /App.jsx or /components"}
				},
				"required": ["path"],
				"additionalProperties": false
			}`),
		},
	},
	{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "create",
			Description: "Create a new file or fully overwrite an existing one. Parent directories are created automatically.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "Absolute file path"},
					"content": {"type": "string", "description": "Complete file content"}
				},
				"required": ["path", "content"],
				"additionalProperties": false
			}`),
		},
	},
	{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "str_replace",
			Description: "Replace one occurrence of a text in a file. The search text must occur exactly once; include enough surrounding context to make it unique.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "Absolute file path"},
					"search": {"type": "string", "description": "Exact text to find (must occur exactly once)"},
					"replace": {"type": "string", "description": "Replacement text"}
				},
				"required": ["path", "search", "replace"],
				"additionalProperties": false
			}`),
		},
	},
	{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "insert",
			Description: "Insert content after a given line. Use after_line 0 to insert at the top of the file.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "Absolute file path"},
					"after_line": {"type": "integer", "description": "1-based line to insert after; 0 inserts before the first line"},
					"content": {"type": "string", "description": "Lines to insert"}
				},
				"required": ["path", "after_line", "content"],
				"additionalProperties": false
			}`),
		},
	},
	{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "rename_file",
			Description: "Move or rename a file or directory. Fails if the destination is already occupied by a conflicting node.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"old_path": {"type": "string", "description": "Current absolute path"},
					"new_path": {"type": "string", "description": "New absolute path"}
				},
				"required": ["old_path", "new_path"],
				"additionalProperties": false
			}`),
		},
	},
	{
		Type: "function",
		Function: llm.FunctionDef{
			Name:        "delete_file",
			Description: "Delete a file or an entire directory subtree.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"path": {"type": "string", "description": "Absolute path to delete"}
				},
				"required": ["path"],
				"additionalProperties": false
			}`),
		},
	},
}

// ToolHandler executes tool calls against a session's tree. All six tools
// are pure tree transformations; nothing here touches disk or network.
type ToolHandler struct {
	tree *vfs.Tree
}

func NewToolHandler(tree *vfs.Tree) *ToolHandler {
	return &ToolHandler{tree: tree}
}

// Execute runs a tool call and returns the result as a string.
func (h *ToolHandler) Execute(call llm.ToolCall) (string, error) {
	switch call.Function.Name {
	case "view":
		return h.view(call.Function.Arguments)
	case "create":
		return h.create(call.Function.Arguments)
	case "str_replace":
		return h.strReplace(call.Function.Arguments)
	case "insert":
		return h.insert(call.Function.Arguments)
	case "rename_file":
		return h.renameFile(call.Function.Arguments)
	case "delete_file":
		return h.deleteFile(call.Function.Arguments)
	default:
		return "", fmt.Errorf("unknown tool: %s", call.Function.Name)
	}
}

type editReceipt struct {
	Path         string `json:"path"`
	Action       string `json:"action"`
	To           string `json:"to,omitempty"`
	LinesAdded   int    `json:"lines_added"`
	LinesRemoved int    `json:"lines_removed"`
}

func (r editReceipt) String() string {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"path":%q,"action":%q}`, r.Path, r.Action)
	}
	return string(b)
}

func (h *ToolHandler) view(argsJSON string) (string, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", toolValidationError("invalid arguments")
	}
	if strings.TrimSpace(args.Path) == "" {
		return "", toolValidationError("path is required")
	}

	if h.tree.IsDir(args.Path) {
		entries, err := h.tree.List(args.Path)
		if err != nil {
			return "", mapTreeError(args.Path, err)
		}
		type dirEntry struct {
			Name string `json:"name"`
			Type string `json:"type"`
		}
		listing := make([]dirEntry, 0, len(entries))
		for _, entry := range entries {
			listing = append(listing, dirEntry{Name: entry.Name, Type: entry.Type})
		}
		b, err := json.Marshal(listing)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}

	content, err := h.tree.Get(args.Path)
	if err != nil {
		return "", mapTreeError(args.Path, err)
	}
	return content, nil
}

func (h *ToolHandler) create(argsJSON string) (string, error) {
	var args struct {
		Path    string  `json:"path"`
		Content *string `json:"content"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", toolValidationError("invalid arguments")
	}
	if strings.TrimSpace(args.Path) == "" {
		return "", toolValidationError("path is required")
	}
	if args.Content == nil {
		return "", toolValidationError("content is required")
	}

	action := "created"
	before := ""
	if h.tree.IsFile(args.Path) {
		action = "overwritten"
		before, _ = h.tree.Get(args.Path)
	}
	if err := h.tree.Set(args.Path, *args.Content); err != nil {
		return "", mapTreeError(args.Path, err)
	}
	added, removed := diff.Stats(before, *args.Content)
	return editReceipt{Path: args.Path, Action: action, LinesAdded: added, LinesRemoved: removed}.String(), nil
}

func (h *ToolHandler) strReplace(argsJSON string) (string, error) {
	var args struct {
		Path    string  `json:"path"`
		Search  string  `json:"search"`
		Replace *string `json:"replace"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", toolValidationError("invalid arguments")
	}
	if strings.TrimSpace(args.Path) == "" {
		return "", toolValidationError("path is required")
	}
	if args.Search == "" {
		return "", toolValidationError("search is required")
	}
	if args.Replace == nil {
		return "", toolValidationError("replace is required")
	}

	content, err := h.tree.Get(args.Path)
	if err != nil {
		return "", mapTreeError(args.Path, err)
	}
	switch count := strings.Count(content, args.Search); {
	case count == 0:
		return "", fmt.Errorf("%s: search text not found in %s", errinfo.CodeFileNotFound, args.Path)
	case count > 1:
		return "", fmt.Errorf("%s: search text occurs %d times in %s; include more context to make it unique", errinfo.CodeAmbiguousMatch, count, args.Path)
	}

	updated := strings.Replace(content, args.Search, *args.Replace, 1)
	if err := h.tree.Set(args.Path, updated); err != nil {
		return "", mapTreeError(args.Path, err)
	}
	added, removed := diff.Stats(content, updated)
	return editReceipt{Path: args.Path, Action: "edited", LinesAdded: added, LinesRemoved: removed}.String(), nil
}

func (h *ToolHandler) insert(argsJSON string) (string, error) {
	var args struct {
		Path      string  `json:"path"`
		AfterLine *int    `json:"after_line"`
		Content   *string `json:"content"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", toolValidationError("invalid arguments")
	}
	if strings.TrimSpace(args.Path) == "" {
		return "", toolValidationError("path is required")
	}
	if args.AfterLine == nil {
		return "", toolValidationError("after_line is required")
	}
	if args.Content == nil {
		return "", toolValidationError("content is required")
	}

	content, err := h.tree.Get(args.Path)
	if err != nil {
		return "", mapTreeError(args.Path, err)
	}
	lines := splitLines(content)
	afterLine := *args.AfterLine
	if afterLine < 0 || afterLine > len(lines) {
		return "", fmt.Errorf("%s: after_line %d out of range for %s (%d lines)", errinfo.CodeRangeOutOfBounds, afterLine, args.Path, len(lines))
	}

	inserted := strings.Split(*args.Content, "\n")
	updated := make([]string, 0, len(lines)+len(inserted))
	updated = append(updated, lines[:afterLine]...)
	updated = append(updated, inserted...)
	updated = append(updated, lines[afterLine:]...)
	joined := strings.Join(updated, "\n")
	if err := h.tree.Set(args.Path, joined); err != nil {
		return "", mapTreeError(args.Path, err)
	}
	added, removed := diff.Stats(content, joined)
	return editReceipt{Path: args.Path, Action: "edited", LinesAdded: added, LinesRemoved: removed}.String(), nil
}

func (h *ToolHandler) renameFile(argsJSON string) (string, error) {
	var args struct {
		OldPath string `json:"old_path"`
		NewPath string `json:"new_path"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", toolValidationError("invalid arguments")
	}
	if strings.TrimSpace(args.OldPath) == "" {
		return "", toolValidationError("old_path is required")
	}
	if strings.TrimSpace(args.NewPath) == "" {
		return "", toolValidationError("new_path is required")
	}

	if err := h.tree.Rename(args.OldPath, args.NewPath); err != nil {
		return "", mapTreeError(args.OldPath, err)
	}
	return editReceipt{Path: args.OldPath, Action: "renamed", To: args.NewPath}.String(), nil
}

func (h *ToolHandler) deleteFile(argsJSON string) (string, error) {
	var args struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", toolValidationError("invalid arguments")
	}
	if strings.TrimSpace(args.Path) == "" {
		return "", toolValidationError("path is required")
	}

	if err := h.tree.Remove(args.Path); err != nil {
		return "", mapTreeError(args.Path, err)
	}
	return editReceipt{Path: args.Path, Action: "deleted"}.String(), nil
}

// splitLines returns the logical lines of a file, with an empty file
// counting as zero lines so only after_line 0 is valid for it.
func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}

func toolValidationError(detail string) error {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		detail = "invalid arguments"
	}
	return fmt.Errorf("%s: %s", errinfo.CodeValidationFailed, detail)
}

func mapTreeError(path string, err error) error {
	switch {
	case errors.Is(err, vfs.ErrNotFound):
		return fmt.Errorf("%s: %s", errinfo.CodeFileNotFound, path)
	case errors.Is(err, vfs.ErrTypeConflict):
		return fmt.Errorf("%s: %s: %s", errinfo.CodeTypeConflict, path, err.Error())
	case errors.Is(err, vfs.ErrInvalidPath):
		return fmt.Errorf("%s: %s: %s", errinfo.CodeValidationFailed, path, err.Error())
	default:
		return err
	}
}
