package engine

import (
	"encoding/json"
	"strings"
	"testing"

	"webweaver/engine/internal/vfs"
)

func mustToolCallOn(t *testing.T, tree *vfs.Tree, name string, args map[string]any) string {
	t.Helper()
	result, err := NewToolHandler(tree).Execute(buildToolCall("call-1", name, args))
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return result
}

func failToolCallOn(t *testing.T, tree *vfs.Tree, name string, args map[string]any) error {
	t.Helper()
	_, err := NewToolHandler(tree).Execute(buildToolCall("call-1", name, args))
	if err == nil {
		t.Fatalf("%s: expected error", name)
	}
	return err
}

func parseReceipt(t *testing.T, result string) map[string]any {
	t.Helper()
	receipt := map[string]any{}
	if err := json.Unmarshal([]byte(result), &receipt); err != nil {
		t.Fatalf("parse receipt %q: %v", result, err)
	}
	return receipt
}

func TestToolCreateNewFile(t *testing.T) {
	tree := vfs.New()
	result := mustToolCallOn(t, tree, "create", map[string]any{"path": "/App.txt", "content": "hello"})

	receipt := parseReceipt(t, result)
	if receipt["action"] != "created" {
		t.Fatalf("expected created action, got %v", receipt["action"])
	}
	if receipt["lines_added"] != float64(1) {
		t.Fatalf("expected 1 line added, got %v", receipt["lines_added"])
	}
	content, err := tree.Get("/App.txt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if content != "hello" {
		t.Fatalf("expected hello, got %q", content)
	}
}

func TestToolCreateOverwriteAndAncestors(t *testing.T) {
	tree := vfs.New()
	mustToolCallOn(t, tree, "create", map[string]any{"path": "/components/Button.jsx", "content": "old"})
	result := mustToolCallOn(t, tree, "create", map[string]any{"path": "/components/Button.jsx", "content": "new"})

	receipt := parseReceipt(t, result)
	if receipt["action"] != "overwritten" {
		t.Fatalf("expected overwritten action, got %v", receipt["action"])
	}
	if !tree.IsDir("/components") {
		t.Fatalf("expected /components directory")
	}
}

func TestToolViewFile(t *testing.T) {
	tree := vfs.New()
	if err := tree.Set("/notes.md", "line one\nline two"); err != nil {
		t.Fatalf("set: %v", err)
	}
	result := mustToolCallOn(t, tree, "view", map[string]any{"path": "/notes.md"})
	if result != "line one\nline two" {
		t.Fatalf("unexpected view result: %q", result)
	}
}

func TestToolViewDirectory(t *testing.T) {
	tree := vfs.New()
	if err := tree.Set("/src/App.jsx", "x"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := tree.Set("/src/lib/util.js", "y"); err != nil {
		t.Fatalf("set: %v", err)
	}
	result := mustToolCallOn(t, tree, "view", map[string]any{"path": "/src"})

	var entries []map[string]any
	if err := json.Unmarshal([]byte(result), &entries); err != nil {
		t.Fatalf("parse listing: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0]["name"] != "App.jsx" || entries[0]["type"] != "file" {
		t.Fatalf("unexpected first entry: %v", entries[0])
	}
	if entries[1]["name"] != "lib" || entries[1]["type"] != "directory" {
		t.Fatalf("unexpected second entry: %v", entries[1])
	}
}

func TestToolViewMissing(t *testing.T) {
	err := failToolCallOn(t, vfs.New(), "view", map[string]any{"path": "/nope.txt"})
	if !strings.Contains(err.Error(), "FILE_NOT_FOUND") {
		t.Fatalf("expected FILE_NOT_FOUND, got %v", err)
	}
}

func TestToolStrReplace(t *testing.T) {
	tree := vfs.New()
	if err := tree.Set("/App.jsx", "const title = \"draft\";\n"); err != nil {
		t.Fatalf("set: %v", err)
	}
	result := mustToolCallOn(t, tree, "str_replace", map[string]any{
		"path": "/App.jsx", "search": "\"draft\"", "replace": "\"final\"",
	})

	receipt := parseReceipt(t, result)
	if receipt["action"] != "edited" {
		t.Fatalf("expected edited action, got %v", receipt["action"])
	}
	content, _ := tree.Get("/App.jsx")
	if content != "const title = \"final\";\n" {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestToolStrReplaceAmbiguousLeavesTreeUntouched(t *testing.T) {
	tree := vfs.New()
	if err := tree.Set("/a.txt", "foo foo"); err != nil {
		t.Fatalf("set: %v", err)
	}
	err := failToolCallOn(t, tree, "str_replace", map[string]any{
		"path": "/a.txt", "search": "foo", "replace": "bar",
	})
	if !strings.Contains(err.Error(), "AMBIGUOUS_MATCH") {
		t.Fatalf("expected AMBIGUOUS_MATCH, got %v", err)
	}
	if !strings.Contains(err.Error(), "2 times") {
		t.Fatalf("expected occurrence count in error, got %v", err)
	}
	content, _ := tree.Get("/a.txt")
	if content != "foo foo" {
		t.Fatalf("tree mutated on failed replace: %q", content)
	}
}

func TestToolStrReplaceNotFound(t *testing.T) {
	tree := vfs.New()
	if err := tree.Set("/a.txt", "alpha"); err != nil {
		t.Fatalf("set: %v", err)
	}
	err := failToolCallOn(t, tree, "str_replace", map[string]any{
		"path": "/a.txt", "search": "omega", "replace": "beta",
	})
	if !strings.Contains(err.Error(), "FILE_NOT_FOUND") {
		t.Fatalf("expected FILE_NOT_FOUND, got %v", err)
	}
}

func TestToolInsertPrepend(t *testing.T) {
	tree := vfs.New()
	if err := tree.Set("/list.txt", "b\nc"); err != nil {
		t.Fatalf("set: %v", err)
	}
	mustToolCallOn(t, tree, "insert", map[string]any{"path": "/list.txt", "after_line": 0, "content": "a"})
	content, _ := tree.Get("/list.txt")
	if content != "a\nb\nc" {
		t.Fatalf("unexpected content after prepend: %q", content)
	}
}

func TestToolInsertMiddleAndAppend(t *testing.T) {
	tree := vfs.New()
	if err := tree.Set("/list.txt", "a\nc"); err != nil {
		t.Fatalf("set: %v", err)
	}
	mustToolCallOn(t, tree, "insert", map[string]any{"path": "/list.txt", "after_line": 1, "content": "b"})
	mustToolCallOn(t, tree, "insert", map[string]any{"path": "/list.txt", "after_line": 3, "content": "d"})
	content, _ := tree.Get("/list.txt")
	if content != "a\nb\nc\nd" {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestToolInsertOutOfRange(t *testing.T) {
	tree := vfs.New()
	if err := tree.Set("/list.txt", "a\nb"); err != nil {
		t.Fatalf("set: %v", err)
	}
	err := failToolCallOn(t, tree, "insert", map[string]any{"path": "/list.txt", "after_line": 5, "content": "x"})
	if !strings.Contains(err.Error(), "RANGE_OUT_OF_BOUNDS") {
		t.Fatalf("expected RANGE_OUT_OF_BOUNDS, got %v", err)
	}
	if !strings.Contains(err.Error(), "(2 lines)") {
		t.Fatalf("expected line count in error, got %v", err)
	}
	content, _ := tree.Get("/list.txt")
	if content != "a\nb" {
		t.Fatalf("tree mutated on failed insert: %q", content)
	}
}

func TestToolInsertEmptyFile(t *testing.T) {
	tree := vfs.New()
	if err := tree.Set("/empty.txt", ""); err != nil {
		t.Fatalf("set: %v", err)
	}
	mustToolCallOn(t, tree, "insert", map[string]any{"path": "/empty.txt", "after_line": 0, "content": "first"})
	content, _ := tree.Get("/empty.txt")
	if content != "first" {
		t.Fatalf("unexpected content: %q", content)
	}

	if err := tree.Set("/empty2.txt", ""); err != nil {
		t.Fatalf("set: %v", err)
	}
	err := failToolCallOn(t, tree, "insert", map[string]any{"path": "/empty2.txt", "after_line": 1, "content": "x"})
	if !strings.Contains(err.Error(), "RANGE_OUT_OF_BOUNDS") {
		t.Fatalf("expected RANGE_OUT_OF_BOUNDS for empty file, got %v", err)
	}
}

func TestToolRenameFile(t *testing.T) {
	tree := vfs.New()
	if err := tree.Set("/old/name.txt", "data"); err != nil {
		t.Fatalf("set: %v", err)
	}
	result := mustToolCallOn(t, tree, "rename_file", map[string]any{"old_path": "/old/name.txt", "new_path": "/new/name.txt"})

	receipt := parseReceipt(t, result)
	if receipt["action"] != "renamed" || receipt["to"] != "/new/name.txt" {
		t.Fatalf("unexpected receipt: %v", receipt)
	}
	if tree.IsFile("/old/name.txt") {
		t.Fatalf("source still present after rename")
	}
	content, _ := tree.Get("/new/name.txt")
	if content != "data" {
		t.Fatalf("unexpected content at destination: %q", content)
	}
}

func TestToolRenameMissing(t *testing.T) {
	err := failToolCallOn(t, vfs.New(), "rename_file", map[string]any{"old_path": "/a.txt", "new_path": "/b.txt"})
	if !strings.Contains(err.Error(), "FILE_NOT_FOUND") {
		t.Fatalf("expected FILE_NOT_FOUND, got %v", err)
	}
}

func TestToolDeleteSubtree(t *testing.T) {
	tree := vfs.New()
	if err := tree.Set("/src/a.js", "a"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := tree.Set("/src/nested/b.js", "b"); err != nil {
		t.Fatalf("set: %v", err)
	}
	mustToolCallOn(t, tree, "delete_file", map[string]any{"path": "/src"})
	if tree.IsDir("/src") || tree.IsFile("/src/a.js") {
		t.Fatalf("subtree survived delete")
	}
}

func TestToolDeleteRootRejected(t *testing.T) {
	err := failToolCallOn(t, vfs.New(), "delete_file", map[string]any{"path": "/"})
	if !strings.Contains(err.Error(), "VALIDATION_FAILED") {
		t.Fatalf("expected VALIDATION_FAILED, got %v", err)
	}
}

func TestToolUnknownName(t *testing.T) {
	_, err := NewToolHandler(vfs.New()).Execute(buildToolCall("call-1", "format_disk", map[string]any{}))
	if err == nil || !strings.Contains(err.Error(), "unknown tool") {
		t.Fatalf("expected unknown tool error, got %v", err)
	}
}

func TestToolMalformedArguments(t *testing.T) {
	tree := vfs.New()
	if err := tree.Set("/keep.txt", "safe"); err != nil {
		t.Fatalf("set: %v", err)
	}
	call := buildToolCall("call-1", "create", nil)
	call.Function.Arguments = `{"path": /oops}`
	_, err := NewToolHandler(tree).Execute(call)
	if err == nil || !strings.Contains(err.Error(), "VALIDATION_FAILED") {
		t.Fatalf("expected VALIDATION_FAILED, got %v", err)
	}
	content, _ := tree.Get("/keep.txt")
	if content != "safe" {
		t.Fatalf("tree mutated on malformed call")
	}
}
