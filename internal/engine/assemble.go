package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strings"

	"webweaver/engine/internal/errinfo"
	"webweaver/engine/internal/settings"
	"webweaver/engine/internal/vfs"
)

// assembleDiagnostic is one per-module problem found while building a
// preview. Syntax errors carry a position; unresolved imports do not.
type assembleDiagnostic struct {
	Path    string `json:"path"`
	Line    int    `json:"line,omitempty"`
	Col     int    `json:"col,omitempty"`
	Message string `json:"message"`
}

type assembleResult struct {
	Document    string
	Entry       string
	Diagnostics []assembleDiagnostic
	Unresolved  []string
	TreeHash    string
	Modules     int
}

// PreviewAssemble turns a tree snapshot into one self-contained HTML
// document. Broken modules become error stubs and unknown imports become
// placeholders, so assembly itself never fails on project content.
func (e *Engine) PreviewAssemble(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		Tree []vfs.Record `json:"tree"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseAssemble, "invalid params")
	}
	tree, err := vfs.Deserialize(req.Tree)
	if err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseAssemble, fmt.Sprintf("invalid tree: %s", err))
	}
	settingsData, err := e.settings.Load()
	if err != nil {
		return nil, errinfo.FileReadFailed(errinfo.PhaseSettings, err.Error())
	}

	result := assemblePreview(tree, *settingsData)
	e.logger.Debug("preview.assembled",
		"tree_hash", result.TreeHash,
		"entry", result.Entry,
		"modules", result.Modules,
		"document_bytes", len(result.Document),
		"diagnostics", len(result.Diagnostics),
		"unresolved", len(result.Unresolved))
	return map[string]any{
		"document":    result.Document,
		"entry":       result.Entry,
		"diagnostics": result.Diagnostics,
		"unresolved":  result.Unresolved,
		"tree_hash":   result.TreeHash,
	}, nil
}

// moduleKind classifies a path as a transformable module.
func moduleKind(path string) (string, bool) {
	switch {
	case strings.HasSuffix(path, ".tsx"), strings.HasSuffix(path, ".jsx"):
		return KindComponent, true
	case strings.HasSuffix(path, ".ts"), strings.HasSuffix(path, ".js"), strings.HasSuffix(path, ".mjs"):
		return KindScript, true
	}
	return "", false
}

// placeholderNeeds accumulates the named bindings importers expect from a
// missing specifier. The default export is always provided.
type placeholderNeeds struct {
	named map[string]bool
}

// assemblePreview runs transform and resolve over every module in the
// snapshot and renders the final document. It is deterministic: the same
// snapshot always yields a byte-identical document.
func assemblePreview(tree *vfs.Tree, st settings.Settings) assembleResult {
	result := assembleResult{
		TreeHash:    tree.Hash(),
		Diagnostics: []assembleDiagnostic{},
		Unresolved:  []string{},
	}
	res := newResolver(tree, st)

	type unit struct {
		path string
		out  TransformResult
		stub bool
	}
	var units []unit
	_ = tree.WalkFiles(func(p, content string) error {
		kind, ok := moduleKind(p)
		if !ok {
			return nil
		}
		transformed, synErr := Transform(content, kind)
		if synErr != nil {
			result.Diagnostics = append(result.Diagnostics, assembleDiagnostic{
				Path: p, Line: synErr.Line, Col: synErr.Col, Message: synErr.Message,
			})
			units = append(units, unit{path: p, stub: true, out: TransformResult{Code: errorStub(p, synErr)}})
			return nil
		}
		units = append(units, unit{path: p, out: transformed})
		return nil
	})
	result.Modules = len(units)

	importMap := map[string]string{}
	missing := map[string]*placeholderNeeds{}
	unresolvedSet := map[string]bool{}
	assets := map[string]string{}
	var styleBlocks []string
	styleSeen := map[string]bool{}

	for i := range units {
		u := &units[i]
		if u.stub {
			continue
		}
		var rewritten strings.Builder
		last := 0
		for _, imp := range u.out.Imports {
			resolved := res.resolve(u.path, imp.Specifier)
			rewritten.WriteString(u.out.Code[last:imp.SpecStart])
			rewritten.WriteString(resolved.Key)
			last = imp.SpecEnd
			switch resolved.Kind {
			case resolveRegistry:
				importMap[resolved.Key] = resolved.URL
			case resolveMissing:
				unresolvedSet[imp.Specifier] = true
				needs := missing[imp.Specifier]
				if needs == nil {
					needs = &placeholderNeeds{named: map[string]bool{}}
					missing[imp.Specifier] = needs
				}
				for _, name := range imp.Named {
					if name != "default" {
						needs.named[name] = true
					}
				}
			case resolveLocal:
				if _, isModule := moduleKind(resolved.Path); !isModule {
					if _, seen := assets[resolved.Path]; !seen {
						if content, err := tree.Get(resolved.Path); err == nil {
							assets[resolved.Path] = assetModule(resolved.Path, content)
						}
					}
				}
			}
		}
		rewritten.WriteString(u.out.Code[last:])
		u.out.Code = rewritten.String()

		for _, spec := range u.out.Styles {
			resolved := res.resolve(u.path, spec)
			switch resolved.Kind {
			case resolveLocal:
				if !styleSeen[resolved.Path] {
					styleSeen[resolved.Path] = true
					if css, err := tree.Get(resolved.Path); err == nil {
						styleBlocks = append(styleBlocks, fmt.Sprintf("/* %s */\n%s", resolved.Path, css))
					}
				}
			case resolveRegistry:
				if !styleSeen[resolved.URL] {
					styleSeen[resolved.URL] = true
					styleBlocks = append(styleBlocks, fmt.Sprintf("@import url(%q);", resolved.URL))
				}
			default:
				unresolvedSet[spec] = true
			}
		}
	}

	for i := range units {
		importMap["~"+units[i].path] = moduleDataURL(units[i].out.Code)
	}
	for path, code := range assets {
		importMap["~"+path] = moduleDataURL(code)
	}
	for spec, needs := range missing {
		importMap["~missing:"+spec] = moduleDataURL(placeholderModule(spec, needs))
	}

	for _, candidate := range st.EntryCandidates {
		if tree.IsFile(candidate) {
			result.Entry = candidate
			break
		}
	}
	if result.Entry != "" {
		// the mount path needs the runtime even when no module imports it
		for _, spec := range []string{"react", "react-dom/client"} {
			if _, present := importMap[spec]; !present {
				if resolved, ok := res.tryRegistry(spec); ok {
					importMap[resolved.Key] = resolved.URL
				}
			}
		}
	}

	for spec := range unresolvedSet {
		result.Unresolved = append(result.Unresolved, spec)
	}
	sort.Strings(result.Unresolved)

	result.Document = renderDocument(documentParts{
		hash:       result.TreeHash,
		styles:     styleBlocks,
		importMap:  importMap,
		entryPath:  result.Entry,
		candidates: st.EntryCandidates,
	})
	return result
}

func errorStub(path string, synErr *SyntaxError) string {
	msg := fmt.Sprintf("Syntax error in %s at %d:%d: %s", path, synErr.Line, synErr.Col, synErr.Message)
	return "throw new Error(" + jsString(msg) + ");\n"
}

// assetModule wraps a non-script file as an importable module. JSON keeps
// its structure; anything else is exported as text.
func assetModule(path, content string) string {
	if strings.HasSuffix(path, ".json") {
		return "export default " + content + ";\n"
	}
	return "export default " + jsString(content) + ";\n"
}

// placeholderModule satisfies a missing import at load time. Every binding
// resolves to a function that throws a labelled error when used, which the
// failure boundary renders instead of a blank page.
func placeholderModule(spec string, needs *placeholderNeeds) string {
	var b strings.Builder
	fmt.Fprintf(&b, "const fail = (use) => function () { throw new Error(%s + use); };\n",
		jsString(fmt.Sprintf("Unresolved import %q: ", spec)))
	b.WriteString("export default fail(\"default export used\");\n")
	names := make([]string, 0, len(needs.named))
	for name := range needs.named {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&b, "export const %s = fail(%s);\n", name, jsString(name+" used"))
	}
	return b.String()
}

func moduleDataURL(code string) string {
	return "data:text/javascript;base64," + base64.StdEncoding.EncodeToString([]byte(code))
}

type documentParts struct {
	hash       string
	styles     []string
	importMap  map[string]string
	entryPath  string
	candidates []string
}

const overlayStyleTemplate = `#ww-overlay-__ID__ { display: none; position: fixed; inset: 0; background: rgba(15, 17, 26, 0.94); color: #ffe2e2; font: 13px/1.5 ui-monospace, SFMono-Regular, Menlo, monospace; padding: 24px; overflow: auto; z-index: 2147483647; }
#ww-overlay-__ID__ [data-kind] { text-transform: uppercase; letter-spacing: 0.08em; font-size: 11px; color: #ff7b72; margin-bottom: 8px; }
#ww-overlay-__ID__ [data-message] { font-size: 15px; white-space: pre-wrap; margin-bottom: 12px; }
#ww-overlay-__ID__ [data-stack] { white-space: pre-wrap; color: #c9a0a0; margin: 0; }
.ww-empty-__ID__ { font: 14px/1.6 system-ui, sans-serif; color: #445; padding: 48px 32px; }
.ww-empty-__ID__ code { background: #eef0f4; border-radius: 4px; padding: 1px 5px; }`

const bootstrapTemplate = `const overlay = document.getElementById("ww-overlay-__ID__");
const showFailure = (kind, message, stack) => {
  overlay.querySelector("[data-kind]").textContent = kind;
  overlay.querySelector("[data-message]").textContent = message;
  overlay.querySelector("[data-stack]").textContent = stack || "";
  overlay.style.display = "block";
};
window.onerror = (message, source, line, col, err) => {
  showFailure("Uncaught error", String(message), err && err.stack ? err.stack : "");
};
window.addEventListener("unhandledrejection", (event) => {
  const reason = event.reason;
  showFailure("Unhandled rejection",
    reason && reason.message ? reason.message : String(reason),
    reason && reason.stack ? reason.stack : "");
});
try {
  const mod = await import(__ENTRY__);
  if (mod && typeof mod.default === "function") {
    const [reactModule, domModule] = await Promise.all([import("react"), import("react-dom/client")]);
    const React = reactModule.default || reactModule;
    const mount = domModule.createRoot(document.getElementById("ww-root-__ID__"));
    mount.render(React.createElement(mod.default));
  }
} catch (err) {
  showFailure("Load failed", err && err.message ? err.message : String(err), err && err.stack ? err.stack : "");
}`

func renderDocument(parts documentParts) string {
	id := parts.hash
	if len(id) > 8 {
		id = id[:8]
	}
	fill := strings.NewReplacer("__ID__", id)

	mapJSON, _ := json.MarshalIndent(map[string]any{"imports": parts.importMap}, "", "  ")

	var doc strings.Builder
	doc.WriteString("<!doctype html>\n<html>\n<head>\n")
	doc.WriteString("<meta charset=\"utf-8\">\n")
	doc.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	doc.WriteString("<title>Preview</title>\n")
	doc.WriteString("<style>\n")
	for _, block := range parts.styles {
		doc.WriteString(block)
		doc.WriteString("\n")
	}
	doc.WriteString(fill.Replace(overlayStyleTemplate))
	doc.WriteString("\n</style>\n")
	doc.WriteString("<script type=\"importmap\">\n")
	doc.Write(mapJSON)
	doc.WriteString("\n</script>\n")
	doc.WriteString("</head>\n<body>\n")

	if parts.entryPath == "" {
		doc.WriteString(fill.Replace("<div class=\"ww-empty-__ID__\">\n<p>No entry module in this project.</p>\n<p>Expected one of:"))
		for _, candidate := range parts.candidates {
			doc.WriteString(" <code>")
			doc.WriteString(html.EscapeString(candidate))
			doc.WriteString("</code>")
		}
		doc.WriteString("</p>\n</div>\n")
		doc.WriteString("</body>\n</html>\n")
		return doc.String()
	}

	doc.WriteString(fill.Replace("<div id=\"ww-root-__ID__\"></div>\n"))
	doc.WriteString(fill.Replace("<div id=\"ww-overlay-__ID__\"><div data-kind></div><div data-message></div><pre data-stack></pre></div>\n"))
	doc.WriteString("<script type=\"module\">\n")
	bootstrap := fill.Replace(bootstrapTemplate)
	bootstrap = strings.Replace(bootstrap, "__ENTRY__", jsString("~"+parts.entryPath), 1)
	doc.WriteString(bootstrap)
	doc.WriteString("\n</script>\n</body>\n</html>\n")
	return doc.String()
}
