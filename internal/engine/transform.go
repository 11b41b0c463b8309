package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"webweaver/engine/internal/errinfo"
)

const (
	KindScript    = "script"
	KindComponent = "component"
)

// SyntaxError reports a transform failure with a 1-based source position.
type SyntaxError struct {
	Message string `json:"message"`
	Line    int    `json:"line"`
	Col     int    `json:"col"`
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s at %d:%d", e.Message, e.Line, e.Col)
}

// ImportRecord is one import discovered during transformation. Named holds
// the names as exported by the imported module (the left side of any "as"
// alias), which is what a placeholder module has to provide. SpecStart and
// SpecEnd delimit the specifier text inside its quotes so the resolver can
// rewrite it in place.
type ImportRecord struct {
	Specifier string   `json:"specifier"`
	Default   string   `json:"default,omitempty"`
	Namespace string   `json:"namespace,omitempty"`
	Named     []string `json:"named,omitempty"`
	SpecStart int      `json:"-"`
	SpecEnd   int      `json:"-"`
}

// TransformResult is the executable output of one module.
type TransformResult struct {
	Code    string
	Imports []ImportRecord
	Styles  []string
}

// Transform turns one module's source into executable form. It is a pure
// function: no state survives between calls. Component sources have their
// element markup rewritten to runtime calls first; style-sheet imports are
// collected and blanked from the executable output with line positions
// preserved.
func Transform(source, kind string) (TransformResult, *SyntaxError) {
	code := source
	usedMarkup := false
	if kind == KindComponent {
		rewritten, used, err := rewriteMarkup(source)
		if err != nil {
			return TransformResult{}, err
		}
		code = rewritten
		usedMarkup = used
	}

	mask, err := maskSource(code)
	if err != nil {
		return TransformResult{}, err
	}
	if err := checkBrackets(code, mask); err != nil {
		return TransformResult{}, err
	}

	imports, styles, blanked := extractImports(code, mask)
	if usedMarkup && !bindsReact(imports) {
		blanked, imports = injectReactImport(blanked, imports)
	}
	return TransformResult{Code: blanked, Imports: imports, Styles: styles}, nil
}

func bindsReact(imports []ImportRecord) bool {
	for _, imp := range imports {
		if imp.Default == "React" || imp.Namespace == "React" {
			return true
		}
	}
	return false
}

// injectReactImport prepends the runtime import components need and shifts
// the existing specifier spans past the new header.
func injectReactImport(code string, imports []ImportRecord) (string, []ImportRecord) {
	const header = "import React from \"react\";\n"
	start := strings.Index(header, "react")
	for i := range imports {
		imports[i].SpecStart += len(header)
		imports[i].SpecEnd += len(header)
	}
	rec := ImportRecord{
		Specifier: "react",
		Default:   "React",
		SpecStart: start,
		SpecEnd:   start + len("react"),
	}
	return header + code, append([]ImportRecord{rec}, imports...)
}

// ModuleTransform exposes the transformer over RPC for editor tooling.
func (e *Engine) ModuleTransform(ctx context.Context, params json.RawMessage) (any, *errinfo.ErrorInfo) {
	var req struct {
		Source string `json:"source"`
		Kind   string `json:"kind"`
		Path   string `json:"path"`
	}
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, errinfo.ValidationFailed(errinfo.PhaseTransform, "invalid params")
	}
	kind := req.Kind
	if kind == "" {
		kind = KindScript
	}
	if kind != KindScript && kind != KindComponent {
		return nil, errinfo.ValidationFailed(errinfo.PhaseTransform, fmt.Sprintf("unknown kind: %s", kind))
	}
	result, synErr := Transform(req.Source, kind)
	if synErr != nil {
		return nil, errinfo.SyntaxError(errinfo.PhaseTransform, req.Path, synErr.Line, synErr.Col, synErr.Message)
	}
	specifiers := make([]string, 0, len(result.Imports))
	for _, imp := range result.Imports {
		specifiers = append(specifiers, imp.Specifier)
	}
	return map[string]any{
		"code":    result.Code,
		"imports": specifiers,
		"styles":  result.Styles,
	}, nil
}

// masker marks the bytes of a source that are not executable code:
// comments, string and template literals, and regex literals. Template
// substitution interiors stay unmasked since they are code.
type masker struct {
	src      string
	mask     []bool
	prevSig  byte
	prevWord string
}

func maskSource(src string) ([]bool, *SyntaxError) {
	m := &masker{src: src, mask: make([]bool, len(src))}
	if _, err := m.scanCode(0, false); err != nil {
		return nil, err
	}
	return m.mask, nil
}

func (m *masker) scanCode(i int, inTemplateExpr bool) (int, *SyntaxError) {
	depth := 0
	for i < len(m.src) {
		c := m.src[i]
		switch {
		case c == '/' && i+1 < len(m.src) && m.src[i+1] == '/':
			for i < len(m.src) && m.src[i] != '\n' {
				m.mask[i] = true
				i++
			}
		case c == '/' && i+1 < len(m.src) && m.src[i+1] == '*':
			start := i
			closed := false
			m.mask[i], m.mask[i+1] = true, true
			i += 2
			for i < len(m.src) {
				m.mask[i] = true
				if m.src[i] == '*' && i+1 < len(m.src) && m.src[i+1] == '/' {
					m.mask[i+1] = true
					i += 2
					closed = true
					break
				}
				i++
			}
			if !closed {
				line, col := lineColAt(m.src, start)
				return 0, &SyntaxError{Message: "unterminated block comment", Line: line, Col: col}
			}
			m.prevSig, m.prevWord = 0, ""
		case c == '"' || c == '\'':
			next, err := m.scanString(i)
			if err != nil {
				return 0, err
			}
			i = next
			m.prevSig, m.prevWord = c, ""
		case c == '`':
			next, err := m.scanTemplate(i)
			if err != nil {
				return 0, err
			}
			i = next
			m.prevSig, m.prevWord = '`', ""
		case c == '/' && regexPosition(m.prevSig, m.prevWord):
			next, ok := m.scanRegex(i)
			if ok {
				i = next
				m.prevSig, m.prevWord = '/', ""
			} else {
				m.prevSig, m.prevWord = '/', ""
				i++
			}
		case inTemplateExpr && c == '{':
			depth++
			m.prevSig, m.prevWord = c, ""
			i++
		case inTemplateExpr && c == '}':
			if depth == 0 {
				return i, nil
			}
			depth--
			m.prevSig, m.prevWord = c, ""
			i++
		default:
			if !isSpaceByte(c) {
				if isWordByte(c) {
					start := i
					for i < len(m.src) && isWordByte(m.src[i]) {
						i++
					}
					m.prevWord = m.src[start:i]
					m.prevSig = m.src[i-1]
					continue
				}
				m.prevSig, m.prevWord = c, ""
			}
			i++
		}
	}
	return i, nil
}

func (m *masker) scanString(i int) (int, *SyntaxError) {
	quote := m.src[i]
	start := i
	m.mask[i] = true
	i++
	for i < len(m.src) {
		c := m.src[i]
		if c == '\\' && i+1 < len(m.src) {
			m.mask[i], m.mask[i+1] = true, true
			i += 2
			continue
		}
		if c == '\n' {
			break
		}
		m.mask[i] = true
		if c == quote {
			return i + 1, nil
		}
		i++
	}
	line, col := lineColAt(m.src, start)
	return 0, &SyntaxError{Message: "unterminated string literal", Line: line, Col: col}
}

func (m *masker) scanTemplate(i int) (int, *SyntaxError) {
	start := i
	m.mask[i] = true
	i++
	for i < len(m.src) {
		c := m.src[i]
		if c == '\\' && i+1 < len(m.src) {
			m.mask[i], m.mask[i+1] = true, true
			i += 2
			continue
		}
		if c == '`' {
			m.mask[i] = true
			return i + 1, nil
		}
		if c == '$' && i+1 < len(m.src) && m.src[i+1] == '{' {
			m.mask[i], m.mask[i+1] = true, true
			end, err := m.scanCode(i+2, true)
			if err != nil {
				return 0, err
			}
			if end >= len(m.src) {
				break
			}
			m.mask[end] = true
			i = end + 1
			continue
		}
		m.mask[i] = true
		i++
	}
	line, col := lineColAt(m.src, start)
	return 0, &SyntaxError{Message: "unterminated template literal", Line: line, Col: col}
}

// scanRegex consumes a regex literal. If a newline or EOF arrives before
// the closing slash the slash was division after all; report not-a-regex
// instead of failing.
func (m *masker) scanRegex(i int) (int, bool) {
	start := i
	j := i + 1
	inClass := false
	for j < len(m.src) {
		c := m.src[j]
		if c == '\\' && j+1 < len(m.src) {
			j += 2
			continue
		}
		if c == '\n' {
			return 0, false
		}
		if inClass {
			if c == ']' {
				inClass = false
			}
			j++
			continue
		}
		if c == '[' {
			inClass = true
			j++
			continue
		}
		if c == '/' {
			for k := start; k <= j; k++ {
				m.mask[k] = true
			}
			j++
			// flags
			for j < len(m.src) && isWordByte(m.src[j]) {
				m.mask[j] = true
				j++
			}
			return j, true
		}
		j++
	}
	return 0, false
}

func regexPosition(prev byte, prevWord string) bool {
	if prev == 0 {
		return true
	}
	if strings.IndexByte("=([{,;:!&|?+-*%<>~^", prev) >= 0 {
		return true
	}
	switch prevWord {
	case "return", "typeof", "case", "in", "of", "new", "delete", "void", "do", "else", "yield", "await", "instanceof":
		return true
	}
	return false
}

func checkBrackets(src string, mask []bool) *SyntaxError {
	type opener struct {
		ch        byte
		line, col int
	}
	pairs := map[byte]byte{')': '(', ']': '[', '}': '{'}
	var stack []opener
	line, col := 1, 1
	for i := 0; i < len(src); i++ {
		c := src[i]
		if !mask[i] {
			switch c {
			case '(', '[', '{':
				stack = append(stack, opener{ch: c, line: line, col: col})
			case ')', ']', '}':
				if len(stack) == 0 || stack[len(stack)-1].ch != pairs[c] {
					return &SyntaxError{Message: fmt.Sprintf("unexpected %q", string(c)), Line: line, Col: col}
				}
				stack = stack[:len(stack)-1]
			}
		}
		if c == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	if len(stack) > 0 {
		top := stack[len(stack)-1]
		return &SyntaxError{Message: fmt.Sprintf("unclosed %q", string(top.ch)), Line: top.line, Col: top.col}
	}
	return nil
}

// extractImports walks the masked source for import and re-export
// statements. Style-sheet imports are returned separately and their
// statements blanked from the output, keeping byte offsets and line
// numbers stable.
func extractImports(src string, mask []bool) ([]ImportRecord, []string, string) {
	imports := []ImportRecord{}
	styles := []string{}
	blank := []int{} // statement spans to blank, as start/end pairs

	p := &importParser{src: src, mask: mask}
	for p.pos < len(src) {
		if mask[p.pos] || !isWordByte(src[p.pos]) {
			p.pos++
			continue
		}
		wordStart := p.pos
		word := p.readWord()
		switch word {
		case "import":
			if rec, stmtEnd, ok := p.parseImport(); ok {
				if strings.HasSuffix(rec.Specifier, ".css") {
					styles = append(styles, rec.Specifier)
					blank = append(blank, wordStart, stmtEnd)
				} else {
					imports = append(imports, rec)
				}
				p.pos = stmtEnd
			}
		case "export":
			if rec, stmtEnd, ok := p.parseReexport(); ok {
				imports = append(imports, rec)
				p.pos = stmtEnd
			}
		}
	}

	if len(blank) == 0 {
		return imports, styles, src
	}
	out := []byte(src)
	for i := 0; i < len(blank); i += 2 {
		for j := blank[i]; j < blank[i+1]; j++ {
			if out[j] != '\n' {
				out[j] = ' '
			}
		}
	}
	return imports, styles, string(out)
}

type importParser struct {
	src  string
	mask []bool
	pos  int
}

func (p *importParser) skipGaps() {
	for p.pos < len(p.src) {
		if p.mask[p.pos] && p.src[p.pos] != '"' && p.src[p.pos] != '\'' {
			p.pos++
			continue
		}
		if isSpaceByte(p.src[p.pos]) {
			p.pos++
			continue
		}
		return
	}
}

func (p *importParser) readWord() string {
	start := p.pos
	for p.pos < len(p.src) && isWordByte(p.src[p.pos]) {
		p.pos++
	}
	return p.src[start:p.pos]
}

func (p *importParser) peek() byte {
	p.skipGaps()
	if p.pos >= len(p.src) {
		return 0
	}
	return p.src[p.pos]
}

// readSpecifier reads a quoted string at the cursor and returns its value
// and the span of the text between the quotes.
func (p *importParser) readSpecifier() (string, int, int, bool) {
	quote := p.peek()
	if quote != '"' && quote != '\'' {
		return "", 0, 0, false
	}
	start := p.pos + 1
	end := start
	for end < len(p.src) && p.src[end] != quote {
		end++
	}
	if end >= len(p.src) {
		return "", 0, 0, false
	}
	p.pos = end + 1
	return p.src[start:end], start, end, true
}

// parseImport parses the clause after an already-consumed import keyword.
// Returns ok=false for non-import uses of the word (member access, code
// that only looks like an import).
func (p *importParser) parseImport() (ImportRecord, int, bool) {
	rec := ImportRecord{}
	switch c := p.peek(); {
	case c == '(':
		// dynamic import; only literal specifiers are recorded
		p.pos++
		spec, start, end, ok := p.readSpecifier()
		if !ok {
			return ImportRecord{}, 0, false
		}
		if p.peek() != ')' {
			return ImportRecord{}, 0, false
		}
		p.pos++
		rec.Specifier, rec.SpecStart, rec.SpecEnd = spec, start, end
		return rec, p.pos, true
	case c == '"' || c == '\'':
		spec, start, end, ok := p.readSpecifier()
		if !ok {
			return ImportRecord{}, 0, false
		}
		rec.Specifier, rec.SpecStart, rec.SpecEnd = spec, start, end
		return rec, p.statementEnd(), true
	case c == '.' || c == 0:
		// import.meta or trailing text
		return ImportRecord{}, 0, false
	}

	if !p.parseBindings(&rec) {
		return ImportRecord{}, 0, false
	}
	p.skipGaps()
	if p.readWord() != "from" {
		return ImportRecord{}, 0, false
	}
	spec, start, end, ok := p.readSpecifier()
	if !ok {
		return ImportRecord{}, 0, false
	}
	rec.Specifier, rec.SpecStart, rec.SpecEnd = spec, start, end
	return rec, p.statementEnd(), true
}

func (p *importParser) parseBindings(rec *ImportRecord) bool {
	c := p.peek()
	if c != '{' && c != '*' {
		if !isWordByte(c) {
			return false
		}
		rec.Default = p.readWord()
		if p.peek() != ',' {
			return true
		}
		p.pos++
		c = p.peek()
	}
	switch c {
	case '*':
		p.pos++
		p.skipGaps()
		if p.readWord() != "as" {
			return false
		}
		p.skipGaps()
		if !isWordByte(p.peek()) {
			return false
		}
		rec.Namespace = p.readWord()
		return true
	case '{':
		p.pos++
		for {
			c := p.peek()
			if c == '}' {
				p.pos++
				return true
			}
			if !isWordByte(c) {
				return false
			}
			name := p.readWord()
			if name == "type" && isWordByte(p.peek()) {
				name = p.readWord()
			}
			if p.peek() != 0 && isWordByte(p.peek()) {
				// "as alias" renames the local binding only
				if p.readWord() != "as" || !isWordByte(p.peek()) {
					return false
				}
				p.readWord()
			}
			rec.Named = append(rec.Named, name)
			switch p.peek() {
			case ',':
				p.pos++
			case '}':
			default:
				return false
			}
		}
	}
	return false
}

// parseReexport handles export-from forms; plain exports are skipped.
func (p *importParser) parseReexport() (ImportRecord, int, bool) {
	rec := ImportRecord{}
	switch c := p.peek(); c {
	case '*':
		p.pos++
		p.skipGaps()
		save := p.pos
		if isWordByte(p.peek()) {
			if p.readWord() == "as" {
				p.skipGaps()
				if !isWordByte(p.peek()) {
					return ImportRecord{}, 0, false
				}
				p.readWord()
			} else {
				// bare * re-export; the word was "from"
				p.pos = save
			}
		}
	case '{':
		p.pos++
		for p.pos < len(p.src) && p.src[p.pos] != '}' {
			p.pos++
		}
		if p.pos >= len(p.src) {
			return ImportRecord{}, 0, false
		}
		p.pos++
	default:
		return ImportRecord{}, 0, false
	}
	p.skipGaps()
	save := p.pos
	if p.readWord() != "from" {
		p.pos = save
		return ImportRecord{}, 0, false
	}
	spec, start, end, ok := p.readSpecifier()
	if !ok {
		return ImportRecord{}, 0, false
	}
	rec.Specifier, rec.SpecStart, rec.SpecEnd = spec, start, end
	return rec, p.statementEnd(), true
}

func (p *importParser) statementEnd() int {
	end := p.pos
	if end < len(p.src) && p.src[end] == ';' {
		end++
	}
	return end
}

func lineColAt(src string, pos int) (int, int) {
	line, col := 1, 1
	for i := 0; i < pos && i < len(src); i++ {
		if src[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isWordByte(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
