package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// jsString renders s as a JavaScript string literal. JSON encoding is used
// because its escapes are all valid in JavaScript source.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// rewriteMarkup rewrites element markup in component sources to
// React.createElement calls. Everything that is not markup is copied byte
// for byte, so line numbers are preserved for later validation. The
// second return reports whether any markup was rewritten.
func rewriteMarkup(source string) (string, bool, *SyntaxError) {
	r := &jsxRewriter{src: source, out: &strings.Builder{}}
	if err := r.run(false); err != nil {
		return "", false, err
	}
	return r.out.String(), r.rewrote, nil
}

type jsxRewriter struct {
	src      string
	pos      int
	out      *strings.Builder
	rewrote  bool
	prevSig  byte
	prevWord string
}

func (r *jsxRewriter) errAt(pos int, format string, args ...any) *SyntaxError {
	line, col := lineColAt(r.src, pos)
	return &SyntaxError{Message: fmt.Sprintf(format, args...), Line: line, Col: col}
}

// run copies code while rewriting markup. When stopAtBrace is set it
// returns at the matching unnested '}' without consuming it; that is how
// template substitutions and embedded expressions re-enter code context.
func (r *jsxRewriter) run(stopAtBrace bool) *SyntaxError {
	depth := 0
	for r.pos < len(r.src) {
		c := r.src[r.pos]
		switch {
		case c == '/' && r.pos+1 < len(r.src) && r.src[r.pos+1] == '/':
			for r.pos < len(r.src) && r.src[r.pos] != '\n' {
				r.out.WriteByte(r.src[r.pos])
				r.pos++
			}
		case c == '/' && r.pos+1 < len(r.src) && r.src[r.pos+1] == '*':
			if err := r.copyBlockComment(); err != nil {
				return err
			}
			r.prevSig, r.prevWord = 0, ""
		case c == '"' || c == '\'':
			if err := r.copyString(); err != nil {
				return err
			}
			r.prevSig, r.prevWord = c, ""
		case c == '`':
			if err := r.copyTemplate(); err != nil {
				return err
			}
			r.prevSig, r.prevWord = '`', ""
		case c == '/' && regexPosition(r.prevSig, r.prevWord):
			if !r.copyRegex() {
				r.out.WriteByte(c)
				r.pos++
			}
			r.prevSig, r.prevWord = '/', ""
		case c == '<' && r.markupStarts():
			if err := r.parseElement(); err != nil {
				return err
			}
			r.rewrote = true
			r.prevSig, r.prevWord = ')', ""
		case stopAtBrace && c == '}' && depth == 0:
			return nil
		default:
			if c == '{' {
				depth++
			} else if c == '}' {
				depth--
			}
			if !isSpaceByte(c) {
				if isWordByte(c) {
					start := r.pos
					for r.pos < len(r.src) && isWordByte(r.src[r.pos]) {
						r.out.WriteByte(r.src[r.pos])
						r.pos++
					}
					r.prevWord = r.src[start:r.pos]
					r.prevSig = r.src[r.pos-1]
					continue
				}
				r.prevSig, r.prevWord = c, ""
			}
			r.out.WriteByte(c)
			r.pos++
		}
	}
	if stopAtBrace {
		return r.errAt(len(r.src), "unexpected end of source in expression")
	}
	return nil
}

func (r *jsxRewriter) copyBlockComment() *SyntaxError {
	start := r.pos
	r.out.WriteString("/*")
	r.pos += 2
	for r.pos < len(r.src) {
		if r.src[r.pos] == '*' && r.pos+1 < len(r.src) && r.src[r.pos+1] == '/' {
			r.out.WriteString("*/")
			r.pos += 2
			return nil
		}
		r.out.WriteByte(r.src[r.pos])
		r.pos++
	}
	return r.errAt(start, "unterminated block comment")
}

func (r *jsxRewriter) copyString() *SyntaxError {
	start := r.pos
	quote := r.src[r.pos]
	r.out.WriteByte(quote)
	r.pos++
	for r.pos < len(r.src) {
		c := r.src[r.pos]
		if c == '\\' && r.pos+1 < len(r.src) {
			r.out.WriteByte(c)
			r.out.WriteByte(r.src[r.pos+1])
			r.pos += 2
			continue
		}
		if c == '\n' {
			break
		}
		r.out.WriteByte(c)
		r.pos++
		if c == quote {
			return nil
		}
	}
	return r.errAt(start, "unterminated string literal")
}

func (r *jsxRewriter) copyTemplate() *SyntaxError {
	start := r.pos
	r.out.WriteByte('`')
	r.pos++
	for r.pos < len(r.src) {
		c := r.src[r.pos]
		if c == '\\' && r.pos+1 < len(r.src) {
			r.out.WriteByte(c)
			r.out.WriteByte(r.src[r.pos+1])
			r.pos += 2
			continue
		}
		if c == '`' {
			r.out.WriteByte(c)
			r.pos++
			return nil
		}
		if c == '$' && r.pos+1 < len(r.src) && r.src[r.pos+1] == '{' {
			r.out.WriteString("${")
			r.pos += 2
			if err := r.run(true); err != nil {
				return err
			}
			if r.pos >= len(r.src) {
				break
			}
			r.out.WriteByte('}')
			r.pos++
			continue
		}
		r.out.WriteByte(c)
		r.pos++
	}
	return r.errAt(start, "unterminated template literal")
}

func (r *jsxRewriter) copyRegex() bool {
	j := r.pos + 1
	inClass := false
	for j < len(r.src) {
		c := r.src[j]
		if c == '\\' && j+1 < len(r.src) {
			j += 2
			continue
		}
		if c == '\n' {
			return false
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
			j++
			for j < len(r.src) && isWordByte(r.src[j]) {
				j++
			}
			r.out.WriteString(r.src[r.pos:j])
			r.pos = j
			return true
		}
		j++
	}
	return false
}

// markupStarts decides whether the '<' at the cursor opens markup rather
// than being a comparison operator. Markup only begins in expression
// position.
func (r *jsxRewriter) markupStarts() bool {
	if r.pos+1 >= len(r.src) {
		return false
	}
	next := r.src[r.pos+1]
	if next != '>' && !isTagStartByte(next) {
		return false
	}
	if r.prevSig == 0 {
		return true
	}
	if strings.IndexByte("=([{,;:?&|!^~+-*/%<>", r.prevSig) >= 0 {
		return true
	}
	switch r.prevWord {
	case "return", "default", "case", "do", "else", "yield", "await", "typeof", "in", "of", "void", "new":
		return true
	}
	return false
}

// capture runs f with output redirected to a fresh buffer and returns what
// it wrote.
func (r *jsxRewriter) capture(f func() *SyntaxError) (string, *SyntaxError) {
	saved := r.out
	buf := &strings.Builder{}
	r.out = buf
	err := f()
	r.out = saved
	return buf.String(), err
}

// parseElement consumes one element or fragment starting at '<' and writes
// the equivalent React.createElement call.
func (r *jsxRewriter) parseElement() *SyntaxError {
	start := r.pos
	r.pos++ // '<'

	var tag string
	if r.src[r.pos] == '>' {
		r.pos++
		r.out.WriteString("React.createElement(React.Fragment, null")
		if err := r.parseChildren(start, ""); err != nil {
			return err
		}
		r.out.WriteByte(')')
		return nil
	}

	tag = r.readTagName()
	if tag == "" {
		return r.errAt(start, "expected tag name after <")
	}

	props, selfClosed, err := r.parseAttributes(start, tag)
	if err != nil {
		return err
	}

	r.out.WriteString("React.createElement(")
	r.out.WriteString(tagExpr(tag))
	r.out.WriteString(", ")
	r.out.WriteString(props)
	if !selfClosed {
		if err := r.parseChildren(start, tag); err != nil {
			return err
		}
	}
	r.out.WriteByte(')')
	return nil
}

func (r *jsxRewriter) readTagName() string {
	start := r.pos
	if r.pos >= len(r.src) || !isTagStartByte(r.src[r.pos]) {
		return ""
	}
	for r.pos < len(r.src) {
		c := r.src[r.pos]
		if isWordByte(c) || c == '.' || c == '-' {
			r.pos++
			continue
		}
		break
	}
	return r.src[start:r.pos]
}

// tagExpr renders a tag as either an intrinsic element name or a component
// reference. Lowercase tags and hyphenated tags are intrinsic.
func tagExpr(tag string) string {
	c := tag[0]
	if (c >= 'a' && c <= 'z') || strings.Contains(tag, "-") {
		return jsString(tag)
	}
	return tag
}

func (r *jsxRewriter) parseAttributes(start int, tag string) (string, bool, *SyntaxError) {
	var entries []string
	for {
		r.skipMarkupSpace()
		if r.pos >= len(r.src) {
			return "", false, r.errAt(start, "unclosed element <%s>", tag)
		}
		switch c := r.src[r.pos]; {
		case c == '>':
			r.pos++
			return propsExpr(entries), false, nil
		case c == '/' && r.pos+1 < len(r.src) && r.src[r.pos+1] == '>':
			r.pos += 2
			return propsExpr(entries), true, nil
		case c == '{':
			// spread attribute
			bracePos := r.pos
			r.pos++
			r.skipMarkupSpace()
			if !strings.HasPrefix(r.src[r.pos:], "...") {
				return "", false, r.errAt(bracePos, "expected ... in spread attribute of <%s>", tag)
			}
			r.pos += 3
			expr, err := r.captureBraceExpr(bracePos)
			if err != nil {
				return "", false, err
			}
			entries = append(entries, "..."+strings.TrimSpace(expr))
		case isTagStartByte(c):
			name := r.readAttrName()
			value := "true"
			r.skipMarkupSpace()
			if r.pos < len(r.src) && r.src[r.pos] == '=' {
				r.pos++
				r.skipMarkupSpace()
				v, err := r.readAttrValue(start, tag)
				if err != nil {
					return "", false, err
				}
				value = v
			}
			entries = append(entries, propKey(name)+": "+value)
		default:
			return "", false, r.errAt(r.pos, "unexpected %q in element <%s>", string(c), tag)
		}
	}
}

func (r *jsxRewriter) readAttrName() string {
	start := r.pos
	for r.pos < len(r.src) {
		c := r.src[r.pos]
		if isWordByte(c) || c == '-' || c == ':' {
			r.pos++
			continue
		}
		break
	}
	return r.src[start:r.pos]
}

func (r *jsxRewriter) readAttrValue(start int, tag string) (string, *SyntaxError) {
	if r.pos >= len(r.src) {
		return "", r.errAt(start, "unclosed element <%s>", tag)
	}
	switch c := r.src[r.pos]; c {
	case '"', '\'':
		end := r.pos + 1
		for end < len(r.src) && r.src[end] != c {
			end++
		}
		if end >= len(r.src) {
			return "", r.errAt(r.pos, "unterminated attribute value in <%s>", tag)
		}
		raw := r.src[r.pos+1 : end]
		r.pos = end + 1
		return jsString(raw), nil
	case '{':
		bracePos := r.pos
		r.pos++
		expr, err := r.captureBraceExpr(bracePos)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(expr), nil
	default:
		return "", r.errAt(r.pos, "expected attribute value in <%s>", tag)
	}
}

// captureBraceExpr captures rewritten code up to the matching '}' and
// consumes the brace. The cursor must already be past the opening brace.
func (r *jsxRewriter) captureBraceExpr(bracePos int) (string, *SyntaxError) {
	expr, err := r.capture(func() *SyntaxError { return r.run(true) })
	if err != nil {
		return "", err
	}
	if r.pos >= len(r.src) || r.src[r.pos] != '}' {
		return "", r.errAt(bracePos, "unclosed { in markup")
	}
	r.pos++
	return expr, nil
}

// parseChildren consumes children then the closing tag. An empty tag means
// a fragment closed by </>.
func (r *jsxRewriter) parseChildren(start int, tag string) *SyntaxError {
	var text strings.Builder
	flushText := func() {
		if t := jsxText(text.String()); t != "" {
			r.out.WriteString(", ")
			r.out.WriteString(jsString(t))
		}
		text.Reset()
	}
	for r.pos < len(r.src) {
		c := r.src[r.pos]
		switch {
		case c == '<' && r.pos+1 < len(r.src) && r.src[r.pos+1] == '/':
			flushText()
			r.pos += 2
			name := r.readTagName()
			r.skipMarkupSpace()
			if r.pos >= len(r.src) || r.src[r.pos] != '>' {
				return r.errAt(start, "unclosed element <%s>", tag)
			}
			r.pos++
			if name != tag {
				if tag == "" {
					return r.errAt(start, "expected </> to close fragment")
				}
				return r.errAt(start, "expected </%s>, found </%s>", tag, name)
			}
			return nil
		case c == '<' && r.pos+1 < len(r.src) && (isTagStartByte(r.src[r.pos+1]) || r.src[r.pos+1] == '>'):
			flushText()
			r.out.WriteString(", ")
			if err := r.parseElement(); err != nil {
				return err
			}
		case c == '<':
			return r.errAt(r.pos, "unexpected < in element content")
		case c == '{':
			flushText()
			bracePos := r.pos
			r.pos++
			expr, err := r.captureBraceExpr(bracePos)
			if err != nil {
				return err
			}
			if !exprIsEmpty(expr) {
				r.out.WriteString(", ")
				r.out.WriteString(strings.TrimSpace(expr))
			}
		default:
			text.WriteByte(c)
			r.pos++
		}
	}
	if tag == "" {
		return r.errAt(start, "unclosed fragment")
	}
	return r.errAt(start, "unclosed element <%s>", tag)
}

func (r *jsxRewriter) skipMarkupSpace() {
	for r.pos < len(r.src) && isSpaceByte(r.src[r.pos]) {
		r.pos++
	}
}

func propsExpr(entries []string) string {
	if len(entries) == 0 {
		return "null"
	}
	return "{ " + strings.Join(entries, ", ") + " }"
}

func propKey(name string) string {
	for i := 0; i < len(name); i++ {
		if !isWordByte(name[i]) {
			return jsString(name)
		}
	}
	return name
}

// jsxText normalizes a text child: lines are trimmed at the newline
// boundaries and blank lines vanish, matching how markup treats
// indentation-only whitespace.
func jsxText(raw string) string {
	lines := strings.Split(raw, "\n")
	if len(lines) == 1 {
		return raw
	}
	parts := make([]string, 0, len(lines))
	for i, ln := range lines {
		switch i {
		case 0:
			ln = strings.TrimRight(ln, " \t")
		case len(lines) - 1:
			ln = strings.TrimLeft(ln, " \t")
		default:
			ln = strings.Trim(ln, " \t")
		}
		if ln != "" {
			parts = append(parts, ln)
		}
	}
	return strings.Join(parts, " ")
}

// exprIsEmpty reports whether a braced expression held only whitespace and
// comments, which markup treats as no child at all.
func exprIsEmpty(s string) bool {
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case isSpaceByte(c):
			i++
		case c == '/' && i+1 < len(s) && s[i+1] == '/':
			for i < len(s) && s[i] != '\n' {
				i++
			}
		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				return false
			}
			i += end + 4
		default:
			return false
		}
	}
	return true
}

func isTagStartByte(c byte) bool {
	return c == '_' || c == '$' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
