package sandbox

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// The script language is a deliberately small instruction set: one
// statement per line, string and integer values, assignment, and
// builtin calls. There is no control flow; the model iterates by
// emitting a new script on the next turn.
//
//	paths = list_files()
//	src = read_file("cmd/main.go")
//	hits = search("TODO")
//	part = lines(src, 1, 80)
//	summary = delegate("Summarize the error handling", part)
//	print(summary)
//	finalize("...")

type interpreter struct {
	sandbox *Sandbox
	vars    map[string]any
	output  strings.Builder
}

func newInterpreter(s *Sandbox) *interpreter {
	return &interpreter{
		sandbox: s,
		vars:    make(map[string]any),
	}
}

// run executes the script line by line. The first failing statement
// aborts execution; output produced before it is preserved.
func (in *interpreter) run(ctx context.Context, script string) error {
	for i, line := range strings.Split(script, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if err := in.execLine(ctx, trimmed); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
	}
	return nil
}

func (in *interpreter) execLine(ctx context.Context, line string) error {
	name, expr, isAssign := splitAssignment(line)

	node, err := parseExpr(expr)
	if err != nil {
		return err
	}

	val, err := in.eval(ctx, node)
	if err != nil {
		return err
	}

	if isAssign {
		in.vars[name] = val
	}
	return nil
}

// splitAssignment splits "name = expr" at the top level; "==" never
// occurs because the language has no comparisons.
func splitAssignment(line string) (name, expr string, ok bool) {
	depth := 0
	inString := false
	for i := 0; i < len(line); i++ {
		switch line[i] {
		case '"':
			if i == 0 || line[i-1] != '\\' {
				inString = !inString
			}
		case '(':
			if !inString {
				depth++
			}
		case ')':
			if !inString {
				depth--
			}
		case '=':
			if !inString && depth == 0 {
				name = strings.TrimSpace(line[:i])
				if isIdentifier(name) {
					return name, strings.TrimSpace(line[i+1:]), true
				}
				return "", line, false
			}
		}
	}
	return "", line, false
}

// expression AST

type node interface{}

type litString struct{ val string }
type litInt struct{ val int }
type varRef struct{ name string }
type call struct {
	name string
	args []node
}
type concat struct{ left, right node }

// parseExpr parses one expression with a small recursive-descent
// parser. Grammar: expr := term ('+' term)*, term := string | int |
// ident | ident '(' args ')'.
func parseExpr(src string) (node, error) {
	p := &parser{src: src}
	n, err := p.parse()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos < len(p.src) {
		return nil, fmt.Errorf("unexpected %q", p.src[p.pos:])
	}
	return n, nil
}

type parser struct {
	src string
	pos int
}

func (p *parser) parse() (node, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		p.skipSpace()
		if p.pos >= len(p.src) || p.src[p.pos] != '+' {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = concat{left: left, right: right}
	}
}

func (p *parser) parseTerm() (node, error) {
	p.skipSpace()
	if p.pos >= len(p.src) {
		return nil, fmt.Errorf("unexpected end of expression")
	}

	c := p.src[p.pos]
	switch {
	case c == '"':
		return p.parseString()
	case c >= '0' && c <= '9' || c == '-':
		return p.parseInt()
	case isIdentStart(c):
		return p.parseIdentOrCall()
	default:
		return nil, fmt.Errorf("unexpected character %q", string(c))
	}
}

func (p *parser) parseString() (node, error) {
	start := p.pos
	p.pos++ // opening quote
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case '\\':
			p.pos += 2
		case '"':
			raw := p.src[start+1 : p.pos]
			p.pos++
			return litString{val: unescapeString(raw)}, nil
		default:
			p.pos++
		}
	}
	return nil, fmt.Errorf("unterminated string literal")
}

func (p *parser) parseInt() (node, error) {
	start := p.pos
	if p.src[p.pos] == '-' {
		p.pos++
	}
	for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
		p.pos++
	}
	val, err := strconv.Atoi(p.src[start:p.pos])
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", p.src[start:p.pos])
	}
	return litInt{val: val}, nil
}

func (p *parser) parseIdentOrCall() (node, error) {
	start := p.pos
	for p.pos < len(p.src) && isIdentPart(p.src[p.pos]) {
		p.pos++
	}
	name := p.src[start:p.pos]

	p.skipSpace()
	if p.pos >= len(p.src) || p.src[p.pos] != '(' {
		return varRef{name: name}, nil
	}

	p.pos++ // '('
	var args []node
	p.skipSpace()
	if p.pos < len(p.src) && p.src[p.pos] == ')' {
		p.pos++
		return call{name: name, args: args}, nil
	}
	for {
		arg, err := p.parse()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		p.skipSpace()
		if p.pos >= len(p.src) {
			return nil, fmt.Errorf("unterminated call to %s", name)
		}
		switch p.src[p.pos] {
		case ',':
			p.pos++
		case ')':
			p.pos++
			return call{name: name, args: args}, nil
		default:
			return nil, fmt.Errorf("unexpected %q in call to %s", string(p.src[p.pos]), name)
		}
	}
}

func (p *parser) skipSpace() {
	for p.pos < len(p.src) && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t') {
		p.pos++
	}
}

// evaluation

func (in *interpreter) eval(ctx context.Context, n node) (any, error) {
	switch t := n.(type) {
	case litString:
		return t.val, nil
	case litInt:
		return t.val, nil
	case varRef:
		val, ok := in.vars[t.name]
		if !ok {
			return nil, fmt.Errorf("undefined variable: %s", t.name)
		}
		return val, nil
	case concat:
		return in.evalConcat(ctx, t)
	case call:
		return in.evalCall(ctx, t)
	default:
		return nil, fmt.Errorf("unknown expression")
	}
}

func (in *interpreter) evalConcat(ctx context.Context, c concat) (any, error) {
	left, err := in.eval(ctx, c.left)
	if err != nil {
		return nil, err
	}
	right, err := in.eval(ctx, c.right)
	if err != nil {
		return nil, err
	}

	if li, lok := left.(int); lok {
		if ri, rok := right.(int); rok {
			return li + ri, nil
		}
	}
	return stringify(left) + stringify(right), nil
}

func (in *interpreter) evalCall(ctx context.Context, c call) (any, error) {
	switch c.name {
	case "list_files":
		if err := expectArgs(c, 0); err != nil {
			return nil, err
		}
		return strings.Join(in.sandbox.paths, "\n"), nil

	case "read_file":
		args, err := in.stringArgs(ctx, c, 1)
		if err != nil {
			return nil, err
		}
		content, ok := in.sandbox.files[args[0]]
		if !ok {
			return nil, fmt.Errorf("file not found: %s", args[0])
		}
		return content, nil

	case "search":
		args, err := in.stringArgs(ctx, c, 1)
		if err != nil {
			return nil, err
		}
		return in.search(args[0]), nil

	case "lines":
		return in.callLines(ctx, c)

	case "len":
		if err := expectArgs(c, 1); err != nil {
			return nil, err
		}
		val, err := in.eval(ctx, c.args[0])
		if err != nil {
			return nil, err
		}
		return len(stringify(val)), nil

	case "print":
		for i, arg := range c.args {
			val, err := in.eval(ctx, arg)
			if err != nil {
				return nil, err
			}
			if i > 0 {
				in.output.WriteString(" ")
			}
			in.output.WriteString(stringify(val))
		}
		in.output.WriteString("\n")
		return "", nil

	case "delegate":
		args, err := in.stringArgs(ctx, c, 2)
		if err != nil {
			return nil, err
		}
		return in.callDelegate(ctx, args[0], args[1])

	case "finalize":
		if err := expectArgs(c, 1); err != nil {
			return nil, err
		}
		val, err := in.eval(ctx, c.args[0])
		if err != nil {
			return nil, err
		}
		in.sandbox.finalAnswer = stringify(val)
		in.sandbox.hasFinal = true
		return "", nil

	default:
		return nil, fmt.Errorf("unknown function: %s", c.name)
	}
}

// callDelegate enforces the delegation ceiling, notifies the observer,
// and performs the asynchronous sub-call.
func (in *interpreter) callDelegate(ctx context.Context, prompt, payload string) (any, error) {
	s := in.sandbox
	if s.calls >= s.cfg.MaxDelegations {
		return nil, fmt.Errorf("delegation limit reached (%d calls)", s.cfg.MaxDelegations)
	}
	if s.delegate == nil {
		return nil, fmt.Errorf("delegation not available")
	}

	s.calls++
	if s.observer != nil {
		s.observer(s.calls)
	}

	result, err := s.delegate(ctx, prompt, payload)
	if err != nil {
		return nil, fmt.Errorf("delegate: %w", err)
	}
	return result, nil
}

func (in *interpreter) callLines(ctx context.Context, c call) (any, error) {
	if err := expectArgs(c, 3); err != nil {
		return nil, err
	}
	textVal, err := in.eval(ctx, c.args[0])
	if err != nil {
		return nil, err
	}
	start, err := in.intArg(ctx, c, 1)
	if err != nil {
		return nil, err
	}
	end, err := in.intArg(ctx, c, 2)
	if err != nil {
		return nil, err
	}

	all := strings.Split(stringify(textVal), "\n")
	if start < 1 {
		start = 1
	}
	if end > len(all) {
		end = len(all)
	}
	if start > end {
		return "", nil
	}
	return strings.Join(all[start-1:end], "\n"), nil
}

// searchResultCap bounds search output so a broad pattern cannot
// flood the turn.
const searchResultCap = 100

// search scans every file for lines containing the pattern
// (case-insensitive substring match).
func (in *interpreter) search(pattern string) string {
	lower := strings.ToLower(pattern)
	var hits []string

	paths := in.sandbox.paths
	if len(paths) == 0 {
		paths = make([]string, 0, len(in.sandbox.files))
		for p := range in.sandbox.files {
			paths = append(paths, p)
		}
		sort.Strings(paths)
	}

	for _, path := range paths {
		content, ok := in.sandbox.files[path]
		if !ok {
			continue
		}
		for i, line := range strings.Split(content, "\n") {
			if strings.Contains(strings.ToLower(line), lower) {
				hits = append(hits, fmt.Sprintf("%s:%d: %s", path, i+1, strings.TrimSpace(line)))
				if len(hits) >= searchResultCap {
					return strings.Join(hits, "\n") + "\n... [search capped]"
				}
			}
		}
	}

	if len(hits) == 0 {
		return "no matches for: " + pattern
	}
	return strings.Join(hits, "\n")
}

// helpers

func (in *interpreter) stringArgs(ctx context.Context, c call, n int) ([]string, error) {
	if err := expectArgs(c, n); err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		val, err := in.eval(ctx, c.args[i])
		if err != nil {
			return nil, err
		}
		out[i] = stringify(val)
	}
	return out, nil
}

func (in *interpreter) intArg(ctx context.Context, c call, i int) (int, error) {
	val, err := in.eval(ctx, c.args[i])
	if err != nil {
		return 0, err
	}
	n, ok := val.(int)
	if !ok {
		return 0, fmt.Errorf("argument %d of %s must be a number", i+1, c.name)
	}
	return n, nil
}

func expectArgs(c call, n int) error {
	if len(c.args) != n {
		return fmt.Errorf("%s expects %d argument(s), got %d", c.name, n, len(c.args))
	}
	return nil
}

func stringify(val any) string {
	switch t := val.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func unescapeString(raw string) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] == '\\' && i+1 < len(raw) {
			switch raw[i+1] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '"':
				sb.WriteByte('"')
			case '\\':
				sb.WriteByte('\\')
			default:
				sb.WriteByte(raw[i+1])
			}
			i++
			continue
		}
		sb.WriteByte(raw[i])
	}
	return sb.String()
}

func isIdentifier(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentPart(s[i]) {
			return false
		}
	}
	return true
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}
