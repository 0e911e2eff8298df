// Package sandbox executes model-generated analysis scripts in a
// restricted evaluation scope. Scripts are written in a small
// statement language whose only capabilities are: the read-only file
// map, the path list, a print sink, a delegation call, and a
// final-answer setter. The interpreter has no reference to any
// process, filesystem, or network handle, so nothing outside those
// capabilities is reachable from executed code.
//
// The deny-list check is advisory, pattern-based rejection of
// constructs the language does not support anyway. It is a tripwire
// for models emitting foreign-language code, not a security boundary.
package sandbox

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// ExecResult is the outcome of executing a model response.
type ExecResult struct {
	// Success is false on security rejection or script runtime error.
	Success bool

	// Output is the accumulated print output, partial on error.
	Output string

	// Error is the literal error text, empty on success. It must be
	// fed back to the model verbatim, never replaced with a
	// placeholder.
	Error string
}

// Delegator performs a delegated sub-analysis call.
type Delegator func(ctx context.Context, prompt, payload string) (string, error)

// Observer is notified with the cumulative delegated-call count on
// every delegation. Must not affect control flow.
type Observer func(calls int)

// Config configures the sandbox.
type Config struct {
	// MaxDelegations is the per-session ceiling on delegated calls.
	MaxDelegations int
}

// Sandbox holds the restricted evaluation scope for one session. The
// delegated-call counter is owned here and is monotonically
// non-decreasing for the session's lifetime.
type Sandbox struct {
	files    map[string]string
	paths    []string
	delegate Delegator
	observer Observer
	cfg      Config

	calls       int
	finalAnswer string
	hasFinal    bool
}

// New creates a sandbox over a read-only file map.
func New(files map[string]string, paths []string, delegate Delegator, cfg Config) *Sandbox {
	if cfg.MaxDelegations <= 0 {
		cfg.MaxDelegations = 20
	}
	return &Sandbox{
		files:    files,
		paths:    paths,
		delegate: delegate,
		cfg:      cfg,
	}
}

// SetObserver installs the delegation progress observer.
func (s *Sandbox) SetObserver(obs Observer) { s.observer = obs }

// Delegations returns the cumulative delegated-call count.
func (s *Sandbox) Delegations() int { return s.calls }

// FinalAnswer returns the finalize slot and whether it is set.
func (s *Sandbox) FinalAnswer() (string, bool) { return s.finalAnswer, s.hasFinal }

// ClearFinal empties the finalize slot after a rejected finalize.
func (s *Sandbox) ClearFinal() {
	s.finalAnswer = ""
	s.hasFinal = false
}

// Execute extracts the script from a raw model response, applies the
// security check, and interprets it. A script runtime error is caught
// and surfaced with the output produced so far.
func (s *Sandbox) Execute(ctx context.Context, rawModelOutput string) ExecResult {
	script, ok := ExtractScript(rawModelOutput)
	if !ok {
		return ExecResult{Success: false, Error: "no script block found in response"}
	}

	if !IsFinalizeOnly(script) {
		if violation := checkSecurity(script); violation != "" {
			return ExecResult{
				Success: false,
				Error:   "security violation: " + violation,
			}
		}
	}

	interp := newInterpreter(s)
	err := interp.run(ctx, script)
	if err != nil {
		return ExecResult{
			Success: false,
			Output:  interp.output.String(),
			Error:   err.Error(),
		}
	}

	return ExecResult{Success: true, Output: interp.output.String()}
}

var fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z]*\\n(.*?)```")

// ExtractScript returns the first fenced code block in raw, or the
// whole input when it is a bare finalize call.
func ExtractScript(raw string) (string, bool) {
	if m := fencedBlock.FindStringSubmatch(raw); m != nil {
		return strings.TrimSpace(m[1]), true
	}
	trimmed := strings.TrimSpace(raw)
	if IsFinalizeOnly(trimmed) {
		return trimmed, true
	}
	return "", false
}

var finalizeOnly = regexp.MustCompile(`(?s)^finalize\(.*\)$`)

// IsFinalizeOnly reports whether script is purely a single finalize
// call, which bypasses the security check.
func IsFinalizeOnly(script string) bool {
	trimmed := strings.TrimSpace(script)
	if !finalizeOnly.MatchString(trimmed) {
		return false
	}
	// A second statement after the call disqualifies it.
	return !strings.Contains(trimmed, "\n")
}

// denied patterns cover process, file, network, and dynamic-eval
// primitives by name. Matched anywhere in a non-finalize-only script,
// they fail the call before execution.
var denied = []*regexp.Regexp{
	regexp.MustCompile(`\bimport\b`),
	regexp.MustCompile(`\brequire\s*\(`),
	regexp.MustCompile(`\beval\s*\(`),
	regexp.MustCompile(`\bexec\w*\s*\(`),
	regexp.MustCompile(`\bspawn\w*\s*\(`),
	regexp.MustCompile(`\bsubprocess\b`),
	regexp.MustCompile(`\bos\.\w+`),
	regexp.MustCompile(`\bfs\.\w+`),
	regexp.MustCompile(`\bprocess\.\w+`),
	regexp.MustCompile(`\bchild_process\b`),
	regexp.MustCompile(`\bopen\s*\(`),
	regexp.MustCompile(`\bsocket\b`),
	regexp.MustCompile(`\bfetch\s*\(`),
	regexp.MustCompile(`\bhttp[s]?://`),
	regexp.MustCompile(`\bXMLHttpRequest\b`),
	regexp.MustCompile(`__\w+__`),
	regexp.MustCompile(`\bglobalThis\b`),
	regexp.MustCompile(`\bsystem\s*\(`),
	regexp.MustCompile(`\bpopen\s*\(`),
}

// checkSecurity returns the first matched dangerous construct, or "".
// String literals are masked first so a search pattern like "import"
// cannot trip the check.
func checkSecurity(script string) string {
	masked := maskStringLiterals(script)
	for _, re := range denied {
		if m := re.FindString(masked); m != "" {
			return fmt.Sprintf("dangerous construct %q is not allowed", m)
		}
	}
	return ""
}

// maskStringLiterals blanks the contents of double-quoted literals,
// preserving length and line structure. The filler must not be a word
// character, or masked data could itself form a denied token.
func maskStringLiterals(script string) string {
	out := []byte(script)
	inString := false
	for i := 0; i < len(out); i++ {
		switch out[i] {
		case '\\':
			if inString && i+1 < len(out) {
				out[i] = ' '
				out[i+1] = ' '
				i++
			}
		case '"':
			inString = !inString
		case '\n':
			inString = false
		default:
			if inString {
				out[i] = ' '
			}
		}
	}
	return string(out)
}

var finalizeLiteral = regexp.MustCompile(`finalize\(\s*"((?:[^"\\]|\\.)*)"\s*\)`)

// ParseFinalize extracts a string-literal finalize value directly from
// response text, for responses that skip the script block entirely.
func ParseFinalize(text string) (string, bool) {
	m := finalizeLiteral.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return unescapeString(m[1]), true
}
