// Package rlm implements the recursive analysis engine: a turn-based
// delegation loop in which a root model inspects a file index, writes
// small analysis scripts, and delegates bounded sub-tasks to satellite
// inference calls, while companion subsystems keep the conversation
// inside a token budget and watch for signs of lost context.
package rlm

import (
	"time"

	"github.com/zendizmo/rlm-analyzer/internal/rlm/async"
	"github.com/zendizmo/rlm-analyzer/internal/rlm/compress"
	"github.com/zendizmo/rlm-analyzer/internal/rlm/contextmgr"
	"github.com/zendizmo/rlm-analyzer/internal/rlm/refine"
	"github.com/zendizmo/rlm-analyzer/internal/rlm/rot"
	"github.com/zendizmo/rlm-analyzer/internal/rlm/sandbox"
)

// Config is the immutable session configuration, resolved once at
// engine construction.
type Config struct {
	// RootModel drives the turn loop.
	RootModel string

	// SubModel handles delegated sub-queries.
	SubModel string

	// FallbackModel is tried once when the primary call fails with a
	// transient provider error.
	FallbackModel string

	// MaxTurns caps loop iterations.
	MaxTurns int

	// Timeout is the wall-clock ceiling for a session.
	Timeout time.Duration

	// MaxDelegations caps delegated calls per session.
	MaxDelegations int

	// Mode is the analysis mode hint passed to the model.
	Mode string

	// Temperature for root-model calls.
	Temperature float64

	// MaxTokens for root-model calls. Zero means provider default.
	MaxTokens int64

	// ContextWindow is the token ceiling the adaptive compressor
	// tracks usage against.
	ContextWindow int

	// RefineEnabled turns on the multi-pass quality loop after a
	// final answer is accepted.
	RefineEnabled bool

	// Subsystem configuration.
	Context  contextmgr.Config
	Compress compress.Config
	Rot      rot.Config
	Refine   refine.Config
	Async    async.Config
	Sandbox  sandbox.Config
}

// DefaultConfig returns sensible defaults for a session.
func DefaultConfig() Config {
	compressCfg := compress.DefaultConfig()
	return Config{
		RootModel:      "gpt-5",
		SubModel:       "gpt-5-mini",
		FallbackModel:  "gpt-5-mini",
		MaxTurns:       10,
		Timeout:        5 * time.Minute,
		MaxDelegations: 20,
		Mode:           "general",
		Temperature:    0.2,
		ContextWindow:  compressCfg.MaxTokens,
		Context:        contextmgr.DefaultConfig(),
		Compress:       compressCfg,
		Rot:            rot.DefaultConfig(),
		Refine:         refine.DefaultConfig(),
		Async:          async.DefaultConfig(),
		Sandbox:        sandbox.Config{MaxDelegations: 20},
	}
}

// Context is the caller-owned analysis input: the file map, the
// ordered path list, a free-form variable bag, and the analysis mode.
// Read-only to the engine for the session's duration.
type Context struct {
	Files     map[string]string
	Paths     []string
	Variables map[string]string
	Mode      string
}

// Turn is one loop iteration, immutable once recorded.
type Turn struct {
	// Number is the 1-based turn number.
	Number int

	// Response is the model's raw response.
	Response string

	// Script is the extracted script, if any.
	Script string

	// Output is the script execution output.
	Output string

	// Error is the script execution error message, if any.
	Error string

	// Timestamp is when the turn completed.
	Timestamp time.Time

	// Delegations is the cumulative delegated-call count at this point.
	Delegations int
}

// Result is the session outcome.
type Result struct {
	// Success is true when a final answer passed the delegation gate.
	Success bool

	// Answer is the accepted final answer, empty on failure.
	Answer string

	// Turns is the full turn history.
	Turns []Turn

	// ExecutionTime is the session wall-clock duration.
	ExecutionTime time.Duration

	// Delegations is the total delegated-call count.
	Delegations int

	// Error describes the failure, empty on success.
	Error string

	// TokenSavings reports cumulative compression savings.
	TokenSavings contextmgr.TokenSavings
}

// TurnCallback receives each completed Turn. Must not affect control
// flow.
type TurnCallback func(turn Turn)

// Stats accumulates engine-level counters across sessions.
type Stats struct {
	Sessions      int
	Successes     int
	Failures      int
	TotalTurns    int
	TotalCalls    int
	TotalDuration time.Duration
}
