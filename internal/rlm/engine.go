package rlm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zendizmo/rlm-analyzer/internal/provider"
	"github.com/zendizmo/rlm-analyzer/internal/rlm/async"
	"github.com/zendizmo/rlm-analyzer/internal/rlm/attention"
	"github.com/zendizmo/rlm-analyzer/internal/rlm/compress"
	"github.com/zendizmo/rlm-analyzer/internal/rlm/contextmgr"
	"github.com/zendizmo/rlm-analyzer/internal/rlm/refine"
	"github.com/zendizmo/rlm-analyzer/internal/rlm/rot"
	"github.com/zendizmo/rlm-analyzer/internal/rlm/sandbox"
	"github.com/zendizmo/rlm-analyzer/internal/rlm/trace"
)

// Engine drives analysis sessions against an inference provider. Safe
// for sequential reuse; each Analyze call builds fresh session state
// so concurrent sessions may share an Engine only through separate
// Analyze invocations.
type Engine struct {
	cfg      Config
	provider provider.Provider

	onTurn   TurnCallback
	progress ProgressCallback
	recorder trace.Recorder

	stats Stats
}

// NewEngine creates an engine with the given provider and config.
func NewEngine(p provider.Provider, cfg Config) *Engine {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.MaxDelegations <= 0 {
		cfg.MaxDelegations = 20
	}
	if cfg.Sandbox.MaxDelegations <= 0 {
		cfg.Sandbox.MaxDelegations = cfg.MaxDelegations
	}
	return &Engine{cfg: cfg, provider: p}
}

// SetTurnCallback registers a per-turn observer.
func (e *Engine) SetTurnCallback(cb TurnCallback) { e.onTurn = cb }

// SetProgressCallback registers a high-frequency progress observer.
func (e *Engine) SetProgressCallback(cb ProgressCallback) { e.progress = cb }

// SetRecorder registers a trace recorder.
func (e *Engine) SetRecorder(r trace.Recorder) { e.recorder = r }

// Stats returns cumulative counters across sessions.
func (e *Engine) Stats() Stats { return e.stats }

// session is the per-Analyze state: subsystems, history, and counters.
// Built fresh for every session so no state leaks between queries.
type session struct {
	engine *Engine
	id     string
	query  string
	actx   *Context

	manager    *contextmgr.Manager
	compressor *compress.Adaptive
	detector   *rot.Detector
	filter     *attention.Filter
	refiner    *refine.Refiner
	box        *sandbox.Sandbox

	history  []provider.Message
	turns    []Turn
	emitter  *progressEmitter
	errLoop  errorLoopTracker
	start    time.Time
	curTurn  int
}

// Analyze runs one full session: the turn loop, the delegation gate,
// and the optional refinement loop.
func (e *Engine) Analyze(ctx context.Context, query string, actx *Context) *Result {
	start := time.Now()

	s := &session{
		engine:     e,
		id:         uuid.NewString(),
		query:      query,
		actx:       actx,
		manager:    contextmgr.NewManager(e.cfg.Context),
		compressor: compress.NewAdaptive(e.cfg.Compress),
		detector:   rot.NewDetector(e.cfg.Rot),
		filter:     attention.NewFilter(),
		refiner:    refine.NewRefiner(e.cfg.Refine),
		start:      start,
		emitter:    newProgressEmitter(e.progress, e.cfg.MaxTurns, start),
	}
	s.filter.SetQueryContext(query)
	s.box = sandbox.New(actx.Files, actx.Paths, s.delegate, e.cfg.Sandbox)
	s.box.SetObserver(func(calls int) {
		s.emitter.emit(PhaseDelegation, s.curTurn, calls, "delegated call")
	})

	s.history = []provider.Message{
		{Role: provider.RoleSystem, Content: systemPrompt},
		{Role: provider.RoleUser, Content: buildInitialMessage(query, actx)},
	}

	result := s.run(ctx)
	result.ExecutionTime = time.Since(start)
	result.Delegations = s.box.Delegations()
	result.TokenSavings = s.manager.TokenSavingsEstimate()

	e.stats.Sessions++
	e.stats.TotalTurns += len(result.Turns)
	e.stats.TotalCalls += result.Delegations
	e.stats.TotalDuration += result.ExecutionTime
	if result.Success {
		e.stats.Successes++
	} else {
		e.stats.Failures++
	}

	s.record(trace.EventFinalize, len(result.Turns), result.Error, 0)
	s.emitter.emit(PhaseComplete, len(result.Turns), result.Delegations, "session complete")

	slog.Info("analysis complete",
		"session", s.id,
		"success", result.Success,
		"turns", len(result.Turns),
		"delegations", result.Delegations,
		"duration", result.ExecutionTime)

	return result
}

// run executes the turn loop until a gated finalize, timeout, or the
// turn ceiling.
func (s *session) run(ctx context.Context) *Result {
	cfg := s.engine.cfg

	for turn := 1; turn <= cfg.MaxTurns; turn++ {
		s.curTurn = turn
		if time.Since(s.start) > cfg.Timeout {
			return s.failure(fmt.Sprintf("timeout after %s", cfg.Timeout))
		}
		s.emitter.emit(PhaseTurnStart, turn, s.box.Delegations(), "")

		optimized := s.manager.BuildOptimizedHistory(s.history, turn)

		s.emitter.emit(PhaseModelCall, turn, s.box.Delegations(), "")
		resp, err := s.engine.callConversation(ctx, optimized, cfg.RootModel)
		if err != nil {
			return s.failure(fmt.Sprintf("provider call failed: %v", err))
		}

		indicators := s.detector.AnalyzeResponse(resp.Text)
		s.compressor.UpdateUsage(estimateHistoryTokens(optimized) + compress.EstimateTokens(resp.Text))

		execResult, hadScript := s.processResponse(ctx, turn, resp.Text)

		s.recordTurn(turn, resp.Text, execResult, hadScript)

		if msg := s.rotIntervention(indicators); msg != "" {
			s.history = append(s.history, provider.Message{Role: provider.RoleUser, Content: msg})
			s.record(trace.EventRot, turn, string(indicators.Recommended), 0)
		}

		if answer, ok := s.finalAnswer(resp.Text); ok {
			check := checkFinalizeGate(s.box.Delegations(), len(s.actx.Paths))
			if check.Accepted {
				return s.success(ctx, answer)
			}
			s.box.ClearFinal()
			msg := rejectionMessage(check, s.box.Delegations())
			s.history = append(s.history, provider.Message{Role: provider.RoleUser, Content: msg})
			s.emitter.emit(PhaseFinalizeRejected, turn, s.box.Delegations(),
				fmt.Sprintf("finalize rejected, %d more delegated calls needed", check.Shortfall))
			slog.Debug("finalize rejected",
				"session", s.id, "turn", turn,
				"delegations", s.box.Delegations(), "required", check.Required)
		}
	}

	return s.failure(fmt.Sprintf("max turns (%d) exceeded without final answer", cfg.MaxTurns))
}

// processResponse executes any script in the response and appends the
// assistant turn plus feedback to history. Responses with neither a
// script nor a finalize call get a nudge.
func (s *session) processResponse(ctx context.Context, turn int, text string) (sandbox.ExecResult, bool) {
	s.history = append(s.history, provider.Message{Role: provider.RoleAssistant, Content: text})

	_, hasBlock := sandbox.ExtractScript(text)
	if !hasBlock {
		if _, hasFinalize := sandbox.ParseFinalize(text); hasFinalize {
			// Finalize embedded in prose: no script to run, the gate
			// evaluates the parsed value directly.
			return sandbox.ExecResult{Success: true}, false
		}
		s.history = append(s.history, provider.Message{Role: provider.RoleUser, Content: nudgeMessage})
		return sandbox.ExecResult{}, false
	}

	s.emitter.emit(PhaseScript, turn, s.box.Delegations(), "")
	res := s.box.Execute(ctx, text)

	feedback := executionFeedback(res.Output, res.Error)
	if repeats := s.errLoop.observe(res.Error); repeats >= 2 {
		feedback = errorLoopNudge(res.Error)
	}
	s.history = append(s.history, provider.Message{Role: provider.RoleUser, Content: feedback})

	if res.Error != "" {
		s.record(trace.EventError, turn, res.Error, 0)
	}
	return res, true
}

// recordTurn appends the turn record, updates the context manager, and
// notifies the turn observer.
func (s *session) recordTurn(turn int, response string, res sandbox.ExecResult, hadScript bool) {
	script := ""
	if hadScript {
		script, _ = sandbox.ExtractScript(response)
	}
	rec := Turn{
		Number:      turn,
		Response:    response,
		Script:      script,
		Output:      res.Output,
		Error:       res.Error,
		Timestamp:   time.Now(),
		Delegations: s.box.Delegations(),
	}
	s.turns = append(s.turns, rec)
	s.manager.RegisterTurn(turn, response, res.Output, res.Error)

	if s.engine.onTurn != nil {
		s.engine.onTurn(rec)
	}
	s.record(trace.EventTurn, turn, summarizeForTrace(response), 0)
	s.emitter.emit(PhaseTurnEnd, turn, s.box.Delegations(), "")
}

// rotIntervention returns the reminder message for the detector's
// recommendation, or "" when none applies. Restart is handled as a
// summarize-strength reminder: the session budgets stay the only
// terminal conditions.
func (s *session) rotIntervention(ind rot.Indicators) string {
	switch ind.Recommended {
	case rot.ActionInjectMemory:
		return rot.MemoryInjection(s.manager.Bank())
	case rot.ActionSummarize, rot.ActionRestart:
		relevant := s.filter.FilterByAttention(s.manager.Bank().Entries(), 10)
		lines := make([]findingLine, 0, len(relevant))
		for _, e := range relevant {
			lines = append(lines, findingLine{kind: string(e.Type), content: e.Content})
		}
		if msg := relevantFindingsReminder(lines); msg != "" {
			return msg
		}
		return rot.MemoryInjection(s.manager.Bank())
	default:
		return ""
	}
}

// finalAnswer checks the sandbox finalize slot first, then falls back
// to parsing a finalize call directly out of the response text.
func (s *session) finalAnswer(response string) (string, bool) {
	if answer, ok := s.box.FinalAnswer(); ok {
		return answer, true
	}
	return sandbox.ParseFinalize(response)
}

// delegate sends one sub-task to the satellite model and compresses
// the result before returning it to the calling script.
func (s *session) delegate(ctx context.Context, prompt, payload string) (string, error) {
	cfg := s.engine.cfg

	resp, err := s.engine.callPrompt(ctx, delegatePrompt(prompt, payload), cfg.SubModel)
	if err != nil {
		return "", fmt.Errorf("delegated call failed: %w", err)
	}

	text := s.manager.CompressResult(resp.Text)
	maxLen := s.compressor.MaxResultLength(cfg.Context.MaxResultLength)
	if len(text) > maxLen {
		text = s.compressor.CompressAdaptively(text, maxLen)
		s.record(trace.EventCompression, s.curTurn, s.compressor.CompressionLevel().String(), 0)
	}

	s.record(trace.EventDelegation, s.curTurn, firstLine(prompt), tokensOf(resp))
	return text, nil
}

// success runs the optional refinement loop and builds the final
// result.
func (s *session) success(ctx context.Context, answer string) *Result {
	if s.engine.cfg.RefineEnabled {
		answer = s.refineAnswer(ctx, answer)
	}
	return &Result{Success: true, Answer: answer, Turns: s.turns}
}

func (s *session) failure(reason string) *Result {
	slog.Warn("analysis failed", "session", s.id, "reason", reason)
	return &Result{Turns: s.turns, Error: reason}
}

// refineAnswer drives critique/refinement passes until the quality
// threshold, the pass budget, or diminishing improvement. Refinement
// failures keep the best draft so far rather than failing the session.
func (s *session) refineAnswer(ctx context.Context, answer string) string {
	cfg := s.engine.cfg
	s.refiner.Reset()

	previous := -1
	for {
		quality := refine.EvaluateQuality(answer, s.query)
		s.refiner.RecordPass(quality, nil, nil)
		if !s.refiner.ShouldContinueRefinement(quality, previous) {
			return answer
		}
		previous = quality

		critique, err := s.engine.callPrompt(ctx, refine.GenerateCritiquePrompt(answer, s.query), cfg.SubModel)
		if err != nil {
			slog.Warn("critique pass failed", "session", s.id, "error", err)
			return answer
		}
		improved, err := s.engine.callPrompt(ctx,
			refine.GenerateRefinementPrompt(answer, critique.Text, s.query), cfg.RootModel)
		if err != nil {
			slog.Warn("refinement pass failed", "session", s.id, "error", err)
			return answer
		}
		answer = improved.Text
	}
}

// record sends an event to the trace recorder, if any. Recording is
// best-effort.
func (s *session) record(eventType trace.EventType, turn int, detail string, tokens int) {
	if s.engine.recorder == nil {
		return
	}
	err := s.engine.recorder.Record(trace.Event{
		ID:        uuid.NewString(),
		SessionID: s.id,
		Type:      eventType,
		Turn:      turn,
		Detail:    detail,
		Tokens:    tokens,
		Timestamp: time.Now(),
	})
	if err != nil {
		slog.Warn("trace record failed", "session", s.id, "error", err)
	}
}

// callConversation calls the provider with the primary model and, on a
// transient failure only, retries once against the fallback model.
// Any other error class surfaces immediately.
func (e *Engine) callConversation(ctx context.Context, messages []provider.Message, model string) (*provider.Response, error) {
	opts := provider.Options{
		Model:       model,
		Temperature: e.cfg.Temperature,
		MaxTokens:   int(e.cfg.MaxTokens),
	}
	resp, err := e.provider.GenerateConversation(ctx, messages, opts)
	if err == nil {
		return resp, nil
	}
	if !provider.IsTransient(err) || e.cfg.FallbackModel == "" || e.cfg.FallbackModel == model {
		return nil, err
	}

	slog.Warn("primary model failed, retrying with fallback",
		"model", model, "fallback", e.cfg.FallbackModel, "error", err)
	opts.Model = e.cfg.FallbackModel
	resp, ferr := e.provider.GenerateConversation(ctx, messages, opts)
	if ferr != nil {
		return nil, fmt.Errorf("fallback model also failed: %w", ferr)
	}
	return resp, nil
}

// callPrompt is the single-prompt variant of callConversation with the
// same fallback semantics.
func (e *Engine) callPrompt(ctx context.Context, prompt, model string) (*provider.Response, error) {
	opts := provider.Options{
		Model:       model,
		Temperature: e.cfg.Temperature,
		MaxTokens:   int(e.cfg.MaxTokens),
	}
	resp, err := e.provider.Generate(ctx, prompt, opts)
	if err == nil {
		return resp, nil
	}
	if !provider.IsTransient(err) || e.cfg.FallbackModel == "" || e.cfg.FallbackModel == model {
		return nil, err
	}

	slog.Warn("primary model failed, retrying with fallback",
		"model", model, "fallback", e.cfg.FallbackModel, "error", err)
	opts.Model = e.cfg.FallbackModel
	resp, ferr := e.provider.Generate(ctx, prompt, opts)
	if ferr != nil {
		return nil, fmt.Errorf("fallback model also failed: %w", ferr)
	}
	return resp, nil
}

// DelegateBatch runs independent sub-queries through the parallel
// executor, outside the per-turn delegation path. Each call gets the
// same fallback semantics as a scripted delegation.
func (e *Engine) DelegateBatch(ctx context.Context, queries []async.Query) (*async.BatchResult, error) {
	exec := async.NewExecutor(e.cfg.Async)
	return exec.ExecuteBatch(ctx, queries, func(ctx context.Context, prompt, payload string) (string, error) {
		resp, err := e.callPrompt(ctx, delegatePrompt(prompt, payload), e.cfg.SubModel)
		if err != nil {
			return "", err
		}
		return resp.Text, nil
	})
}

// estimateHistoryTokens sums the token estimate across a rendered
// history.
func estimateHistoryTokens(messages []provider.Message) int {
	total := 0
	for _, m := range messages {
		total += compress.EstimateTokens(m.Content)
	}
	return total
}

func summarizeForTrace(response string) string {
	return firstLine(response)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	return s
}

func tokensOf(resp *provider.Response) int {
	if resp == nil || resp.Usage == nil {
		return 0
	}
	return resp.Usage.TotalTokens
}
