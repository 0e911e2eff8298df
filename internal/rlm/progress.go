package rlm

import (
	"fmt"
	"time"
)

// Phase identifies what the engine is doing when a progress event
// fires.
type Phase string

const (
	// PhaseTurnStart signals the start of a turn.
	PhaseTurnStart Phase = "turn_start"

	// PhaseTurnEnd signals the end of a turn.
	PhaseTurnEnd Phase = "turn_end"

	// PhaseModelCall signals a root-model call in flight.
	PhaseModelCall Phase = "model_call"

	// PhaseScript signals script execution.
	PhaseScript Phase = "script"

	// PhaseDelegation signals a delegated sub-call.
	PhaseDelegation Phase = "delegation"

	// PhaseFinalizeRejected signals a finalize attempt rejected by the
	// delegation gate.
	PhaseFinalizeRejected Phase = "finalize_rejected"

	// PhaseComplete signals the session finished.
	PhaseComplete Phase = "complete"
)

// ProgressEvent is a high-frequency status update for live reporting.
// Observers must not affect control flow.
type ProgressEvent struct {
	// Phase is what the engine is doing.
	Phase Phase

	// Turn is the current 1-based turn number.
	Turn int

	// MaxTurns is the configured turn ceiling.
	MaxTurns int

	// Delegations is the cumulative delegated-call count.
	Delegations int

	// Elapsed is time since session start.
	Elapsed time.Duration

	// Message is a human-readable description.
	Message string
}

// ProgressCallback receives progress events. Implementations should be
// non-blocking and fast.
type ProgressCallback func(event ProgressEvent)

// progressEmitter emits events to an optional callback. A nil emitter
// is safe to call.
type progressEmitter struct {
	callback ProgressCallback
	maxTurns int
	start    time.Time
}

func newProgressEmitter(callback ProgressCallback, maxTurns int, start time.Time) *progressEmitter {
	if callback == nil {
		return nil
	}
	return &progressEmitter{
		callback: callback,
		maxTurns: maxTurns,
		start:    start,
	}
}

func (e *progressEmitter) emit(phase Phase, turn, delegations int, message string) {
	if e == nil || e.callback == nil {
		return
	}
	e.callback(ProgressEvent{
		Phase:       phase,
		Turn:        turn,
		MaxTurns:    e.maxTurns,
		Delegations: delegations,
		Elapsed:     time.Since(e.start),
		Message:     message,
	})
}

// FormatProgressEvent renders an event for terminal display.
func FormatProgressEvent(event ProgressEvent) string {
	prefix := fmt.Sprintf("[%d/%d] ", event.Turn, event.MaxTurns)

	switch event.Phase {
	case PhaseTurnStart:
		return prefix + "Starting turn"
	case PhaseModelCall:
		return prefix + "Thinking..."
	case PhaseScript:
		return prefix + "Executing script"
	case PhaseDelegation:
		return prefix + fmt.Sprintf("Delegated call %d", event.Delegations)
	case PhaseFinalizeRejected:
		return prefix + event.Message
	case PhaseComplete:
		return prefix + "Complete in " + event.Elapsed.Round(100*time.Millisecond).String()
	default:
		return prefix + event.Message
	}
}
