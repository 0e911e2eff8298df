package rlm

import (
	"fmt"
	"strings"
)

// MinDelegations returns the minimum delegated-call count required
// before a final answer is accepted, derived from the file count. The
// tier table is an anti-laziness heuristic: larger trees demand more
// delegated inspection before the root model may conclude.
func MinDelegations(fileCount int) int {
	switch {
	case fileCount >= 200:
		return 5
	case fileCount >= 100:
		return 4
	case fileCount >= 50:
		return 3
	case fileCount >= 20:
		return 2
	default:
		return 1
	}
}

// gateCheck is the outcome of evaluating a finalize attempt against
// the delegation gate.
type gateCheck struct {
	// Accepted is true when the finalize value may terminate the loop.
	Accepted bool

	// Required is the minimum delegated-call count for this session.
	Required int

	// Shortfall is how many more delegated calls are needed.
	Shortfall int
}

// checkFinalizeGate evaluates whether a final answer may be accepted.
func checkFinalizeGate(delegations, fileCount int) gateCheck {
	required := MinDelegations(fileCount)
	check := gateCheck{Required: required}
	if delegations >= required {
		check.Accepted = true
		return check
	}
	check.Shortfall = required - delegations
	return check
}

// rejectionMessage is the corrective message pushed into history when
// a finalize attempt is rejected. It carries the exact shortfall so
// the model knows how much more delegation is required.
func rejectionMessage(check gateCheck, delegations int) string {
	return fmt.Sprintf(
		"Your final answer was rejected: you have made %d delegated call(s) but this "+
			"analysis requires at least %d (%d more needed). Use delegate() to examine "+
			"the files in depth before calling finalize() again.",
		delegations, check.Required, check.Shortfall)
}

// errorLoopTracker watches for the same script error repeating on
// consecutive turns so the engine can inject a stronger nudge.
type errorLoopTracker struct {
	lastError string
	repeats   int
}

// observe records a turn's script error and reports how many
// consecutive turns have produced the same error.
func (t *errorLoopTracker) observe(execErr string) int {
	if execErr == "" {
		t.lastError = ""
		t.repeats = 0
		return 0
	}
	sig := errorSignature(execErr)
	if sig == t.lastError {
		t.repeats++
	} else {
		t.lastError = sig
		t.repeats = 1
	}
	return t.repeats
}

// errorSignature normalizes an error message for repetition detection.
func errorSignature(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
