package rlm

import (
	"fmt"
	"strings"
)

// systemPrompt instructs the root model on the analysis protocol and
// the script language the sandbox accepts.
const systemPrompt = `You are analyzing a source-code tree that is too large to read at once.
Each turn, respond with ONE fenced code block containing a short analysis script,
or call finalize("...") when you have a complete answer.

The script language supports assignment, string and integer literals,
"+" concatenation, and these calls:

  list_files()                 - newline-separated list of all file paths
  read_file("path")            - full contents of one file
  search("term")               - case-insensitive search across all files, as path:line hits
  lines(text, start, end)      - extract a 1-based inclusive line range
  len(value)                   - length of a string
  print(values...)             - record output you will see next turn
  delegate("prompt", payload)  - send a bounded sub-task plus supporting text to a
                                 satellite model and get its answer back
  finalize("answer")           - submit your final answer

There is no control flow and no access to the network, the process, or
the real filesystem. Delegate aggressively: read or search for relevant
content, pass it to delegate() with a focused question, and build your
answer from the delegated findings. A final answer is only accepted
after enough delegated calls for the size of the tree.`

// buildInitialMessage renders the query, analysis mode, and file index
// into the opening user message.
func buildInitialMessage(query string, actx *Context) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\n", query)

	mode := actx.Mode
	if mode != "" && mode != "general" {
		fmt.Fprintf(&sb, "Analysis mode: %s\n\n", mode)
	}

	fmt.Fprintf(&sb, "File index (%d files):\n", len(actx.Paths))
	for _, p := range actx.Paths {
		sb.WriteString("  " + p + "\n")
	}

	if len(actx.Variables) > 0 {
		sb.WriteString("\nAdditional context:\n")
		for k, v := range actx.Variables {
			fmt.Fprintf(&sb, "  %s: %s\n", k, v)
		}
	}

	sb.WriteString("\nBegin your analysis. Respond with a script.")
	return sb.String()
}

// nudgeMessage asks for a script or finalize call when a response
// contained neither.
const nudgeMessage = "Your response contained no script and no finalize() call. " +
	"Respond with a fenced code block containing an analysis script, or " +
	"finalize(\"...\") with your complete answer."

// errorLoopNudge is the stronger corrective injected when the same
// script error repeats on consecutive turns.
func errorLoopNudge(execErr string) string {
	return fmt.Sprintf(
		"You have hit the same error repeatedly: %s\n"+
			"Change your approach entirely. Use simpler calls (list_files, search) to "+
			"re-establish what exists before retrying, and check file paths against the index.",
		execErr)
}

// executionFeedback renders a script's result as the next user message.
// Error text is propagated verbatim so the model can self-correct.
func executionFeedback(output, execErr string) string {
	if execErr != "" {
		if output != "" {
			return fmt.Sprintf("Execution error: %s\n\nPartial output:\n%s", execErr, output)
		}
		return "Execution error: " + execErr
	}
	if output == "" {
		return "Script executed with no output. Use print() to record what you learn."
	}
	return "Execution output:\n" + output
}

// delegatePrompt composes the message sent to the satellite model for
// one delegated sub-task.
func delegatePrompt(prompt, payload string) string {
	if payload == "" {
		return prompt
	}
	return fmt.Sprintf("%s\n\nSupporting material:\n%s", prompt, payload)
}

// relevantFindingsReminder renders attention-filtered memory entries
// into a reminder block, used when the rot detector recommends a
// summarize intervention.
func relevantFindingsReminder(entries []findingLine) string {
	if len(entries) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("[Findings most relevant to the question]\n")
	for _, e := range entries {
		fmt.Fprintf(&sb, "- [%s] %s\n", e.kind, e.content)
	}
	sb.WriteString("\nRefocus on the question using these findings.")
	return sb.String()
}

// findingLine is a rendered memory entry for reminder blocks.
type findingLine struct {
	kind    string
	content string
}
