package contextmgr

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/zendizmo/rlm-analyzer/internal/provider"
)

func TestCompressResult_UnderBudgetUnchanged(t *testing.T) {
	m := NewManager(Config{MaxResultLength: 100})
	text := "short result"
	assert.Equal(t, text, m.CompressResult(text))
}

func TestCompressResult_KeepsHeadersAndKeySections(t *testing.T) {
	m := NewManager(Config{MaxResultLength: 300})

	var sb strings.Builder
	sb.WriteString("# Analysis\n")
	sb.WriteString(strings.Repeat("Long filler prose line that is dropped.\n", 30))
	sb.WriteString("## Summary\n")
	sb.WriteString("The handler validates nothing.\n")
	sb.WriteString("## Details\n")
	sb.WriteString(strings.Repeat("More filler.\n", 30))

	out := m.CompressResult(sb.String())
	assert.Contains(t, out, "# Analysis")
	assert.Contains(t, out, "## Summary")
	assert.Contains(t, out, "The handler validates nothing.")
	assert.NotContains(t, out, "Long filler prose")
}

func TestCompressResult_IdempotentOnceUnderBudget(t *testing.T) {
	m := NewManager(Config{MaxResultLength: 500})

	text := strings.Repeat("- bullet finding line\n", 5) +
		strings.Repeat("filler prose that compression drops entirely\n", 50)
	once := m.CompressResult(text)
	require.LessOrEqual(t, len(once), 500)

	twice := m.CompressResult(once)
	assert.Equal(t, once, twice)
}

func TestExtractFindings_CapAndTyping(t *testing.T) {
	m := NewManager(DefaultConfig())

	text := strings.Join([]string{
		"Found a pattern in the event dispatch code",
		"Detected an issue in request parsing",
		"The dependency on the legacy client is unused",
		"Identified the main entry file for the service",
		"warning: deprecated API usage in handlers",
		"Found another error in the retry path",
		"Detected yet another issue in config loading",
	}, "\n")

	findings := m.ExtractFindings(text, 2, "src/app.go")
	require.Len(t, findings, 5, "emission capped at five per call")

	assert.Equal(t, TypePattern, findings[0].Type)
	assert.Equal(t, TypeIssue, findings[1].Type)
	assert.Equal(t, TypeDependency, findings[2].Type)
	for _, f := range findings {
		assert.Equal(t, 2, f.Turn)
		assert.Equal(t, "src/app.go", f.Source)
		assert.GreaterOrEqual(t, f.Importance, 1)
		assert.LessOrEqual(t, f.Importance, 10)
	}
}

func TestExtractFindings_ImportanceBoosts(t *testing.T) {
	m := NewManager(DefaultConfig())

	critical := m.ExtractFindings("Found a critical security flaw", 1, "")
	plain := m.ExtractFindings("Found a naming convention", 1, "")
	noted := m.ExtractFindings("Found a note about todo cleanup", 1, "")

	require.Len(t, critical, 1)
	require.Len(t, plain, 1)
	require.Len(t, noted, 1)
	assert.Greater(t, critical[0].Importance, plain[0].Importance)
	assert.Less(t, noted[0].Importance, plain[0].Importance)
}

func TestExtractFindings_IgnoresShortAndPlainLines(t *testing.T) {
	m := NewManager(DefaultConfig())

	findings := m.ExtractFindings("ok\nnothing interesting here at all", 1, "")
	assert.Empty(t, findings)
}

func TestRegisterTurn_BuildsCompressedTurn(t *testing.T) {
	m := NewManager(DefaultConfig())

	m.RegisterTurn(1, "```\nr = delegate(\"check auth\", \"\")\n```",
		"Found an issue in token validation\nDetected a pattern in middleware chaining", "")

	turns := m.CompressedTurns()
	require.Len(t, turns, 1)
	assert.Equal(t, 1, turns[0].Turn)
	assert.Equal(t, "delegated sub-analysis", turns[0].Action)
	assert.True(t, turns[0].HadScript)
	assert.False(t, turns[0].HadError)
	assert.NotEmpty(t, turns[0].Findings)
	assert.Greater(t, m.Bank().Len(), 0)
}

func TestRegisterTurn_ActionSummaries(t *testing.T) {
	tests := []struct {
		response string
		want     string
	}{
		{"```\nx = delegate(\"q\", \"\")\n```", "delegated sub-analysis"},
		{`finalize("done")`, "attempted final answer"},
		{"```\nprint(list_files())\n```", "listed files"},
		{"```\nprint(read_file(\"a.go\"))\n```", "read file contents"},
	}
	for _, tt := range tests {
		m := NewManager(DefaultConfig())
		m.RegisterTurn(1, tt.response, "", "")
		assert.Equal(t, tt.want, m.CompressedTurns()[0].Action)
	}
}

func buildHistory(n int) []provider.Message {
	history := []provider.Message{
		{Role: provider.RoleSystem, Content: "system and context"},
	}
	for i := 1; i < n; i++ {
		role := provider.RoleAssistant
		if i%2 == 0 {
			role = provider.RoleUser
		}
		history = append(history, provider.Message{
			Role:    role,
			Content: fmt.Sprintf("turn message %d", i),
		})
	}
	return history
}

func TestBuildOptimizedHistory_ShortUnchanged(t *testing.T) {
	m := NewManager(Config{HistoryThreshold: 10, RecentWindow: 4})

	history := buildHistory(8)
	out := m.BuildOptimizedHistory(history, 4)
	assert.Equal(t, history, out)
}

func TestBuildOptimizedHistory_CompressesLongHistory(t *testing.T) {
	m := NewManager(Config{HistoryThreshold: 10, RecentWindow: 4})
	for i := 1; i <= 8; i++ {
		m.RegisterTurn(i, fmt.Sprintf("response %d with read_file", i), "Found a pattern in the code", "")
	}

	history := buildHistory(20)
	out := m.BuildOptimizedHistory(history, 10)

	require.Len(t, out, 6, "first message + summary + recent window")
	assert.Equal(t, history[0], out[0], "first message pinned")
	assert.Contains(t, out[1].Content, "[History compressed at turn 10]")
	assert.Equal(t, provider.RoleUser, out[1].Role)
	assert.Equal(t, history[len(history)-4:], out[2:])
}

func TestBuildOptimizedHistory_QuestionSurvivesCompression(t *testing.T) {
	m := NewManager(Config{HistoryThreshold: 10, RecentWindow: 4})

	// Engine-shaped opening: system prompt, then the user message
	// carrying the question and file index.
	history := []provider.Message{
		{Role: provider.RoleSystem, Content: "system prompt"},
		{Role: provider.RoleUser, Content: "Question: where is the auth flow?\n\nFile index (30 files):"},
	}
	for i := 0; i < 18; i++ {
		role := provider.RoleAssistant
		if i%2 == 1 {
			role = provider.RoleUser
		}
		history = append(history, provider.Message{Role: role, Content: fmt.Sprintf("turn message %d", i)})
	}

	out := m.BuildOptimizedHistory(history, 10)

	require.Len(t, out, 7, "system + question + summary + recent window")
	assert.Equal(t, history[0], out[0])
	assert.Equal(t, history[1], out[1], "question and file index pinned")
	assert.Contains(t, out[2].Content, "[History compressed at turn 10]")
	assert.Equal(t, history[len(history)-4:], out[3:])

	joined := ""
	for _, msg := range out {
		joined += msg.Content + "\n"
	}
	assert.Contains(t, joined, "where is the auth flow?")
	assert.Contains(t, joined, "File index (30 files)")
}

func TestBuildOptimizedHistory_SummaryCarriesFindings(t *testing.T) {
	m := NewManager(Config{HistoryThreshold: 5, RecentWindow: 2})
	m.RegisterTurn(1, "```\nprint(search(\"auth\"))\n```",
		"Found a critical security issue in the auth flow", "")

	out := m.BuildOptimizedHistory(buildHistory(12), 6)
	assert.Contains(t, out[1].Content, "Key findings so far")
	assert.Contains(t, out[1].Content, "auth flow")
}

func TestTokenSavingsEstimate(t *testing.T) {
	m := NewManager(Config{MaxResultLength: 100})

	m.CompressResult(strings.Repeat("- finding line\n", 100))
	savings := m.TokenSavingsEstimate()
	assert.Greater(t, savings.OriginalChars, savings.CompressedChars)
	assert.Equal(t, savings.SavedChars, savings.OriginalChars-savings.CompressedChars)
	assert.Equal(t, int(savings.SavedChars/4), savings.EstimatedTokens)
}

// TestProperty_CompressResultIdempotent checks the documented
// round-trip property: once output is under the budget, compressing
// again is a no-op.
func TestProperty_CompressResultIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxLen := rapid.IntRange(100, 1000).Draw(t, "maxLen")
		m := NewManager(Config{MaxResultLength: maxLen})

		numLines := rapid.IntRange(0, 100).Draw(t, "numLines")
		var lines []string
		for i := 0; i < numLines; i++ {
			kind := rapid.IntRange(0, 2).Draw(t, "kind")
			word := rapid.StringMatching(`[a-z ]{5,40}`).Draw(t, "text")
			switch kind {
			case 0:
				lines = append(lines, "# "+word)
			case 1:
				lines = append(lines, "- "+word)
			default:
				lines = append(lines, word)
			}
		}
		text := strings.Join(lines, "\n")

		once := m.CompressResult(text)
		if len(once) <= maxLen {
			if twice := m.CompressResult(once); twice != once {
				t.Errorf("not idempotent: %q -> %q", once, twice)
			}
		}
	})
}
