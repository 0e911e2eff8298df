// Package contextmgr maintains the rolling memory bank and compressed
// turn history that keep a long analysis conversation inside its token
// budget. Finding extraction and importance scoring are best-effort
// keyword heuristics; tests assert directional behavior, not scores.
package contextmgr

import (
	"fmt"
	"strings"

	"github.com/zendizmo/rlm-analyzer/internal/provider"
)

// Config configures the context manager.
type Config struct {
	// MaxResultLength is the character budget for compressed results.
	MaxResultLength int

	// MemoryCapacity is the memory bank size cap.
	MemoryCapacity int

	// RecentWindow is the number of raw turns kept verbatim when the
	// history is compressed.
	RecentWindow int

	// HistoryThreshold is the message count below which the history is
	// returned unchanged.
	HistoryThreshold int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxResultLength:  2000,
		MemoryCapacity:   50,
		RecentWindow:     6,
		HistoryThreshold: 10,
	}
}

// CompressedTurn is a lossy summary of a turn, retained indefinitely
// for history compression.
type CompressedTurn struct {
	Turn      int
	Action    string
	Findings  []string
	HadScript bool
	HadError  bool
}

// TokenSavings reports cumulative original vs. compressed volume.
type TokenSavings struct {
	OriginalChars   int64
	CompressedChars int64
	SavedChars      int64
	EstimatedTokens int
}

// Manager owns the memory bank and compressed turn history. Written
// only during RegisterTurn, in turn order.
type Manager struct {
	cfg        Config
	bank       *Bank
	compressed []CompressedTurn

	originalChars   int64
	compressedChars int64
}

// NewManager creates a context manager.
func NewManager(cfg Config) *Manager {
	if cfg.MaxResultLength <= 0 {
		cfg.MaxResultLength = 2000
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 6
	}
	if cfg.HistoryThreshold <= 0 {
		cfg.HistoryThreshold = 10
	}
	return &Manager{
		cfg:  cfg,
		bank: NewBank(cfg.MemoryCapacity),
	}
}

// Bank returns the memory bank.
func (m *Manager) Bank() *Bank { return m.bank }

// CompressedTurns returns the compressed turn history.
func (m *Manager) CompressedTurns() []CompressedTurn {
	out := make([]CompressedTurn, len(m.compressed))
	copy(out, m.compressed)
	return out
}

const truncationMarker = "\n... [truncated]"

// maxBulletLines bounds how many bullet/numbered lines survive
// result compression.
const maxBulletLines = 15

// CompressResult shrinks delegated-call output to the configured max
// length: headers survive, a bounded number of bullet lines survive,
// and lines inside sections whose heading mentions summary, conclusion
// or key points survive. Idempotent once the input is under budget.
func (m *Manager) CompressResult(text string) string {
	if len(text) <= m.cfg.MaxResultLength {
		return text
	}

	m.originalChars += int64(len(text))

	lines := strings.Split(text, "\n")
	var kept []string
	bullets := 0
	inKeySection := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case isHeading(trimmed):
			kept = append(kept, line)
			inKeySection = isKeyHeading(trimmed)
		case inKeySection && trimmed != "":
			kept = append(kept, line)
		case isBulletLine(trimmed) && bullets < maxBulletLines:
			kept = append(kept, line)
			bullets++
		}
	}

	out := strings.Join(kept, "\n")
	if out == "" {
		out = text[:m.cfg.MaxResultLength]
	}
	if len(out) > m.cfg.MaxResultLength {
		out = out[:m.cfg.MaxResultLength] + truncationMarker
	}

	m.compressedChars += int64(len(out))
	return out
}

// maxFindingsPerCall caps finding emission per extraction call.
const maxFindingsPerCall = 5

// ExtractFindings scans text line by line for finding-indicative
// vocabulary and returns typed, scored memory entries. Emission is
// capped at maxFindingsPerCall.
func (m *Manager) ExtractFindings(text string, turn int, source string) []MemoryEntry {
	var findings []MemoryEntry

	for _, line := range strings.Split(text, "\n") {
		if len(findings) >= maxFindingsPerCall {
			break
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || len(trimmed) < 10 {
			continue
		}
		if !isFindingLine(trimmed) {
			continue
		}

		findings = append(findings, MemoryEntry{
			Type:       classifyFinding(trimmed),
			Content:    trimmed,
			Source:     source,
			Importance: scoreImportance(trimmed),
			Turn:       turn,
		})
	}

	return findings
}

// RegisterTurn builds a compressed turn summary and stores extracted
// findings in the memory bank.
func (m *Manager) RegisterTurn(turn int, response, execOutput, execErr string) {
	ct := CompressedTurn{
		Turn:      turn,
		Action:    summarizeAction(response),
		HadScript: strings.Contains(response, "```"),
		HadError:  execErr != "",
	}

	for _, f := range m.ExtractFindings(execOutput, turn, "") {
		m.bank.Add(f)
		if len(ct.Findings) < 3 {
			ct.Findings = append(ct.Findings, f.Content)
		}
	}

	m.compressed = append(m.compressed, ct)
}

// BuildOptimizedHistory returns the history unchanged while short;
// once it exceeds the threshold it pins the opening context, inserts
// one synthesized compression-summary message, and keeps only the most
// recent window of raw turns verbatim. The pinned head is the system
// message plus the initial user message when one follows it, so the
// question and file index survive every compression.
func (m *Manager) BuildOptimizedHistory(history []provider.Message, currentTurn int) []provider.Message {
	if len(history) <= m.cfg.HistoryThreshold {
		return history
	}

	pinned := 1
	if len(history) > 1 && history[1].Role == provider.RoleUser {
		pinned = 2
	}

	window := m.cfg.RecentWindow
	if window >= len(history)-pinned {
		return history
	}

	optimized := make([]provider.Message, 0, window+pinned+1)
	optimized = append(optimized, history[:pinned]...)
	optimized = append(optimized, provider.Message{
		Role:    provider.RoleUser,
		Content: m.buildCompressionSummary(currentTurn),
	})
	optimized = append(optimized, history[len(history)-window:]...)
	return optimized
}

// TokenSavingsEstimate reports the cumulative compression savings.
func (m *Manager) TokenSavingsEstimate() TokenSavings {
	saved := m.originalChars - m.compressedChars
	if saved < 0 {
		saved = 0
	}
	return TokenSavings{
		OriginalChars:   m.originalChars,
		CompressedChars: m.compressedChars,
		SavedChars:      saved,
		EstimatedTokens: int(saved / 4),
	}
}

// recentSummaryCount bounds how many compressed turns the synthesized
// summary message includes.
const recentSummaryCount = 8

func (m *Manager) buildCompressionSummary(currentTurn int) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[History compressed at turn %d]\n\nEarlier turns:\n", currentTurn))

	start := 0
	if len(m.compressed) > recentSummaryCount {
		start = len(m.compressed) - recentSummaryCount
	}
	for _, ct := range m.compressed[start:] {
		flag := ""
		if ct.HadError {
			flag = " (error)"
		}
		sb.WriteString(fmt.Sprintf("- turn %d: %s%s\n", ct.Turn, ct.Action, flag))
		for _, f := range ct.Findings {
			sb.WriteString("    " + f + "\n")
		}
	}

	top := m.bank.Top(10)
	if len(top) > 0 {
		sb.WriteString("\nKey findings so far:\n")
		for _, e := range top {
			sb.WriteString(fmt.Sprintf("- [%s] %s\n", e.Type, e.Content))
		}
	}

	return sb.String()
}

// summarizeAction derives a one-line description of a turn from the
// dominant action visible in the response.
func summarizeAction(response string) string {
	switch {
	case strings.Contains(response, "delegate("):
		return "delegated sub-analysis"
	case strings.Contains(response, "finalize("):
		return "attempted final answer"
	case strings.Contains(response, "list_files"):
		return "listed files"
	case strings.Contains(response, "read_file"):
		return "read file contents"
	default:
		excerpt := strings.TrimSpace(response)
		if len(excerpt) > 80 {
			excerpt = excerpt[:80] + "..."
		}
		return excerpt
	}
}

func isHeading(line string) bool {
	return strings.HasPrefix(line, "#") || strings.HasPrefix(line, "==")
}

func isKeyHeading(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "summary") ||
		strings.Contains(lower, "conclusion") ||
		strings.Contains(lower, "key")
}

func isBulletLine(line string) bool {
	if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") {
		return true
	}
	for i, r := range line {
		if r >= '0' && r <= '9' {
			continue
		}
		return i > 0 && (r == '.' || r == ')')
	}
	return false
}

var findingKeywords = []string{
	"found", "detected", "identified", "pattern", "issue",
	"warning", "error", "dependency", "architecture",
}

func isFindingLine(line string) bool {
	if isHeading(line) {
		return true
	}
	lower := strings.ToLower(line)
	for _, kw := range findingKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// classifyFinding assigns an entry type by keyword category.
func classifyFinding(line string) EntryType {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "issue") || strings.Contains(lower, "error") ||
		strings.Contains(lower, "vulnerability") || strings.Contains(lower, "bug"):
		return TypeIssue
	case strings.Contains(lower, "dependency") || strings.Contains(lower, "import"):
		return TypeDependency
	case strings.Contains(lower, "pattern") || strings.Contains(lower, "architecture") ||
		strings.Contains(lower, "design"):
		return TypePattern
	case strings.Contains(lower, "file") || strings.Contains(lower, "module"):
		return TypeFileAnalysis
	default:
		return TypeSummary
	}
}

// scoreImportance assigns a base importance adjusted by keyword boosts,
// clamped to [1, 10].
func scoreImportance(line string) int {
	score := 5
	lower := strings.ToLower(line)

	if strings.Contains(lower, "critical") || strings.Contains(lower, "security") {
		score += 3
	}
	if strings.Contains(lower, "error") || strings.Contains(lower, "bug") {
		score += 2
	}
	if strings.Contains(lower, "main") || strings.Contains(lower, "entry") ||
		strings.Contains(lower, "core") {
		score++
	}
	if strings.Contains(lower, "todo") || strings.Contains(lower, "note") {
		score--
	}

	if score < 1 {
		return 1
	}
	if score > 10 {
		return 10
	}
	return score
}
