// Package refine implements the optional multi-pass quality loop: a
// draft answer is scored heuristically and refined until a quality
// threshold or the pass budget is reached. The quality score is a
// best-effort additive heuristic; tests assert directional behavior.
package refine

import (
	"fmt"
	"strings"
)

// PassResult records one refinement pass.
type PassResult struct {
	// Pass is the 1-based pass number.
	Pass int

	// Quality is the heuristic score, 0-100.
	Quality int

	// Improvements notes what this pass improved.
	Improvements []string

	// Issues notes remaining weaknesses.
	Issues []string

	// Continue indicates another pass is warranted.
	Continue bool
}

// Config configures the refiner.
type Config struct {
	// MaxPasses bounds the refinement loop.
	MaxPasses int

	// QualityThreshold stops refinement once reached.
	QualityThreshold int

	// MinImprovement stops refinement when a pass gains less than
	// this many points over the previous one.
	MinImprovement int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxPasses:        3,
		QualityThreshold: 80,
		MinImprovement:   5,
	}
}

// Refiner drives the quality loop. Pass history resets per query.
type Refiner struct {
	cfg    Config
	passes []PassResult
}

// NewRefiner creates a refiner.
func NewRefiner(cfg Config) *Refiner {
	if cfg.MaxPasses <= 0 {
		cfg.MaxPasses = 3
	}
	if cfg.QualityThreshold <= 0 {
		cfg.QualityThreshold = 80
	}
	if cfg.MinImprovement <= 0 {
		cfg.MinImprovement = 5
	}
	return &Refiner{cfg: cfg}
}

// Reset clears pass history for a new query.
func (r *Refiner) Reset() { r.passes = nil }

// Passes returns the pass history.
func (r *Refiner) Passes() []PassResult {
	out := make([]PassResult, len(r.passes))
	copy(out, r.passes)
	return out
}

// RecordPass appends a pass result and returns whether to continue.
func (r *Refiner) RecordPass(quality int, improvements, issues []string) PassResult {
	previous := -1
	if len(r.passes) > 0 {
		previous = r.passes[len(r.passes)-1].Quality
	}

	pass := PassResult{
		Pass:         len(r.passes) + 1,
		Quality:      quality,
		Improvements: improvements,
		Issues:       issues,
	}
	pass.Continue = r.ShouldContinueRefinement(quality, previous) && pass.Pass < r.cfg.MaxPasses
	r.passes = append(r.passes, pass)
	return pass
}

// ShouldContinueRefinement stops at max passes, at reaching the quality
// threshold, or when improvement falls below the minimum delta.
// previous is -1 when there is no prior pass.
func (r *Refiner) ShouldContinueRefinement(current, previous int) bool {
	if len(r.passes) >= r.cfg.MaxPasses {
		return false
	}
	if current >= r.cfg.QualityThreshold {
		return false
	}
	if previous >= 0 && current-previous < r.cfg.MinImprovement {
		return false
	}
	return true
}

// EvaluateQuality scores a draft answer 0-100 with an additive
// heuristic: length in range, structural markers, query-term overlap,
// code fences and file references, backticked identifiers.
func EvaluateQuality(result, query string) int {
	score := 0

	// Length in a useful range.
	n := len(result)
	switch {
	case n >= 500 && n <= 8000:
		score += 20
	case n >= 200:
		score += 10
	}

	// Structural markers.
	if strings.Contains(result, "#") {
		score += 10
	}
	if strings.Contains(result, "\n-") || strings.Contains(result, "\n*") {
		score += 10
	}
	if hasNumberedList(result) {
		score += 5
	}

	// Query-term overlap.
	score += int(25 * queryOverlap(result, query))

	// Concrete evidence: code fences and file references.
	if strings.Contains(result, "```") {
		score += 10
	}
	if hasFileReference(result) {
		score += 10
	}
	if strings.Count(result, "`") >= 4 {
		score += 10
	}

	if score > 100 {
		return 100
	}
	return score
}

// GenerateCritiquePrompt composes the critique request for a draft.
// Deterministic templating, not an algorithm.
func GenerateCritiquePrompt(draft, query string) string {
	return fmt.Sprintf(`Critique the following draft answer to the question below.
Identify missing evidence, unsupported claims, and structural weaknesses.
Be specific and concise; list concrete improvements.

Question: %s

Draft answer:
%s`, query, draft)
}

// GenerateRefinementPrompt composes the refinement request from the
// draft and its critique.
func GenerateRefinementPrompt(draft, critique, query string) string {
	return fmt.Sprintf(`Improve the draft answer below based on the critique.
Keep what is correct, fix what the critique identifies, and do not
invent findings that are not supported by the analysis.

Question: %s

Draft answer:
%s

Critique:
%s

Write the improved answer:`, query, draft, critique)
}

func queryOverlap(result, query string) float64 {
	lower := strings.ToLower(result)
	words := strings.Fields(strings.ToLower(query))
	significant := 0
	matched := 0
	for _, w := range words {
		w = strings.Trim(w, ".,!?:;\"'")
		if len(w) <= 3 {
			continue
		}
		significant++
		if strings.Contains(lower, w) {
			matched++
		}
	}
	if significant == 0 {
		return 0
	}
	return float64(matched) / float64(significant)
}

func hasNumberedList(s string) bool {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if len(line) > 2 && line[0] >= '1' && line[0] <= '9' && (line[1] == '.' || line[1] == ')') {
			return true
		}
	}
	return false
}

var fileExtensions = []string{".go", ".py", ".ts", ".js", ".rs", ".java", ".c", ".h", ".rb", ".md"}

func hasFileReference(s string) bool {
	for _, ext := range fileExtensions {
		if strings.Contains(s, ext) {
			return true
		}
	}
	return false
}
