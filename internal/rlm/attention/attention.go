// Package attention scores and filters memory entries by relevance to
// the current query, with type-based and query-derived weighting.
package attention

import (
	"sort"
	"strings"

	"github.com/zendizmo/rlm-analyzer/internal/rlm/contextmgr"
)

// Filter ranks memory entries for the current query.
type Filter struct {
	query      string
	queryWords []string
	weights    map[contextmgr.EntryType]float64
}

// defaultWeights weight issues highest and summaries lowest.
func defaultWeights() map[contextmgr.EntryType]float64 {
	return map[contextmgr.EntryType]float64{
		contextmgr.TypeIssue:        1.5,
		contextmgr.TypeFileAnalysis: 1.2,
		contextmgr.TypePattern:      1.1,
		contextmgr.TypeDependency:   1.0,
		contextmgr.TypeSummary:      0.8,
	}
}

// NewFilter creates an attention filter with default weights.
func NewFilter() *Filter {
	return &Filter{weights: defaultWeights()}
}

// SetQueryContext stores the query for relevance scoring and adjusts
// type weights based on query vocabulary.
func (f *Filter) SetQueryContext(query string) {
	f.query = strings.ToLower(query)
	f.queryWords = significantWords(f.query)
	f.adjustWeightsForQuery(f.query)
}

// adjustWeightsForQuery applies keyword-triggered weight overrides on
// top of the defaults.
func (f *Filter) adjustWeightsForQuery(query string) {
	f.weights = defaultWeights()

	if containsAny(query, "security", "vulnerability", "exploit", "unsafe") {
		f.weights[contextmgr.TypeIssue] = 2.0
		f.weights[contextmgr.TypePattern] = 0.9
	}
	if containsAny(query, "architecture", "structure", "design", "organized") {
		f.weights[contextmgr.TypePattern] = 1.8
	}
	if containsAny(query, "dependency", "dependencies", "import", "imports", "coupling") {
		f.weights[contextmgr.TypeDependency] = 1.8
	}
}

// Score computes importance x typeWeight x (1 + relevance), where
// relevance is the fraction of significant query words present in the
// entry content.
func (f *Filter) Score(entry contextmgr.MemoryEntry) float64 {
	weight, ok := f.weights[entry.Type]
	if !ok {
		weight = 1.0
	}
	return float64(entry.Importance) * weight * (1 + f.relevance(entry.Content))
}

func (f *Filter) relevance(content string) float64 {
	if len(f.queryWords) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	matched := 0
	for _, word := range f.queryWords {
		if strings.Contains(lower, word) {
			matched++
		}
	}
	return float64(matched) / float64(len(f.queryWords))
}

// FilterByAttention returns the top-n entries by attention score.
func (f *Filter) FilterByAttention(entries []contextmgr.MemoryEntry, n int) []contextmgr.MemoryEntry {
	scored := make([]contextmgr.MemoryEntry, len(entries))
	copy(scored, entries)

	sort.SliceStable(scored, func(i, j int) bool {
		return f.Score(scored[i]) > f.Score(scored[j])
	})

	if n > len(scored) {
		n = len(scored)
	}
	return scored[:n]
}

// significantWords returns lower-cased query words longer than 3 runes.
func significantWords(query string) []string {
	var words []string
	for _, w := range strings.Fields(query) {
		w = strings.Trim(w, ".,!?:;\"'")
		if len(w) > 3 {
			words = append(words, w)
		}
	}
	return words
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
