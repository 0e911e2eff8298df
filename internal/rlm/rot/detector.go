// Package rot detects linguistic signs that the root model has lost
// track of earlier findings. Scoring is a best-effort heuristic over
// phrase patterns: false positives are possible on responses that
// legitimately quote confused text, and false negatives on models
// that lose context silently. Thresholds gate recommendations only;
// tests assert directional behavior, not exact scores.
package rot

import (
	"fmt"
	"strings"

	"github.com/zendizmo/rlm-analyzer/internal/rlm/contextmgr"
)

// Action is the detector's recommended intervention.
type Action string

const (
	// ActionNone means no intervention is needed.
	ActionNone Action = "none"

	// ActionInjectMemory recommends inserting a memory reminder.
	ActionInjectMemory Action = "inject_memory"

	// ActionSummarize recommends compressing history and reminding.
	ActionSummarize Action = "summarize"

	// ActionRestart recommends restarting the conversation.
	ActionRestart Action = "restart"
)

// Indicators is the per-response analysis result. Ephemeral; the
// detector retains only a rolling window of recent responses.
type Indicators struct {
	// Detected is true when any confusion signal matched.
	Detected bool

	// Confidence is the net rot score, 0-100, including the decayed
	// carry from recent responses in the window.
	Confidence int

	// Matched lists the indicator phrases that fired.
	Matched []string

	// Recommended is the suggested intervention.
	Recommended Action
}

// confusion phrases signal amnesia or lost context.
var confusionPhrases = []string{
	"can you remind me",
	"what was the question",
	"i'm not sure what",
	"as mentioned before, but i don't recall",
	"i don't have access to",
	"i cannot see the",
	"could you provide the",
	"what file were we",
	"i seem to have lost",
	"let me start over",
}

// retention phrases signal the model is building on prior findings.
var retentionPhrases = []string{
	"building on the earlier",
	"as found in turn",
	"as identified earlier",
	"continuing from",
	"the previous analysis showed",
	"combining these findings",
	"based on the findings so far",
}

// task vocabulary a substantial on-track response should reference.
var taskVocabulary = []string{
	"file", "delegate", "finalize", "read_file", "list_files", "search",
}

// Config configures the detector.
type Config struct {
	// Window is the number of recent responses retained for
	// repetition and question-density signals.
	Window int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Window: 5}
}

// Detector scans model responses for rot signals.
type Detector struct {
	cfg            Config
	recent         []string
	scores         []int
	retentionTotal int
}

// NewDetector creates a rot detector.
func NewDetector(cfg Config) *Detector {
	if cfg.Window <= 0 {
		cfg.Window = 5
	}
	return &Detector{cfg: cfg}
}

// RetentionTotal returns the lifetime count of retention signals seen.
func (d *Detector) RetentionTotal() int { return d.retentionTotal }

// scoring weights
const (
	confusionWeight    = 20
	retentionWeight    = 15
	questionWeight     = 15
	noVocabularyWeight = 10
)

// substantialLength is the response size above which missing task
// vocabulary counts as a rot signal.
const substantialLength = 200

// AnalyzeResponse scores a response for rot and recommends an action.
func (d *Detector) AnalyzeResponse(text string) Indicators {
	d.recent = append(d.recent, text)
	if len(d.recent) > d.cfg.Window {
		d.recent = d.recent[len(d.recent)-d.cfg.Window:]
	}

	lower := strings.ToLower(text)
	ind := Indicators{Recommended: ActionNone}

	rot := 0
	retention := 0

	for _, phrase := range confusionPhrases {
		if strings.Contains(lower, phrase) {
			rot += confusionWeight
			ind.Matched = append(ind.Matched, phrase)
		}
	}

	for _, phrase := range retentionPhrases {
		if strings.Contains(lower, phrase) {
			retention += retentionWeight
			d.retentionTotal++
		}
	}

	if d.highQuestionDensity() {
		rot += questionWeight
		ind.Matched = append(ind.Matched, "high question density")
	}

	if len(text) > substantialLength && !d.referencesTask(lower) {
		rot += noVocabularyWeight
		ind.Matched = append(ind.Matched, "no task vocabulary")
	}

	net := rot - retention
	if net < 0 {
		net = 0
	}

	// Prior window scores carry at half weight: repeated confusion
	// accumulates toward escalation, while a calm stretch slides the
	// window past old signals and confidence decays back down.
	carry := 0
	for _, s := range d.scores {
		carry += s
	}
	carry /= 2

	d.scores = append(d.scores, net)
	if len(d.scores) > d.cfg.Window {
		d.scores = d.scores[len(d.scores)-d.cfg.Window:]
	}

	confidence := net + carry
	if confidence > 100 {
		confidence = 100
	}

	ind.Confidence = confidence
	ind.Detected = len(ind.Matched) > 0

	switch {
	case confidence >= 60:
		ind.Recommended = ActionRestart
	case confidence >= 40:
		ind.Recommended = ActionSummarize
	case confidence >= 20:
		ind.Recommended = ActionInjectMemory
	}

	return ind
}

// highQuestionDensity reports whether the recent window averages an
// unusual number of question marks per response.
func (d *Detector) highQuestionDensity() bool {
	if len(d.recent) == 0 {
		return false
	}
	total := 0
	for _, r := range d.recent {
		total += strings.Count(r, "?")
	}
	return float64(total)/float64(len(d.recent)) > 3
}

func (d *Detector) referencesTask(lower string) bool {
	for _, word := range taskVocabulary {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

// MemoryInjection renders the top memory entries into a reminder block
// inserted as the next user-facing message when the orchestrator acts
// on an inject_memory or summarize recommendation.
func MemoryInjection(bank *contextmgr.Bank) string {
	top := bank.Top(10)
	if len(top) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("[Reminder of key findings from earlier turns]\n")
	for _, e := range top {
		src := ""
		if e.Source != "" {
			src = " (" + e.Source + ")"
		}
		sb.WriteString(fmt.Sprintf("- [%s, importance %d] %s%s\n", e.Type, e.Importance, e.Content, src))
	}
	sb.WriteString("\nContinue the analysis using these findings. Do not re-derive them.")
	return sb.String()
}
