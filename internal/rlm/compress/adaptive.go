// Package compress provides adaptive context compression for the
// analysis engine. Compression aggressiveness scales with estimated
// token usage so the conversation stays inside the model's window.
package compress

import (
	"fmt"
	"strings"
)

// Level is the compression aggressiveness, ordered from none to emergency.
type Level int

const (
	// LevelNone applies no compression.
	LevelNone Level = iota

	// LevelNormal keeps most structured content.
	LevelNormal

	// LevelAggressive keeps only compact structured content.
	LevelAggressive

	// LevelEmergency keeps headers and critical markers only.
	LevelEmergency
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelNormal:
		return "normal"
	case LevelAggressive:
		return "aggressive"
	case LevelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Config configures the adaptive compressor.
type Config struct {
	// MaxTokens is the token ceiling for the conversation.
	MaxTokens int

	// NormalThreshold, AggressiveThreshold, EmergencyThreshold are the
	// ascending usage percentages at which each level activates.
	NormalThreshold     float64
	AggressiveThreshold float64
	EmergencyThreshold  float64

	// MinResultLength is the floor below which result budgets never shrink.
	MinResultLength int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxTokens:           100000,
		NormalThreshold:     70,
		AggressiveThreshold: 80,
		EmergencyThreshold:  90,
		MinResultLength:     200,
	}
}

// Adaptive tracks estimated token usage and derives a compression level.
// The turn loop is the only writer, so no locking is needed.
type Adaptive struct {
	cfg           Config
	currentTokens int
}

// NewAdaptive creates an adaptive compressor.
func NewAdaptive(cfg Config) *Adaptive {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	if cfg.NormalThreshold <= 0 {
		cfg.NormalThreshold = 70
	}
	if cfg.AggressiveThreshold <= 0 {
		cfg.AggressiveThreshold = 80
	}
	if cfg.EmergencyThreshold <= 0 {
		cfg.EmergencyThreshold = 90
	}
	if cfg.MinResultLength <= 0 {
		cfg.MinResultLength = 200
	}
	return &Adaptive{cfg: cfg}
}

// UpdateUsage records the latest usage estimate.
func (a *Adaptive) UpdateUsage(estimatedTokens int) {
	a.currentTokens = estimatedTokens
}

// Usage returns current/ceiling/percentage metrics, derived on demand.
func (a *Adaptive) Usage() UsageMetrics {
	pct := float64(a.currentTokens) / float64(a.cfg.MaxTokens) * 100
	return UsageMetrics{
		CurrentTokens: a.currentTokens,
		MaxTokens:     a.cfg.MaxTokens,
		UsagePercent:  pct,
	}
}

// UsageMetrics describes current token pressure.
type UsageMetrics struct {
	CurrentTokens int
	MaxTokens     int
	UsagePercent  float64
}

// CompressionLevel maps current usage onto one of the four levels.
func (a *Adaptive) CompressionLevel() Level {
	pct := a.Usage().UsagePercent
	switch {
	case pct >= a.cfg.EmergencyThreshold:
		return LevelEmergency
	case pct >= a.cfg.AggressiveThreshold:
		return LevelAggressive
	case pct >= a.cfg.NormalThreshold:
		return LevelNormal
	default:
		return LevelNone
	}
}

// MaxResultLength scales a base character budget down by level, never
// below the configured floor.
func (a *Adaptive) MaxResultLength(base int) int {
	var scaled int
	switch a.CompressionLevel() {
	case LevelEmergency:
		scaled = int(float64(base) * 0.3)
	case LevelAggressive:
		scaled = int(float64(base) * 0.5)
	case LevelNormal:
		scaled = int(float64(base) * 0.75)
	default:
		scaled = base
	}
	if scaled < a.cfg.MinResultLength {
		return a.cfg.MinResultLength
	}
	return scaled
}

// bullet line limits per level
const (
	normalBulletLimit     = 40
	aggressiveBulletLimit = 20
)

// CompressAdaptively applies level-appropriate line retention, then
// truncates with an explicit marker if the text still exceeds maxLen.
func (a *Adaptive) CompressAdaptively(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}

	level := a.CompressionLevel()
	lines := strings.Split(text, "\n")
	var kept []string
	bullets := 0

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch level {
		case LevelEmergency:
			if isHeader(trimmed) || hasCriticalMarker(trimmed) {
				kept = append(kept, line)
			}
		case LevelAggressive:
			if isHeader(trimmed) {
				kept = append(kept, line)
			} else if isBullet(trimmed) && bullets < aggressiveBulletLimit {
				kept = append(kept, line)
				bullets++
			}
		default:
			if isHeader(trimmed) {
				kept = append(kept, line)
			} else if isBullet(trimmed) && bullets < normalBulletLimit {
				kept = append(kept, line)
				bullets++
			} else if trimmed != "" && bullets < normalBulletLimit {
				kept = append(kept, line)
			}
		}
	}

	out := strings.Join(kept, "\n")
	if out == "" {
		out = text
	}
	if len(out) > maxLen {
		out = out[:maxLen] + fmt.Sprintf("\n... [compressed at %s level]", level)
	}
	return out
}

// EstimateTokens estimates the token count of text with a fixed 4:1
// characters-per-token heuristic. This is an approximation used
// uniformly across the engine, not a tokenizer.
func EstimateTokens(text string) int {
	return len(text) / 4
}

func isHeader(line string) bool {
	return strings.HasPrefix(line, "#") || strings.HasPrefix(line, "==")
}

func isBullet(line string) bool {
	if strings.HasPrefix(line, "-") || strings.HasPrefix(line, "*") {
		return true
	}
	// numbered list: "1. ", "12) "
	for i, r := range line {
		if r >= '0' && r <= '9' {
			continue
		}
		return i > 0 && (r == '.' || r == ')')
	}
	return false
}

func hasCriticalMarker(line string) bool {
	lower := strings.ToLower(line)
	return strings.Contains(lower, "critical") ||
		strings.Contains(lower, "error") ||
		strings.Contains(lower, "warning")
}
