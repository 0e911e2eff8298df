package compress

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressionLevel_Thresholds(t *testing.T) {
	a := NewAdaptive(Config{MaxTokens: 1000})

	tests := []struct {
		tokens int
		want   Level
	}{
		{0, LevelNone},
		{500, LevelNone},
		{699, LevelNone},
		{700, LevelNormal},
		{799, LevelNormal},
		{800, LevelAggressive},
		{899, LevelAggressive},
		{900, LevelEmergency},
		{1500, LevelEmergency},
	}
	for _, tt := range tests {
		a.UpdateUsage(tt.tokens)
		assert.Equal(t, tt.want, a.CompressionLevel(), "tokens=%d", tt.tokens)
	}
}

func TestMaxResultLength_ScalesByLevel(t *testing.T) {
	a := NewAdaptive(Config{MaxTokens: 1000, MinResultLength: 100})

	a.UpdateUsage(0)
	assert.Equal(t, 2000, a.MaxResultLength(2000))

	a.UpdateUsage(700)
	assert.Equal(t, 1500, a.MaxResultLength(2000))

	a.UpdateUsage(800)
	assert.Equal(t, 1000, a.MaxResultLength(2000))

	a.UpdateUsage(900)
	assert.Equal(t, 600, a.MaxResultLength(2000))
}

func TestMaxResultLength_Floor(t *testing.T) {
	a := NewAdaptive(Config{MaxTokens: 1000, MinResultLength: 500})
	a.UpdateUsage(950)

	// 0.3 * 1000 = 300 would be under the floor.
	assert.Equal(t, 500, a.MaxResultLength(1000))
}

func TestUsage_Percentage(t *testing.T) {
	a := NewAdaptive(Config{MaxTokens: 2000})
	a.UpdateUsage(500)

	m := a.Usage()
	assert.Equal(t, 500, m.CurrentTokens)
	assert.Equal(t, 2000, m.MaxTokens)
	assert.InDelta(t, 25.0, m.UsagePercent, 0.01)
}

func TestCompressAdaptively_UnderBudgetUnchanged(t *testing.T) {
	a := NewAdaptive(DefaultConfig())
	text := "short text"
	assert.Equal(t, text, a.CompressAdaptively(text, 100))
}

func TestCompressAdaptively_EmergencyKeepsCriticalOnly(t *testing.T) {
	a := NewAdaptive(Config{MaxTokens: 100})
	a.UpdateUsage(95)
	require.Equal(t, LevelEmergency, a.CompressionLevel())

	text := strings.Join([]string{
		"# Findings",
		"Some filler prose that should be dropped entirely.",
		"CRITICAL: unsanitized input reaches the query builder",
		"More filler.",
		"- a bullet that emergency mode drops",
	}, "\n")

	out := a.CompressAdaptively(text, 120)
	assert.Contains(t, out, "# Findings")
	assert.Contains(t, out, "CRITICAL:")
	assert.NotContains(t, out, "filler prose")
	assert.NotContains(t, out, "bullet that emergency")
}

func TestCompressAdaptively_AggressiveKeepsBullets(t *testing.T) {
	a := NewAdaptive(Config{MaxTokens: 100})
	a.UpdateUsage(85)
	require.Equal(t, LevelAggressive, a.CompressionLevel())

	text := strings.Join([]string{
		"## Summary",
		"Long prose paragraph that aggressive mode drops.",
		"- finding one",
		"- finding two",
	}, "\n")

	out := a.CompressAdaptively(text, 60)
	assert.Contains(t, out, "## Summary")
	assert.Contains(t, out, "- finding one")
	assert.NotContains(t, out, "prose paragraph")
}

func TestCompressAdaptively_TruncationMarker(t *testing.T) {
	a := NewAdaptive(Config{MaxTokens: 100})
	a.UpdateUsage(85)

	var sb strings.Builder
	for i := 0; i < 50; i++ {
		sb.WriteString("- a reasonably long bullet line describing a finding\n")
	}

	out := a.CompressAdaptively(sb.String(), 200)
	assert.Contains(t, out, "[compressed at aggressive level]")
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("x", 100)))
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "none", LevelNone.String())
	assert.Equal(t, "normal", LevelNormal.String())
	assert.Equal(t, "aggressive", LevelAggressive.String())
	assert.Equal(t, "emergency", LevelEmergency.String())
}
