package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/memflow/types"
)

func TestEffectiveness(t *testing.T) {
	assert.Nil(t, Effectiveness(0, 0))

	got := Effectiveness(3, 1)
	require.NotNil(t, got)
	assert.InDelta(t, 0.75, *got, 1e-9)

	got = Effectiveness(0, 5)
	require.NotNil(t, got)
	assert.Zero(t, *got)

	got = Effectiveness(5, 0)
	require.NotNil(t, got)
	assert.Equal(t, 1.0, *got)
}

func TestDecayAndReinforceConfidence(t *testing.T) {
	assert.InDelta(t, 0.4, DecayConfidence(0.5, 0.1), 1e-9)
	assert.Equal(t, 0.1, DecayConfidence(0.15, 0.9))
	assert.InDelta(t, 0.6, ReinforceConfidence(0.5, 0.1), 1e-9)
	assert.Equal(t, 1.0, ReinforceConfidence(0.95, 0.2))
}

func TestRecencyWeight(t *testing.T) {
	now := time.Now().UTC()
	halfLife := 30 * 24 * time.Hour

	assert.Zero(t, RecencyWeight(nil, halfLife, now))

	justNow := now
	assert.Equal(t, 1.0, RecencyWeight(&justNow, halfLife, now))

	oneHalfLife := now.Add(-halfLife)
	assert.InDelta(t, 0.5, RecencyWeight(&oneHalfLife, halfLife, now), 1e-9)

	twoHalfLives := now.Add(-2 * halfLife)
	assert.InDelta(t, 0.25, RecencyWeight(&twoHalfLives, halfLife, now), 1e-9)
}

func TestRankScore(t *testing.T) {
	now := time.Now().UTC()
	halfLife := 30 * 24 * time.Hour

	eff := 0.8
	applied := now
	r := &types.Reflection{
		EffectivenessScore: &eff,
		Confidence:         0.5,
		LastAppliedAt:      &applied,
	}
	// 0.5*0.8 + 0.3*0.5 + 0.2*1.0
	assert.InDelta(t, 0.75, RankScore(r, halfLife, now), 1e-9)

	// No effectiveness and never applied: only confidence contributes.
	bare := &types.Reflection{Confidence: 0.5}
	assert.InDelta(t, 0.15, RankScore(bare, halfLife, now), 1e-9)
}

func TestConfidenceBoundsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		confidence := rapid.Float64Range(0, 1).Draw(t, "confidence")
		delta := rapid.Float64Range(0, 2).Draw(t, "delta")

		decayed := DecayConfidence(confidence, delta)
		assert.GreaterOrEqual(t, decayed, confidenceFloor)
		assert.LessOrEqual(t, decayed, confidenceCeil)
		assert.LessOrEqual(t, decayed, ClampConfidence(confidence))

		reinforced := ReinforceConfidence(confidence, delta)
		assert.GreaterOrEqual(t, reinforced, confidenceFloor)
		assert.LessOrEqual(t, reinforced, confidenceCeil)
		assert.GreaterOrEqual(t, reinforced, ClampConfidence(confidence))
	})
}

func TestEffectivenessRangeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		success := rapid.IntRange(0, 10000).Draw(t, "success")
		failure := rapid.IntRange(0, 10000).Draw(t, "failure")

		got := Effectiveness(success, failure)
		if success+failure == 0 {
			assert.Nil(t, got)
			return
		}
		require.NotNil(t, got)
		assert.GreaterOrEqual(t, *got, 0.0)
		assert.LessOrEqual(t, *got, 1.0)

		// Adding a success never lowers the score.
		next := Effectiveness(success+1, failure)
		require.NotNil(t, next)
		assert.GreaterOrEqual(t, *next, *got)
	})
}

func TestRecencyMonotonicProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		now := time.Now().UTC()
		halfLife := 30 * 24 * time.Hour

		ageA := time.Duration(rapid.Int64Range(0, int64(365*24*time.Hour)).Draw(t, "ageA"))
		ageB := time.Duration(rapid.Int64Range(0, int64(365*24*time.Hour)).Draw(t, "ageB"))
		if ageA > ageB {
			ageA, ageB = ageB, ageA
		}

		tA := now.Add(-ageA)
		tB := now.Add(-ageB)
		// Older application never weighs more.
		assert.GreaterOrEqual(t, RecencyWeight(&tA, halfLife, now), RecencyWeight(&tB, halfLife, now))
	})
}
