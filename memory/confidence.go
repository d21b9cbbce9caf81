// Package memory coordinates the three backends behind the MemoryAPI: the
// authoritative relational store, the best-effort graph projection, and the
// read-through cache. It also owns the reflection lifecycle (effectiveness
// tracking, feedback processing) and the background maintenance jobs.
package memory

import (
	"math"
	"time"

	"github.com/BaSui01/memflow/types"
)

// Confidence bounds shared by reflections and facts.
const (
	confidenceFloor = 0.1
	confidenceCeil  = 1.0
)

// Ranking weights for effective-reflection retrieval.
const (
	weightEffectiveness = 0.5
	weightConfidence    = 0.3
	weightRecency       = 0.2
)

// Effectiveness derives the success ratio from the two counters. Returns nil
// when the reflection has never been applied; an unapplied reflection has no
// effectiveness, not a zero one.
func Effectiveness(successCount, failureCount int) *float64 {
	total := successCount + failureCount
	if total <= 0 {
		return nil
	}
	score := float64(successCount) / float64(total)
	return &score
}

// DecayConfidence subtracts factor from confidence, flooring at the minimum.
func DecayConfidence(confidence, factor float64) float64 {
	return ClampConfidence(confidence - factor)
}

// ReinforceConfidence adds boost to confidence, capping at the maximum.
func ReinforceConfidence(confidence, boost float64) float64 {
	return ClampConfidence(confidence + boost)
}

// ClampConfidence bounds a confidence value to [floor, ceil].
func ClampConfidence(v float64) float64 {
	if v < confidenceFloor {
		return confidenceFloor
	}
	if v > confidenceCeil {
		return confidenceCeil
	}
	return v
}

// RecencyWeight halves for every halfLife elapsed since the reflection was
// last applied. A reflection never applied has zero recency.
func RecencyWeight(lastApplied *time.Time, halfLife time.Duration, now time.Time) float64 {
	if lastApplied == nil || halfLife <= 0 {
		return 0
	}
	elapsed := now.Sub(*lastApplied)
	if elapsed <= 0 {
		return 1
	}
	return math.Pow(0.5, elapsed.Seconds()/halfLife.Seconds())
}

// RankScore combines effectiveness, confidence, and recency into the
// retrieval ordering score. Missing effectiveness contributes nothing, which
// keeps unproven reflections below proven ones of similar confidence.
func RankScore(r *types.Reflection, halfLife time.Duration, now time.Time) float64 {
	var effectiveness float64
	if r.EffectivenessScore != nil {
		effectiveness = *r.EffectivenessScore
	}
	return weightEffectiveness*effectiveness +
		weightConfidence*r.Confidence +
		weightRecency*RecencyWeight(r.LastAppliedAt, halfLife, now)
}
