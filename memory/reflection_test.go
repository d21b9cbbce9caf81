package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memflow/types"
)

func applyOutcomes(t *testing.T, s *testSuite, id string, successes, failures int) float64 {
	t.Helper()
	ctx := context.Background()
	scope := writerScope()

	var score float64
	var err error
	for i := 0; i < successes; i++ {
		score, err = s.engine.UpdateEffectiveness(ctx, scope, id, true)
		require.NoError(t, err)
	}
	for i := 0; i < failures; i++ {
		score, err = s.engine.UpdateEffectiveness(ctx, scope, id, false)
		require.NoError(t, err)
	}
	return score
}

func TestUpdateEffectivenessDerivesScore(t *testing.T) {
	s := newTestSuite(t)
	ctx := context.Background()
	scope := writerScope()

	id, err := s.engine.Create(ctx, scope, &types.Reflection{
		Content:        "batch writes before flushing",
		ReflectionType: types.ReflectionLesson,
	})
	require.NoError(t, err)

	score := applyOutcomes(t, s, id, 3, 1)
	assert.InDelta(t, 0.75, score, 1e-9)

	got, err := s.engine.Get(ctx, scope, id)
	require.NoError(t, err)
	assert.Equal(t, 3, got.SuccessCount)
	assert.Equal(t, 1, got.FailureCount)
	assert.Equal(t, 4, got.TimesApplied)
	require.NotNil(t, got.EffectivenessScore)
	assert.InDelta(t, 0.75, *got.EffectivenessScore, 1e-9)
	// Each applied outcome bumps the version once past the initial write.
	assert.Equal(t, int64(5), got.Version)
	require.NotNil(t, got.LastAppliedAt)
}

func TestUpdateEffectivenessNotFound(t *testing.T) {
	s := newTestSuite(t)
	_, err := s.engine.UpdateEffectiveness(context.Background(), writerScope(), "no-such-id", true)
	assert.True(t, types.IsNotFound(err))
}

func TestEffectiveReflectionsRanking(t *testing.T) {
	s := newTestSuite(t)
	ctx := context.Background()
	scope := writerScope()

	strongID, err := s.engine.Create(ctx, scope, &types.Reflection{
		Content: "always pin dependency versions", Confidence: 0.9,
	})
	require.NoError(t, err)
	weakID, err := s.engine.Create(ctx, scope, &types.Reflection{
		Content: "prefer feature flags for rollouts", Confidence: 0.9,
	})
	require.NoError(t, err)
	unprovenID, err := s.engine.Create(ctx, scope, &types.Reflection{
		Content: "never shown to work yet",
	})
	require.NoError(t, err)

	applyOutcomes(t, s, strongID, 4, 0)
	applyOutcomes(t, s, weakID, 2, 1)
	applyOutcomes(t, s, unprovenID, 1, 0) // below the application floor

	results, err := s.engine.EffectiveReflections(ctx, scope, "", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, strongID, results[0].ID)
	assert.Equal(t, weakID, results[1].ID)
	for _, r := range results {
		assert.NotEqual(t, unprovenID, r.ID)
	}
}

func TestEffectiveReflectionsContextFilter(t *testing.T) {
	s := newTestSuite(t)
	ctx := context.Background()
	scope := writerScope()

	dbID, err := s.engine.Create(ctx, scope, &types.Reflection{
		Content: "use connection pooling", Context: "database tuning",
	})
	require.NoError(t, err)
	netID, err := s.engine.Create(ctx, scope, &types.Reflection{
		Content: "retry with backoff", Context: "network calls",
	})
	require.NoError(t, err)

	applyOutcomes(t, s, dbID, 3, 0)
	applyOutcomes(t, s, netID, 3, 0)

	results, err := s.engine.EffectiveReflections(ctx, scope, "database", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, dbID, results[0].ID)
}

func TestDecayConfidenceFloors(t *testing.T) {
	s := newTestSuite(t)
	ctx := context.Background()
	scope := writerScope()

	id, err := s.engine.Create(ctx, scope, &types.Reflection{
		Content: "fading lesson", Confidence: 0.3,
	})
	require.NoError(t, err)

	confidence, err := s.engine.DecayConfidence(ctx, scope, id, 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, confidence, 1e-9)
}

func TestSnapshotRefreshAndGet(t *testing.T) {
	s := newTestSuite(t)
	ctx := context.Background()
	scope := writerScope()

	id, err := s.engine.Create(ctx, scope, &types.Reflection{Content: "proven lesson"})
	require.NoError(t, err)
	applyOutcomes(t, s, id, 3, 0)

	snap, err := s.engine.RefreshSnapshot(ctx, scope)
	require.NoError(t, err)
	require.Len(t, snap.Reflections, 1)
	assert.False(t, snap.RefreshedAt.IsZero())

	// The published snapshot serves subsequent reads from the cache.
	cached, err := s.engine.GetSnapshot(ctx, scope)
	require.NoError(t, err)
	require.Len(t, cached.Reflections, 1)
	assert.Equal(t, id, cached.Reflections[0].ID)

	// A cold cache falls back to recompute.
	s.mr.FlushAll()
	recomputed, err := s.engine.GetSnapshot(ctx, scope)
	require.NoError(t, err)
	require.Len(t, recomputed.Reflections, 1)
}

func TestRankPrefersPriorityOnTies(t *testing.T) {
	s := newTestSuite(t)
	now := time.Now().UTC()
	eff := 0.8
	reflections := []types.Reflection{
		{ID: "low", Confidence: 0.5, EffectivenessScore: &eff, Priority: types.PriorityLow, LastAppliedAt: &now},
		{ID: "high", Confidence: 0.5, EffectivenessScore: &eff, Priority: types.PriorityHigh, LastAppliedAt: &now},
	}
	s.engine.rank(reflections)
	assert.Equal(t, "high", reflections[0].ID)
}
