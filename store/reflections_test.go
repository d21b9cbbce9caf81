package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memflow/types"
)

func TestCreateReflectionDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	scope := testScope()

	id, err := s.CreateReflection(ctx, scope, &types.Reflection{
		Content:        "always pin dependency versions",
		ReflectionType: types.ReflectionLesson,
		Context:        "ci pipeline",
	})
	require.NoError(t, err)

	got, err := s.GetReflection(ctx, scope, id)
	require.NoError(t, err)
	assert.Equal(t, 0.5, got.Confidence)
	assert.Equal(t, types.PriorityMedium, got.Priority)
	assert.Nil(t, got.EffectivenessScore)
	assert.Zero(t, got.TimesApplied)
	assert.Equal(t, int64(1), got.Version)
}

func TestCreateReflectionRequiresContent(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateReflection(context.Background(), testScope(), &types.Reflection{
		ReflectionType: types.ReflectionLesson,
	})
	assert.True(t, types.IsValidation(err))
}

func TestApplyOutcomeEffectiveness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	scope := testScope()

	id, err := s.CreateReflection(ctx, scope, &types.Reflection{
		Content:        "retry transient network failures",
		ReflectionType: types.ReflectionPattern,
	})
	require.NoError(t, err)

	// Three successes then one failure.
	var r *types.Reflection
	version := int64(1)
	for i := 0; i < 3; i++ {
		r, err = s.ApplyOutcome(ctx, scope, id, version, true)
		require.NoError(t, err)
		version = r.Version
	}
	r, err = s.ApplyOutcome(ctx, scope, id, version, false)
	require.NoError(t, err)

	require.NotNil(t, r.EffectivenessScore)
	assert.InDelta(t, 0.75, *r.EffectivenessScore, 1e-9)
	assert.Equal(t, 3, r.SuccessCount)
	assert.Equal(t, 1, r.FailureCount)
	assert.Equal(t, 4, r.TimesApplied)
	assert.NotNil(t, r.LastAppliedAt)
	assert.Equal(t, int64(5), r.Version)
}

func TestApplyOutcomeStaleVersionConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	scope := testScope()

	id, err := s.CreateReflection(ctx, scope, &types.Reflection{
		Content:        "check disk space before builds",
		ReflectionType: types.ReflectionLesson,
	})
	require.NoError(t, err)

	_, err = s.ApplyOutcome(ctx, scope, id, 1, true)
	require.NoError(t, err)

	// Re-applying with the already-consumed version loses the race.
	_, err = s.ApplyOutcome(ctx, scope, id, 1, true)
	require.Error(t, err)
	assert.True(t, types.IsConflict(err))
	assert.True(t, types.IsRetryable(err))
}

func TestApplyOutcomeNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ApplyOutcome(context.Background(), testScope(), "missing", 1, true)
	assert.True(t, types.IsNotFound(err))
}

func TestDecayReflectionConfidenceFloors(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	scope := testScope()

	id, err := s.CreateReflection(ctx, scope, &types.Reflection{
		Content:        "prefer smaller batches",
		ReflectionType: types.ReflectionLesson,
		Confidence:     0.3,
	})
	require.NoError(t, err)

	got, err := s.DecayReflectionConfidence(ctx, scope, id, 0.1)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, got, 1e-9)

	got, err = s.DecayReflectionConfidence(ctx, scope, id, 0.9)
	require.NoError(t, err)
	assert.Equal(t, 0.1, got)
}

func TestEffectiveReflections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	scope := testScope()

	apply := func(id string, successes, failures int) {
		version := int64(1)
		for i := 0; i < successes; i++ {
			r, err := s.ApplyOutcome(ctx, scope, id, version, true)
			require.NoError(t, err)
			version = r.Version
		}
		for i := 0; i < failures; i++ {
			r, err := s.ApplyOutcome(ctx, scope, id, version, false)
			require.NoError(t, err)
			version = r.Version
		}
	}

	proven, err := s.CreateReflection(ctx, scope, &types.Reflection{
		Content: "pin versions in deploy manifests", ReflectionType: types.ReflectionLesson,
		Context: "deploy",
	})
	require.NoError(t, err)
	apply(proven, 4, 1) // effectiveness 0.8, applied 5 times

	unproven, err := s.CreateReflection(ctx, scope, &types.Reflection{
		Content: "maybe cache builds", ReflectionType: types.ReflectionPattern, Context: "deploy",
	})
	require.NoError(t, err)
	apply(unproven, 1, 0) // applied once, below the application threshold

	ineffective, err := s.CreateReflection(ctx, scope, &types.Reflection{
		Content: "skip tests when late", ReflectionType: types.ReflectionFailure, Context: "deploy",
	})
	require.NoError(t, err)
	apply(ineffective, 1, 4) // effectiveness 0.2

	expired := time.Now().UTC().Add(-time.Hour)
	gone, err := s.CreateReflection(ctx, scope, &types.Reflection{
		Content: "pin versions in old pipeline", ReflectionType: types.ReflectionLesson,
		Context: "deploy", ExpiresAt: &expired,
	})
	require.NoError(t, err)
	apply(gone, 5, 0)

	results, err := s.EffectiveReflections(ctx, scope, EffectiveReflectionsQuery{
		MinEffectiveness: 0.6,
		MinApplications:  3,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, proven, results[0].ID)

	// Context filter narrows further.
	results, err = s.EffectiveReflections(ctx, scope, EffectiveReflectionsQuery{
		TaskContext:      "deploy",
		MinEffectiveness: 0.6,
		MinApplications:  3,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	results, err = s.EffectiveReflections(ctx, scope, EffectiveReflectionsQuery{
		TaskContext:      "database",
		MinEffectiveness: 0.6,
		MinApplications:  3,
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}
