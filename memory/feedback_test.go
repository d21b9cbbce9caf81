package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memflow/tenancy"
	"github.com/BaSui01/memflow/types"
)

func TestProcessCorrectionDerivesLesson(t *testing.T) {
	s := newTestSuite(t)
	ctx := context.Background()
	scope := writerScope()

	packetID, err := s.svc.Write(ctx, scope, WriteRequest{
		Segment: "episodic", PacketType: "decision",
		Payload: map[string]any{"text": "used the staging endpoint in prod"},
	})
	require.NoError(t, err)
	s.svc.Flush()

	fbID, err := s.svc.RecordFeedback(ctx, scope, FeedbackRequest{
		FeedbackType:   types.FeedbackCorrection,
		FeedbackText:   "never point prod jobs at the staging endpoint",
		SentimentScore: -0.8,
		PacketID:       packetID,
	})
	require.NoError(t, err)

	result, err := s.svc.ProcessFeedback(ctx, scope, fbID)
	require.NoError(t, err)
	assert.False(t, result.AlreadyProcessed)
	require.NotEmpty(t, result.DerivedReflectionID)

	lesson, err := s.engine.Get(ctx, scope, result.DerivedReflectionID)
	require.NoError(t, err)
	assert.Equal(t, "never point prod jobs at the staging endpoint", lesson.Content)
	assert.Equal(t, types.ReflectionLesson, lesson.ReflectionType)
	assert.Equal(t, types.PriorityHigh, lesson.Priority)
	assert.Equal(t, packetID, lesson.SourcePacketID)
}

func TestProcessFeedbackIdempotent(t *testing.T) {
	s := newTestSuite(t)
	ctx := context.Background()
	scope := writerScope()

	fbID, err := s.svc.RecordFeedback(ctx, scope, FeedbackRequest{
		FeedbackType: types.FeedbackCorrection,
		FeedbackText: "validate inputs before dispatch",
	})
	require.NoError(t, err)

	first, err := s.svc.ProcessFeedback(ctx, scope, fbID)
	require.NoError(t, err)
	require.NotEmpty(t, first.DerivedReflectionID)

	// Replay returns the original outcome without deriving a second lesson.
	second, err := s.svc.ProcessFeedback(ctx, scope, fbID)
	require.NoError(t, err)
	assert.True(t, second.AlreadyProcessed)
	assert.Equal(t, first.DerivedReflectionID, second.DerivedReflectionID)

	fb, err := s.store.GetFeedback(ctx, scope, fbID)
	require.NoError(t, err)
	assert.True(t, fb.WasProcessed)
	require.NotNil(t, fb.ProcessedAt)
}

func TestProcessPositiveFeedbackUpdatesReflection(t *testing.T) {
	s := newTestSuite(t)
	ctx := context.Background()
	scope := writerScope()

	reflectionID, err := s.engine.Create(ctx, scope, &types.Reflection{
		Content: "cache hot lookups",
	})
	require.NoError(t, err)

	fbID, err := s.svc.RecordFeedback(ctx, scope, FeedbackRequest{
		FeedbackType:   types.FeedbackPositive,
		SentimentScore: 0.9,
		ReflectionID:   reflectionID,
	})
	require.NoError(t, err)

	result, err := s.svc.ProcessFeedback(ctx, scope, fbID)
	require.NoError(t, err)
	require.NotNil(t, result.EffectivenessUpdate)
	assert.InDelta(t, 1.0, *result.EffectivenessUpdate, 1e-9)
	assert.Empty(t, result.DerivedReflectionID)

	got, err := s.engine.Get(ctx, scope, reflectionID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.SuccessCount)
	assert.Equal(t, 1, got.TimesApplied)
}

func TestProcessNegativeFeedbackOnReflectionAlsoDerives(t *testing.T) {
	s := newTestSuite(t)
	ctx := context.Background()
	scope := writerScope()

	reflectionID, err := s.engine.Create(ctx, scope, &types.Reflection{
		Content: "skip integration tests on hotfixes",
	})
	require.NoError(t, err)

	fbID, err := s.svc.RecordFeedback(ctx, scope, FeedbackRequest{
		FeedbackType: types.FeedbackNegative,
		FeedbackText: "hotfixes still need the integration suite",
		ReflectionID: reflectionID,
	})
	require.NoError(t, err)

	result, err := s.svc.ProcessFeedback(ctx, scope, fbID)
	require.NoError(t, err)

	// Counts as a failure for the attached reflection and spawns a lesson.
	require.NotNil(t, result.EffectivenessUpdate)
	assert.InDelta(t, 0.0, *result.EffectivenessUpdate, 1e-9)
	assert.NotEmpty(t, result.DerivedReflectionID)
}

func TestProcessNeutralFeedbackIsNoop(t *testing.T) {
	s := newTestSuite(t)
	ctx := context.Background()
	scope := writerScope()

	fbID, err := s.svc.RecordFeedback(ctx, scope, FeedbackRequest{
		FeedbackType: types.FeedbackPreference,
		FeedbackText: "I prefer concise summaries",
	})
	require.NoError(t, err)

	result, err := s.svc.ProcessFeedback(ctx, scope, fbID)
	require.NoError(t, err)
	assert.Nil(t, result.EffectivenessUpdate)
	assert.Empty(t, result.DerivedReflectionID)

	fb, err := s.store.GetFeedback(ctx, scope, fbID)
	require.NoError(t, err)
	assert.True(t, fb.WasProcessed)
}

func TestProcessFeedbackRollsBackOnFailure(t *testing.T) {
	s := newTestSuite(t)
	ctx := context.Background()
	scope := writerScope()

	// The attached reflection does not exist, so processing fails after the
	// event is loaded. The event must remain unprocessed.
	fbID, err := s.svc.RecordFeedback(ctx, scope, FeedbackRequest{
		FeedbackType: types.FeedbackPositive,
		ReflectionID: "missing-reflection",
	})
	require.NoError(t, err)

	_, err = s.svc.ProcessFeedback(ctx, scope, fbID)
	assert.True(t, types.IsNotFound(err))

	fb, err := s.store.GetFeedback(ctx, scope, fbID)
	require.NoError(t, err)
	assert.False(t, fb.WasProcessed)
}

func TestRecordFeedbackValidation(t *testing.T) {
	s := newTestSuite(t)
	ctx := context.Background()

	_, err := s.svc.RecordFeedback(ctx, tenancy.Scope{}, FeedbackRequest{
		FeedbackType: types.FeedbackPositive,
	})
	assert.True(t, types.IsScopeDenied(err))

	_, err = s.svc.RecordFeedback(ctx, writerScope(), FeedbackRequest{
		FeedbackType:   types.FeedbackPositive,
		SentimentScore: 2.5,
	})
	assert.True(t, types.IsValidation(err))
}
