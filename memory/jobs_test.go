package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memflow/types"
)

func TestRunTTLSweep(t *testing.T) {
	s := newTestSuite(t)
	ctx := context.Background()
	scope := writerScope()

	_, err := s.svc.Write(ctx, scope, WriteRequest{
		Segment: "working", PacketType: "observation",
		Payload: map[string]any{"text": "short-lived"},
		TTL:     time.Nanosecond,
	})
	require.NoError(t, err)
	keepID, err := s.svc.Write(ctx, scope, WriteRequest{
		Segment: "working", PacketType: "observation",
		Payload: map[string]any{"text": "durable"},
	})
	require.NoError(t, err)
	s.svc.Flush()

	time.Sleep(10 * time.Millisecond)

	removed, err := s.jobs.RunTTLSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = s.svc.Get(ctx, scope, keepID)
	assert.NoError(t, err)

	// Nothing left to sweep.
	removed, err = s.jobs.RunTTLSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestRunSnapshotRecompute(t *testing.T) {
	s := newTestSuite(t)
	ctx := context.Background()
	scope := writerScope()

	id, err := s.engine.Create(ctx, scope, &types.Reflection{Content: "proven lesson"})
	require.NoError(t, err)
	applyOutcomes(t, s, id, 3, 0)

	require.NoError(t, s.jobs.RunSnapshotRecompute(ctx))

	// The recompute published a snapshot the engine can serve from cache.
	snap, err := s.engine.GetSnapshot(ctx, scope)
	require.NoError(t, err)
	require.Len(t, snap.Reflections, 1)
	assert.Equal(t, id, snap.Reflections[0].ID)
}

func TestRunSnapshotRecomputeNoTenants(t *testing.T) {
	s := newTestSuite(t)
	assert.NoError(t, s.jobs.RunSnapshotRecompute(context.Background()))
}

func TestJobsStartStop(t *testing.T) {
	s := newTestSuite(t)
	ctx := context.Background()

	require.NoError(t, s.jobs.Start(ctx))
	// Second Start while running is a no-op.
	require.NoError(t, s.jobs.Start(ctx))

	s.jobs.Stop()
	// Stop after Stop is safe.
	s.jobs.Stop()
}
