package memory

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/store"
	"github.com/BaSui01/memflow/tenancy"
	"github.com/BaSui01/memflow/types"
)

// Snapshot is the materialized top-effective reflection set for one tenant.
type Snapshot struct {
	Reflections []types.Reflection `json:"reflections"`
	RefreshedAt time.Time          `json:"refreshed_at"`
}

// ReflectionEngine owns the reflection lifecycle: outcome recording,
// confidence decay, and proven-reflection retrieval. It is the only path
// that may change an effectiveness score.
type ReflectionEngine struct {
	store   *store.Store
	cache   SearchCache
	cfg     config.ReflectionConfig
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewReflectionEngine builds an engine over the primary store. The cache is
// optional; without it snapshots are recomputed on every read.
func NewReflectionEngine(s *store.Store, c SearchCache, cfg config.ReflectionConfig, collector *metrics.Collector, logger *zap.Logger) *ReflectionEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReflectionEngine{
		store:   s,
		cache:   c,
		cfg:     cfg,
		metrics: collector,
		logger:  logger.With(zap.String("component", "reflection_engine")),
	}
}

// Create persists a new reflection.
func (e *ReflectionEngine) Create(ctx context.Context, scope tenancy.Scope, r *types.Reflection) (string, error) {
	return e.store.CreateReflection(ctx, scope, r)
}

// Get loads one reflection.
func (e *ReflectionEngine) Get(ctx context.Context, scope tenancy.Scope, id string) (*types.Reflection, error) {
	return e.store.GetReflection(ctx, scope, id)
}

// UpdateEffectiveness records one application outcome and returns the new
// effectiveness score. Concurrent outcome recordings race on the version
// column; lost races are retried with a fresh read up to the configured
// bound before the conflict surfaces.
func (e *ReflectionEngine) UpdateEffectiveness(ctx context.Context, scope tenancy.Scope, id string, wasSuccessful bool) (float64, error) {
	retries := e.cfg.ConflictRetries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		current, err := e.store.GetReflection(ctx, scope, id)
		if err != nil {
			return 0, err
		}

		updated, err := e.store.ApplyOutcome(ctx, scope, id, current.Version, wasSuccessful)
		if err == nil {
			e.logger.Debug("reflection outcome recorded",
				zap.String("reflection_id", id),
				zap.Bool("success", wasSuccessful),
				zap.Float64("effectiveness", *updated.EffectivenessScore))
			return *updated.EffectivenessScore, nil
		}
		if !types.IsConflict(err) {
			return 0, err
		}

		lastErr = err
		if e.metrics != nil {
			e.metrics.RecordConflictRetry("reflection")
		}
	}
	return 0, lastErr
}

// DecayConfidence lowers a reflection's confidence by factor, floored at the
// minimum, with the same bounded conflict retry as outcome recording.
func (e *ReflectionEngine) DecayConfidence(ctx context.Context, scope tenancy.Scope, id string, factor float64) (float64, error) {
	retries := e.cfg.ConflictRetries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		confidence, err := e.store.DecayReflectionConfidence(ctx, scope, id, factor)
		if err == nil {
			return confidence, nil
		}
		if !types.IsConflict(err) {
			return 0, err
		}
		lastErr = err
		if e.metrics != nil {
			e.metrics.RecordConflictRetry("reflection")
		}
	}
	return 0, lastErr
}

// EffectiveReflections returns proven reflections matching the task context,
// ordered by the combined effectiveness/confidence/recency score.
func (e *ReflectionEngine) EffectiveReflections(ctx context.Context, scope tenancy.Scope, taskContext string, limit int) ([]types.Reflection, error) {
	candidates, err := e.store.EffectiveReflections(ctx, scope, store.EffectiveReflectionsQuery{
		TaskContext:      taskContext,
		MinEffectiveness: e.cfg.MinEffectiveness,
		MinApplications:  e.cfg.MinApplications,
		Limit:            limit,
	})
	if err != nil {
		return nil, err
	}
	e.rank(candidates)
	return candidates, nil
}

// RefreshSnapshot recomputes the tenant's top-effective set and publishes it
// to the cache. Returns the fresh snapshot either way; a cache publish
// failure only degrades snapshot reads, never the data.
func (e *ReflectionEngine) RefreshSnapshot(ctx context.Context, scope tenancy.Scope) (*Snapshot, error) {
	reflections, err := e.EffectiveReflections(ctx, scope, "", 50)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Reflections: reflections,
		RefreshedAt: time.Now().UTC(),
	}
	if e.cache != nil {
		// Snapshots outlive search entries; the next refresh replaces them.
		if err := e.cache.SetJSON(ctx, e.cache.SnapshotKey(scope), snap, 2*time.Hour); err != nil {
			e.logger.Warn("snapshot publish failed",
				zap.String("tenant_id", scope.TenantID),
				zap.Error(err))
			if e.metrics != nil {
				e.metrics.RecordProjectionFailure("redis")
			}
		}
	}

	e.logger.Debug("reflection snapshot refreshed",
		zap.String("tenant_id", scope.TenantID),
		zap.Int("reflections", len(reflections)))
	return snap, nil
}

// GetSnapshot returns the cached snapshot, recomputing when absent.
func (e *ReflectionEngine) GetSnapshot(ctx context.Context, scope tenancy.Scope) (*Snapshot, error) {
	if e.cache != nil {
		var snap Snapshot
		err := e.cache.GetJSON(ctx, e.cache.SnapshotKey(scope), &snap)
		if err == nil {
			if e.metrics != nil {
				e.metrics.RecordCacheHit("snapshot")
			}
			return &snap, nil
		}
		if e.metrics != nil {
			e.metrics.RecordCacheMiss("snapshot")
		}
	}
	return e.RefreshSnapshot(ctx, scope)
}

func (e *ReflectionEngine) rank(reflections []types.Reflection) {
	now := time.Now().UTC()
	sort.SliceStable(reflections, func(i, j int) bool {
		si := RankScore(&reflections[i], e.cfg.RecencyHalfLife, now)
		sj := RankScore(&reflections[j], e.cfg.RecencyHalfLife, now)
		if si != sj {
			return si > sj
		}
		// Equal scores fall back to priority ordering.
		return priorityRank(reflections[i].Priority) > priorityRank(reflections[j].Priority)
	})
}

func priorityRank(p types.ReflectionPriority) int {
	switch p {
	case types.PriorityHigh:
		return 2
	case types.PriorityMedium:
		return 1
	default:
		return 0
	}
}
