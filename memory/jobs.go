package memory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/store"
)

// Jobs runs the scheduled maintenance loops: TTL sweep, reflection snapshot
// recompute, and importance decay. Each loop is a ticker goroutine that
// stops on Stop or context cancellation.
type Jobs struct {
	store       *store.Store
	reflections *ReflectionEngine
	cfg         config.JobsConfig
	metrics     *metrics.Collector
	logger      *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewJobs wires the maintenance loops over the store and reflection engine.
func NewJobs(s *store.Store, engine *ReflectionEngine, cfg config.JobsConfig, collector *metrics.Collector, logger *zap.Logger) *Jobs {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Jobs{
		store:       s,
		reflections: engine,
		cfg:         cfg,
		metrics:     collector,
		logger:      logger.With(zap.String("component", "jobs")),
	}
}

// Start launches the loops. Idempotent; a second Start while running is a
// no-op.
func (j *Jobs) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.mu.Unlock()

	j.spawn(ctx, "ttl_sweep", j.cfg.TTLSweepInterval, j.runTTLSweep)
	j.spawn(ctx, "snapshot_recompute", j.cfg.SnapshotInterval, j.runSnapshotRecompute)
	j.spawn(ctx, "importance_decay", j.cfg.ImportanceDecayInterval, j.runImportanceDecay)

	j.logger.Info("maintenance jobs started",
		zap.Duration("ttl_sweep_interval", j.cfg.TTLSweepInterval),
		zap.Duration("snapshot_interval", j.cfg.SnapshotInterval),
		zap.Duration("importance_decay_interval", j.cfg.ImportanceDecayInterval))
	return nil
}

// Stop halts the loops and waits for any in-flight run to finish.
func (j *Jobs) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	close(j.stopCh)
	j.running = false
	j.mu.Unlock()

	j.wg.Wait()
	j.logger.Info("maintenance jobs stopped")
}

func (j *Jobs) spawn(ctx context.Context, name string, interval time.Duration, run func(ctx context.Context) error) {
	if interval <= 0 {
		j.logger.Info("job disabled", zap.String("job", name))
		return
	}

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				j.runOnce(ctx, name, run)
			case <-j.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (j *Jobs) runOnce(ctx context.Context, name string, run func(ctx context.Context) error) {
	start := time.Now()
	err := run(ctx)
	status := "ok"
	if err != nil {
		status = "error"
		j.logger.Error("job run failed", zap.String("job", name), zap.Error(err))
	}
	if j.metrics != nil {
		j.metrics.RecordJobRun(name, status, time.Since(start))
	}
}

// RunTTLSweep removes expired packets and reflections once. Exposed for the
// health CLI and tests; the loop calls the same path.
func (j *Jobs) RunTTLSweep(ctx context.Context) (int64, error) {
	removed, err := j.store.CleanupExpired(ctx)
	if err != nil {
		return 0, err
	}
	if j.metrics != nil {
		j.metrics.RecordExpiredSwept(removed)
	}
	return removed, nil
}

func (j *Jobs) runTTLSweep(ctx context.Context) error {
	_, err := j.RunTTLSweep(ctx)
	return err
}

// RunSnapshotRecompute refreshes the materialized reflection snapshot for
// every tenant that holds reflections.
func (j *Jobs) RunSnapshotRecompute(ctx context.Context) error {
	scopes, err := j.store.ReflectionTenants(ctx)
	if err != nil {
		return err
	}
	for _, scope := range scopes {
		if _, err := j.reflections.RefreshSnapshot(ctx, scope); err != nil {
			// One tenant's failure should not starve the rest.
			j.logger.Warn("snapshot recompute failed for tenant",
				zap.String("tenant_id", scope.TenantID),
				zap.Error(err))
		}
	}
	return nil
}

func (j *Jobs) runSnapshotRecompute(ctx context.Context) error {
	return j.RunSnapshotRecompute(ctx)
}

// RunImportanceDecay multiplies the importance of idle packets by the
// configured factor.
func (j *Jobs) RunImportanceDecay(ctx context.Context) (int64, error) {
	return j.store.DecayImportance(ctx, j.cfg.ImportanceDecayFactor, j.cfg.ImportanceIdleWindow)
}

func (j *Jobs) runImportanceDecay(ctx context.Context) error {
	_, err := j.RunImportanceDecay(ctx)
	return err
}
