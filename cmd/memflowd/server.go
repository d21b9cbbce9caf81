package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/memflow/cache"
	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/graph"
	"github.com/BaSui01/memflow/internal/database"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/internal/server"
	"github.com/BaSui01/memflow/internal/telemetry"
	"github.com/BaSui01/memflow/memory"
	"github.com/BaSui01/memflow/store"
)

// txMaxRetries bounds transaction retries on transient database errors.
const txMaxRetries = 3

// Daemon assembles the full service: PostgreSQL pool, optional Neo4j and
// Redis backends, the memory API, the maintenance jobs, and the operational
// HTTP endpoints. Only PostgreSQL is required to start; missing secondaries
// degrade projection and caching but never block the daemon.
type Daemon struct {
	cfg    *config.Config
	logger *zap.Logger

	collector  *metrics.Collector
	telemetry  *telemetry.Providers
	pool       *database.PoolManager
	store      *store.Store
	graph      *graph.Graph
	cache      *cache.Cache
	service    *memory.Service
	jobs       *memory.Jobs
	opsManager *server.Manager
}

// NewDaemon wires every component from config. The returned daemon is not
// yet serving; call Start.
func NewDaemon(cfg *config.Config, logger *zap.Logger) (*Daemon, error) {
	d := &Daemon{
		cfg:       cfg,
		logger:    logger,
		collector: metrics.NewCollector("memflow", logger),
	}

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	d.telemetry = otelProviders

	pool, err := database.Open(cfg.Database, d.collector, logger)
	if err != nil {
		return nil, fmt.Errorf("postgres unavailable: %w", err)
	}
	d.pool = pool

	st, err := store.New(pool.DB(), logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	// Store transactions go through the pool manager so transient failures
	// (deadlock, serialization) are retried with backoff.
	st.UseTransactionRunner(func(ctx context.Context, fn func(tx *gorm.DB) error) error {
		return pool.WithTransactionRetry(ctx, txMaxRetries, fn)
	})
	d.store = st

	// Secondaries are best-effort. A missing Neo4j disables graph reads and
	// projection; a missing Redis disables caching.
	g, err := graph.New(cfg.Neo4j, logger)
	if err != nil {
		logger.Warn("neo4j unavailable, graph projection disabled", zap.Error(err))
	} else {
		d.graph = g
	}

	c, err := cache.New(cfg.Redis, cfg.Memory.SearchCacheTTL, logger)
	if err != nil {
		logger.Warn("redis unavailable, caching disabled", zap.Error(err))
	} else {
		d.cache = c
	}

	var graphStore memory.GraphStore
	if d.graph != nil {
		graphStore = d.graph
	}
	var searchCache memory.SearchCache
	if d.cache != nil {
		searchCache = d.cache
	}

	orch := memory.NewOrchestrator(st, graphStore, searchCache, cfg.Memory, d.collector, logger)
	engine := memory.NewReflectionEngine(st, searchCache, cfg.Reflection, d.collector, logger)
	processor := memory.NewFeedbackProcessor(st, cfg.Reflection, d.collector, logger)
	d.service = memory.NewService(orch, engine, processor, cfg.Memory, logger)
	d.jobs = memory.NewJobs(st, engine, cfg.Jobs, d.collector, logger)

	return d, nil
}

// Start launches the maintenance jobs and the operational HTTP server.
func (d *Daemon) Start() error {
	if err := d.jobs.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start jobs: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", d.handleHealth)
	mux.HandleFunc("/healthz", d.handleHealthz)
	mux.HandleFunc("/ready", d.handleHealth)
	mux.HandleFunc("/version", d.handleVersion)

	serverConfig := server.DefaultConfig()
	serverConfig.Addr = fmt.Sprintf(":%d", d.cfg.Server.MetricsPort)
	serverConfig.ShutdownTimeout = d.cfg.Server.ShutdownTimeout

	d.opsManager = server.NewManager(mux, serverConfig, d.logger)
	if err := d.opsManager.Start(); err != nil {
		return err
	}

	d.logger.Info("memflowd started",
		zap.Int("metrics_port", d.cfg.Server.MetricsPort),
		zap.Bool("graph_enabled", d.graph != nil),
		zap.Bool("cache_enabled", d.cache != nil))
	return nil
}

// WaitForShutdown blocks until a termination signal, then tears everything
// down in dependency order.
func (d *Daemon) WaitForShutdown() {
	d.opsManager.WaitForShutdown()
	d.Shutdown()
}

// Shutdown stops jobs, drains in-flight projections, and closes backends.
func (d *Daemon) Shutdown() {
	d.logger.Info("starting graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Server.ShutdownTimeout)
	defer cancel()

	d.jobs.Stop()
	d.service.Flush()

	if d.opsManager != nil {
		if err := d.opsManager.Shutdown(ctx); err != nil {
			d.logger.Error("ops server shutdown error", zap.Error(err))
		}
	}
	if d.graph != nil {
		if err := d.graph.Close(ctx); err != nil {
			d.logger.Error("neo4j close error", zap.Error(err))
		}
	}
	if d.cache != nil {
		if err := d.cache.Close(); err != nil {
			d.logger.Error("redis close error", zap.Error(err))
		}
	}
	if d.pool != nil {
		if err := d.pool.Close(); err != nil {
			d.logger.Error("database close error", zap.Error(err))
		}
	}
	if err := d.telemetry.Shutdown(ctx); err != nil {
		d.logger.Error("telemetry shutdown error", zap.Error(err))
	}

	d.logger.Info("graceful shutdown completed")
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// handleHealth reports per-backend health. The response is 200 as long as
// PostgreSQL answers; degraded secondaries are reported but do not fail the
// probe.
func (d *Daemon) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: map[string]string{}}

	if err := d.pool.Ping(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Checks["postgres"] = err.Error()
	} else {
		resp.Checks["postgres"] = "ok"
	}

	if d.graph == nil {
		resp.Checks["neo4j"] = "disabled"
	} else if err := d.graph.Ping(ctx); err != nil {
		resp.Checks["neo4j"] = err.Error()
	} else {
		resp.Checks["neo4j"] = "ok"
	}

	if d.cache == nil {
		resp.Checks["redis"] = "disabled"
	} else if err := d.cache.Ping(ctx); err != nil {
		resp.Checks["redis"] = err.Error()
	} else {
		resp.Checks["redis"] = "ok"
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(resp)
}

// handleHealthz is the cheap liveness probe.
func (d *Daemon) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (d *Daemon) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	})
}
