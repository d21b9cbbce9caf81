package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/memflow/cache"
	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/store"
	"github.com/BaSui01/memflow/tenancy"
	"github.com/BaSui01/memflow/types"
)

// GraphStore is the graph projection the orchestrator writes through to.
// *graph.Graph satisfies it; tests substitute fakes.
type GraphStore interface {
	UpsertEntity(ctx context.Context, scope tenancy.Scope, name string, props map[string]any) error
	UpsertRelationship(ctx context.Context, scope tenancy.Scope, rel *types.EntityRelationship) error
	Connected(ctx context.Context, scope tenancy.Scope, entity string, depth int) ([]types.GraphEntity, error)
}

// SearchCache is the read-through cache surface the orchestrator uses.
// *cache.Cache satisfies it.
type SearchCache interface {
	SearchKey(scope tenancy.Scope, parts ...string) string
	SnapshotKey(scope tenancy.Scope) string
	GetJSON(ctx context.Context, key string, dest any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	InvalidateTenant(ctx context.Context, scope tenancy.Scope) error
}

// Orchestrator routes each operation to the right backend mix. The relational
// store is authoritative and synchronous; graph projection and cache
// invalidation run fire-and-forget so secondary backends can never fail a
// write.
type Orchestrator struct {
	store   *store.Store
	graph   GraphStore
	cache   SearchCache
	cfg     config.MemoryConfig
	metrics *metrics.Collector
	logger  *zap.Logger
	tracer  trace.Tracer

	wg sync.WaitGroup
}

// NewOrchestrator wires the three backends together. Graph and cache may be
// nil; the orchestrator degrades to primary-store-only behavior for whichever
// is absent (graph-shaped reads then fail as backend-unavailable).
func NewOrchestrator(s *store.Store, g GraphStore, c SearchCache, cfg config.MemoryConfig, collector *metrics.Collector, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:   s,
		graph:   g,
		cache:   c,
		cfg:     cfg,
		metrics: collector,
		logger:  logger.With(zap.String("component", "orchestrator")),
		tracer:  otel.Tracer("github.com/BaSui01/memflow/memory"),
	}
}

// Flush waits for in-flight fire-and-forget projections. Called on shutdown
// and by tests.
func (o *Orchestrator) Flush() {
	o.wg.Wait()
}

// WritePacket writes the packet to the primary store, then kicks off cache
// invalidation in the background. The write succeeds or fails entirely on the
// primary store's verdict.
func (o *Orchestrator) WritePacket(ctx context.Context, scope tenancy.Scope, p *types.Packet) (string, error) {
	ctx, span := o.tracer.Start(ctx, "memory.write",
		trace.WithAttributes(attribute.String("segment", p.Segment)))
	defer span.End()

	primaryCtx, cancel := context.WithTimeout(ctx, o.cfg.PrimaryTimeout)
	defer cancel()

	start := time.Now()
	id, err := o.store.CreatePacket(primaryCtx, scope, p)
	if o.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		o.metrics.RecordWrite(p.Segment, status, time.Since(start))
	}
	if err != nil {
		return "", err
	}

	o.async(func(ctx context.Context) {
		o.invalidateCache(ctx, scope)
	})
	return id, nil
}

// WriteEmbedding attaches a semantic embedding to an already-written packet.
func (o *Orchestrator) WriteEmbedding(ctx context.Context, e *types.SemanticEmbedding) (string, error) {
	primaryCtx, cancel := context.WithTimeout(ctx, o.cfg.PrimaryTimeout)
	defer cancel()
	return o.store.CreateEmbedding(primaryCtx, e)
}

// RecordFact upserts the fact and its relationship mirror in the primary
// store, then projects the edge to the graph and invalidates the cache in the
// background.
func (o *Orchestrator) RecordFact(ctx context.Context, scope tenancy.Scope, a types.FactAssertion) (*types.KnowledgeFact, error) {
	ctx, span := o.tracer.Start(ctx, "memory.record_fact")
	defer span.End()

	primaryCtx, cancel := context.WithTimeout(ctx, o.cfg.PrimaryTimeout)
	defer cancel()

	fact, err := o.store.UpsertFact(primaryCtx, scope, a)
	if err != nil {
		return nil, err
	}

	rel := &types.EntityRelationship{
		Subject:   a.Subject,
		Predicate: a.Predicate,
		Object:    a.Object,
		Weight:    1.0,
	}
	if _, err := o.store.UpsertRelationship(primaryCtx, scope, rel); err != nil {
		return nil, err
	}

	o.async(func(ctx context.Context) {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			// Endpoint nodes first so the edge merge finds them carrying
			// their display names.
			o.projectEntity(gctx, scope, a.Subject)
			o.projectEntity(gctx, scope, a.Object)
			o.projectRelationship(gctx, scope, rel)
			return nil
		})
		g.Go(func() error {
			o.invalidateCache(gctx, scope)
			return nil
		})
		_ = g.Wait()
	})
	return fact, nil
}

// Search serves a keyword search cache-first. A hit returns immediately; a
// miss falls through to the primary store and populates the cache. Access
// tracking runs in the background so it never delays the response.
func (o *Orchestrator) Search(ctx context.Context, scope tenancy.Scope, query store.SearchQuery) ([]types.Packet, error) {
	ctx, span := o.tracer.Start(ctx, "memory.search")
	defer span.End()
	start := time.Now()

	key := ""
	if o.cache != nil {
		key = o.cache.SearchKey(scope,
			query.Text, query.Segment, query.PacketType, query.ThreadID,
			query.AgentID, query.Tag, timeKeyPart(query.After), timeKeyPart(query.Before),
			limitKeyPart(query.Limit))

		cacheCtx, cancel := context.WithTimeout(ctx, o.cfg.CacheTimeout)
		var cached []types.Packet
		err := o.cache.GetJSON(cacheCtx, key, &cached)
		cancel()
		switch {
		case err == nil:
			if o.metrics != nil {
				o.metrics.RecordCacheHit("search")
				o.metrics.RecordSearch("keyword", "cache", time.Since(start))
			}
			o.touchAsync(cached)
			return cached, nil
		case cache.IsMiss(err):
			if o.metrics != nil {
				o.metrics.RecordCacheMiss("search")
			}
		default:
			// A down cache only costs a store round trip.
			o.logger.Warn("search cache read failed", zap.Error(err))
			if o.metrics != nil {
				o.metrics.RecordProjectionFailure("redis")
			}
		}
	}

	primaryCtx, cancel := context.WithTimeout(ctx, o.cfg.PrimaryTimeout)
	defer cancel()
	results, err := o.store.SearchPackets(primaryCtx, scope, query)
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.RecordSearch("keyword", "store", time.Since(start))
	}

	if o.cache != nil && key != "" {
		cacheKey := key
		toCache := results
		o.async(func(ctx context.Context) {
			if err := o.cache.SetJSON(ctx, cacheKey, toCache, o.cfg.SearchCacheTTL); err != nil {
				o.logger.Warn("search cache write failed", zap.Error(err))
				if o.metrics != nil {
					o.metrics.RecordProjectionFailure("redis")
				}
			}
		})
	}
	o.touchAsync(results)
	return results, nil
}

// SemanticSearch ranks packets by vector distance. Served by the primary
// store only; result vectors change with every write, so these are not
// cached.
func (o *Orchestrator) SemanticSearch(ctx context.Context, scope tenancy.Scope, embedding []float32, query store.SearchQuery) ([]types.ScoredPacket, error) {
	ctx, span := o.tracer.Start(ctx, "memory.semantic_search")
	defer span.End()
	start := time.Now()

	primaryCtx, cancel := context.WithTimeout(ctx, o.cfg.PrimaryTimeout)
	defer cancel()
	results, err := o.store.SemanticSearch(primaryCtx, scope, embedding, query)
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.RecordSearch("semantic", "store", time.Since(start))
	}

	packets := make([]types.Packet, 0, len(results))
	for i := range results {
		packets = append(packets, results[i].Packet)
	}
	o.touchAsync(packets)
	return results, nil
}

// TraverseLineage walks the packet ancestry DAG in the primary store.
func (o *Orchestrator) TraverseLineage(ctx context.Context, scope tenancy.Scope, packetID string, depth int) ([]types.Packet, error) {
	ctx, span := o.tracer.Start(ctx, "memory.traverse_lineage")
	defer span.End()

	primaryCtx, cancel := context.WithTimeout(ctx, o.cfg.PrimaryTimeout)
	defer cancel()
	return o.store.TraverseLineage(primaryCtx, scope, packetID, depth)
}

// Connected serves graph traversal from Neo4j exclusively. There is no
// relational fallback for graph-shaped queries: a missing or down graph
// backend is an explicit unavailability error.
func (o *Orchestrator) Connected(ctx context.Context, scope tenancy.Scope, entity string, depth int) ([]types.GraphEntity, error) {
	ctx, span := o.tracer.Start(ctx, "memory.connected",
		trace.WithAttributes(attribute.Int("depth", depth)))
	defer span.End()

	if o.graph == nil {
		return nil, types.NewError(types.ErrBackendUnavailable, "graph backend is not configured").
			WithBackend("neo4j")
	}

	graphCtx, cancel := context.WithTimeout(ctx, o.cfg.GraphTimeout)
	defer cancel()

	start := time.Now()
	entities, err := o.graph.Connected(graphCtx, scope, entity, depth)
	if o.metrics != nil {
		o.metrics.RecordBackendOperation("neo4j", "connected", time.Since(start))
	}
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.RecordSearch("graph", "graph", time.Since(start))
	}
	return entities, nil
}

// Store exposes the primary store for components that operate on it directly
// (reflection engine, feedback processor, jobs).
func (o *Orchestrator) Store() *store.Store {
	return o.store
}

// Cache exposes the cache layer for snapshot publication.
func (o *Orchestrator) Cache() SearchCache {
	return o.cache
}

// async runs fn on a detached context so fire-and-forget work survives the
// request's cancellation. The secondary timeout bounds it instead.
func (o *Orchestrator) async(fn func(ctx context.Context)) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		timeout := o.cfg.GraphTimeout
		if o.cfg.CacheTimeout > timeout {
			timeout = o.cfg.CacheTimeout
		}
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		fn(ctx)
	}()
}

func (o *Orchestrator) touchAsync(packets []types.Packet) {
	if len(packets) == 0 {
		return
	}
	ids := make([]string, 0, len(packets))
	for i := range packets {
		ids = append(ids, packets[i].ID)
	}
	o.async(func(ctx context.Context) {
		if err := o.store.TouchAccess(ctx, ids); err != nil {
			o.logger.Warn("access tracking failed", zap.Error(err))
		}
	})
}

func (o *Orchestrator) projectEntity(ctx context.Context, scope tenancy.Scope, name string) {
	if o.graph == nil {
		return
	}
	graphCtx, cancel := context.WithTimeout(ctx, o.cfg.GraphTimeout)
	defer cancel()

	start := time.Now()
	err := o.graph.UpsertEntity(graphCtx, scope, name, map[string]any{"display_name": name})
	if o.metrics != nil {
		o.metrics.RecordBackendOperation("neo4j", "upsert_entity", time.Since(start))
	}
	if err != nil {
		o.logger.Warn("entity projection failed",
			zap.String("entity", name),
			zap.Error(err))
		if o.metrics != nil {
			o.metrics.RecordProjectionFailure("neo4j")
		}
	}
}

func (o *Orchestrator) projectRelationship(ctx context.Context, scope tenancy.Scope, rel *types.EntityRelationship) {
	if o.graph == nil {
		return
	}
	graphCtx, cancel := context.WithTimeout(ctx, o.cfg.GraphTimeout)
	defer cancel()

	start := time.Now()
	err := o.graph.UpsertRelationship(graphCtx, scope, rel)
	if o.metrics != nil {
		o.metrics.RecordBackendOperation("neo4j", "upsert_relationship", time.Since(start))
	}
	if err != nil {
		// Projection failures are logged and counted, never surfaced; the
		// relational copy remains authoritative.
		o.logger.Warn("graph projection failed",
			zap.String("subject", rel.Subject),
			zap.String("predicate", rel.Predicate),
			zap.Error(err))
		if o.metrics != nil {
			o.metrics.RecordProjectionFailure("neo4j")
		}
	}
}

func (o *Orchestrator) invalidateCache(ctx context.Context, scope tenancy.Scope) {
	if o.cache == nil {
		return
	}
	cacheCtx, cancel := context.WithTimeout(ctx, o.cfg.CacheTimeout)
	defer cancel()

	if err := o.cache.InvalidateTenant(cacheCtx, scope); err != nil {
		o.logger.Warn("cache invalidation failed",
			zap.String("tenant_id", scope.TenantID),
			zap.Error(err))
		if o.metrics != nil {
			o.metrics.RecordProjectionFailure("redis")
		}
	}
}

func timeKeyPart(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func limitKeyPart(limit int) string {
	if limit <= 0 {
		return "limit=10"
	}
	return "limit=" + strconv.Itoa(limit)
}
