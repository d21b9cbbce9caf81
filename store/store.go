// Package store implements the authoritative PostgreSQL+pgvector backend.
//
// The store is the source of truth for packets, embeddings, knowledge facts,
// reflections, and feedback events. Secondary backends (graph projection,
// cache) are derived from what lands here. Every read is scoped through the
// tenancy guard before any other clause is applied.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/memflow/tenancy"
	"github.com/BaSui01/memflow/types"
)

// Store is the PrimaryStore backend over gorm.
type Store struct {
	db       *gorm.DB
	logger   *zap.Logger
	txRunner TxRunner
}

// New creates a Store over an initialized gorm handle.
func New(db *gorm.DB, logger *zap.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "primary_store")),
	}, nil
}

// AutoMigrate creates the schema through gorm. Production deployments run the
// SQL migrations instead; this exists for embedded and test setups.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&PacketModel{},
		&EmbeddingModel{},
		&FactModel{},
		&RelationshipModel{},
		&ReflectionModel{},
		&FeedbackModel{},
	)
}

// TxRunner executes fn within one database transaction. The daemon points
// this at the pool manager's retrying runner so transient failures (deadlock,
// serialization) are retried; without a runner the store opens the
// transaction directly on its own handle.
type TxRunner func(ctx context.Context, fn func(tx *gorm.DB) error) error

// UseTransactionRunner routes subsequent Transaction calls through run.
func (s *Store) UseTransactionRunner(run TxRunner) {
	s.txRunner = run
}

// Transaction runs fn against a Store bound to one database transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	run := func(tx *gorm.DB) error {
		return fn(&Store{db: tx, logger: s.logger})
	}
	if s.txRunner != nil {
		return s.txRunner(ctx, run)
	}
	return s.db.WithContext(ctx).Transaction(run)
}

// SearchQuery narrows a keyword/structured packet search. All non-zero
// fields are applied as AND conditions.
type SearchQuery struct {
	Text       string
	Segment    string
	PacketType string
	ThreadID   string
	AgentID    string
	Tag        string
	After      time.Time
	Before     time.Time
	Limit      int
}

// CreatePacket persists a new packet and returns its id. Packets are
// append-only: there is no update path for payload or packet_type.
func (s *Store) CreatePacket(ctx context.Context, scope tenancy.Scope, p *types.Packet) (string, error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Scope == "" {
		p.Scope = types.VisibilityShared
	}

	tenantID, orgID, userID := scope.Stamp()
	model := &PacketModel{
		ID:              p.ID,
		PacketType:      p.PacketType,
		Segment:         p.Segment,
		Payload:         JSONMap(p.Payload),
		ThreadID:        p.ThreadID,
		ParentIDs:       StringList(p.ParentIDs),
		Tags:            StringList(p.Tags),
		Scope:           string(p.Scope),
		AgentID:         p.AgentID,
		ContentHash:     p.ContentHash,
		ImportanceScore: p.ImportanceScore,
		TTL:             p.TTL,
		TenantID:        tenantID,
		OrgID:           orgID,
		UserID:          userID,
		CorrelationID:   p.CorrelationID,
		CreatedAt:       p.CreatedAt,
	}

	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return "", types.NewError(types.ErrInternal, "failed to write packet").
			WithBackend("postgres").WithCause(err)
	}

	s.logger.Debug("packet written",
		zap.String("packet_id", p.ID),
		zap.String("packet_type", p.PacketType),
		zap.String("segment", p.Segment))

	return p.ID, nil
}

// GetPacket retrieves one packet by id within the caller's scope.
func (s *Store) GetPacket(ctx context.Context, scope tenancy.Scope, id string) (*types.Packet, error) {
	var model PacketModel
	q := tenancy.ApplyVisibility(s.db.WithContext(ctx), scope)
	err := q.Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrNotFound, fmt.Sprintf("packet %s not found", id))
	}
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to load packet").
			WithBackend("postgres").WithCause(err)
	}
	return model.toDomain(), nil
}

// SearchPackets performs a keyword/structured search within the caller's
// scope, most recent first.
func (s *Store) SearchPackets(ctx context.Context, scope tenancy.Scope, query SearchQuery) ([]types.Packet, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 10
	}

	q := tenancy.ApplyVisibility(s.db.WithContext(ctx).Model(&PacketModel{}), scope)
	q = q.Where("ttl IS NULL OR ttl > ?", time.Now().UTC())

	if query.Text != "" {
		// payload is jsonb in postgres; LIKE needs an explicit text cast.
		pattern := "%" + strings.ToLower(query.Text) + "%"
		q = q.Where("LOWER(CAST(payload AS TEXT)) LIKE ?", pattern)
	}
	if query.Segment != "" {
		q = q.Where("segment = ?", query.Segment)
	}
	if query.PacketType != "" {
		q = q.Where("packet_type = ?", query.PacketType)
	}
	if query.ThreadID != "" {
		q = q.Where("thread_id = ?", query.ThreadID)
	}
	if query.AgentID != "" {
		q = q.Where("agent_id = ?", query.AgentID)
	}
	if query.Tag != "" {
		q = q.Where("CAST(tags AS TEXT) LIKE ?", "%\""+query.Tag+"\"%")
	}
	if !query.After.IsZero() {
		q = q.Where("created_at > ?", query.After)
	}
	if !query.Before.IsZero() {
		q = q.Where("created_at < ?", query.Before)
	}

	var models []PacketModel
	if err := q.Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, types.NewError(types.ErrInternal, "packet search failed").
			WithBackend("postgres").WithCause(err)
	}

	packets := make([]types.Packet, 0, len(models))
	for i := range models {
		packets = append(packets, *models[i].toDomain())
	}
	return packets, nil
}

// CreateEmbedding inserts a semantic embedding for a packet. Superseding an
// earlier embedding of the same type marks the old rows stale rather than
// mutating them.
func (s *Store) CreateEmbedding(ctx context.Context, e *types.SemanticEmbedding) (string, error) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&EmbeddingModel{}).
			Where("packet_id = ? AND embedding_type = ? AND NOT stale", e.PacketID, string(e.EmbeddingType)).
			Update("stale", true).Error; err != nil {
			return err
		}
		return tx.Create(&EmbeddingModel{
			ID:              e.ID,
			PacketID:        e.PacketID,
			EmbeddingType:   string(e.EmbeddingType),
			Embedding:       pgvector.NewVector(e.Vector),
			ImportanceScore: e.ImportanceScore,
			CreatedAt:       e.CreatedAt,
		}).Error
	})
	if err != nil {
		return "", types.NewError(types.ErrInternal, "failed to write embedding").
			WithBackend("postgres").WithCause(err)
	}
	return e.ID, nil
}

// SemanticSearch ranks packets by cosine distance between their live
// embeddings and the query vector. The raw distance is returned so callers
// can apply their own thresholds.
func (s *Store) SemanticSearch(ctx context.Context, scope tenancy.Scope, embedding []float32, query SearchQuery) ([]types.ScoredPacket, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 10
	}

	q := s.db.WithContext(ctx).
		Table("semantic_embeddings AS e").
		Select("p.*, e.embedding <=> ? AS distance", pgvector.NewVector(embedding)).
		Joins("JOIN packets p ON p.id = e.packet_id").
		Where("NOT e.stale").
		Where("p.ttl IS NULL OR p.ttl > ?", time.Now().UTC())

	q = applyPacketScope(q, scope)

	if query.Segment != "" {
		q = q.Where("p.segment = ?", query.Segment)
	}
	if query.PacketType != "" {
		q = q.Where("p.packet_type = ?", query.PacketType)
	}
	if query.AgentID != "" {
		q = q.Where("p.agent_id = ?", query.AgentID)
	}

	var rows []scoredRow
	if err := q.Order("distance ASC").Limit(limit).Scan(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrInternal, "semantic search failed").
			WithBackend("postgres").WithCause(err)
	}

	results := make([]types.ScoredPacket, 0, len(rows))
	for i := range rows {
		results = append(results, types.ScoredPacket{
			Packet:   *rows[i].PacketModel.toDomain(),
			Distance: rows[i].Distance,
		})
	}
	return results, nil
}

// scoredRow carries the packet columns plus the computed distance column.
type scoredRow struct {
	PacketModel `gorm:"embedded"`
	Distance    float64
}

// TouchAccess bumps access tracking for the given packets. It is invoked
// asynchronously after a search response is returned and must never block a
// read path.
func (s *Store) TouchAccess(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Model(&PacketModel{}).
		Where("id IN ?", ids).
		UpdateColumns(map[string]any{
			"access_count":  gorm.Expr("access_count + 1"),
			"last_accessed": now,
		}).Error
	if err != nil {
		return types.NewError(types.ErrInternal, "access tracking failed").
			WithBackend("postgres").WithCause(err)
	}
	return nil
}

// TraverseLineage walks the parent DAG from a packet up to depth hops.
// Dangling parent references are tolerated and logged, never an error.
func (s *Store) TraverseLineage(ctx context.Context, scope tenancy.Scope, packetID string, depth int) ([]types.Packet, error) {
	if depth <= 0 {
		return []types.Packet{}, nil
	}

	start, err := s.GetPacket(ctx, scope, packetID)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{start.ID: true}
	frontier := start.ParentIDs
	var lineage []types.Packet

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []string
		for _, parentID := range frontier {
			if visited[parentID] {
				continue
			}
			visited[parentID] = true

			parent, err := s.GetPacket(ctx, scope, parentID)
			if types.IsNotFound(err) {
				// Parent ids are weak links across partitions; a missing
				// parent is a tolerated condition.
				s.logger.Warn("dangling parent reference",
					zap.String("packet_id", packetID),
					zap.String("parent_id", parentID))
				continue
			}
			if err != nil {
				return nil, err
			}
			lineage = append(lineage, *parent)
			next = append(next, parent.ParentIDs...)
		}
		frontier = next
	}

	return lineage, nil
}

// CleanupExpired deletes packets whose ttl and reflections whose expires_at
// are in the past. Runs with normal transaction isolation; safe alongside
// live reads.
func (s *Store) CleanupExpired(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	var removed int64

	res := s.db.WithContext(ctx).
		Where("ttl IS NOT NULL AND ttl < ?", now).
		Delete(&PacketModel{})
	if res.Error != nil {
		return 0, types.NewError(types.ErrInternal, "packet expiry sweep failed").
			WithBackend("postgres").WithCause(res.Error)
	}
	removed += res.RowsAffected

	res = s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Delete(&ReflectionModel{})
	if res.Error != nil {
		return removed, types.NewError(types.ErrInternal, "reflection expiry sweep failed").
			WithBackend("postgres").WithCause(res.Error)
	}
	removed += res.RowsAffected

	if removed > 0 {
		s.logger.Info("expired records removed", zap.Int64("count", removed))
	}
	return removed, nil
}

// DecayImportance multiplies the importance of packets that have not been
// accessed within the idle window. Single-statement conditional update; safe
// to run concurrently with live traffic.
func (s *Store) DecayImportance(ctx context.Context, factor float64, idleWindow time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-idleWindow)
	res := s.db.WithContext(ctx).Model(&PacketModel{}).
		Where("(last_accessed IS NULL AND created_at < ?) OR last_accessed < ?", cutoff, cutoff).
		UpdateColumn("importance_score", gorm.Expr("importance_score * ?", factor))
	if res.Error != nil {
		return 0, types.NewError(types.ErrInternal, "importance decay failed").
			WithBackend("postgres").WithCause(res.Error)
	}
	return res.RowsAffected, nil
}

// applyPacketScope mirrors tenancy.ApplyVisibility for queries whose packet
// columns are aliased as p.
func applyPacketScope(db *gorm.DB, scope tenancy.Scope) *gorm.DB {
	if scope.IsAdmin() {
		return db
	}
	if scope.Anonymous() {
		return db.
			Where("p.tenant_id IS NULL OR p.tenant_id = ''").
			Where("p.org_id IS NULL OR p.org_id = ''").
			Where("p.scope = ?", string(types.VisibilityShared))
	}
	db = db.
		Where("p.tenant_id IS NULL OR p.tenant_id = '' OR p.tenant_id = ?", scope.TenantID).
		Where("p.org_id IS NULL OR p.org_id = '' OR p.org_id = ?", scope.OrgID)
	if scope.Role == tenancy.RoleOrgAdmin {
		return db
	}
	return db.Where("p.scope <> ? OR p.user_id = ?", string(types.VisibilityPrivate), scope.UserID)
}
