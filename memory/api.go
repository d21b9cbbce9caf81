package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/store"
	"github.com/BaSui01/memflow/tenancy"
	"github.com/BaSui01/memflow/types"
)

// requiredPayloadFields validates the known packet shapes strictly. Types not
// listed here are passed through opaquely; the payload map itself is always
// required to be non-empty and JSON-serializable.
var requiredPayloadFields = map[string][]string{
	"insight":     {"text"},
	"observation": {"text"},
	"decision":    {"text"},
	"tool_call":   {"tool"},
	"event":       {"name"},
}

// WriteRequest is the write-side input to the memory API.
type WriteRequest struct {
	Segment       string                `json:"segment"`
	PacketType    string                `json:"packet_type"`
	Payload       map[string]any        `json:"payload"`
	ThreadID      string                `json:"thread_id,omitempty"`
	ParentIDs     []string              `json:"parent_ids,omitempty"`
	Tags          []string              `json:"tags,omitempty"`
	AgentID       string                `json:"agent_id,omitempty"`
	Scope         types.VisibilityScope `json:"scope,omitempty"`
	TTL           time.Duration         `json:"ttl,omitempty"`
	Importance    float64               `json:"importance,omitempty"`
	CorrelationID string                `json:"correlation_id,omitempty"`
}

// FeedbackRequest is the write-side input for recording feedback.
type FeedbackRequest struct {
	FeedbackType   types.FeedbackType `json:"feedback_type"`
	FeedbackText   string             `json:"feedback_text,omitempty"`
	SentimentScore float64            `json:"sentiment_score"`
	PacketID       string             `json:"packet_id,omitempty"`
	ReflectionID   string             `json:"reflection_id,omitempty"`
	CorrelationID  string             `json:"correlation_id,omitempty"`
}

// Service is the MemoryAPI: the single entry point agents use to read and
// write the memory substrate. All validation and scope checking happens here,
// before any backend is touched.
type Service struct {
	orch        *Orchestrator
	reflections *ReflectionEngine
	feedback    *FeedbackProcessor
	cfg         config.MemoryConfig
	logger      *zap.Logger
}

// NewService assembles the API over its three collaborators.
func NewService(orch *Orchestrator, engine *ReflectionEngine, processor *FeedbackProcessor, cfg config.MemoryConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		orch:        orch,
		reflections: engine,
		feedback:    processor,
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "memory_api")),
	}
}

// Write validates and persists a new packet, returning its id. Every call
// creates a new packet; identical content is detectable through the shared
// content hash, not deduplicated.
func (s *Service) Write(ctx context.Context, scope tenancy.Scope, req WriteRequest) (string, error) {
	if err := scope.Validate(); err != nil {
		return "", err
	}
	if req.Segment == "" {
		return "", types.NewError(types.ErrValidation, "segment is required")
	}
	if req.PacketType == "" {
		return "", types.NewError(types.ErrValidation, "packet_type is required")
	}
	if len(req.Payload) == 0 {
		return "", types.NewError(types.ErrValidation, "payload cannot be empty")
	}
	if fields, known := requiredPayloadFields[req.PacketType]; known {
		for _, field := range fields {
			if _, ok := req.Payload[field]; !ok {
				return "", types.NewError(types.ErrValidation,
					fmt.Sprintf("packet type %q requires payload field %q", req.PacketType, field))
			}
		}
	}

	hash, err := ContentHash(req.Payload)
	if err != nil {
		return "", types.NewError(types.ErrValidation, "payload is not serializable").WithCause(err)
	}

	importance := req.Importance
	if importance <= 0 {
		importance = s.cfg.DefaultImportance
	}
	var ttl *time.Time
	if req.TTL > 0 {
		t := time.Now().UTC().Add(req.TTL)
		ttl = &t
	}

	return s.orch.WritePacket(ctx, scope, &types.Packet{
		PacketType:      req.PacketType,
		Segment:         req.Segment,
		Payload:         req.Payload,
		ThreadID:        req.ThreadID,
		ParentIDs:       req.ParentIDs,
		Tags:            req.Tags,
		Scope:           req.Scope,
		AgentID:         req.AgentID,
		ContentHash:     hash,
		ImportanceScore: importance,
		TTL:             ttl,
		CorrelationID:   req.CorrelationID,
	})
}

// AttachEmbedding stores a semantic embedding for an existing packet.
func (s *Service) AttachEmbedding(ctx context.Context, scope tenancy.Scope, packetID string, embeddingType types.EmbeddingType, vector []float32) (string, error) {
	if err := scope.Validate(); err != nil {
		return "", err
	}
	if err := s.checkDimension(vector); err != nil {
		return "", err
	}
	// The packet must exist and be visible to the caller.
	if _, err := s.orch.Store().GetPacket(ctx, scope, packetID); err != nil {
		return "", err
	}
	return s.orch.WriteEmbedding(ctx, &types.SemanticEmbedding{
		PacketID:      packetID,
		EmbeddingType: embeddingType,
		Vector:        vector,
	})
}

// Get retrieves one packet by id.
func (s *Service) Get(ctx context.Context, scope tenancy.Scope, packetID string) (*types.Packet, error) {
	return s.orch.Store().GetPacket(ctx, scope, packetID)
}

// Search runs a keyword/structured search, cache-first.
func (s *Service) Search(ctx context.Context, scope tenancy.Scope, query store.SearchQuery) ([]types.Packet, error) {
	return s.orch.Search(ctx, scope, query)
}

// SemanticSearch ranks packets by cosine distance to the query embedding.
func (s *Service) SemanticSearch(ctx context.Context, scope tenancy.Scope, embedding []float32, query store.SearchQuery) ([]types.ScoredPacket, error) {
	if err := s.checkDimension(embedding); err != nil {
		return nil, err
	}
	return s.orch.SemanticSearch(ctx, scope, embedding, query)
}

// TraverseLineage walks a packet's ancestor DAG up to depth hops.
func (s *Service) TraverseLineage(ctx context.Context, scope tenancy.Scope, packetID string, depth int) ([]types.Packet, error) {
	return s.orch.TraverseLineage(ctx, scope, packetID, depth)
}

// Connected returns graph entities reachable from the named entity.
func (s *Service) Connected(ctx context.Context, scope tenancy.Scope, entity string, depth int) ([]types.GraphEntity, error) {
	if entity == "" {
		return nil, types.NewError(types.ErrValidation, "entity is required")
	}
	return s.orch.Connected(ctx, scope, entity, depth)
}

// RecordFact upserts a knowledge fact with its relationship mirror and graph
// projection.
func (s *Service) RecordFact(ctx context.Context, scope tenancy.Scope, assertion types.FactAssertion) (*types.KnowledgeFact, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return s.orch.RecordFact(ctx, scope, assertion)
}

// CreateReflection stores a new reflection.
func (s *Service) CreateReflection(ctx context.Context, scope tenancy.Scope, r *types.Reflection) (string, error) {
	if err := scope.Validate(); err != nil {
		return "", err
	}
	return s.reflections.Create(ctx, scope, r)
}

// GetEffectiveReflections returns proven reflections for the task context,
// best first.
func (s *Service) GetEffectiveReflections(ctx context.Context, scope tenancy.Scope, taskContext string, limit int) ([]types.Reflection, error) {
	return s.reflections.EffectiveReflections(ctx, scope, taskContext, limit)
}

// UpdateReflectionEffectiveness records an application outcome for a
// reflection.
func (s *Service) UpdateReflectionEffectiveness(ctx context.Context, scope tenancy.Scope, reflectionID string, wasSuccessful bool) (float64, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	return s.reflections.UpdateEffectiveness(ctx, scope, reflectionID, wasSuccessful)
}

// RecordFeedback ingests a feedback event for later processing.
func (s *Service) RecordFeedback(ctx context.Context, scope tenancy.Scope, req FeedbackRequest) (string, error) {
	if err := scope.Validate(); err != nil {
		return "", err
	}
	return s.feedback.Record(ctx, scope, &types.FeedbackEvent{
		FeedbackType:   req.FeedbackType,
		FeedbackText:   req.FeedbackText,
		SentimentScore: req.SentimentScore,
		PacketID:       req.PacketID,
		ReflectionID:   req.ReflectionID,
		CorrelationID:  req.CorrelationID,
	})
}

// ProcessFeedback applies one feedback event. Idempotent.
func (s *Service) ProcessFeedback(ctx context.Context, scope tenancy.Scope, feedbackID string) (*types.ProcessingResult, error) {
	return s.feedback.Process(ctx, scope, feedbackID)
}

// CleanupExpired removes expired packets and reflections, returning the
// number of rows removed.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	return s.orch.Store().CleanupExpired(ctx)
}

// Flush drains in-flight background projections. Called on shutdown.
func (s *Service) Flush() {
	s.orch.Flush()
}

func (s *Service) checkDimension(vector []float32) error {
	if len(vector) == 0 {
		return types.NewError(types.ErrValidation, "embedding cannot be empty")
	}
	if s.cfg.EmbeddingDim > 0 && len(vector) != s.cfg.EmbeddingDim {
		return types.NewError(types.ErrValidation,
			fmt.Sprintf("embedding dimension %d does not match configured %d", len(vector), s.cfg.EmbeddingDim))
	}
	return nil
}

// ContentHash computes the sha256 of the payload's canonical JSON encoding.
// Go's map marshaling sorts keys, which makes the hash stable across writes
// of semantically identical payloads.
func ContentHash(payload map[string]any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
