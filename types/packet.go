package types

import "time"

// VisibilityScope classifies who may see a packet within its tenant boundary.
type VisibilityScope string

const (
	// VisibilityShared packets are visible to every caller whose tenancy
	// predicates match.
	VisibilityShared VisibilityScope = "shared"

	// VisibilityRestricted packets are visible within the owning org only.
	VisibilityRestricted VisibilityScope = "restricted"

	// VisibilityPrivate packets are visible only to the owning agent or
	// system, regardless of tenant/org match.
	VisibilityPrivate VisibilityScope = "private"
)

// Packet is an immutable record of one event or insight in the memory
// substrate. Once written, Payload and PacketType never change; only the
// derived fields (ImportanceScore, AccessCount, LastAccessed, TTL) mutate.
type Packet struct {
	ID              string          `json:"id"`
	PacketType      string          `json:"packet_type"`
	Segment         string          `json:"segment"`
	Payload         map[string]any  `json:"payload"`
	ThreadID        string          `json:"thread_id,omitempty"`
	ParentIDs       []string        `json:"parent_ids,omitempty"`
	Tags            []string        `json:"tags,omitempty"`
	Scope           VisibilityScope `json:"scope"`
	AgentID         string          `json:"agent_id,omitempty"`
	ContentHash     string          `json:"content_hash"`
	ImportanceScore float64         `json:"importance_score"`
	AccessCount     int             `json:"access_count"`
	LastAccessed    *time.Time      `json:"last_accessed,omitempty"`
	TTL             *time.Time      `json:"ttl,omitempty"`
	TenantID        string          `json:"tenant_id,omitempty"`
	OrgID           string          `json:"org_id,omitempty"`
	UserID          string          `json:"user_id,omitempty"`
	CorrelationID   string          `json:"correlation_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Expired reports whether the packet's TTL has passed at the given instant.
func (p *Packet) Expired(now time.Time) bool {
	return p.TTL != nil && p.TTL.Before(now)
}

// EmbeddingType tags the role of a semantic embedding.
type EmbeddingType string

const (
	EmbeddingContent   EmbeddingType = "content"
	EmbeddingContext   EmbeddingType = "context"
	EmbeddingEntity    EmbeddingType = "entity"
	EmbeddingSummary   EmbeddingType = "summary"
	EmbeddingReasoning EmbeddingType = "reasoning"
)

// SemanticEmbedding is a fixed-dimensionality vector associated with a packet
// or fact. Embeddings are never mutated in place; a superseding embedding is
// inserted and the old row is marked stale.
type SemanticEmbedding struct {
	ID              string        `json:"id"`
	PacketID        string        `json:"packet_id"`
	EmbeddingType   EmbeddingType `json:"embedding_type"`
	Vector          []float32     `json:"vector,omitempty"`
	ImportanceScore float64       `json:"importance_score"`
	AccessCount     int           `json:"access_count"`
	Stale           bool          `json:"stale"`
	CreatedAt       time.Time     `json:"created_at"`
}

// ScoredPacket pairs a retrieved packet with its raw vector-space distance so
// callers can apply their own similarity thresholds.
type ScoredPacket struct {
	Packet   Packet  `json:"packet"`
	Distance float64 `json:"distance"`
}
