package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/BaSui01/memflow/types"
)

// JSONMap stores an open-ended structured map as a JSON column. Known packet
// shapes are validated before they reach the store; unknown shapes pass
// through opaquely.
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json map: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported json map source type %T", value)
	}
	return json.Unmarshal(data, m)
}

// StringList stores a string slice as a JSON column.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal string list: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported string list source type %T", value)
	}
	return json.Unmarshal(data, l)
}

// PacketModel is the persisted shape of a memory packet.
type PacketModel struct {
	ID              string     `gorm:"primaryKey;size:36"`
	PacketType      string     `gorm:"size:64;index"`
	Segment         string     `gorm:"size:64;index"`
	Payload         JSONMap    `gorm:"type:jsonb"`
	ThreadID        string     `gorm:"size:64;index"`
	ParentIDs       StringList `gorm:"type:jsonb"`
	Tags            StringList `gorm:"type:jsonb"`
	Scope           string     `gorm:"size:16;default:shared"`
	AgentID         string     `gorm:"size:64;index"`
	ContentHash     string     `gorm:"size:64;index"`
	ImportanceScore float64
	AccessCount     int
	LastAccessed    *time.Time
	TTL             *time.Time `gorm:"column:ttl;index"`
	TenantID        string     `gorm:"size:64;index:idx_packets_tenancy"`
	OrgID           string     `gorm:"size:64;index:idx_packets_tenancy"`
	UserID          string     `gorm:"size:64"`
	CorrelationID   string     `gorm:"size:64"`
	CreatedAt       time.Time
}

// TableName implements gorm's table naming.
func (PacketModel) TableName() string { return "packets" }

// EmbeddingModel is the persisted shape of a semantic embedding.
type EmbeddingModel struct {
	ID              string          `gorm:"primaryKey;size:36"`
	PacketID        string          `gorm:"size:36;index"`
	EmbeddingType   string          `gorm:"size:16"`
	Embedding       pgvector.Vector `gorm:"type:vector(1536)"`
	ImportanceScore float64
	AccessCount     int
	Stale           bool `gorm:"index"`
	CreatedAt       time.Time
}

// TableName implements gorm's table naming.
func (EmbeddingModel) TableName() string { return "semantic_embeddings" }

// FactModel is the persisted shape of a knowledge fact.
type FactModel struct {
	ID                    string `gorm:"primaryKey;size:36"`
	Subject               string `gorm:"size:256"`
	Predicate             string `gorm:"size:128;index:idx_facts_subject_predicate,priority:2;uniqueIndex:uq_facts_triple,priority:2"`
	Object                string `gorm:"size:256"`
	SubjectNormalized     string `gorm:"size:256;index:idx_facts_subject_predicate,priority:1;uniqueIndex:uq_facts_triple,priority:1"`
	ObjectNormalized      string `gorm:"size:256;uniqueIndex:uq_facts_triple,priority:3"`
	Confidence            float64
	SourcePacketID        string `gorm:"size:36"`
	SupportingPacketCount int
	Version               int64
	TenantID              string `gorm:"size:64;uniqueIndex:uq_facts_triple,priority:4"`
	OrgID                 string `gorm:"size:64"`
	CreatedAt             time.Time
	UpdatedAt             time.Time
	LastReinforcedAt      *time.Time
}

// TableName implements gorm's table naming.
func (FactModel) TableName() string { return "knowledge_facts" }

// RelationshipModel is the relational mirror of a graph edge.
type RelationshipModel struct {
	ID        string `gorm:"primaryKey;size:36"`
	Subject   string `gorm:"size:256;uniqueIndex:uq_rel_edge,priority:1"`
	Predicate string `gorm:"size:128;uniqueIndex:uq_rel_edge,priority:2"`
	Object    string `gorm:"size:256;uniqueIndex:uq_rel_edge,priority:3"`
	Weight    float64
	TenantID  string `gorm:"size:64;uniqueIndex:uq_rel_edge,priority:4"`
	OrgID     string `gorm:"size:64"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName implements gorm's table naming.
func (RelationshipModel) TableName() string { return "entity_relationships" }

// ReflectionModel is the persisted shape of a reflection.
type ReflectionModel struct {
	ID                 string `gorm:"primaryKey;size:36"`
	Content            string
	ReflectionType     string `gorm:"size:32;index"`
	Context            string
	Confidence         float64
	Priority           string `gorm:"size:16"`
	SuccessCount       int
	FailureCount       int
	EffectivenessScore *float64 `gorm:"index"`
	TimesApplied       int
	LastAppliedAt      *time.Time
	ExpiresAt          *time.Time `gorm:"index"`
	SourcePacketID     string     `gorm:"size:36"`
	Version            int64
	TenantID           string `gorm:"size:64;index:idx_reflections_tenancy"`
	OrgID              string `gorm:"size:64;index:idx_reflections_tenancy"`
	UserID             string `gorm:"size:64"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// TableName implements gorm's table naming.
func (ReflectionModel) TableName() string { return "reflections" }

// FeedbackModel is the persisted shape of a feedback event.
type FeedbackModel struct {
	ID                  string `gorm:"primaryKey;size:36"`
	FeedbackType        string `gorm:"size:32;index"`
	FeedbackText        string
	SentimentScore      float64
	PacketID            string `gorm:"size:36;index"`
	ReflectionID        string `gorm:"size:36;index"`
	WasProcessed        bool   `gorm:"index"`
	ProcessedAt         *time.Time
	DerivedReflectionID string `gorm:"size:36"`
	TenantID            string `gorm:"size:64"`
	OrgID               string `gorm:"size:64"`
	UserID              string `gorm:"size:64"`
	CorrelationID       string `gorm:"size:64"`
	CreatedAt           time.Time
}

// TableName implements gorm's table naming.
func (FeedbackModel) TableName() string { return "feedback_events" }

func (m *PacketModel) toDomain() *types.Packet {
	return &types.Packet{
		ID:              m.ID,
		PacketType:      m.PacketType,
		Segment:         m.Segment,
		Payload:         map[string]any(m.Payload),
		ThreadID:        m.ThreadID,
		ParentIDs:       []string(m.ParentIDs),
		Tags:            []string(m.Tags),
		Scope:           types.VisibilityScope(m.Scope),
		AgentID:         m.AgentID,
		ContentHash:     m.ContentHash,
		ImportanceScore: m.ImportanceScore,
		AccessCount:     m.AccessCount,
		LastAccessed:    m.LastAccessed,
		TTL:             m.TTL,
		TenantID:        m.TenantID,
		OrgID:           m.OrgID,
		UserID:          m.UserID,
		CorrelationID:   m.CorrelationID,
		CreatedAt:       m.CreatedAt,
	}
}

func (m *FactModel) toDomain() *types.KnowledgeFact {
	return &types.KnowledgeFact{
		ID:                    m.ID,
		Subject:               m.Subject,
		Predicate:             m.Predicate,
		Object:                m.Object,
		SubjectNormalized:     m.SubjectNormalized,
		ObjectNormalized:      m.ObjectNormalized,
		Confidence:            m.Confidence,
		SourcePacketID:        m.SourcePacketID,
		SupportingPacketCount: m.SupportingPacketCount,
		Version:               m.Version,
		TenantID:              m.TenantID,
		OrgID:                 m.OrgID,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
		LastReinforcedAt:      m.LastReinforcedAt,
	}
}

func (m *ReflectionModel) toDomain() *types.Reflection {
	return &types.Reflection{
		ID:                 m.ID,
		Content:            m.Content,
		ReflectionType:     types.ReflectionType(m.ReflectionType),
		Context:            m.Context,
		Confidence:         m.Confidence,
		Priority:           types.ReflectionPriority(m.Priority),
		SuccessCount:       m.SuccessCount,
		FailureCount:       m.FailureCount,
		EffectivenessScore: m.EffectivenessScore,
		TimesApplied:       m.TimesApplied,
		LastAppliedAt:      m.LastAppliedAt,
		ExpiresAt:          m.ExpiresAt,
		SourcePacketID:     m.SourcePacketID,
		Version:            m.Version,
		TenantID:           m.TenantID,
		OrgID:              m.OrgID,
		UserID:             m.UserID,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func (m *FeedbackModel) toDomain() *types.FeedbackEvent {
	return &types.FeedbackEvent{
		ID:                  m.ID,
		FeedbackType:        types.FeedbackType(m.FeedbackType),
		FeedbackText:        m.FeedbackText,
		SentimentScore:      m.SentimentScore,
		PacketID:            m.PacketID,
		ReflectionID:        m.ReflectionID,
		WasProcessed:        m.WasProcessed,
		ProcessedAt:         m.ProcessedAt,
		DerivedReflectionID: m.DerivedReflectionID,
		TenantID:            m.TenantID,
		OrgID:               m.OrgID,
		UserID:              m.UserID,
		CorrelationID:       m.CorrelationID,
		CreatedAt:           m.CreatedAt,
	}
}

func (m *RelationshipModel) toDomain() *types.EntityRelationship {
	return &types.EntityRelationship{
		ID:        m.ID,
		Subject:   m.Subject,
		Predicate: m.Predicate,
		Object:    m.Object,
		Weight:    m.Weight,
		TenantID:  m.TenantID,
		OrgID:     m.OrgID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
