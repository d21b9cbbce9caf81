package types

import "time"

// KnowledgeFact is a subject-predicate-object triple extracted from packets.
// Confidence decays on contradiction and reinforces on repeated support; a
// fact is never hard-deleted, only decayed toward the confidence floor.
type KnowledgeFact struct {
	ID                    string     `json:"id"`
	Subject               string     `json:"subject"`
	Predicate             string     `json:"predicate"`
	Object                string     `json:"object"`
	SubjectNormalized     string     `json:"subject_normalized"`
	ObjectNormalized      string     `json:"object_normalized"`
	Confidence            float64    `json:"confidence"`
	SourcePacketID        string     `json:"source_packet_id,omitempty"`
	SupportingPacketCount int        `json:"supporting_packet_count"`
	Version               int64      `json:"version"`
	TenantID              string     `json:"tenant_id,omitempty"`
	OrgID                 string     `json:"org_id,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	LastReinforcedAt      *time.Time `json:"last_reinforced_at,omitempty"`
}

// EntityRelationship is a weighted edge derived from facts. The relational
// copy is authoritative; the graph copy is a best-effort projection.
type EntityRelationship struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Predicate string    `json:"predicate"`
	Object    string    `json:"object"`
	Weight    float64   `json:"weight"`
	TenantID  string    `json:"tenant_id,omitempty"`
	OrgID     string    `json:"org_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GraphEntity is a node returned by traversal queries against the graph
// projection.
type GraphEntity struct {
	Name       string         `json:"name"`
	Distance   int            `json:"distance"`
	Properties map[string]any `json:"properties,omitempty"`
}

// FactAssertion is the write-side shape for recording or reinforcing a fact.
type FactAssertion struct {
	Subject        string  `json:"subject"`
	Predicate      string  `json:"predicate"`
	Object         string  `json:"object"`
	Confidence     float64 `json:"confidence"`
	SourcePacketID string  `json:"source_packet_id,omitempty"`
}
