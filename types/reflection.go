package types

import "time"

// ReflectionType classifies a learned reflection.
type ReflectionType string

const (
	ReflectionLesson  ReflectionType = "lesson"
	ReflectionPattern ReflectionType = "pattern"
	ReflectionFailure ReflectionType = "failure"
)

// ReflectionPriority orders reflections of equal rank during retrieval.
type ReflectionPriority string

const (
	PriorityLow    ReflectionPriority = "low"
	PriorityMedium ReflectionPriority = "medium"
	PriorityHigh   ReflectionPriority = "high"
)

// Reflection is a learned lesson, pattern, or failure record whose usefulness
// is tracked via success/failure counts. EffectivenessScore is derived as
// success/(success+failure) and is nil until the reflection has been applied
// at least once. The two counters are append-only; the score is always
// recomputed, never hand-set.
type Reflection struct {
	ID                 string             `json:"id"`
	Content            string             `json:"content"`
	ReflectionType     ReflectionType     `json:"reflection_type"`
	Context            string             `json:"context,omitempty"`
	Confidence         float64            `json:"confidence"`
	Priority           ReflectionPriority `json:"priority"`
	SuccessCount       int                `json:"success_count"`
	FailureCount       int                `json:"failure_count"`
	EffectivenessScore *float64           `json:"effectiveness_score,omitempty"`
	TimesApplied       int                `json:"times_applied"`
	LastAppliedAt      *time.Time         `json:"last_applied_at,omitempty"`
	ExpiresAt          *time.Time         `json:"expires_at,omitempty"`
	SourcePacketID     string             `json:"source_packet_id,omitempty"`
	Version            int64              `json:"version"`
	TenantID           string             `json:"tenant_id,omitempty"`
	OrgID              string             `json:"org_id,omitempty"`
	UserID             string             `json:"user_id,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Expired reports whether the reflection's expiry has passed at the given instant.
func (r *Reflection) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}

// FeedbackType classifies an external feedback event.
type FeedbackType string

const (
	FeedbackPositive      FeedbackType = "positive"
	FeedbackNegative      FeedbackType = "negative"
	FeedbackCorrection    FeedbackType = "correction"
	FeedbackPreference    FeedbackType = "preference"
	FeedbackQuestion      FeedbackType = "question"
	FeedbackClarification FeedbackType = "clarification"
)

// Corrective reports whether this feedback type should spawn a derived lesson
// when feedback text is present.
func (t FeedbackType) Corrective() bool {
	return t == FeedbackNegative || t == FeedbackCorrection
}

// FeedbackEvent is an immutable record of human or agent feedback referencing
// a packet and/or a reflection. Processing flips WasProcessed exactly once and
// may set DerivedReflectionID; the event is never otherwise mutated.
type FeedbackEvent struct {
	ID                  string       `json:"id"`
	FeedbackType        FeedbackType `json:"feedback_type"`
	FeedbackText        string       `json:"feedback_text,omitempty"`
	SentimentScore      float64      `json:"sentiment_score"`
	PacketID            string       `json:"packet_id,omitempty"`
	ReflectionID        string       `json:"reflection_id,omitempty"`
	WasProcessed        bool         `json:"was_processed"`
	ProcessedAt         *time.Time   `json:"processed_at,omitempty"`
	DerivedReflectionID string       `json:"derived_reflection_id,omitempty"`
	TenantID            string       `json:"tenant_id,omitempty"`
	OrgID               string       `json:"org_id,omitempty"`
	UserID              string       `json:"user_id,omitempty"`
	CorrelationID       string       `json:"correlation_id,omitempty"`
	CreatedAt           time.Time    `json:"created_at"`
}

// ProcessingResult describes the outcome of processing one feedback event.
type ProcessingResult struct {
	FeedbackID          string    `json:"feedback_id"`
	AlreadyProcessed    bool      `json:"already_processed"`
	EffectivenessUpdate *float64  `json:"effectiveness_update,omitempty"`
	DerivedReflectionID string    `json:"derived_reflection_id,omitempty"`
	ProcessedAt         time.Time `json:"processed_at"`
}
