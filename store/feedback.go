package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/BaSui01/memflow/tenancy"
	"github.com/BaSui01/memflow/types"
)

// CreateFeedback persists a new feedback event in an unprocessed state.
func (s *Store) CreateFeedback(ctx context.Context, scope tenancy.Scope, f *types.FeedbackEvent) (string, error) {
	if f.FeedbackType == "" {
		return "", types.NewError(types.ErrValidation, "feedback type cannot be empty")
	}
	if f.SentimentScore < -1 || f.SentimentScore > 1 {
		return "", types.NewError(types.ErrValidation, "sentiment score must be within [-1, 1]")
	}
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}

	tenantID, orgID, userID := scope.Stamp()
	model := &FeedbackModel{
		ID:             f.ID,
		FeedbackType:   string(f.FeedbackType),
		FeedbackText:   f.FeedbackText,
		SentimentScore: f.SentimentScore,
		PacketID:       f.PacketID,
		ReflectionID:   f.ReflectionID,
		TenantID:       tenantID,
		OrgID:          orgID,
		UserID:         userID,
		CorrelationID:  f.CorrelationID,
		CreatedAt:      f.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return "", types.NewError(types.ErrInternal, "failed to write feedback event").
			WithBackend("postgres").WithCause(err)
	}
	return f.ID, nil
}

// GetFeedback loads one feedback event within the caller's scope.
func (s *Store) GetFeedback(ctx context.Context, scope tenancy.Scope, id string) (*types.FeedbackEvent, error) {
	var model FeedbackModel
	q := tenancy.Apply(s.db.WithContext(ctx), scope)
	err := q.Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrNotFound, "feedback event not found")
	}
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to load feedback event").
			WithBackend("postgres").WithCause(err)
	}
	return model.toDomain(), nil
}

// MarkFeedbackProcessed flips the processed flag exactly once. A row already
// marked processed is left untouched and reported as a conflict so the
// processor can treat it as an idempotent replay.
func (s *Store) MarkFeedbackProcessed(ctx context.Context, id, derivedReflectionID string, processedAt time.Time) error {
	res := s.db.WithContext(ctx).Model(&FeedbackModel{}).
		Where("id = ? AND NOT was_processed", id).
		Updates(map[string]any{
			"was_processed":         true,
			"processed_at":          processedAt,
			"derived_reflection_id": derivedReflectionID,
		})
	if res.Error != nil {
		return types.NewError(types.ErrInternal, "failed to mark feedback processed").
			WithBackend("postgres").WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrConflict, "feedback event already processed")
	}
	return nil
}
