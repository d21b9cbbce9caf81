package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/memflow/tenancy"
	"github.com/BaSui01/memflow/types"
)

// CreateReflection persists a new reflection. Effectiveness starts as NULL;
// it is only ever derived from applied outcomes.
func (s *Store) CreateReflection(ctx context.Context, scope tenancy.Scope, r *types.Reflection) (string, error) {
	if r.Content == "" {
		return "", types.NewError(types.ErrValidation, "reflection content cannot be empty")
	}
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Confidence <= 0 {
		r.Confidence = 0.5
	}
	if r.Priority == "" {
		r.Priority = types.PriorityMedium
	}
	now := time.Now().UTC()

	tenantID, orgID, userID := scope.Stamp()
	model := &ReflectionModel{
		ID:             r.ID,
		Content:        r.Content,
		ReflectionType: string(r.ReflectionType),
		Context:        r.Context,
		Confidence:     r.Confidence,
		Priority:       string(r.Priority),
		ExpiresAt:      r.ExpiresAt,
		SourcePacketID: r.SourcePacketID,
		Version:        1,
		TenantID:       tenantID,
		OrgID:          orgID,
		UserID:         userID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return "", types.NewError(types.ErrInternal, "failed to write reflection").
			WithBackend("postgres").WithCause(err)
	}

	s.logger.Debug("reflection created",
		zap.String("reflection_id", r.ID),
		zap.String("reflection_type", string(r.ReflectionType)),
		zap.String("priority", string(r.Priority)))
	return r.ID, nil
}

// GetReflection loads one reflection within the caller's scope.
func (s *Store) GetReflection(ctx context.Context, scope tenancy.Scope, id string) (*types.Reflection, error) {
	var model ReflectionModel
	q := tenancy.Apply(s.db.WithContext(ctx), scope)
	err := q.Where("id = ?", id).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrNotFound, "reflection not found")
	}
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to load reflection").
			WithBackend("postgres").WithCause(err)
	}
	return model.toDomain(), nil
}

// ApplyOutcome records one application outcome against a reflection at the
// given version. The update is conditional on the version still matching;
// a lost race surfaces as a retryable CONFLICT for the engine to retry.
func (s *Store) ApplyOutcome(ctx context.Context, scope tenancy.Scope, id string, version int64, wasSuccessful bool) (*types.Reflection, error) {
	var current ReflectionModel
	q := tenancy.Apply(s.db.WithContext(ctx), scope)
	err := q.Where("id = ?", id).First(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrNotFound, "reflection not found")
	}
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to load reflection").
			WithBackend("postgres").WithCause(err)
	}
	if current.Version != version {
		return nil, types.NewError(types.ErrConflict, "reflection was modified concurrently").WithRetryable(true)
	}

	success := current.SuccessCount
	failure := current.FailureCount
	if wasSuccessful {
		success++
	} else {
		failure++
	}
	effectiveness := float64(success) / float64(success+failure)
	now := time.Now().UTC()

	res := s.db.WithContext(ctx).Model(&ReflectionModel{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]any{
			"success_count":       success,
			"failure_count":       failure,
			"effectiveness_score": effectiveness,
			"times_applied":       gorm.Expr("times_applied + 1"),
			"last_applied_at":     now,
			"version":             version + 1,
			"updated_at":          now,
		})
	if res.Error != nil {
		return nil, types.NewError(types.ErrInternal, "failed to record reflection outcome").
			WithBackend("postgres").WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, types.NewError(types.ErrConflict, "reflection was modified concurrently").WithRetryable(true)
	}

	current.SuccessCount = success
	current.FailureCount = failure
	current.EffectivenessScore = &effectiveness
	current.TimesApplied++
	current.LastAppliedAt = &now
	current.Version = version + 1
	current.UpdatedAt = now
	return current.toDomain(), nil
}

// DecayReflectionConfidence subtracts factor from confidence, flooring at the
// confidence minimum. Returns the new confidence.
func (s *Store) DecayReflectionConfidence(ctx context.Context, scope tenancy.Scope, id string, factor float64) (float64, error) {
	var current ReflectionModel
	q := tenancy.Apply(s.db.WithContext(ctx), scope)
	err := q.Where("id = ?", id).First(&current).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, types.NewError(types.ErrNotFound, "reflection not found")
	}
	if err != nil {
		return 0, types.NewError(types.ErrInternal, "failed to load reflection").
			WithBackend("postgres").WithCause(err)
	}

	decayed := current.Confidence - factor
	if decayed < minConfidence {
		decayed = minConfidence
	}
	now := time.Now().UTC()

	res := s.db.WithContext(ctx).Model(&ReflectionModel{}).
		Where("id = ? AND version = ?", id, current.Version).
		Updates(map[string]any{
			"confidence": decayed,
			"version":    current.Version + 1,
			"updated_at": now,
		})
	if res.Error != nil {
		return 0, types.NewError(types.ErrInternal, "failed to decay reflection confidence").
			WithBackend("postgres").WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, types.NewError(types.ErrConflict, "reflection was modified concurrently").WithRetryable(true)
	}
	return decayed, nil
}

// ReflectionTenants lists the distinct tenancy combinations that currently
// hold reflections. The snapshot job iterates these to recompute per-tenant
// materialized sets.
func (s *Store) ReflectionTenants(ctx context.Context) ([]tenancy.Scope, error) {
	type row struct {
		TenantID string
		OrgID    string
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&ReflectionModel{}).
		Distinct("tenant_id", "org_id").
		Find(&rows).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "tenant listing failed").
			WithBackend("postgres").WithCause(err)
	}

	scopes := make([]tenancy.Scope, 0, len(rows))
	for _, r := range rows {
		scopes = append(scopes, tenancy.Scope{
			TenantID: r.TenantID,
			OrgID:    r.OrgID,
			UserID:   "system",
			Role:     tenancy.RoleOrgAdmin,
		})
	}
	return scopes, nil
}

// EffectiveReflectionsQuery filters the proven-reflection candidate set.
type EffectiveReflectionsQuery struct {
	TaskContext      string
	MinEffectiveness float64
	MinApplications  int
	Limit            int
}

// EffectiveReflections returns reflections that have proven themselves:
// applied at least MinApplications times with effectiveness at or above
// MinEffectiveness, and not expired. Ordering by combined score happens in
// the engine; the store orders by effectiveness as a stable base.
func (s *Store) EffectiveReflections(ctx context.Context, scope tenancy.Scope, query EffectiveReflectionsQuery) ([]types.Reflection, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 20
	}

	q := tenancy.Apply(s.db.WithContext(ctx).Model(&ReflectionModel{}), scope)
	q = q.Where("effectiveness_score IS NOT NULL AND effectiveness_score >= ?", query.MinEffectiveness).
		Where("times_applied >= ?", query.MinApplications).
		Where("expires_at IS NULL OR expires_at > ?", time.Now().UTC())

	if query.TaskContext != "" {
		pattern := "%" + strings.ToLower(query.TaskContext) + "%"
		q = q.Where("LOWER(context) LIKE ? OR LOWER(content) LIKE ?", pattern, pattern)
	}

	var models []ReflectionModel
	if err := q.Order("effectiveness_score DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, types.NewError(types.ErrInternal, "effective reflection query failed").
			WithBackend("postgres").WithCause(err)
	}

	reflections := make([]types.Reflection, 0, len(models))
	for i := range models {
		reflections = append(reflections, *models[i].toDomain())
	}
	return reflections, nil
}
