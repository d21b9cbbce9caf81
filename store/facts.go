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

// reinforceBoost is the confidence gained each time an existing fact is
// re-asserted. Decay on contradiction is the caller-supplied factor.
const reinforceBoost = 0.05

// maxConfidence caps fact confidence; minConfidence is the floor under decay.
const (
	maxConfidence = 1.0
	minConfidence = 0.1
)

// NormalizeEntity canonicalizes an entity name for triple identity: trimmed,
// lowercased, inner whitespace collapsed.
func NormalizeEntity(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// UpsertFact inserts a new fact or reinforces an existing one with the same
// normalized (subject, predicate, object) triple in the same tenant.
// Reinforcement bumps confidence by a fixed boost, increments the supporting
// packet count, and advances the optimistic version.
func (s *Store) UpsertFact(ctx context.Context, scope tenancy.Scope, a types.FactAssertion) (*types.KnowledgeFact, error) {
	subjNorm := NormalizeEntity(a.Subject)
	objNorm := NormalizeEntity(a.Object)
	if subjNorm == "" || a.Predicate == "" || objNorm == "" {
		return nil, types.NewError(types.ErrValidation, "fact requires subject, predicate, and object")
	}

	tenantID, orgID, _ := scope.Stamp()
	now := time.Now().UTC()

	var out *types.KnowledgeFact
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing FactModel
		err := tx.Where(
			"subject_normalized = ? AND predicate = ? AND object_normalized = ? AND tenant_id = ?",
			subjNorm, a.Predicate, objNorm, tenantID,
		).First(&existing).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			confidence := a.Confidence
			if confidence <= 0 {
				confidence = 0.5
			}
			model := FactModel{
				ID:                    uuid.New().String(),
				Subject:               a.Subject,
				Predicate:             a.Predicate,
				Object:                a.Object,
				SubjectNormalized:     subjNorm,
				ObjectNormalized:      objNorm,
				Confidence:            clampConfidence(confidence),
				SourcePacketID:        a.SourcePacketID,
				SupportingPacketCount: 1,
				Version:               1,
				TenantID:              tenantID,
				OrgID:                 orgID,
				CreatedAt:             now,
				UpdatedAt:             now,
			}
			if err := tx.Create(&model).Error; err != nil {
				return err
			}
			out = model.toDomain()
			return nil
		}
		if err != nil {
			return err
		}

		res := tx.Model(&FactModel{}).
			Where("id = ? AND version = ?", existing.ID, existing.Version).
			Updates(map[string]any{
				"confidence":              clampConfidence(existing.Confidence + reinforceBoost),
				"supporting_packet_count": gorm.Expr("supporting_packet_count + 1"),
				"version":                 existing.Version + 1,
				"last_reinforced_at":      now,
				"updated_at":              now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return types.NewError(types.ErrConflict, "fact was modified concurrently").WithRetryable(true)
		}

		var updated FactModel
		if err := tx.Where("id = ?", existing.ID).First(&updated).Error; err != nil {
			return err
		}
		out = updated.toDomain()
		return nil
	})
	if err != nil {
		var domainErr *types.Error
		if errors.As(err, &domainErr) {
			return nil, err
		}
		return nil, types.NewError(types.ErrInternal, "fact upsert failed").
			WithBackend("postgres").WithCause(err)
	}

	s.logger.Debug("fact asserted",
		zap.String("fact_id", out.ID),
		zap.String("subject", subjNorm),
		zap.String("predicate", a.Predicate),
		zap.Int("supporting_packets", out.SupportingPacketCount))
	return out, nil
}

// ContradictFact decays a fact's confidence by the given factor, flooring at
// the minimum rather than deleting. Missing facts are a not-found error.
func (s *Store) ContradictFact(ctx context.Context, scope tenancy.Scope, factID string, factor float64) (*types.KnowledgeFact, error) {
	now := time.Now().UTC()

	var out *types.KnowledgeFact
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing FactModel
		q := tenancy.Apply(tx, scope)
		err := q.Where("id = ?", factID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.NewError(types.ErrNotFound, "fact not found")
		}
		if err != nil {
			return err
		}

		decayed := existing.Confidence * (1 - factor)
		if decayed < minConfidence {
			decayed = minConfidence
		}

		res := tx.Model(&FactModel{}).
			Where("id = ? AND version = ?", existing.ID, existing.Version).
			Updates(map[string]any{
				"confidence": decayed,
				"version":    existing.Version + 1,
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return types.NewError(types.ErrConflict, "fact was modified concurrently").WithRetryable(true)
		}

		existing.Confidence = decayed
		existing.Version++
		existing.UpdatedAt = now
		out = existing.toDomain()
		return nil
	})
	if err != nil {
		var domainErr *types.Error
		if errors.As(err, &domainErr) {
			return nil, err
		}
		return nil, types.NewError(types.ErrInternal, "fact contradiction failed").
			WithBackend("postgres").WithCause(err)
	}
	return out, nil
}

// FactsBySubject returns facts whose normalized subject matches, ordered by
// confidence descending.
func (s *Store) FactsBySubject(ctx context.Context, scope tenancy.Scope, subject string, limit int) ([]types.KnowledgeFact, error) {
	if limit <= 0 {
		limit = 20
	}
	var models []FactModel
	q := tenancy.Apply(s.db.WithContext(ctx).Model(&FactModel{}), scope)
	err := q.Where("subject_normalized = ?", NormalizeEntity(subject)).
		Order("confidence DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "fact lookup failed").
			WithBackend("postgres").WithCause(err)
	}
	facts := make([]types.KnowledgeFact, 0, len(models))
	for i := range models {
		facts = append(facts, *models[i].toDomain())
	}
	return facts, nil
}

// UpsertRelationship maintains the relational mirror of a graph edge. Edge
// identity is (subject, predicate, object, tenant); re-asserting an edge adds
// the new weight to the stored weight.
func (s *Store) UpsertRelationship(ctx context.Context, scope tenancy.Scope, r *types.EntityRelationship) (*types.EntityRelationship, error) {
	subj := NormalizeEntity(r.Subject)
	obj := NormalizeEntity(r.Object)
	if subj == "" || r.Predicate == "" || obj == "" {
		return nil, types.NewError(types.ErrValidation, "relationship requires subject, predicate, and object")
	}
	weight := r.Weight
	if weight <= 0 {
		weight = 1.0
	}

	tenantID, orgID, _ := scope.Stamp()
	now := time.Now().UTC()

	var out *types.EntityRelationship
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing RelationshipModel
		err := tx.Where(
			"subject = ? AND predicate = ? AND object = ? AND tenant_id = ?",
			subj, r.Predicate, obj, tenantID,
		).First(&existing).Error

		if errors.Is(err, gorm.ErrRecordNotFound) {
			model := RelationshipModel{
				ID:        uuid.New().String(),
				Subject:   subj,
				Predicate: r.Predicate,
				Object:    obj,
				Weight:    weight,
				TenantID:  tenantID,
				OrgID:     orgID,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.Create(&model).Error; err != nil {
				return err
			}
			out = model.toDomain()
			return nil
		}
		if err != nil {
			return err
		}

		existing.Weight += weight
		existing.UpdatedAt = now
		if err := tx.Model(&RelationshipModel{}).
			Where("id = ?", existing.ID).
			Updates(map[string]any{"weight": existing.Weight, "updated_at": now}).Error; err != nil {
			return err
		}
		out = existing.toDomain()
		return nil
	})
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "relationship upsert failed").
			WithBackend("postgres").WithCause(err)
	}
	return out, nil
}

func clampConfidence(v float64) float64 {
	if v > maxConfidence {
		return maxConfidence
	}
	if v < minConfidence {
		return minConfidence
	}
	return v
}
