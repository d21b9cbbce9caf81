package memory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/store"
	"github.com/BaSui01/memflow/tenancy"
	"github.com/BaSui01/memflow/types"
)

// FeedbackProcessor turns recorded feedback events into reflection updates.
// Processing is idempotent: each event flips was_processed exactly once, and
// replaying a processed event returns the original outcome without touching
// any reflection again.
type FeedbackProcessor struct {
	store   *store.Store
	cfg     config.ReflectionConfig
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewFeedbackProcessor builds a processor over the primary store.
func NewFeedbackProcessor(s *store.Store, cfg config.ReflectionConfig, collector *metrics.Collector, logger *zap.Logger) *FeedbackProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedbackProcessor{
		store:   s,
		cfg:     cfg,
		metrics: collector,
		logger:  logger.With(zap.String("component", "feedback_processor")),
	}
}

// Record persists a new unprocessed feedback event.
func (p *FeedbackProcessor) Record(ctx context.Context, scope tenancy.Scope, f *types.FeedbackEvent) (string, error) {
	return p.store.CreateFeedback(ctx, scope, f)
}

// Process applies one feedback event inside a single transaction: load,
// update the attached reflection's effectiveness, derive a lesson from
// corrective feedback, mark processed. Any failure rolls the whole step back
// and leaves the event unprocessed.
func (p *FeedbackProcessor) Process(ctx context.Context, scope tenancy.Scope, feedbackID string) (*types.ProcessingResult, error) {
	retries := p.cfg.ConflictRetries
	if retries < 1 {
		retries = 1
	}

	var result *types.ProcessingResult
	var lastErr error
	for attempt := 0; attempt < retries; attempt++ {
		result, lastErr = p.processOnce(ctx, scope, feedbackID)
		if lastErr == nil || !types.IsConflict(lastErr) {
			break
		}
		if p.metrics != nil {
			p.metrics.RecordConflictRetry("feedback")
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return result, nil
}

func (p *FeedbackProcessor) processOnce(ctx context.Context, scope tenancy.Scope, feedbackID string) (*types.ProcessingResult, error) {
	var result *types.ProcessingResult

	err := p.store.Transaction(ctx, func(tx *store.Store) error {
		fb, err := tx.GetFeedback(ctx, scope, feedbackID)
		if err != nil {
			return err
		}

		if fb.WasProcessed {
			processedAt := time.Time{}
			if fb.ProcessedAt != nil {
				processedAt = *fb.ProcessedAt
			}
			result = &types.ProcessingResult{
				FeedbackID:          fb.ID,
				AlreadyProcessed:    true,
				DerivedReflectionID: fb.DerivedReflectionID,
				ProcessedAt:         processedAt,
			}
			if p.metrics != nil {
				p.metrics.RecordFeedbackProcessed(string(fb.FeedbackType), "replay")
			}
			return nil
		}

		now := time.Now().UTC()
		result = &types.ProcessingResult{
			FeedbackID:  fb.ID,
			ProcessedAt: now,
		}
		outcome := "noop"

		// Step 1: feedback attached to a reflection counts as an applied
		// outcome for it.
		if fb.ReflectionID != "" {
			wasSuccessful, counts := outcomeFor(fb.FeedbackType)
			if counts {
				current, err := tx.GetReflection(ctx, scope, fb.ReflectionID)
				if err != nil {
					return err
				}
				updated, err := tx.ApplyOutcome(ctx, scope, fb.ReflectionID, current.Version, wasSuccessful)
				if err != nil {
					return err
				}
				result.EffectivenessUpdate = updated.EffectivenessScore
				outcome = "applied"
			}
		}

		// Step 2: corrective feedback with text spawns a high-priority
		// lesson so the mistake is retrievable next time.
		if fb.FeedbackType.Corrective() && fb.FeedbackText != "" {
			lessonID, err := tx.CreateReflection(ctx, scope, &types.Reflection{
				Content:        fb.FeedbackText,
				ReflectionType: types.ReflectionLesson,
				Context:        fmt.Sprintf("derived from %s feedback", fb.FeedbackType),
				Priority:       types.PriorityHigh,
				SourcePacketID: fb.PacketID,
			})
			if err != nil {
				return err
			}
			result.DerivedReflectionID = lessonID
			outcome = "derived"
		}

		// Step 3: flip the processed flag exactly once.
		if err := tx.MarkFeedbackProcessed(ctx, fb.ID, result.DerivedReflectionID, now); err != nil {
			return err
		}

		if p.metrics != nil {
			p.metrics.RecordFeedbackProcessed(string(fb.FeedbackType), outcome)
		}
		p.logger.Info("feedback processed",
			zap.String("feedback_id", fb.ID),
			zap.String("feedback_type", string(fb.FeedbackType)),
			zap.String("outcome", outcome))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// outcomeFor maps a feedback type onto an application outcome for the
// attached reflection. Neutral types (preference, question, clarification)
// do not count as outcomes at all.
func outcomeFor(t types.FeedbackType) (wasSuccessful, counts bool) {
	switch t {
	case types.FeedbackPositive:
		return true, true
	case types.FeedbackNegative, types.FeedbackCorrection:
		return false, true
	default:
		return false, false
	}
}
