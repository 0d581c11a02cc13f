package experimentation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dmitrymomot/experimentkit/pkg/feature"
	"github.com/dmitrymomot/experimentkit/pkg/logger"
)

// CreateFlagInput describes a new feature flag.
type CreateFlagInput struct {
	Name              string
	Description       string
	Enabled           bool
	RolloutPercentage int
	Variants          []feature.Variant
	Rules             []feature.Rule
	CreatedBy         string
}

// EvaluateFeatureFlag decides whether the flag is on for the user and which
// variant they get. It never fails: faults yield a disabled evaluation with
// reason evaluation_error and a tracking ID.
func (s *Service) EvaluateFeatureFlag(ctx context.Context, userID, flagName string, userContext map[string]any) feature.Evaluation {
	ctx, span := s.startSpan(ctx, "EvaluateFeatureFlag", attribute.String("flag.name", flagName))
	started := time.Now()

	ev := s.engine.Evaluate(ctx, flagName, userID, userContext)

	s.metrics.evaluations.WithLabelValues(string(ev.Reason), cacheLabel(ev.CacheHit)).Inc()
	s.metrics.evaluationLatency.Observe(time.Since(started).Seconds())
	span.SetAttributes(
		attribute.String("flag.reason", string(ev.Reason)),
		attribute.Bool("flag.enabled", ev.Enabled),
		attribute.String("flag.variant", ev.VariantName()),
		attribute.Bool("flag.cache_hit", ev.CacheHit),
		attribute.String("flag.tracking_id", ev.TrackingID),
	)
	span.End()

	s.logger.DebugContext(ctx, "feature flag evaluated",
		logger.FlagName(flagName),
		logger.UserID(userID),
		logger.Reason(string(ev.Reason)),
		logger.TrackingID(ev.TrackingID),
	)
	return ev
}

// CreateFeatureFlag validates and stores a new flag with its variants and rules.
func (s *Service) CreateFeatureFlag(ctx context.Context, in CreateFlagInput) (_ *feature.Flag, err error) {
	ctx, span := s.startSpan(ctx, "CreateFeatureFlag", attribute.String("flag.name", in.Name))
	defer func() {
		s.metrics.flagWrites.WithLabelValues("create", outcome(err)).Inc()
		endSpan(span, err)
	}()

	return s.flags.CreateFlag(ctx, &feature.Flag{
		Name:              in.Name,
		Description:       in.Description,
		Enabled:           in.Enabled,
		RolloutPercentage: in.RolloutPercentage,
		Variants:          in.Variants,
		Rules:             in.Rules,
		CreatedBy:         in.CreatedBy,
	})
}

// UpdateFeatureFlag applies a partial update. Non-nil variant or rule slices
// replace the current sets.
func (s *Service) UpdateFeatureFlag(ctx context.Context, flagID uuid.UUID, u feature.FlagUpdate) (_ *feature.Flag, err error) {
	ctx, span := s.startSpan(ctx, "UpdateFeatureFlag", attribute.String("flag.id", flagID.String()))
	defer func() {
		s.metrics.flagWrites.WithLabelValues("update", outcome(err)).Inc()
		endSpan(span, err)
	}()

	return s.flags.UpdateFlag(ctx, flagID, u)
}

// ArchiveFeatureFlag soft-deletes a flag. Its name becomes free for reuse.
func (s *Service) ArchiveFeatureFlag(ctx context.Context, flagID uuid.UUID) (err error) {
	ctx, span := s.startSpan(ctx, "ArchiveFeatureFlag", attribute.String("flag.id", flagID.String()))
	defer func() {
		s.metrics.flagWrites.WithLabelValues("archive", outcome(err)).Inc()
		endSpan(span, err)
	}()

	if err := s.flags.ArchiveFlag(ctx, flagID); err != nil {
		return err
	}
	s.running.Remove(flagID)
	return nil
}

func (s *Service) GetFeatureFlag(ctx context.Context, flagID uuid.UUID) (*feature.Flag, error) {
	return s.flags.GetFlag(ctx, flagID)
}

// ListFeatureFlags returns flags ordered by name.
func (s *Service) ListFeatureFlags(ctx context.Context, includeArchived bool) ([]*feature.Flag, error) {
	return s.flags.ListFlags(ctx, includeArchived)
}
