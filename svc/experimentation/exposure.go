package experimentation

import (
	"context"

	"github.com/google/uuid"

	"github.com/dmitrymomot/experimentkit/pkg/experiment"
	"github.com/dmitrymomot/experimentkit/pkg/feature"
	"github.com/dmitrymomot/experimentkit/pkg/logger"
)

// recordExposure is the engine hook. It hands the write to a background
// goroutine so evaluation latency does not depend on the event store.
func (s *Service) recordExposure(ctx context.Context, userID string, ev feature.Evaluation) {
	if ev.Variant == nil || ev.FlagID == uuid.Nil {
		return
	}
	flagID, variant := ev.FlagID, ev.Variant.Name
	ctx = context.WithoutCancel(ctx)

	started := s.goBackground(func() {
		ctx, cancel := context.WithTimeout(ctx, s.opts.exposureTimeout)
		defer cancel()
		if err := s.expose(ctx, userID, flagID, variant); err != nil {
			s.metrics.exposures.WithLabelValues("failed").Inc()
			s.logger.WarnContext(ctx, "record exposure",
				logger.FlagID(flagID),
				logger.UserID(userID),
				logger.Error(err),
			)
		}
	})
	if !started {
		s.metrics.exposures.WithLabelValues("dropped").Inc()
	}
}

// expose records one exposure event per running experiment of the flag that
// measures the assigned variant. Users already exposed by this process are skipped.
func (s *Service) expose(ctx context.Context, userID string, flagID uuid.UUID, variantName string) error {
	exps, err := s.runningExperiments(ctx, flagID)
	if err != nil {
		return err
	}

	now := s.opts.now().UTC()
	var (
		events []experiment.Event
		keys   []string
	)
	for _, exp := range exps {
		v := exp.VariantByName(variantName)
		if v == nil {
			continue
		}
		key := exp.ID.String() + "|" + userID
		if _, seen := s.exposed.Get(key); seen {
			s.metrics.exposures.WithLabelValues("duplicate").Inc()
			continue
		}
		events = append(events, experiment.Event{
			ID:           uuid.New(),
			UserID:       userID,
			ExperimentID: exp.ID,
			VariantID:    v.ID,
			EventName:    string(experiment.EventExposure),
			EventType:    experiment.EventExposure,
			Timestamp:    now,
		})
		keys = append(keys, key)
	}
	if len(events) == 0 {
		return nil
	}

	// Marked before the write so concurrent evaluations of the same user do not duplicate it.
	for _, key := range keys {
		s.exposed.Put(key, struct{}{})
	}
	if err := s.recorder.Record(ctx, events...); err != nil {
		for _, key := range keys {
			s.exposed.Remove(key)
		}
		return err
	}
	s.metrics.exposures.WithLabelValues("recorded").Add(float64(len(events)))
	return nil
}

func (s *Service) runningExperiments(ctx context.Context, flagID uuid.UUID) ([]*experiment.Experiment, error) {
	if exps, ok := s.running.Get(flagID); ok {
		return exps, nil
	}
	exps, err := s.experiments.ListExperiments(ctx, experiment.ListFilter{
		FlagID: flagID,
		Status: []experiment.Status{experiment.StatusRunning},
	})
	if err != nil {
		return nil, err
	}
	s.running.Put(flagID, exps)
	return exps, nil
}
