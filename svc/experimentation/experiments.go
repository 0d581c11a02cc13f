package experimentation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dmitrymomot/experimentkit/pkg/experiment"
	"github.com/dmitrymomot/experimentkit/pkg/feature"
	"github.com/dmitrymomot/experimentkit/pkg/logger"
)

// TrackEventInput is a metric event reported by a collaborator.
// A zero Timestamp means now.
type TrackEventInput struct {
	UserID       string
	ExperimentID uuid.UUID
	VariantID    uuid.UUID
	EventName    string
	EventType    experiment.EventType
	Value        *float64
	Timestamp    time.Time
}

// CreateExperiment validates and stores a draft experiment for an existing
// flag. Every experiment variant must name a variant of the flag, because
// exposures are matched by variant name.
func (s *Service) CreateExperiment(ctx context.Context, e *experiment.Experiment) (_ *experiment.Experiment, err error) {
	ctx, span := s.startSpan(ctx, "CreateExperiment")
	defer func() { endSpan(span, err) }()

	if err := experiment.ValidateExperiment(e); err != nil {
		return nil, err
	}
	flag, err := s.flags.GetFlag(ctx, e.FlagID)
	if err != nil {
		return nil, err
	}
	if flag.Archived {
		return nil, fmt.Errorf("%w: flag %s is archived", feature.ErrFlagNotFound, flag.ID)
	}
	for _, v := range e.Variants {
		if !flagHasVariant(flag, v.Name) {
			return nil, fmt.Errorf("%w: flag %q has no variant %q", experiment.ErrInvalidExperiment, flag.Name, v.Name)
		}
	}

	created := e.Clone()
	if err := s.experiments.CreateExperiment(ctx, created); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "experiment created",
		logger.ExperimentID(created.ID),
		logger.FlagName(flag.Name),
	)
	return created, nil
}

func (s *Service) GetExperiment(ctx context.Context, id uuid.UUID) (*experiment.Experiment, error) {
	return s.experiments.GetExperiment(ctx, id)
}

// ListExperiments returns experiments matching filter ordered by creation time.
func (s *Service) ListExperiments(ctx context.Context, filter experiment.ListFilter) ([]*experiment.Experiment, error) {
	return s.experiments.ListExperiments(ctx, filter)
}

// TransitionExperiment moves an experiment through its lifecycle.
func (s *Service) TransitionExperiment(ctx context.Context, id uuid.UUID, action experiment.Action) (_ *experiment.Experiment, err error) {
	ctx, span := s.startSpan(ctx, "TransitionExperiment",
		attribute.String("experiment.id", id.String()),
		attribute.String("experiment.action", string(action)),
	)
	defer func() { endSpan(span, err) }()

	now := s.opts.now().UTC()
	updated, err := s.experiments.UpdateExperiment(ctx, id, func(e *experiment.Experiment) error {
		return experiment.Transition(e, action, now)
	})
	if err != nil {
		return nil, err
	}
	s.running.Remove(updated.FlagID)

	s.logger.InfoContext(ctx, "experiment transitioned",
		logger.ExperimentID(updated.ID),
		slog.String("action", string(action)),
		slog.String("status", string(updated.Status)),
	)
	return updated, nil
}

// TrackEvent records a metric event. It returns once the event is stored,
// so an acknowledged event is always part of later analyses.
func (s *Service) TrackEvent(ctx context.Context, in TrackEventInput) (err error) {
	ctx, span := s.startSpan(ctx, "TrackEvent",
		attribute.String("experiment.id", in.ExperimentID.String()),
		attribute.String("event.name", in.EventName),
	)
	defer func() {
		s.metrics.events.WithLabelValues(string(in.EventType), outcome(err)).Inc()
		endSpan(span, err)
	}()

	ev := experiment.Event{
		ID:           uuid.New(),
		UserID:       in.UserID,
		ExperimentID: in.ExperimentID,
		VariantID:    in.VariantID,
		EventName:    in.EventName,
		EventType:    in.EventType,
		Value:        in.Value,
		Timestamp:    in.Timestamp,
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.opts.now()
	}
	ev.Timestamp = ev.Timestamp.UTC()
	if err := experiment.ValidateEvent(ev); err != nil {
		return err
	}

	exp, err := s.experiments.GetExperiment(ctx, in.ExperimentID)
	if err != nil {
		return err
	}
	if !exp.AcceptsEvents() {
		return fmt.Errorf("%w: experiment %s is %s", experiment.ErrInvalidEvent, exp.ID, exp.Status)
	}
	if exp.VariantByID(in.VariantID) == nil {
		return fmt.Errorf("%w: variant %s does not belong to experiment %s", experiment.ErrInvalidEvent, in.VariantID, exp.ID)
	}

	if err := s.recorder.Record(ctx, ev); err != nil {
		s.logger.ErrorContext(ctx, "track event",
			logger.ExperimentID(ev.ExperimentID),
			logger.EventType(string(ev.EventType)),
			logger.Error(err),
		)
		return err
	}
	return nil
}

// AnalyzeExperiment recomputes, stores and returns the results of an experiment.
func (s *Service) AnalyzeExperiment(ctx context.Context, id uuid.UUID) (_ *experiment.Results, err error) {
	ctx, span := s.startSpan(ctx, "AnalyzeExperiment", attribute.String("experiment.id", id.String()))
	started := time.Now()
	defer func() {
		s.metrics.analyses.WithLabelValues(outcome(err)).Inc()
		s.metrics.analysisLatency.Observe(time.Since(started).Seconds())
		endSpan(span, err)
	}()

	res, err := s.analyzer.AnalyzeExperiment(ctx, id)
	if err != nil {
		if !errors.Is(err, experiment.ErrExperimentNotFound) {
			s.logger.ErrorContext(ctx, "analyze experiment", logger.ExperimentID(id), logger.Error(err))
		}
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("experiment.participants", res.TotalParticipants),
		attribute.Bool("experiment.significant", res.Significance.Significant),
		attribute.Float64("experiment.p_value", res.Significance.PValue),
	)
	return res, nil
}

// LatestResults returns the last stored analysis without recomputing it.
func (s *Service) LatestResults(ctx context.Context, id uuid.UUID) (*experiment.Results, error) {
	return s.analyzer.LatestResults(ctx, id)
}

func flagHasVariant(f *feature.Flag, name string) bool {
	for _, v := range f.Variants {
		if v.Name == name {
			return true
		}
	}
	return false
}
