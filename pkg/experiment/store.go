package experiment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventWriter appends metric events. Implementations create the user's
// segment on first touch and store the events atomically.
type EventWriter interface {
	RecordEvents(ctx context.Context, events []Event) error
}

// MetricAggregate is the raw aggregation of one metric for one variant.
type MetricAggregate struct {
	Events      int64
	TotalValue  float64
	UniqueUsers int64
}

// AnalysisReader provides the read-only aggregations the analyzer needs.
// Events are attributed to the variant of the user's segment.
type AnalysisReader interface {
	// CountParticipants returns the number of segments per variant ID.
	CountParticipants(ctx context.Context, experimentID uuid.UUID) (map[uuid.UUID]int64, error)
	// AggregateMetric aggregates events named eventName per variant ID.
	AggregateMetric(ctx context.Context, experimentID uuid.UUID, eventName string) (map[uuid.UUID]MetricAggregate, error)
	// EventWindow returns the timestamps of the first and last event; ok is false without events.
	EventWindow(ctx context.Context, experimentID uuid.UUID) (first, last time.Time, ok bool, err error)
}

// ResultsStore keeps one analysis result per experiment.
type ResultsStore interface {
	// SaveResults replaces the stored results of the experiment.
	SaveResults(ctx context.Context, r *Results) error
	// LatestResults returns the stored results or ErrResultsNotFound.
	LatestResults(ctx context.Context, experimentID uuid.UUID) (*Results, error)
}

// ListFilter narrows ListExperiments. Zero fields match everything.
type ListFilter struct {
	FlagID uuid.UUID
	Status []Status
}

// Store persists experiments, segments, events and results.
type Store interface {
	EventWriter
	AnalysisReader
	ResultsStore

	// CreateExperiment assigns identifiers and defaults and stores the
	// experiment with its variants and metrics atomically.
	CreateExperiment(ctx context.Context, e *Experiment) error
	GetExperiment(ctx context.Context, id uuid.UUID) (*Experiment, error)
	// ListExperiments returns matching experiments ordered by creation time.
	ListExperiments(ctx context.Context, filter ListFilter) ([]*Experiment, error)
	// UpdateExperiment runs mutate on the locked experiment and persists its
	// status, dates and description. Variants and metrics are immutable.
	UpdateExperiment(ctx context.Context, id uuid.UUID, mutate func(*Experiment) error) (*Experiment, error)
}
