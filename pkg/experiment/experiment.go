package experiment

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an experiment.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusStopped   Status = "stopped"
)

// Aggregation selects how a metric's events are turned into a per-variant value.
type Aggregation string

const (
	AggregationCount          Aggregation = "count"
	AggregationSum            Aggregation = "sum"
	AggregationAverage        Aggregation = "average"
	AggregationConversionRate Aggregation = "conversion_rate"
	AggregationUniqueCount    Aggregation = "unique_count"
)

// Aggregations lists the supported aggregation types.
var Aggregations = []Aggregation{
	AggregationCount, AggregationSum, AggregationAverage, AggregationConversionRate, AggregationUniqueCount,
}

// EventType classifies metric events.
type EventType string

const (
	EventExposure   EventType = "exposure"
	EventConversion EventType = "conversion"
	EventMetric     EventType = "metric"
)

// EventTypes lists the accepted event types.
var EventTypes = []EventType{EventExposure, EventConversion, EventMetric}

// Default statistical parameters applied when an experiment leaves them unset.
const (
	DefaultPower                   = 0.8
	DefaultConfidenceLevel         = 0.95
	DefaultMinimumDetectableEffect = 0.05
)

// Experiment measures the variants of one feature flag.
type Experiment struct {
	ID                      uuid.UUID          `json:"id"`
	Name                    string             `json:"name"`
	Description             string             `json:"description,omitempty"`
	FlagID                  uuid.UUID          `json:"flag_id"`
	Status                  Status             `json:"status"`
	StartDate               *time.Time         `json:"start_date,omitempty"`
	EndDate                 *time.Time         `json:"end_date,omitempty"`
	Power                   float64            `json:"power"`
	ConfidenceLevel         float64            `json:"confidence_level"`
	MinimumDetectableEffect float64            `json:"minimum_detectable_effect"`
	Variants                []Variant          `json:"variants"`
	Metrics                 []MetricDefinition `json:"metrics"`
	CreatedAt               time.Time          `json:"created_at,omitzero"`
	UpdatedAt               time.Time          `json:"updated_at,omitzero"`
}

// Variant is an experiment arm. Its name matches the flag variant it measures.
type Variant struct {
	ID                uuid.UUID `json:"id"`
	ExperimentID      uuid.UUID `json:"experiment_id"`
	Name              string    `json:"name"`
	TrafficAllocation float64   `json:"traffic_allocation"`
	IsControl         bool      `json:"is_control"`
}

// MetricDefinition names the events aggregated into a metric.
type MetricDefinition struct {
	ID           uuid.UUID   `json:"id"`
	ExperimentID uuid.UUID   `json:"experiment_id"`
	Name         string      `json:"name"`
	EventName    string      `json:"event_name"`
	Aggregation  Aggregation `json:"aggregation"`
	IsPrimary    bool        `json:"is_primary"`
}

// Segment is the sticky assignment of a user to a variant. It is created by
// the user's first event in the experiment and never reassigned.
type Segment struct {
	UserID       string    `json:"user_id"`
	ExperimentID uuid.UUID `json:"experiment_id"`
	VariantID    uuid.UUID `json:"variant_id"`
	AssignedAt   time.Time `json:"assigned_at"`
}

// Event is an immutable metric event.
type Event struct {
	ID           uuid.UUID `json:"id"`
	UserID       string    `json:"user_id"`
	ExperimentID uuid.UUID `json:"experiment_id"`
	VariantID    uuid.UUID `json:"variant_id"`
	EventName    string    `json:"event_name"`
	EventType    EventType `json:"event_type"`
	Value        *float64  `json:"value,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Control returns the variant flagged as control, or the first variant in
// name order when none is flagged. It returns nil for an experiment without variants.
func (e *Experiment) Control() *Variant {
	if len(e.Variants) == 0 {
		return nil
	}
	for i := range e.Variants {
		if e.Variants[i].IsControl {
			return &e.Variants[i]
		}
	}
	first := 0
	for i := range e.Variants {
		if e.Variants[i].Name < e.Variants[first].Name {
			first = i
		}
	}
	return &e.Variants[first]
}

// PrimaryMetric returns the metric flagged as primary or nil.
func (e *Experiment) PrimaryMetric() *MetricDefinition {
	for i := range e.Metrics {
		if e.Metrics[i].IsPrimary {
			return &e.Metrics[i]
		}
	}
	return nil
}

// VariantByName returns the variant with the given name or nil.
func (e *Experiment) VariantByName(name string) *Variant {
	for i := range e.Variants {
		if e.Variants[i].Name == name {
			return &e.Variants[i]
		}
	}
	return nil
}

// VariantByID returns the variant with the given ID or nil.
func (e *Experiment) VariantByID(id uuid.UUID) *Variant {
	for i := range e.Variants {
		if e.Variants[i].ID == id {
			return &e.Variants[i]
		}
	}
	return nil
}

// AcceptsEvents reports whether events may be recorded for the experiment.
func (e *Experiment) AcceptsEvents() bool {
	return e.Status == StatusRunning || e.Status == StatusPaused
}

// Clone returns a deep copy.
func (e *Experiment) Clone() *Experiment {
	if e == nil {
		return nil
	}
	c := *e
	if e.StartDate != nil {
		t := *e.StartDate
		c.StartDate = &t
	}
	if e.EndDate != nil {
		t := *e.EndDate
		c.EndDate = &t
	}
	c.Variants = slices.Clone(e.Variants)
	c.Metrics = slices.Clone(e.Metrics)
	return &c
}

// prepareNew fills identifiers, defaults and timestamps of an experiment about to be created.
func prepareNew(e *Experiment, now time.Time) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = StatusDraft
	}
	if e.Power == 0 {
		e.Power = DefaultPower
	}
	if e.ConfidenceLevel == 0 {
		e.ConfidenceLevel = DefaultConfidenceLevel
	}
	if e.MinimumDetectableEffect == 0 {
		e.MinimumDetectableEffect = DefaultMinimumDetectableEffect
	}
	e.CreatedAt = now
	e.UpdatedAt = now
	for i := range e.Variants {
		if e.Variants[i].ID == uuid.Nil {
			e.Variants[i].ID = uuid.New()
		}
		e.Variants[i].ExperimentID = e.ID
	}
	for i := range e.Metrics {
		if e.Metrics[i].ID == uuid.Nil {
			e.Metrics[i].ID = uuid.New()
		}
		e.Metrics[i].ExperimentID = e.ID
	}
	sortVariants(e.Variants)
	sortMetrics(e.Metrics)
}

func sortVariants(vs []Variant) {
	slices.SortFunc(vs, func(a, b Variant) int { return strings.Compare(a.Name, b.Name) })
}

// sortMetrics puts the primary metric first and the rest in name order.
func sortMetrics(ms []MetricDefinition) {
	slices.SortFunc(ms, compareMetrics)
}

func compareMetrics(a, b MetricDefinition) int {
	if a.IsPrimary != b.IsPrimary {
		if a.IsPrimary {
			return -1
		}
		return 1
	}
	return strings.Compare(a.Name, b.Name)
}
