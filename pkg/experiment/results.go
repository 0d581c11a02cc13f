package experiment

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/experimentkit/pkg/stats"
)

// Results is the outcome of an analysis. It is derived data: running the
// analysis again over the same events yields identical results except GeneratedAt.
type Results struct {
	ExperimentID      uuid.UUID        `json:"experiment_id"`
	TotalParticipants int64            `json:"total_participants"`
	Variants          []VariantSummary `json:"variant_results"`
	PrimaryMetric     MetricResult     `json:"primary_metric_results"`
	SecondaryMetrics  []MetricResult   `json:"secondary_metric_results"`
	Significance      Significance     `json:"statistical_significance"`
	Recommendations   []string         `json:"recommendations"`
	GeneratedAt       time.Time        `json:"generated_at"`
}

// VariantSummary lists the participants of one variant.
type VariantSummary struct {
	VariantID    uuid.UUID `json:"variant_id"`
	Name         string    `json:"name"`
	IsControl    bool      `json:"is_control"`
	Participants int64     `json:"participants"`
}

// MetricResult holds per-variant values of one metric.
type MetricResult struct {
	MetricID    uuid.UUID       `json:"metric_id"`
	Name        string          `json:"name"`
	EventName   string          `json:"event_name"`
	Aggregation Aggregation     `json:"aggregation"`
	Variants    []VariantMetric `json:"variants"`
}

// VariantMetric is the value of a metric for one variant.
// Rate holds the aggregated value: a proportion for conversion_rate, a mean
// for average, and a total for sum, count and unique_count.
type VariantMetric struct {
	VariantID    uuid.UUID      `json:"variant_id"`
	Name         string         `json:"name"`
	IsControl    bool           `json:"is_control"`
	Participants int64          `json:"participants"`
	Events       int64          `json:"events"`
	UniqueUsers  int64          `json:"unique_users"`
	TotalValue   float64        `json:"total_value"`
	Rate         float64        `json:"rate"`
	Interval     stats.Interval `json:"confidence_interval"`
	Uplift       float64        `json:"uplift"`
}

// Significance is the primary metric's control-versus-best-variant test.
type Significance struct {
	ControlVariant       string  `json:"control_variant,omitempty"`
	TreatmentVariant     string  `json:"treatment_variant,omitempty"`
	ControlRate          float64 `json:"control_rate"`
	TreatmentRate        float64 `json:"treatment_rate"`
	Uplift               float64 `json:"uplift"`
	ZScore               float64 `json:"z_score"`
	PValue               float64 `json:"p_value"`
	ConfidenceLevel      float64 `json:"confidence_level"`
	Significant          bool    `json:"significant"`
	Winner               string  `json:"winner,omitempty"`
	RequiredSampleSize   int64   `json:"required_sample_size"`
	CurrentSampleSize    int64   `json:"current_sample_size"`
	AdditionalSampleSize int64   `json:"additional_sample_size"`
	DaysToSignificance   *int    `json:"days_to_significance,omitempty"`
}

// Metric returns the primary or secondary metric result with the given name.
func (r *Results) Metric(name string) *MetricResult {
	if r.PrimaryMetric.Name == name {
		return &r.PrimaryMetric
	}
	for i := range r.SecondaryMetrics {
		if r.SecondaryMetrics[i].Name == name {
			return &r.SecondaryMetrics[i]
		}
	}
	return nil
}

// Variant returns the metric value of the named variant or nil.
func (m *MetricResult) Variant(name string) *VariantMetric {
	for i := range m.Variants {
		if m.Variants[i].Name == name {
			return &m.Variants[i]
		}
	}
	return nil
}

// Clone returns a deep copy.
func (r *Results) Clone() *Results {
	if r == nil {
		return nil
	}
	c := *r
	c.Variants = slices.Clone(r.Variants)
	c.PrimaryMetric = r.PrimaryMetric.clone()
	if r.SecondaryMetrics != nil {
		c.SecondaryMetrics = make([]MetricResult, len(r.SecondaryMetrics))
		for i := range r.SecondaryMetrics {
			c.SecondaryMetrics[i] = r.SecondaryMetrics[i].clone()
		}
	}
	c.Recommendations = slices.Clone(r.Recommendations)
	if r.Significance.DaysToSignificance != nil {
		d := *r.Significance.DaysToSignificance
		c.Significance.DaysToSignificance = &d
	}
	return &c
}

func (m MetricResult) clone() MetricResult {
	m.Variants = slices.Clone(m.Variants)
	return m
}
