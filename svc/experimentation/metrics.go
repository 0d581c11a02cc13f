package experimentation

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "experimentkit"

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	evaluations       *prometheus.CounterVec
	evaluationLatency prometheus.Histogram
	flagWrites        *prometheus.CounterVec
	events            *prometheus.CounterVec
	exposures         *prometheus.CounterVec
	analyses          *prometheus.CounterVec
	analysisLatency   prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "flag_evaluations_total",
			Help:      "Flag evaluations by reason and cache outcome.",
		}, []string{"reason", "cache"}),
		evaluationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "flag_evaluation_duration_seconds",
			Help:      "Latency of flag evaluations.",
			Buckets:   []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		flagWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "flag_writes_total",
			Help:      "Flag create, update and archive operations by outcome.",
		}, []string{"operation", "outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_tracked_total",
			Help:      "Tracked metric events by type and outcome.",
		}, []string{"event_type", "outcome"}),
		exposures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "exposures_total",
			Help:      "Automatic exposure events by outcome.",
		}, []string{"outcome"}),
		analyses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "analyses_total",
			Help:      "Experiment analyses by outcome.",
		}, []string{"outcome"}),
		analysisLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "analysis_duration_seconds",
			Help:      "Duration of experiment analyses.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.evaluations,
			m.evaluationLatency,
			m.flagWrites,
			m.events,
			m.exposures,
			m.analyses,
			m.analysisLatency,
		)
	}
	return m
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func cacheLabel(hit bool) string {
	if hit {
		return "hit"
	}
	return "miss"
}
