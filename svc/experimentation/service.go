package experimentation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmitrymomot/experimentkit/pkg/cache"
	"github.com/dmitrymomot/experimentkit/pkg/experiment"
	"github.com/dmitrymomot/experimentkit/pkg/feature"
	"github.com/dmitrymomot/experimentkit/pkg/logger"
)

// Service is the entry point collaborators use to evaluate flags, manage
// flags and experiments, track events and analyse results.
type Service struct {
	flags       *feature.Registry
	engine      *feature.Engine
	experiments experiment.Store
	recorder    *experiment.Recorder
	analyzer    *experiment.Analyzer

	// running caches the running experiments of a flag for exposure recording.
	running *cache.LRUCache[uuid.UUID, []*experiment.Experiment]
	// exposed remembers users whose exposure was already recorded.
	exposed *cache.LRUCache[string, struct{}]

	metrics *Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
	opts    options

	mu        sync.RWMutex
	closed    bool
	inflight  sync.WaitGroup
	closeOnce sync.Once
	closers   []func(context.Context) error
	probes    []func(context.Context) error
}

type options struct {
	cache            feature.Cache
	logger           *slog.Logger
	registerer       prometheus.Registerer
	tracerProvider   trace.TracerProvider
	recorder         experiment.RecorderOptions
	usage            feature.UsageOptions
	trackUsage       bool
	recordExposures  bool
	exposureTimeout  time.Duration
	exposureCapacity int
	runningTTL       time.Duration
	analysisTimeout  time.Duration
	resultsCacheSize int
	resultsCacheTTL  time.Duration
	now              func() time.Time
	closers          []func(context.Context) error
	probes           []func(context.Context) error
}

// Option configures a Service.
type Option func(*options)

// WithCache sets the decision cache shared by evaluation and flag writes.
func WithCache(c feature.Cache) Option {
	return func(o *options) { o.cache = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetricsRegisterer registers the service metrics with reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithTracerProvider overrides the global OpenTelemetry tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracerProvider = tp }
}

// WithRecorderOptions configures event batching.
func WithRecorderOptions(ro experiment.RecorderOptions) Option {
	return func(o *options) { o.recorder = ro }
}

// WithUsageTracking enables or disables evaluation counters. Enabled by default.
func WithUsageTracking(enabled bool, uo feature.UsageOptions) Option {
	return func(o *options) {
		o.trackUsage = enabled
		o.usage = uo
	}
}

// WithExposureRecording records an exposure event when an evaluation assigns
// a variant of a flag with running experiments. Enabled by default.
func WithExposureRecording(enabled bool) Option {
	return func(o *options) { o.recordExposures = enabled }
}

// WithExposureTimeout bounds the background recording of one exposure.
func WithExposureTimeout(d time.Duration) Option {
	return func(o *options) { o.exposureTimeout = d }
}

// WithRunningExperimentsTTL sets how long the running experiments of a flag
// are cached for exposure recording.
func WithRunningExperimentsTTL(d time.Duration) Option {
	return func(o *options) { o.runningTTL = d }
}

func WithAnalysisTimeout(d time.Duration) Option {
	return func(o *options) { o.analysisTimeout = d }
}

// WithResultsCache sizes the in-memory cache of latest results.
func WithResultsCache(size int, ttl time.Duration) Option {
	return func(o *options) {
		o.resultsCacheSize = size
		o.resultsCacheTTL = ttl
	}
}

// WithClock sets the time source for event timestamps and lifecycle dates.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// withCloser registers cleanup run by Close after the service's own workers stop.
func withCloser(fn func(context.Context) error) Option {
	return func(o *options) { o.closers = append(o.closers, fn) }
}

func withProbe(fn func(context.Context) error) Option {
	return func(o *options) { o.probes = append(o.probes, fn) }
}

// New wires the engine, registry, recorder and analyzer around the given stores.
func New(flags feature.Store, experiments experiment.Store, opts ...Option) *Service {
	if flags == nil || experiments == nil {
		panic("experimentation: stores cannot be nil")
	}
	o := options{
		cache:            feature.NoopCache{},
		logger:           logger.Discard(),
		trackUsage:       true,
		recordExposures:  true,
		exposureTimeout:  5 * time.Second,
		exposureCapacity: 100_000,
		runningTTL:       30 * time.Second,
		analysisTimeout:  30 * time.Second,
		resultsCacheSize: 256,
		resultsCacheTTL:  time.Hour,
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cache == nil {
		o.cache = feature.NoopCache{}
	}
	if o.tracerProvider == nil {
		o.tracerProvider = otel.GetTracerProvider()
	}
	log := o.logger.With(logger.Component("experimentation"))

	s := &Service{
		experiments: experiments,
		running:     cache.NewLRUCache[uuid.UUID, []*experiment.Experiment](1024, cache.WithTTL(o.runningTTL)),
		exposed:     cache.NewLRUCache[string, struct{}](o.exposureCapacity),
		metrics:     NewMetrics(o.registerer),
		tracer:      o.tracerProvider.Tracer(instrumentationName),
		logger:      log,
		opts:        o,
		probes:      o.probes,
	}

	s.flags = feature.NewRegistry(flags,
		feature.WithRegistryCache(o.cache),
		feature.WithRegistryLogger(log),
	)

	engineOpts := []feature.EngineOption{
		feature.WithCache(o.cache),
		feature.WithEngineLogger(log),
		feature.WithEngineClock(o.now),
	}
	if o.trackUsage {
		if o.usage.Logger == nil {
			o.usage.Logger = log
		}
		usage, closeUsage := feature.NewUsageTracker(flags, o.usage)
		engineOpts = append(engineOpts, feature.WithUsageTracker(usage))
		s.closers = append(s.closers, closeUsage)
	}
	if o.recordExposures {
		engineOpts = append(engineOpts, feature.WithEvaluationHook(s.recordExposure))
	}
	s.engine = feature.NewEngine(flags, engineOpts...)

	if o.recorder.Logger == nil {
		o.recorder.Logger = log
	}
	recorder, closeRecorder := experiment.NewRecorder(experiments, o.recorder)
	s.recorder = recorder
	s.closers = append(s.closers, closeRecorder)
	s.closers = append(s.closers, o.closers...)

	analyzerOpts := []experiment.AnalyzerOption{
		experiment.WithAnalysisTimeout(o.analysisTimeout),
		experiment.WithAnalyzerLogger(log),
		experiment.WithAnalyzerClock(o.now),
	}
	if o.resultsCacheSize > 0 {
		analyzerOpts = append(analyzerOpts, experiment.WithResultsCache(
			experiment.NewResultsCache(o.resultsCacheSize, o.resultsCacheTTL),
		))
	}
	s.analyzer = experiment.NewAnalyzer(experiments, analyzerOpts...)

	return s
}

// Healthcheck runs the readiness probes of the backing stores.
func (s *Service) Healthcheck(ctx context.Context) error {
	var errs []error
	for _, probe := range s.probes {
		if err := probe(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close waits for background exposure writes, flushes pending events and
// evaluation counters, then releases the backing connections.
// If ctx ends while background writes are still running, Close returns
// ctx.Err() without releasing anything and a later Close finishes the job.
// Calls after the release has run return nil.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var errs []error
	s.closeOnce.Do(func() {
		for _, closeFn := range s.closers {
			if err := closeFn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

// goBackground runs fn unless the service is closing.
func (s *Service) goBackground(fn func()) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		fn()
	}()
	return true
}
