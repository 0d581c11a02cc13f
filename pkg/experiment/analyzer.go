package experiment

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/dmitrymomot/experimentkit/pkg/logger"
	"github.com/dmitrymomot/experimentkit/pkg/stats"
)

// analysisStore is what the analyzer needs from a Store.
type analysisStore interface {
	AnalysisReader
	ResultsStore
	GetExperiment(ctx context.Context, id uuid.UUID) (*Experiment, error)
}

// Analyzer turns raw events into experiment results.
type Analyzer struct {
	store   analysisStore
	cache   *ResultsCache
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
	group   singleflight.Group
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithAnalysisTimeout bounds a single analysis. Default 30s; zero disables the bound.
func WithAnalysisTimeout(d time.Duration) AnalyzerOption {
	return func(a *Analyzer) { a.timeout = d }
}

// WithResultsCache keeps the latest results in memory after each analysis.
func WithResultsCache(c *ResultsCache) AnalyzerOption {
	return func(a *Analyzer) { a.cache = c }
}

func WithAnalyzerLogger(l *slog.Logger) AnalyzerOption {
	return func(a *Analyzer) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithAnalyzerClock sets the source of GeneratedAt.
func WithAnalyzerClock(now func() time.Time) AnalyzerOption {
	return func(a *Analyzer) { a.now = now }
}

func NewAnalyzer(store analysisStore, opts ...AnalyzerOption) *Analyzer {
	if store == nil {
		panic("experiment: store cannot be nil")
	}
	a := &Analyzer{
		store:   store,
		timeout: 30 * time.Second,
		logger:  logger.Discard(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AnalyzeExperiment recomputes the results of an experiment from its events,
// stores them and returns them. Concurrent calls for the same experiment
// share one computation. The shared computation is bounded by the analysis
// timeout only; each caller stops waiting when its own ctx is done.
func (a *Analyzer) AnalyzeExperiment(ctx context.Context, experimentID uuid.UUID) (*Results, error) {
	shared := context.WithoutCancel(ctx)
	ch := a.group.DoChan(experimentID.String(), func() (any, error) {
		return a.analyze(shared, experimentID)
	})
	select {
	case <-ctx.Done():
		return nil, errors.Join(ErrAnalysisFailed, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Results).Clone(), nil
	}
}

// LatestResults returns the last computed results without recomputing them.
func (a *Analyzer) LatestResults(ctx context.Context, experimentID uuid.UUID) (*Results, error) {
	if a.cache != nil {
		if r, ok := a.cache.Get(experimentID); ok {
			return r, nil
		}
	}
	r, err := a.store.LatestResults(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if a.cache != nil {
		a.cache.Put(r)
	}
	return r, nil
}

func (a *Analyzer) analyze(ctx context.Context, experimentID uuid.UUID) (*Results, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	started := time.Now()

	exp, err := a.store.GetExperiment(ctx, experimentID)
	if err != nil {
		if errors.Is(err, ErrExperimentNotFound) {
			return nil, err
		}
		return nil, errors.Join(ErrAnalysisFailed, err)
	}
	primary := exp.PrimaryMetric()
	if primary == nil {
		return nil, ErrNoPrimaryMetric
	}

	var (
		participants map[uuid.UUID]int64
		aggregates   = make([]map[uuid.UUID]MetricAggregate, len(exp.Metrics))
		first, last  time.Time
		hasEvents    bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		participants, err = a.store.CountParticipants(gctx, exp.ID)
		return err
	})
	g.Go(func() error {
		var err error
		first, last, hasEvents, err = a.store.EventWindow(gctx, exp.ID)
		return err
	})
	for i, m := range exp.Metrics {
		g.Go(func() error {
			agg, err := a.store.AggregateMetric(gctx, exp.ID, m.EventName)
			aggregates[i] = agg
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.Join(ErrAnalysisFailed, err)
	}

	res := buildResults(exp, participants, aggregates)
	var windowDays float64
	if hasEvents {
		windowDays = math.Max(1, last.Sub(first).Hours()/24)
	}
	res.Significance = significance(exp, res.PrimaryMetric, windowDays)
	res.Recommendations = recommend(exp, res.Significance)
	res.GeneratedAt = a.now().UTC()

	if err := a.store.SaveResults(ctx, res); err != nil {
		return nil, errors.Join(ErrAnalysisFailed, err)
	}
	if a.cache != nil {
		a.cache.Put(res)
	}

	a.logger.InfoContext(ctx, "experiment analyzed",
		logger.ExperimentID(exp.ID),
		slog.Int64("participants", res.TotalParticipants),
		slog.Bool("significant", res.Significance.Significant),
		slog.Float64("p_value", res.Significance.PValue),
		logger.Duration(time.Since(started)),
	)
	return res, nil
}

// buildResults computes per-variant values of every metric. Variants are in
// name order and the control is resolved once, so output order is stable.
func buildResults(exp *Experiment, participants map[uuid.UUID]int64, aggregates []map[uuid.UUID]MetricAggregate) *Results {
	variants := exp.Clone().Variants
	sortVariants(variants)

	var controlID uuid.UUID
	if c := exp.Control(); c != nil {
		controlID = c.ID
	}

	res := &Results{
		ExperimentID:     exp.ID,
		Variants:         make([]VariantSummary, 0, len(variants)),
		SecondaryMetrics: []MetricResult{},
	}
	for _, v := range variants {
		n := participants[v.ID]
		res.TotalParticipants += n
		res.Variants = append(res.Variants, VariantSummary{
			VariantID:    v.ID,
			Name:         v.Name,
			IsControl:    v.ID == controlID,
			Participants: n,
		})
	}

	order := make([]int, len(exp.Metrics))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int { return compareMetrics(exp.Metrics[a], exp.Metrics[b]) })

	for _, i := range order {
		m := exp.Metrics[i]
		mr := MetricResult{
			MetricID:    m.ID,
			Name:        m.Name,
			EventName:   m.EventName,
			Aggregation: m.Aggregation,
			Variants:    make([]VariantMetric, 0, len(variants)),
		}
		for _, v := range variants {
			mr.Variants = append(mr.Variants, variantMetric(m.Aggregation, v, v.ID == controlID, participants[v.ID], aggregates[i][v.ID]))
		}
		applyUplift(mr.Variants)

		if m.IsPrimary {
			res.PrimaryMetric = mr
		} else {
			res.SecondaryMetrics = append(res.SecondaryMetrics, mr)
		}
	}
	return res
}

func variantMetric(agg Aggregation, v Variant, isControl bool, participants int64, a MetricAggregate) VariantMetric {
	vm := VariantMetric{
		VariantID:    v.ID,
		Name:         v.Name,
		IsControl:    isControl,
		Participants: participants,
		Events:       a.Events,
		UniqueUsers:  a.UniqueUsers,
		TotalValue:   a.TotalValue,
	}
	if participants == 0 {
		vm.Interval = stats.Point(0)
		return vm
	}

	switch agg {
	case AggregationConversionRate:
		successes := min(a.Events, participants)
		vm.Rate = float64(successes) / float64(participants)
		vm.Interval = stats.Wilson(successes, participants, stats.Z95)
	case AggregationAverage:
		if a.Events > 0 {
			vm.Rate = a.TotalValue / float64(a.Events)
		}
		vm.Interval = stats.NormalApprox(vm.Rate, participants, stats.Z95)
	case AggregationSum:
		vm.Rate = a.TotalValue
		vm.Interval = stats.Point(vm.Rate)
	case AggregationUniqueCount:
		vm.Rate = float64(a.UniqueUsers)
		vm.Interval = stats.Point(vm.Rate)
	default:
		vm.Rate = float64(a.Events)
		vm.Interval = stats.Point(vm.Rate)
	}
	return vm
}

func applyUplift(vms []VariantMetric) {
	var controlRate float64
	for _, vm := range vms {
		if vm.IsControl {
			controlRate = vm.Rate
		}
	}
	for i := range vms {
		vms[i].Uplift = uplift(vms[i].Rate, controlRate)
	}
}

// uplift is the relative change in percent, 0 when the control rate is 0.
func uplift(rate, controlRate float64) float64 {
	if controlRate == 0 {
		return 0
	}
	return (rate - controlRate) / controlRate * 100
}

// significance runs the z-test of the control against the best other variant
// of the primary metric. The test works on proportions, so successes are
// events capped at participants whatever the metric's aggregation.
func significance(exp *Experiment, primary MetricResult, windowDays float64) Significance {
	sig := Significance{PValue: 1, ConfidenceLevel: exp.ConfidenceLevel}

	var control *VariantMetric
	var best *VariantMetric
	for i := range primary.Variants {
		vm := &primary.Variants[i]
		if vm.IsControl {
			control = vm
			continue
		}
		if best == nil || vm.Rate > best.Rate {
			best = vm
		}
	}
	if control == nil || best == nil {
		return sig
	}

	cs := min(control.Events, control.Participants)
	ts := min(best.Events, best.Participants)
	z := stats.TwoProportionZTest(cs, control.Participants, ts, best.Participants)

	sig.ControlVariant = control.Name
	sig.TreatmentVariant = best.Name
	sig.ControlRate = control.Rate
	sig.TreatmentRate = best.Rate
	sig.Uplift = best.Uplift
	sig.ZScore = z.ZScore
	sig.PValue = z.PValue
	sig.Significant = z.PValue < 1-exp.ConfidenceLevel
	if sig.Significant {
		sig.Winner = best.Name
		if best.Rate < control.Rate {
			sig.Winner = control.Name
		}
	}

	mde := exp.MinimumDetectableEffect
	if mde <= 0 {
		mde = DefaultMinimumDetectableEffect
	}
	sig.RequiredSampleSize = stats.RequiredSampleSize(z.ControlRate, mde, exp.ConfidenceLevel, exp.Power)
	sig.CurrentSampleSize = min(control.Participants, best.Participants)
	if sig.CurrentSampleSize < sig.RequiredSampleSize {
		sig.AdditionalSampleSize = sig.RequiredSampleSize - sig.CurrentSampleSize
		sig.DaysToSignificance = daysToSignificance(sig.AdditionalSampleSize, sig.CurrentSampleSize, windowDays)
	}
	return sig
}

// daysToSignificance extrapolates the per-variant participant rate observed
// over the event window. It is nil when there is no rate to extrapolate.
func daysToSignificance(needed, current int64, windowDays float64) *int {
	if current <= 0 || windowDays <= 0 {
		return nil
	}
	perDay := float64(current) / windowDays
	days := int(math.Ceil(float64(needed) / perDay))
	return &days
}
