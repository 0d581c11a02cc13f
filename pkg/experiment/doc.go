// Package experiment runs A/B experiments on top of feature flag variants and
// analyses their outcome.
//
// An Experiment belongs to one flag and lists the variants it measures, the
// metric definitions it aggregates and its statistical parameters (power,
// confidence level, minimum detectable effect). Its lifecycle is a small state
// machine driven by Transition: draft, running, paused, then completed or
// stopped. Only running and paused experiments accept events.
//
// # Events and segments
//
// Recorder batches metric events into bulk writes through an EventWriter. The
// first event of a user in an experiment creates the user's Segment; later
// events never move the user, and every event is attributed to the segment's
// variant during analysis.
//
// # Analysis
//
// Analyzer aggregates participants and metrics per variant, computes rates
// with confidence intervals, runs a two-proportion z-test of the control
// against the best other variant of the primary metric, estimates the sample
// size still needed and derives human-readable recommendations:
//
//	analyzer := experiment.NewAnalyzer(store,
//	    experiment.WithResultsCache(experiment.NewResultsCache(256, time.Hour)),
//	)
//	res, err := analyzer.AnalyzeExperiment(ctx, id)
//	if err != nil {
//	    return err
//	}
//	if res.Significance.Significant {
//	    log.Info("winner", "variant", res.Significance.Winner)
//	}
//
// Results are derived data. Analysing the same events again yields the same
// results apart from GeneratedAt, and the latest copy is kept per experiment.
package experiment
