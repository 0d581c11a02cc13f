// Package experimentation is the facade collaborators use for feature flags
// and A/B experiments.
//
// A Service ties together the flag engine and registry from pkg/feature and
// the event recorder and analyzer from pkg/experiment. It adds Prometheus
// metrics, OpenTelemetry spans and automatic exposure events: when an
// evaluation assigns a variant of a flag with running experiments, an
// exposure event is recorded in the background, once per user and
// experiment for the life of the process.
//
// # Usage
//
// In-memory stores suit tests and single-process tools:
//
//	flags, _ := feature.NewMemoryStore()
//	svc := experimentation.New(flags, experiment.NewMemoryStore(),
//		experimentation.WithCache(feature.NewMemoryCache(10_000)),
//	)
//	defer svc.Close(ctx)
//
//	ev := svc.EvaluateFeatureFlag(ctx, userID, "checkout_redesign", map[string]any{"plan": "pro"})
//	if ev.Enabled && ev.VariantName() == "treatment" {
//		// render the new checkout
//	}
//
// Production deployments read their settings from the environment and run
// on Postgres, optionally with a Redis decision cache:
//
//	cfg, rcfg, err := experimentation.LoadConfig()
//	if err != nil {
//		return err
//	}
//	svc, err := experimentation.NewFromConfig(ctx, cfg, rcfg, nil)
//
// # Shutdown
//
// Close waits for background exposure writes, flushes batched events and
// evaluation counters and then releases database connections. Events passed
// to TrackEvent after Close fail with experiment.ErrRecorderClosed.
package experimentation
