package experimentation_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/experimentkit/pkg/config"
	"github.com/dmitrymomot/experimentkit/pkg/experiment"
	"github.com/dmitrymomot/experimentkit/pkg/feature"
	"github.com/dmitrymomot/experimentkit/pkg/logger"
	"github.com/dmitrymomot/experimentkit/pkg/redis"
	"github.com/dmitrymomot/experimentkit/svc/experimentation"
)

func TestConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Parse[experimentation.Config](map[string]string{
		"PG_CONN_URL": "postgres://localhost:5432/experiments",
	})
	require.NoError(t, err)

	assert.Equal(t, experimentation.CacheMemory, cfg.CacheBackend)
	assert.Equal(t, 10000, cfg.CacheSize)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.True(t, cfg.RecordExposures)
	assert.True(t, cfg.TrackUsage)
	assert.Equal(t, 100, cfg.EventBatchSize)
	assert.Equal(t, 30*time.Second, cfg.AnalysisTimeout)
	assert.Equal(t, "postgres://localhost:5432/experiments", cfg.Postgres.ConnectionString)
	assert.Equal(t, "experimentkit_migrations", cfg.Postgres.MigrationsTable)
}

func TestConfig_RequiresDatabase(t *testing.T) {
	t.Parallel()

	_, err := config.Parse[experimentation.Config](map[string]string{})
	require.ErrorIs(t, err, config.ErrParsingConfig)
}

func TestConfig_Options(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	cfg, err := config.Parse[experimentation.Config](map[string]string{
		"PG_CONN_URL":                         "postgres://localhost:5432/experiments",
		"EXPERIMENTKIT_RECORD_EXPOSURES":      "false",
		"EXPERIMENTKIT_TRACK_USAGE":           "false",
		"EXPERIMENTKIT_EVENT_BATCH_TIMEOUT":   "5ms",
		"EXPERIMENTKIT_RESULTS_CACHE_SIZE":    "0",
		"EXPERIMENTKIT_USAGE_FLUSH_INTERVAL":  "1h",
		"EXPERIMENTKIT_EVENT_STORAGE_TIMEOUT": "2s",
	})
	require.NoError(t, err)
	assert.Equal(t, 5*time.Millisecond, cfg.EventBatchTimeout)

	flags, err := feature.NewMemoryStore()
	require.NoError(t, err)
	events := experiment.NewMemoryStore()
	svc := experimentation.New(flags, events, cfg.Options()...)

	flag, err := svc.CreateFeatureFlag(ctx, experimentation.CreateFlagInput{
		Name: "config_flag", Enabled: true, RolloutPercentage: 100,
		Variants: []feature.Variant{{Name: "a", Weight: 1, Enabled: true}},
	})
	require.NoError(t, err)
	exp, err := svc.CreateExperiment(ctx, &experiment.Experiment{
		Name: "config_experiment", FlagID: flag.ID,
		Variants: []experiment.Variant{{Name: "a", IsControl: true}},
		Metrics:  []experiment.MetricDefinition{{Name: "conversion", EventName: "purchase", Aggregation: experiment.AggregationConversionRate, IsPrimary: true}},
	})
	require.NoError(t, err)
	_, err = svc.TransitionExperiment(ctx, exp.ID, experiment.ActionStart)
	require.NoError(t, err)

	ev := svc.EvaluateFeatureFlag(ctx, "user-1", flag.Name, nil)
	assert.Equal(t, "a", ev.VariantName())
	require.NoError(t, svc.Close(ctx))

	_, exposed := events.Segment(exp.ID, "user-1")
	assert.False(t, exposed, "exposure recording is disabled")

	stored, err := flags.GetFlag(ctx, flag.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.EvaluationCount, "usage tracking is disabled")
}

func TestNewFromConfig(t *testing.T) {
	dsn := os.Getenv("EXPERIMENTKIT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("EXPERIMENTKIT_TEST_DATABASE_URL is not set")
	}
	ctx := context.Background()

	cfg, err := config.Parse[experimentation.Config](map[string]string{
		"PG_CONN_URL":                 dsn,
		"PG_RETRY_ATTEMPTS":           "1",
		"EXPERIMENTKIT_CACHE_BACKEND": experimentation.CacheRedis,
	})
	require.NoError(t, err)

	_, err = experimentation.NewFromConfig(ctx, cfg, nil, logger.Discard())
	require.ErrorIs(t, err, experimentation.ErrRedisConfigRequired)

	mr := miniredis.RunT(t)
	rcfg, err := config.Parse[redis.Config](map[string]string{
		"REDIS_URL":        "redis://" + mr.Addr(),
		"REDIS_KEY_PREFIX": "experimentkit_test",
	})
	require.NoError(t, err)

	svc, err := experimentation.NewFromConfig(ctx, cfg, &rcfg, logger.Discard())
	require.NoError(t, err)
	require.NoError(t, svc.Healthcheck(ctx))

	flag, err := svc.CreateFeatureFlag(ctx, experimentation.CreateFlagInput{
		Name: "bootstrap_" + time.Now().Format("20060102150405.000000"), Enabled: true, RolloutPercentage: 100,
	})
	require.NoError(t, err)

	first := svc.EvaluateFeatureFlag(ctx, "user-1", flag.Name, nil)
	second := svc.EvaluateFeatureFlag(ctx, "user-1", flag.Name, nil)
	assert.Equal(t, feature.ReasonEnabledNoVariant, first.Reason)
	assert.False(t, first.CacheHit)
	assert.True(t, second.CacheHit, "decisions are cached in redis")

	require.NoError(t, svc.ArchiveFeatureFlag(ctx, flag.ID))
	require.NoError(t, svc.Close(ctx))

	cfg.CacheBackend = "memcached"
	_, err = experimentation.NewFromConfig(ctx, cfg, nil, logger.Discard())
	require.Error(t, err)
}
