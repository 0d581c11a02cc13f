package experimentation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dmitrymomot/experimentkit/pkg/experiment"
	"github.com/dmitrymomot/experimentkit/pkg/feature"
	"github.com/dmitrymomot/experimentkit/pkg/logger"
	"github.com/dmitrymomot/experimentkit/pkg/pg"
	"github.com/dmitrymomot/experimentkit/pkg/redis"
	"github.com/dmitrymomot/experimentkit/svc/experimentation/migrations"
)

// ErrRedisConfigRequired is returned when the redis cache backend is selected without Redis settings.
var ErrRedisConfigRequired = errors.New("redis cache backend selected without redis config")

// NewFromConfig connects to Postgres, applies migrations, sets up the decision
// cache and returns a service backed by the Postgres stores. Close releases
// the connections. Extra options are applied after the configured ones.
func NewFromConfig(ctx context.Context, cfg Config, rcfg *redis.Config, log *slog.Logger, opts ...Option) (*Service, error) {
	if log == nil {
		log = logger.New(
			logger.WithEnvironment(cfg.Environment, cfg.ServiceName),
			logger.WithTraceContext(),
		)
	}

	pool, err := pg.Connect(ctx, cfg.Postgres)
	if err != nil {
		return nil, err
	}
	if err := pg.Migrate(ctx, pool, migrations.FS, ".", cfg.Postgres, log); err != nil {
		pool.Close()
		return nil, err
	}

	base := []Option{
		WithLogger(log),
		withProbe(pg.Healthcheck(pool)),
	}

	switch cfg.CacheBackend {
	case CacheRedis:
		if rcfg == nil {
			pool.Close()
			return nil, ErrRedisConfigRequired
		}
		client, err := redis.Connect(ctx, *rcfg)
		if err != nil {
			pool.Close()
			return nil, err
		}
		base = append(base,
			WithCache(feature.NewRedisCache(client,
				feature.WithRedisKeyPrefix(rcfg.KeyPrefix),
				feature.WithRedisCacheTTL(cfg.CacheTTL),
			)),
			withProbe(redis.Healthcheck(client)),
			withCloser(func(context.Context) error { return client.Close() }),
		)
	case CacheMemory, "":
		base = append(base, WithCache(feature.NewMemoryCache(cfg.CacheSize, feature.WithMemoryCacheTTL(cfg.CacheTTL))))
	case CacheNone:
		base = append(base, WithCache(feature.NoopCache{}))
	default:
		pool.Close()
		return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
	}
	// The pool is released last, after pending events and counters are flushed.
	base = append(base, withCloser(func(context.Context) error {
		pool.Close()
		return nil
	}))

	opts = append(append(base, cfg.Options()...), opts...)
	s := New(feature.NewPostgresStore(pool), experiment.NewPostgresStore(pool), opts...)

	log.InfoContext(ctx, "experimentation service started",
		slog.String("cache_backend", cfg.CacheBackend),
		slog.Bool("record_exposures", cfg.RecordExposures),
	)
	return s, nil
}
