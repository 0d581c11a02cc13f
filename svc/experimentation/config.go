package experimentation

import (
	"time"

	"github.com/dmitrymomot/experimentkit/pkg/config"
	"github.com/dmitrymomot/experimentkit/pkg/experiment"
	"github.com/dmitrymomot/experimentkit/pkg/feature"
	"github.com/dmitrymomot/experimentkit/pkg/pg"
	"github.com/dmitrymomot/experimentkit/pkg/redis"
)

// Decision cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Config is the environment configuration of a Postgres-backed service.
type Config struct {
	ServiceName string `env:"EXPERIMENTKIT_SERVICE_NAME" envDefault:"experimentkit"`
	Environment string `env:"EXPERIMENTKIT_ENV" envDefault:"development"`

	CacheBackend string        `env:"EXPERIMENTKIT_CACHE_BACKEND" envDefault:"memory"` // memory, redis or none
	CacheSize    int           `env:"EXPERIMENTKIT_CACHE_SIZE" envDefault:"10000"`
	CacheTTL     time.Duration `env:"EXPERIMENTKIT_CACHE_TTL" envDefault:"5m"`

	RecordExposures       bool          `env:"EXPERIMENTKIT_RECORD_EXPOSURES" envDefault:"true"`
	ExposureTimeout       time.Duration `env:"EXPERIMENTKIT_EXPOSURE_TIMEOUT" envDefault:"5s"`
	RunningExperimentsTTL time.Duration `env:"EXPERIMENTKIT_RUNNING_EXPERIMENTS_TTL" envDefault:"30s"`

	TrackUsage         bool          `env:"EXPERIMENTKIT_TRACK_USAGE" envDefault:"true"`
	UsageFlushInterval time.Duration `env:"EXPERIMENTKIT_USAGE_FLUSH_INTERVAL" envDefault:"10s"`

	EventBufferSize     int           `env:"EXPERIMENTKIT_EVENT_BUFFER_SIZE" envDefault:"1000"`
	EventBatchSize      int           `env:"EXPERIMENTKIT_EVENT_BATCH_SIZE" envDefault:"100"`
	EventBatchTimeout   time.Duration `env:"EXPERIMENTKIT_EVENT_BATCH_TIMEOUT" envDefault:"50ms"`
	EventStorageTimeout time.Duration `env:"EXPERIMENTKIT_EVENT_STORAGE_TIMEOUT" envDefault:"5s"`

	AnalysisTimeout  time.Duration `env:"EXPERIMENTKIT_ANALYSIS_TIMEOUT" envDefault:"30s"`
	ResultsCacheSize int           `env:"EXPERIMENTKIT_RESULTS_CACHE_SIZE" envDefault:"256"`
	ResultsCacheTTL  time.Duration `env:"EXPERIMENTKIT_RESULTS_CACHE_TTL" envDefault:"1h"`

	Postgres pg.Config
}

// LoadConfig reads Config from the environment and .env, plus the Redis
// settings when the redis cache backend is selected.
func LoadConfig() (Config, *redis.Config, error) {
	var cfg Config
	if err := config.Load(&cfg); err != nil {
		return Config{}, nil, err
	}
	if cfg.CacheBackend != CacheRedis {
		return cfg, nil, nil
	}
	var rcfg redis.Config
	if err := config.Load(&rcfg); err != nil {
		return Config{}, nil, err
	}
	return cfg, &rcfg, nil
}

// Options translates the configuration into service options. The decision
// cache is chosen by NewFromConfig.
func (c Config) Options() []Option {
	return []Option{
		WithExposureRecording(c.RecordExposures),
		WithExposureTimeout(c.ExposureTimeout),
		WithRunningExperimentsTTL(c.RunningExperimentsTTL),
		WithUsageTracking(c.TrackUsage, feature.UsageOptions{FlushInterval: c.UsageFlushInterval}),
		WithRecorderOptions(experiment.RecorderOptions{
			BufferSize:     c.EventBufferSize,
			BatchSize:      c.EventBatchSize,
			BatchTimeout:   c.EventBatchTimeout,
			StorageTimeout: c.EventStorageTimeout,
		}),
		WithAnalysisTimeout(c.AnalysisTimeout),
		WithResultsCache(c.ResultsCacheSize, c.ResultsCacheTTL),
	}
}
