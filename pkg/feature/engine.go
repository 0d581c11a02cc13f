package feature

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/experimentkit/pkg/logger"
)

// Evaluation is the result returned to callers of Engine.Evaluate.
type Evaluation struct {
	Decision
	FlagName string `json:"flag_name"`
	// TrackingID is unique per call, including cache hits.
	TrackingID string `json:"tracking_id"`
	CacheHit   bool   `json:"-"`
}

// EvaluationHook observes every evaluation after it completes.
// Hooks run synchronously on the caller's goroutine and must not block.
type EvaluationHook func(ctx context.Context, userID string, ev Evaluation)

type usageTracker interface {
	Track(flagID uuid.UUID, at time.Time)
}

// Engine evaluates flags by name with caching and usage tracking.
// It never fails: faults degrade to a disabled decision with ReasonEvaluationError.
type Engine struct {
	flags  FlagReader
	cache  Cache
	usage  usageTracker
	hooks  []EvaluationHook
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCache sets the decision cache. Default NoopCache.
func WithCache(c Cache) EngineOption {
	return func(e *Engine) {
		if c != nil {
			e.cache = c
		}
	}
}

// WithUsageTracker counts evaluations of existing flags.
func WithUsageTracker(t *UsageTracker) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.usage = t
		}
	}
}

// WithEvaluationHook registers an observer called after each evaluation.
func WithEvaluationHook(h EvaluationHook) EngineOption {
	return func(e *Engine) {
		if h != nil {
			e.hooks = append(e.hooks, h)
		}
	}
}

func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithEngineClock sets the time source used for usage timestamps.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// WithTrackingIDFunc overrides uuid.NewString as the tracking ID generator.
func WithTrackingIDFunc(fn func() string) EngineOption {
	return func(e *Engine) { e.newID = fn }
}

// NewEngine creates an engine reading flags from flags.
func NewEngine(flags FlagReader, opts ...EngineOption) *Engine {
	if flags == nil {
		panic("feature: flag reader cannot be nil")
	}
	e := &Engine{
		flags:  flags,
		cache:  NoopCache{},
		logger: logger.Discard(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate returns the decision for a flag, user and context.
func (e *Engine) Evaluate(ctx context.Context, flagName, userID string, attrs map[string]any) (ev Evaluation) {
	ev = Evaluation{FlagName: flagName, TrackingID: e.newID()}

	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "flag evaluation panicked",
				logger.FlagName(flagName),
				logger.UserID(userID),
				logger.Error(fmt.Errorf("%w: %v", ErrEvaluationFailed, r)),
			)
			ev.Decision = Decision{FlagID: ev.FlagID, Reason: ReasonEvaluationError}
			ev.CacheHit = false
		}
		e.observe(ctx, userID, ev)
	}()

	key, cacheable := CacheKey(flagName, userID, attrs)
	if cacheable {
		d, ok, err := e.cache.Get(ctx, key)
		switch {
		case err != nil:
			e.logger.WarnContext(ctx, "decision cache read failed",
				logger.FlagName(flagName),
				logger.Error(err),
			)
		case ok:
			ev.Decision = d
			ev.CacheHit = true
			return ev
		}
	}

	flag, err := e.flags.GetFlagByName(ctx, flagName)
	if errors.Is(err, ErrFlagNotFound) {
		ev.Decision = Decision{Reason: ReasonNotFound}
		return ev
	}
	if err != nil {
		e.logger.ErrorContext(ctx, "load feature flag",
			logger.FlagName(flagName),
			logger.Error(errors.Join(ErrEvaluationFailed, err)),
		)
		ev.Decision = Decision{Reason: ReasonEvaluationError}
		return ev
	}

	ev.Decision = EvaluateFlag(flag, userID, attrs)

	if cacheable {
		if err := e.cache.Set(ctx, key, ev.Decision); err != nil {
			e.logger.WarnContext(ctx, "decision cache write failed",
				logger.FlagName(flagName),
				logger.Error(err),
			)
		}
	}
	return ev
}

// IsEnabled is a shorthand for Evaluate(...).Enabled.
func (e *Engine) IsEnabled(ctx context.Context, flagName, userID string, attrs map[string]any) bool {
	return e.Evaluate(ctx, flagName, userID, attrs).Enabled
}

func (e *Engine) observe(ctx context.Context, userID string, ev Evaluation) {
	if e.usage != nil && ev.FlagID != uuid.Nil {
		e.usage.Track(ev.FlagID, e.now())
	}
	for _, h := range e.hooks {
		h(ctx, userID, ev)
	}
}
