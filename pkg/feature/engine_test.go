package feature_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/experimentkit/pkg/feature"
)

type readerFunc func(ctx context.Context, name string) (*feature.Flag, error)

func (f readerFunc) GetFlagByName(ctx context.Context, name string) (*feature.Flag, error) {
	return f(ctx, name)
}

type countingSink struct {
	mu     sync.Mutex
	counts map[uuid.UUID]int64
	calls  int
	err    error
}

func newCountingSink() *countingSink {
	return &countingSink{counts: map[uuid.UUID]int64{}}
}

func (s *countingSink) RecordEvaluations(_ context.Context, counts []feature.EvaluationCount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return s.err
	}
	for _, c := range counts {
		s.counts[c.FlagID] += c.Count
	}
	return nil
}

func (s *countingSink) get(id uuid.UUID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[id]
}

func TestEngine_Evaluate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := feature.NewMemoryStore(splitFlag("checkout", 100))
	require.NoError(t, err)
	flag, err := store.GetFlagByName(ctx, "checkout")
	require.NoError(t, err)

	engine := feature.NewEngine(store, feature.WithCache(feature.NewMemoryCache(100)))

	t.Run("matches the pure evaluation", func(t *testing.T) {
		t.Parallel()
		ev := engine.Evaluate(ctx, "checkout", "user-7", nil)
		want := feature.EvaluateFlag(flag, "user-7", nil)
		assert.Equal(t, want, ev.Decision)
		assert.Equal(t, "checkout", ev.FlagName)
		assert.Equal(t, flag.ID, ev.FlagID)
	})

	t.Run("unknown flag", func(t *testing.T) {
		t.Parallel()
		ev := engine.Evaluate(ctx, "missing", "user-7", nil)
		assert.False(t, ev.Enabled)
		assert.Equal(t, feature.ReasonNotFound, ev.Reason)
		assert.NotEmpty(t, ev.TrackingID)
	})

	t.Run("tracking id is fresh on cache hits", func(t *testing.T) {
		t.Parallel()
		first := engine.Evaluate(ctx, "checkout", "user-8", map[string]any{"plan": "pro"})
		second := engine.Evaluate(ctx, "checkout", "user-8", map[string]any{"plan": "pro"})
		assert.True(t, second.CacheHit)
		assert.Equal(t, first.Decision, second.Decision)
		assert.NotEqual(t, first.TrackingID, second.TrackingID)
	})

	t.Run("different context is a different cache entry", func(t *testing.T) {
		t.Parallel()
		engine.Evaluate(ctx, "checkout", "user-9", map[string]any{"plan": "pro"})
		other := engine.Evaluate(ctx, "checkout", "user-9", map[string]any{"plan": "free"})
		assert.False(t, other.CacheHit)
	})
}

func TestEngine_FailsClosed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("store error", func(t *testing.T) {
		t.Parallel()
		engine := feature.NewEngine(readerFunc(func(context.Context, string) (*feature.Flag, error) {
			return nil, errors.New("connection refused")
		}))
		ev := engine.Evaluate(ctx, "any", "user-1", nil)
		assert.False(t, ev.Enabled)
		assert.Equal(t, feature.ReasonEvaluationError, ev.Reason)
		assert.NotEmpty(t, ev.TrackingID)
	})

	t.Run("panic", func(t *testing.T) {
		t.Parallel()
		engine := feature.NewEngine(readerFunc(func(context.Context, string) (*feature.Flag, error) {
			panic("corrupted row")
		}))
		var ev feature.Evaluation
		require.NotPanics(t, func() { ev = engine.Evaluate(ctx, "any", "user-1", nil) })
		assert.False(t, ev.Enabled)
		assert.Equal(t, feature.ReasonEvaluationError, ev.Reason)
	})

	t.Run("store errors are not cached", func(t *testing.T) {
		t.Parallel()
		var calls int
		var mu sync.Mutex
		engine := feature.NewEngine(readerFunc(func(context.Context, string) (*feature.Flag, error) {
			mu.Lock()
			defer mu.Unlock()
			calls++
			return nil, errors.New("timeout")
		}), feature.WithCache(feature.NewMemoryCache(10)))
		engine.Evaluate(ctx, "any", "user-1", nil)
		engine.Evaluate(ctx, "any", "user-1", nil)
		assert.Equal(t, 2, calls)
	})
}

func TestEngine_UsageAndHooks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := feature.NewMemoryStore(splitFlag("tracked", 100))
	require.NoError(t, err)
	flag, err := store.GetFlagByName(ctx, "tracked")
	require.NoError(t, err)

	sink := newCountingSink()
	tracker, closeTracker := feature.NewUsageTracker(sink, feature.UsageOptions{FlushInterval: time.Hour})

	var seen []feature.Reason
	var mu sync.Mutex
	engine := feature.NewEngine(store,
		feature.WithUsageTracker(tracker),
		feature.WithEvaluationHook(func(_ context.Context, userID string, ev feature.Evaluation) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, ev.Reason)
		}),
		feature.WithTrackingIDFunc(func() string { return "fixed" }),
	)

	for range 3 {
		ev := engine.Evaluate(ctx, "tracked", "user-1", nil)
		assert.Equal(t, "fixed", ev.TrackingID)
	}
	engine.Evaluate(ctx, "missing", "user-1", nil)

	require.NoError(t, closeTracker(ctx))
	assert.Equal(t, int64(3), sink.get(flag.ID), "only evaluations of existing flags are counted")
	assert.Equal(t, []feature.Reason{
		feature.ReasonVariantAssigned,
		feature.ReasonVariantAssigned,
		feature.ReasonVariantAssigned,
		feature.ReasonNotFound,
	}, seen)
}

func TestEngine_ConcurrentEvaluate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store, err := feature.NewMemoryStore(splitFlag("busy", 50))
	require.NoError(t, err)
	engine := feature.NewEngine(store, feature.WithCache(feature.NewMemoryCache(1000)))

	var wg sync.WaitGroup
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 500 {
				user := uuid.NewSHA1(uuid.NameSpaceOID, []byte{byte(g), byte(i), byte(i >> 8)}).String()
				a := engine.Evaluate(ctx, "busy", user, nil)
				b := engine.Evaluate(ctx, "busy", user, nil)
				assert.Equal(t, a.Decision, b.Decision)
			}
		}()
	}
	wg.Wait()
}

func BenchmarkEngine_EvaluateCached(b *testing.B) {
	store, err := feature.NewMemoryStore(splitFlag("bench", 100))
	require.NoError(b, err)
	engine := feature.NewEngine(store, feature.WithCache(feature.NewMemoryCache(1000)))
	ctx := context.Background()
	attrs := map[string]any{"plan": "pro"}

	b.ReportAllocs()
	for b.Loop() {
		engine.Evaluate(ctx, "bench", "user-1", attrs)
	}
}
