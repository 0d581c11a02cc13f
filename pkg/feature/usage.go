package feature

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/experimentkit/pkg/logger"
)

// UsageOptions configures how often evaluation counters are persisted.
type UsageOptions struct {
	FlushInterval time.Duration // How often pending counters are written to the sink
	FlushTimeout  time.Duration // Per-flush storage timeout
	Logger        *slog.Logger
}

// UsageTracker aggregates evaluation counts in memory and flushes them to a
// UsageSink in the background, keeping storage writes off the evaluation path.
type UsageTracker struct {
	sink    UsageSink
	opts    UsageOptions
	mu      sync.Mutex
	pending map[uuid.UUID]EvaluationCount
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
}

// NewUsageTracker starts a tracker and returns it with its close func.
// The close func flushes whatever is pending before returning.
func NewUsageTracker(sink UsageSink, opts UsageOptions) (*UsageTracker, func(context.Context) error) {
	if sink == nil {
		panic("feature: usage sink cannot be nil")
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 10 * time.Second
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}

	t := &UsageTracker{
		sink:    sink,
		opts:    opts,
		pending: make(map[uuid.UUID]EvaluationCount),
		done:    make(chan struct{}),
	}
	t.wg.Add(1)
	go t.worker()

	return t, t.Close
}

// Track counts one evaluation of a flag.
func (t *UsageTracker) Track(flagID uuid.UUID, at time.Time) {
	t.mu.Lock()
	c := t.pending[flagID]
	c.FlagID = flagID
	c.Count++
	if at.After(c.LastEvaluatedAt) {
		c.LastEvaluatedAt = at
	}
	t.pending[flagID] = c
	t.mu.Unlock()
}

// Flush writes pending counters now. On failure the counters are kept for the next attempt.
func (t *UsageTracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	if len(t.pending) == 0 {
		t.mu.Unlock()
		return nil
	}
	batch := make([]EvaluationCount, 0, len(t.pending))
	for _, c := range t.pending {
		batch = append(batch, c)
	}
	clear(t.pending)
	t.mu.Unlock()

	if err := t.sink.RecordEvaluations(ctx, batch); err != nil {
		t.restore(batch)
		return err
	}
	return nil
}

func (t *UsageTracker) restore(batch []EvaluationCount) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range batch {
		c := t.pending[b.FlagID]
		c.FlagID = b.FlagID
		c.Count += b.Count
		if b.LastEvaluatedAt.After(c.LastEvaluatedAt) {
			c.LastEvaluatedAt = b.LastEvaluatedAt
		}
		t.pending[b.FlagID] = c
	}
}

func (t *UsageTracker) worker() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.opts.FlushInterval)
	defer ticker.Stop()

	flush := func() {
		// Detached from callers so a cancelled request never drops counters.
		ctx, cancel := context.WithTimeout(context.Background(), t.opts.FlushTimeout)
		defer cancel()
		if err := t.Flush(ctx); err != nil {
			t.opts.Logger.Warn("flush evaluation counters",
				logger.Component("usage_tracker"),
				logger.Error(err),
			)
		}
	}

	for {
		select {
		case <-ticker.C:
			flush()
		case <-t.done:
			flush()
			return
		}
	}
}

// Close stops the background worker after a final flush. It is safe to call more than once.
func (t *UsageTracker) Close(ctx context.Context) error {
	t.once.Do(func() { close(t.done) })

	doneChan := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(doneChan)
	}()

	select {
	case <-doneChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
