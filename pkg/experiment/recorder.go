package experiment

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/experimentkit/pkg/logger"
)

// RecorderOptions configures batching of metric events.
type RecorderOptions struct {
	BufferSize     int           // Max pending requests before Record falls back to a synchronous write
	BatchSize      int           // Events per storage write
	BatchTimeout   time.Duration // Max time a partial batch waits before it is flushed
	StorageTimeout time.Duration // Per-batch storage timeout
	Logger         *slog.Logger
}

// Recorder batches metric events into bulk writes. Record blocks until the
// batch holding the caller's events is stored and returns the storage error,
// so an acknowledged event is always durable.
//
// Events from several callers share one write. When that write is rejected
// with ErrInvalidEvent or ErrExperimentNotFound, each caller's events are
// written again on their own so one bad caller cannot fail the others. Any
// other storage error is returned to every caller in the batch. The
// EventWriter must store a slice all-or-nothing.
type Recorder struct {
	writer  EventWriter
	opts    RecorderOptions
	queue   chan pendingEvents
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

type pendingEvents struct {
	events []Event
	result chan error
}

// NewRecorder starts a recorder and returns it with its close func.
func NewRecorder(w EventWriter, opts RecorderOptions) (*Recorder, func(context.Context) error) {
	if w == nil {
		panic("experiment: event writer cannot be nil")
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = 50 * time.Millisecond
	}
	if opts.StorageTimeout <= 0 {
		opts.StorageTimeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}

	r := &Recorder{
		writer:  w,
		opts:    opts,
		queue:   make(chan pendingEvents, opts.BufferSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go r.worker()

	return r, r.Close
}

// Record stores events. When the buffer is full the events are written
// synchronously on the caller's goroutine instead of being dropped.
func (r *Recorder) Record(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	select {
	case <-r.done:
		return ErrRecorderClosed
	default:
	}

	result := make(chan error, 1)
	select {
	case r.queue <- pendingEvents{events: events, result: result}:
	case <-ctx.Done():
		return ctx.Err()
	case <-r.done:
		return ErrRecorderClosed
	default:
		return r.writer.RecordEvents(ctx, events)
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-r.stopped:
		// The worker may have flushed our batch right before exiting.
		select {
		case err := <-result:
			return err
		default:
			return ErrRecorderClosed
		}
	}
}

func (r *Recorder) worker() {
	defer close(r.stopped)

	batch := make([]Event, 0, r.opts.BatchSize)
	waiting := make([]pendingEvents, 0, r.opts.BatchSize)
	ticker := time.NewTicker(r.opts.BatchTimeout)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		err := r.store(batch)
		if len(waiting) > 1 && isRejectedEvent(err) {
			r.opts.Logger.Warn("metric event batch rejected, writing per request",
				logger.Component("event_recorder"),
				logger.Count(len(waiting)),
				logger.Error(err),
			)
			for _, p := range waiting {
				p.result <- r.store(p.events)
			}
		} else {
			for _, p := range waiting {
				p.result <- err
			}
		}
		clear(batch)
		clear(waiting)
		batch = batch[:0]
		waiting = waiting[:0]
	}

	for {
		select {
		case p := <-r.queue:
			batch = append(batch, p.events...)
			waiting = append(waiting, p)
			if len(batch) >= r.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-r.done:
			for {
				select {
				case p := <-r.queue:
					batch = append(batch, p.events...)
					waiting = append(waiting, p)
				default:
					flush()
					return
				}
			}
		}
	}
}

// store writes events detached from callers so one cancelled request cannot
// fail a shared batch.
func (r *Recorder) store(events []Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.opts.StorageTimeout)
	defer cancel()

	err := r.writer.RecordEvents(ctx, events)
	if err != nil {
		r.opts.Logger.Error("store metric events",
			logger.Component("event_recorder"),
			logger.Count(len(events)),
			logger.Error(err),
		)
	}
	return err
}

func isRejectedEvent(err error) bool {
	return errors.Is(err, ErrInvalidEvent) || errors.Is(err, ErrExperimentNotFound)
}

// Close flushes queued events and stops the worker. It is safe to call more than once.
func (r *Recorder) Close(ctx context.Context) error {
	r.once.Do(func() { close(r.done) })
	select {
	case <-r.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
