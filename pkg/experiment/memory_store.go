package experiment

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type segmentKey struct {
	experimentID uuid.UUID
	userID       string
}

// MemoryStore is an in-memory Store for tests and single-process deployments.
type MemoryStore struct {
	mu          sync.RWMutex
	experiments map[uuid.UUID]*Experiment
	segments    map[segmentKey]Segment
	events      map[uuid.UUID][]Event
	results     map[uuid.UUID]*Results
	now         func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		experiments: make(map[uuid.UUID]*Experiment),
		segments:    make(map[segmentKey]Segment),
		events:      make(map[uuid.UUID][]Event),
		results:     make(map[uuid.UUID]*Results),
		now:         time.Now,
	}
}

func (s *MemoryStore) CreateExperiment(ctx context.Context, e *Experiment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prepareNew(e, s.now())
	if _, ok := s.experiments[e.ID]; ok {
		return fmt.Errorf("%w: duplicate id %s", ErrInvalidExperiment, e.ID)
	}
	s.experiments[e.ID] = e.Clone()
	return nil
}

func (s *MemoryStore) GetExperiment(ctx context.Context, id uuid.UUID) (*Experiment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.experiments[id]
	if !ok {
		return nil, ErrExperimentNotFound
	}
	return e.Clone(), nil
}

func (s *MemoryStore) ListExperiments(ctx context.Context, filter ListFilter) ([]*Experiment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Experiment
	for _, e := range s.experiments {
		if filter.FlagID != uuid.Nil && e.FlagID != filter.FlagID {
			continue
		}
		if len(filter.Status) > 0 && !slices.Contains(filter.Status, e.Status) {
			continue
		}
		out = append(out, e.Clone())
	}
	slices.SortFunc(out, func(a, b *Experiment) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return slices.Compare(a.ID[:], b.ID[:])
	})
	return out, nil
}

func (s *MemoryStore) UpdateExperiment(ctx context.Context, id uuid.UUID, mutate func(*Experiment) error) (*Experiment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.experiments[id]
	if !ok {
		return nil, ErrExperimentNotFound
	}
	next := e.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	// Only lifecycle fields are mutable.
	stored := e.Clone()
	stored.Status = next.Status
	stored.StartDate = next.StartDate
	stored.EndDate = next.EndDate
	stored.Description = next.Description
	stored.UpdatedAt = next.UpdatedAt
	s.experiments[id] = stored
	return stored.Clone(), nil
}

// RecordEvents validates every event against its experiment before storing any of them.
func (s *MemoryStore) RecordEvents(ctx context.Context, events []Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range events {
		e, ok := s.experiments[ev.ExperimentID]
		if !ok {
			return fmt.Errorf("%w: %s", ErrExperimentNotFound, ev.ExperimentID)
		}
		if e.VariantByID(ev.VariantID) == nil {
			return fmt.Errorf("%w: variant %s does not belong to experiment %s", ErrInvalidEvent, ev.VariantID, ev.ExperimentID)
		}
	}
	for _, ev := range events {
		key := segmentKey{experimentID: ev.ExperimentID, userID: ev.UserID}
		if _, ok := s.segments[key]; !ok {
			s.segments[key] = Segment{
				UserID:       ev.UserID,
				ExperimentID: ev.ExperimentID,
				VariantID:    ev.VariantID,
				AssignedAt:   ev.Timestamp,
			}
		}
		if ev.Value != nil {
			v := *ev.Value
			ev.Value = &v
		}
		s.events[ev.ExperimentID] = append(s.events[ev.ExperimentID], ev)
	}
	return nil
}

// Segment returns the sticky assignment of a user.
func (s *MemoryStore) Segment(experimentID uuid.UUID, userID string) (Segment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seg, ok := s.segments[segmentKey{experimentID: experimentID, userID: userID}]
	return seg, ok
}

func (s *MemoryStore) CountParticipants(ctx context.Context, experimentID uuid.UUID) (map[uuid.UUID]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uuid.UUID]int64)
	for key, seg := range s.segments {
		if key.experimentID == experimentID {
			out[seg.VariantID]++
		}
	}
	return out, nil
}

func (s *MemoryStore) AggregateMetric(ctx context.Context, experimentID uuid.UUID, eventName string) (map[uuid.UUID]MetricAggregate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uuid.UUID]MetricAggregate)
	users := make(map[uuid.UUID]map[string]struct{})
	for _, ev := range s.events[experimentID] {
		if ev.EventName != eventName {
			continue
		}
		seg, ok := s.segments[segmentKey{experimentID: experimentID, userID: ev.UserID}]
		if !ok {
			continue
		}
		agg := out[seg.VariantID]
		agg.Events++
		if ev.Value != nil {
			agg.TotalValue += *ev.Value
		}
		if users[seg.VariantID] == nil {
			users[seg.VariantID] = make(map[string]struct{})
		}
		users[seg.VariantID][ev.UserID] = struct{}{}
		agg.UniqueUsers = int64(len(users[seg.VariantID]))
		out[seg.VariantID] = agg
	}
	return out, nil
}

func (s *MemoryStore) EventWindow(ctx context.Context, experimentID uuid.UUID) (first, last time.Time, ok bool, err error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ev := range s.events[experimentID] {
		if !ok || ev.Timestamp.Before(first) {
			first = ev.Timestamp
		}
		if !ok || ev.Timestamp.After(last) {
			last = ev.Timestamp
		}
		ok = true
	}
	return first, last, ok, nil
}

func (s *MemoryStore) SaveResults(ctx context.Context, r *Results) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.ExperimentID] = r.Clone()
	return nil
}

func (s *MemoryStore) LatestResults(ctx context.Context, experimentID uuid.UUID) (*Results, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[experimentID]
	if !ok {
		return nil, ErrResultsNotFound
	}
	return r.Clone(), nil
}
