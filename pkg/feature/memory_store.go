package feature

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and single-process deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	flags  map[uuid.UUID]*Flag
	active map[string]uuid.UUID
	now    func() time.Time
}

// NewMemoryStore creates an empty store, optionally seeded with flags.
func NewMemoryStore(initial ...*Flag) (*MemoryStore, error) {
	s := &MemoryStore{
		flags:  make(map[uuid.UUID]*Flag),
		active: make(map[string]uuid.UUID),
		now:    time.Now,
	}
	for _, f := range initial {
		if err := ValidateFlag(f); err != nil {
			return nil, err
		}
		if err := s.CreateFlag(context.Background(), f); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *MemoryStore) GetFlagByName(ctx context.Context, name string) (*Flag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.active[name]
	if !ok {
		return nil, ErrFlagNotFound
	}
	return s.flags[id].Clone(), nil
}

func (s *MemoryStore) GetFlag(ctx context.Context, id uuid.UUID) (*Flag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.flags[id]
	if !ok {
		return nil, ErrFlagNotFound
	}
	return f.Clone(), nil
}

func (s *MemoryStore) ListFlags(ctx context.Context, includeArchived bool) ([]*Flag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Flag, 0, len(s.flags))
	for _, f := range s.flags {
		if f.Archived && !includeArchived {
			continue
		}
		out = append(out, f.Clone())
	}
	slices.SortFunc(out, func(a, b *Flag) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

// CreateFlag stores a copy of f; f itself receives the generated fields.
func (s *MemoryStore) CreateFlag(ctx context.Context, f *Flag) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[f.Name]; ok {
		return ErrFlagExists
	}
	prepareNew(f, s.now())
	s.flags[f.ID] = f.Clone()
	s.active[f.Name] = f.ID
	return nil
}

func (s *MemoryStore) UpdateFlag(ctx context.Context, id uuid.UUID, u FlagUpdate) (*Flag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flags[id]
	if !ok || f.Archived {
		return nil, ErrFlagNotFound
	}
	next := f.Clone()
	u.apply(next, s.now())
	s.flags[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) ArchiveFlag(ctx context.Context, id uuid.UUID) (*Flag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flags[id]
	if !ok || f.Archived {
		return nil, ErrFlagNotFound
	}
	now := s.now()
	next := f.Clone()
	next.Archived = true
	next.ArchivedAt = &now
	next.UpdatedAt = now
	s.flags[id] = next
	delete(s.active, next.Name)
	return next.Clone(), nil
}

func (s *MemoryStore) RecordEvaluations(ctx context.Context, counts []EvaluationCount) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range counts {
		f, ok := s.flags[c.FlagID]
		if !ok {
			continue
		}
		f.EvaluationCount += c.Count
		if f.LastEvaluatedAt == nil || c.LastEvaluatedAt.After(*f.LastEvaluatedAt) {
			t := c.LastEvaluatedAt
			f.LastEvaluatedAt = &t
		}
	}
	return nil
}
