package feature

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dmitrymomot/experimentkit/pkg/logger"
)

// Registry is the write path for flags. It validates input, persists it and
// invalidates cached decisions of the affected flag.
type Registry struct {
	store  Store
	cache  Cache
	logger *slog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryCache sets the cache to invalidate on writes.
func WithRegistryCache(c Cache) RegistryOption {
	return func(r *Registry) {
		if c != nil {
			r.cache = c
		}
	}
}

func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

func NewRegistry(store Store, opts ...RegistryOption) *Registry {
	if store == nil {
		panic("feature: store cannot be nil")
	}
	r := &Registry{
		store:  store,
		cache:  NoopCache{},
		logger: logger.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateFlag validates and stores a new flag. The caller's flag is not modified.
func (r *Registry) CreateFlag(ctx context.Context, f *Flag) (*Flag, error) {
	if err := ValidateFlag(f); err != nil {
		return nil, err
	}
	created := f.Clone()
	if err := r.store.CreateFlag(ctx, created); err != nil {
		return nil, err
	}
	r.invalidate(ctx, created.Name)
	r.logger.InfoContext(ctx, "feature flag created",
		logger.FlagName(created.Name),
		logger.FlagID(created.ID),
	)
	return created, nil
}

// UpdateFlag applies a partial update. An empty update is rejected with ErrInvalidConfiguration.
func (r *Registry) UpdateFlag(ctx context.Context, id uuid.UUID, u FlagUpdate) (*Flag, error) {
	if err := ValidateUpdate(u); err != nil {
		return nil, err
	}
	updated, err := r.store.UpdateFlag(ctx, id, u)
	if err != nil {
		return nil, err
	}
	r.invalidate(ctx, updated.Name)
	r.logger.InfoContext(ctx, "feature flag updated",
		logger.FlagName(updated.Name),
		logger.FlagID(updated.ID),
		slog.Int("version", updated.Version),
	)
	return updated, nil
}

// ArchiveFlag soft-deletes a flag. Later evaluations report ReasonNotFound.
func (r *Registry) ArchiveFlag(ctx context.Context, id uuid.UUID) error {
	archived, err := r.store.ArchiveFlag(ctx, id)
	if err != nil {
		return err
	}
	r.invalidate(ctx, archived.Name)
	r.logger.InfoContext(ctx, "feature flag archived",
		logger.FlagName(archived.Name),
		logger.FlagID(archived.ID),
	)
	return nil
}

func (r *Registry) GetFlag(ctx context.Context, id uuid.UUID) (*Flag, error) {
	return r.store.GetFlag(ctx, id)
}

func (r *Registry) GetFlagByName(ctx context.Context, name string) (*Flag, error) {
	return r.store.GetFlagByName(ctx, name)
}

func (r *Registry) ListFlags(ctx context.Context, includeArchived bool) ([]*Flag, error) {
	return r.store.ListFlags(ctx, includeArchived)
}

// invalidate never fails the write; cached entries expire within the cache TTL anyway.
func (r *Registry) invalidate(ctx context.Context, flagName string) {
	if err := r.cache.InvalidateFlag(ctx, flagName); err != nil {
		r.logger.WarnContext(ctx, "invalidate cached decisions",
			logger.FlagName(flagName),
			logger.Error(err),
		)
	}
}
