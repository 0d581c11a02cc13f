package feature

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// FlagReader is the read path used by the evaluation engine.
type FlagReader interface {
	// GetFlagByName returns the active flag with the given name or ErrFlagNotFound.
	GetFlagByName(ctx context.Context, name string) (*Flag, error)
}

// UsageSink persists aggregated evaluation counters.
type UsageSink interface {
	RecordEvaluations(ctx context.Context, counts []EvaluationCount) error
}

// Store persists flags together with their variants and rules.
// Implementations must apply each write atomically.
type Store interface {
	FlagReader
	UsageSink

	// GetFlag returns a flag by ID, archived or not.
	GetFlag(ctx context.Context, id uuid.UUID) (*Flag, error)
	// ListFlags returns flags ordered by name.
	ListFlags(ctx context.Context, includeArchived bool) ([]*Flag, error)
	// CreateFlag assigns identifiers and timestamps, sets the version to 1
	// and stores the flag. Returns ErrFlagExists when an active flag has the same name.
	CreateFlag(ctx context.Context, f *Flag) error
	// UpdateFlag applies a partial update and increments the version by one.
	// Archived flags are reported as ErrFlagNotFound.
	UpdateFlag(ctx context.Context, id uuid.UUID, u FlagUpdate) (*Flag, error)
	// ArchiveFlag soft-deletes an active flag and returns its final state.
	ArchiveFlag(ctx context.Context, id uuid.UUID) (*Flag, error)
}

// EvaluationCount is an aggregated evaluation counter for one flag.
type EvaluationCount struct {
	FlagID          uuid.UUID
	Count           int64
	LastEvaluatedAt time.Time
}
