package feature_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/experimentkit/pkg/feature"
	"github.com/dmitrymomot/experimentkit/pkg/validator"
)

func ptr[T any](v T) *T { return &v }

func newRegistry(t *testing.T) (*feature.Registry, *feature.MemoryStore, *feature.MemoryCache) {
	t.Helper()
	store, err := feature.NewMemoryStore()
	require.NoError(t, err)
	cache := feature.NewMemoryCache(100)
	return feature.NewRegistry(store, feature.WithRegistryCache(cache)), store, cache
}

func TestRegistry_CreateFlag(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("assigns identity and version", func(t *testing.T) {
		t.Parallel()
		reg, _, _ := newRegistry(t)

		in := splitFlag("new_checkout", 50)
		in.ID = uuid.Nil
		created, err := reg.CreateFlag(ctx, in)
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, created.ID)
		assert.Equal(t, 1, created.Version)
		assert.False(t, created.CreatedAt.IsZero())
		assert.Equal(t, uuid.Nil, in.ID, "input must not be modified")
		require.Len(t, created.Variants, 2)
		assert.Equal(t, "control", created.Variants[0].Name, "variants are kept in name order")
		for _, v := range created.Variants {
			assert.Equal(t, created.ID, v.FlagID)
			assert.NotEqual(t, uuid.Nil, v.ID)
		}

		got, err := reg.GetFlagByName(ctx, "new_checkout")
		require.NoError(t, err)
		assert.Equal(t, created, got)
	})

	t.Run("duplicate active name", func(t *testing.T) {
		t.Parallel()
		reg, _, _ := newRegistry(t)

		_, err := reg.CreateFlag(ctx, &feature.Flag{Name: "dup", RolloutPercentage: 10})
		require.NoError(t, err)
		_, err = reg.CreateFlag(ctx, &feature.Flag{Name: "dup", RolloutPercentage: 20})
		assert.ErrorIs(t, err, feature.ErrFlagExists)
	})

	t.Run("validation", func(t *testing.T) {
		t.Parallel()
		reg, _, _ := newRegistry(t)

		_, err := reg.CreateFlag(ctx, &feature.Flag{
			Name:              "bad name!",
			RolloutPercentage: 120,
			Variants: []feature.Variant{
				{Name: "a", Weight: 1.5},
				{Name: "a", Weight: 0.5, Payload: json.RawMessage(`{broken`)},
			},
			Rules: []feature.Rule{{Attribute: "", Condition: feature.In{}}},
		})
		require.ErrorIs(t, err, feature.ErrInvalidConfiguration)

		verrs := validator.ExtractValidationErrors(err)
		require.NotNil(t, verrs)
		for _, field := range []string{
			"name",
			"rollout_percentage",
			"variants[0].weight",
			"variants[1].payload",
			"variants",
			"rules[0].attribute",
			"rules[0].condition",
		} {
			assert.True(t, verrs.Has(field), "expected error on %s", field)
		}
	})
}

func TestRegistry_UpdateFlag(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("partial update bumps version once", func(t *testing.T) {
		t.Parallel()
		reg, _, _ := newRegistry(t)
		created, err := reg.CreateFlag(ctx, splitFlag("upd", 10))
		require.NoError(t, err)

		updated, err := reg.UpdateFlag(ctx, created.ID, feature.FlagUpdate{
			RolloutPercentage: ptr(80),
			Description:       ptr("wider"),
		})
		require.NoError(t, err)
		assert.Equal(t, 2, updated.Version)
		assert.Equal(t, 80, updated.RolloutPercentage)
		assert.Equal(t, "wider", updated.Description)
		assert.True(t, updated.Enabled)
		assert.Len(t, updated.Variants, 2, "variants untouched")
	})

	t.Run("replaces variants and rules wholesale", func(t *testing.T) {
		t.Parallel()
		reg, _, _ := newRegistry(t)
		in := splitFlag("replace", 100)
		in.Rules = []feature.Rule{{Attribute: "plan", Condition: feature.Equals{Value: "pro"}, Enabled: true}}
		created, err := reg.CreateFlag(ctx, in)
		require.NoError(t, err)

		updated, err := reg.UpdateFlag(ctx, created.ID, feature.FlagUpdate{
			Variants: []feature.Variant{{Name: "solo", Weight: 1, Enabled: true}},
			Rules:    []feature.Rule{},
		})
		require.NoError(t, err)
		require.Len(t, updated.Variants, 1)
		assert.Equal(t, "solo", updated.Variants[0].Name)
		assert.Empty(t, updated.Rules)
	})

	t.Run("empty update", func(t *testing.T) {
		t.Parallel()
		reg, _, _ := newRegistry(t)
		created, err := reg.CreateFlag(ctx, &feature.Flag{Name: "empty"})
		require.NoError(t, err)

		_, err = reg.UpdateFlag(ctx, created.ID, feature.FlagUpdate{})
		assert.ErrorIs(t, err, feature.ErrInvalidConfiguration)
	})

	t.Run("invalid rollout", func(t *testing.T) {
		t.Parallel()
		reg, _, _ := newRegistry(t)
		created, err := reg.CreateFlag(ctx, &feature.Flag{Name: "range"})
		require.NoError(t, err)

		_, err = reg.UpdateFlag(ctx, created.ID, feature.FlagUpdate{RolloutPercentage: ptr(-1)})
		assert.ErrorIs(t, err, feature.ErrInvalidConfiguration)
	})

	t.Run("unknown flag", func(t *testing.T) {
		t.Parallel()
		reg, _, _ := newRegistry(t)
		_, err := reg.UpdateFlag(ctx, uuid.New(), feature.FlagUpdate{Enabled: ptr(true)})
		assert.ErrorIs(t, err, feature.ErrFlagNotFound)
	})
}

func TestRegistry_ArchiveFlag(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg, _, _ := newRegistry(t)

	created, err := reg.CreateFlag(ctx, &feature.Flag{Name: "old", Enabled: true, RolloutPercentage: 100})
	require.NoError(t, err)
	require.NoError(t, reg.ArchiveFlag(ctx, created.ID))

	_, err = reg.GetFlagByName(ctx, "old")
	assert.ErrorIs(t, err, feature.ErrFlagNotFound)

	archived, err := reg.GetFlag(ctx, created.ID)
	require.NoError(t, err)
	assert.True(t, archived.Archived)
	require.NotNil(t, archived.ArchivedAt)

	assert.ErrorIs(t, reg.ArchiveFlag(ctx, created.ID), feature.ErrFlagNotFound)
	_, err = reg.UpdateFlag(ctx, created.ID, feature.FlagUpdate{Enabled: ptr(false)})
	assert.ErrorIs(t, err, feature.ErrFlagNotFound)

	// The name is free again once archived.
	_, err = reg.CreateFlag(ctx, &feature.Flag{Name: "old"})
	require.NoError(t, err)

	active, err := reg.ListFlags(ctx, false)
	require.NoError(t, err)
	assert.Len(t, active, 1)
	all, err := reg.ListFlags(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRegistry_WritesInvalidateCachedDecisions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg, store, cache := newRegistry(t)
	engine := feature.NewEngine(store, feature.WithCache(cache))

	created, err := reg.CreateFlag(ctx, &feature.Flag{Name: "kill_switch", Enabled: true, RolloutPercentage: 100})
	require.NoError(t, err)

	first := engine.Evaluate(ctx, "kill_switch", "user-1", nil)
	require.True(t, first.Enabled)
	cached := engine.Evaluate(ctx, "kill_switch", "user-1", nil)
	require.True(t, cached.CacheHit)

	_, err = reg.UpdateFlag(ctx, created.ID, feature.FlagUpdate{Enabled: ptr(false)})
	require.NoError(t, err)

	after := engine.Evaluate(ctx, "kill_switch", "user-1", nil)
	assert.False(t, after.CacheHit)
	assert.False(t, after.Enabled)
	assert.Equal(t, feature.ReasonFlagDisabled, after.Reason)

	require.NoError(t, reg.ArchiveFlag(ctx, created.ID))
	gone := engine.Evaluate(ctx, "kill_switch", "user-1", nil)
	assert.Equal(t, feature.ReasonNotFound, gone.Reason)
}

func TestMemoryStore_RecordEvaluations(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, err := feature.NewMemoryStore(&feature.Flag{Name: "counted"})
	require.NoError(t, err)

	f, err := store.GetFlagByName(ctx, "counted")
	require.NoError(t, err)

	later := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	earlier := later.Add(-time.Hour)
	require.NoError(t, store.RecordEvaluations(ctx, []feature.EvaluationCount{
		{FlagID: f.ID, Count: 3, LastEvaluatedAt: later},
		{FlagID: f.ID, Count: 2, LastEvaluatedAt: earlier},
		{FlagID: uuid.New(), Count: 7, LastEvaluatedAt: later},
	}))

	f, err = store.GetFlag(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), f.EvaluationCount)
	require.NotNil(t, f.LastEvaluatedAt)
	assert.True(t, later.Equal(*f.LastEvaluatedAt))
}

func TestMemoryStore_RejectsInvalidSeed(t *testing.T) {
	t.Parallel()
	_, err := feature.NewMemoryStore(&feature.Flag{Name: ""})
	assert.ErrorIs(t, err, feature.ErrInvalidConfiguration)
}
