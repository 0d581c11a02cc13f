package feature_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/experimentkit/pkg/feature"
	"github.com/dmitrymomot/experimentkit/pkg/pg"
	"github.com/dmitrymomot/experimentkit/svc/experimentation/migrations"
)

func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("EXPERIMENTKIT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("EXPERIMENTKIT_TEST_DATABASE_URL is not set")
	}
	ctx := context.Background()
	cfg := pg.Config{ConnectionString: url, RetryAttempts: 1, MigrationsTable: "experimentkit_migrations"}
	pool, err := pg.Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, pg.Migrate(ctx, pool, migrations.FS, ".", cfg, nil))
	return pool
}

func TestPostgresStore(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()
	store := feature.NewPostgresStore(pool)
	name := "pg_" + uuid.NewString()[:8]

	in := splitFlag(name, 40)
	in.Rules = []feature.Rule{
		{Attribute: "country", Condition: feature.In{Values: []string{"DE", "FR"}}, Enabled: true, Priority: 2},
		{Attribute: "seats", Condition: feature.GreaterThan{Value: 3}, Enabled: true, Priority: 1},
	}
	require.NoError(t, store.CreateFlag(ctx, in))
	assert.Equal(t, 1, in.Version)
	assert.ErrorIs(t, store.CreateFlag(ctx, &feature.Flag{Name: name}), feature.ErrFlagExists)

	got, err := store.GetFlagByName(ctx, name)
	require.NoError(t, err)
	require.Len(t, got.Variants, 2)
	assert.Equal(t, "control", got.Variants[0].Name)
	assert.JSONEq(t, `{"color":"green"}`, string(got.Variants[1].Payload))
	require.Len(t, got.Rules, 2)
	assert.Equal(t, "seats", got.Rules[0].Attribute, "rules come back in priority order")
	assert.Equal(t, feature.In{Values: []string{"DE", "FR"}}, got.Rules[1].Condition)

	updated, err := store.UpdateFlag(ctx, in.ID, feature.FlagUpdate{
		RolloutPercentage: ptr(90),
		Variants:          []feature.Variant{{Name: "only", Weight: 1, Enabled: true, Payload: json.RawMessage(`[1,2]`)}},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, 90, updated.RolloutPercentage)
	require.Len(t, updated.Variants, 1)
	assert.Len(t, updated.Rules, 2)

	now := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, store.RecordEvaluations(ctx, []feature.EvaluationCount{{FlagID: in.ID, Count: 4, LastEvaluatedAt: now}}))

	archived, err := store.ArchiveFlag(ctx, in.ID)
	require.NoError(t, err)
	assert.True(t, archived.Archived)
	assert.Equal(t, int64(4), archived.EvaluationCount)

	_, err = store.GetFlagByName(ctx, name)
	assert.ErrorIs(t, err, feature.ErrFlagNotFound)
	_, err = store.UpdateFlag(ctx, in.ID, feature.FlagUpdate{Enabled: ptr(true)})
	assert.ErrorIs(t, err, feature.ErrFlagNotFound)

	reused := &feature.Flag{Name: name}
	require.NoError(t, store.CreateFlag(ctx, reused), "archived names can be reused")
}
