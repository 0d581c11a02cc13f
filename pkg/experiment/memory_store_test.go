package experiment_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/experimentkit/pkg/experiment"
)

func TestMemoryStore_Experiments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := experiment.NewMemoryStore()

	exp := validExperiment()
	require.NoError(t, store.CreateExperiment(ctx, exp))
	assert.NotEqual(t, uuid.Nil, exp.ID)
	assert.Equal(t, experiment.StatusDraft, exp.Status)
	assert.InDelta(t, experiment.DefaultPower, exp.Power, 1e-12)
	assert.InDelta(t, experiment.DefaultConfidenceLevel, exp.ConfidenceLevel, 1e-12)
	assert.InDelta(t, experiment.DefaultMinimumDetectableEffect, exp.MinimumDetectableEffect, 1e-12)
	assert.Equal(t, "annual_first", exp.Variants[0].Name, "variants are kept in name order")
	assert.True(t, exp.Metrics[0].IsPrimary, "primary metric comes first")
	for _, v := range exp.Variants {
		assert.Equal(t, exp.ID, v.ExperimentID)
	}

	got, err := store.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, exp, got)

	got.Variants[0].Name = "mutated"
	again, err := store.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, "annual_first", again.Variants[0].Name, "reads return copies")

	_, err = store.GetExperiment(ctx, uuid.New())
	require.ErrorIs(t, err, experiment.ErrExperimentNotFound)

	require.ErrorIs(t, store.CreateExperiment(ctx, exp), experiment.ErrInvalidExperiment, "duplicate id")
}

func TestMemoryStore_ListExperiments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := experiment.NewMemoryStore()

	flagA, flagB := uuid.New(), uuid.New()
	first := &experiment.Experiment{Name: "first", FlagID: flagA}
	second := &experiment.Experiment{Name: "second", FlagID: flagA}
	other := &experiment.Experiment{Name: "other", FlagID: flagB}
	for _, e := range []*experiment.Experiment{first, second, other} {
		require.NoError(t, store.CreateExperiment(ctx, e))
	}
	_, err := store.UpdateExperiment(ctx, second.ID, func(e *experiment.Experiment) error {
		return experiment.Transition(e, experiment.ActionStart, time.Now())
	})
	require.NoError(t, err)

	all, err := store.ListExperiments(ctx, experiment.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byFlag, err := store.ListExperiments(ctx, experiment.ListFilter{FlagID: flagA})
	require.NoError(t, err)
	assert.Len(t, byFlag, 2)

	running, err := store.ListExperiments(ctx, experiment.ListFilter{FlagID: flagA, Status: []experiment.Status{experiment.StatusRunning}})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, second.ID, running[0].ID)
}

func TestMemoryStore_UpdateExperiment(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := experiment.NewMemoryStore()
	exp := validExperiment()
	require.NoError(t, store.CreateExperiment(ctx, exp))

	updated, err := store.UpdateExperiment(ctx, exp.ID, func(e *experiment.Experiment) error {
		e.Name = "renamed"
		e.Variants = nil
		return experiment.Transition(e, experiment.ActionStart, time.Now())
	})
	require.NoError(t, err)
	assert.Equal(t, experiment.StatusRunning, updated.Status)
	assert.Equal(t, exp.Name, updated.Name, "only lifecycle fields change")
	assert.Len(t, updated.Variants, 2)

	_, err = store.UpdateExperiment(ctx, exp.ID, func(e *experiment.Experiment) error {
		return experiment.Transition(e, experiment.ActionStart, time.Now())
	})
	require.ErrorIs(t, err, experiment.ErrInvalidTransition)

	got, err := store.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Equal(t, experiment.StatusRunning, got.Status, "failed mutation is not persisted")

	_, err = store.UpdateExperiment(ctx, uuid.New(), func(*experiment.Experiment) error { return nil })
	require.ErrorIs(t, err, experiment.ErrExperimentNotFound)
}

func TestMemoryStore_Events(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := experiment.NewMemoryStore()
	exp := newCheckoutExperiment(t, store)
	control, treatment := exp.VariantByName("control"), exp.VariantByName("treatment")

	event := func(user string, v *experiment.Variant, name string, at time.Time, value float64) experiment.Event {
		return experiment.Event{
			UserID: user, ExperimentID: exp.ID, VariantID: v.ID,
			EventName: name, EventType: experiment.EventMetric, Value: &value, Timestamp: at,
		}
	}

	t.Run("rejects the whole batch on a foreign variant", func(t *testing.T) {
		err := store.RecordEvents(ctx, []experiment.Event{
			event("u1", control, "purchase", baseTime, 1),
			{UserID: "u2", ExperimentID: exp.ID, VariantID: uuid.New(), EventName: "purchase", EventType: experiment.EventMetric, Timestamp: baseTime},
		})
		require.ErrorIs(t, err, experiment.ErrInvalidEvent)

		_, ok := store.Segment(exp.ID, "u1")
		assert.False(t, ok)
		_, _, hasEvents, err := store.EventWindow(ctx, exp.ID)
		require.NoError(t, err)
		assert.False(t, hasEvents)
	})

	t.Run("unknown experiment", func(t *testing.T) {
		ev := event("u1", control, "purchase", baseTime, 1)
		ev.ExperimentID = uuid.New()
		require.ErrorIs(t, store.RecordEvents(ctx, []experiment.Event{ev}), experiment.ErrExperimentNotFound)
	})

	t.Run("segments are sticky", func(t *testing.T) {
		require.NoError(t, store.RecordEvents(ctx, []experiment.Event{
			event("u1", control, "exposure", baseTime, 0),
			event("u2", treatment, "exposure", baseTime.Add(time.Hour), 0),
			event("u1", control, "purchase", baseTime.Add(2*time.Hour), 20),
			// u1 already belongs to control; this event is attributed there.
			event("u1", treatment, "purchase", baseTime.Add(3*time.Hour), 5),
			event("u2", treatment, "purchase", baseTime.Add(4*time.Hour), 7),
		}))

		seg, ok := store.Segment(exp.ID, "u1")
		require.True(t, ok)
		assert.Equal(t, control.ID, seg.VariantID)
		assert.Equal(t, baseTime, seg.AssignedAt)

		participants, err := store.CountParticipants(ctx, exp.ID)
		require.NoError(t, err)
		assert.Equal(t, map[uuid.UUID]int64{control.ID: 1, treatment.ID: 1}, participants)

		agg, err := store.AggregateMetric(ctx, exp.ID, "purchase")
		require.NoError(t, err)
		assert.Equal(t, experiment.MetricAggregate{Events: 2, TotalValue: 25, UniqueUsers: 1}, agg[control.ID])
		assert.Equal(t, experiment.MetricAggregate{Events: 1, TotalValue: 7, UniqueUsers: 1}, agg[treatment.ID])

		first, last, ok, err := store.EventWindow(ctx, exp.ID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, baseTime, first)
		assert.Equal(t, baseTime.Add(4*time.Hour), last)
	})
}

func TestMemoryStore_Results(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := experiment.NewMemoryStore()
	id := uuid.New()

	_, err := store.LatestResults(ctx, id)
	require.ErrorIs(t, err, experiment.ErrResultsNotFound)

	res := &experiment.Results{ExperimentID: id, Recommendations: []string{"first"}, GeneratedAt: baseTime}
	require.NoError(t, store.SaveResults(ctx, res))
	res.Recommendations[0] = "mutated"

	got, err := store.LatestResults(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"first"}, got.Recommendations)

	require.NoError(t, store.SaveResults(ctx, &experiment.Results{ExperimentID: id, GeneratedAt: baseTime.Add(time.Hour)}))
	got, err = store.LatestResults(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, baseTime.Add(time.Hour), got.GeneratedAt, "results are replaced")
}
