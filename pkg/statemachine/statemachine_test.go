package statemachine_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/experimentkit/pkg/statemachine"
)

type doc struct {
	state   string
	entered []string
}

func newMachine(t *testing.T) *statemachine.Machine[string, string, *doc] {
	t.Helper()
	record := func(d *doc, from, to string) error {
		d.entered = append(d.entered, from+">"+to)
		return nil
	}
	m, err := statemachine.NewBuilder[string, string, *doc]().
		Permit("submit", "review", "draft").
		Permit("approve", "published", "review").
		Permit("reject", "draft", "review").
		Permit("archive", "archived", "draft", "review", "published").
		OnEnter("published", record).
		OnEnter("archived", record).
		Build()
	require.NoError(t, err)
	return m
}

func TestMachine_Fire(t *testing.T) {
	t.Parallel()
	m := newMachine(t)
	d := &doc{state: "draft"}

	for _, ev := range []string{"submit", "approve", "archive"} {
		next, err := m.Fire(d, d.state, ev)
		require.NoError(t, err, ev)
		d.state = next
	}
	assert.Equal(t, "archived", d.state)
	assert.Equal(t, []string{"review>published", "published>archived"}, d.entered)
}

func TestMachine_RejectsUnknownTransitions(t *testing.T) {
	t.Parallel()
	m := newMachine(t)
	d := &doc{state: "draft"}

	next, err := m.Fire(d, "draft", "approve")
	require.Error(t, err)
	assert.True(t, statemachine.IsNoTransitionAvailableError(err))
	assert.Empty(t, next)
	assert.Empty(t, d.entered)

	_, err = m.Next("archived", "submit")
	assert.True(t, statemachine.IsNoTransitionAvailableError(err))
	assert.Contains(t, err.Error(), "'archived'")

	_, err = m.Next("draft", "unknown")
	assert.True(t, statemachine.IsNoTransitionAvailableError(err))
}

func TestMachine_CanFireAndEvents(t *testing.T) {
	t.Parallel()
	m := newMachine(t)

	assert.True(t, m.CanFire("review", "reject"))
	assert.False(t, m.CanFire("published", "reject"))
	assert.Equal(t, []string{"approve", "reject", "archive"}, m.Events("review"))
	assert.Equal(t, []string{"submit", "archive"}, m.Events("draft"))
	assert.Empty(t, m.Events("archived"))
	assert.Empty(t, m.Events("missing"))
}

func TestMachine_ActionErrorAbortsTransition(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	m := statemachine.NewBuilder[string, string, *doc]().
		Permit("go", "b", "a").
		OnEnter("b", func(*doc, string, string) error { return boom }).
		MustBuild()

	next, err := m.Fire(&doc{}, "a", "go")
	require.ErrorIs(t, err, boom)
	assert.Empty(t, next)
}

func TestBuilder_InvalidDefinitions(t *testing.T) {
	t.Parallel()

	_, err := statemachine.NewBuilder[string, string, any]().
		Permit("go", "b").
		Build()
	require.ErrorIs(t, err, statemachine.ErrInvalidDefinition)

	_, err = statemachine.NewBuilder[string, string, any]().
		Permit("go", "b", "a").
		Permit("go", "c", "a").
		Build()
	require.ErrorIs(t, err, statemachine.ErrInvalidDefinition)

	_, err = statemachine.NewBuilder[string, string, any]().
		Permit("go", "b", "a").
		Permit("go", "b", "a", "c").
		Build()
	require.NoError(t, err, "repeating an identical transition is allowed")

	assert.Panics(t, func() {
		statemachine.NewBuilder[string, string, any]().Permit("go", "b").MustBuild()
	})
}

func BenchmarkMachine_Fire(b *testing.B) {
	m := statemachine.NewBuilder[string, string, *doc]().
		Permit("submit", "review", "draft").
		OnEnter("review", func(*doc, string, string) error { return nil }).
		MustBuild()
	d := &doc{}
	for b.Loop() {
		_, _ = m.Fire(d, "draft", "submit")
	}
}
