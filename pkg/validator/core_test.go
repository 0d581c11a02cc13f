package validator_test

import (
	"errors"
	"math"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/experimentkit/pkg/validator"
)

func TestApply(t *testing.T) {
	t.Parallel()

	t.Run("no failures returns nil", func(t *testing.T) {
		t.Parallel()
		err := validator.Apply(
			validator.Required("name", "checkout"),
			validator.Between("rollout", 50, 0, 100),
		)
		assert.NoError(t, err)
	})

	t.Run("collects every failure in order", func(t *testing.T) {
		t.Parallel()
		err := validator.Apply(
			validator.Required("name", "  "),
			validator.Between("rollout", 150, 0, 100),
			validator.MaxLen("description", "short", 100),
		)
		require.Error(t, err)

		verrs := validator.ExtractValidationErrors(err)
		require.Len(t, verrs, 2)
		assert.Equal(t, []string{"name", "rollout"}, verrs.Fields())
		assert.True(t, verrs.Has("rollout"))
		assert.False(t, verrs.Has("description"))
		assert.Contains(t, err.Error(), "rollout: must be between 0 and 100")
	})
}

func TestRules(t *testing.T) {
	t.Parallel()

	name := regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

	tests := []struct {
		name string
		rule validator.Rule
		ok   bool
	}{
		{"max len within", validator.MaxLen("f", "héllo", 5), true},
		{"max len over", validator.MaxLen("f", "hello!", 5), false},
		{"regex match", validator.MatchesRegex("f", "new_checkout", name, "snake case"), true},
		{"regex mismatch", validator.MatchesRegex("f", "New Checkout", name, "snake case"), false},
		{"regex skips empty", validator.MatchesRegex("f", "", name, "snake case"), true},
		{"between float edge", validator.Between("f", 1.0, 0.0, 1.0), true},
		{"between rejects NaN", validator.Between("f", math.NaN(), 0.0, 1.0), false},
		{"exclusive lower edge", validator.BetweenExclusive("f", 0.0, 0.0, 1.0), false},
		{"exclusive inside", validator.BetweenExclusive("f", 0.95, 0.0, 1.0), true},
		{"required slice empty", validator.RequiredSlice[int]("f", nil), false},
		{"unique", validator.Unique("f", []string{"a", "b"}), true},
		{"duplicate", validator.Unique("f", []string{"a", "b", "a"}), false},
		{"in list", validator.InList("f", "count", []string{"sum", "count"}), true},
		{"not in list", validator.InList("f", "median", []string{"sum", "count"}), false},
		{"check false", validator.Check("f", false, "nope"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.ok, validator.Apply(tt.rule) == nil)
		})
	}
}

func TestMergeAndPrefix(t *testing.T) {
	t.Parallel()

	first := validator.Apply(validator.Required("name", ""))
	second := validator.Prefix("variants[1]", validator.Apply(validator.Required("name", "")))

	err := validator.Merge(first, nil, second, errors.New("boom"))
	verrs := validator.ExtractValidationErrors(err)
	require.Len(t, verrs, 3)
	assert.Equal(t, "name", verrs[0].Field)
	assert.Equal(t, "variants[1].name", verrs[1].Field)
	assert.Equal(t, "boom", verrs[2].Message)

	assert.NoError(t, validator.Merge(nil, nil))
	assert.False(t, validator.IsValidationError(errors.New("plain")))

	sentinel := errors.New("invalid configuration")
	wrapped := errors.Join(sentinel, err)
	assert.ErrorIs(t, wrapped, sentinel)
	assert.True(t, validator.IsValidationError(wrapped))
}
