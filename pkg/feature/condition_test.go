package feature_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/experimentkit/pkg/feature"
)

func TestConditionMatch(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cond feature.Condition
		attr any
		want bool
	}{
		{"equals string", feature.Equals{Value: "DE"}, "DE", true},
		{"equals is case sensitive", feature.Equals{Value: "DE"}, "de", false},
		{"equals number", feature.Equals{Value: "5"}, 5, true},
		{"equals bool", feature.Equals{Value: "true"}, true, true},
		{"equals missing", feature.Equals{Value: ""}, nil, false},
		{"not equals", feature.NotEquals{Value: "free"}, "pro", true},
		{"not equals same", feature.NotEquals{Value: "free"}, "free", false},
		{"not equals missing", feature.NotEquals{Value: "free"}, nil, false},
		{"in", feature.In{Values: []string{"US", "CA"}}, "CA", true},
		{"in miss", feature.In{Values: []string{"US", "CA"}}, "MX", false},
		{"not in", feature.NotIn{Values: []string{"US", "CA"}}, "MX", true},
		{"not in hit", feature.NotIn{Values: []string{"US", "CA"}}, "US", false},
		{"not in missing", feature.NotIn{Values: []string{"US"}}, nil, false},
		{"greater int", feature.GreaterThan{Value: 3}, 4, true},
		{"greater equal", feature.GreaterThan{Value: 3}, 3, false},
		{"greater numeric string", feature.GreaterThan{Value: 3}, "3.5", true},
		{"greater json number", feature.GreaterThan{Value: 3}, json.Number("7"), true},
		{"greater non numeric", feature.GreaterThan{Value: 3}, "many", false},
		{"less float", feature.LessThan{Value: 18}, 17.9, true},
		{"less equal", feature.LessThan{Value: 18}, 18, false},
		{"less missing", feature.LessThan{Value: 18}, nil, false},
		{"contains substring", feature.Contains{Value: "@acme.com"}, "jane@acme.com", true},
		{"contains substring miss", feature.Contains{Value: "@acme.com"}, "jane@other.io", false},
		{"contains string list", feature.Contains{Value: "beta"}, []string{"alpha", "beta"}, true},
		{"contains any list", feature.Contains{Value: "2"}, []any{1, 2.0, "x"}, true},
		{"contains list miss", feature.Contains{Value: "gamma"}, []any{"alpha", "beta"}, false},
		{"contains missing", feature.Contains{Value: "x"}, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.cond.Match(tt.attr))
		})
	}
}

func TestParseCondition(t *testing.T) {
	t.Parallel()

	t.Run("valid values", func(t *testing.T) {
		t.Parallel()
		tests := []struct {
			op   feature.Operator
			raw  string
			want feature.Condition
		}{
			{feature.OpEquals, `"pro"`, feature.Equals{Value: "pro"}},
			{feature.OpEquals, `5`, feature.Equals{Value: "5"}},
			{feature.OpNotEquals, `false`, feature.NotEquals{Value: "false"}},
			{feature.OpIn, `["US", 1]`, feature.In{Values: []string{"US", "1"}}},
			{feature.OpNotIn, `["free"]`, feature.NotIn{Values: []string{"free"}}},
			{feature.OpGreaterThan, `10`, feature.GreaterThan{Value: 10}},
			{feature.OpLessThan, `"2.5"`, feature.LessThan{Value: 2.5}},
			{feature.OpContains, `"@acme.com"`, feature.Contains{Value: "@acme.com"}},
		}
		for _, tt := range tests {
			got, err := feature.ParseCondition(tt.op, json.RawMessage(tt.raw))
			require.NoError(t, err, "%s %s", tt.op, tt.raw)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.op, got.Operator())
		}
	})

	t.Run("invalid values", func(t *testing.T) {
		t.Parallel()
		tests := []struct {
			op  feature.Operator
			raw string
		}{
			{"regex", `"x"`},
			{feature.OpEquals, `["a"]`},
			{feature.OpEquals, `{"a":1}`},
			{feature.OpIn, `"US"`},
			{feature.OpIn, `[]`},
			{feature.OpNotIn, `[["nested"]]`},
			{feature.OpGreaterThan, `"many"`},
			{feature.OpLessThan, `true`},
			{feature.OpContains, `""`},
			{feature.OpEquals, `not json`},
		}
		for _, tt := range tests {
			_, err := feature.ParseCondition(tt.op, json.RawMessage(tt.raw))
			assert.ErrorIs(t, err, feature.ErrInvalidCondition, "%s %s", tt.op, tt.raw)
		}
	})

	t.Run("marshal is the inverse of parse", func(t *testing.T) {
		t.Parallel()
		for _, c := range []feature.Condition{
			feature.Equals{Value: "pro"},
			feature.In{Values: []string{"US", "CA"}},
			feature.GreaterThan{Value: 2.5},
			feature.Contains{Value: "beta"},
		} {
			raw, err := feature.MarshalCondition(c)
			require.NoError(t, err)
			back, err := feature.ParseCondition(c.Operator(), raw)
			require.NoError(t, err)
			assert.Equal(t, c, back)
		}
	})
}

func TestRuleJSON(t *testing.T) {
	t.Parallel()

	in := feature.Rule{Attribute: "seats", Condition: feature.GreaterThan{Value: 3}, Enabled: true, Priority: 2}
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"operator":"greater_than"`)
	assert.Contains(t, string(raw), `"value":3`)

	var out feature.Rule
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in, out)

	err = json.Unmarshal([]byte(`{"attribute":"plan","operator":"matches","value":"x"}`), &out)
	assert.ErrorIs(t, err, feature.ErrInvalidCondition)
}
