package feature

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Operator names a targeting comparison.
type Operator string

// Supported operators.
const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpIn          Operator = "in"
	OpNotIn       Operator = "not_in"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
)

// Operators lists every supported operator.
var Operators = []Operator{OpEquals, OpNotEquals, OpIn, OpNotIn, OpGreaterThan, OpLessThan, OpContains}

// Condition is a typed targeting predicate on a single context attribute.
// The set of implementations is closed; use ParseCondition or the concrete
// types below to build one.
//
// Match receives the attribute value from the evaluation context, or nil when
// the attribute is absent. Every condition fails on an absent attribute.
type Condition interface {
	Operator() Operator
	Match(attr any) bool
	value() any
	validate() error
}

// Equals matches when the attribute's string form equals Value.
type Equals struct{ Value string }

// NotEquals matches when the attribute is present and its string form differs from Value.
type NotEquals struct{ Value string }

// In matches when the attribute's string form is one of Values.
type In struct{ Values []string }

// NotIn matches when the attribute is present and its string form is none of Values.
type NotIn struct{ Values []string }

// GreaterThan matches numeric attributes strictly greater than Value.
type GreaterThan struct{ Value float64 }

// LessThan matches numeric attributes strictly less than Value.
type LessThan struct{ Value float64 }

// Contains matches string attributes containing Value as a substring, or list
// attributes holding an element equal to Value.
type Contains struct{ Value string }

func (Equals) Operator() Operator      { return OpEquals }
func (NotEquals) Operator() Operator   { return OpNotEquals }
func (In) Operator() Operator          { return OpIn }
func (NotIn) Operator() Operator       { return OpNotIn }
func (GreaterThan) Operator() Operator { return OpGreaterThan }
func (LessThan) Operator() Operator    { return OpLessThan }
func (Contains) Operator() Operator    { return OpContains }

func (c Equals) Match(attr any) bool {
	s, ok := stringValue(attr)
	return ok && s == c.Value
}

func (c NotEquals) Match(attr any) bool {
	s, ok := stringValue(attr)
	return ok && s != c.Value
}

func (c In) Match(attr any) bool {
	s, ok := stringValue(attr)
	return ok && contains(c.Values, s)
}

func (c NotIn) Match(attr any) bool {
	s, ok := stringValue(attr)
	return ok && !contains(c.Values, s)
}

func (c GreaterThan) Match(attr any) bool {
	n, ok := numberValue(attr)
	return ok && n > c.Value
}

func (c LessThan) Match(attr any) bool {
	n, ok := numberValue(attr)
	return ok && n < c.Value
}

func (c Contains) Match(attr any) bool {
	switch v := attr.(type) {
	case nil:
		return false
	case string:
		return strings.Contains(v, c.Value)
	case []string:
		return contains(v, c.Value)
	case []any:
		for _, item := range v {
			if s, ok := stringValue(item); ok && s == c.Value {
				return true
			}
		}
		return false
	}
	s, ok := stringValue(attr)
	return ok && strings.Contains(s, c.Value)
}

func (c Equals) value() any      { return c.Value }
func (c NotEquals) value() any   { return c.Value }
func (c In) value() any          { return c.Values }
func (c NotIn) value() any       { return c.Values }
func (c GreaterThan) value() any { return c.Value }
func (c LessThan) value() any    { return c.Value }
func (c Contains) value() any    { return c.Value }

func (Equals) validate() error    { return nil }
func (NotEquals) validate() error { return nil }
func (c In) validate() error      { return validateList(c.Values) }
func (c NotIn) validate() error   { return validateList(c.Values) }
func (c GreaterThan) validate() error {
	return validateNumber(c.Value)
}
func (c LessThan) validate() error { return validateNumber(c.Value) }
func (c Contains) validate() error {
	if c.Value == "" {
		return fmt.Errorf("%w: contains needs a non-empty value", ErrInvalidCondition)
	}
	return nil
}

func validateList(values []string) error {
	if len(values) == 0 {
		return fmt.Errorf("%w: list must not be empty", ErrInvalidCondition)
	}
	return nil
}

func validateNumber(v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: value must be a finite number", ErrInvalidCondition)
	}
	return nil
}

// ParseCondition builds a condition from an operator name and its JSON encoded value.
// Scalar operators accept a JSON string, number or boolean; list operators
// accept an array of them; numeric operators accept a number or a numeric string.
func ParseCondition(op Operator, raw json.RawMessage) (Condition, error) {
	var c Condition
	switch op {
	case OpEquals:
		s, err := decodeScalar(raw)
		if err != nil {
			return nil, err
		}
		c = Equals{Value: s}
	case OpNotEquals:
		s, err := decodeScalar(raw)
		if err != nil {
			return nil, err
		}
		c = NotEquals{Value: s}
	case OpIn:
		l, err := decodeList(raw)
		if err != nil {
			return nil, err
		}
		c = In{Values: l}
	case OpNotIn:
		l, err := decodeList(raw)
		if err != nil {
			return nil, err
		}
		c = NotIn{Values: l}
	case OpGreaterThan:
		n, err := decodeNumber(raw)
		if err != nil {
			return nil, err
		}
		c = GreaterThan{Value: n}
	case OpLessThan:
		n, err := decodeNumber(raw)
		if err != nil {
			return nil, err
		}
		c = LessThan{Value: n}
	case OpContains:
		s, err := decodeScalar(raw)
		if err != nil {
			return nil, err
		}
		c = Contains{Value: s}
	default:
		return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidCondition, op)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// MarshalCondition returns the JSON encoded value of a condition, the inverse of ParseCondition.
func MarshalCondition(c Condition) (json.RawMessage, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil condition", ErrInvalidCondition)
	}
	return json.Marshal(c.value())
}

// ValidateCondition reports whether c is usable for evaluation.
func ValidateCondition(c Condition) error {
	if c == nil {
		return fmt.Errorf("%w: condition is required", ErrInvalidCondition)
	}
	return c.validate()
}

func decodeScalar(raw json.RawMessage) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", errors.Join(ErrInvalidCondition, err)
	}
	switch v.(type) {
	case string, float64, bool:
		s, _ := stringValue(v)
		return s, nil
	}
	return "", fmt.Errorf("%w: expected a scalar value, got %s", ErrInvalidCondition, string(raw))
}

func decodeList(raw json.RawMessage) ([]string, error) {
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, errors.Join(ErrInvalidCondition, err)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch item.(type) {
		case string, float64, bool:
			s, _ := stringValue(item)
			out = append(out, s)
		default:
			return nil, fmt.Errorf("%w: list items must be scalars", ErrInvalidCondition)
		}
	}
	return out, nil
}

func decodeNumber(raw json.RawMessage) (float64, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, errors.Join(ErrInvalidCondition, err)
	}
	n, ok := numberValue(v)
	if !ok {
		return 0, fmt.Errorf("%w: expected a number, got %s", ErrInvalidCondition, string(raw))
	}
	return n, nil
}

// stringValue renders scalar attributes the way they are compared against rule values.
func stringValue(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, true
	case bool:
		return strconv.FormatBool(x), true
	case int:
		return strconv.Itoa(x), true
	case int32:
		return strconv.FormatInt(int64(x), 10), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint:
		return strconv.FormatUint(uint64(x), 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case json.Number:
		return x.String(), true
	case uuid.UUID:
		return x.String(), true
	case fmt.Stringer:
		return x.String(), true
	}
	return "", false
}

func numberValue(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, !math.IsNaN(x)
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil && !math.IsNaN(f)
	}
	return 0, false
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
