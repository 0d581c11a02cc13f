package feature

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Rule is a targeting rule. All enabled rules of a flag must match for the
// flag to be considered for a user; rules are checked in ascending priority.
type Rule struct {
	ID        uuid.UUID
	FlagID    uuid.UUID
	Attribute string
	Condition Condition
	Enabled   bool
	Priority  int
}

type ruleJSON struct {
	ID        uuid.UUID       `json:"id"`
	FlagID    uuid.UUID       `json:"flag_id"`
	Attribute string          `json:"attribute"`
	Operator  Operator        `json:"operator"`
	Value     json.RawMessage `json:"value"`
	Enabled   bool            `json:"enabled"`
	Priority  int             `json:"priority"`
}

// MarshalJSON encodes the condition as an operator name and a value.
func (r Rule) MarshalJSON() ([]byte, error) {
	value, err := MarshalCondition(r.Condition)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ruleJSON{
		ID:        r.ID,
		FlagID:    r.FlagID,
		Attribute: r.Attribute,
		Operator:  r.Condition.Operator(),
		Value:     value,
		Enabled:   r.Enabled,
		Priority:  r.Priority,
	})
}

// UnmarshalJSON decodes and validates the operator and value pair.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var raw ruleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cond, err := ParseCondition(raw.Operator, raw.Value)
	if err != nil {
		return fmt.Errorf("rule on %q: %w", raw.Attribute, err)
	}
	*r = Rule{
		ID:        raw.ID,
		FlagID:    raw.FlagID,
		Attribute: raw.Attribute,
		Condition: cond,
		Enabled:   raw.Enabled,
		Priority:  raw.Priority,
	}
	return nil
}
