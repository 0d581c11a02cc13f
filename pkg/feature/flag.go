package feature

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Flag is a named switch with optional weighted variants and targeting rules.
type Flag struct {
	ID                uuid.UUID  `json:"id"`
	Name              string     `json:"name"`
	Description       string     `json:"description,omitempty"`
	Enabled           bool       `json:"enabled"`
	RolloutPercentage int        `json:"rollout_percentage"`
	Version           int        `json:"version"`
	Archived          bool       `json:"archived"`
	ArchivedAt        *time.Time `json:"archived_at,omitempty"`
	CreatedBy         string     `json:"created_by,omitempty"`
	EvaluationCount   int64      `json:"evaluation_count"`
	LastEvaluatedAt   *time.Time `json:"last_evaluated_at,omitempty"`
	Variants          []Variant  `json:"variants,omitempty"`
	Rules             []Rule     `json:"rules,omitempty"`
	CreatedAt         time.Time  `json:"created_at,omitzero"`
	UpdatedAt         time.Time  `json:"updated_at,omitzero"`
}

// Variant is one weighted branch of a flag. Weights of a flag's variants do
// not have to add up to 1; the engine normalizes by the sum of enabled weights.
type Variant struct {
	ID      uuid.UUID       `json:"id"`
	FlagID  uuid.UUID       `json:"flag_id"`
	Name    string          `json:"name"`
	Weight  float64         `json:"weight"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Enabled bool            `json:"enabled"`
}

// Clone returns a deep copy of the flag.
func (f *Flag) Clone() *Flag {
	if f == nil {
		return nil
	}
	c := *f
	if f.ArchivedAt != nil {
		t := *f.ArchivedAt
		c.ArchivedAt = &t
	}
	if f.LastEvaluatedAt != nil {
		t := *f.LastEvaluatedAt
		c.LastEvaluatedAt = &t
	}
	if f.Variants != nil {
		c.Variants = make([]Variant, len(f.Variants))
		for i := range f.Variants {
			c.Variants[i] = f.Variants[i].clone()
		}
	}
	c.Rules = slices.Clone(f.Rules)
	return &c
}

func (v Variant) clone() Variant {
	v.Payload = slices.Clone(v.Payload)
	return v
}

// FlagUpdate is a partial update of a flag. Nil pointer fields are left
// untouched. A nil Variants or Rules slice keeps the current set; a non-nil
// slice, even an empty one, replaces the whole set.
type FlagUpdate struct {
	Description       *string   `json:"description,omitempty"`
	Enabled           *bool     `json:"enabled,omitempty"`
	RolloutPercentage *int      `json:"rollout_percentage,omitempty"`
	Variants          []Variant `json:"variants,omitempty"`
	Rules             []Rule    `json:"rules,omitempty"`
}

// IsEmpty reports whether the update would change nothing.
func (u FlagUpdate) IsEmpty() bool {
	return u.Description == nil && u.Enabled == nil && u.RolloutPercentage == nil &&
		u.Variants == nil && u.Rules == nil
}

// apply mutates f in place and bumps its version once.
func (u FlagUpdate) apply(f *Flag, now time.Time) {
	if u.Description != nil {
		f.Description = *u.Description
	}
	if u.Enabled != nil {
		f.Enabled = *u.Enabled
	}
	if u.RolloutPercentage != nil {
		f.RolloutPercentage = *u.RolloutPercentage
	}
	if u.Variants != nil {
		f.Variants = newVariants(f.ID, u.Variants)
	}
	if u.Rules != nil {
		f.Rules = newRules(f.ID, u.Rules)
	}
	f.Version++
	f.UpdatedAt = now
}

// prepareNew fills identifiers, version and timestamps of a flag about to be created.
func prepareNew(f *Flag, now time.Time) {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	f.Version = 1
	f.Archived = false
	f.ArchivedAt = nil
	f.EvaluationCount = 0
	f.LastEvaluatedAt = nil
	f.CreatedAt = now
	f.UpdatedAt = now
	f.Variants = newVariants(f.ID, f.Variants)
	f.Rules = newRules(f.ID, f.Rules)
}

func newVariants(flagID uuid.UUID, in []Variant) []Variant {
	out := make([]Variant, len(in))
	for i, v := range in {
		v = v.clone()
		v.ID = uuid.New()
		v.FlagID = flagID
		out[i] = v
	}
	sortVariants(out)
	return out
}

func newRules(flagID uuid.UUID, in []Rule) []Rule {
	out := make([]Rule, len(in))
	for i, r := range in {
		r.ID = uuid.New()
		r.FlagID = flagID
		out[i] = r
	}
	sortRules(out)
	return out
}

func sortVariants(vs []Variant) {
	slices.SortFunc(vs, func(a, b Variant) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
}

func sortRules(rs []Rule) {
	slices.SortStableFunc(rs, func(a, b Rule) int { return a.Priority - b.Priority })
}
