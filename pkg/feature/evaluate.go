package feature

import (
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// Reason explains how an evaluation reached its decision.
type Reason string

// Evaluation reasons.
const (
	ReasonNotFound            Reason = "not_found"
	ReasonFlagDisabled        Reason = "flag_disabled"
	ReasonTargetingRuleFailed Reason = "targeting_rule_failed"
	ReasonRolloutExcluded     Reason = "rollout_excluded"
	ReasonVariantAssigned     Reason = "variant_assigned"
	ReasonEnabledNoVariant    Reason = "enabled_no_variant"
	ReasonEvaluationError     Reason = "evaluation_error"
)

const (
	rolloutBuckets = 100
	variantBuckets = 10000
)

// Decision is the cacheable part of an evaluation.
type Decision struct {
	FlagID  uuid.UUID `json:"flag_id"`
	Enabled bool      `json:"enabled"`
	Variant *Variant  `json:"variant,omitempty"`
	Reason  Reason    `json:"reason"`
}

// clone copies the variant so callers cannot mutate cached state.
func (d Decision) clone() Decision {
	if d.Variant != nil {
		v := d.Variant.clone()
		d.Variant = &v
	}
	return d
}

// VariantName returns the assigned variant's name or an empty string.
func (d Decision) VariantName() string {
	if d.Variant == nil {
		return ""
	}
	return d.Variant.Name
}

// RolloutBucket maps a user to a stable bucket in [0, 100).
// A user is inside a rollout of p percent when the bucket is below p, so
// raising the percentage only ever adds users.
func RolloutBucket(userID string) int {
	return int(xxhash.Sum64String(userID) % rolloutBuckets)
}

// VariantBucket maps a user to a stable bucket in [0, 10000) for a given flag.
// Salting with the flag name keeps assignments independent across flags; the
// separator keeps ("ab", "c") and ("a", "bc") apart.
func VariantBucket(userID, flagName string) int {
	return int(xxhash.Sum64String(userID+"|"+flagName) % variantBuckets)
}

// EvaluateFlag decides whether flag is on for a user and which variant the user gets.
// It is pure and deterministic. A nil flag yields ReasonNotFound.
func EvaluateFlag(flag *Flag, userID string, attrs map[string]any) Decision {
	if flag == nil {
		return Decision{Reason: ReasonNotFound}
	}
	d := Decision{FlagID: flag.ID}

	if !flag.Enabled {
		d.Reason = ReasonFlagDisabled
		return d
	}

	if !rulesMatch(flag.Rules, attrs) {
		d.Reason = ReasonTargetingRuleFailed
		return d
	}

	if RolloutBucket(userID) >= flag.RolloutPercentage {
		d.Reason = ReasonRolloutExcluded
		return d
	}

	d.Enabled = true
	v := pickVariant(flag.Variants, VariantBucket(userID, flag.Name))
	if v == nil {
		d.Reason = ReasonEnabledNoVariant
		return d
	}
	d.Variant = v
	d.Reason = ReasonVariantAssigned
	return d
}

func rulesMatch(rules []Rule, attrs map[string]any) bool {
	ordered := rules
	if !isSortedByPriority(rules) {
		ordered = make([]Rule, len(rules))
		copy(ordered, rules)
		sortRules(ordered)
	}
	for _, r := range ordered {
		if !r.Enabled {
			continue
		}
		if r.Condition == nil || !r.Condition.Match(attrs[r.Attribute]) {
			return false
		}
	}
	return true
}

func isSortedByPriority(rules []Rule) bool {
	for i := 1; i < len(rules); i++ {
		if rules[i].Priority < rules[i-1].Priority {
			return false
		}
	}
	return true
}

// pickVariant walks enabled variants in name order, accumulating normalized
// weights, and returns the first whose cumulative share exceeds the bucket.
func pickVariant(variants []Variant, bucket int) *Variant {
	enabled := make([]Variant, 0, len(variants))
	var total float64
	for _, v := range variants {
		if !v.Enabled || v.Weight <= 0 {
			continue
		}
		enabled = append(enabled, v)
		total += v.Weight
	}
	if len(enabled) == 0 || total <= 0 {
		return nil
	}
	sortVariants(enabled)

	b := float64(bucket)
	var cumulative float64
	for i := range enabled {
		cumulative += enabled[i].Weight / total
		if b < cumulative*variantBuckets {
			v := enabled[i].clone()
			return &v
		}
	}
	// Rounding can leave the last boundary a hair below the bucket count.
	v := enabled[len(enabled)-1].clone()
	return &v
}
