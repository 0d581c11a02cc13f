package feature

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/dmitrymomot/experimentkit/pkg/validator"
)

const (
	maxNameLength        = 128
	maxDescriptionLength = 1024
)

var flagNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// ValidateFlag checks a flag definition before it is created.
func ValidateFlag(f *Flag) error {
	if f == nil {
		return fmt.Errorf("%w: flag is nil", ErrInvalidConfiguration)
	}
	err := validator.Merge(
		validator.Apply(
			validator.Required("name", f.Name),
			validator.MaxLen("name", f.Name, maxNameLength),
			validator.MatchesRegex("name", f.Name, flagNamePattern, "letters, digits, dots, dashes or underscores"),
			validator.MaxLen("description", f.Description, maxDescriptionLength),
			validator.Between("rollout_percentage", f.RolloutPercentage, 0, 100),
		),
		validateVariants(f.Variants),
		validateRules(f.Rules),
	)
	return wrapInvalid(err)
}

// ValidateUpdate checks the fields present in an update.
func ValidateUpdate(u FlagUpdate) error {
	if u.IsEmpty() {
		return fmt.Errorf("%w: update contains no fields", ErrInvalidConfiguration)
	}
	var rules []validator.Rule
	if u.Description != nil {
		rules = append(rules, validator.MaxLen("description", *u.Description, maxDescriptionLength))
	}
	if u.RolloutPercentage != nil {
		rules = append(rules, validator.Between("rollout_percentage", *u.RolloutPercentage, 0, 100))
	}
	err := validator.Merge(
		validator.Apply(rules...),
		validateVariants(u.Variants),
		validateRules(u.Rules),
	)
	return wrapInvalid(err)
}

func validateVariants(variants []Variant) error {
	names := make([]string, 0, len(variants))
	errs := make([]error, 0, len(variants)+1)
	for i, v := range variants {
		names = append(names, v.Name)
		errs = append(errs, validator.Prefix(fmt.Sprintf("variants[%d]", i), validator.Apply(
			validator.Required("name", v.Name),
			validator.MaxLen("name", v.Name, maxNameLength),
			validator.Between("weight", v.Weight, 0, 1),
			validator.Check("payload", len(v.Payload) == 0 || json.Valid(v.Payload), "must be valid JSON"),
		)))
	}
	errs = append(errs, validator.Apply(validator.Unique("variants", names)))
	return validator.Merge(errs...)
}

func validateRules(rules []Rule) error {
	errs := make([]error, 0, len(rules))
	for i, r := range rules {
		condErr := ValidateCondition(r.Condition)
		msg := ""
		if condErr != nil {
			msg = condErr.Error()
		}
		errs = append(errs, validator.Prefix(fmt.Sprintf("rules[%d]", i), validator.Apply(
			validator.Required("attribute", r.Attribute),
			validator.Check("condition", condErr == nil, msg),
		)))
	}
	return validator.Merge(errs...)
}

func wrapInvalid(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrInvalidConfiguration, err)
}
