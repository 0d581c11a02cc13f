package experiment

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/dmitrymomot/experimentkit/pkg/validator"
)

const maxNameLength = 128

// ValidateExperiment checks an experiment definition before it is created.
// Zero statistical parameters are accepted and replaced by defaults on create.
func ValidateExperiment(e *Experiment) error {
	if e == nil {
		return fmt.Errorf("%w: experiment is nil", ErrInvalidExperiment)
	}

	rules := []validator.Rule{
		validator.Required("name", e.Name),
		validator.MaxLen("name", e.Name, maxNameLength),
		validator.Check("flag_id", e.FlagID != uuid.Nil, "is required"),
	}
	if e.Power != 0 {
		rules = append(rules, validator.BetweenExclusive("power", e.Power, 0, 1))
	}
	if e.ConfidenceLevel != 0 {
		rules = append(rules, validator.BetweenExclusive("confidence_level", e.ConfidenceLevel, 0, 1))
	}
	if e.MinimumDetectableEffect != 0 {
		rules = append(rules, validator.BetweenExclusive("minimum_detectable_effect", e.MinimumDetectableEffect, 0, 1))
	}
	if e.Status != "" {
		rules = append(rules, validator.Check("status", e.Status == StatusDraft, "new experiments start as draft"))
	}

	variantNames := make([]string, 0, len(e.Variants))
	controls := 0
	errs := []error{nil}
	for i, v := range e.Variants {
		variantNames = append(variantNames, v.Name)
		if v.IsControl {
			controls++
		}
		errs = append(errs, validator.Prefix(fmt.Sprintf("variants[%d]", i), validator.Apply(
			validator.Required("name", v.Name),
			validator.MaxLen("name", v.Name, maxNameLength),
			validator.Between("traffic_allocation", v.TrafficAllocation, 0, 1),
		)))
	}
	rules = append(rules,
		validator.Unique("variants", variantNames),
		validator.Check("variants", controls <= 1, "at most one variant can be the control"),
	)

	metricNames := make([]string, 0, len(e.Metrics))
	primaries := 0
	for i, m := range e.Metrics {
		metricNames = append(metricNames, m.Name)
		if m.IsPrimary {
			primaries++
		}
		errs = append(errs, validator.Prefix(fmt.Sprintf("metrics[%d]", i), validator.Apply(
			validator.Required("name", m.Name),
			validator.Required("event_name", m.EventName),
			validator.InList("aggregation", m.Aggregation, Aggregations),
		)))
	}
	rules = append(rules,
		validator.Unique("metrics", metricNames),
		validator.Check("metrics", primaries <= 1, "at most one metric can be primary"),
	)

	errs[0] = validator.Apply(rules...)
	if err := validator.Merge(errs...); err != nil {
		return errors.Join(ErrInvalidExperiment, err)
	}
	return nil
}

// ValidateEvent checks the fields of a metric event.
func ValidateEvent(ev Event) error {
	rules := []validator.Rule{
		validator.Required("user_id", ev.UserID),
		validator.Check("experiment_id", ev.ExperimentID != uuid.Nil, "is required"),
		validator.Check("variant_id", ev.VariantID != uuid.Nil, "is required"),
		validator.Required("event_name", ev.EventName),
		validator.MaxLen("event_name", ev.EventName, maxNameLength),
		validator.InList("event_type", ev.EventType, EventTypes),
	}
	if ev.Value != nil {
		v := *ev.Value
		rules = append(rules, validator.Check("value", !math.IsNaN(v) && !math.IsInf(v, 0), "must be a finite number"))
	}
	if err := validator.Apply(rules...); err != nil {
		return errors.Join(ErrInvalidEvent, err)
	}
	return nil
}
