// Package validator builds declarative validation out of small Rule values.
//
// Each Rule pairs a Check func with the ValidationError reported when the
// check fails. Apply evaluates rules in order and aggregates failures into a
// ValidationErrors slice that satisfies the error interface, so a caller can
// report every invalid field of a request in one pass:
//
//	err := validator.Apply(
//	    validator.Required("name", in.Name),
//	    validator.MaxLen("name", in.Name, 128),
//	    validator.Between("rollout_percentage", in.Rollout, 0, 100),
//	)
//	if verrs := validator.ExtractValidationErrors(err); verrs != nil {
//	    // inspect verrs.Fields()
//	}
//
// Domain packages wrap the result with their own sentinel error via errors.Join,
// which keeps both errors.Is on the sentinel and errors.As on ValidationErrors working.
package validator
