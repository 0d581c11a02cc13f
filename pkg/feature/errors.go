package feature

import "errors"

// Predefined errors for the feature package.
var (
	// ErrFlagNotFound indicates that the requested feature flag does not exist or is archived.
	ErrFlagNotFound = errors.New("feature flag not found")

	// ErrFlagExists indicates that an active flag with the same name already exists.
	ErrFlagExists = errors.New("feature flag already exists")

	// ErrInvalidConfiguration indicates that a flag definition or update request is invalid.
	ErrInvalidConfiguration = errors.New("invalid feature flag configuration")

	// ErrInvalidCondition indicates an unknown operator or a value that does not fit it.
	ErrInvalidCondition = errors.New("invalid targeting condition")

	// ErrEvaluationFailed marks faults swallowed by the engine. Evaluate never returns it;
	// it only appears in logs next to the fail-closed decision.
	ErrEvaluationFailed = errors.New("feature flag evaluation failed")
)
