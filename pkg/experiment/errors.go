package experiment

import "errors"

var (
	ErrExperimentNotFound = errors.New("experiment not found")
	ErrNoPrimaryMetric    = errors.New("experiment has no primary metric")
	ErrAnalysisFailed     = errors.New("experiment analysis failed")
	ErrInvalidExperiment  = errors.New("invalid experiment definition")
	ErrInvalidTransition  = errors.New("invalid experiment status transition")
	ErrInvalidEvent       = errors.New("invalid metric event")
	ErrRecorderClosed     = errors.New("event recorder is closed")
	ErrResultsNotFound    = errors.New("experiment results not found")
)
