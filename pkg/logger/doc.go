// Package logger builds *slog.Logger instances for experimentkit services.
//
// New applies functional options (format, level, static attributes, context
// extractors) and wraps the chosen slog handler so request-scoped values
// stored in a context.Context are attached to every record logged with the
// *Context methods. WithTraceContext correlates records with the active
// OpenTelemetry span.
//
//	log := logger.New(
//		logger.WithEnvironment(os.Getenv("APP_ENV"), "experiments"),
//		logger.WithContextValue("request_id", requestIDKey{}),
//		logger.WithTraceContext(),
//	)
//
//	log.WarnContext(ctx, "flag evaluation failed",
//		logger.FlagName("checkout_redesign"),
//		logger.TrackingID(ev.TrackingID),
//		logger.Error(err),
//	)
//
// Attribute helpers in attr.go keep key names consistent across packages
// (flag, flag_id, experiment_id, variant_id, tracking_id, reason, ...).
// Helpers that take an error or an arbitrary id return an empty Attr for nil
// input, which slog omits.
package logger
