package logger

import (
	"log/slog"
	"strconv"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Errors groups multiple non-nil errors under the key "errors".
// If all errors are nil, it returns an empty Attr.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// UserID records the user identifier under the key "user_id".
// If id is nil, it returns an empty Attr.
func UserID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("user_id", id)
}

// FlagName records the feature flag name under the key "flag".
func FlagName(name string) slog.Attr {
	return slog.String("flag", name)
}

// FlagID records the feature flag identifier under the key "flag_id".
// If id is nil, it returns an empty Attr.
func FlagID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("flag_id", id)
}

// ExperimentID records the experiment identifier under the key "experiment_id".
// If id is nil, it returns an empty Attr.
func ExperimentID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("experiment_id", id)
}

// VariantID records the variant identifier under the key "variant_id".
// If id is nil, it returns an empty Attr.
func VariantID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("variant_id", id)
}

// TrackingID records the per-evaluation tracking identifier under the key "tracking_id".
func TrackingID(id string) slog.Attr {
	return slog.String("tracking_id", id)
}

// Reason records an evaluation reason under the key "reason".
func Reason(reason string) slog.Attr {
	return slog.String("reason", reason)
}

// EventType records the event type under the key "event_type".
func EventType(eventType string) slog.Attr {
	return slog.String("event_type", eventType)
}

// Count records a counter value under the key "count".
func Count(n int) slog.Attr {
	return slog.Int("count", n)
}

// Duration records a duration under the key "duration".
func Duration(d any) slog.Attr {
	return slog.Any("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}
