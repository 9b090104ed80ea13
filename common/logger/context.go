package logger

import (
	"context"
	"unicode/utf8"
)

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within
// a context. Business context (task key, chat id, job name) flows through
// context enrichment so individual log statements don't repeat it.
type LogFields struct {
	TaskKey   *string // tracker issue key, e.g. "HR-12"
	ChatID    *int64  // originating chat
	UserID    *int64  // acting chat user
	EventID   *int64  // inbound event id (snowflake)
	MessageID *string // Redis stream message ID
	Job       string  // scheduled job name
	Component string  // component name, e.g. "taskgate.service.reconciler"
}

// WithLogFields enriches context with structured log fields. Multiple calls
// merge fields, with newer non-nil/non-empty values taking precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context, empty if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, next LogFields) LogFields {
	result := existing

	if next.TaskKey != nil {
		result.TaskKey = next.TaskKey
	}
	if next.ChatID != nil {
		result.ChatID = next.ChatID
	}
	if next.UserID != nil {
		result.UserID = next.UserID
	}
	if next.EventID != nil {
		result.EventID = next.EventID
	}
	if next.MessageID != nil {
		result.MessageID = next.MessageID
	}
	if next.Job != "" {
		result.Job = next.Job
	}
	if next.Component != "" {
		result.Component = next.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value, for setting LogFields
// inline: logger.WithLogFields(ctx, logger.LogFields{TaskKey: logger.Ptr(key)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate shortens a string to at most maxLen bytes, appending "..." if
// anything was cut. The cut backs up to a rune boundary so multi-byte text
// stays valid UTF-8 for downstream delivery.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
