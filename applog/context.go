package applog

import (
	"context"
	"go.uber.org/zap"
)

type logContextFieldKey struct{}

// FromContext returns the global logger enriched with every field attached to ctx
// through AddContextFields.
func FromContext(ctx context.Context) *Logger {
	return globalLogger.With(getContextFields(ctx)...)
}

// AddContextFields returns a child context carrying fields. A field whose key is
// already present replaces the older value.
func AddContextFields(ctx context.Context, fields ...zap.Field) context.Context {
	return context.WithValue(ctx, logContextFieldKey{}, mergeContextFields(ctx, fields...))
}

// WithPeer tags ctx with the remote member of a negotiation or match.
func WithPeer(ctx context.Context, memberId int64) context.Context {
	return AddContextFields(ctx, zap.Int64("remoteMemberId", memberId))
}

func getContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields, ok := ctx.Value(logContextFieldKey{}).([]zap.Field)
	if !ok {
		return nil
	}
	return fields
}

func mergeContextFields(ctx context.Context, fields ...zap.Field) []zap.Field {
	current := getContextFields(ctx)
	result := make([]zap.Field, 0, len(current)+len(fields))
	seen := make(map[string]struct{}, len(current)+len(fields))
	for _, v := range fields {
		seen[v.Key] = struct{}{}
		result = append(result, v)
	}
	for _, v := range current {
		if _, ok := seen[v.Key]; ok {
			continue
		}
		seen[v.Key] = struct{}{}
		result = append(result, v)
	}
	return result
}
