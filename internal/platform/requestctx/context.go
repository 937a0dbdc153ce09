// Package requestctx carries per-request values (logger, trace, acting principal) across
// package boundaries without those packages importing each other.
package requestctx

import (
	"context"

	"go.uber.org/zap"
)

type key int

const (
	loggerKey key = iota
	traceKey
	actorKey
)

var nop = zap.NewNop()

// TraceInfo identifies the Cloud Trace span serving the request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// WithLogger stores the request logger. A nil logger clears it.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Logger returns the request logger, or a no-op logger when none was stored.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := LoggerIfSet(ctx); ok {
		return logger
	}
	return nop
}

// LoggerIfSet reports whether a request logger was stored.
func LoggerIfSet(ctx context.Context) (*zap.Logger, bool) {
	if ctx == nil {
		return nil, false
	}
	logger, ok := ctx.Value(loggerKey).(*zap.Logger)
	return logger, ok && logger != nil
}

// WithTrace stores the trace metadata of the server span.
func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return context.WithValue(ctx, traceKey, info)
}

// Trace returns the stored trace metadata.
func Trace(ctx context.Context) (TraceInfo, bool) {
	if ctx == nil {
		return TraceInfo{}, false
	}
	info, ok := ctx.Value(traceKey).(TraceInfo)
	return info, ok
}

// TraceID returns the trace id, or "" outside a traced request.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithActor records who is acting on the request, e.g. "admin:uid-7" or "system:push@project".
// A request logger already on ctx is tagged with the actor so later entries carry it.
func WithActor(ctx context.Context, actor string) context.Context {
	if logger, ok := LoggerIfSet(ctx); ok {
		ctx = WithLogger(ctx, logger.With(zap.String("actor", actor)))
	}
	return context.WithValue(ctx, actorKey, actor)
}

// Actor returns the acting principal, or "" for unauthenticated requests.
func Actor(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	actor, _ := ctx.Value(actorKey).(string)
	return actor
}
