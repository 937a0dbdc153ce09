package observability

import (
	"context"
	"os"
	"sort"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/requestctx"
)

// NewLogger builds the JSON logger read by Cloud Logging. level falls back to LOG_LEVEL and then
// to info when empty or unknown.
func NewLogger(level string) (*zap.Logger, error) {
	if strings.TrimSpace(level) == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	atomic, err := zap.ParseAtomicLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		atomic = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = atomic
	cfg.Sampling = nil
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.LevelKey = "severity"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	cfg.EncoderConfig.EncodeLevel = encodeSeverity
	return cfg.Build()
}

// encodeSeverity writes the LogSeverity names Cloud Logging recognises.
func encodeSeverity(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch level {
	case zapcore.DebugLevel:
		enc.AppendString("DEBUG")
	case zapcore.InfoLevel:
		enc.AppendString("INFO")
	case zapcore.WarnLevel:
		enc.AppendString("WARNING")
	case zapcore.ErrorLevel:
		enc.AppendString("ERROR")
	case zapcore.DPanicLevel, zapcore.PanicLevel:
		enc.AppendString("CRITICAL")
	case zapcore.FatalLevel:
		enc.AppendString("ALERT")
	default:
		enc.AppendString("DEFAULT")
	}
}

// WithLogger stores logger as the process logger for ctx.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return requestctx.WithLogger(ctx, logger)
}

// EventLogger adapts zap to the event-style loggers used by services, notifications, jobs,
// idempotency and auth. Entries go to the request-scoped logger when the context carries one,
// so they keep request, trace and actor ids.
func EventLogger(base *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	if base == nil {
		base = zap.NewNop()
	}
	return func(ctx context.Context, event string, fields map[string]any) {
		logger := base
		if scoped, ok := requestctx.LoggerIfSet(ctx); ok {
			logger = scoped
		}

		keys := make([]string, 0, len(fields))
		for key := range fields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		zapFields := make([]zap.Field, 0, len(keys)+1)
		zapFields = append(zapFields, zap.String("event", event))
		for _, key := range keys {
			zapFields = append(zapFields, zap.Any(key, fields[key]))
		}

		if ce := logger.Check(eventLevel(event, fields), event); ce != nil {
			ce.Write(zapFields...)
		}
	}
}

// eventLevel raises security events and failure-style event names to warn.
func eventLevel(event string, fields map[string]any) zapcore.Level {
	if security, _ := fields["security"].(bool); security {
		return zapcore.WarnLevel
	}
	switch event[strings.LastIndex(event, ".")+1:] {
	case "failed", "rejected", "dropped", "exhausted", "dead_lettered":
		return zapcore.WarnLevel
	}
	return zapcore.InfoLevel
}
