package requestctx

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerDefaultsToNop(t *testing.T) {
	ctx := context.Background()
	if _, ok := LoggerIfSet(ctx); ok {
		t.Fatalf("expected no logger on a bare context")
	}
	if Logger(ctx) == nil {
		t.Fatalf("Logger must never return nil")
	}

	logger := zap.NewExample()
	ctx = WithLogger(ctx, logger)
	if got, ok := LoggerIfSet(ctx); !ok || got != logger {
		t.Fatalf("expected stored logger back")
	}
	if _, ok := LoggerIfSet(WithLogger(ctx, nil)); ok {
		t.Fatalf("nil logger should clear the request logger")
	}
}

func TestTraceAndActor(t *testing.T) {
	ctx := context.Background()
	if TraceID(ctx) != "" || Actor(ctx) != "" {
		t.Fatalf("expected empty values on a bare context")
	}
	ctx = WithTrace(ctx, TraceInfo{TraceID: "4bf92f3577b34da6a3ce929d0e0e4736", ProjectID: "marwari"})
	ctx = WithActor(ctx, "admin:staff-7")
	if TraceID(ctx) != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("unexpected trace id %q", TraceID(ctx))
	}
	if info, ok := Trace(ctx); !ok || info.ProjectID != "marwari" {
		t.Fatalf("unexpected trace info %+v", info)
	}
	if Actor(ctx) != "admin:staff-7" {
		t.Fatalf("unexpected actor %q", Actor(ctx))
	}
}

func TestWithActorTagsRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ctx := WithLogger(context.Background(), zap.New(core))
	ctx = WithActor(ctx, "system:push@marwari.iam.gserviceaccount.com")

	Logger(ctx).Info("gateway.retry.processed")
	entries := logs.AllUntimed()
	if len(entries) != 1 || entries[0].ContextMap()["actor"] != "system:push@marwari.iam.gserviceaccount.com" {
		t.Fatalf("expected actor field on request logger, got %+v", entries)
	}
}
