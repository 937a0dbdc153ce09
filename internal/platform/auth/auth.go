// Package auth authenticates the three kinds of callers the API serves: staff holding Firebase ID
// tokens, Google-signed push requests from Pub/Sub and payment or shipping providers signing
// webhook bodies with a shared secret.
package auth

import (
	"context"
	"time"
)

// Logger receives structured auth events such as "auth.push.rejected".
type Logger func(ctx context.Context, event string, fields map[string]any)

// MetricsRecorder records verification outcomes. kind is "firebase", "push" or "webhook_hmac".
type MetricsRecorder interface {
	RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration)
}

// MetricsRecorderFunc adapts a function to MetricsRecorder.
type MetricsRecorderFunc func(context.Context, string, bool, string, time.Duration)

// RecordVerification implements MetricsRecorder.
func (f MetricsRecorderFunc) RecordVerification(ctx context.Context, kind string, success bool, reason string, duration time.Duration) {
	if f != nil {
		f(ctx, kind, success, reason, duration)
	}
}

func (l Logger) log(ctx context.Context, event string, fields map[string]any) {
	if l != nil {
		l(ctx, event, fields)
	}
}

func recordVerification(ctx context.Context, metrics MetricsRecorder, kind string, success bool, reason string, elapsed time.Duration) {
	if metrics != nil {
		metrics.RecordVerification(ctx, kind, success, reason, elapsed)
	}
}
