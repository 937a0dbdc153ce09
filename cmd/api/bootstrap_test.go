package main

import (
	"slices"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/config"
)

func TestRequiredSecretNames(t *testing.T) {
	env := map[string]string{
		"API_PAYMENTS_PROVIDER": " Stripe ",
		"API_SHIPPING_PROVIDER": "sandbox",
		"API_WEBHOOK_SECRETS":   "Payment=secret://a,shipping=plain,broken",
	}
	got := requiredSecretNames(env)
	want := []string{"Payments.StripeAPIKey", "Webhooks.Secrets[payment]", "Webhooks.Secrets[shipping]"}
	if !slices.Equal(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if names := requiredSecretNames(map[string]string{}); len(names) != 0 {
		t.Fatalf("expected nothing required for an empty environment, got %v", names)
	}
}

func TestBuildInfoFromEnv(t *testing.T) {
	started := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	info := buildInfoFromEnv(map[string]string{}, config.Config{}, started)
	if info.Version != "dev" || info.CommitSHA != "unknown" || info.Environment != "local" {
		t.Fatalf("unexpected defaults %+v", info)
	}

	cfg := config.Config{Security: config.SecurityConfig{Environment: "prod"}}
	info = buildInfoFromEnv(map[string]string{
		"API_BUILD_VERSION":    "v1.4.0",
		"API_BUILD_COMMIT_SHA": "abc123",
	}, cfg, started)
	if info.Version != "v1.4.0" || info.CommitSHA != "abc123" || info.Environment != "prod" || !info.StartedAt.Equal(started) {
		t.Fatalf("unexpected build info %+v", info)
	}
}

func TestParseKeyValueList(t *testing.T) {
	got := parseKeyValueList(" prod = mb-prod ,staging=mb-staging,=x,y=,z")
	if len(got) != 2 || got["prod"] != "mb-prod" || got["staging"] != "mb-staging" {
		t.Fatalf("unexpected pairs %v", got)
	}
}

func TestBuildPushAuthLocalWithoutAudience(t *testing.T) {
	cfg := config.Config{Security: config.SecurityConfig{
		Environment: "local",
		OIDC:        config.OIDCConfig{JWKSURL: "https://example.com/certs"},
	}}
	if mw := buildPushAuth(zap.NewNop(), cfg, nil); mw != nil {
		t.Fatalf("expected open internal routes in local mode")
	}

	cfg.Security.Environment = "prod"
	if mw := buildPushAuth(zap.NewNop(), cfg, nil); mw == nil {
		t.Fatalf("expected a rejecting middleware outside local")
	}
}

func TestTraceProjectIDPrefersFirebase(t *testing.T) {
	cfg := config.Config{
		Firebase:  config.FirebaseConfig{ProjectID: "fb"},
		Firestore: config.FirestoreConfig{ProjectID: "fs"},
	}
	if got := traceProjectID(cfg); got != "fb" {
		t.Fatalf("got %q", got)
	}
	cfg.Firebase.ProjectID = ""
	if got := traceProjectID(cfg); got != "fs" {
		t.Fatalf("got %q", got)
	}
}
