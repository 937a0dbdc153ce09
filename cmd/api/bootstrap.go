package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/auth"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/config"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/observability"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/secrets"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/services"
)

// envValue returns the trimmed value of key, or "" when unset.
func envValue(env map[string]string, key string) string {
	return strings.TrimSpace(env[key])
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	return services.BuildInfo{
		Version:     cmp.Or(envValue(env, "API_BUILD_VERSION"), "dev"),
		CommitSHA:   cmp.Or(envValue(env, "API_BUILD_COMMIT_SHA"), "unknown"),
		Environment: cmp.Or(strings.TrimSpace(cfg.Security.Environment), "local"),
		StartedAt:   started,
	}
}

// buildStaffAuth returns nil on a developer machine without a Firebase project. Every other
// environment requires a staff or admin token on /orders.
func buildStaffAuth(ctx context.Context, logger *zap.Logger, cfg config.Config, metrics *observability.Metrics) (func(http.Handler) http.Handler, error) {
	if strings.TrimSpace(cfg.Firebase.ProjectID) == "" {
		if !cfg.LocalEnvironment() {
			return nil, errors.New("API_FIREBASE_PROJECT_ID is required outside local")
		}
		logger.Warn("firebase project not configured; order routes are open in local mode")
		return nil, nil
	}
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		return nil, err
	}
	authenticator := auth.NewAuthenticator(verifier,
		auth.WithLogger(observability.EventLogger(logger)),
		auth.WithMetrics(metrics),
	)
	return authenticator.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin), nil
}

// buildPushAuth guards /internal with Google-signed push tokens. Without an audience the routes
// stay open in local mode and reject every request elsewhere.
func buildPushAuth(logger *zap.Logger, cfg config.Config, metrics *observability.Metrics) func(http.Handler) http.Handler {
	oidc := cfg.Security.OIDC
	if strings.TrimSpace(oidc.JWKSURL) == "" {
		return nil
	}
	audience := strings.TrimSpace(oidc.Audience)
	if audience == "" {
		if cfg.LocalEnvironment() {
			logger.Warn("push audience not configured; internal routes are open in local mode")
			return nil
		}
		logger.Warn("push audience not configured; internal routes will reject every request")
	}
	if len(oidc.ServiceAccounts) == 0 {
		logger.Info("push sender allowlist empty; any service account minting the audience is accepted")
	}

	events := observability.EventLogger(logger)
	verifier := auth.NewPushVerifier(
		auth.NewJWKSCache(oidc.JWKSURL, auth.WithJWKSLogger(events)),
		auth.PushVerifierConfig{
			Audience:        audience,
			Issuers:         oidc.Issuers,
			ServiceAccounts: oidc.ServiceAccounts,
		},
		auth.WithPushLogger(events),
		auth.WithPushMetrics(metrics),
	)
	return verifier.Middleware()
}

func traceProjectID(cfg config.Config) string {
	return cmp.Or(strings.TrimSpace(cfg.Firebase.ProjectID), strings.TrimSpace(cfg.Firestore.ProjectID))
}

// newSecretFetcher is built from the raw environment because config loading itself resolves
// secret:// values through it.
func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	ttl := defaultSecretCacheTTL
	if raw := envValue(env, "API_SECRET_CACHE_TTL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("API_SECRET_CACHE_TTL: %w", err)
		}
		ttl = parsed
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(cmp.Or(envValue(env, "API_SECURITY_ENVIRONMENT"), "local")),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(cmp.Or(envValue(env, "API_SECRET_FALLBACK_FILE"), ".secrets.local")),
		secrets.WithDefaultProject(cmp.Or(envValue(env, "API_SECRET_DEFAULT_PROJECT_ID"), envValue(env, "API_FIREBASE_PROJECT_ID"))),
		secrets.WithProjectMap(parseKeyValueList(env["API_SECRET_PROJECT_IDS"])),
		secrets.WithCacheTTL(ttl),
	}
	if credentials := envValue(env, "API_FIREBASE_CREDENTIALS_FILE"); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets the selected providers cannot run without, sorted.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if strings.EqualFold(envValue(env, "API_PAYMENTS_PROVIDER"), "stripe") {
		required = append(required, "Payments.StripeAPIKey")
	}
	if strings.EqualFold(envValue(env, "API_SHIPPING_PROVIDER"), "carrier") {
		required = append(required, "Shipping.APIKey")
	}
	for provider := range parseKeyValueList(env["API_WEBHOOK_SECRETS"]) {
		required = append(required, "Webhooks.Secrets["+strings.ToLower(provider)+"]")
	}
	slices.Sort(required)
	return slices.Compact(required)
}

// parseKeyValueList reads "a=1,b=2". Entries missing either side are skipped.
func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(entry, "=")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if ok && key != "" && value != "" {
			result[key] = value
		}
	}
	return result
}
