package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/httpx"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/requestctx"
)

// Push verification failures. JWKS outages surface as ErrJWKSFetchFailed.
var (
	ErrPushTokenMissing     = errors.New("auth: push token missing")
	ErrPushTokenInvalid     = errors.New("auth: push token invalid")
	ErrPushTokenExpired     = errors.New("auth: push token expired")
	ErrPushAudienceMismatch = errors.New("auth: push token audience mismatch")
	ErrPushIssuerMismatch   = errors.New("auth: push token issuer mismatch")
	ErrPushSenderNotAllowed = errors.New("auth: push token sender not allowed")
	ErrPushAudienceUnset    = errors.New("auth: push verifier audience not configured")
)

const pushClockSkew = 30

// KeySource resolves token signing keys. JWKSCache is the production implementation.
type KeySource interface {
	Keyfunc(ctx context.Context) jwt.Keyfunc
}

// PushVerifierConfig describes which Google-signed tokens are accepted.
type PushVerifierConfig struct {
	Audience string
	Issuers  []string
	// ServiceAccounts, when set, limits senders to these verified emails.
	ServiceAccounts []string
}

// ServiceIdentity is the Google service account behind a verified push request.
type ServiceIdentity struct {
	Subject   string
	Email     string
	Issuer    string
	Audience  string
	ExpiresAt time.Time
}

// Actor is the name recorded for work done on behalf of the push sender, "system:<email>".
func (s *ServiceIdentity) Actor() string {
	if s == nil {
		return "system:unknown"
	}
	if s.Email != "" {
		return "system:" + s.Email
	}
	return "system:" + s.Subject
}

type serviceIdentityKey struct{}

// WithServiceIdentity stores the push sender on ctx.
func WithServiceIdentity(ctx context.Context, identity *ServiceIdentity) context.Context {
	if identity == nil {
		return ctx
	}
	return context.WithValue(ctx, serviceIdentityKey{}, identity)
}

// ServiceIdentityFromContext returns the push sender stored by PushVerifier.Middleware.
func ServiceIdentityFromContext(ctx context.Context) (*ServiceIdentity, bool) {
	identity, ok := ctx.Value(serviceIdentityKey{}).(*ServiceIdentity)
	return identity, ok && identity != nil
}

// PushVerifier authenticates Pub/Sub push deliveries and Cloud Scheduler calls on /internal
// routes by their Google-signed OIDC bearer token.
type PushVerifier struct {
	keys     KeySource
	audience string
	issuers  map[string]struct{}
	senders  map[string]struct{}
	logger   Logger
	metrics  MetricsRecorder
	now      func() time.Time
}

// PushOption customises a PushVerifier.
type PushOption func(*PushVerifier)

// WithPushLogger reports rejected tokens.
func WithPushLogger(logger Logger) PushOption {
	return func(v *PushVerifier) {
		v.logger = logger
	}
}

// WithPushMetrics records every verification under kind "push".
func WithPushMetrics(metrics MetricsRecorder) PushOption {
	return func(v *PushVerifier) {
		v.metrics = metrics
	}
}

// WithPushClock injects the clock used for expiry checks.
func WithPushClock(now func() time.Time) PushOption {
	return func(v *PushVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewPushVerifier builds a verifier resolving signing keys through keys.
func NewPushVerifier(keys KeySource, cfg PushVerifierConfig, opts ...PushOption) *PushVerifier {
	v := &PushVerifier{
		keys:     keys,
		audience: strings.TrimSpace(cfg.Audience),
		issuers:  setOf(cfg.Issuers, false),
		senders:  setOf(cfg.ServiceAccounts, true),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Verify validates raw and returns the sender.
func (v *PushVerifier) Verify(ctx context.Context, raw string) (*ServiceIdentity, error) {
	if v.audience == "" {
		return nil, ErrPushAudienceUnset
	}
	if raw == "" {
		return nil, ErrPushTokenMissing
	}
	if v.keys == nil {
		return nil, fmt.Errorf("%w: no key source", ErrJWKSFetchFailed)
	}

	claims := jwt.MapClaims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := parser.ParseWithClaims(raw, claims, v.keys.Keyfunc(ctx)); err != nil {
		if errors.Is(err, ErrJWKSFetchFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPushTokenInvalid, err)
	}

	// Expiry is checked against the injected clock, with a small allowance for skew.
	now := v.now().Unix()
	if !claims.VerifyExpiresAt(now-pushClockSkew, true) || !claims.VerifyIssuedAt(now+pushClockSkew, false) {
		return nil, ErrPushTokenExpired
	}

	issuer, _ := claims["iss"].(string)
	if _, ok := v.issuers[issuer]; len(v.issuers) > 0 && !ok {
		return nil, fmt.Errorf("%w: %q", ErrPushIssuerMismatch, issuer)
	}
	if !claims.VerifyAudience(v.audience, true) {
		return nil, ErrPushAudienceMismatch
	}

	identity := &ServiceIdentity{Issuer: issuer, Audience: v.audience}
	identity.Subject, _ = claims["sub"].(string)
	identity.Email, _ = claims["email"].(string)
	if exp, ok := claims["exp"].(float64); ok {
		identity.ExpiresAt = time.Unix(int64(exp), 0).UTC()
	}

	if len(v.senders) > 0 {
		verified, _ := claims["email_verified"].(bool)
		if _, ok := v.senders[strings.ToLower(identity.Email)]; !ok || !verified {
			return nil, fmt.Errorf("%w: %q", ErrPushSenderNotAllowed, identity.Email)
		}
	}
	return identity, nil
}

// Middleware rejects requests without a valid push token. A JWKS outage answers 503 so Pub/Sub
// redelivers; every other failure answers 401.
func (v *PushVerifier) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := v.now()

			raw, _ := bearerToken(r.Header.Get("Authorization"))
			identity, err := v.Verify(ctx, raw)
			if err != nil {
				reason, apiErr := classifyPushError(err)
				recordVerification(ctx, v.metrics, "push", false, reason, v.now().Sub(start))
				v.logger.log(ctx, "auth.push.rejected", map[string]any{"reason": reason, "error": err.Error(), "security": true})
				httpx.WriteError(ctx, w, apiErr)
				return
			}

			recordVerification(ctx, v.metrics, "push", true, "ok", v.now().Sub(start))
			ctx = WithServiceIdentity(ctx, identity)
			ctx = requestctx.WithActor(ctx, identity.Actor())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func classifyPushError(err error) (string, httpx.Error) {
	unauthorized := func(message string) httpx.Error {
		return httpx.NewError("invalid_token", message, http.StatusUnauthorized)
	}
	switch {
	case errors.Is(err, ErrPushTokenMissing):
		return "token_missing", httpx.NewError("unauthenticated", "push token missing", http.StatusUnauthorized)
	case errors.Is(err, ErrPushAudienceUnset):
		return "audience_not_configured", httpx.NewError("verification_unavailable", "push verification not configured", http.StatusServiceUnavailable)
	case errors.Is(err, ErrJWKSFetchFailed):
		return "jwks_unavailable", httpx.NewError("verification_unavailable", "signing keys unavailable", http.StatusServiceUnavailable)
	case errors.Is(err, ErrPushTokenExpired):
		return "token_expired", unauthorized("push token expired")
	case errors.Is(err, ErrPushIssuerMismatch):
		return "issuer_mismatch", unauthorized("push token issuer mismatch")
	case errors.Is(err, ErrPushAudienceMismatch):
		return "audience_mismatch", unauthorized("push token audience mismatch")
	case errors.Is(err, ErrPushSenderNotAllowed):
		return "sender_not_allowed", unauthorized("push token sender not allowed")
	default:
		return "token_invalid", unauthorized("push token verification failed")
	}
}

func setOf(values []string, fold bool) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if fold {
			value = strings.ToLower(value)
		}
		if value != "" {
			out[value] = struct{}{}
		}
	}
	return out
}
