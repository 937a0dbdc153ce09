package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/httpx"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/requestctx"
)

const defaultRoleClaim = "role"

var (
	// ErrTokenExpired lets verifier stubs report an expired token.
	ErrTokenExpired = errors.New("auth: firebase id token expired")
	// ErrTokenInvalid lets verifier stubs report a token that failed verification.
	ErrTokenInvalid = errors.New("auth: firebase id token invalid")
)

// TokenVerifier verifies Firebase ID tokens. FirebaseVerifier is the production implementation.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error)
}

// Authenticator turns Firebase ID tokens on the Authorization header into staff identities.
type Authenticator struct {
	verifier  TokenVerifier
	roleClaim string
	timeout   time.Duration
	logger    Logger
	metrics   MetricsRecorder
	now       func() time.Time
}

// Option customises an Authenticator.
type Option func(*Authenticator)

// WithRoleClaim reads roles from claim instead of "role".
func WithRoleClaim(claim string) Option {
	return func(a *Authenticator) {
		if claim = strings.TrimSpace(claim); claim != "" {
			a.roleClaim = claim
		}
	}
}

// WithVerificationTimeout bounds token verification.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLogger reports rejected tokens.
func WithLogger(logger Logger) Option {
	return func(a *Authenticator) {
		a.logger = logger
	}
}

// WithMetrics records every verification under kind "firebase".
func WithMetrics(metrics MetricsRecorder) Option {
	return func(a *Authenticator) {
		a.metrics = metrics
	}
}

// NewAuthenticator builds an Authenticator around verifier.
func NewAuthenticator(verifier TokenVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier:  verifier,
		roleClaim: defaultRoleClaim,
		timeout:   defaultVerifyTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireFirebaseAuth rejects requests without a valid staff token (401) and tokens carrying none
// of roles (403). With no roles listed any verified identity that has at least one role passes.
// The identity and its actor name are stored on the request context.
func (a *Authenticator) RequireFirebaseAuth(roles ...string) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(roles))
	for _, role := range roles {
		if role = normaliseRole(role); role != "" {
			allowed = append(allowed, role)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := a.now()

			raw, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				a.reject(ctx, w, start, "token_missing", httpx.NewError("unauthenticated", "authorization header missing or invalid", http.StatusUnauthorized))
				return
			}
			if a.verifier == nil {
				a.reject(ctx, w, start, "verifier_unavailable", httpx.NewError("unauthenticated", "authorization service unavailable", http.StatusUnauthorized))
				return
			}

			verifyCtx, cancel := context.WithTimeout(ctx, a.timeout)
			token, err := a.verifier.VerifyIDToken(verifyCtx, raw)
			cancel()
			if err != nil {
				reason, apiErr := classifyTokenError(err)
				a.reject(ctx, w, start, reason, apiErr)
				return
			}

			identity := &Identity{
				UID:   token.UID,
				Email: stringClaim(token.Claims, "email"),
				Roles: rolesFromClaim(token.Claims[a.roleClaim]),
			}
			if token.AuthTime > 0 {
				identity.AuthTime = time.Unix(token.AuthTime, 0).UTC()
			}
			if len(identity.Roles) == 0 {
				a.reject(ctx, w, start, "missing_role", httpx.NewError("forbidden", "no staff role associated with identity", http.StatusForbidden))
				return
			}
			if len(allowed) > 0 && !identity.HasAnyRole(allowed...) {
				a.reject(ctx, w, start, "insufficient_role", httpx.NewError("forbidden", "identity does not have a required role", http.StatusForbidden).
					WithDetails(map[string]any{"required_roles": allowed}))
				return
			}

			recordVerification(ctx, a.metrics, "firebase", true, "ok", a.now().Sub(start))
			ctx = WithIdentity(ctx, identity)
			ctx = requestctx.WithActor(ctx, identity.Actor())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (a *Authenticator) reject(ctx context.Context, w http.ResponseWriter, start time.Time, reason string, apiErr httpx.Error) {
	recordVerification(ctx, a.metrics, "firebase", false, reason, a.now().Sub(start))
	a.logger.log(ctx, "auth.firebase.rejected", map[string]any{"reason": reason, "status": apiErr.Status, "security": true})
	httpx.WriteError(ctx, w, apiErr)
}

func classifyTokenError(err error) (string, httpx.Error) {
	switch {
	case errors.Is(err, ErrTokenExpired), firebaseauth.IsIDTokenExpired(err):
		return "token_expired", httpx.NewError("token_expired", "firebase id token expired", http.StatusUnauthorized)
	case firebaseauth.IsIDTokenRevoked(err):
		return "token_revoked", httpx.NewError("token_revoked", "firebase session revoked", http.StatusUnauthorized)
	case firebaseauth.IsUserDisabled(err):
		return "user_disabled", httpx.NewError("user_disabled", "staff account disabled", http.StatusUnauthorized)
	case errors.Is(err, context.DeadlineExceeded):
		return "verifier_timeout", httpx.NewError("verification_unavailable", "token verification timed out", http.StatusServiceUnavailable)
	default:
		return "token_invalid", httpx.NewError("invalid_token", "firebase id token invalid", http.StatusUnauthorized)
	}
}

// rolesFromClaim accepts "admin", ["staff","admin"] or {"admin": true}.
func rolesFromClaim(raw any) []string {
	var roles []string
	add := func(value string) {
		value = normaliseRole(value)
		if value == "" {
			return
		}
		for _, existing := range roles {
			if existing == value {
				return
			}
		}
		roles = append(roles, value)
	}

	switch v := raw.(type) {
	case string:
		add(v)
	case []string:
		for _, item := range v {
			add(item)
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	case map[string]any:
		for key, value := range v {
			if enabled, ok := value.(bool); ok && enabled {
				add(key)
			}
		}
	}
	return roles
}

func stringClaim(claims map[string]any, key string) string {
	value, _ := claims[key].(string)
	return strings.TrimSpace(value)
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
