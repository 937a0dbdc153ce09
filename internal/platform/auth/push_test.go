package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"net/http"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/requestctx"
)

const (
	pushAudience = "https://api.marwaribasket.in/internal/jobs/retries"
	pushIssuer   = "https://accounts.google.com"
	pushSender   = "retry-push@marwari-basket.iam.gserviceaccount.com"
)

var pushNow = time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

type staticKeys struct {
	key *rsa.PublicKey
	err error
}

func (s staticKeys) Keyfunc(context.Context) jwt.Keyfunc {
	return func(*jwt.Token) (any, error) {
		if s.err != nil {
			return nil, s.err
		}
		return s.key, nil
	}
}

func pushClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"iss":            pushIssuer,
		"aud":            pushAudience,
		"sub":            "1122334455",
		"email":          pushSender,
		"email_verified": true,
		"iat":            pushNow.Add(-time.Minute).Unix(),
		"exp":            pushNow.Add(59 * time.Minute).Unix(),
	}
}

func signPush(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "k1"
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newTestPushVerifier(keys KeySource, metrics MetricsRecorder, senders ...string) *PushVerifier {
	return NewPushVerifier(keys, PushVerifierConfig{
		Audience:        pushAudience,
		Issuers:         []string{pushIssuer, "accounts.google.com"},
		ServiceAccounts: senders,
	}, WithPushClock(func() time.Time { return pushNow }), WithPushMetrics(metrics))
}

func TestPushVerifierMiddlewareAcceptsGoogleToken(t *testing.T) {
	key := newSigningKey(t)
	metrics := &recordingMetrics{}
	verifier := newTestPushVerifier(staticKeys{key: &key.PublicKey}, metrics, "Retry-Push@marwari-basket.iam.gserviceaccount.com")

	rec, seen := serve(t, verifier.Middleware(), "Bearer "+signPush(t, key, pushClaims()))
	if rec.Code != http.StatusNoContent || seen == nil {
		t.Fatalf("expected push to pass, got %d %s", rec.Code, rec.Body.String())
	}
	identity, ok := ServiceIdentityFromContext(seen.Context())
	if !ok || identity.Email != pushSender || identity.Subject != "1122334455" {
		t.Fatalf("unexpected service identity %+v", identity)
	}
	if !identity.ExpiresAt.Equal(pushNow.Add(59 * time.Minute)) {
		t.Fatalf("unexpected expiry %s", identity.ExpiresAt)
	}
	if got := requestctx.Actor(seen.Context()); got != "system:"+pushSender {
		t.Fatalf("unexpected actor %q", got)
	}
	if last := metrics.last(); last.kind != "push" || !last.success {
		t.Fatalf("unexpected metrics %+v", last)
	}
}

func TestPushVerifierRejections(t *testing.T) {
	key := newSigningKey(t)
	other := newSigningKey(t)

	with := func(mutate func(jwt.MapClaims)) jwt.MapClaims {
		claims := pushClaims()
		mutate(claims)
		return claims
	}

	cases := []struct {
		name    string
		keys    KeySource
		senders []string
		header  string
		status  int
		reason  string
	}{
		{"missing token", staticKeys{key: &key.PublicKey}, nil, "", http.StatusUnauthorized, "token_missing"},
		{"foreign signature", staticKeys{key: &key.PublicKey}, nil, "Bearer " + signPush(t, other, pushClaims()), http.StatusUnauthorized, "token_invalid"},
		{"expired", staticKeys{key: &key.PublicKey}, nil, "Bearer " + signPush(t, key, with(func(c jwt.MapClaims) {
			c["exp"] = pushNow.Add(-5 * time.Minute).Unix()
		})), http.StatusUnauthorized, "token_expired"},
		{"issued in the future", staticKeys{key: &key.PublicKey}, nil, "Bearer " + signPush(t, key, with(func(c jwt.MapClaims) {
			c["iat"] = pushNow.Add(10 * time.Minute).Unix()
		})), http.StatusUnauthorized, "token_expired"},
		{"wrong issuer", staticKeys{key: &key.PublicKey}, nil, "Bearer " + signPush(t, key, with(func(c jwt.MapClaims) {
			c["iss"] = "https://evil.example"
		})), http.StatusUnauthorized, "issuer_mismatch"},
		{"wrong audience", staticKeys{key: &key.PublicKey}, nil, "Bearer " + signPush(t, key, with(func(c jwt.MapClaims) {
			c["aud"] = "https://api.marwaribasket.in/other"
		})), http.StatusUnauthorized, "audience_mismatch"},
		{"sender not allowed", staticKeys{key: &key.PublicKey}, []string{"scheduler@marwari-basket.iam.gserviceaccount.com"}, "Bearer " + signPush(t, key, pushClaims()), http.StatusUnauthorized, "sender_not_allowed"},
		{"email unverified", staticKeys{key: &key.PublicKey}, []string{pushSender}, "Bearer " + signPush(t, key, with(func(c jwt.MapClaims) {
			c["email_verified"] = false
		})), http.StatusUnauthorized, "sender_not_allowed"},
		{"keys unavailable", staticKeys{err: ErrJWKSFetchFailed}, nil, "Bearer " + signPush(t, key, pushClaims()), http.StatusServiceUnavailable, "jwks_unavailable"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			metrics := &recordingMetrics{}
			rec, seen := serve(t, newTestPushVerifier(tc.keys, metrics, tc.senders...).Middleware(), tc.header)
			if seen != nil {
				t.Fatalf("handler should not run")
			}
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d %s", tc.status, rec.Code, rec.Body.String())
			}
			if last := metrics.last(); last.success || last.reason != tc.reason {
				t.Fatalf("expected reason %s, got %+v", tc.reason, last)
			}
		})
	}
}

func TestPushVerifierWithoutAudience(t *testing.T) {
	key := newSigningKey(t)
	verifier := NewPushVerifier(staticKeys{key: &key.PublicKey}, PushVerifierConfig{})
	if _, err := verifier.Verify(context.Background(), signPush(t, key, pushClaims())); !errors.Is(err, ErrPushAudienceUnset) {
		t.Fatalf("expected unset audience error, got %v", err)
	}
}

func TestPushVerifierAgainstJWKSCache(t *testing.T) {
	key := newSigningKey(t)
	server := newJWKSServer(t, map[string]*rsa.PrivateKey{"k1": key})
	cache := NewJWKSCache(server.URL, WithJWKSClock(func() time.Time { return pushNow }))
	verifier := newTestPushVerifier(cache, nil)

	identity, err := verifier.Verify(context.Background(), signPush(t, key, pushClaims()))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if identity.Actor() != "system:"+pushSender {
		t.Fatalf("unexpected actor %q", identity.Actor())
	}
}
