package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/requestctx"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(_ context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func staffToken(uid string, role any) *firebaseauth.Token {
	return &firebaseauth.Token{
		UID:      uid,
		AuthTime: time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC).Unix(),
		Claims:   map[string]any{"role": role, "email": uid + "@marwaribasket.in"},
	}
}

func serve(t *testing.T, mw func(http.Handler) http.Handler, header string) (*httptest.ResponseRecorder, *http.Request) {
	t.Helper()
	var seen *http.Request
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPatch, "/api/v1/orders/ord_1/status", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seen
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestRequireFirebaseAuthAcceptsStaff(t *testing.T) {
	verifier := &stubTokenVerifier{token: staffToken("uid-7", []any{"Staff", "staff"})}
	metrics := &recordingMetrics{}
	authn := NewAuthenticator(verifier, WithMetrics(metrics))

	rec, seen := serve(t, authn.RequireFirebaseAuth(RoleStaff, RoleAdmin), "Bearer id-token")
	if rec.Code != http.StatusNoContent || seen == nil {
		t.Fatalf("expected request to pass, got %d %s", rec.Code, rec.Body.String())
	}
	if verifier.received != "id-token" {
		t.Fatalf("verifier received %q", verifier.received)
	}

	identity, ok := IdentityFromContext(seen.Context())
	if !ok {
		t.Fatalf("identity missing from context")
	}
	if identity.Email != "uid-7@marwaribasket.in" || len(identity.Roles) != 1 || identity.Roles[0] != RoleStaff {
		t.Fatalf("unexpected identity %+v", identity)
	}
	if identity.AuthTime.Hour() != 9 {
		t.Fatalf("unexpected auth time %s", identity.AuthTime)
	}
	if got := requestctx.Actor(seen.Context()); got != "admin:uid-7" {
		t.Fatalf("unexpected actor %q", got)
	}
	if last := metrics.last(); last.kind != "firebase" || !last.success {
		t.Fatalf("unexpected metrics %+v", last)
	}
}

func TestRequireFirebaseAuthRejections(t *testing.T) {
	cases := []struct {
		name     string
		header   string
		verifier *stubTokenVerifier
		status   int
		code     string
		reason   string
	}{
		{"missing header", "", &stubTokenVerifier{}, http.StatusUnauthorized, "unauthenticated", "token_missing"},
		{"basic scheme", "Basic Zm9vOmJhcg==", &stubTokenVerifier{}, http.StatusUnauthorized, "unauthenticated", "token_missing"},
		{"expired", "Bearer t", &stubTokenVerifier{err: ErrTokenExpired}, http.StatusUnauthorized, "token_expired", "token_expired"},
		{"invalid", "Bearer t", &stubTokenVerifier{err: ErrTokenInvalid}, http.StatusUnauthorized, "invalid_token", "token_invalid"},
		{"timeout", "Bearer t", &stubTokenVerifier{err: context.DeadlineExceeded}, http.StatusServiceUnavailable, "verification_unavailable", "verifier_timeout"},
		{"no role", "Bearer t", &stubTokenVerifier{token: staffToken("uid-1", nil)}, http.StatusForbidden, "forbidden", "missing_role"},
		{"wrong role", "Bearer t", &stubTokenVerifier{token: staffToken("uid-2", "courier")}, http.StatusForbidden, "forbidden", "insufficient_role"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			metrics := &recordingMetrics{}
			events := &eventRecorder{}
			authn := NewAuthenticator(tc.verifier, WithMetrics(metrics), WithLogger(events.logger()))

			rec, seen := serve(t, authn.RequireFirebaseAuth(RoleStaff, RoleAdmin), tc.header)
			if seen != nil {
				t.Fatalf("handler should not run")
			}
			if rec.Code != tc.status || errorCode(t, rec) != tc.code {
				t.Fatalf("expected %d %s, got %d %s", tc.status, tc.code, rec.Code, rec.Body.String())
			}
			if last := metrics.last(); last.success || last.reason != tc.reason {
				t.Fatalf("unexpected metrics %+v", last)
			}
			if names := events.names(); len(names) != 1 || names[0] != "auth.firebase.rejected" {
				t.Fatalf("unexpected events %v", names)
			}
		})
	}
}

func TestRequireFirebaseAuthRoleClaimShapes(t *testing.T) {
	for name, claim := range map[string]any{
		"string": "admin",
		"list":   []string{"viewer", "ADMIN"},
		"map":    map[string]any{"admin": true, "staff": false},
	} {
		t.Run(name, func(t *testing.T) {
			authn := NewAuthenticator(&stubTokenVerifier{token: staffToken("uid-9", claim)})
			rec, seen := serve(t, authn.RequireFirebaseAuth(RoleAdmin), "Bearer t")
			if rec.Code != http.StatusNoContent {
				t.Fatalf("expected admin to pass, got %d", rec.Code)
			}
			identity, _ := IdentityFromContext(seen.Context())
			if !identity.HasRole("admin") || identity.HasRole(RoleStaff) {
				t.Fatalf("unexpected roles %v", identity.Roles)
			}
		})
	}
}

func TestRequireFirebaseAuthCustomRoleClaim(t *testing.T) {
	token := &firebaseauth.Token{UID: "uid-3", Claims: map[string]any{"marwari_roles": []any{"staff"}}}
	authn := NewAuthenticator(&stubTokenVerifier{token: token}, WithRoleClaim("marwari_roles"))
	if rec, _ := serve(t, authn.RequireFirebaseAuth(RoleStaff), "Bearer t"); rec.Code != http.StatusNoContent {
		t.Fatalf("expected custom claim to be honoured, got %d", rec.Code)
	}
}

func TestIdentityActor(t *testing.T) {
	var missing *Identity
	if missing.Actor() != "admin:anonymous" || missing.HasRole(RoleStaff) {
		t.Fatalf("nil identity should be anonymous without roles")
	}
	if got := (&Identity{UID: " uid-4 "}).Actor(); got != "admin:uid-4" {
		t.Fatalf("unexpected actor %q", got)
	}
}
