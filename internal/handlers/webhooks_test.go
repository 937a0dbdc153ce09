package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/ratelimit"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/services"
)

func newWebhookRouter(cfg WebhookHandlersConfig) http.Handler {
	handlers := NewWebhookHandlers(cfg)
	return NewRouter(WithWebhookRoutes(handlers.Routes))
}

func TestWebhookHandlers_PaymentApplied(t *testing.T) {
	var gotSignature string
	var gotPayload []byte
	ingestor := &stubWebhookIngestor{
		paymentFn: func(_ context.Context, payload []byte, signature string) (services.WebhookOutcome, error) {
			gotPayload = payload
			gotSignature = signature
			return services.WebhookOutcome{
				Provider: services.ProviderPayment,
				EventID:  "evt_1",
				OrderID:  "ord_1",
				Outcome:  "applied",
				Status:   domain.OrderStatusPaid,
			}, nil
		},
	}
	router := newWebhookRouter(WebhookHandlersConfig{Ingestor: ingestor})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", strings.NewReader(`{"id":"evt_1"}`))
	req.Header.Set("X-Webhook-Signature", "t=1,v1=abc")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if gotSignature != "t=1,v1=abc" {
		t.Fatalf("expected signature to be forwarded, got %q", gotSignature)
	}
	if string(gotPayload) != `{"id":"evt_1"}` {
		t.Fatalf("expected raw payload, got %q", gotPayload)
	}
	body := decodeBody(t, rr)
	if body["outcome"] != "applied" || body["status"] != "paid" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestWebhookHandlers_CustomSignatureHeader(t *testing.T) {
	var gotSignature string
	ingestor := &stubWebhookIngestor{
		shippingFn: func(_ context.Context, _ []byte, signature string) (services.WebhookOutcome, error) {
			gotSignature = signature
			return services.WebhookOutcome{Provider: services.ProviderShipping, Outcome: "duplicate"}, nil
		},
	}
	router := newWebhookRouter(WebhookHandlersConfig{Ingestor: ingestor, SignatureHeader: "X-Carrier-Signature"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/shipping", strings.NewReader(`{}`))
	req.Header.Set("X-Carrier-Signature", "sig")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if gotSignature != "sig" {
		t.Fatalf("expected custom header to be read, got %q", gotSignature)
	}
}

func TestWebhookHandlers_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "bad signature", err: fmt.Errorf("payment: %w", services.ErrInvalidSignature), status: http.StatusUnauthorized, code: "invalid_signature"},
		{name: "bad payload", err: fmt.Errorf("%w: missing id", services.ErrWebhookInvalidPayload), status: http.StatusBadRequest, code: "invalid_payload"},
		{name: "store down", err: fmt.Errorf("%w: firestore", services.ErrWebhookUnavailable), status: http.StatusServiceUnavailable, code: "webhook_unavailable"},
		{name: "unexpected", err: fmt.Errorf("boom"), status: http.StatusInternalServerError, code: "webhook_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ingestor := &stubWebhookIngestor{
				paymentFn: func(context.Context, []byte, string) (services.WebhookOutcome, error) {
					return services.WebhookOutcome{}, tc.err
				},
			}
			router := newWebhookRouter(WebhookHandlersConfig{Ingestor: ingestor})

			req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", strings.NewReader(`{"id":"evt"}`))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if code := decodeBody(t, rr)["error"]; code != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, code)
			}
		})
	}
}

func TestWebhookHandlers_BodyLimit(t *testing.T) {
	called := false
	ingestor := &stubWebhookIngestor{
		paymentFn: func(context.Context, []byte, string) (services.WebhookOutcome, error) {
			called = true
			return services.WebhookOutcome{}, nil
		},
	}
	router := newWebhookRouter(WebhookHandlersConfig{Ingestor: ingestor, BodyLimit: 16})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", bytes.NewReader(bytes.Repeat([]byte("a"), 32)))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
	if called {
		t.Fatalf("expected ingestor not to be called")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", rr.Code)
	}
}

func TestWebhookHandlers_RateLimit(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	ok := func(context.Context, []byte, string) (services.WebhookOutcome, error) {
		return services.WebhookOutcome{Outcome: "applied"}, nil
	}
	ingestor := &stubWebhookIngestor{paymentFn: ok, shippingFn: ok}
	router := newWebhookRouter(WebhookHandlersConfig{
		Ingestor: ingestor,
		Limiter:  ratelimit.NewMemory(2, time.Minute, func() time.Time { return now }),
	})

	var last *httptest.ResponseRecorder
	send := func(path, remote string) int {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
		req.RemoteAddr = remote
		last = httptest.NewRecorder()
		router.ServeHTTP(last, req)
		return last.Code
	}

	for i := 0; i < 2; i++ {
		if code := send("/api/v1/webhooks/payment", "10.0.0.1:4000"); code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, code)
		}
	}
	if code := send("/api/v1/webhooks/payment", "10.0.0.1:4001"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 once the window is exhausted, got %d", code)
	}
	if got := last.Header().Get("Retry-After"); got != "60" {
		t.Fatalf("expected Retry-After 60, got %q", got)
	}
	if code := send("/api/v1/webhooks/shipping", "10.0.0.1:4000"); code != http.StatusOK {
		t.Fatalf("expected shipping to have its own budget, got %d", code)
	}
	if code := send("/api/v1/webhooks/payment", "10.0.0.2:4000"); code != http.StatusOK {
		t.Fatalf("expected other clients to be unaffected, got %d", code)
	}

	now = now.Add(2 * time.Minute)
	if code := send("/api/v1/webhooks/payment", "10.0.0.1:4000"); code != http.StatusOK {
		t.Fatalf("expected budget to reset after the window, got %d", code)
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis: connection refused")
}

func TestWebhookHandlers_RateLimiterFailureLetsCallbacksThrough(t *testing.T) {
	ingestor := &stubWebhookIngestor{
		paymentFn: func(context.Context, []byte, string) (services.WebhookOutcome, error) {
			return services.WebhookOutcome{Outcome: "applied"}, nil
		},
	}
	router := newWebhookRouter(WebhookHandlersConfig{Ingestor: ingestor, Limiter: failingLimiter{}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", strings.NewReader(`{}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected callback to pass when the limiter fails, got %d", rr.Code)
	}
}
