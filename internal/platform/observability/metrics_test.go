package observability

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
)

func TestMetricsCountsServiceOutcomes(t *testing.T) {
	m := NewMetrics()

	m.ObserveTransition(domain.OrderStatusPending, domain.OrderStatusPaid, domain.SourcePayment, "applied")
	m.ObserveTransition(domain.OrderStatusPending, domain.OrderStatusPaid, domain.SourcePayment, "applied")
	m.ObserveTransition("", domain.OrderStatusPending, domain.SourceAdmin, "applied")
	m.ObserveWebhook("payment", "duplicate")
	m.ObserveGatewayCall("stripe", "refund", "timeout")
	m.ObserveNotification("email", "order-confirmed", "sent")
	m.RecordVerification(context.Background(), "oidc", false, "issuer_mismatch", 3*time.Millisecond)

	if got := testutil.ToFloat64(m.transitions.WithLabelValues("pending", "paid", string(domain.SourcePayment), "applied")); got != 2 {
		t.Fatalf("expected 2 transitions, got %v", got)
	}
	if got := testutil.ToFloat64(m.transitions.WithLabelValues("none", "pending", string(domain.SourceAdmin), "applied")); got != 1 {
		t.Fatalf("expected creation counted with from=none, got %v", got)
	}
	if got := testutil.ToFloat64(m.webhooks.WithLabelValues("payment", "duplicate")); got != 1 {
		t.Fatalf("unexpected webhook count %v", got)
	}
	if got := testutil.ToFloat64(m.gatewayCalls.WithLabelValues("stripe", "refund", "timeout")); got != 1 {
		t.Fatalf("unexpected gateway count %v", got)
	}
	if got := testutil.ToFloat64(m.notifications.WithLabelValues("email", "order-confirmed", "sent")); got != 1 {
		t.Fatalf("unexpected notification count %v", got)
	}
	if got := testutil.ToFloat64(m.verifications.WithLabelValues("oidc", "false", "issuer_mismatch")); got != 1 {
		t.Fatalf("unexpected verification count %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTransition(domain.OrderStatusPending, domain.OrderStatusPaid, domain.SourceAdmin, "applied")
	m.ObserveWebhook("payment", "applied")
	m.ObserveGatewayCall("carrier", "shipment", "ok")
	m.ObserveNotification("sms", "shipped", "failed")
	m.RecordVerification(context.Background(), "webhook_hmac", true, "ok", time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 from nil metrics handler, got %d", rec.Code)
	}
}

func TestMetricsHandlerExposesCounters(t *testing.T) {
	m := NewMetrics()
	m.ObserveWebhook("shipping", "applied")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	want := `marwari_basket_webhook_events_total{outcome="applied",provider="shipping"} 1`
	if !strings.Contains(string(body), want) {
		t.Fatalf("expected %q in exposition:\n%s", want, body)
	}
}
