package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/auth"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/services"
)

const metricsNamespace = "marwari_basket"

// Metrics owns the Prometheus collectors exported on /metrics. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	transitions    *prometheus.CounterVec
	webhooks       *prometheus.CounterVec
	notifications  *prometheus.CounterVec
	gatewayCalls   *prometheus.CounterVec
	verifications  *prometheus.CounterVec
	verifyLatency  *prometheus.HistogramVec
	requests       *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
}

var (
	_ services.MetricsRecorder = (*Metrics)(nil)
	_ auth.MetricsRecorder     = (*Metrics)(nil)
)

// NewMetrics registers the service collectors on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "order_transitions_total",
			Help:      "Order status transitions by origin, target, source and outcome.",
		}, []string{"from", "to", "source", "outcome"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "webhook_events_total",
			Help:      "Inbound webhook events by provider and outcome.",
		}, []string{"provider", "outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "notifications_total",
			Help:      "Customer and admin notifications by channel, kind and outcome.",
		}, []string{"channel", "kind", "outcome"}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "gateway_calls_total",
			Help:      "Calls to payment and carrier gateways by action and outcome.",
		}, []string{"gateway", "action", "outcome"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "auth_verifications_total",
			Help:      "Token and signature verifications by kind and reason.",
		}, []string{"kind", "success", "reason"}),
		verifyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "auth_verification_seconds",
			Help:      "Latency of token and signature verification.",
			Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		}, []string{"kind"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transitions,
		m.webhooks,
		m.notifications,
		m.gatewayCalls,
		m.verifications,
		m.verifyLatency,
		m.requests,
		m.requestLatency,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveTransition implements services.MetricsRecorder.
func (m *Metrics) ObserveTransition(from, to domain.OrderStatus, source domain.TransitionSource, outcome string) {
	if m == nil {
		return
	}
	fromLabel := string(from)
	if fromLabel == "" {
		fromLabel = "none"
	}
	m.transitions.WithLabelValues(fromLabel, string(to), string(source), outcome).Inc()
}

// ObserveWebhook implements services.MetricsRecorder.
func (m *Metrics) ObserveWebhook(provider, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(provider, outcome).Inc()
}

// ObserveGatewayCall implements services.MetricsRecorder.
func (m *Metrics) ObserveGatewayCall(gateway, action, outcome string) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(gateway, action, outcome).Inc()
}

// ObserveNotification implements notify.Metrics.
func (m *Metrics) ObserveNotification(channel, kind, outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(channel, kind, outcome).Inc()
}

// RecordVerification implements auth.MetricsRecorder.
func (m *Metrics) RecordVerification(_ context.Context, kind string, success bool, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(kind, strconv.FormatBool(success), reason).Inc()
	m.verifyLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *Metrics) observeRequest(method, route string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestLatency.WithLabelValues(method, route).Observe(latency.Seconds())
}
