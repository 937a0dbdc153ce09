package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/requestctx"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/services"
)

// HealthHandlers serves /healthz and /readyz.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

func WithHealthSystemService(svc services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = svc
	}
}

func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs the probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

type dependencyPayload struct {
	Name      string              `json:"name"`
	Status    domain.HealthStatus `json:"status"`
	Critical  bool                `json:"critical"`
	Error     string              `json:"error,omitempty"`
	LatencyMS int64               `json:"latencyMs"`
	CheckedAt string              `json:"checkedAt,omitempty"`
}

type readinessPayload struct {
	Status       domain.HealthStatus `json:"status"`
	Version      string              `json:"version,omitempty"`
	CommitSHA    string              `json:"commitSha,omitempty"`
	Environment  string              `json:"environment,omitempty"`
	Uptime       string              `json:"uptime,omitempty"`
	GeneratedAt  string              `json:"generatedAt"`
	Dependencies []dependencyPayload `json:"dependencies"`
}

// Healthz reports liveness and never touches a dependency.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status":      domain.HealthOK,
		"version":     h.build.Version,
		"commitSha":   h.build.CommitSHA,
		"environment": h.build.Environment,
		"uptime":      now.Sub(h.build.StartedAt.UTC()).Truncate(time.Second).String(),
		"timestamp":   now.Format(time.RFC3339),
	})
}

// Readyz answers 503 only while a critical dependency is down. A degraded optional dependency
// still answers 200 so the load balancer keeps routing.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := h.clock().UTC()
	if h.system == nil {
		writeJSONResponse(w, http.StatusOK, readinessPayload{
			Status:       domain.HealthOK,
			GeneratedAt:  now.Format(time.RFC3339),
			Dependencies: []dependencyPayload{},
		})
		return
	}

	report, err := h.system.HealthReport(ctx)
	if err != nil {
		requestctx.Logger(ctx).Warn("health.readiness.failed", zap.Error(err))
		writeJSONResponse(w, http.StatusServiceUnavailable, readinessPayload{
			Status:       domain.HealthDown,
			GeneratedAt:  now.Format(time.RFC3339),
			Dependencies: []dependencyPayload{},
		})
		return
	}

	generated := report.GeneratedAt
	if generated.IsZero() {
		generated = now
	}
	payload := readinessPayload{
		Status:       report.Status,
		Version:      report.Build.Version,
		CommitSHA:    report.Build.CommitSHA,
		Environment:  report.Build.Environment,
		GeneratedAt:  generated.UTC().Format(time.RFC3339),
		Dependencies: make([]dependencyPayload, 0, len(report.Dependencies)),
	}
	if report.Uptime > 0 {
		payload.Uptime = report.Uptime.Truncate(time.Second).String()
	}
	for _, dep := range report.Dependencies {
		entry := dependencyPayload{
			Name:      dep.Name,
			Status:    dep.Status,
			Critical:  dep.Critical,
			Error:     dep.Error,
			LatencyMS: dep.Latency.Milliseconds(),
		}
		if !dep.CheckedAt.IsZero() {
			entry.CheckedAt = dep.CheckedAt.UTC().Format(time.RFC3339)
		}
		payload.Dependencies = append(payload.Dependencies, entry)
	}

	status := http.StatusOK
	if !report.Ready() {
		status = http.StatusServiceUnavailable
		requestctx.Logger(ctx).Warn("health.readiness.down", zap.Stringer("status", report.Status))
	}
	writeJSONResponse(w, status, payload)
}
