package handlers

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/httpx"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/ratelimit"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/requestctx"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/services"
)

const (
	defaultWebhookBodyLimit = 1 << 20
	defaultSignatureHeader  = "X-Webhook-Signature"
)

// WebhookHandlersConfig configures the provider callback endpoints.
type WebhookHandlersConfig struct {
	Ingestor        services.WebhookIngestor
	SignatureHeader string
	BodyLimit       int64
	// Limiter is keyed by provider and client address. Nil disables limiting.
	Limiter ratelimit.Limiter
}

// WebhookHandlers accepts signed payment and shipping callbacks.
type WebhookHandlers struct {
	ingestor  services.WebhookIngestor
	header    string
	bodyLimit int64
	limiter   ratelimit.Limiter
}

// NewWebhookHandlers constructs the webhook endpoints.
func NewWebhookHandlers(cfg WebhookHandlersConfig) *WebhookHandlers {
	header := strings.TrimSpace(cfg.SignatureHeader)
	if header == "" {
		header = defaultSignatureHeader
	}
	limit := cfg.BodyLimit
	if limit <= 0 {
		limit = defaultWebhookBodyLimit
	}
	return &WebhookHandlers{
		ingestor:  cfg.Ingestor,
		header:    header,
		bodyLimit: limit,
		limiter:   cfg.Limiter,
	}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payment", h.handle(services.ProviderPayment, func(ctx context.Context, payload []byte, signature string) (services.WebhookOutcome, error) {
		return h.ingestor.IngestPayment(ctx, payload, signature)
	}))
	r.Post("/shipping", h.handle(services.ProviderShipping, func(ctx context.Context, payload []byte, signature string) (services.WebhookOutcome, error) {
		return h.ingestor.IngestShipping(ctx, payload, signature)
	}))
}

type ingestFunc func(ctx context.Context, payload []byte, signature string) (services.WebhookOutcome, error)

func (h *WebhookHandlers) handle(provider string, ingest ingestFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if h.ingestor == nil {
			httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook ingestion unavailable", http.StatusServiceUnavailable))
			return
		}
		if !h.admit(w, r, provider) {
			return
		}

		payload, err := readLimitedBody(r, h.bodyLimit)
		if err != nil {
			switch {
			case errors.Is(err, errBodyTooLarge):
				httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "webhook body exceeds allowed size", http.StatusRequestEntityTooLarge))
			default:
				httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", "webhook body is required", http.StatusBadRequest))
			}
			return
		}

		outcome, err := ingest(ctx, payload, r.Header.Get(h.header))
		if err != nil {
			writeWebhookError(ctx, w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, outcome)
	}
}

// admit applies the rate limit. A failing limiter lets the callback through; the signature check
// still guards the endpoint.
func (h *WebhookHandlers) admit(w http.ResponseWriter, r *http.Request, provider string) bool {
	if h.limiter == nil {
		return true
	}
	ctx := r.Context()
	decision, err := h.limiter.Allow(ctx, provider+"|"+clientAddress(r))
	if err != nil {
		requestctx.Logger(ctx).Warn("webhook rate limiter unavailable", zap.String("provider", provider), zap.Error(err))
		return true
	}
	if decision.Allowed {
		return true
	}
	seconds := int(math.Ceil(decision.RetryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many webhook requests", http.StatusTooManyRequests).
		WithDetails(map[string]any{"retry_after_seconds": seconds}))
	return false
}

func writeWebhookError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidSignature):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusUnauthorized))
	case errors.Is(err, services.ErrWebhookInvalidPayload):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_payload", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrWebhookUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("webhook_unavailable", "webhook could not be processed; retry later", http.StatusServiceUnavailable).WithCause(err))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to process webhook", http.StatusInternalServerError).WithCause(err))
	}
}

func clientAddress(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
