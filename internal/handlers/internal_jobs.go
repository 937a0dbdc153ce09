package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/httpx"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/services"
)

const pushBodyLimit = 256 * 1024

// InternalJobHandlers receives Pub/Sub push deliveries for background work.
type InternalJobHandlers struct {
	retries services.GatewayRetryProcessor
}

// NewInternalJobHandlers constructs the push endpoints.
func NewInternalJobHandlers(retries services.GatewayRetryProcessor) *InternalJobHandlers {
	return &InternalJobHandlers{retries: retries}
}

// Routes registers the /internal endpoints.
func (h *InternalJobHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/jobs/gateway-retry", h.gatewayRetry)
}

type pushEnvelope struct {
	Message struct {
		Data        []byte            `json:"data"`
		Attributes  map[string]string `json:"attributes"`
		MessageID   string            `json:"messageId"`
		PublishTime string            `json:"publishTime"`
	} `json:"message"`
	Subscription    string `json:"subscription"`
	DeliveryAttempt int    `json:"deliveryAttempt"`
}

// gatewayRetry acknowledges with 2xx or 4xx; a 5xx makes Pub/Sub redeliver.
func (h *InternalJobHandlers) gatewayRetry(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.retries == nil {
		httpx.WriteError(ctx, w, httpx.NewError("retry_unavailable", "gateway retry processor unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, pushBodyLimit)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}
	var envelope pushEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Message.Data) == 0 {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "push envelope is malformed", http.StatusBadRequest))
		return
	}
	var job services.GatewayRetryJob
	if err := json.Unmarshal(envelope.Message.Data, &job); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "retry job payload is malformed", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(job.ID) == "" {
		job.ID = envelope.Message.MessageID
	}
	if envelope.DeliveryAttempt > job.Attempt {
		job.Attempt = envelope.DeliveryAttempt
	}

	result, err := h.retries.ProcessRetry(ctx, job)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrOrderInvalidInput):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_job", err.Error(), http.StatusBadRequest))
		case errors.Is(err, services.ErrOrderNotFound):
			httpx.WriteError(ctx, w, httpx.NewError("order_not_found", err.Error(), http.StatusNotFound))
		case errors.Is(err, services.ErrGatewayTimeout):
			httpx.WriteError(ctx, w, httpx.NewError("gateway_timeout", "gateway did not confirm in time", http.StatusGatewayTimeout))
		case errors.Is(err, services.ErrGatewayUnavailable):
			httpx.WriteError(ctx, w, httpx.NewError("gateway_unavailable", "gateway unavailable", http.StatusBadGateway).WithCause(err))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("retry_failed", "failed to process retry job", http.StatusInternalServerError).WithCause(err))
		}
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}
