package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/services"
)

const (
	defaultTimeout   = 10 * time.Second
	maxResponseBytes = 1 << 20
)

// ErrShipmentRejected means the carrier refused the request; resending it unchanged will not help.
var ErrShipmentRejected = errors.New("shipping: request rejected by carrier")

// Logger receives structured adapter events.
type Logger func(ctx context.Context, event string, fields map[string]any)

// APIError carries a non-2xx carrier response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("shipping: carrier responded %d: %s", e.StatusCode, e.Message)
}

// Is reports client errors other than throttling/conflicts as rejections.
func (e *APIError) Is(target error) bool {
	if target != ErrShipmentRejected {
		return false
	}
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusConflict, http.StatusTooManyRequests:
		return false
	}
	return e.StatusCode >= 400 && e.StatusCode < 500
}

// HTTPCarrierConfig configures the JSON carrier client.
type HTTPCarrierConfig struct {
	Name       string
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     Logger
}

// HTTPCarrier books shipments and reads tracking through a courier aggregator's REST API.
type HTTPCarrier struct {
	name    string
	baseURL *url.URL
	apiKey  string
	client  *http.Client
	logger  Logger
}

var _ services.ShippingCarrier = (*HTTPCarrier)(nil)

// NewHTTPCarrier validates the configuration and builds the client.
func NewHTTPCarrier(cfg HTTPCarrierConfig) (*HTTPCarrier, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, errors.New("shipping: base url is required")
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("shipping: invalid base url %q", cfg.BaseURL)
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("shipping: api key is required")
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = base.Hostname()
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &HTTPCarrier{name: name, baseURL: base, apiKey: apiKey, client: client, logger: logger}, nil
}

func (c *HTTPCarrier) Name() string { return c.name }

type shipmentRequestBody struct {
	Reference      string             `json:"reference"`
	OrderNumber    string             `json:"orderNumber"`
	Service        string             `json:"service"`
	Consignee      consigneeBody      `json:"consignee"`
	Items          []shipmentItemBody `json:"items"`
	PackingSlipRef string             `json:"packingSlipRef,omitempty"`
	LabelRef       string             `json:"labelRef,omitempty"`
	CODAmount      int64              `json:"codAmount,omitempty"`
}

type consigneeBody struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country,omitempty"`
}

type shipmentItemBody struct {
	SKU      string `json:"sku"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

type shipmentResponseBody struct {
	Carrier        string `json:"carrier"`
	TrackingNumber string `json:"trackingNumber"`
	TrackingURL    string `json:"trackingUrl"`
}

type trackingResponseBody struct {
	Carrier           string     `json:"carrier"`
	TrackingNumber    string     `json:"trackingNumber"`
	Status            string     `json:"status"`
	Location          string     `json:"location"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery"`
	UpdatedAt         time.Time  `json:"updatedAt"`
}

type errorResponseBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// CreateShipment books a pickup. The idempotency key is forwarded so a retried booking returns the
// original shipment.
func (c *HTTPCarrier) CreateShipment(ctx context.Context, req services.ShipmentRequest) (services.ShipmentReceipt, error) {
	addr := req.Address
	body := shipmentRequestBody{
		Reference:   req.OrderID,
		OrderNumber: req.OrderNumber,
		Service:     string(req.Method),
		Consignee: consigneeBody{
			Name:       addr.Name,
			Phone:      addr.Phone,
			Line1:      addr.Line1,
			Line2:      addr.Line2,
			City:       addr.City,
			State:      addr.State,
			PostalCode: addr.PostalCode,
			Country:    addr.Country,
		},
		Items:          make([]shipmentItemBody, 0, len(req.Items)),
		PackingSlipRef: req.PackingSlipRef,
		LabelRef:       req.LabelRef,
		CODAmount:      req.CashOnDelivery,
	}
	for _, item := range req.Items {
		body.Items = append(body.Items, shipmentItemBody{SKU: item.SKU, Name: item.Name, Quantity: item.Quantity})
	}

	var resp shipmentResponseBody
	if err := c.do(ctx, http.MethodPost, "/v1/shipments", req.IdempotencyKey, body, &resp); err != nil {
		return services.ShipmentReceipt{}, err
	}
	if strings.TrimSpace(resp.TrackingNumber) == "" {
		return services.ShipmentReceipt{}, errors.New("shipping: carrier response missing tracking number")
	}
	carrier := resp.Carrier
	if carrier == "" {
		carrier = c.name
	}
	c.logger(ctx, "shipping.shipment.created", map[string]any{
		"orderId":        req.OrderID,
		"carrier":        carrier,
		"trackingNumber": resp.TrackingNumber,
	})
	return services.ShipmentReceipt{Carrier: carrier, TrackingNumber: resp.TrackingNumber, TrackingURL: resp.TrackingURL}, nil
}

func (c *HTTPCarrier) Track(ctx context.Context, trackingNumber string) (services.TrackingStatus, error) {
	number := strings.TrimSpace(trackingNumber)
	if number == "" {
		return services.TrackingStatus{}, fmt.Errorf("%w: tracking number is required", ErrShipmentRejected)
	}
	var resp trackingResponseBody
	if err := c.do(ctx, http.MethodGet, "/v1/shipments/"+number+"/tracking", "", nil, &resp); err != nil {
		return services.TrackingStatus{}, err
	}
	carrier := resp.Carrier
	if carrier == "" {
		carrier = c.name
	}
	if resp.TrackingNumber == "" {
		resp.TrackingNumber = number
	}
	return services.TrackingStatus{
		Carrier:           carrier,
		TrackingNumber:    resp.TrackingNumber,
		Status:            strings.ToLower(strings.TrimSpace(resp.Status)),
		Location:          resp.Location,
		EstimatedDelivery: resp.EstimatedDelivery,
		UpdatedAt:         resp.UpdatedAt.UTC(),
	}, nil
}

func (c *HTTPCarrier) do(ctx context.Context, method, path, idempotencyKey string, in, out any) error {
	var reader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("shipping: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	endpoint := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("shipping: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	res, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("shipping: %s %s: %w", method, path, err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("shipping: read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: res.StatusCode, Message: http.StatusText(res.StatusCode)}
		var body errorResponseBody
		if json.Unmarshal(data, &body) == nil {
			if msg := strings.TrimSpace(body.Message); msg != "" {
				apiErr.Message = msg
			} else if code := strings.TrimSpace(body.Error); code != "" {
				apiErr.Message = code
			}
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("shipping: decode response: %w", err)
	}
	return nil
}
