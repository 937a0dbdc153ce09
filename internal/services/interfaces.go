package services

import (
	"context"
	"time"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
)

// Logger receives structured service events; cmd/api adapts it to zap.
type Logger func(ctx context.Context, event string, fields map[string]any)

// SystemHealthReport is the readiness report with the build serving it.
type SystemHealthReport struct {
	domain.ReadinessReport
	Build  BuildInfo
	Uptime time.Duration
}

// OrderStateMachine is the single writer of order status and status history.
type OrderStateMachine interface {
	ApplyTransition(ctx context.Context, cmd TransitionCommand) (TransitionResult, error)
	RecordPaymentFailure(ctx context.Context, cmd PaymentFailureCommand) (domain.Order, error)
	RetryShipment(ctx context.Context, orderID string) (domain.Order, error)
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
	TrackOrder(ctx context.Context, orderID string) (TrackingStatus, error)
}

// WebhookIngestor turns signed provider callbacks into state machine requests.
type WebhookIngestor interface {
	IngestPayment(ctx context.Context, payload []byte, signature string) (WebhookOutcome, error)
	IngestShipping(ctx context.Context, payload []byte, signature string) (WebhookOutcome, error)
}

// BulkProcessor applies one admin action across many orders.
type BulkProcessor interface {
	BulkApply(ctx context.Context, cmd BulkCommand) (BulkReport, error)
}

// ReturnService drives the delivered -> returned -> refunded path.
type ReturnService interface {
	RequestReturn(ctx context.Context, cmd ReturnCommand) (domain.Order, error)
	ProcessRefund(ctx context.Context, cmd RefundCommand) (domain.Order, error)
}

// GatewayRetryProcessor re-runs gateway side effects that failed after their transition committed.
type GatewayRetryProcessor interface {
	ProcessRetry(ctx context.Context, job GatewayRetryJob) (GatewayRetryResult, error)
}

// SystemService exposes operational metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// PaymentGateway is the boundary to the payment processor.
type PaymentGateway interface {
	Name() string
	Refund(ctx context.Context, req RefundRequest) (RefundReceipt, error)
}

// RefundRequest carries amounts in whole currency units.
type RefundRequest struct {
	OrderID        string
	TransactionID  string
	Amount         int64
	Currency       string
	Reason         string
	IdempotencyKey string
}

// RefundReceipt confirms a refund accepted by the gateway.
type RefundReceipt struct {
	RefundID string
	Status   string
}

// ShippingCarrier is the boundary to the courier.
type ShippingCarrier interface {
	Name() string
	CreateShipment(ctx context.Context, req ShipmentRequest) (ShipmentReceipt, error)
	Track(ctx context.Context, trackingNumber string) (TrackingStatus, error)
}

// ShipmentRequest snapshots what the carrier needs to book a pickup.
type ShipmentRequest struct {
	OrderID        string
	OrderNumber    string
	Method         domain.ShippingMethod
	Address        domain.Address
	Items          []domain.OrderItem
	PackingSlipRef string
	LabelRef       string
	CashOnDelivery int64
	IdempotencyKey string
}

// ShipmentReceipt is the carrier's booking confirmation.
type ShipmentReceipt struct {
	Carrier        string
	TrackingNumber string
	TrackingURL    string
}

// TrackingStatus is the carrier's latest view of a shipment.
type TrackingStatus struct {
	Carrier           string
	TrackingNumber    string
	Status            string
	Location          string
	EstimatedDelivery *time.Time
	UpdatedAt         time.Time
}

// Notifier fans an order event out to customer and admin channels. Implementations never fail the
// caller; delivery problems are handled internally.
type Notifier interface {
	Notify(ctx context.Context, order domain.Order, kind domain.NotificationKind)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	ID             string
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus string
	CurrentStatus  string
	Source         string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// GatewayRetryQueue schedules gateway side effects for another attempt.
type GatewayRetryQueue interface {
	Enqueue(ctx context.Context, job GatewayRetryJob) error
}

// GatewayAction identifies the side effect a retry job re-runs.
type GatewayAction string

const (
	GatewayActionShipment GatewayAction = "shipment"
	GatewayActionRefund   GatewayAction = "refund"
)

// GatewayRetryJob is the payload carried by the retry queue.
type GatewayRetryJob struct {
	ID       string        `json:"id"`
	Action   GatewayAction `json:"action"`
	OrderID  string        `json:"orderId"`
	Attempt  int           `json:"attempt"`
	Amount   int64         `json:"amount,omitempty"`
	Reason   string        `json:"reason,omitempty"`
	QueuedAt time.Time     `json:"queuedAt"`
}

// DeadLetterSink parks webhook events that cannot be mapped to a transition.
type DeadLetterSink interface {
	PublishDeadLetter(ctx context.Context, letter DeadLetter) error
}

// DeadLetter describes a parked webhook event.
type DeadLetter struct {
	Provider   string    `json:"provider"`
	EventID    string    `json:"eventId"`
	OrderID    string    `json:"orderId,omitempty"`
	Reason     string    `json:"reason"`
	Payload    []byte    `json:"payload"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// SignatureVerifier authenticates webhook payloads per provider.
type SignatureVerifier interface {
	Verify(ctx context.Context, provider string, payload []byte, header string) error
}

// EventDeduper records provider event ids so redelivered callbacks are recognised.
type EventDeduper interface {
	// Claim returns false when the event was already processed.
	Claim(ctx context.Context, key string) (bool, error)
	Complete(ctx context.Context, key string) error
	Release(ctx context.Context, key string) error
}

// ArtifactStore persists generated bulk documents.
type ArtifactStore interface {
	Put(ctx context.Context, name, contentType string, data []byte) (Artifact, error)
}

// Artifact references a stored document.
type Artifact struct {
	Name        string
	ContentType string
	Size        int
	URL         string
	ExpiresAt   time.Time
}

// MetricsRecorder counts service outcomes; nil-safe implementations are provided by observability.
type MetricsRecorder interface {
	ObserveTransition(from, to domain.OrderStatus, source domain.TransitionSource, outcome string)
	ObserveWebhook(provider, outcome string)
	ObserveGatewayCall(gateway, action, outcome string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveTransition(domain.OrderStatus, domain.OrderStatus, domain.TransitionSource, string) {
}
func (noopMetrics) ObserveWebhook(string, string)             {}
func (noopMetrics) ObserveGatewayCall(string, string, string) {}

func noopLogger(context.Context, string, map[string]any) {}
