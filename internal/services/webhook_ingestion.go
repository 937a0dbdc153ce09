package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/repositories"
)

const (
	ProviderPayment  = "payment"
	ProviderShipping = "shipping"

	WebhookApplied    = "applied"
	WebhookNoop       = "noop"
	WebhookStale      = "stale"
	WebhookDuplicate  = "duplicate"
	WebhookDeadLetter = "dead_letter"
	WebhookRecorded   = "recorded"
)

var (
	// ErrInvalidSignature rejects callbacks that fail authentication.
	ErrInvalidSignature = errors.New("webhook: invalid signature")
	// ErrWebhookInvalidPayload rejects callbacks whose body cannot be understood.
	ErrWebhookInvalidPayload = errors.New("webhook: invalid payload")
	// ErrWebhookUnavailable signals a transient failure; the provider should redeliver.
	ErrWebhookUnavailable = errors.New("webhook: temporarily unavailable")
)

var paymentEventTargets = map[string]domain.OrderStatus{
	"payment.succeeded": domain.OrderStatusPaid,
	"payment.captured":  domain.OrderStatusPaid,
	"paid":              domain.OrderStatusPaid,
	"payment.refunded":  domain.OrderStatusRefunded,
	"refunded":          domain.OrderStatusRefunded,
}

var paymentFailureEvents = map[string]bool{
	"payment.failed": true,
	"failed":         true,
}

var carrierStatusTargets = map[string]domain.OrderStatus{
	"picked_up":        domain.OrderStatusShipped,
	"shipped":          domain.OrderStatusShipped,
	"in_transit":       domain.OrderStatusShipped,
	"out_for_delivery": domain.OrderStatusShipped,
	"delivered":        domain.OrderStatusDelivered,
}

// WebhookOutcome reports how a callback was handled. Every outcome is acknowledged to the provider.
type WebhookOutcome struct {
	Provider string             `json:"provider"`
	EventID  string             `json:"event_id"`
	OrderID  string             `json:"order_id,omitempty"`
	Outcome  string             `json:"outcome"`
	Status   domain.OrderStatus `json:"status,omitempty"`
	Degraded bool               `json:"degraded,omitempty"`
	Reason   string             `json:"reason,omitempty"`
}

type paymentWebhookPayload struct {
	ID            string             `json:"id" validate:"required,max=200"`
	Type          string             `json:"type" validate:"required,max=100"`
	TransactionID string             `json:"transactionId" validate:"required,max=200"`
	OrderID       string             `json:"orderId,omitempty"`
	Data          paymentWebhookData `json:"data"`
}

type paymentWebhookData struct {
	Amount   int64  `json:"amount" validate:"gte=0"`
	RefundID string `json:"refundId,omitempty"`
	Reason   string `json:"reason,omitempty" validate:"max=500"`
}

type shippingWebhookPayload struct {
	ID                string     `json:"id" validate:"required,max=200"`
	TrackingNumber    string     `json:"trackingNumber" validate:"required,max=100"`
	Status            string     `json:"status" validate:"required,max=64"`
	Location          string     `json:"location,omitempty" validate:"max=200"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery,omitempty"`
}

// WebhookIngestorDeps bundles collaborators required to construct the ingestor.
type WebhookIngestorDeps struct {
	StateMachine    OrderStateMachine
	Orders          repositories.OrderRepository
	Verifier        SignatureVerifier
	Deduper         EventDeduper
	DeadLetters     DeadLetterSink
	Notifier        Notifier
	Metrics         MetricsRecorder
	PaymentGateway  string
	ShippingCarrier string
	Clock           func() time.Time
	Logger          Logger
}

type webhookIngestor struct {
	machine     OrderStateMachine
	orders      repositories.OrderRepository
	verifier    SignatureVerifier
	deduper     EventDeduper
	deadLetters DeadLetterSink
	notifier    Notifier
	metrics     MetricsRecorder
	gateway     string
	carrier     string
	clock       func() time.Time
	logger      Logger
	validate    *validator.Validate
	sanitizer   *bluemonday.Policy
}

var _ WebhookIngestor = (*webhookIngestor)(nil)

// NewWebhookIngestor wires the webhook ingestion service.
func NewWebhookIngestor(deps WebhookIngestorDeps) (WebhookIngestor, error) {
	if deps.StateMachine == nil {
		return nil, errors.New("webhook ingestor: state machine is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("webhook ingestor: order repository is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("webhook ingestor: signature verifier is required")
	}
	if deps.Deduper == nil {
		return nil, errors.New("webhook ingestor: event deduper is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	gateway := strings.TrimSpace(deps.PaymentGateway)
	if gateway == "" {
		gateway = ProviderPayment
	}
	carrier := strings.TrimSpace(deps.ShippingCarrier)
	if carrier == "" {
		carrier = ProviderShipping
	}
	return &webhookIngestor{
		machine:     deps.StateMachine,
		orders:      deps.Orders,
		verifier:    deps.Verifier,
		deduper:     deps.Deduper,
		deadLetters: deps.DeadLetters,
		notifier:    deps.Notifier,
		metrics:     metrics,
		gateway:     gateway,
		carrier:     carrier,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger:    logger,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

func (w *webhookIngestor) IngestPayment(ctx context.Context, raw []byte, signature string) (WebhookOutcome, error) {
	if err := w.authenticate(ctx, ProviderPayment, raw, signature); err != nil {
		return WebhookOutcome{}, err
	}
	var payload paymentWebhookPayload
	if err := w.decode(raw, &payload); err != nil {
		w.metrics.ObserveWebhook(ProviderPayment, "invalid_payload")
		return WebhookOutcome{}, err
	}
	eventType := strings.ToLower(strings.TrimSpace(payload.Type))
	outcome := WebhookOutcome{Provider: ProviderPayment, EventID: payload.ID}

	return w.deduplicated(ctx, outcome, func() (WebhookOutcome, error) {
		order, err := w.orders.FindByTransactionID(ctx, payload.TransactionID)
		if err != nil {
			if isNotFound(err) {
				return w.deadLetter(ctx, outcome, nil, raw, "no order for transaction "+payload.TransactionID), nil
			}
			return outcome, fmt.Errorf("%w: %v", ErrWebhookUnavailable, err)
		}
		outcome.OrderID = order.ID
		if payload.OrderID != "" && payload.OrderID != order.ID {
			w.logger(ctx, "webhook.payment.order_mismatch", map[string]any{
				"eventId":       payload.ID,
				"claimedOrder":  payload.OrderID,
				"resolvedOrder": order.ID,
			})
		}

		if paymentFailureEvents[eventType] {
			updated, err := w.machine.RecordPaymentFailure(ctx, PaymentFailureCommand{
				OrderID: order.ID,
				Reason:  payload.Data.Reason,
				EventID: payload.ID,
				Actor:   "webhook:" + w.gateway,
			})
			if err != nil {
				return outcome, w.transientOr(err)
			}
			outcome.Outcome = WebhookRecorded
			outcome.Status = updated.Status
			return outcome, nil
		}

		target, ok := paymentEventTargets[eventType]
		if !ok {
			return w.deadLetter(ctx, outcome, &order, raw, "unsupported payment event "+eventType), nil
		}
		cmd := TransitionCommand{
			OrderID: order.ID,
			Target:  target,
			Note:    fmt.Sprintf("payment update (%s) via %s event %s", eventType, w.gateway, payload.ID),
			Context: TransitionContext{
				Source:        domain.SourcePayment,
				Actor:         "webhook:" + w.gateway,
				EventID:       payload.ID,
				TolerateStale: true,
			},
		}
		if target == domain.OrderStatusRefunded {
			if order.Status != domain.OrderStatusReturned && order.Status != domain.OrderStatusRefunded {
				return w.deadLetter(ctx, outcome, &order, raw, "refund reported for order in status "+string(order.Status)), nil
			}
			refundID := strings.TrimSpace(payload.Data.RefundID)
			amount := payload.Data.Amount
			cmd.prepare = func(o *domain.Order, _ time.Time) error {
				if refundID != "" {
					o.Return.RefundID = refundID
				}
				if amount > 0 && amount <= o.Total {
					o.Return.RefundAmount = amount
				}
				return nil
			}
		}
		return w.transition(ctx, outcome, &order, raw, cmd)
	})
}

func (w *webhookIngestor) IngestShipping(ctx context.Context, raw []byte, signature string) (WebhookOutcome, error) {
	if err := w.authenticate(ctx, ProviderShipping, raw, signature); err != nil {
		return WebhookOutcome{}, err
	}
	var payload shippingWebhookPayload
	if err := w.decode(raw, &payload); err != nil {
		w.metrics.ObserveWebhook(ProviderShipping, "invalid_payload")
		return WebhookOutcome{}, err
	}
	carrierStatus := strings.ToLower(strings.TrimSpace(payload.Status))
	outcome := WebhookOutcome{Provider: ProviderShipping, EventID: payload.ID}

	return w.deduplicated(ctx, outcome, func() (WebhookOutcome, error) {
		order, err := w.orders.FindByTrackingNumber(ctx, payload.TrackingNumber)
		if err != nil {
			if isNotFound(err) {
				return w.deadLetter(ctx, outcome, nil, raw, "no order for tracking number "+payload.TrackingNumber), nil
			}
			return outcome, fmt.Errorf("%w: %v", ErrWebhookUnavailable, err)
		}
		outcome.OrderID = order.ID

		target, ok := carrierStatusTargets[carrierStatus]
		if !ok {
			return w.deadLetter(ctx, outcome, &order, raw, "carrier reported "+carrierStatus), nil
		}
		note := "carrier update: " + carrierStatus
		if location := strings.TrimSpace(w.sanitizer.Sanitize(payload.Location)); location != "" {
			note += " at " + location
		}
		if payload.EstimatedDelivery != nil {
			note += ", eta " + payload.EstimatedDelivery.UTC().Format(time.DateOnly)
		}
		return w.transition(ctx, outcome, &order, raw, TransitionCommand{
			OrderID: order.ID,
			Target:  target,
			Note:    note,
			Context: TransitionContext{
				Source:        domain.SourceCarrier,
				Actor:         "webhook:" + w.carrier,
				EventID:       payload.ID,
				TolerateStale: true,
			},
		})
	})
}

func (w *webhookIngestor) authenticate(ctx context.Context, provider string, raw []byte, signature string) error {
	if err := w.verifier.Verify(ctx, provider, raw, signature); err != nil {
		w.metrics.ObserveWebhook(provider, "invalid_signature")
		w.logger(ctx, "webhook.signature.rejected", map[string]any{
			"security": true,
			"provider": provider,
			"error":    err.Error(),
		})
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

func (w *webhookIngestor) decode(raw []byte, target any) error {
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%w: %v", ErrWebhookInvalidPayload, err)
	}
	if err := w.validate.Struct(target); err != nil {
		return fmt.Errorf("%w: %v", ErrWebhookInvalidPayload, err)
	}
	return nil
}

// deduplicated claims provider:eventId before running process. A processing error releases the
// claim so the provider's redelivery is handled again.
func (w *webhookIngestor) deduplicated(ctx context.Context, outcome WebhookOutcome, process func() (WebhookOutcome, error)) (WebhookOutcome, error) {
	key := outcome.Provider + ":" + outcome.EventID
	claimed, err := w.deduper.Claim(ctx, key)
	if err != nil {
		w.metrics.ObserveWebhook(outcome.Provider, "dedup_error")
		return WebhookOutcome{}, fmt.Errorf("%w: dedup claim: %v", ErrWebhookUnavailable, err)
	}
	if !claimed {
		outcome.Outcome = WebhookDuplicate
		w.metrics.ObserveWebhook(outcome.Provider, WebhookDuplicate)
		w.logger(ctx, "webhook.duplicate", map[string]any{"provider": outcome.Provider, "eventId": outcome.EventID})
		return outcome, nil
	}

	result, err := process()
	if err != nil {
		if releaseErr := w.deduper.Release(context.WithoutCancel(ctx), key); releaseErr != nil {
			w.logger(ctx, "webhook.dedup.release_failed", map[string]any{"key": key, "error": releaseErr.Error()})
		}
		w.metrics.ObserveWebhook(outcome.Provider, "error")
		return WebhookOutcome{}, err
	}
	if err := w.deduper.Complete(context.WithoutCancel(ctx), key); err != nil {
		w.logger(ctx, "webhook.dedup.complete_failed", map[string]any{"key": key, "error": err.Error()})
	}
	w.metrics.ObserveWebhook(outcome.Provider, result.Outcome)
	return result, nil
}

func (w *webhookIngestor) transition(ctx context.Context, outcome WebhookOutcome, order *domain.Order, raw []byte, cmd TransitionCommand) (WebhookOutcome, error) {
	result, err := w.machine.ApplyTransition(ctx, cmd)
	if err != nil {
		if errors.Is(err, ErrIllegalTransition) {
			return w.deadLetter(ctx, outcome, order, raw, err.Error()), nil
		}
		return outcome, w.transientOr(err)
	}
	outcome.Status = result.Order.Status
	outcome.Degraded = result.Degraded
	switch result.Outcome {
	case OutcomeApplied:
		outcome.Outcome = WebhookApplied
	case OutcomeNoop:
		outcome.Outcome = WebhookNoop
	case OutcomeStale:
		outcome.Outcome = WebhookStale
		if result.Order.Status == domain.OrderStatusCancelled {
			// A provider still moving a cancelled order forward needs a human.
			w.alert(ctx, result.Order)
		}
	}
	return outcome, nil
}

func (w *webhookIngestor) deadLetter(ctx context.Context, outcome WebhookOutcome, order *domain.Order, raw []byte, reason string) WebhookOutcome {
	outcome.Outcome = WebhookDeadLetter
	outcome.Reason = reason
	w.logger(ctx, "webhook.dead_letter", map[string]any{
		"provider": outcome.Provider,
		"eventId":  outcome.EventID,
		"orderId":  outcome.OrderID,
		"reason":   reason,
	})
	if w.deadLetters != nil {
		letter := DeadLetter{
			Provider:   outcome.Provider,
			EventID:    outcome.EventID,
			OrderID:    outcome.OrderID,
			Reason:     reason,
			Payload:    append([]byte(nil), raw...),
			ReceivedAt: w.clock(),
		}
		if err := w.deadLetters.PublishDeadLetter(context.WithoutCancel(ctx), letter); err != nil {
			w.logger(ctx, "webhook.dead_letter.publish_failed", map[string]any{
				"provider": outcome.Provider,
				"eventId":  outcome.EventID,
				"error":    err.Error(),
			})
		}
	}
	if order != nil {
		w.alert(ctx, *order)
	}
	return outcome
}

func (w *webhookIngestor) alert(ctx context.Context, order domain.Order) {
	if w.notifier == nil {
		return
	}
	w.notifier.Notify(context.WithoutCancel(ctx), order, domain.NotificationAdminAlert)
}

// transientOr keeps business errors as they are and marks everything else retryable.
func (w *webhookIngestor) transientOr(err error) error {
	switch {
	case errors.Is(err, ErrOrderNotFound), errors.Is(err, ErrOrderInvalidInput):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrWebhookUnavailable, err)
	}
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
