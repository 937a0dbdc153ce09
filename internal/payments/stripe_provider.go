package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/services"
)

// minorUnitsPerRupee converts whole rupees stored on orders to paise expected by Stripe.
const minorUnitsPerRupee = 100

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time

	refunds stripeRefundAPI
}

// StripeGateway refunds card and UPI payments captured through Stripe.
type StripeGateway struct {
	refunds stripeRefundAPI
	account string
	clock   func() time.Time
	logger  StripeLogger
}

var _ services.PaymentGateway = (*StripeGateway)(nil)

// NewStripeGateway constructs a Stripe gateway using the given configuration.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	refunds := cfg.refunds
	if refunds == nil {
		if apiKey == "" {
			return nil, errors.New("stripe: api key is required")
		}
		refunds = client.New(apiKey, cfg.Backends).Refunds
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeGateway{
		refunds: refunds,
		account: strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (g *StripeGateway) Name() string { return "stripe" }

// Refund refunds the payment identified by TransactionID, which may be a PaymentIntent (pi_) or a
// Charge (ch_) id. The idempotency key makes redelivered retries safe.
func (g *StripeGateway) Refund(ctx context.Context, req services.RefundRequest) (services.RefundReceipt, error) {
	if g == nil {
		return services.RefundReceipt{}, errors.New("stripe: gateway is nil")
	}
	txn := strings.TrimSpace(req.TransactionID)
	if txn == "" {
		return services.RefundReceipt{}, fmt.Errorf("%w: transaction id is required", ErrRefundRejected)
	}
	if req.Amount <= 0 {
		return services.RefundReceipt{}, fmt.Errorf("%w: amount must be positive", ErrRefundRejected)
	}

	params := &stripe.RefundParams{
		Amount: stripe.Int64(req.Amount * minorUnitsPerRupee),
	}
	if strings.HasPrefix(txn, "ch_") {
		params.Charge = stripe.String(txn)
	} else {
		params.PaymentIntent = stripe.String(txn)
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if g.account != "" {
		params.SetStripeAccount(g.account)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	if req.OrderID != "" {
		params.AddMetadata("order_id", req.OrderID)
	}

	refund, err := g.refunds.New(params)
	if err != nil {
		g.logger(ctx, "payments.stripe.refund.failed", map[string]any{
			"orderId":     req.OrderID,
			"transaction": txn,
			"error":       err.Error(),
		})
		return services.RefundReceipt{}, classifyStripeError(err)
	}
	if refund == nil || refund.ID == "" {
		return services.RefundReceipt{}, errors.New("stripe: refund response missing id")
	}

	switch refund.Status {
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		return services.RefundReceipt{}, fmt.Errorf("%w: refund %s is %s", ErrRefundRejected, refund.ID, refund.Status)
	}
	status := RefundStatusPending
	if refund.Status == stripe.RefundStatusSucceeded {
		status = RefundStatusSucceeded
	}

	g.logger(ctx, "payments.stripe.refund.created", map[string]any{
		"orderId":     req.OrderID,
		"refundId":    refund.ID,
		"status":      string(refund.Status),
		"amountMinor": refund.Amount,
		"at":          g.clock(),
	})
	return services.RefundReceipt{RefundID: refund.ID, Status: status}, nil
}

// classifyStripeError marks client-side rejections as permanent; everything else may succeed later.
func classifyStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= http.StatusBadRequest && stripeErr.HTTPStatusCode < http.StatusInternalServerError &&
			stripeErr.HTTPStatusCode != http.StatusTooManyRequests && stripeErr.HTTPStatusCode != http.StatusConflict {
			return fmt.Errorf("%w: %s", ErrRefundRejected, stripeErr.Msg)
		}
	}
	return fmt.Errorf("stripe: create refund: %w", err)
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case "", string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		// Return reasons are free text from the customer.
		return string(stripe.RefundReasonRequestedByCustomer)
	}
}
