package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
)

const maxReturnReasonLength = 1000

// ErrRefundNotConfirmed means the refund was not confirmed and the order's refund stays pending.
var ErrRefundNotConfirmed = errors.New("refund: not confirmed")

// ReturnCommand opens a return on a delivered order.
type ReturnCommand struct {
	OrderID string
	Reason  string
	Actor   string
}

// RefundCommand settles a pending refund. Amount zero refunds the recorded amount (the order total
// unless a partial amount was recorded). Offline confirms a refund paid outside the gateway, which
// cash-on-delivery orders require.
type RefundCommand struct {
	OrderID string
	Amount  int64
	Offline bool
	Actor   string
}

// ReturnServiceDeps bundles collaborators required to construct the return service.
type ReturnServiceDeps struct {
	StateMachine   OrderStateMachine
	Gateway        PaymentGateway
	RetryQueue     GatewayRetryQueue
	Metrics        MetricsRecorder
	GatewayTimeout time.Duration
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         Logger
}

type returnService struct {
	machine   OrderStateMachine
	gateway   PaymentGateway
	retries   GatewayRetryQueue
	metrics   MetricsRecorder
	timeout   time.Duration
	clock     func() time.Time
	newID     func() string
	logger    Logger
	sanitizer *bluemonday.Policy
}

var _ ReturnService = (*returnService)(nil)

// NewReturnService wires the return/refund workflow.
func NewReturnService(deps ReturnServiceDeps) (ReturnService, error) {
	if deps.StateMachine == nil {
		return nil, errors.New("return service: state machine is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("return service: payment gateway is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	timeout := deps.GatewayTimeout
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	return &returnService{
		machine: deps.StateMachine,
		gateway: deps.Gateway,
		retries: deps.RetryQueue,
		metrics: metrics,
		timeout: timeout,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

func (s *returnService) RequestReturn(ctx context.Context, cmd ReturnCommand) (domain.Order, error) {
	reason := strings.TrimSpace(s.sanitizer.Sanitize(cmd.Reason))
	if reason == "" {
		return domain.Order{}, fmt.Errorf("%w: return reason is required", ErrOrderInvalidInput)
	}
	reason = truncateUTF8(reason, maxReturnReasonLength)

	result, err := s.machine.ApplyTransition(ctx, TransitionCommand{
		OrderID: cmd.OrderID,
		Target:  domain.OrderStatusReturned,
		Note:    "return requested: " + reason,
		Context: TransitionContext{Source: domain.SourceAdmin, Actor: cmd.Actor},
		prepare: func(order *domain.Order, _ time.Time) error {
			order.Return.Reason = reason
			return nil
		},
	})
	if err != nil {
		return domain.Order{}, err
	}
	if result.Outcome == OutcomeApplied {
		s.logger(ctx, "order.return.requested", map[string]any{
			"orderId": result.Order.ID,
			"amount":  result.Order.Return.RefundAmount,
		})
	}
	return result.Order, nil
}

func (s *returnService) ProcessRefund(ctx context.Context, cmd RefundCommand) (domain.Order, error) {
	order, err := s.machine.GetOrder(ctx, cmd.OrderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.Status == domain.OrderStatusRefunded {
		return order, nil
	}
	if order.Status != domain.OrderStatusReturned || order.Return.RefundStatus != domain.RefundStatusPending {
		return domain.Order{}, &IllegalTransitionError{OrderID: order.ID, Current: order.Status, Target: domain.OrderStatusRefunded}
	}

	amount := cmd.Amount
	if amount == 0 {
		amount = order.Return.RefundAmount
		if amount <= 0 {
			amount = order.Total
		}
	}
	if amount <= 0 || amount > order.Total {
		return domain.Order{}, fmt.Errorf("%w: refund amount must be between 1 and %d", ErrOrderInvalidInput, order.Total)
	}

	if requiresOfflineRefund(order) {
		if !cmd.Offline {
			return domain.Order{}, fmt.Errorf("%w: order %s has no gateway transaction; confirm the offline refund explicitly", ErrRefundNotConfirmed, order.ID)
		}
		return s.complete(ctx, order.ID, amount, "offline_"+s.newID(), "refund settled offline", cmd.Actor)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	receipt, err := s.gateway.Refund(callCtx, RefundRequest{
		OrderID:        order.ID,
		TransactionID:  order.Payment.TransactionID,
		Amount:         amount,
		Currency:       order.Currency,
		Reason:         order.Return.Reason,
		IdempotencyKey: refundIdempotencyKey(order.ID, amount),
	})
	s.metrics.ObserveGatewayCall(s.gateway.Name(), "refund", gatewayOutcome(err))
	if err != nil {
		classified := classifyGatewayError(callCtx, err)
		s.logger(ctx, "gateway.refund.failed", map[string]any{
			"orderId": order.ID,
			"gateway": s.gateway.Name(),
			"error":   err.Error(),
		})
		if errors.Is(classified, ErrGatewayTimeout) {
			s.enqueueReconciliation(ctx, order.ID, amount, classified)
		}
		return domain.Order{}, fmt.Errorf("%w: %w", ErrRefundNotConfirmed, classified)
	}
	if strings.TrimSpace(receipt.RefundID) == "" {
		return domain.Order{}, fmt.Errorf("%w: gateway %s returned no refund id", ErrRefundNotConfirmed, s.gateway.Name())
	}
	return s.complete(ctx, order.ID, amount, receipt.RefundID, "refund confirmed by "+s.gateway.Name(), cmd.Actor)
}

func (s *returnService) complete(ctx context.Context, orderID string, amount int64, refundID, note, actor string) (domain.Order, error) {
	result, err := s.machine.ApplyTransition(ctx, TransitionCommand{
		OrderID: orderID,
		Target:  domain.OrderStatusRefunded,
		Note:    note,
		Context: TransitionContext{Source: domain.SourceAdmin, Actor: actor, IdempotencyKey: refundIdempotencyKey(orderID, amount)},
		prepare: func(order *domain.Order, _ time.Time) error {
			order.Return.RefundAmount = amount
			order.Return.RefundID = refundID
			return nil
		},
	})
	if err != nil {
		return domain.Order{}, err
	}
	s.logger(ctx, "order.refund.processed", map[string]any{
		"orderId":  orderID,
		"amount":   amount,
		"refundId": refundID,
		"outcome":  string(result.Outcome),
	})
	return result.Order, nil
}

func (s *returnService) enqueueReconciliation(ctx context.Context, orderID string, amount int64, cause error) {
	if s.retries == nil {
		return
	}
	job := GatewayRetryJob{
		ID:       retryJobPrefix + s.newID(),
		Action:   GatewayActionRefund,
		OrderID:  orderID,
		Attempt:  1,
		Amount:   amount,
		Reason:   cause.Error(),
		QueuedAt: s.clock(),
	}
	if err := s.retries.Enqueue(context.WithoutCancel(ctx), job); err != nil {
		s.logger(ctx, "gateway.retry.enqueue_failed", map[string]any{
			"orderId": orderID,
			"action":  string(GatewayActionRefund),
			"error":   err.Error(),
		})
		return
	}
	s.logger(ctx, "gateway.retry.enqueued", map[string]any{
		"orderId": orderID,
		"action":  string(GatewayActionRefund),
		"jobId":   job.ID,
	})
}

func requiresOfflineRefund(order domain.Order) bool {
	return order.Payment.Method == domain.PaymentMethodCOD || strings.TrimSpace(order.Payment.TransactionID) == ""
}

// refundIdempotencyKey scopes a gateway refund to the order and the amount requested.
func refundIdempotencyKey(orderID string, amount int64) string {
	return fmt.Sprintf("refund:%s:%d", orderID, amount)
}
