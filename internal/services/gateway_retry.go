package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
)

const (
	RetryCompleted = "completed"
	RetryNoop      = "noop"
)

// GatewayRetryResult reports what a retry job did.
type GatewayRetryResult struct {
	JobID   string        `json:"job_id"`
	Action  GatewayAction `json:"action"`
	OrderID string        `json:"order_id"`
	Outcome string        `json:"outcome"`
}

// GatewayRetryProcessorDeps bundles collaborators required to construct the retry processor.
type GatewayRetryProcessorDeps struct {
	StateMachine OrderStateMachine
	Returns      ReturnService
	Logger       Logger
}

type gatewayRetryProcessor struct {
	machine OrderStateMachine
	returns ReturnService
	logger  Logger
}

var _ GatewayRetryProcessor = (*gatewayRetryProcessor)(nil)

// NewGatewayRetryProcessor wires the retry processor.
func NewGatewayRetryProcessor(deps GatewayRetryProcessorDeps) (GatewayRetryProcessor, error) {
	if deps.StateMachine == nil {
		return nil, errors.New("gateway retry: state machine is required")
	}
	if deps.Returns == nil {
		return nil, errors.New("gateway retry: return service is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &gatewayRetryProcessor{machine: deps.StateMachine, returns: deps.Returns, logger: logger}, nil
}

// ProcessRetry re-runs the job's side effect. Jobs whose effect already happened are no-ops; a
// returned error asks the queue to redeliver.
func (p *gatewayRetryProcessor) ProcessRetry(ctx context.Context, job GatewayRetryJob) (GatewayRetryResult, error) {
	orderID := strings.TrimSpace(job.OrderID)
	if orderID == "" {
		return GatewayRetryResult{}, fmt.Errorf("%w: retry job %s has no order id", ErrOrderInvalidInput, job.ID)
	}
	result := GatewayRetryResult{JobID: job.ID, Action: job.Action, OrderID: orderID, Outcome: RetryNoop}

	order, err := p.machine.GetOrder(ctx, orderID)
	if err != nil {
		return GatewayRetryResult{}, err
	}

	switch job.Action {
	case GatewayActionShipment:
		if order.HasTracking() || order.Status != domain.OrderStatusShipped {
			break
		}
		if _, err := p.machine.RetryShipment(ctx, orderID); err != nil {
			p.logger(ctx, "gateway.retry.failed", map[string]any{"jobId": job.ID, "orderId": orderID, "action": string(job.Action), "attempt": job.Attempt, "error": err.Error()})
			return GatewayRetryResult{}, err
		}
		result.Outcome = RetryCompleted
	case GatewayActionRefund:
		if order.Status != domain.OrderStatusReturned || order.Return.RefundStatus != domain.RefundStatusPending {
			break
		}
		if _, err := p.returns.ProcessRefund(ctx, RefundCommand{OrderID: orderID, Amount: job.Amount, Actor: "system:gateway-retry"}); err != nil {
			p.logger(ctx, "gateway.retry.failed", map[string]any{"jobId": job.ID, "orderId": orderID, "action": string(job.Action), "attempt": job.Attempt, "error": err.Error()})
			return GatewayRetryResult{}, err
		}
		result.Outcome = RetryCompleted
	default:
		return GatewayRetryResult{}, fmt.Errorf("%w: unknown retry action %q", ErrOrderInvalidInput, job.Action)
	}

	p.logger(ctx, "gateway.retry.processed", map[string]any{
		"jobId":   job.ID,
		"orderId": orderID,
		"action":  string(job.Action),
		"outcome": result.Outcome,
	})
	return result, nil
}
