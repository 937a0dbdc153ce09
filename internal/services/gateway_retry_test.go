package services

import (
	"context"
	"errors"
	"testing"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
)

func newRetryFixture(t *testing.T) (*returnFixture, GatewayRetryProcessor) {
	t.Helper()
	f := newReturnFixture(t)
	processor, err := NewGatewayRetryProcessor(GatewayRetryProcessorDeps{StateMachine: f.machine, Returns: f.returns})
	if err != nil {
		t.Fatalf("NewGatewayRetryProcessor: %v", err)
	}
	return f, processor
}

func TestGatewayRetryShipment(t *testing.T) {
	f, processor := newRetryFixture(t)
	f.seed(t, "o1", domain.OrderStatusShipped, func(o *domain.Order) {
		o.Fulfillment.ShipmentPending = true
	})
	job := GatewayRetryJob{ID: "grj_1", Action: GatewayActionShipment, OrderID: "o1", Attempt: 1}

	result, err := processor.ProcessRetry(context.Background(), job)
	if err != nil {
		t.Fatalf("ProcessRetry: %v", err)
	}
	if result.Outcome != RetryCompleted {
		t.Fatalf("expected completed, got %+v", result)
	}
	if !f.reload(t, "o1").HasTracking() {
		t.Fatalf("expected tracking after retry")
	}

	again, err := processor.ProcessRetry(context.Background(), job)
	if err != nil {
		t.Fatalf("redelivered ProcessRetry: %v", err)
	}
	if again.Outcome != RetryNoop || f.carrier.calls() != 1 {
		t.Fatalf("redelivered job must be a no-op, outcome=%s calls=%d", again.Outcome, f.carrier.calls())
	}
}

func TestGatewayRetryShipmentFailureRedelivers(t *testing.T) {
	f, processor := newRetryFixture(t)
	f.carrier.createFn = func(context.Context, ShipmentRequest) (ShipmentReceipt, error) {
		return ShipmentReceipt{}, errors.New("still down")
	}
	f.seed(t, "o1", domain.OrderStatusShipped, nil)

	_, err := processor.ProcessRetry(context.Background(), GatewayRetryJob{ID: "grj_1", Action: GatewayActionShipment, OrderID: "o1"})
	if !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected gateway error for redelivery, got %v", err)
	}
}

func TestGatewayRetryRefund(t *testing.T) {
	f, processor := newRetryFixture(t)
	f.seed(t, "o1", domain.OrderStatusReturned, pendingRefund)
	job := GatewayRetryJob{ID: "grj_2", Action: GatewayActionRefund, OrderID: "o1", Amount: 120}

	result, err := processor.ProcessRetry(context.Background(), job)
	if err != nil {
		t.Fatalf("ProcessRetry: %v", err)
	}
	if result.Outcome != RetryCompleted {
		t.Fatalf("expected completed, got %+v", result)
	}
	order := f.reload(t, "o1")
	if order.Status != domain.OrderStatusRefunded || order.Return.RefundAmount != 120 {
		t.Fatalf("unexpected refunded order %+v", order.Return)
	}
	last, _ := order.LastHistory()
	if last.Actor != "system:gateway-retry" {
		t.Fatalf("unexpected actor %q", last.Actor)
	}

	again, err := processor.ProcessRetry(context.Background(), job)
	if err != nil || again.Outcome != RetryNoop {
		t.Fatalf("expected no-op for settled refund, got %+v, %v", again, err)
	}
	if len(f.gateway.requests) != 1 {
		t.Fatalf("settled refund must not be retried, requests=%d", len(f.gateway.requests))
	}
}

func TestGatewayRetryRejectsBadJobs(t *testing.T) {
	f, processor := newRetryFixture(t)
	f.seed(t, "o1", domain.OrderStatusShipped, nil)

	if _, err := processor.ProcessRetry(context.Background(), GatewayRetryJob{ID: "grj_3", Action: "teleport", OrderID: "o1"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for unknown action, got %v", err)
	}
	if _, err := processor.ProcessRetry(context.Background(), GatewayRetryJob{ID: "grj_4", Action: GatewayActionShipment}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for missing order, got %v", err)
	}
	if _, err := processor.ProcessRetry(context.Background(), GatewayRetryJob{ID: "grj_5", Action: GatewayActionShipment, OrderID: "gone"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
