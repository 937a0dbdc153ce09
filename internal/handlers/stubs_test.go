package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/services"
)

type stubStateMachine struct {
	applyFn func(context.Context, services.TransitionCommand) (services.TransitionResult, error)
	placeFn func(context.Context, services.PlaceOrderCommand) (domain.Order, error)
	getFn   func(context.Context, string) (domain.Order, error)
	listFn  func(context.Context, services.OrderListFilter) ([]domain.Order, error)
	trackFn func(context.Context, string) (services.TrackingStatus, error)
}

func (s *stubStateMachine) ApplyTransition(ctx context.Context, cmd services.TransitionCommand) (services.TransitionResult, error) {
	if s.applyFn == nil {
		return services.TransitionResult{}, nil
	}
	return s.applyFn(ctx, cmd)
}

func (s *stubStateMachine) RecordPaymentFailure(context.Context, services.PaymentFailureCommand) (domain.Order, error) {
	return domain.Order{}, nil
}

func (s *stubStateMachine) RetryShipment(context.Context, string) (domain.Order, error) {
	return domain.Order{}, nil
}

func (s *stubStateMachine) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (domain.Order, error) {
	if s.placeFn == nil {
		return domain.Order{}, nil
	}
	return s.placeFn(ctx, cmd)
}

func (s *stubStateMachine) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	if s.getFn == nil {
		return domain.Order{}, services.ErrOrderNotFound
	}
	return s.getFn(ctx, id)
}

func (s *stubStateMachine) ListOrders(ctx context.Context, filter services.OrderListFilter) ([]domain.Order, error) {
	if s.listFn == nil {
		return nil, nil
	}
	return s.listFn(ctx, filter)
}

func (s *stubStateMachine) TrackOrder(ctx context.Context, id string) (services.TrackingStatus, error) {
	if s.trackFn == nil {
		return services.TrackingStatus{}, nil
	}
	return s.trackFn(ctx, id)
}

type stubBulkProcessor struct {
	applyFn func(context.Context, services.BulkCommand) (services.BulkReport, error)
}

func (s *stubBulkProcessor) BulkApply(ctx context.Context, cmd services.BulkCommand) (services.BulkReport, error) {
	return s.applyFn(ctx, cmd)
}

type stubReturnService struct {
	returnFn func(context.Context, services.ReturnCommand) (domain.Order, error)
	refundFn func(context.Context, services.RefundCommand) (domain.Order, error)
}

func (s *stubReturnService) RequestReturn(ctx context.Context, cmd services.ReturnCommand) (domain.Order, error) {
	return s.returnFn(ctx, cmd)
}

func (s *stubReturnService) ProcessRefund(ctx context.Context, cmd services.RefundCommand) (domain.Order, error) {
	return s.refundFn(ctx, cmd)
}

type stubWebhookIngestor struct {
	paymentFn  func(context.Context, []byte, string) (services.WebhookOutcome, error)
	shippingFn func(context.Context, []byte, string) (services.WebhookOutcome, error)
}

func (s *stubWebhookIngestor) IngestPayment(ctx context.Context, payload []byte, signature string) (services.WebhookOutcome, error) {
	return s.paymentFn(ctx, payload, signature)
}

func (s *stubWebhookIngestor) IngestShipping(ctx context.Context, payload []byte, signature string) (services.WebhookOutcome, error) {
	return s.shippingFn(ctx, payload, signature)
}

type stubRetryProcessor struct {
	processFn func(context.Context, services.GatewayRetryJob) (services.GatewayRetryResult, error)
}

func (s *stubRetryProcessor) ProcessRetry(ctx context.Context, job services.GatewayRetryJob) (services.GatewayRetryResult, error) {
	return s.processFn(ctx, job)
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return body
}
