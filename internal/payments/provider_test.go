package payments

import (
	"context"
	"errors"
	"testing"

	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/services"
)

type fakeGateway struct {
	name    string
	calls   int
	receipt services.RefundReceipt
	err     error
}

func (f *fakeGateway) Name() string { return f.name }

func (f *fakeGateway) Refund(context.Context, services.RefundRequest) (services.RefundReceipt, error) {
	f.calls++
	return f.receipt, f.err
}

func TestManagerRoutesByCurrency(t *testing.T) {
	stripe := &fakeGateway{name: "stripe", receipt: services.RefundReceipt{RefundID: "re_stripe"}}
	razor := &fakeGateway{name: "razorpay", receipt: services.RefundReceipt{RefundID: "rfnd_razor"}}

	mgr, err := NewManager(
		map[string]services.PaymentGateway{"stripe": stripe, "razorpay": razor},
		WithCurrencyRoutes(map[string]string{"inr": "RazorPay"}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	receipt, err := mgr.Refund(context.Background(), services.RefundRequest{Currency: "INR", Amount: 10, TransactionID: "pay_1"})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if receipt.RefundID != "rfnd_razor" || razor.calls != 1 || stripe.calls != 0 {
		t.Fatalf("expected razorpay to handle INR, receipt=%+v", receipt)
	}
}

func TestManagerFallsBackToDefault(t *testing.T) {
	stripe := &fakeGateway{name: "stripe", receipt: services.RefundReceipt{RefundID: "re_1"}}
	mgr, err := NewManager(map[string]services.PaymentGateway{"stripe": stripe})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if mgr.Name() != "stripe" {
		t.Fatalf("expected default name stripe, got %q", mgr.Name())
	}
	if _, err := mgr.Refund(context.Background(), services.RefundRequest{Currency: "USD"}); err != nil {
		t.Fatalf("refund: %v", err)
	}
	if stripe.calls != 1 {
		t.Fatalf("expected default gateway to be used")
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	mgr, err := NewManager(
		map[string]services.PaymentGateway{"stripe": &fakeGateway{}, "sandbox": &fakeGateway{}},
		WithDefaultProvider(""),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := mgr.Refund(context.Background(), services.RefundRequest{Currency: "INR"}); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestNewManagerValidatesGateways(t *testing.T) {
	if _, err := NewManager(map[string]services.PaymentGateway{"bad": nil}); err == nil {
		t.Fatalf("expected error for nil gateway")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when gateways empty")
	}
}

func TestSandboxGatewayIsIdempotent(t *testing.T) {
	g := NewSandboxGateway()
	req := services.RefundRequest{OrderID: "o1", TransactionID: "txn_1", Amount: 250, IdempotencyKey: "refund:o1:250"}

	first, err := g.Refund(context.Background(), req)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	second, err := g.Refund(context.Background(), req)
	if err != nil {
		t.Fatalf("repeat refund: %v", err)
	}
	if first != second || len(g.Refunds()) != 1 {
		t.Fatalf("expected a single recorded refund, got %d", len(g.Refunds()))
	}
	if _, err := g.Refund(context.Background(), services.RefundRequest{OrderID: "o2", Amount: 10}); !errors.Is(err, ErrRefundRejected) {
		t.Fatalf("expected rejection without transaction, got %v", err)
	}
}
