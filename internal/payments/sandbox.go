package payments

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/services"
)

// SandboxGateway accepts every refund without contacting a processor. Repeated idempotency keys
// return the first receipt, matching what a real gateway does.
type SandboxGateway struct {
	mu       sync.Mutex
	receipts map[string]services.RefundReceipt
	refunds  []services.RefundRequest
}

var _ services.PaymentGateway = (*SandboxGateway)(nil)

// NewSandboxGateway returns an empty sandbox.
func NewSandboxGateway() *SandboxGateway {
	return &SandboxGateway{receipts: make(map[string]services.RefundReceipt)}
}

func (g *SandboxGateway) Name() string { return "sandbox" }

func (g *SandboxGateway) Refund(ctx context.Context, req services.RefundRequest) (services.RefundReceipt, error) {
	if err := ctx.Err(); err != nil {
		return services.RefundReceipt{}, err
	}
	if strings.TrimSpace(req.TransactionID) == "" || req.Amount <= 0 {
		return services.RefundReceipt{}, fmt.Errorf("%w: sandbox requires a transaction id and positive amount", ErrRefundRejected)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	key := req.IdempotencyKey
	if key == "" {
		key = fmt.Sprintf("refund:%s:%d", req.OrderID, req.Amount)
	}
	if receipt, ok := g.receipts[key]; ok {
		return receipt, nil
	}
	receipt := services.RefundReceipt{RefundID: "sbx_re_" + req.OrderID, Status: RefundStatusSucceeded}
	g.receipts[key] = receipt
	g.refunds = append(g.refunds, req)
	return receipt, nil
}

// Refunds lists accepted refund requests in arrival order.
func (g *SandboxGateway) Refunds() []services.RefundRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]services.RefundRequest(nil), g.refunds...)
}
