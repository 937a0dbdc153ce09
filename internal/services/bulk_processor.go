package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
)

// BulkAction names an admin bulk operation.
type BulkAction string

const (
	BulkActionStatus  BulkAction = "status"
	BulkActionFulfill BulkAction = "fulfill"
	BulkActionCancel  BulkAction = "cancel"
	BulkActionPrint   BulkAction = "print"
	BulkActionExport  BulkAction = "export"

	BulkResultSuccess = "success"
	BulkResultSkip    = "skip"
	BulkResultError   = "error"

	maxBulkOrders = 500
)

var errFulfillPrecondition = errors.New("bulk: order is not processing")

// BulkCommand applies Action to every id in OrderIDs. Status is required for the status action.
type BulkCommand struct {
	OrderIDs []string
	Action   BulkAction
	Status   domain.OrderStatus
	Note     string
	Actor    string
}

// BulkItemResult is aligned with the input position of its order id.
type BulkItemResult struct {
	OrderID  string             `json:"order_id"`
	Result   string             `json:"result"`
	Status   domain.OrderStatus `json:"status,omitempty"`
	Code     string             `json:"code,omitempty"`
	Error    string             `json:"error,omitempty"`
	Degraded bool               `json:"degraded,omitempty"`
}

// BulkSummary counts results by kind.
type BulkSummary struct {
	Success int `json:"success"`
	Skip    int `json:"skip"`
	Error   int `json:"error"`
}

// BulkReport is the mixed-result outcome of a bulk action.
type BulkReport struct {
	Action   BulkAction       `json:"action"`
	Results  []BulkItemResult `json:"results"`
	Summary  BulkSummary      `json:"summary"`
	Artifact *Artifact        `json:"artifact,omitempty"`
}

// BulkProcessorDeps bundles collaborators required to construct the bulk processor.
type BulkProcessorDeps struct {
	StateMachine OrderStateMachine
	Artifacts    ArtifactStore
	Clock        func() time.Time
	Logger       Logger
}

type bulkProcessor struct {
	machine   OrderStateMachine
	artifacts ArtifactStore
	clock     func() time.Time
	logger    Logger
}

var _ BulkProcessor = (*bulkProcessor)(nil)

// NewBulkProcessor wires the bulk action processor.
func NewBulkProcessor(deps BulkProcessorDeps) (BulkProcessor, error) {
	if deps.StateMachine == nil {
		return nil, errors.New("bulk processor: state machine is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &bulkProcessor{
		machine:   deps.StateMachine,
		artifacts: deps.Artifacts,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (p *bulkProcessor) BulkApply(ctx context.Context, cmd BulkCommand) (BulkReport, error) {
	if len(cmd.OrderIDs) == 0 {
		return BulkReport{}, fmt.Errorf("%w: at least one order id is required", ErrOrderInvalidInput)
	}
	if len(cmd.OrderIDs) > maxBulkOrders {
		return BulkReport{}, fmt.Errorf("%w: at most %d orders per request", ErrOrderInvalidInput, maxBulkOrders)
	}
	action := BulkAction(strings.ToLower(strings.TrimSpace(string(cmd.Action))))
	if action == "" {
		action = BulkActionStatus
	}

	report := BulkReport{Action: action, Results: make([]BulkItemResult, len(cmd.OrderIDs))}
	switch action {
	case BulkActionStatus:
		if !cmd.Status.Valid() {
			return BulkReport{}, fmt.Errorf("%w: status is required for the status action", ErrOrderInvalidInput)
		}
		p.eachTransition(ctx, cmd, cmd.Status, nil, report.Results)
	case BulkActionCancel:
		p.eachTransition(ctx, cmd, domain.OrderStatusCancelled, nil, report.Results)
	case BulkActionFulfill:
		p.eachTransition(ctx, cmd, domain.OrderStatusShipped, func(order *domain.Order, _ time.Time) error {
			if order.Status != domain.OrderStatusProcessing {
				return errFulfillPrecondition
			}
			return nil
		}, report.Results)
	case BulkActionPrint, BulkActionExport:
		if p.artifacts == nil {
			return BulkReport{}, fmt.Errorf("%w: artifact storage is not configured", ErrOrderInvalidInput)
		}
		orders := p.collect(ctx, cmd.OrderIDs, report.Results)
		if len(orders) > 0 {
			artifact, err := p.writeArtifact(ctx, action, orders)
			if err != nil {
				return BulkReport{}, err
			}
			report.Artifact = &artifact
		}
	default:
		return BulkReport{}, fmt.Errorf("%w: unsupported bulk action %q", ErrOrderInvalidInput, action)
	}

	for _, result := range report.Results {
		switch result.Result {
		case BulkResultSuccess:
			report.Summary.Success++
		case BulkResultSkip:
			report.Summary.Skip++
		default:
			report.Summary.Error++
		}
	}
	p.logger(ctx, "order.bulk.completed", map[string]any{
		"action":  string(action),
		"actor":   cmd.Actor,
		"total":   len(report.Results),
		"success": report.Summary.Success,
		"skip":    report.Summary.Skip,
		"error":   report.Summary.Error,
	})
	return report, nil
}

// eachTransition never short-circuits: every id gets its own result slot.
func (p *bulkProcessor) eachTransition(ctx context.Context, cmd BulkCommand, target domain.OrderStatus, guard func(*domain.Order, time.Time) error, results []BulkItemResult) {
	for i, rawID := range cmd.OrderIDs {
		id := strings.TrimSpace(rawID)
		results[i] = BulkItemResult{OrderID: id}
		if id == "" {
			results[i].Result, results[i].Code, results[i].Error = BulkResultError, "invalid_input", "order id is empty"
			continue
		}
		res, err := p.machine.ApplyTransition(ctx, TransitionCommand{
			OrderID: id,
			Target:  target,
			Note:    cmd.Note,
			Context: TransitionContext{Source: domain.SourceBulk, Actor: cmd.Actor, Bulk: true},
			prepare: guard,
		})
		switch {
		case errors.Is(err, errFulfillPrecondition), guard != nil && errors.Is(err, ErrIllegalTransition):
			results[i].Result, results[i].Code = BulkResultSkip, "not_processing"
		case err != nil:
			results[i].Result, results[i].Code, results[i].Error = BulkResultError, bulkErrorCode(err), err.Error()
		case res.Outcome == OutcomeNoop:
			results[i].Result, results[i].Code, results[i].Status = BulkResultSkip, "already_in_status", res.Order.Status
		default:
			results[i].Result, results[i].Status = BulkResultSuccess, res.Order.Status
			if res.Degraded {
				results[i].Degraded = true
				results[i].Code = "pending_" + res.PendingAction
			}
		}
	}
}

func (p *bulkProcessor) collect(ctx context.Context, ids []string, results []BulkItemResult) []domain.Order {
	orders := make([]domain.Order, 0, len(ids))
	for i, rawID := range ids {
		id := strings.TrimSpace(rawID)
		results[i] = BulkItemResult{OrderID: id}
		order, err := p.machine.GetOrder(ctx, id)
		if err != nil {
			results[i].Result, results[i].Code, results[i].Error = BulkResultError, bulkErrorCode(err), err.Error()
			continue
		}
		results[i].Result, results[i].Status = BulkResultSuccess, order.Status
		orders = append(orders, order)
	}
	return orders
}

func (p *bulkProcessor) writeArtifact(ctx context.Context, action BulkAction, orders []domain.Order) (Artifact, error) {
	now := p.clock()
	var (
		data        []byte
		contentType string
		name        string
		err         error
	)
	switch action {
	case BulkActionPrint:
		data = renderPackingSlips(orders, now)
		contentType = "text/plain; charset=utf-8"
		name = fmt.Sprintf("bulk/packing-slips/%s.txt", now.Format("20060102T150405Z"))
	default:
		data, err = renderOrderExport(orders)
		if err != nil {
			return Artifact{}, fmt.Errorf("bulk export: %w", err)
		}
		contentType = "text/csv; charset=utf-8"
		name = fmt.Sprintf("bulk/exports/orders-%s.csv", now.Format("20060102T150405Z"))
	}
	artifact, err := p.artifacts.Put(ctx, name, contentType, data)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: store artifact: %v", ErrOrderUnavailable, err)
	}
	return artifact, nil
}

func renderPackingSlips(orders []domain.Order, now time.Time) []byte {
	var buf bytes.Buffer
	for i, order := range orders {
		if i > 0 {
			buf.WriteString("\f\n")
		}
		fmt.Fprintf(&buf, "PACKING SLIP %s\n", order.Fulfillment.PackingSlipRef)
		fmt.Fprintf(&buf, "Order %s (%s)  printed %s\n", order.Number, order.ID, now.Format(time.DateOnly))
		fmt.Fprintf(&buf, "Ship via %s to:\n", order.ShippingMethod)
		addr := order.ShippingAddress
		fmt.Fprintf(&buf, "  %s, %s\n  %s\n", addr.Name, addr.Phone, addr.Line1)
		if addr.Line2 != "" {
			fmt.Fprintf(&buf, "  %s\n", addr.Line2)
		}
		fmt.Fprintf(&buf, "  %s, %s %s\n", addr.City, addr.State, addr.PostalCode)
		buf.WriteString("Items:\n")
		for _, item := range order.Items {
			fmt.Fprintf(&buf, "  %3d x %-20s %s\n", item.Quantity, item.SKU, item.Name)
		}
		if order.Payment.Method == domain.PaymentMethodCOD && order.Payment.Status != domain.PaymentStatusPaid {
			fmt.Fprintf(&buf, "COLLECT ON DELIVERY: %d %s\n", order.Total, order.Currency)
		}
	}
	return buf.Bytes()
}

func renderOrderExport(orders []domain.Order) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"order_id", "number", "status", "payment_method", "payment_status", "subtotal", "delivery_charge", "total", "currency", "tracking_number", "created_at"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, order := range orders {
		row := []string{
			order.ID,
			order.Number,
			string(order.Status),
			string(order.Payment.Method),
			string(order.Payment.Status),
			strconv.FormatInt(order.Subtotal, 10),
			strconv.FormatInt(order.DeliveryCharge, 10),
			strconv.FormatInt(order.Total, 10),
			order.Currency,
			order.Tracking.Number,
			order.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func bulkErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrOrderNotFound):
		return "order_not_found"
	case errors.Is(err, ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, ErrOrderInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrOrderConflict):
		return "conflict"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "internal"
	}
}
