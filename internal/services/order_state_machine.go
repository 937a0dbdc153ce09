package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/repositories"
)

const (
	orderEventPlaced        = "order.placed"
	orderEventStatusChanged = "order.status.changed"
	orderEventPaymentFailed = "order.payment.failed"
	orderEventPaymentLate   = "order.payment.confirmed"
	orderEventTracking      = "order.tracking.assigned"

	orderIDPrefix   = "ord_"
	historyIDPrefix = "osh_"
	slipRefPrefix   = "slip_"
	labelRefPrefix  = "lbl_"
	retryJobPrefix  = "grj_"

	orderNumberCounter    = "orders"
	defaultGatewayTimeout = 10 * time.Second
	maxNoteLength         = 500

	pendingActionShipment = "shipment"
	pendingActionRefund   = "refund"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates a concurrent write or duplicate insert.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable indicates the order store could not be reached.
	ErrOrderUnavailable = errors.New("order: store unavailable")
	// ErrIllegalTransition is matched by every *IllegalTransitionError.
	ErrIllegalTransition = errors.New("order: illegal status transition")
	// ErrGatewayUnavailable indicates a payment or shipping gateway call failed.
	ErrGatewayUnavailable = errors.New("order: gateway unavailable")
	// ErrGatewayTimeout indicates a gateway call timed out and its outcome is unknown.
	ErrGatewayTimeout = errors.New("order: gateway timeout")
)

// IllegalTransitionError reports a target status unreachable from the current one.
type IllegalTransitionError struct {
	OrderID string
	Current domain.OrderStatus
	Target  domain.OrderStatus
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot move from %s to %s", e.OrderID, e.Current, e.Target)
}

// Is lets callers match with errors.Is(err, ErrIllegalTransition).
func (e *IllegalTransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// TransitionOutcome classifies what ApplyTransition did.
type TransitionOutcome string

const (
	OutcomeApplied TransitionOutcome = "applied"
	OutcomeNoop    TransitionOutcome = "noop"
	OutcomeStale   TransitionOutcome = "stale"
)

// TransitionContext describes who asked for a transition and why.
type TransitionContext struct {
	Source         domain.TransitionSource
	Actor          string
	IdempotencyKey string
	EventID        string
	Bulk           bool
	// TolerateStale turns out-of-order requests (a target behind the current status) into stale
	// successes instead of IllegalTransition. Webhook ingestion sets it.
	TolerateStale bool
}

// TransitionCommand requests a move to Target.
type TransitionCommand struct {
	OrderID string
	Target  domain.OrderStatus
	Note    string
	Context TransitionContext

	// prepare runs inside the serialized mutation after the transition is found legal.
	prepare func(order *domain.Order, now time.Time) error
}

// TransitionResult is returned for every accepted request, including no-ops.
type TransitionResult struct {
	Order          domain.Order
	Outcome        TransitionOutcome
	PreviousStatus domain.OrderStatus
	// Degraded is set when the status committed but a gateway side effect is pending retry.
	Degraded      bool
	PendingAction string
	GatewayErr    error
}

// PaymentFailureCommand records a failed charge reported by the payment provider.
type PaymentFailureCommand struct {
	OrderID string
	Reason  string
	EventID string
	Actor   string
}

// PlaceOrderCommand seeds a new order from checkout.
type PlaceOrderCommand struct {
	CustomerID      string
	Items           []domain.OrderItem
	ShippingAddress domain.Address
	BillingAddress  domain.Address
	ShippingMethod  domain.ShippingMethod
	PaymentMethod   domain.PaymentMethod
	TransactionID   string
	Currency        string
	Note            string
	Actor           string
}

// OrderListFilter narrows ListOrders.
type OrderListFilter struct {
	Statuses []domain.OrderStatus
	Limit    int
}

// OrderStateMachineDeps bundles collaborators required to construct the state machine.
type OrderStateMachineDeps struct {
	Orders         repositories.OrderRepository
	Counters       repositories.CounterRepository
	Carrier        ShippingCarrier
	RetryQueue     GatewayRetryQueue
	Notifier       Notifier
	Events         OrderEventPublisher
	Metrics        MetricsRecorder
	GatewayTimeout time.Duration
	Currency       string
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         Logger
}

type orderStateMachine struct {
	orders         repositories.OrderRepository
	counters       repositories.CounterRepository
	carrier        ShippingCarrier
	retries        GatewayRetryQueue
	notifier       Notifier
	events         OrderEventPublisher
	metrics        MetricsRecorder
	gatewayTimeout time.Duration
	currency       string
	clock          func() time.Time
	newID          func() string
	logger         Logger
	sanitizer      *bluemonday.Policy
}

var _ OrderStateMachine = (*orderStateMachine)(nil)

// NewOrderStateMachine wires dependencies into the order state machine.
func NewOrderStateMachine(deps OrderStateMachineDeps) (OrderStateMachine, error) {
	if deps.Orders == nil {
		return nil, errors.New("order state machine: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order state machine: counter repository is required")
	}
	if deps.Carrier == nil {
		return nil, errors.New("order state machine: shipping carrier is required")
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
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = domain.DefaultCurrency
	}

	return &orderStateMachine{
		orders:         deps.Orders,
		counters:       deps.Counters,
		carrier:        deps.Carrier,
		retries:        deps.RetryQueue,
		notifier:       deps.Notifier,
		events:         deps.Events,
		metrics:        metrics,
		gatewayTimeout: timeout,
		currency:       currency,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

func (s *orderStateMachine) ApplyTransition(ctx context.Context, cmd TransitionCommand) (TransitionResult, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return TransitionResult{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !cmd.Target.Valid() {
		return TransitionResult{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Target)
	}
	source := cmd.Context.Source
	if source == "" {
		source = domain.SourceAdmin
		if cmd.Context.Bulk {
			source = domain.SourceBulk
		}
	}
	note := s.cleanNote(cmd.Note)
	now := s.clock()

	var (
		outcome  TransitionOutcome
		previous domain.OrderStatus
		settled  bool
	)
	updated, err := s.orders.Mutate(ctx, orderID, func(order *domain.Order) error {
		previous = order.Status
		settled = false
		if order.Status == cmd.Target {
			outcome = OutcomeNoop
			return repositories.ErrSkipWrite
		}
		if !domain.CanTransition(order.Status, cmd.Target) {
			if cmd.Context.TolerateStale && domain.IsStale(order.Status, cmd.Target) {
				outcome = OutcomeStale
				if !settleLatePayment(order, cmd.Target, now) {
					return repositories.ErrSkipWrite
				}
				settled = true
				return nil
			}
			return &IllegalTransitionError{OrderID: order.ID, Current: order.Status, Target: cmd.Target}
		}
		if cmd.prepare != nil {
			if err := cmd.prepare(order, now); err != nil {
				return err
			}
		}
		s.applyStatusEffects(order, cmd.Target, now)
		order.Status = cmd.Target
		order.UpdatedAt = now
		order.AppendHistory(domain.StatusHistoryEntry{
			ID:     historyIDPrefix + s.newID(),
			Status: cmd.Target,
			Note:   note,
			Source: source,
			Actor:  strings.TrimSpace(cmd.Context.Actor),
			At:     now,
		})
		outcome = OutcomeApplied
		return nil
	})
	if err != nil {
		mapped := s.mapRepositoryError(err)
		if errors.Is(mapped, ErrIllegalTransition) {
			s.metrics.ObserveTransition(previous, cmd.Target, source, "illegal")
			s.logger(ctx, "order.transition.rejected", map[string]any{
				"orderId": orderID,
				"from":    string(previous),
				"to":      string(cmd.Target),
				"source":  string(source),
			})
		}
		return TransitionResult{}, mapped
	}

	result := TransitionResult{Order: updated, Outcome: outcome, PreviousStatus: previous}
	s.metrics.ObserveTransition(previous, cmd.Target, source, string(outcome))
	if outcome != OutcomeApplied {
		s.logger(ctx, "order.transition."+string(outcome), map[string]any{
			"orderId": orderID,
			"status":  string(previous),
			"target":  string(cmd.Target),
			"source":  string(source),
			"eventId": cmd.Context.EventID,
		})
		if settled {
			s.recordLatePayment(ctx, updated, source, cmd.Context, now)
		}
		return result, nil
	}

	s.logger(ctx, "order.transition.applied", map[string]any{
		"orderId": orderID,
		"from":    string(previous),
		"to":      string(cmd.Target),
		"source":  string(source),
		"actor":   cmd.Context.Actor,
		"eventId": cmd.Context.EventID,
	})

	if cmd.Target == domain.OrderStatusShipped && !updated.HasTracking() {
		shipped, gatewayErr := s.bookShipment(ctx, updated)
		if gatewayErr != nil {
			result.Degraded = true
			result.PendingAction = pendingActionShipment
			result.GatewayErr = gatewayErr
			s.enqueueRetry(ctx, GatewayActionShipment, orderID, gatewayErr)
		} else {
			updated = shipped
			result.Order = shipped
		}
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        updated.ID,
		OrderNumber:    updated.Number,
		PreviousStatus: string(previous),
		CurrentStatus:  string(updated.Status),
		Source:         string(source),
		ActorID:        cmd.Context.Actor,
		OccurredAt:     now,
		Metadata: map[string]any{
			"eventId":        cmd.Context.EventID,
			"idempotencyKey": cmd.Context.IdempotencyKey,
			"bulk":           cmd.Context.Bulk,
			"degraded":       result.Degraded,
		},
	})
	if kind, ok := notificationKindFor(updated.Status); ok {
		s.notify(ctx, updated, kind)
	}
	return result, nil
}

func (s *orderStateMachine) RecordPaymentFailure(ctx context.Context, cmd PaymentFailureCommand) (domain.Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	now := s.clock()
	changed := false
	updated, err := s.orders.Mutate(ctx, orderID, func(order *domain.Order) error {
		changed = false
		switch order.Payment.Status {
		case domain.PaymentStatusFailed, domain.PaymentStatusPaid, domain.PaymentStatusRefunded:
			return repositories.ErrSkipWrite
		}
		order.Payment.Status = domain.PaymentStatusFailed
		order.UpdatedAt = now
		changed = true
		return nil
	})
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	if !changed {
		return updated, nil
	}

	s.logger(ctx, "order.payment.failed", map[string]any{
		"orderId": orderID,
		"reason":  cmd.Reason,
		"eventId": cmd.EventID,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventPaymentFailed,
		OrderID:       updated.ID,
		OrderNumber:   updated.Number,
		CurrentStatus: string(updated.Status),
		Source:        string(domain.SourcePayment),
		ActorID:       cmd.Actor,
		OccurredAt:    now,
		Metadata:      map[string]any{"reason": s.cleanNote(cmd.Reason), "eventId": cmd.EventID},
	})
	s.notify(ctx, updated, domain.NotificationAdminAlert)
	return updated, nil
}

// settleLatePayment marks a prepaid order paid when the payment confirmation arrives after the
// order has already moved past paid. Status and history are left alone.
func settleLatePayment(order *domain.Order, target domain.OrderStatus, now time.Time) bool {
	if target != domain.OrderStatusPaid || order.Payment.Method == domain.PaymentMethodCOD {
		return false
	}
	switch order.Payment.Status {
	case domain.PaymentStatusPaid, domain.PaymentStatusRefunded:
		return false
	}
	order.Payment.Status = domain.PaymentStatusPaid
	order.UpdatedAt = now
	return true
}

func (s *orderStateMachine) recordLatePayment(ctx context.Context, order domain.Order, source domain.TransitionSource, tc TransitionContext, now time.Time) {
	s.logger(ctx, "order.payment.confirmed_late", map[string]any{
		"orderId": order.ID,
		"status":  string(order.Status),
		"eventId": tc.EventID,
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventPaymentLate,
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		CurrentStatus: string(order.Status),
		Source:        string(source),
		ActorID:       tc.Actor,
		OccurredAt:    now,
		Metadata:      map[string]any{"eventId": tc.EventID},
	})
}

func (s *orderStateMachine) RetryShipment(ctx context.Context, orderID string) (domain.Order, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.HasTracking() || order.Status != domain.OrderStatusShipped {
		return order, nil
	}
	return s.bookShipment(ctx, order)
}

func (s *orderStateMachine) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (domain.Order, error) {
	if err := validateAddress("shipping", cmd.ShippingAddress); err != nil {
		return domain.Order{}, err
	}
	billing := cmd.BillingAddress
	if billing == (domain.Address{}) {
		billing = cmd.ShippingAddress
	} else if err := validateAddress("billing", billing); err != nil {
		return domain.Order{}, err
	}
	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = s.currency
	}

	now := s.clock()
	// Order numbers restart every calendar year.
	seq, err := s.counters.Next(ctx, fmt.Sprintf("%s-%04d", orderNumberCounter, now.Year()), 1)
	switch {
	case err == nil:
	case errors.Is(err, repositories.ErrInvalidCounter), errors.Is(err, repositories.ErrCorruptCounter):
		return domain.Order{}, fmt.Errorf("allocate order number: %w", err)
	default:
		return domain.Order{}, fmt.Errorf("%w: allocate order number: %v", ErrOrderUnavailable, err)
	}

	items := make([]domain.OrderItem, 0, len(cmd.Items))
	for _, item := range cmd.Items {
		item.Name = strings.TrimSpace(s.sanitizer.Sanitize(item.Name))
		item.SKU = strings.TrimSpace(item.SKU)
		items = append(items, item)
	}

	order, err := domain.NewOrder(domain.NewOrderParams{
		ID:              orderIDPrefix + s.newID(),
		Number:          fmt.Sprintf("MB-%04d-%06d", now.Year(), seq),
		CustomerID:      strings.TrimSpace(cmd.CustomerID),
		Items:           items,
		ShippingAddress: cmd.ShippingAddress,
		BillingAddress:  billing,
		ShippingMethod:  cmd.ShippingMethod,
		PaymentMethod:   cmd.PaymentMethod,
		TransactionID:   strings.TrimSpace(cmd.TransactionID),
		Currency:        currency,
		HistoryID:       historyIDPrefix + s.newID(),
		Note:            s.cleanNote(cmd.Note),
		Actor:           strings.TrimSpace(cmd.Actor),
		Now:             now,
	})
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	s.logger(ctx, "order.placed", map[string]any{
		"orderId": order.ID,
		"number":  order.Number,
		"total":   order.Total,
		"payment": string(order.Payment.Method),
	})
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventPlaced,
		OrderID:       order.ID,
		OrderNumber:   order.Number,
		CurrentStatus: string(order.Status),
		Source:        string(domain.SourceSystem),
		ActorID:       cmd.Actor,
		OccurredAt:    now,
		Metadata:      map[string]any{"total": order.Total, "currency": order.Currency},
	})
	// Prepaid orders are confirmed when the payment lands; cash orders are confirmed immediately.
	if order.Payment.Method == domain.PaymentMethodCOD {
		s.notify(ctx, order, domain.NotificationOrderConfirmed)
	}
	return order, nil
}

func (s *orderStateMachine) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderStateMachine) ListOrders(ctx context.Context, filter OrderListFilter) ([]domain.Order, error) {
	for _, status := range filter.Statuses {
		if !status.Valid() {
			return nil, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}
	orders, err := s.orders.List(ctx, repositories.OrderListFilter{Status: filter.Statuses, Limit: filter.Limit})
	if err != nil {
		return nil, s.mapRepositoryError(err)
	}
	return orders, nil
}

func (s *orderStateMachine) TrackOrder(ctx context.Context, orderID string) (TrackingStatus, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return TrackingStatus{}, err
	}
	if !order.HasTracking() {
		return TrackingStatus{}, fmt.Errorf("%w: order %s has no tracking number", ErrOrderInvalidInput, order.ID)
	}
	callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()
	status, err := s.carrier.Track(callCtx, order.Tracking.Number)
	s.metrics.ObserveGatewayCall(s.carrier.Name(), "track", gatewayOutcome(err))
	if err != nil {
		return TrackingStatus{}, classifyGatewayError(callCtx, err)
	}
	return status, nil
}

// applyStatusEffects sets status-specific fields; it runs inside the serialized mutation.
func (s *orderStateMachine) applyStatusEffects(order *domain.Order, target domain.OrderStatus, now time.Time) {
	switch target {
	case domain.OrderStatusPaid:
		order.Payment.Status = domain.PaymentStatusPaid
	case domain.OrderStatusPacked, domain.OrderStatusShipped:
		if order.Fulfillment.PackingSlipRef == "" {
			order.Fulfillment.PackingSlipRef = slipRefPrefix + s.newID()
		}
		if order.Fulfillment.LabelRef == "" {
			order.Fulfillment.LabelRef = labelRefPrefix + s.newID()
		}
		if target == domain.OrderStatusShipped && !order.HasTracking() {
			order.Fulfillment.ShipmentPending = true
		}
	case domain.OrderStatusDelivered:
		if order.Payment.Method == domain.PaymentMethodCOD && order.Payment.Status == domain.PaymentStatusPending {
			order.Payment.Status = domain.PaymentStatusPaid
		}
	case domain.OrderStatusReturned:
		order.Return.Requested = true
		order.Return.RefundStatus = domain.RefundStatusPending
		if order.Return.RefundAmount <= 0 {
			order.Return.RefundAmount = order.Total
		}
		if order.Return.RequestedAt == nil {
			at := now
			order.Return.RequestedAt = &at
		}
	case domain.OrderStatusRefunded:
		order.Return.RefundStatus = domain.RefundStatusProcessed
		order.Payment.Status = domain.PaymentStatusRefunded
		at := now
		order.Return.ProcessedAt = &at
	}
}

// bookShipment asks the carrier for a shipment and records tracking once.
func (s *orderStateMachine) bookShipment(ctx context.Context, order domain.Order) (domain.Order, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	var cod int64
	if order.Payment.Method == domain.PaymentMethodCOD && order.Payment.Status != domain.PaymentStatusPaid {
		cod = order.Total
	}
	receipt, err := s.carrier.CreateShipment(callCtx, ShipmentRequest{
		OrderID:        order.ID,
		OrderNumber:    order.Number,
		Method:         order.ShippingMethod,
		Address:        order.ShippingAddress,
		Items:          append([]domain.OrderItem(nil), order.Items...),
		PackingSlipRef: order.Fulfillment.PackingSlipRef,
		LabelRef:       order.Fulfillment.LabelRef,
		CashOnDelivery: cod,
		IdempotencyKey: "shipment:" + order.ID,
	})
	s.metrics.ObserveGatewayCall(s.carrier.Name(), "shipment", gatewayOutcome(err))
	if err != nil {
		classified := classifyGatewayError(callCtx, err)
		s.logger(ctx, "gateway.shipment.failed", map[string]any{
			"orderId": order.ID,
			"carrier": s.carrier.Name(),
			"error":   err.Error(),
		})
		return domain.Order{}, classified
	}
	if strings.TrimSpace(receipt.TrackingNumber) == "" {
		return domain.Order{}, fmt.Errorf("%w: carrier %s returned no tracking number", ErrGatewayUnavailable, s.carrier.Name())
	}

	carrier := receipt.Carrier
	if carrier == "" {
		carrier = s.carrier.Name()
	}
	tracking := domain.Tracking{Carrier: carrier, Number: receipt.TrackingNumber, URL: receipt.TrackingURL}
	updated, err := s.orders.Mutate(ctx, order.ID, func(o *domain.Order) error {
		if !o.SetTracking(tracking) {
			return repositories.ErrSkipWrite
		}
		o.UpdatedAt = s.clock()
		return nil
	})
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventTracking,
		OrderID:       updated.ID,
		OrderNumber:   updated.Number,
		CurrentStatus: string(updated.Status),
		Source:        string(domain.SourceSystem),
		OccurredAt:    s.clock(),
		Metadata: map[string]any{
			"carrier":        updated.Tracking.Carrier,
			"trackingNumber": updated.Tracking.Number,
		},
	})
	return updated, nil
}

func (s *orderStateMachine) enqueueRetry(ctx context.Context, action GatewayAction, orderID string, cause error) {
	if s.retries == nil {
		s.logger(ctx, "gateway.retry.unavailable", map[string]any{"orderId": orderID, "action": string(action)})
		return
	}
	job := GatewayRetryJob{
		ID:       retryJobPrefix + s.newID(),
		Action:   action,
		OrderID:  orderID,
		Attempt:  1,
		QueuedAt: s.clock(),
	}
	if cause != nil {
		job.Reason = cause.Error()
	}
	if err := s.retries.Enqueue(context.WithoutCancel(ctx), job); err != nil {
		s.logger(ctx, "gateway.retry.enqueue_failed", map[string]any{
			"orderId": orderID,
			"action":  string(action),
			"error":   err.Error(),
		})
		return
	}
	s.logger(ctx, "gateway.retry.enqueued", map[string]any{
		"orderId": orderID,
		"action":  string(action),
		"jobId":   job.ID,
	})
}

func (s *orderStateMachine) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.ID == "" {
		event.ID = s.newID()
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(context.WithoutCancel(ctx), event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

func (s *orderStateMachine) notify(ctx context.Context, order domain.Order, kind domain.NotificationKind) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(context.WithoutCancel(ctx), order.Clone(), kind)
}

func (s *orderStateMachine) cleanNote(note string) string {
	return truncateUTF8(strings.TrimSpace(s.sanitizer.Sanitize(note)), maxNoteLength)
}

// truncateUTF8 cuts s to at most limit bytes without splitting a multi-byte rune.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func (s *orderStateMachine) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var illegal *IllegalTransitionError
	if errors.As(err, &illegal) {
		return illegal
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return err
}

func notificationKindFor(status domain.OrderStatus) (domain.NotificationKind, bool) {
	switch status {
	case domain.OrderStatusPaid:
		return domain.NotificationOrderConfirmed, true
	case domain.OrderStatusShipped:
		return domain.NotificationShipped, true
	case domain.OrderStatusDelivered:
		return domain.NotificationDelivered, true
	case domain.OrderStatusRefunded:
		return domain.NotificationReturnProcessed, true
	case domain.OrderStatusCancelled, domain.OrderStatusReturned:
		return domain.NotificationAdminAlert, true
	}
	return "", false
}

func validateAddress(label string, addr domain.Address) error {
	missing := make([]string, 0, 4)
	if strings.TrimSpace(addr.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(addr.Phone) == "" {
		missing = append(missing, "phone")
	}
	if strings.TrimSpace(addr.Line1) == "" {
		missing = append(missing, "line1")
	}
	if strings.TrimSpace(addr.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(addr.PostalCode) == "" {
		missing = append(missing, "postalCode")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s address missing %s", ErrOrderInvalidInput, label, strings.Join(missing, ", "))
	}
	return nil
}

// classifyGatewayError separates timeouts (unknown outcome) from plain failures. Both match
// ErrGatewayUnavailable.
func classifyGatewayError(callCtx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w: %v", ErrGatewayUnavailable, ErrGatewayTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
}

func gatewayOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
