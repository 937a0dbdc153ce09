package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/httpx"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/services"
)

const (
	maxOrderBodySize = 32 * 1024
	maxBulkBodySize  = 64 * 1024
)

type addressRequest struct {
	Name       string `json:"name" validate:"required,max=200"`
	Phone      string `json:"phone" validate:"omitempty,max=32"`
	Email      string `json:"email" validate:"omitempty,email,max=254"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state" validate:"max=100"`
	PostalCode string `json:"postal_code" validate:"required,max=16"`
	Country    string `json:"country" validate:"omitempty,len=2"`
}

type orderItemRequest struct {
	ProductID string `json:"product_id" validate:"max=100"`
	SKU       string `json:"sku" validate:"required,max=100"`
	Name      string `json:"name" validate:"required,max=200"`
	UnitPrice int64  `json:"unit_price" validate:"gte=0,lte=10000000"`
	Quantity  int    `json:"quantity" validate:"required,gte=1,lte=1000"`
}

type placeOrderRequest struct {
	CustomerID      string             `json:"customer_id" validate:"required,max=128"`
	Items           []orderItemRequest `json:"items" validate:"required,min=1,max=100,dive"`
	ShippingAddress addressRequest     `json:"shipping_address" validate:"required"`
	BillingAddress  *addressRequest    `json:"billing_address,omitempty" validate:"omitempty"`
	ShippingMethod  string             `json:"shipping_method" validate:"required,oneof=standard express pickup"`
	PaymentMethod   string             `json:"payment_method" validate:"required,oneof=cod card upi"`
	TransactionID   string             `json:"transaction_id" validate:"required_unless=PaymentMethod cod,max=200"`
	Currency        string             `json:"currency" validate:"omitempty,len=3"`
	Note            string             `json:"note" validate:"max=500"`
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required,max=32"`
	Note   string `json:"note" validate:"max=500"`
}

type bulkStatusRequest struct {
	OrderIDs []string `json:"order_ids" validate:"required,min=1,max=500,dive,required,max=128"`
	Action   string   `json:"action" validate:"omitempty,oneof=status fulfill cancel print export"`
	Status   string   `json:"status" validate:"required_if=Action status,max=32"`
	Note     string   `json:"note" validate:"max=500"`
}

type returnRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type refundRequest struct {
	Amount  int64 `json:"amount" validate:"gte=0"`
	Offline bool  `json:"offline"`
}

type addressPayload struct {
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country,omitempty"`
}

type orderItemPayload struct {
	ProductID string `json:"product_id,omitempty"`
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	LineTotal int64  `json:"line_total"`
}

type historyPayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
	Source string `json:"source"`
	Actor  string `json:"actor,omitempty"`
	At     string `json:"at"`
}

type returnPayload struct {
	Requested    bool   `json:"requested"`
	Reason       string `json:"reason,omitempty"`
	RefundStatus string `json:"refund_status,omitempty"`
	RefundAmount int64  `json:"refund_amount,omitempty"`
	RefundID     string `json:"refund_id,omitempty"`
	RequestedAt  string `json:"requested_at,omitempty"`
	ProcessedAt  string `json:"processed_at,omitempty"`
}

type orderPayload struct {
	ID              string             `json:"id"`
	Number          string             `json:"number"`
	CustomerID      string             `json:"customer_id"`
	Status          string             `json:"status"`
	Items           []orderItemPayload `json:"items"`
	ShippingAddress addressPayload     `json:"shipping_address"`
	BillingAddress  addressPayload     `json:"billing_address"`
	ShippingMethod  string             `json:"shipping_method"`
	PaymentMethod   string             `json:"payment_method"`
	PaymentStatus   string             `json:"payment_status"`
	TransactionID   string             `json:"transaction_id,omitempty"`
	Subtotal        int64              `json:"subtotal"`
	DeliveryCharge  int64              `json:"delivery_charge"`
	Total           int64              `json:"total"`
	Currency        string             `json:"currency"`
	TrackingCarrier string             `json:"tracking_carrier,omitempty"`
	TrackingNumber  string             `json:"tracking_number,omitempty"`
	TrackingURL     string             `json:"tracking_url,omitempty"`
	PackingSlipRef  string             `json:"packing_slip_ref,omitempty"`
	LabelRef        string             `json:"label_ref,omitempty"`
	ShipmentPending bool               `json:"shipment_pending,omitempty"`
	Return          *returnPayload     `json:"return,omitempty"`
	History         []historyPayload   `json:"history"`
	NextStatuses    []string           `json:"next_statuses"`
	Version         int64              `json:"version"`
	CreatedAt       string             `json:"created_at"`
	UpdatedAt       string             `json:"updated_at"`
}

type orderSummaryPayload struct {
	ID         string `json:"id"`
	Number     string `json:"number"`
	CustomerID string `json:"customer_id"`
	Status     string `json:"status"`
	Total      int64  `json:"total"`
	Currency   string `json:"currency"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type orderResponse struct {
	Order         orderPayload `json:"order"`
	Outcome       string       `json:"outcome,omitempty"`
	Previous      string       `json:"previous_status,omitempty"`
	Degraded      bool         `json:"degraded,omitempty"`
	PendingAction string       `json:"pending_action,omitempty"`
	Message       string       `json:"message,omitempty"`
}

type trackingPayload struct {
	Carrier           string `json:"carrier"`
	TrackingNumber    string `json:"tracking_number"`
	Status            string `json:"status"`
	Location          string `json:"location,omitempty"`
	EstimatedDelivery string `json:"estimated_delivery,omitempty"`
	UpdatedAt         string `json:"updated_at,omitempty"`
}

// OrderHandlers exposes the staff order endpoints.
type OrderHandlers struct {
	machine     services.OrderStateMachine
	bulk        services.BulkProcessor
	returns     services.ReturnService
	idempotency func(http.Handler) http.Handler
}

// OrderHandlersDeps bundles collaborators required by OrderHandlers.
type OrderHandlersDeps struct {
	StateMachine services.OrderStateMachine
	Bulk         services.BulkProcessor
	Returns      services.ReturnService
	// Idempotency wraps the bulk and refund routes when set.
	Idempotency func(http.Handler) http.Handler
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(deps OrderHandlersDeps) *OrderHandlers {
	return &OrderHandlers{
		machine:     deps.StateMachine,
		bulk:        deps.Bulk,
		returns:     deps.Returns,
		idempotency: deps.Idempotency,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	guarded := r
	if h.idempotency != nil {
		guarded = r.With(h.idempotency)
	}
	r.Post("/", h.placeOrder)
	r.Get("/", h.listOrders)
	guarded.Post("/bulk-status", h.bulkStatus)
	r.Get("/{orderID}", h.getOrder)
	r.Get("/{orderID}/tracking", h.trackOrder)
	r.Put("/{orderID}/status", h.updateStatus)
	r.Post("/{orderID}/return", h.requestReturn)
	guarded.Post("/{orderID}/refund", h.processRefund)
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.machine == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	var req placeOrderRequest
	if !decodeJSONBody(w, r, maxOrderBodySize, false, &req) {
		return
	}

	items := make([]domain.OrderItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.OrderItem{
			ProductID: strings.TrimSpace(item.ProductID),
			SKU:       strings.TrimSpace(item.SKU),
			Name:      strings.TrimSpace(item.Name),
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
		})
	}
	shipping := req.ShippingAddress.toDomain()
	billing := shipping
	if req.BillingAddress != nil {
		billing = req.BillingAddress.toDomain()
	}

	order, err := h.machine.PlaceOrder(ctx, services.PlaceOrderCommand{
		CustomerID:      strings.TrimSpace(req.CustomerID),
		Items:           items,
		ShippingAddress: shipping,
		BillingAddress:  billing,
		ShippingMethod:  domain.ShippingMethod(req.ShippingMethod),
		PaymentMethod:   domain.PaymentMethod(req.PaymentMethod),
		TransactionID:   strings.TrimSpace(req.TransactionID),
		Currency:        strings.ToUpper(strings.TrimSpace(req.Currency)),
		Note:            req.Note,
		Actor:           actorFromRequest(r),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.machine == nil {
		writeServiceUnavailable(ctx, w)
		return
	}

	query := r.URL.Query()
	var statuses []domain.OrderStatus
	for _, raw := range parseFilterValues(query["status"]) {
		status, err := domain.ParseOrderStatus(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest).
				WithDetails(map[string]any{"requested_status": raw}))
			return
		}
		statuses = append(statuses, status)
	}

	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be a non-negative integer", http.StatusBadRequest))
			return
		}
		limit = parsed
	}

	orders, err := h.machine.ListOrders(ctx, services.OrderListFilter{Statuses: statuses, Limit: limit})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	items := make([]orderSummaryPayload, 0, len(orders))
	for _, order := range orders {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"items": items})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.machine == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	order, err := h.machine.GetOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) trackOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.machine == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	status, err := h.machine.TrackOrder(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	payload := trackingPayload{
		Carrier:        status.Carrier,
		TrackingNumber: status.TrackingNumber,
		Status:         status.Status,
		Location:       status.Location,
		UpdatedAt:      formatTime(status.UpdatedAt),
	}
	if status.EstimatedDelivery != nil {
		payload.EstimatedDelivery = formatTime(*status.EstimatedDelivery)
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.machine == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req updateStatusRequest
	if !decodeJSONBody(w, r, maxOrderBodySize, false, &req) {
		return
	}
	target, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest).
			WithDetails(map[string]any{"requested_status": req.Status}))
		return
	}

	result, err := h.machine.ApplyTransition(ctx, services.TransitionCommand{
		OrderID: orderID,
		Target:  target,
		Note:    req.Note,
		Context: services.TransitionContext{
			Source: domain.SourceAdmin,
			Actor:  actorFromRequest(r),
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeTransitionResult(w, result)
}

func (h *OrderHandlers) bulkStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.bulk == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	var req bulkStatusRequest
	if !decodeJSONBody(w, r, maxBulkBodySize, false, &req) {
		return
	}
	action := services.BulkAction(req.Action)
	if action == "" {
		action = services.BulkActionStatus
	}
	var target domain.OrderStatus
	if strings.TrimSpace(req.Status) != "" {
		parsed, err := domain.ParseOrderStatus(req.Status)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest).
				WithDetails(map[string]any{"requested_status": req.Status}))
			return
		}
		target = parsed
	}

	report, err := h.bulk.BulkApply(ctx, services.BulkCommand{
		OrderIDs: req.OrderIDs,
		Action:   action,
		Status:   target,
		Note:     req.Note,
		Actor:    actorFromRequest(r),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, report)
}

func (h *OrderHandlers) requestReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req returnRequest
	if !decodeJSONBody(w, r, maxOrderBodySize, false, &req) {
		return
	}
	order, err := h.returns.RequestReturn(ctx, services.ReturnCommand{
		OrderID: orderID,
		Reason:  req.Reason,
		Actor:   actorFromRequest(r),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) processRefund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		writeServiceUnavailable(ctx, w)
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req refundRequest
	if !decodeJSONBody(w, r, maxOrderBodySize, true, &req) {
		return
	}
	order, err := h.returns.ProcessRefund(ctx, services.RefundCommand{
		OrderID: orderID,
		Amount:  req.Amount,
		Offline: req.Offline,
		Actor:   actorFromRequest(r),
	})
	if err != nil {
		// A timed out refund stays pending and is reconciled by the retry queue.
		if errors.Is(err, services.ErrRefundNotConfirmed) && errors.Is(err, services.ErrGatewayTimeout) {
			writeJSONResponse(w, http.StatusAccepted, map[string]any{
				"order_id":       orderID,
				"degraded":       true,
				"pending_action": "refund",
				"message":        "refund submitted; confirmation pending",
			})
			return
		}
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func writeTransitionResult(w http.ResponseWriter, result services.TransitionResult) {
	resp := orderResponse{
		Order:    buildOrderPayload(result.Order),
		Outcome:  string(result.Outcome),
		Previous: string(result.PreviousStatus),
	}
	if result.Degraded {
		resp.Degraded = true
		resp.PendingAction = result.PendingAction
		resp.Message = "status changed; " + result.PendingAction + " pending retry"
		writeJSONResponse(w, http.StatusAccepted, resp)
		return
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "order id is required", http.StatusBadRequest))
		return "", false
	}
	return orderID, true
}

func writeServiceUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("order_service_unavailable", "order service unavailable", http.StatusServiceUnavailable))
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var illegal *services.IllegalTransitionError
	switch {
	case errors.As(err, &illegal):
		httpx.WriteError(ctx, w, httpx.NewError("illegal_transition", illegal.Error(), http.StatusConflict).
			WithDetails(map[string]any{
				"current_status": string(illegal.Current),
				"target_status":  string(illegal.Target),
				"allowed":        statusStrings(domain.NextStatuses(illegal.Current)),
			}))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrRefundNotConfirmed) && errors.Is(err, services.ErrGatewayUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("refund_failed", err.Error(), http.StatusBadGateway))
	case errors.Is(err, services.ErrRefundNotConfirmed):
		httpx.WriteError(ctx, w, httpx.NewError("refund_not_confirmed", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrGatewayTimeout):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_timeout", err.Error(), http.StatusGatewayTimeout))
	case errors.Is(err, services.ErrGatewayUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("gateway_unavailable", err.Error(), http.StatusBadGateway))
	case errors.Is(err, services.ErrOrderUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("order_store_unavailable", "order store unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError).WithCause(err))
	}
}

func (a addressRequest) toDomain() domain.Address {
	return domain.Address{
		Name:       strings.TrimSpace(a.Name),
		Phone:      strings.TrimSpace(a.Phone),
		Email:      strings.TrimSpace(a.Email),
		Line1:      strings.TrimSpace(a.Line1),
		Line2:      strings.TrimSpace(a.Line2),
		City:       strings.TrimSpace(a.City),
		State:      strings.TrimSpace(a.State),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.ToUpper(strings.TrimSpace(a.Country)),
	}
}

func buildAddressPayload(a domain.Address) addressPayload {
	return addressPayload{
		Name:       a.Name,
		Phone:      a.Phone,
		Email:      a.Email,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

func buildOrderSummary(order domain.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:         order.ID,
		Number:     order.Number,
		CustomerID: order.CustomerID,
		Status:     string(order.Status),
		Total:      order.Total,
		Currency:   order.Currency,
		CreatedAt:  formatTime(order.CreatedAt),
		UpdatedAt:  formatTime(order.UpdatedAt),
	}
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:              order.ID,
		Number:          order.Number,
		CustomerID:      order.CustomerID,
		Status:          string(order.Status),
		Items:           make([]orderItemPayload, 0, len(order.Items)),
		ShippingAddress: buildAddressPayload(order.ShippingAddress),
		BillingAddress:  buildAddressPayload(order.BillingAddress),
		ShippingMethod:  string(order.ShippingMethod),
		PaymentMethod:   string(order.Payment.Method),
		PaymentStatus:   string(order.Payment.Status),
		TransactionID:   order.Payment.TransactionID,
		Subtotal:        order.Subtotal,
		DeliveryCharge:  order.DeliveryCharge,
		Total:           order.Total,
		Currency:        order.Currency,
		TrackingCarrier: order.Tracking.Carrier,
		TrackingNumber:  order.Tracking.Number,
		TrackingURL:     order.Tracking.URL,
		PackingSlipRef:  order.Fulfillment.PackingSlipRef,
		LabelRef:        order.Fulfillment.LabelRef,
		ShipmentPending: order.Fulfillment.ShipmentPending,
		History:         make([]historyPayload, 0, len(order.History)),
		NextStatuses:    statusStrings(domain.NextStatuses(order.Status)),
		Version:         order.Version,
		CreatedAt:       formatTime(order.CreatedAt),
		UpdatedAt:       formatTime(order.UpdatedAt),
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID: item.ProductID,
			SKU:       item.SKU,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: item.LineTotal(),
		})
	}
	for _, entry := range order.History {
		payload.History = append(payload.History, historyPayload{
			ID:     entry.ID,
			Status: string(entry.Status),
			Note:   entry.Note,
			Source: string(entry.Source),
			Actor:  entry.Actor,
			At:     formatTime(entry.At),
		})
	}
	if order.Return.Requested {
		ret := &returnPayload{
			Requested:    true,
			Reason:       order.Return.Reason,
			RefundStatus: string(order.Return.RefundStatus),
			RefundAmount: order.Return.RefundAmount,
			RefundID:     order.Return.RefundID,
		}
		if order.Return.RequestedAt != nil {
			ret.RequestedAt = formatTime(*order.Return.RequestedAt)
		}
		if order.Return.ProcessedAt != nil {
			ret.ProcessedAt = formatTime(*order.Return.ProcessedAt)
		}
		payload.Return = ret
	}
	return payload
}

func statusStrings(statuses []domain.OrderStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, string(status))
	}
	return out
}

func parseFilterValues(values []string) []string {
	var result []string
	seen := make(map[string]struct{})
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			value := strings.ToLower(strings.TrimSpace(part))
			if value == "" {
				continue
			}
			if _, ok := seen[value]; ok {
				continue
			}
			seen[value] = struct{}{}
			result = append(result, value)
		}
	}
	return result
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
