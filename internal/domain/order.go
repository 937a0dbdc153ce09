package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ShippingMethod selects the delivery option chosen at checkout.
type ShippingMethod string

const (
	ShippingMethodStandard ShippingMethod = "standard"
	ShippingMethodExpress  ShippingMethod = "express"
	ShippingMethodPickup   ShippingMethod = "pickup"
)

// PaymentMethod identifies how the customer pays.
type PaymentMethod string

const (
	PaymentMethodCOD  PaymentMethod = "cod"
	PaymentMethodCard PaymentMethod = "card"
	PaymentMethodUPI  PaymentMethod = "upi"
)

// PaymentStatus mirrors the gateway view of the charge.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// RefundStatus tracks refund bookkeeping for returned orders.
type RefundStatus string

const (
	RefundStatusNone      RefundStatus = "none"
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusProcessed RefundStatus = "processed"
)

// TransitionSource identifies who asked for a status change.
type TransitionSource string

const (
	SourceSystem  TransitionSource = "system"
	SourceAdmin   TransitionSource = "admin"
	SourceBulk    TransitionSource = "bulk"
	SourcePayment TransitionSource = "payment_webhook"
	SourceCarrier TransitionSource = "carrier_webhook"
)

// NotificationKind keys the message templates sent to customers and staff.
type NotificationKind string

const (
	NotificationOrderConfirmed  NotificationKind = "order-confirmed"
	NotificationShipped         NotificationKind = "shipped"
	NotificationDelivered       NotificationKind = "delivered"
	NotificationReturnProcessed NotificationKind = "return-processed"
	NotificationAdminAlert      NotificationKind = "admin-alert"
)

var (
	// ErrInvalidOrder is returned when an order cannot be built from the supplied snapshot.
	ErrInvalidOrder = errors.New("domain: invalid order")
)

// Address is a snapshot of the address used at checkout, contact details included.
type Address struct {
	Name       string
	Phone      string
	Email      string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// OrderItem freezes the catalog data of a line at order time.
type OrderItem struct {
	ProductID string
	SKU       string
	Name      string
	UnitPrice int64
	Quantity  int
}

// LineTotal returns price × quantity for the line.
func (i OrderItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

// Payment records the payment method and the gateway's view of it.
type Payment struct {
	Method        PaymentMethod
	Status        PaymentStatus
	TransactionID string
}

// Tracking is assigned once a shipment exists and never rewritten.
type Tracking struct {
	Carrier string
	Number  string
	URL     string
}

// Fulfillment holds packing references produced on the way to the carrier.
type Fulfillment struct {
	PackingSlipRef  string
	LabelRef        string
	ShipmentPending bool
}

// ReturnInfo tracks the return/refund branch.
type ReturnInfo struct {
	Requested    bool
	Reason       string
	RefundStatus RefundStatus
	RefundAmount int64
	RefundID     string
	RequestedAt  *time.Time
	ProcessedAt  *time.Time
}

// StatusHistoryEntry is one immutable row of the audit trail.
type StatusHistoryEntry struct {
	ID     string
	Status OrderStatus
	Note   string
	Source TransitionSource
	Actor  string
	At     time.Time
}

// Order is the aggregate root for fulfillment.
type Order struct {
	ID              string
	Number          string
	CustomerID      string
	Items           []OrderItem
	ShippingAddress Address
	BillingAddress  Address
	ShippingMethod  ShippingMethod
	Payment         Payment
	Status          OrderStatus
	History         []StatusHistoryEntry
	Tracking        Tracking
	Fulfillment     Fulfillment
	Subtotal        int64
	DeliveryCharge  int64
	Total           int64
	Currency        string
	Return          ReturnInfo
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewOrderParams carries the checkout snapshot used to open an order.
type NewOrderParams struct {
	ID              string
	Number          string
	CustomerID      string
	Items           []OrderItem
	ShippingAddress Address
	BillingAddress  Address
	ShippingMethod  ShippingMethod
	PaymentMethod   PaymentMethod
	TransactionID   string
	Currency        string
	HistoryID       string
	Note            string
	Actor           string
	Now             time.Time
}

// NewOrder builds a pending order, fixing the totals and seeding the history.
func NewOrder(p NewOrderParams) (Order, error) {
	if strings.TrimSpace(p.ID) == "" {
		return Order{}, fmt.Errorf("%w: id is required", ErrInvalidOrder)
	}
	if len(p.Items) == 0 {
		return Order{}, fmt.Errorf("%w: at least one item is required", ErrInvalidOrder)
	}
	if len(p.Items) > MaxOrderLines {
		return Order{}, fmt.Errorf("%w: at most %d lines per order", ErrInvalidOrder, MaxOrderLines)
	}
	for i, item := range p.Items {
		if item.Quantity <= 0 || item.Quantity > MaxItemQuantity {
			return Order{}, fmt.Errorf("%w: item %d quantity must be between 1 and %d", ErrInvalidOrder, i, MaxItemQuantity)
		}
		if item.UnitPrice < 0 || item.UnitPrice > MaxUnitPrice {
			return Order{}, fmt.Errorf("%w: item %d price must be between 0 and %d", ErrInvalidOrder, i, MaxUnitPrice)
		}
	}
	method := p.ShippingMethod
	if method == "" {
		method = ShippingMethodStandard
	}
	charge, err := DeliveryCharge(method)
	if err != nil {
		return Order{}, err
	}
	payment := p.PaymentMethod
	if payment == "" {
		payment = PaymentMethodCOD
	}
	if !payment.Valid() {
		return Order{}, fmt.Errorf("%w: unknown payment method %q", ErrInvalidOrder, payment)
	}
	currency := strings.TrimSpace(p.Currency)
	if currency == "" {
		currency = DefaultCurrency
	}

	items := make([]OrderItem, len(p.Items))
	copy(items, p.Items)
	subtotal := Subtotal(items)

	note := strings.TrimSpace(p.Note)
	if note == "" {
		note = "order placed"
	}

	now := p.Now.UTC()
	return Order{
		ID:              p.ID,
		Number:          p.Number,
		CustomerID:      strings.TrimSpace(p.CustomerID),
		Items:           items,
		ShippingAddress: p.ShippingAddress,
		BillingAddress:  p.BillingAddress,
		ShippingMethod:  method,
		Payment: Payment{
			Method:        payment,
			Status:        PaymentStatusPending,
			TransactionID: strings.TrimSpace(p.TransactionID),
		},
		Status: OrderStatusPending,
		History: []StatusHistoryEntry{{
			ID:     p.HistoryID,
			Status: OrderStatusPending,
			Note:   note,
			Source: SourceSystem,
			Actor:  p.Actor,
			At:     now,
		}},
		Subtotal:       subtotal,
		DeliveryCharge: charge,
		Total:          subtotal + charge,
		Currency:       currency,
		Return:         ReturnInfo{RefundStatus: RefundStatusNone},
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Valid reports whether the method is supported.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCOD, PaymentMethodCard, PaymentMethodUPI:
		return true
	default:
		return false
	}
}

// LastHistory returns the most recent audit entry.
func (o Order) LastHistory() (StatusHistoryEntry, bool) {
	if len(o.History) == 0 {
		return StatusHistoryEntry{}, false
	}
	return o.History[len(o.History)-1], true
}

// HasTracking reports whether a tracking number was recorded.
func (o Order) HasTracking() bool {
	return strings.TrimSpace(o.Tracking.Number) != ""
}

// SetTracking records tracking once; later calls never overwrite a non-empty number.
func (o *Order) SetTracking(t Tracking) bool {
	if o.HasTracking() || strings.TrimSpace(t.Number) == "" {
		return false
	}
	o.Tracking = t
	o.Fulfillment.ShipmentPending = false
	return true
}

// AppendHistory adds an entry to the audit trail. Entries are never edited in place.
func (o *Order) AppendHistory(entry StatusHistoryEntry) {
	o.History = append(o.History, entry)
}

// Clone returns a deep copy so callers cannot mutate stored slices.
func (o Order) Clone() Order {
	cloned := o
	if o.Items != nil {
		cloned.Items = append([]OrderItem(nil), o.Items...)
	}
	if o.History != nil {
		cloned.History = append([]StatusHistoryEntry(nil), o.History...)
	}
	if o.Return.RequestedAt != nil {
		t := *o.Return.RequestedAt
		cloned.Return.RequestedAt = &t
	}
	if o.Return.ProcessedAt != nil {
		t := *o.Return.ProcessedAt
		cloned.Return.ProcessedAt = &t
	}
	return cloned
}
