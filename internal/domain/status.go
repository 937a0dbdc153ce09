package domain

import (
	"fmt"
	"slices"
	"strings"
)

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	// OrderStatusPending indicates the order was placed and awaits confirmation.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusProcessing indicates the store accepted the order.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusPaid indicates the payment gateway confirmed the charge.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusPacked indicates the parcel is packed and labelled.
	OrderStatusPacked OrderStatus = "packed"
	// OrderStatusShipped indicates the parcel was handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the carrier reported delivery.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusReturned indicates the customer returned a delivered order.
	OrderStatusReturned OrderStatus = "returned"
	// OrderStatusCancelled indicates the order was cancelled before shipping.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusRefunded indicates the refund for a returned order settled.
	OrderStatusRefunded OrderStatus = "refunded"
)

var orderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusPaid,
	OrderStatusPacked,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusReturned,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

// orderStatusTransitions is the only place legal moves are declared.
var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusPaid, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusPaid, OrderStatusPacked, OrderStatusShipped, OrderStatusCancelled},
	OrderStatusPaid:       {OrderStatusPacked, OrderStatusShipped, OrderStatusCancelled},
	OrderStatusPacked:     {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {OrderStatusReturned},
	OrderStatusReturned:   {OrderStatusRefunded},
	OrderStatusCancelled:  {},
	OrderStatusRefunded:   {},
}

// statusRank orders statuses along the forward fulfillment path. Branch states share the rank of
// the furthest point they can be reached from so stale detection treats them as "ahead".
var statusRank = map[OrderStatus]int{
	OrderStatusPending:    0,
	OrderStatusProcessing: 1,
	OrderStatusPaid:       2,
	OrderStatusPacked:     3,
	OrderStatusShipped:    4,
	OrderStatusDelivered:  5,
	OrderStatusReturned:   6,
	OrderStatusRefunded:   7,
	OrderStatusCancelled:  8,
}

// ParseOrderStatus normalises the raw value and rejects anything outside the closed enum.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("unknown order status %q", raw)
	}
	return status, nil
}

// OrderStatuses returns every known status in lifecycle order.
func OrderStatuses() []OrderStatus {
	return slices.Clone(orderStatuses)
}

// Valid reports whether the status is part of the enum.
func (s OrderStatus) Valid() bool {
	_, ok := orderStatusTransitions[s]
	return ok
}

// Terminal reports whether no further transition leaves the status. Delivered is terminal for the
// forward path but still admits the return branch.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// Shipped reports whether the parcel has left the warehouse.
func (s OrderStatus) Shipped() bool {
	return statusRank[s] >= statusRank[OrderStatusShipped] && s != OrderStatusCancelled
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// CanTransition reports whether target is directly reachable from current.
func CanTransition(current, target OrderStatus) bool {
	next, ok := orderStatusTransitions[current]
	if !ok {
		return false
	}
	return slices.Contains(next, target)
}

// NextStatuses lists the statuses reachable from current.
func NextStatuses(current OrderStatus) []OrderStatus {
	return slices.Clone(orderStatusTransitions[current])
}

// IsStale reports whether a signal asking for target arrives after the order already moved past
// it, e.g. a carrier "in transit" update delivered after "delivered" was recorded.
func IsStale(current, target OrderStatus) bool {
	if current == target || CanTransition(current, target) {
		return false
	}
	if current == OrderStatusCancelled {
		return true
	}
	return statusRank[target] < statusRank[current]
}
