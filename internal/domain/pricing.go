package domain

import "fmt"

// DefaultCurrency is used when checkout does not specify one.
const DefaultCurrency = "INR"

// Per-order limits. Together they keep Subtotal far below the int64 range.
const (
	MaxOrderLines   = 200
	MaxItemQuantity = 10_000
	MaxUnitPrice    = 10_000_000
)

var deliveryCharges = map[ShippingMethod]int64{
	ShippingMethodStandard: 100,
	ShippingMethodExpress:  200,
	ShippingMethodPickup:   0,
}

// DeliveryCharge returns the flat delivery charge for the method in whole currency units.
func DeliveryCharge(method ShippingMethod) (int64, error) {
	charge, ok := deliveryCharges[method]
	if !ok {
		return 0, fmt.Errorf("%w: unknown shipping method %q", ErrInvalidOrder, method)
	}
	return charge, nil
}

// Subtotal sums price × quantity across items.
func Subtotal(items []OrderItem) int64 {
	var total int64
	for _, item := range items {
		total += item.LineTotal()
	}
	return total
}
