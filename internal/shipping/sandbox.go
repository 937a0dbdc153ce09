package shipping

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/services"
)

// SandboxCarrier books shipments in memory. Bookings are keyed by idempotency key so a retried
// booking returns the original tracking number.
type SandboxCarrier struct {
	mu       sync.Mutex
	clock    func() time.Time
	bookings map[string]services.ShipmentReceipt
	seq      int
}

var _ services.ShippingCarrier = (*SandboxCarrier)(nil)

// NewSandboxCarrier returns an empty sandbox carrier.
func NewSandboxCarrier(clock func() time.Time) *SandboxCarrier {
	if clock == nil {
		clock = time.Now
	}
	return &SandboxCarrier{clock: clock, bookings: make(map[string]services.ShipmentReceipt)}
}

func (c *SandboxCarrier) Name() string { return "sandbox" }

func (c *SandboxCarrier) CreateShipment(ctx context.Context, req services.ShipmentRequest) (services.ShipmentReceipt, error) {
	if err := ctx.Err(); err != nil {
		return services.ShipmentReceipt{}, err
	}
	key := req.IdempotencyKey
	if key == "" {
		key = "shipment:" + req.OrderID
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if receipt, ok := c.bookings[key]; ok {
		return receipt, nil
	}
	c.seq++
	number := fmt.Sprintf("SBX%08d", c.seq)
	receipt := services.ShipmentReceipt{
		Carrier:        c.Name(),
		TrackingNumber: number,
		TrackingURL:    "https://sandbox.carrier.invalid/track/" + number,
	}
	c.bookings[key] = receipt
	return receipt, nil
}

func (c *SandboxCarrier) Track(ctx context.Context, trackingNumber string) (services.TrackingStatus, error) {
	if err := ctx.Err(); err != nil {
		return services.TrackingStatus{}, err
	}
	number := strings.TrimSpace(trackingNumber)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, receipt := range c.bookings {
		if receipt.TrackingNumber == number {
			eta := c.clock().UTC().Add(72 * time.Hour).Truncate(24 * time.Hour)
			return services.TrackingStatus{
				Carrier:           c.Name(),
				TrackingNumber:    number,
				Status:            "in_transit",
				Location:          "sandbox hub",
				EstimatedDelivery: &eta,
				UpdatedAt:         c.clock().UTC(),
			}, nil
		}
	}
	return services.TrackingStatus{}, &APIError{StatusCode: 404, Message: "unknown tracking number " + number}
}
