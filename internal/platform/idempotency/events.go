package idempotency

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/services"
)

const eventFingerprint = "webhook-event"

// EventDeduper claims provider event ids in a Store. A key that is pending or completed is not
// claimable, so concurrent redeliveries of one event run once.
type EventDeduper struct {
	store Store
	ttl   time.Duration
	clock func() time.Time
}

var _ services.EventDeduper = (*EventDeduper)(nil)

// NewEventDeduper wraps store. ttl <= 0 keeps event ids for DefaultTTL.
func NewEventDeduper(store Store, ttl time.Duration, clock func() time.Time) (*EventDeduper, error) {
	if store == nil {
		return nil, errors.New("idempotency: store is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &EventDeduper{store: store, ttl: normaliseTTL(ttl), clock: clock}, nil
}

func (d *EventDeduper) Claim(ctx context.Context, key string) (bool, error) {
	reservation, err := d.store.Reserve(ctx, eventKey(key), eventFingerprint, d.clock(), d.ttl)
	if err != nil {
		return false, err
	}
	return reservation.State == ReservationStateNew, nil
}

func (d *EventDeduper) Complete(ctx context.Context, key string) error {
	return d.store.SaveResponse(ctx, eventKey(key), eventFingerprint, Response{Status: http.StatusOK}, d.clock(), d.ttl)
}

func (d *EventDeduper) Release(ctx context.Context, key string) error {
	return d.store.Release(ctx, eventKey(key), eventFingerprint)
}

// eventKey keeps event ids apart from client Idempotency-Key values.
func eventKey(key string) string {
	return "event|" + key
}
