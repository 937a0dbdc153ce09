package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/repositories"
)

// OrderRepository keeps orders in process. Each order has its own mutex so mutations on different
// orders proceed in parallel while mutations on the same order are serialised.
type OrderRepository struct {
	mu         sync.RWMutex
	orders     map[string]*orderSlot
	byTxn      map[string]string
	byTracking map[string]string
}

type orderSlot struct {
	mu    sync.Mutex
	order domain.Order
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository returns an empty store.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:     make(map[string]*orderSlot),
		byTxn:      make(map[string]string),
		byTracking: make(map[string]string),
	}
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return errors.New("memory orders: order id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[id]; exists {
		return conflict("orders.insert", "order %s already exists", id)
	}
	stored := order.Clone()
	if stored.Version == 0 {
		stored.Version = 1
	}
	r.orders[id] = &orderSlot{order: stored}
	r.index(stored)
	return nil
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	slot, ok := r.slot(strings.TrimSpace(orderID))
	if !ok {
		return domain.Order{}, notFound("orders.get", "order %s not found", orderID)
	}
	slot.mu.Lock()
	defer slot.mu.Unlock()
	return slot.order.Clone(), nil
}

func (r *OrderRepository) FindByTransactionID(ctx context.Context, transactionID string) (domain.Order, error) {
	key := strings.TrimSpace(transactionID)
	r.mu.RLock()
	id, ok := r.byTxn[key]
	r.mu.RUnlock()
	if !ok || key == "" {
		return domain.Order{}, notFound("orders.by_transaction", "no order for transaction %s", transactionID)
	}
	return r.FindByID(ctx, id)
}

func (r *OrderRepository) FindByTrackingNumber(ctx context.Context, trackingNumber string) (domain.Order, error) {
	key := strings.TrimSpace(trackingNumber)
	r.mu.RLock()
	id, ok := r.byTracking[key]
	r.mu.RUnlock()
	if !ok || key == "" {
		return domain.Order{}, notFound("orders.by_tracking", "no order for tracking number %s", trackingNumber)
	}
	return r.FindByID(ctx, id)
}

func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wanted := make(map[domain.OrderStatus]struct{}, len(filter.Status))
	for _, status := range filter.Status {
		wanted[status] = struct{}{}
	}

	r.mu.RLock()
	slots := make([]*orderSlot, 0, len(r.orders))
	for _, slot := range r.orders {
		slots = append(slots, slot)
	}
	r.mu.RUnlock()

	out := make([]domain.Order, 0, len(slots))
	for _, slot := range slots {
		slot.mu.Lock()
		order := slot.order.Clone()
		slot.mu.Unlock()
		if len(wanted) > 0 {
			if _, ok := wanted[order.Status]; !ok {
				continue
			}
		}
		out = append(out, order)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit := repositories.NormalizeLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn repositories.MutateFunc) (domain.Order, error) {
	if fn == nil {
		return domain.Order{}, errors.New("memory orders: mutate function is required")
	}
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	slot, ok := r.slot(strings.TrimSpace(orderID))
	if !ok {
		return domain.Order{}, notFound("orders.mutate", "order %s not found", orderID)
	}

	slot.mu.Lock()
	defer slot.mu.Unlock()

	working := slot.order.Clone()
	if err := fn(&working); err != nil {
		if errors.Is(err, repositories.ErrSkipWrite) {
			return slot.order.Clone(), nil
		}
		return domain.Order{}, err
	}
	working.ID = slot.order.ID
	working.Version = slot.order.Version + 1
	slot.order = working

	r.mu.Lock()
	r.index(working)
	r.mu.Unlock()

	return working.Clone(), nil
}

func (r *OrderRepository) slot(id string) (*orderSlot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slot, ok := r.orders[id]
	return slot, ok
}

// index must be called with r.mu held for writing.
func (r *OrderRepository) index(order domain.Order) {
	if txn := strings.TrimSpace(order.Payment.TransactionID); txn != "" {
		r.byTxn[txn] = order.ID
	}
	if tracking := strings.TrimSpace(order.Tracking.Number); tracking != "" {
		r.byTracking[tracking] = order.ID
	}
}
