package repositories

import (
	"context"
	"errors"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ErrSkipWrite tells Mutate to release the order without persisting anything; Mutate then returns the
// current order and a nil error.
var ErrSkipWrite = errors.New("repositories: skip write")

// MutateFunc receives a private copy of the current order and edits it in place. It runs while the
// order is exclusively held, so its decision reflects the latest committed state. Implementations may
// call it more than once when an optimistic commit loses a race; it must not have side effects
// outside the order.
type MutateFunc func(order *domain.Order) error

// OrderListFilter narrows list queries.
type OrderListFilter struct {
	Status []domain.OrderStatus
	Limit  int
}

// OrderRepository persists orders and serialises every mutation of a single order.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByTransactionID(ctx context.Context, transactionID string) (domain.Order, error)
	FindByTrackingNumber(ctx context.Context, trackingNumber string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
	// Mutate loads the order, applies fn and commits the result with Version incremented. Two Mutate
	// calls on the same order never interleave.
	Mutate(ctx context.Context, orderID string, fn MutateFunc) (domain.Order, error)
}

// CounterRepository issues monotonically increasing sequence values used for human readable order numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository evaluates dependency probes for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.ReadinessReport, error)
}

// DefaultListLimit bounds list queries when the caller does not specify a limit.
const DefaultListLimit = 100

// NormalizeLimit clamps a list limit into (0, 500].
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > 500:
		return 500
	default:
		return limit
	}
}
