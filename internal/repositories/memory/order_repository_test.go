package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/repositories"
)

func seedOrder(t *testing.T, repo *OrderRepository, id string, createdAt time.Time) domain.Order {
	t.Helper()
	order, err := domain.NewOrder(domain.NewOrderParams{
		ID:            id,
		Items:         []domain.OrderItem{{SKU: "KACHRI-250", UnitPrice: 120, Quantity: 1}},
		TransactionID: "txn_" + id,
		HistoryID:     "h_" + id,
		Now:           createdAt,
	})
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}
	if err := repo.Insert(context.Background(), order); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return order
}

func TestOrderRepositoryInsertConflictAndLookup(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	now := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	order := seedOrder(t, repo, "ord_1", now)

	err := repo.Insert(ctx, order)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict error, got %v", err)
	}

	found, err := repo.FindByTransactionID(ctx, "txn_ord_1")
	if err != nil || found.ID != "ord_1" {
		t.Fatalf("FindByTransactionID: %v %#v", err, found)
	}

	_, err = repo.FindByID(ctx, "missing")
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderRepositoryMutateSerialisesWriters(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	seedOrder(t, repo, "ord_1", time.Now())

	const writers = 32
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			_, err := repo.Mutate(ctx, "ord_1", func(order *domain.Order) error {
				order.AppendHistory(domain.StatusHistoryEntry{Status: order.Status, Note: "touch"})
				return nil
			})
			if err != nil {
				t.Errorf("Mutate: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := repo.FindByID(ctx, "ord_1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if len(got.History) != writers+1 {
		t.Fatalf("expected %d history entries, got %d", writers+1, len(got.History))
	}
	if got.Version != writers+1 {
		t.Fatalf("expected version %d, got %d", writers+1, got.Version)
	}
}

func TestOrderRepositoryMutateSkipAndError(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	seedOrder(t, repo, "ord_1", time.Now())

	got, err := repo.Mutate(ctx, "ord_1", func(order *domain.Order) error {
		order.Status = domain.OrderStatusCancelled
		return repositories.ErrSkipWrite
	})
	if err != nil {
		t.Fatalf("expected skip to succeed, got %v", err)
	}
	if got.Status != domain.OrderStatusPending || got.Version != 1 {
		t.Fatalf("skip must not persist changes: %#v", got)
	}

	boom := errors.New("boom")
	if _, err := repo.Mutate(ctx, "ord_1", func(order *domain.Order) error {
		order.Status = domain.OrderStatusCancelled
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	stored, _ := repo.FindByID(ctx, "ord_1")
	if stored.Status != domain.OrderStatusPending {
		t.Fatalf("failed mutation leaked state: %s", stored.Status)
	}
}

func TestOrderRepositoryIndexesTrackingAfterMutate(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	seedOrder(t, repo, "ord_1", time.Now())

	if _, err := repo.Mutate(ctx, "ord_1", func(order *domain.Order) error {
		order.SetTracking(domain.Tracking{Carrier: "delhivery", Number: "DL-42"})
		return nil
	}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	found, err := repo.FindByTrackingNumber(ctx, "DL-42")
	if err != nil || found.ID != "ord_1" {
		t.Fatalf("FindByTrackingNumber: %v %#v", err, found)
	}
}

func TestOrderRepositoryListFiltersAndOrders(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	base := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	seedOrder(t, repo, "ord_1", base)
	seedOrder(t, repo, "ord_2", base.Add(time.Hour))
	seedOrder(t, repo, "ord_3", base.Add(2*time.Hour))
	if _, err := repo.Mutate(ctx, "ord_2", func(order *domain.Order) error {
		order.Status = domain.OrderStatusProcessing
		return nil
	}); err != nil {
		t.Fatalf("Mutate: %v", err)
	}

	pending, err := repo.List(ctx, repositories.OrderListFilter{Status: []domain.OrderStatus{domain.OrderStatusPending}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "ord_3" || pending[1].ID != "ord_1" {
		t.Fatalf("unexpected pending list %#v", pending)
	}

	limited, err := repo.List(ctx, repositories.OrderListFilter{Limit: 1})
	if err != nil || len(limited) != 1 {
		t.Fatalf("expected single order, got %d (%v)", len(limited), err)
	}
}

func TestCounterRepositoryNext(t *testing.T) {
	counters := NewCounterRepository()
	ctx := context.Background()
	for want := int64(1); want <= 3; want++ {
		got, err := counters.Next(ctx, "orders", 0)
		if err != nil || got != want {
			t.Fatalf("Next = %d, %v; want %d", got, err, want)
		}
	}
	if _, err := counters.Next(ctx, "", 1); err == nil {
		t.Fatalf("expected error for empty counter id")
	}
}
