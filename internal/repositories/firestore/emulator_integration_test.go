//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
	pconfig "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/config"
	pfirestore "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/firestore"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/repositories"
)

// newEmulatorProvider connects to the emulator named by FIRESTORE_EMULATOR_HOST, e.g. one started
// with `gcloud emulators firestore start --host-port=127.0.0.1:8681`. Each call uses a fresh project
// id so tests never see each other's documents.
func newEmulatorProvider(t *testing.T, projectID string) *pfirestore.Provider {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	host := strings.TrimSpace(os.Getenv("FIRESTORE_EMULATOR_HOST"))
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	project := projectID + "-" + strconv.FormatInt(time.Now().UnixNano(), 36)
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: project, EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}

func TestCounterRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "counter-test")
	repo, err := NewCounterRepository(provider)
	if err != nil {
		t.Fatalf("new counter repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	const workers = 16
	results := make([]int64, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			value, err := repo.Next(ctx, "orders", 1)
			if err != nil {
				t.Errorf("next(%d): %v", idx, err)
				return
			}
			results[idx] = value
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, val := range results {
		if val != int64(i+1) {
			t.Fatalf("expected sequence %d at position %d, got %d", i+1, i, val)
		}
	}

	if _, err = repo.Next(ctx, " ", 1); !errors.Is(err, repositories.ErrInvalidCounter) {
		t.Fatalf("expected ErrInvalidCounter, got %v", err)
	}
}

func TestOrderRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "orders-test")
	repo, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	order, err := domain.NewOrder(domain.NewOrderParams{
		ID:            "ord_it_1",
		Number:        "MB-000001",
		Items:         []domain.OrderItem{{SKU: "PAPAD-500", UnitPrice: 250, Quantity: 2}},
		PaymentMethod: domain.PaymentMethodUPI,
		TransactionID: "pay_it_1",
		HistoryID:     "h1",
		Now:           now,
	})
	if err != nil {
		t.Fatalf("new order: %v", err)
	}
	if err := repo.Insert(ctx, order); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err = repo.Insert(ctx, order)
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate insert, got %v", err)
	}

	byTxn, err := repo.FindByTransactionID(ctx, "pay_it_1")
	if err != nil || byTxn.ID != order.ID || byTxn.Total != order.Total {
		t.Fatalf("find by transaction: %v %+v", err, byTxn)
	}

	const writers = 8
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			_, err := repo.Mutate(ctx, order.ID, func(o *domain.Order) error {
				o.AppendHistory(domain.StatusHistoryEntry{ID: fmt.Sprintf("w%d", i), Status: o.Status, At: now})
				return nil
			})
			if err != nil {
				t.Errorf("mutate %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	updated, err := repo.Mutate(ctx, order.ID, func(o *domain.Order) error {
		o.SetTracking(domain.Tracking{Carrier: "delhivery", Number: "DL-IT-1"})
		return nil
	})
	if err != nil {
		t.Fatalf("set tracking: %v", err)
	}
	if len(updated.History) != writers+1 || updated.Version != writers+2 {
		t.Fatalf("expected %d history entries at version %d, got %d at %d", writers+1, writers+2, len(updated.History), updated.Version)
	}
	if _, err := repo.FindByTrackingNumber(ctx, "DL-IT-1"); err != nil {
		t.Fatalf("find by tracking: %v", err)
	}

	boom := errors.New("boom")
	if _, err := repo.Mutate(ctx, order.ID, func(*domain.Order) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected mutate to surface callback error, got %v", err)
	}
	if _, err := repo.FindByID(ctx, "missing"); !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}

	listed, err := repo.List(ctx, repositories.OrderListFilter{Status: []domain.OrderStatus{domain.OrderStatusPending}})
	if err != nil || len(listed) != 1 {
		t.Fatalf("list pending: %v %d", err, len(listed))
	}
}
