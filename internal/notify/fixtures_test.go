package notify

import (
	"sync"
	"testing"
	"time"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
)

var shippedAt = time.Date(2024, 6, 3, 6, 0, 0, 0, time.UTC)

func sampleOrder() domain.Order {
	return domain.Order{
		ID:     "ord_1",
		Number: "MB-2024-000042",
		Items: []domain.OrderItem{
			{SKU: "KACHRI-250", Name: "Kachri masala", UnitPrice: 250, Quantity: 2},
			{SKU: "PAPAD-500", Name: "Bikaneri papad", UnitPrice: 1200, Quantity: 1},
		},
		ShippingAddress: domain.Address{Name: "Meera Rathore", Phone: "+919876543210", Email: "meera@example.in", City: "Jodhpur"},
		BillingAddress:  domain.Address{Name: "Meera Rathore", Email: "billing@example.in"},
		ShippingMethod:  domain.ShippingMethodStandard,
		Payment:         domain.Payment{Method: domain.PaymentMethodUPI, Status: domain.PaymentStatusPaid},
		Status:          domain.OrderStatusShipped,
		Tracking:        domain.Tracking{Carrier: "shipfast", Number: "SF123", URL: "https://track.example/SF123"},
		History: []domain.StatusHistoryEntry{
			{ID: "h1", Status: domain.OrderStatusPending, Source: domain.SourceSystem, At: shippedAt.Add(-48 * time.Hour)},
			{ID: "h2", Status: domain.OrderStatusShipped, Source: domain.SourceAdmin, Actor: "admin:7", Note: "handed to courier", At: shippedAt},
		},
		Subtotal:       1700,
		DeliveryCharge: 100,
		Total:          1800,
		Currency:       "INR",
	}
}

func mustTemplates(t *testing.T) *Templates {
	t.Helper()
	tmpl, err := NewTemplates("Marwari Basket", "en-IN")
	if err != nil {
		t.Fatalf("NewTemplates: %v", err)
	}
	return tmpl
}

type observation struct {
	channel string
	kind    string
	outcome string
}

type recordingMetrics struct {
	mu  sync.Mutex
	obs []observation
}

func (m *recordingMetrics) ObserveNotification(channel, kind, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.obs = append(m.obs, observation{channel: channel, kind: kind, outcome: outcome})
}

func (m *recordingMetrics) count(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, o := range m.obs {
		if o.outcome == outcome {
			n++
		}
	}
	return n
}
