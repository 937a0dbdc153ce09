package di

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/config"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/services"
)

func localConfig() config.Config {
	return config.Config{
		Server:   config.ServerConfig{Port: "8080"},
		Store:    config.StoreConfig{Backend: "memory", DefaultCurrency: "INR"},
		Payments: config.PaymentsConfig{Provider: "sandbox", Timeout: time.Second},
		Shipping: config.ShippingConfig{Provider: "sandbox", Timeout: time.Second},
		Notifications: config.NotificationConfig{
			Sandbox:         true,
			Workers:         1,
			QueueSize:       8,
			AdminRecipients: []string{"ops@example.com", "+919800000001"},
			StoreName:       "Marwari Basket",
		},
		Webhooks: config.WebhookConfig{
			Secrets:         map[string]string{"payment": "pay-secret", "shipping": "ship-secret"},
			SignatureHeader: "X-Webhook-Signature",
			Tolerance:       5 * time.Minute,
			BodyLimit:       1 << 20,
			DedupTTL:        24 * time.Hour,
		},
		Security:    config.SecurityConfig{Environment: "local"},
		Idempotency: config.IdempotencyConfig{Backend: "memory", Header: "Idempotency-Key", TTL: time.Hour, CleanupBatchSize: 100},
	}
}

func TestNewContainer_LocalWiring(t *testing.T) {
	ctx := context.Background()
	container, err := NewContainer(ctx, localConfig(), Options{
		Logger: zaptest.NewLogger(t),
		Build:  services.BuildInfo{Version: "test", Environment: "local"},
	})
	if err != nil {
		t.Fatalf("NewContainer: %v", err)
	}
	container.Start(ctx)
	t.Cleanup(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			t.Errorf("Close: %v", err)
		}
	})

	svc := container.Services
	if svc.Orders == nil || svc.Webhooks == nil || svc.Bulk == nil || svc.Returns == nil || svc.Retries == nil || svc.System == nil {
		t.Fatalf("expected every service to be wired, got %+v", svc)
	}
	if container.memoryQueue == nil {
		t.Fatalf("expected in-process retry queue without a retry topic")
	}
	if container.pubsub != nil || container.gcs != nil || container.redis != nil || container.firestore != nil {
		t.Fatalf("expected no cloud clients in local mode")
	}

	order, err := svc.Orders.PlaceOrder(ctx, services.PlaceOrderCommand{
		CustomerID: "cus_1",
		Items:      []domain.OrderItem{{SKU: "PAPAD-1", Name: "Bikaneri papad", UnitPrice: 180, Quantity: 2}},
		ShippingAddress: domain.Address{
			Name:       "Meera Rathore",
			Phone:      "+919800000000",
			Line1:      "12 Sardarpura",
			City:       "Jodhpur",
			PostalCode: "342003",
			Country:    "IN",
		},
		ShippingMethod: domain.ShippingMethodExpress,
		PaymentMethod:  domain.PaymentMethodCOD,
	})
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	fetched, err := svc.Orders.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if fetched.Currency != "INR" {
		t.Fatalf("expected default currency INR, got %q", fetched.Currency)
	}

	report, err := svc.System.HealthReport(ctx)
	if err != nil {
		t.Fatalf("HealthReport: %v", err)
	}
	if report.Status != domain.HealthOK || !report.Ready() {
		t.Fatalf("expected ok health, got %+v", report)
	}
	var orders *domain.DependencyHealth
	for i := range report.Dependencies {
		if report.Dependencies[i].Name == "orders" {
			orders = &report.Dependencies[i]
		}
	}
	if orders == nil || !orders.Critical {
		t.Fatalf("expected a critical orders probe, got %+v", report.Dependencies)
	}
}

func TestNewContainer_RejectsStripeWithoutKey(t *testing.T) {
	cfg := localConfig()
	cfg.Payments.Provider = "stripe"
	cfg.Payments.StripeAPIKey = ""

	if _, err := NewContainer(context.Background(), cfg, Options{}); err == nil {
		t.Fatalf("expected stripe without an api key to fail")
	}
}

func TestContainerClose_Nil(t *testing.T) {
	var c *Container
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("expected nil container close to succeed, got %v", err)
	}
}
