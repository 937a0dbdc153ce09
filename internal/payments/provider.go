package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/services"
)

// RefundStatus values are the normalised refund states shared across gateways.
const (
	RefundStatusPending   = "pending"
	RefundStatusSucceeded = "succeeded"
)

var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a gateway.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrRefundRejected means the gateway refused the refund; retrying the same request will not help.
	ErrRefundRejected = errors.New("payments: refund rejected")
)

// Manager routes refunds to the gateway that captured the payment.
type Manager struct {
	gateways        map[string]services.PaymentGateway
	defaultProvider string
	currencyRoutes  map[string]string
}

var _ services.PaymentGateway = (*Manager)(nil)

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default gateway for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = strings.ToLower(strings.TrimSpace(provider))
	}
}

// WithCurrencyRoutes configures static currency to gateway mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.ToLower(strings.TrimSpace(v))
		}
	}
}

// NewManager constructs a Manager over the supplied gateways.
func NewManager(gateways map[string]services.PaymentGateway, opts ...ManagerOption) (*Manager, error) {
	if len(gateways) == 0 {
		return nil, errors.New("payments: at least one gateway is required")
	}
	registered := make(map[string]services.PaymentGateway, len(gateways))
	for k, v := range gateways {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid gateway registration for key %q", k)
		}
		registered[key] = v
	}
	m := &Manager{gateways: registered}
	if _, ok := registered["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Name reports the default gateway so metrics and logs stay attributable.
func (m *Manager) Name() string {
	if key, _, err := m.resolve(""); err == nil {
		return key
	}
	return "payments"
}

// Refund delegates to the gateway routed for the request currency.
func (m *Manager) Refund(ctx context.Context, req services.RefundRequest) (services.RefundReceipt, error) {
	_, gateway, err := m.resolve(req.Currency)
	if err != nil {
		return services.RefundReceipt{}, err
	}
	return gateway.Refund(ctx, req)
}

func (m *Manager) resolve(currency string) (string, services.PaymentGateway, error) {
	if m == nil || len(m.gateways) == 0 {
		return "", nil, errors.New("payments: no gateways registered")
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if key, ok := m.currencyRoutes[currency]; ok && currency != "" {
		if g, ok := m.gateways[key]; ok {
			return key, g, nil
		}
	}
	if def := m.defaultProvider; def != "" {
		if g, ok := m.gateways[def]; ok {
			return def, g, nil
		}
	}
	if len(m.gateways) == 1 {
		for key, g := range m.gateways {
			return key, g, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}
