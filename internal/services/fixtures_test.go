package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/repositories/memory"
)

var fixedNow = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

type stubCarrier struct {
	mu       sync.Mutex
	createFn func(ctx context.Context, req ShipmentRequest) (ShipmentReceipt, error)
	trackFn  func(ctx context.Context, trackingNumber string) (TrackingStatus, error)
	requests []ShipmentRequest
}

func (s *stubCarrier) Name() string { return "stubship" }

func (s *stubCarrier) CreateShipment(ctx context.Context, req ShipmentRequest) (ShipmentReceipt, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.createFn != nil {
		return s.createFn(ctx, req)
	}
	return ShipmentReceipt{TrackingNumber: "TRK-" + req.OrderID, TrackingURL: "https://track.example/" + req.OrderID}, nil
}

func (s *stubCarrier) Track(ctx context.Context, trackingNumber string) (TrackingStatus, error) {
	if s.trackFn != nil {
		return s.trackFn(ctx, trackingNumber)
	}
	return TrackingStatus{Carrier: s.Name(), TrackingNumber: trackingNumber, Status: "in_transit"}, nil
}

func (s *stubCarrier) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type stubGateway struct {
	mu       sync.Mutex
	refundFn func(ctx context.Context, req RefundRequest) (RefundReceipt, error)
	requests []RefundRequest
}

func (s *stubGateway) Name() string { return "stubpay" }

func (s *stubGateway) Refund(ctx context.Context, req RefundRequest) (RefundReceipt, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.refundFn != nil {
		return s.refundFn(ctx, req)
	}
	return RefundReceipt{RefundID: "re_" + req.OrderID, Status: "succeeded"}, nil
}

type sentNotification struct {
	OrderID string
	Kind    domain.NotificationKind
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Notify(_ context.Context, order domain.Order, kind domain.NotificationKind) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{OrderID: order.ID, Kind: kind})
}

func (n *recordingNotifier) count(kind domain.NotificationKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	total := 0
	for _, s := range n.sent {
		if s.Kind == kind {
			total++
		}
	}
	return total
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []GatewayRetryJob
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, job GatewayRetryJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type recordingEvents struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (p *recordingEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingEvents) ofType(eventType string) []OrderEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []OrderEvent
	for _, e := range p.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type sequentialIDs struct {
	mu   sync.Mutex
	next int
}

func (g *sequentialIDs) generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("%06d", g.next)
}

type machineFixture struct {
	machine  OrderStateMachine
	orders   *memory.OrderRepository
	carrier  *stubCarrier
	queue    *recordingQueue
	notifier *recordingNotifier
	events   *recordingEvents
}

func newMachineFixture(t *testing.T) *machineFixture {
	t.Helper()
	f := &machineFixture{
		orders:   memory.NewOrderRepository(),
		carrier:  &stubCarrier{},
		queue:    &recordingQueue{},
		notifier: &recordingNotifier{},
		events:   &recordingEvents{},
	}
	ids := &sequentialIDs{}
	machine, err := NewOrderStateMachine(OrderStateMachineDeps{
		Orders:         f.orders,
		Counters:       memory.NewCounterRepository(),
		Carrier:        f.carrier,
		RetryQueue:     f.queue,
		Notifier:       f.notifier,
		Events:         f.events,
		GatewayTimeout: time.Second,
		Clock:          func() time.Time { return fixedNow },
		IDGenerator:    ids.generate,
	})
	if err != nil {
		t.Fatalf("NewOrderStateMachine: %v", err)
	}
	f.machine = machine
	return f
}

// seed stores an order already sitting in status. mutate may adjust it before insertion.
func (f *machineFixture) seed(t *testing.T, id string, status domain.OrderStatus, mutate func(*domain.Order)) domain.Order {
	t.Helper()
	order, err := domain.NewOrder(domain.NewOrderParams{
		ID:              id,
		Number:          "MB-2024-" + id,
		Items:           []domain.OrderItem{{SKU: "KACHRI-250", Name: "Kachri masala", UnitPrice: 250, Quantity: 2}},
		ShippingAddress: testAddress(),
		BillingAddress:  testAddress(),
		ShippingMethod:  domain.ShippingMethodStandard,
		PaymentMethod:   domain.PaymentMethodUPI,
		TransactionID:   "txn_" + id,
		HistoryID:       "osh_seed_" + id,
		Now:             fixedNow.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}
	order.Status = status
	if mutate != nil {
		mutate(&order)
	}
	if err := f.orders.Insert(context.Background(), order); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return order
}

func (f *machineFixture) reload(t *testing.T, id string) domain.Order {
	t.Helper()
	order, err := f.orders.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByID(%s): %v", id, err)
	}
	return order
}

func testAddress() domain.Address {
	return domain.Address{
		Name:       "Meera Rathore",
		Phone:      "+919800000000",
		Email:      "meera@example.com",
		Line1:      "12 Sardarpura",
		City:       "Jodhpur",
		State:      "RJ",
		PostalCode: "342003",
		Country:    "IN",
	}
}
