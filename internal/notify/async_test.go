package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
)

type stubSender struct {
	mu       sync.Mutex
	block    chan struct{}
	received []domain.Order
}

func (s *stubSender) Dispatch(_ context.Context, order domain.Order, kind domain.NotificationKind) NotificationReport {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, order)
	return NotificationReport{OrderID: order.ID, Kind: kind}
}

func (s *stubSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func TestAsyncNotifierDeliversBeforeClose(t *testing.T) {
	sender := &stubSender{}
	notifier, err := NewAsyncNotifier(AsyncConfig{Sender: sender, Workers: 2})
	if err != nil {
		t.Fatalf("NewAsyncNotifier: %v", err)
	}
	for i := 0; i < 5; i++ {
		notifier.Notify(context.Background(), sampleOrder(), domain.NotificationShipped)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := notifier.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sender.count() != 5 {
		t.Fatalf("expected 5 deliveries, got %d", sender.count())
	}
	if err := notifier.Close(ctx); !errors.Is(err, ErrNotifierClosed) {
		t.Fatalf("expected ErrNotifierClosed, got %v", err)
	}
}

func TestAsyncNotifierCopiesSnapshot(t *testing.T) {
	sender := &stubSender{block: make(chan struct{})}
	notifier, err := NewAsyncNotifier(AsyncConfig{Sender: sender, Workers: 1})
	if err != nil {
		t.Fatalf("NewAsyncNotifier: %v", err)
	}
	order := sampleOrder()
	notifier.Notify(context.Background(), order, domain.NotificationShipped)
	order.Items[0].Name = "changed"
	close(sender.block)

	if err := notifier.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := sender.received[0].Items[0].Name; got != "Kachri masala" {
		t.Fatalf("queued snapshot was mutated: %q", got)
	}
}

func TestAsyncNotifierFullQueueKeepsNotifications(t *testing.T) {
	sender := &stubSender{block: make(chan struct{})}
	metrics := &recordingMetrics{}
	notifier, err := NewAsyncNotifier(AsyncConfig{Sender: sender, Workers: 1, QueueSize: 1, EnqueueTimeout: 5 * time.Second, Metrics: metrics})
	if err != nil {
		t.Fatalf("NewAsyncNotifier: %v", err)
	}

	// The single worker blocks on the first item, the queue holds the second and the third waits.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			notifier.Notify(context.Background(), sampleOrder(), domain.NotificationDelivered)
		}
	}()
	time.Sleep(20 * time.Millisecond)
	close(sender.block)
	<-done

	if err := notifier.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sender.count() != 3 || metrics.count("dropped") != 0 {
		t.Fatalf("expected every notification delivered: delivered=%d dropped=%d", sender.count(), metrics.count("dropped"))
	}
}

func TestAsyncNotifierDeliversInlineAfterEnqueueTimeout(t *testing.T) {
	sender := &stubSender{block: make(chan struct{})}
	metrics := &recordingMetrics{}
	notifier, err := NewAsyncNotifier(AsyncConfig{Sender: sender, Workers: 1, QueueSize: 1, EnqueueTimeout: 5 * time.Millisecond, Metrics: metrics})
	if err != nil {
		t.Fatalf("NewAsyncNotifier: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 4; i++ {
			notifier.Notify(context.Background(), sampleOrder(), domain.NotificationShipped)
		}
	}()
	time.Sleep(100 * time.Millisecond)
	close(sender.block)
	<-done

	if err := notifier.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sender.count() != 4 || metrics.count("dropped") != 0 {
		t.Fatalf("expected every notification delivered: delivered=%d dropped=%d", sender.count(), metrics.count("dropped"))
	}
	if metrics.count("inline") == 0 {
		t.Fatalf("expected at least one inline delivery once the queue stayed full")
	}
}

func TestAsyncNotifierAfterClose(t *testing.T) {
	sender := &stubSender{}
	metrics := &recordingMetrics{}
	notifier, err := NewAsyncNotifier(AsyncConfig{Sender: sender, Metrics: metrics})
	if err != nil {
		t.Fatalf("NewAsyncNotifier: %v", err)
	}
	if err := notifier.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	notifier.Notify(context.Background(), sampleOrder(), domain.NotificationShipped)
	if sender.count() != 0 || metrics.count("dropped") != 1 {
		t.Fatalf("notifications after close must be dropped")
	}
}

func TestAsyncNotifierCloseTimesOut(t *testing.T) {
	sender := &stubSender{block: make(chan struct{})}
	defer close(sender.block)
	notifier, err := NewAsyncNotifier(AsyncConfig{Sender: sender, Workers: 1})
	if err != nil {
		t.Fatalf("NewAsyncNotifier: %v", err)
	}
	notifier.Notify(context.Background(), sampleOrder(), domain.NotificationShipped)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := notifier.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
