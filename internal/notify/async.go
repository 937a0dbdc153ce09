package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/services"
)

const (
	defaultQueueSize      = 256
	defaultWorkers        = 4
	defaultEnqueueTimeout = 2 * time.Second
)

// ErrNotifierClosed is returned by Close when called twice.
var ErrNotifierClosed = errors.New("notify: notifier closed")

// Sender renders and delivers one notification.
type Sender interface {
	Dispatch(ctx context.Context, order domain.Order, kind domain.NotificationKind) NotificationReport
}

// AsyncConfig configures AsyncNotifier.
type AsyncConfig struct {
	Sender    Sender
	QueueSize int
	Workers   int
	// EnqueueTimeout bounds how long Notify waits for queue space before delivering inline.
	EnqueueTimeout time.Duration
	Metrics        Metrics
	Logger         Logger
}

type notification struct {
	order domain.Order
	kind  domain.NotificationKind
}

// AsyncNotifier hands notifications to a bounded worker pool. When the queue stays full past
// the enqueue timeout the caller delivers the notification itself. Only notifications arriving
// after Close are dropped.
type AsyncNotifier struct {
	sender      Sender
	metrics     Metrics
	logger      Logger
	enqueueWait time.Duration

	queue chan notification
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

var _ services.Notifier = (*AsyncNotifier)(nil)

// NewAsyncNotifier starts the workers.
func NewAsyncNotifier(cfg AsyncConfig) (*AsyncNotifier, error) {
	if cfg.Sender == nil {
		return nil, errors.New("notify: sender is required")
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	wait := cfg.EnqueueTimeout
	if wait <= 0 {
		wait = defaultEnqueueTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	n := &AsyncNotifier{
		sender:      cfg.Sender,
		metrics:     cfg.Metrics,
		logger:      logger,
		enqueueWait: wait,
		queue:       make(chan notification, size),
	}
	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go n.work()
	}
	return n, nil
}

// Notify enqueues a deep copy of the order snapshot. It blocks while the queue is full, up to
// the enqueue timeout or until ctx is done, and then delivers on the calling goroutine.
func (n *AsyncNotifier) Notify(ctx context.Context, order domain.Order, kind domain.NotificationKind) {
	item := notification{order: order.Clone(), kind: kind}

	n.mu.RLock()
	if n.closed {
		n.mu.RUnlock()
		n.drop(ctx, order, kind, "closed")
		return
	}
	if n.enqueue(ctx, item) {
		n.mu.RUnlock()
		return
	}
	// Close waits for inline deliveries as well as queued ones.
	n.wg.Add(1)
	n.mu.RUnlock()
	defer n.wg.Done()

	if n.metrics != nil {
		n.metrics.ObserveNotification("queue", string(kind), "inline")
	}
	n.logger(ctx, "notification.queue_full", map[string]any{
		"orderId": order.ID,
		"kind":    string(kind),
	})
	n.deliver(context.WithoutCancel(ctx), item)
}

func (n *AsyncNotifier) enqueue(ctx context.Context, item notification) bool {
	select {
	case n.queue <- item:
		return true
	default:
	}
	timer := time.NewTimer(n.enqueueWait)
	defer timer.Stop()
	select {
	case n.queue <- item:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Close stops accepting notifications and waits for queued ones until ctx expires.
func (n *AsyncNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrNotifierClosed
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *AsyncNotifier) work() {
	defer n.wg.Done()
	for item := range n.queue {
		// Delivery outlives the request that triggered it.
		n.deliver(context.Background(), item)
	}
}

func (n *AsyncNotifier) deliver(ctx context.Context, item notification) {
	report := n.sender.Dispatch(ctx, item.order, item.kind)
	if failed := report.Failed(); failed > 0 {
		n.logger(ctx, "notification.partial_failure", map[string]any{
			"orderId":  item.order.ID,
			"kind":     string(item.kind),
			"failed":   failed,
			"channels": len(report.Results),
		})
	}
}

func (n *AsyncNotifier) drop(ctx context.Context, order domain.Order, kind domain.NotificationKind, reason string) {
	if n.metrics != nil {
		n.metrics.ObserveNotification("queue", string(kind), "dropped")
	}
	n.logger(ctx, "notification.dropped", map[string]any{
		"orderId": order.ID,
		"kind":    string(kind),
		"reason":  reason,
	})
}
