package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/services"
)

const (
	defaultMemoryQueueSize   = 128
	defaultMemoryMaxAttempts = 5
	defaultMemoryBackoff     = 2 * time.Second
)

// ErrQueueFull is returned when the in-memory queue cannot take another job.
var ErrQueueFull = errors.New("jobs: retry queue is full")

// Logger receives structured job events.
type Logger func(ctx context.Context, event string, fields map[string]any)

// RetryHandler processes one job. A non-nil error schedules another attempt.
type RetryHandler func(ctx context.Context, job services.GatewayRetryJob) error

// MemoryRetryQueue stands in for the Pub/Sub retry topic in single-instance runs. Failed jobs are
// re-queued with linear backoff until MaxAttempts.
type MemoryRetryQueue struct {
	jobs        chan services.GatewayRetryJob
	maxAttempts int
	backoff     time.Duration
	logger      Logger
	wg          sync.WaitGroup
}

var _ services.GatewayRetryQueue = (*MemoryRetryQueue)(nil)

// MemoryQueueConfig configures MemoryRetryQueue.
type MemoryQueueConfig struct {
	Size        int
	MaxAttempts int
	Backoff     time.Duration
	Logger      Logger
}

// NewMemoryRetryQueue returns an idle queue; call Run to start consuming.
func NewMemoryRetryQueue(cfg MemoryQueueConfig) *MemoryRetryQueue {
	size := cfg.Size
	if size <= 0 {
		size = defaultMemoryQueueSize
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMemoryMaxAttempts
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultMemoryBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &MemoryRetryQueue{
		jobs:        make(chan services.GatewayRetryJob, size),
		maxAttempts: attempts,
		backoff:     backoff,
		logger:      logger,
	}
}

func (q *MemoryRetryQueue) Enqueue(_ context.Context, job services.GatewayRetryJob) error {
	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Run consumes jobs until ctx is cancelled, then waits for pending backoff timers to stop.
func (q *MemoryRetryQueue) Run(ctx context.Context, handle RetryHandler) {
	defer q.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			if job.Attempt <= 0 {
				job.Attempt = 1
			}
			err := handle(ctx, job)
			if err == nil {
				continue
			}
			if job.Attempt >= q.maxAttempts {
				q.logger(ctx, "gateway.retry.exhausted", map[string]any{
					"jobId":   job.ID,
					"orderId": job.OrderID,
					"action":  string(job.Action),
					"error":   err.Error(),
				})
				continue
			}
			next := job
			next.Attempt++
			q.requeueAfter(ctx, next, time.Duration(job.Attempt)*q.backoff)
		}
	}
}

func (q *MemoryRetryQueue) requeueAfter(ctx context.Context, job services.GatewayRetryJob, delay time.Duration) {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
			if err := q.Enqueue(ctx, job); err != nil {
				q.logger(ctx, "gateway.retry.dropped", map[string]any{"jobId": job.ID, "error": err.Error()})
			}
		}
	}()
}

// LogPublisher writes order events and dead letters to the logger. Local environments use it in
// place of Pub/Sub topics.
type LogPublisher struct {
	logger Logger
}

var (
	_ services.OrderEventPublisher = (*LogPublisher)(nil)
	_ services.DeadLetterSink      = (*LogPublisher)(nil)
)

// NewLogPublisher returns a publisher over logger.
func NewLogPublisher(logger Logger) *LogPublisher {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	p.logger(ctx, "order.event", map[string]any{
		"eventId": event.ID,
		"type":    event.Type,
		"orderId": event.OrderID,
		"from":    event.PreviousStatus,
		"to":      event.CurrentStatus,
		"source":  event.Source,
	})
	return nil
}

func (p *LogPublisher) PublishDeadLetter(ctx context.Context, letter services.DeadLetter) error {
	p.logger(ctx, "webhook.dead_letter", map[string]any{
		"provider": letter.Provider,
		"eventId":  letter.EventID,
		"orderId":  letter.OrderID,
		"reason":   letter.Reason,
	})
	return nil
}
