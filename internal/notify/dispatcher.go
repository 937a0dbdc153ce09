package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	domain "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/domain"
)

const (
	defaultSendTimeout  = 15 * time.Second
	defaultSendAttempts = 3
	defaultRetryBackoff = 200 * time.Millisecond
)

// Logger receives structured notification events.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Metrics counts per-channel delivery outcomes.
type Metrics interface {
	ObserveNotification(channel, kind, outcome string)
}

// Message is one rendered notification addressed to one recipient.
type Message struct {
	Kind    domain.NotificationKind
	OrderID string
	To      string
	Subject string
	Body    string
}

// Channel delivers messages over one medium.
type Channel interface {
	Name() string
	Medium() Medium
	Send(ctx context.Context, msg Message) error
}

// ChannelResult is the outcome for a single channel and recipient.
type ChannelResult struct {
	Channel   string
	Recipient string
	Sent      bool
	Skipped   bool
	Attempts  int
	Err       error
}

// NotificationReport collects every channel outcome for one Notify call.
type NotificationReport struct {
	OrderID string
	Kind    domain.NotificationKind
	Results []ChannelResult
}

// Failed counts channels that attempted delivery and failed.
func (r NotificationReport) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Err != nil {
			n++
		}
	}
	return n
}

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	Channels    []Channel
	Templates   *Templates
	AdminEmails []string
	AdminPhones []string
	SendTimeout time.Duration
	// MaxAttempts bounds sends per recipient, the first one included.
	MaxAttempts int
	// RetryBackoff is the wait before the second attempt and doubles after each failure.
	RetryBackoff time.Duration
	Metrics      Metrics
	Logger       Logger
}

// Dispatcher fans a notification out to every configured channel. Channels are independent: a
// failed send is retried on that channel alone, then recorded in the report.
type Dispatcher struct {
	channels    []Channel
	templates   *Templates
	adminEmails []string
	adminPhones []string
	timeout     time.Duration
	attempts    int
	backoff     time.Duration
	metrics     Metrics
	logger      Logger
}

// NewDispatcher validates the configuration.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if len(cfg.Channels) == 0 {
		return nil, errors.New("notify: at least one channel is required")
	}
	for _, ch := range cfg.Channels {
		if ch == nil {
			return nil, errors.New("notify: nil channel")
		}
	}
	if cfg.Templates == nil {
		return nil, errors.New("notify: templates are required")
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultSendAttempts
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &Dispatcher{
		channels:    append([]Channel(nil), cfg.Channels...),
		templates:   cfg.Templates,
		adminEmails: compact(cfg.AdminEmails),
		adminPhones: compact(cfg.AdminPhones),
		timeout:     timeout,
		attempts:    attempts,
		backoff:     backoff,
		metrics:     cfg.Metrics,
		logger:      logger,
	}, nil
}

type delivery struct {
	channel Channel
	to      string
}

// Dispatch renders and sends kind for order on every channel concurrently and waits for all of them.
func (d *Dispatcher) Dispatch(ctx context.Context, order domain.Order, kind domain.NotificationKind) NotificationReport {
	report := NotificationReport{OrderID: order.ID, Kind: kind}

	var deliveries []delivery
	for _, ch := range d.channels {
		recipients := d.recipients(order, kind, ch.Medium())
		if len(recipients) == 0 {
			report.Results = append(report.Results, ChannelResult{Channel: ch.Name(), Skipped: true})
			d.observe(ch.Name(), kind, "skipped")
			continue
		}
		for _, to := range recipients {
			deliveries = append(deliveries, delivery{channel: ch, to: to})
		}
	}

	results := make([]ChannelResult, len(deliveries))
	var wg sync.WaitGroup
	for i, dl := range deliveries {
		wg.Add(1)
		go func(i int, dl delivery) {
			defer wg.Done()
			results[i] = d.send(ctx, order, kind, dl)
		}(i, dl)
	}
	wg.Wait()
	report.Results = append(report.Results, results...)
	return report
}

func (d *Dispatcher) send(ctx context.Context, order domain.Order, kind domain.NotificationKind, dl delivery) ChannelResult {
	name := dl.channel.Name()
	result := ChannelResult{Channel: name, Recipient: dl.to}

	rendered, err := d.templates.Render(kind, dl.channel.Medium(), order)
	if err == nil {
		msg := Message{
			Kind:    kind,
			OrderID: order.ID,
			To:      dl.to,
			Subject: rendered.Subject,
			Body:    rendered.Body,
		}
		wait := d.backoff
		for {
			result.Attempts++
			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			err = dl.channel.Send(sendCtx, msg)
			cancel()
			if err == nil || result.Attempts >= d.attempts {
				break
			}
			d.observe(name, kind, "retried")
			d.logger(ctx, "notification.channel.retry", map[string]any{
				"orderId": order.ID,
				"kind":    string(kind),
				"channel": name,
				"attempt": result.Attempts,
				"error":   err.Error(),
			})
			if !sleepCtx(ctx, wait) {
				err = errors.Join(err, ctx.Err())
				break
			}
			wait *= 2
		}
	}
	if err != nil {
		result.Err = err
		d.observe(name, kind, "failed")
		d.logger(ctx, "notification.channel.failed", map[string]any{
			"orderId":  order.ID,
			"kind":     string(kind),
			"channel":  name,
			"attempts": result.Attempts,
			"error":    err.Error(),
		})
		return result
	}
	result.Sent = true
	d.observe(name, kind, "sent")
	d.logger(ctx, "notification.channel.sent", map[string]any{
		"orderId":  order.ID,
		"kind":     string(kind),
		"channel":  name,
		"attempts": result.Attempts,
	})
	return result
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// recipients picks customer contact details from the order snapshot, or staff contacts for alerts.
func (d *Dispatcher) recipients(order domain.Order, kind domain.NotificationKind, medium Medium) []string {
	if kind == domain.NotificationAdminAlert {
		switch medium {
		case MediumEmail:
			return d.adminEmails
		case MediumSMS:
			return d.adminPhones
		}
		return nil
	}
	var contact string
	switch medium {
	case MediumEmail:
		contact = firstNonEmpty(order.ShippingAddress.Email, order.BillingAddress.Email)
	case MediumSMS:
		contact = firstNonEmpty(order.ShippingAddress.Phone, order.BillingAddress.Phone)
	}
	if contact == "" {
		return nil
	}
	return []string{contact}
}

func (d *Dispatcher) observe(channel string, kind domain.NotificationKind, outcome string) {
	if d.metrics != nil {
		d.metrics.ObserveNotification(channel, string(kind), outcome)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
