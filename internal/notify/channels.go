package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/smtp"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ErrRecipientRejected marks deliveries the provider refused for good (bad number, bounced address).
var ErrRecipientRejected = errors.New("notify: recipient rejected")

// SMTPConfig configures EmailChannel.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string

	// send replaces smtp.SendMail in tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// EmailChannel sends plain-text mail through an SMTP relay.
type EmailChannel struct {
	addr string
	auth smtp.Auth
	from string
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailChannel validates the relay configuration.
func NewEmailChannel(cfg SMTPConfig) (*EmailChannel, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, errors.New("notify: smtp host is required")
	}
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		return nil, errors.New("notify: smtp from address is required")
	}
	port := cfg.Port
	if port == 0 {
		port = 587
	}
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, host)
	}
	send := cfg.send
	if send == nil {
		send = smtp.SendMail
	}
	return &EmailChannel{
		addr: net.JoinHostPort(host, fmt.Sprint(port)),
		auth: auth,
		from: from,
		send: send,
	}, nil
}

func (c *EmailChannel) Name() string   { return "email" }
func (c *EmailChannel) Medium() Medium { return MediumEmail }

// Send delivers msg. smtp.SendMail does not take a context, so a cancelled ctx abandons the wait
// while the relay conversation finishes in the background.
func (c *EmailChannel) Send(ctx context.Context, msg Message) error {
	if strings.ContainsAny(msg.To, "\r\n") || !strings.Contains(msg.To, "@") {
		return fmt.Errorf("%w: invalid email address", ErrRecipientRejected)
	}
	payload := buildMail(c.from, msg)

	done := make(chan error, 1)
	go func() {
		done <- c.send(c.addr, c.auth, c.from, []string{msg.To}, payload)
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("notify: smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildMail(from string, msg Message) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
	buf.WriteString(strings.ReplaceAll(msg.Body, "\n", "\r\n"))
	return buf.Bytes()
}

// SMSConfig configures SMSChannel.
type SMSConfig struct {
	BaseURL    string
	APIKey     string
	SenderID   string
	HTTPClient *http.Client
}

// SMSChannel posts messages to an HTTP SMS gateway.
type SMSChannel struct {
	endpoint string
	apiKey   string
	sender   string
	client   *http.Client
}

type smsRequest struct {
	To        string `json:"to"`
	Sender    string `json:"sender,omitempty"`
	Message   string `json:"message"`
	Reference string `json:"reference,omitempty"`
}

// NewSMSChannel validates the gateway configuration.
func NewSMSChannel(cfg SMSConfig) (*SMSChannel, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, errors.New("notify: sms base url is required")
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("notify: invalid sms base url %q", base)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("notify: sms api key is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &SMSChannel{
		endpoint: parsed.JoinPath("v1", "messages").String(),
		apiKey:   strings.TrimSpace(cfg.APIKey),
		sender:   strings.TrimSpace(cfg.SenderID),
		client:   client,
	}, nil
}

func (c *SMSChannel) Name() string   { return "sms" }
func (c *SMSChannel) Medium() Medium { return MediumSMS }

func (c *SMSChannel) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(smsRequest{To: msg.To, Sender: c.sender, Message: msg.Body, Reference: msg.OrderID})
	if err != nil {
		return fmt.Errorf("notify: encode sms: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: build sms request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify: sms request: %w", err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: sms gateway returned %d: %s", ErrRecipientRejected, resp.StatusCode, strings.TrimSpace(string(snippet)))
	default:
		return fmt.Errorf("notify: sms gateway returned %d", resp.StatusCode)
	}
}

// LogChannel writes messages to the logger instead of delivering them. It stands in for real
// providers in local environments.
type LogChannel struct {
	medium Medium
	logger Logger
}

// NewLogChannel returns a channel for medium that only logs.
func NewLogChannel(medium Medium, logger Logger) *LogChannel {
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &LogChannel{medium: medium, logger: logger}
}

func (c *LogChannel) Name() string   { return "log-" + string(c.medium) }
func (c *LogChannel) Medium() Medium { return c.medium }

func (c *LogChannel) Send(ctx context.Context, msg Message) error {
	c.logger(ctx, "notification.logged", map[string]any{
		"medium":  string(c.medium),
		"kind":    string(msg.Kind),
		"orderId": msg.OrderID,
		"to":      maskRecipient(msg.To),
		"subject": msg.Subject,
	})
	return nil
}

// RecordingChannel keeps every message in memory.
type RecordingChannel struct {
	name   string
	medium Medium
	err    error

	mu       sync.Mutex
	messages []Message
}

// NewRecordingChannel returns a channel that records messages and answers with err.
func NewRecordingChannel(name string, medium Medium, err error) *RecordingChannel {
	return &RecordingChannel{name: name, medium: medium, err: err}
}

func (c *RecordingChannel) Name() string   { return c.name }
func (c *RecordingChannel) Medium() Medium { return c.medium }

func (c *RecordingChannel) Send(_ context.Context, msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	return c.err
}

// Messages returns a copy of the recorded messages.
func (c *RecordingChannel) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

func maskRecipient(to string) string {
	if at := strings.IndexByte(to, '@'); at > 1 {
		return to[:1] + strings.Repeat("*", at-1) + to[at:]
	}
	if len(to) > 4 {
		return strings.Repeat("*", len(to)-4) + to[len(to)-4:]
	}
	return to
}
