package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultWebhookTolerance = 5 * time.Minute

var (
	// ErrSignatureMissing is returned when the signature header is absent.
	ErrSignatureMissing = errors.New("auth: webhook signature missing")
	// ErrSignatureMalformed is returned when the header cannot be parsed.
	ErrSignatureMalformed = errors.New("auth: webhook signature malformed")
	// ErrSignatureExpired is returned when the signed timestamp falls outside the tolerance window.
	ErrSignatureExpired = errors.New("auth: webhook signature outside tolerance")
	// ErrSignatureMismatch is returned when no signature in the header matches the payload.
	ErrSignatureMismatch = errors.New("auth: webhook signature mismatch")
	// ErrSecretUnavailable is returned when the shared secret for a provider cannot be loaded.
	ErrSecretUnavailable = errors.New("auth: webhook secret unavailable")
)

// SecretProvider resolves shared secrets used for HMAC validation.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretProviderFunc adapts a function to the SecretProvider interface.
type SecretProviderFunc func(context.Context, string) (string, error)

// GetSecret implements SecretProvider.
func (f SecretProviderFunc) GetSecret(ctx context.Context, name string) (string, error) {
	if f == nil {
		return "", errors.New("auth: secret provider not configured")
	}
	return f(ctx, name)
}

// StaticSecrets serves secrets from an in-memory map keyed by provider name.
type StaticSecrets map[string]string

// GetSecret implements SecretProvider.
func (s StaticSecrets) GetSecret(_ context.Context, name string) (string, error) {
	secret, ok := s[strings.ToLower(strings.TrimSpace(name))]
	if !ok || secret == "" {
		return "", fmt.Errorf("auth: no secret configured for %q", name)
	}
	return secret, nil
}

// WebhookVerifier authenticates provider callbacks signed as
// "t=<unix seconds>,v1=<hex hmac-sha256(secret, t + "." + body)>". Several v1 entries may be present
// while a provider rotates secrets.
type WebhookVerifier struct {
	provider SecretProvider
	logger   Logger
	metrics  MetricsRecorder
	now      func() time.Time

	tolerance   time.Duration
	secretCache sync.Map
}

// WebhookOption customises the verifier.
type WebhookOption func(*WebhookVerifier)

// NewWebhookVerifier builds a verifier resolving secrets through provider.
func NewWebhookVerifier(provider SecretProvider, opts ...WebhookOption) *WebhookVerifier {
	v := &WebhookVerifier{
		provider:  provider,
		now:       time.Now,
		tolerance: defaultWebhookTolerance,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// WithWebhookLogger reports secret lookup failures.
func WithWebhookLogger(logger Logger) WebhookOption {
	return func(v *WebhookVerifier) {
		v.logger = logger
	}
}

// WithWebhookMetrics sets the metrics recorder.
func WithWebhookMetrics(metrics MetricsRecorder) WebhookOption {
	return func(v *WebhookVerifier) {
		v.metrics = metrics
	}
}

// WithWebhookClock injects a custom clock, primarily for tests.
func WithWebhookClock(now func() time.Time) WebhookOption {
	return func(v *WebhookVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// WithWebhookTolerance adjusts the accepted timestamp skew.
func WithWebhookTolerance(d time.Duration) WebhookOption {
	return func(v *WebhookVerifier) {
		if d > 0 {
			v.tolerance = d
		}
	}
}

// Verify checks header against payload using the secret registered for provider.
func (v *WebhookVerifier) Verify(ctx context.Context, provider string, payload []byte, header string) error {
	start := v.now()
	name := strings.ToLower(strings.TrimSpace(provider))

	header = strings.TrimSpace(header)
	if header == "" {
		v.record(ctx, false, "signature_missing", start)
		return ErrSignatureMissing
	}
	timestamp, signatures, err := parseSignatureHeader(header)
	if err != nil {
		v.record(ctx, false, "signature_malformed", start)
		return err
	}
	if skew := v.now().Sub(time.Unix(timestamp, 0)); skew > v.tolerance || skew < -v.tolerance {
		v.record(ctx, false, "timestamp_skew", start)
		return fmt.Errorf("%w: skew %s", ErrSignatureExpired, skew.Round(time.Second))
	}

	secret, err := v.loadSecret(ctx, name)
	if err != nil {
		v.logger.log(ctx, "auth.webhook.secret_lookup_failed", map[string]any{"provider": name, "error": err.Error()})
		v.record(ctx, false, "secret_unavailable", start)
		return fmt.Errorf("%w: %v", ErrSecretUnavailable, err)
	}

	expected := computeWebhookMAC(secret, timestamp, payload)
	for _, candidate := range signatures {
		if hmac.Equal(candidate, expected) {
			v.record(ctx, true, "ok", start)
			return nil
		}
	}
	v.record(ctx, false, "signature_mismatch", start)
	return ErrSignatureMismatch
}

// SignWebhookPayload produces a header value accepted by WebhookVerifier.
func SignWebhookPayload(secret string, at time.Time, payload []byte) string {
	ts := at.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(computeWebhookMAC([]byte(secret), ts, payload)))
}

func (v *WebhookVerifier) record(ctx context.Context, success bool, reason string, start time.Time) {
	recordVerification(ctx, v.metrics, "webhook_hmac", success, reason, v.now().Sub(start))
}

func (v *WebhookVerifier) loadSecret(ctx context.Context, name string) ([]byte, error) {
	if v == nil || v.provider == nil {
		return nil, errors.New("auth: secret provider not configured")
	}
	if cached, ok := v.secretCache.Load(name); ok {
		if secret, ok := cached.([]byte); ok && len(secret) > 0 {
			return secret, nil
		}
	}
	raw, err := v.provider.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, errors.New("auth: secret is empty")
	}
	secret := []byte(raw)
	v.secretCache.Store(name, secret)
	return secret, nil
}

func parseSignatureHeader(header string) (int64, [][]byte, error) {
	var (
		timestamp  int64
		haveTS     bool
		signatures [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			return 0, nil, fmt.Errorf("%w: segment %q", ErrSignatureMalformed, part)
		}
		switch strings.TrimSpace(key) {
		case "t":
			ts, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err != nil {
				return 0, nil, fmt.Errorf("%w: timestamp %q", ErrSignatureMalformed, value)
			}
			timestamp, haveTS = ts, true
		case "v1":
			sig, err := hex.DecodeString(strings.TrimSpace(value))
			if err != nil || len(sig) != sha256.Size {
				return 0, nil, fmt.Errorf("%w: v1 must be a hex sha256 digest", ErrSignatureMalformed)
			}
			signatures = append(signatures, sig)
		}
	}
	if !haveTS {
		return 0, nil, fmt.Errorf("%w: timestamp missing", ErrSignatureMalformed)
	}
	if len(signatures) == 0 {
		return 0, nil, fmt.Errorf("%w: no v1 signature", ErrSignatureMalformed)
	}
	return timestamp, signatures, nil
}

func computeWebhookMAC(secret []byte, timestamp int64, payload []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(payload)
	return mac.Sum(nil)
}
