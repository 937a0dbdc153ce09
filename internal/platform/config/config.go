// Package config loads runtime settings from the environment, an optional .env file and
// Secret Manager references.
package config

import (
	"context"
	"strings"
	"time"
)

const (
	defaultEnvFile              = ".env"
	defaultPort                 = "8080"
	defaultReadTimeout          = 15 * time.Second
	defaultWriteTimeout         = 30 * time.Second
	defaultIdleTimeout          = 120 * time.Second
	localEnvironment            = "local"
	defaultOIDCJWKSURL          = "https://www.googleapis.com/oauth2/v3/certs"
	defaultSecurityIssuer       = "https://accounts.google.com"
	defaultStoreBackend         = "firestore"
	defaultPaymentsProvider     = "stripe"
	defaultShippingProvider     = "carrier"
	defaultCarrierName          = "courier"
	defaultGatewayTimeout       = 10 * time.Second
	defaultNotificationWorkers  = 4
	defaultNotificationQueue    = 256
	defaultNotifyEnqueueWait    = 2 * time.Second
	defaultNotifyMaxAttempts    = 3
	defaultSMTPPort             = 587
	defaultStoreName            = "Marwari Basket"
	defaultSignatureHeader      = "X-Webhook-Signature"
	defaultSignatureTolerance   = 5 * time.Minute
	defaultWebhookBodyLimit     = 1 << 20
	defaultIdempotencyBackend   = "firestore"
	defaultIdempotencyHeader    = "Idempotency-Key"
	defaultIdempotencyTTL       = 24 * time.Hour
	defaultIdempotencyInterval  = time.Hour
	defaultIdempotencyBatchSize = 200
	defaultWebhookDedupTTL      = 72 * time.Hour
	defaultWebhookRateLimit     = 600
	defaultWebhookRateWindow    = time.Minute
	defaultOrderEventsTopic     = "order-events"
	defaultGatewayRetryTopic    = "gateway-retry"
	defaultDeadLetterTopic      = "webhook-dead-letters"
	defaultArtifactURLTTL       = 15 * time.Minute
	defaultCurrency             = "INR"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Firebase      FirebaseConfig
	Firestore     FirestoreConfig
	PubSub        PubSubConfig
	Storage       StorageConfig
	Store         StoreConfig
	Payments      PaymentsConfig
	Shipping      ShippingConfig
	Notifications NotificationConfig
	Webhooks      WebhookConfig
	Security      SecurityConfig
	Idempotency   IdempotencyConfig
	Redis         RedisConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port         string `validate:"required,numeric"`
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	// CheckRevoked makes every staff request consult Firebase for revoked sessions.
	CheckRevoked bool
}

type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig names the topics used for asynchronous work. Empty topics fall back to in-process queues.
type PubSubConfig struct {
	ProjectID         string
	EmulatorHost      string
	OrderEventsTopic  string
	GatewayRetryTopic string
	DeadLetterTopic   string
}

// StorageConfig configures bulk print/export artifacts.
type StorageConfig struct {
	ArtifactsBucket string
	// SignerKey is a service account JSON key. SignerEmail signs through IAM instead.
	SignerKey    string
	SignerEmail  string `validate:"omitempty,email"`
	SignedURLTTL time.Duration
}

// StoreConfig selects the order persistence backend.
type StoreConfig struct {
	Backend         string `validate:"oneof=memory firestore"`
	DefaultCurrency string `validate:"len=3"`
}

type PaymentsConfig struct {
	Provider     string `validate:"oneof=sandbox stripe"`
	StripeAPIKey string `validate:"required_if=Provider stripe"`
	Timeout      time.Duration
}

type ShippingConfig struct {
	Provider    string `validate:"oneof=sandbox carrier"`
	CarrierName string
	BaseURL     string `validate:"required_if=Provider carrier,omitempty,url"`
	APIKey      string
	Timeout     time.Duration
}

// NotificationConfig configures outbound customer and staff messages.
type NotificationConfig struct {
	Sandbox         bool
	Workers         int           `validate:"gt=0"`
	QueueSize       int           `validate:"gte=0"`
	EnqueueTimeout  time.Duration `validate:"gte=0s"`
	MaxAttempts     int           `validate:"gte=0"`
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	FromAddress     string
	SMSEndpoint     string
	SMSToken        string
	SMSSender       string
	AdminRecipients []string
	StoreName       string
}

// WebhookConfig contains webhook signature parameters.
type WebhookConfig struct {
	Secrets         map[string]string
	SignatureHeader string        `validate:"required"`
	Tolerance       time.Duration `validate:"gt=0s"`
	BodyLimit       int64         `validate:"gt=0"`
	DedupTTL        time.Duration
	// RateLimit caps callbacks per provider and client address per RateWindow. Negative disables.
	RateLimit  int
	RateWindow time.Duration
}

type SecurityConfig struct {
	Environment string
	OIDC        OIDCConfig
}

// OIDCConfig controls Google-signed token verification.
type OIDCConfig struct {
	JWKSURL   string `validate:"required,url"`
	Audience  string
	Audiences map[string]string
	Issuers   []string
	// ServiceAccounts restricts push tokens to these emails when non-empty.
	ServiceAccounts []string
}

// IdempotencyConfig controls idempotency middleware and webhook dedup behaviour.
type IdempotencyConfig struct {
	Backend          string        `validate:"oneof=memory firestore redis"`
	Header           string        `validate:"required"`
	TTL              time.Duration `validate:"gt=0s"`
	CleanupInterval  time.Duration
	CleanupBatchSize int `validate:"gt=0"`
}

// RedisConfig configures the shared cache behind the redis idempotency backend and the webhook limiter.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int `validate:"gte=0"`
}

// LocalEnvironment reports whether the service runs on a developer machine.
func (c Config) LocalEnvironment() bool {
	return strings.EqualFold(strings.TrimSpace(c.Security.Environment), localEnvironment)
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile         string
	envMap          map[string]string
	useSystemEnv    bool
	resolver        SecretResolver
	requiredSecrets []string
}

func newLoaderOptions(opts []Option) loaderOptions {
	options := loaderOptions{envFile: defaultEnvFile, useSystemEnv: true}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	return options
}

// WithEnvFile reads overrides from path instead of ./.env. An empty path skips the file.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) { o.envFile = path }
}

// WithEnvMap supplies values that win over both the process environment and the .env file.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) { o.envMap = values }
}

// WithoutSystemEnv ignores the process environment.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) { o.useSystemEnv = false }
}

// WithSecretResolver resolves secret:// and sm:// values.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) { o.resolver = resolver }
}

// WithRequiredSecrets names secret fields, such as "Payments.StripeAPIKey" or
// "Webhooks.Secrets[payment]", that must not be empty after resolution.
func WithRequiredSecrets(names ...string) Option {
	return func(o *loaderOptions) { o.requiredSecrets = append(o.requiredSecrets, names...) }
}

// EnvironmentValues returns the merged environment Load would see. main reads it to build the
// secret fetcher before the configuration itself can be loaded.
func EnvironmentValues(opts ...Option) (map[string]string, error) {
	src, err := newEnvSource(newLoaderOptions(opts))
	if err != nil {
		return nil, err
	}
	return src.snapshot(), nil
}

// Load reads the configuration, resolves secret references and validates the result.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := newLoaderOptions(opts)
	src, err := newEnvSource(options)
	if err != nil {
		return Config{}, err
	}
	env := newEnvReader(src)

	cfg := read(env)
	if invalid := env.Invalid(); len(invalid) > 0 {
		return Config{}, &ValidationError{invalid: invalid}
	}
	applyDerivedDefaults(&cfg)

	secrets := newSecretTable(ctx, options.resolver)
	if err := resolveSecrets(&cfg, secrets); err != nil {
		return Config{}, err
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	if err := secrets.missing(options.requiredSecrets); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func read(env *envReader) Config {
	environment := env.Lower("API_SECURITY_ENVIRONMENT", localEnvironment)
	local := environment == localEnvironment

	// Developer machines default to in-process backends and sandbox gateways.
	store, idempotency, payments, shipping := defaultStoreBackend, defaultIdempotencyBackend, defaultPaymentsProvider, defaultShippingProvider
	orderTopic, retryTopic, deadLetterTopic := defaultOrderEventsTopic, defaultGatewayRetryTopic, defaultDeadLetterTopic
	if local {
		store, idempotency, payments, shipping = "memory", "memory", "sandbox", "sandbox"
		orderTopic, retryTopic, deadLetterTopic = "", "", ""
	}

	var cfg Config
	cfg.Security.Environment = environment
	cfg.Server = ServerConfig{
		Port:         env.String("API_SERVER_PORT", defaultPort),
		ReadTimeout:  env.Duration("API_SERVER_READ_TIMEOUT", defaultReadTimeout),
		WriteTimeout: env.Duration("API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
		IdleTimeout:  env.Duration("API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
	}
	cfg.Firebase = FirebaseConfig{
		ProjectID:       env.String("API_FIREBASE_PROJECT_ID", ""),
		CredentialsFile: env.String("API_FIREBASE_CREDENTIALS_FILE", ""),
		CheckRevoked:    env.Bool("API_FIREBASE_CHECK_REVOKED", false),
	}
	cfg.Firestore = FirestoreConfig{
		ProjectID:    env.String("API_FIRESTORE_PROJECT_ID", ""),
		EmulatorHost: env.String("API_FIRESTORE_EMULATOR_HOST", ""),
	}
	cfg.PubSub = PubSubConfig{
		ProjectID:         env.String("API_PUBSUB_PROJECT_ID", ""),
		EmulatorHost:      env.String("API_PUBSUB_EMULATOR_HOST", ""),
		OrderEventsTopic:  env.String("API_PUBSUB_ORDER_EVENTS_TOPIC", orderTopic),
		GatewayRetryTopic: env.String("API_PUBSUB_GATEWAY_RETRY_TOPIC", retryTopic),
		DeadLetterTopic:   env.String("API_PUBSUB_DEAD_LETTER_TOPIC", deadLetterTopic),
	}
	cfg.Storage = StorageConfig{
		ArtifactsBucket: env.String("API_STORAGE_ARTIFACTS_BUCKET", ""),
		SignerKey:       env.String("API_STORAGE_SIGNER_KEY", ""),
		SignerEmail:     env.String("API_STORAGE_SIGNER_EMAIL", ""),
		SignedURLTTL:    env.Duration("API_STORAGE_SIGNED_URL_TTL", defaultArtifactURLTTL),
	}
	cfg.Store = StoreConfig{
		Backend:         env.Lower("API_STORE_BACKEND", store),
		DefaultCurrency: strings.ToUpper(env.String("API_STORE_CURRENCY", defaultCurrency)),
	}
	cfg.Payments = PaymentsConfig{
		Provider:     env.Lower("API_PAYMENTS_PROVIDER", payments),
		StripeAPIKey: env.String("API_PAYMENTS_STRIPE_API_KEY", ""),
		Timeout:      env.Duration("API_PAYMENTS_TIMEOUT", defaultGatewayTimeout),
	}
	cfg.Shipping = ShippingConfig{
		Provider:    env.Lower("API_SHIPPING_PROVIDER", shipping),
		CarrierName: env.String("API_SHIPPING_CARRIER_NAME", defaultCarrierName),
		BaseURL:     env.String("API_SHIPPING_BASE_URL", ""),
		APIKey:      env.String("API_SHIPPING_API_KEY", ""),
		Timeout:     env.Duration("API_SHIPPING_TIMEOUT", defaultGatewayTimeout),
	}
	cfg.Notifications = NotificationConfig{
		Sandbox:         env.Bool("API_NOTIFY_SANDBOX", local),
		Workers:         env.Int("API_NOTIFY_WORKERS", defaultNotificationWorkers),
		QueueSize:       env.Int("API_NOTIFY_QUEUE_SIZE", defaultNotificationQueue),
		EnqueueTimeout:  env.Duration("API_NOTIFY_ENQUEUE_TIMEOUT", defaultNotifyEnqueueWait),
		MaxAttempts:     env.Int("API_NOTIFY_MAX_ATTEMPTS", defaultNotifyMaxAttempts),
		SMTPHost:        env.String("API_NOTIFY_SMTP_HOST", ""),
		SMTPPort:        env.Int("API_NOTIFY_SMTP_PORT", defaultSMTPPort),
		SMTPUsername:    env.String("API_NOTIFY_SMTP_USERNAME", ""),
		SMTPPassword:    env.String("API_NOTIFY_SMTP_PASSWORD", ""),
		FromAddress:     env.String("API_NOTIFY_FROM_ADDRESS", ""),
		SMSEndpoint:     env.String("API_NOTIFY_SMS_ENDPOINT", ""),
		SMSToken:        env.String("API_NOTIFY_SMS_TOKEN", ""),
		SMSSender:       env.String("API_NOTIFY_SMS_SENDER", ""),
		AdminRecipients: env.List("API_NOTIFY_ADMIN_RECIPIENTS"),
		StoreName:       env.String("API_NOTIFY_STORE_NAME", defaultStoreName),
	}
	cfg.Webhooks = WebhookConfig{
		Secrets:         env.Pairs("API_WEBHOOK_SECRETS"),
		SignatureHeader: env.String("API_WEBHOOK_SIGNATURE_HEADER", defaultSignatureHeader),
		Tolerance:       env.Duration("API_WEBHOOK_TOLERANCE", defaultSignatureTolerance),
		BodyLimit:       int64(env.Int("API_WEBHOOK_BODY_LIMIT", defaultWebhookBodyLimit)),
		DedupTTL:        env.Duration("API_WEBHOOK_DEDUP_TTL", defaultWebhookDedupTTL),
		RateLimit:       env.Int("API_WEBHOOK_RATE_LIMIT", defaultWebhookRateLimit),
		RateWindow:      env.Duration("API_WEBHOOK_RATE_WINDOW", defaultWebhookRateWindow),
	}
	cfg.Security.OIDC = OIDCConfig{
		JWKSURL:         env.String("API_SECURITY_OIDC_JWKS_URL", defaultOIDCJWKSURL),
		Audience:        env.String("API_SECURITY_OIDC_AUDIENCE", ""),
		Audiences:       env.Pairs("API_SECURITY_OIDC_AUDIENCES"),
		Issuers:         env.List("API_SECURITY_OIDC_ISSUERS"),
		ServiceAccounts: env.List("API_SECURITY_OIDC_SERVICE_ACCOUNTS"),
	}
	cfg.Idempotency = IdempotencyConfig{
		Backend:          env.Lower("API_IDEMPOTENCY_BACKEND", idempotency),
		Header:           env.String("API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
		TTL:              env.Duration("API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
		CleanupInterval:  env.Duration("API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencyInterval),
		CleanupBatchSize: env.Int("API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatchSize),
	}
	cfg.Redis = RedisConfig{
		Addr:     env.String("API_REDIS_ADDR", ""),
		Password: env.String("API_REDIS_PASSWORD", ""),
		DB:       env.Int("API_REDIS_DB", 0),
	}
	return cfg
}

// applyDerivedDefaults fills values that fall back to other settings.
func applyDerivedDefaults(cfg *Config) {
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	oidc := &cfg.Security.OIDC
	if len(oidc.Issuers) == 0 {
		oidc.Issuers = []string{defaultSecurityIssuer}
	}
	if oidc.Audience == "" {
		oidc.Audience = oidc.Audiences[cfg.Security.Environment]
	}
}

func resolveSecrets(cfg *Config, secrets *secretTable) error {
	for provider, value := range cfg.Webhooks.Secrets {
		if err := secrets.fill("Webhooks.Secrets["+provider+"]", &value); err != nil {
			return err
		}
		cfg.Webhooks.Secrets[provider] = value
	}
	fields := map[string]*string{
		"Payments.StripeAPIKey":      &cfg.Payments.StripeAPIKey,
		"Shipping.APIKey":            &cfg.Shipping.APIKey,
		"Notifications.SMTPPassword": &cfg.Notifications.SMTPPassword,
		"Notifications.SMSToken":     &cfg.Notifications.SMSToken,
		"Storage.SignerKey":          &cfg.Storage.SignerKey,
		"Redis.Password":             &cfg.Redis.Password,
	}
	for name, field := range fields {
		if err := secrets.fill(name, field); err != nil {
			return err
		}
	}
	return nil
}
