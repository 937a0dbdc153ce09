package di

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/notify"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/payments"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/auth"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/config"
	pfirestore "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/firestore"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/idempotency"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/jobs"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/observability"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/ratelimit"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/secrets"
	platformstorage "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/storage"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/repositories"
	firestoreRepo "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/repositories/firestore"
	memoryRepo "github.com/Priyanshudahiya757/marwari-basket-sub000/internal/repositories/memory"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/services"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/shipping"
)

const (
	backendFirestore = "firestore"
	backendRedis     = "redis"

	notifySendTimeout   = 10 * time.Second
	retryQueueAttempts  = 5
	retryQueueBackoff   = 30 * time.Second
	healthProbeTimeout  = 1500 * time.Millisecond
	healthCacheTTL      = 2 * time.Second
	secretHealthRef     = "secret://system/healthz?version=latest"
	defaultNotifyLocale = "en-IN"
)

// Services bundles the service-layer contracts that handlers rely upon.
type Services struct {
	Orders   services.OrderStateMachine
	Webhooks services.WebhookIngestor
	Bulk     services.BulkProcessor
	Returns  services.ReturnService
	Retries  services.GatewayRetryProcessor
	System   services.SystemService
}

// Options carries process-level collaborators created before the container.
type Options struct {
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Build   services.BuildInfo
	// Secrets, when set, backs a Secret Manager readiness probe.
	Secrets *secrets.Fetcher
	Clock   func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config      config.Config
	Services    Services
	Metrics     *observability.Metrics
	Idempotency idempotency.Store

	// WebhookLimiter is nil when webhook rate limiting is disabled.
	WebhookLimiter ratelimit.Limiter

	logger      *zap.Logger
	clock       func() time.Time
	firestore   *pfirestore.Provider
	pubsub      *pubsub.Client
	topics      []*pubsub.Topic
	gcs         *gcs.Client
	redis       *redis.Client
	notifier    *notify.AsyncNotifier
	memoryQueue *jobs.MemoryRetryQueue
	health      []repositories.DependencyCheck

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewContainer constructs the runtime dependencies selected by cfg. On error every client opened so
// far is closed.
func NewContainer(ctx context.Context, cfg config.Config, opts Options) (_ *Container, err error) {
	c := &Container{
		Config:  cfg,
		Metrics: opts.Metrics,
		logger:  opts.Logger,
		clock:   opts.Clock,
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.Metrics == nil {
		c.Metrics = observability.NewMetrics()
	}
	if c.clock == nil {
		c.clock = time.Now
	}
	defer func() {
		if err != nil {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = c.Close(closeCtx)
		}
	}()

	orders, counters, err := c.buildRepositories(ctx)
	if err != nil {
		return nil, err
	}
	c.health = append(c.health, repositories.DependencyCheck{
		Name:     "orders",
		Critical: true,
		Check: func(ctx context.Context) error {
			_, err := orders.List(ctx, repositories.OrderListFilter{Limit: 1})
			return err
		},
	})
	if c.Idempotency, err = c.buildIdempotencyStore(ctx); err != nil {
		return nil, err
	}
	if c.WebhookLimiter, err = c.buildWebhookLimiter(ctx); err != nil {
		return nil, err
	}
	if err := c.openPubSub(ctx); err != nil {
		return nil, err
	}
	retryQueue, events, deadLetters, err := c.buildQueues()
	if err != nil {
		return nil, err
	}
	artifacts, err := c.buildArtifactStore(ctx)
	if err != nil {
		return nil, err
	}
	gateway, err := c.buildPaymentGateway()
	if err != nil {
		return nil, err
	}
	carrier, err := c.buildCarrier()
	if err != nil {
		return nil, err
	}
	if c.notifier, err = c.buildNotifier(); err != nil {
		return nil, err
	}

	svc, err := c.buildServices(orders, counters, retryQueue, events, deadLetters, artifacts, gateway, carrier)
	if err != nil {
		return nil, err
	}
	c.Services = svc

	if opts.Secrets != nil {
		fetcher := opts.Secrets
		c.health = append(c.health, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				// A reachable Secret Manager answers NotFound for the probe secret.
				_, err := fetcher.Resolve(ctx, secretHealthRef)
				if errors.Is(err, secrets.ErrNotFound) {
					return nil
				}
				return err
			},
		})
	}
	healthRepo, err := repositories.NewProbeRunner(c.health,
		repositories.WithProbeTimeout(healthProbeTimeout),
		repositories.WithProbeClock(c.clock),
	)
	if err != nil {
		return nil, fmt.Errorf("build health repository: %w", err)
	}
	if c.Services.System, err = services.NewSystemService(services.SystemServiceDeps{
		HealthRepository: healthRepo,
		Clock:            c.clock,
		Build:            opts.Build,
		CacheTTL:         healthCacheTTL,
	}); err != nil {
		return nil, fmt.Errorf("build system service: %w", err)
	}

	return c, nil
}

// Start launches the in-process retry consumer and the idempotency cleanup loop. They stop when ctx
// is cancelled or Close is called.
func (c *Container) Start(ctx context.Context) {
	if c == nil || c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	events := observability.EventLogger(c.logger.Named("jobs"))

	if c.memoryQueue != nil && c.Services.Retries != nil {
		retries := c.Services.Retries
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.memoryQueue.Run(ctx, func(ctx context.Context, job services.GatewayRetryJob) error {
				_, err := retries.ProcessRetry(ctx, job)
				if errors.Is(err, services.ErrOrderInvalidInput) || errors.Is(err, services.ErrOrderNotFound) {
					events(ctx, "gateway.retry.dropped", map[string]any{"jobId": job.ID, "orderId": job.OrderID, "error": err.Error()})
					return nil
				}
				return err
			})
		}()
	}

	interval := c.Config.Idempotency.CleanupInterval
	if c.Idempotency != nil && interval > 0 && c.Config.Idempotency.Backend != backendRedis {
		store := c.Idempotency
		batch := c.Config.Idempotency.CleanupBatchSize
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					removed, err := store.CleanupExpired(ctx, c.clock(), batch)
					if err != nil {
						events(ctx, "idempotency.cleanup.failed", map[string]any{"error": err.Error()})
						continue
					}
					if removed > 0 {
						events(ctx, "idempotency.cleanup", map[string]any{"removed": removed})
					}
				}
			}
		}()
	}
}

// Close stops background work, drains queued notifications, then releases clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	var errs []error
	if c.notifier != nil {
		if err := c.notifier.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close notifier: %w", err))
		}
	}
	for _, topic := range c.topics {
		topic.Stop()
	}
	if c.pubsub != nil {
		if err := c.pubsub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pubsub: %w", err))
		}
	}
	if c.gcs != nil {
		if err := c.gcs.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	if c.firestore != nil {
		if err := c.firestore.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close firestore: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (c *Container) firestoreProvider() *pfirestore.Provider {
	if c.firestore == nil {
		c.firestore = pfirestore.NewProvider(c.Config.Firestore)
		provider := c.firestore
		c.health = append(c.health, repositories.DependencyCheck{
			Name:     "firestore",
			Critical: true,
			Check: func(ctx context.Context) error {
				client, err := provider.Client(ctx)
				if err != nil {
					return err
				}
				_, err = client.Collections(ctx).Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	return c.firestore
}

func (c *Container) buildRepositories(ctx context.Context) (repositories.OrderRepository, repositories.CounterRepository, error) {
	if c.Config.Store.Backend != backendFirestore {
		c.logger.Info("using in-memory order store")
		return memoryRepo.NewOrderRepository(), memoryRepo.NewCounterRepository(), nil
	}
	provider := c.firestoreProvider()
	if _, err := provider.Client(ctx); err != nil {
		return nil, nil, fmt.Errorf("initialise firestore client: %w", err)
	}
	orders, err := firestoreRepo.NewOrderRepository(provider)
	if err != nil {
		return nil, nil, fmt.Errorf("build order repository: %w", err)
	}
	counters, err := firestoreRepo.NewCounterRepository(provider)
	if err != nil {
		return nil, nil, fmt.Errorf("build counter repository: %w", err)
	}
	return orders, counters, nil
}

func (c *Container) buildIdempotencyStore(ctx context.Context) (idempotency.Store, error) {
	switch c.Config.Idempotency.Backend {
	case backendFirestore:
		store, err := idempotency.NewFirestoreStore(c.firestoreProvider())
		if err != nil {
			return nil, fmt.Errorf("build firestore idempotency store: %w", err)
		}
		return store, nil
	case backendRedis:
		client, err := c.redisClient(ctx, true)
		if err != nil {
			return nil, err
		}
		store, err := idempotency.NewRedisStore(client, "marwari-basket:idem:")
		if err != nil {
			return nil, fmt.Errorf("build redis idempotency store: %w", err)
		}
		return store, nil
	default:
		return idempotency.NewMemoryStore(), nil
	}
}

// redisClient connects on first use and registers the readiness probe once. The probe turns
// critical as soon as any caller cannot work without Redis.
func (c *Container) redisClient(ctx context.Context, critical bool) (*redis.Client, error) {
	if c.redis != nil {
		if critical {
			c.markCritical("redis")
		}
		return c.redis, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Addr,
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	c.redis = client
	c.health = append(c.health, repositories.DependencyCheck{
		Name:     "redis",
		Critical: critical,
		Check:    func(ctx context.Context) error { return client.Ping(ctx).Err() },
	})
	return client, nil
}

func (c *Container) markCritical(name string) {
	for i := range c.health {
		if c.health[i].Name == name {
			c.health[i].Critical = true
		}
	}
}

// buildWebhookLimiter shares counters through Redis when an address is configured, so every
// instance enforces one budget; otherwise each instance counts on its own.
func (c *Container) buildWebhookLimiter(ctx context.Context) (ratelimit.Limiter, error) {
	cfg := c.Config.Webhooks
	if cfg.RateLimit <= 0 || cfg.RateWindow <= 0 {
		return nil, nil
	}
	if strings.TrimSpace(c.Config.Redis.Addr) == "" {
		return ratelimit.NewMemory(cfg.RateLimit, cfg.RateWindow, c.clock), nil
	}
	client, err := c.redisClient(ctx, false)
	if err != nil {
		return nil, err
	}
	limiter, err := ratelimit.NewRedis(client, "marwari-basket:rate:webhook:", cfg.RateLimit, cfg.RateWindow)
	if err != nil {
		return nil, fmt.Errorf("build webhook rate limiter: %w", err)
	}
	return limiter, nil
}

func (c *Container) openPubSub(ctx context.Context) error {
	ps := c.Config.PubSub
	if ps.OrderEventsTopic == "" && ps.GatewayRetryTopic == "" && ps.DeadLetterTopic == "" {
		return nil
	}
	var clientOpts []option.ClientOption
	if host := strings.TrimSpace(ps.EmulatorHost); host != "" {
		clientOpts = append(clientOpts,
			option.WithEndpoint(host),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}
	client, err := pubsub.NewClient(ctx, ps.ProjectID, clientOpts...)
	if err != nil {
		return fmt.Errorf("initialise pubsub client: %w", err)
	}
	c.pubsub = client
	return nil
}

func (c *Container) topic(name string, ordered bool) *pubsub.Topic {
	topic := c.pubsub.Topic(name)
	topic.EnableMessageOrdering = ordered
	c.topics = append(c.topics, topic)
	c.health = append(c.health, repositories.DependencyCheck{
		Name: "pubsub:" + name,
		Check: func(ctx context.Context) error {
			ok, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("topic %s does not exist", name)
			}
			return nil
		},
	})
	return topic
}

func (c *Container) buildQueues() (services.GatewayRetryQueue, services.OrderEventPublisher, services.DeadLetterSink, error) {
	ps := c.Config.PubSub
	logPublisher := jobs.NewLogPublisher(observability.EventLogger(c.logger.Named("events")))

	var retryQueue services.GatewayRetryQueue
	if ps.GatewayRetryTopic != "" {
		q, err := jobs.NewPubSubRetryQueue(c.topic(ps.GatewayRetryTopic, false))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("build retry queue: %w", err)
		}
		retryQueue = q
	} else {
		c.memoryQueue = jobs.NewMemoryRetryQueue(jobs.MemoryQueueConfig{
			MaxAttempts: retryQueueAttempts,
			Backoff:     retryQueueBackoff,
			Logger:      observability.EventLogger(c.logger.Named("jobs")),
		})
		retryQueue = c.memoryQueue
	}

	var events services.OrderEventPublisher = logPublisher
	if ps.OrderEventsTopic != "" {
		p, err := jobs.NewPubSubOrderEventPublisher(c.topic(ps.OrderEventsTopic, true))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("build order event publisher: %w", err)
		}
		events = p
	}

	var deadLetters services.DeadLetterSink = logPublisher
	if ps.DeadLetterTopic != "" {
		s, err := jobs.NewPubSubDeadLetterSink(c.topic(ps.DeadLetterTopic, false))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("build dead letter sink: %w", err)
		}
		deadLetters = s
	}
	return retryQueue, events, deadLetters, nil
}

func (c *Container) buildArtifactStore(ctx context.Context) (services.ArtifactStore, error) {
	bucket := strings.TrimSpace(c.Config.Storage.ArtifactsBucket)
	if bucket == "" {
		return platformstorage.NewMemoryArtifactStore(c.clock), nil
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise storage client: %w", err)
	}
	c.gcs = client

	// A key signs locally; an email alone signs through IAM. With neither the client's own
	// credentials must be able to sign.
	var signer platformstorage.Signer
	switch {
	case strings.TrimSpace(c.Config.Storage.SignerKey) != "":
		if signer, err = platformstorage.NewKeySigner([]byte(c.Config.Storage.SignerKey)); err != nil {
			return nil, fmt.Errorf("parse storage signer key: %w", err)
		}
	case strings.TrimSpace(c.Config.Storage.SignerEmail) != "":
		if signer, err = platformstorage.NewIAMSigner(ctx, c.Config.Storage.SignerEmail); err != nil {
			return nil, err
		}
	}
	c.health = append(c.health, repositories.DependencyCheck{
		Name: "storage",
		Check: func(ctx context.Context) error {
			_, err := client.Bucket(bucket).Attrs(ctx)
			return err
		},
	})
	store, err := platformstorage.NewGCSArtifactStore(platformstorage.ArtifactStoreConfig{
		Client:    client,
		Bucket:    bucket,
		Prefix:    "orders",
		Signer:    signer,
		URLExpiry: c.Config.Storage.SignedURLTTL,
		Clock:     c.clock,
	})
	if err != nil {
		return nil, fmt.Errorf("build artifact store: %w", err)
	}
	return store, nil
}

func (c *Container) buildPaymentGateway() (services.PaymentGateway, error) {
	gateways := map[string]services.PaymentGateway{
		"sandbox": payments.NewSandboxGateway(),
	}
	if c.Config.Payments.Provider == "stripe" {
		stripeGateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
			APIKey: c.Config.Payments.StripeAPIKey,
			Logger: observability.EventLogger(c.logger.Named("payments")),
			Clock:  c.clock,
		})
		if err != nil {
			return nil, fmt.Errorf("build stripe gateway: %w", err)
		}
		gateways["stripe"] = stripeGateway
	}
	manager, err := payments.NewManager(gateways, payments.WithDefaultProvider(c.Config.Payments.Provider))
	if err != nil {
		return nil, fmt.Errorf("build payment manager: %w", err)
	}
	return manager, nil
}

func (c *Container) buildCarrier() (services.ShippingCarrier, error) {
	if c.Config.Shipping.Provider != "carrier" {
		return shipping.NewSandboxCarrier(c.clock), nil
	}
	carrier, err := shipping.NewHTTPCarrier(shipping.HTTPCarrierConfig{
		Name:    c.Config.Shipping.CarrierName,
		BaseURL: c.Config.Shipping.BaseURL,
		APIKey:  c.Config.Shipping.APIKey,
		Timeout: c.Config.Shipping.Timeout,
		Logger:  observability.EventLogger(c.logger.Named("shipping")),
	})
	if err != nil {
		return nil, fmt.Errorf("build carrier: %w", err)
	}
	return carrier, nil
}

func (c *Container) buildNotifier() (*notify.AsyncNotifier, error) {
	cfg := c.Config.Notifications
	logger := observability.EventLogger(c.logger.Named("notify"))

	templates, err := notify.NewTemplates(cfg.StoreName, defaultNotifyLocale)
	if err != nil {
		return nil, fmt.Errorf("parse notification templates: %w", err)
	}

	var channels []notify.Channel
	if cfg.Sandbox || strings.TrimSpace(cfg.SMTPHost) == "" {
		channels = append(channels, notify.NewLogChannel(notify.MediumEmail, logger))
	} else {
		email, err := notify.NewEmailChannel(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.FromAddress,
		})
		if err != nil {
			return nil, fmt.Errorf("build email channel: %w", err)
		}
		channels = append(channels, email)
	}
	if cfg.Sandbox || strings.TrimSpace(cfg.SMSEndpoint) == "" {
		channels = append(channels, notify.NewLogChannel(notify.MediumSMS, logger))
	} else {
		sms, err := notify.NewSMSChannel(notify.SMSConfig{
			BaseURL:  cfg.SMSEndpoint,
			APIKey:   cfg.SMSToken,
			SenderID: cfg.SMSSender,
		})
		if err != nil {
			return nil, fmt.Errorf("build sms channel: %w", err)
		}
		channels = append(channels, sms)
	}

	var adminEmails, adminPhones []string
	for _, recipient := range cfg.AdminRecipients {
		recipient = strings.TrimSpace(recipient)
		switch {
		case recipient == "":
		case strings.Contains(recipient, "@"):
			adminEmails = append(adminEmails, recipient)
		default:
			adminPhones = append(adminPhones, recipient)
		}
	}

	dispatcher, err := notify.NewDispatcher(notify.DispatcherConfig{
		Channels:    channels,
		Templates:   templates,
		AdminEmails: adminEmails,
		AdminPhones: adminPhones,
		SendTimeout: notifySendTimeout,
		MaxAttempts: cfg.MaxAttempts,
		Metrics:     c.Metrics,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build notification dispatcher: %w", err)
	}
	notifier, err := notify.NewAsyncNotifier(notify.AsyncConfig{
		Sender:    dispatcher,
		QueueSize:      cfg.QueueSize,
		Workers:        cfg.Workers,
		EnqueueTimeout: cfg.EnqueueTimeout,
		Metrics:        c.Metrics,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build async notifier: %w", err)
	}
	return notifier, nil
}

func (c *Container) buildServices(
	orders repositories.OrderRepository,
	counters repositories.CounterRepository,
	retryQueue services.GatewayRetryQueue,
	events services.OrderEventPublisher,
	deadLetters services.DeadLetterSink,
	artifacts services.ArtifactStore,
	gateway services.PaymentGateway,
	carrier services.ShippingCarrier,
) (Services, error) {
	var svc Services
	serviceLogger := observability.EventLogger(c.logger.Named("orders"))

	machine, err := services.NewOrderStateMachine(services.OrderStateMachineDeps{
		Orders:         orders,
		Counters:       counters,
		Carrier:        carrier,
		RetryQueue:     retryQueue,
		Notifier:       c.notifier,
		Events:         events,
		Metrics:        c.Metrics,
		GatewayTimeout: c.Config.Shipping.Timeout,
		Currency:       c.Config.Store.DefaultCurrency,
		Clock:          c.clock,
		Logger:         serviceLogger,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order state machine: %w", err)
	}
	svc.Orders = machine

	verifier := auth.NewWebhookVerifier(auth.StaticSecrets(c.Config.Webhooks.Secrets),
		auth.WithWebhookLogger(observability.EventLogger(c.logger.Named("webhooks"))),
		auth.WithWebhookMetrics(c.Metrics),
		auth.WithWebhookTolerance(c.Config.Webhooks.Tolerance),
		auth.WithWebhookClock(c.clock),
	)
	deduper, err := idempotency.NewEventDeduper(c.Idempotency, c.Config.Webhooks.DedupTTL, c.clock)
	if err != nil {
		return Services{}, fmt.Errorf("build webhook deduper: %w", err)
	}
	if svc.Webhooks, err = services.NewWebhookIngestor(services.WebhookIngestorDeps{
		StateMachine:    machine,
		Orders:          orders,
		Verifier:        verifier,
		Deduper:         deduper,
		DeadLetters:     deadLetters,
		Notifier:        c.notifier,
		Metrics:         c.Metrics,
		PaymentGateway:  gateway.Name(),
		ShippingCarrier: carrier.Name(),
		Clock:           c.clock,
		Logger:          observability.EventLogger(c.logger.Named("webhooks")),
	}); err != nil {
		return Services{}, fmt.Errorf("build webhook ingestor: %w", err)
	}

	if svc.Bulk, err = services.NewBulkProcessor(services.BulkProcessorDeps{
		StateMachine: machine,
		Artifacts:    artifacts,
		Clock:        c.clock,
		Logger:       serviceLogger,
	}); err != nil {
		return Services{}, fmt.Errorf("build bulk processor: %w", err)
	}

	if svc.Returns, err = services.NewReturnService(services.ReturnServiceDeps{
		StateMachine:   machine,
		Gateway:        gateway,
		RetryQueue:     retryQueue,
		Metrics:        c.Metrics,
		GatewayTimeout: c.Config.Payments.Timeout,
		Clock:          c.clock,
		Logger:         serviceLogger,
	}); err != nil {
		return Services{}, fmt.Errorf("build return service: %w", err)
	}

	if svc.Retries, err = services.NewGatewayRetryProcessor(services.GatewayRetryProcessorDeps{
		StateMachine: machine,
		Returns:      svc.Returns,
		Logger:       observability.EventLogger(c.logger.Named("jobs")),
	}); err != nil {
		return Services{}, fmt.Errorf("build gateway retry processor: %w", err)
	}
	return svc, nil
}
