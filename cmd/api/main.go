package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/di"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/handlers"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/config"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/idempotency"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/observability"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/platform/secrets"
	"github.com/Priyanshudahiya757/marwari-basket-sub000/internal/services"
)

const (
	defaultSecretCacheTTL = 10 * time.Minute
	shutdownGrace         = 15 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "marwari-basket api: %v\n", err)
		os.Exit(1)
	}
}

// run wires the service and serves until ctx is cancelled.
func run(ctx context.Context) error {
	startedAt := time.Now().UTC()

	env, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	root, err := observability.NewLogger(env["API_LOG_LEVEL"])
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = root.Sync() }()
	logger := root.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger, env)
	if err != nil {
		return fmt.Errorf("create secret fetcher: %w", err)
	}
	defer func() {
		if cerr := fetcher.Close(); cerr != nil {
			logger.Warn("closing secret fetcher", zap.Error(cerr))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(env)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			// Names can reveal deployment layout; only fingerprints reach the logs.
			logger.Error("required secrets are empty", zap.Strings("secrets", missing.RedactedNames()))
			return errors.New("required secrets are empty")
		}
		return fmt.Errorf("load configuration: %w", err)
	}

	build := buildInfoFromEnv(env, cfg, startedAt)
	metrics := observability.NewMetrics()

	var secretProbe *secrets.Fetcher
	if !cfg.LocalEnvironment() {
		secretProbe = fetcher
	}
	container, err := di.NewContainer(ctx, cfg, di.Options{
		Logger:  logger,
		Metrics: metrics,
		Build:   build,
		Secrets: secretProbe,
	})
	if err != nil {
		return fmt.Errorf("build dependencies: %w", err)
	}
	container.Start(ctx)

	router, err := newRouter(ctx, logger, cfg, container, metrics, build)
	if err != nil {
		_ = container.Close(context.Background())
		return err
	}
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	httpLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		httpLogger.Info("order api listening",
			zap.String("environment", build.Environment),
			zap.String("version", build.Version),
			zap.String("store", cfg.Store.Backend),
			zap.String("payments", cfg.Payments.Provider),
			zap.String("shipping", cfg.Shipping.Provider),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		httpLogger.Info("draining requests", zap.Duration("grace", shutdownGrace))

		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		shutdownErr := server.Shutdown(drainCtx)
		if err := container.Close(drainCtx); err != nil {
			logger.Warn("closing dependencies", zap.Error(err))
		}
		return shutdownErr
	})
	return group.Wait()
}

func newRouter(ctx context.Context, logger *zap.Logger, cfg config.Config, container *di.Container, metrics *observability.Metrics, build services.BuildInfo) (http.Handler, error) {
	staffAuth, err := buildStaffAuth(ctx, logger.Named("auth"), cfg, metrics)
	if err != nil {
		return nil, fmt.Errorf("staff auth: %w", err)
	}
	pushAuth := buildPushAuth(logger.Named("auth"), cfg, metrics)

	svc := container.Services
	orders := handlers.NewOrderHandlers(handlers.OrderHandlersDeps{
		StateMachine: svc.Orders,
		Bulk:         svc.Bulk,
		Returns:      svc.Returns,
		Idempotency: idempotency.Middleware(container.Idempotency,
			idempotency.WithHeader(cfg.Idempotency.Header),
			idempotency.WithTTL(cfg.Idempotency.TTL),
			idempotency.WithLogger(observability.EventLogger(logger.Named("idempotency"))),
		),
	})
	webhooks := handlers.NewWebhookHandlers(handlers.WebhookHandlersConfig{
		Ingestor:        svc.Webhooks,
		SignatureHeader: cfg.Webhooks.SignatureHeader,
		BodyLimit:       cfg.Webhooks.BodyLimit,
		Limiter:         container.WebhookLimiter,
	})
	jobs := handlers.NewInternalJobHandlers(svc.Retries)
	health := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(build),
		handlers.WithHealthSystemService(svc.System),
	)

	httpLogger := logger.Named("http")
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(httpLogger),
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(metrics),
		),
		handlers.WithRequestTimeout(cfg.Server.WriteTimeout),
		handlers.WithHealthHandlers(health),
		handlers.WithMetricsHandler(metrics.Handler()),
		handlers.WithOrderRoutes(orders.Routes),
		handlers.WithWebhookRoutes(webhooks.Routes),
		handlers.WithInternalRoutes(jobs.Routes),
	}
	if staffAuth != nil {
		opts = append(opts, handlers.WithOrderMiddlewares(staffAuth))
	}
	if pushAuth != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(pushAuth))
	}
	return handlers.NewRouter(opts...), nil
}
