package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/hanko-field/orderdesk/internal/di"
	"github.com/hanko-field/orderdesk/internal/handlers"
	"github.com/hanko-field/orderdesk/internal/platform/config"
	"github.com/hanko-field/orderdesk/internal/platform/events"
	pfirestore "github.com/hanko-field/orderdesk/internal/platform/firestore"
	"github.com/hanko-field/orderdesk/internal/platform/idempotency"
	"github.com/hanko-field/orderdesk/internal/platform/observability"
	"github.com/hanko-field/orderdesk/internal/platform/secrets"
	"github.com/hanko-field/orderdesk/internal/repositories"
	firestoreRepo "github.com/hanko-field/orderdesk/internal/repositories/firestore"
	"github.com/hanko-field/orderdesk/internal/repositories/memory"
	"github.com/hanko-field/orderdesk/internal/services"
)

const (
	pubsubEmulatorEnv   = "PUBSUB_EMULATOR_HOST"
	instrumentationName = "github.com/hanko-field/orderdesk"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()
	meter := otel.GetMeterProvider().Meter(instrumentationName)

	bootLogger, err := observability.NewLogger(observability.LoggerConfig{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}

	envValues, err := config.EnvironmentValues()
	if err != nil {
		bootLogger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, bootLogger, meter, envValues)
	if err != nil {
		bootLogger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			bootLogger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			bootLogger.Fatal("invalid configuration", zap.Strings("fields", validation.Fields()))
		}
		bootLogger.Fatal("failed to load configuration", zap.Error(err))
	}

	baseLogger, err := observability.NewLogger(observability.LoggerConfig{
		Level:       cfg.Telemetry.LogLevel,
		ServiceName: cfg.Telemetry.ServiceName,
		Environment: cfg.Telemetry.Environment,
	})
	if err != nil {
		bootLogger.Fatal("failed to initialise logger", zap.Error(err))
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("orderdesk")

	var (
		registry         repositories.Registry
		idempotencyStore idempotency.Store
		checks           []repositories.DependencyCheck
	)
	if cfg.Firestore.Enabled() {
		provider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithDialTimeout(cfg.Firestore.DialTimeout))
		fsRegistry, err := firestoreRepo.NewRegistry(provider)
		if err != nil {
			logger.Fatal("failed to initialise firestore repositories", zap.Error(err))
		}
		store, err := idempotency.NewFirestoreStore(provider, "")
		if err != nil {
			logger.Fatal("failed to initialise idempotency store", zap.Error(err))
		}
		registry = fsRegistry
		idempotencyStore = store
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check:   provider.Ping,
		})
		logger.Info("using firestore backend", zap.String("project", cfg.Firestore.ProjectID))
	} else {
		registry = memory.NewStore()
		idempotencyStore = idempotency.NewMemoryStore()
		logger.Warn("firestore project not configured; using in-memory backend")
	}

	if path := strings.TrimSpace(cfg.Orders.SeedFile); path != "" {
		seeder, ok := registry.(repositories.Seeder)
		if !ok {
			logger.Fatal("repository backend does not support seeding")
		}
		seedCtx, cancel := context.WithTimeout(ctx, time.Minute)
		err := repositories.LoadSeedFile(seedCtx, seeder, path, startedAt)
		cancel()
		if err != nil {
			logger.Fatal("failed to load seed data", zap.String("path", path), zap.Error(err))
		}
		logger.Info("seed data loaded", zap.String("path", path))
	}

	var publisher services.OrderEventPublisher = events.NewLogPublisher(logger.Named("events"))
	var pubsubClient *pubsub.Client
	var pubsubPublisher *events.PubSubOrderPublisher
	if cfg.PubSub.Enabled() {
		pubsubClient, err = newPubSubClient(ctx, cfg.PubSub)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		topic := pubsubClient.Topic(cfg.PubSub.OrderEventsTopic)
		pubsubPublisher, err = events.NewPubSubOrderPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
		publisher = pubsubPublisher
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				exists, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !exists {
					return fmt.Errorf("topic %s not found", cfg.PubSub.OrderEventsTopic)
				}
				return nil
			},
		})
	}

	var healthRepo repositories.HealthRepository
	if len(checks) > 0 {
		healthRepo, err = repositories.NewDependencyHealthRepository(checks)
		if err != nil {
			logger.Fatal("failed to initialise health checks", zap.Error(err))
		}
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	container, err := di.NewContainer(cfg, registry, di.Dependencies{
		Events: publisher,
		Health: healthRepo,
		Build:  buildInfo,
		Logger: logger,
		Meter:  meter,
	})
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}

	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	janitorCtx, janitorCancel := context.WithCancel(context.Background())
	var janitorWG sync.WaitGroup
	if cfg.Idempotency.CleanupInterval > 0 {
		janitorWG.Add(1)
		go func() {
			defer janitorWG.Done()
			idempotency.RunJanitor(janitorCtx, idempotencyStore, cfg.Idempotency.CleanupInterval, cfg.Idempotency.CleanupBatchSize, logger.Named("idempotency"))
		}()
	}

	orderHandlers := handlers.NewOrderHandlers(container.Services.Orders,
		handlers.WithCreateMiddleware(idempotencyMiddleware),
		handlers.WithOrderPageSizes(cfg.Orders.DefaultPageSize, cfg.Orders.MaxPageSize),
		handlers.WithOrderCurrency(cfg.Orders.Currency),
	)
	promotionHandlers := handlers.NewPromotionHandlers(container.Services.Promotions)
	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(buildInfo)}
	if container.Services.System != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(container.Services.System))
	}
	healthHandlers := handlers.NewHealthHandlers(healthOpts...)

	projectID := strings.TrimSpace(cfg.Firestore.ProjectID)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.ActorMiddleware(),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithRequestTimeout(cfg.Server.RequestTimeout),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPromotionRoutes(promotionHandlers.Routes),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("orderdesk api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	janitorCancel()
	janitorWG.Wait()

	if pubsubPublisher != nil {
		pubsubPublisher.Stop()
	}
	if pubsubClient != nil {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("repository close error", zap.Error(err))
	}
}

func newPubSubClient(ctx context.Context, cfg config.PubSubConfig) (*pubsub.Client, error) {
	var opts []option.ClientOption
	if host := strings.TrimSpace(cfg.EmulatorHost); host != "" {
		if os.Getenv(pubsubEmulatorEnv) == "" {
			_ = os.Setenv(pubsubEmulatorEnv, host)
		}
	} else if creds := strings.TrimSpace(cfg.CredentialsJSON); creds != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	}
	return pubsub.NewClient(ctx, cfg.ProjectID, opts...)
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["ORDERDESK_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["ORDERDESK_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Telemetry.Environment,
		StartedAt:   started,
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, meter metric.Meter, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("ORDERDESK_SECRET_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("ORDERDESK_FIRESTORE_PROJECT_ID")
	}
	fallbackPath := lookup("ORDERDESK_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(meter),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if creds := lookup("ORDERDESK_SECRET_CREDENTIALS_FILE"); creds != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(creds)))
	}
	return secrets.NewFetcher(ctx, opts...)
}
