package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/carepoint-rx/api/internal/di"
	"github.com/carepoint-rx/api/internal/handlers"
	"github.com/carepoint-rx/api/internal/payments"
	"github.com/carepoint-rx/api/internal/platform/auth"
	"github.com/carepoint-rx/api/internal/platform/config"
	pfirestore "github.com/carepoint-rx/api/internal/platform/firestore"
	"github.com/carepoint-rx/api/internal/platform/idempotency"
	"github.com/carepoint-rx/api/internal/platform/notify"
	"github.com/carepoint-rx/api/internal/platform/observability"
	"github.com/carepoint-rx/api/internal/platform/secrets"
	"github.com/carepoint-rx/api/internal/repositories"
	firestoreRepo "github.com/carepoint-rx/api/internal/repositories/firestore"
	"github.com/carepoint-rx/api/internal/repositories/memory"
	"github.com/carepoint-rx/api/internal/services"
)

const (
	prescriptionUploadLimit  = 10
	prescriptionUploadWindow = time.Hour
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger("rx-api")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	resolver := newSecretResolver(ctx, logger)
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(resolver))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(cfg, startedAt)
	events := observability.NewEventLogger(logger.Named("services"))

	var pubsubClient *pubsub.Client
	var topic *pubsub.Topic
	if projectID := pubsubProjectID(cfg); projectID != "" {
		if host := strings.TrimSpace(cfg.PubSub.EmulatorHost); host != "" {
			_ = os.Setenv("PUBSUB_EMULATOR_HOST", host)
		}
		pubsubClient, err = pubsub.NewClient(ctx, projectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic = pubsubClient.Topic(cfg.PubSub.NotificationsTopic)
	} else {
		logger.Warn("pubsub project not configured; notifications are disabled")
	}

	var probes []repositories.Probe
	var notifier services.Notifier
	if topic != nil {
		pubsubNotifier, err := notify.NewPubSubNotifier(topic, notify.Logger(events))
		if err != nil {
			logger.Fatal("failed to initialise notifier", zap.Error(err))
		}
		defer pubsubNotifier.Close()
		notifier = pubsubNotifier
		probes = append(probes, topicProbe(topic))
	}

	var (
		registry         repositories.Registry
		idempotencyStore idempotency.Store
	)
	switch cfg.Store.Driver {
	case config.StoreDriverFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore, firestoreClientOptions(cfg)...)
		fsRegistry, err := firestoreRepo.NewRegistry(provider, buildInfo.Environment, probes...)
		if err != nil {
			logger.Fatal("failed to initialise firestore registry", zap.Error(err))
		}
		registry = fsRegistry
		idempotencyStore = idempotency.NewFirestoreStore(provider)
	default:
		logger.Warn("using in-memory store; data is lost on restart")
		registry = memory.NewRegistry(memory.NewStore(), buildInfo.Environment)
		idempotencyStore = idempotency.NewMemoryStore()
	}

	var paymentGateway services.PaymentGateway
	if strings.TrimSpace(cfg.Payments.StripeAPIKey) != "" {
		gateway, err := payments.NewStripeGateway(payments.StripeGatewayConfig{
			APIKey:    cfg.Payments.StripeAPIKey,
			AccountID: cfg.Payments.AccountID,
			Logger:    payments.StripeLogger(observability.NewEventLogger(logger.Named("payments"))),
		})
		if err != nil {
			logger.Fatal("failed to initialise stripe gateway", zap.Error(err))
		}
		paymentGateway = gateway
	} else {
		logger.Warn("stripe api key not configured; online payments are recorded without a charge")
	}

	verifier, directory, err := buildIdentity(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise identity verification", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(verifier)

	metrics, err := observability.NewLedgerMetrics()
	if err != nil {
		logger.Fatal("failed to initialise ledger metrics", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, registry, di.Collaborators{
		Notifier:  notifier,
		Payments:  paymentGateway,
		Directory: directory,
		Metrics:   metrics,
		Logger:    services.Logger(events),
		Build:     buildInfo,
		Clock:     time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Orders, idempotencyMiddleware)
	prescriptionHandlers := handlers.NewPrescriptionHandlers(authenticator, container.Services.Prescriptions,
		handlers.WithUploadRateLimit(prescriptionUploadLimit, prescriptionUploadWindow, time.Now),
	)
	inventoryHandlers := handlers.NewInventoryHandlers(authenticator, container.Services.Ledger)
	internalHandlers := handlers.NewInternalHandlers(container.Services.Ledger, cfg.Jobs.LowStockSweepLimit)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(container.Services.System),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	opts := []handlers.Option{
		handlers.WithBasePath(cfg.Server.BasePath),
		handlers.WithRequestTimeout(cfg.Server.RequestTimeout),
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPrescriptionRoutes(prescriptionHandlers.Routes),
		handlers.WithInventoryRoutes(inventoryHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if serviceTokens := buildServiceTokenMiddleware(logger.Named("auth"), cfg); serviceTokens != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(serviceTokens))
	} else {
		logger.Warn("auth: OIDC audience not configured; internal routes are not authenticated")
	}

	router := handlers.NewRouter(opts...)
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
		serverLogger.Info("rx api listening",
			zap.String("store", cfg.Store.Driver),
			zap.String("version", buildInfo.Version),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(os.Getenv("RX_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("RX_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// newSecretResolver runs before configuration is loaded, so it reads its own settings from the
// process environment.
func newSecretResolver(ctx context.Context, logger *zap.Logger) *secrets.Resolver {
	projectID := strings.TrimSpace(os.Getenv("RX_SECRETS_PROJECT_ID"))
	if projectID == "" {
		projectID = strings.TrimSpace(os.Getenv("RX_FIREBASE_PROJECT_ID"))
	}
	var clientOpts []option.ClientOption
	if file := strings.TrimSpace(os.Getenv("RX_FIREBASE_CREDENTIALS_FILE")); file != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(file))
	}
	opts := []secrets.Option{secrets.WithLogger(logger.Named("secrets"))}
	if fallback := strings.TrimSpace(os.Getenv("RX_SECRETS_FALLBACK_FILE")); fallback != "" {
		opts = append(opts, secrets.WithFallbackFile(fallback))
	}
	return secrets.NewResolver(ctx, projectID, clientOpts, opts...)
}

func firestoreClientOptions(cfg config.Config) []pfirestore.ProviderOption {
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" && cfg.Firestore.EmulatorHost == "" {
		return []pfirestore.ProviderOption{pfirestore.WithClientOptions(option.WithCredentialsFile(file))}
	}
	return nil
}

// buildIdentity selects the bearer token verifier and the staff directory used for courier
// assignment. Dev tokens are refused in production.
func buildIdentity(ctx context.Context, cfg config.Config) (auth.TokenVerifier, services.StaffDirectory, error) {
	devSecret := strings.TrimSpace(cfg.Security.DevAuthSecret)
	if devSecret != "" && !isProduction(cfg.Security.Environment) {
		verifier, err := auth.NewDevTokenVerifier(devSecret)
		if err != nil {
			return nil, nil, err
		}
		return verifier, parseStaffDirectory(cfg.Security.DevStaff), nil
	}

	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		return nil, nil, fmt.Errorf("firebase verifier: %w", err)
	}
	directory, err := auth.NewFirebaseDirectory(ctx, cfg.Firebase, "")
	if err != nil {
		return nil, nil, fmt.Errorf("firebase directory: %w", err)
	}
	return verifier, directory, nil
}

func buildServiceTokenMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	oidc := cfg.Security.OIDC
	if strings.TrimSpace(oidc.JWKSURL) == "" || strings.TrimSpace(oidc.Audience) == "" {
		return nil
	}
	if len(oidc.Issuers) == 0 {
		logger.Warn("auth: OIDC issuers not configured; internal routes will reject requests")
	}
	keys := auth.NewKeySet(oidc.JWKSURL, nil)
	return auth.NewServiceTokenVerifier(keys, oidc.Audience, oidc.Issuers, oidc.ServiceAccounts, logger).RequireServiceToken()
}

func topicProbe(topic *pubsub.Topic) repositories.Probe {
	return repositories.Probe{
		Name:    "pubsub",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			ok, err := topic.Exists(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("topic %s does not exist", topic.ID())
			}
			return nil
		},
	}
}

func pubsubProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.PubSub.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func isProduction(environment string) bool {
	switch strings.ToLower(strings.TrimSpace(environment)) {
	case "prod", "production":
		return true
	}
	return false
}

// parseStaffDirectory reads "uid=role|role,uid2=role" pairs.
func parseStaffDirectory(raw string) auth.StaticDirectory {
	directory := auth.StaticDirectory{}
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), "=", 2)
		if len(parts) != 2 {
			continue
		}
		uid := strings.TrimSpace(parts[0])
		if uid == "" {
			continue
		}
		for _, role := range strings.Split(parts[1], "|") {
			if role = strings.TrimSpace(role); role != "" {
				directory[uid] = append(directory[uid], role)
			}
		}
	}
	return directory
}
