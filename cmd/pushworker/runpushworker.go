// --- File: cmd/pushworker/runpushworker.go ---
package main

import (
	"context"
	_ "embed"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-push-worker/internal/auth"
	"github.com/tinywideclouds/go-push-worker/internal/pipeline"
	"github.com/tinywideclouds/go-push-worker/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-worker/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-push-worker/internal/storage/firestore"
	"github.com/tinywideclouds/go-push-worker/internal/storage/postgres"
	"github.com/tinywideclouds/go-push-worker/internal/storage/postgrest"
	"github.com/tinywideclouds/go-push-worker/pkg/dispatch"
	"github.com/tinywideclouds/go-push-worker/pushworker"
	"github.com/tinywideclouds/go-push-worker/pushworker/config"
)

//go:embed local.yaml
var configFile []byte

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-worker")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, logger)
	if err != nil {
		logger.Error("Embedded config invalid", "err", err)
		os.Exit(1)
	}
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}

	// --- Delivery Store ---
	store, closeStore, err := newDeliveryStore(ctx, cfg, httpClient, logger)
	if err != nil {
		logger.Error("Delivery store failed", "backend", cfg.Store.Backend, "err", err)
		os.Exit(1)
	}
	defer closeStore()
	logger.Info("DeliveryStore initialized", "type", cfg.Store.Backend)

	// --- Gateway Auth (Decorated) ---
	signer, err := auth.NewServiceAccountSigner(auth.Config{
		ClientEmail:   cfg.Gateway.ClientEmail,
		PrivateKeyPEM: cfg.Gateway.PrivateKey,
		TokenURL:      cfg.Gateway.TokenURL,
	}, httpClient, logger)
	if err != nil {
		logger.Error("Credential signer failed", "err", err)
		os.Exit(1)
	}

	var tokenCache cache.CacheClient
	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		tokenCache = redisClient
	} else {
		tokenCache = cache.NewMemoryClient()
	}
	tokenSource := cache.NewCachedTokenSource(signer, tokenCache, cfg.Gateway.ClientEmail, cfg.Gateway.TokenRefreshSkew, logger)

	// --- Sender ---
	sender, err := fcm.NewSender(fcm.SenderConfig{
		Endpoint:  cfg.Gateway.Endpoint,
		ProjectID: cfg.Gateway.ProjectID,
		Timeout:   cfg.Gateway.Timeout,
		RateLimit: cfg.Gateway.RateLimit,
	}, httpClient, logger)
	if err != nil {
		logger.Error("Gateway sender failed", "err", err)
		os.Exit(1)
	}

	// --- Processor & Service ---
	processor := pipeline.NewProcessor(
		pipeline.Config{BatchSize: cfg.Delivery.BatchSize, ReasonMaxLen: cfg.Delivery.ReasonMaxLen},
		pipeline.Builder{ChannelID: cfg.Delivery.AndroidChannelID, DefaultTitle: cfg.Delivery.DefaultTitle},
		store,
		tokenSource,
		sender,
		logger,
	)

	service, err := pushworker.New(cfg, processor, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.InvocationTimeout+5*time.Second)
		defer cancel()
		_ = service.Shutdown(shutdownCtx)
	}()

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

// newDeliveryStore builds the configured backend and a matching close func.
func newDeliveryStore(ctx context.Context, cfg *config.Config, httpClient *http.Client, logger *slog.Logger) (dispatch.DeliveryStore, func(), error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		pool, err := postgres.NewPool(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return postgres.NewDeliveryStore(pool, logger), pool.Close, nil
	case config.BackendFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.Store.FirestoreProjectID)
		if err != nil {
			return nil, nil, err
		}
		return fsStore.NewDeliveryStore(fsClient, logger), func() { _ = fsClient.Close() }, nil
	default:
		store, err := postgrest.NewDeliveryStore(postgrest.Config{
			BaseURL:    cfg.Store.SupabaseURL,
			ServiceKey: cfg.Store.ServiceRoleKey,
		}, httpClient, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}
