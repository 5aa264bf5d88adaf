// --- File: pushworker/config/config.go ---
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const (
	BackendPostgrest = "postgrest"
	BackendPostgres  = "postgres"
	BackendFirestore = "firestore"

	// MaxBatchSize caps the pending deliveries fetched per invocation.
	MaxBatchSize = 50
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

// StoreConfig selects and locates the delivery store.
type StoreConfig struct {
	Backend            string
	SupabaseURL        string
	ServiceRoleKey     string
	DatabaseURL        string
	FirestoreProjectID string
}

// GatewayConfig holds the push gateway credentials and call limits.
type GatewayConfig struct {
	ProjectID   string
	ClientEmail string
	// PrivateKey is PEM with real newlines; env values arrive with escaped "\n".
	PrivateKey       string
	Endpoint         string
	TokenURL         string
	Timeout          time.Duration
	RateLimit        float64
	TokenRefreshSkew time.Duration
}

type DeliveryConfig struct {
	AndroidChannelID string
	DefaultTitle     string
	BatchSize        int
	ReasonMaxLen     int
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ListenAddr        string
	Schedule          string
	InvocationTimeout time.Duration
	TriggerSecret     string

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Store      StoreConfig
	Gateway    GatewayConfig
	Delivery   DeliveryConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	override := func(key string, apply func(string) error) error {
		val := os.Getenv(key)
		if val == "" {
			return nil
		}
		if err := apply(val); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		logger.Debug("Overriding config value", "key", key, "source", "env")
		return nil
	}
	str := func(dst *string) func(string) error {
		return func(v string) error { *dst = v; return nil }
	}
	integer := func(dst *int) func(string) error {
		return func(v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		}
	}
	duration := func(dst *time.Duration) func(string) error {
		return func(v string) error {
			d, err := time.ParseDuration(v)
			if err != nil {
				return err
			}
			*dst = d
			return nil
		}
	}

	overrides := []struct {
		key   string
		apply func(string) error
	}{
		{"PORT", func(v string) error { cfg.ListenAddr = ":" + v; return nil }},
		{"SCHEDULE", str(&cfg.Schedule)},
		{"INVOCATION_TIMEOUT", duration(&cfg.InvocationTimeout)},
		{"TRIGGER_SECRET", str(&cfg.TriggerSecret)},

		{"STORE_BACKEND", str(&cfg.Store.Backend)},
		{"SUPABASE_URL", str(&cfg.Store.SupabaseURL)},
		{"SUPABASE_SERVICE_ROLE_KEY", str(&cfg.Store.ServiceRoleKey)},
		{"DATABASE_URL", str(&cfg.Store.DatabaseURL)},
		{"FIRESTORE_PROJECT_ID", str(&cfg.Store.FirestoreProjectID)},

		{"FCM_PROJECT_ID", str(&cfg.Gateway.ProjectID)},
		{"FCM_CLIENT_EMAIL", str(&cfg.Gateway.ClientEmail)},
		{"FCM_PRIVATE_KEY", str(&cfg.Gateway.PrivateKey)},
		{"FCM_ENDPOINT", str(&cfg.Gateway.Endpoint)},
		{"OAUTH_TOKEN_URL", str(&cfg.Gateway.TokenURL)},
		{"GATEWAY_TIMEOUT", duration(&cfg.Gateway.Timeout)},
		{"GATEWAY_RATE_LIMIT", func(v string) error {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return err
			}
			cfg.Gateway.RateLimit = f
			return nil
		}},

		{"ANDROID_CHANNEL_ID", str(&cfg.Delivery.AndroidChannelID)},
		{"DEFAULT_TITLE", str(&cfg.Delivery.DefaultTitle)},
		{"BATCH_SIZE", integer(&cfg.Delivery.BatchSize)},
		{"REASON_MAX_LEN", integer(&cfg.Delivery.ReasonMaxLen)},

		// Redis Overrides
		{"REDIS_ADDR", func(v string) error { cfg.Redis.Addr = v; cfg.Redis.Enabled = true; return nil }},
		{"REDIS_PASSWORD", str(&cfg.Redis.Password)},
		{"REDIS_DB", integer(&cfg.Redis.DB)},
		{"REDIS_ENABLED", func(v string) error {
			enabled, err := strconv.ParseBool(v)
			if err != nil {
				return err
			}
			cfg.Redis.Enabled = enabled
			return nil
		}},
	}
	for _, o := range overrides {
		if err := override(o.key, o.apply); err != nil {
			return nil, err
		}
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		var cleanOrigins []string
		for _, o := range strings.Split(corsOrigins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// Secret stores hand over PEM keys on one line.
	cfg.Gateway.PrivateKey = strings.ReplaceAll(cfg.Gateway.PrivateKey, `\n`, "\n")

	if err := finalize(cfg); err != nil {
		return nil, err
	}

	logger.Debug("Configuration finalized and validated successfully",
		"store_backend", cfg.Store.Backend,
		"schedule", cfg.Schedule,
		"redis_enabled", cfg.Redis.Enabled,
	)
	return cfg, nil
}

// finalize fills defaults and validates the merged configuration.
func finalize(cfg *Config) error {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.InvocationTimeout <= 0 {
		cfg.InvocationTimeout = 55 * time.Second
	}
	if cfg.Gateway.Timeout <= 0 {
		cfg.Gateway.Timeout = 10 * time.Second
	}
	if cfg.Gateway.TokenRefreshSkew <= 0 {
		cfg.Gateway.TokenRefreshSkew = 5 * time.Minute
	}
	if cfg.Gateway.RateLimit < 0 {
		return fmt.Errorf("gateway rate_limit must not be negative")
	}
	if cfg.Delivery.BatchSize <= 0 {
		cfg.Delivery.BatchSize = MaxBatchSize
	}
	if cfg.Delivery.BatchSize > MaxBatchSize {
		return fmt.Errorf("delivery batch_size %d exceeds the per-invocation cap of %d", cfg.Delivery.BatchSize, MaxBatchSize)
	}
	if cfg.Delivery.ReasonMaxLen <= 0 {
		cfg.Delivery.ReasonMaxLen = 1000
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendPostgrest
	}

	switch cfg.Store.Backend {
	case BackendPostgrest:
		if cfg.Store.SupabaseURL == "" || cfg.Store.ServiceRoleKey == "" {
			return fmt.Errorf("postgrest store requires SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY")
		}
	case BackendPostgres:
		if cfg.Store.DatabaseURL == "" {
			return fmt.Errorf("postgres store requires DATABASE_URL")
		}
	case BackendFirestore:
		if cfg.Store.FirestoreProjectID == "" {
			cfg.Store.FirestoreProjectID = cfg.Gateway.ProjectID
		}
		if cfg.Store.FirestoreProjectID == "" {
			return fmt.Errorf("firestore store requires FIRESTORE_PROJECT_ID")
		}
	default:
		return fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	if cfg.Gateway.ProjectID == "" {
		return fmt.Errorf("gateway project_id is required (set via YAML or FCM_PROJECT_ID env var)")
	}
	if cfg.Gateway.ClientEmail == "" || cfg.Gateway.PrivateKey == "" {
		return fmt.Errorf("gateway service account requires FCM_CLIENT_EMAIL and FCM_PRIVATE_KEY")
	}
	return nil
}
