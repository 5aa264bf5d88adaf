// --- File: pushworker/config/yaml_config.go ---
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlStoreConfig struct {
	Backend            string `yaml:"backend"`
	SupabaseURL        string `yaml:"supabase_url"`
	DatabaseURL        string `yaml:"database_url"`
	FirestoreProjectID string `yaml:"firestore_project_id"`
}

type YamlGatewayConfig struct {
	ProjectID        string  `yaml:"project_id"`
	ClientEmail      string  `yaml:"client_email"`
	Endpoint         string  `yaml:"endpoint"`
	TokenURL         string  `yaml:"token_url"`
	Timeout          string  `yaml:"timeout"`
	RateLimit        float64 `yaml:"rate_limit"`
	TokenRefreshSkew string  `yaml:"token_refresh_skew"`
}

type YamlDeliveryConfig struct {
	AndroidChannelID string `yaml:"android_channel_id"`
	DefaultTitle     string `yaml:"default_title"`
	BatchSize        int    `yaml:"batch_size"`
	ReasonMaxLen     int    `yaml:"reason_max_len"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
// Secrets (service role key, private key, trigger secret) only come from the environment.
type YamlConfig struct {
	ListenAddr        string             `yaml:"listen_addr"`
	Schedule          string             `yaml:"schedule"`
	InvocationTimeout string             `yaml:"invocation_timeout"`
	CorsConfig        YamlCorsConfig     `yaml:"cors"`
	RedisConfig       YamlRedisConfig    `yaml:"redis"`
	StoreConfig       YamlStoreConfig    `yaml:"store"`
	GatewayConfig     YamlGatewayConfig  `yaml:"gateway"`
	DeliveryConfig    YamlDeliveryConfig `yaml:"delivery"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	invocationTimeout, err := parseDuration("invocation_timeout", baseCfg.InvocationTimeout)
	if err != nil {
		return nil, err
	}
	gatewayTimeout, err := parseDuration("gateway.timeout", baseCfg.GatewayConfig.Timeout)
	if err != nil {
		return nil, err
	}
	refreshSkew, err := parseDuration("gateway.token_refresh_skew", baseCfg.GatewayConfig.TokenRefreshSkew)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddr:        baseCfg.ListenAddr,
		Schedule:          baseCfg.Schedule,
		InvocationTimeout: invocationTimeout,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		Store: StoreConfig{
			Backend:            baseCfg.StoreConfig.Backend,
			SupabaseURL:        baseCfg.StoreConfig.SupabaseURL,
			DatabaseURL:        baseCfg.StoreConfig.DatabaseURL,
			FirestoreProjectID: baseCfg.StoreConfig.FirestoreProjectID,
		},
		Gateway: GatewayConfig{
			ProjectID:        baseCfg.GatewayConfig.ProjectID,
			ClientEmail:      baseCfg.GatewayConfig.ClientEmail,
			Endpoint:         baseCfg.GatewayConfig.Endpoint,
			TokenURL:         baseCfg.GatewayConfig.TokenURL,
			Timeout:          gatewayTimeout,
			RateLimit:        baseCfg.GatewayConfig.RateLimit,
			TokenRefreshSkew: refreshSkew,
		},
		Delivery: DeliveryConfig{
			AndroidChannelID: baseCfg.DeliveryConfig.AndroidChannelID,
			DefaultTitle:     baseCfg.DeliveryConfig.DefaultTitle,
			BatchSize:        baseCfg.DeliveryConfig.BatchSize,
			ReasonMaxLen:     baseCfg.DeliveryConfig.ReasonMaxLen,
		},
	}

	logger.Debug("YAML config mapping complete",
		"listen_addr", cfg.ListenAddr,
		"store_backend", cfg.Store.Backend,
		"gateway_project_id", cfg.Gateway.ProjectID,
	)

	return cfg, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}
