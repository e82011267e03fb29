// Package config loads settings from an optional YAML file pointed at by
// SCREENTASK_CONFIG, with environment variables taking precedence.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	DatabaseURL string `yaml:"database_url"`
	ServerPort  string `yaml:"server_port"`
	BaseURL     string `yaml:"base_url"`
	FrontendURL string `yaml:"frontend_url"`

	OpenAIKey  string `yaml:"openai_api_key"`
	AIProvider string `yaml:"ai_provider"`
	AIModel    string `yaml:"ai_model"`
	AIBaseURL  string `yaml:"ai_base_url"`

	RedisURL         string `yaml:"redis_url"`
	RabbitMQURL      string `yaml:"rabbitmq_url"`
	RabbitMQPrefetch int    `yaml:"rabbitmq_prefetch"`

	JWKSURL     string `yaml:"jwks_url"`
	JWTIssuer   string `yaml:"jwt_issuer"`
	JWTAudience string `yaml:"jwt_audience"`

	BackupWindowMinutes int    `yaml:"backup_window_minutes"`
	BackupHistoryCap    int    `yaml:"backup_history_cap"`
	RateLimit           string `yaml:"rate_limit"`

	WorkerDebugMode bool `yaml:"worker_debug_mode"`
	ServerDebugMode bool `yaml:"server_debug_mode"`
	EnableHSTS      bool `yaml:"enable_hsts"`

	OTELEnabled  bool   `yaml:"otel_enabled"`
	OTELEndpoint string `yaml:"otel_endpoint"`
}

// Load loads configuration from the optional YAML file and the environment.
// Environment variables win over file values.
func Load() (*Config, error) {
	cfg := &Config{
		ServerPort:          "8080",
		BaseURL:             "http://localhost:8080",
		FrontendURL:         "http://localhost:3000",
		AIProvider:          "openai",
		RedisURL:            "redis://localhost:6379/0",
		RabbitMQPrefetch:    1,
		BackupWindowMinutes: 60,
		BackupHistoryCap:    10,
		RateLimit:           "120-M",
	}

	if path := os.Getenv("SCREENTASK_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(&cfg.DatabaseURL, "DATABASE_URL")
	applyEnv(&cfg.ServerPort, "SERVER_PORT")
	applyEnv(&cfg.BaseURL, "BASE_URL")
	applyEnv(&cfg.FrontendURL, "FRONTEND_URL")
	applyEnv(&cfg.OpenAIKey, "OPENAI_API_KEY")
	applyEnv(&cfg.AIProvider, "AI_PROVIDER")
	applyEnv(&cfg.AIModel, "AI_MODEL")
	applyEnv(&cfg.AIBaseURL, "AI_BASE_URL")
	applyEnv(&cfg.RedisURL, "REDIS_URL")
	applyEnv(&cfg.RabbitMQURL, "RABBITMQ_URL")
	applyEnvInt(&cfg.RabbitMQPrefetch, "RABBITMQ_PREFETCH")
	applyEnv(&cfg.JWKSURL, "JWKS_URL")
	applyEnv(&cfg.JWTIssuer, "JWT_ISSUER")
	applyEnv(&cfg.JWTAudience, "JWT_AUDIENCE")
	applyEnvInt(&cfg.BackupWindowMinutes, "BACKUP_WINDOW_MINUTES")
	applyEnvInt(&cfg.BackupHistoryCap, "BACKUP_HISTORY_CAP")
	applyEnv(&cfg.RateLimit, "RATE_LIMIT")
	applyEnvBool(&cfg.WorkerDebugMode, "WORKER_DEBUG_MODE")
	applyEnvBool(&cfg.ServerDebugMode, "SERVER_DEBUG_MODE")
	applyEnvBool(&cfg.EnableHSTS, "ENABLE_HSTS")
	applyEnvBool(&cfg.OTELEnabled, "OTEL_ENABLED")
	applyEnv(&cfg.OTELEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RabbitMQURL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required for extraction job queueing")
	}

	return cfg, nil
}

func applyEnv(dst *string, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value
	}
}

func applyEnvBool(dst *bool, key string) {
	if value := os.Getenv(key); value != "" {
		*dst = value == "true" || value == "1" || value == "yes"
	}
}

func applyEnvInt(dst *int, key string) {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			*dst = intValue
		}
	}
}
