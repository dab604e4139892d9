// Package config loads the gateway's pure environment-variable
// configuration (spec's environment table) via struct-tag binding.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the top-level gateway configuration, populated entirely from
// the process environment -- no file, no ${VAR} expansion.
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Cache     CacheConfig
	Log       LogConfig
	Admin     AdminConfig
	OpenAI    ProviderConfig `envPrefix:"OPENAI_"`
	Anthropic ProviderConfig `envPrefix:"ANTHROPIC_"`
	Telemetry TelemetryConfig
	Breaker   BreakerConfig
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string        `env:"HOST" envDefault:"0.0.0.0"`
	Port            string        `env:"PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// Addr returns the listener address in host:port form.
func (s ServerConfig) Addr() string { return s.Host + ":" + s.Port }

// StoreConfig holds persistent-store settings.
type StoreConfig struct {
	URI string `env:"STORE_URI,required,notEmpty"`
	DB  string `env:"STORE_DB" envDefault:"gateway.db"`
}

// CacheConfig holds coherent-cache settings.
type CacheConfig struct {
	BusURI     string        `env:"CACHE_BUS_URI"`
	MaxEntries int           `env:"CACHE_MAX_ENTRIES" envDefault:"10000"`
	TTL        time.Duration `env:"CACHE_TTL_SECONDS" envDefault:"300s"`
}

// LogConfig holds structured-logging settings.
type LogConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
}

// AdminConfig holds the admin-surface shared secret.
type AdminConfig struct {
	Key string `env:"ADMIN_KEY,required,notEmpty"`
}

// ProviderConfig holds one upstream provider's credentials.
type ProviderConfig struct {
	APIKey  string `env:"API_KEY"`
	BaseURL string `env:"BASE_URL"`
}

// TelemetryConfig holds Prometheus and OpenTelemetry toggles.
type TelemetryConfig struct {
	MetricsEnabled    bool    `env:"METRICS_ENABLED" envDefault:"true"`
	TracingEnabled    bool    `env:"TRACING_ENABLED" envDefault:"false"`
	TracingEndpoint   string  `env:"TRACING_ENDPOINT" envDefault:"localhost:4317"`
	TracingSampleRate float64 `env:"TRACING_SAMPLE_RATE" envDefault:"0.1"`
}

// BreakerConfig holds the per-family circuit breaker thresholds.
type BreakerConfig struct {
	ErrorThreshold float64       `env:"BREAKER_ERROR_THRESHOLD" envDefault:"0.3"`
	MinSamples     int           `env:"BREAKER_MIN_SAMPLES" envDefault:"20"`
	WindowSeconds  int           `env:"BREAKER_WINDOW_SECONDS" envDefault:"60"`
	OpenTimeout    time.Duration `env:"BREAKER_OPEN_TIMEOUT" envDefault:"30s"`
}

// Load populates a Config from the process environment. Required fields
// missing from the environment fail fast, per spec's exit-code contract.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
