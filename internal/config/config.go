package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the full service configuration. Defaults match the reference
// deployment; every value can be overridden through GREENROOM_* environment
// variables.
type Config struct {
	HTTP     HTTPConfig     `envPrefix:"GREENROOM_HTTP_"`
	Database DatabaseConfig `envPrefix:"GREENROOM_DATABASE_"`
	Session  SessionConfig  `envPrefix:"GREENROOM_SESSION_"`
	Payment  PaymentConfig  `envPrefix:"GREENROOM_PAYMENT_"`
	AMQP     AMQPConfig     `envPrefix:"GREENROOM_AMQP_"`
}

type HTTPConfig struct {
	Host         string        `env:"HOST" envDefault:"0.0.0.0"`
	Port         int           `env:"PORT" envDefault:"8080"`
	ReadTimeout  time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
}

type DatabaseConfig struct {
	Path           string        `env:"PATH" envDefault:"./data/greenroom.db"`
	Timeout        time.Duration `env:"TIMEOUT" envDefault:"30s"`
	MigrationsPath string        `env:"MIGRATIONS_PATH" envDefault:"./migrations"`
}

// SessionConfig carries the lifecycle and billing policy constants.
type SessionConfig struct {
	// CredentialSecret signs participant credentials. Required.
	CredentialSecret string `env:"CREDENTIAL_SECRET"`
	// CredentialTTL is the fixed credential validity window.
	CredentialTTL time.Duration `env:"CREDENTIAL_TTL" envDefault:"4h"`
	// MaxDuration is the hard session-length cap.
	MaxDuration time.Duration `env:"MAX_DURATION" envDefault:"4h"`
	// InactivityWindow is the abandonment cap.
	InactivityWindow time.Duration `env:"INACTIVITY_WINDOW" envDefault:"10m"`
	// MonitorInterval is the watchdog check cadence.
	MonitorInterval time.Duration `env:"MONITOR_INTERVAL" envDefault:"60s"`
	// MinimumBillableMinutes is the billing floor.
	MinimumBillableMinutes int `env:"MINIMUM_BILLABLE_MINUTES" envDefault:"15"`
}

type PaymentConfig struct {
	GatewayURL string        `env:"GATEWAY_URL" envDefault:"http://payments:8000"`
	Timeout    time.Duration `env:"TIMEOUT" envDefault:"10s"`
}

// AMQPConfig configures the refund retry queue. An empty URL disables the
// queue; refund failures are then logged only.
type AMQPConfig struct {
	URL      string `env:"URL"`
	Exchange string `env:"EXCHANGE" envDefault:"greenroom.refund.retry"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP timeouts must be positive")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}
	if c.Database.MigrationsPath == "" {
		return fmt.Errorf("migrations path cannot be empty")
	}
	if c.Session.CredentialSecret == "" {
		return fmt.Errorf("GREENROOM_SESSION_CREDENTIAL_SECRET is required")
	}
	if c.Session.CredentialTTL <= 0 {
		return fmt.Errorf("credential TTL must be positive")
	}
	if c.Session.MaxDuration <= 0 {
		return fmt.Errorf("max session duration must be positive")
	}
	if c.Session.InactivityWindow <= 0 {
		return fmt.Errorf("inactivity window must be positive")
	}
	if c.Session.MonitorInterval <= 0 {
		return fmt.Errorf("monitor interval must be positive")
	}
	if c.Session.MinimumBillableMinutes < 0 {
		return fmt.Errorf("minimum billable minutes cannot be negative")
	}
	if c.Payment.GatewayURL == "" {
		return fmt.Errorf("payment gateway URL cannot be empty")
	}
	if c.Payment.Timeout <= 0 {
		return fmt.Errorf("payment timeout must be positive")
	}
	return nil
}
