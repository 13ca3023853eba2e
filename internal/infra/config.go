package infra

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Database
	DatabaseURL string `env:"DATABASE_URL"`
	PGHost      string `env:"PGHOST" envDefault:"localhost"`
	PGPort      int    `env:"PGPORT" envDefault:"5432"`
	PGUser      string `env:"PGUSER" envDefault:"carpool"`
	PGPassword  string `env:"PGPASSWORD" envDefault:"carpool"`
	PGDatabase  string `env:"PGDATABASE" envDefault:"carpool"`
	DBMaxConns  int32  `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns  int32  `env:"DB_MIN_CONNS" envDefault:"2"`

	// Redis; empty disables the shared payout rate limiter
	RedisURL string `env:"REDIS_URL"`

	// JWT
	JWTSecret string `env:"JWT_SECRET" envDefault:"change-me-in-production"`

	// Server
	APIPort     int `env:"API_PORT" envDefault:"3000"`
	MetricsPort int `env:"METRICS_PORT" envDefault:"9100"`

	// Kafka
	KafkaBrokers string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled bool   `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaTopic   string `env:"KAFKA_TOPIC" envDefault:"carpool.wallet.events"`

	// CORS
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`

	// Dev
	AllowInsecureDefaults bool `env:"ALLOW_INSECURE_DEFAULTS" envDefault:"false"`

	// Payment provider
	StripeSecretKey     string        `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string        `env:"STRIPE_WEBHOOK_SECRET"`
	StripeAPIBase       string        `env:"STRIPE_API_BASE" envDefault:"https://api.stripe.com"`
	ProviderTimeout     time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`
	CheckoutSuccessURL  string        `env:"CHECKOUT_SUCCESS_URL" envDefault:"http://localhost:5173/wallet?status=success"`
	CheckoutCancelURL   string        `env:"CHECKOUT_CANCEL_URL" envDefault:"http://localhost:5173/wallet?status=cancel"`

	// Ledger
	CommissionRate  string `env:"COMMISSION_RATE" envDefault:"0.10"`
	PlatformUserID  string `env:"PLATFORM_USER_ID"`
	DefaultCurrency string `env:"DEFAULT_CURRENCY" envDefault:"EUR"`

	// Payout policy, minor units
	PayoutMinAmount   int64         `env:"PAYOUT_MIN_AMOUNT" envDefault:"500"`
	PayoutMaxAmount   int64         `env:"PAYOUT_MAX_AMOUNT" envDefault:"500000"`
	PayoutDailyMax    int64         `env:"PAYOUT_DAILY_MAX" envDefault:"1000000"`
	PayoutRateLimit   int           `env:"PAYOUT_RATE_LIMIT" envDefault:"5"`
	PayoutRateWindow  time.Duration `env:"PAYOUT_RATE_WINDOW" envDefault:"1m"`
	BreakerThreshold  int           `env:"PROVIDER_BREAKER_THRESHOLD" envDefault:"5"`
	BreakerResetAfter time.Duration `env:"PROVIDER_BREAKER_RESET" envDefault:"30s"`

	// Reconciliation sweep
	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	SweepStaleAfter  time.Duration `env:"SWEEP_STALE_AFTER" envDefault:"15m"`
	SweepBatchSize   int           `env:"SWEEP_BATCH_SIZE" envDefault:"50"`
	EventMaxAttempts int           `env:"EVENT_MAX_ATTEMPTS" envDefault:"5"`
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks for configuration that must not run in production.
// Set ALLOW_INSECURE_DEFAULTS=true to bypass the secret and platform checks (local dev only).
func (c *Config) Validate() error {
	if _, err := c.Commission(); err != nil {
		return err
	}
	if c.AllowInsecureDefaults {
		return nil
	}
	if c.JWTSecret == "change-me-in-production" {
		return fmt.Errorf("JWT_SECRET is set to the insecure default; set a strong secret or set ALLOW_INSECURE_DEFAULTS=true for local dev")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET is too short (%d chars); minimum 32 characters required", len(c.JWTSecret))
	}
	if _, err := c.PlatformUser(); err != nil {
		return err
	}
	return nil
}

// Commission parses COMMISSION_RATE; it must lie in [0, 1].
func (c *Config) Commission() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.CommissionRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("COMMISSION_RATE %q is not a decimal: %w", c.CommissionRate, err)
	}
	if rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("COMMISSION_RATE %s must be between 0 and 1", rate)
	}
	return rate, nil
}

// PlatformUser parses PLATFORM_USER_ID, the user that receives commissions.
func (c *Config) PlatformUser() (uuid.UUID, error) {
	id, err := uuid.Parse(c.PlatformUserID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("PLATFORM_USER_ID %q is not a uuid: %w", c.PlatformUserID, err)
	}
	return id, nil
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}
