// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Public URLs used in provider requests (checkout return/cancel pages,
	// webhook notification URLs)
	FrontendURL string
	BackendURL  string

	// Invoice lifecycle
	InvoiceTTL       time.Duration // how long a payment link stays payable
	SweepInterval    time.Duration // expiration sweep period; 0 disables the sweeper
	PaidAfterExpired string        // "reject" or "accept": late PAID webhook for a swept invoice

	// Provider tolerance defaults in basis points of the invoice amount.
	// Per-method config overrides these.
	FiatToleranceBps   int
	CryptoToleranceBps int

	// Outbound provider calls
	ProviderTimeout time.Duration

	// Security
	RateLimitRPS int

	// Tracing
	OTLPEndpoint string
}

const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultFrontendURL   = "http://localhost:3000"
	DefaultBackendURL    = "http://localhost:8080"
	DefaultInvoiceTTL    = 24 * time.Hour
	DefaultSweepInterval = 5 * time.Minute
	DefaultRateLimit     = 100

	// Crypto settlements absorb conversion slippage; fiat checkouts settle
	// the exact amount.
	DefaultFiatToleranceBps   = 0
	DefaultCryptoToleranceBps = 50

	DefaultProviderTimeout = 15 * time.Second
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", DefaultPort),
		Env:                getEnv("ENV", DefaultEnv),
		LogLevel:           getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:        os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		FrontendURL:        getEnv("RENTALS_FRONT_URL", DefaultFrontendURL),
		BackendURL:         getEnv("RENTALS_BACK_URL", DefaultBackendURL),
		InvoiceTTL:         getEnvDuration("INVOICE_TTL", DefaultInvoiceTTL),
		SweepInterval:      getEnvDuration("SWEEP_INTERVAL", DefaultSweepInterval),
		PaidAfterExpired:   getEnv("PAID_AFTER_EXPIRED", "reject"),
		FiatToleranceBps:   int(getEnvInt64("FIAT_TOLERANCE_BPS", DefaultFiatToleranceBps)),
		CryptoToleranceBps: int(getEnvInt64("CRYPTO_TOLERANCE_BPS", DefaultCryptoToleranceBps)),
		ProviderTimeout:    getEnvDuration("PROVIDER_TIMEOUT", DefaultProviderTimeout),
		RateLimitRPS:       int(getEnvInt64("RATE_LIMIT_RPS", DefaultRateLimit)),
		OTLPEndpoint:       os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.InvoiceTTL <= 0 {
		return fmt.Errorf("INVOICE_TTL must be positive")
	}
	if c.PaidAfterExpired != "reject" && c.PaidAfterExpired != "accept" {
		return fmt.Errorf("PAID_AFTER_EXPIRED must be \"reject\" or \"accept\", got %q", c.PaidAfterExpired)
	}
	if c.FiatToleranceBps < 0 || c.CryptoToleranceBps < 0 {
		return fmt.Errorf("tolerance basis points must not be negative")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
