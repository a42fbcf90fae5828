package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/utafrali/marketplace/pkg/database"
	pkgconfig "github.com/utafrali/marketplace/pkg/config"
	"github.com/utafrali/marketplace/pkg/httpclient"
	"github.com/utafrali/marketplace/pkg/middleware"
	"github.com/utafrali/marketplace/pkg/tracing"
)

// Backend and provider modes.
const (
	ModeMock     = "mock"
	ModeHTTP     = "http"
	StoreMemory  = "memory"
	StoreRedis   = "redis"
	StorePostgre = "postgres"
)

// Config holds all configuration for the marketplace server.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Version     string `env:"SERVICE_VERSION" envDefault:"dev"`

	// HTTP server
	HTTPPort            int           `env:"HTTP_PORT" envDefault:"8080"`
	HTTPReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	HTTPWriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	HTTPShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// Identity
	JWTSecret string   `env:"JWT_SECRET,required"`
	AdminIDs  []string `env:"ADMIN_IDS" envSeparator:","`

	// Payment provider
	PaymentMode         string        `env:"PAYMENT_MODE" envDefault:"mock"`
	PaymentURL          string        `env:"PAYMENT_URL"`
	PaymentDeclineAbove int64         `env:"PAYMENT_DECLINE_ABOVE" envDefault:"0"`
	PaymentMockLatency  time.Duration `env:"PAYMENT_MOCK_LATENCY" envDefault:"0s"`

	// Supply provider
	SupplyMode         string        `env:"SUPPLY_MODE" envDefault:"mock"`
	SupplyURL          string        `env:"SUPPLY_URL"`
	SupplyFailProducts []string      `env:"SUPPLY_FAIL_PRODUCTS" envSeparator:","`
	SupplyMockLatency  time.Duration `env:"SUPPLY_MOCK_LATENCY" envDefault:"0s"`

	// Outbound HTTP and circuit breaker for http providers
	ProviderHTTPTimeout time.Duration `env:"PROVIDER_HTTP_TIMEOUT" envDefault:"10s"`
	ProviderMaxRetries  int           `env:"PROVIDER_MAX_RETRIES" envDefault:"2"`
	CBMaxRequests       uint32        `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval          time.Duration `env:"CB_INTERVAL" envDefault:"60s"`
	CBTimeout           time.Duration `env:"CB_TIMEOUT" envDefault:"30s"`
	CBFailureRatio      float64       `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests       uint32        `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// Per-step checkout timeouts
	SagaPaymentTimeout time.Duration `env:"SAGA_PAYMENT_TIMEOUT" envDefault:"10s"`
	SagaSupplyTimeout  time.Duration `env:"SAGA_SUPPLY_TIMEOUT" envDefault:"10s"`

	// Cart store
	CartStore string        `env:"CART_STORE" envDefault:"memory"`
	CartTTL   time.Duration `env:"CART_TTL" envDefault:"168h"`

	// Purchase archive
	PurchaseStore      string        `env:"PURCHASE_STORE" envDefault:"memory"`
	PostgresHost       string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort       int           `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser       string        `env:"POSTGRES_USER" envDefault:"marketplace"`
	PostgresPass       string        `env:"POSTGRES_PASSWORD" envDefault:"marketplace"`
	PostgresDB         string        `env:"POSTGRES_DB" envDefault:"marketplace"`
	PostgresSSL        string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	DBMaxConns         int32         `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns         int32         `env:"DB_MIN_CONNS" envDefault:"2"`
	SlowQueryThreshold time.Duration `env:"LOG_SLOW_QUERY" envDefault:"500ms"`

	// Redis
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka. Notifications are only logged when no brokers are set.
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Rate limiting per client
	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"40"`

	// Housekeeping
	ReservationPruneInterval time.Duration `env:"RESERVATION_PRUNE_INTERVAL" envDefault:"5m"`
	ReservationRetention     time.Duration `env:"RESERVATION_RETENTION" envDefault:"1h"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load marketplace config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 bytes")
	}

	for name, p := range map[string]struct{ mode, url string }{
		"PAYMENT": {c.PaymentMode, c.PaymentURL},
		"SUPPLY":  {c.SupplyMode, c.SupplyURL},
	} {
		switch p.mode {
		case ModeMock:
		case ModeHTTP:
			if _, err := url.ParseRequestURI(p.url); err != nil {
				return fmt.Errorf("invalid %s_URL %q: %w", name, p.url, err)
			}
		default:
			return fmt.Errorf("%s_MODE must be %q or %q, got %q", name, ModeMock, ModeHTTP, p.mode)
		}
	}

	if c.CartStore != StoreMemory && c.CartStore != StoreRedis {
		return fmt.Errorf("CART_STORE must be %q or %q, got %q", StoreMemory, StoreRedis, c.CartStore)
	}
	if c.PurchaseStore != StoreMemory && c.PurchaseStore != StorePostgre {
		return fmt.Errorf("PURCHASE_STORE must be %q or %q, got %q", StoreMemory, StorePostgre, c.PurchaseStore)
	}
	if c.PurchaseStore == StorePostgre && (c.PostgresHost == "" || c.PostgresUser == "") {
		return fmt.Errorf("POSTGRES_HOST and POSTGRES_USER are required for the postgres purchase store")
	}

	if c.SagaPaymentTimeout <= 0 || c.SagaSupplyTimeout <= 0 {
		return fmt.Errorf("saga timeouts must be positive")
	}
	if c.CBFailureRatio <= 0 || c.CBFailureRatio > 1 {
		return fmt.Errorf("CB_FAILURE_RATIO must be in (0, 1], got %f", c.CBFailureRatio)
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	if c.ReservationPruneInterval <= 0 {
		return fmt.Errorf("RESERVATION_PRUNE_INTERVAL must be positive")
	}
	return nil
}

// Postgres returns the purchase archive pool settings.
func (c *Config) Postgres() database.PostgresConfig {
	pg := database.DefaultPostgresConfig()
	pg.Host, pg.Port = c.PostgresHost, c.PostgresPort
	pg.User, pg.Password = c.PostgresUser, c.PostgresPass
	pg.DBName, pg.SSLMode = c.PostgresDB, c.PostgresSSL
	pg.MaxConns, pg.MinConns = c.DBMaxConns, c.DBMinConns
	return pg
}

// Redis returns the cart store connection settings.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{Host: c.RedisHost, Port: c.RedisPort, Password: c.RedisPassword, DB: c.RedisDB}
}

// ProviderHTTP returns the outbound client settings for http providers.
func (c *Config) ProviderHTTP() httpclient.Config {
	hc := httpclient.DefaultConfig()
	hc.Timeout = c.ProviderHTTPTimeout
	hc.MaxRetries = c.ProviderMaxRetries
	return hc
}

// CircuitBreaker returns breaker settings for the named provider.
func (c *Config) CircuitBreaker(name string) httpclient.CircuitBreakerConfig {
	return httpclient.CircuitBreakerConfig{
		Name:         name,
		MaxRequests:  c.CBMaxRequests,
		Interval:     c.CBInterval,
		Timeout:      c.CBTimeout,
		FailureRatio: c.CBFailureRatio,
		MinRequests:  c.CBMinRequests,
	}
}

// Tracing returns the OpenTelemetry settings.
func (c *Config) Tracing() tracing.Config {
	return tracing.Config{
		ServiceName:    "marketplace",
		ServiceVersion: c.Version,
		Environment:    c.Environment,
		OTLPEndpoint:   c.OTELEndpoint,
		SampleRate:     c.OTELSampleRate,
		Enabled:        c.OTELEnabled,
	}
}

// RateLimit returns the per-client request budget.
func (c *Config) RateLimit() middleware.RateLimitConfig {
	return middleware.RateLimitConfig{RequestsPerSecond: c.RateLimitRPS, Burst: c.RateLimitBurst}
}
