package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Config holds the complete application configuration, loadable from
// environment variables (CANTEEN_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (CANTEEN_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Store        StoreConfig
	Redis        RedisConfig
	AMQP         AMQPConfig
	Order        OrderConfig
	Cart         CartConfig
	Stream       StreamConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// StoreConfig selects and configures the document store backend.
type StoreConfig struct {
	Driver        string `default:"postgres" usage:"Document store: postgres, mongo or memory"`
	DatabaseURL   string `usage:"PostgreSQL connection URL (CANTEEN_STORE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	MongoURI      string `usage:"MongoDB connection URI" flag:"mongo-uri"`
	MongoDatabase string `default:"canteen" usage:"MongoDB database name" flag:"mongo-database"`
	Breaker       BreakerConfig
}

// BreakerConfig controls the circuit breaker around remote stores.
type BreakerConfig struct {
	MaxFailures uint32        `default:"5"   usage:"Consecutive failures that open the circuit"`
	OpenTimeout time.Duration `default:"10s" usage:"Time the circuit stays open"`
}

// RedisConfig enables the cart cache when Addr is set.
type RedisConfig struct {
	Addr string        `usage:"Redis address for the cart cache (empty disables it)" flag:"redis-addr"`
	TTL  time.Duration `default:"15m" usage:"Base lifetime of cached carts"`
}

// AMQPConfig enables broker notifications when URL is set.
type AMQPConfig struct {
	URL string `usage:"AMQP URL for order notifications (empty disables them)" flag:"amqp-url"`
}

// OrderConfig holds checkout pricing.
type OrderConfig struct {
	TaxRate  string `default:"0.10" usage:"Tax rate applied to order subtotals"`
	Currency string `default:"INR"  usage:"ISO 4217 currency of orders"`
}

// CartConfig controls in-memory cart sessions.
type CartConfig struct {
	IdleTTL       time.Duration `default:"30m" usage:"Idle time after which a cart session is evicted"`
	SweepInterval time.Duration `default:"1m"  usage:"Interval of idle session sweeps"`
}

// StreamConfig controls order event streams.
type StreamConfig struct {
	KeepAlive time.Duration `default:"15s" usage:"Interval of keepalive comments on idle streams"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	return loadConfig(aconfig.Config{
		EnvPrefix: "CANTEEN",
		Files:     []string{"config.yaml", "/etc/canteen/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
}

func loadConfig(ac aconfig.Config) (*Config, error) {
	var cfg Config
	if err := aconfig.LoaderFor(&cfg, ac).Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's CANTEEN_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.Store.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.Store.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return errors.New("database URL is required: set CANTEEN_STORE_DATABASE_URL or DATABASE_URL")
		}
	case DriverMongo:
		if c.Store.MongoURI == "" {
			return errors.New("mongo URI is required: set CANTEEN_STORE_MONGO_URI")
		}
	case DriverMemory:
	default:
		return errors.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Cart.IdleTTL < 0 {
		return errors.Errorf("cart idle TTL %s is negative", c.Cart.IdleTTL)
	}
	if c.Cart.IdleTTL > 0 && c.Cart.SweepInterval <= 0 {
		return errors.Errorf("cart sweep interval %s must be positive when idle TTL is set", c.Cart.SweepInterval)
	}
	if _, err := c.TaxRate(); err != nil {
		return err
	}
	if _, err := currency.ParseISO(c.Order.Currency); err != nil {
		return errors.Wrapf(err, "order currency %q", c.Order.Currency)
	}
	return nil
}

// TaxRate parses Order.TaxRate. It must lie in [0, 1).
func (c *Config) TaxRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.Order.TaxRate)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "order tax rate %q", c.Order.TaxRate)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, errors.Errorf("order tax rate %s out of range [0, 1)", rate)
	}
	return rate, nil
}
