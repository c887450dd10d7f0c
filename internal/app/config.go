package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage      string `default:"postgres" usage:"Order and catalog storage: postgres or memory"`
	SeedFile     string `default:"db/seed/products.json" usage:"Products loaded into memory storage at startup" flag:"seed-file"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	SiteURL      string `usage:"Public base URL used for payment return and webhook URLs" flag:"site-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing" flag:"api-key-pepper"`
	AdminAPIKey  string `usage:"Admin API key registered in memory storage" flag:"admin-api-key"`
	Gateway      GatewayConfig
	Pricing      PricingConfig
	Watch        WatchConfig
	Handoff      HandoffConfig
	Cache        CacheConfig
	Redis        RedisConfig
	Kafka        KafkaConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// GatewayConfig configures the Mercado Pago client and webhook verification.
type GatewayConfig struct {
	BaseURL       string        `default:"https://api.mercadopago.com" usage:"Gateway API base URL" flag:"gateway-base-url"`
	AccessToken   string        `usage:"Gateway access token" flag:"gateway-access-token"`
	WebhookSecret string        `usage:"Webhook signing secret; verification is skipped when empty" flag:"gateway-webhook-secret"`
	Timeout       time.Duration `default:"10s" usage:"Timeout of a single gateway request"`
	FetchRetries  int           `default:"3" usage:"Attempts per gateway call" flag:"gateway-fetch-retries"`
	Sandbox       bool          `default:"false" usage:"Redirect buyers to the sandbox checkout"`
}

type PricingConfig struct {
	Tolerance string `default:"0.01" usage:"Accepted difference between client and catalog unit prices"`
}

type WatchConfig struct {
	PollInterval time.Duration `default:"5s" usage:"Fallback poll interval of order event streams" flag:"watch-poll-interval"`
}

type HandoffConfig struct {
	WhatsAppNumber string        `usage:"Shop WhatsApp number, digits only" flag:"whatsapp-number"`
	Countdown      time.Duration `default:"5s" usage:"Delay before the buyer is redirected" flag:"handoff-countdown"`
}

type CacheConfig struct {
	SweepInterval time.Duration `default:"1m" usage:"Expired entry sweep interval" flag:"cache-sweep-interval"`
	ProductTTL    time.Duration `default:"30s" usage:"Product cache TTL" flag:"cache-product-ttl"`
	SettingsTTL   time.Duration `default:"5m" usage:"Settings cache TTL" flag:"cache-settings-ttl"`
}

// RedisConfig enables the shared webhook dedupe store. Dedupe is process
// local when Addr is empty.
type RedisConfig struct {
	Addr      string        `usage:"Redis address (host:port)" flag:"redis-addr"`
	Password  string        `usage:"Redis password" flag:"redis-password"`
	DB        int           `default:"0" usage:"Redis database" flag:"redis-db"`
	DedupeTTL time.Duration `default:"24h" usage:"How long a webhook delivery id is remembered" flag:"redis-dedupe-ttl"`
}

// KafkaConfig enables order event publishing. Events are only logged when
// Brokers is empty.
type KafkaConfig struct {
	Brokers []string `usage:"Kafka brokers" flag:"kafka-brokers"`
	Topic   string   `default:"shop.orders" usage:"Order events topic" flag:"kafka-topic"`
	// PublishTimeout bounds each publish after an approval.
	PublishTimeout time.Duration `default:"5s" usage:"Order event publish timeout" flag:"kafka-publish-timeout"`
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
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/shop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
		}
	case StorageMemory:
	default:
		return errors.Errorf("unknown storage %q", c.Storage)
	}
	if c.SiteURL == "" {
		return errors.New("site URL is required: set SHOP_SITE_URL")
	}
	if c.Gateway.AccessToken == "" {
		return errors.New("gateway access token is required: set SHOP_GATEWAY_ACCESS_TOKEN")
	}
	if _, err := c.PriceTolerance(); err != nil {
		return err
	}
	return nil
}

// PriceTolerance parses Pricing.Tolerance.
func (c *Config) PriceTolerance() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.Pricing.Tolerance)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "parse price tolerance")
	}
	if d.IsNegative() {
		return decimal.Zero, errors.New("price tolerance must not be negative")
	}
	return d, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = os.Getenv("REDIS_ADDR")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
