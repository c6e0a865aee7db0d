package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/checkoutd/checkoutd/internal/domain/order"
)

// Config holds the complete application configuration, loadable from
// environment variables (CHECKOUT_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (CHECKOUT_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Pricing     PricingConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// PricingConfig holds the fee schedule applied at order creation. Monetary
// values are decimal strings to avoid float drift.
type PricingConfig struct {
	Currency           string `default:"USD" usage:"ISO currency code for new orders"`
	TaxRate            string `default:"0.08" usage:"Tax rate as a fraction, e.g. 0.08"`
	StandardFee        string `default:"5.00" usage:"Flat fee for standard shipping" flag:"shipping-standard-fee"`
	ExpressFee         string `default:"15.00" usage:"Flat fee for express shipping" flag:"shipping-express-fee"`
	DefaultShippingFee string `default:"5.00" usage:"Fee for unrecognized shipping methods" flag:"shipping-default-fee"`
}

// RateLimitConfig controls the per-client rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins []string `default:"*" usage:"Allowed CORS origins"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CHECKOUT",
		Files:     []string{"config.yaml", "/etc/checkoutd/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required: set CHECKOUT_DATABASE_URL or DATABASE_URL")
	}

	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT to the CHECKOUT_-prefixed
// configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}

// OrderPricing converts the configured fee schedule into the order service's
// pricing table.
func (c *Config) OrderPricing() (order.Pricing, error) {
	taxRate, err := decimal.NewFromString(c.Pricing.TaxRate)
	if err != nil {
		return order.Pricing{}, errors.Wrap(err, "parse tax rate")
	}
	standard, err := decimal.NewFromString(c.Pricing.StandardFee)
	if err != nil {
		return order.Pricing{}, errors.Wrap(err, "parse standard shipping fee")
	}
	express, err := decimal.NewFromString(c.Pricing.ExpressFee)
	if err != nil {
		return order.Pricing{}, errors.Wrap(err, "parse express shipping fee")
	}
	fallback, err := decimal.NewFromString(c.Pricing.DefaultShippingFee)
	if err != nil {
		return order.Pricing{}, errors.Wrap(err, "parse default shipping fee")
	}

	return order.Pricing{
		ShippingFees: map[string]decimal.Decimal{
			"standard": standard,
			"express":  express,
		},
		DefaultShippingFee: fallback,
		TaxRate:            taxRate,
		Currency:           c.Pricing.Currency,
	}, nil
}
