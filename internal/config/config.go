package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type APIConfig struct {
	Port int    `yaml:"port"`
	Key  string `yaml:"key"` // bearer token for the admin/engine API
}

type GatewayConfig struct {
	Provider string `yaml:"provider"` // stripe | noop
	Stripe   struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"stripe"`
}

type WebhookConfig struct {
	Endpoints     []string      `yaml:"endpoints"`
	SigningSecret string        `yaml:"signing_secret"`
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseBackoff   time.Duration `yaml:"base_backoff"`
	Timeout       time.Duration `yaml:"timeout"`
}

type BillingConfig struct {
	BoundarySweepInterval time.Duration `yaml:"boundary_sweep_interval"`
	DunningSweepInterval  time.Duration `yaml:"dunning_sweep_interval"`
	WebhookSweepInterval  time.Duration `yaml:"webhook_sweep_interval"`
	SweepBatchSize        int           `yaml:"sweep_batch_size"`
	TaxRateBps            int64         `yaml:"tax_rate_bps"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	API      APIConfig      `yaml:"api"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Billing  BillingConfig  `yaml:"billing"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads the yaml config named by -config (or CONFIG_PATH), applies
// env fallbacks for secrets, and validates the result.
func LoadConfig() (*Config, error) {
	path := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config yaml")
	dev := flag.Bool("dev", false, "development mode (console logs, no sampling)")
	flag.Parse()

	if *path == "" {
		return nil, errors.New("config path is required (-config or CONFIG_PATH)")
	}
	raw, err := os.ReadFile(*path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Runtime.Dev = *dev

	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}
	if cfg.Gateway.Stripe.APIKey == "" {
		cfg.Gateway.Stripe.APIKey = os.Getenv("STRIPE_API_KEY")
	}
	if cfg.Webhook.SigningSecret == "" {
		cfg.Webhook.SigningSecret = os.Getenv("WEBHOOK_SIGNING_SECRET")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		API: APIConfig{Port: 8080},
		Webhook: WebhookConfig{
			MaxAttempts: 8,
			BaseBackoff: 30 * time.Second,
			Timeout:     10 * time.Second,
		},
		Billing: BillingConfig{
			BoundarySweepInterval: time.Minute,
			DunningSweepInterval:  time.Minute,
			WebhookSweepInterval:  15 * time.Second,
			SweepBatchSize:        200,
		},
	}
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Gateway.Provider == "stripe" && c.Gateway.Stripe.APIKey == "" {
		return errors.New("gateway.stripe.api_key is required for the stripe provider")
	}
	return nil
}
