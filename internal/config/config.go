package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Booking    BookingConfig    `yaml:"booking"`
	API        APIConfig        `yaml:"api"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	Google     GoogleConfig     `yaml:"google"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

// Production reports whether the process runs against live provider traffic.
// Several escape hatches (signature leniency, unverified sources) are refused
// in production by Validate.
func (a AppConfig) Production() bool {
	return strings.EqualFold(strings.TrimSpace(a.Environment), "production")
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type ProvidersConfig struct {
	PayMongo PayMongoConfig `yaml:"paymongo"`
	PayPal   PayPalConfig   `yaml:"paypal"`
}

type PayMongoConfig struct {
	BaseURL       string `yaml:"base_url"`
	SecretKey     string `yaml:"secret_key"`
	PublicKey     string `yaml:"public_key"`
	WebhookSecret string `yaml:"webhook_secret"`
	// AllowUnverifiedSources accepts source.chargeable deliveries without a
	// signature header. The provider offers no signing scheme for sources;
	// leaving this off requires the shared webhook secret on that endpoint too.
	AllowUnverifiedSources bool          `yaml:"allow_unverified_sources"`
	Timeout                time.Duration `yaml:"timeout"`
}

type PayPalConfig struct {
	BaseURL      string        `yaml:"base_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	WebhookID    string        `yaml:"webhook_id"`
	Timeout      time.Duration `yaml:"timeout"`
}

type BookingConfig struct {
	// DepositAmount is the fixed deposit for all rentals. The sources flow has
	// no deposit discriminator on the wire, so amounts equal to this constant
	// are classified as deposits unless the source metadata says otherwise.
	DepositAmount   float64       `yaml:"deposit_amount"`
	Currency        string        `yaml:"currency"`
	AutoCancelAfter time.Duration `yaml:"auto_cancel_after"`
	// AutoCancelSchedule is a cron spec for the stale-booking sweep.
	AutoCancelSchedule string `yaml:"auto_cancel_schedule"`
}

type APIConfig struct {
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
	// AllowInvalidSignatures logs webhook signature failures instead of
	// rejecting them. Never honored in production.
	AllowInvalidSignatures bool `yaml:"allow_invalid_signatures"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type AlertsConfig struct {
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   int64  `yaml:"telegram_chat_id"`
}

type GoogleConfig struct {
	CredentialsFile      string `yaml:"credentials_file"`
	LedgerSpreadsheetID  string `yaml:"ledger_spreadsheet_id"`
	PayoutsSpreadsheetID string `yaml:"payouts_spreadsheet_id"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional; env vars may come from the environment directly.
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate fails loudly at startup. A missing provider credential must never
// degrade silently into per-request failures.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	pm := c.Providers.PayMongo
	if pm.SecretKey == "" || pm.SecretKey == "YOUR_PAYMONGO_SECRET_KEY" {
		return errors.New("paymongo secret key is required")
	}
	if pm.WebhookSecret == "" {
		return errors.New("paymongo webhook secret is required")
	}

	pp := c.Providers.PayPal
	if pp.ClientID == "" || pp.ClientSecret == "" {
		return errors.New("paypal client id and secret are required")
	}
	if pp.WebhookID == "" {
		return errors.New("paypal webhook id is required")
	}

	if c.Booking.DepositAmount <= 0 {
		return errors.New("booking deposit_amount must be positive")
	}

	if c.App.Production() {
		if c.API.AllowInvalidSignatures {
			return errors.New("api.allow_invalid_signatures must not be set in production")
		}
		if pm.AllowUnverifiedSources {
			return errors.New("providers.paymongo.allow_unverified_sources must not be set in production")
		}
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}

	if c.Providers.PayMongo.BaseURL == "" {
		c.Providers.PayMongo.BaseURL = "https://api.paymongo.com/v1"
	}
	if c.Providers.PayMongo.Timeout == 0 {
		c.Providers.PayMongo.Timeout = 15 * time.Second
	}
	if c.Providers.PayPal.BaseURL == "" {
		c.Providers.PayPal.BaseURL = "https://api-m.paypal.com"
	}
	if c.Providers.PayPal.Timeout == 0 {
		c.Providers.PayPal.Timeout = 15 * time.Second
	}

	if c.Booking.Currency == "" {
		c.Booking.Currency = "PHP"
	}
	if c.Booking.AutoCancelAfter == 0 {
		c.Booking.AutoCancelAfter = 24 * time.Hour
	}
	if c.Booking.AutoCancelSchedule == "" {
		c.Booking.AutoCancelSchedule = "@every 15m"
	}
}
