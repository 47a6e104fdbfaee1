package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfigYAML = `
app:
  name: test
  environment: development
database:
  path: /tmp/test.db
providers:
  paymongo:
    secret_key: sk_test_abc
    webhook_secret: whsk_test_abc
  paypal:
    client_id: pp-client
    client_secret: pp-secret
    webhook_id: wh-1
booking:
  deposit_amount: 300
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfigYAML))
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test.db", cfg.Database.Path)
	assert.Equal(t, 300.0, cfg.Booking.DepositAmount)
	assert.False(t, cfg.App.Production())
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfigYAML))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "x-api-key", cfg.API.Auth.HeaderAPIKey)
	assert.Equal(t, "https://api.paymongo.com/v1", cfg.Providers.PayMongo.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.Providers.PayPal.Timeout)
	assert.Equal(t, "PHP", cfg.Booking.Currency)
	assert.Equal(t, 24*time.Hour, cfg.Booking.AutoCancelAfter)
	assert.Equal(t, "@every 15m", cfg.Booking.AutoCancelSchedule)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_PM_SECRET", "sk_test_from_env")
	content := `
app:
  environment: development
database:
  path: /tmp/test.db
providers:
  paymongo:
    secret_key: ${TEST_PM_SECRET}
    webhook_secret: whsk_test_abc
  paypal:
    client_id: pp-client
    client_secret: pp-secret
    webhook_id: wh-1
booking:
  deposit_amount: 300
`
	cfg, err := Load(writeConfig(t, content))
	require.NoError(t, err)
	assert.Equal(t, "sk_test_from_env", cfg.Providers.PayMongo.SecretKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(writeConfig(t, validConfigYAML))
		require.NoError(t, err)
		return cfg
	}

	t.Run("missing database path", func(t *testing.T) {
		cfg := base()
		cfg.Database.Path = ""
		assert.ErrorContains(t, cfg.Validate(), "database path")
	})

	t.Run("placeholder paymongo key", func(t *testing.T) {
		cfg := base()
		cfg.Providers.PayMongo.SecretKey = "YOUR_PAYMONGO_SECRET_KEY"
		assert.ErrorContains(t, cfg.Validate(), "paymongo secret key")
	})

	t.Run("missing webhook secret", func(t *testing.T) {
		cfg := base()
		cfg.Providers.PayMongo.WebhookSecret = ""
		assert.ErrorContains(t, cfg.Validate(), "webhook secret")
	})

	t.Run("missing paypal credentials", func(t *testing.T) {
		cfg := base()
		cfg.Providers.PayPal.ClientSecret = ""
		assert.ErrorContains(t, cfg.Validate(), "paypal")
	})

	t.Run("non-positive deposit", func(t *testing.T) {
		cfg := base()
		cfg.Booking.DepositAmount = 0
		assert.ErrorContains(t, cfg.Validate(), "deposit_amount")
	})
}

func TestValidate_ProductionRefusesEscapeHatches(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfigYAML))
	require.NoError(t, err)
	cfg.App.Environment = "production"
	require.NoError(t, cfg.Validate())

	cfg.API.AllowInvalidSignatures = true
	assert.ErrorContains(t, cfg.Validate(), "allow_invalid_signatures")

	cfg.API.AllowInvalidSignatures = false
	cfg.Providers.PayMongo.AllowUnverifiedSources = true
	assert.ErrorContains(t, cfg.Validate(), "allow_unverified_sources")
}

func TestProductionFlag(t *testing.T) {
	assert.True(t, AppConfig{Environment: "Production"}.Production())
	assert.True(t, AppConfig{Environment: " production "}.Production())
	assert.False(t, AppConfig{Environment: "staging"}.Production())
	assert.False(t, AppConfig{}.Production())
}
