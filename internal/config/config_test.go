package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DevelopmentDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/ledger?sslmode=disable")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, StorageDriverPostgres, cfg.StorageDriver)
	assert.Equal(t, EventsDriverLog, cfg.EventsDriver)
	assert.Equal(t, "USD", cfg.Currency)
	assert.Equal(t, "0.05", cfg.PlatformFeeRate.String())
	assert.NotEmpty(t, cfg.JWTSecret)
	assert.NotEmpty(t, cfg.GatewayWebhookSecret)
	assert.Equal(t, 10*time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, 200, cfg.ReconcileBatch)
	assert.Equal(t, "postgres://u:p@db:5432/ledger?sslmode=disable", cfg.DatabaseURL)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoad_CurrencyNormalized(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("CURRENCY", " eur ")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "EUR", cfg.Currency)
}

func TestLoad_InvalidCurrency(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("CURRENCY", "dollars")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CURRENCY")
}

func TestLoad_ProductionRequiresSecrets(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://market.example")
	t.Setenv("PLATFORM_ACCOUNT_ID", "5f0c5b8e-6a43-4c1e-9d6f-0a1b2c3d4e5f")
	t.Setenv("JWT_SECRET", "short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestLoad_EventsDriverNeedsTransport(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("EVENTS_DRIVER", "kafka")
	t.Setenv("KAFKA_BROKERS", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KAFKA_BROKERS")
}

func TestLoad_ParsesLists(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("EVENTS_DRIVER", "kafka")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example ,https://b.example")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestDatabaseURLFromParts(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("POSTGRESQL_HOST", "pg")
	t.Setenv("POSTGRESQL_USER", "ledger")
	t.Setenv("POSTGRESQL_PASSWORD", "p@ss")
	t.Setenv("POSTGRESQL_DBNAME", "escrow")

	assert.Equal(t, "postgres://ledger:p%40ss@pg:5432/escrow?sslmode=disable", getDatabaseURL())
}
