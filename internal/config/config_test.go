package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		for _, k := range []string{
			"APP_ENV", "PORT", "DB_URL", "MIGRATE_ON_STARTUP", "CARRIER_BASE_URL",
			"CARRIER_CLIENT_ID", "CARRIER_CLIENT_SECRET", "SHIPPER_COUNTRY",
		} {
			if len(kv) >= len(k) && kv[:len(k)] == k {
				os.Unsetenv(k)
			}
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dev", cfg.AppEnv)
	assert.Equal(t, 8080, cfg.Port)
	assert.True(t, cfg.MigrateOnStartup)
	assert.Equal(t, "US", cfg.ShipperCountry)
	assert.Equal(t, 3, cfg.CarrierMaxRetries)
}

func TestIsDevIsProd(t *testing.T) {
	dev := Config{AppEnv: "dev"}
	assert.True(t, dev.IsDev())
	assert.False(t, dev.IsProd())

	prod := Config{AppEnv: "PROD"}
	assert.True(t, prod.IsProd())
	assert.False(t, prod.IsDev())
}

func TestCarrierConfigured(t *testing.T) {
	assert.False(t, Config{}.CarrierConfigured())
	assert.False(t, Config{CarrierClientID: "id"}.CarrierConfigured())
	assert.True(t, Config{CarrierClientID: "id", CarrierClientSecret: "secret"}.CarrierConfigured())
}

func TestEnvironmentShipper(t *testing.T) {
	cfg := Config{
		ShipperName: "Acme", ShipperAddress1: "1 Main St", ShipperCity: "Springfield",
		ShipperState: "IL", ShipperPostalCode: "62704", ShipperCountry: "US", ShipperPhone: "5551234567",
	}
	name, line1, line2, city, state, zip, country, phone := cfg.EnvironmentShipper()
	assert.Equal(t, "Acme", name)
	assert.Equal(t, "1 Main St", line1)
	assert.Equal(t, "", line2)
	assert.Equal(t, "Springfield", city)
	assert.Equal(t, "IL", state)
	assert.Equal(t, "62704", zip)
	assert.Equal(t, "US", country)
	assert.Equal(t, "5551234567", phone)
}
