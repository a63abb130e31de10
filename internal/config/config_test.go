package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Geofence.Cooldown)
	assert.Equal(t, 100.0, cfg.Geofence.PickupRadiusMeters)
	assert.Equal(t, 3*time.Second, cfg.ETA.ProviderTimeout)
	assert.Equal(t, "redis", cfg.Dispatch.IndexBackend)
	assert.Equal(t, 32, cfg.Tracking.SubscriberBuffer)
	assert.False(t, cfg.App.IsProd())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("GEOFENCE_COOLDOWN", "8s")
	t.Setenv("REDIS_ADDR", "redis:6380")
	t.Setenv("DISPATCH_INDEX_BACKEND", "memory")
	t.Setenv("APP_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8*time.Second, cfg.Geofence.Cooldown)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, "memory", cfg.Dispatch.IndexBackend)
	assert.True(t, cfg.App.IsProd())
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ridetrack.yaml")
	content := []byte("geofence:\n  pickup_radius_meters: 250\neta:\n  provider_url: http://routing.local\n")
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 250.0, cfg.Geofence.PickupRadiusMeters)
	assert.Equal(t, "http://routing.local", cfg.ETA.ProviderURL)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", cfg.DSN())
}
