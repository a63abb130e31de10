package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"db"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NewRelic NewRelicConfig `mapstructure:"new_relic"`
	Tracking TrackingConfig `mapstructure:"tracking"`
	Geofence GeofenceConfig `mapstructure:"geofence"`
	ETA      ETAConfig      `mapstructure:"eta"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
}

// AppConfig identifies the running service.
type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

// IsProd reports whether the service runs in production mode.
func (c AppConfig) IsProd() bool {
	return c.Env == "production"
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// Sample ingestion limit per driver.
	SamplesPerSecond int `mapstructure:"samples_per_second"`
	SampleBurst      int `mapstructure:"sample_burst"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	// AutoMigrate creates missing tables at startup.
	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string `mapstructure:"app_name"`
	LicenseKey string `mapstructure:"license_key"`
	Enabled    bool   `mapstructure:"enabled"`
}

// TrackingConfig holds location channel and session settings.
type TrackingConfig struct {
	// SampleStore selects the durable sample log: "postgres" or "redis".
	SampleStore string `mapstructure:"sample_store"`
	// Transport enables the Redis realtime transport when true.
	Transport         bool          `mapstructure:"transport"`
	SubscriberBuffer  int           `mapstructure:"subscriber_buffer"`
	PersistenceBuffer int           `mapstructure:"persistence_buffer"`
	StoreTimeout      time.Duration `mapstructure:"store_timeout"`
	StoreRetryBackoff time.Duration `mapstructure:"store_retry_backoff"`
	ReconnectBackoff  time.Duration `mapstructure:"reconnect_backoff"`
	ReconnectMaxWait  time.Duration `mapstructure:"reconnect_max_wait"`
}

// GeofenceConfig holds zone derivation and de-duplication settings.
type GeofenceConfig struct {
	Cooldown                time.Duration `mapstructure:"cooldown"`
	PickupRadiusMeters      float64       `mapstructure:"pickup_radius_meters"`
	DestinationRadiusMeters float64       `mapstructure:"destination_radius_meters"`
	AirportEnabled          bool          `mapstructure:"airport_enabled"`
	AirportLat              float64       `mapstructure:"airport_lat"`
	AirportLng              float64       `mapstructure:"airport_lng"`
	AirportRadiusMeters     float64       `mapstructure:"airport_radius_meters"`
}

// ETAConfig holds routing provider settings.
type ETAConfig struct {
	ProviderURL     string        `mapstructure:"provider_url"`
	ProviderAPIKey  string        `mapstructure:"provider_api_key"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
	// Consecutive failures before the circuit breaker opens.
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
}

// DispatchConfig holds driver discovery settings.
type DispatchConfig struct {
	// IndexBackend selects the geospatial driver index: "redis" or "memory".
	IndexBackend      string        `mapstructure:"index_backend"`
	DefaultRadiusKm   float64       `mapstructure:"default_radius_km"`
	QueryTimeout      time.Duration `mapstructure:"query_timeout"`
	QueryRetryBackoff time.Duration `mapstructure:"query_retry_backoff"`
}

// Load reads configuration from defaults, an optional file named by CONFIG_FILE,
// and environment variables (db.host -> DB_HOST).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("config_file", "")

	v.SetDefault("app.name", "ridetrack")
	v.SetDefault("app.env", "development")
	v.SetDefault("log.level", "info")

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", time.Duration(0)) // SSE streams are long-lived
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.samples_per_second", 5)
	v.SetDefault("server.sample_burst", 10)

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.name", "ride_hailing")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.max_open_conns", 50)
	v.SetDefault("db.max_idle_conns", 25)
	v.SetDefault("db.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("db.auto_migrate", false)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("new_relic.app_name", "ridetrack")
	v.SetDefault("new_relic.license_key", "")
	v.SetDefault("new_relic.enabled", false)

	v.SetDefault("tracking.sample_store", "postgres")
	v.SetDefault("tracking.transport", true)
	v.SetDefault("tracking.subscriber_buffer", 32)
	v.SetDefault("tracking.persistence_buffer", 1024)
	v.SetDefault("tracking.store_timeout", 2*time.Second)
	v.SetDefault("tracking.store_retry_backoff", 100*time.Millisecond)
	v.SetDefault("tracking.reconnect_backoff", 500*time.Millisecond)
	v.SetDefault("tracking.reconnect_max_wait", 15*time.Second)

	v.SetDefault("geofence.cooldown", 5*time.Second)
	v.SetDefault("geofence.pickup_radius_meters", 100.0)
	v.SetDefault("geofence.destination_radius_meters", 150.0)
	v.SetDefault("geofence.airport_enabled", false)
	v.SetDefault("geofence.airport_lat", 0.0)
	v.SetDefault("geofence.airport_lng", 0.0)
	v.SetDefault("geofence.airport_radius_meters", 2000.0)

	v.SetDefault("eta.provider_url", "")
	v.SetDefault("eta.provider_api_key", "")
	v.SetDefault("eta.provider_timeout", 3*time.Second)
	v.SetDefault("eta.breaker_failures", 5)
	v.SetDefault("eta.breaker_cooldown", 30*time.Second)

	v.SetDefault("dispatch.index_backend", "redis")
	v.SetDefault("dispatch.default_radius_km", 5.0)
	v.SetDefault("dispatch.query_timeout", 2*time.Second)
	v.SetDefault("dispatch.query_retry_backoff", 100*time.Millisecond)
}
