package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" json:"server" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" json:"database" validate:"required"`
	Redis     RedisConfig     `mapstructure:"redis" json:"redis" validate:"required"`
	NewRelic  NewRelicConfig  `mapstructure:"newrelic" json:"newrelic"`
	Auth      AuthConfig      `mapstructure:"auth" json:"-" validate:"required"`
	WebSocket WebSocketConfig `mapstructure:"websocket" json:"websocket" validate:"required"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch" json:"dispatch" validate:"required"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port         string        `mapstructure:"port" json:"port" validate:"required,numeric"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" json:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" json:"write_timeout" validate:"gte=0"`
	// ShutdownTimeout bounds the graceful drain on SIGINT/SIGTERM.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" json:"shutdown_timeout" validate:"gt=0"`
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host     string `mapstructure:"host" json:"host" validate:"required"`
	Port     string `mapstructure:"port" json:"port" validate:"required,numeric"`
	User     string `mapstructure:"user" json:"user" validate:"required"`
	Password string `mapstructure:"password" json:"-"`
	DBName   string `mapstructure:"name" json:"name" validate:"required"`
	SSLMode  string `mapstructure:"sslmode" json:"sslmode" validate:"oneof=disable require verify-ca verify-full"`

	MaxOpenConns    int           `mapstructure:"max_open_conns" json:"max_open_conns" validate:"gt=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" json:"max_idle_conns" validate:"gte=0,ltefield=MaxOpenConns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" json:"conn_max_lifetime" validate:"gte=0"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" json:"conn_max_idle_time" validate:"gte=0"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" json:"addr" validate:"required,hostname_port"`
	Password string `mapstructure:"password" json:"-"`
	DB       int    `mapstructure:"db" json:"db" validate:"gte=0"`
}

// NewRelicConfig holds New Relic configuration.
type NewRelicConfig struct {
	AppName    string `mapstructure:"app_name" json:"app_name"`
	LicenseKey string `mapstructure:"license_key" json:"-"`
	Enabled    bool   `mapstructure:"enabled" json:"enabled"`
}

// AuthConfig holds the bearer credential settings.
type AuthConfig struct {
	// JWTSecret is the HS256 shared secret.
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=16"`
	// Issuer, when set, must match the credential's iss claim.
	Issuer string `mapstructure:"issuer"`
}

// WebSocketConfig tunes the realtime transport.
type WebSocketConfig struct {
	ReadBufferSize  int           `mapstructure:"read_buffer_size" json:"read_buffer_size" validate:"gt=0"`
	WriteBufferSize int           `mapstructure:"write_buffer_size" json:"write_buffer_size" validate:"gt=0"`
	MaxMessageSize  int64         `mapstructure:"max_message_size" json:"max_message_size" validate:"gt=0"`
	SendQueueSize   int           `mapstructure:"send_queue_size" json:"send_queue_size" validate:"gt=0"`
	WriteWait       time.Duration `mapstructure:"write_wait" json:"write_wait" validate:"gt=0"`
}

// DispatchConfig tunes matching and the booking state machine.
type DispatchConfig struct {
	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval" json:"heartbeat_interval" validate:"gt=0"`
	PendingTTL          time.Duration `mapstructure:"pending_ttl" json:"pending_ttl" validate:"gt=0"`
	WaitingTick         time.Duration `mapstructure:"waiting_tick" json:"waiting_tick" validate:"gt=0"`
	DriverLockTTL       time.Duration `mapstructure:"driver_lock_ttl" json:"driver_lock_ttl" validate:"gt=0"`
	AverageSpeedKmh     float64       `mapstructure:"average_speed_kmh" json:"average_speed_kmh" validate:"gt=0"`
	DefaultRadiusKm     float64       `mapstructure:"default_radius_km" json:"default_radius_km" validate:"gt=0"`
	PinkCaptainRadiusKm float64       `mapstructure:"pink_captain_radius_km" json:"pink_captain_radius_km" validate:"gt=0"`
	MinKYCLevel         int           `mapstructure:"min_kyc_level" json:"min_kyc_level" validate:"gte=0"`
	IdempotencyTTL      time.Duration `mapstructure:"idempotency_ttl" json:"idempotency_ttl" validate:"gt=0"`
}

// InstallDefaultConfigValues installs default config parameters in viper.
func InstallDefaultConfigValues(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "recovery")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("newrelic.app_name", "recovery-dispatch")
	v.SetDefault("newrelic.license_key", "")
	v.SetDefault("newrelic.enabled", false)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "")

	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 1024)
	v.SetDefault("websocket.max_message_size", 64*1024)
	v.SetDefault("websocket.send_queue_size", 256)
	v.SetDefault("websocket.write_wait", 10*time.Second)

	v.SetDefault("dispatch.heartbeat_interval", 30*time.Second)
	v.SetDefault("dispatch.pending_ttl", 5*time.Minute)
	v.SetDefault("dispatch.waiting_tick", time.Minute)
	v.SetDefault("dispatch.driver_lock_ttl", 30*time.Second)
	v.SetDefault("dispatch.average_speed_kmh", 40.0)
	v.SetDefault("dispatch.default_radius_km", 5.0)
	v.SetDefault("dispatch.pink_captain_radius_km", 50.0)
	v.SetDefault("dispatch.min_kyc_level", 1)
	v.SetDefault("dispatch.idempotency_ttl", 10*time.Minute)
}

// Load reads defaults, the optional config file and environment overrides
// (e.g. DISPATCH_PENDING_TTL), then validates the result.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	InstallDefaultConfigValues(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
