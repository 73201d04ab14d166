package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Authz         AuthzConfig
	Invitations   InvitationsConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration for the decision cache. An empty URL
// disables caching; the engine evaluates every check directly.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

// AuthzConfig holds authorization engine settings
type AuthzConfig struct {
	CacheTTL time.Duration

	// SeedFile optionally points at a YAML file of extra system roles to
	// seed at startup, on top of the built-in owner/admin/member set.
	SeedFile string
}

// InvitationsConfig holds invitation lifecycle settings
type InvitationsConfig struct {
	TTL             time.Duration
	CleanupSchedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("BACKOFFICE_HOST", "0.0.0.0"),
			Port:            getEnv("BACKOFFICE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("BACKOFFICE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("BACKOFFICE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("BACKOFFICE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("BACKOFFICE_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("BACKOFFICE_HEALTH_PORT", "9090"),
		},
		Database: DatabaseConfig{
			URL:             getEnv("BACKOFFICE_POSTGRES_URL", ""),
			MaxOpenConns:    getEnvInt("BACKOFFICE_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns:    getEnvInt("BACKOFFICE_POSTGRES_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("BACKOFFICE_POSTGRES_CONN_LIFETIME", 30*time.Minute),
		},
		Redis: RedisConfig{
			URL:      getEnv("BACKOFFICE_REDIS_URL", ""),
			Password: getEnv("BACKOFFICE_REDIS_PASSWORD", ""),
			DB:       getEnvInt("BACKOFFICE_REDIS_DB", 0),
			PoolSize: getEnvInt("BACKOFFICE_REDIS_POOL_SIZE", 10),
		},
		Authz: AuthzConfig{
			CacheTTL: getEnvDuration("BACKOFFICE_AUTHZ_CACHE_TTL", 30*time.Second),
			SeedFile: getEnv("BACKOFFICE_AUTHZ_SEED_FILE", ""),
		},
		Invitations: InvitationsConfig{
			TTL:             getEnvDuration("BACKOFFICE_INVITATION_TTL", 7*24*time.Hour),
			CleanupSchedule: getEnv("BACKOFFICE_INVITATION_CLEANUP_SCHEDULE", "@hourly"),
		},
		Observability: ObservabilityConfig{
			LogLevel:           getEnv("BACKOFFICE_LOG_LEVEL", "info"),
			MetricsEnabled:     getEnvBool("BACKOFFICE_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("BACKOFFICE_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("BACKOFFICE_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("BACKOFFICE_OTEL_SERVICE_NAME", "backoffice"),
			OTelServiceVersion: getEnv("BACKOFFICE_OTEL_SERVICE_VERSION", "1.0.0"),
			OTelInsecure:       getEnvBool("BACKOFFICE_OTEL_INSECURE", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Authz.CacheTTL < 0 {
		return fmt.Errorf("authz cache TTL must not be negative")
	}
	if c.Invitations.TTL <= 0 {
		return fmt.Errorf("invitation TTL must be positive")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
