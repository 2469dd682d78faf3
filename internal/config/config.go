// Package config provides configuration management for Herald.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like DATABASE_URL, SERVER_PORT)
// 3. Default values
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Worker   WorkerConfig   `mapstructure:"worker"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	River    RiverConfig    `mapstructure:"river"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	Pools    PoolsConfig    `mapstructure:"pools"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// BaseURL is the externally reachable URL used in verification links.
	BaseURL string `mapstructure:"base_url"`

	// AllowedOrigins is the CORS origin allowlist for the API and the
	// WebSocket upgrade endpoint.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// DatabaseConfig contains PostgreSQL connection settings.
// A single pgxpool is shared by the job queue, the stores and River.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// WorkerConfig contains the notification dispatch worker settings.
type WorkerConfig struct {
	// Enabled controls whether the server process embeds a dispatch
	// worker. The in-app channel needs the process-local connection
	// registry, so the embedded worker is the default deployment.
	Enabled bool `mapstructure:"enabled"`

	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`

	// MaxAttempts is the per-job attempt ceiling stamped at enqueue time.
	// In-app jobs are latency-sensitive and get the shorter ceiling.
	MaxAttempts      int `mapstructure:"max_attempts"`
	InAppMaxAttempts int `mapstructure:"in_app_max_attempts"`

	// StaleAfter is the staleness window: in_progress jobs older than
	// this are considered orphaned and reset to pending by the sweep.
	StaleAfter    time.Duration `mapstructure:"stale_after"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`

	// ErrorBackoff is the cycle delay after a transient store error.
	ErrorBackoff time.Duration `mapstructure:"error_backoff"`

	// RetryBackoff is the base delay before a failed job becomes
	// claimable again; doubles per attempt up to RetryBackoffCap.
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffCap time.Duration `mapstructure:"retry_backoff_cap"`

	DispatchConcurrency int `mapstructure:"dispatch_concurrency"`

	// Channels restricts which channels this worker claims. A worker
	// never claims jobs it has no handler for.
	Channels []string `mapstructure:"channels"`
}

// SMTPConfig contains mail transport settings for the email channel.
type SMTPConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Addr returns the host:port dial address.
func (c SMTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthConfig contains JWT settings for API auth and verification links.
type AuthConfig struct {
	JWTSecret       string        `mapstructure:"jwt_secret"`
	TokenTTL        time.Duration `mapstructure:"token_ttl"`
	VerificationTTL time.Duration `mapstructure:"verification_ttl"`
	Issuer          string        `mapstructure:"issuer"`
}

// RealtimeConfig contains WebSocket gateway settings.
type RealtimeConfig struct {
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	PongTimeout    time.Duration `mapstructure:"pong_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

// RiverConfig contains River Queue settings for maintenance jobs.
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
}

// ArchiveConfig controls archival of terminal notification jobs.
// Jobs are never deleted; archived rows become invisible to claim and
// inbox queries.
type ArchiveConfig struct {
	Retention time.Duration `mapstructure:"retention"`
	Interval  time.Duration `mapstructure:"interval"`
}

// PoolsConfig contains goroutine pool sizes.
type PoolsConfig struct {
	GeneralSize int `mapstructure:"general_size"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

var (
	bootstrapLoggerOnce sync.Once
	bootstrapLogger     *zap.Logger
)

// Load reads configuration from file and environment variables.
// Standard environment variables without prefix (DATABASE_URL, SERVER_PORT, etc.).
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/herald")

	// Environment variable override.
	// Maps nested config: worker.poll_interval → WORKER_POLL_INTERVAL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file is optional, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.ensureSecrets(); err != nil {
		return nil, fmt.Errorf("ensure secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 characters")
	}
	if c.Worker.BatchSize <= 0 {
		return fmt.Errorf("worker.batch_size must be positive")
	}
	if c.Worker.MaxAttempts <= 0 || c.Worker.InAppMaxAttempts <= 0 {
		return fmt.Errorf("worker attempt ceilings must be positive")
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker.poll_interval must be positive")
	}
	if c.Worker.StaleAfter <= 0 {
		return fmt.Errorf("worker.stale_after must be positive")
	}
	return nil
}

// ensureSecrets auto-generates the JWT secret when missing so a dev
// instance boots without configuration. Tokens do not survive restarts
// in that mode.
func (c *Config) ensureSecrets() error {
	if c.Auth.JWTSecret == "" {
		secret, err := generateSecureRandomHex(32)
		if err != nil {
			return fmt.Errorf("auto-generate jwt secret: %w", err)
		}
		c.Auth.JWTSecret = secret
		logBootstrapWarn(
			"auto-generated auth.jwt_secret; set AUTH_JWT_SECRET env var for persistence",
			zap.Int("length", len(secret)),
		)
	}
	return nil
}

func logBootstrapWarn(msg string, fields ...zap.Field) {
	bootstrapLoggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)

		l, err := cfg.Build()
		if err != nil {
			bootstrapLogger = zap.NewNop()
			return
		}
		bootstrapLogger = l
	})

	bootstrapLogger.Warn(msg, fields...)
}

// generateSecureRandomHex produces a hex-encoded string of n random bytes.
func generateSecureRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.allowed_origins", []string{"*"})

	// Database (shared pool)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "herald")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "herald")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", false)

	// Dispatch worker
	v.SetDefault("worker.enabled", true)
	v.SetDefault("worker.poll_interval", "10s")
	v.SetDefault("worker.batch_size", 10)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.in_app_max_attempts", 2)
	v.SetDefault("worker.stale_after", "5m")
	v.SetDefault("worker.sweep_interval", "1m")
	v.SetDefault("worker.error_backoff", "30s")
	v.SetDefault("worker.retry_backoff", "30s")
	v.SetDefault("worker.retry_backoff_cap", "30m")
	v.SetDefault("worker.dispatch_concurrency", 8)
	v.SetDefault("worker.channels", []string{"email", "in_app"})

	// SMTP
	v.SetDefault("smtp.host", "localhost")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.from", "no-reply@herald.local")
	v.SetDefault("smtp.timeout", "10s")

	// Auth
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.verification_ttl", "24h")
	v.SetDefault("auth.issuer", "herald")

	// Realtime gateway
	v.SetDefault("realtime.write_timeout", "10s")
	v.SetDefault("realtime.pong_timeout", "60s")
	v.SetDefault("realtime.ping_interval", "54s")
	v.SetDefault("realtime.max_message_size", 4096)

	// River
	v.SetDefault("river.max_workers", 4)
	v.SetDefault("river.completed_job_retention_period", "24h")

	// Archive
	v.SetDefault("archive.retention", "2160h") // 90 days
	v.SetDefault("archive.interval", "24h")

	// Pools
	v.SetDefault("pools.general_size", 32)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
