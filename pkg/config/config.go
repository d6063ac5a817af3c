package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/trellis/pkg/accounts"
	"github.com/platinummonkey/trellis/pkg/identity"
	"github.com/platinummonkey/trellis/pkg/locks"
	"github.com/platinummonkey/trellis/pkg/notify"
	"github.com/platinummonkey/trellis/pkg/observability"
	"github.com/platinummonkey/trellis/pkg/storage/postgres"
	"github.com/robfig/cron/v3"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Identity      IdentityConfig
	Notifier      NotifierConfig
	Accounts      AccountsConfig
	Permissions   PermissionsConfig
	Aggregator    AggregatorConfig
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
	MaxBodyBytes    int64
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// DatabaseConfig holds PostgreSQL settings. Replicas serve permission
// checks; the primary serves every write.
type DatabaseConfig struct {
	PrimaryURL     string
	ReplicaURLs    []string
	MaxConns       int
	MinConns       int
	Timeout        time.Duration
	MigrateOnStart bool
}

// ConnectionConfig converts to the connection manager settings
func (d DatabaseConfig) ConnectionConfig() postgres.ConnectionConfig {
	return postgres.ConnectionConfig{
		PrimaryURL:  d.PrimaryURL,
		ReplicaURLs: d.ReplicaURLs,
		MaxConns:    d.MaxConns,
		MinConns:    d.MinConns,
		Timeout:     d.Timeout,
		MaxLifetime: 30 * time.Minute,
		MaxIdleTime: 5 * time.Minute,
	}
}

// RedisConfig holds the optional Redis settings. Without a URL invite
// locks fall back to an in-process mutex.
type RedisConfig struct {
	URL          string
	Password     string
	DB           int
	MaxRetries   int
	PoolSize     int
	LockTTL      time.Duration
	LockWait     time.Duration
	LockPrefix   string
	LockInterval time.Duration
}

// Enabled reports whether Redis is configured
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// ClientConfig converts to the Redis client settings
func (r RedisConfig) ClientConfig() postgres.RedisConfig {
	return postgres.RedisConfig{
		URL:        r.URL,
		Password:   r.Password,
		DB:         r.DB,
		MaxRetries: r.MaxRetries,
		PoolSize:   r.PoolSize,
	}
}

// LockConfig converts to the invite lock settings
func (r RedisConfig) LockConfig() locks.Config {
	return locks.Config{
		Prefix:       r.LockPrefix,
		TTL:          r.LockTTL,
		Wait:         r.LockWait,
		PollInterval: r.LockInterval,
	}
}

// IdentityConfig holds OpenID Connect settings
type IdentityConfig struct {
	IssuerURL      string
	ClientID       string
	SuperuserClaim string
}

// OIDC converts to the verifier settings
func (i IdentityConfig) OIDC() identity.OIDCConfig {
	return identity.OIDCConfig{
		IssuerURL:      i.IssuerURL,
		ClientID:       i.ClientID,
		SuperuserClaim: i.SuperuserClaim,
	}
}

// NotifierConfig selects the invitation notifier. Kind "log" only logs
// invitations and is meant for local development.
type NotifierConfig struct {
	Kind    string
	URL     string
	Secret  string
	Timeout time.Duration
}

// HTTP converts to the HTTP notifier settings
func (n NotifierConfig) HTTP() notify.HTTPConfig {
	return notify.HTTPConfig{BaseURL: n.URL, Secret: n.Secret, Timeout: n.Timeout}
}

// AccountsConfig points team sync at the account service. Without a URL,
// sync only reaches accounts that already have an accessor.
type AccountsConfig struct {
	URL      string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// Enabled reports whether the account service is configured
func (a AccountsConfig) Enabled() bool {
	return a.URL != ""
}

// Directory converts to the account directory settings
func (a AccountsConfig) Directory() accounts.Config {
	return accounts.Config{BaseURL: a.URL, Timeout: a.Timeout, CacheTTL: a.CacheTTL}
}

// PermissionsConfig tunes the permission catalog
type PermissionsConfig struct {
	CatalogCacheTTL   time.Duration
	RoleTemplatesPath string
}

// AggregatorConfig controls the membership gauge refresher
type AggregatorConfig struct {
	Schedule string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
	OTelSampleRatio    float64
}

// OTel converts to the exporter settings
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Identity:      loadIdentityConfig(),
		Notifier:      loadNotifierConfig(),
		Accounts: AccountsConfig{
			URL:      getEnv("TRELLIS_ACCOUNTS_URL", ""),
			Timeout:  getEnvDuration("TRELLIS_ACCOUNTS_TIMEOUT", 5*time.Second),
			CacheTTL: getEnvDuration("TRELLIS_ACCOUNTS_CACHE_TTL", time.Minute),
		},
		Permissions:   loadPermissionsConfig(),
		Aggregator:    AggregatorConfig{Schedule: getEnv("TRELLIS_AGGREGATOR_SCHEDULE", "@every 1m")},
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// LoadWorkerConfig loads configuration for background workers, which need
// the database but neither identity nor notification settings.
func LoadWorkerConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Aggregator:    AggregatorConfig{Schedule: getEnv("TRELLIS_AGGREGATOR_SCHEDULE", "@every 1m")},
		Observability: loadObservabilityConfig(),
	}
	cfg.Server.Port = getEnv("TRELLIS_AGGREGATOR_PORT", "9091")

	if err := cfg.ValidateWorker(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TRELLIS_HOST", "0.0.0.0"),
		Port:            getEnv("TRELLIS_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TRELLIS_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TRELLIS_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TRELLIS_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TRELLIS_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("TRELLIS_MAX_BODY_BYTES", 1<<20),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		PrimaryURL:     getEnv("TRELLIS_POSTGRES_URL", ""),
		ReplicaURLs:    postgres.ParseReplicaURLs(getEnv("TRELLIS_POSTGRES_REPLICA_URLS", "")),
		MaxConns:       getEnvInt("TRELLIS_POSTGRES_MAX_CONNS", 20),
		MinConns:       getEnvInt("TRELLIS_POSTGRES_MIN_CONNS", 2),
		Timeout:        getEnvDuration("TRELLIS_POSTGRES_TIMEOUT", 10*time.Second),
		MigrateOnStart: getEnvBool("TRELLIS_MIGRATE_ON_START", true),
	}
}

func loadRedisConfig() RedisConfig {
	defaults := locks.DefaultConfig()
	return RedisConfig{
		URL:          getEnv("TRELLIS_REDIS_URL", ""),
		Password:     getEnv("TRELLIS_REDIS_PASSWORD", ""),
		DB:           getEnvInt("TRELLIS_REDIS_DB", -1),
		MaxRetries:   getEnvInt("TRELLIS_REDIS_MAX_RETRIES", 3),
		PoolSize:     getEnvInt("TRELLIS_REDIS_POOL_SIZE", 10),
		LockTTL:      getEnvDuration("TRELLIS_INVITE_LOCK_TTL", defaults.TTL),
		LockWait:     getEnvDuration("TRELLIS_INVITE_LOCK_WAIT", defaults.Wait),
		LockPrefix:   getEnv("TRELLIS_INVITE_LOCK_PREFIX", defaults.Prefix),
		LockInterval: getEnvDuration("TRELLIS_INVITE_LOCK_POLL", defaults.PollInterval),
	}
}

func loadIdentityConfig() IdentityConfig {
	return IdentityConfig{
		IssuerURL:      getEnv("TRELLIS_OIDC_ISSUER_URL", ""),
		ClientID:       getEnv("TRELLIS_OIDC_CLIENT_ID", ""),
		SuperuserClaim: getEnv("TRELLIS_OIDC_SUPERUSER_CLAIM", identity.DefaultSuperuserClaim),
	}
}

func loadNotifierConfig() NotifierConfig {
	return NotifierConfig{
		Kind:    strings.ToLower(getEnv("TRELLIS_NOTIFIER", "http")),
		URL:     getEnv("TRELLIS_NOTIFIER_URL", ""),
		Secret:  getEnv("TRELLIS_NOTIFIER_SECRET", ""),
		Timeout: getEnvDuration("TRELLIS_NOTIFIER_TIMEOUT", 10*time.Second),
	}
}

func loadPermissionsConfig() PermissionsConfig {
	return PermissionsConfig{
		CatalogCacheTTL:   getEnvDuration("TRELLIS_CATALOG_CACHE_TTL", 5*time.Minute),
		RoleTemplatesPath: getEnv("TRELLIS_ROLE_TEMPLATES", ""),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("TRELLIS_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("TRELLIS_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TRELLIS_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TRELLIS_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TRELLIS_OTEL_SERVICE_NAME", "trellis"),
		OTelServiceVersion: getEnv("TRELLIS_OTEL_SERVICE_VERSION", "dev"),
		OTelInsecure:       getEnvBool("TRELLIS_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("TRELLIS_OTEL_SAMPLE_RATIO", 1),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.PrimaryURL == "" {
		return fmt.Errorf("postgres URL is required (TRELLIS_POSTGRES_URL)")
	}
	if c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("postgres max connections (%d) is below min connections (%d)", c.Database.MaxConns, c.Database.MinConns)
	}
	if c.Identity.IssuerURL == "" || c.Identity.ClientID == "" {
		return fmt.Errorf("OIDC issuer URL and client ID are required")
	}

	switch c.Notifier.Kind {
	case "http":
		if c.Notifier.URL == "" {
			return fmt.Errorf("notifier URL is required for the http notifier")
		}
	case "log":
	default:
		return fmt.Errorf("invalid notifier: %s (must be http or log)", c.Notifier.Kind)
	}

	if c.Redis.Enabled() && c.Redis.LockWait > c.Redis.LockTTL {
		return fmt.Errorf("invite lock wait (%s) must not exceed its TTL (%s)", c.Redis.LockWait, c.Redis.LockTTL)
	}

	if _, err := cron.ParseStandard(c.Aggregator.Schedule); err != nil {
		return fmt.Errorf("invalid aggregator schedule %q: %w", c.Aggregator.Schedule, err)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if r := c.Observability.OTelSampleRatio; r < 0 || r > 1 {
			return fmt.Errorf("OpenTelemetry sample ratio must be within [0, 1], got %v", r)
		}
	}

	return nil
}

// ValidateWorker checks the subset of settings used by background workers
func (c *Config) ValidateWorker() error {
	if c.Database.PrimaryURL == "" {
		return fmt.Errorf("postgres URL is required (TRELLIS_POSTGRES_URL)")
	}
	if _, err := cron.ParseStandard(c.Aggregator.Schedule); err != nil {
		return fmt.Errorf("invalid aggregator schedule %q: %w", c.Aggregator.Schedule, err)
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

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
