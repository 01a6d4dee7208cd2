package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

const EnvProduction = "production"

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Storage   StorageConfig
	Zitadel   ZitadelConfig
	Toolchain ToolchainConfig
	Internal  InternalConfig
	Reconcile ReconcileConfig
	Gateway   GatewayConfig
}

type ServerConfig struct {
	Port          string
	Env           string
	LogLevel      string
	LogFormat     string
	ApiDomain     string
	PublicBaseURL string // absolute prefix for proxied file references, empty = relative
	BodyLimitMB   int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type DatabaseConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	BuildPerHour   int
	UploadPerHour  int
	ProjectPerHour int
}

// StorageConfig describes the S3-compatible bucket (Cloudflare R2 by default).
type StorageConfig struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
	Endpoint        string
	ProxySecret     string
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

// ToolchainConfig points at the external build worker.
type ToolchainConfig struct {
	ServiceURL       string
	Timeout          int // seconds
	FailureThreshold int
}

// InternalConfig holds the control-plane shared secret used by the build worker.
type InternalConfig struct {
	Token string
}

type ReconcileConfig struct {
	Interval         time.Duration
	QueuedStaleAfter time.Duration
	QueuedMaxAge     time.Duration
	RunningCeiling   time.Duration
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("DATABASE_URL")
	readSecret("JWT_SECRET")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("STORAGE_PROXY_SECRET")
	readSecret("INTERNAL_API_TOKEN")
	readSecret("ZITADEL_CLIENT_ID")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Environment variables
	v.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.log_format", "LOG_FORMAT")
	_ = v.BindEnv("server.api_domain", "API_DOMAIN")
	_ = v.BindEnv("server.public_base_url", "PUBLIC_BASE_URL")
	_ = v.BindEnv("server.body_limit_mb", "BODY_LIMIT_MB")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("database.dsn", "DATABASE_URL")
	_ = v.BindEnv("database.max_open_conns", "DATABASE_MAX_OPEN_CONNS")
	_ = v.BindEnv("database.max_idle_conns", "DATABASE_MAX_IDLE_CONNS")
	_ = v.BindEnv("jwt.secret", "JWT_SECRET")
	_ = v.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = v.BindEnv("ratelimit.build_per_hour", "RATELIMIT_BUILD_PER_HOUR")
	_ = v.BindEnv("ratelimit.upload_per_hour", "RATELIMIT_UPLOAD_PER_HOUR")
	_ = v.BindEnv("ratelimit.project_per_hour", "RATELIMIT_PROJECT_PER_HOUR")
	_ = v.BindEnv("storage.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("storage.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("storage.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("storage.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("storage.public_url", "R2_PUBLIC_URL")
	_ = v.BindEnv("storage.endpoint", "STORAGE_ENDPOINT")
	_ = v.BindEnv("storage.proxy_secret", "STORAGE_PROXY_SECRET")
	_ = v.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = v.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = v.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = v.BindEnv("toolchain.service_url", "WORKER_URL")
	_ = v.BindEnv("toolchain.timeout", "WORKER_TIMEOUT")
	_ = v.BindEnv("toolchain.failure_threshold", "WORKER_FAILURE_THRESHOLD")
	_ = v.BindEnv("internal.token", "INTERNAL_API_TOKEN")
	_ = v.BindEnv("reconcile.interval", "RECONCILE_INTERVAL")
	_ = v.BindEnv("reconcile.queued_stale_after", "RECONCILE_QUEUED_STALE_AFTER")
	_ = v.BindEnv("reconcile.queued_max_age", "RECONCILE_QUEUED_MAX_AGE")
	_ = v.BindEnv("reconcile.running_ceiling", "RECONCILE_RUNNING_CEILING")
	_ = v.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	v.SetDefault("server.port", "4000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.body_limit_mb", 512)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("jwt.expiration", 24)
	v.SetDefault("ratelimit.build_per_hour", 30)
	v.SetDefault("ratelimit.upload_per_hour", 60)
	v.SetDefault("ratelimit.project_per_hour", 20)
	v.SetDefault("storage.bucket_name", "uploads")

	// Build worker defaults
	v.SetDefault("toolchain.service_url", "http://worker:5000")
	v.SetDefault("toolchain.timeout", 2700)
	v.SetDefault("toolchain.failure_threshold", 5)

	// Reconciler defaults
	v.SetDefault("reconcile.interval", time.Minute)
	v.SetDefault("reconcile.queued_stale_after", 10*time.Minute)
	v.SetDefault("reconcile.queued_max_age", 2*time.Hour)
	v.SetDefault("reconcile.running_ceiling", time.Hour)

	// Gateway defaults
	v.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:          v.GetString("server.port"),
			Env:           v.GetString("server.env"),
			LogLevel:      v.GetString("server.log_level"),
			LogFormat:     v.GetString("server.log_format"),
			ApiDomain:     v.GetString("server.api_domain"),
			PublicBaseURL: strings.TrimRight(v.GetString("server.public_base_url"), "/"),
			BodyLimitMB:   v.GetInt("server.body_limit_mb"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Database: DatabaseConfig{
			DSN:          v.GetString("database.dsn"),
			MaxOpenConns: v.GetInt("database.max_open_conns"),
			MaxIdleConns: v.GetInt("database.max_idle_conns"),
		},
		JWT: JWTConfig{
			Secret:     v.GetString("jwt.secret"),
			Expiration: v.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			BuildPerHour:   v.GetInt("ratelimit.build_per_hour"),
			UploadPerHour:  v.GetInt("ratelimit.upload_per_hour"),
			ProjectPerHour: v.GetInt("ratelimit.project_per_hour"),
		},
		Storage: StorageConfig{
			AccountID:       v.GetString("storage.account_id"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			BucketName:      v.GetString("storage.bucket_name"),
			PublicURL:       strings.TrimRight(v.GetString("storage.public_url"), "/"),
			Endpoint:        strings.TrimRight(v.GetString("storage.endpoint"), "/"),
			ProxySecret:     v.GetString("storage.proxy_secret"),
		},
		Zitadel: ZitadelConfig{
			Domain:   v.GetString("zitadel.domain"),
			ClientID: v.GetString("zitadel.client_id"),
			Issuer:   v.GetString("zitadel.issuer"),
		},
		Toolchain: ToolchainConfig{
			ServiceURL:       strings.TrimRight(v.GetString("toolchain.service_url"), "/"),
			Timeout:          v.GetInt("toolchain.timeout"),
			FailureThreshold: v.GetInt("toolchain.failure_threshold"),
		},
		Internal: InternalConfig{
			Token: v.GetString("internal.token"),
		},
		Reconcile: ReconcileConfig{
			Interval:         v.GetDuration("reconcile.interval"),
			QueuedStaleAfter: v.GetDuration("reconcile.queued_stale_after"),
			QueuedMaxAge:     v.GetDuration("reconcile.queued_max_age"),
			RunningCeiling:   v.GetDuration("reconcile.running_ceiling"),
		},
		Gateway: GatewayConfig{
			Enabled: v.GetBool("gateway.enabled"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsProduction reports whether the service runs as a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Env, EnvProduction)
}

// Validate rejects configurations that would leave a trust boundary open.
func (c *Config) Validate() error {
	if !c.IsProduction() {
		return nil
	}
	if c.Internal.Token == "" {
		return errors.New("INTERNAL_API_TOKEN must be set in production")
	}
	if c.Storage.ProxySecret == "" && c.JWT.Secret == "" {
		return errors.New("STORAGE_PROXY_SECRET or JWT_SECRET must be set in production")
	}
	return nil
}

// ProxySigningKey returns the key used to sign proxied file references.
func (c *Config) ProxySigningKey() string {
	if c.Storage.ProxySecret != "" {
		return c.Storage.ProxySecret
	}
	if c.JWT.Secret != "" {
		return c.JWT.Secret
	}
	return "development-proxy-secret"
}
