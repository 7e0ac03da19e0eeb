package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Environment selects the environment-conditional middleware stage.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// StartupMode defines how the server handles initialization failures
type StartupMode string

const (
	// StartupModeGraceful logs initialization failures and keeps the process
	// alive until a termination signal releases the database (default)
	StartupModeGraceful StartupMode = "graceful"
	// StartupModeStrict releases resources and exits on any initialization error
	StartupModeStrict StartupMode = "strict"
)

// Session store backends
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreMongo  = "mongo"
)

// ServerConfig holds transport-layer settings
type ServerConfig struct {
	Hostname string `mapstructure:"hostname" validate:"required"`
	Port     int    `mapstructure:"port" validate:"min=0,max=65535"`
	// TrustProxyHops is the number of upstream proxies whose forwarding headers are trusted
	TrustProxyHops  int           `mapstructure:"trust_proxy_hops" validate:"min=0"`
	StaticDir       string        `mapstructure:"static_dir"`
	ViewsDir        string        `mapstructure:"views_dir"`
	BodyLimit       int64         `mapstructure:"body_limit" validate:"min=1"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
}

// MongoDBConfig holds the document database connection settings
type MongoDBConfig struct {
	URI            string        `mapstructure:"uri"`
	Database       string        `mapstructure:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	MaxPoolSize    uint64        `mapstructure:"max_pool_size"`
}

// RedisConfig holds connection settings for the redis session store
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// BreakerConfig guards remote session stores. MaxFailures of 0 disables it.
type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	Cooldown    time.Duration `mapstructure:"cooldown"`
}

// SessionConfig holds cookie and store settings for sessions
type SessionConfig struct {
	Secret     string        `mapstructure:"secret" validate:"required"`
	Name       string        `mapstructure:"name" validate:"required"`
	Store      string        `mapstructure:"store" validate:"oneof=memory redis mongo"`
	MaxAge     time.Duration `mapstructure:"max_age"`
	MemorySize int           `mapstructure:"memory_size" validate:"min=1"`
	Redis      RedisConfig   `mapstructure:"redis"`
	Breaker    BreakerConfig `mapstructure:"breaker"`
}

// MetricsConfig controls the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Config holds all configuration for the web server
type Config struct {
	Environment Environment   `mapstructure:"environment" validate:"required,oneof=development production"`
	StartupMode StartupMode   `mapstructure:"startup_mode" validate:"oneof=graceful strict"`
	Server      ServerConfig  `mapstructure:"server"`
	MongoDB     MongoDBConfig `mapstructure:"mongodb"`
	Session     SessionConfig `mapstructure:"session"`
	Metrics     MetricsConfig `mapstructure:"metrics"`
	Secrets     SecretsConfig `mapstructure:"secrets"`
}

// secretsTimeout bounds the secret provider lookups in Load
const secretsTimeout = 30 * time.Second

// weakSecrets are rejected as session secrets in production
var weakSecrets = []string{
	"secret", "password", "changeme", "default", "admin",
	"keyboard cat", "supersecret", "mysecret", "test", "example",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", string(EnvDevelopment))
	v.SetDefault("startup_mode", string(StartupModeGraceful))

	// 127.0.0.1 instead of localhost to avoid IPv6 resolution surprises
	v.SetDefault("server.hostname", "127.0.0.1")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.trust_proxy_hops", 1)
	v.SetDefault("server.static_dir", "public")
	v.SetDefault("server.views_dir", "views")
	v.SetDefault("server.body_limit", 100*1024) // 100KB
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.read_timeout", 30*time.Second)

	v.SetDefault("mongodb.uri", "mongodb://127.0.0.1:27017/webserver")
	v.SetDefault("mongodb.database", "")
	v.SetDefault("mongodb.connect_timeout", 10*time.Second)
	v.SetDefault("mongodb.max_pool_size", 10)

	v.SetDefault("session.name", "sid")
	v.SetDefault("session.store", StoreMemory)
	v.SetDefault("session.max_age", 0) // browser-session cookie
	v.SetDefault("session.memory_size", 10000)
	v.SetDefault("session.redis.addr", "127.0.0.1:6379")
	v.SetDefault("session.redis.password", "")
	v.SetDefault("session.redis.db", 0)
	v.SetDefault("session.redis.pool_size", 10)
	v.SetDefault("session.breaker.max_failures", 5)
	v.SetDefault("session.breaker.cooldown", 30*time.Second)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("secrets.provider", SecretsEnv)
	v.SetDefault("secrets.vault.address", "")
	v.SetDefault("secrets.vault.token", "")
	v.SetDefault("secrets.vault.path", "secret/webserver")
	v.SetDefault("secrets.vault.timeout", 10*time.Second)
	v.SetDefault("secrets.aws.region", "us-east-1")
	v.SetDefault("secrets.aws.secret_id", "webserver/secrets")
	v.SetDefault("secrets.aws.access_key", "")
	v.SetDefault("secrets.aws.secret_key", "")
	v.SetDefault("secrets.aws.endpoint", "")
}

// bindEnv wires WEBSERVER_* overrides plus the bare variable names the
// deployment scripts already export.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("WEBSERVER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("environment", "WEBSERVER_ENVIRONMENT", "NODE_ENV")
	_ = v.BindEnv("server.port", "WEBSERVER_SERVER_PORT", "PORT")
	_ = v.BindEnv("server.hostname", "WEBSERVER_SERVER_HOSTNAME", "HOSTNAME_BIND")
	_ = v.BindEnv("mongodb.uri", "WEBSERVER_MONGODB_URI", "DATABASE")
	_ = v.BindEnv("session.secret", "WEBSERVER_SESSION_SECRET", "SECRET_KEY_ONE")
	_ = v.BindEnv("session.name", "WEBSERVER_SESSION_NAME", "SESSION_NAME")
}

// LoadEnvFile loads variables from a dotenv file into the process environment.
// Variables already set in the environment win. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// Load loads configuration from an optional YAML file and the environment.
// When configFile is empty, config.yaml is looked up in . and ./config.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), secretsTimeout)
	defer cancel()
	if err := LoadSecrets(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks struct constraints and the cross-field rules tags cannot express
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	if c.Session.Store == StoreRedis && c.Session.Redis.Addr == "" {
		return fmt.Errorf("session.redis.addr cannot be empty when session.store is redis")
	}

	if c.Session.Breaker.MaxFailures > 0 && c.Session.Breaker.Cooldown <= 0 {
		return fmt.Errorf("session.breaker.cooldown must be positive when the breaker is enabled")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", c.Metrics.Path)
	}

	if c.IsProduction() {
		if len(c.Session.Secret) < 32 {
			return fmt.Errorf("session secret must be at least 32 characters in production")
		}
		lower := strings.ToLower(c.Session.Secret)
		for _, weak := range weakSecrets {
			if strings.Contains(lower, weak) {
				return fmt.Errorf("session secret appears to contain weak/default value: please use a cryptographically secure random string")
			}
		}
	}

	return nil
}

// IsProduction reports whether the production stage (compression, secure cookies) applies
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// IsGracefulMode returns true if the startup mode is graceful
func (c *Config) IsGracefulMode() bool {
	return c.StartupMode == "" || c.StartupMode == StartupModeGraceful
}

// DatabaseName returns mongodb.database, falling back to the path component
// of the connection URI and finally to "webserver"
func (c *Config) DatabaseName() string {
	if c.MongoDB.Database != "" {
		return c.MongoDB.Database
	}
	uri := c.MongoDB.URI
	if i := strings.Index(uri, "://"); i >= 0 {
		uri = uri[i+3:]
	}
	if i := strings.Index(uri, "/"); i >= 0 {
		name := uri[i+1:]
		if j := strings.IndexAny(name, "?#"); j >= 0 {
			name = name[:j]
		}
		if name != "" {
			return name
		}
	}
	return "webserver"
}

// Addr returns the host:port the listener binds to
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Hostname, strconv.Itoa(c.Server.Port))
}
