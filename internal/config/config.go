package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	Google     GoogleConfig     `mapstructure:"google"`
	Security   SecurityConfig   `mapstructure:"security"`
	Scheduling SchedulingConfig `mapstructure:"scheduling"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Email      EmailConfig      `mapstructure:"email"`
	Outbox     OutboxConfig     `mapstructure:"outbox"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	Timeout         time.Duration `mapstructure:"timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MetricsPrefix   string        `mapstructure:"metrics_prefix"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	ApplySchema     bool          `mapstructure:"apply_schema"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"ttl"`
}

type GoogleConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	ClientID     string        `mapstructure:"client_id"`
	JWKSURL      string        `mapstructure:"jwks_url"`
	JWKSCacheTTL time.Duration `mapstructure:"jwks_cache_ttl"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

type SecurityConfig struct {
	BcryptCost int `mapstructure:"bcrypt_cost"`
}

type SchedulingConfig struct {
	// When set, cancelled and completed appointments no longer block their slot.
	IgnoreTerminalStatuses bool `mapstructure:"ignore_terminal_statuses"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	Channel      string        `mapstructure:"channel"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type EmailConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type OutboxConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	HealthPort    int           `mapstructure:"health_port"`
	// Processed events older than this are deleted; zero keeps them.
	Retention time.Duration `mapstructure:"retention"`
	// A PROCESSING event untouched for this long is assumed orphaned by a
	// crashed worker and becomes claimable again.
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout"`
}

type RateLimitConfig struct {
	AuthRPS   float64 `mapstructure:"auth_rps"`
	AuthBurst int     `mapstructure:"auth_burst"`
}

type CORSConfig struct {
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AdminSeedConfig controls creation of the default admin account at startup.
type AdminSeedConfig struct {
	Enabled  bool   `envconfig:"DEV_ENABLE_DEFAULT_ADMIN" default:"false"`
	Email    string `envconfig:"DEFAULT_ADMIN_EMAIL"`
	Password string `envconfig:"DEFAULT_ADMIN_PASSWORD"`
	FullName string `envconfig:"DEFAULT_ADMIN_NAME" default:"Administrator"`
	Reset    bool   `envconfig:"DEFAULT_ADMIN_RESET" default:"false"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.timeout", 30*time.Second)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 35*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.metrics_prefix", "clinic")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.name", "clinic")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.query_timeout", 5*time.Second)
	v.SetDefault("database.apply_schema", true)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "clinic-api")
	v.SetDefault("jwt.ttl", 30*time.Minute)

	v.SetDefault("google.enabled", false)
	v.SetDefault("google.client_id", "")
	v.SetDefault("google.jwks_url", "https://www.googleapis.com/oauth2/v3/certs")
	v.SetDefault("google.jwks_cache_ttl", time.Hour)
	v.SetDefault("google.timeout", 5*time.Second)

	v.SetDefault("security.bcrypt_cost", 12)

	v.SetDefault("scheduling.ignore_terminal_statuses", false)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.channel", "clinic.appointments")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", 100*time.Millisecond)

	v.SetDefault("email.enabled", false)
	v.SetDefault("email.smtp_host", "localhost")
	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from", "no-reply@clinic.local")

	v.SetDefault("outbox.batch_size", 50)
	v.SetDefault("outbox.poll_interval", 5*time.Second)
	v.SetDefault("outbox.retry_attempts", 5)
	v.SetDefault("outbox.retry_delay", 30*time.Second)
	v.SetDefault("outbox.health_port", 8081)
	v.SetDefault("outbox.retention", 7*24*time.Hour)
	v.SetDefault("outbox.processing_timeout", 5*time.Minute)

	v.SetDefault("rate_limit.auth_rps", 5.0)
	v.SetDefault("rate_limit.auth_burst", 10)

	v.SetDefault("cors.allow_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig reads config.yml (optional) and the environment. A .env file in
// the working directory is loaded first when present.
func LoadConfig(paths ...string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config", "/app/config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.JWT.Secret) < 32 {
		return errors.New("jwt.secret must be at least 32 bytes")
	}
	if c.JWT.TTL <= 0 {
		return errors.New("jwt.ttl must be positive")
	}
	if c.Google.Enabled && c.Google.ClientID == "" {
		return errors.New("google.client_id is required when google sign-in is enabled")
	}
	switch c.Database.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	if c.Outbox.BatchSize <= 0 || c.Outbox.PollInterval <= 0 || c.Outbox.RetryAttempts <= 0 || c.Outbox.RetryDelay <= 0 || c.Outbox.ProcessingTimeout <= 0 {
		return errors.New("outbox batch_size, poll_interval, retry_attempts, retry_delay and processing_timeout must be positive")
	}
	return nil
}

func LoadAdminSeed() (AdminSeedConfig, error) {
	var s AdminSeedConfig
	if err := envconfig.Process("", &s); err != nil {
		return s, fmt.Errorf("failed to read admin seed settings: %w", err)
	}
	if s.Enabled && (s.Email == "" || s.Password == "") {
		return s, errors.New("DEFAULT_ADMIN_EMAIL and DEFAULT_ADMIN_PASSWORD are required when DEV_ENABLE_DEFAULT_ADMIN is set")
	}
	return s, nil
}
