package domain

import "time"

// Config is the complete server configuration.
type Config struct {
	Environment string          `mapstructure:"environment"`
	Server      ServerConfig    `mapstructure:"server"`
	Database    DatabaseConfig  `mapstructure:"database"`
	Feedback    FeedbackConfig  `mapstructure:"feedback"`
	Cache       CacheConfig     `mapstructure:"cache"`
	Logging     LoggingConfig   `mapstructure:"logging"`
	Auth        AuthConfig      `mapstructure:"auth"`
	Models      ModelConfig     `mapstructure:"models"`
	Alerting    AlertingConfig  `mapstructure:"alerting"`
	Velocity    VelocityConfig  `mapstructure:"velocity"`
	RateLimit   RateLimitConfig `mapstructure:"rate_limit"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL settings for the primary stores.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// FeedbackConfig selects the alert feedback store backend.
type FeedbackConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, postgres
	Path   string `mapstructure:"path"`   // sqlite file path
	DSN    string `mapstructure:"dsn"`    // postgres connection string
}

// CacheConfig holds assessment cache settings.
type CacheConfig struct {
	RedisURL    string        `mapstructure:"redis_url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	MaxRetries  int           `mapstructure:"max_retries"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
	MemorySize  int           `mapstructure:"memory_size"` // LRU entries
}

// LoggingConfig holds logrus settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"`
}

// AuthConfig holds JWT settings.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	Issuer    string        `mapstructure:"issuer"`
}

// ModelConfig holds model artifact and inference settings.
type ModelConfig struct {
	ArtifactDir      string        `mapstructure:"artifact_dir"`
	InferenceTimeout time.Duration `mapstructure:"inference_timeout"`
	BreakerInterval  time.Duration `mapstructure:"breaker_interval"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
}

// AlertingConfig holds alert lifecycle policy knobs.
type AlertingConfig struct {
	// ResetStatusOnEscalation controls whether a re-escalated alert returns
	// to NEW. The original system left this unspecified; default is to keep
	// the clinician-set status and only refresh the snapshot.
	ResetStatusOnEscalation bool `mapstructure:"reset_status_on_escalation"`
}

// VelocityConfig holds risk-velocity classification settings.
type VelocityConfig struct {
	Window int `mapstructure:"window"` // number of historical scores considered
}

// RateLimitConfig holds per-client API rate limiting settings.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}
