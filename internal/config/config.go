package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultTTLs is how long each built-in range stays cached. Shorter ranges
// change faster.
var DefaultTTLs = map[string]time.Duration{
	"last_minute":   30 * time.Second,
	"last_hour":     30 * time.Second,
	"last_day":      time.Minute,
	"day_by_minute": time.Minute,
	"last_week":     2 * time.Minute,
	"last_month":    5 * time.Minute,
	"last_year":     5 * time.Minute,
}

type Config struct {
	Port             int           `mapstructure:"port"`
	LogLevel         string        `mapstructure:"log_level"`
	AllowedOrigins   []string      `mapstructure:"allowed_origins"`
	TrimFraction     float64       `mapstructure:"trim_fraction"`
	FastPathLookback time.Duration `mapstructure:"fast_path_lookback"`
	RangesFile       string        `mapstructure:"ranges_file"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	Database         Database      `mapstructure:"database"`
	Cache            Cache         `mapstructure:"cache"`
	Live             Live          `mapstructure:"live"`
}

type Database struct {
	Driver          string        `mapstructure:"driver"` // postgres | sqlite
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	Path            string        `mapstructure:"path"` // sqlite only
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type Cache struct {
	Backend       string                   `mapstructure:"backend"` // memory | redis
	RedisAddr     string                   `mapstructure:"redis_addr"`
	RedisPrefix   string                   `mapstructure:"redis_prefix"`
	SweepInterval time.Duration            `mapstructure:"sweep_interval"`
	DefaultTTL    time.Duration            `mapstructure:"default_ttl"`
	TTL           map[string]time.Duration `mapstructure:"ttl"`
}

type Live struct {
	DefaultLimit int `mapstructure:"default_limit"`
	MaxLimit     int `mapstructure:"max_limit"`
}

// TTLFor returns how long a response for rangeKey stays fresh.
func (c Cache) TTLFor(rangeKey string) time.Duration {
	if ttl, ok := c.TTL[rangeKey]; ok {
		return ttl
	}
	return c.DefaultTTL
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 3000)
	v.SetDefault("log_level", "info")
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("trim_fraction", 0.1)
	v.SetDefault("fast_path_lookback", 30*24*time.Hour)
	v.SetDefault("ranges_file", "")
	v.SetDefault("shutdown_timeout", 30*time.Second)
	v.SetDefault("request_timeout", 30*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "")
	v.SetDefault("database.sslmode", "require")
	v.SetDefault("database.path", "./vitals.db")
	v.SetDefault("database.connect_timeout", 10*time.Second)
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Second)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_prefix", "vitals:")
	v.SetDefault("cache.sweep_interval", time.Minute)
	v.SetDefault("cache.default_ttl", time.Minute)
	for key, ttl := range DefaultTTLs {
		v.SetDefault("cache.ttl."+key, ttl)
	}

	v.SetDefault("live.default_limit", 100)
	v.SetDefault("live.max_limit", 1000)
}

// Load reads config.yaml from the usual places, then VITALS_* environment
// variables (database.host -> VITALS_DATABASE_HOST).
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/vitals-service/")
	v.AddConfigPath("$HOME/.vitals-service")
	v.AddConfigPath(".")
	return load(v)
}

// LoadFile reads configuration from an explicit file.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetEnvPrefix("VITALS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
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

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if !(c.TrimFraction > 0 && c.TrimFraction < 1) {
		errs = append(errs, fmt.Errorf("trim_fraction must be in (0, 1), got %v", c.TrimFraction))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" || c.Database.Name == "" || c.Database.User == "" {
			errs = append(errs, errors.New("database.host, database.name and database.user are required for postgres"))
		}
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database.driver %q", c.Database.Driver))
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown cache.backend %q", c.Cache.Backend))
	}
	if c.Cache.DefaultTTL < 0 {
		errs = append(errs, errors.New("cache.default_ttl is negative"))
	}
	for key, ttl := range c.Cache.TTL {
		if ttl < 0 {
			errs = append(errs, fmt.Errorf("cache.ttl.%s is negative", key))
		}
	}
	if c.Live.DefaultLimit <= 0 || c.Live.MaxLimit < c.Live.DefaultLimit {
		errs = append(errs, errors.New("live limits must satisfy 0 < default_limit <= max_limit"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}
