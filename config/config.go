// Package config loads service configuration from YAML files and
// GUARDIAN_* environment variables. Per-tenant evaluation settings live
// in storage, not here; this covers only service-level concerns.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// DataPaths holds data directory and file path configuration.
type DataPaths struct {
	// DataDir is the base data directory (GUARDIAN_DATA_DIR, default: ./data)
	DataDir string `mapstructure:"data_dir"`
	// SQLitePath is the SQLite database file path (GUARDIAN_SQLITE_PATH, default: ${DataDir}/guardian.db)
	SQLitePath string `mapstructure:"sqlite_path"`
	// RulesDir is the directory of YAML rule files loaded at startup
	// (GUARDIAN_RULES_DIR, empty = no file loading)
	RulesDir string `mapstructure:"rules_dir"`
}

// Config holds all configuration for the Guardian service.
type Config struct {
	DataPaths DataPaths `mapstructure:"data_paths"`

	Logging struct {
		Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
		Format string `mapstructure:"format" validate:"oneof=json console"`
	} `mapstructure:"logging"`

	API struct {
		Enabled bool   `mapstructure:"enabled"`
		Host    string `mapstructure:"host" validate:"required"`
		Port    int    `mapstructure:"port" validate:"min=1,max=65535"`

		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

		RateLimit struct {
			RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gt=0"`
			Burst             int     `mapstructure:"burst" validate:"min=1"`
		} `mapstructure:"rate_limit"`
	} `mapstructure:"api"`

	Scheduler struct {
		DefaultInterval time.Duration `mapstructure:"default_interval" validate:"min=1s"`
		RefreshInterval time.Duration `mapstructure:"refresh_interval" validate:"min=1s"`
		LeaseTTL        time.Duration `mapstructure:"lease_ttl" validate:"min=1s"`
		Workers         int           `mapstructure:"workers" validate:"min=1"`
		QueueSize       int           `mapstructure:"queue_size" validate:"min=1"`
	} `mapstructure:"scheduler"`

	// Redis backs the run lease when enabled so multiple instances can
	// share the tenant schedule. Disabled = in-process lease only.
	Redis struct {
		Enabled  bool   `mapstructure:"enabled"`
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
		PoolSize int    `mapstructure:"pool_size"`
	} `mapstructure:"redis"`

	Notify struct {
		MaxAttempts    int           `mapstructure:"max_attempts" validate:"min=1"`
		BaseBackoff    time.Duration `mapstructure:"base_backoff" validate:"min=1ms"`
		AttemptTimeout time.Duration `mapstructure:"attempt_timeout" validate:"min=1ms"`
	} `mapstructure:"notify"`

	Audit struct {
		QueueSize int `mapstructure:"queue_size" validate:"min=1"`
	} `mapstructure:"audit"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_paths.data_dir", "./data")
	v.SetDefault("data_paths.sqlite_path", "") // empty = derive from data_dir
	v.SetDefault("data_paths.rules_dir", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("api.enabled", true)
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)
	v.SetDefault("api.read_timeout", 15*time.Second)
	v.SetDefault("api.write_timeout", 30*time.Second)
	v.SetDefault("api.shutdown_timeout", 10*time.Second)
	v.SetDefault("api.rate_limit.requests_per_second", 50.0)
	v.SetDefault("api.rate_limit.burst", 100)

	v.SetDefault("scheduler.default_interval", 5*time.Minute)
	v.SetDefault("scheduler.refresh_interval", 1*time.Minute)
	v.SetDefault("scheduler.lease_ttl", 10*time.Minute)
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.queue_size", 64)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)

	v.SetDefault("notify.max_attempts", 3)
	v.SetDefault("notify.base_backoff", 2*time.Second)
	v.SetDefault("notify.attempt_timeout", 10*time.Second)

	v.SetDefault("audit.queue_size", 1024)
}

func loadFromEnv(v *viper.Viper) {
	v.SetEnvPrefix("GUARDIAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("data_paths.data_dir", "GUARDIAN_DATA_DIR")
	_ = v.BindEnv("data_paths.sqlite_path", "GUARDIAN_SQLITE_PATH")
	_ = v.BindEnv("data_paths.rules_dir", "GUARDIAN_RULES_DIR")
}

// Load reads configuration from the named file (empty = search for
// config.yaml in . and ./config), applies env overrides and validates
// the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)
	loadFromEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		// No config file found, defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cfg.resolveDataPaths()
	return &cfg, nil
}

// resolveDataPaths derives unset paths from DataDir.
func (c *Config) resolveDataPaths() {
	if c.DataPaths.DataDir == "" {
		c.DataPaths.DataDir = "./data"
	}
	if c.DataPaths.SQLitePath == "" {
		c.DataPaths.SQLitePath = c.DataPaths.DataDir + "/guardian.db"
	}
}

// ListenAddr returns the host:port the API server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}
