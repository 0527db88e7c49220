// Package config loads, validates, and watches the taskrelay configuration.
//
// Configuration is layered: built-in defaults, then an optional YAML file,
// then TASKRELAY_* environment variables. A .env file in the working
// directory is folded into the environment before resolution.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/mkirch/taskrelay/internal/sync"
)

const (
	configName = "taskrelay"
	envPrefix  = "TASKRELAY"
)

// DatabaseConfig locates the local store.
type DatabaseConfig struct {
	Path string `mapstructure:"path" validate:"required"`
}

// SyncConfig shapes synchronization passes.
type SyncConfig struct {
	// Endpoint is the base URL of the HTTP authority. Empty selects the
	// in-process loopback authority.
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url"`

	BatchSize      int           `mapstructure:"batch_size" validate:"min=1,max=500"`
	MaxRetries     int           `mapstructure:"max_retries" validate:"min=1,max=25"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"min=1ms"`
	BatchTimeout   time.Duration `mapstructure:"batch_timeout" validate:"min=1ms"`

	// AutoSchedule is a cron expression for background passes. Empty
	// disables the scheduler.
	AutoSchedule string `mapstructure:"auto_schedule"`
}

// ServerConfig shapes the local HTTP server started by serve.
type ServerConfig struct {
	Port int `mapstructure:"port" validate:"min=0,max=65535"`
}

// LogConfig shapes serve-mode logging. An empty Path logs to stderr.
type LogConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" validate:"min=1"`
	MaxBackups int    `mapstructure:"max_backups" validate:"min=0"`
}

// Config is the resolved application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`

	file string
}

// File returns the path of the configuration file that was read, or an
// empty string when only defaults and environment variables applied.
func (c *Config) File() string {
	return c.file
}

// EngineConfig maps the sync section onto the engine's pass shape.
func (c *Config) EngineConfig() *sync.Config {
	return &sync.Config{
		BatchSize:      c.Sync.BatchSize,
		MaxRetries:     c.Sync.MaxRetries,
		ConnectTimeout: c.Sync.ConnectTimeout,
		BatchTimeout:   c.Sync.BatchTimeout,
	}
}

// Load resolves the configuration. A non-empty path pins the config file
// and missing it is an error; otherwise taskrelay.yaml is searched for in
// .taskrelay/ and the working directory, and absence is fine.
func Load(path string) (*Config, error) {
	// Errors only mean there is no .env file to fold in.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".taskrelay")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.file = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the resolved configuration against its constraints.
func (c *Config) Validate() error {
	validate := validator.New()
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("failed to validate config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s fails %q", strings.ToLower(fe.Namespace()), fe.Tag()))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", ".taskrelay/tasks.db")

	v.SetDefault("sync.endpoint", "")
	v.SetDefault("sync.batch_size", 50)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.connect_timeout", "5s")
	v.SetDefault("sync.batch_timeout", "30s")
	v.SetDefault("sync.auto_schedule", "")

	v.SetDefault("server.port", 8787)

	v.SetDefault("log.path", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
}
