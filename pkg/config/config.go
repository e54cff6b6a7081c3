// Package config loads and validates the static configuration this server
// needs at startup: logging, the three protocol adapters, and the metrics
// endpoint. Dynamic state (installed shares) is supplied by the embedding
// application through shared.Registry, not through this package.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/dittofs/internal/logger"
	"github.com/marmos91/dittofs/pkg/adapter/nfs"
	"github.com/marmos91/dittofs/pkg/adapter/smb"
	"github.com/marmos91/dittofs/pkg/ftp"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// MetricsConfig configures the Prometheus /metrics HTTP endpoint.
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	BindAddress string `mapstructure:"bind_address"`
	Port        int    `mapstructure:"port" validate:"min=0,max=65535"`
}

// LoggingConfig controls internal/logger's runtime level/format/output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error DEBUG INFO WARN ERROR"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
	Output string `mapstructure:"output"`
}

// Config is the root configuration for the dittofs-core server binary.
//
// Sources, in precedence order: environment variables (DITTOFS_*) > YAML
// config file > defaults. The CLI only chooses the config file path.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// FTP/NFS/SMB are untouched by validate(): each adapter's own New
	// applies its defaults and enforces its own invariants at construction
	// time, so this package only assembles the tree, it doesn't duplicate
	// per-protocol validation.
	FTP ftp.Config    `mapstructure:"ftp" validate:"-"`
	NFS nfs.Config    `mapstructure:"nfs" validate:"-"`
	SMB smb.SMBConfig `mapstructure:"smb" validate:"-"`
}

func defaults() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Metrics: MetricsConfig{Enabled: true, BindAddress: "0.0.0.0", Port: 9090},
		ShutdownTimeout: 30 * time.Second,
	}
}

// Load reads configuration from path (if non-empty), overlays DITTOFS_*
// environment variables, and validates the result. path may be empty to
// rely entirely on environment variables and defaults. Environment
// variables apply to the logging, metrics and shutdown_timeout keys and to
// any key the config file sets.
func Load(path string) (*Config, error) {
	cfg := defaults()

	v := viper.New()
	v.SetEnvPrefix("DITTOFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	// Unmarshal only sees keys viper knows about; registering the defaults
	// lets AutomaticEnv override them even without a config file.
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("metrics.bind_address", cfg.Metrics.BindAddress)
	v.SetDefault("metrics.port", cfg.Metrics.Port)
	v.SetDefault("shutdown_timeout", cfg.ShutdownTimeout)

	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
}

func (c *Config) validate() error {
	return validator.New().Struct(c)
}

// LoggerConfig adapts this package's logging fields to internal/logger's
// own Config shape.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Output: c.Logging.Output,
	}
}
