// Package config loads cftail settings from flags, environment and a YAML
// file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/clarabennett2626/cftail/internal/tail"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable, e.g. CFTAIL_TOKEN.
const EnvPrefix = "CFTAIL"

// Keys.
const (
	KeyAPI           = "api"
	KeyToken         = "token"
	KeyInterval      = "interval"
	KeyMaxInterval   = "max_interval"
	KeyMaxAttempts   = "max_attempts"
	KeyRetryEvery    = "retry_every"
	KeyFetchTimeout  = "fetch_timeout"
	KeyLocalDir      = "local_dir"
	KeyNATSURL       = "nats.url"
	KeyNATSPrefix    = "nats.subject_prefix"
	KeyTheme         = "theme"
	KeyPlain         = "plain"
	KeyLogLevel      = "log.level"
	KeyLogFile       = "log.file"
	KeyLogMaxSizeMB  = "log.max_size_mb"
	KeyLogMaxBackups = "log.max_backups"
)

// Config is the effective configuration.
type Config struct {
	API          string        `mapstructure:"api" yaml:"api" validate:"required_without=LocalDir,omitempty,url"`
	Token        string        `mapstructure:"token" yaml:"token"`
	Interval     time.Duration `mapstructure:"interval" yaml:"interval" validate:"gt=0"`
	MaxInterval  time.Duration `mapstructure:"max_interval" yaml:"max_interval" validate:"omitempty,gtefield=Interval"`
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts" validate:"gte=1"`
	RetryEvery   int           `mapstructure:"retry_every" yaml:"retry_every" validate:"gte=0"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout" yaml:"fetch_timeout" validate:"gt=0"`
	LocalDir     string        `mapstructure:"local_dir" yaml:"local_dir"`
	NATS         NATS          `mapstructure:"nats" yaml:"nats"`
	Theme        string        `mapstructure:"theme" yaml:"theme" validate:"oneof=dark light"`
	Plain        bool          `mapstructure:"plain" yaml:"plain"`
	Log          Log           `mapstructure:"log" yaml:"log"`
}

// NATS configures the optional publishing sink.
type NATS struct {
	URL           string `mapstructure:"url" yaml:"url" validate:"omitempty,url"`
	SubjectPrefix string `mapstructure:"subject_prefix" yaml:"subject_prefix" validate:"required"`
}

// Log configures the diagnostics logger.
type Log struct {
	Level      string `mapstructure:"level" yaml:"level" validate:"oneof=trace debug info warn error disabled"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" validate:"gte=1"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" validate:"gte=0"`
}

// DefaultDir is the directory searched for config.yaml.
func DefaultDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "cftail")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "cftail")
}

// SetDefaults registers the default of every key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyAPI, "")
	v.SetDefault(KeyToken, "")
	v.SetDefault(KeyInterval, tail.DefaultInterval)
	v.SetDefault(KeyMaxInterval, time.Duration(0))
	v.SetDefault(KeyMaxAttempts, tail.DefaultMaxAttempts)
	v.SetDefault(KeyRetryEvery, tail.DefaultMessageEvery)
	v.SetDefault(KeyFetchTimeout, tail.DefaultFetchTimeout)
	v.SetDefault(KeyLocalDir, "")
	v.SetDefault(KeyNATSURL, "")
	v.SetDefault(KeyNATSPrefix, "cftail")
	v.SetDefault(KeyTheme, "dark")
	v.SetDefault(KeyPlain, false)
	v.SetDefault(KeyLogLevel, "warn")
	v.SetDefault(KeyLogFile, filepath.Join(DefaultDir(), "cftail.log"))
	v.SetDefault(KeyLogMaxSizeMB, 10)
	v.SetDefault(KeyLogMaxBackups, 3)
}

// New returns a viper instance with defaults and CFTAIL_* environment
// lookup. Nested keys map to underscores, so nats.url is CFTAIL_NATS_URL.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads file, or config.yaml from DefaultDir when file is empty, and
// returns the validated configuration. A missing default file is not an
// error.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultDir())
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := Validate(&c); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &c, nil
}

// RetryPolicy returns the stream retry policy described by c.
func (c *Config) RetryPolicy() tail.RetryPolicy {
	return tail.RetryPolicy{
		MaxAttempts: c.MaxAttempts,
		Retry:       tail.EveryNth(c.RetryEvery),
	}
}

// YAML renders c with the token redacted.
func (c Config) YAML() ([]byte, error) {
	if c.Token != "" {
		c.Token = "<redacted>"
	}
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return out, nil
}
