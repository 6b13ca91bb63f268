// Package config loads the mongorito CLI configuration with viper.
//
// Values come, from highest to lowest precedence, from bound command-line
// flags, MONGORITO_* environment variables, a YAML file and the defaults:
//
//	urls:
//	  - mongodb://localhost/blog
//	  - sqlite:///var/lib/blog.db
//	log:
//	  level: info
//	  format: text
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/waigo/mongorito/internal/ctxlog"
)

const (
	configFileName = "mongorito"
	configFileType = "yaml"
	envPrefix      = "MONGORITO"

	KeyURLs      = "urls"
	KeyLogLevel  = "log.level"
	KeyLogFormat = "log.format"

	// DefaultURL keeps data in process memory.
	DefaultURL = "mem://mongorito"
)

// Config is the decoded configuration.
type Config struct {
	URLs []string `mapstructure:"urls" yaml:"urls"`
	Log  Log      `mapstructure:"log" yaml:"log"`
}

// Log configures the slog logger.
type Log struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// New returns a viper instance with defaults and environment binding set
// up. Callers bind their flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetDefault(KeyURLs, []string{DefaultURL})
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration file and decodes the result. An explicit
// path must exist; otherwise mongorito.yaml is looked up in the working
// directory and the user config directory, and a missing file is not an
// error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configFileName)
		v.SetConfigType(configFileType)
		v.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "mongorito"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the decoded values.
func (c *Config) Validate() error {
	if len(c.URLs) == 0 {
		return errors.New("config: at least one store url is required")
	}
	for _, u := range c.URLs {
		if !strings.Contains(u, "://") {
			return fmt.Errorf("config: store url %q has no scheme", u)
		}
	}
	if _, err := ctxlog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	return nil
}
