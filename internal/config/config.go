// Package config loads runtime configuration from environment variables and
// an optional yaml file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/francyfox/sqstat/internal/parser"
)

const (
	defaultListen        = ":3000"
	defaultRedisAddr     = "localhost:6379"
	defaultLogPath       = "/tmp/squid/log/access.log"
	defaultRetention     = 90 * 24 * time.Hour
	defaultBackfillLines = 10000
)

// Config is the full runtime configuration.
type Config struct {
	Listen string `mapstructure:"listen"`

	RedisAddr     string `mapstructure:"redis-addr"`
	RedisPassword string `mapstructure:"redis-password"`
	RedisDB       int    `mapstructure:"redis-db"`

	LogPath       string        `mapstructure:"log-path"`
	LogFormat     string        `mapstructure:"log-format"`
	UDPEnabled    bool          `mapstructure:"udp-enabled"`
	UDPAddr       string        `mapstructure:"udp-addr"`
	Retention     time.Duration `mapstructure:"retention"`
	BackfillLines int           `mapstructure:"backfill-lines"`

	HtpasswdFile string `mapstructure:"htpasswd-file"`
	AuthUser     string `mapstructure:"auth-user"`
	AuthPass     string `mapstructure:"auth-pass"`

	GeoIPDBPath string `mapstructure:"geoip-db-path"`

	ConfigPath string `mapstructure:"-"` // not from config file
}

// Load reads configuration from SQSTAT_* environment variables and, when
// configPath is set or the default file exists, a yaml file. A format string
// that does not compile is a startup failure.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SQSTAT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("listen", defaultListen)
	v.SetDefault("redis-addr", defaultRedisAddr)
	v.SetDefault("redis-db", 0)
	v.SetDefault("log-path", defaultLogPath)
	v.SetDefault("log-format", parser.DefaultFormat)
	v.SetDefault("udp-enabled", false)
	v.SetDefault("udp-addr", ":5140")
	v.SetDefault("retention", defaultRetention)
	v.SetDefault("backfill-lines", defaultBackfillLines)

	// Keys without meaningful defaults still need to be declared so env
	// overrides reach Unmarshal.
	v.SetDefault("redis-password", "")
	v.SetDefault("htpasswd-file", "")
	v.SetDefault("auth-user", "")
	v.SetDefault("auth-pass", "")
	v.SetDefault("geoip-db-path", "")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("sqstat")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/sqstat")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.ConfigPath = v.ConfigFileUsed()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Retention < 0 {
		return fmt.Errorf("invalid retention: %s", c.Retention)
	}
	if c.BackfillLines < 0 {
		return fmt.Errorf("invalid backfill-lines: %d", c.BackfillLines)
	}
	if c.UDPEnabled && c.UDPAddr == "" {
		return errors.New("udp-addr required when udp is enabled")
	}
	// Refuse to start with a format that would silently drop fields.
	if _, err := parser.Compile(c.LogFormat); err != nil {
		return fmt.Errorf("invalid log-format: %w", err)
	}
	return nil
}
