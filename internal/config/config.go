// Package config loads service settings from defaults, an optional YAML file
// and KEYSHOP_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "KEYSHOP"

const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

var ErrInvalid = errors.New("config: invalid configuration")

type Config struct {
	ServiceName string `mapstructure:"service_name"`
	Env         string `mapstructure:"env"`
	LogLevel    string `mapstructure:"log_level"`
	LogFile     string `mapstructure:"log_file"`

	HTTPAddr        string        `mapstructure:"http_addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	FeedOrigins     []string      `mapstructure:"feed_origins"`

	// WebhookSecret is the token the chat platform sends with every update.
	WebhookSecret  string   `mapstructure:"webhook_secret"`
	AdminIDs       []string `mapstructure:"admin_ids"`
	Currency       string   `mapstructure:"currency"`
	SupportContact string   `mapstructure:"support_contact"`

	StoreDriver string `mapstructure:"store_driver"`
	StorePath   string `mapstructure:"store_path"`
	StoreDSN    string `mapstructure:"store_dsn"`
	RedisAddr   string `mapstructure:"redis_addr"`
	RedisPrefix string `mapstructure:"redis_prefix"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("service_name", "keyshop")
	v.SetDefault("env", "dev")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("shutdown_timeout", 5*time.Second)
	v.SetDefault("feed_origins", []string{})
	v.SetDefault("webhook_secret", "")
	v.SetDefault("admin_ids", []string{})
	v.SetDefault("currency", "XTR")
	v.SetDefault("support_contact", "")
	v.SetDefault("store_driver", DriverFile)
	v.SetDefault("store_path", "keyshop.json")
	v.SetDefault("store_dsn", "")
	v.SetDefault("redis_addr", "localhost:6379")
	v.SetDefault("redis_prefix", "keyshop:")
}

// Load reads the configuration. path may be empty when no file is used.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	cfg.AdminIDs = splitList(cfg.AdminIDs)
	cfg.FeedOrigins = splitList(cfg.FeedOrigins)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail late at startup.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.HTTPAddr) == "" {
		errs = append(errs, errors.New("http_addr is required"))
	}
	if strings.TrimSpace(c.WebhookSecret) == "" {
		errs = append(errs, errors.New("webhook_secret is required"))
	}
	if strings.TrimSpace(c.Currency) == "" {
		errs = append(errs, errors.New("currency is required"))
	}
	switch c.StoreDriver {
	case DriverFile:
		if c.StorePath == "" {
			errs = append(errs, errors.New("store_path is required for the file driver"))
		}
	case DriverSQLite, DriverMySQL, DriverPostgres:
		if c.StoreDSN == "" {
			errs = append(errs, fmt.Errorf("store_dsn is required for the %s driver", c.StoreDriver))
		}
	case DriverRedis:
		if c.RedisAddr == "" {
			errs = append(errs, errors.New("redis_addr is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store_driver %q", c.StoreDriver))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
