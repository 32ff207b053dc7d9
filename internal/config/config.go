// Package config loads flowmetrics settings.
//
// Precedence (highest to lowest): explicitly set flags > FLOWMETRICS_* env vars >
// config file > defaults. A .env file in the working directory is loaded into
// the process environment first and never overrides variables already set.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

const (
	EnvPrefix       = "FLOWMETRICS_"
	DefaultFile     = "flowmetrics.yaml"
	DefaultPort     = 8080
	DefaultTimezone = "UTC"
)

type Config struct {
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	N8N       N8NConfig       `koanf:"n8n"`
	HTTP      HTTPConfig      `koanf:"http"`
	Log       LogConfig       `koanf:"log"`
	Sync      SyncConfig      `koanf:"sync"`
	Snapshots SnapshotsConfig `koanf:"snapshots"`
	Metrics   MetricsConfig   `koanf:"metrics"`
}

type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// RedisConfig configures the snapshot store. An empty Addr disables snapshots.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type N8NConfig struct {
	BaseURL  string        `koanf:"base_url"`
	APIKey   string        `koanf:"api_key"`
	PageSize int           `koanf:"page_size"`
	RetryMax int           `koanf:"retry_max"`
	Timeout  time.Duration `koanf:"timeout"`
}

type HTTPConfig struct {
	Port int `koanf:"port"`
}

type LogConfig struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

// SyncConfig controls n8n synchronisation. An empty Schedule disables the periodic job.
type SyncConfig struct {
	Workers  int    `koanf:"workers"`
	Schedule string `koanf:"schedule"`
}

type SnapshotsConfig struct {
	Schedule       string `koanf:"schedule"`
	MaxPerWorkflow int    `koanf:"max_per_workflow"`
}

type MetricsConfig struct {
	WindowDays int    `koanf:"window_days"`
	Timezone   string `koanf:"timezone"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"http.port":                  DefaultPort,
		"log.level":                  "INFO",
		"log.json":                   false,
		"n8n.page_size":              100,
		"n8n.retry_max":              3,
		"n8n.timeout":                "30s",
		"redis.db":                   0,
		"sync.workers":               4,
		"sync.schedule":              "",
		"snapshots.schedule":         "",
		"snapshots.max_per_workflow": 100,
		"metrics.window_days":        7,
		"metrics.timezone":           DefaultTimezone,
	}
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"db":            "database.url",
	"redis":         "redis.addr",
	"n8n-url":       "n8n.base_url",
	"n8n-key":       "n8n.api_key",
	"port":          "http.port",
	"log-level":     "log.level",
	"log-json":      "log.json",
	"workers":       "sync.workers",
	"timezone":      "metrics.timezone",
	"window-days":   "metrics.window_days",
	"sync-cron":     "sync.schedule",
	"snapshot-cron": "snapshots.schedule",
}

// envKey turns FLOWMETRICS_N8N_BASE_URL into n8n.base_url. Only the first
// underscore separates the section so keys may contain underscores.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// Load reads the configuration. cfgFile may be empty, in which case
// flowmetrics.yaml is used if it exists. flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "failed to load .env")
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if cfgFile == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			cfgFile = DefaultFile
		}
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if cfg.Database.URL == "" {
		cfg.Database.URL = DatabaseURLFromEnv()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DatabaseURLFromEnv builds a connection string from the DB_* variables, or
// returns "" when any of them is missing.
func DatabaseURLFromEnv() string {
	user := os.Getenv("DB_USERNAME")
	password := os.Getenv("DB_PASSWORD")
	host := os.Getenv("DB_HOST")
	port := os.Getenv("DB_PORT")
	name := os.Getenv("DB_NAME")
	if user == "" || password == "" || host == "" || port == "" || name == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, name)
}

// Validate checks values that cannot be fixed by a default.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return errors.Errorf("invalid http.port %d", c.HTTP.Port)
	}
	if c.Metrics.WindowDays < 1 {
		return errors.Errorf("invalid metrics.window_days %d: must be at least 1", c.Metrics.WindowDays)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves metrics.timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Metrics.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Metrics.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid metrics.timezone %q", c.Metrics.Timezone)
	}
	return loc, nil
}
