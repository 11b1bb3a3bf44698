// Package config loads loyalty tracker settings.
//
// Settings come from, in increasing priority: built-in defaults, a YAML or
// TOML config file, and LOYALTY_ environment variables (dots become
// underscores, so api.port is LOYALTY_API_PORT). A .env file in the
// working directory is loaded into the environment first; it never
// overrides variables that are already set.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/pdavies/carpetloyalty/internal/loyalty/remote"
	"github.com/pdavies/carpetloyalty/internal/loyalty/repo"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LOYALTY"

// Config is the full application configuration.
type Config struct {
	DB        DBConfig      `mapstructure:"db" yaml:"db" toml:"db"`
	Remote    RemoteConfig  `mapstructure:"remote" yaml:"remote" toml:"remote"`
	Sync      SyncConfig    `mapstructure:"sync" yaml:"sync" toml:"sync"`
	API       PortConfig    `mapstructure:"api" yaml:"api" toml:"api"`
	Dashboard PortConfig    `mapstructure:"dashboard" yaml:"dashboard" toml:"dashboard"`
	Log       LogConfig     `mapstructure:"log" yaml:"log" toml:"log"`
	Barcode   BarcodeConfig `mapstructure:"barcode" yaml:"barcode" toml:"barcode"`

	// File is the config file that was read, empty when none was found.
	File string `mapstructure:"-" yaml:"-" toml:"-"`
}

type DBConfig struct {
	Path string `mapstructure:"path" yaml:"path" toml:"path"`
}

type RemoteConfig struct {
	Backend string      `mapstructure:"backend" yaml:"backend" toml:"backend"`
	Dir     string      `mapstructure:"dir" yaml:"dir" toml:"dir"`
	Redis   RedisConfig `mapstructure:"redis" yaml:"redis" toml:"redis"`
	S3      S3Config    `mapstructure:"s3" yaml:"s3" toml:"s3"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr" toml:"addr"`
	Password string `mapstructure:"password" yaml:"password" toml:"password"`
	DB       int    `mapstructure:"db" yaml:"db" toml:"db"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix" toml:"prefix"`
}

type S3Config struct {
	Bucket    string `mapstructure:"bucket" yaml:"bucket" toml:"bucket"`
	Region    string `mapstructure:"region" yaml:"region" toml:"region"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint" toml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key" toml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key" toml:"secret_key"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix" toml:"prefix"`
	PathStyle bool   `mapstructure:"path_style" yaml:"path_style" toml:"path_style"`
}

type SyncConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval" toml:"interval"`
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout" toml:"timeout"`
	SpoolDir string        `mapstructure:"spool_dir" yaml:"spool_dir" toml:"spool_dir"`
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce" toml:"debounce"`
}

type PortConfig struct {
	Port int `mapstructure:"port" yaml:"port" toml:"port"`
}

type LogConfig struct {
	File       string `mapstructure:"file" yaml:"file" toml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress" toml:"compress"`
}

type BarcodeConfig struct {
	Prefix string `mapstructure:"prefix" yaml:"prefix" toml:"prefix"`
	Width  int    `mapstructure:"width" yaml:"width" toml:"width"`
}

var defaults = map[string]any{
	"db.path":               ".loyalty/loyalty.db",
	"remote.backend":        remote.BackendFile,
	"remote.dir":            ".loyalty/remote",
	"remote.redis.addr":     "localhost:6379",
	"remote.redis.password": "",
	"remote.redis.db":       0,
	"remote.redis.prefix":   "loyalty",
	"remote.s3.bucket":      "",
	"remote.s3.region":      "us-east-1",
	"remote.s3.endpoint":    "",
	"remote.s3.access_key":  "",
	"remote.s3.secret_key":  "",
	"remote.s3.prefix":      "loyalty",
	"remote.s3.path_style":  false,
	"sync.interval":         "5m",
	"sync.timeout":          "30s",
	"sync.spool_dir":        "",
	"sync.debounce":         "500ms",
	"api.port":              8080,
	"dashboard.port":        8081,
	"log.file":              "",
	"log.max_size_mb":       10,
	"log.max_backups":       3,
	"log.max_age_days":      28,
	"log.compress":          true,
	"barcode.prefix":        "PDC",
	"barcode.width":         6,
}

// Keys returns every configuration key.
func Keys() []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	return keys
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := newViper().Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("invalid config defaults: %v", err))
	}
	return &cfg
}

// Load reads configuration. configFile may be empty, in which case
// loyalty.yaml (or .toml) is looked up in the working directory and in
// $HOME/.config/loyalty.
func Load(configFile string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := newViper()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("loyalty")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "loyalty"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// loadDotEnv loads path into the environment if it exists.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.DB.Path == "" {
		return fmt.Errorf("db.path is required")
	}

	switch strings.ToLower(c.Remote.Backend) {
	case remote.BackendMemory:
	case remote.BackendFile:
		if c.Remote.Dir == "" {
			return fmt.Errorf("remote.dir is required for the file backend")
		}
	case remote.BackendRedis:
		if c.Remote.Redis.Addr == "" {
			return fmt.Errorf("remote.redis.addr is required for the redis backend")
		}
	case remote.BackendS3:
		if c.Remote.S3.Bucket == "" {
			return fmt.Errorf("remote.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("unknown remote.backend %q (want memory, file, redis or s3)", c.Remote.Backend)
	}

	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive (got %v)", c.Sync.Interval)
	}
	if c.Sync.Timeout <= 0 {
		return fmt.Errorf("sync.timeout must be positive (got %v)", c.Sync.Timeout)
	}
	if c.Sync.Debounce <= 0 {
		return fmt.Errorf("sync.debounce must be positive (got %v)", c.Sync.Debounce)
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port out of range (got %d)", c.API.Port)
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port out of range (got %d)", c.Dashboard.Port)
	}
	if c.Barcode.Prefix == "" {
		return fmt.Errorf("barcode.prefix is required")
	}
	if c.Barcode.Width < 1 || c.Barcode.Width > 18 {
		return fmt.Errorf("barcode.width must be between 1 and 18 (got %d)", c.Barcode.Width)
	}
	return nil
}

// RemoteStore returns the remote backend settings.
func (c *Config) RemoteStore() remote.Config {
	return remote.Config{
		Backend: c.Remote.Backend,
		Dir:     c.Remote.Dir,
		Redis: remote.RedisConfig{
			Addr:     c.Remote.Redis.Addr,
			Password: c.Remote.Redis.Password,
			DB:       c.Remote.Redis.DB,
			Prefix:   c.Remote.Redis.Prefix,
		},
		S3: remote.S3Config{
			Bucket:    c.Remote.S3.Bucket,
			Region:    c.Remote.S3.Region,
			Endpoint:  c.Remote.S3.Endpoint,
			AccessKey: c.Remote.S3.AccessKey,
			SecretKey: c.Remote.S3.SecretKey,
			Prefix:    c.Remote.S3.Prefix,
			PathStyle: c.Remote.S3.PathStyle,
		},
	}
}

// Repository returns the business repository settings.
func (c *Config) Repository() repo.Config {
	cfg := repo.DefaultConfig()
	cfg.BarcodePrefix = c.Barcode.Prefix
	cfg.BarcodeWidth = c.Barcode.Width
	return cfg
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Remote.Redis.Password != "" {
		out.Remote.Redis.Password = "****"
	}
	if out.Remote.S3.SecretKey != "" {
		out.Remote.S3.SecretKey = "****"
	}
	if out.Remote.S3.AccessKey != "" {
		out.Remote.S3.AccessKey = "****"
	}
	return &out
}
