// Package config loads the server configuration.
//
// Values come from, in increasing priority: DefaultConfig, an optional YAML
// file, PAYLINK_* environment variables (PAYLINK_STORAGE_PATH for
// storage.path and so on), and the legacy PORT / DB_PATH / BASE_URL
// variables. The result is built once at startup and passed down by value.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/shohanonfire/payment-server/store"
)

// Config is the full server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
	Links   LinksConfig   `yaml:"links" mapstructure:"links"`
	Limits  LimitsConfig  `yaml:"limits" mapstructure:"limits"`
	Purge   PurgeConfig   `yaml:"purge" mapstructure:"purge"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr" mapstructure:"addr"`

	// TLSDomain enables Let's Encrypt certificates for this host when set.
	TLSDomain string `yaml:"tls_domain" mapstructure:"tls_domain"`

	// AdminKey guards /admin routes via the X-Admin-Key header. Empty leaves
	// them open, which is only sensible behind a trusted proxy.
	AdminKey string `yaml:"admin_key" mapstructure:"admin_key"`

	AllowOrigin string `yaml:"allow_origin" mapstructure:"allow_origin"`
}

// StorageConfig selects the record store backend.
type StorageConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	Path   string `yaml:"path" mapstructure:"path"`
}

// LinksConfig shapes generated links.
type LinksConfig struct {
	BaseURL              string `yaml:"base_url" mapstructure:"base_url"`
	DefaultExpiryMinutes int    `yaml:"default_expiry_minutes" mapstructure:"default_expiry_minutes"`
}

// LimitsConfig rate-limits link generation per client IP. Zero disables it.
type LimitsConfig struct {
	GeneratePerMinute int `yaml:"generate_per_minute" mapstructure:"generate_per_minute"`
	Burst             int `yaml:"burst" mapstructure:"burst"`
}

// PurgeConfig controls deletion of long-expired records. Records are kept
// forever unless IntervalMinutes is positive.
type PurgeConfig struct {
	IntervalMinutes int `yaml:"interval_minutes" mapstructure:"interval_minutes"`
	RetentionHours  int `yaml:"retention_hours" mapstructure:"retention_hours"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":3000",
			AllowOrigin: "*",
		},
		Storage: StorageConfig{
			Driver: store.DriverBolt,
			Path:   "paylink.db",
		},
		Links: LinksConfig{
			BaseURL:              "https://yourdomain.com",
			DefaultExpiryMinutes: 30,
		},
		Limits: LimitsConfig{
			GeneratePerMinute: 30,
			Burst:             10,
		},
		Purge: PurgeConfig{
			IntervalMinutes: 0,
			RetentionHours:  24 * 7,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// DefaultExpiry returns the configured default link lifetime.
func (c *Config) DefaultExpiry() time.Duration {
	return time.Duration(c.Links.DefaultExpiryMinutes) * time.Minute
}

// PurgeInterval returns the sweep interval; zero means purging is off.
func (c *Config) PurgeInterval() time.Duration {
	return time.Duration(c.Purge.IntervalMinutes) * time.Minute
}

// PurgeRetention returns how long expired records are kept.
func (c *Config) PurgeRetention() time.Duration {
	return time.Duration(c.Purge.RetentionHours) * time.Hour
}

// Load reads configuration from path, or from ./paylink.yaml when path is
// empty and that file exists.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	setDefaults(v, cfg)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("PAYLINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("paylink")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	applyLegacyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.tls_domain", cfg.Server.TLSDomain)
	v.SetDefault("server.admin_key", cfg.Server.AdminKey)
	v.SetDefault("server.allow_origin", cfg.Server.AllowOrigin)
	v.SetDefault("storage.driver", cfg.Storage.Driver)
	v.SetDefault("storage.path", cfg.Storage.Path)
	v.SetDefault("links.base_url", cfg.Links.BaseURL)
	v.SetDefault("links.default_expiry_minutes", cfg.Links.DefaultExpiryMinutes)
	v.SetDefault("limits.generate_per_minute", cfg.Limits.GeneratePerMinute)
	v.SetDefault("limits.burst", cfg.Limits.Burst)
	v.SetDefault("purge.interval_minutes", cfg.Purge.IntervalMinutes)
	v.SetDefault("purge.retention_hours", cfg.Purge.RetentionHours)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
}

func applyLegacyEnv(cfg *Config) {
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Addr = ":" + port
	}
	if dbPath := os.Getenv("DB_PATH"); dbPath != "" {
		cfg.Storage.Path = dbPath
	}
	if base := os.Getenv("BASE_URL"); base != "" {
		cfg.Links.BaseURL = base
	}
}

// Validate checks the values the server cannot start without.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Links.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("links.base_url %q must be an absolute URL", c.Links.BaseURL)
	}

	switch c.Storage.Driver {
	case store.DriverBolt, store.DriverSQLite, store.DriverJSON:
	default:
		return fmt.Errorf("storage.driver %q must be one of bolt, sqlite, json", c.Storage.Driver)
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return errors.New("storage.path is required")
	}

	if c.Links.DefaultExpiryMinutes <= 0 {
		return fmt.Errorf("links.default_expiry_minutes must be positive, got %d", c.Links.DefaultExpiryMinutes)
	}
	if c.Limits.GeneratePerMinute < 0 || c.Limits.Burst < 0 {
		return errors.New("limits must not be negative")
	}
	if c.Purge.IntervalMinutes < 0 || c.Purge.RetentionHours < 0 {
		return errors.New("purge settings must not be negative")
	}
	return nil
}

const defaultHeader = `# paylink configuration
# Every key can be overridden with PAYLINK_<SECTION>_<KEY>, e.g. PAYLINK_STORAGE_PATH.
`

// WriteDefault writes the default configuration to path. It refuses to
// replace an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}

	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, append([]byte(defaultHeader), data...), 0o600)
}
