package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides
// (e.g., MAILSETUP_SERVER_ADDR).
const EnvPrefix = "MAILSETUP"

// ServerConfigSection holds HTTP API settings.
type ServerConfigSection struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// DatabaseConfig holds persistence settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// DiscoveryConfig holds autodiscovery settings.
type DiscoveryConfig struct {
	// TimeoutSec bounds a whole discover call.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`

	// ProbeTimeoutSec bounds a single IMAP greeting probe.
	ProbeTimeoutSec int `mapstructure:"probe_timeout_sec" yaml:"probe_timeout_sec"`

	// DNSServer is the resolver used for SRV lookups (host:port).
	// Empty means the system resolver from /etc/resolv.conf.
	DNSServer string `mapstructure:"dns_server" yaml:"dns_server"`

	// ISPDBURL is the base URL of the Thunderbird ISP database.
	ISPDBURL string `mapstructure:"ispdb_url" yaml:"ispdb_url"`

	// Autoconfig enables HTTP autoconfig lookups.
	Autoconfig bool `mapstructure:"autoconfig" yaml:"autoconfig"`

	// Probe enables direct IMAP probes of guessed hosts.
	Probe bool `mapstructure:"probe" yaml:"probe"`
}

// ConnectionConfig holds connection-test settings.
type ConnectionConfig struct {
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// RateLimitConfig limits how fast a single user may dispatch setup events.
type RateLimitConfig struct {
	EventsPerMinute int `mapstructure:"events_per_minute" yaml:"events_per_minute"`
	Burst           int `mapstructure:"burst" yaml:"burst"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Server     ServerConfigSection `mapstructure:"server" yaml:"server"`
	Database   DatabaseConfig      `mapstructure:"database" yaml:"database"`
	Discovery  DiscoveryConfig     `mapstructure:"discovery" yaml:"discovery"`
	Connection ConnectionConfig    `mapstructure:"connection" yaml:"connection"`
	Log        LogConfig           `mapstructure:"log" yaml:"log"`
	RateLimit  RateLimitConfig     `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// Timeout returns the discovery timeout as a duration.
func (c DiscoveryConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// ProbeTimeout returns the per-probe timeout as a duration.
func (c DiscoveryConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSec) * time.Second
}

// Timeout returns the connection-test timeout as a duration.
func (c ConnectionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// configDir returns ~/.config/mailsetup, or the working directory when the
// home directory cannot be determined.
func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "mailsetup")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailsetup/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// DefaultCredentialDir returns the directory used by the file keyring backend.
func DefaultCredentialDir() string {
	return filepath.Join(configDir(), "credentials")
}

// DefaultAppConfig returns a sensible default configuration.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Server:   ServerConfigSection{Addr: ":8080"},
		Database: DatabaseConfig{Path: filepath.Join(configDir(), "mailsetup.db")},
		Discovery: DiscoveryConfig{
			TimeoutSec:      15,
			ProbeTimeoutSec: 5,
			ISPDBURL:        "https://autoconfig.thunderbird.net/v1.1/",
			Autoconfig:      true,
			Probe:           true,
		},
		Connection: ConnectionConfig{TimeoutSec: 20},
		RateLimit:  RateLimitConfig{EventsPerMinute: 60, Burst: 10},
	}
}

// setDefaults registers every default with v so missing keys resolve to
// sensible values and environment overrides are recognized.
func setDefaults(v *viper.Viper) {
	d := DefaultAppConfig()
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("discovery.timeout_sec", d.Discovery.TimeoutSec)
	v.SetDefault("discovery.probe_timeout_sec", d.Discovery.ProbeTimeoutSec)
	v.SetDefault("discovery.dns_server", d.Discovery.DNSServer)
	v.SetDefault("discovery.ispdb_url", d.Discovery.ISPDBURL)
	v.SetDefault("discovery.autoconfig", d.Discovery.Autoconfig)
	v.SetDefault("discovery.probe", d.Discovery.Probe)
	v.SetDefault("connection.timeout_sec", d.Connection.TimeoutSec)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("rate_limit.events_per_minute", d.RateLimit.EventsPerMinute)
	v.SetDefault("rate_limit.burst", d.RateLimit.Burst)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, defaults (plus environment overrides) are used.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		_, isPathErr := err.(*os.PathError)
		_, isNotFound := err.(viper.ConfigFileNotFoundError)
		if !isPathErr && !isNotFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := DefaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Discovery.TimeoutSec <= 0 {
		cfg.Discovery.TimeoutSec = 15
	}
	if cfg.Discovery.ProbeTimeoutSec <= 0 {
		cfg.Discovery.ProbeTimeoutSec = 5
	}
	if cfg.Connection.TimeoutSec <= 0 {
		cfg.Connection.TimeoutSec = 20
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("server", cfg.Server)
	v.Set("database", cfg.Database)
	v.Set("discovery", cfg.Discovery)
	v.Set("connection", cfg.Connection)
	v.Set("log", cfg.Log)
	v.Set("rate_limit", cfg.RateLimit)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
