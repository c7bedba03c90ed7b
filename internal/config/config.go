package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// CatalogConfig points at the environment catalog.
type CatalogConfig struct {
	// Source is a file path (.json, .yaml, .yml) or an http(s) URL.
	Source string `mapstructure:"source"`
}

// StoreConfig selects and configures the session store medium.
type StoreConfig struct {
	// Driver is one of "sqlite", "redis" or "memory".
	Driver string `mapstructure:"driver"`

	// SQLitePath is the database file shared by every observer on this host.
	SQLitePath string `mapstructure:"sqlite_path"`

	// RedisURL is a redis:// URL shared by every observer, possibly across hosts.
	RedisURL string `mapstructure:"redis_url"`

	// RedisPrefix namespaces the hash and the change channel.
	RedisPrefix string `mapstructure:"redis_prefix"`

	// PollInterval is how often the sqlite medium re-checks its change log
	// when no filesystem event arrives.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// BreakerConfig configures the circuit breaker in front of the control plane.
type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// ControlPlaneConfig describes the provisioning backend.
type ControlPlaneConfig struct {
	URL     string        `mapstructure:"url"`
	Secret  string        `mapstructure:"secret"`
	Timeout time.Duration `mapstructure:"timeout"`
	Breaker BreakerConfig `mapstructure:"breaker"`
}

// LabConfig holds lifecycle policy.
type LabConfig struct {
	// RentalWindow is shown as the time remaining of a running lab.
	RentalWindow time.Duration `mapstructure:"rental_window"`
}

// VPNConfig points at the VPN artifact service.
type VPNConfig struct {
	URL string `mapstructure:"url"`
}

// ScannerConfig controls how a running lab's chain is scanned for contracts.
type ScannerConfig struct {
	Scheme  string        `mapstructure:"scheme"`
	Port    int           `mapstructure:"port"`
	Window  uint64        `mapstructure:"window"`
	Timeout time.Duration `mapstructure:"timeout"`
	// Insecure accepts the self-signed certificates lab nodes serve.
	Insecure bool `mapstructure:"insecure"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig enables tracing export and a metrics listener.
type TelemetryConfig struct {
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	MetricsAddr  string `mapstructure:"metrics_addr"`
}

// Config is the top-level configuration for labctl.
type Config struct {
	Catalog      CatalogConfig      `mapstructure:"catalog"`
	Store        StoreConfig        `mapstructure:"store"`
	ControlPlane ControlPlaneConfig `mapstructure:"control_plane"`
	Lab          LabConfig          `mapstructure:"lab"`
	VPN          VPNConfig          `mapstructure:"vpn"`
	Scanner      ScannerConfig      `mapstructure:"scanner"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

// Default returns the configuration used when no file or env override is present.
func Default() *Config {
	return &Config{
		Catalog: CatalogConfig{Source: "boxes.json"},
		Store: StoreConfig{
			Driver:       "sqlite",
			SQLitePath:   filepath.Join(Dir(), "sessions.db"),
			RedisURL:     "redis://localhost:6379/0",
			RedisPrefix:  "labs",
			PollInterval: time.Second,
		},
		ControlPlane: ControlPlaneConfig{
			URL:     "http://localhost:5000",
			Timeout: 30 * time.Second,
			Breaker: BreakerConfig{MaxFailures: 5, OpenTimeout: 30 * time.Second},
		},
		Lab: LabConfig{RentalWindow: 4 * time.Hour},
		VPN: VPNConfig{URL: "http://localhost:5000/generate-vpn"},
		Scanner: ScannerConfig{
			Scheme:   "https",
			Port:     8545,
			Window:   50,
			Timeout:  10 * time.Second,
			Insecure: true,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// SetDefaults registers default values with v so env overrides and partial
// files merge on top of them.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("catalog.source", d.Catalog.Source)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.sqlite_path", d.Store.SQLitePath)
	v.SetDefault("store.redis_url", d.Store.RedisURL)
	v.SetDefault("store.redis_prefix", d.Store.RedisPrefix)
	v.SetDefault("store.poll_interval", d.Store.PollInterval)

	v.SetDefault("control_plane.url", d.ControlPlane.URL)
	v.SetDefault("control_plane.secret", d.ControlPlane.Secret)
	v.SetDefault("control_plane.timeout", d.ControlPlane.Timeout)
	v.SetDefault("control_plane.breaker.max_failures", d.ControlPlane.Breaker.MaxFailures)
	v.SetDefault("control_plane.breaker.open_timeout", d.ControlPlane.Breaker.OpenTimeout)

	v.SetDefault("lab.rental_window", d.Lab.RentalWindow)
	v.SetDefault("vpn.url", d.VPN.URL)

	v.SetDefault("scanner.scheme", d.Scanner.Scheme)
	v.SetDefault("scanner.port", d.Scanner.Port)
	v.SetDefault("scanner.window", d.Scanner.Window)
	v.SetDefault("scanner.timeout", d.Scanner.Timeout)
	v.SetDefault("scanner.insecure", d.Scanner.Insecure)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("telemetry.otlp_endpoint", d.Telemetry.OTLPEndpoint)
	v.SetDefault("telemetry.metrics_addr", d.Telemetry.MetricsAddr)
}

// Path resolves the config file location: the explicit flag value, then the
// LABS_CONFIG env var, then "labs.yaml" in the working directory.
func Path(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if p := os.Getenv("LABS_CONFIG"); p != "" {
		return p
	}
	return "labs.yaml"
}

// Load reads the config file at path (a missing file is not an error),
// applies LABS_* env overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("LABS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite driver")
		}
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required for the redis driver")
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver %q is not one of sqlite, redis, memory", c.Store.Driver)
	}

	if c.Catalog.Source == "" {
		return fmt.Errorf("catalog.source is required")
	}
	if c.ControlPlane.URL == "" {
		return fmt.Errorf("control_plane.url is required")
	}
	if c.ControlPlane.Timeout <= 0 {
		return fmt.Errorf("control_plane.timeout must be positive")
	}
	if c.Lab.RentalWindow <= 0 {
		return fmt.Errorf("lab.rental_window must be positive")
	}
	switch c.Scanner.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("scanner.scheme %q is not one of http, https", c.Scanner.Scheme)
	}
	if c.Scanner.Port <= 0 || c.Scanner.Port > 65535 {
		return fmt.Errorf("scanner.port %d is out of range", c.Scanner.Port)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}
	return nil
}

// Dir returns the per-user state directory.
func Dir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
		return filepath.Join(xdg, "provinggrounds")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".provinggrounds"
	}
	return filepath.Join(home, ".provinggrounds")
}
