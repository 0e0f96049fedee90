// Package config loads the browser API configuration.
//
// Values are resolved in order: built-in defaults, an optional YAML file, then
// environment variables. Command-line flags are applied by the caller on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/entrhq/browser-api/pkg/browser"
	"github.com/entrhq/browser-api/pkg/logging"
)

// DefaultServiceName is reported by the health endpoint.
const DefaultServiceName = "playwright-api"

// Config is the full service configuration.
type Config struct {
	Service string        `yaml:"service"`
	Server  ServerConfig  `yaml:"server"`
	Browser BrowserConfig `yaml:"browser"`
	Policy  PolicyConfig  `yaml:"policy"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// BodyLimit caps request bodies in bytes
	BodyLimit int64 `yaml:"body_limit"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// BrowserConfig configures the engine and every launched browser.
type BrowserConfig struct {
	// Engine is chromium, firefox or webkit
	Engine   string   `yaml:"engine"`
	Headless bool     `yaml:"headless"`
	Args     []string `yaml:"args"`

	// Install downloads the driver and browser on startup
	Install bool `yaml:"install"`

	// DefaultTimeout and SettleTimeout are in milliseconds
	DefaultTimeout float64 `yaml:"default_timeout"`
	SettleTimeout  float64 `yaml:"settle_timeout"`

	// MaxSessions of 0 means unlimited
	MaxSessions int `yaml:"max_sessions"`

	Viewport browser.Viewport `yaml:"viewport"`
}

// PolicyConfig restricts navigation targets by host glob.
type PolicyConfig struct {
	AllowedHosts []string `yaml:"allowed_hosts,omitempty"`
	DeniedHosts  []string `yaml:"denied_hosts,omitempty"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Service: DefaultServiceName,
		Server: ServerConfig{
			Host:            "",
			Port:            3000,
			BodyLimit:       50 << 20,
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MetricsEnabled:  true,
		},
		Browser: BrowserConfig{
			Engine:         "chromium",
			Headless:       true,
			Args:           append([]string(nil), browser.DefaultLaunchArgs...),
			DefaultTimeout: browser.DefaultTimeout,
			SettleTimeout:  browser.DefaultSettleTimeout,
			Viewport: browser.Viewport{
				Width:  browser.DefaultViewportWidth,
				Height: browser.DefaultViewportHeight,
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped when
// path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

// applyEnv overrides fields from PORT, HOST, LOG_LEVEL, LOG_DIR, BROWSER_ENGINE,
// BROWSER_HEADLESS and BROWSER_MAX_SESSIONS.
func (c *Config) applyEnv(lookup lookupFunc) error {
	if v, ok := lookupNonEmpty(lookup, "PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}

	if v, ok := lookupNonEmpty(lookup, "HOST"); ok {
		c.Server.Host = v
	}

	if v, ok := lookupNonEmpty(lookup, "LOG_LEVEL"); ok {
		c.Logging.Level = v
	}

	if v, ok := lookupNonEmpty(lookup, "LOG_DIR"); ok {
		c.Logging.Dir = v
	}

	if v, ok := lookupNonEmpty(lookup, "BROWSER_ENGINE"); ok {
		c.Browser.Engine = v
	}

	if v, ok := lookupNonEmpty(lookup, "BROWSER_HEADLESS"); ok {
		headless, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid BROWSER_HEADLESS %q: %w", v, err)
		}
		c.Browser.Headless = headless
	}

	if v, ok := lookupNonEmpty(lookup, "BROWSER_MAX_SESSIONS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BROWSER_MAX_SESSIONS %q: %w", v, err)
		}
		c.Browser.MaxSessions = n
	}

	return nil
}

func lookupNonEmpty(lookup lookupFunc, key string) (string, bool) {
	v, ok := lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}
	if c.Server.BodyLimit <= 0 {
		return fmt.Errorf("body_limit must be positive, got %d", c.Server.BodyLimit)
	}

	switch c.Browser.Engine {
	case "chromium", "firefox", "webkit":
	default:
		return fmt.Errorf("unsupported browser engine: %q", c.Browser.Engine)
	}
	if c.Browser.MaxSessions < 0 {
		return fmt.Errorf("max_sessions must not be negative, got %d", c.Browser.MaxSessions)
	}
	if c.Browser.DefaultTimeout < 0 || c.Browser.SettleTimeout < 0 {
		return fmt.Errorf("browser timeouts must not be negative")
	}
	if c.Browser.Viewport.Width <= 0 || c.Browser.Viewport.Height <= 0 {
		return fmt.Errorf("invalid viewport %dx%d", c.Browser.Viewport.Width, c.Browser.Viewport.Height)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}

	return nil
}

// ServerAddress returns the listen address.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// LaunchOptions returns the options passed to the engine for every session.
func (c *Config) LaunchOptions() browser.LaunchOptions {
	viewport := c.Browser.Viewport
	return browser.LaunchOptions{
		Headless: c.Browser.Headless,
		Args:     append([]string(nil), c.Browser.Args...),
		Viewport: &viewport,
		Timeout:  c.Browser.DefaultTimeout,
	}
}

// LogConfig returns the pkg/logging configuration.
func (c *Config) LogConfig() (logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{Level: level, Dir: c.Logging.Dir}, nil
}
