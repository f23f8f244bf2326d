// Package config loads the fit CLI configuration from a TOML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/zap/zapcore"
)

// Config is the resolved CLI configuration. Paths are absolute.
type Config struct {
	APIBase        string
	FoodFactsBase  string
	RequestTimeout time.Duration
	DataDir        string
	SecureDir      string
	LogLevel       string
	PassphraseEnv  string
}

const (
	DefaultAPIBase        = "http://127.0.0.1:8080"
	DefaultFoodFactsBase  = "https://world.openfoodfacts.org"
	DefaultRequestTimeout = 15 * time.Second
	DefaultLogLevel       = "warn"
	DefaultPassphraseEnv  = "FITPANDA_PASSPHRASE"

	defaultDataDir = "~/.local/share/fitpanda"
	appDir         = "fitpanda"
)

// Default returns the configuration used when no file exists.
func Default() Config {
	data := mustExpand(defaultDataDir)
	return Config{
		APIBase:        DefaultAPIBase,
		FoodFactsBase:  DefaultFoodFactsBase,
		RequestTimeout: DefaultRequestTimeout,
		DataDir:        data,
		SecureDir:      filepath.Join(data, "secure"),
		LogLevel:       DefaultLogLevel,
		PassphraseEnv:  DefaultPassphraseEnv,
	}
}

// DefaultPath is $XDG_CONFIG_HOME/fitpanda/config.toml, or the same under
// ~/.config when XDG_CONFIG_HOME is unset.
func DefaultPath() string {
	if v := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); v != "" {
		return filepath.Join(v, appDir, "config.toml")
	}
	return mustExpand(filepath.Join("~/.config", appDir, "config.toml"))
}

// Load parses the file at path (DefaultPath when empty). A missing file
// yields Default.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		path = DefaultPath()
	}
	resolved, err := expandPath(path)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()
	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var raw struct {
		APIBase        string `toml:"api_base"`
		FoodFactsBase  string `toml:"foodfacts_base"`
		RequestTimeout string `toml:"request_timeout"`
		DataDir        string `toml:"data_dir"`
		SecureDir      string `toml:"secure_dir"`
		LogLevel       string `toml:"log_level"`
		PassphraseEnv  string `toml:"passphrase_env"`
	}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if v := strings.TrimSpace(raw.APIBase); v != "" {
		cfg.APIBase = v
	}
	if v := strings.TrimSpace(raw.FoodFactsBase); v != "" {
		cfg.FoodFactsBase = v
	}
	if v := strings.TrimSpace(raw.RequestTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("parse config: request_timeout: %w", err)
		}
		cfg.RequestTimeout = d
	}
	secureSet := false
	if v := strings.TrimSpace(raw.DataDir); v != "" {
		cfg.DataDir = mustExpand(v)
	}
	if v := strings.TrimSpace(raw.SecureDir); v != "" {
		cfg.SecureDir = mustExpand(v)
		secureSet = true
	}
	if !secureSet {
		cfg.SecureDir = filepath.Join(cfg.DataDir, "secure")
	}
	if v := strings.TrimSpace(raw.LogLevel); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if v := strings.TrimSpace(raw.PassphraseEnv); v != "" {
		cfg.PassphraseEnv = v
	}
	return cfg, cfg.Validate()
}

// Overrides are command-line values; zero fields leave the file value alone.
type Overrides struct {
	APIBase        string
	RequestTimeout time.Duration
	DataDir        string
	LogLevel       string
}

// Apply merges o into c. A new DataDir moves the default secure dir with it.
func (c *Config) Apply(o Overrides) error {
	if v := strings.TrimSpace(o.APIBase); v != "" {
		c.APIBase = v
	}
	if o.RequestTimeout != 0 {
		c.RequestTimeout = o.RequestTimeout
	}
	if v := strings.TrimSpace(o.DataDir); v != "" {
		moved := c.SecureDir == filepath.Join(c.DataDir, "secure")
		c.DataDir = mustExpand(v)
		if moved {
			c.SecureDir = filepath.Join(c.DataDir, "secure")
		}
	}
	if v := strings.TrimSpace(o.LogLevel); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	return c.Validate()
}

// Validate checks values that cannot be defaulted.
func (c Config) Validate() error {
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("config: log_level: %w", err)
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (zapcore.Level, error) {
	return zapcore.ParseLevel(c.LogLevel)
}

// LibraryDB is the general storage database file.
func (c Config) LibraryDB() string { return filepath.Join(c.DataDir, "fitpanda.db") }

// Passphrase returns the secure storage passphrase from the configured
// environment variable, or nil when unset.
func (c Config) Passphrase() []byte {
	if c.PassphraseEnv == "" {
		return nil
	}
	if v := os.Getenv(c.PassphraseEnv); v != "" {
		return []byte(v)
	}
	return nil
}

func mustExpand(path string) string {
	expanded, err := expandPath(path)
	if err != nil {
		return path
	}
	return expanded
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
