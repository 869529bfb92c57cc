package infra

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Launcher kinds for dispatch.launcher.
const (
	LauncherExec = "exec"
	LauncherTab  = "tab"
)

// Settings backends for settings.backend.
const (
	BackendEncrypted = "encrypted"
	BackendFile      = "file"
	BackendMemory    = "memory"
)

// Config is the optional config.yaml in the data directory.
type Config struct {
	Dispatch DispatchConfig `yaml:"dispatch"`
	Notify   NotifyConfig   `yaml:"notify"`
	Settings SettingsConfig `yaml:"settings"`
	Browser  BrowserConfig  `yaml:"browser"`
}

// DispatchConfig controls the privileged side.
type DispatchConfig struct {
	CleanupDelay time.Duration `yaml:"cleanup_delay"`
	Launcher     string        `yaml:"launcher"`   // exec | tab
	ChromeURL    string        `yaml:"chrome_url"` // for the tab launcher
}

// NotifyConfig controls on-page overlays.
type NotifyConfig struct {
	Timeout   time.Duration `yaml:"timeout"`
	OnSuccess bool          `yaml:"on_success"`
}

// SettingsConfig selects the settings store.
type SettingsConfig struct {
	Backend     string        `yaml:"backend"` // encrypted | file | memory
	LoadTimeout time.Duration `yaml:"load_timeout"`
	Debounce    time.Duration `yaml:"debounce"`
}

// BrowserConfig controls the live Chrome session used by browse.
type BrowserConfig struct {
	Headless bool   `yaml:"headless"`
	Bin      string `yaml:"bin"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// LoadConfig reads a YAML configuration file. A missing file yields defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Dispatch.CleanupDelay <= 0 {
		c.Dispatch.CleanupDelay = 500 * time.Millisecond
	}
	if c.Dispatch.Launcher == "" {
		c.Dispatch.Launcher = LauncherExec
	}
	if c.Notify.Timeout <= 0 {
		c.Notify.Timeout = 4 * time.Second
	}
	if c.Settings.Backend == "" {
		c.Settings.Backend = BackendEncrypted
	}
	if c.Settings.LoadTimeout <= 0 {
		c.Settings.LoadTimeout = 5 * time.Second
	}
	if c.Settings.Debounce <= 0 {
		c.Settings.Debounce = 100 * time.Millisecond
	}
}

// Validate rejects unknown enum values.
func (c *Config) Validate() error {
	switch c.Dispatch.Launcher {
	case LauncherExec, LauncherTab:
	default:
		return fmt.Errorf("invalid dispatch.launcher %q (want %s or %s)", c.Dispatch.Launcher, LauncherExec, LauncherTab)
	}
	switch c.Settings.Backend {
	case BackendEncrypted, BackendFile, BackendMemory:
	default:
		return fmt.Errorf("invalid settings.backend %q", c.Settings.Backend)
	}
	return nil
}
