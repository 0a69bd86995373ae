package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the configuration file looked up when --config is not given.
const DefaultPath = "pluginhost.yaml"

// Config holds all pluginhost configuration.
type Config struct {
	// Module sources
	Plugins PluginsConfig `yaml:"plugins"`

	// Dependency resolution inside module namespaces
	Resolution ResolutionConfig `yaml:"resolution"`

	// Unload behaviour
	Unload UnloadConfig `yaml:"unload"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// PluginsConfig lists module files to load at startup and directories to watch.
type PluginsConfig struct {
	Paths     []string `yaml:"paths"`
	WatchDirs []string `yaml:"watch_dirs"`
	// Debounce for the directory watcher, e.g. "500ms".
	WatchDebounce string `yaml:"watch_debounce"`
}

// ResolutionConfig configures each module's resolution context.
type ResolutionConfig struct {
	// StagingDir is where per-module GOPATHs are created. Empty means the OS temp dir.
	StagingDir string `yaml:"staging_dir"`
	// SystemPackages restricts platform resolution to these standard library
	// import paths. Empty allows the whole standard library.
	SystemPackages []string `yaml:"system_packages"`
}

// UnloadConfig configures unloading.
type UnloadConfig struct {
	// Wait makes every unload block until the module namespace is reclaimed.
	Wait bool `yaml:"wait"`
	// ReclaimAttempts bounds the number of collection passes a waiting unload forces.
	ReclaimAttempts int `yaml:"reclaim_attempts"`
}

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Plugins: PluginsConfig{
			WatchDebounce: "500ms",
		},
		Unload: UnloadConfig{
			ReclaimAttempts: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("PLUGINHOST_STAGING_DIR"); dir != "" {
		c.Resolution.StagingDir = dir
	}
	if level := os.Getenv("PLUGINHOST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if v := os.Getenv("PLUGINHOST_DEBUG"); v != "" {
		if debug, err := strconv.ParseBool(v); err == nil {
			c.Logging.DebugMode = debug
		}
	}
}

// Validate checks the configuration for values the host cannot run with.
func (c *Config) Validate() error {
	if c.Unload.ReclaimAttempts < 0 {
		return fmt.Errorf("%w: unload.reclaim_attempts must not be negative", ErrInvalidConfig)
	}
	if _, err := c.GetWatchDebounce(); err != nil {
		return fmt.Errorf("%w: plugins.watch_debounce: %v", ErrInvalidConfig, err)
	}
	switch c.Logging.Format {
	case "", "json", "console", "text":
	default:
		return fmt.Errorf("%w: logging.format %q", ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}
