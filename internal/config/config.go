// Package config handles repostats configuration loading.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/repostats/config.yaml, /config/config.yaml,
// /etc/repostats/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "repostats", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/repostats/config.yaml")
	return paths
}

// searchPathsFunc is indirected so tests can override the search list
// without touching real config files on the developer/deploy machine.
var searchPathsFunc = DefaultSearchPaths

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	paths := searchPathsFunc()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", paths)
}

// Config holds all repostats configuration: the core keys every build
// recognizes, plus a raw per-plugin TOML section passed through
// untouched to whichever plugin claims it (spec §4.5/§9's "pass
// through unrecognized keys" decision).
type Config struct {
	Output        string                            `yaml:"output"`
	DefaultFormat string                            `yaml:"default_format"`
	UseColors     bool                              `yaml:"use_colors"`
	QueueSize     int                               `yaml:"queue_size"`
	LogLevel      string                            `yaml:"log_level"`
	PluginDirs    []string                          `yaml:"plugin_dirs"`
	Plugins       map[string]map[string]interface{} `yaml:"plugins"`

	// ObservabilityAddr is the bind address for the /metrics
	// (Prometheus) and /diagnostics (websocket event stream)
	// endpoints, mirroring cuemby-warren's metricsAddr convention.
	// Empty disables the observability HTTP server entirely.
	ObservabilityAddr string `yaml:"observability_addr"`
}

// Configured reports whether an explicit output destination was set;
// an empty Output means "write to stdout" (spec §4.4's output default).
func (c *Config) Configured() bool {
	return c.Output != ""
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates the
// result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${HOME}). This is a
	// convenience for container deployments; the recommended approach
	// is to put values directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.DefaultFormat == "" {
		c.DefaultFormat = "text"
	}
	if c.QueueSize == 0 {
		c.QueueSize = 1024
	}
	if c.Plugins == nil {
		c.Plugins = map[string]map[string]interface{}{}
	}
	if c.ObservabilityAddr == "" {
		c.ObservabilityAddr = "127.0.0.1:9090"
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size %d must be positive", c.QueueSize)
	}
	switch c.DefaultFormat {
	case "text", "json", "compact":
	default:
		return fmt.Errorf("default_format %q must be one of text, json, compact", c.DefaultFormat)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// PluginTOML re-encodes a named plugin's configuration section as a
// raw TOML fragment, suitable for plugin.NewPluginConfigFromTOML. Core
// config is YAML (spec's ambient choice) but individual plugin
// sections are handed to plugins as free-form TOML tables, matching
// the original implementation's per-plugin configuration contract.
func (c *Config) PluginTOML(name string) (string, error) {
	section, ok := c.Plugins[name]
	if !ok {
		return "", nil
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(section); err != nil {
		return "", fmt.Errorf("config: encoding plugin %q section: %w", name, err)
	}
	return buf.String(), nil
}

// Default returns a default configuration suitable for local use. All
// defaults are already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
