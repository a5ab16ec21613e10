// Copyright 2024-2026 Madhukar Beema, Distinguished Engineer. All rights reserved.
// Use of this source code is governed by the Business Source License
// included in the LICENSE file of this repository.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mbeema/fromapp/pkg/hook"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the fromapp host.
type Config struct {
	LogLevel  string          `yaml:"log_level" env:"FROMAPP_LOG_LEVEL"`
	Intercept InterceptConfig `yaml:"intercept"`
	Health    HealthConfig    `yaml:"health"`
}

// InterceptConfig configures the kernel32 -> fromapp hooks.
type InterceptConfig struct {
	Enabled       bool     `yaml:"enabled" env:"FROMAPP_INTERCEPT_ENABLED"`
	EngineLibrary string   `yaml:"engine_library" env:"FROMAPP_ENGINE_LIBRARY"` // Detours DLL path
	Disabled      []string `yaml:"disabled"`                                    // source symbols to leave alone
	ControlDir    string   `yaml:"control_dir" env:"FROMAPP_CONTROL_DIR"`       // runtime on/off switch; empty disables
}

// Redirects returns the default redirect table minus the disabled entries.
func (c *InterceptConfig) Redirects() []hook.Redirect {
	return hook.FilterRedirects(hook.DefaultRedirects, c.Disabled)
}

// HealthConfig configures the health HTTP server.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled" env:"FROMAPP_HEALTH_ENABLED"`
	Port    string `yaml:"port" env:"FROMAPP_HEALTH_PORT"` // e.g. "127.0.0.1:8687"
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Intercept: InterceptConfig{
			Enabled:       true,
			EngineLibrary: hook.DefaultEngineLibrary,
		},
		Health: HealthConfig{
			Enabled: true,
			Port:    "127.0.0.1:8687",
		},
	}
}

// LoadDir loads YAML files from a directory and merges them into a single
// Config. Expected files:
//   - base.yaml      → log_level, health
//   - intercept.yaml → intercept
//
// Missing files are silently ignored (defaults apply).
func LoadDir(dir string) (*Config, error) {
	cfg := DefaultConfig()

	for _, f := range []string{"base.yaml", "intercept.yaml"} {
		if err := loadFileInto(filepath.Join(dir, f), cfg); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// loadFileInto reads a YAML file and unmarshals it into an existing Config,
// overwriting only the fields present in the file.
func loadFileInto(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// ApplyEnvOverrides reads FROMAPP_* environment variables and applies them
// to the config, overriding YAML values.
func (c *Config) ApplyEnvOverrides() {
	envOverrides := map[string]func(string){
		"FROMAPP_LOG_LEVEL":      func(v string) { c.LogLevel = v },
		"FROMAPP_ENGINE_LIBRARY": func(v string) { c.Intercept.EngineLibrary = v },
		"FROMAPP_HEALTH_PORT":    func(v string) { c.Health.Port = v },
		"FROMAPP_CONTROL_DIR":    func(v string) { c.Intercept.ControlDir = v },
		"FROMAPP_INTERCEPT_DISABLED": func(v string) {
			c.Intercept.Disabled = splitList(v)
		},
	}

	boolOverrides := map[string]*bool{
		"FROMAPP_INTERCEPT_ENABLED": &c.Intercept.Enabled,
		"FROMAPP_HEALTH_ENABLED":    &c.Health.Enabled,
	}

	for envKey, setter := range envOverrides {
		if val := os.Getenv(envKey); val != "" {
			setter(val)
		}
	}

	for envKey, target := range boolOverrides {
		if val := os.Getenv(envKey); val != "" {
			*target = parseBool(val)
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error")
	}

	if c.Intercept.Enabled && c.Intercept.EngineLibrary == "" {
		return fmt.Errorf("intercept.engine_library is required when intercept is enabled")
	}

	known := make(map[string]bool, len(hook.DefaultRedirects))
	for _, r := range hook.DefaultRedirects {
		known[r.SourceSymbol] = true
	}
	for _, name := range c.Intercept.Disabled {
		if !known[name] {
			return fmt.Errorf("intercept.disabled: %q is not an intercepted function", name)
		}
	}

	if c.Health.Enabled && c.Health.Port == "" {
		return fmt.Errorf("health.port is required when health is enabled")
	}

	return nil
}
