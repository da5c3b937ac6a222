package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all recall configuration.
type Config struct {
	// CachePath is the persistent cache database shared across sessions.
	CachePath string `yaml:"cache_path"`
	// LegacyPath is where a pre-1.0 response database would live; when a
	// file is found there it is migrated into CachePath once.
	LegacyPath string       `yaml:"legacy_path"`
	LogLevel   string       `yaml:"log_level"`
	Remote     RemoteConfig `yaml:"remote"`
}

// RemoteConfig points at a shared cache server.
type RemoteConfig struct {
	URL        string        `yaml:"url"`
	APIKey     string        `yaml:"api_key"`
	Visibility string        `yaml:"visibility"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Enabled reports whether a remote cache server is configured.
func (r RemoteConfig) Enabled() bool {
	return r.URL != ""
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dir := filepath.Join(home, ".recall")
	return &Config{
		CachePath:  filepath.Join(dir, "data.db"),
		LegacyPath: filepath.Join(dir, "responses.db"),
		LogLevel:   "info",
		Remote: RemoteConfig{
			Visibility: "private",
			Timeout:    30 * time.Second,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}
