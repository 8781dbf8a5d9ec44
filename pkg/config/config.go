// Package config provides tool-level configuration for dvgate.
// This configures the gate binary itself (diagnostics logging); the access
// policy is a separate JSON document owned by the repository admins.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the dvgate tool configuration.
type Config struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig configures diagnostics logging behavior.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, text
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// Path returns the config location under the git metadata directory.
func Path(gitDir string) string {
	return filepath.Join(gitDir, "dv-hooks", "config.yaml")
}

// Load loads configuration from <gitdir>/dv-hooks/config.yaml.
// Returns the default config if the file doesn't exist.
func Load(gitDir string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(Path(gitDir))
	if os.IsNotExist(err) {
		return cfg, nil // No config file is OK, use defaults
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Save writes configuration to <gitdir>/dv-hooks/config.yaml.
func Save(gitDir string, cfg *Config) error {
	cfgPath := Path(gitDir)

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(cfgPath, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}
