// Package config handles CRM configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/crm/config.yaml, /etc/crm/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "crm", "config.yaml"))
	}

	paths = append(paths, "/etc/crm/config.yaml")
	return paths
}

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

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all CRM configuration.
type Config struct {
	Listen       ListenConfig   `yaml:"listen"`
	Provider     ProviderConfig `yaml:"provider"`
	DatabasePath string         `yaml:"database_path"`
	SessionName  string         `yaml:"session_cookie"`
	LogLevel     string         `yaml:"log_level"`
}

// ListenConfig defines the HTTP server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ProviderConfig defines the hosted language-model provider.
type ProviderConfig struct {
	// Kind selects the provider implementation: "anthropic" or "openai".
	Kind string `yaml:"kind"`
	// Model is the model identifier sent with every request.
	Model string `yaml:"model"`
	// APIKey authenticates against the provider.
	APIKey string `yaml:"api_key"`
	// BaseURL overrides the provider endpoint. Used for OpenAI-compatible
	// gateways; empty means the provider's public API.
	BaseURL string `yaml:"base_url"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen:       ListenConfig{Port: 8080},
		DatabasePath: "crm.db",
		SessionName:  "crm_session",
		Provider: ProviderConfig{
			Kind:  "anthropic",
			Model: "claude-sonnet-4-20250514",
		},
	}
}
