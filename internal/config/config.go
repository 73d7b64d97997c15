// Package config loads and maintains the agent's runtime configuration.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tribes-protocol/ayaos/internal/ratelimit"
)

// Defaults for the backend endpoints. Overridable per agent in agent.yaml.
const (
	DefaultAPIBaseURL = "https://api.ayaos.dev"
	DefaultEventsURL  = "wss://events.ayaos.dev/v1/events"
)

// Config is the agent's YAML configuration.
type Config struct {
	Agent     AgentConfig       `yaml:"agent"`
	API       APIConfig         `yaml:"api"`
	Log       LogConfig         `yaml:"log"`
	RateLimit *ratelimit.Config `yaml:"rate_limit,omitempty"`
}

// AgentConfig identifies the agent.
type AgentConfig struct {
	// Name is a human-readable label; it does not affect identity, which
	// comes from the keychain.
	Name string `yaml:"name"`
}

// APIConfig holds backend endpoints.
type APIConfig struct {
	BaseURL   string `yaml:"base_url"`
	EventsURL string `yaml:"events_url"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	return Config{
		Agent: AgentConfig{Name: "default"},
		API: APIConfig{
			BaseURL:   DefaultAPIBaseURL,
			EventsURL: DefaultEventsURL,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads the YAML configuration at path, layering it over the
// defaults. A missing file is not an error; it yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url must not be empty")
	}
	if c.API.EventsURL == "" {
		return fmt.Errorf("api.events_url must not be empty")
	}
	if c.RateLimit != nil {
		if _, err := ratelimit.NewUserLimiter(*c.RateLimit); err != nil {
			return fmt.Errorf("rate_limit: %w", err)
		}
	}
	return nil
}
