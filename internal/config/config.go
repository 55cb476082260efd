// Package config loads the node configuration from halite.yml with
// environment overrides. Invalid configuration is fatal at startup.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

// Config is the node configuration.
type Config struct {
	Server                      ServerConfig `yaml:"server"`
	Password                    string       `yaml:"password" env:"HALITE_PASSWORD"`
	SessionExpirationSeconds    int          `yaml:"sessionExpirationSeconds"`
	StatsIntervalSeconds        int          `yaml:"statsIntervalSeconds"`
	PlayerUpdateIntervalSeconds int          `yaml:"playerUpdateIntervalSeconds"`
	LoadChunkSize               int          `yaml:"loadChunkSize"`
	BufferDurationMs            int          `yaml:"bufferDurationMs"`
}

// ServerConfig holds the listen addresses.
type ServerConfig struct {
	Address string     `yaml:"address" env:"HALITE_ADDRESS"`
	Port    int        `yaml:"port" env:"HALITE_PORT"`
	HTTP    HTTPConfig `yaml:"http"`
}

// HTTPConfig controls the optional REST side door.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// fileRoot matches the top-level "halite:" key of the config file.
type fileRoot struct {
	Halite Config `yaml:"halite"`
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and validates. A missing file is allowed so a fully
// env-configured node can run without one.
func Load(path string) (*Config, error) {
	var root fileRoot
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, &root); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg := root.Halite
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8017
	}
	if c.Server.HTTP.Address == "" {
		c.Server.HTTP.Address = c.Server.Address
	}
	if c.Server.HTTP.Port == 0 {
		c.Server.HTTP.Port = 8018
	}
	if c.SessionExpirationSeconds == 0 {
		c.SessionExpirationSeconds = 120
	}
	if c.StatsIntervalSeconds == 0 {
		c.StatsIntervalSeconds = 60
	}
	if c.PlayerUpdateIntervalSeconds == 0 {
		c.PlayerUpdateIntervalSeconds = 5
	}
	if c.LoadChunkSize == 0 {
		c.LoadChunkSize = 25
	}
	if c.BufferDurationMs == 0 {
		c.BufferDurationMs = 400
	}
}

// Validate rejects configurations the node must not start with.
func (c *Config) Validate() error {
	if c.Password == "" {
		return errors.New("config: password is required (halite.yml password or HALITE_PASSWORD)")
	}
	if c.LoadChunkSize < 1 {
		return fmt.Errorf("config: loadChunkSize must be >= 1, got %d", c.LoadChunkSize)
	}
	if c.SessionExpirationSeconds < 1 {
		return fmt.Errorf("config: sessionExpirationSeconds must be >= 1, got %d", c.SessionExpirationSeconds)
	}
	if c.StatsIntervalSeconds < 1 {
		return fmt.Errorf("config: statsIntervalSeconds must be >= 1, got %d", c.StatsIntervalSeconds)
	}
	if c.PlayerUpdateIntervalSeconds < 1 {
		return fmt.Errorf("config: playerUpdateIntervalSeconds must be >= 1, got %d", c.PlayerUpdateIntervalSeconds)
	}
	return nil
}

// ResumeWindow is how long a disconnected session is retained.
func (c *Config) ResumeWindow() time.Duration {
	return time.Duration(c.SessionExpirationSeconds) * time.Second
}

// StatsInterval is the telemetry broadcast period.
func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.StatsIntervalSeconds) * time.Second
}

// PlayerUpdateInterval is the position update period.
func (c *Config) PlayerUpdateInterval() time.Duration {
	return time.Duration(c.PlayerUpdateIntervalSeconds) * time.Second
}

// WSAddr is the WebSocket listen address.
func (c *Config) WSAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

// HTTPAddr is the REST listen address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.HTTP.Address, c.Server.HTTP.Port)
}
