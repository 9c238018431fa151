// Package config loads the daemon configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultListenAddr = "127.0.0.1:8480"
	DefaultDataDir    = "./data"
)

// Config holds the daemon configuration.
type Config struct {
	// DataDir is the directory holding one SQLite database per tenant.
	DataDir string `yaml:"data_dir"`

	// ListenAddr is the HTTP listen address of the invoke shim.
	ListenAddr string `yaml:"listen_addr"`

	// QueueMaxAttempts is the auto-dead-letter ceiling for job queues.
	// Zero disables it: only an explicit fail without requeue
	// dead-letters a job.
	QueueMaxAttempts int `yaml:"queue_max_attempts"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:    DefaultDataDir,
		ListenAddr: DefaultListenAddr,
	}
}

// Load reads the YAML config at path, falling back to defaults when path
// is empty or the file does not exist. TENANTD_DATA and TENANTD_ADDR
// environment variables override the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("TENANTD_DATA"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("TENANTD_ADDR"); v != "" {
		cfg.ListenAddr = v
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for usable values.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if c.QueueMaxAttempts < 0 {
		return fmt.Errorf("queue_max_attempts must not be negative, got %d", c.QueueMaxAttempts)
	}
	return nil
}
