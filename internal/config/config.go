// Package config loads the client configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the forwards client configuration
type Config struct {
	RPCURL            string `yaml:"rpcUrl"`
	HorizonURL        string `yaml:"horizonUrl"`
	NetworkPassphrase string `yaml:"networkPassphrase"`

	Contracts struct {
		Forwards   string `yaml:"forwards"`
		FKaleToken string `yaml:"fkaleToken"`
		KaleSac    string `yaml:"kaleSac"`
		XlmSac     string `yaml:"xlmSac"`
	} `yaml:"contracts"`

	Poll struct {
		Interval    string `yaml:"interval"`
		MaxAttempts int    `yaml:"maxAttempts"`
	} `yaml:"poll"`

	Fee struct {
		// Inclusion fee in stroops for invoke transactions.
		Invoke int64 `yaml:"invoke"`
		// Fee used on simulate-only read envelopes.
		Read int64 `yaml:"read"`
	} `yaml:"fee"`

	Signer struct {
		Type string `yaml:"type"` // "seed-phrase" | "file" | "env"
		Key  string `yaml:"key"`  // mnemonic, path or env var name
	} `yaml:"signer"`

	LogLevel string `yaml:"logLevel"`

	// DeploymentsPath is where deployed contract IDs are persisted.
	DeploymentsPath string `yaml:"deploymentsPath"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.setDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Default returns a configuration populated entirely from defaults.
func Default() *Config {
	var config Config
	config.setDefaults()
	return &config
}

// setDefaults sets default values for empty fields
func (c *Config) setDefaults() {
	if c.RPCURL == "" {
		c.RPCURL = "https://soroban-testnet.stellar.org"
	}
	if c.HorizonURL == "" {
		c.HorizonURL = "https://horizon-testnet.stellar.org"
	}
	if c.NetworkPassphrase == "" {
		c.NetworkPassphrase = "Test SDF Network ; September 2015"
	}
	if c.Poll.Interval == "" {
		c.Poll.Interval = "1s"
	}
	if c.Poll.MaxAttempts == 0 {
		c.Poll.MaxAttempts = 60
	}
	if c.Fee.Invoke == 0 {
		c.Fee.Invoke = 100_000
	}
	if c.Fee.Read == 0 {
		c.Fee.Read = 100
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DeploymentsPath == "" {
		c.DeploymentsPath = "deployments.yaml"
	}
}

// validate performs basic validation of config values
func (c *Config) validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpcUrl cannot be empty")
	}
	if c.NetworkPassphrase == "" {
		return fmt.Errorf("networkPassphrase cannot be empty")
	}

	if _, err := time.ParseDuration(c.Poll.Interval); err != nil {
		return fmt.Errorf("invalid poll interval %s: %w", c.Poll.Interval, err)
	}
	if c.Poll.MaxAttempts < 1 {
		return fmt.Errorf("poll maxAttempts must be at least 1, got %d", c.Poll.MaxAttempts)
	}

	if c.Fee.Invoke < 100 {
		return fmt.Errorf("invoke fee must be at least 100 stroops, got %d", c.Fee.Invoke)
	}
	if c.Fee.Read < 100 {
		return fmt.Errorf("read fee must be at least 100 stroops, got %d", c.Fee.Read)
	}

	switch c.Signer.Type {
	case "", "seed-phrase", "file", "env":
	default:
		return fmt.Errorf("signer type must be 'seed-phrase', 'file' or 'env', got %s", c.Signer.Type)
	}

	return nil
}

// GetPollInterval returns the poll interval as a time.Duration
func (c *Config) GetPollInterval() time.Duration {
	duration, err := time.ParseDuration(c.Poll.Interval)
	if err != nil {
		// This should not happen if validation passed
		return time.Second
	}
	return duration
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{RPC: %s, Network: %q, Forwards: %s, Poll: %s x%d}",
		c.RPCURL, c.NetworkPassphrase, c.Contracts.Forwards, c.Poll.Interval, c.Poll.MaxAttempts)
}
