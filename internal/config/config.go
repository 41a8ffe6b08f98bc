package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models gateway.yml.
type Config struct {
	Network struct {
		Name   string `yaml:"name" json:"name"`
		RPCURL string `yaml:"rpc_url" json:"rpc_url"`
	} `yaml:"network" json:"network"`
	Verification struct {
		// ToleranceBps absorbs rounding from fee/rent mechanics; a transfer
		// within this many basis points under the expected amount still
		// verifies. 100 = 1%.
		ToleranceBps         int `yaml:"tolerance_bps" json:"tolerance_bps"`
		OracleTimeoutSeconds int `yaml:"oracle_timeout_seconds" json:"oracle_timeout_seconds"`
	} `yaml:"verification" json:"verification"`
	Execution struct {
		TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
	} `yaml:"execution" json:"execution"`
}

var knownNetworks = map[string]bool{
	"mainnet-beta": true,
	"devnet":       true,
	"testnet":      true,
	"localnet":     true,
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Network.Name == "" {
		return fmt.Errorf("config.network.name is required")
	}
	if !knownNetworks[c.Network.Name] {
		return fmt.Errorf("config.network.name %q is not a known network", c.Network.Name)
	}
	if c.Network.RPCURL == "" {
		return fmt.Errorf("config.network.rpc_url is required")
	}
	if c.Verification.ToleranceBps < 0 || c.Verification.ToleranceBps >= 10000 {
		return fmt.Errorf("config.verification.tolerance_bps must be in [0,10000)")
	}
	if c.Verification.OracleTimeoutSeconds <= 0 {
		return fmt.Errorf("config.verification.oracle_timeout_seconds must be positive")
	}
	if c.Execution.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.execution.timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) OracleTimeout() time.Duration {
	return time.Duration(c.Verification.OracleTimeoutSeconds) * time.Second
}

func (c *Config) ExecutionTimeout() time.Duration {
	return time.Duration(c.Execution.TimeoutSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "gateway.yml")
}

// Default returns devnet defaults.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// Load reads and validates config from workspace, falling back to defaults
// when no gateway.yml exists.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `network:
  name: devnet
  rpc_url: https://api.devnet.solana.com

verification:
  tolerance_bps: 100
  oracle_timeout_seconds: 15

execution:
  timeout_seconds: 120
`
