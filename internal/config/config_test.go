package config

import (
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Network.Name != "devnet" {
		t.Fatalf("expected devnet default, got %s", cfg.Network.Name)
	}
	if cfg.Verification.ToleranceBps != 100 {
		t.Fatalf("expected 100 bps tolerance, got %d", cfg.Verification.ToleranceBps)
	}
	if cfg.OracleTimeout() != 15*time.Second || cfg.ExecutionTimeout() != 120*time.Second {
		t.Fatalf("unexpected timeouts: %v %v", cfg.OracleTimeout(), cfg.ExecutionTimeout())
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown network", func(c *Config) { c.Network.Name = "moonnet" }},
		{"missing rpc url", func(c *Config) { c.Network.RPCURL = "" }},
		{"negative tolerance", func(c *Config) { c.Verification.ToleranceBps = -1 }},
		{"tolerance at 100%", func(c *Config) { c.Verification.ToleranceBps = 10000 }},
		{"zero oracle timeout", func(c *Config) { c.Verification.OracleTimeoutSeconds = 0 }},
		{"zero execution timeout", func(c *Config) { c.Execution.TimeoutSeconds = 0 }},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestFromYAML(t *testing.T) {
	cfg, err := FromYAML([]byte(`network:
  name: mainnet-beta
  rpc_url: https://api.mainnet-beta.solana.com
verification:
  tolerance_bps: 50
  oracle_timeout_seconds: 10
execution:
  timeout_seconds: 60
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Network.Name != "mainnet-beta" || cfg.Verification.ToleranceBps != 50 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if _, err := FromYAML([]byte("network: [broken")); err == nil {
		t.Fatalf("expected yaml error")
	}
}
