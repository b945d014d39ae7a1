package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file not written: %v", err)
	}
	if cfg.FeeBps != DefaultFeeBps {
		t.Fatalf("fee = %d, want default %d", cfg.FeeBps, DefaultFeeBps)
	}
	if cfg.BaseToken != "BUSD" {
		t.Fatalf("base token = %q, want BUSD", cfg.BaseToken)
	}
	if len(cfg.Tokens) != 2 {
		t.Fatalf("expected two default tokens, got %d", len(cfg.Tokens))
	}
}

func TestLoadExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
RPCAddress = "127.0.0.1:9000"
DataDir = ""
FeeBps = 300
DisputeWindowSeconds = 86400
BaseToken = "busd"

[[Tokens]]
Symbol = "BUSD"
Decimals = 6
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPCAddress != "127.0.0.1:9000" {
		t.Fatalf("rpc address = %q", cfg.RPCAddress)
	}
	if cfg.FeeBps != 300 {
		t.Fatalf("fee = %d, want 300", cfg.FeeBps)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			RPCAddress:           "127.0.0.1:8645",
			FeeBps:               250,
			DisputeWindowSeconds: 3600,
			BaseToken:            "BUSD",
			Tokens:               []TokenConfig{{Symbol: "BUSD", Decimals: 6}},
		}
	}

	if err := base().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"fee above cap", func(c *Config) { c.FeeBps = MaxFeeBps + 1 }},
		{"zero window", func(c *Config) { c.DisputeWindowSeconds = 0 }},
		{"no tokens", func(c *Config) { c.Tokens = nil }},
		{"missing base token", func(c *Config) { c.BaseToken = "BGT" }},
		{"empty rpc address", func(c *Config) { c.RPCAddress = " " }},
		{"duplicate token", func(c *Config) {
			c.Tokens = append(c.Tokens, TokenConfig{Symbol: "busd", Decimals: 6})
		}},
		{"empty symbol", func(c *Config) {
			c.Tokens = append(c.Tokens, TokenConfig{Symbol: "  ", Decimals: 6})
		}},
	}
	for _, tc := range cases {
		cfg := base()
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestPausesIsPaused(t *testing.T) {
	p := Pauses{Escrow: true}
	if !p.IsPaused("escrow") || !p.IsPaused(" Escrow ") {
		t.Fatalf("escrow pause not reported")
	}
	if p.IsPaused("promo") || p.IsPaused("unknown") {
		t.Fatalf("unexpected pause reported")
	}
}
