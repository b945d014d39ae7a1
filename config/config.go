package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultFeeBps is the platform fee applied on reward release (2.5%).
	DefaultFeeBps uint32 = 250
	// MaxFeeBps caps the platform fee at 10% by construction.
	MaxFeeBps uint32 = 1000
	// DefaultDisputeWindowSeconds is the post-completion window during which a
	// dispute may still be opened (7 days).
	DefaultDisputeWindowSeconds int64 = 7 * 24 * 60 * 60
)

// TokenConfig declares a payment token accepted by the deployment.
type TokenConfig struct {
	Symbol   string `toml:"Symbol"`
	Decimals uint8  `toml:"Decimals"`
}

// GatewayConfig controls the read-only REST gateway.
type GatewayConfig struct {
	ListenAddress string `toml:"ListenAddress"`
	JWTSecret     string `toml:"JWTSecret"`
	JWTIssuer     string `toml:"JWTIssuer"`
	JWTAudience   string `toml:"JWTAudience"`
}

// Config captures the runtime configuration of the bountygo daemon.
type Config struct {
	RPCAddress           string        `toml:"RPCAddress"`
	DataDir              string        `toml:"DataDir"`
	ServiceName          string        `toml:"ServiceName"`
	Environment          string        `toml:"Environment"`
	Owner                string        `toml:"Owner"`
	Treasury             string        `toml:"Treasury"`
	Vault                string        `toml:"Vault"`
	FeeBps               uint32        `toml:"FeeBps"`
	DisputeWindowSeconds int64         `toml:"DisputeWindowSeconds"`
	BaseToken            string        `toml:"BaseToken"`
	Tokens               []TokenConfig `toml:"Tokens"`
	Resolvers            []string      `toml:"Resolvers"`
	Gateway              GatewayConfig `toml:"Gateway"`
}

// Pauses captures the owner-controlled module switches persisted through the
// parameter store.
type Pauses struct {
	Escrow bool `json:"escrow" toml:"Escrow"`
	Promo  bool `json:"promo" toml:"Promo"`
}

// IsPaused reports whether the named module is paused.
func (p Pauses) IsPaused(module string) bool {
	switch strings.ToLower(strings.TrimSpace(module)) {
	case "escrow":
		return p.Escrow
	case "promo":
		return p.Promo
	default:
		return false
	}
}

func defaultConfig() *Config {
	return &Config{
		RPCAddress:           "127.0.0.1:8645",
		DataDir:              "./data",
		ServiceName:          "bountygod",
		Environment:          "local",
		FeeBps:               DefaultFeeBps,
		DisputeWindowSeconds: DefaultDisputeWindowSeconds,
		BaseToken:            "BUSD",
		Tokens: []TokenConfig{
			{Symbol: "BUSD", Decimals: 6},
			{Symbol: "BGT", Decimals: 18},
		},
		Gateway: GatewayConfig{
			ListenAddress: "127.0.0.1:8646",
			JWTIssuer:     "bountygo",
			JWTAudience:   "bountygo-gateway",
		},
	}
}

// Load reads the configuration from the given path, writing a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := defaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func createDefault(path string) (*Config, error) {
	cfg := defaultConfig()
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("config: create dir %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, fmt.Errorf("config: encode %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks invariants the daemon relies on at startup.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config: nil config")
	}
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress required")
	}
	if c.FeeBps > MaxFeeBps {
		return fmt.Errorf("config: FeeBps %d exceeds cap %d", c.FeeBps, MaxFeeBps)
	}
	if c.DisputeWindowSeconds <= 0 {
		return fmt.Errorf("config: DisputeWindowSeconds must be positive")
	}
	if len(c.Tokens) == 0 {
		return fmt.Errorf("config: at least one token required")
	}
	base := strings.ToUpper(strings.TrimSpace(c.BaseToken))
	if base == "" {
		return fmt.Errorf("config: BaseToken required")
	}
	seen := make(map[string]bool, len(c.Tokens))
	baseFound := false
	for _, tok := range c.Tokens {
		symbol := strings.ToUpper(strings.TrimSpace(tok.Symbol))
		if symbol == "" {
			return fmt.Errorf("config: token symbol required")
		}
		if seen[symbol] {
			return fmt.Errorf("config: duplicate token %s", symbol)
		}
		seen[symbol] = true
		if symbol == base {
			baseFound = true
		}
	}
	if !baseFound {
		return fmt.Errorf("config: BaseToken %s not in Tokens", base)
	}
	return nil
}
