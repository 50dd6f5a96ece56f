// Package config loads the client's JSON configuration file (spec.md §6)
// with viper, the way tdex-daemon's config package binds its own JSON/env
// settings into a typed struct.
package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/mostro-exchange/mostro-client/mostroerr"
)

// Network is the Bitcoin network the client believes it is operating on.
// It is advisory only — the core never touches on-chain state directly.
type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
	NetworkSignet  Network = "signet"
)

// Limits mirrors the `limits` object of the configuration file.
type Limits struct {
	MaxTradeAmountSats  uint64 `mapstructure:"max_trade_amount_sats"`
	MaxDailyVolumeSats  uint64 `mapstructure:"max_daily_volume_sats"`
	MaxTradesPerDay     int    `mapstructure:"max_trades_per_day"`
	CooldownSeconds     int64  `mapstructure:"cooldown_seconds"`
	RequireConfirmation bool   `mapstructure:"require_confirmation"`
}

// MostroInstance is one entry of the optional `mostro_instances` list,
// letting a user keep configuration for more than one coordinator.
type MostroInstance struct {
	Name      string   `mapstructure:"name"`
	PubkeyHex string   `mapstructure:"pubkey"`
	Relays    []string `mapstructure:"relays"`
}

// Config is the typed form of the client's configuration file.
type Config struct {
	MostroPubkeyHex     string           `mapstructure:"mostro_pubkey"`
	Relays              []string         `mapstructure:"relays"`
	Network             Network          `mapstructure:"network"`
	Limits              Limits           `mapstructure:"limits"`
	PriceAPI            string           `mapstructure:"price_api"`
	MaxPremiumDeviation float64          `mapstructure:"max_premium_deviation"`
	MostroInstances     []MostroInstance `mapstructure:"mostro_instances"`
}

// Default limits used when the configuration omits the `limits` block
// entirely; conservative enough to never surprise a user who didn't
// think about them.
var defaultLimits = Limits{
	MaxTradeAmountSats: 5_000_000,
	MaxDailyVolumeSats: 20_000_000,
	MaxTradesPerDay:    10,
	CooldownSeconds:    30,
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetDefault("limits.max_trade_amount_sats", defaultLimits.MaxTradeAmountSats)
	v.SetDefault("limits.max_daily_volume_sats", defaultLimits.MaxDailyVolumeSats)
	v.SetDefault("limits.max_trades_per_day", defaultLimits.MaxTradesPerDay)
	v.SetDefault("limits.cooldown_seconds", defaultLimits.CooldownSeconds)
	v.SetDefault("max_premium_deviation", 5.0)
	v.SetDefault("network", string(NetworkMainnet))

	if err := v.ReadInConfig(); err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindConfigInvalid, "reading config file", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, mostroerr.Wrap(mostroerr.KindConfigInvalid, "decoding config file", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the required-fields and shape invariants of §6.
func (c *Config) Validate() error {
	pk := strings.TrimSpace(c.MostroPubkeyHex)
	raw, err := hex.DecodeString(pk)
	if err != nil || len(raw) != 32 {
		return mostroerr.New(mostroerr.KindConfigInvalid, "mostro_pubkey must be 32-byte hex")
	}
	if len(c.Relays) == 0 {
		return mostroerr.New(mostroerr.KindConfigInvalid, "relays must be a non-empty list")
	}
	switch c.Network {
	case NetworkMainnet, NetworkTestnet, NetworkSignet:
	case "":
		c.Network = NetworkMainnet
	default:
		return mostroerr.New(mostroerr.KindConfigInvalid, fmt.Sprintf("unknown network %q", c.Network))
	}
	if c.Limits.MaxTradesPerDay <= 0 {
		return mostroerr.New(mostroerr.KindConfigInvalid, "limits.max_trades_per_day must be positive")
	}
	for i, inst := range c.MostroInstances {
		raw, err := hex.DecodeString(strings.TrimSpace(inst.PubkeyHex))
		if err != nil || len(raw) != 32 {
			return mostroerr.New(mostroerr.KindConfigInvalid, fmt.Sprintf("mostro_instances[%d].pubkey must be 32-byte hex", i))
		}
	}
	return nil
}

// MostroPubkey returns the decoded 32-byte x-only public key of the
// configured coordinator.
func (c *Config) MostroPubkey() [32]byte {
	var pk [32]byte
	raw, _ := hex.DecodeString(strings.TrimSpace(c.MostroPubkeyHex))
	copy(pk[:], raw)
	return pk
}
