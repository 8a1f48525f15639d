// Package config loads the gateway's configuration record: two radio
// sections, the per-channel AU915 plan, and the forwarder's network
// settings. Grounded on apps/wbs/internal/config's cleanenv idiom, extended
// with creasty/defaults and mcuadros/go-defaults as documented in the
// domain-stack wiring: creasty/defaults backfills the Forwarder section,
// mcuadros/go-defaults backfills the ChannelManager/channel section.
package config

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/creasty/defaults"
	cleanenv "github.com/ilyakaznacheev/cleanenv"
	godefaults "github.com/mcuadros/go-defaults"

	"sx1276"
)

const currentConfigVersion = 1

type RadioRole string

const (
	RoleRx RadioRole = "rx"
	RoleTx RadioRole = "tx"
)

type RadioConfig struct {
	Role RadioRole     `yaml:"role" env:"ROLE"`
	SX   sx1276.Config `yaml:"sx1276"`
}

type ChannelConfig struct {
	SFMin   uint8 `yaml:"sf_min" default:"7"`
	SFMax   uint8 `yaml:"sf_max" default:"10"`
	Enabled bool  `yaml:"enabled" default:"true"`
}

type ChannelManagerConfig struct {
	Subband     uint8           `yaml:"subband" default:"2"`
	HopInterval string          `yaml:"hop_interval" default:"30s"`
	Channels    [8]ChannelConfig `yaml:"channels"`
}

type ForwarderConfig struct {
	ServerAddress     string `yaml:"server_address" default:"router.eu.thethings.network:1700"`
	KeepaliveInterval string `yaml:"keepalive_interval" default:"10s"`
	StatInterval      string `yaml:"stat_interval" default:"30s"`
}

type Config struct {
	ConfigVersion  uint32               `yaml:"config_version" env:"CONFIG_VERSION" env-default:"0"`
	GatewayEUI     string               `yaml:"gateway_eui" env:"GATEWAY_EUI"` // 16 hex chars; cmd/gateway exits when empty
	ProtocolVer    uint8                `yaml:"protocol_version" env:"PROTOCOL_VERSION" env-default:"2"`
	Radios         [2]RadioConfig       `yaml:"radios"`
	ChannelManager ChannelManagerConfig `yaml:"channel_manager"`
	Forwarder      ForwarderConfig      `yaml:"forwarder"`
}

// LoadConfig reads path if it exists, otherwise falls back to environment
// variables, then backfills every section's defaults and, if
// ConfigVersion is still the zero sentinel, stamps the current version.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config file not found and failed to read ENV: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}

	godefaults.SetDefaults(&cfg.ChannelManager)
	if err := defaults.Set(&cfg.Forwarder); err != nil {
		return nil, fmt.Errorf("failed to apply forwarder defaults: %w", err)
	}

	if cfg.ConfigVersion == 0 {
		cfg.ConfigVersion = currentConfigVersion
	}

	return cfg, nil
}

// EUIBytes decodes the 16-hex-character GatewayEUI into its 8-byte form.
func (c *Config) EUIBytes() ([8]byte, error) {
	var eui [8]byte
	raw, err := hex.DecodeString(c.GatewayEUI)
	if err != nil || len(raw) != 8 {
		return eui, fmt.Errorf("gateway_eui must be 16 hex characters, got %q", c.GatewayEUI)
	}
	copy(eui[:], raw)
	return eui, nil
}

// SetEUIString encodes an 8-byte EUI into the 16-hex-character config field.
func (c *Config) SetEUIString(eui [8]byte) {
	c.GatewayEUI = hex.EncodeToString(eui[:])
}
