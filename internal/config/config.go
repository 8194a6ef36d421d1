// Package config loads ucanctl settings from a TOML or YAML file and
// UCAN_* environment variables, in that order of precedence (environment
// wins).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver"
	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v2"

	"github.com/notnil/ucan"
	"github.com/notnil/ucan/internal/logging"
)

// Bus interface kinds.
const (
	InterfaceSocketCAN = "socketcan"
	InterfaceSLCAN     = "slcan"
	InterfaceLoopback  = "loopback"
)

// Config holds every ucanctl setting.
type Config struct {
	Interface string `toml:"interface" yaml:"interface" env:"UCAN_INTERFACE"`
	Device    string `toml:"device" yaml:"device" env:"UCAN_DEVICE"`
	Baud      int    `toml:"baud" yaml:"baud" env:"UCAN_BAUD"`
	Bitrate   uint32 `toml:"bitrate" yaml:"bitrate" env:"UCAN_BITRATE"`
	BringUp   bool   `toml:"bring_up" yaml:"bring_up" env:"UCAN_BRING_UP"`

	HardwareID   string        `toml:"hardware_id" yaml:"hardware_id" env:"UCAN_HARDWARE_ID"`
	Address      int           `toml:"address" yaml:"address" env:"UCAN_ADDRESS"`
	Timeout      time.Duration `toml:"timeout" yaml:"timeout" env:"UCAN_TIMEOUT"`
	PollInterval time.Duration `toml:"poll_interval" yaml:"poll_interval" env:"UCAN_POLL_INTERVAL"`
	Priority     string        `toml:"priority" yaml:"priority" env:"UCAN_PRIORITY"`

	LogLevel  string `toml:"log_level" yaml:"log_level" env:"UCAN_LOG_LEVEL"`
	LogFormat string `toml:"log_format" yaml:"log_format" env:"UCAN_LOG_FORMAT"`

	NVMPath  string `toml:"nvm_path" yaml:"nvm_path" env:"UCAN_NVM_PATH"`
	Firmware string `toml:"firmware" yaml:"firmware" env:"UCAN_FIRMWARE"`
	SimNodes int    `toml:"sim_nodes" yaml:"sim_nodes" env:"UCAN_SIM_NODES"`
}

// Default returns the settings used for anything a file or the environment
// leaves unset.
func Default() Config {
	return Config{
		Interface:    InterfaceSocketCAN,
		Device:       "can0",
		Baud:         115200,
		Bitrate:      125000,
		HardwareID:   "02:00:00:00:00:01",
		Address:      1,
		Timeout:      ucan.DefaultTimeout,
		PollInterval: ucan.DefaultPollInterval,
		Priority:     "normal",
		LogLevel:     "info",
		LogFormat:    logging.FormatConsole,
		SimNodes:     3,
	}
}

// Load reads path (when not empty), applies environment overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return fmt.Errorf("config: load %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("config: %s: unknown key %q", path, undecoded[0].String())
		}
	case ".yaml", ".yml":
		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("config: load %s: %w", path, err)
		}
		if err := yaml.UnmarshalStrict(raw, cfg); err != nil {
			return fmt.Errorf("config: load %s: %w", path, err)
		}
	default:
		return fmt.Errorf("config: %s: unsupported file type", path)
	}
	return nil
}

// Validate checks ranges and formats.
func (c Config) Validate() error {
	switch c.Interface {
	case InterfaceSocketCAN, InterfaceSLCAN, InterfaceLoopback:
	default:
		return fmt.Errorf("config: unknown interface %q", c.Interface)
	}
	if c.Interface != InterfaceLoopback && c.Device == "" {
		return fmt.Errorf("config: %s needs a device", c.Interface)
	}
	if c.Interface == InterfaceSLCAN && c.Baud <= 0 {
		return fmt.Errorf("config: invalid baud %d", c.Baud)
	}
	if c.Bitrate == 0 {
		return fmt.Errorf("config: bitrate must be set")
	}
	if _, err := c.HW(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if !c.NodeAddress().Valid() {
		return fmt.Errorf("config: address %d: %w", c.Address, ucan.ErrInvalidAddress)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be positive")
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("config: poll interval must not be negative")
	}
	if _, err := ParsePriority(c.Priority); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.LogFormat {
	case logging.FormatConsole, logging.FormatJSON:
	default:
		return fmt.Errorf("config: unknown log format %q", c.LogFormat)
	}
	if c.Firmware != "" {
		if _, err := semver.NewConstraint(c.Firmware); err != nil {
			return fmt.Errorf("config: firmware constraint %q: %w", c.Firmware, err)
		}
	}
	if c.SimNodes < 0 || c.SimNodes > int(ucan.MaxAddress) {
		return fmt.Errorf("config: sim_nodes %d out of range", c.SimNodes)
	}
	return nil
}

// HW parses the configured hardware id.
func (c Config) HW() (ucan.HardwareID, error) {
	return ucan.ParseHardwareID(c.HardwareID)
}

// NodeAddress is the configured start address.
func (c Config) NodeAddress() ucan.Address {
	if c.Address < 0 || c.Address > int(ucan.BroadcastAddress) {
		return ucan.NotFound
	}
	return ucan.Address(c.Address)
}

// NodePriority is the configured request priority. It assumes Validate
// passed.
func (c Config) NodePriority() ucan.Priority {
	p, _ := ParsePriority(c.Priority)
	return p
}

// ParsePriority accepts emergency, high, normal, low or 0..3.
func ParsePriority(s string) (ucan.Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "emergency", "0":
		return ucan.PriorityEmergency, nil
	case "high", "1":
		return ucan.PriorityHigh, nil
	case "normal", "2", "":
		return ucan.PriorityNormal, nil
	case "low", "3":
		return ucan.PriorityLow, nil
	}
	return 0, fmt.Errorf("config: unknown priority %q", s)
}
