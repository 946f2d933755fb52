// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the bitastat YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Thermoquad/bitastat/pkg/bitalino"
	"github.com/Thermoquad/bitastat/pkg/device"
)

// ErrInvalidPort is returned for serial ports that are not device paths
var ErrInvalidPort = errors.New("invalid port")

// Defaults
const (
	DefaultBaud        = 115200
	DefaultPollRate    = 30
	DefaultListen      = ":8080"
	DefaultDriftWindow = 3 * time.Minute
	DefaultOffsetsDB   = "offsets.db"
)

type Config struct {
	Device      DeviceConfig      `yaml:"device"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Record      RecordConfig      `yaml:"record"`
	Server      ServerConfig      `yaml:"server"`
	Drift       DriftConfig       `yaml:"drift"`
}

type DeviceConfig struct {
	Port     string            `yaml:"port"`
	Baud     int               `yaml:"baud"`
	URL      string            `yaml:"url"`
	Username string            `yaml:"username"`
	Rate     int               `yaml:"rate"`
	Channels []string          `yaml:"channels"`
	Sensors  map[string]string `yaml:"sensors"`
	// BatteryThreshold is applied before acquisition starts when set
	BatteryThreshold *int `yaml:"battery_threshold"`
	Simulate         bool `yaml:"simulate"`
}

type AcquisitionConfig struct {
	PollRate int `yaml:"poll_rate"`
}

type RecordConfig struct {
	Path      string `yaml:"path"`
	OffsetsDB string `yaml:"offsets_db"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

type DriftConfig struct {
	Window time.Duration `yaml:"window"`
}

// Default returns the configuration used when no file is given
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

// Load reads, defaults and validates the file at path
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Device.Baud <= 0 {
		c.Device.Baud = DefaultBaud
	}
	if c.Device.Rate == 0 {
		c.Device.Rate = bitalino.DefaultRate
	}
	// An explicit empty list selects no analog channels
	if c.Device.Channels == nil {
		c.Device.Channels = bitalino.AllChannels().Names()
	}
	if c.Acquisition.PollRate <= 0 {
		c.Acquisition.PollRate = DefaultPollRate
	}
	if c.Record.OffsetsDB == "" {
		c.Record.OffsetsDB = DefaultOffsetsDB
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Drift.Window <= 0 {
		c.Drift.Window = DefaultDriftWindow
	}
}

// Validate checks the device and acquisition settings. It is called by Load
// and again by the CLI after flag overrides.
func (c Config) Validate() error {
	d := c.Device
	if !d.Simulate && d.URL == "" {
		if err := ValidatePort(d.Port); err != nil {
			return err
		}
	}
	if err := bitalino.ValidateRate(d.Rate); err != nil {
		return fmt.Errorf("device.rate: %w", err)
	}
	sel, err := bitalino.ParseChannels(d.Channels)
	if err != nil {
		return fmt.Errorf("device.channels: %w", err)
	}
	if _, err := bitalino.ParseSensors(sel, d.Sensors); err != nil {
		return fmt.Errorf("device.sensors: %w", err)
	}
	if t := d.BatteryThreshold; t != nil && (*t < device.MinBatteryThreshold || *t > device.MaxBatteryThreshold) {
		return fmt.Errorf("device.battery_threshold must be %d-%d, got %d", device.MinBatteryThreshold, device.MaxBatteryThreshold, *t)
	}
	if c.Acquisition.PollRate <= 0 {
		return fmt.Errorf("acquisition.poll_rate must be > 0")
	}
	return nil
}

// ValidatePort accepts Unix device paths (/dev/...) and Windows COM ports
func ValidatePort(port string) error {
	if port == "" {
		return fmt.Errorf("%w: device.port is required", ErrInvalidPort)
	}
	if !strings.HasPrefix(port, "/dev/") && !strings.HasPrefix(strings.ToUpper(port), "COM") {
		return fmt.Errorf("%w: %q (expected /dev/... or COMn)", ErrInvalidPort, port)
	}
	return nil
}

// SessionConfig returns the decoder session settings
func (c Config) SessionConfig() bitalino.SessionConfig {
	return bitalino.SessionConfig{
		Rate:     c.Device.Rate,
		Channels: c.Device.Channels,
		Sensors:  c.Device.Sensors,
	}
}

// PollInterval returns the host read interval
func (c Config) PollInterval() time.Duration {
	return time.Second / time.Duration(c.Acquisition.PollRate)
}
