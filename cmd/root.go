// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/bitastat/pkg/config"
	"github.com/Thermoquad/bitastat/pkg/log"
)

var (
	configPath string
	logLevel   string

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Acquisition flags
	deviceRate int
	channels   []string
	sensors    map[string]string
	pollRate   int
	simulate   bool
	battery    int

	cfg = config.Default()
)

var rootCmd = &cobra.Command{
	Use:   "bitastat",
	Short: "BITalino acquisition and stream analyzer",
	Long: `Bitastat - A CLI tool for acquiring, recording and analyzing BITalino data.

Decodes the BITalino binary frame stream, synthesizes sample timestamps from
the device clock, and reports clock offset telemetry so that drift can be
corrected during post-processing.

Connection modes:
  Serial:    --port /dev/rfcomm0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]
  Simulated: --simulate

For WebSocket authentication, the password is read from the BITALINO_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Settings may also be given in a YAML file (--config). Flags override the file.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: error, warning, info, debug")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", config.DefaultBaud, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Acquisition flags
	rootCmd.PersistentFlags().IntVarP(&deviceRate, "rate", "r", 1000, "Device sampling rate in Hz (1, 10, 100, 1000)")
	rootCmd.PersistentFlags().StringSliceVar(&channels, "channels", nil, "Analog channels to acquire (default A1-A6)")
	rootCmd.PersistentFlags().StringToStringVar(&sensors, "sensors", nil, "Attached sensors, e.g. A1=ECG,A3=EMG")
	rootCmd.PersistentFlags().IntVar(&pollRate, "poll-rate", config.DefaultPollRate, "Host read rate in Hz")
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "Use a simulated device instead of a connection")
	rootCmd.PersistentFlags().IntVar(&battery, "battery-threshold", 0, "Low-battery LED threshold (0-63), set before acquisition")
}

// loadConfig reads the configuration file and applies flag overrides. The
// result is validated later, by the commands that open a device.
func loadConfig(cmd *cobra.Command, args []string) error {
	if err := log.Init(os.Stderr, logLevel); err != nil {
		return err
	}

	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		log.Debug("Loaded configuration from %s", configPath)
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Device.Port = portName
	}
	if flags.Changed("baud") {
		cfg.Device.Baud = baudRate
	}
	if flags.Changed("url") {
		cfg.Device.URL = wsURL
	}
	if flags.Changed("username") {
		cfg.Device.Username = wsUsername
	}
	if flags.Changed("rate") {
		cfg.Device.Rate = deviceRate
	}
	if flags.Changed("channels") {
		cfg.Device.Channels = channels
	}
	if flags.Changed("sensors") {
		cfg.Device.Sensors = sensors
	}
	if flags.Changed("poll-rate") {
		cfg.Acquisition.PollRate = pollRate
	}
	if flags.Changed("simulate") {
		cfg.Device.Simulate = simulate
	}
	if flags.Changed("battery-threshold") {
		cfg.Device.BatteryThreshold = &battery
	}
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
