// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.bug.st/serial"

	"github.com/Thermoquad/bitastat/pkg/config"
	"github.com/Thermoquad/bitastat/pkg/device"
)

var (
	discoveryTimeout int
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Discover BITalino devices on serial ports",
	Long: `Probe serial ports for BITalino devices by sending the version command.

Modes:
  Scan (default): Every serial port reported by the system is opened at the
                  configured baud rate and sent the version command. Ports
                  answering with a version string are reported.

  Direct:         With --port, --url or --simulate, only that connection is
                  probed.

Examples:
  # Scan all serial ports
  bitastat discovery

  # Probe a WebSocket serial bridge
  bitastat discovery --url ws://bridge.local/bitalino

Exit codes:
  0 - Discovery successful (at least one device found)
  1 - Discovery failed (no devices answered)
  2 - Connection error`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().IntVar(&discoveryTimeout, "timeout", 2, "Timeout in seconds for each probe")
}

// discoveryDeviceInfo is a device that answered the version command
type discoveryDeviceInfo struct {
	connInfo string
	version  string
	battery  float64
	state    bool
}

// probeDevice queries the version, and the state when available, over conn
func probeDevice(conn Connection, connInfo string, timeout time.Duration) (discoveryDeviceInfo, error) {
	dev := device.New(conn)
	dev.SetTimeout(timeout)

	version, err := dev.Version()
	if err != nil {
		return discoveryDeviceInfo{}, err
	}
	info := discoveryDeviceInfo{connInfo: connInfo, version: version}

	// Older firmware does not implement the state command
	if state, err := dev.State(); err == nil {
		info.battery = state.BatteryPercent()
		info.state = true
	}
	return info, nil
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	timeout := time.Duration(discoveryTimeout) * time.Second
	direct := cfg.Device.Port != "" || cfg.Device.URL != "" || cfg.Device.Simulate

	mode := "scan"
	if direct {
		mode = "direct"
	}

	fmt.Printf("Bitastat - Device Discovery\n")
	fmt.Printf("Mode: %s\n", mode)
	fmt.Printf("Timeout: %d seconds per probe\n\n", discoveryTimeout)

	devices := make([]discoveryDeviceInfo, 0)
	report := func(d discoveryDeviceInfo) {
		devices = append(devices, d)
		fmt.Printf("\nDevice found:\n")
		fmt.Printf("  Connection: %s\n", d.connInfo)
		fmt.Printf("  Version: %s\n", d.version)
		if d.state {
			fmt.Printf("  Battery: %.2f%%\n", d.battery)
		}
	}

	if direct {
		conn, connInfo, err := OpenConnection()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
			os.Exit(2)
		}
		fmt.Printf("Probing %s...\n", connInfo)
		d, err := probeDevice(conn, connInfo, timeout)
		conn.Close()
		if err != nil {
			fmt.Printf("  no answer: %v\n", err)
		} else {
			report(d)
		}
	} else {
		ports, err := serial.GetPortsList()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list serial ports: %v\n", err)
			os.Exit(2)
		}
		for _, port := range ports {
			if config.ValidatePort(port) != nil {
				continue
			}
			fmt.Printf("Probing %s...\n", port)
			conn, err := OpenSerialConnection(port, cfg.Device.Baud)
			if err != nil {
				fmt.Printf("  %v\n", strings.TrimSpace(err.Error()))
				continue
			}
			d, err := probeDevice(conn, fmt.Sprintf("Serial: %s @ %d baud", port, cfg.Device.Baud), timeout)
			conn.Close()
			if err != nil {
				fmt.Printf("  no answer: %v\n", err)
				continue
			}
			report(d)
		}
	}

	// Summary
	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("Devices found: %d\n", len(devices))

	if len(devices) == 0 {
		fmt.Printf("No devices discovered. Check pairing and device power.\n")
		os.Exit(1)
	}

	return nil
}
