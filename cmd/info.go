// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/bitastat/pkg/device"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show device version, battery and channel state",
	Long: `Query the device while idle and print its firmware version and state.

The state packet carries the current value of every analog channel, the raw
battery reading (shown with its estimated charge), the low-battery threshold
and the digital channels.

With --battery-threshold, the low-battery LED threshold (0-63) is set before
the state is read.

Exit codes:
  0 - Device answered
  1 - Device did not answer or answered with a corrupted state packet
  2 - Connection error`,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Bitastat - Device Info\n")
	fmt.Printf("Connection: %s\n\n", connInfo)

	dev := device.New(conn)
	version, err := dev.Version()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Version query failed: %v\n", err)
		conn.Close()
		os.Exit(1)
	}
	fmt.Printf("Version: %s\n", version)

	if t := cfg.Device.BatteryThreshold; t != nil {
		if err := dev.SetBattery(*t); err != nil {
			return err
		}
		fmt.Printf("Battery threshold set to %d\n", *t)
	}

	state, err := dev.State()
	if err != nil {
		fmt.Fprintf(os.Stderr, "State query failed: %v\n", err)
		conn.Close()
		os.Exit(1)
	}
	fmt.Print(formatState(state))
	return nil
}

// formatState formats a state packet for display
func formatState(s device.State) string {
	result := fmt.Sprintf("Battery: %d (%.2f%%), threshold %d\n", s.Battery, s.BatteryPercent(), s.BatteryThreshold)
	result += "Analog:"
	for i, v := range s.Analog {
		result += fmt.Sprintf(" A%d=%d", i+1, v)
	}
	result += fmt.Sprintf("\nDigital: I1=%d I2=%d O1=%d O2=%d\n", s.Digital[0], s.Digital[1], s.Digital[2], s.Digital[3])
	return result
}
