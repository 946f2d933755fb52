// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package device implements the BITalino command protocol: acquisition
// start/stop, version, battery threshold and state queries. It works over
// any byte stream (serial port, WebSocket bridge, or the in-process
// Simulator) and leaves frame decoding to package bitalino.
package device

import "time"

// Commands (host -> device)
const (
	CmdStop        = 0x00
	CmdStartLive   = 0x01 // | channel mask << 2
	CmdStartSim    = 0x02 // | channel mask << 2
	CmdSetRate     = 0x03 // | rate code << 6
	CmdVersion     = 0x07
	CmdState       = 0x0B
	CmdTrigger     = 0xB3 // | O1 << 2 | O2 << 3
	CmdBatteryMask = 0xFC // threshold << 2
)

// Response sizes
const (
	StateSize      = 17
	MaxVersionSize = 64
)

// Battery threshold limits
const (
	MinBatteryThreshold = 0
	MaxBatteryThreshold = 63
)

// Raw battery ADC range mapped to 1-99%
const (
	batteryRawMin = 511
	batteryRawMax = 645
)

// DefaultTimeout bounds how long a query waits for its response
const DefaultTimeout = 2 * time.Second

// Operating modes
type Mode int

const (
	ModeIdle Mode = iota
	ModeLive
	ModeSimulated
)

// String returns the mode name
func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "IDLE"
	case ModeLive:
		return "LIVE"
	case ModeSimulated:
		return "SIMULATED"
	default:
		return "UNKNOWN"
	}
}
