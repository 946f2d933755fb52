// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/Thermoquad/bitastat/pkg/bitalino"
)

var (
	// ErrNotIdle is returned for commands only valid outside acquisition
	ErrNotIdle = errors.New("device is acquiring")
	// ErrNotAcquiring is returned when reading samples from an idle device
	ErrNotAcquiring = errors.New("device is not in acquisition mode")
	// ErrTimeout is returned when a query response does not arrive in time
	ErrTimeout = errors.New("timed out waiting for device response")
	// ErrChecksum is returned for a corrupted state response
	ErrChecksum = errors.New("state checksum mismatch")
)

// Device drives a BITalino over a byte stream. It does not own the
// stream's lifecycle: the caller opens and closes it.
type Device struct {
	rw       io.ReadWriter
	mode     Mode
	rate     int
	channels bitalino.Selection
	timeout  time.Duration
}

// New creates a device controller on rw
func New(rw io.ReadWriter) *Device {
	return &Device{rw: rw, timeout: DefaultTimeout}
}

// SetTimeout sets how long queries wait for a response
func (d *Device) SetTimeout(timeout time.Duration) {
	d.timeout = timeout
}

// Mode returns the current operating mode
func (d *Device) Mode() Mode {
	return d.mode
}

// Started reports whether the device is acquiring
func (d *Device) Started() bool {
	return d.mode != ModeIdle
}

// Rate returns the acquisition rate set by Start
func (d *Device) Rate() int {
	return d.rate
}

// Channels returns the channels set by Start
func (d *Device) Channels() bitalino.Selection {
	return d.channels
}

func (d *Device) send(cmd byte) error {
	if _, err := d.rw.Write([]byte{cmd}); err != nil {
		return fmt.Errorf("failed to send command 0x%02X: %w", cmd, err)
	}
	return nil
}

// Start sets the sampling rate and starts acquisition on channels
func (d *Device) Start(rate int, channels bitalino.Selection, simulated bool) error {
	if d.Started() {
		return ErrNotIdle
	}
	code, err := bitalino.RateCode(rate)
	if err != nil {
		return err
	}
	if err := d.send(CmdSetRate | code<<6); err != nil {
		return err
	}

	cmd, mode := byte(CmdStartLive), ModeLive
	if simulated {
		cmd, mode = CmdStartSim, ModeSimulated
	}
	if err := d.send(cmd | channels.Mask()<<2); err != nil {
		return err
	}

	d.mode = mode
	d.rate = rate
	d.channels = channels
	return nil
}

// Stop ends acquisition
func (d *Device) Stop() error {
	if !d.Started() {
		return ErrNotAcquiring
	}
	if err := d.send(CmdStop); err != nil {
		return err
	}
	d.mode = ModeIdle
	return nil
}

// Read reads raw acquisition bytes
func (d *Device) Read(p []byte) (int, error) {
	if !d.Started() {
		return 0, ErrNotAcquiring
	}
	return d.rw.Read(p)
}

// SetBattery sets the low-battery LED threshold (0-63)
func (d *Device) SetBattery(threshold int) error {
	if d.Started() {
		return ErrNotIdle
	}
	if threshold < MinBatteryThreshold || threshold > MaxBatteryThreshold {
		return fmt.Errorf("invalid battery threshold: %d (valid %d-%d)", threshold, MinBatteryThreshold, MaxBatteryThreshold)
	}
	return d.send(byte(threshold<<2) & CmdBatteryMask)
}

// Trigger sets the digital outputs during acquisition
func (d *Device) Trigger(o1, o2 bool) error {
	if !d.Started() {
		return ErrNotAcquiring
	}
	cmd := byte(CmdTrigger)
	if o1 {
		cmd |= 1 << 2
	}
	if o2 {
		cmd |= 1 << 3
	}
	return d.send(cmd)
}

// Version queries the firmware version string
func (d *Device) Version() (string, error) {
	if d.Started() {
		return "", ErrNotIdle
	}
	if err := d.send(CmdVersion); err != nil {
		return "", err
	}

	var version []byte
	deadline := time.Now().Add(d.timeout)
	b := make([]byte, 1)
	for len(version) < MaxVersionSize {
		n, err := d.rw.Read(b)
		if err != nil {
			return "", fmt.Errorf("failed to read version: %w", err)
		}
		if n == 0 {
			if time.Now().After(deadline) {
				return "", ErrTimeout
			}
			continue
		}
		if b[0] == '\n' {
			break
		}
		version = append(version, b[0])
	}
	return string(bytes.TrimSpace(version)), nil
}

// State queries analog, battery and digital state
func (d *Device) State() (State, error) {
	if d.Started() {
		return State{}, ErrNotIdle
	}
	if err := d.send(CmdState); err != nil {
		return State{}, err
	}
	buf := make([]byte, StateSize)
	if err := d.readFull(buf); err != nil {
		return State{}, err
	}
	return ParseState(buf)
}

// readFull reads len(buf) bytes, tolerating reads that time out with no data
func (d *Device) readFull(buf []byte) error {
	deadline := time.Now().Add(d.timeout)
	for read := 0; read < len(buf); {
		n, err := d.rw.Read(buf[read:])
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
		read += n
		if n == 0 && time.Now().After(deadline) {
			return ErrTimeout
		}
	}
	return nil
}

// BatteryPercent maps a raw battery reading to an approximate charge level
func BatteryPercent(raw int) float64 {
	pct := 1 + float64(raw-batteryRawMin)*((99.0-1.0)/float64(batteryRawMax-batteryRawMin))
	return math.Round(pct*100) / 100
}
