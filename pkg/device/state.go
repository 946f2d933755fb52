// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"encoding/binary"
	"fmt"

	"github.com/Thermoquad/bitastat/pkg/bitalino"
)

// State is the device state reported by the state command
type State struct {
	Analog           [bitalino.ChannelCount]uint16
	Battery          uint16
	BatteryThreshold uint8
	Digital          [4]uint8 // I1, I2, O1, O2
}

// BatteryPercent returns the battery level as a percentage
func (s State) BatteryPercent() float64 {
	return BatteryPercent(int(s.Battery))
}

// ParseState decodes and validates a state response
func ParseState(data []byte) (State, error) {
	if len(data) != StateSize {
		return State{}, fmt.Errorf("state response length %d (expected %d)", len(data), StateSize)
	}
	if !bitalino.ValidateFrame(data) {
		return State{}, ErrChecksum
	}

	var s State
	for i := range s.Analog {
		s.Analog[i] = binary.LittleEndian.Uint16(data[2*i:])
	}
	s.Battery = binary.LittleEndian.Uint16(data[12:])
	s.BatteryThreshold = data[14]
	for i := range s.Digital {
		s.Digital[i] = data[15] >> uint(7-i) & 0x01
	}
	return s, nil
}

// EncodeState builds a state response, including its checksum nibble
func EncodeState(s State) []byte {
	data := make([]byte, StateSize)
	for i, v := range s.Analog {
		binary.LittleEndian.PutUint16(data[2*i:], v)
	}
	binary.LittleEndian.PutUint16(data[12:], s.Battery)
	data[14] = s.BatteryThreshold
	for i, v := range s.Digital {
		data[15] |= (v & 0x01) << uint(7-i)
	}
	data[16] = bitalino.CalculateCRC(data)
	return data
}
