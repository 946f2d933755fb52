// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bitalino

import "fmt"

// EncodeFrame packs a sample into a frame for the given layout and stamps
// the checksum nibble. Values wider than their field are truncated.
func EncodeFrame(layout Layout, s Sample) ([]byte, error) {
	if len(s.Analog) != layout.ChannelCount() {
		return nil, fmt.Errorf("sample has %d analog values, layout expects %d", len(s.Analog), layout.ChannelCount())
	}

	frame := make([]byte, layout.SampleSize())
	fieldSequence.insert(frame, uint16(s.Sequence))
	fieldI1.insert(frame, uint16(s.I1))
	fieldI2.insert(frame, uint16(s.I2))
	fieldO1.insert(frame, uint16(s.O1))
	fieldO2.insert(frame, uint16(s.O2))
	for i, f := range layout.fields {
		f.insert(frame, s.Analog[i])
	}

	fieldChecksum.insert(frame, uint16(CalculateCRC(frame)))
	return frame, nil
}

// AppendFrames encodes samples back to back, as the device would send them
func AppendFrames(dst []byte, layout Layout, samples []Sample) ([]byte, error) {
	for i, s := range samples {
		frame, err := EncodeFrame(layout, s)
		if err != nil {
			return dst, fmt.Errorf("sample %d: %w", i, err)
		}
		dst = append(dst, frame...)
	}
	return dst, nil
}
