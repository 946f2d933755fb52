// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bitalino

// CalculateCRC computes the 4-bit CRC (x^4 + x + 1) of data, most significant
// bit first. The checksum nibble of a frame must be zeroed before calling.
func CalculateCRC(data []byte) byte {
	var crc byte
	for _, b := range data {
		for bit := 7; bit >= 0; bit-- {
			crc <<= 1
			if crc&crcTopBit != 0 {
				crc ^= crcPolynomial
			}
			crc ^= (b >> uint(bit)) & 0x01
			crc &= crcMask
		}
	}
	return crc & crcMask
}

// frameCRC returns the checksum stored in a frame and the checksum computed
// over the frame with that nibble cleared. The frame is not modified.
func frameCRC(frame []byte, scratch []byte) (stored, computed byte) {
	n := len(frame)
	stored = frame[n-1] & crcMask
	scratch = append(scratch[:0], frame...)
	scratch[n-1] &^= crcMask
	return stored, CalculateCRC(scratch)
}

// ValidateFrame reports whether the frame's checksum nibble matches its contents
func ValidateFrame(frame []byte) bool {
	if len(frame) == 0 {
		return false
	}
	stored, computed := frameCRC(frame, make([]byte, 0, len(frame)))
	return stored == computed
}
