// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bitalino decodes the BITalino acquisition stream.
//
// A BITalino device in acquisition mode emits fixed-size frames, one per
// sample, whose size depends on the number of active analog channels. This
// package resolves the frame layout, validates and decodes frames, and
// synthesizes evenly spaced timestamps from the nominal device rate while
// reporting the drift between that device clock and wall-clock time.
package bitalino

import "time"

// Analog channel universe
const (
	ChannelCount = 6
)

// Field widths in bits
const (
	fixedFieldBits    = 12 // sequence (4) + checksum (4) + digital I/O (4)
	wideChannelBits   = 10 // first four channel positions
	narrowChannelBits = 6  // fifth and sixth channel positions
	wideChannels      = 4
)

// Sample resolution by channel position
const (
	ResolutionWide   = 10
	ResolutionNarrow = 6
)

// CRC-4 configuration (x^4 + x + 1)
const (
	crcPolynomial = 0x03
	crcTopBit     = 0x10
	crcMask       = 0x0F
)

// Sequence counter
const (
	SequenceModulo  = 16
	InitialSequence = SequenceModulo - 1
)

// Supported device rates in Hz
const (
	Rate1    = 1
	Rate10   = 10
	Rate100  = 100
	Rate1000 = 1000
)

// DefaultRate is the device rate used when none is configured
const DefaultRate = Rate1000

// SerialBufferSize is the number of bytes the device link buffers before
// samples start being dropped.
const SerialBufferSize = 1020

// DefaultPollInterval matches a 30Hz host polling rate, enough to keep the
// serial buffer below saturation at 1000Hz with all channels enabled.
const DefaultPollInterval = time.Second / 30

// Fixed column labels, always present ahead of the analog channels
var fixedLabels = []string{"SEQ", "I1", "I2", "O1", "O2"}

// Offset telemetry column labels
var offsetLabels = []string{"time_device", "time_offset"}
