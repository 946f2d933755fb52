// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bitalino

import "fmt"

// AnomalyType represents the recoverable conditions seen while decoding
type AnomalyType int

const (
	AnomalyChecksum AnomalyType = iota
	AnomalySequenceGap
	AnomalyBufferSaturation
)

// String returns a short name for the anomaly type
func (t AnomalyType) String() string {
	switch t {
	case AnomalyChecksum:
		return "CHECKSUM"
	case AnomalySequenceGap:
		return "SEQUENCE_GAP"
	case AnomalyBufferSaturation:
		return "BUFFER_SATURATION"
	default:
		return "UNKNOWN"
	}
}

// Anomaly is a recoverable decode condition. None of them abort a cycle.
type Anomaly struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (a Anomaly) Error() string {
	return a.Message
}

func checksumAnomaly(index int, stored, computed byte) Anomaly {
	return Anomaly{
		Type:    AnomalyChecksum,
		Message: "Checksum failed.",
		Details: map[string]interface{}{"index": index, "received": stored, "calculated": computed},
	}
}

func sequenceAnomaly(index int, expected, got uint8) Anomaly {
	return Anomaly{
		Type:    AnomalySequenceGap,
		Message: "Missed sample.",
		Details: map[string]interface{}{"index": index, "expected": expected, "sequence": got},
	}
}

// SaturationAnomaly reports that the transport buffer was full when read,
// meaning the device may have dropped samples.
func SaturationAnomaly(buffered int) Anomaly {
	return Anomaly{
		Type:    AnomalyBufferSaturation,
		Message: "OS serial buffer saturated. Increase poll rate or decrease device rate.",
		Details: map[string]interface{}{"buffered": buffered, "limit": SerialBufferSize},
	}
}

// String returns the anomaly with its details, for log output
func (a Anomaly) String() string {
	switch a.Type {
	case AnomalyChecksum:
		return fmt.Sprintf("%s (sample %v: received 0x%X, calculated 0x%X)",
			a.Message, a.Details["index"], a.Details["received"], a.Details["calculated"])
	case AnomalySequenceGap:
		return fmt.Sprintf("%s (sample %v: expected %v, got %v)",
			a.Message, a.Details["index"], a.Details["expected"], a.Details["sequence"])
	case AnomalyBufferSaturation:
		return fmt.Sprintf("%s (%v of %v bytes)", a.Message, a.Details["buffered"], a.Details["limit"])
	}
	return a.Message
}
