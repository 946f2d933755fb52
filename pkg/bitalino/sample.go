// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bitalino

import (
	"math"
	"time"
)

// Sample is one decoded frame. A frame that failed checksum validation is
// kept as a sample with Valid == false so that it still occupies its
// position and timestamp slot.
type Sample struct {
	Valid    bool
	Sequence uint8
	I1       uint8
	I2       uint8
	O1       uint8
	O2       uint8
	Analog   []uint16 // one value per active channel, in selection order
}

// missingSample returns the placeholder row for a corrupted frame
func missingSample(channels int) Sample {
	return Sample{Analog: make([]uint16, channels)}
}

// Row returns the sample as a numeric row matching Layout.Labels.
// Every value of a missing sample is NaN.
func (s Sample) Row() []float64 {
	row := make([]float64, len(fixedLabels)+len(s.Analog))
	if !s.Valid {
		for i := range row {
			row[i] = math.NaN()
		}
		return row
	}
	row[0] = float64(s.Sequence)
	row[1] = float64(s.I1)
	row[2] = float64(s.I2)
	row[3] = float64(s.O1)
	row[4] = float64(s.O2)
	for i, v := range s.Analog {
		row[len(fixedLabels)+i] = float64(v)
	}
	return row
}

// OffsetRecord pairs the device clock anchor of a cycle with the measured
// difference between wall-clock time and that anchor.
type OffsetRecord struct {
	TimeDevice time.Time
	TimeLocal  time.Time
	Offset     time.Duration
}

// OffsetMicros returns the offset in microseconds
func (o OffsetRecord) OffsetMicros() int64 {
	return o.Offset.Microseconds()
}

// Cycle is the output of one decode cycle
type Cycle struct {
	Samples    []Sample
	Timestamps []time.Time
	Converted  [][]float64 // one row per sample, one column per converted channel
	Offset     *OffsetRecord
	Anomalies  []Anomaly
	Consumed   int // bytes of the input buffer that were decoded
}

// Len returns the number of samples in the cycle
func (c *Cycle) Len() int {
	return len(c.Samples)
}

// Empty reports whether the cycle produced no samples
func (c *Cycle) Empty() bool {
	return len(c.Samples) == 0
}
