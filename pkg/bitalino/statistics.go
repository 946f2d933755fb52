// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bitalino

import (
	"fmt"
	"time"
)

// Statistics tracks sample counts, anomaly counts and clock drift
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	Cycles         uint64
	EmptyCycles    uint64
	TotalSamples   uint64
	ValidSamples   uint64
	ChecksumErrors uint64
	MissedSamples  uint64
	Saturations    uint64

	// Drift telemetry
	FirstOffset time.Duration
	LastOffset  time.Duration
	HasOffset   bool

	// Rates (calculated)
	SampleRate float64 // samples/sec
	ErrorRate  float64 // anomalies/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
	}
}

// Update folds one decode cycle into the statistics
func (s *Statistics) Update(c *Cycle) {
	s.Cycles++
	if c.Empty() {
		s.EmptyCycles++
	}

	s.TotalSamples += uint64(len(c.Samples))
	for _, sample := range c.Samples {
		if sample.Valid {
			s.ValidSamples++
		}
	}

	for _, a := range c.Anomalies {
		s.AddAnomaly(a)
	}

	if c.Offset != nil {
		if !s.HasOffset {
			s.FirstOffset = c.Offset.Offset
			s.HasOffset = true
		}
		s.LastOffset = c.Offset.Offset
	}

	s.LastUpdateTime = time.Now()
}

// AddAnomaly counts a single anomaly
func (s *Statistics) AddAnomaly(a Anomaly) {
	switch a.Type {
	case AnomalyChecksum:
		s.ChecksumErrors++
	case AnomalySequenceGap:
		s.MissedSamples++
	case AnomalyBufferSaturation:
		s.Saturations++
	}
}

// Errors returns the total number of anomalies seen
func (s *Statistics) Errors() uint64 {
	return s.ChecksumErrors + s.MissedSamples + s.Saturations
}

// Drift returns how much the offset has moved since the first cycle
func (s *Statistics) Drift() time.Duration {
	if !s.HasOffset {
		return 0
	}
	return s.LastOffset - s.FirstOffset
}

// CalculateRates calculates sample and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.SampleRate = float64(s.TotalSamples) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent, checksumPercent float64
	if s.TotalSamples > 0 {
		validPercent = float64(s.ValidSamples) * 100.0 / float64(s.TotalSamples)
		checksumPercent = float64(s.ChecksumErrors) * 100.0 / float64(s.TotalSamples)
	}

	elapsed := time.Since(s.StartTime)

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Cycles:          %8d (%d empty)\n", s.Cycles, s.EmptyCycles)
	result += fmt.Sprintf("Total Samples:   %8d\n", s.TotalSamples)
	result += fmt.Sprintf("Valid Samples:   %8d (%.1f%%)\n", s.ValidSamples, validPercent)

	if s.ChecksumErrors > 0 {
		result += fmt.Sprintf("Checksum Errors: %8d (%.1f%%)\n", s.ChecksumErrors, checksumPercent)
	}
	if s.MissedSamples > 0 {
		result += fmt.Sprintf("Missed Samples:  %8d\n", s.MissedSamples)
	}
	if s.Saturations > 0 {
		result += fmt.Sprintf("Saturations:     %8d\n", s.Saturations)
	}
	if s.HasOffset {
		result += fmt.Sprintf("Clock Offset:    %8d us (drift %+d us)\n", s.LastOffset.Microseconds(), s.Drift().Microseconds())
	}

	result += fmt.Sprintf("Sample Rate:     %8.1f samples/sec\n", s.SampleRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
