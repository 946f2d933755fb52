// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bitalino

import (
	"fmt"
	"time"
)

// SessionConfig holds the acquisition parameters fixed at session start
type SessionConfig struct {
	Rate     int
	Channels []string
	Sensors  map[string]string // channel name -> sensor name, e.g. "A1": "ECG"
}

// Session ties a decoder and a clock together for one acquisition run.
// Channels that have a sensor attached are added to the selection.
type Session struct {
	rate        int
	layout      Layout
	decoder     *Decoder
	clock       *Clock
	conversions []Conversion
	labels      []string
}

// NewSession validates cfg and creates a session whose device clock is
// anchored at start. Configuration errors are only reported here; once a
// session exists, decoding cannot fail.
func NewSession(cfg SessionConfig, start time.Time) (*Session, error) {
	if err := ValidateRate(cfg.Rate); err != nil {
		return nil, err
	}

	names := append([]string(nil), cfg.Channels...)
	for name := range cfg.Sensors {
		names = append(names, name)
	}
	sel, err := ParseChannels(names)
	if err != nil {
		return nil, err
	}

	conversions, err := ParseSensors(sel, cfg.Sensors)
	if err != nil {
		return nil, fmt.Errorf("sensors: %w", err)
	}

	layout := ResolveLayout(sel)
	labels := layout.Labels()
	for _, c := range conversions {
		labels = append(labels, c.Label())
	}

	return &Session{
		rate:        cfg.Rate,
		layout:      layout,
		decoder:     NewDecoder(layout),
		clock:       NewClock(cfg.Rate, start),
		conversions: conversions,
		labels:      labels,
	}, nil
}

// Rate returns the nominal device rate in Hz
func (s *Session) Rate() int {
	return s.rate
}

// Layout returns the session's frame layout
func (s *Session) Layout() Layout {
	return s.layout
}

// Channels returns the active channels
func (s *Session) Channels() Selection {
	return s.layout.Channels()
}

// Labels returns the primary output labels, including converted columns
func (s *Session) Labels() []string {
	return append([]string(nil), s.labels...)
}

// Conversions returns the configured sensor conversions
func (s *Session) Conversions() []Conversion {
	return append([]Conversion(nil), s.conversions...)
}

// Decoder returns the session's decoder
func (s *Session) Decoder() *Decoder {
	return s.decoder
}

// Clock returns the session's timestamp clock
func (s *Session) Clock() *Clock {
	return s.clock
}

// Process runs one decode cycle over buf. now is the wall-clock time of
// the cycle. The returned cycle always has one timestamp per sample.
func (s *Session) Process(buf []byte, now time.Time) Cycle {
	samples, anomalies, consumed := s.decoder.Decode(buf)
	timestamps, offset := s.clock.Stamp(len(samples), now)

	cycle := Cycle{
		Samples:    samples,
		Timestamps: timestamps,
		Offset:     offset,
		Anomalies:  anomalies,
		Consumed:   consumed,
	}

	if len(s.conversions) > 0 {
		cycle.Converted = make([][]float64, len(samples))
		for i, sample := range samples {
			row := make([]float64, len(s.conversions))
			for j, c := range s.conversions {
				row[j] = c.Apply(sample)
			}
			cycle.Converted[i] = row
		}
	}

	return cycle
}
