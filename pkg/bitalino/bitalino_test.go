// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bitalino

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// ============================================================
// Test Helpers
// ============================================================

// layoutFor returns the layout for the first n channels
func layoutFor(n int) Layout {
	return ResolveLayout(AllChannels()[:n])
}

// mustEncode encodes a sample or fails the test
func mustEncode(t *testing.T, layout Layout, s Sample) []byte {
	t.Helper()
	frame, err := EncodeFrame(layout, s)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	return frame
}

// sequenceSamples builds count valid samples with consecutive counters
func sequenceSamples(channels, first, count int) []Sample {
	samples := make([]Sample, count)
	for i := range samples {
		analog := make([]uint16, channels)
		for c := range analog {
			analog[c] = uint16((i*37 + c*11) % 64)
		}
		samples[i] = Sample{
			Valid:    true,
			Sequence: uint8((first + i) % SequenceModulo),
			I1:       uint8(i & 1),
			O2:       uint8((i >> 1) & 1),
			Analog:   analog,
		}
	}
	return samples
}

func countAnomalies(anomalies []Anomaly, typ AnomalyType) int {
	n := 0
	for _, a := range anomalies {
		if a.Type == typ {
			n++
		}
	}
	return n
}

// ============================================================
// Channel Tests
// ============================================================

func TestParseChannels(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected Selection
	}{
		{"empty", nil, Selection{}},
		{"canonical order", []string{"A3", "A1"}, Selection{A1, A3}},
		{"duplicates dropped", []string{"a2", "A2", "A2 "}, Selection{A2}},
		{"all", []string{"A6", "A5", "A4", "A3", "A2", "A1"}, AllChannels()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := ParseChannels(tt.input)
			if err != nil {
				t.Fatalf("ParseChannels error: %v", err)
			}
			if diff := cmp.Diff(tt.expected, sel); diff != "" {
				t.Errorf("selection mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseChannels_Invalid(t *testing.T) {
	_, err := ParseChannels([]string{"A1", "A7"})
	if !errors.Is(err, ErrInvalidChannel) {
		t.Errorf("expected ErrInvalidChannel, got %v", err)
	}
}

func TestSelectionMask(t *testing.T) {
	if m := NewSelection(A1, A3, A6).Mask(); m != 0x25 {
		t.Errorf("Mask() = 0x%02X, want 0x25", m)
	}
	if m := AllChannels().Mask(); m != 0x3F {
		t.Errorf("Mask() = 0x%02X, want 0x3F", m)
	}
	if diff := cmp.Diff(NewSelection(A1, A3, A6), SelectionFromMask(0x25)); diff != "" {
		t.Errorf("SelectionFromMask mismatch (-want +got):\n%s", diff)
	}
}

func TestLabels(t *testing.T) {
	got := Labels(NewSelection(A4, A2))
	want := []string{"SEQ", "I1", "I2", "O1", "O2", "A2", "A4"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"time_device", "time_offset"}, OffsetLabels()); diff != "" {
		t.Errorf("offset labels mismatch (-want +got):\n%s", diff)
	}
}

func TestRateCode(t *testing.T) {
	for rate, code := range map[int]byte{1: 0, 10: 1, 100: 2, 1000: 3} {
		got, err := RateCode(rate)
		if err != nil || got != code {
			t.Errorf("RateCode(%d) = %d, %v; want %d", rate, got, err, code)
		}
		if back := RateFromCode(code); back != rate {
			t.Errorf("RateFromCode(%d) = %d, want %d", code, back, rate)
		}
	}
	for _, rate := range []int{0, 500, -1, 2000} {
		if _, err := RateCode(rate); !errors.Is(err, ErrInvalidRate) {
			t.Errorf("RateCode(%d) should fail with ErrInvalidRate, got %v", rate, err)
		}
	}
}

// ============================================================
// Layout Tests
// ============================================================

func TestSampleSize(t *testing.T) {
	expected := []int{2, 3, 4, 6, 7, 8, 8}
	for n, want := range expected {
		if got := SampleSize(n); got != want {
			t.Errorf("SampleSize(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestSampleSize_ClosedForm(t *testing.T) {
	for n := 0; n <= ChannelCount; n++ {
		var want int
		if n <= 4 {
			want = int(math.Ceil(float64(12+10*n) / 8))
		} else {
			want = int(math.Ceil(float64(52+6*(n-4)) / 8))
		}
		if got := ResolveLayout(AllChannels()[:n]).SampleSize(); got != want {
			t.Errorf("channels=%d: sample size %d, want %d", n, got, want)
		}
	}
}

func TestResolveLayout(t *testing.T) {
	layout := ResolveLayout(Selection{A5, A2, A2})
	if layout.ChannelCount() != 2 {
		t.Errorf("ChannelCount() = %d, want 2", layout.ChannelCount())
	}
	if layout.SampleSize() != 4 {
		t.Errorf("SampleSize() = %d, want 4", layout.SampleSize())
	}
	if diff := cmp.Diff(Selection{A2, A5}, layout.Channels()); diff != "" {
		t.Errorf("channels mismatch (-want +got):\n%s", diff)
	}
	if layout.Columns() != 7 {
		t.Errorf("Columns() = %d, want 7", layout.Columns())
	}
}

func TestResolveLayout_Empty(t *testing.T) {
	layout := ResolveLayout(nil)
	if layout.ChannelCount() != 0 || layout.SampleSize() != 2 {
		t.Errorf("empty layout: channels=%d size=%d, want 0 and 2", layout.ChannelCount(), layout.SampleSize())
	}
}

func TestPositionResolution(t *testing.T) {
	for i, want := range []int{10, 10, 10, 10, 6, 6} {
		if got := PositionResolution(i); got != want {
			t.Errorf("PositionResolution(%d) = %d, want %d", i, got, want)
		}
	}
}

// ============================================================
// CRC Tests
// ============================================================

func TestCalculateCRC_KnownValues(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected byte
	}{
		{"all zero", []byte{0x00, 0x00}, 0x0},
		{"two bytes", []byte{0xFF, 0xF0}, 0xE},
		{"three bytes", []byte{0x12, 0x34, 0x50}, 0x8},
		{"four bytes", []byte{0xAB, 0xCD, 0xEF, 0x10}, 0xE},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if crc := CalculateCRC(tt.data); crc != tt.expected {
				t.Errorf("CRC mismatch: expected 0x%X, got 0x%X", tt.expected, crc)
			}
		})
	}
}

func TestCalculateCRC_Empty(t *testing.T) {
	if crc := CalculateCRC(nil); crc != 0 {
		t.Errorf("CRC of empty data should be 0, got 0x%X", crc)
	}
}

func TestValidateFrame(t *testing.T) {
	if !ValidateFrame([]byte{0x00, 0x00}) {
		t.Error("all-zero frame should validate")
	}
	if ValidateFrame([]byte{0x00, 0x01}) {
		t.Error("frame with checksum nibble 1 should fail")
	}
	if !ValidateFrame([]byte{0xC5, 0xA3, 0x58}) {
		t.Error("frame with correct checksum should validate")
	}
	if ValidateFrame(nil) {
		t.Error("empty frame should not validate")
	}
}

func TestValidateFrame_DoesNotModify(t *testing.T) {
	frame := []byte{0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC, 0xDE, 0x76}
	orig := append([]byte(nil), frame...)
	ValidateFrame(frame)
	if diff := cmp.Diff(orig, frame); diff != "" {
		t.Errorf("frame modified (-want +got):\n%s", diff)
	}
}

func TestSingleBitFlipDetected(t *testing.T) {
	for n := 0; n <= ChannelCount; n++ {
		layout := layoutFor(n)
		frame := mustEncode(t, layout, sequenceSamples(n, 9, 1)[0])
		for i := range frame {
			for bit := 0; bit < 8; bit++ {
				corrupted := append([]byte(nil), frame...)
				corrupted[i] ^= 1 << uint(bit)
				if ValidateFrame(corrupted) {
					t.Errorf("channels=%d: flip of byte %d bit %d not detected", n, i, bit)
				}
			}
		}
	}
}

// ============================================================
// Decoder Tests
// ============================================================

func TestDecode_ZeroFrame(t *testing.T) {
	d := NewDecoder(ResolveLayout(nil))
	samples, anomalies, consumed := d.Decode([]byte{0x00, 0x00})

	if len(samples) != 1 || consumed != 2 {
		t.Fatalf("expected 1 sample and 2 bytes consumed, got %d and %d", len(samples), consumed)
	}
	want := Sample{Valid: true, Analog: []uint16{}}
	if diff := cmp.Diff(want, samples[0]); diff != "" {
		t.Errorf("sample mismatch (-want +got):\n%s", diff)
	}
	if len(anomalies) != 0 {
		t.Errorf("counter 0 after initial state should not be a gap, got %v", anomalies)
	}
}

func TestDecode_ChecksumFailure(t *testing.T) {
	d := NewDecoder(ResolveLayout(nil))
	samples, anomalies, _ := d.Decode([]byte{0x00, 0x01})

	if len(samples) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(samples))
	}
	if samples[0].Valid {
		t.Error("sample should be missing-valued")
	}
	for i, v := range samples[0].Row() {
		if !math.IsNaN(v) {
			t.Errorf("row[%d] = %v, want NaN", i, v)
		}
	}
	if countAnomalies(anomalies, AnomalyChecksum) != 1 {
		t.Errorf("expected one checksum anomaly, got %v", anomalies)
	}
	if d.LastSequence() != InitialSequence {
		t.Errorf("continuity must not change on checksum failure, got %d", d.LastSequence())
	}
}

func TestDecode_LiteralFrames(t *testing.T) {
	tests := []struct {
		name     string
		channels int
		frame    []byte
		expected []float64
	}{
		{
			name:     "six channels",
			channels: 6,
			frame:    []byte{0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC, 0xDE, 0x76},
			expected: []float64{7, 1, 1, 0, 1, 943, 154, 481, 355, 16, 18},
		},
		{
			name:     "one channel",
			channels: 1,
			frame:    []byte{0xC5, 0xA3, 0x58},
			expected: []float64{5, 1, 0, 1, 0, 241},
		},
		{
			name:     "four channels saturated",
			channels: 4,
			frame:    []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFA},
			expected: []float64{15, 1, 1, 1, 1, 1023, 1023, 1023, 1023},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(layoutFor(tt.channels))
			sample, _ := d.DecodeFrame(tt.frame)
			if !sample.Valid {
				t.Fatal("frame should validate")
			}
			if diff := cmp.Diff(tt.expected, sample.Row()); diff != "" {
				t.Errorf("row mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

// referenceParse is the device datasheet extraction written out per field
func referenceParse(s []byte, n int) []uint16 {
	b := func(i int) uint16 { return uint16(s[len(s)-i]) }
	all := []func() uint16{
		func() uint16 { return ((b(2) & 0x0F) << 6) | (b(3) >> 2) },
		func() uint16 { return ((b(3) & 0x03) << 8) | b(4) },
		func() uint16 { return ((b(5) << 2) & 0x3FF) | (b(6) >> 6) },
		func() uint16 { return ((b(6) & 0x3F) << 4) | (b(7) >> 4) },
		func() uint16 { return ((b(7) & 0x0F) << 2) | (b(8) >> 6) },
		func() uint16 { return b(8) & 0x3F },
	}
	values := make([]uint16, n)
	for i := range values {
		values[i] = all[i]()
	}
	return values
}

func TestDecode_MatchesReferenceExtraction(t *testing.T) {
	rng := newFuzzRng(t)
	for n := 0; n <= ChannelCount; n++ {
		layout := layoutFor(n)
		for round := 0; round < 200; round++ {
			frame := make([]byte, layout.SampleSize())
			rng.Read(frame)
			frame[len(frame)-1] &^= crcMask
			frame[len(frame)-1] |= CalculateCRC(frame)

			d := NewDecoder(layout)
			sample, _ := d.DecodeFrame(frame)
			if !sample.Valid {
				t.Fatalf("channels=%d: frame % X should validate", n, frame)
			}
			if diff := cmp.Diff(referenceParse(frame, n), sample.Analog); diff != "" {
				t.Fatalf("channels=%d frame % X (-want +got):\n%s", n, frame, diff)
			}
		}
	}
}

func TestDecode_RoundTripAllLayouts(t *testing.T) {
	for n := 0; n <= ChannelCount; n++ {
		layout := layoutFor(n)
		samples := sequenceSamples(n, 0, 20)
		buf, err := AppendFrames(nil, layout, samples)
		if err != nil {
			t.Fatalf("AppendFrames: %v", err)
		}

		d := NewDecoder(layout)
		decoded, anomalies, consumed := d.Decode(buf)
		if consumed != len(buf) {
			t.Errorf("channels=%d: consumed %d of %d bytes", n, consumed, len(buf))
		}
		if len(anomalies) != 0 {
			t.Errorf("channels=%d: unexpected anomalies %v", n, anomalies)
		}
		if diff := cmp.Diff(samples, decoded); diff != "" {
			t.Errorf("channels=%d: samples mismatch (-want +got):\n%s", n, diff)
		}
	}
}

func TestDecode_TrailingPartialFrame(t *testing.T) {
	layout := layoutFor(3)
	buf, _ := AppendFrames(nil, layout, sequenceSamples(3, 0, 2))
	buf = append(buf, 0xAA, 0xBB)

	d := NewDecoder(layout)
	samples, _, consumed := d.Decode(buf)
	if len(samples) != 2 {
		t.Errorf("expected 2 samples, got %d", len(samples))
	}
	if consumed != 2*layout.SampleSize() {
		t.Errorf("consumed %d, want %d", consumed, 2*layout.SampleSize())
	}
}

func TestDecode_EmptyBuffer(t *testing.T) {
	d := NewDecoder(layoutFor(6))
	samples, anomalies, consumed := d.Decode(nil)
	if len(samples) != 0 || len(anomalies) != 0 || consumed != 0 {
		t.Errorf("empty buffer: samples=%d anomalies=%d consumed=%d", len(samples), len(anomalies), consumed)
	}
	if d.LastSequence() != InitialSequence {
		t.Errorf("LastSequence() = %d, want %d", d.LastSequence(), InitialSequence)
	}
}

func TestDecode_SequenceWrapAcrossCycles(t *testing.T) {
	layout := layoutFor(2)
	d := NewDecoder(layout)
	samples := sequenceSamples(2, 0, 40)

	// Feed the stream in uneven cycles
	for _, chunk := range [][]Sample{samples[:3], samples[3:17], samples[17:18], samples[18:]} {
		buf, _ := AppendFrames(nil, layout, chunk)
		_, anomalies, _ := d.Decode(buf)
		if n := countAnomalies(anomalies, AnomalySequenceGap); n != 0 {
			t.Errorf("continuous counters flagged %d gaps", n)
		}
	}
	if d.LastSequence() != 39%SequenceModulo {
		t.Errorf("LastSequence() = %d, want %d", d.LastSequence(), 39%SequenceModulo)
	}
}

func TestDecode_SequenceGaps(t *testing.T) {
	tests := []struct {
		name     string
		counters []uint8
		gaps     int
	}{
		{"skipped", []uint8{0, 1, 3, 4}, 1},
		{"repeated", []uint8{0, 1, 1, 2}, 1},
		{"first not zero", []uint8{5, 6}, 1},
		{"wrap", []uint8{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 0, 1}, 0},
	}

	layout := layoutFor(1)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf []byte
			for _, c := range tt.counters {
				buf = append(buf, mustEncode(t, layout, Sample{Sequence: c, Analog: []uint16{100}})...)
			}
			d := NewDecoder(layout)
			_, anomalies, _ := d.Decode(buf)
			if n := countAnomalies(anomalies, AnomalySequenceGap); n != tt.gaps {
				t.Errorf("expected %d gaps, got %d (%v)", tt.gaps, n, anomalies)
			}
			if d.LastSequence() != tt.counters[len(tt.counters)-1] {
				t.Errorf("LastSequence() = %d, want %d", d.LastSequence(), tt.counters[len(tt.counters)-1])
			}
		})
	}
}

func TestDecode_ChecksumFailureMidCycle(t *testing.T) {
	layout := layoutFor(6)
	buf, _ := AppendFrames(nil, layout, sequenceSamples(6, 0, 5))
	buf[2*layout.SampleSize()] ^= 0x40 // corrupt the third frame

	d := NewDecoder(layout)
	samples, anomalies, _ := d.Decode(buf)
	if len(samples) != 5 {
		t.Fatalf("expected 5 samples, got %d", len(samples))
	}
	for i, s := range samples {
		if s.Valid == (i == 2) {
			t.Errorf("sample %d: valid=%v", i, s.Valid)
		}
	}
	if countAnomalies(anomalies, AnomalyChecksum) != 1 {
		t.Errorf("expected one checksum anomaly, got %v", anomalies)
	}
	// The frame after the corrupted one skips counter 2 relative to the last valid frame
	if countAnomalies(anomalies, AnomalySequenceGap) != 1 {
		t.Errorf("expected one sequence gap, got %v", anomalies)
	}
}

func TestDecoderReset(t *testing.T) {
	layout := layoutFor(0)
	d := NewDecoder(layout)
	d.Decode(mustEncode(t, layout, Sample{Sequence: 4, Analog: []uint16{}}))
	if d.LastSequence() != 4 {
		t.Fatalf("LastSequence() = %d, want 4", d.LastSequence())
	}
	d.Reset()
	if d.LastSequence() != InitialSequence {
		t.Errorf("after Reset LastSequence() = %d, want %d", d.LastSequence(), InitialSequence)
	}
}

// ============================================================
// Encoder Tests
// ============================================================

func TestEncodeFrame_WrongChannelCount(t *testing.T) {
	if _, err := EncodeFrame(layoutFor(3), Sample{Analog: []uint16{1}}); err == nil {
		t.Error("expected error for mismatched analog count")
	}
}

func TestEncodeFrame_ZeroSample(t *testing.T) {
	frame := mustEncode(t, ResolveLayout(nil), Sample{Analog: []uint16{}})
	if diff := cmp.Diff([]byte{0x00, 0x00}, frame); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeFrame_LiteralFrame(t *testing.T) {
	s := Sample{Valid: true, Sequence: 7, I1: 1, I2: 1, O2: 1, Analog: []uint16{943, 154, 481, 355, 16, 18}}
	frame := mustEncode(t, layoutFor(6), s)
	if diff := cmp.Diff([]byte{0x12, 0x34, 0x56, 0x78, 0x9A, 0xBC, 0xDE, 0x76}, frame); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}
}
