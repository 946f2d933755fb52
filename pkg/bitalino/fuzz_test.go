// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bitalino

import (
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// randomSample builds a valid sample with in-range field values
func randomSample(rng *rand.Rand, channels int) Sample {
	analog := make([]uint16, channels)
	for i := range analog {
		analog[i] = uint16(rng.Intn(1 << uint(PositionResolution(i))))
	}
	return Sample{
		Valid:    true,
		Sequence: uint8(rng.Intn(SequenceModulo)),
		I1:       uint8(rng.Intn(2)),
		I2:       uint8(rng.Intn(2)),
		O1:       uint8(rng.Intn(2)),
		O2:       uint8(rng.Intn(2)),
		Analog:   analog,
	}
}

// ============================================================
// Decoder Fuzz Tests
// ============================================================

func TestFuzz_EncodeDecodeRoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for round := 0; round < rounds; round++ {
		n := rng.Intn(ChannelCount + 1)
		layout := layoutFor(n)
		want := randomSample(rng, n)

		frame, err := EncodeFrame(layout, want)
		if err != nil {
			t.Fatalf("round %d: EncodeFrame: %v", round, err)
		}
		got, _ := NewDecoder(layout).DecodeFrame(frame)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("round %d channels=%d (-want +got):\n%s", round, n, diff)
		}
	}
}

func TestFuzz_RandomBytesNeverPanic(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds()

	for round := 0; round < rounds; round++ {
		layout := layoutFor(rng.Intn(ChannelCount + 1))
		buf := make([]byte, rng.Intn(256))
		rng.Read(buf)

		d := NewDecoder(layout)
		samples, anomalies, consumed := d.Decode(buf)

		if len(samples) != len(buf)/layout.SampleSize() {
			t.Fatalf("round %d: %d samples from %d bytes (size %d)", round, len(samples), len(buf), layout.SampleSize())
		}
		if consumed != len(samples)*layout.SampleSize() {
			t.Fatalf("round %d: consumed %d bytes for %d samples", round, consumed, len(samples))
		}
		invalid := 0
		for _, s := range samples {
			if !s.Valid {
				invalid++
			}
			if len(s.Analog) != layout.ChannelCount() {
				t.Fatalf("round %d: sample has %d analog values", round, len(s.Analog))
			}
		}
		if countAnomalies(anomalies, AnomalyChecksum) != invalid {
			t.Fatalf("round %d: %d invalid samples but %d checksum anomalies", round, invalid, countAnomalies(anomalies, AnomalyChecksum))
		}
	}
}

func TestFuzz_SessionAlignment(t *testing.T) {
	rng := newFuzzRng(t)
	rounds := getFuzzRounds() / 10
	if rounds == 0 {
		rounds = 1
	}

	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := NewSession(SessionConfig{Rate: Rate100, Channels: []string{"A1", "A2", "A3"}}, start)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	layout := s.Layout()
	now := start
	total := 0

	for round := 0; round < rounds; round++ {
		count := rng.Intn(50)
		var buf []byte
		for i := 0; i < count; i++ {
			frame, _ := EncodeFrame(layout, randomSample(rng, layout.ChannelCount()))
			if rng.Intn(5) == 0 {
				frame[rng.Intn(len(frame))] ^= 1 << uint(rng.Intn(8))
			}
			buf = append(buf, frame...)
		}

		now = now.Add(time.Duration(rng.Intn(100)) * time.Millisecond)
		cycle := s.Process(buf, now)
		if len(cycle.Samples) != count || len(cycle.Timestamps) != count {
			t.Fatalf("round %d: samples=%d timestamps=%d, want %d", round, len(cycle.Samples), len(cycle.Timestamps), count)
		}
		for i, ts := range cycle.Timestamps {
			want := start.Add(time.Duration(total+i) * 10 * time.Millisecond)
			if !ts.Equal(want) {
				t.Fatalf("round %d: timestamp %d = %v, want %v", round, i, ts, want)
			}
		}
		if (cycle.Offset != nil) != (count > 0) {
			t.Fatalf("round %d: offset present=%v for %d samples", round, cycle.Offset != nil, count)
		}
		total += count
	}
}
