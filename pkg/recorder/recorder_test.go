// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package recorder

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Thermoquad/bitastat/pkg/bitalino"
)

var sessionStart = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

type fakeSleeper struct {
	slept []time.Duration
}

func (f *fakeSleeper) Sleep(d time.Duration) { f.slept = append(f.slept, d) }

// recordCycles produces n cycles of perCycle frames each at 100Hz
func recordCycles(t *testing.T, n, perCycle int) (*bitalino.Session, []bitalino.Cycle) {
	t.Helper()
	session, err := bitalino.NewSession(bitalino.SessionConfig{
		Rate:     100,
		Channels: []string{"A1", "A5"},
		Sensors:  map[string]string{"A1": "LUX"},
	}, sessionStart)
	if err != nil {
		t.Fatalf("NewSession() error: %v", err)
	}

	var seq uint8
	cycles := make([]bitalino.Cycle, 0, n)
	for i := 0; i < n; i++ {
		samples := make([]bitalino.Sample, perCycle)
		for j := range samples {
			samples[j] = bitalino.Sample{Valid: true, Sequence: seq, I1: 1, Analog: []uint16{uint16(100 * j), uint16(j)}}
			seq = (seq + 1) % bitalino.SequenceModulo
		}
		buf, err := bitalino.AppendFrames(nil, session.Layout(), samples)
		if err != nil {
			t.Fatalf("AppendFrames() error: %v", err)
		}
		now := sessionStart.Add(time.Duration(i+1) * 33 * time.Millisecond)
		cycles = append(cycles, session.Process(buf, now))
	}
	return session, cycles
}

func TestRecordReplay_RoundTrip(t *testing.T) {
	session, cycles := recordCycles(t, 4, 3)
	path := filepath.Join(t.TempDir(), "session.cbor")

	header := bitalino.NewSessionHeader(session, "BITalino_v5.1")
	w, err := Create(path, header)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	for i := range cycles {
		if err := w.WriteCycle(&cycles[i]); err != nil {
			t.Fatalf("WriteCycle() error: %v", err)
		}
	}
	empty := bitalino.Cycle{}
	_ = w.WriteCycle(&empty)
	if w.Cycles() != 4 {
		t.Errorf("Cycles() = %d, want 4 (empty cycle skipped)", w.Cycles())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := w.WriteCycle(&cycles[0]); err == nil {
		t.Error("WriteCycle after Close should fail")
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer f.Close()

	r, err := NewReader(f)
	if err != nil {
		t.Fatalf("NewReader() error: %v", err)
	}
	if diff := cmp.Diff(header, r.Header()); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}

	got, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(got) != len(cycles) {
		t.Fatalf("read %d cycles, want %d", len(got), len(cycles))
	}
	for i := range cycles {
		if diff := cmp.Diff(cycles[i].Samples, got[i].Samples); diff != "" {
			t.Errorf("cycle %d samples mismatch (-want +got):\n%s", i, diff)
		}
		if diff := cmp.Diff(cycles[i].Timestamps, got[i].Timestamps); diff != "" {
			t.Errorf("cycle %d timestamps mismatch (-want +got):\n%s", i, diff)
		}
		if diff := cmp.Diff(cycles[i].Converted, got[i].Converted); diff != "" {
			t.Errorf("cycle %d converted mismatch (-want +got):\n%s", i, diff)
		}
		if got[i].Offset == nil || got[i].Offset.OffsetMicros() != cycles[i].Offset.OffsetMicros() {
			t.Errorf("cycle %d offset mismatch: %+v", i, got[i].Offset)
		}
	}
}

func TestPlay_Timing(t *testing.T) {
	session, cycles := recordCycles(t, 3, 2)

	var buf bytes.Buffer
	buf.Write(mustEncode(bitalino.EncodeHeader(bitalino.NewSessionHeader(session, ""))))
	for i := range cycles {
		buf.Write(mustEncode(bitalino.EncodeCycle(&cycles[i])))
	}

	r, err := NewReader(&buf)
	if err != nil {
		t.Fatalf("NewReader() error: %v", err)
	}

	fs := &fakeSleeper{}
	var played int
	err = Play(r, 2.0, fs, func(c *bitalino.Cycle) error {
		played++
		return nil
	})
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if played != 3 {
		t.Errorf("played %d cycles, want 3", played)
	}
	// two samples at 100Hz per cycle: 20ms of device time, halved
	want := []time.Duration{10 * time.Millisecond, 10 * time.Millisecond}
	if diff := cmp.Diff(want, fs.slept); diff != "" {
		t.Errorf("sleeps mismatch (-want +got):\n%s", diff)
	}
}

func TestPlay_CallbackError(t *testing.T) {
	session, cycles := recordCycles(t, 2, 1)
	var buf bytes.Buffer
	buf.Write(mustEncode(bitalino.EncodeHeader(bitalino.NewSessionHeader(session, ""))))
	buf.Write(mustEncode(bitalino.EncodeCycle(&cycles[0])))

	r, _ := NewReader(&buf)
	stop := errors.New("stop")
	if err := Play(r, 1, &fakeSleeper{}, func(*bitalino.Cycle) error { return stop }); !errors.Is(err, stop) {
		t.Errorf("expected callback error, got %v", err)
	}
	if err := Play(r, 0, nil, nil); err == nil {
		t.Error("Play with zero speed should fail")
	}
}

func TestNewReader_Errors(t *testing.T) {
	if _, err := NewReader(bytes.NewReader(nil)); err == nil {
		t.Error("empty recording should fail")
	}

	data := mustEncode(bitalino.EncodeCycle(&bitalino.Cycle{}))
	if _, err := NewReader(bytes.NewReader(data)); err == nil {
		t.Error("recording without a header should fail")
	}

	header := mustEncode(bitalino.EncodeHeader(bitalino.SessionHeader{Rate: 10}))
	truncated := append(header, mustEncode(bitalino.EncodeCycle(&bitalino.Cycle{}))[:2]...)
	r, err := NewReader(bytes.NewReader(truncated))
	if err != nil {
		t.Fatalf("NewReader() error: %v", err)
	}
	if _, err := r.Next(); err == nil {
		t.Error("truncated cycle should fail")
	}
}

func mustEncode(data []byte, err error) []byte {
	if err != nil {
		panic(err)
	}
	return data
}
