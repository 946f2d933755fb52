// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Thermoquad/bitastat/pkg/bitalino"
)

// recorder captures written commands and serves canned responses
type recorder struct {
	written  bytes.Buffer
	response bytes.Buffer
}

func (r *recorder) Write(p []byte) (int, error) { return r.written.Write(p) }

func (r *recorder) Read(p []byte) (int, error) {
	if r.response.Len() == 0 {
		return 0, nil
	}
	return r.response.Read(p)
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// ============================================================
// Command Tests
// ============================================================

func TestStart_Commands(t *testing.T) {
	rw := &recorder{}
	d := New(rw)

	sel := bitalino.NewSelection(bitalino.A1, bitalino.A3, bitalino.A6)
	if err := d.Start(1000, sel, false); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if diff := cmp.Diff([]byte{0xC3, 0x95}, rw.written.Bytes()); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
	if d.Mode() != ModeLive || d.Rate() != 1000 {
		t.Errorf("mode = %v rate = %d, want LIVE 1000", d.Mode(), d.Rate())
	}

	if err := d.Start(1000, sel, false); !errors.Is(err, ErrNotIdle) {
		t.Errorf("second Start should fail with ErrNotIdle, got %v", err)
	}

	rw.written.Reset()
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if diff := cmp.Diff([]byte{CmdStop}, rw.written.Bytes()); diff != "" {
		t.Errorf("stop mismatch (-want +got):\n%s", diff)
	}
	if err := d.Stop(); !errors.Is(err, ErrNotAcquiring) {
		t.Errorf("second Stop should fail with ErrNotAcquiring, got %v", err)
	}
}

func TestStart_Simulated(t *testing.T) {
	rw := &recorder{}
	d := New(rw)
	if err := d.Start(10, bitalino.NewSelection(bitalino.A2), true); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if diff := cmp.Diff([]byte{0x43, 0x0A}, rw.written.Bytes()); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
	if d.Mode() != ModeSimulated {
		t.Errorf("mode = %v, want SIMULATED", d.Mode())
	}
}

func TestStart_InvalidRate(t *testing.T) {
	rw := &recorder{}
	if err := New(rw).Start(500, bitalino.AllChannels(), false); !errors.Is(err, bitalino.ErrInvalidRate) {
		t.Errorf("expected ErrInvalidRate, got %v", err)
	}
	if rw.written.Len() != 0 {
		t.Errorf("no command should be sent for an invalid rate, got % X", rw.written.Bytes())
	}
}

func TestSetBattery(t *testing.T) {
	rw := &recorder{}
	d := New(rw)

	if err := d.SetBattery(10); err != nil {
		t.Fatalf("SetBattery failed: %v", err)
	}
	if got := rw.written.Bytes(); len(got) != 1 || got[0] != 0x28 {
		t.Errorf("SetBattery(10) sent % X, want 28", got)
	}

	for _, threshold := range []int{-1, 64} {
		if err := d.SetBattery(threshold); err == nil {
			t.Errorf("SetBattery(%d) should fail", threshold)
		}
	}

	_ = d.Start(1, bitalino.AllChannels(), false)
	if err := d.SetBattery(10); !errors.Is(err, ErrNotIdle) {
		t.Errorf("SetBattery during acquisition should fail with ErrNotIdle, got %v", err)
	}
}

func TestTrigger(t *testing.T) {
	rw := &recorder{}
	d := New(rw)
	if err := d.Trigger(true, true); !errors.Is(err, ErrNotAcquiring) {
		t.Errorf("Trigger while idle should fail, got %v", err)
	}

	_ = d.Start(1, bitalino.AllChannels(), false)
	rw.written.Reset()
	_ = d.Trigger(true, false)
	_ = d.Trigger(false, true)
	if diff := cmp.Diff([]byte{0xB7, 0xBB}, rw.written.Bytes()); diff != "" {
		t.Errorf("trigger mismatch (-want +got):\n%s", diff)
	}
}

func TestRead_Idle(t *testing.T) {
	if _, err := New(&recorder{}).Read(make([]byte, 8)); !errors.Is(err, ErrNotAcquiring) {
		t.Errorf("Read while idle should fail with ErrNotAcquiring, got %v", err)
	}
}

// ============================================================
// Query Tests
// ============================================================

func TestVersion(t *testing.T) {
	rw := &recorder{}
	rw.response.WriteString("BITalino_v5.1\r\n")
	d := New(rw)

	version, err := d.Version()
	if err != nil {
		t.Fatalf("Version failed: %v", err)
	}
	if version != "BITalino_v5.1" {
		t.Errorf("Version() = %q", version)
	}
	if got := rw.written.Bytes(); len(got) != 1 || got[0] != CmdVersion {
		t.Errorf("Version sent % X, want 07", got)
	}
}

func TestVersion_Timeout(t *testing.T) {
	d := New(&recorder{})
	d.SetTimeout(10 * time.Millisecond)
	if _, err := d.Version(); !errors.Is(err, ErrTimeout) {
		t.Errorf("expected ErrTimeout, got %v", err)
	}
}

func TestState(t *testing.T) {
	want := State{
		Analog:           [6]uint16{512, 1, 1023, 300, 40, 63},
		Battery:          600,
		BatteryThreshold: 20,
		Digital:          [4]uint8{1, 0, 0, 1},
	}
	rw := &recorder{}
	rw.response.Write(EncodeState(want))

	got, err := New(rw).State()
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("state mismatch (-want +got):\n%s", diff)
	}
}

func TestParseState_Errors(t *testing.T) {
	if _, err := ParseState(make([]byte, 16)); err == nil {
		t.Error("short state response should fail")
	}

	data := EncodeState(State{Battery: 600})
	data[3] ^= 0x40
	if _, err := ParseState(data); !errors.Is(err, ErrChecksum) {
		t.Errorf("corrupted state should fail with ErrChecksum, got %v", err)
	}
}

func TestBatteryPercent(t *testing.T) {
	tests := []struct {
		raw  int
		want float64
	}{
		{511, 1},
		{645, 99},
		{578, 50},
		{600, 66.09},
	}
	for _, tt := range tests {
		if got := BatteryPercent(tt.raw); got != tt.want {
			t.Errorf("BatteryPercent(%d) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

// ============================================================
// Simulator Tests
// ============================================================

func startSimulator(t *testing.T, cfg SimulatorConfig, rate int, sel bitalino.Selection) (*Simulator, *Device, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	cfg.Now = clock.Now
	sim := NewSimulator(cfg)
	d := New(sim)
	if err := d.Start(rate, sel, false); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return sim, d, clock
}

func TestSimulator_Frames(t *testing.T) {
	sel := bitalino.NewSelection(bitalino.A1, bitalino.A2)
	sim, d, clock := startSimulator(t, SimulatorConfig{}, 100, sel)

	clock.Advance(100 * time.Millisecond)
	if got := sim.Buffered(); got != 40 {
		t.Fatalf("Buffered() = %d, want 40", got)
	}

	buf := make([]byte, bitalino.SerialBufferSize)
	n, err := d.Read(buf)
	if err != nil || n != 40 {
		t.Fatalf("Read = %d, %v; want 40", n, err)
	}

	samples, anomalies, consumed := bitalino.NewDecoder(bitalino.ResolveLayout(sel)).Decode(buf[:n])
	if len(anomalies) != 0 {
		t.Errorf("unexpected anomalies: %v", anomalies)
	}
	if consumed != 40 || len(samples) != 10 {
		t.Fatalf("decoded %d samples from %d bytes, want 10 from 40", len(samples), consumed)
	}
	for i, s := range samples {
		if !s.Valid || int(s.Sequence) != i {
			t.Errorf("sample %d: valid=%v seq=%d", i, s.Valid, s.Sequence)
		}
	}

	if n, _ := d.Read(buf); n != 0 {
		t.Errorf("second Read returned %d bytes, want 0", n)
	}
}

func TestSimulator_CorruptEvery(t *testing.T) {
	sel := bitalino.AllChannels()
	_, d, clock := startSimulator(t, SimulatorConfig{CorruptEvery: 5}, 100, sel)

	clock.Advance(100 * time.Millisecond)
	buf := make([]byte, bitalino.SerialBufferSize)
	n, _ := d.Read(buf)

	samples, anomalies, _ := bitalino.NewDecoder(bitalino.ResolveLayout(sel)).Decode(buf[:n])
	var checksums int
	for _, a := range anomalies {
		if a.Type == bitalino.AnomalyChecksum {
			checksums++
		}
	}
	if checksums != 2 {
		t.Errorf("checksum anomalies = %d, want 2", checksums)
	}
	if samples[4].Valid || samples[9].Valid {
		t.Error("frames 5 and 10 should be missing")
	}
}

func TestSimulator_Saturation(t *testing.T) {
	sim, _, clock := startSimulator(t, SimulatorConfig{}, 1000, bitalino.AllChannels())

	clock.Advance(2 * time.Second)
	if got := sim.Buffered(); got != bitalino.SerialBufferSize {
		t.Errorf("Buffered() = %d, want %d", got, bitalino.SerialBufferSize)
	}
}

func TestSimulator_Queries(t *testing.T) {
	sim := NewSimulator(SimulatorConfig{Battery: 600})
	d := New(sim)
	d.SetTimeout(100 * time.Millisecond)

	version, err := d.Version()
	if err != nil || version != DefaultVersion {
		t.Errorf("Version() = %q, %v", version, err)
	}

	if err := d.SetBattery(42); err != nil {
		t.Fatalf("SetBattery failed: %v", err)
	}
	state, err := d.State()
	if err != nil {
		t.Fatalf("State failed: %v", err)
	}
	if state.Battery != 600 || state.BatteryThreshold != 42 {
		t.Errorf("state = %+v", state)
	}
}

func TestSimulator_StopAndClose(t *testing.T) {
	sim, d, clock := startSimulator(t, SimulatorConfig{}, 100, bitalino.AllChannels())
	clock.Advance(time.Second)
	if err := d.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if got := sim.Buffered(); got != 0 {
		t.Errorf("Buffered() after stop = %d, want 0", got)
	}

	_ = sim.Close()
	if _, err := sim.Read(make([]byte, 8)); err == nil {
		t.Error("Read after Close should fail")
	}
	if _, err := sim.Write([]byte{CmdVersion}); err == nil {
		t.Error("Write after Close should fail")
	}
}
