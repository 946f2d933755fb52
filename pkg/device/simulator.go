// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package device

import (
	"io"
	"math"
	"sync"
	"time"

	"github.com/Thermoquad/bitastat/pkg/bitalino"
)

// DefaultVersion is the firmware string reported by the Simulator
const DefaultVersion = "BITalino_v5.1"

// SimulatorConfig configures a Simulator
type SimulatorConfig struct {
	Version      string
	Battery      uint16        // raw battery reading reported by State
	CorruptEvery int           // corrupt the checksum of every Nth frame, 0 disables
	PollDelay    time.Duration // how long Read waits when nothing is pending
	Now          func() time.Time
}

// Simulator emulates a BITalino on the other end of a serial link. Frames
// are produced at the configured rate as time passes and queue up to
// bitalino.SerialBufferSize bytes. Bytes beyond that are lost the way an
// unread serial port loses them, which may cut a frame short.
type Simulator struct {
	mu  sync.Mutex
	cfg SimulatorConfig

	mode      Mode
	rate      int
	layout    bitalino.Layout
	started   time.Time
	produced  int64
	sequence  uint8
	threshold uint8
	o1, o2    uint8
	last      [bitalino.ChannelCount]uint16
	pending   []byte
	closed    bool
}

// NewSimulator creates an idle simulated device
func NewSimulator(cfg SimulatorConfig) *Simulator {
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	if cfg.Battery == 0 {
		cfg.Battery = batteryRawMax
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Simulator{cfg: cfg, rate: bitalino.DefaultRate}
}

// Write processes host commands
func (s *Simulator) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, io.ErrClosedPipe
	}
	for _, cmd := range p {
		s.command(cmd)
	}
	return len(p), nil
}

func (s *Simulator) command(cmd byte) {
	if s.mode != ModeIdle {
		switch {
		case cmd == CmdStop:
			s.mode = ModeIdle
			s.pending = s.pending[:0]
		case cmd&0xF3 == CmdTrigger:
			s.o1 = cmd >> 2 & 0x01
			s.o2 = cmd >> 3 & 0x01
		}
		return
	}

	switch {
	case cmd&0x3F == CmdSetRate:
		s.rate = bitalino.RateFromCode(cmd >> 6)
	case cmd == CmdVersion:
		s.pending = append(s.pending, s.cfg.Version+"\n"...)
	case cmd == CmdState:
		s.pending = append(s.pending, EncodeState(s.state())...)
	case cmd&0x03 == CmdStartLive, cmd&0x03 == CmdStartSim:
		s.mode = ModeLive
		if cmd&0x03 == CmdStartSim {
			s.mode = ModeSimulated
		}
		s.layout = bitalino.ResolveLayout(bitalino.SelectionFromMask(cmd >> 2))
		s.started = s.cfg.Now()
		s.produced = 0
		s.sequence = 0
		s.pending = s.pending[:0]
	case cmd&0x03 == 0:
		s.threshold = cmd >> 2
	}
}

func (s *Simulator) state() State {
	st := State{
		Analog:           s.last,
		Battery:          s.cfg.Battery,
		BatteryThreshold: s.threshold,
	}
	st.Digital[2], st.Digital[3] = s.o1, s.o2
	return st
}

// Read returns whatever the device has sent since the last read. It waits
// up to PollDelay when nothing is pending and then returns 0, nil, as a
// serial port with a read timeout does.
func (s *Simulator) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, io.EOF
	}
	s.fill()
	if len(s.pending) == 0 {
		delay := s.cfg.PollDelay
		s.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		return 0, nil
	}
	n := copy(p, s.pending)
	s.pending = append(s.pending[:0], s.pending[n:]...)
	s.mu.Unlock()
	return n, nil
}

// Buffered returns the number of bytes waiting to be read
func (s *Simulator) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fill()
	return len(s.pending)
}

// Close stops the simulator; subsequent reads return io.EOF
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.mode = ModeIdle
	s.pending = nil
	return nil
}

// fill generates the frames that have come due since the last call
func (s *Simulator) fill() {
	if s.mode == ModeIdle {
		return
	}
	period := time.Second / time.Duration(s.rate)
	due := int64(s.cfg.Now().Sub(s.started) / period)
	size := s.layout.SampleSize()
	capacity := int64(bitalino.SerialBufferSize/size + 1)

	// Frames that could never fit are lost without being generated
	if due-s.produced > capacity {
		skipped := due - s.produced - capacity
		s.produced += skipped
		s.sequence = uint8((int64(s.sequence) + skipped) % bitalino.SequenceModulo)
	}

	for ; s.produced < due; s.produced++ {
		frame, err := bitalino.EncodeFrame(s.layout, s.sample(s.produced))
		s.sequence = (s.sequence + 1) % bitalino.SequenceModulo
		room := bitalino.SerialBufferSize - len(s.pending)
		if err != nil || room <= 0 {
			continue
		}
		if s.cfg.CorruptEvery > 0 && (s.produced+1)%int64(s.cfg.CorruptEvery) == 0 {
			frame[size-1] ^= 0x01
		}
		if len(frame) > room {
			frame = frame[:room]
		}
		s.pending = append(s.pending, frame...)
	}
}

// sample synthesizes frame n: a sine per channel at a distinct frequency,
// I1 toggling once a second and I2 mirroring O1
func (s *Simulator) sample(n int64) bitalino.Sample {
	t := float64(n) / float64(s.rate)
	channels := s.layout.Channels()
	sample := bitalino.Sample{
		Valid:    true,
		Sequence: s.sequence,
		I1:       uint8(int64(t) % 2),
		I2:       s.o1,
		O1:       s.o1,
		O2:       s.o2,
		Analog:   make([]uint16, len(channels)),
	}
	for i, c := range channels {
		full := float64(int(1)<<uint(bitalino.PositionResolution(i)) - 1)
		freq := 1 + 0.5*float64(c)
		v := full/2 + full/2*math.Sin(2*math.Pi*freq*t)
		sample.Analog[i] = uint16(math.Round(v))
		s.last[c] = sample.Analog[i]
	}
	return sample
}
