// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package recorder reads and writes session recordings.
//
// A recording is a CBOR sequence of [msg_type, payload] messages: one
// session header followed by one message per non-empty cycle.
package recorder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/Thermoquad/bitastat/pkg/bitalino"
)

// Writer appends cycles to a recording file
type Writer struct {
	f      *os.File
	w      *bufio.Writer
	cycles int
	closed bool
}

// Create creates the file at path and writes the session header
func Create(path string, header bitalino.SessionHeader) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	ww := &Writer{f: f, w: bufio.NewWriterSize(f, 64*1024)}
	if err := ww.write(bitalino.EncodeHeader(header)); err != nil {
		_ = f.Close()
		return nil, err
	}
	return ww, nil
}

func (ww *Writer) write(data []byte, err error) error {
	if err != nil {
		return err
	}
	_, err = ww.w.Write(data)
	return err
}

// WriteCycle appends a cycle. Empty cycles are skipped.
func (ww *Writer) WriteCycle(c *bitalino.Cycle) error {
	if ww.closed {
		return errors.New("recorder is closed")
	}
	if c.Empty() && c.Offset == nil {
		return nil
	}
	if err := ww.write(bitalino.EncodeCycle(c)); err != nil {
		return fmt.Errorf("failed to write cycle: %w", err)
	}
	ww.cycles++
	return nil
}

// Cycles returns the number of cycles written
func (ww *Writer) Cycles() int {
	return ww.cycles
}

func (ww *Writer) Flush() error {
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}

// Reader reads a recording
type Reader struct {
	dec    *cbor.Decoder
	header bitalino.SessionHeader
}

// NewReader reads the session header from r
func NewReader(r io.Reader) (*Reader, error) {
	rr := &Reader{dec: cbor.NewDecoder(bufio.NewReader(r))}
	msg, err := rr.next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("recording is empty")
		}
		return nil, err
	}
	if rr.header, err = msg.DecodeHeader(); err != nil {
		return nil, err
	}
	return rr, nil
}

func (rr *Reader) next() (bitalino.Message, error) {
	var msg bitalino.Message
	if err := rr.dec.Decode(&msg); err != nil {
		if errors.Is(err, io.EOF) {
			return msg, io.EOF
		}
		return msg, fmt.Errorf("failed to decode recording: %w", err)
	}
	return msg, nil
}

// Header returns the session header
func (rr *Reader) Header() bitalino.SessionHeader {
	return rr.header
}

// Next returns the next cycle, or io.EOF at the end of the recording
func (rr *Reader) Next() (bitalino.Cycle, error) {
	msg, err := rr.next()
	if err != nil {
		return bitalino.Cycle{}, err
	}
	rec, err := msg.DecodeCycle()
	if err != nil {
		return bitalino.Cycle{}, err
	}
	return rec.Cycle(), nil
}

// ReadAll returns every remaining cycle
func (rr *Reader) ReadAll() ([]bitalino.Cycle, error) {
	var cycles []bitalino.Cycle
	for {
		c, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return cycles, nil
		}
		if err != nil {
			return cycles, err
		}
		cycles = append(cycles, c)
	}
}

type Sleeper interface {
	Sleep(d time.Duration)
}

type realSleeper struct{}

func (realSleeper) Sleep(d time.Duration) { time.Sleep(d) }

// Play hands every cycle to cb, waiting between cycles for the device-time
// gap between their first samples divided by speed.
func Play(rr *Reader, speed float64, sleeper Sleeper, cb func(c *bitalino.Cycle) error) error {
	if speed <= 0 {
		return fmt.Errorf("speed must be > 0")
	}
	if sleeper == nil {
		sleeper = realSleeper{}
	}
	if cb == nil {
		return errors.New("callback is nil")
	}

	var last time.Time
	for {
		c, err := rr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		if len(c.Timestamps) > 0 {
			at := c.Timestamps[0]
			if !last.IsZero() {
				if wait := time.Duration(float64(at.Sub(last)) / speed); wait > 0 {
					sleeper.Sleep(wait)
				}
			}
			last = at
		}

		if err := cb(&c); err != nil {
			return err
		}
	}
}
