// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Thermoquad/bitastat/pkg/bitalino"
	"github.com/Thermoquad/bitastat/pkg/device"
	"github.com/Thermoquad/bitastat/pkg/log"
)

// Sink receives every decoded cycle. Returning an error stops acquisition.
type Sink func(c *bitalino.Cycle) error

// Reader polls a transport once per tick and decodes what it returned.
// Bytes that do not complete a frame are kept and prepended to the next
// read, the way they would stay in the OS serial buffer.
type Reader struct {
	src      io.Reader
	session  *bitalino.Session
	interval time.Duration
	now      func() time.Time

	buf   []byte
	carry []byte

	// quiet disables anomaly warnings for callers that display them
	quiet bool
}

// NewReader creates a reader over src
func NewReader(src io.Reader, session *bitalino.Session, interval time.Duration) *Reader {
	return &Reader{
		src:      src,
		session:  session,
		interval: interval,
		now:      time.Now,
		buf:      make([]byte, bitalino.SerialBufferSize),
	}
}

// SetQuiet controls whether Run logs anomalies as warnings
func (r *Reader) SetQuiet(quiet bool) {
	r.quiet = quiet
}

// Session returns the decoding session
func (r *Reader) Session() *bitalino.Session {
	return r.session
}

// Pending returns the number of carried bytes waiting for the next poll
func (r *Reader) Pending() int {
	return len(r.carry)
}

// Poll performs one read and decode cycle
func (r *Reader) Poll() (bitalino.Cycle, error) {
	n, err := r.src.Read(r.buf)
	if err != nil && n == 0 {
		return bitalino.Cycle{}, err
	}

	data := append(r.carry, r.buf[:n]...)
	cycle := r.session.Process(data, r.now())
	if n == bitalino.SerialBufferSize {
		cycle.Anomalies = append(cycle.Anomalies, bitalino.SaturationAnomaly(n))
	}
	r.carry = append(r.carry[:0], data[cycle.Consumed:]...)

	return cycle, nil
}

// Run polls until ctx is done or a read or sink fails
func (r *Reader) Run(ctx context.Context, sinks ...Sink) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		cycle, err := r.Poll()
		if err != nil {
			if errors.Is(err, ErrConnectionClosed) || errors.Is(err, io.EOF) {
				log.Info("Connection closed")
				return nil
			}
			return fmt.Errorf("read failed: %w", err)
		}

		if !r.quiet {
			for _, a := range cycle.Anomalies {
				log.Warning("%s", a.String())
			}
		}

		for _, sink := range sinks {
			if err := sink(&cycle); err != nil {
				return err
			}
		}
	}
}

// Acquisition is a started device together with the reader consuming it
type Acquisition struct {
	Conn     Connection
	ConnInfo string
	Device   *device.Device
	Version  string
	Reader   *Reader

	closed bool
}

// StartAcquisition opens the configured connection, applies the battery
// threshold, starts the device and creates the decoding session
func StartAcquisition() (*Acquisition, error) {
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return nil, err
	}

	a, err := startOn(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	a.ConnInfo = connInfo
	return a, nil
}

func startOn(conn Connection) (*Acquisition, error) {
	dev := device.New(conn)

	version, err := dev.Version()
	if err != nil {
		return nil, fmt.Errorf("failed to query device version: %w", err)
	}
	log.Info("Connected to %s", version)

	if t := cfg.Device.BatteryThreshold; t != nil {
		if err := dev.SetBattery(*t); err != nil {
			return nil, fmt.Errorf("failed to set battery threshold: %w", err)
		}
	}

	session, err := startDevice(dev)
	if err != nil {
		return nil, err
	}
	log.Debug("Acquiring %v at %d Hz", session.Channels().Names(), session.Rate())

	return &Acquisition{
		Conn:    conn,
		Device:  dev,
		Version: version,
		Reader:  NewReader(dev, session, cfg.PollInterval()),
	}, nil
}

// startDevice starts dev with the configured rate and channels. The
// returned session's clock is anchored on the start command.
func startDevice(dev *device.Device) (*bitalino.Session, error) {
	sessionCfg := cfg.SessionConfig()
	session, err := bitalino.NewSession(sessionCfg, time.Now())
	if err != nil {
		return nil, err
	}

	if err := dev.Start(session.Rate(), session.Channels(), false); err != nil {
		return nil, fmt.Errorf("failed to start acquisition: %w", err)
	}

	// Re-anchor the device clock on the start command
	session, err = bitalino.NewSession(sessionCfg, time.Now())
	if err != nil {
		dev.Stop()
		return nil, err
	}
	return session, nil
}

// Close stops the device and closes the connection
func (a *Acquisition) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	if a.Device.Started() {
		if err := a.Device.Stop(); err != nil {
			log.Warning("Failed to stop device: %v", err)
		}
	}
	return a.Conn.Close()
}

// signalContext returns a context cancelled by Ctrl+C or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
