// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/bitastat/pkg/bitalino"
	"github.com/Thermoquad/bitastat/pkg/log"
	"github.com/Thermoquad/bitastat/pkg/recorder"
	"github.com/Thermoquad/bitastat/pkg/store"
)

// offsetFlushInterval bounds how long offset records wait before being
// committed to the store
const offsetFlushInterval = time.Second

var (
	recordOutput   string
	recordOffsets  string
	recordDuration time.Duration
	recordKeep     bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record decoded cycles and offset telemetry",
	Long: `Acquire from the device and write every decode cycle to a recording file.

The recording is a CBOR sequence: a session header (rate, channels, labels,
clock anchor, firmware version) followed by one message per cycle carrying the
timestamped samples and the cycle's offset record.

Offset records are also stored in a bbolt database keyed by device time, so
that clock drift can be analyzed later with the drift command. The database is
cleared at the start of each recording unless --keep is given.

Recording stops on Ctrl+C or after --duration.`,
	RunE: runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().StringVarP(&recordOutput, "output", "o", "", "Recording file (default from config, or session.cbor)")
	recordCmd.Flags().StringVar(&recordOffsets, "offsets-db", "", "Offset database (default from config)")
	recordCmd.Flags().DurationVar(&recordDuration, "duration", 0, "Stop after this long (0 records until Ctrl+C)")
	recordCmd.Flags().BoolVar(&recordKeep, "keep", false, "Keep existing offset records")
}

// offsetBatcher collects offset records and commits them in batches
type offsetBatcher struct {
	db      *store.Store
	pending []bitalino.OffsetRecord
	last    time.Time
	written int
}

func newOffsetBatcher(db *store.Store) *offsetBatcher {
	return &offsetBatcher{db: db, last: time.Now()}
}

func (b *offsetBatcher) Add(c *bitalino.Cycle) error {
	if c.Offset == nil {
		return nil
	}
	b.pending = append(b.pending, *c.Offset)
	if time.Since(b.last) < offsetFlushInterval {
		return nil
	}
	return b.Flush()
}

func (b *offsetBatcher) Flush() error {
	b.last = time.Now()
	if len(b.pending) == 0 {
		return nil
	}
	if err := b.db.PutOffsets(b.pending...); err != nil {
		return fmt.Errorf("failed to store offsets: %w", err)
	}
	b.written += len(b.pending)
	b.pending = b.pending[:0]
	return nil
}

func resolvePath(flag, configured, fallback string) string {
	if flag != "" {
		return flag
	}
	if configured != "" {
		return configured
	}
	return fallback
}

// openOffsetStore opens the offset database and records the session header
func openOffsetStore(path string, header bitalino.SessionHeader, keep bool) (*store.Store, error) {
	db, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	if !keep {
		if err := db.Clear(); err != nil {
			db.Close()
			return nil, err
		}
	}
	if err := db.SetSession(header); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func runRecord(cmd *cobra.Command, args []string) error {
	output := resolvePath(recordOutput, cfg.Record.Path, "session.cbor")
	offsetsPath := resolvePath(recordOffsets, cfg.Record.OffsetsDB, "offsets.db")

	acq, err := StartAcquisition()
	if err != nil {
		return err
	}
	defer acq.Close()

	session := acq.Reader.Session()
	header := bitalino.NewSessionHeader(session, acq.Version)

	w, err := recorder.Create(output, header)
	if err != nil {
		return fmt.Errorf("failed to create recording: %w", err)
	}
	defer w.Close()

	db, err := openOffsetStore(offsetsPath, header, recordKeep)
	if err != nil {
		return fmt.Errorf("failed to open offset database: %w", err)
	}
	defer db.Close()

	fmt.Printf("Bitastat - Record\n")
	fmt.Printf("Connection: %s\n", acq.ConnInfo)
	fmt.Printf("Device: %s @ %d Hz, channels %v\n", acq.Version, session.Rate(), session.Channels().Names())
	fmt.Printf("Recording: %s\n", output)
	fmt.Printf("Offsets: %s\n", offsetsPath)
	fmt.Printf("Press Ctrl+C to stop\n\n")

	ctx, cancel := signalContext()
	defer cancel()
	if recordDuration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, recordDuration)
		defer stop()
	}

	stats := bitalino.NewStatistics()
	offsets := newOffsetBatcher(db)

	err = acq.Reader.Run(ctx,
		func(c *bitalino.Cycle) error {
			stats.Update(c)
			return w.WriteCycle(c)
		},
		offsets.Add,
	)
	if flushErr := offsets.Flush(); err == nil {
		err = flushErr
	}
	if closeErr := w.Close(); err == nil {
		err = closeErr
	}

	log.Info("Recorded %d cycles and %d offset records", w.Cycles(), offsets.written)
	fmt.Println()
	fmt.Print(stats.String())
	return err
}
