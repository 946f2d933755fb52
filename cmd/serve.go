// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/bitastat/pkg/bitalino"
	"github.com/Thermoquad/bitastat/pkg/server"
)

var (
	serveListen  string
	serveOffsets string
	serveKeep    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve live acquisition over HTTP and WebSocket",
	Long: `Acquire from the device and serve the decoded stream.

Endpoints:
  GET /api/v1/session   Session header (rate, channels, labels, clock anchor)
  GET /api/v1/labels    Primary and offset column labels
  GET /api/v1/stats     Sample, anomaly and drift statistics
  GET /api/v1/offsets   Stored offset records (?from=&to= RFC3339)
  GET /api/v1/drift     Drift summary (?window=3m)
  GET /ws               WebSocket stream: session header, then one CBOR
                        message per cycle

Offset records are stored in the offset database while serving.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveListen, "listen", "l", "", "Listen address (default from config, :8080)")
	serveCmd.Flags().StringVar(&serveOffsets, "offsets-db", "", "Offset database (default from config)")
	serveCmd.Flags().BoolVar(&serveKeep, "keep", false, "Keep existing offset records")
}

func runServe(cmd *cobra.Command, args []string) error {
	listen := resolvePath(serveListen, cfg.Server.Listen, ":8080")
	offsetsPath := resolvePath(serveOffsets, cfg.Record.OffsetsDB, "offsets.db")

	acq, err := StartAcquisition()
	if err != nil {
		return err
	}
	defer acq.Close()

	session := acq.Reader.Session()
	header := bitalino.NewSessionHeader(session, acq.Version)

	db, err := openOffsetStore(offsetsPath, header, serveKeep)
	if err != nil {
		return fmt.Errorf("failed to open offset database: %w", err)
	}
	defer db.Close()

	srv, err := server.New(header, db)
	if err != nil {
		return err
	}
	srv.SetDriftWindow(cfg.Drift.Window)

	fmt.Printf("Bitastat - Server\n")
	fmt.Printf("Connection: %s\n", acq.ConnInfo)
	fmt.Printf("Device: %s @ %d Hz, channels %v\n", acq.Version, session.Rate(), session.Channels().Names())
	fmt.Printf("Listening: %s\n", listen)
	fmt.Printf("Press Ctrl+C to stop\n\n")

	ctx, cancel := signalContext()
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(ctx, listen)
		cancel()
	}()

	offsets := newOffsetBatcher(db)
	err = acq.Reader.Run(ctx,
		func(c *bitalino.Cycle) error {
			srv.Publish(c)
			return nil
		},
		offsets.Add,
	)
	if flushErr := offsets.Flush(); err == nil {
		err = flushErr
	}

	cancel()
	if serveErr := <-errCh; err == nil {
		err = serveErr
	}
	return err
}
