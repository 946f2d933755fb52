// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/bitastat/pkg/bitalino"
	"github.com/Thermoquad/bitastat/pkg/log"
	"github.com/Thermoquad/bitastat/pkg/recorder"
	"github.com/Thermoquad/bitastat/pkg/server"
)

var (
	replaySpeed  float64
	replayListen string
	replayQuiet  bool
)

var replayCmd = &cobra.Command{
	Use:   "replay <recording>",
	Short: "Replay a recording",
	Long: `Read a recording made with the record command and print its samples.

Cycles are replayed with the original device-time spacing divided by --speed.
With --listen, the replayed cycles are also served over the HTTP API and
WebSocket stream exactly like the serve command does for a live device.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier")
	replayCmd.Flags().StringVar(&replayListen, "listen", "", "Serve the replay on this address")
	replayCmd.Flags().BoolVarP(&replayQuiet, "quiet", "q", false, "Do not print samples")
}

func runReplay(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	rr, err := recorder.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", args[0], err)
	}
	header := rr.Header()

	fmt.Printf("Bitastat - Replay\n")
	fmt.Printf("Recording: %s\n", args[0])
	if header.Version != "" {
		fmt.Printf("Device: %s\n", header.Version)
	}
	fmt.Printf("Started: %s\n", time.UnixMicro(header.Start).Format(time.RFC3339Nano))
	fmt.Printf("Rate: %d Hz, channels %v\n", header.Rate, header.Channels)
	fmt.Printf("Columns: %s\n", strings.Join(header.Labels, ", "))
	fmt.Printf("Speed: %.2gx\n\n", replaySpeed)

	ctx, cancel := signalContext()
	defer cancel()

	sinks := []Sink{}
	if !replayQuiet {
		sinks = append(sinks, func(c *bitalino.Cycle) error {
			fmt.Print(bitalino.FormatCycle(header.Labels, c))
			return nil
		})
	}

	var errCh chan error
	if replayListen != "" {
		srv, err := server.New(header, nil)
		if err != nil {
			return err
		}
		errCh = make(chan error, 1)
		go func() { errCh <- srv.Run(ctx, replayListen) }()
		sinks = append(sinks, func(c *bitalino.Cycle) error {
			srv.Publish(c)
			return nil
		})
	}

	stats := bitalino.NewStatistics()
	err = recorder.Play(rr, replaySpeed, nil, func(c *bitalino.Cycle) error {
		if ctx.Err() != nil {
			return context.Canceled
		}
		stats.Update(c)
		for _, sink := range sinks {
			if err := sink(c); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	fmt.Println()
	fmt.Print(stats.String())

	if errCh != nil && err == nil {
		log.Info("Replay finished, still serving on %s (Ctrl+C to exit)", replayListen)
		return <-errCh
	}
	return err
}
