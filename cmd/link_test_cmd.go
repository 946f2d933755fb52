// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/bitastat/pkg/bitalino"
)

var linkTestCmd = &cobra.Command{
	Use:   "link_test",
	Short: "Test raw connection stability and throughput",
	Long: `Start acquisition and watch the raw byte stream without decoding it.

Every second the number of bytes received is compared with the number the
device should produce at the configured rate and channel count (rate times
frame size). Useful for debugging Bluetooth or WebSocket bridge stability
issues separately from frame decoding.

Exit codes:
  0 - Test completed normally
  1 - Test failed (connection error or throughput below 90%)
  2 - Connection error`,
	RunE: runLinkTest,
}

var linkTestDuration int

func init() {
	rootCmd.AddCommand(linkTestCmd)
	linkTestCmd.Flags().IntVar(&linkTestDuration, "duration", 30, "Test duration in seconds")
}

func runLinkTest(cmd *cobra.Command, args []string) error {
	acq, err := StartAcquisition()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer acq.Close()

	session := acq.Reader.Session()
	expected := session.Rate() * session.Layout().SampleSize()

	fmt.Printf("Connection Stability Test\n")
	fmt.Printf("Connection: %s\n", acq.ConnInfo)
	fmt.Printf("Expected throughput: %d bytes/s (%d Hz x %d bytes)\n", expected, session.Rate(), session.Layout().SampleSize())
	fmt.Printf("Duration: %d seconds\n\n", linkTestDuration)

	// Start a goroutine to read from the connection
	readChan := make(chan int, 100)
	errChan := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)

	go func() {
		buf := make([]byte, bitalino.SerialBufferSize)
		for {
			select {
			case <-stop:
				return
			default:
			}
			n, err := acq.Device.Read(buf)
			if err != nil {
				errChan <- err
				return
			}
			if n > 0 {
				readChan <- n
			}
		}
	}()

	// Run for the specified duration
	start := time.Now()
	endTime := start.Add(time.Duration(linkTestDuration) * time.Second)
	heartbeat := time.NewTicker(time.Second)
	defer heartbeat.Stop()

	bytesReceived := 0
	readsReceived := 0
	secondBytes := 0

	fmt.Printf("Listening for data...\n\n")

	for time.Now().Before(endTime) {
		select {
		case n := <-readChan:
			bytesReceived += n
			secondBytes += n
			readsReceived++

		case err := <-errChan:
			fmt.Printf("\n[%s] Connection error: %v\n",
				time.Now().Format("15:04:05.000"), err)
			fmt.Printf("\n--- Test Results ---\n")
			fmt.Printf("Duration: %v\n", time.Since(start).Round(time.Millisecond))
			fmt.Printf("Reads: %d\n", readsReceived)
			fmt.Printf("Bytes received: %d\n", bytesReceived)
			fmt.Printf("Result: FAILED (connection error)\n")
			acq.Close()
			os.Exit(1)

		case <-heartbeat.C:
			remaining := time.Until(endTime).Seconds()
			fmt.Printf("[%s] %d bytes/s (%.0f%%) (%.0fs remaining)\n",
				time.Now().Format("15:04:05.000"), secondBytes,
				float64(secondBytes)*100/float64(expected), remaining)
			secondBytes = 0
		}
	}

	elapsed := time.Since(start).Seconds()
	ratio := float64(bytesReceived) / (float64(expected) * elapsed)

	fmt.Printf("\n--- Test Results ---\n")
	fmt.Printf("Duration: %d seconds\n", linkTestDuration)
	fmt.Printf("Reads: %d\n", readsReceived)
	fmt.Printf("Bytes received: %d (%.1f%% of expected)\n", bytesReceived, ratio*100)
	if ratio < 0.9 {
		fmt.Printf("Result: FAILED (throughput too low)\n")
		acq.Close()
		os.Exit(1)
	}
	fmt.Printf("Result: PASSED (connection stable)\n")

	return nil
}
