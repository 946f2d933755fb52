// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package store

import (
	"fmt"
	"time"

	"github.com/Thermoquad/bitastat/pkg/bitalino"
)

// DriftSummary compares the mean clock offset at the start of a run with
// the mean at its end
type DriftSummary struct {
	Records     int
	First       time.Time // device time of the first record
	Last        time.Time // device time of the last record
	Window      time.Duration
	StartOffset float64 // mean offset over [First, First+Window], microseconds
	StopOffset  float64 // mean offset over [Last-Window, Last], microseconds
}

// Duration returns the device-time span of the run
func (d DriftSummary) Duration() time.Duration {
	return d.Last.Sub(d.First)
}

// DriftMicros returns the change in mean offset, in microseconds
func (d DriftSummary) DriftMicros() int64 {
	return int64(d.StopOffset - d.StartOffset)
}

// String formats the summary for operators
func (d DriftSummary) String() string {
	total := int64(d.Duration().Round(time.Second).Seconds())
	hours, rem := total/3600, total%3600
	minutes, seconds := rem/60, rem%60
	return fmt.Sprintf(
		"Offset records: %d\n"+
			"Total running duration: %d hours, %d minutes, %d seconds\n"+
			"Mean offset (first %v): %.0f us\n"+
			"Mean offset (last %v): %.0f us\n"+
			"Total drift (us): %d\n"+
			"Total drift (s): %.0f\n",
		d.Records, hours, minutes, seconds,
		d.Window, d.StartOffset, d.Window, d.StopOffset,
		d.DriftMicros(), (d.StopOffset-d.StartOffset)/1e6,
	)
}

// ComputeDrift builds a summary from records sorted by device time
func ComputeDrift(records []bitalino.OffsetRecord, window time.Duration) (DriftSummary, error) {
	if len(records) == 0 {
		return DriftSummary{}, ErrNoOffsets
	}
	first := records[0].TimeDevice
	last := records[len(records)-1].TimeDevice

	var startSum, stopSum float64
	var startN, stopN int
	for _, r := range records {
		us := float64(r.OffsetMicros())
		if !r.TimeDevice.After(first.Add(window)) {
			startSum += us
			startN++
		}
		if !r.TimeDevice.Before(last.Add(-window)) {
			stopSum += us
			stopN++
		}
	}

	return DriftSummary{
		Records:     len(records),
		First:       first,
		Last:        last,
		Window:      window,
		StartOffset: startSum / float64(startN),
		StopOffset:  stopSum / float64(stopN),
	}, nil
}
