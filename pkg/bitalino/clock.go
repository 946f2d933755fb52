// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bitalino

import (
	"math"
	"time"
)

// Clock synthesizes sample timestamps from the nominal device rate.
//
// Timestamps advance by a fixed period per sample from a running device
// clock anchor, so they stay monotonic and evenly spaced however irregular
// the polling cycles are. Wall-clock time is only sampled once per cycle to
// measure how far the device clock has drifted from it; it is never used to
// place samples.
type Clock struct {
	timeDevice time.Time
	timeLocal  time.Time
	period     time.Duration
}

// SamplePeriod returns round(1000/rate) milliseconds
func SamplePeriod(rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(math.Round(1000/float64(rate))) * time.Millisecond
}

// NewClock creates a clock for rate anchored at start. The anchor is
// truncated to microsecond precision.
func NewClock(rate int, start time.Time) *Clock {
	start = start.Truncate(time.Microsecond)
	return &Clock{
		timeDevice: start,
		timeLocal:  start,
		period:     SamplePeriod(rate),
	}
}

// Period returns the fixed spacing between timestamps
func (c *Clock) Period() time.Duration {
	return c.period
}

// TimeDevice returns the current device clock anchor
func (c *Clock) TimeDevice() time.Time {
	return c.timeDevice
}

// TimeLocal returns the wall-clock time captured at the last cycle
func (c *Clock) TimeLocal() time.Time {
	return c.timeLocal
}

// Stamp returns count timestamps starting at the device clock anchor and
// advances the anchor past them. now is the wall-clock time of this cycle.
// An offset record is returned only when count > 0.
func (c *Clock) Stamp(count int, now time.Time) ([]time.Time, *OffsetRecord) {
	if count < 0 {
		count = 0
	}
	start := c.timeDevice
	timestamps := make([]time.Time, count)
	for i := range timestamps {
		timestamps[i] = start.Add(time.Duration(i) * c.period)
	}

	c.timeDevice = start.Add(time.Duration(count) * c.period)
	c.timeLocal = now.Truncate(time.Microsecond)

	if count == 0 {
		return timestamps, nil
	}
	return timestamps, &OffsetRecord{
		TimeDevice: start,
		TimeLocal:  c.timeLocal,
		Offset:     c.timeLocal.Sub(start),
	}
}
