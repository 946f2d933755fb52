// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bitalino

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const timestampFormat = "15:04:05.000"

// FormatSample formats one sample as a single line, labelled with the
// session's column names
func FormatSample(labels []string, ts time.Time, s Sample, converted []float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", ts.Format(timestampFormat))

	if !s.Valid {
		b.WriteString(" MISSING (checksum failed)\n")
		return b.String()
	}

	row := s.Row()
	for i, v := range row {
		label := fmt.Sprintf("col%d", i)
		if i < len(labels) {
			label = labels[i]
		}
		fmt.Fprintf(&b, " %s=%d", label, int(v))
	}
	for i, v := range converted {
		idx := len(row) + i
		label := fmt.Sprintf("col%d", idx)
		if idx < len(labels) {
			label = labels[idx]
		}
		fmt.Fprintf(&b, " %s=%s", label, formatFloat(v))
	}
	b.WriteString("\n")
	return b.String()
}

// FormatCycle formats every sample of a cycle followed by its offset record
func FormatCycle(labels []string, c *Cycle) string {
	var b strings.Builder
	for i, s := range c.Samples {
		var converted []float64
		if i < len(c.Converted) {
			converted = c.Converted[i]
		}
		b.WriteString(FormatSample(labels, c.Timestamps[i], s, converted))
	}
	if c.Offset != nil {
		b.WriteString(FormatOffset(*c.Offset))
	}
	return b.String()
}

// FormatOffset formats an offset record
func FormatOffset(o OffsetRecord) string {
	return fmt.Sprintf("[%s] OFFSET time_device=%s time_offset=%dus\n",
		o.TimeLocal.Format(timestampFormat), o.TimeDevice.Format(time.RFC3339Nano), o.OffsetMicros())
}

// FormatAnomaly formats an anomaly as a warning line
func FormatAnomaly(ts time.Time, a Anomaly) string {
	return fmt.Sprintf("[%s] %s: %s\n", ts.Format(timestampFormat), a.Type, a.String())
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "NaN"
	}
	return fmt.Sprintf("%.3f", v)
}
