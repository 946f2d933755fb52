// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bitalino

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Sensor identifies a transfer function converting raw ADC values to
// physical units
type Sensor string

// Supported sensors
const (
	SensorECG Sensor = "ECG" // mV
	SensorEMG Sensor = "EMG" // mV
	SensorEDA Sensor = "EDA" // uS
	SensorEEG Sensor = "EEG" // uV
	SensorEOG Sensor = "EOG" // mV
	SensorLUX Sensor = "LUX" // %
	SensorTMP Sensor = "TMP" // degrees C
)

// Sensor board constants
const (
	vcc     = 3.3
	gainECG = 1100.0
	gainEMG = 1009.0
	gainEEG = 41782.0
	gainEOG = 2040.0
	edaGain = 0.132
)

// ErrInvalidSensor is returned for unknown sensor names
var ErrInvalidSensor = errors.New("invalid sensor")

var transferFunctions = map[Sensor]func(ratio float64) float64{
	SensorECG: func(r float64) float64 { return (r - 0.5) * vcc / gainECG * 1e3 },
	SensorEMG: func(r float64) float64 { return (r - 0.5) * vcc / gainEMG * 1e3 },
	SensorEDA: func(r float64) float64 { return r * vcc / edaGain },
	SensorEEG: func(r float64) float64 { return (r - 0.5) * vcc / gainEEG * 1e6 },
	SensorEOG: func(r float64) float64 { return (r - 0.5) * vcc / gainEOG * 1e3 },
	SensorLUX: func(r float64) float64 { return r * 100 },
	SensorTMP: func(r float64) float64 { return (r*vcc - 0.5) * 100 },
}

// ParseSensor converts a sensor name (case-insensitive) to a Sensor
func ParseSensor(name string) (Sensor, error) {
	s := Sensor(strings.ToUpper(strings.TrimSpace(name)))
	if _, ok := transferFunctions[s]; !ok {
		return "", fmt.Errorf("%w: %q (valid: %s)", ErrInvalidSensor, name, strings.Join(SensorNames(), ", "))
	}
	return s, nil
}

// SensorNames returns the supported sensor names, sorted
func SensorNames() []string {
	names := make([]string, 0, len(transferFunctions))
	for s := range transferFunctions {
		names = append(names, string(s))
	}
	sort.Strings(names)
	return names
}

// Transfer converts a raw value sampled at resolution bits to the sensor's
// physical unit. NaN input stays NaN.
func Transfer(sensor Sensor, raw float64, resolution int) float64 {
	fn, ok := transferFunctions[sensor]
	if !ok || math.IsNaN(raw) {
		return math.NaN()
	}
	return fn(raw / float64(uint(1)<<uint(resolution)))
}

// Conversion applies one sensor's transfer function to one selected channel
type Conversion struct {
	Channel  Channel
	Sensor   Sensor
	Position int // index of the channel within the selection
}

// Label returns the output column label, e.g. A1_ECG
func (c Conversion) Label() string {
	return c.Channel.String() + "_" + string(c.Sensor)
}

// Resolution returns the precision of the source channel
func (c Conversion) Resolution() int {
	return c.Channel.Resolution()
}

// Apply converts one sample. Missing samples yield NaN.
func (c Conversion) Apply(s Sample) float64 {
	if !s.Valid || c.Position < 0 || c.Position >= len(s.Analog) {
		return math.NaN()
	}
	return Transfer(c.Sensor, float64(s.Analog[c.Position]), c.Resolution())
}

// ParseSensors builds the conversions for a channel-to-sensor map, keeping
// only channels present in the selection. The result is in selection order.
func ParseSensors(sel Selection, sensors map[string]string) ([]Conversion, error) {
	byChannel := make(map[Channel]Sensor, len(sensors))
	for name, sensorName := range sensors {
		c, err := ParseChannel(name)
		if err != nil {
			return nil, err
		}
		s, err := ParseSensor(sensorName)
		if err != nil {
			return nil, err
		}
		byChannel[c] = s
	}

	conversions := []Conversion{}
	for i, c := range sel {
		if s, ok := byChannel[c]; ok {
			conversions = append(conversions, Conversion{Channel: c, Sensor: s, Position: i})
		}
	}
	return conversions, nil
}
