// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bitalino

// Decoder decodes acquisition frames for a fixed layout and tracks sequence
// counter continuity across calls. A Decoder must not be used from more
// than one goroutine at a time.
type Decoder struct {
	layout       Layout
	lastSequence uint8
	scratch      []byte // working copy of a frame with the checksum nibble cleared
}

// NewDecoder creates a decoder for the given layout
func NewDecoder(layout Layout) *Decoder {
	return &Decoder{
		layout:       layout,
		lastSequence: InitialSequence,
		scratch:      make([]byte, 0, layout.SampleSize()),
	}
}

// Reset restores the continuity state to its initial value
func (d *Decoder) Reset() {
	d.lastSequence = InitialSequence
}

// Layout returns the decoder's frame layout
func (d *Decoder) Layout() Layout {
	return d.layout
}

// LastSequence returns the sequence counter of the last valid frame
func (d *Decoder) LastSequence() uint8 {
	return d.lastSequence
}

// FrameCount returns the number of whole frames in n bytes
func (d *Decoder) FrameCount(n int) int {
	return n / d.layout.SampleSize()
}

// Decode decodes every whole frame in buf, in order. It returns one sample
// per frame (missing-valued when the checksum fails), the anomalies seen,
// and the number of bytes consumed. Trailing bytes that do not form a whole
// frame are left for the caller.
func (d *Decoder) Decode(buf []byte) ([]Sample, []Anomaly, int) {
	size := d.layout.SampleSize()
	count := len(buf) / size
	samples := make([]Sample, 0, count)
	var anomalies []Anomaly

	for i := 0; i < count; i++ {
		frame := buf[i*size : (i+1)*size]
		sample, frameAnomalies := d.decodeFrame(i, frame)
		samples = append(samples, sample)
		anomalies = append(anomalies, frameAnomalies...)
	}

	return samples, anomalies, count * size
}

// DecodeFrame decodes a single frame of exactly SampleSize bytes
func (d *Decoder) DecodeFrame(frame []byte) (Sample, []Anomaly) {
	if len(frame) != d.layout.SampleSize() {
		return missingSample(d.layout.ChannelCount()), nil
	}
	return d.decodeFrame(0, frame)
}

func (d *Decoder) decodeFrame(index int, frame []byte) (Sample, []Anomaly) {
	stored, computed := frameCRC(frame, d.scratch)
	if stored != computed {
		return missingSample(d.layout.ChannelCount()), []Anomaly{checksumAnomaly(index, stored, computed)}
	}

	sample := Sample{
		Valid:    true,
		Sequence: uint8(fieldSequence.extract(frame)),
		I1:       uint8(fieldI1.extract(frame)),
		I2:       uint8(fieldI2.extract(frame)),
		O1:       uint8(fieldO1.extract(frame)),
		O2:       uint8(fieldO2.extract(frame)),
		Analog:   make([]uint16, len(d.layout.fields)),
	}
	for i, f := range d.layout.fields {
		sample.Analog[i] = f.extract(frame)
	}

	var anomalies []Anomaly
	expected := (d.lastSequence + 1) % SequenceModulo
	if sample.Sequence != expected {
		anomalies = append(anomalies, sequenceAnomaly(index, expected, sample.Sequence))
	}
	d.lastSequence = sample.Sequence

	return sample, anomalies
}
