// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bitalino

// bitField is one contiguous run of bits feeding a decoded field.
// The source byte is counted from the end of the frame (1 = last byte).
type bitField struct {
	offset int  // source byte, counted from the end of the frame
	shift  uint // right shift applied to the source byte
	mask   byte // mask applied after shifting
	place  uint // left shift of the extracted bits within the field value
}

// field is a decoded value assembled from one or more bit runs
type field []bitField

func (f field) extract(frame []byte) uint16 {
	n := len(frame)
	var v uint16
	for _, b := range f {
		v |= uint16((frame[n-b.offset]>>b.shift)&b.mask) << b.place
	}
	return v
}

func (f field) insert(frame []byte, v uint16) {
	n := len(frame)
	for _, b := range f {
		frame[n-b.offset] |= byte((v>>b.place)&uint16(b.mask)) << b.shift
	}
}

// Fixed fields, present in every frame
var (
	fieldSequence = field{{offset: 1, shift: 4, mask: 0x0F}}
	fieldChecksum = field{{offset: 1, shift: 0, mask: 0x0F}}
	fieldI1       = field{{offset: 2, shift: 7, mask: 0x01}}
	fieldI2       = field{{offset: 2, shift: 6, mask: 0x01}}
	fieldO1       = field{{offset: 2, shift: 5, mask: 0x01}}
	fieldO2       = field{{offset: 2, shift: 4, mask: 0x01}}
)

// analogFields is the device bit-packing contract, indexed by channel
// position within the frame. A frame with n channels uses the first n.
var analogFields = [ChannelCount]field{
	{{offset: 2, shift: 0, mask: 0x0F, place: 6}, {offset: 3, shift: 2, mask: 0x3F}},
	{{offset: 3, shift: 0, mask: 0x03, place: 8}, {offset: 4, shift: 0, mask: 0xFF}},
	{{offset: 5, shift: 0, mask: 0xFF, place: 2}, {offset: 6, shift: 6, mask: 0x03}},
	{{offset: 6, shift: 0, mask: 0x3F, place: 4}, {offset: 7, shift: 4, mask: 0x0F}},
	{{offset: 7, shift: 0, mask: 0x0F, place: 2}, {offset: 8, shift: 6, mask: 0x03}},
	{{offset: 8, shift: 0, mask: 0x3F}},
}

// Layout describes the frame geometry for a channel selection.
// It is computed once per session and never modified.
type Layout struct {
	channels   Selection
	sampleSize int
	fields     []field
}

// ResolveLayout computes the frame layout for a channel selection.
// Every subset of A1-A6, including the empty one, is valid.
func ResolveLayout(sel Selection) Layout {
	sel = NewSelection(sel...)
	n := len(sel)
	return Layout{
		channels:   sel,
		sampleSize: SampleSize(n),
		fields:     analogFields[:n],
	}
}

// SampleSize returns the frame size in bytes for channelCount active channels
func SampleSize(channelCount int) int {
	if channelCount < 0 {
		channelCount = 0
	}
	if channelCount > ChannelCount {
		channelCount = ChannelCount
	}
	var bits int
	if channelCount <= wideChannels {
		bits = fixedFieldBits + wideChannelBits*channelCount
	} else {
		bits = fixedFieldBits + wideChannelBits*wideChannels + narrowChannelBits*(channelCount-wideChannels)
	}
	return (bits + 7) / 8
}

// ChannelCount returns the number of active analog channels
func (l Layout) ChannelCount() int {
	return len(l.channels)
}

// SampleSize returns the frame size in bytes
func (l Layout) SampleSize() int {
	return l.sampleSize
}

// Channels returns the active channels in canonical order
func (l Layout) Channels() Selection {
	return append(Selection(nil), l.channels...)
}

// Columns returns the number of primary output columns
func (l Layout) Columns() int {
	return len(fixedLabels) + len(l.channels)
}

// Labels returns the primary output column labels
func (l Layout) Labels() []string {
	return Labels(l.channels)
}

// PositionResolution returns the bit precision of the analog field at position i
func PositionResolution(i int) int {
	if i >= wideChannels {
		return ResolutionNarrow
	}
	return ResolutionWide
}
