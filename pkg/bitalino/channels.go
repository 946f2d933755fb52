// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bitalino

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Channel is an analog channel index, A1 = 0 through A6 = 5
type Channel int

// Analog channels
const (
	A1 Channel = iota
	A2
	A3
	A4
	A5
	A6
)

var channelNames = [ChannelCount]string{"A1", "A2", "A3", "A4", "A5", "A6"}

// ErrInvalidChannel is returned for channel names outside A1-A6
var ErrInvalidChannel = errors.New("invalid channel")

// ErrInvalidRate is returned for device rates other than 1, 10, 100 or 1000Hz
var ErrInvalidRate = errors.New("invalid rate")

// String returns the channel name (A1-A6)
func (c Channel) String() string {
	if c < 0 || int(c) >= ChannelCount {
		return fmt.Sprintf("Channel(%d)", int(c))
	}
	return channelNames[c]
}

// Resolution returns the sample precision in bits for an absolute channel.
func (c Channel) Resolution() int {
	if c >= A5 {
		return ResolutionNarrow
	}
	return ResolutionWide
}

// ParseChannel converts a channel name (case-insensitive) to a Channel
func ParseChannel(name string) (Channel, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range channelNames {
		if n == upper {
			return Channel(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q (valid: A1-A6)", ErrInvalidChannel, name)
}

// Selection is a deduplicated set of analog channels in canonical order
type Selection []Channel

// ParseChannels builds a Selection from channel names. Duplicates are
// dropped and the result is sorted by channel number.
func ParseChannels(names []string) (Selection, error) {
	channels := make([]Channel, 0, len(names))
	for _, name := range names {
		c, err := ParseChannel(name)
		if err != nil {
			return nil, err
		}
		channels = append(channels, c)
	}
	return NewSelection(channels...), nil
}

// NewSelection deduplicates and orders channels. Out-of-range values are ignored.
func NewSelection(channels ...Channel) Selection {
	var seen [ChannelCount]bool
	for _, c := range channels {
		if c >= 0 && int(c) < ChannelCount {
			seen[c] = true
		}
	}
	sel := Selection{}
	for i, ok := range seen {
		if ok {
			sel = append(sel, Channel(i))
		}
	}
	return sel
}

// AllChannels returns the full A1-A6 selection
func AllChannels() Selection {
	return NewSelection(A1, A2, A3, A4, A5, A6)
}

// Contains reports whether the selection includes c
func (s Selection) Contains(c Channel) bool {
	i := sort.Search(len(s), func(i int) bool { return s[i] >= c })
	return i < len(s) && s[i] == c
}

// Index returns the position of c within the selection, or -1
func (s Selection) Index(c Channel) int {
	for i, ch := range s {
		if ch == c {
			return i
		}
	}
	return -1
}

// Mask returns the channel bit mask used by the start command
func (s Selection) Mask() byte {
	var mask byte
	for _, c := range s {
		mask |= 1 << uint(c)
	}
	return mask
}

// SelectionFromMask is the inverse of Mask
func SelectionFromMask(mask byte) Selection {
	var channels []Channel
	for i := 0; i < ChannelCount; i++ {
		if mask&(1<<uint(i)) != 0 {
			channels = append(channels, Channel(i))
		}
	}
	return NewSelection(channels...)
}

// Names returns the channel names in selection order
func (s Selection) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.String()
	}
	return names
}

// ValidateRate checks that rate is one the device supports
func ValidateRate(rate int) error {
	switch rate {
	case Rate1, Rate10, Rate100, Rate1000:
		return nil
	}
	return fmt.Errorf("%w: %d (valid: 1, 10, 100, 1000)", ErrInvalidRate, rate)
}

// RateCode returns the 2-bit code for rate used by the set-rate command
func RateCode(rate int) (byte, error) {
	switch rate {
	case Rate1:
		return 0, nil
	case Rate10:
		return 1, nil
	case Rate100:
		return 2, nil
	case Rate1000:
		return 3, nil
	}
	return 0, ValidateRate(rate)
}

// RateFromCode is the inverse of RateCode; only the low two bits are used
func RateFromCode(code byte) int {
	return [...]int{Rate1, Rate10, Rate100, Rate1000}[code&0x03]
}

// Labels returns the primary output column labels for a selection
func Labels(sel Selection) []string {
	labels := make([]string, 0, len(fixedLabels)+len(sel))
	labels = append(labels, fixedLabels...)
	return append(labels, sel.Names()...)
}

// OffsetLabels returns the offset telemetry column labels
func OffsetLabels() []string {
	return append([]string(nil), offsetLabels...)
}
