// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package bitalino

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Record message types. A record message is a CBOR array: [msg_type, payload]
const (
	MsgSessionHeader = 0x01
	MsgCycle         = 0x02
)

// Message is the CBOR envelope shared by recordings and the stream server
type Message struct {
	_       struct{} `cbor:",toarray"`
	Type    uint8
	Payload cbor.RawMessage
}

// SessionHeader describes the acquisition that produced a stream of cycles
type SessionHeader struct {
	Rate     int      `cbor:"0,keyasint"`
	Channels []string `cbor:"1,keyasint"`
	Labels   []string `cbor:"2,keyasint"`
	Start    int64    `cbor:"3,keyasint"` // device clock anchor, unix microseconds
	Version  string   `cbor:"4,keyasint,omitempty"`
}

// SampleRecord is the compact wire form of a Sample
type SampleRecord struct {
	_        struct{} `cbor:",toarray"`
	Valid    bool
	Sequence uint8
	Digital  uint8 // I1, I2, O1, O2 in bits 3..0
	Analog   []uint16
}

// OffsetWire is the wire form of an OffsetRecord, in unix microseconds
type OffsetWire struct {
	TimeDevice int64 `cbor:"0,keyasint"`
	TimeLocal  int64 `cbor:"1,keyasint"`
	Offset     int64 `cbor:"2,keyasint"`
}

// CycleRecord is the wire form of a Cycle
type CycleRecord struct {
	Timestamps []int64        `cbor:"0,keyasint"`
	Samples    []SampleRecord `cbor:"1,keyasint"`
	Converted  [][]float64    `cbor:"2,keyasint,omitempty"`
	Offset     *OffsetWire    `cbor:"3,keyasint,omitempty"`
}

// NewSessionHeader builds the header for a session
func NewSessionHeader(s *Session, version string) SessionHeader {
	return SessionHeader{
		Rate:     s.Rate(),
		Channels: s.Channels().Names(),
		Labels:   s.Labels(),
		Start:    s.Clock().TimeDevice().UnixMicro(),
		Version:  version,
	}
}

// NewCycleRecord converts a cycle to its wire form
func NewCycleRecord(c *Cycle) CycleRecord {
	rec := CycleRecord{
		Timestamps: make([]int64, len(c.Timestamps)),
		Samples:    make([]SampleRecord, len(c.Samples)),
		Converted:  c.Converted,
	}
	for i, ts := range c.Timestamps {
		rec.Timestamps[i] = ts.UnixMicro()
	}
	for i, s := range c.Samples {
		rec.Samples[i] = SampleRecord{
			Valid:    s.Valid,
			Sequence: s.Sequence,
			Digital:  s.I1<<3 | s.I2<<2 | s.O1<<1 | s.O2,
			Analog:   s.Analog,
		}
	}
	if c.Offset != nil {
		w := NewOffsetWire(*c.Offset)
		rec.Offset = &w
	}
	return rec
}

// Cycle converts a wire record back to a Cycle. Anomalies are not recorded.
func (r CycleRecord) Cycle() Cycle {
	c := Cycle{
		Timestamps: make([]time.Time, len(r.Timestamps)),
		Samples:    make([]Sample, len(r.Samples)),
		Converted:  r.Converted,
	}
	for i, ts := range r.Timestamps {
		c.Timestamps[i] = time.UnixMicro(ts)
	}
	for i, s := range r.Samples {
		analog := s.Analog
		if analog == nil {
			analog = []uint16{}
		}
		c.Samples[i] = Sample{
			Valid:    s.Valid,
			Sequence: s.Sequence,
			I1:       s.Digital >> 3 & 0x01,
			I2:       s.Digital >> 2 & 0x01,
			O1:       s.Digital >> 1 & 0x01,
			O2:       s.Digital & 0x01,
			Analog:   analog,
		}
	}
	if r.Offset != nil {
		o := r.Offset.Record()
		c.Offset = &o
	}
	return c
}

// NewOffsetWire converts an offset record to its wire form
func NewOffsetWire(o OffsetRecord) OffsetWire {
	return OffsetWire{
		TimeDevice: o.TimeDevice.UnixMicro(),
		TimeLocal:  o.TimeLocal.UnixMicro(),
		Offset:     o.OffsetMicros(),
	}
}

// Record converts the wire form back to an OffsetRecord
func (w OffsetWire) Record() OffsetRecord {
	return OffsetRecord{
		TimeDevice: time.UnixMicro(w.TimeDevice),
		TimeLocal:  time.UnixMicro(w.TimeLocal),
		Offset:     time.Duration(w.Offset) * time.Microsecond,
	}
}

// EncodeMessage encodes payload inside a [msg_type, payload] envelope
func EncodeMessage(msgType uint8, payload interface{}) ([]byte, error) {
	raw, err := cbor.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR payload: %w", err)
	}
	data, err := cbor.Marshal(Message{Type: msgType, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("failed to encode CBOR message: %w", err)
	}
	return data, nil
}

// EncodeCycle encodes a cycle as a MsgCycle message
func EncodeCycle(c *Cycle) ([]byte, error) {
	return EncodeMessage(MsgCycle, NewCycleRecord(c))
}

// EncodeHeader encodes a session header as a MsgSessionHeader message
func EncodeHeader(h SessionHeader) ([]byte, error) {
	return EncodeMessage(MsgSessionHeader, h)
}

// ParseMessage decodes a [msg_type, payload] envelope
func ParseMessage(data []byte) (Message, error) {
	if len(data) == 0 {
		return Message{}, fmt.Errorf("empty CBOR message")
	}
	var msg Message
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to decode CBOR: %w", err)
	}
	return msg, nil
}

// DecodeHeader decodes the payload of a MsgSessionHeader message
func (m Message) DecodeHeader() (SessionHeader, error) {
	if m.Type != MsgSessionHeader {
		return SessionHeader{}, fmt.Errorf("expected session header (0x%02X), got 0x%02X", MsgSessionHeader, m.Type)
	}
	var h SessionHeader
	if err := cbor.Unmarshal(m.Payload, &h); err != nil {
		return SessionHeader{}, fmt.Errorf("failed to decode session header: %w", err)
	}
	return h, nil
}

// DecodeCycle decodes the payload of a MsgCycle message
func (m Message) DecodeCycle() (CycleRecord, error) {
	if m.Type != MsgCycle {
		return CycleRecord{}, fmt.Errorf("expected cycle (0x%02X), got 0x%02X", MsgCycle, m.Type)
	}
	var rec CycleRecord
	if err := cbor.Unmarshal(m.Payload, &rec); err != nil {
		return CycleRecord{}, fmt.Errorf("failed to decode cycle: %w", err)
	}
	return rec, nil
}
