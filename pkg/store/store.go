// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package store persists offset telemetry in a bbolt database, keyed by
// device time so that range scans come back in acquisition order.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.etcd.io/bbolt"

	"github.com/Thermoquad/bitastat/pkg/bitalino"
	"github.com/Thermoquad/bitastat/pkg/log"
)

const (
	OffsetsBucket = "offsets"
	MetaBucket    = "meta"
	SessionKey    = "session"
)

// ErrNoOffsets is returned when a summary is requested from an empty store
var ErrNoOffsets = errors.New("no offset records")

// ErrNoSession is returned when no session header has been stored
var ErrNoSession = errors.New("no session header")

type Store struct {
	DB *bbolt.DB
}

// Open opens (creating if needed) the database at path
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open offsets database %s: %w", path, err)
	}
	s := &Store{DB: db}
	if err := s.createBuckets(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.DB.Close()
}

func (s *Store) createBuckets() error {
	return s.DB.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{OffsetsBucket, MetaBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Clear removes every offset record and the stored session header
func (s *Store) Clear() error {
	log.Debug("Clearing offsets database")
	if err := s.DB.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{OffsetsBucket, MetaBucket} {
			if err := tx.DeleteBucket([]byte(name)); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}
	return s.createBuckets()
}

func timeKey(t time.Time) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(t.UnixMicro()))
	return b
}

// PutOffsets stores offset records in a single transaction
func (s *Store) PutOffsets(records ...bitalino.OffsetRecord) error {
	if len(records) == 0 {
		return nil
	}
	return s.DB.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(OffsetsBucket))
		if b == nil {
			return fmt.Errorf("bucket not found: %s", OffsetsBucket)
		}
		for _, o := range records {
			value, err := cbor.Marshal(bitalino.NewOffsetWire(o))
			if err != nil {
				return fmt.Errorf("failed to encode offset: %w", err)
			}
			if err := b.Put(timeKey(o.TimeDevice), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// PutOffset stores one offset record
func (s *Store) PutOffset(o bitalino.OffsetRecord) error {
	return s.PutOffsets(o)
}

// Offsets returns the records with from <= time_device <= to, in order.
// A zero bound is open.
func (s *Store) Offsets(from, to time.Time) ([]bitalino.OffsetRecord, error) {
	var records []bitalino.OffsetRecord
	err := s.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(OffsetsBucket))
		if b == nil {
			return fmt.Errorf("bucket not found: %s", OffsetsBucket)
		}
		c := b.Cursor()

		var k, v []byte
		if from.IsZero() {
			k, v = c.First()
		} else {
			k, v = c.Seek(timeKey(from))
		}
		var limit uint64
		if !to.IsZero() {
			limit = uint64(to.UnixMicro())
		}
		for ; k != nil; k, v = c.Next() {
			if limit != 0 && binary.BigEndian.Uint64(k) > limit {
				break
			}
			var w bitalino.OffsetWire
			if err := cbor.Unmarshal(v, &w); err != nil {
				return fmt.Errorf("failed to decode offset: %w", err)
			}
			records = append(records, w.Record())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Count returns the number of stored offset records
func (s *Store) Count() (int, error) {
	var n int
	err := s.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(OffsetsBucket))
		if b == nil {
			return fmt.Errorf("bucket not found: %s", OffsetsBucket)
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

// SetSession stores the header of the session being recorded
func (s *Store) SetSession(h bitalino.SessionHeader) error {
	return s.DB.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(MetaBucket))
		if b == nil {
			return fmt.Errorf("bucket not found: %s", MetaBucket)
		}
		value, err := cbor.Marshal(h)
		if err != nil {
			return err
		}
		return b.Put([]byte(SessionKey), value)
	})
}

// Session returns the stored session header
func (s *Store) Session() (bitalino.SessionHeader, error) {
	var h bitalino.SessionHeader
	err := s.DB.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(MetaBucket))
		if b == nil {
			return ErrNoSession
		}
		value := b.Get([]byte(SessionKey))
		if value == nil {
			return ErrNoSession
		}
		return cbor.Unmarshal(value, &h)
	})
	return h, err
}

// Drift summarizes the stored offsets over window-sized ends of the run
func (s *Store) Drift(window time.Duration) (DriftSummary, error) {
	records, err := s.Offsets(time.Time{}, time.Time{})
	if err != nil {
		return DriftSummary{}, err
	}
	return ComputeDrift(records, window)
}
