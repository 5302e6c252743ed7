// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

// Package instance reads and writes the firmware's entry in a VM instance
// image.
//
// The image starts with a header block and is followed by entries, each a
// header block and zero or more payload blocks. Entries written by other
// components are skipped. The firmware owns at most one entry, whose single
// payload block holds the sealed instance record.
package instance

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/google/go-vminstance/blockdev"
	"github.com/google/go-vminstance/layout"
)

// Store reads and writes the owned record of one instance partition.
type Store struct {
	p    blockdev.Partition
	opts Opts
}

// New returns a Store for p.
func New(p blockdev.Partition, opts Opts) (*Store, error) {
	if p == nil {
		return nil, ErrMissingInstanceImage
	}
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if p.BlockSize() != opts.BlockSize {
		return nil, fmt.Errorf("partition block size %d does not match expected %d", p.BlockSize(), opts.BlockSize)
	}
	return &Store{p: p, opts: opts}, nil
}

// ReadOwnedRecord returns the owned record and the index of its entry header.
// If the image holds no owned entry it returns a nil record and the index of
// the first free slot, which can be passed to WriteOwnedRecord.
//
// After the owned entry the scan continues to the next free slot to rule out a
// second owned entry, so an I/O error on a block past the record fails the
// read even though the record itself is intact.
func (s *Store) ReadOwnedRecord(secret []byte) (*layout.RecordBody, uint64, error) {
	sc, err := startScan(s.p, s.opts)
	if err != nil {
		return nil, 0, err
	}
	slot, err := sc.next()
	if err != nil {
		return nil, 0, err
	}
	log := s.opts.Logger.WithFields(logrus.Fields{"index": slot.Index, "kind": slot.Kind})
	if slot.Kind == layout.Free {
		log.Trace("No instance image entry found")
		return nil, slot.Index, nil
	}
	log.WithField("size", slot.PayloadSize).Trace("Found instance image entry")

	// Only single-block entries are supported.
	if slot.PayloadSize > uint64(s.opts.BlockSize) {
		return nil, 0, &UnsupportedEntrySizeError{Size: slot.PayloadSize, Limit: s.opts.BlockSize}
	}
	if err := s.checkNoDuplicate(sc, slot); err != nil {
		return nil, 0, err
	}

	blk := make([]byte, s.opts.BlockSize)
	payloadIndex := slot.Index + 1
	if err := s.p.ReadBlock(payloadIndex, blk); err != nil {
		return nil, 0, &IOError{Op: "read", Index: payloadIndex, Err: err}
	}
	key, err := s.opts.Provider.DeriveKey(secret)
	if err != nil {
		return nil, 0, err
	}
	plaintext, err := s.opts.Provider.Open(key, blk[:slot.PayloadSize])
	if err != nil {
		return nil, 0, err
	}
	body, err := layout.DecodeRecordBody(plaintext)
	if err != nil {
		return nil, 0, err
	}
	return &body, slot.Index, nil
}

// checkNoDuplicate continues the scan past the owned entry and fails if a
// second owned entry appears before the first free slot.
func (s *Store) checkNoDuplicate(sc *scanner, owned Slot) error {
	sc.skipPayload(layout.Entry{Kind: layout.Owned, PayloadSize: owned.PayloadSize})
	slot, err := sc.next()
	if errors.Is(err, ErrInstanceImageFull) {
		return nil
	}
	if err != nil {
		return err
	}
	if slot.Kind == layout.Owned {
		return fmt.Errorf("%w: entries at blocks %d and %d", ErrDuplicateOwnedEntry, owned.Index, slot.Index)
	}
	return nil
}

// WriteOwnedRecord seals body with a key derived from secret and stores it as
// the owned entry at slot, which must come from ReadOwnedRecord.
//
// The payload block is written before the header block. If the header write
// never happens the slot keeps its previous header, so retrying the same
// write is safe; the header write is what commits the record.
func (s *Store) WriteOwnedRecord(body layout.RecordBody, secret []byte, slot uint64) error {
	if slot == 0 {
		return errors.New("block 0 holds the image header and cannot hold an entry")
	}
	key, err := s.opts.Provider.DeriveKey(secret)
	if err != nil {
		return err
	}
	sealed, err := s.opts.Provider.Seal(key, body.Bytes())
	if err != nil {
		return err
	}
	blk := make([]byte, s.opts.BlockSize)
	if len(sealed) > len(blk) {
		return &UnsupportedEntrySizeError{Size: uint64(len(sealed)), Limit: len(blk)}
	}

	copy(blk, sealed)
	payloadIndex := slot + 1
	if err := s.p.WriteBlock(payloadIndex, blk); err != nil {
		return &IOError{Op: "write", Index: payloadIndex, Err: err}
	}

	clear(blk)
	header := layout.EntryHeader{Tag: s.opts.Tag, PayloadSize: uint64(len(sealed))}
	if err := header.Encode(blk); err != nil {
		return err
	}
	if err := s.p.WriteBlock(slot, blk); err != nil {
		return &IOError{Op: "write", Index: slot, Err: err}
	}
	s.opts.Logger.WithFields(logrus.Fields{
		"index": slot,
		"size":  len(sealed),
	}).Debug("Recorded instance image entry")
	return nil
}

// ReadOwnedRecord is shorthand for New followed by Store.ReadOwnedRecord.
func ReadOwnedRecord(p blockdev.Partition, secret []byte, opts Opts) (*layout.RecordBody, uint64, error) {
	s, err := New(p, opts)
	if err != nil {
		return nil, 0, err
	}
	return s.ReadOwnedRecord(secret)
}

// WriteOwnedRecord is shorthand for New followed by Store.WriteOwnedRecord.
func WriteOwnedRecord(body layout.RecordBody, secret []byte, p blockdev.Partition, slot uint64, opts Opts) error {
	s, err := New(p, opts)
	if err != nil {
		return err
	}
	return s.WriteOwnedRecord(body, secret, slot)
}
