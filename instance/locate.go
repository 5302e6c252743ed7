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

package instance

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/google/go-vminstance/blockdev"
	"github.com/google/go-vminstance/layout"
)

// Slot is the outcome of locating the owned entry: either the index of the
// owned entry header, or the index of the first free slot.
type Slot struct {
	// Kind is layout.Owned or layout.Free.
	Kind layout.EntryKind
	// Index is the block holding the entry header. The payload, if any,
	// starts at Index+1.
	Index uint64
	// PayloadSize is the declared payload size of an owned entry.
	PayloadSize uint64
}

// scanner walks the entries that follow the image header.
type scanner struct {
	p       blockdev.Partition
	indices *blockdev.Cursor
	blk     []byte
	tag     uuid.UUID
	log     logrus.FieldLogger
}

func newScanner(p blockdev.Partition, opts Opts) *scanner {
	return &scanner{
		p:       p,
		indices: blockdev.Indices(p),
		blk:     make([]byte, opts.BlockSize),
		tag:     opts.Tag,
		log:     opts.Logger,
	}
}

// readImageHeader consumes block 0 and validates it.
func (s *scanner) readImageHeader() error {
	index, ok := s.indices.Next()
	if !ok {
		return ErrMissingInstanceImageHeader
	}
	if err := s.p.ReadBlock(index, s.blk); err != nil {
		return &IOError{Op: "read", Index: index, Err: err}
	}
	if _, err := layout.DecodeImageHeader(s.blk); err != nil {
		return err
	}
	return nil
}

// nextEntry reads the entry header at the cursor. It returns false once the
// partition is exhausted. Payload blocks of the returned entry are not
// consumed.
func (s *scanner) nextEntry() (uint64, layout.Entry, bool, error) {
	index, ok := s.indices.Next()
	if !ok {
		return 0, layout.Entry{}, false, nil
	}
	if err := s.p.ReadBlock(index, s.blk); err != nil {
		return 0, layout.Entry{}, false, &IOError{Op: "read", Index: index, Err: err}
	}
	h, err := layout.DecodeEntryHeader(s.blk)
	if err != nil {
		return 0, layout.Entry{}, false, err
	}
	return index, layout.Classify(h, s.tag), true, nil
}

func (s *scanner) skipPayload(e layout.Entry) {
	s.indices.Skip(e.PayloadBlocks(s.p.BlockSize()))
}

// next skips foreign entries until it reaches a free or owned one.
func (s *scanner) next() (Slot, error) {
	for {
		index, e, ok, err := s.nextEntry()
		if err != nil {
			return Slot{}, err
		}
		if !ok {
			return Slot{}, ErrInstanceImageFull
		}
		switch e.Kind {
		case layout.Free:
			return Slot{Kind: layout.Free, Index: index}, nil
		case layout.Owned:
			return Slot{Kind: layout.Owned, Index: index, PayloadSize: e.PayloadSize}, nil
		}
		s.log.WithFields(logrus.Fields{
			"index": index,
			"tag":   e.Tag,
			"size":  e.PayloadSize,
		}).Trace("Skipping instance image entry")
		s.skipPayload(e)
	}
}

// startScan validates the image header of p and returns a scanner positioned
// on the first entry.
func startScan(p blockdev.Partition, opts Opts) (*scanner, error) {
	if p == nil {
		return nil, ErrMissingInstanceImage
	}
	if p.BlockSize() != opts.BlockSize {
		return nil, fmt.Errorf("partition block size %d does not match expected %d", p.BlockSize(), opts.BlockSize)
	}
	s := newScanner(p, opts)
	if err := s.readImageHeader(); err != nil {
		return nil, err
	}
	return s, nil
}

// Locate validates the image header of p and returns the owned entry or, if
// there is none, the first free slot. It fails with ErrInstanceImageFull if
// the partition ends before either is found.
func Locate(p blockdev.Partition, opts Opts) (Slot, error) {
	s, err := startScan(p, opts.withDefaults())
	if err != nil {
		return Slot{}, err
	}
	return s.next()
}

// ScannedEntry is an entry reported by Scan.
type ScannedEntry struct {
	Index uint64
	layout.Entry
}

// Scan validates the image header and lists every entry up to and including
// the first free slot. Unlike Locate it does not stop at the owned entry.
func Scan(p blockdev.Partition, opts Opts) ([]ScannedEntry, error) {
	s, err := startScan(p, opts.withDefaults())
	if err != nil {
		return nil, err
	}
	var entries []ScannedEntry
	for {
		index, e, ok, err := s.nextEntry()
		if err != nil {
			return entries, err
		}
		if !ok {
			return entries, nil
		}
		entries = append(entries, ScannedEntry{Index: index, Entry: e})
		if e.Kind == layout.Free {
			return entries, nil
		}
		s.skipPayload(e)
	}
}
