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

package layout

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// EntryHeaderSize is the encoded size of EntryHeader.
const EntryHeaderSize = 16 + 8

// OwnedTag marks the entry holding the firmware instance record.
//
// The tag is stored as a little-endian u128 whose byte serialization is the
// canonical byte order of the UUID, so the UUID bytes go to disk unchanged.
var OwnedTag = uuid.MustParse("90d2174a-038a-4bc6-adf3-824848fc5825")

// EntryHeader marks the start of an entry in the instance image. The payload
// of the entry starts in the block following the header.
type EntryHeader struct {
	Tag         uuid.UUID
	PayloadSize uint64
}

// Encode writes the header to the start of b. The rest of b is untouched.
func (h EntryHeader) Encode(b []byte) error {
	if len(b) < EntryHeaderSize {
		return fmt.Errorf("buffer too small for entry header: got %d bytes, need %d", len(b), EntryHeaderSize)
	}
	copy(b, h.Tag[:])
	binary.LittleEndian.PutUint64(b[len(h.Tag):], h.PayloadSize)
	return nil
}

// DecodeEntryHeader parses the entry header at the start of b.
func DecodeEntryHeader(b []byte) (EntryHeader, error) {
	var h EntryHeader
	if len(b) < EntryHeaderSize {
		return h, fmt.Errorf("buffer too small for entry header: got %d bytes, need %d", len(b), EntryHeaderSize)
	}
	copy(h.Tag[:], b)
	h.PayloadSize = binary.LittleEndian.Uint64(b[len(h.Tag):])
	return h, nil
}

// EntryKind classifies an entry header.
type EntryKind int

// Entry kinds.
const (
	// Free is a slot that has never been written: its tag is all zero.
	Free EntryKind = iota
	// Owned is the entry carrying the configured owned tag.
	Owned
	// Foreign is an entry written by another component sharing the disk.
	Foreign
)

func (k EntryKind) String() string {
	switch k {
	case Free:
		return "free"
	case Owned:
		return "owned"
	case Foreign:
		return "foreign"
	}
	return fmt.Sprintf("EntryKind<%d>", int(k))
}

// Entry is a classified entry header.
type Entry struct {
	Kind        EntryKind
	Tag         uuid.UUID
	PayloadSize uint64
}

// Classify turns a raw header into an Entry relative to the owned tag. An
// all-zero tag is always Free, whatever the payload size says.
func Classify(h EntryHeader, owned uuid.UUID) Entry {
	e := Entry{Tag: h.Tag, PayloadSize: h.PayloadSize}
	switch h.Tag {
	case uuid.Nil:
		e.Kind = Free
		e.PayloadSize = 0
	case owned:
		e.Kind = Owned
	default:
		e.Kind = Foreign
	}
	return e
}

// PayloadBlocks returns the number of blocks following the header that hold
// the entry payload, that is ceil(PayloadSize / blockSize).
func (e Entry) PayloadBlocks(blockSize int) uint64 {
	bs := uint64(blockSize)
	n := e.PayloadSize / bs
	if e.PayloadSize%bs != 0 {
		n++
	}
	return n
}
