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

// Package layout encodes and decodes the on-disk structures of a VM instance
// image: the image header in block 0, the entry headers that precede each
// record, and the owned record body.
//
// Every structure is encoded field by field in little-endian order. Nothing
// here performs I/O or cryptography.
package layout

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// DefaultBlockSize is the logical block size of the instance partition.
const DefaultBlockSize = 512

// Image header constants.
const (
	// Magic identifies an instance image in block 0.
	Magic = "Android-VM-instance"
	// Version1 is the only supported format version.
	Version1 uint16 = 1
	// ImageHeaderSize is the encoded size of ImageHeader.
	ImageHeaderSize = len(Magic) + 2
)

// ErrInvalidImageHeader is returned when block 0 does not hold a valid image
// header.
var ErrInvalidImageHeader = errors.New("instance image header is invalid")

// ImageHeader is the header stored in the first block of the instance image.
// It is only used for discovery and validation.
type ImageHeader struct {
	Magic   [len(Magic)]byte
	Version uint16
}

// NewImageHeader returns the header of a version 1 image.
func NewImageHeader() ImageHeader {
	h := ImageHeader{Version: Version1}
	copy(h.Magic[:], Magic)
	return h
}

// Valid reports whether the magic and version match the supported format.
func (h ImageHeader) Valid() bool {
	return bytes.Equal(h.Magic[:], []byte(Magic)) && h.Version == Version1
}

// Encode writes the header to the start of b.
func (h ImageHeader) Encode(b []byte) error {
	if len(b) < ImageHeaderSize {
		return fmt.Errorf("buffer too small for image header: got %d bytes, need %d", len(b), ImageHeaderSize)
	}
	copy(b, h.Magic[:])
	binary.LittleEndian.PutUint16(b[len(Magic):], h.Version)
	return nil
}

// DecodeImageHeader parses and validates the image header at the start of b.
// There is no compatibility path for versions other than Version1.
func DecodeImageHeader(b []byte) (ImageHeader, error) {
	var h ImageHeader
	if len(b) < ImageHeaderSize {
		return h, fmt.Errorf("%w: got %d bytes, need %d", ErrInvalidImageHeader, len(b), ImageHeaderSize)
	}
	copy(h.Magic[:], b)
	h.Version = binary.LittleEndian.Uint16(b[len(Magic):])
	if !h.Valid() {
		return h, fmt.Errorf("%w: magic %q version %d, want %q version %d", ErrInvalidImageHeader, h.Magic[:], h.Version, Magic, Version1)
	}
	return h, nil
}
