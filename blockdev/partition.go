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

// Package blockdev provides the block partition abstraction the instance
// store reads and writes, along with in-memory and file-backed partitions.
package blockdev

import (
	"errors"
	"fmt"
)

// ErrOutOfRange is returned when a block index is past the end of the
// partition.
var ErrOutOfRange = errors.New("block index out of range")

// Partition is a fixed-size sequence of equally sized blocks.
type Partition interface {
	// BlockSize is the size of every block in bytes.
	BlockSize() int
	// NumBlocks is the number of addressable blocks.
	NumBlocks() uint64
	// ReadBlock fills buf, which must be exactly BlockSize bytes, with the
	// contents of block index.
	ReadBlock(index uint64, buf []byte) error
	// WriteBlock replaces block index with buf, which must be exactly
	// BlockSize bytes.
	WriteBlock(index uint64, buf []byte) error
}

// Indices returns a cursor over every block index of p.
func Indices(p Partition) *Cursor {
	return NewCursor(0, p.NumBlocks())
}

func checkAccess(p Partition, index uint64, buf []byte) error {
	if index >= p.NumBlocks() {
		return fmt.Errorf("%w: block %d of %d", ErrOutOfRange, index, p.NumBlocks())
	}
	if len(buf) != p.BlockSize() {
		return fmt.Errorf("buffer is %d bytes, block size is %d", len(buf), p.BlockSize())
	}
	return nil
}
