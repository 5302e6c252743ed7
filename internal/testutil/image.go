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

// Package testutil builds synthetic instance images for tests.
package testutil

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"

	"github.com/google/go-vminstance/blockdev"
	"github.com/google/go-vminstance/layout"
)

// ForeignTag is a tag belonging to some other component sharing the disk.
var ForeignTag = uuid.MustParse("0b1e4d2a-7c3f-4e5a-9b6d-1f2e3d4c5b6a")

// foreignFill fills foreign payload blocks. It decodes as a foreign entry
// header with a huge size, so a scan that lands inside a payload goes wrong
// visibly.
const foreignFill = 0xee

// Image is an in-memory instance image with a valid header in block 0 and a
// write position for appending entries.
type Image struct {
	*blockdev.Memory
	next uint64
}

// NewImage returns a provisioned image of numBlocks blocks of
// layout.DefaultBlockSize bytes.
func NewImage(numBlocks uint64) *Image {
	return NewImageWithBlockSize(layout.DefaultBlockSize, numBlocks)
}

// NewImageWithBlockSize returns a provisioned image with the given geometry.
func NewImageWithBlockSize(blockSize int, numBlocks uint64) *Image {
	im := &Image{Memory: blockdev.NewMemory(blockSize, numBlocks), next: 1}
	if numBlocks > 0 {
		blk := make([]byte, blockSize)
		if err := layout.NewImageHeader().Encode(blk); err != nil {
			panic(err)
		}
		im.mustWrite(0, blk)
	}
	return im
}

// Next is the block index where the next entry will be appended.
func (im *Image) Next() uint64 {
	return im.next
}

// AddForeign appends a foreign entry with a payload of size bytes and returns
// the index of its header. Payload blocks past the end of the image are
// dropped.
func (im *Image) AddForeign(tag uuid.UUID, size uint64) uint64 {
	index := im.next
	im.WriteEntryHeader(index, layout.EntryHeader{Tag: tag, PayloadSize: size})
	e := layout.Entry{Kind: layout.Foreign, PayloadSize: size}
	fill := bytes.Repeat([]byte{foreignFill}, im.BlockSize())
	n := e.PayloadBlocks(im.BlockSize())
	for i := uint64(1); i <= n && index+i < im.NumBlocks(); i++ {
		im.mustWrite(index+i, fill)
	}
	im.next = index + 1 + n
	return index
}

// WriteEntryHeader overwrites block index with a zero-padded entry header.
func (im *Image) WriteEntryHeader(index uint64, h layout.EntryHeader) {
	blk := make([]byte, im.BlockSize())
	if err := h.Encode(blk); err != nil {
		panic(err)
	}
	im.mustWrite(index, blk)
}

// Block returns a copy of block index.
func (im *Image) Block(index uint64) []byte {
	blk := make([]byte, im.BlockSize())
	if err := im.ReadBlock(index, blk); err != nil {
		panic(fmt.Sprintf("reading block %d: %v", index, err))
	}
	return blk
}

func (im *Image) mustWrite(index uint64, blk []byte) {
	if err := im.WriteBlock(index, blk); err != nil {
		panic(fmt.Sprintf("writing block %d: %v", index, err))
	}
}

// FaultyPartition wraps a Partition and fails selected block accesses.
type FaultyPartition struct {
	blockdev.Partition
	// ReadErr and WriteErr map block indices to the error to return.
	ReadErr  map[uint64]error
	WriteErr map[uint64]error
	// Writes lists the indices of successful writes, in order.
	Writes []uint64
}

// ReadBlock implements blockdev.Partition.
func (f *FaultyPartition) ReadBlock(index uint64, buf []byte) error {
	if err := f.ReadErr[index]; err != nil {
		return err
	}
	return f.Partition.ReadBlock(index, buf)
}

// WriteBlock implements blockdev.Partition.
func (f *FaultyPartition) WriteBlock(index uint64, buf []byte) error {
	if err := f.WriteErr[index]; err != nil {
		return err
	}
	if err := f.Partition.WriteBlock(index, buf); err != nil {
		return err
	}
	f.Writes = append(f.Writes, index)
	return nil
}
