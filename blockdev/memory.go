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

package blockdev

import (
	"fmt"
)

// Memory is a Partition held in memory.
type Memory struct {
	blockSize int
	data      []byte
}

var _ Partition = (*Memory)(nil)

// NewMemory returns a zero-filled partition of numBlocks blocks. It panics if
// blockSize is not positive.
func NewMemory(blockSize int, numBlocks uint64) *Memory {
	if blockSize <= 0 {
		panic(fmt.Sprintf("blockdev: invalid block size %d", blockSize))
	}
	return &Memory{blockSize: blockSize, data: make([]byte, uint64(blockSize)*numBlocks)}
}

// NewMemoryFromBytes wraps data, whose length must be a multiple of
// blockSize. The partition aliases data.
func NewMemoryFromBytes(blockSize int, data []byte) (*Memory, error) {
	if blockSize <= 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("image of %d bytes is not a whole number of %d byte blocks", len(data), blockSize)
	}
	return &Memory{blockSize: blockSize, data: data}, nil
}

// BlockSize implements Partition.
func (m *Memory) BlockSize() int { return m.blockSize }

// NumBlocks implements Partition.
func (m *Memory) NumBlocks() uint64 { return uint64(len(m.data) / m.blockSize) }

// ReadBlock implements Partition.
func (m *Memory) ReadBlock(index uint64, buf []byte) error {
	if err := checkAccess(m, index, buf); err != nil {
		return err
	}
	copy(buf, m.block(index))
	return nil
}

// WriteBlock implements Partition.
func (m *Memory) WriteBlock(index uint64, buf []byte) error {
	if err := checkAccess(m, index, buf); err != nil {
		return err
	}
	copy(m.block(index), buf)
	return nil
}

// Bytes returns the whole image.
func (m *Memory) Bytes() []byte {
	return m.data
}

func (m *Memory) block(index uint64) []byte {
	off := index * uint64(m.blockSize)
	return m.data[off : off+uint64(m.blockSize)]
}
