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

//go:build unix

package blockdev

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// File is a Partition backed by a raw image file. The file is locked
// exclusively for as long as it is open, and every block write is synced to
// stable storage before WriteBlock returns.
type File struct {
	f         *os.File
	blockSize int
	numBlocks uint64
}

var _ Partition = (*File)(nil)

// OpenFile opens an existing image file. A trailing partial block is not
// addressable.
func OpenFile(path string, blockSize int) (*File, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("invalid block size %d", blockSize)
	}
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return newFile(f, blockSize)
}

// CreateFile creates (or truncates) an image file of numBlocks zero blocks.
func CreateFile(path string, blockSize int, numBlocks uint64) (*File, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("invalid block size %d", blockSize)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, err
	}
	if err := f.Truncate(int64(uint64(blockSize) * numBlocks)); err != nil {
		f.Close()
		return nil, fmt.Errorf("sizing %s: %w", path, err)
	}
	return newFile(f, blockSize)
}

func newFile(f *os.File, blockSize int) (*File, error) {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("locking %s: %w", f.Name(), err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &File{
		f:         f,
		blockSize: blockSize,
		numBlocks: uint64(fi.Size()) / uint64(blockSize),
	}, nil
}

// BlockSize implements Partition.
func (p *File) BlockSize() int { return p.blockSize }

// NumBlocks implements Partition.
func (p *File) NumBlocks() uint64 { return p.numBlocks }

// ReadBlock implements Partition.
func (p *File) ReadBlock(index uint64, buf []byte) error {
	if err := checkAccess(p, index, buf); err != nil {
		return err
	}
	_, err := p.f.ReadAt(buf, p.offset(index))
	return err
}

// WriteBlock implements Partition.
func (p *File) WriteBlock(index uint64, buf []byte) error {
	if err := checkAccess(p, index, buf); err != nil {
		return err
	}
	if _, err := p.f.WriteAt(buf, p.offset(index)); err != nil {
		return err
	}
	return unix.Fsync(int(p.f.Fd()))
}

// Close releases the lock and closes the file.
func (p *File) Close() error {
	return p.f.Close()
}

func (p *File) offset(index uint64) int64 {
	return int64(index * uint64(p.blockSize))
}
