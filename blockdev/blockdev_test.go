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
	"bytes"
	"errors"
	"go/build"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func collect(c *Cursor) []uint64 {
	var out []uint64
	for i, ok := c.Next(); ok; i, ok = c.Next() {
		out = append(out, i)
	}
	return out
}

func TestCursor(t *testing.T) {
	tests := []struct {
		name  string
		start uint64
		end   uint64
		skips map[uint64]uint64
		want  []uint64
	}{
		{name: "all", start: 0, end: 4, want: []uint64{0, 1, 2, 3}},
		{name: "empty", start: 3, end: 3},
		{name: "inverted", start: 5, end: 3},
		{name: "skip zero", start: 0, end: 3, skips: map[uint64]uint64{0: 0}, want: []uint64{0, 1, 2}},
		{name: "skip two", start: 1, end: 8, skips: map[uint64]uint64{1: 2}, want: []uint64{1, 4, 5, 6, 7}},
		{name: "skip past end", start: 1, end: 8, skips: map[uint64]uint64{2: 100}, want: []uint64{1, 2}},
		{name: "skip max", start: 0, end: 8, skips: map[uint64]uint64{0: ^uint64(0)}, want: []uint64{0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCursor(tt.start, tt.end)
			var got []uint64
			for i, ok := c.Next(); ok; i, ok = c.Next() {
				got = append(got, i)
				c.Skip(tt.skips[i])
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("cursor mismatch (-want +got):\n%s", diff)
			}
			if c.remaining() != 0 {
				t.Errorf("remaining() = %d after exhaustion", c.remaining())
			}
		})
	}
}

func TestIndices(t *testing.T) {
	m := NewMemory(16, 3)
	if diff := cmp.Diff([]uint64{0, 1, 2}, collect(Indices(m))); diff != "" {
		t.Errorf("Indices() mismatch (-want +got):\n%s", diff)
	}
}

func testPartition(t *testing.T, p Partition) {
	t.Helper()
	blk := bytes.Repeat([]byte{0xab}, p.BlockSize())
	if err := p.WriteBlock(1, blk); err != nil {
		t.Fatalf("WriteBlock() = %v", err)
	}
	got := make([]byte, p.BlockSize())
	if err := p.ReadBlock(1, got); err != nil {
		t.Fatalf("ReadBlock() = %v", err)
	}
	if !bytes.Equal(got, blk) {
		t.Errorf("ReadBlock(1) = %x, want %x", got, blk)
	}
	if err := p.ReadBlock(0, got); err != nil {
		t.Fatalf("ReadBlock() = %v", err)
	}
	if !bytes.Equal(got, make([]byte, p.BlockSize())) {
		t.Errorf("ReadBlock(0) = %x, want zeroes", got)
	}
	if err := p.ReadBlock(p.NumBlocks(), got); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("ReadBlock(end) = %v, want %v", err, ErrOutOfRange)
	}
	if err := p.WriteBlock(p.NumBlocks(), blk); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("WriteBlock(end) = %v, want %v", err, ErrOutOfRange)
	}
	if err := p.WriteBlock(0, blk[1:]); err == nil {
		t.Error("WriteBlock(short buffer) succeeded, want error")
	}
}

func TestMemory(t *testing.T) {
	m := NewMemory(32, 4)
	if m.NumBlocks() != 4 || m.BlockSize() != 32 {
		t.Fatalf("NewMemory(32, 4) has %d blocks of %d bytes", m.NumBlocks(), m.BlockSize())
	}
	testPartition(t, m)
	if got := m.Bytes()[32:64]; !bytes.Equal(got, bytes.Repeat([]byte{0xab}, 32)) {
		t.Errorf("block 1 = %x", got)
	}
	if _, err := NewMemoryFromBytes(32, make([]byte, 33)); err == nil {
		t.Error("NewMemoryFromBytes(partial block) succeeded, want error")
	}
}

func TestNewMemoryInvalidBlockSize(t *testing.T) {
	for _, bs := range []int{0, -512} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("NewMemory(%d, 4) did not panic", bs)
				}
			}()
			NewMemory(bs, 4)
		}()
	}
}

func TestPortableSources(t *testing.T) {
	ctx := build.Default
	ctx.GOOS = "windows"
	ctx.GOARCH = "amd64"
	pkg, err := ctx.ImportDir(".", 0)
	if err != nil {
		t.Fatalf("ImportDir() = %v", err)
	}
	for _, imp := range pkg.Imports {
		if imp == "golang.org/x/sys/unix" {
			t.Errorf("package imports %s on %s", imp, ctx.GOOS)
		}
	}
	for _, f := range pkg.GoFiles {
		if f == "file_unix.go" {
			t.Errorf("%s is built on %s", f, ctx.GOOS)
		}
	}
}
