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

// Cursor walks the block indices in [start, end). It is independent of any
// partition format and can skip ahead.
type Cursor struct {
	next uint64
	end  uint64
}

// NewCursor returns a cursor yielding start, start+1, ..., end-1.
func NewCursor(start, end uint64) *Cursor {
	if start > end {
		start = end
	}
	return &Cursor{next: start, end: end}
}

// Next returns the next index, or false once the sequence is exhausted.
func (c *Cursor) Next() (uint64, bool) {
	if c.next >= c.end {
		return 0, false
	}
	i := c.next
	c.next++
	return i, true
}

// Skip discards the next n indices. Skipping past the end exhausts the
// cursor.
func (c *Cursor) Skip(n uint64) {
	if n >= c.remaining() {
		c.next = c.end
		return
	}
	c.next += n
}

func (c *Cursor) remaining() uint64 {
	return c.end - c.next
}
