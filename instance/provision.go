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
	"github.com/google/go-vminstance/blockdev"
	"github.com/google/go-vminstance/layout"
)

// Provision formats p as an empty instance image: a version 1 image header
// in block 0 and zeroes everywhere else. Any existing entries are lost.
func Provision(p blockdev.Partition) error {
	if p == nil {
		return ErrMissingInstanceImage
	}
	if p.NumBlocks() == 0 {
		return ErrMissingInstanceImageHeader
	}
	blk := make([]byte, p.BlockSize())
	indices := blockdev.NewCursor(1, p.NumBlocks())
	for index, ok := indices.Next(); ok; index, ok = indices.Next() {
		if err := p.WriteBlock(index, blk); err != nil {
			return &IOError{Op: "write", Index: index, Err: err}
		}
	}
	// Header last: a partially provisioned image must not validate.
	if err := layout.NewImageHeader().Encode(blk); err != nil {
		return err
	}
	if err := p.WriteBlock(0, blk); err != nil {
		return &IOError{Op: "write", Index: 0, Err: err}
	}
	return nil
}
