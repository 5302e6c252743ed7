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
	"io"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/google/go-vminstance/layout"
	"github.com/google/go-vminstance/seal"
)

// Opts configures the instance store. The zero value matches the firmware's
// own layout: 512 byte blocks, layout.OwnedTag and seal.AESGCM{}.
type Opts struct {
	// BlockSize must match the partition block size. Zero means
	// layout.DefaultBlockSize.
	BlockSize int
	// Tag identifies owned entries. Zero means layout.OwnedTag; it can never
	// be the free sentinel.
	Tag uuid.UUID
	// Provider seals and opens the record. Nil means seal.AESGCM{}.
	Provider seal.Provider
	// Logger receives trace and debug messages. Nil discards them.
	Logger logrus.FieldLogger
}

func (o Opts) withDefaults() Opts {
	if o.BlockSize == 0 {
		o.BlockSize = layout.DefaultBlockSize
	}
	if o.Tag == uuid.Nil {
		o.Tag = layout.OwnedTag
	}
	if o.Provider == nil {
		o.Provider = seal.AESGCM{}
	}
	if o.Logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		o.Logger = l
	}
	return o
}

func (o Opts) validate() error {
	minSize := layout.ImageHeaderSize
	if layout.EntryHeaderSize > minSize {
		minSize = layout.EntryHeaderSize
	}
	if o.BlockSize < minSize {
		return fmt.Errorf("block size %d is smaller than the %d byte headers", o.BlockSize, minSize)
	}
	if need := layout.RecordBodySize + o.Provider.MaxOverhead(); need > o.BlockSize {
		return fmt.Errorf("sealed record needs %d bytes, block size is %d", need, o.BlockSize)
	}
	return nil
}
