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
	"errors"
	"fmt"

	"github.com/google/go-vminstance/layout"
)

// Errors returned by the instance store. Every failure is terminal for the
// current operation and nothing is retried internally.
var (
	// ErrFailedIO is matched by every *IOError.
	ErrFailedIO = errors.New("failed I/O to disk")
	// ErrInstanceImageFull means no free or owned slot was found.
	ErrInstanceImageFull = errors.New("failed to obtain a free instance image entry")
	// ErrInvalidInstanceImageHeader means block 0 has a bad magic or version.
	ErrInvalidInstanceImageHeader = layout.ErrInvalidImageHeader
	// ErrMissingInstanceImage means no instance partition was provided.
	ErrMissingInstanceImage = errors.New("failed to find the instance image partition")
	// ErrMissingInstanceImageHeader means the partition has no block 0.
	ErrMissingInstanceImageHeader = errors.New("instance image header is missing")
	// ErrUnsupportedEntrySize is matched by every *UnsupportedEntrySizeError.
	ErrUnsupportedEntrySize = errors.New("unsupported instance image entry size")
	// ErrDuplicateOwnedEntry means more than one entry carries the owned tag,
	// which only happens if the image was corrupted or written by someone
	// else.
	ErrDuplicateOwnedEntry = errors.New("instance image holds more than one owned entry")
)

// IOError records a failed block access.
type IOError struct {
	Op    string
	Index uint64
	Err   error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%v: %s block %d: %v", ErrFailedIO, e.Op, e.Index, e.Err)
}

// Is makes errors.Is(err, ErrFailedIO) true for every IOError.
func (e *IOError) Is(target error) bool {
	return target == ErrFailedIO
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// UnsupportedEntrySizeError is returned for owned entries whose payload does
// not fit in a single block.
type UnsupportedEntrySizeError struct {
	Size  uint64
	Limit int
}

func (e *UnsupportedEntrySizeError) Error() string {
	return fmt.Sprintf("%v: %d bytes, at most %d supported", ErrUnsupportedEntrySize, e.Size, e.Limit)
}

// Is makes errors.Is(err, ErrUnsupportedEntrySize) true.
func (e *UnsupportedEntrySizeError) Is(target error) bool {
	return target == ErrUnsupportedEntrySize
}
