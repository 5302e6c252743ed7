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

// Package dice binds the DICE inputs of the current boot to the instance
// record, so that a change of code, authority or boot mode since the record
// was written is detected.
package dice

import (
	"errors"
	"fmt"
	"io"

	"github.com/google/go-vminstance/instance"
	"github.com/google/go-vminstance/layout"
)

// Mismatches between the recorded entry and the current boot. The instance
// store never returns these; Compare does.
var (
	ErrRecordedAuthHashMismatch = errors.New("recorded authority hash doesn't match")
	ErrRecordedCodeHashMismatch = errors.New("recorded code hash doesn't match")
	ErrRecordedDiceModeMismatch = errors.New("recorded DICE mode doesn't match")
)

// Inputs are the freshly measured DICE inputs of the current boot.
type Inputs struct {
	CodeHash layout.Hash
	AuthHash layout.Hash
	Mode     layout.DiceMode
}

// NewRecordBody returns the record to persist for in.
func NewRecordBody(in Inputs, salt layout.Hidden) layout.RecordBody {
	return layout.NewRecordBody(in.CodeHash, in.AuthHash, salt, in.Mode)
}

// Compare checks a recorded entry against the current inputs and returns
// every mismatch found, joined. The recorded mode is decoded leniently, so an
// unknown mode byte compares as layout.ModeNotInitialized.
func Compare(recorded layout.RecordBody, in Inputs) error {
	var joined error
	if recorded.CodeHash != in.CodeHash {
		joined = errors.Join(joined, ErrRecordedCodeHashMismatch)
	}
	if recorded.AuthHash != in.AuthHash {
		joined = errors.Join(joined, ErrRecordedAuthHashMismatch)
	}
	if recorded.Mode() != in.Mode {
		joined = errors.Join(joined, fmt.Errorf("%w: recorded %v, booting %v", ErrRecordedDiceModeMismatch, recorded.Mode(), in.Mode))
	}
	return joined
}

// NewSalt reads a fresh salt from r.
func NewSalt(r io.Reader) (layout.Hidden, error) {
	var salt layout.Hidden
	if _, err := io.ReadFull(r, salt[:]); err != nil {
		return salt, fmt.Errorf("generating salt: %w", err)
	}
	return salt, nil
}

// Binding is the outcome of Bind.
type Binding struct {
	// Salt is the recorded salt, or the new one if the entry was created.
	Salt layout.Hidden
	// New is true if no entry existed and one was written.
	New bool
	// Index is the block of the owned entry header.
	Index uint64
}

// Bind reads the owned entry of s. On first boot it records in with a salt
// drawn from rand. Otherwise it compares the entry against in and returns
// the recorded salt; a mismatch is returned as an error and what to do about
// it is left to the caller.
func Bind(s *instance.Store, secret []byte, in Inputs, rand io.Reader) (Binding, error) {
	recorded, index, err := s.ReadOwnedRecord(secret)
	if err != nil {
		return Binding{}, err
	}
	if recorded != nil {
		if err := Compare(*recorded, in); err != nil {
			return Binding{}, err
		}
		return Binding{Salt: recorded.Salt, Index: index}, nil
	}
	salt, err := NewSalt(rand)
	if err != nil {
		return Binding{}, err
	}
	if err := s.WriteOwnedRecord(NewRecordBody(in, salt), secret, index); err != nil {
		return Binding{}, err
	}
	return Binding{Salt: salt, New: true, Index: index}, nil
}
