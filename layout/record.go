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

package layout

import (
	"fmt"
)

// Sizes of the record body fields.
const (
	HashSize   = 32
	HiddenSize = 64
	// RecordBodySize is the encoded size of RecordBody.
	RecordBodySize = HashSize + HashSize + HiddenSize + 1
)

// Hash is a DICE measurement digest.
type Hash [HashSize]byte

// Hidden is the secret salt mixed into the DICE derivation.
type Hidden [HiddenSize]byte

// DiceMode is the boot mode recorded alongside the measurements.
type DiceMode uint8

// DICE modes, using their on-disk encoding.
const (
	ModeNotInitialized DiceMode = iota
	ModeNormal
	ModeDebug
	ModeMaintenance
)

// DecodeDiceMode maps the on-disk mode byte to a DiceMode.
//
// Unknown values decode to ModeNotInitialized instead of failing. Callers
// that need to tell a corrupted byte from a recorded ModeNotInitialized can
// check RecordBody.RawMode with DiceMode.Valid.
func DecodeDiceMode(b byte) DiceMode {
	switch m := DiceMode(b); m {
	case ModeNormal, ModeDebug, ModeMaintenance:
		return m
	}
	return ModeNotInitialized
}

// Valid reports whether m is one of the four defined modes.
func (m DiceMode) Valid() bool {
	return m <= ModeMaintenance
}

func (m DiceMode) String() string {
	switch m {
	case ModeNotInitialized:
		return "not-initialized"
	case ModeNormal:
		return "normal"
	case ModeDebug:
		return "debug"
	case ModeMaintenance:
		return "maintenance"
	}
	return fmt.Sprintf("DiceMode<%d>", uint8(m))
}

// ParseDiceMode is the inverse of DiceMode.String for the defined modes.
func ParseDiceMode(s string) (DiceMode, error) {
	for m := ModeNotInitialized; m <= ModeMaintenance; m++ {
		if m.String() == s {
			return m, nil
		}
	}
	return ModeNotInitialized, fmt.Errorf("unknown DICE mode %q", s)
}

// RecordBody is the plaintext instance record.
type RecordBody struct {
	CodeHash Hash
	AuthHash Hash
	Salt     Hidden
	mode     uint8
}

// NewRecordBody builds a record from its fields.
func NewRecordBody(codeHash, authHash Hash, salt Hidden, mode DiceMode) RecordBody {
	return RecordBody{
		CodeHash: codeHash,
		AuthHash: authHash,
		Salt:     salt,
		mode:     uint8(mode),
	}
}

// Mode returns the recorded boot mode, decoded leniently.
func (r RecordBody) Mode() DiceMode {
	return DecodeDiceMode(r.mode)
}

// RawMode returns the mode byte exactly as recorded.
func (r RecordBody) RawMode() uint8 {
	return r.mode
}

// Encode writes the record to the start of b with no padding between fields.
func (r RecordBody) Encode(b []byte) error {
	if len(b) < RecordBodySize {
		return fmt.Errorf("buffer too small for record body: got %d bytes, need %d", len(b), RecordBodySize)
	}
	n := copy(b, r.CodeHash[:])
	n += copy(b[n:], r.AuthHash[:])
	n += copy(b[n:], r.Salt[:])
	b[n] = r.mode
	return nil
}

// Bytes returns the encoded record.
func (r RecordBody) Bytes() []byte {
	b := make([]byte, RecordBodySize)
	// Cannot fail: b has exactly RecordBodySize bytes.
	_ = r.Encode(b)
	return b
}

// DecodeRecordBody parses a record body. It rejects buffers shorter than
// RecordBodySize; trailing bytes are ignored.
func DecodeRecordBody(b []byte) (RecordBody, error) {
	var r RecordBody
	if len(b) < RecordBodySize {
		return r, fmt.Errorf("record body too short: got %d bytes, need %d", len(b), RecordBodySize)
	}
	n := copy(r.CodeHash[:], b)
	n += copy(r.AuthHash[:], b[n:])
	n += copy(r.Salt[:], b[n:])
	r.mode = b[n]
	return r, nil
}
