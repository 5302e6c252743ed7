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

package dice

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/google/go-vminstance/instance"
	"github.com/google/go-vminstance/internal/testutil"
	"github.com/google/go-vminstance/layout"
)

func testInputs() Inputs {
	var in Inputs
	for i := range in.CodeHash {
		in.CodeHash[i] = byte(i)
		in.AuthHash[i] = byte(i * 3)
	}
	in.Mode = layout.ModeNormal
	return in
}

func TestCompare(t *testing.T) {
	in := testInputs()
	recorded := NewRecordBody(in, layout.Hidden{1})

	otherCode := in
	otherCode.CodeHash[0] ^= 1
	otherAuth := in
	otherAuth.AuthHash[31] ^= 1
	otherMode := in
	otherMode.Mode = layout.ModeDebug
	allDifferent := Inputs{Mode: layout.ModeMaintenance}

	tests := []struct {
		name string
		in   Inputs
		want []error
	}{
		{"match", in, nil},
		{"code hash", otherCode, []error{ErrRecordedCodeHashMismatch}},
		{"authority hash", otherAuth, []error{ErrRecordedAuthHashMismatch}},
		{"mode", otherMode, []error{ErrRecordedDiceModeMismatch}},
		{"everything", allDifferent, []error{ErrRecordedCodeHashMismatch, ErrRecordedAuthHashMismatch, ErrRecordedDiceModeMismatch}},
	}
	all := []error{ErrRecordedCodeHashMismatch, ErrRecordedAuthHashMismatch, ErrRecordedDiceModeMismatch}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Compare(recorded, tt.in)
			if (err != nil) != (len(tt.want) > 0) {
				t.Fatalf("Compare() = %v, want %v", err, tt.want)
			}
			for _, target := range all {
				want := false
				for _, w := range tt.want {
					want = want || w == target
				}
				if got := errors.Is(err, target); got != want {
					t.Errorf("errors.Is(Compare(), %v) = %v, want %v", target, got, want)
				}
			}
		})
	}
}

func TestCompareUnknownMode(t *testing.T) {
	in := testInputs()
	b := NewRecordBody(in, layout.Hidden{}).Bytes()
	b[layout.RecordBodySize-1] = 0x10
	recorded, err := layout.DecodeRecordBody(b)
	if err != nil {
		t.Fatal(err)
	}

	in.Mode = layout.ModeNotInitialized
	if err := Compare(recorded, in); err != nil {
		t.Errorf("Compare() = %v, want unknown mode to match %v", err, layout.ModeNotInitialized)
	}
}

func TestBind(t *testing.T) {
	im := testutil.NewImage(8)
	s, err := instance.New(im, instance.Opts{})
	if err != nil {
		t.Fatal(err)
	}
	secret := []byte("boot secret")
	in := testInputs()

	first, err := Bind(s, secret, in, bytes.NewReader(bytes.Repeat([]byte{0x77}, layout.HiddenSize)))
	if err != nil {
		t.Fatalf("Bind() = %v", err)
	}
	wantSalt := layout.Hidden{}
	copy(wantSalt[:], bytes.Repeat([]byte{0x77}, layout.HiddenSize))
	if diff := cmp.Diff(Binding{Salt: wantSalt, New: true, Index: 1}, first); diff != "" {
		t.Errorf("first Bind() mismatch (-want +got):\n%s", diff)
	}

	// Later boots reuse the recorded salt and never draw randomness.
	again, err := Bind(s, secret, in, bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("Bind() = %v", err)
	}
	if diff := cmp.Diff(Binding{Salt: wantSalt, Index: 1}, again); diff != "" {
		t.Errorf("second Bind() mismatch (-want +got):\n%s", diff)
	}

	changed := in
	changed.Mode = layout.ModeDebug
	if _, err := Bind(s, secret, changed, rand.Reader); !errors.Is(err, ErrRecordedDiceModeMismatch) {
		t.Errorf("Bind(debug mode) = %v, want %v", err, ErrRecordedDiceModeMismatch)
	}
}

func TestBindShortRandomness(t *testing.T) {
	s, err := instance.New(testutil.NewImage(8), instance.Opts{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Bind(s, []byte("s"), testInputs(), bytes.NewReader([]byte{1, 2, 3})); err == nil {
		t.Error("Bind() with short randomness succeeded, want error")
	}
}
