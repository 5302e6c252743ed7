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

package testdata

import _ "embed" // Necessary to use go:embed

// Raw instance images with 512 byte blocks.
var (
	// ForeignEntriesImage holds foreign entries with payloads of 1, 512 and
	// 513 bytes at blocks 1, 3 and 5. Block 8 is the first free slot.
	//go:embed images/foreign-entries.img
	ForeignEntriesImage []byte
	// FullImage has a foreign entry in every block after the header.
	//go:embed images/full.img
	FullImage []byte
)
