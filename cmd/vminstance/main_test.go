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

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-tpm/legacy/tpm2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/google/go-vminstance/layout"
	"github.com/google/go-vminstance/seal"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out, errOut bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &errOut
	err := app.Run(append([]string{"vminstance"}, args...))
	return out.String(), err
}

func TestCreateInspect(t *testing.T) {
	img := filepath.Join(t.TempDir(), "instance.img")
	_, err := run(t, "create", "--blocks", "16", img)
	require.NoError(t, err)

	fi, err := os.Stat(img)
	require.NoError(t, err)
	require.Equal(t, int64(16*layout.DefaultBlockSize), fi.Size())

	out, err := run(t, "inspect", img)
	require.NoError(t, err)
	var got struct {
		Entries []entryView `yaml:"entries"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	if diff := cmp.Diff([]entryView{{Index: 1, Kind: "free"}}, got.Entries); diff != "" {
		t.Errorf("inspect mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteRead(t *testing.T) {
	dir := t.TempDir()
	img := filepath.Join(dir, "instance.img")
	secretFile := filepath.Join(dir, "secret")
	require.NoError(t, os.WriteFile(secretFile, []byte("cli secret"), 0o600))
	_, err := run(t, "create", "--blocks", "8", img)
	require.NoError(t, err)

	code := strings.Repeat("ab", layout.HashSize)
	auth := strings.Repeat("cd", layout.HashSize)
	salt := strings.Repeat("01", layout.HiddenSize)
	_, err = run(t, "write", "--secret-file", secretFile, "--code-hash", code, "--auth-hash", auth, "--salt", salt, "--mode", "debug", img)
	require.NoError(t, err)

	out, err := run(t, "read", "--secret-file", secretFile, img)
	require.NoError(t, err)
	var got recordView
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	want := recordView{Index: 1, CodeHash: code, AuthHash: auth, Salt: salt, Mode: "debug", RawMode: 2}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("read mismatch (-want +got):\n%s", diff)
	}

	// Writing again replaces the record in place.
	_, err = run(t, "write", "--secret-hex", "636c6920736563726574", "--code-hash", code, "--auth-hash", auth, img)
	require.NoError(t, err)
	out, err = run(t, "read", "--secret-file", secretFile, img)
	require.NoError(t, err)
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	require.Equal(t, uint64(1), got.Index)
	require.Equal(t, "normal", got.Mode)
	require.NotEqual(t, salt, got.Salt)

	_, err = run(t, "read", "--secret-hex", "00", img)
	require.ErrorIs(t, err, seal.ErrCrypto)
}

func TestReadFreeSlot(t *testing.T) {
	img := filepath.Join(t.TempDir(), "instance.img")
	_, err := run(t, "create", "--blocks", "4", img)
	require.NoError(t, err)
	out, err := run(t, "read", "--secret-hex", "00", img)
	require.NoError(t, err)
	var got map[string]uint64
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	require.Equal(t, map[string]uint64{"free_slot": 1}, got)
}

func TestCommandErrors(t *testing.T) {
	img := filepath.Join(t.TempDir(), "instance.img")
	_, err := run(t, "create", "--blocks", "4", img)
	require.NoError(t, err)

	tests := []struct {
		name string
		args []string
	}{
		{"no image", []string{"inspect"}},
		{"missing image", []string{"inspect", img + ".missing"}},
		{"no secret", []string{"read", img}},
		{"both secrets", []string{"read", "--secret-hex", "00", "--secret-file", img, img}},
		{"short code hash", []string{"write", "--secret-hex", "00", "--code-hash", "00", "--auth-hash", strings.Repeat("00", 32), img}},
		{"bad mode", []string{"write", "--secret-hex", "00", "--code-hash", strings.Repeat("00", 32), "--auth-hash", strings.Repeat("00", 32), "--mode", "recovery", img}},
		{"bad log level", []string{"--log-level", "loud", "inspect", img}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, tt.args...); err == nil {
				t.Errorf("vminstance %v succeeded, want error", tt.args)
			}
		})
	}
}

func TestConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	tag := "6f1c2a9e-5d3b-4c7a-8e2f-9a0b1c2d3e4f"
	require.NoError(t, os.WriteFile(path, []byte("block_size: 1024\ntag: "+tag+"\nkdf_info: test-context\nkdf_hash: SHA256\n"), 0o600))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	opts, err := cfg.Opts(nil)
	require.NoError(t, err)
	require.Equal(t, 1024, opts.BlockSize)
	require.Equal(t, uuid.MustParse(tag), opts.Tag)
	require.Equal(t, seal.AESGCM{Info: "test-context", KDFHash: tpm2.AlgSHA256}, opts.Provider)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, nil, 0o600))
	cfg, err = loadConfig(empty)
	require.NoError(t, err)
	require.Equal(t, Config{}, cfg)

	for name, body := range map[string]string{
		"unknown field": "blocksize: 512\n",
		"nil tag":       "tag: 00000000-0000-0000-0000-000000000000\n",
		"bad tag":       "tag: nope\n",
		"bad hash":      "kdf_hash: md5\n",
	} {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(dir, strings.ReplaceAll(name, " ", "_")+".yaml")
			require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
			cfg, err := loadConfig(p)
			if err == nil {
				_, err = cfg.Opts(nil)
			}
			require.Error(t, err)
		})
	}
}

func TestConfigFileWithImage(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("block_size: 4096\n"), 0o600))
	img := filepath.Join(dir, "instance.img")
	_, err := run(t, "--config", cfgPath, "create", "--blocks", "4", img)
	require.NoError(t, err)
	fi, err := os.Stat(img)
	require.NoError(t, err)
	require.Equal(t, int64(4*4096), fi.Size())

	_, err = run(t, "--config", cfgPath, "write", "--secret-hex", "0102", "--code-hash", strings.Repeat("11", 32), "--auth-hash", strings.Repeat("22", 32), img)
	require.NoError(t, err)
	out, err := run(t, "--config", cfgPath, "read", "--secret-hex", "0102", img)
	require.NoError(t, err)
	require.Contains(t, out, strings.Repeat("11", 32))

	// With 512 byte blocks the entry is hidden inside the first 4096 byte block.
	out, err = run(t, "read", "--secret-hex", "0102", img)
	require.NoError(t, err)
	require.Contains(t, out, "free_slot: 1")
}
