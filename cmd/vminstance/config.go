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
	"io"
	"os"
	"strings"

	"github.com/google/go-tpm/legacy/tpm2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/google/go-vminstance/instance"
	"github.com/google/go-vminstance/layout"
	"github.com/google/go-vminstance/seal"
)

// Config describes the image geometry and record protection. Empty fields
// keep the firmware defaults.
type Config struct {
	BlockSize int    `yaml:"block_size"`
	Tag       string `yaml:"tag"`
	KDFInfo   string `yaml:"kdf_info"`
	KDFHash   string `yaml:"kdf_hash"`
}

var kdfHashes = map[string]tpm2.Algorithm{
	"sha1":   tpm2.AlgSHA1,
	"sha256": tpm2.AlgSHA256,
	"sha384": tpm2.AlgSHA384,
	"sha512": tpm2.AlgSHA512,
}

func loadConfig(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "reading config")
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}
	return cfg, nil
}

func (c Config) blockSize() int {
	if c.BlockSize == 0 {
		return layout.DefaultBlockSize
	}
	return c.BlockSize
}

// Opts turns the config into store options.
func (c Config) Opts(log logrus.FieldLogger) (instance.Opts, error) {
	opts := instance.Opts{
		BlockSize: c.blockSize(),
		Logger:    log,
	}
	if c.Tag != "" {
		tag, err := uuid.Parse(c.Tag)
		if err != nil {
			return opts, errors.Wrap(err, "parsing tag")
		}
		if tag == uuid.Nil {
			return opts, errors.New("the nil tag marks free slots and cannot be owned")
		}
		opts.Tag = tag
	}
	provider := seal.AESGCM{Info: c.KDFInfo}
	if c.KDFHash != "" {
		alg, ok := kdfHashes[strings.ToLower(c.KDFHash)]
		if !ok {
			return opts, errors.Errorf("unsupported kdf_hash %q", c.KDFHash)
		}
		provider.KDFHash = alg
	}
	opts.Provider = provider
	return opts, nil
}
