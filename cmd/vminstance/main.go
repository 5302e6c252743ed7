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

// Command vminstance creates and inspects VM instance images and reads or
// writes the firmware's sealed instance record in them.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/google/go-vminstance/blockdev"
	"github.com/google/go-vminstance/dice"
	"github.com/google/go-vminstance/instance"
	"github.com/google/go-vminstance/layout"
)

var (
	Version   = "development"
	BuildTime = "unknown"
)

// env is the per-invocation state shared by the commands.
type env struct {
	cfg  Config
	opts instance.Opts
	log  *logrus.Logger
}

func newEnv(c *cli.Context) (*env, error) {
	log := logrus.New()
	log.SetOutput(c.App.ErrWriter)
	level, err := logrus.ParseLevel(c.String("log-level"))
	if err != nil {
		return nil, errors.Wrap(err, "parsing log level")
	}
	log.SetLevel(level)

	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("block-size") {
		cfg.BlockSize = c.Int("block-size")
	}
	opts, err := cfg.Opts(log)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, opts: opts, log: log}, nil
}

func imageArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", errors.Errorf("expected exactly one image path, got %d arguments", c.NArg())
	}
	return c.Args().First(), nil
}

func (e *env) open(c *cli.Context) (*blockdev.File, error) {
	path, err := imageArg(c)
	if err != nil {
		return nil, err
	}
	f, err := blockdev.OpenFile(path, e.cfg.blockSize())
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	return f, nil
}

func readSecret(c *cli.Context) ([]byte, error) {
	switch {
	case c.IsSet("secret-file") && c.IsSet("secret-hex"):
		return nil, errors.New("--secret-file and --secret-hex are mutually exclusive")
	case c.IsSet("secret-file"):
		secret, err := os.ReadFile(c.String("secret-file"))
		return secret, errors.Wrap(err, "reading secret")
	case c.IsSet("secret-hex"):
		secret, err := hex.DecodeString(c.String("secret-hex"))
		return secret, errors.Wrap(err, "decoding secret")
	}
	return nil, errors.New("one of --secret-file or --secret-hex is required")
}

func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

var secretFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "secret-file",
		Usage: "File holding the raw sealing secret",
	},
	&cli.StringFlag{
		Name:  "secret-hex",
		Usage: "Sealing secret as a hex string",
	},
}

func createCommand() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create an empty instance image",
		ArgsUsage: "<image>",
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:  "blocks",
				Value: 2048,
				Usage: "Size of the image in blocks",
			},
		},
		Action: func(c *cli.Context) error {
			e, err := newEnv(c)
			if err != nil {
				return err
			}
			path, err := imageArg(c)
			if err != nil {
				return err
			}
			f, err := blockdev.CreateFile(path, e.cfg.blockSize(), c.Uint64("blocks"))
			if err != nil {
				return errors.Wrapf(err, "creating %s", path)
			}
			defer f.Close()
			if err := instance.Provision(f); err != nil {
				return errors.Wrap(err, "provisioning image")
			}
			e.log.WithFields(logrus.Fields{"image": path, "blocks": f.NumBlocks()}).Info("Created instance image")
			return nil
		},
	}
}

type entryView struct {
	Index       uint64 `yaml:"index"`
	Kind        string `yaml:"kind"`
	Tag         string `yaml:"tag,omitempty"`
	PayloadSize uint64 `yaml:"payload_size"`
}

func inspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "List the entries of an instance image",
		ArgsUsage: "<image>",
		Action: func(c *cli.Context) error {
			e, err := newEnv(c)
			if err != nil {
				return err
			}
			f, err := e.open(c)
			if err != nil {
				return err
			}
			defer f.Close()
			entries, err := instance.Scan(f, e.opts)
			if err != nil {
				return errors.Wrap(err, "scanning image")
			}
			views := make([]entryView, 0, len(entries))
			for _, entry := range entries {
				v := entryView{Index: entry.Index, Kind: entry.Kind.String(), PayloadSize: entry.PayloadSize}
				if entry.Kind != layout.Free {
					v.Tag = entry.Tag.String()
				}
				views = append(views, v)
			}
			return writeYAML(c.App.Writer, map[string]interface{}{"entries": views})
		},
	}
}

type recordView struct {
	Index    uint64 `yaml:"index"`
	CodeHash string `yaml:"code_hash"`
	AuthHash string `yaml:"auth_hash"`
	Salt     string `yaml:"salt"`
	Mode     string `yaml:"mode"`
	RawMode  uint8  `yaml:"raw_mode"`
}

func readCommand() *cli.Command {
	return &cli.Command{
		Name:      "read",
		Usage:     "Decrypt and print the instance record",
		ArgsUsage: "<image>",
		Flags:     secretFlags,
		Action: func(c *cli.Context) error {
			e, err := newEnv(c)
			if err != nil {
				return err
			}
			secret, err := readSecret(c)
			if err != nil {
				return err
			}
			f, err := e.open(c)
			if err != nil {
				return err
			}
			defer f.Close()
			record, index, err := instance.ReadOwnedRecord(f, secret, e.opts)
			if err != nil {
				return errors.Wrap(err, "reading instance record")
			}
			if record == nil {
				return writeYAML(c.App.Writer, map[string]uint64{"free_slot": index})
			}
			if !layout.DiceMode(record.RawMode()).Valid() {
				e.log.WithField("raw_mode", record.RawMode()).Warn("Recorded DICE mode is not a known value")
			}
			return writeYAML(c.App.Writer, recordView{
				Index:    index,
				CodeHash: hex.EncodeToString(record.CodeHash[:]),
				AuthHash: hex.EncodeToString(record.AuthHash[:]),
				Salt:     hex.EncodeToString(record.Salt[:]),
				Mode:     record.Mode().String(),
				RawMode:  record.RawMode(),
			})
		},
	}
}

func decodeFixed(name, s string, dst []byte) error {
	b, err := hex.DecodeString(s)
	if err != nil {
		return errors.Wrapf(err, "decoding --%s", name)
	}
	if len(b) != len(dst) {
		return errors.Errorf("--%s must be %d bytes, got %d", name, len(dst), len(b))
	}
	copy(dst, b)
	return nil
}

func writeCommand() *cli.Command {
	flags := append([]cli.Flag{
		&cli.StringFlag{
			Name:     "code-hash",
			Required: true,
			Usage:    "Code measurement as 32 hex-encoded bytes",
		},
		&cli.StringFlag{
			Name:     "auth-hash",
			Required: true,
			Usage:    "Authority measurement as 32 hex-encoded bytes",
		},
		&cli.StringFlag{
			Name:  "salt",
			Usage: "Salt as 64 hex-encoded bytes; random if unset",
		},
		&cli.StringFlag{
			Name:  "mode",
			Value: layout.ModeNormal.String(),
			Usage: "DICE mode: not-initialized, normal, debug or maintenance",
		},
	}, secretFlags...)
	return &cli.Command{
		Name:      "write",
		Usage:     "Seal and store an instance record",
		ArgsUsage: "<image>",
		Flags:     flags,
		Action: func(c *cli.Context) error {
			e, err := newEnv(c)
			if err != nil {
				return err
			}
			secret, err := readSecret(c)
			if err != nil {
				return err
			}
			var in dice.Inputs
			if err := decodeFixed("code-hash", c.String("code-hash"), in.CodeHash[:]); err != nil {
				return err
			}
			if err := decodeFixed("auth-hash", c.String("auth-hash"), in.AuthHash[:]); err != nil {
				return err
			}
			if in.Mode, err = layout.ParseDiceMode(c.String("mode")); err != nil {
				return err
			}
			var salt layout.Hidden
			if c.IsSet("salt") {
				err = decodeFixed("salt", c.String("salt"), salt[:])
			} else {
				salt, err = dice.NewSalt(rand.Reader)
			}
			if err != nil {
				return err
			}

			f, err := e.open(c)
			if err != nil {
				return err
			}
			defer f.Close()
			s, err := instance.New(f, e.opts)
			if err != nil {
				return err
			}
			slot, err := instance.Locate(f, e.opts)
			if err != nil {
				return errors.Wrap(err, "locating instance entry")
			}
			if err := s.WriteOwnedRecord(dice.NewRecordBody(in, salt), secret, slot.Index); err != nil {
				return errors.Wrap(err, "writing instance record")
			}
			e.log.WithFields(logrus.Fields{"index": slot.Index, "replaced": slot.Kind == layout.Owned}).Info("Wrote instance record")
			return nil
		},
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "vminstance",
		Usage:   "Manage VM instance images and their sealed instance record",
		Version: fmt.Sprintf("%s.%s", Version, BuildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "YAML file with block_size, tag, kdf_info and kdf_hash",
			},
			&cli.IntFlag{
				Name:  "block-size",
				Value: layout.DefaultBlockSize,
				Usage: "Block size of the image in bytes; overrides the config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "Log level: trace, debug, info, warn or error",
			},
		},
		Commands: []*cli.Command{
			createCommand(),
			inspectCommand(),
			readCommand(),
			writeCommand(),
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}
