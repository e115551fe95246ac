// Copyright 2026 The CDB Tool Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config defines the cdbtool entry point's flag surface:
// input/output paths, the strict-vs-lenient decode mode, and the
// export worker count. Directory walking and registry lookup stay
// outside the tool; this is only the thin glue the CLI needs to locate
// one input database and one output path.
package config

import (
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Mode selects how the decoder reacts to recoverable structural
// problems.
type Mode int

const (
	// ModeStrict aborts the whole run on the first soft error.
	ModeStrict Mode = iota
	// ModeLenient skips the offending component and continues.
	ModeLenient
)

// Config holds the cdbtool entry point's parsed flags.
type Config struct {
	Input        string
	Output       string
	Mode         Mode
	Indent       string
	Compress     bool
	BuildVersion string
	Jobs         int
}

// Parse parses args (excluding the program name) into a Config.
func Parse(args []string) (Config, error) {
	fs := pflag.NewFlagSet("cdbtool", pflag.ContinueOnError)
	input := fs.StringP("input", "i", "", "path to the source database or exported material tree")
	output := fs.StringP("output", "o", "", "destination path")
	lenient := fs.Bool("lenient", false, "skip components that fail to decode instead of aborting")
	indent := fs.String("indent", "  ", "JSON indent string for exported output")
	compress := fs.Bool("compress", false, "zstd-compress recompiled output")
	buildVersion := fs.String("build-version", "cdbtool", "CompiledDB.BuildVersion string stamped on recompile")
	jobs := fs.IntP("jobs", "j", 8, "concurrent per-material export workers")

	if err := fs.Parse(args); err != nil {
		return Config{}, errors.Wrap(err, "config: parse flags")
	}
	if *input == "" {
		return Config{}, errors.New("config: -input is required")
	}
	cfg := Config{
		Input:        *input,
		Output:       *output,
		Indent:       *indent,
		Compress:     *compress,
		BuildVersion: *buildVersion,
		Jobs:         *jobs,
	}
	if *lenient {
		cfg.Mode = ModeLenient
	}
	return cfg, nil
}
