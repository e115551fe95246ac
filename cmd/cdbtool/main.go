// Copyright 2026 The CDB Tool Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command cdbtool exports a compiled material database to structured
// JSON and recompiles an exported tree back into one. The first
// argument selects a verb (export/recompile/diff/dump); everything
// after it is flags.
package main

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/matdb/cdbtool/cdb/config"
	"github.com/matdb/cdbtool/internal/cdbcmd"
	"github.com/matdb/cdbtool/internal/start"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		os.Exit(2)
	}
	defer log.Sync() //nolint:errcheck

	if len(os.Args) < 2 {
		log.Fatal("cdbtool: missing verb (export|recompile|diff|dump)")
	}
	verb := os.Args[1]
	args := os.Args[2:]

	cfg, err := config.Parse(args)
	if err != nil {
		log.Fatal("cdbtool: parse flags", zap.Error(err))
	}

	err = start.Start(context.Background(), time.Second*5, func(ctx context.Context) error {
		return cdbcmd.Run(ctx, log, verb, cfg)
	})
	if err != nil {
		log.Fatal("cdbtool: run", zap.Error(err))
	}
}
