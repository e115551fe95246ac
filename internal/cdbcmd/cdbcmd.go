// Copyright 2026 The CDB Tool Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cdbcmd wires cdbtool's verbs to the cdb/* packages: export
// walks a database and writes one material JSON document per object
// whose PersistentID carries the material extension; recompile
// reverses that; diff prints
// each object's own (non-composed) JSON; dump lists the schema's
// classes.
package cdbcmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/matdb/cdbtool/cdb/batch"
	"github.com/matdb/cdbtool/cdb/cdberr"
	"github.com/matdb/cdbtool/cdb/config"
	"github.com/matdb/cdbtool/cdb/dbindex"
	"github.com/matdb/cdbtool/cdb/manager"
	"github.com/matdb/cdbtool/cdb/reader"
	"github.com/matdb/cdbtool/cdb/schema"
	"github.com/matdb/cdbtool/cdb/writer"
	"github.com/matdb/cdbtool/cdb/xcompress"
	"github.com/matdb/cdbtool/material"
	"github.com/matdb/cdbtool/resourceid"
)

// Run dispatches to the handler named by verb.
func Run(ctx context.Context, log *zap.Logger, verb string, cfg config.Config) error {
	switch verb {
	case "export":
		return runExport(ctx, log, cfg)
	case "recompile":
		return runRecompile(ctx, log, cfg)
	case "diff":
		return runDiff(ctx, log, cfg)
	case "dump":
		return runDump(ctx, log, cfg)
	default:
		return errors.Errorf("cdbcmd: unknown verb %q", verb)
	}
}

// openDatabase reads the schema header, the CompiledDB/DBFileIndex
// metadata that precedes every CDB file's component stream, and every
// component chunk that follows. hdr.TotalChunkCount bounds the reader
// in strict mode: a file that runs dry before that count is reached,
// or one that still has chunks left once it is, is a fatal
// ErrChunkSizeMismatch rather than a silent short read. Lenient mode
// leaves the reader unbounded so a truncated or overcounted file still
// yields whatever it can decode.
func openDatabase(cfg config.Config) (*schema.Table, *dbindex.CompiledDB, *dbindex.DBFileIndex, []reader.Object, error) {
	src, err := openMaybeCompressed(cfg.Input)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	defer src.Close()

	hdr, err := schema.ReadHeader(src)
	if err != nil {
		return nil, nil, nil, nil, errors.Wrap(err, "cdbcmd: read header")
	}
	rd := reader.New(src, hdr.Table)
	if cfg.Mode != config.ModeLenient {
		consumed := uint32(3 + len(hdr.Table.Classes)) // BETH + STRT + TYPE + one CLAS per class
		if hdr.TotalChunkCount < consumed {
			return nil, nil, nil, nil, errors.Errorf("cdbcmd: totalChunkCount=%d smaller than %d header chunks", hdr.TotalChunkCount, consumed)
		}
		rd.SetChunkBudget(hdr.TotalChunkCount - consumed)
	}

	db, index, err := rd.ReadDatabaseIndex()
	if err != nil {
		if cfg.Mode != config.ModeLenient {
			return nil, nil, nil, nil, errors.Wrap(err, "cdbcmd: read database index")
		}
		db, index = &dbindex.CompiledDB{}, &dbindex.DBFileIndex{}
	}
	objs, err := rd.ReadAll()
	if err != nil {
		if cfg.Mode != config.ModeLenient {
			return nil, nil, nil, nil, errors.Wrap(err, "cdbcmd: read objects")
		}
	}
	if cfg.Mode != config.ModeLenient {
		if left := rd.RemainingBudget(); left > 0 {
			return nil, nil, nil, nil, errors.Errorf("cdbcmd: %d fewer chunks read than totalChunkCount declared", left)
		}
		var extra [1]byte
		if n, _ := src.Read(extra[:]); n > 0 {
			return nil, nil, nil, nil, errors.Wrap(cdberr.ErrChunkSizeMismatch, "cdbcmd: data remains after totalChunkCount chunks")
		}
	}
	return hdr.Table, db, index, objs, nil
}

// zstdMagic is the frame header a -compress'ed database starts with.
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// openMaybeCompressed loads a database file, transparently
// decompressing it when it carries a zstd frame (the recompile side's
// -compress output), so export accepts both forms.
func openMaybeCompressed(path string) (io.ReadCloser, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "cdbcmd: open input")
	}
	if bytes.HasPrefix(raw, zstdMagic) {
		dec, err := xcompress.Decompress(raw)
		if err != nil {
			return nil, errors.Wrap(err, "cdbcmd: decompress input")
		}
		raw = dec
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func runExport(ctx context.Context, log *zap.Logger, cfg config.Config) error {
	table, db, index, objs, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	m, err := manager.Build(table, db, index, objs)
	if err != nil {
		return errors.Wrap(err, "cdbcmd: build manager")
	}
	if err := m.SelfCheck(); err != nil {
		log.Warn("cdbcmd: self-check found a dangling reference", zap.Error(err))
		if cfg.Mode != config.ModeLenient {
			return err
		}
	}
	if err := os.MkdirAll(cfg.Output, 0o755); err != nil {
		return errors.Wrap(err, "cdbcmd: make output dir")
	}

	// With registry/archive path lookup outside the tool, the
	// formatted persistent resourceid stands in as each object's
	// external path. Stable and unique either way.
	dbIDToPath := make(map[uint32]string, len(index.Objects))
	for _, o := range index.Objects {
		if !o.PersistentID.IsZero() {
			dbIDToPath[o.DBID] = resourceid.Format(o.PersistentID)
		}
	}

	var jobs []batch.Job
	for i := range index.Objects {
		o := index.Objects[i]
		if !resourceid.IsMaterial(o.PersistentID) {
			continue
		}
		jobs = append(jobs, func(ctx context.Context) error {
			doc, err := material.Export(log, m, o.DBID, o.PersistentID, dbIDToPath, cfg.Indent)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(doc, "", cfg.Indent)
			if err != nil {
				return errors.Wrap(err, "cdbcmd: marshal document")
			}
			path := filepath.Join(cfg.Output, o.PersistentID.String()+".json")
			return os.WriteFile(path, data, 0o644)
		})
	}
	return batch.Run(ctx, cfg.Jobs, jobs)
}

// runRecompile reads every *.json material document under cfg.Input,
// reassigns DB-IDs across all of them in one pass so cross-document
// references resolve, then writes a single database to cfg.Output
// carrying the original schema table unchanged.
//
// Documents reference each other by formatted resourceid
// (manager.ExportComponents rewrites same-database references into
// that portable form), so every object of every document is assigned a
// DB-ID up front, before any document's fields are decoded, letting
// forward and cross-file references resolve on the first pass. The
// assignment here mirrors material.Recompile's own sequential
// numbering exactly: document k's objects occupy the contiguous range
// starting at the base DB-ID passed to it.
func runRecompile(ctx context.Context, log *zap.Logger, cfg config.Config) error {
	if cfg.Output == "" {
		return errors.New("cdbcmd: recompile requires -output")
	}
	table, err := schemaFromSidecar(cfg)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(cfg.Input)
	if err != nil {
		return errors.Wrap(err, "cdbcmd: read input dir")
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	docs := make([]*material.Document, 0, len(names))
	docNames := make([]string, 0, len(names))
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(cfg.Input, name))
		if err != nil {
			return errors.Wrapf(err, "cdbcmd: read %s", name)
		}
		var doc material.Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			if cfg.Mode == config.ModeLenient {
				log.Warn("cdbcmd: skipping unreadable document", zap.String("file", name), zap.Error(err))
				continue
			}
			return errors.Wrapf(err, "cdbcmd: unmarshal %s", name)
		}
		docs = append(docs, &doc)
		docNames = append(docNames, name)
	}

	resourceRemap := make(map[resourceid.ID]uint32)
	bases := make([]uint32, len(docs))
	nextID := uint32(1)
	for di, doc := range docs {
		bases[di] = nextID
		for _, o := range doc.Objects {
			if rid, err := resourceid.Parse(o.ID); err == nil {
				if _, ok := resourceRemap[rid]; !ok {
					resourceRemap[rid] = nextID
				}
			}
			nextID++
		}
	}

	var allObjects []writer.DatabaseObject
	for i, doc := range docs {
		objs, _, err := material.Recompile(table, doc, bases[i], resourceRemap, nil)
		if err != nil {
			if cfg.Mode == config.ModeLenient {
				log.Warn("cdbcmd: skipping material", zap.String("file", docNames[i]), zap.Error(err))
				continue
			}
			return errors.Wrapf(err, "cdbcmd: recompile document %d (%s)", i, docNames[i])
		}
		allObjects = append(allObjects, objs...)
	}

	out, err := os.Create(cfg.Output)
	if err != nil {
		return errors.Wrap(err, "cdbcmd: create output")
	}
	defer out.Close()

	// When -compress is set, buffer the whole database in memory and
	// zstd-compress it before it reaches disk; uncompressed output
	// writes straight through.
	var dest io.Writer = out
	var mem *bytes.Buffer
	if cfg.Compress {
		mem = &bytes.Buffer{}
		dest = mem
	}

	wr := writer.New(dest, table)
	if err := wr.WriteHeader(1); err != nil {
		return errors.Wrap(err, "cdbcmd: write header")
	}
	if err := wr.WriteDatabase(cfg.BuildVersion, allObjects); err != nil {
		return errors.Wrap(err, "cdbcmd: write database")
	}
	if err := wr.Close(); err != nil {
		return errors.Wrap(err, "cdbcmd: flush output")
	}
	if cfg.Compress {
		compressed, err := xcompress.Compress(mem.Bytes(), 0)
		if err != nil {
			return errors.Wrap(err, "cdbcmd: compress output")
		}
		if _, err := out.Write(compressed); err != nil {
			return errors.Wrap(err, "cdbcmd: write compressed output")
		}
	}
	return nil
}

// schemaFromSidecar loads the schema table from a reference database
// named by -input's sibling "schema.cdb" file, since a directory of
// exported JSON carries no class table of its own.
func schemaFromSidecar(cfg config.Config) (*schema.Table, error) {
	path := filepath.Join(cfg.Input, "schema.cdb")
	f, err := openMaybeCompressed(path)
	if err != nil {
		return nil, errors.Wrap(err, "cdbcmd: open schema sidecar (expected schema.cdb alongside exported material JSON)")
	}
	defer f.Close()
	hdr, err := schema.ReadHeader(f)
	if err != nil {
		return nil, errors.Wrap(err, "cdbcmd: read schema sidecar")
	}
	return hdr.Table, nil
}

func runDiff(ctx context.Context, log *zap.Logger, cfg config.Config) error {
	table, db, index, objs, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	m, err := manager.Build(table, db, index, objs)
	if err != nil {
		return err
	}
	for i := range index.Objects {
		dbid := index.Objects[i].DBID
		data, err := m.GetDiffJson(dbid, cfg.Indent)
		if err != nil {
			return err
		}
		fmt.Printf("%d: %s\n", dbid, string(data))
	}
	return nil
}

func runDump(ctx context.Context, log *zap.Logger, cfg config.Config) error {
	table, _, _, _, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	for i, c := range table.Classes {
		fmt.Printf("%4d %-40s flags=%#x fields=%d\n", i, table.StringAt(c.Name), c.Flags, len(c.Fields))
	}
	return nil
}
