// Copyright 2026 The CDB Tool Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package writer

import (
	"io"

	"github.com/pkg/errors"

	"github.com/matdb/cdbtool/cdb/chunk"
	"github.com/matdb/cdbtool/cdb/dbindex"
	"github.com/matdb/cdbtool/cdb/schema"
	"github.com/matdb/cdbtool/cdb/valuetree"
	"github.com/matdb/cdbtool/resourceid"
)

// CreateInfo is the external identity a recompiled object carries
// beyond its decoded fields: the resource identity it was loaded from
// and the content hash recorded against it in CompiledDB.HashMap.
type CreateInfo struct {
	ID   resourceid.ID
	Hash uint64
}

// DatabaseComponent is one component attached to a DatabaseObject: a
// class, its disambiguating index, whether it is diff-encoded, and its
// decoded value. Raw, when set, holds the component's original byte
// span and short-circuits re-emission: the bytes pass through
// unchanged, which is how an unmodified component of an existing
// database survives a recompile bit-exactly.
type DatabaseComponent struct {
	Class *schema.Class
	Index uint16
	Diff  bool
	Value valuetree.Value
	Raw   []byte
}

// DatabaseObject is one object WriteDatabase emits: its DB-ID, parent
// (0 == none), external identity, and the components it owns.
type DatabaseObject struct {
	DBID       uint32
	Parent     uint32
	HasData    bool
	Info       CreateInfo
	Components []DatabaseComponent
}

// WriteDatabase emits the CompiledDB and DBFileIndex metadata every
// CDB file begins with, then every component's OBJT/DIFF chunk in
// DBFileIndex.Components order, so after a subsequent ReadDatabaseIndex
// and ReadAll, manager.Build zips the decoded components back up
// against the same array positionally.
func (wr *Writer) WriteDatabase(buildVersion string, objects []DatabaseObject) error {
	if err := wr.writeCompiledDB(buildVersion, objects); err != nil {
		return errors.Wrap(err, "writer: write CompiledDB")
	}
	types := collectComponentTypes(objects)
	if err := wr.writeDBFileIndex(objects, types); err != nil {
		return errors.Wrap(err, "writer: write DBFileIndex")
	}
	for _, o := range objects {
		for _, c := range o.Components {
			if c.Raw != nil {
				if err := wr.PassThrough(c.Raw); err != nil {
					return errors.Wrapf(err, "writer: pass through component dbid=%d index=%d", o.DBID, c.Index)
				}
				continue
			}
			if err := wr.WriteObject(c.Class, o.DBID, c.Diff, c.Value); err != nil {
				return errors.Wrapf(err, "writer: write component dbid=%d index=%d", o.DBID, c.Index)
			}
		}
	}
	return nil
}

func writeResourceID(w io.Writer, id resourceid.ID) error {
	if err := chunk.WriteU32(w, id.File); err != nil {
		return err
	}
	if err := chunk.WriteU32(w, id.Ext); err != nil {
		return err
	}
	return chunk.WriteU32(w, id.Dir)
}

// writeCompiledDB emits the build-version OBJT (7+len(buildVersion)
// bytes), the HashMap MAPC (0xC+0x14*hashMapSize), and the two
// always-empty Collisions/Circular LISTs (8 bytes each).
func (wr *Writer) writeCompiledDB(buildVersion string, objects []DatabaseObject) error {
	body := newByteBuf()
	if err := chunk.WriteU32(body, uint32(schema.Null)); err != nil {
		return err
	}
	if err := chunk.WriteString(body, buildVersion); err != nil {
		return err
	}
	if err := wr.emitChunk(chunk.SigOBJT, body.Bytes()); err != nil {
		return err
	}

	entries := hashMapEntries(objects)
	hm := newByteBuf()
	if err := chunk.WriteU32(hm, uint32(schema.Null)); err != nil {
		return err
	}
	if err := chunk.WriteU32(hm, uint32(schema.Null)); err != nil {
		return err
	}
	if err := chunk.WriteU32(hm, uint32(len(entries))); err != nil {
		return err
	}
	for _, e := range entries {
		if err := writeResourceID(hm, e.ID); err != nil {
			return err
		}
		if err := chunk.WriteU64(hm, e.Hash); err != nil {
			return err
		}
	}
	if err := wr.emitChunk(chunk.SigMAPC, hm.Bytes()); err != nil {
		return err
	}

	if err := wr.emitEmptyList(); err != nil { // Collisions
		return err
	}
	return wr.emitEmptyList() // Circular
}

func (wr *Writer) emitEmptyList() error {
	body := newByteBuf()
	if err := chunk.WriteU32(body, uint32(schema.Null)); err != nil {
		return err
	}
	if err := chunk.WriteU32(body, 0); err != nil {
		return err
	}
	return wr.emitChunk(chunk.SigLIST, body.Bytes())
}

func hashMapEntries(objects []DatabaseObject) []dbindex.HashEntry {
	var out []dbindex.HashEntry
	for _, o := range objects {
		if o.Info.ID.IsZero() {
			continue
		}
		out = append(out, dbindex.HashEntry{ID: o.Info.ID, Hash: o.Info.Hash})
	}
	return out
}

// componentTypeUse assigns a stable u16 key to each distinct component
// class used across objects, in first-seen order.
type componentTypeUse struct {
	typeKey uint16
	class   *schema.Class
	version uint16
	isEmpty bool
}

func collectComponentTypes(objects []DatabaseObject) []componentTypeUse {
	var out []componentTypeUse
	seen := make(map[schema.TypeRef]bool)
	for _, o := range objects {
		for _, c := range o.Components {
			if seen[c.Class.TypeID] {
				continue
			}
			seen[c.Class.TypeID] = true
			out = append(out, componentTypeUse{
				typeKey: uint16(len(out)),
				class:   c.Class,
				version: 1,
				isEmpty: len(c.Class.Fields) == 0,
			})
		}
	}
	return out
}

func typeKeyFor(types []componentTypeUse, class *schema.Class) (uint16, bool) {
	for _, t := range types {
		if t.class.TypeID == class.TypeID {
			return t.typeKey, true
		}
	}
	return 0, false
}

// writeDBFileIndex emits the Optimized OBJT (5 bytes), the
// ComponentTypes MAPC (0xC+5*numTypes) plus one USER chunk per type,
// and the Objects/Components/Edges LISTs (8+0x15*numObjects,
// 8+8*numComponents, 8+0xC*numEdges). Edges stays empty: recompile
// only reconstructs the Parent relation, not auxiliary edges.
func (wr *Writer) writeDBFileIndex(objects []DatabaseObject, types []componentTypeUse) error {
	hdr := newByteBuf()
	if err := chunk.WriteU32(hdr, uint32(schema.Null)); err != nil {
		return err
	}
	if err := chunk.WriteBool(hdr, false); err != nil {
		return err
	}
	if err := wr.emitChunk(chunk.SigOBJT, hdr.Bytes()); err != nil {
		return err
	}

	ct := newByteBuf()
	if err := chunk.WriteU32(ct, uint32(schema.Null)); err != nil {
		return err
	}
	if err := chunk.WriteU32(ct, uint32(schema.Null)); err != nil {
		return err
	}
	if err := chunk.WriteU32(ct, uint32(len(types))); err != nil {
		return err
	}
	for _, t := range types {
		if err := chunk.WriteU16(ct, t.typeKey); err != nil {
			return err
		}
		if err := chunk.WriteU16(ct, t.version); err != nil {
			return err
		}
		if err := chunk.WriteBool(ct, t.isEmpty); err != nil {
			return err
		}
	}
	if err := wr.emitChunk(chunk.SigMAPC, ct.Bytes()); err != nil {
		return err
	}
	for _, t := range types {
		u := newByteBuf()
		if err := chunk.WriteU32(u, uint32(t.class.TypeID)); err != nil {
			return err
		}
		if err := chunk.WriteU32(u, uint32(t.class.TypeID)); err != nil {
			return err
		}
		if err := chunk.WriteString(u, wr.table.StringAt(t.class.Name)); err != nil {
			return err
		}
		if err := chunk.WriteU32(u, 0); err != nil {
			return err
		}
		if err := wr.emitChunk(chunk.SigUSER, u.Bytes()); err != nil {
			return err
		}
	}

	objs := newByteBuf()
	if err := chunk.WriteU32(objs, uint32(schema.Null)); err != nil {
		return err
	}
	if err := chunk.WriteU32(objs, uint32(len(objects))); err != nil {
		return err
	}
	for _, o := range objects {
		if err := writeResourceID(objs, o.Info.ID); err != nil {
			return err
		}
		if err := chunk.WriteU32(objs, o.DBID); err != nil {
			return err
		}
		if err := chunk.WriteU32(objs, o.Parent); err != nil {
			return err
		}
		if err := chunk.WriteBool(objs, o.HasData); err != nil {
			return err
		}
	}
	if err := wr.emitChunk(chunk.SigLIST, objs.Bytes()); err != nil {
		return err
	}

	comps := newByteBuf()
	total := 0
	for _, o := range objects {
		total += len(o.Components)
	}
	if err := chunk.WriteU32(comps, uint32(schema.Null)); err != nil {
		return err
	}
	if err := chunk.WriteU32(comps, uint32(total)); err != nil {
		return err
	}
	for _, o := range objects {
		for _, c := range o.Components {
			typeKey, ok := typeKeyFor(types, c.Class)
			if !ok {
				return errors.Errorf("writer: component class %q not in collected type table", wr.table.StringAt(c.Class.Name))
			}
			if err := chunk.WriteU32(comps, o.DBID); err != nil {
				return err
			}
			if err := chunk.WriteU16(comps, c.Index); err != nil {
				return err
			}
			if err := chunk.WriteU16(comps, typeKey); err != nil {
				return err
			}
		}
	}
	if err := wr.emitChunk(chunk.SigLIST, comps.Bytes()); err != nil {
		return err
	}

	return wr.emitEmptyList() // Edges
}
