// Copyright 2026 The CDB Tool Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package reader

import (
	"io"

	"github.com/pkg/errors"

	"github.com/matdb/cdbtool/cdb/cdberr"
	"github.com/matdb/cdbtool/cdb/chunk"
	"github.com/matdb/cdbtool/cdb/dbindex"
)

// ReadDatabaseIndex decodes the two database-level values every CDB
// file begins with, immediately after the class table: the
// CompiledDB (build version, hash map, collision/circular lists) and
// the DBFileIndex (component type table, object/component/edge
// arrays). Callers must invoke this before ReadOne/ReadAll, which
// decode only the per-component stream that follows.
func (rd *Reader) ReadDatabaseIndex() (*dbindex.CompiledDB, *dbindex.DBFileIndex, error) {
	db, err := rd.readCompiledDB()
	if err != nil {
		return nil, nil, errors.Wrap(err, "reader: read CompiledDB")
	}
	idx, err := rd.readDBFileIndex()
	if err != nil {
		return nil, nil, errors.Wrap(err, "reader: read DBFileIndex")
	}
	return db, idx, nil
}

// readChunkBody reads the next chunk, verifying its signature,
// maintaining the stream offset and chunk budget the same way ReadOne
// does for the per-component stream.
func (rd *Reader) readChunkBody(wantSig chunk.Sig) (*countingReader, error) {
	if rd.budget == 0 {
		return nil, errors.Wrapf(cdberr.ErrChunkSizeMismatch, "reader: chunk budget exhausted before %q", wantSig)
	}
	h, err := chunk.ReadHeader(rd.r)
	if err != nil {
		return nil, err
	}
	if h.Sig != wantSig {
		return nil, errors.Wrapf(cdberr.ErrBadSignature, "reader: expected %q, got %q", wantSig.String(), h.Sig.String())
	}
	if rd.budget > 0 {
		rd.budget--
	}
	rd.offset += chunk.HeaderSize
	return &countingReader{r: io.LimitReader(rd.r, int64(h.Size))}, nil
}

func (rd *Reader) finishChunkBody(body *countingReader) {
	rd.offset += body.n
}

func (rd *Reader) readCompiledDB() (*dbindex.CompiledDB, error) {
	body, err := rd.readChunkBody(chunk.SigOBJT)
	if err != nil {
		return nil, errors.Wrap(err, "CompiledDB header")
	}
	if _, err := chunk.ReadU32(body); err != nil { // type offset, identity is positional here
		return nil, errors.Wrap(err, "read type offset")
	}
	buildVersion, err := chunk.ReadString(body)
	if err != nil {
		return nil, errors.Wrap(err, "read build version")
	}
	rd.finishChunkBody(body)

	hashMap, err := rd.readHashMap()
	if err != nil {
		return nil, err
	}
	collisions, err := rd.readCollisions()
	if err != nil {
		return nil, err
	}
	circular, err := rd.readCircular()
	if err != nil {
		return nil, err
	}
	return &dbindex.CompiledDB{
		BuildVersion: buildVersion,
		HashMap:      hashMap,
		Collisions:   collisions,
		Circular:     circular,
	}, nil
}

func (rd *Reader) readHashMap() ([]dbindex.HashEntry, error) {
	body, err := rd.readChunkBody(chunk.SigMAPC)
	if err != nil {
		return nil, errors.Wrap(err, "HashMap")
	}
	defer rd.finishChunkBody(body)
	if _, err := chunk.ReadU32(body); err != nil { // key type (BSResource::ID)
		return nil, err
	}
	if _, err := chunk.ReadU32(body); err != nil { // value type (uint64_t)
		return nil, err
	}
	count, err := chunk.ReadU32(body)
	if err != nil {
		return nil, err
	}
	entries := make([]dbindex.HashEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		id, err := readResourceID(body)
		if err != nil {
			return nil, errors.Wrapf(err, "hash map entry %d id", i)
		}
		hash, err := chunk.ReadU64(body)
		if err != nil {
			return nil, errors.Wrapf(err, "hash map entry %d hash", i)
		}
		entries = append(entries, dbindex.HashEntry{ID: id, Hash: hash})
	}
	return entries, nil
}

func (rd *Reader) readCollisions() ([]dbindex.FilePair, error) {
	body, err := rd.readChunkBody(chunk.SigLIST)
	if err != nil {
		return nil, errors.Wrap(err, "Collisions")
	}
	defer rd.finishChunkBody(body)
	if _, err := chunk.ReadU32(body); err != nil { // element type
		return nil, err
	}
	count, err := chunk.ReadU32(body)
	if err != nil {
		return nil, err
	}
	pairs := make([]dbindex.FilePair, 0, count)
	for i := uint32(0); i < count; i++ {
		first, err := readResourceID(body)
		if err != nil {
			return nil, errors.Wrapf(err, "collision %d first", i)
		}
		second, err := readResourceID(body)
		if err != nil {
			return nil, errors.Wrapf(err, "collision %d second", i)
		}
		pairs = append(pairs, dbindex.FilePair{First: first, Second: second})
	}
	return pairs, nil
}

// readCircular reads the Circular list's header and count; its
// element type occupies zero bytes on the wire, so the count is all
// there is.
func (rd *Reader) readCircular() (int, error) {
	body, err := rd.readChunkBody(chunk.SigLIST)
	if err != nil {
		return 0, errors.Wrap(err, "Circular")
	}
	defer rd.finishChunkBody(body)
	if _, err := chunk.ReadU32(body); err != nil { // element type, always Null
		return 0, err
	}
	count, err := chunk.ReadU32(body)
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (rd *Reader) readDBFileIndex() (*dbindex.DBFileIndex, error) {
	body, err := rd.readChunkBody(chunk.SigOBJT)
	if err != nil {
		return nil, errors.Wrap(err, "DBFileIndex header")
	}
	if _, err := chunk.ReadU32(body); err != nil { // type offset
		return nil, err
	}
	optimized, err := chunk.ReadBool(body)
	if err != nil {
		return nil, errors.Wrap(err, "read Optimized")
	}
	rd.finishChunkBody(body)

	types, err := rd.readComponentTypesHeader()
	if err != nil {
		return nil, err
	}
	if err := rd.readComponentTypeNames(types); err != nil {
		return nil, err
	}
	objects, err := rd.readObjects()
	if err != nil {
		return nil, err
	}
	components, err := rd.readComponents()
	if err != nil {
		return nil, err
	}
	edges, err := rd.readEdges()
	if err != nil {
		return nil, err
	}
	return &dbindex.DBFileIndex{
		Optimized:      optimized,
		ComponentTypes: types,
		Objects:        objects,
		Components:     components,
		Edges:          edges,
	}, nil
}

func (rd *Reader) readComponentTypesHeader() ([]dbindex.ComponentTypeEntry, error) {
	body, err := rd.readChunkBody(chunk.SigMAPC)
	if err != nil {
		return nil, errors.Wrap(err, "ComponentTypes")
	}
	defer rd.finishChunkBody(body)
	if _, err := chunk.ReadU32(body); err != nil { // key type (uint16_t)
		return nil, err
	}
	if _, err := chunk.ReadU32(body); err != nil { // value type offset
		return nil, err
	}
	count, err := chunk.ReadU32(body)
	if err != nil {
		return nil, err
	}
	out := make([]dbindex.ComponentTypeEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		key, err := chunk.ReadU16(body)
		if err != nil {
			return nil, errors.Wrapf(err, "component type %d key", i)
		}
		version, err := chunk.ReadU16(body)
		if err != nil {
			return nil, errors.Wrapf(err, "component type %d version", i)
		}
		isEmpty, err := chunk.ReadBool(body)
		if err != nil {
			return nil, errors.Wrapf(err, "component type %d isEmpty", i)
		}
		out = append(out, dbindex.ComponentTypeEntry{
			Type: key,
			Info: dbindex.ComponentTypeInfo{Version: version, IsEmpty: isEmpty},
		})
	}
	return out, nil
}

// readComponentTypeNames reads one USER chunk per declared component
// type, carrying the class name each type's key resolves to.
func (rd *Reader) readComponentTypeNames(types []dbindex.ComponentTypeEntry) error {
	for i := range types {
		body, err := rd.readChunkBody(chunk.SigUSER)
		if err != nil {
			return errors.Wrapf(err, "component type %d cast", i)
		}
		if _, err := chunk.ReadU32(body); err != nil { // cast-from TypeRef
			return err
		}
		if _, err := chunk.ReadU32(body); err != nil { // cast-to TypeRef
			return err
		}
		name, err := chunk.ReadString(body)
		if err != nil {
			return errors.Wrapf(err, "component type %d class name", i)
		}
		trailer, err := chunk.ReadU32(body)
		if err != nil {
			return err
		}
		if trailer != 0 {
			return errors.Wrapf(cdberr.ErrUserTrailerNonZero, "component type %d trailer=%d", i, trailer)
		}
		rd.finishChunkBody(body)
		types[i].Info.Class = name
	}
	return nil
}

func (rd *Reader) readObjects() ([]dbindex.ObjectInfo, error) {
	body, err := rd.readChunkBody(chunk.SigLIST)
	if err != nil {
		return nil, errors.Wrap(err, "Objects")
	}
	defer rd.finishChunkBody(body)
	if _, err := chunk.ReadU32(body); err != nil {
		return nil, err
	}
	count, err := chunk.ReadU32(body)
	if err != nil {
		return nil, err
	}
	out := make([]dbindex.ObjectInfo, 0, count)
	for i := uint32(0); i < count; i++ {
		id, err := readResourceID(body)
		if err != nil {
			return nil, errors.Wrapf(err, "object %d persistent id", i)
		}
		dbid, err := chunk.ReadU32(body)
		if err != nil {
			return nil, errors.Wrapf(err, "object %d dbid", i)
		}
		parent, err := chunk.ReadU32(body)
		if err != nil {
			return nil, errors.Wrapf(err, "object %d parent", i)
		}
		hasData, err := chunk.ReadBool(body)
		if err != nil {
			return nil, errors.Wrapf(err, "object %d hasData", i)
		}
		out = append(out, dbindex.ObjectInfo{PersistentID: id, DBID: dbid, Parent: parent, HasData: hasData})
	}
	return out, nil
}

func (rd *Reader) readComponents() ([]dbindex.ComponentInfo, error) {
	body, err := rd.readChunkBody(chunk.SigLIST)
	if err != nil {
		return nil, errors.Wrap(err, "Components")
	}
	defer rd.finishChunkBody(body)
	if _, err := chunk.ReadU32(body); err != nil {
		return nil, err
	}
	count, err := chunk.ReadU32(body)
	if err != nil {
		return nil, err
	}
	out := make([]dbindex.ComponentInfo, 0, count)
	for i := uint32(0); i < count; i++ {
		objID, err := chunk.ReadU32(body)
		if err != nil {
			return nil, errors.Wrapf(err, "component %d objectID", i)
		}
		index, err := chunk.ReadU16(body)
		if err != nil {
			return nil, errors.Wrapf(err, "component %d index", i)
		}
		typ, err := chunk.ReadU16(body)
		if err != nil {
			return nil, errors.Wrapf(err, "component %d type", i)
		}
		out = append(out, dbindex.ComponentInfo{ObjectID: objID, Index: index, Type: typ})
	}
	return out, nil
}

func (rd *Reader) readEdges() ([]dbindex.EdgeInfo, error) {
	body, err := rd.readChunkBody(chunk.SigLIST)
	if err != nil {
		return nil, errors.Wrap(err, "Edges")
	}
	defer rd.finishChunkBody(body)
	if _, err := chunk.ReadU32(body); err != nil {
		return nil, err
	}
	count, err := chunk.ReadU32(body)
	if err != nil {
		return nil, err
	}
	out := make([]dbindex.EdgeInfo, 0, count)
	for i := uint32(0); i < count; i++ {
		src, err := chunk.ReadU32(body)
		if err != nil {
			return nil, errors.Wrapf(err, "edge %d source", i)
		}
		tgt, err := chunk.ReadU32(body)
		if err != nil {
			return nil, errors.Wrapf(err, "edge %d target", i)
		}
		index, err := chunk.ReadU16(body)
		if err != nil {
			return nil, errors.Wrapf(err, "edge %d index", i)
		}
		typ, err := chunk.ReadU16(body)
		if err != nil {
			return nil, errors.Wrapf(err, "edge %d type", i)
		}
		out = append(out, dbindex.EdgeInfo{SourceID: src, TargetID: tgt, Index: index, Type: typ})
	}
	return out, nil
}
