// Copyright 2026 The CDB Tool Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package reader implements the CDB streaming decode state machine:
// top-level OBJT/DIFF/LIST/MAPC/USER/USRD chunks are read in stream
// order and assembled into valuetree.Value trees, with declared
// List/Map fields and User-cast fields resolved lazily through a pair
// of LIFO deferred-slot queues as their continuation chunks arrive
// later in the stream.
package reader

import (
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/matdb/cdbtool/cdb/cdberr"
	"github.com/matdb/cdbtool/cdb/chunk"
	"github.com/matdb/cdbtool/cdb/schema"
	"github.com/matdb/cdbtool/cdb/valuetree"
	"github.com/matdb/cdbtool/resourceid"
)

// componentDB2IDClass and resourceIDClass name the two vendor classes
// whose wire encoding deviates from a plain class's field-by-field
// decode.
const (
	componentDB2IDClass = "bscomponentdb2::id"
	resourceIDClass     = "bsresource::id"
)

// Object is one decoded component: its class, whether it was
// diff-encoded, and its value tree. A top-level OBJT/DIFF chunk never
// carries an inline DB-ID; that mapping, along with each component's
// owning object and disambiguating index, lives in the database's
// DBFileIndex (cdb/dbindex) and is recovered positionally: the i'th
// component decoded here corresponds to DBFileIndex.Components[i].
//
// Offset/RawSize delimit the component's complete byte span in the
// stream — the OBJT/DIFF chunk plus every continuation chunk it
// deferred, headers included — which is exactly what the writer's
// pass-through copies when the component was not modified.
type Object struct {
	Class   *schema.Class
	IsDiff  bool
	Value   valuetree.Value
	Offset  int64
	RawSize uint32
}

// slot is a deferred decode target: a pointer into a Value tree that a
// later continuation chunk (LIST/MAPC or USER/USRD) must populate.
type slot struct {
	fill func(v valuetree.Value)
}

// Reader decodes a stream of chunks following a schema.Header.
type Reader struct {
	r     io.Reader
	table *schema.Table

	chunkQueue []slot // LIST/MAPC targets, LIFO
	userQueue  []slot // USER/USRD targets, LIFO

	offset int64

	// budget counts down every chunk header read (top-level and
	// continuation alike) when non-negative, letting ReadOne stop on
	// the BETH-declared totalChunkCount instead of relying solely on
	// EOF. -1 means unbounded, for
	// callers decoding a stream without a header (e.g. the writer's
	// own round-trip tests).
	budget int64
}

// New constructs a Reader over r's chunk body, using table to resolve
// field and class types.
func New(r io.Reader, table *schema.Table) *Reader {
	return &Reader{r: r, table: table, budget: -1}
}

// SetChunkBudget bounds the number of chunks ReadOne and
// ReadDatabaseIndex will together consume before reporting clean EOF,
// mirroring a decoded schema.Header's TotalChunkCount.
// Exhausting the budget mid-object in strict mode is fatal
// (ErrChunkSizeMismatch); callers in lenient mode should not call this
// at all, leaving the reader to stop only at genuine EOF.
func (rd *Reader) SetChunkBudget(n uint32) {
	rd.budget = int64(n)
}

// RemainingBudget reports the number of chunks still allowed, or a
// negative value if unbounded.
func (rd *Reader) RemainingBudget() int64 { return rd.budget }

func (rd *Reader) pushChunk(fill func(valuetree.Value)) {
	rd.chunkQueue = append(rd.chunkQueue, slot{fill: fill})
}

func (rd *Reader) popChunk() (slot, error) {
	if len(rd.chunkQueue) == 0 {
		return slot{}, cdberr.ErrEmptyContinuationQueue
	}
	n := len(rd.chunkQueue) - 1
	s := rd.chunkQueue[n]
	rd.chunkQueue = rd.chunkQueue[:n]
	return s, nil
}

func (rd *Reader) pushUser(fill func(valuetree.Value)) {
	rd.userQueue = append(rd.userQueue, slot{fill: fill})
}

func (rd *Reader) popUser() (slot, error) {
	if len(rd.userQueue) == 0 {
		return slot{}, cdberr.ErrEmptyContinuationQueue
	}
	n := len(rd.userQueue) - 1
	s := rd.userQueue[n]
	rd.userQueue = rd.userQueue[:n]
	return s, nil
}

// ReadAll decodes every remaining top-level chunk until EOF (or the
// chunk budget set by SetChunkBudget is exhausted).
func (rd *Reader) ReadAll() ([]Object, error) {
	var objs []Object
	for {
		obj, ok, err := rd.ReadOne()
		if err != nil {
			return objs, errors.Wrapf(err, "reader: component %d at stream offset %d", len(objs), rd.offset)
		}
		if !ok {
			return objs, nil
		}
		objs = append(objs, obj)
	}
}

// ReadOne decodes the next component: one OBJT/DIFF chunk plus every
// LIST/MAPC/USER/USRD continuation it defers, draining both queues
// before returning, so each component's byte span is fully consumed
// before the next one's offset is recorded. ok is false at clean EOF
// or once the chunk budget reaches zero.
func (rd *Reader) ReadOne() (Object, bool, error) {
	if rd.budget == 0 {
		return Object{}, false, nil
	}
	startOffset := rd.offset
	h, err := chunk.ReadHeader(rd.r)
	if err != nil {
		if errors.Is(err, cdberr.ErrShortRead) {
			if rd.budget > 0 {
				return Object{}, false, errors.Wrapf(cdberr.ErrChunkSizeMismatch,
					"reader: stream ended %d chunks short of totalChunkCount", rd.budget)
			}
			return Object{}, false, nil
		}
		return Object{}, false, err
	}
	if rd.budget > 0 {
		rd.budget--
	}
	rd.offset += chunk.HeaderSize

	if !h.IsType() {
		// A continuation chunk with nothing left on either queue: the
		// previous component drained fully before returning, so nothing
		// can claim this chunk.
		if h.Sig == chunk.SigLIST || h.Sig == chunk.SigMAPC || h.IsUser() {
			return Object{}, false, errors.Wrapf(cdberr.ErrEmptyContinuationQueue, "reader: stray %q chunk", h.Sig)
		}
		return Object{}, false, errors.Wrapf(cdberr.ErrBadSignature, "reader: unexpected top-level signature %q", h.Sig)
	}

	diff := h.Sig == chunk.SigDIFF
	body := &countingReader{r: io.LimitReader(rd.r, int64(h.Size)), n: 0}
	class, val, err := rd.decodeTopLevel(body, diff)
	rd.offset += int64(body.n)
	if err != nil {
		return Object{}, false, err
	}
	for len(rd.chunkQueue) > 0 || len(rd.userQueue) > 0 {
		if err := rd.readContinuation(); err != nil {
			return Object{}, false, err
		}
	}
	return Object{
		Class:   class,
		IsDiff:  diff,
		Value:   val,
		Offset:  startOffset,
		RawSize: uint32(rd.offset - startOffset),
	}, true, nil
}

// readContinuation consumes one pending LIST/MAPC/USER/USRD chunk and
// fills the deferred slot it belongs to.
func (rd *Reader) readContinuation() error {
	if rd.budget == 0 {
		return errors.Wrap(cdberr.ErrChunkSizeMismatch, "reader: chunk budget exhausted mid-component")
	}
	h, err := chunk.ReadHeader(rd.r)
	if err != nil {
		return errors.Wrap(err, "reader: read continuation header")
	}
	if rd.budget > 0 {
		rd.budget--
	}
	rd.offset += chunk.HeaderSize

	body := &countingReader{r: io.LimitReader(rd.r, int64(h.Size)), n: 0}
	defer func() { rd.offset += int64(body.n) }()

	switch h.Sig {
	case chunk.SigLIST:
		v, err := rd.decodeList(body)
		if err != nil {
			return errors.Wrap(err, "reader: decode LIST continuation")
		}
		s, err := rd.popChunk()
		if err != nil {
			return errors.Wrap(err, "reader: LIST")
		}
		s.fill(v)
		return nil
	case chunk.SigMAPC:
		v, err := rd.decodeMap(body)
		if err != nil {
			return errors.Wrap(err, "reader: decode MAPC continuation")
		}
		s, err := rd.popChunk()
		if err != nil {
			return errors.Wrap(err, "reader: MAPC")
		}
		s.fill(v)
		return nil
	case chunk.SigUSER, chunk.SigUSRD:
		diff := h.Sig == chunk.SigUSRD
		targetID, err := chunk.ReadU32(body)
		if err != nil {
			return errors.Wrap(err, "reader: read user target type")
		}
		castedID, err := chunk.ReadU32(body)
		if err != nil {
			return errors.Wrap(err, "reader: read user casted type")
		}
		_ = targetID // the uncast declared type; the value decodes as casted regardless.
		v, err := rd.decodeValueOfType(body, schema.TypeRef(castedID), diff, true)
		if err != nil {
			return errors.Wrap(err, "reader: decode USER/USRD payload")
		}
		trailer, err := chunk.ReadU32(body)
		if err != nil {
			return errors.Wrap(err, "reader: read user trailer")
		}
		if trailer != 0 {
			return errors.Wrapf(cdberr.ErrUserTrailerNonZero, "trailer=%d", trailer)
		}
		s, err := rd.popUser()
		if err != nil {
			return errors.Wrap(err, "reader: USER/USRD")
		}
		s.fill(v)
		return nil
	default:
		return errors.Wrapf(cdberr.ErrBadSignature, "reader: expected continuation, got %q", h.Sig)
	}
}

// decodeTopLevel reads a top-level OBJT/DIFF body: a typeRef, then
// full or diff-encoded fields. Neither framing carries an inline
// index.
func (rd *Reader) decodeTopLevel(r io.Reader, diff bool) (*schema.Class, valuetree.Value, error) {
	typeID, err := chunk.ReadU32(r)
	if err != nil {
		return nil, valuetree.Value{}, errors.Wrap(err, "read object typeID")
	}
	class, ok := rd.table.ResolveClass(schema.TypeRef(typeID))
	if !ok {
		return nil, valuetree.Value{}, errors.Wrapf(cdberr.ErrUnknownType, "typeID=%#x", typeID)
	}
	val := valuetree.Value{Kind: valuetree.KindObject, Type: schema.TypeRef(typeID)}
	if diff {
		if err := rd.decodeDiffFields(r, class, &val); err != nil {
			return nil, valuetree.Value{}, err
		}
	} else {
		if err := rd.decodeFullFields(r, class, &val); err != nil {
			return nil, valuetree.Value{}, err
		}
	}
	return class, val, nil
}

func (rd *Reader) decodeFullFields(r io.Reader, class *schema.Class, val *valuetree.Value) error {
	for i, f := range class.Fields {
		if f.IsEmpty() {
			continue
		}
		fv, err := rd.decodeField(r, f, val)
		if err != nil {
			return errors.Wrapf(err, "field %d (%s)", i, rd.table.StringAt(f.Name))
		}
		val.Fields = append(val.Fields, valuetree.FieldValue{
			FieldIndex: i,
			Name:       rd.table.StringAt(f.Name),
			Value:      fv,
		})
	}
	return nil
}

// decodeDiffFields reads a u16 field-index loop terminated by 0xFFFF,
// decoding only the named fields.
func (rd *Reader) decodeDiffFields(r io.Reader, class *schema.Class, val *valuetree.Value) error {
	for {
		idx, err := chunk.ReadU16(r)
		if err != nil {
			return errors.Wrap(err, "read diff field index")
		}
		if idx == 0xFFFF {
			return nil
		}
		if int(idx) >= len(class.Fields) {
			return errors.Wrapf(cdberr.ErrFieldIndexOutOfRange, "index=%d classFields=%d", idx, len(class.Fields))
		}
		f := class.Fields[idx]
		fv, err := rd.decodeField(r, f, val)
		if err != nil {
			return errors.Wrapf(err, "field %d (%s)", idx, rd.table.StringAt(f.Name))
		}
		val.Fields = append(val.Fields, valuetree.FieldValue{
			FieldIndex: int(idx),
			Name:       rd.table.StringAt(f.Name),
			Value:      fv,
		})
	}
}

// decodeField decodes one field's value inline, or — for List/Map and
// User-cast field types — registers a deferred slot and returns a
// placeholder to be overwritten once the continuation chunk arrives.
func (rd *Reader) decodeField(r io.Reader, f schema.Field, owner *valuetree.Value) (valuetree.Value, error) {
	if f.TypeID.IsChunk() {
		placeholderIdx := len(owner.Fields)
		rd.pushChunk(func(v valuetree.Value) {
			owner.Fields[placeholderIdx].Value = v
		})
		return valuetree.Value{Kind: valuetree.KindCollection, ElementType: f.TypeID}, nil
	}
	if !f.TypeID.IsBuiltin() {
		if c, ok := rd.table.ResolveClass(f.TypeID); ok && c.IsUser() {
			placeholderIdx := len(owner.Fields)
			rd.pushUser(func(v valuetree.Value) {
				owner.Fields[placeholderIdx].Value = v
			})
			return valuetree.Value{Kind: valuetree.KindObject, Type: f.TypeID}, nil
		}
	}
	return rd.decodeValueOfType(r, f.TypeID, false, false)
}

// decodeValueOfType decodes one inline value of a known type: a
// builtin scalar, a Ref, or a nested struct class decoded recursively
// in declared field order. diff selects full- vs diff-field framing
// for a nested class value (relevant to USER/USRD casts, which
// inherit their enclosing chunk's diff-ness). cast is not consulted:
// this function never defers a User-flagged class itself; that
// deferral happens in decodeField and decodeRef.
func (rd *Reader) decodeValueOfType(r io.Reader, t schema.TypeRef, diff bool, cast bool) (valuetree.Value, error) {
	switch t {
	case schema.Null:
		return valuetree.Null, nil
	case schema.String:
		s, err := chunk.ReadString(r)
		if err != nil {
			return valuetree.Value{}, errors.Wrap(err, "decode string")
		}
		return valuetree.NewLeaf(s), nil
	case schema.Ref:
		return rd.decodeRef(r)
	case schema.I8:
		v, err := chunk.ReadI8(r)
		return valuetree.NewLeaf(formatInt(int64(v))), wrapScalar(err)
	case schema.I16:
		v, err := chunk.ReadI16(r)
		return valuetree.NewLeaf(formatInt(int64(v))), wrapScalar(err)
	case schema.I32:
		v, err := chunk.ReadI32(r)
		return valuetree.NewLeaf(formatInt(int64(v))), wrapScalar(err)
	case schema.I64:
		v, err := chunk.ReadI64(r)
		return valuetree.NewLeaf(formatInt(v)), wrapScalar(err)
	case schema.U8:
		v, err := chunk.ReadU8(r)
		return valuetree.NewLeaf(formatUint(uint64(v))), wrapScalar(err)
	case schema.U16:
		v, err := chunk.ReadU16(r)
		return valuetree.NewLeaf(formatUint(uint64(v))), wrapScalar(err)
	case schema.U32:
		v, err := chunk.ReadU32(r)
		return valuetree.NewLeaf(formatUint(uint64(v))), wrapScalar(err)
	case schema.U64:
		v, err := chunk.ReadU64(r)
		return valuetree.NewLeaf(formatUint(v)), wrapScalar(err)
	case schema.Bool:
		v, err := chunk.ReadBool(r)
		if v {
			return valuetree.NewLeaf("true"), wrapScalar(err)
		}
		return valuetree.NewLeaf("false"), wrapScalar(err)
	case schema.F32:
		v, err := chunk.ReadF32(r)
		return valuetree.NewLeaf(formatFloat(float64(v), 32)), wrapScalar(err)
	case schema.F64:
		v, err := chunk.ReadF64(r)
		return valuetree.NewLeaf(formatFloat(v, 64)), wrapScalar(err)
	case schema.List, schema.Map:
		return valuetree.Value{}, errors.Errorf("reader: %s field decoded inline, expected deferred slot", t)
	}

	class, ok := rd.table.ResolveClass(t)
	if !ok {
		return valuetree.Value{}, errors.Wrapf(cdberr.ErrUnknownType, "typeID=%#x", uint32(t))
	}
	className := strings.ToLower(rd.table.StringAt(class.Name))

	if className == componentDB2IDClass {
		return rd.decodeComponentDB2ID(r, diff)
	}

	val := valuetree.Value{Kind: valuetree.KindObject, Type: t}
	var err error
	if diff {
		err = rd.decodeDiffFields(r, class, &val)
	} else {
		err = rd.decodeFullFields(r, class, &val)
	}
	if err != nil {
		return valuetree.Value{}, err
	}
	_ = cast
	return val, nil
}

// decodeRef decodes a Ref-typed field: an inner TypeRef, read inline.
// A builtin-Null inner ref means the reference is unset; otherwise the
// inner ref must resolve to a class, and the field's value becomes
// that class's instance, wrapped so re-emission can tell a true
// reference apart from a plain nested struct. A User-flagged inner class defers through the
// same userQueue a USER/USRD continuation would, using the inner ref
// itself as the cast type — there is no separate cast-from/cast-to
// pair the way a top-level USER chunk carries one, since the inner
// TypeRef already names the exact class to decode.
func (rd *Reader) decodeRef(r io.Reader) (valuetree.Value, error) {
	innerID, err := chunk.ReadU32(r)
	if err != nil {
		return valuetree.Value{}, errors.Wrap(err, "decode ref inner type")
	}
	inner := schema.TypeRef(innerID)
	if inner == schema.Null {
		return valuetree.NewRef(valuetree.Null), nil
	}
	class, ok := rd.table.ResolveClass(inner)
	if !ok {
		return valuetree.Value{}, errors.Wrapf(cdberr.ErrUnresolvedRef, "typeID=%#x", innerID)
	}
	if class.IsUser() {
		target := &valuetree.Value{}
		rd.pushUser(func(v valuetree.Value) { *target = v })
		return valuetree.Value{Kind: valuetree.KindRef, RefTarget: target}, nil
	}
	v, err := rd.decodeValueOfType(r, inner, false, false)
	if err != nil {
		return valuetree.Value{}, errors.Wrap(err, "decode ref target")
	}
	return valuetree.NewRef(v), nil
}

// decodeComponentDB2ID decodes the named class BSComponentDB2::ID, a
// lightweight DB-ID wrapper whose diff-mode framing pads the 4-byte
// id to an 8-byte field slot. This is the wire form a reference component's
// own "ID" field uses to name its target DB-ID — a plain decimal-
// string leaf, distinct from the TypeRef::Ref mechanism decodeRef
// implements.
func (rd *Reader) decodeComponentDB2ID(r io.Reader, diff bool) (valuetree.Value, error) {
	var id uint32
	if !diff {
		v, err := chunk.ReadU32(r)
		if err != nil {
			return valuetree.Value{}, errors.Wrap(err, "decode BSComponentDB2::ID")
		}
		id = v
	} else {
		if _, err := chunk.ReadU16(r); err != nil {
			return valuetree.Value{}, errors.Wrap(err, "decode BSComponentDB2::ID pad")
		}
		v, err := chunk.ReadU32(r)
		if err != nil {
			return valuetree.Value{}, errors.Wrap(err, "decode BSComponentDB2::ID")
		}
		id = v
		if _, err := chunk.ReadU16(r); err != nil {
			return valuetree.Value{}, errors.Wrap(err, "decode BSComponentDB2::ID pad")
		}
	}
	if id == 0 {
		return valuetree.NewLeaf(""), nil
	}
	return valuetree.NewLeaf(formatUint(uint64(id))), nil
}

func wrapScalar(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, "decode scalar")
}

// decodeList reads a homogeneous element-type header followed by a
// count and that many inline values.
func (rd *Reader) decodeList(r io.Reader) (valuetree.Value, error) {
	elemType, err := chunk.ReadU32(r)
	if err != nil {
		return valuetree.Value{}, errors.Wrap(err, "read list element type")
	}
	count, err := chunk.ReadU32(r)
	if err != nil {
		return valuetree.Value{}, errors.Wrap(err, "read list count")
	}
	v := valuetree.Value{Kind: valuetree.KindCollection, ElementType: schema.TypeRef(elemType)}
	for i := uint32(0); i < count; i++ {
		item, err := rd.decodeValueOfType(r, schema.TypeRef(elemType), false, true)
		if err != nil {
			return valuetree.Value{}, errors.Wrapf(err, "list item %d", i)
		}
		v.Items = append(v.Items, item)
	}
	return v, nil
}

// decodeMap reads a key type, value type, a count, then that many
// inline key/value pairs. Keys must be a builtin scalar, a Ref, or the
// named class BSResource::ID, which decodes as a (file, ext, dir)
// triple rendered as a formatted resource-ID string.
func (rd *Reader) decodeMap(r io.Reader) (valuetree.Value, error) {
	keyType, err := chunk.ReadU32(r)
	if err != nil {
		return valuetree.Value{}, errors.Wrap(err, "read map key type")
	}
	keyIsResourceID := false
	if !schema.TypeRef(keyType).IsBuiltin() {
		if c, ok := rd.table.ResolveClass(schema.TypeRef(keyType)); ok {
			keyIsResourceID = strings.ToLower(rd.table.StringAt(c.Name)) == resourceIDClass
		}
	}
	if !schema.TypeRef(keyType).IsBuiltin() && schema.TypeRef(keyType) != schema.Ref && !keyIsResourceID {
		return valuetree.Value{}, errors.Wrapf(cdberr.ErrBadMapKey, "keyType=%#x", keyType)
	}
	valType, err := chunk.ReadU32(r)
	if err != nil {
		return valuetree.Value{}, errors.Wrap(err, "read map value type")
	}
	count, err := chunk.ReadU32(r)
	if err != nil {
		return valuetree.Value{}, errors.Wrap(err, "read map count")
	}
	v := valuetree.Value{Kind: valuetree.KindCollection, ElementType: schema.Map}
	for i := uint32(0); i < count; i++ {
		var k valuetree.Value
		if keyIsResourceID {
			k, err = rd.decodeResourceIDKey(r)
		} else {
			k, err = rd.decodeValueOfType(r, schema.TypeRef(keyType), false, true)
		}
		if err != nil {
			return valuetree.Value{}, errors.Wrapf(err, "map key %d", i)
		}
		val, err := rd.decodeValueOfType(r, schema.TypeRef(valType), false, true)
		if err != nil {
			return valuetree.Value{}, errors.Wrapf(err, "map value %d", i)
		}
		v.Entries = append(v.Entries, valuetree.MapEntry{Key: k, Value: val})
	}
	return v, nil
}

// decodeResourceIDKey reads a BSResource::ID wire triple via the
// shared readResourceID helper (file, ext, dir order) and renders it
// as a formatted external resource-ID string for use as a map key.
func (rd *Reader) decodeResourceIDKey(r io.Reader) (valuetree.Value, error) {
	id, err := readResourceID(r)
	if err != nil {
		return valuetree.Value{}, errors.Wrap(err, "decode resource id key")
	}
	return valuetree.NewLeaf(resourceid.Format(id)), nil
}

// readResourceID reads a BSResource::ID wire triple. The wire order
// is file, ext, dir — not the struct's declared dir/file/ext order.
func readResourceID(r io.Reader) (resourceid.ID, error) {
	file, err := chunk.ReadU32(r)
	if err != nil {
		return resourceid.ID{}, errors.Wrap(err, "read resource id file")
	}
	ext, err := chunk.ReadU32(r)
	if err != nil {
		return resourceid.ID{}, errors.Wrap(err, "read resource id ext")
	}
	dir, err := chunk.ReadU32(r)
	if err != nil {
		return resourceid.ID{}, errors.Wrap(err, "read resource id dir")
	}
	return resourceid.ID{Dir: dir, File: file, Ext: ext}, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
