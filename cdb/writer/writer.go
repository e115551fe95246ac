// Copyright 2026 The CDB Tool Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package writer re-serializes a Manager's objects back into the CDB
// chunk format: unmodified components are re-emitted byte-identically
// via stream pass-through, while modified or newly-created components
// are re-encoded from their valuetree.Value through the same
// field-declaration order the reader used, with List/Map/User
// continuations queued FIFO.
package writer

import (
	"bytes"
	"container/list"
	"encoding/binary"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/matdb/cdbtool/cdb/cdberr"
	"github.com/matdb/cdbtool/cdb/chunk"
	"github.com/matdb/cdbtool/cdb/schema"
	"github.com/matdb/cdbtool/cdb/valuetree"
)

// componentDB2IDClass names the vendor class whose encoding deviates
// from a plain class's field-by-field write, mirroring cdb/reader's
// componentDB2IDClass constant.
const componentDB2IDClass = "bscomponentdb2::id"

// Writer emits a header and a sequence of top-level chunks.
//
// The BETH chunk carries totalChunkCount, but that count is only
// known once every chunk that follows it has been emitted. Rather than
// require a seekable destination, Writer buffers everything it writes
// and only touches dest in Close, once chunkCount is final.
type Writer struct {
	dest  io.Writer
	buf   *bytes.Buffer
	w     io.Writer
	table *schema.Table

	chunkQueue *list.List // FIFO of pending List/Map continuation emitters
	userQueue  *list.List // FIFO of pending User-cast continuation emitters

	chunkCount uint32
}

// New constructs a Writer targeting dest, using table for class/field
// resolution and string-table emission.
func New(dest io.Writer, table *schema.Table) *Writer {
	buf := &bytes.Buffer{}
	return &Writer{dest: dest, buf: buf, w: buf, table: table, chunkQueue: list.New(), userQueue: list.New()}
}

// writeChunkHeader writes a chunk header and counts it, so every top-
// level and continuation chunk contributes to the BETH totalChunkCount
// Close eventually patches in, matching what the reader's budget
// decrements one-for-one.
func (wr *Writer) writeChunkHeader(sig chunk.Sig, size uint32) error {
	wr.chunkCount++
	return chunk.WriteHeader(wr.w, sig, size)
}

// WriteHeader buffers the BETH/STRT/TYPE/CLAS sequence exactly
// mirroring schema.ReadHeader's framing, with exact chunk sizes
// computed up front. BETH's totalChunkCount is a placeholder until
// Close.
func (wr *Writer) WriteHeader(version uint32) error {
	if err := wr.writeChunkHeader(chunk.SigBETH, 8); err != nil {
		return err
	}
	if err := chunk.WriteU32(wr.w, version); err != nil {
		return err
	}
	if err := chunk.WriteU32(wr.w, 0); err != nil { // patched by Close
		return err
	}

	strt := wr.table.StringTable
	if err := wr.writeChunkHeader(chunk.SigSTRT, uint32(len(strt))); err != nil {
		return err
	}
	if _, err := wr.w.Write(strt); err != nil {
		return errors.Wrap(err, "writer: write string table body")
	}

	if err := wr.writeChunkHeader(chunk.SigTYPE, 4); err != nil {
		return err
	}
	if err := chunk.WriteU32(wr.w, uint32(len(wr.table.Classes))); err != nil {
		return err
	}
	for i, c := range wr.table.Classes {
		if err := wr.writeClass(c); err != nil {
			return errors.Wrapf(err, "writer: write CLAS[%d]", i)
		}
	}
	return nil
}

// Close patches BETH's totalChunkCount with the number of chunks
// actually written (every WriteHeader/WriteObject/continuation chunk,
// including BETH itself) and flushes the buffered output to dest.
func (wr *Writer) Close() error {
	body := wr.buf.Bytes()
	if len(body) < 16 {
		return errors.New("writer: no header written")
	}
	binary.LittleEndian.PutUint32(body[12:16], wr.chunkCount)
	_, err := wr.dest.Write(body)
	return errors.Wrap(err, "writer: flush buffered output")
}

func (wr *Writer) writeClass(c schema.Class) error {
	size := uint32(4+4+2+2) + uint32(len(c.Fields))*(4+4+2+2)
	if err := wr.writeChunkHeader(chunk.SigCLAS, size); err != nil {
		return err
	}
	if err := chunk.WriteU32(wr.w, uint32(c.Name)); err != nil {
		return err
	}
	if err := chunk.WriteU32(wr.w, uint32(c.TypeID)); err != nil {
		return err
	}
	if err := chunk.WriteU16(wr.w, c.Flags); err != nil {
		return err
	}
	if err := chunk.WriteU16(wr.w, uint16(len(c.Fields))); err != nil {
		return err
	}
	for _, f := range c.Fields {
		if err := chunk.WriteU32(wr.w, uint32(f.Name)); err != nil {
			return err
		}
		if err := chunk.WriteU32(wr.w, uint32(f.TypeID)); err != nil {
			return err
		}
		if err := chunk.WriteU16(wr.w, f.Offset); err != nil {
			return err
		}
		if err := chunk.WriteU16(wr.w, f.Size); err != nil {
			return err
		}
	}
	return nil
}

// PassThrough copies raw bytes verbatim from an unmodified component's
// original byte span — the OBJT/DIFF chunk plus its continuations, as
// delimited by reader.Object's Offset/RawSize — used when a component
// did not change across export/recompile. The span's chunk headers
// are walked so every chunk
// it contains lands in totalChunkCount, same as re-emission would.
func (wr *Writer) PassThrough(raw []byte) error {
	n, err := countSpanChunks(raw)
	if err != nil {
		return err
	}
	wr.chunkCount += n
	_, err = wr.w.Write(raw)
	return errors.Wrap(err, "writer: pass-through component")
}

// PassThroughFrom seeks src to a component's saved stream offset and
// copies its size-byte span: pass-through for callers holding the
// original file rather than an extracted slice.
func (wr *Writer) PassThroughFrom(src io.ReadSeeker, offset int64, size uint32) error {
	if _, err := src.Seek(offset, io.SeekStart); err != nil {
		return errors.Wrap(err, "writer: seek pass-through source")
	}
	raw := make([]byte, size)
	if _, err := io.ReadFull(src, raw); err != nil {
		return errors.Wrap(err, "writer: read pass-through span")
	}
	return wr.PassThrough(raw)
}

// countSpanChunks walks the chunk headers within a raw component span.
func countSpanChunks(raw []byte) (uint32, error) {
	var n uint32
	for pos := 0; pos < len(raw); {
		if len(raw)-pos < chunk.HeaderSize {
			return 0, errors.Wrap(cdberr.ErrChunkSizeMismatch, "writer: truncated pass-through span")
		}
		size := binary.LittleEndian.Uint32(raw[pos+4 : pos+8])
		pos += chunk.HeaderSize + int(size)
		if pos > len(raw) {
			return 0, errors.Wrap(cdberr.ErrChunkSizeMismatch, "writer: pass-through span cut mid-chunk")
		}
		n++
	}
	return n, nil
}

// WriteObject re-emits a decoded valuetree.Value as a top-level OBJT
// (or DIFF, if diff is true) chunk, queuing any List/Map/User-cast
// field for FIFO continuation emission afterward.
func (wr *Writer) WriteObject(class *schema.Class, index uint32, diff bool, v valuetree.Value) error {
	body, err := wr.encodeTopLevelObject(class, index, diff, v)
	if err != nil {
		return err
	}
	sig := chunk.SigOBJT
	if diff {
		sig = chunk.SigDIFF
	}
	if err := wr.writeChunkHeader(sig, uint32(len(body))); err != nil {
		return err
	}
	if _, err := wr.w.Write(body); err != nil {
		return errors.Wrap(err, "writer: write object body")
	}
	return wr.drainQueues()
}

// encodeTopLevelObject mirrors decodeTopLevel's exact wire shape: a
// typeID, then full or diff-encoded fields, with no inline DB-ID.
// index is metadata for the caller's own bookkeeping only; it is
// never written to the wire here.
func (wr *Writer) encodeTopLevelObject(class *schema.Class, index uint32, diff bool, v valuetree.Value) ([]byte, error) {
	buf := newByteBuf()
	if err := chunk.WriteU32(buf, uint32(class.TypeID)); err != nil {
		return nil, err
	}
	if !diff {
		if err := wr.writeFullFields(buf, class, v); err != nil {
			return nil, err
		}
	} else {
		if err := wr.writeDiffFields(buf, class, v); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (wr *Writer) writeFullFields(w io.Writer, class *schema.Class, v valuetree.Value) error {
	for i, f := range class.Fields {
		if f.IsEmpty() {
			continue
		}
		fv, ok := v.Field(wr.table.StringAt(f.Name))
		if !ok {
			fv = valuetree.Null
		}
		if err := wr.writeFieldValue(w, f, fv); err != nil {
			return errors.Wrapf(err, "field %d (%s)", i, wr.table.StringAt(f.Name))
		}
	}
	return nil
}

func (wr *Writer) writeDiffFields(w io.Writer, class *schema.Class, v valuetree.Value) error {
	for _, fval := range v.Fields {
		if fval.FieldIndex < 0 || fval.FieldIndex >= len(class.Fields) {
			return errors.Wrapf(cdberr.ErrFieldIndexOutOfRange, "index=%d", fval.FieldIndex)
		}
		if err := chunk.WriteU16(w, uint16(fval.FieldIndex)); err != nil {
			return err
		}
		f := class.Fields[fval.FieldIndex]
		if err := wr.writeFieldValue(w, f, fval.Value); err != nil {
			return errors.Wrapf(err, "field %d", fval.FieldIndex)
		}
	}
	return chunk.WriteU16(w, 0xFFFF)
}

func (wr *Writer) writeFieldValue(w io.Writer, f schema.Field, v valuetree.Value) error {
	if f.TypeID.IsChunk() {
		wr.chunkQueue.PushBack(func() error { return wr.emitListOrMap(f.TypeID, v) })
		return nil
	}
	if !f.TypeID.IsBuiltin() {
		if c, ok := wr.table.ResolveClass(f.TypeID); ok && c.IsUser() {
			wr.userQueue.PushBack(func() error { return wr.emitUserCast(c, v) })
			return nil
		}
	}
	return wr.writeValueOfType(w, f.TypeID, v)
}

func (wr *Writer) writeValueOfType(w io.Writer, t schema.TypeRef, v valuetree.Value) error {
	if v.IsNull() {
		return wr.writeZeroValue(w, t)
	}
	switch t {
	case schema.Null:
		return nil
	case schema.String:
		return chunk.WriteString(w, v.Leaf)
	case schema.Ref:
		return wr.writeRef(w, v)
	case schema.I8:
		n, err := parseInt(v.Leaf)
		return writeErr(chunk.WriteI8(w, int8(n)), err)
	case schema.I16:
		n, err := parseInt(v.Leaf)
		return writeErr(chunk.WriteI16(w, int16(n)), err)
	case schema.I32:
		n, err := parseInt(v.Leaf)
		return writeErr(chunk.WriteI32(w, int32(n)), err)
	case schema.I64:
		n, err := parseInt(v.Leaf)
		return writeErr(chunk.WriteI64(w, n), err)
	case schema.U8:
		n, err := parseUint(v.Leaf)
		return writeErr(chunk.WriteU8(w, uint8(n)), err)
	case schema.U16:
		n, err := parseUint(v.Leaf)
		return writeErr(chunk.WriteU16(w, uint16(n)), err)
	case schema.U32:
		n, err := parseUint(v.Leaf)
		return writeErr(chunk.WriteU32(w, uint32(n)), err)
	case schema.U64:
		n, err := parseUint(v.Leaf)
		return writeErr(chunk.WriteU64(w, n), err)
	case schema.Bool:
		return chunk.WriteBool(w, v.Leaf == "true")
	case schema.F32:
		f, err := parseFloat(v.Leaf)
		return writeErr(chunk.WriteF32(w, float32(f)), err)
	case schema.F64:
		f, err := parseFloat(v.Leaf)
		return writeErr(chunk.WriteF64(w, f), err)
	}
	class, ok := wr.table.ResolveClass(t)
	if !ok {
		return errors.Wrapf(cdberr.ErrUnknownType, "typeID=%#x", uint32(t))
	}
	if strings.ToLower(wr.table.StringAt(class.Name)) == componentDB2IDClass {
		return wr.writeComponentDB2ID(w, v)
	}
	return wr.writeFullFields(w, class, v)
}

// writeZeroValue writes a zero-valued instance of the declared width
// for an absent field in a full OBJT payload, preserving the
// declared-field discipline: empty string is a bare u16 0, integers
// are zero bytes of their width, and a class zero-fills recursively.
func (wr *Writer) writeZeroValue(w io.Writer, t schema.TypeRef) error {
	switch t {
	case schema.Null:
		return nil
	case schema.String:
		return chunk.WriteU16(w, 0)
	case schema.Ref:
		// An unset reference encodes the builtin Null TypeRef, the
		// same form writeRef emits for an explicit null target.
		return chunk.WriteU32(w, uint32(schema.Null))
	case schema.I8, schema.U8, schema.Bool:
		return chunk.WriteU8(w, 0)
	case schema.I16, schema.U16:
		return chunk.WriteU16(w, 0)
	case schema.I32, schema.U32, schema.F32:
		return chunk.WriteU32(w, 0)
	case schema.I64, schema.U64, schema.F64:
		return chunk.WriteU64(w, 0)
	case schema.List, schema.Map:
		return errors.Errorf("writer: %s zero-filled inline, expected deferred chunk", t)
	}
	class, ok := wr.table.ResolveClass(t)
	if !ok {
		return errors.Wrapf(cdberr.ErrUnknownType, "typeID=%#x", uint32(t))
	}
	if strings.ToLower(wr.table.StringAt(class.Name)) == componentDB2IDClass {
		return chunk.WriteU32(w, 0)
	}
	return wr.writeFullFields(w, class, valuetree.Null)
}

// writeComponentDB2ID encodes the named class BSComponentDB2::ID: a
// plain u32 DB-ID, or 0 for an empty/unset leaf, mirroring the
// reader's decodeComponentDB2ID full-field form.
func (wr *Writer) writeComponentDB2ID(w io.Writer, v valuetree.Value) error {
	if v.Kind != valuetree.KindLeaf {
		return errors.New("writer: expected BSComponentDB2::ID leaf value")
	}
	if v.Leaf == "" {
		return chunk.WriteU32(w, 0)
	}
	n, err := parseUint(v.Leaf)
	if err != nil {
		return err
	}
	return chunk.WriteU32(w, uint32(n))
}

// writeRef encodes a Ref-typed field: an inner TypeRef, written inline,
// mirroring the reader's decodeRef. A null
// target writes the builtin Null TypeRef. Otherwise the target's class
// is resolved from its recorded Type and the class's own fields follow
// — inline if the class is not User-flagged, deferred through the
// user-cast queue otherwise, exactly as a User-flagged class's fields
// are deferred anywhere else a class value is written.
func (wr *Writer) writeRef(w io.Writer, v valuetree.Value) error {
	if v.Kind != valuetree.KindRef || v.RefTarget == nil {
		return errors.New("writer: expected ref value")
	}
	target := v.RefTarget
	if target.IsNull() {
		return chunk.WriteU32(w, uint32(schema.Null))
	}
	class, ok := wr.table.ResolveClass(target.Type)
	if !ok {
		return errors.Wrapf(cdberr.ErrUnresolvedRef, "typeID=%#x", uint32(target.Type))
	}
	if err := chunk.WriteU32(w, uint32(target.Type)); err != nil {
		return err
	}
	if class.IsUser() {
		t := *target
		wr.userQueue.PushBack(func() error { return wr.emitUserCast(class, t) })
		return nil
	}
	return wr.writeFullFields(w, class, *target)
}

func writeErr(err, parseErr error) error {
	if parseErr != nil {
		return parseErr
	}
	return err
}

func (wr *Writer) emitListOrMap(declaredType schema.TypeRef, v valuetree.Value) error {
	if v.ElementType == schema.Map {
		buf := newByteBuf()
		keyType, valType, err := inferMapTypes(v)
		if err != nil {
			return err
		}
		if err := chunk.WriteU32(buf, uint32(keyType)); err != nil {
			return err
		}
		if err := chunk.WriteU32(buf, uint32(valType)); err != nil {
			return err
		}
		if err := chunk.WriteU32(buf, uint32(len(v.Entries))); err != nil {
			return err
		}
		for _, e := range v.Entries {
			if err := wr.writeValueOfType(buf, keyType, e.Key); err != nil {
				return err
			}
			if err := wr.writeValueOfType(buf, valType, e.Value); err != nil {
				return err
			}
		}
		return wr.emitChunk(chunk.SigMAPC, buf.Bytes())
	}
	buf := newByteBuf()
	elemType := v.ElementType
	if len(v.Items) == 0 {
		// An empty list serializes with element type Null, which also
		// covers a declared-but-absent collection field.
		elemType = schema.Null
	}
	if err := chunk.WriteU32(buf, uint32(elemType)); err != nil {
		return err
	}
	if err := chunk.WriteU32(buf, uint32(len(v.Items))); err != nil {
		return err
	}
	for _, it := range v.Items {
		if err := wr.writeValueOfType(buf, elemType, it); err != nil {
			return err
		}
	}
	return wr.emitChunk(chunk.SigLIST, buf.Bytes())
}

// emitUserCast writes a USER chunk body: castTypeRef | castTypeRef |
// nestedBytes | u32(0). Unlike a top-level OBJT/DIFF, nestedBytes here
// is exactly the field serialization with no typeID of its own — the
// reader's USER/USRD path decodes fields directly via
// decodeValueOfType after reading the two TypeRefs, so prefixing
// another typeID here (as a naive reuse of encodeTopLevelObject would)
// would misalign every byte that follows.
// This module always re-emits user casts as full-field USER chunks:
// the decoded valuetree.Value carries no separate bit recording
// whether the original cast was USER or USRD, so recovering that
// distinction from the tree alone is not possible without threading
// extra state through decodeValueOfType — not done here.
func (wr *Writer) emitUserCast(class *schema.Class, v valuetree.Value) error {
	buf := newByteBuf()
	if err := chunk.WriteU32(buf, uint32(class.TypeID)); err != nil {
		return err
	}
	if err := chunk.WriteU32(buf, uint32(class.TypeID)); err != nil {
		return err
	}
	if err := wr.writeFullFields(buf, class, v); err != nil {
		return err
	}
	if err := chunk.WriteU32(buf, 0); err != nil {
		return err
	}
	return wr.emitChunk(chunk.SigUSER, buf.Bytes())
}

func (wr *Writer) emitChunk(sig chunk.Sig, body []byte) error {
	if err := wr.writeChunkHeader(sig, uint32(len(body))); err != nil {
		return err
	}
	_, err := wr.w.Write(body)
	return errors.Wrap(err, "writer: write chunk body")
}

// drainQueues emits queued List/Map continuations before User-cast
// continuations, in FIFO order within each queue, repeating until both
// are empty (a continuation's own nested fields may enqueue more).
func (wr *Writer) drainQueues() error {
	for wr.chunkQueue.Len() > 0 || wr.userQueue.Len() > 0 {
		for wr.chunkQueue.Len() > 0 {
			e := wr.chunkQueue.Front()
			wr.chunkQueue.Remove(e)
			if err := e.Value.(func() error)(); err != nil {
				return err
			}
		}
		for wr.userQueue.Len() > 0 {
			e := wr.userQueue.Front()
			wr.userQueue.Remove(e)
			if err := e.Value.(func() error)(); err != nil {
				return err
			}
		}
	}
	return nil
}
