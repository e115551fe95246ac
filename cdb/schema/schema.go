// Copyright 2026 The CDB Tool Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package schema implements the CDB's self-describing type system:
// the string table, the class table, and the reserved TypeRef space
// for built-in scalar types.
package schema

import (
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/matdb/cdbtool/cdb/cdberr"
	"github.com/matdb/cdbtool/cdb/chunk"
)

// StringRef is a u32 offset into the database's string table.
type StringRef uint32

// TypeRef is a u32 reference to either a built-in scalar type (upper
// three bytes all 0xFF) or a class, in which case its numeric value
// equals the StringRef offset of that class's name.
type TypeRef uint32

const builtinTag TypeRef = 0xFFFFFF00

// Built-in type IDs, packed into the reserved 0xFFFFFF__ space.
const (
	Null TypeRef = builtinTag | iota
	String
	List
	Map
	Ref
	I8
	I16
	I32
	I64
	U8
	U16
	U32
	U64
	Bool
	F32
	F64
)

// Npos marks "no type" / an unresolved reference.
const Npos TypeRef = 0xFFFFFFFF

// IsBuiltin reports whether ref names a built-in scalar/container type
// rather than a class.
func (ref TypeRef) IsBuiltin() bool {
	return ref&0xFFFFFF00 == builtinTag || ref == Npos
}

// IsChunk reports whether ref is a type that is emitted as a separate
// continuation chunk when it appears as a declared field type.
func (ref TypeRef) IsChunk() bool {
	return ref == List || ref == Map
}

func (ref TypeRef) String() string {
	switch ref {
	case Null:
		return "null"
	case String:
		return "string"
	case List:
		return "list"
	case Map:
		return "map"
	case Ref:
		return "ref"
	case I8:
		return "int8_t"
	case I16:
		return "int16_t"
	case I32:
		return "int32_t"
	case I64:
		return "int64_t"
	case U8:
		return "uint8_t"
	case U16:
		return "uint16_t"
	case U32:
		return "uint32_t"
	case U64:
		return "uint64_t"
	case Bool:
		return "bool"
	case F32:
		return "float"
	case F64:
		return "double"
	case Npos:
		return "<npos>"
	default:
		return "<class>"
	}
}

// Class flag bits. The wire reserves the low two bits; User and
// Struct are the only flags a reader acts on.
const (
	FlagUser   uint16 = 1 << 2
	FlagStruct uint16 = 1 << 3
)

// Field describes one member of a Class.
type Field struct {
	Name   StringRef
	TypeID TypeRef
	Offset uint16
	Size   uint16
}

// EmptyFieldOffset marks a field slot as absent.
const EmptyFieldOffset uint16 = 0xFFFF

// IsEmpty reports whether the field slot is unused.
func (f Field) IsEmpty() bool { return f.Offset == EmptyFieldOffset }

// Class is one entry of the database's class table.
type Class struct {
	Name   StringRef
	TypeID TypeRef
	Flags  uint16
	Fields []Field
}

// IsUser reports whether instances of this class are encoded
// indirectly through a USER/USRD cast chunk.
func (c Class) IsUser() bool { return c.Flags&FlagUser != 0 }

// IsStruct reports whether this class is a plain value struct.
func (c Class) IsStruct() bool { return c.Flags&FlagStruct != 0 }

// Table holds the immutable string table and class list built from a
// database header, plus the lookup indices used throughout decode,
// compose, and encode.
type Table struct {
	StringTable []byte
	Classes     []Class

	byNameOffset map[uint32]int // StringRef(name).Offset -> index into Classes
	byNameFold   map[string]int // strings.ToLower(class name) -> index into Classes
}

// NewTable builds lookup indices over stringTable/classes. Used both
// after decoding a header and when constructing a schema to write.
func NewTable(stringTable []byte, classes []Class) *Table {
	t := &Table{
		StringTable:  stringTable,
		Classes:      classes,
		byNameOffset: make(map[uint32]int, len(classes)),
		byNameFold:   make(map[string]int, len(classes)),
	}
	for i, c := range classes {
		t.byNameOffset[uint32(c.Name)] = i
		t.byNameFold[strings.ToLower(t.StringAt(c.Name))] = i
	}
	return t
}

// StringAt reads the NUL-terminated string at offset ref within the
// string table.
func (t *Table) StringAt(ref StringRef) string {
	off := int(ref)
	if off < 0 || off >= len(t.StringTable) {
		return ""
	}
	end := off
	for end < len(t.StringTable) && t.StringTable[end] != 0 {
		end++
	}
	return string(t.StringTable[off:end])
}

// ResolveClass resolves a non-builtin TypeRef to its Class: the ref's
// numeric value names the class whose name sits at that string-table
// offset.
func (t *Table) ResolveClass(ref TypeRef) (*Class, bool) {
	if ref.IsBuiltin() {
		return nil, false
	}
	idx, ok := t.byNameOffset[uint32(ref)]
	if !ok {
		return nil, false
	}
	return &t.Classes[idx], true
}

// ClassByName looks up a class by case-insensitive name. Component
// type tables in the wild mix cases for the same class.
func (t *Table) ClassByName(name string) (*Class, bool) {
	idx, ok := t.byNameFold[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return &t.Classes[idx], true
}

// TypeRefForClassName resolves a class name to the TypeRef that
// addresses it (its name's StringRef reinterpreted as a TypeRef),
// returning Npos, false if no such class or built-in type exists. Used by the
// writer to resolve ElementType/Type strings back into TypeRefs.
func (t *Table) TypeRefForClassName(name string) (TypeRef, bool) {
	if ref, ok := builtinByName[strings.ToLower(name)]; ok {
		return ref, true
	}
	if c, ok := t.ClassByName(name); ok {
		return TypeRef(c.Name), true
	}
	return Npos, false
}

var builtinByName = map[string]TypeRef{
	"null":      Null,
	"string":    String,
	"list":      List,
	"map":       Map,
	"ref":       Ref,
	"int8_t":    I8,
	"int16_t":   I16,
	"int32_t":   I32,
	"int64_t":   I64,
	"uint8_t":   U8,
	"uint16_t":  U16,
	"uint32_t":  U32,
	"uint64_t":  U64,
	"bool":      Bool,
	"float":     F32,
	"double":    F64,
}

// Header is the decoded file header: version, the advertised total
// chunk count, the raw string table, and the class list. These are the
// exact inputs the Writer borrows from the Reader.
type Header struct {
	Version         uint32
	TotalChunkCount uint32
	Table           *Table
}

// ReadHeader decodes the fixed header sequence BETH, STRT, TYPE, and
// one CLAS per declared class:
//
//	BETH{version u32, totalChunkCount u32}
//	STRT{raw string table bytes}
//	TYPE{classCount u32}
//	CLAS{name StringRef, typeID TypeRef, flags u16, fieldCount u16,
//	     fieldCount * Field{name, type, offset, size}} * classCount
func ReadHeader(r io.Reader) (Header, error) {
	beth, err := chunk.ReadHeader(r)
	if err != nil {
		return Header{}, errors.Wrap(err, "schema: read BETH")
	}
	if beth.Sig != chunk.SigBETH {
		return Header{}, errors.Wrapf(cdberr.ErrBadSignature, "schema: expected BETH, got %q", beth.Sig)
	}
	if beth.Size != 8 {
		return Header{}, errors.Wrapf(cdberr.ErrChunkSizeMismatch, "schema: BETH size %d, want 8", beth.Size)
	}
	version, err := chunk.ReadU32(r)
	if err != nil {
		return Header{}, errors.Wrap(err, "schema: read version")
	}
	totalChunkCount, err := chunk.ReadU32(r)
	if err != nil {
		return Header{}, errors.Wrap(err, "schema: read total chunk count")
	}

	strt, err := chunk.ReadHeader(r)
	if err != nil {
		return Header{}, errors.Wrap(err, "schema: read STRT")
	}
	if strt.Sig != chunk.SigSTRT {
		return Header{}, errors.Wrapf(cdberr.ErrBadSignature, "schema: expected STRT, got %q", strt.Sig)
	}
	stringTable := make([]byte, strt.Size)
	if _, err := io.ReadFull(r, stringTable); err != nil {
		return Header{}, errors.Wrap(err, "schema: read string table body")
	}

	typ, err := chunk.ReadHeader(r)
	if err != nil {
		return Header{}, errors.Wrap(err, "schema: read TYPE")
	}
	if typ.Sig != chunk.SigTYPE {
		return Header{}, errors.Wrapf(cdberr.ErrBadSignature, "schema: expected TYPE, got %q", typ.Sig)
	}
	classCount, err := chunk.ReadU32(r)
	if err != nil {
		return Header{}, errors.Wrap(err, "schema: read class count")
	}

	classes := make([]Class, 0, classCount)
	for i := uint32(0); i < classCount; i++ {
		clas, err := chunk.ReadHeader(r)
		if err != nil {
			return Header{}, errors.Wrapf(err, "schema: read CLAS[%d]", i)
		}
		if clas.Sig != chunk.SigCLAS {
			return Header{}, errors.Wrapf(cdberr.ErrBadSignature, "schema: expected CLAS, got %q at class %d", clas.Sig, i)
		}
		c, err := readClass(r)
		if err != nil {
			return Header{}, errors.Wrapf(err, "schema: decode CLAS[%d]", i)
		}
		classes = append(classes, c)
	}

	return Header{
		Version:         version,
		TotalChunkCount: totalChunkCount,
		Table:           NewTable(stringTable, classes),
	}, nil
}

func readClass(r io.Reader) (Class, error) {
	nameOff, err := chunk.ReadU32(r)
	if err != nil {
		return Class{}, errors.Wrap(err, "read class name")
	}
	typeID, err := chunk.ReadU32(r)
	if err != nil {
		return Class{}, errors.Wrap(err, "read class typeID")
	}
	flags, err := chunk.ReadU16(r)
	if err != nil {
		return Class{}, errors.Wrap(err, "read class flags")
	}
	fieldCount, err := chunk.ReadU16(r)
	if err != nil {
		return Class{}, errors.Wrap(err, "read field count")
	}
	fields := make([]Field, 0, fieldCount)
	for i := uint16(0); i < fieldCount; i++ {
		f, err := readField(r)
		if err != nil {
			return Class{}, errors.Wrapf(err, "read field[%d]", i)
		}
		fields = append(fields, f)
	}
	return Class{
		Name:   StringRef(nameOff),
		TypeID: TypeRef(typeID),
		Flags:  flags,
		Fields: fields,
	}, nil
}

func readField(r io.Reader) (Field, error) {
	nameOff, err := chunk.ReadU32(r)
	if err != nil {
		return Field{}, errors.Wrap(err, "read field name")
	}
	typeID, err := chunk.ReadU32(r)
	if err != nil {
		return Field{}, errors.Wrap(err, "read field typeID")
	}
	offset, err := chunk.ReadU16(r)
	if err != nil {
		return Field{}, errors.Wrap(err, "read field offset")
	}
	size, err := chunk.ReadU16(r)
	if err != nil {
		return Field{}, errors.Wrap(err, "read field size")
	}
	return Field{
		Name:   StringRef(nameOff),
		TypeID: TypeRef(typeID),
		Offset: offset,
		Size:   size,
	}, nil
}

// ClassByteLen computes the on-disk byte size of one CLAS body,
// excluding its 8-byte chunk header. The writer uses it to precompute
// exact chunk sizes.
func (h *Header) ClassByteLen(c Class) uint32 {
	n := uint32(4 + 4 + 2 + 2) // name, typeID, flags, fieldCount
	n += uint32(len(c.Fields)) * (4 + 4 + 2 + 2)
	return n
}
