// Copyright 2026 The CDB Tool Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dbindex models the database-level metadata every CDB file
// carries ahead of its component stream: the CompiledDB (build
// version, hash map, collision/circular lists) and the DBFileIndex
// (component type table, object/component/edge arrays). Neither value
// is schema-driven: every field here has a fixed wire width
// independent of the class table a particular database declares.
package dbindex

import "github.com/matdb/cdbtool/resourceid"

// HashEntry is one CompiledDB.HashMap pair: a resource identity and
// its externally-computed path hash.
type HashEntry struct {
	ID   resourceid.ID
	Hash uint64
}

// FilePair is one CompiledDB.Collisions entry: two resource
// identities that hashed to the same bucket upstream.
type FilePair struct {
	First, Second resourceid.ID
}

// CompiledDB is the first of the two database-level objects every CDB
// file begins with.
type CompiledDB struct {
	BuildVersion string
	HashMap      []HashEntry
	Collisions   []FilePair

	// Circular counts BSComponentDB2::DBFileIndex's Circular list
	// entries. Its element type reads as zero bytes on the wire, so
	// only a count survives.
	Circular int
}

// ComponentTypeInfo is one DBFileIndex.ComponentTypes entry: the
// class the component type instantiates, its schema version at
// compile time, and whether instances of it carry no fields.
type ComponentTypeInfo struct {
	Class   string
	Version uint16
	IsEmpty bool
}

// ComponentTypeEntry pairs a component type's u16 key with its info.
type ComponentTypeEntry struct {
	Type uint16
	Info ComponentTypeInfo
}

// ObjectInfo is one row of DBFileIndex.Objects: a database object's
// external identity, its DB-ID, its owning parent (0 == none), and
// whether it actually carries component data (an object can exist
// purely to be referenced).
type ObjectInfo struct {
	PersistentID resourceid.ID
	DBID         uint32
	Parent       uint32
	HasData      bool
}

// ComponentInfo is one row of DBFileIndex.Components: the owning
// object, the component's disambiguating index within that object,
// and its component type. Components are decoded from the stream in
// the same order as this array.
type ComponentInfo struct {
	ObjectID uint32
	Index    uint16
	Type     uint16
}

// EdgeInfo is one row of DBFileIndex.Edges: an auxiliary relation
// between two objects outside of the Parent link.
type EdgeInfo struct {
	SourceID uint32
	TargetID uint32
	Index    uint16
	Type     uint16
}

// DBFileIndex is the second of the two database-level objects: the
// per-object and per-component bookkeeping a Manager indexes.
type DBFileIndex struct {
	Optimized      bool
	ComponentTypes []ComponentTypeEntry
	Objects        []ObjectInfo
	Components     []ComponentInfo
	Edges          []EdgeInfo
}

// ClassName returns the component type's class name for typ, or ""
// if typ names no declared component type.
func (idx *DBFileIndex) ClassName(typ uint16) string {
	for _, t := range idx.ComponentTypes {
		if t.Type == typ {
			return t.Info.Class
		}
	}
	return ""
}
