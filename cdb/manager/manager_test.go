// Copyright 2026 The CDB Tool Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package manager_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matdb/cdbtool/cdb/cdberr"
	"github.com/matdb/cdbtool/cdb/dbindex"
	"github.com/matdb/cdbtool/cdb/manager"
	"github.com/matdb/cdbtool/cdb/reader"
	"github.com/matdb/cdbtool/cdb/schema"
	"github.com/matdb/cdbtool/cdb/valuetree"
	"github.com/matdb/cdbtool/resourceid"
)

// testTable builds a single component class matching the shape a real
// reference component (e.g. BSMaterial::MaterialID) carries: an "ID"
// field naming another object's DB-ID via BSComponentDB2::ID's plain
// decimal encoding, plus a scalar field inherited across a parent chain.
func testTable(t *testing.T) *schema.Table {
	t.Helper()
	strTable := []byte("bsmaterial::materialid\x00ID\x00Value\x00")
	classes := []schema.Class{
		{Name: 0, TypeID: 0, Fields: []schema.Field{
			{Name: 23, TypeID: schema.U32, Offset: 0, Size: 4},
			{Name: 26, TypeID: schema.String, Offset: 4, Size: 4},
		}},
	}
	return schema.NewTable(strTable, classes)
}

// valueComponent builds a decoded reader.Object/dbindex.ComponentInfo
// pair for a component that only sets the Value field (no reference).
func valueComponent(class *schema.Class, value string) (reader.Object, dbindex.ComponentInfo) {
	v := valuetree.Value{Kind: valuetree.KindObject, Type: class.TypeID}
	if value != "" {
		v.Fields = append(v.Fields, valuetree.FieldValue{FieldIndex: 1, Name: "Value", Value: valuetree.NewLeaf(value)})
	}
	return reader.Object{Class: class, Value: v}, dbindex.ComponentInfo{Type: 0}
}

func buildIndex(objs []dbindex.ObjectInfo, comps []dbindex.ComponentInfo) *dbindex.DBFileIndex {
	return &dbindex.DBFileIndex{
		ComponentTypes: []dbindex.ComponentTypeEntry{{Type: 0, Info: dbindex.ComponentTypeInfo{Class: "bsmaterial::materialid"}}},
		Objects:        objs,
		Components:     comps,
	}
}

func TestParentChainComposition(t *testing.T) {
	table := testTable(t)
	class, _ := table.ClassByName("bsmaterial::materialid")

	objs := []dbindex.ObjectInfo{
		{PersistentID: resourceid.ID{Dir: 1, File: 1, Ext: resourceid.ExtTam}, DBID: 1, Parent: 0, HasData: true},
		{PersistentID: resourceid.ID{Dir: 1, File: 2, Ext: resourceid.ExtTam}, DBID: 2, Parent: 1, HasData: true},
		{PersistentID: resourceid.ID{Dir: 1, File: 3, Ext: resourceid.ExtTam}, DBID: 3, Parent: 2, HasData: true},
	}

	ro1, ci1 := valueComponent(class, "base")
	ci1.ObjectID = 1
	ro2, ci2 := valueComponent(class, "") // overrides only ID; inherits Value from 1
	ro2.Value.Fields = append(ro2.Value.Fields, valuetree.FieldValue{FieldIndex: 0, Name: "ID", Value: valuetree.NewLeaf("0")})
	ci2.ObjectID = 2
	ro3, ci3 := valueComponent(class, "leaf") // overrides Value
	ci3.ObjectID = 3

	index := buildIndex(objs, []dbindex.ComponentInfo{ci1, ci2, ci3})
	m, err := manager.Build(table, &dbindex.CompiledDB{}, index, []reader.Object{ro1, ro2, ro3})
	require.NoError(t, err)

	data, err := m.GetFullJson(3, "")
	require.NoError(t, err)
	require.Contains(t, string(data), `"leaf"`)

	data2, err := m.GetFullJson(2, "")
	require.NoError(t, err)
	require.Contains(t, string(data2), `"base"`)
}

func TestReferenceClosure(t *testing.T) {
	table := testTable(t)
	class, _ := table.ClassByName("bsmaterial::materialid")

	objs := []dbindex.ObjectInfo{
		{PersistentID: resourceid.ID{Dir: 1, File: 1, Ext: resourceid.ExtTam}, DBID: 1},
		{PersistentID: resourceid.ID{Dir: 1, File: 2, Ext: resourceid.ExtTam}, DBID: 2},
		{PersistentID: resourceid.ID{Dir: 1, File: 3, Ext: resourceid.ExtTam}, DBID: 3},
	}

	// object 3 references object 2, which references object 1, via the
	// class's own ID field rather than a Parent link. BSComponentDB2::ID
	// decodes to a plain decimal leaf, not a TypeRef::Ref wrapper.
	v1 := valuetree.Value{Kind: valuetree.KindObject, Type: class.TypeID}
	v2 := valuetree.Value{Kind: valuetree.KindObject, Type: class.TypeID, Fields: []valuetree.FieldValue{
		{FieldIndex: 0, Name: "ID", Value: valuetree.NewLeaf("1")},
	}}
	v3 := valuetree.Value{Kind: valuetree.KindObject, Type: class.TypeID, Fields: []valuetree.FieldValue{
		{FieldIndex: 0, Name: "ID", Value: valuetree.NewLeaf("2")},
	}}

	index := buildIndex(objs, []dbindex.ComponentInfo{{ObjectID: 1}, {ObjectID: 2}, {ObjectID: 3}})
	rObjs := []reader.Object{{Class: class, Value: v1}, {Class: class, Value: v2}, {Class: class, Value: v3}}
	m, err := manager.Build(table, &dbindex.CompiledDB{}, index, rObjs)
	require.NoError(t, err)

	ids, err := m.GetReferencedIds([]uint32{3})
	require.NoError(t, err)
	require.ElementsMatch(t, []uint32{1, 2, 3}, ids)
}

func TestExportComponentsRewritesReferenceIDs(t *testing.T) {
	table := testTable(t)
	class, _ := table.ClassByName("bsmaterial::materialid")

	objs := []dbindex.ObjectInfo{
		{PersistentID: resourceid.ID{Dir: 1, File: 1, Ext: resourceid.ExtTam}, DBID: 1},
		{PersistentID: resourceid.ID{Dir: 1, File: 2, Ext: resourceid.ExtTam}, DBID: 2},
	}
	v2 := valuetree.Value{Kind: valuetree.KindObject, Type: class.TypeID, Fields: []valuetree.FieldValue{
		{FieldIndex: 0, Name: "ID", Value: valuetree.NewLeaf("1")},
	}}
	v1 := valuetree.Value{Kind: valuetree.KindObject, Type: class.TypeID}

	index := buildIndex(objs, []dbindex.ComponentInfo{{ObjectID: 1}, {ObjectID: 2}})
	m, err := manager.Build(table, &dbindex.CompiledDB{}, index, []reader.Object{{Class: class, Value: v1}, {Class: class, Value: v2}})
	require.NoError(t, err)

	q := manager.NewRefQueue(2)
	data, err := m.ExportComponents(2, q, "")
	require.NoError(t, err)

	// Data.ID leaves the manager as the target's formatted external
	// resourceid, and the target lands on the export queue.
	require.Contains(t, string(data), resourceid.Format(objs[0].PersistentID))
	require.NotContains(t, string(data), `"ID":"1"`)
	require.Equal(t, []uint32{2, 1}, q.IDs())
}

func TestParentPath(t *testing.T) {
	table := testTable(t)
	class, _ := table.ClassByName("bsmaterial::materialid")

	objs := []dbindex.ObjectInfo{
		{PersistentID: resourceid.ID{Dir: 1, File: 1, Ext: resourceid.ExtTam}, DBID: 1, Parent: 0},
		{PersistentID: resourceid.ID{Dir: 1, File: 2, Ext: resourceid.ExtTam}, DBID: 2, Parent: 1},
		{PersistentID: resourceid.ID{Dir: 1, File: 3, Ext: resourceid.ExtTam}, DBID: 3, Parent: 2},
	}
	ro, ci := valueComponent(class, "x")
	ci.ObjectID = 1
	index := buildIndex(objs, []dbindex.ComponentInfo{ci})
	m, err := manager.Build(table, &dbindex.CompiledDB{}, index, []reader.Object{ro})
	require.NoError(t, err)

	// Nearest ancestor with a known path wins: 3's parent 2 has none,
	// so the walk continues to 1.
	path, err := m.ParentPath(3, map[uint32]string{1: "materials/base.mat"})
	require.NoError(t, err)
	require.Equal(t, "materials/base.mat", path)

	path, err = m.ParentPath(3, map[uint32]string{1: "materials/base.mat", 2: "materials/mid.mat"})
	require.NoError(t, err)
	require.Equal(t, "materials/mid.mat", path)

	// A chain root has nothing to name.
	path, err = m.ParentPath(1, nil)
	require.NoError(t, err)
	require.Equal(t, "", path)

	// Ancestors exist but none has a known path.
	_, err = m.ParentPath(3, nil)
	require.ErrorIs(t, err, cdberr.ErrMissingParentPath)
}

func TestParentChainCycleDetected(t *testing.T) {
	table := testTable(t)

	objs := []dbindex.ObjectInfo{
		{PersistentID: resourceid.ID{Dir: 1, File: 1, Ext: resourceid.ExtTam}, DBID: 1, Parent: 2},
		{PersistentID: resourceid.ID{Dir: 1, File: 2, Ext: resourceid.ExtTam}, DBID: 2, Parent: 1},
	}
	index := buildIndex(objs, nil)
	m, err := manager.Build(table, &dbindex.CompiledDB{}, index, nil)
	require.NoError(t, err)

	_, err = m.GetFullJson(1, "")
	require.ErrorIs(t, err, cdberr.ErrCyclicParent)
}

func TestSelfCheckDetectsDanglingParent(t *testing.T) {
	table := testTable(t)
	class, _ := table.ClassByName("bsmaterial::materialid")

	objs := []dbindex.ObjectInfo{
		{PersistentID: resourceid.ID{Dir: 1, File: 1, Ext: resourceid.ExtTam}, DBID: 1, Parent: 99},
	}
	ro, ci := valueComponent(class, "orphan")
	ci.ObjectID = 1

	index := buildIndex(objs, []dbindex.ComponentInfo{ci})
	m, err := manager.Build(table, &dbindex.CompiledDB{}, index, []reader.Object{ro})
	require.NoError(t, err)
	require.Error(t, m.SelfCheck())
}
