// Copyright 2026 The CDB Tool Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package material_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matdb/cdbtool/cdb/cdberr"
	"github.com/matdb/cdbtool/cdb/dbindex"
	"github.com/matdb/cdbtool/cdb/manager"
	"github.com/matdb/cdbtool/cdb/reader"
	"github.com/matdb/cdbtool/cdb/schema"
	"github.com/matdb/cdbtool/cdb/valuetree"
	"github.com/matdb/cdbtool/material"
	"github.com/matdb/cdbtool/resourceid"
)

var (
	pidBase = resourceid.ID{Dir: 1, File: 1, Ext: resourceid.ExtTam}
	pidRoot = resourceid.ID{Dir: 1, File: 2, Ext: resourceid.ExtTam}
	pidRef  = resourceid.ID{Dir: 1, File: 3, Ext: resourceid.ExtTam}
)

// buildManager assembles a three-object database: a base object (DBID
// 1, chain root), the material under test (DBID 2, parented to base),
// and a target object (DBID 3) the material references through its
// component's ID field.
func buildManager(t *testing.T) (*schema.Table, *manager.Manager) {
	t.Helper()
	strTable := []byte("bsmaterial::materialid\x00ID\x00Value\x00")
	classes := []schema.Class{
		{Name: 0, TypeID: 0, Fields: []schema.Field{
			{Name: 23, TypeID: schema.U32, Offset: 0, Size: 4},
			{Name: 26, TypeID: schema.String, Offset: 4, Size: 4},
		}},
	}
	table := schema.NewTable(strTable, classes)
	class, ok := table.ClassByName("bsmaterial::materialid")
	require.True(t, ok)

	objs := []dbindex.ObjectInfo{
		{PersistentID: pidBase, DBID: 1, Parent: 0, HasData: true},
		{PersistentID: pidRoot, DBID: 2, Parent: 1, HasData: true},
		{PersistentID: pidRef, DBID: 3, Parent: 1, HasData: true},
	}
	comps := []dbindex.ComponentInfo{
		{ObjectID: 1, Index: 0, Type: 0},
		{ObjectID: 2, Index: 0, Type: 0},
		{ObjectID: 3, Index: 0, Type: 0},
	}
	index := &dbindex.DBFileIndex{
		ComponentTypes: []dbindex.ComponentTypeEntry{{Type: 0, Info: dbindex.ComponentTypeInfo{Class: "bsmaterial::materialid"}}},
		Objects:        objs,
		Components:     comps,
	}

	obj := func(fields ...valuetree.FieldValue) reader.Object {
		return reader.Object{Class: class, Value: valuetree.Value{
			Kind: valuetree.KindObject, Type: class.TypeID, Fields: fields,
		}}
	}
	decoded := []reader.Object{
		obj(valuetree.FieldValue{FieldIndex: 1, Name: "Value", Value: valuetree.NewLeaf("base")}),
		obj(
			valuetree.FieldValue{FieldIndex: 0, Name: "ID", Value: valuetree.NewLeaf("3")},
			valuetree.FieldValue{FieldIndex: 1, Name: "Value", Value: valuetree.NewLeaf("root")},
		),
		obj(valuetree.FieldValue{FieldIndex: 1, Name: "Value", Value: valuetree.NewLeaf("target")}),
	}
	m, err := manager.Build(table, &dbindex.CompiledDB{}, index, decoded)
	require.NoError(t, err)
	return table, m
}

func exportPaths() map[uint32]string {
	return map[uint32]string{
		1: "materials/base.mat",
		3: resourceid.Format(pidRef),
	}
}

func TestExportRewritesReferenceAndAppendsTarget(t *testing.T) {
	_, m := buildManager(t)

	doc, err := material.Export(nil, m, 2, pidRoot, exportPaths(), "")
	require.NoError(t, err)
	require.Equal(t, material.Version, doc.Version)
	require.Len(t, doc.Objects, 2)

	root := doc.Objects[0]
	require.Equal(t, resourceid.Format(pidRoot), root.ID)
	require.Equal(t, "materials/base.mat", root.Parent)

	// The reference component's Data.ID must be the target's formatted
	// external resourceid, not its decimal DB-ID.
	require.Contains(t, string(root.Components), resourceid.Format(pidRef))
	require.NotContains(t, string(root.Components), `"ID":"3"`)

	target := doc.Objects[1]
	require.Equal(t, resourceid.Format(pidRef), target.ID)
	require.Equal(t, "materials/base.mat", target.Parent)
	require.Contains(t, string(target.Components), `"target"`)
}

func TestExportComposesParentChain(t *testing.T) {
	_, m := buildManager(t)

	doc, err := material.Export(nil, m, 2, pidRoot, exportPaths(), "")
	require.NoError(t, err)

	// DBID 2's component overrides the base's Value, so the composed
	// root carries "root", not "base".
	require.Contains(t, string(doc.Objects[0].Components), `"root"`)
	require.NotContains(t, string(doc.Objects[0].Components), `"base"`)
}

func TestExportMissingParentPathIsFatal(t *testing.T) {
	_, m := buildManager(t)

	_, err := material.Export(nil, m, 2, pidRoot, map[uint32]string{}, "")
	require.ErrorIs(t, err, cdberr.ErrMissingParentPath)
}

func TestRecompileAssignsSequentialIDsAndResolvesReferences(t *testing.T) {
	table, m := buildManager(t)

	doc, err := material.Export(nil, m, 2, pidRoot, exportPaths(), "")
	require.NoError(t, err)

	resourceRemap := make(map[resourceid.ID]uint32)
	objs, next, err := material.Recompile(table, doc, 100, resourceRemap, nil)
	require.NoError(t, err)
	require.Equal(t, uint32(102), next)
	require.Len(t, objs, 2)

	require.Equal(t, uint32(100), objs[0].DBID)
	require.Equal(t, uint32(101), objs[1].DBID)
	require.Equal(t, pidRoot, objs[0].Info.ID)
	require.Equal(t, pidRef, objs[1].Info.ID)
	require.True(t, objs[0].HasData)

	// The exported formatted reference must resolve back to the newly
	// allocated DB-ID of the target entry.
	id, ok := objs[0].Components[0].Value.Field("ID")
	require.True(t, ok)
	require.Equal(t, "101", id.Leaf)
}

func TestRecompileRejectsUnknownVersion(t *testing.T) {
	table, _ := buildManager(t)
	doc := &material.Document{Version: 2, Objects: []material.Object{{ID: "1", Components: json.RawMessage(`[]`)}}}
	_, _, err := material.Recompile(table, doc, 1, map[resourceid.ID]uint32{}, nil)
	require.Error(t, err)
}

func TestUpdateDatabaseIdsRewritesOnlyIDKeys(t *testing.T) {
	raw := json.RawMessage(`[{"Type":"bsmaterial::materialid","Index":0,"Data":{"ID":"5","Value":"5"}}]`)
	out, err := material.UpdateDatabaseIds(raw, map[uint32]uint32{5: 105}, nil, false)
	require.NoError(t, err)
	require.JSONEq(t, `[{"Type":"bsmaterial::materialid","Index":0,"Data":{"ID":"105","Value":"5"}}]`, string(out))
}

func TestUpdateDatabaseIdsResolvesFormattedResourceIds(t *testing.T) {
	formatted := resourceid.Format(pidRef)
	raw := json.RawMessage(`{"ID":"` + formatted + `"}`)
	out, err := material.UpdateDatabaseIds(raw, nil, map[resourceid.ID]uint32{pidRef: 7}, false)
	require.NoError(t, err)
	require.JSONEq(t, `{"ID":"7"}`, string(out))
}

func TestUpdateDatabaseIdsStrictRejectsMalformedID(t *testing.T) {
	raw := json.RawMessage(`{"ID":"not-an-id"}`)
	_, err := material.UpdateDatabaseIds(raw, nil, nil, true)
	require.ErrorIs(t, err, cdberr.ErrBadReferenceID)
}

func TestUpdateDatabaseIdsLeavesUnmappedIds(t *testing.T) {
	raw := json.RawMessage(`{"ID":"42"}`)
	out, err := material.UpdateDatabaseIds(raw, map[uint32]uint32{}, nil, false)
	require.NoError(t, err)
	require.JSONEq(t, `{"ID":"42"}`, string(out))
}
