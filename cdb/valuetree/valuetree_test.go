// Copyright 2026 The CDB Tool Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package valuetree_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matdb/cdbtool/cdb/schema"
	"github.com/matdb/cdbtool/cdb/valuetree"
)

func testTable(t *testing.T) *schema.Table {
	t.Helper()
	strTable := []byte("Widget\x00Name\x00")
	classes := []schema.Class{
		{Name: 0, TypeID: 0, Fields: []schema.Field{
			{Name: 7, TypeID: schema.String, Offset: 0, Size: 4},
		}},
	}
	return schema.NewTable(strTable, classes)
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	table := testTable(t)
	widget, ok := table.ClassByName("Widget")
	require.True(t, ok)

	v := valuetree.Value{
		Kind: valuetree.KindObject,
		Type: widget.TypeID,
		Fields: []valuetree.FieldValue{
			{FieldIndex: 0, Name: "Name", Value: valuetree.NewLeaf("hi")},
		},
	}

	data, err := valuetree.MarshalJSON(v, table, "")
	require.NoError(t, err)

	back, err := valuetree.UnmarshalJSON(data, table)
	require.NoError(t, err)
	require.Equal(t, valuetree.KindObject, back.Kind)
	require.Equal(t, widget.TypeID, back.Type)

	name, ok := back.Field("Name")
	require.True(t, ok)
	require.Equal(t, "hi", name.Leaf)
}

func TestNullRoundTrip(t *testing.T) {
	table := testTable(t)
	data, err := valuetree.MarshalJSON(valuetree.Null, table, "")
	require.NoError(t, err)
	back, err := valuetree.UnmarshalJSON(data, table)
	require.NoError(t, err)
	require.True(t, back.IsNull())
}

func TestRefRoundTrip(t *testing.T) {
	table := testTable(t)
	v := valuetree.NewRef(valuetree.NewLeaf("42"))
	data, err := valuetree.MarshalJSON(v, table, "")
	require.NoError(t, err)
	back, err := valuetree.UnmarshalJSON(data, table)
	require.NoError(t, err)
	require.Equal(t, valuetree.KindRef, back.Kind)
	require.Equal(t, "42", back.RefTarget.Leaf)
}
