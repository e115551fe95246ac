// Copyright 2026 The CDB Tool Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package reader_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matdb/cdbtool/cdb/cdberr"
	"github.com/matdb/cdbtool/cdb/chunk"
	"github.com/matdb/cdbtool/cdb/reader"
	"github.com/matdb/cdbtool/cdb/schema"
	"github.com/matdb/cdbtool/cdb/valuetree"
)

// refTestTable builds Target{Value string} and Holder{Target Ref}, plus a
// User-flagged Casted{Value uint32} reached from Container through a
// plain (non-Ref) field, so a hand-encoded byte stream can exercise both
// decodeRef and the USER/USRD continuation path without going through
// the writer.
func refTestTable(t *testing.T) (*schema.Table, *schema.Class, *schema.Class, *schema.Class, *schema.Class) {
	t.Helper()
	strTable := []byte("Target\x00Value\x00Holder\x00Casted\x00Container\x00")
	classes := []schema.Class{
		{Name: 0, TypeID: 0, Fields: []schema.Field{ // Target
			{Name: 7, TypeID: schema.String, Offset: 0, Size: 4},
		}},
		{Name: 13, TypeID: 13, Fields: []schema.Field{ // Holder
			{Name: 0, TypeID: schema.Ref, Offset: 0, Size: 4}, // reuses "Target" as field name
		}},
		{Name: 20, TypeID: 20, Flags: schema.FlagUser, Fields: []schema.Field{ // Casted
			{Name: 7, TypeID: schema.U32, Offset: 0, Size: 4}, // reuses "Value" as field name
		}},
		{Name: 27, TypeID: 27, Fields: []schema.Field{ // Container
			{Name: 20, TypeID: 20, Offset: 0, Size: 4}, // reuses "Casted" as field name
		}},
	}
	table := schema.NewTable(strTable, classes)
	target, _ := table.ClassByName("Target")
	holder, _ := table.ClassByName("Holder")
	casted, _ := table.ClassByName("Casted")
	container, _ := table.ClassByName("Container")
	return table, target, holder, casted, container
}

func writeOBJT(t *testing.T, buf *bytes.Buffer, body []byte, diff bool) {
	t.Helper()
	sig := chunk.SigOBJT
	if diff {
		sig = chunk.SigDIFF
	}
	require.NoError(t, chunk.WriteHeader(buf, sig, uint32(len(body))))
	_, err := buf.Write(body)
	require.NoError(t, err)
}

// TestDecodeRefNonNull hand-encodes an OBJT chunk for Holder carrying a
// Ref field pointing at a Target instance, confirming decodeRef resolves
// the inner TypeRef to a class and decodes its fields inline.
func TestDecodeRefNonNull(t *testing.T) {
	table, target, holder, _, _ := refTestTable(t)

	var body bytes.Buffer
	require.NoError(t, chunk.WriteU32(&body, uint32(holder.TypeID)))
	require.NoError(t, chunk.WriteU32(&body, uint32(target.TypeID)))
	require.NoError(t, chunk.WriteString(&body, "payload"))

	var stream bytes.Buffer
	writeOBJT(t, &stream, body.Bytes(), false)

	rd := reader.New(&stream, table)
	objs, err := rd.ReadAll()
	require.NoError(t, err)
	require.Len(t, objs, 1)

	ref, ok := objs[0].Value.Field("Target")
	require.True(t, ok)
	require.Equal(t, valuetree.KindRef, ref.Kind)
	require.NotNil(t, ref.RefTarget)
	require.False(t, ref.RefTarget.IsNull())
	require.Equal(t, target.TypeID, ref.RefTarget.Type)

	val, ok := ref.RefTarget.Field("Value")
	require.True(t, ok)
	require.Equal(t, "payload", val.Leaf)
}

// TestDecodeRefNull confirms a Ref field whose inner TypeRef is the
// builtin Null resolves to an unset reference rather than any class.
func TestDecodeRefNull(t *testing.T) {
	table, _, holder, _, _ := refTestTable(t)

	var body bytes.Buffer
	require.NoError(t, chunk.WriteU32(&body, uint32(holder.TypeID)))
	require.NoError(t, chunk.WriteU32(&body, uint32(schema.Null)))

	var stream bytes.Buffer
	writeOBJT(t, &stream, body.Bytes(), false)

	rd := reader.New(&stream, table)
	objs, err := rd.ReadAll()
	require.NoError(t, err)
	require.Len(t, objs, 1)

	ref, ok := objs[0].Value.Field("Target")
	require.True(t, ok)
	require.Equal(t, valuetree.KindRef, ref.Kind)
	require.NotNil(t, ref.RefTarget)
	require.True(t, ref.RefTarget.IsNull())
}

// TestDecodeUserCast hand-encodes a Container OBJT (whose Casted field
// defers through the userQueue) followed by the USER continuation chunk
// carrying the cast payload, confirming the two TypeRefs are consumed and
// the zero trailer is enforced.
func TestDecodeUserCast(t *testing.T) {
	table, _, _, casted, container := refTestTable(t)

	var containerBody bytes.Buffer
	require.NoError(t, chunk.WriteU32(&containerBody, uint32(container.TypeID)))
	// Casted is a plain (non-Ref) field whose type resolves to a
	// User-flagged class, so it contributes no inline bytes here.

	var userBody bytes.Buffer
	require.NoError(t, chunk.WriteU32(&userBody, uint32(casted.TypeID))) // declared type
	require.NoError(t, chunk.WriteU32(&userBody, uint32(casted.TypeID))) // casted type
	require.NoError(t, chunk.WriteU32(&userBody, 5))                    // Casted.Value
	require.NoError(t, chunk.WriteU32(&userBody, 0))                    // trailer

	var stream bytes.Buffer
	writeOBJT(t, &stream, containerBody.Bytes(), false)
	require.NoError(t, chunk.WriteHeader(&stream, chunk.SigUSER, uint32(userBody.Len())))
	_, err := stream.Write(userBody.Bytes())
	require.NoError(t, err)

	rd := reader.New(&stream, table)
	objs, err := rd.ReadAll()
	require.NoError(t, err)
	require.Len(t, objs, 1)

	cast, ok := objs[0].Value.Field("Casted")
	require.True(t, ok)
	require.Equal(t, valuetree.KindObject, cast.Kind)
	require.Equal(t, casted.TypeID, cast.Type)

	val, ok := cast.Field("Value")
	require.True(t, ok)
	require.Equal(t, "5", val.Leaf)
}

// TestDecodeUserCastNonZeroTrailerRejected confirms a non-zero USER
// trailer is a fatal decode error rather than silently ignored.
func TestDecodeUserCastNonZeroTrailerRejected(t *testing.T) {
	table, _, _, casted, container := refTestTable(t)

	var containerBody bytes.Buffer
	require.NoError(t, chunk.WriteU32(&containerBody, uint32(container.TypeID)))

	var userBody bytes.Buffer
	require.NoError(t, chunk.WriteU32(&userBody, uint32(casted.TypeID)))
	require.NoError(t, chunk.WriteU32(&userBody, uint32(casted.TypeID)))
	require.NoError(t, chunk.WriteU32(&userBody, 5))
	require.NoError(t, chunk.WriteU32(&userBody, 1)) // non-zero trailer

	var stream bytes.Buffer
	writeOBJT(t, &stream, containerBody.Bytes(), false)
	require.NoError(t, chunk.WriteHeader(&stream, chunk.SigUSER, uint32(userBody.Len())))
	_, err := stream.Write(userBody.Bytes())
	require.NoError(t, err)

	rd := reader.New(&stream, table)
	_, err = rd.ReadAll()
	require.Error(t, err)
}

// TestContinuationQueueIsLIFO pins the post-order continuation
// discipline: Outer defers
// its own M list first, then the nested Inner class defers L during the
// same body walk, and the stream delivers the innermost child's chunk
// first. Popping FIFO instead would land each list in the other's slot.
func TestContinuationQueueIsLIFO(t *testing.T) {
	strTable := []byte("Outer\x00M\x00N\x00Inner\x00L\x00")
	classes := []schema.Class{
		{Name: 0, TypeID: 0, Fields: []schema.Field{ // Outer
			{Name: 6, TypeID: schema.List, Offset: 0, Size: 4}, // M
			{Name: 8, TypeID: 10, Offset: 4, Size: 4},          // N Inner
		}},
		{Name: 10, TypeID: 10, Fields: []schema.Field{ // Inner
			{Name: 16, TypeID: schema.List, Offset: 0, Size: 4}, // L
		}},
	}
	table := schema.NewTable(strTable, classes)
	outer, ok := table.ClassByName("Outer")
	require.True(t, ok)

	var body bytes.Buffer
	require.NoError(t, chunk.WriteU32(&body, uint32(outer.TypeID)))
	// Both M and Inner.L defer; neither contributes inline bytes.

	var innerList bytes.Buffer // fills L: [1, 2]
	require.NoError(t, chunk.WriteU32(&innerList, uint32(schema.U32)))
	require.NoError(t, chunk.WriteU32(&innerList, 2))
	require.NoError(t, chunk.WriteU32(&innerList, 1))
	require.NoError(t, chunk.WriteU32(&innerList, 2))

	var outerList bytes.Buffer // fills M: ["x"]
	require.NoError(t, chunk.WriteU32(&outerList, uint32(schema.String)))
	require.NoError(t, chunk.WriteU32(&outerList, 1))
	require.NoError(t, chunk.WriteString(&outerList, "x"))

	var stream bytes.Buffer
	writeOBJT(t, &stream, body.Bytes(), false)
	require.NoError(t, chunk.WriteHeader(&stream, chunk.SigLIST, uint32(innerList.Len())))
	_, err := stream.Write(innerList.Bytes())
	require.NoError(t, err)
	require.NoError(t, chunk.WriteHeader(&stream, chunk.SigLIST, uint32(outerList.Len())))
	_, err = stream.Write(outerList.Bytes())
	require.NoError(t, err)

	rd := reader.New(&stream, table)
	objs, err := rd.ReadAll()
	require.NoError(t, err)
	require.Len(t, objs, 1)

	m, ok := objs[0].Value.Field("M")
	require.True(t, ok)
	require.Len(t, m.Items, 1)
	require.Equal(t, "x", m.Items[0].Leaf)

	n, ok := objs[0].Value.Field("N")
	require.True(t, ok)
	l, ok := n.Field("L")
	require.True(t, ok)
	require.Len(t, l.Items, 2)
	require.Equal(t, "1", l.Items[0].Leaf)
	require.Equal(t, "2", l.Items[1].Leaf)
}

// TestContinuationWithEmptyQueueRejected confirms a LIST chunk with no
// pending deferred slot is a fatal decode error.
func TestContinuationWithEmptyQueueRejected(t *testing.T) {
	table, _, _, _, _ := refTestTable(t)

	var listBody bytes.Buffer
	require.NoError(t, chunk.WriteU32(&listBody, uint32(schema.U32)))
	require.NoError(t, chunk.WriteU32(&listBody, 0))

	var stream bytes.Buffer
	require.NoError(t, chunk.WriteHeader(&stream, chunk.SigLIST, uint32(listBody.Len())))
	_, err := stream.Write(listBody.Bytes())
	require.NoError(t, err)

	rd := reader.New(&stream, table)
	_, err = rd.ReadAll()
	require.ErrorIs(t, err, cdberr.ErrEmptyContinuationQueue)
}
