// Copyright 2026 The CDB Tool Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package writer

import (
	"strings"

	"github.com/matdb/cdbtool/cdb/schema"
	"github.com/matdb/cdbtool/cdb/valuetree"
)

// ChunkCount reports the number of chunks written so far, including
// the header's own BETH/STRT/TYPE/CLAS chunks. Close patches this
// value into BETH's totalChunkCount.
func (wr *Writer) ChunkCount() uint32 { return wr.chunkCount }

// CountChunks predicts the number of top-level chunks WriteObject will
// emit for one value: 1 for the OBJT/DIFF chunk itself plus one per
// continuation it defers — each List/Map collection contributes a LIST
// or MAPC chunk and each User-flagged class a USER chunk, recursively
// recursively. Callers sizing a file's advertised chunk
// count ahead of emission depend on this agreeing exactly with what
// WriteObject then writes; writer tests pin the two against each other.
func CountChunks(table *schema.Table, class *schema.Class, diff bool, v valuetree.Value) uint32 {
	c := counter{table: table}
	if diff {
		c.countDiffFields(class, v)
	} else {
		c.countFullFields(class, v)
	}
	return 1 + c.n
}

type counter struct {
	table *schema.Table
	n     uint32
}

func (c *counter) countFullFields(class *schema.Class, v valuetree.Value) {
	for _, f := range class.Fields {
		if f.IsEmpty() {
			continue
		}
		fv, ok := v.Field(c.table.StringAt(f.Name))
		if !ok {
			fv = valuetree.Null
		}
		c.countFieldValue(f, fv)
	}
}

func (c *counter) countDiffFields(class *schema.Class, v valuetree.Value) {
	for _, fval := range v.Fields {
		if fval.FieldIndex < 0 || fval.FieldIndex >= len(class.Fields) {
			continue
		}
		c.countFieldValue(class.Fields[fval.FieldIndex], fval.Value)
	}
}

func (c *counter) countFieldValue(f schema.Field, v valuetree.Value) {
	if f.TypeID.IsChunk() {
		c.n++
		c.countCollection(v)
		return
	}
	if !f.TypeID.IsBuiltin() {
		if cl, ok := c.table.ResolveClass(f.TypeID); ok && cl.IsUser() {
			c.n++
			c.countFullFields(cl, v)
			return
		}
	}
	c.countValueOfType(f.TypeID, v)
}

func (c *counter) countValueOfType(t schema.TypeRef, v valuetree.Value) {
	if t == schema.Ref {
		if v.Kind != valuetree.KindRef || v.RefTarget == nil || v.RefTarget.IsNull() {
			return
		}
		cl, ok := c.table.ResolveClass(v.RefTarget.Type)
		if !ok {
			return
		}
		if cl.IsUser() {
			c.n++
		}
		c.countFullFields(cl, *v.RefTarget)
		return
	}
	if t.IsBuiltin() {
		return
	}
	cl, ok := c.table.ResolveClass(t)
	if !ok {
		return
	}
	if strings.ToLower(c.table.StringAt(cl.Name)) == componentDB2IDClass {
		return
	}
	c.countFullFields(cl, v)
}

func (c *counter) countCollection(v valuetree.Value) {
	if v.ElementType == schema.Map {
		keyType, valType, err := inferMapTypes(v)
		if err != nil {
			return
		}
		for _, e := range v.Entries {
			c.countValueOfType(keyType, e.Key)
			c.countValueOfType(valType, e.Value)
		}
		return
	}
	for _, it := range v.Items {
		c.countValueOfType(v.ElementType, it)
	}
}
