// Copyright 2026 The CDB Tool Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package writer

import (
	"bytes"
	"strconv"

	"github.com/pkg/errors"

	"github.com/matdb/cdbtool/cdb/schema"
	"github.com/matdb/cdbtool/cdb/valuetree"
)

func newByteBuf() *bytes.Buffer { return &bytes.Buffer{} }

func parseInt(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	return v, errors.Wrap(err, "writer: parse integer leaf")
}

func parseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	return v, errors.Wrap(err, "writer: parse unsigned leaf")
}

func parseFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	return v, errors.Wrap(err, "writer: parse float leaf")
}

// inferMapTypes recovers the key/value TypeRefs of a decoded map
// collection from its first entry. An empty map has no way to recover
// its original key/value types from the tree alone, so callers must
// have preserved ElementType information upstream for empty maps;
// here we fall back to schema.String/schema.Null, which only matters
// for a from-scratch-constructed empty map (never a decoded one,
// whose entries are always re-emitted from what was read).
func inferMapTypes(v valuetree.Value) (schema.TypeRef, schema.TypeRef, error) {
	if len(v.Entries) == 0 {
		return schema.String, schema.Null, nil
	}
	e := v.Entries[0]
	keyType := leafBuiltinType(e.Key)
	if e.Key.Kind == valuetree.KindRef {
		keyType = schema.Ref
	}
	valType := valueType(e.Value)
	return keyType, valType, nil
}

func leafBuiltinType(v valuetree.Value) schema.TypeRef {
	return schema.String
}

func valueType(v valuetree.Value) schema.TypeRef {
	switch v.Kind {
	case valuetree.KindObject:
		return v.Type
	case valuetree.KindRef:
		return schema.Ref
	case valuetree.KindCollection:
		return v.ElementType
	default:
		return schema.String
	}
}
