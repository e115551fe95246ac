// Copyright 2026 The CDB Tool Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package valuetree implements the in-memory shape every decoded CDB
// value is normalized to: a small recursive sum type standing in for
// Null, a scalar Leaf, a class-typed Object, a homogeneous Collection
// (list or map), and a Ref to another object.
package valuetree

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"

	"github.com/matdb/cdbtool/cdb/schema"
)

// Kind discriminates the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindLeaf
	KindObject
	KindCollection
	KindRef
)

// Value is the recursive sum type decoded values are normalized to.
// Exactly one of the fields corresponding to Kind is meaningful.
type Value struct {
	Kind Kind

	// KindLeaf: the scalar rendered as its canonical string form:
	// integers decimal, floats shortest round-trip, bool
	// "true"/"false", string verbatim.
	Leaf string

	// KindObject: the class this value was decoded as, its ordered
	// field values, and — for a component attached to a database
	// object — the ComponentInfo disambiguator index, when this value
	// represents one entry of that object's component list.
	Type   schema.TypeRef
	Fields []FieldValue
	Index  *uint16

	// KindCollection: the element type shared by every item, and the
	// ordered items themselves. ElementType == schema.Map means Data
	// holds MapEntry-shaped Values (each itself a 2-field Object-like
	// pair); List collections hold plain Values.
	ElementType schema.TypeRef
	Items       []Value
	Entries     []MapEntry

	// KindRef: the referenced value. As decoded, Null for an unset
	// reference, otherwise a nested Object describing the target inline.
	RefTarget *Value
}

// FieldValue pairs a declared field (by index into its Class.Fields)
// with its decoded value. Order is preserved exactly as declared.
type FieldValue struct {
	FieldIndex int
	Name       string
	Value      Value
}

// MapEntry is one key/value pair of a Map collection.
type MapEntry struct {
	Key   Value
	Value Value
}

// Null is the canonical null value.
var Null = Value{Kind: KindNull}

// NewLeaf builds a scalar value.
func NewLeaf(s string) Value { return Value{Kind: KindLeaf, Leaf: s} }

// NewRef builds a reference wrapping target.
func NewRef(target Value) Value { return Value{Kind: KindRef, RefTarget: &target} }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Field looks up a field by declared name, returning its value and
// whether it was present (diff-encoded objects may omit fields).
func (v Value) Field(name string) (Value, bool) {
	for _, f := range v.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Value{}, false
}

// jsonObject is the wire shape for a non-scalar Value:
//
//	Object{Type, Data, Index?}                     // class instance
//	Object{Type:"<collection>", ElementType, Data}  // list or map
//	Object{Type:"<ref>", Data}                      // reference
//
// Null serializes as JSON null and Leaf as a bare JSON string; neither
// wraps in this shape, which is why toJSON/fromJSON work in terms of
// interface{} rather than this struct directly.
type jsonObject struct {
	Type        string          `json:"Type"`
	ElementType string          `json:"ElementType,omitempty"`
	Index       *uint16         `json:"Index,omitempty"`
	Data        json.RawMessage `json:"Data"`
}

const (
	collectionTypeTag = "<collection>"
	refTypeTag        = "<ref>"
)

// toJSON renders v as the generic interface{} shape json.Marshal
// understands directly: nil, a string, or a jsonObject.
func (v Value) toJSON(t *schema.Table) (interface{}, error) {
	switch v.Kind {
	case KindNull:
		return nil, nil
	case KindLeaf:
		return v.Leaf, nil
	case KindObject:
		data := make(map[string]interface{}, len(v.Fields))
		for _, f := range v.Fields {
			fv, err := f.Value.toJSON(t)
			if err != nil {
				return nil, errors.Wrapf(err, "field %q", f.Name)
			}
			data[f.Name] = fv
		}
		raw, err := marshalOrdered(v.Fields, data)
		if err != nil {
			return nil, err
		}
		return jsonObject{Type: typeName(t, v.Type), Index: v.Index, Data: raw}, nil
	case KindCollection:
		if v.ElementType == schema.Map {
			data := make(map[string]interface{}, len(v.Entries))
			order := make([]string, 0, len(v.Entries))
			for _, e := range v.Entries {
				if e.Key.Kind != KindLeaf {
					return nil, errors.New("valuetree: map key must render as a string")
				}
				ev, err := e.Value.toJSON(t)
				if err != nil {
					return nil, errors.Wrapf(err, "map key %q", e.Key.Leaf)
				}
				data[e.Key.Leaf] = ev
				order = append(order, e.Key.Leaf)
			}
			raw, err := marshalOrderedMap(order, data)
			if err != nil {
				return nil, err
			}
			return jsonObject{Type: collectionTypeTag, ElementType: typeName(t, v.ElementType), Data: raw}, nil
		}
		items := make([]interface{}, len(v.Items))
		for i, it := range v.Items {
			iv, err := it.toJSON(t)
			if err != nil {
				return nil, errors.Wrapf(err, "item %d", i)
			}
			items[i] = iv
		}
		raw, err := marshalJSON(items)
		if err != nil {
			return nil, err
		}
		return jsonObject{Type: collectionTypeTag, ElementType: typeName(t, v.ElementType), Data: raw}, nil
	case KindRef:
		rv, err := v.RefTarget.toJSON(t)
		if err != nil {
			return nil, err
		}
		raw, err := marshalJSON(rv)
		if err != nil {
			return nil, err
		}
		return jsonObject{Type: refTypeTag, Data: raw}, nil
	default:
		return nil, nil
	}
}

func marshalJSON(v interface{}) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, errors.Wrap(err, "valuetree: marshal")
	}
	return json.RawMessage(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// marshalOrdered renders an object's Data preserving declared field
// order (encoding/json's map[string]interface{} would sort keys
// alphabetically instead).
func marshalOrdered(fields []FieldValue, data map[string]interface{}) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyRaw, err := marshalJSON(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(keyRaw)
		buf.WriteByte(':')
		valRaw, err := marshalJSON(data[f.Name])
		if err != nil {
			return nil, err
		}
		buf.Write(valRaw)
	}
	buf.WriteByte('}')
	return json.RawMessage(buf.Bytes()), nil
}

func marshalOrderedMap(order []string, data map[string]interface{}) (json.RawMessage, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range order {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyRaw, err := marshalJSON(k)
		if err != nil {
			return nil, err
		}
		buf.Write(keyRaw)
		buf.WriteByte(':')
		valRaw, err := marshalJSON(data[k])
		if err != nil {
			return nil, err
		}
		buf.Write(valRaw)
	}
	buf.WriteByte('}')
	return json.RawMessage(buf.Bytes()), nil
}

func typeName(t *schema.Table, ref schema.TypeRef) string {
	if ref.IsBuiltin() {
		return ref.String()
	}
	if t == nil {
		return ""
	}
	if c, ok := t.ResolveClass(ref); ok {
		return t.StringAt(c.Name)
	}
	return ""
}

// MarshalJSON renders v using the table to resolve class/field names
// into their string forms, so exported JSON is schema-independent.
func MarshalJSON(v Value, t *schema.Table, indent string) ([]byte, error) {
	jv, err := v.toJSON(t)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(jv); err != nil {
		return nil, errors.Wrap(err, "valuetree: marshal")
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// UnmarshalJSON parses previously-exported JSON back into a Value,
// resolving type names against t. Used by the recompile path.
func UnmarshalJSON(data []byte, t *schema.Table) (Value, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Value{}, errors.Wrap(err, "valuetree: unmarshal")
	}
	return fromJSON(raw, t)
}

func fromJSON(raw interface{}, t *schema.Table) (Value, error) {
	switch jv := raw.(type) {
	case nil:
		return Null, nil
	case string:
		return NewLeaf(jv), nil
	case map[string]interface{}:
		typ, _ := jv["Type"].(string)
		switch typ {
		case collectionTypeTag:
			elemName, _ := jv["ElementType"].(string)
			elemType, ok := t.TypeRefForClassName(elemName)
			if !ok {
				return Value{}, errors.Errorf("valuetree: unknown element type %q", elemName)
			}
			v := Value{Kind: KindCollection, ElementType: elemType}
			if elemType == schema.Map {
				data, _ := jv["Data"].(map[string]interface{})
				keys := make([]string, 0, len(data))
				for k := range data {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					ev, err := fromJSON(data[k], t)
					if err != nil {
						return Value{}, errors.Wrapf(err, "map key %q", k)
					}
					v.Entries = append(v.Entries, MapEntry{Key: NewLeaf(k), Value: ev})
				}
			} else {
				items, _ := jv["Data"].([]interface{})
				for i, it := range items {
					iv, err := fromJSON(it, t)
					if err != nil {
						return Value{}, errors.Wrapf(err, "item %d", i)
					}
					v.Items = append(v.Items, iv)
				}
			}
			return v, nil
		case refTypeTag:
			inner, err := fromJSON(jv["Data"], t)
			if err != nil {
				return Value{}, err
			}
			return NewRef(inner), nil
		case "":
			return Value{}, errors.New(`valuetree: object missing "Type"`)
		default:
			classTyp, ok := t.TypeRefForClassName(typ)
			if !ok {
				return Value{}, errors.Errorf("valuetree: unknown class %q", typ)
			}
			v := Value{Kind: KindObject, Type: classTyp}
			if idxRaw, ok := jv["Index"]; ok && idxRaw != nil {
				f, ok := idxRaw.(float64)
				if !ok {
					return Value{}, errors.New("valuetree: Index must be a number")
				}
				idx := uint16(f)
				v.Index = &idx
			}
			data, _ := jv["Data"].(map[string]interface{})
			class, _ := t.ResolveClass(classTyp)
			if class != nil {
				for i, f := range class.Fields {
					if f.IsEmpty() {
						continue
					}
					name := t.StringAt(f.Name)
					fraw, present := data[name]
					if !present {
						continue
					}
					fv, err := fromJSON(fraw, t)
					if err != nil {
						return Value{}, errors.Wrapf(err, "field %q", name)
					}
					v.Fields = append(v.Fields, FieldValue{FieldIndex: i, Name: name, Value: fv})
				}
			} else {
				names := make([]string, 0, len(data))
				for name := range data {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					fv, err := fromJSON(data[name], t)
					if err != nil {
						return Value{}, errors.Wrapf(err, "field %q", name)
					}
					v.Fields = append(v.Fields, FieldValue{Name: name, Value: fv})
				}
			}
			return v, nil
		}
	default:
		return Value{}, errors.Errorf("valuetree: unexpected JSON value %T", raw)
	}
}
