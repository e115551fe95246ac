// Copyright 2026 The CDB Tool Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package material

import (
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"

	"github.com/matdb/cdbtool/cdb/schema"
	"github.com/matdb/cdbtool/cdb/valuetree"
	"github.com/matdb/cdbtool/cdb/writer"
	"github.com/matdb/cdbtool/resourceid"
)

// componentEntry is the wire shape an exported Components array holds
// for one component: {"Type":className,"Index":n,"Data":{fields}}.
type componentEntry struct {
	Type  string          `json:"Type"`
	Index uint16          `json:"Index"`
	Data  json.RawMessage `json:"Data"`
}

// Recompile reassembles a Document back into a set of
// writer.DatabaseObject values ready for writer.WriteDatabase: one per
// Objects entry, in order, assigned DB-IDs counting up from nextID.
//
// An entry whose ID parses as a formatted external resourceid keeps
// that identity (it flows into the written HashMap and Objects table);
// an entry whose ID is a decimal string is an author-side local ID,
// remapped so same-document references to it resolve. resourceRemap
// carries every other document being recompiled alongside this one, by
// external resourceid, so cross-document references (rewritten to
// formatted resourceids at export time) resolve too; entries of this
// document missing from it are filled in. Parent strings resolve
// through the same two maps, or to 0 when they name nothing known.
func Recompile(table *schema.Table, doc *Document, nextID uint32, resourceRemap map[resourceid.ID]uint32, hash resourceid.HashFunc) ([]writer.DatabaseObject, uint32, error) {
	if doc.Version != Version {
		return nil, nextID, errors.Errorf("material: unsupported document version %d", doc.Version)
	}
	if len(doc.Objects) == 0 {
		return nil, nextID, errors.New("material: document has no objects")
	}
	if hash == nil {
		hash = resourceid.DefaultHash
	}

	remap := make(map[uint32]uint32, len(doc.Objects))
	assigned := make([]uint32, len(doc.Objects))
	external := make([]resourceid.ID, len(doc.Objects))
	id := nextID
	for i, o := range doc.Objects {
		assigned[i] = id
		if rid, err := resourceid.Parse(o.ID); err == nil {
			external[i] = rid
			if _, ok := resourceRemap[rid]; !ok {
				resourceRemap[rid] = id
			}
		} else if n, err := strconv.ParseUint(o.ID, 10, 32); err == nil {
			remap[uint32(n)] = id
		}
		id++
	}

	out := make([]writer.DatabaseObject, 0, len(doc.Objects))
	for i, o := range doc.Objects {
		rewritten, err := UpdateDatabaseIds(o.Components, remap, resourceRemap, false)
		if err != nil {
			return nil, nextID, errors.Wrapf(err, "recompile object %d (%s)", i, o.ID)
		}
		components, err := decodeComponents(rewritten, table)
		if err != nil {
			return nil, nextID, errors.Wrapf(err, "recompile object %d (%s)", i, o.ID)
		}
		info := writer.CreateInfo{}
		if !external[i].IsZero() {
			info.ID = external[i]
			info.Hash = hash(o.ID)
		}
		out = append(out, writer.DatabaseObject{
			DBID:       assigned[i],
			Parent:     resolveParent(o.Parent, remap, resourceRemap),
			HasData:    len(components) > 0,
			Info:       info,
			Components: components,
		})
	}
	return out, id, nil
}

// resolveParent maps an exported Parent string back to a DB-ID: a
// formatted external resourceid through resourceRemap, a decimal
// author-side ID through remap, or 0 when empty or unknown (the object
// becomes a chain root in the recompiled database).
func resolveParent(p string, remap map[uint32]uint32, resourceRemap map[resourceid.ID]uint32) uint32 {
	if p == "" {
		return 0
	}
	if rid, err := resourceid.Parse(p); err == nil {
		return resourceRemap[rid]
	}
	if n, err := strconv.ParseUint(p, 10, 32); err == nil {
		if v, ok := remap[uint32(n)]; ok {
			return v
		}
	}
	return 0
}

// decodeComponents parses the [{"Type","Index","Data"},...] shape an
// exported Components array carries into writer.DatabaseComponent
// values ready for writer.WriteDatabase.
func decodeComponents(raw json.RawMessage, table *schema.Table) ([]writer.DatabaseComponent, error) {
	var entries []componentEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, errors.Wrap(err, "material: unmarshal components")
	}
	out := make([]writer.DatabaseComponent, 0, len(entries))
	for _, e := range entries {
		class, ok := table.ClassByName(e.Type)
		if !ok {
			return nil, errors.Errorf("material: recompile unknown component class %q", e.Type)
		}
		val, err := decodeObjectFields(e.Data, table, class)
		if err != nil {
			return nil, errors.Wrapf(err, "component %s index %d", e.Type, e.Index)
		}
		out = append(out, writer.DatabaseComponent{Class: class, Index: e.Index, Value: val})
	}
	return out, nil
}

// decodeObjectFields rewraps the {"fieldName": jsonValue, ...} shape a
// component's Data carries back into valuetree's own "{Type,Data}"
// object wrapper and hands it to UnmarshalJSON, so field decoding
// follows exactly one code path with export's.
func decodeObjectFields(raw json.RawMessage, table *schema.Table, class *schema.Class) (valuetree.Value, error) {
	wrapped, err := json.Marshal(struct {
		Type string          `json:"Type"`
		Data json.RawMessage `json:"Data"`
	}{Type: table.StringAt(class.Name), Data: raw})
	if err != nil {
		return valuetree.Value{}, errors.Wrap(err, "material: rewrap object fields")
	}
	val, err := valuetree.UnmarshalJSON(wrapped, table)
	if err != nil {
		return valuetree.Value{}, err
	}
	return val, nil
}
