// Copyright 2026 The CDB Tool Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package material assembles a material's exported JSON from its
// owning object plus the transitive closure of everything it
// references, and reverses that into DB-ID rewrites when a tree of
// exported materials is recompiled back into a database.
package material

import (
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/matdb/cdbtool/cdb/cdberr"
	"github.com/matdb/cdbtool/cdb/manager"
	"github.com/matdb/cdbtool/resourceid"
)

// Version is the exchange-format version stamped on every exported
// document.
const Version = 1

// Object is one entry of a Document's Objects sequence: the object's
// formatted external resource-ID (or, on author-side input before
// UpdateDatabaseIds, a decimal local ID), the external path of its
// nearest known ancestor, and its composed component array in
// [{"Type","Index","Data"},...] shape.
type Object struct {
	ID         string          `json:"ID"`
	Parent     string          `json:"Parent"`
	Components json.RawMessage `json:"Components"`
}

// Document is the exported form of one material: Objects[0]
// is the material itself, subsequent entries are the referenced
// sub-objects its components transitively reach, identified by
// formatted external IDs.
type Document struct {
	Version int      `json:"Version"`
	Objects []Object `json:"Objects"`
}

// Export builds a Document for the material owned by rootDBID: the
// composed, reference-rewritten JSON of the root object's components,
// then one entry per object reachable from it through reference
// components, drained from the export queue in insertion order. Every
// entry's Parent is resolved through dbIDToPath; a missing ancestor
// path is fatal to this material (cdberr.ErrMissingParentPath), as is
// any composition failure — other materials in the same batch
// continue.
func Export(log *zap.Logger, m *manager.Manager, rootDBID uint32, id resourceid.ID, dbIDToPath map[uint32]string, indent string) (*Document, error) {
	q := manager.NewRefQueue(rootDBID)
	doc := &Document{Version: Version}
	for i := 0; i < q.Len(); i++ {
		dbid := q.At(i)
		components, err := m.ExportComponents(dbid, q, indent)
		if err != nil {
			return nil, errors.Wrapf(err, "material: export dbid=%d", dbid)
		}
		parent, err := m.ParentPath(dbid, dbIDToPath)
		if err != nil {
			return nil, errors.Wrapf(err, "material: export dbid=%d", dbid)
		}
		objID := resourceid.Format(id)
		if i > 0 {
			target, ok := m.Object(dbid)
			if !ok {
				return nil, errors.Wrapf(cdberr.ErrReferenceTargetMissing, "material: export dbid=%d", dbid)
			}
			objID = resourceid.Format(target.PersistentID)
		}
		doc.Objects = append(doc.Objects, Object{ID: objID, Parent: parent, Components: components})
	}
	if log != nil {
		log.Info("material: exported",
			zap.String("id", id.String()),
			zap.Uint32("root", rootDBID),
			zap.Int("objects", len(doc.Objects)),
		)
	}
	return doc, nil
}

// UpdateDatabaseIds rewrites every reference string held under an "ID"
// key within raw — the field reference components carry their target
// in — without touching other string leaves, whose lexical
// form may coincide with a decimal ID. A decimal DB-ID string resolves
// through remap (same-document internal references, keyed by the old
// DB-ID the value was exported under); a formatted external resourceid
// string resolves through resourceRemap (cross-document references,
// rewritten by manager.ExportComponents into a portable form).
// Unrecognized or unresolvable ID strings are left untouched unless
// strict is set, in which case they are rejected.
func UpdateDatabaseIds(raw json.RawMessage, remap map[uint32]uint32, resourceRemap map[resourceid.ID]uint32, strict bool) (json.RawMessage, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errors.Wrap(err, "material: unmarshal for id rewrite")
	}
	rewritten, err := rewriteIds(v, remap, resourceRemap, strict)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(rewritten)
	if err != nil {
		return nil, errors.Wrap(err, "material: marshal after id rewrite")
	}
	return out, nil
}

func rewriteIds(v interface{}, remap map[uint32]uint32, resourceRemap map[resourceid.ID]uint32, strict bool) (interface{}, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if s, ok := val.(string); ok && k == "ID" && s != "" {
				rv, err := rewriteIDString(s, remap, resourceRemap, strict)
				if err != nil {
					return nil, err
				}
				out[k] = rv
				continue
			}
			rv, err := rewriteIds(val, remap, resourceRemap, strict)
			if err != nil {
				return nil, err
			}
			out[k] = rv
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			rv, err := rewriteIds(val, remap, resourceRemap, strict)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

func rewriteIDString(s string, remap map[uint32]uint32, resourceRemap map[resourceid.ID]uint32, strict bool) (string, error) {
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		if newID, ok := remap[uint32(n)]; ok {
			return strconv.FormatUint(uint64(newID), 10), nil
		}
		return s, nil
	}
	if rid, err := resourceid.Parse(s); err == nil {
		if newID, ok := resourceRemap[rid]; ok {
			return strconv.FormatUint(uint64(newID), 10), nil
		}
		return s, nil
	}
	if strict {
		return "", errors.Wrapf(cdberr.ErrBadReferenceID, "value=%q", s)
	}
	return s, nil
}
