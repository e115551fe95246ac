// Copyright 2026 The CDB Tool Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package manager builds the queryable graph over a decoded database:
// indices by DB-ID, owner, and reference edge, parent-chain
// composition of inherited components, reference-closure computation,
// and material export assembly.
package manager

import (
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"

	"github.com/matdb/cdbtool/cdb/cdberr"
	"github.com/matdb/cdbtool/cdb/dbindex"
	"github.com/matdb/cdbtool/cdb/reader"
	"github.com/matdb/cdbtool/cdb/schema"
	"github.com/matdb/cdbtool/cdb/valuetree"
	"github.com/matdb/cdbtool/resourceid"
)

// referenceComponentTypes is the closed set of component class names
// whose Data.ID field names another database object's DB-ID.
var referenceComponentTypes = map[string]bool{
	"bsmaterial::blenderid":         true,
	"bsmaterial::layerid":           true,
	"bsmaterial::materialid":        true,
	"bsmaterial::texturesetid":      true,
	"bsmaterial::uvstreamid":        true,
	"bsmaterial::lodmaterialid":     true,
	"bsmaterial::layeredmaterialid": true,
}

// ComponentRef is one decoded component, positionally paired with its
// DBFileIndex.Components entry: the i'th component decoded from the
// stream corresponds to index.Components[i].
type ComponentRef struct {
	Info    dbindex.ComponentInfo
	Pos     int
	Class   *schema.Class
	Value   valuetree.Value
	IsDiff  bool
	Offset  int64
	RawSize uint32
}

// Manager indexes a decoded database for composition and export.
type Manager struct {
	table *schema.Table
	db    *dbindex.CompiledDB
	index *dbindex.DBFileIndex

	objectByDBID      map[uint32]*dbindex.ObjectInfo
	componentsByOwner map[uint32][]*ComponentRef
	edgesBySource     map[uint32][]dbindex.EdgeInfo
	resourceToDB      map[resourceid.ID]uint32 // materials only (ext == "tam")

	components   []*ComponentRef
	nextObjectID uint32
}

// Build indexes a database's CompiledDB/DBFileIndex metadata together
// with the components a reader.Reader has already decoded from the
// body that follows it, zipping the i'th decoded component against
// index.Components[i] positionally.
func Build(table *schema.Table, db *dbindex.CompiledDB, index *dbindex.DBFileIndex, objs []reader.Object) (*Manager, error) {
	if len(objs) != len(index.Components) {
		return nil, errors.Errorf("manager: decoded %d components, DBFileIndex declares %d", len(objs), len(index.Components))
	}
	if db.Circular != 0 {
		return nil, errors.Wrapf(cdberr.ErrUnsupportedCircular, "manager: circular list has %d entries", db.Circular)
	}
	m := &Manager{
		table:             table,
		db:                db,
		index:             index,
		objectByDBID:      make(map[uint32]*dbindex.ObjectInfo, len(index.Objects)),
		componentsByOwner: make(map[uint32][]*ComponentRef, len(index.Objects)),
		edgesBySource:     make(map[uint32][]dbindex.EdgeInfo, len(index.Edges)),
		resourceToDB:      make(map[resourceid.ID]uint32),
	}
	for i := range index.Objects {
		o := &index.Objects[i]
		m.objectByDBID[o.DBID] = o
		if o.DBID >= m.nextObjectID {
			m.nextObjectID = o.DBID + 1
		}
		if resourceid.IsMaterial(o.PersistentID) {
			m.resourceToDB[o.PersistentID] = o.DBID
		}
	}
	m.components = make([]*ComponentRef, len(objs))
	for i, o := range objs {
		ci := index.Components[i]
		ref := &ComponentRef{
			Info:    ci,
			Pos:     i,
			Class:   o.Class,
			Value:   o.Value,
			IsDiff:  o.IsDiff,
			Offset:  o.Offset,
			RawSize: o.RawSize,
		}
		m.components[i] = ref
		m.componentsByOwner[ci.ObjectID] = append(m.componentsByOwner[ci.ObjectID], ref)
	}
	for _, e := range index.Edges {
		m.edgesBySource[e.SourceID] = append(m.edgesBySource[e.SourceID], e)
	}
	return m, nil
}

// Table returns the schema table this Manager was built over.
func (m *Manager) Table() *schema.Table { return m.table }

// Object returns the DBFileIndex row for the given DB-ID.
func (m *Manager) Object(dbid uint32) (*dbindex.ObjectInfo, bool) {
	o, ok := m.objectByDBID[dbid]
	return o, ok
}

// Components returns the decoded components owned by dbid, in
// DBFileIndex.Components order.
func (m *Manager) Components(owner uint32) []*ComponentRef {
	return m.componentsByOwner[owner]
}

// NextObjectID returns a DB-ID one past the highest currently in use,
// for a recompile pass assigning fresh IDs.
func (m *Manager) NextObjectID() uint32 { return m.nextObjectID }

// parentChain walks Parent links from dbid to the root, detecting
// cycles by bounding the walk at the number of known objects, and
// returns the chain root-to-leaf for composition.
func (m *Manager) parentChain(dbid uint32) ([]*dbindex.ObjectInfo, error) {
	var chain []*dbindex.ObjectInfo
	seen := make(map[uint32]bool)
	cur := dbid
	limit := len(m.objectByDBID) + 1
	for i := 0; i < limit; i++ {
		obj, ok := m.objectByDBID[cur]
		if !ok {
			break
		}
		if seen[cur] {
			return nil, errors.Wrapf(cdberr.ErrCyclicParent, "dbid=%d", dbid)
		}
		seen[cur] = true
		chain = append(chain, obj)
		if obj.Parent == 0 {
			break
		}
		cur = obj.Parent
	}
	if len(chain) == limit {
		return nil, errors.Wrapf(cdberr.ErrCyclicParent, "dbid=%d", dbid)
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// composedComponent is one entry of an object's composed view: a
// component type/index pair and the JSON object its fields compose to
// across the object's parent chain (or just itself, for a diff view).
type composedComponent struct {
	Type  string
	Index uint16
	Data  json.RawMessage
}

type componentKey struct {
	typ   string
	index uint16
}

// compose walks either an object's full root-to-leaf parent chain or
// just the object itself, groups the components each owner contributes
// by (type, index), and folds each group's fields right-biased across
// ancestors via composeJSON.
func (m *Manager) compose(dbid uint32, fullChain bool) ([]composedComponent, error) {
	var owners []*dbindex.ObjectInfo
	if fullChain {
		chain, err := m.parentChain(dbid)
		if err != nil {
			return nil, err
		}
		owners = chain
	} else {
		obj, ok := m.objectByDBID[dbid]
		if !ok {
			return nil, errors.Wrapf(cdberr.ErrReferenceTargetMissing, "dbid=%d", dbid)
		}
		owners = []*dbindex.ObjectInfo{obj}
	}

	var order []componentKey
	groups := make(map[componentKey][]*ComponentRef)
	for _, owner := range owners {
		for _, ref := range m.componentsByOwner[owner.DBID] {
			key := componentKey{typ: m.componentClassName(ref), index: ref.Info.Index}
			if _, ok := groups[key]; !ok {
				order = append(order, key)
			}
			groups[key] = append(groups[key], ref)
		}
	}

	out := make([]composedComponent, 0, len(order))
	for _, key := range order {
		var data json.RawMessage
		for _, ref := range groups[key] {
			fieldJSON, err := fieldsJSON(ref.Value, m.table)
			if err != nil {
				return nil, errors.Wrapf(err, "component type=%s index=%d", key.typ, key.index)
			}
			data, err = composeJSON(data, fieldJSON)
			if err != nil {
				return nil, errors.Wrapf(err, "compose type=%s index=%d", key.typ, key.index)
			}
		}
		out = append(out, composedComponent{Type: key.typ, Index: key.index, Data: data})
	}
	return out, nil
}

func (m *Manager) componentClassName(ref *ComponentRef) string {
	if ref.Class != nil {
		return m.table.StringAt(ref.Class.Name)
	}
	return m.index.ClassName(ref.Info.Type)
}

// fieldsJSON extracts just the field-map ("Data") portion of a
// component's rendered JSON, reusing valuetree.MarshalJSON's
// field-name resolution rather than re-walking the value tree.
func fieldsJSON(v valuetree.Value, table *schema.Table) (json.RawMessage, error) {
	raw, err := valuetree.MarshalJSON(v, table, "")
	if err != nil {
		return nil, err
	}
	var wrapped struct {
		Data json.RawMessage `json:"Data"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, errors.Wrap(err, "manager: unmarshal component json")
	}
	return wrapped.Data, nil
}

// composeJSON right-biases rhs over lhs: an empty object or array in
// rhs resets the composed value rather than merging with lhs. This is
// the DIFF semantics of the file format: ancestors define defaults,
// descendants override only the fields they name.
func composeJSON(lhs, rhs json.RawMessage) (json.RawMessage, error) {
	if lhs == nil {
		return rhs, nil
	}
	if rhs == nil {
		return lhs, nil
	}
	var a, b interface{}
	if err := json.Unmarshal(lhs, &a); err != nil {
		return nil, errors.Wrap(err, "manager: unmarshal compose lhs")
	}
	if err := json.Unmarshal(rhs, &b); err != nil {
		return nil, errors.Wrap(err, "manager: unmarshal compose rhs")
	}
	return json.Marshal(composeValues(a, b))
}

func composeValues(lhs, rhs interface{}) interface{} {
	switch r := rhs.(type) {
	case map[string]interface{}:
		if len(r) == 0 {
			return map[string]interface{}{}
		}
		l, _ := lhs.(map[string]interface{})
		out := make(map[string]interface{}, len(l)+len(r))
		for k, v := range l {
			out[k] = v
		}
		for k, rv := range r {
			if lv, ok := out[k]; ok {
				out[k] = composeValues(lv, rv)
			} else {
				out[k] = rv
			}
		}
		return out
	case []interface{}:
		if len(r) == 0 {
			return []interface{}{}
		}
		l, _ := lhs.([]interface{})
		out := make([]interface{}, len(r))
		for i, rv := range r {
			if rv == nil {
				if i < len(l) {
					out[i] = l[i]
				}
				continue
			}
			if i < len(l) {
				out[i] = composeValues(l[i], rv)
			} else {
				out[i] = rv
			}
		}
		return out
	default:
		return rhs
	}
}

type componentJSON struct {
	Type  string          `json:"Type"`
	Index uint16          `json:"Index"`
	Data  json.RawMessage `json:"Data"`
}

func marshalComponents(components []composedComponent, indent string) ([]byte, error) {
	out := make([]componentJSON, len(components))
	for i, c := range components {
		out[i] = componentJSON{Type: c.Type, Index: c.Index, Data: c.Data}
	}
	if indent == "" {
		return json.Marshal(out)
	}
	return json.MarshalIndent(out, "", indent)
}

// GetFullJson renders every component dbid owns, composed with its
// full parent chain root-to-leaf, right-biased.
func (m *Manager) GetFullJson(dbid uint32, indent string) ([]byte, error) {
	components, err := m.compose(dbid, true)
	if err != nil {
		return nil, err
	}
	return marshalComponents(components, indent)
}

// GetDiffJson renders dbid's own components without walking its parent
// chain. Incremental authoring flows consume this form.
func (m *Manager) GetDiffJson(dbid uint32, indent string) ([]byte, error) {
	components, err := m.compose(dbid, false)
	if err != nil {
		return nil, err
	}
	return marshalComponents(components, indent)
}

// RefQueue is the insertion-ordered, dedup-by-DBID export queue the
// reference closure drains. Insertion order keeps the exported
// Objects[1..] sequence deterministic.
type RefQueue struct {
	seen  map[uint32]bool
	order []uint32
}

// NewRefQueue seeds a queue with roots, in order.
func NewRefQueue(roots ...uint32) *RefQueue {
	q := &RefQueue{seen: make(map[uint32]bool, len(roots))}
	for _, r := range roots {
		q.Push(r)
	}
	return q
}

// Push appends id unless it was already enqueued.
func (q *RefQueue) Push(id uint32) {
	if q.seen[id] {
		return
	}
	q.seen[id] = true
	q.order = append(q.order, id)
}

// Len reports how many distinct ids have been enqueued so far.
func (q *RefQueue) Len() int { return len(q.order) }

// At returns the i'th enqueued id. Safe to call while still draining:
// Push only ever appends.
func (q *RefQueue) At(i int) uint32 { return q.order[i] }

// IDs returns every enqueued id in insertion order.
func (q *RefQueue) IDs() []uint32 { return q.order }

// ExportComponents renders dbid's fully-composed components with every
// reference component's Data.ID rewritten from a decimal DB-ID to the
// target's formatted external resourceid, pushing each target onto q,
// so the exported form is portable and the closure grows as the caller
// drains q. The rewrite applies to a component's own declared type and
// to any nested {"Type","Data"} shape within it.
func (m *Manager) ExportComponents(dbid uint32, q *RefQueue, indent string) ([]byte, error) {
	components, err := m.compose(dbid, true)
	if err != nil {
		return nil, errors.Wrapf(err, "dbid=%d", dbid)
	}
	for i := range components {
		rewritten, err := m.rewriteComponent(components[i].Type, components[i].Data, q)
		if err != nil {
			return nil, errors.Wrapf(err, "dbid=%d component=%s", dbid, components[i].Type)
		}
		components[i].Data = rewritten
	}
	return marshalComponents(components, indent)
}

// rewriteComponent wraps one composed component back into the
// {"Type","Data"} shape rewriteReferences matches on — a reference
// component carries the target ID in its own Data, not behind a nested
// class-typed field — rewrites in place, and unwraps Data again.
func (m *Manager) rewriteComponent(typ string, data json.RawMessage, q *RefQueue) (json.RawMessage, error) {
	var inner interface{}
	if data != nil {
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, errors.Wrap(err, "manager: unmarshal component json")
		}
	}
	wrapped := map[string]interface{}{"Type": typ, "Data": inner}
	rv, err := m.rewriteReferences(wrapped, q)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(rv.(map[string]interface{})["Data"])
	if err != nil {
		return nil, errors.Wrap(err, "manager: marshal rewritten component")
	}
	return out, nil
}

// GetReferencedIds computes the transitive closure of objects reached
// from roots by walking every composed component's JSON for Type/Data
// shapes whose Type is one of the closed reference component types.
func (m *Manager) GetReferencedIds(roots []uint32) ([]uint32, error) {
	q := NewRefQueue(roots...)
	for i := 0; i < q.Len(); i++ {
		if _, err := m.ExportComponents(q.At(i), q, ""); err != nil {
			return nil, err
		}
	}
	return q.IDs(), nil
}

// ParentPath resolves the exported Parent of dbid: the first ancestor
// (walking Parent links, excluding dbid itself) whose DB-ID has a
// known external path in dbIDToPath. An object with no parent at all
// resolves to ""; an object whose ancestors exist but none carries a
// known path is cdberr.ErrMissingParentPath.
func (m *Manager) ParentPath(dbid uint32, dbIDToPath map[uint32]string) (string, error) {
	obj, ok := m.objectByDBID[dbid]
	if !ok {
		return "", errors.Wrapf(cdberr.ErrReferenceTargetMissing, "dbid=%d", dbid)
	}
	if obj.Parent == 0 {
		return "", nil
	}
	chain, err := m.parentChain(dbid)
	if err != nil {
		return "", err
	}
	// chain is root-to-leaf; walk from the immediate parent toward the root.
	for i := len(chain) - 2; i >= 0; i-- {
		if path, ok := dbIDToPath[chain[i].DBID]; ok {
			return path, nil
		}
	}
	return "", errors.Wrapf(cdberr.ErrMissingParentPath, "dbid=%d", dbid)
}

// rewriteReferences recurses through a decoded JSON value looking for
// {"Type":X,"Data":{...}} shapes (valuetree's rendering of any
// class-typed value). Whenever X is a reference component type, its
// Data.ID is read as a decimal DB-ID, resolved, rewritten to a
// formatted external resourceid, and the target DB-ID is enqueued.
func (m *Manager) rewriteReferences(v interface{}, q *RefQueue) (interface{}, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		if typ, ok := val["Type"].(string); ok && referenceComponentTypes[lower(typ)] {
			if data, ok := val["Data"].(map[string]interface{}); ok {
				if idStr, ok := data["ID"].(string); ok && idStr != "" {
					targetDBID, err := strconv.ParseUint(idStr, 10, 32)
					if err == nil {
						if target, ok := m.objectByDBID[uint32(targetDBID)]; ok {
							data["ID"] = resourceid.Format(target.PersistentID)
							q.Push(target.DBID)
						}
					}
				}
			}
			return val, nil
		}
		for k, sub := range val {
			rv, err := m.rewriteReferences(sub, q)
			if err != nil {
				return nil, err
			}
			val[k] = rv
		}
		return val, nil
	case []interface{}:
		for i, sub := range val {
			rv, err := m.rewriteReferences(sub, q)
			if err != nil {
				return nil, err
			}
			val[i] = rv
		}
		return val, nil
	default:
		return v, nil
	}
}

// ComponentType resolves the class of one of dbid's components by
// index.
func (m *Manager) ComponentType(dbid uint32, index uint16) (*schema.Class, bool) {
	for _, ref := range m.componentsByOwner[dbid] {
		if ref.Info.Index == index {
			return ref.Class, true
		}
	}
	return nil, false
}

// ComponentTypeIndex resolves a class's index into the schema's class
// table by case-insensitive name.
func (m *Manager) ComponentTypeIndex(name string) (int, bool) {
	c, ok := m.table.ClassByName(name)
	if !ok {
		return -1, false
	}
	for i := range m.table.Classes {
		if &m.table.Classes[i] == c {
			return i, true
		}
	}
	return -1, false
}

// ResolveMaterialID maps an external resourceid.ID to the DB-ID of the
// object that owns it, via the resourceToDB index built at Build time
// from DBFileIndex.Objects' PersistentID (restricted to materials).
func (m *Manager) ResolveMaterialID(id resourceid.ID) (uint32, bool) {
	dbid, ok := m.resourceToDB[id]
	return dbid, ok
}

// ResolveMaterialPath resolves a material by path: the path hashes
// through the externally-supplied hash function, the CompiledDB's
// HashMap maps the hash back to a resource identity, and that
// identity resolves as ResolveMaterialID does. Returns 0, false when the path is unknown to this database.
func (m *Manager) ResolveMaterialPath(path string, hash resourceid.HashFunc) (uint32, bool) {
	if hash == nil {
		hash = resourceid.DefaultHash
	}
	h := hash(path)
	for _, e := range m.db.HashMap {
		if e.Hash == h {
			return m.ResolveMaterialID(e.ID)
		}
	}
	return 0, false
}

// SelfCheck verifies structural invariants a composed database must
// hold: every Parent reference resolves to a known object, and every
// edge endpoint resolves to a known object.
func (m *Manager) SelfCheck() error {
	for dbid, obj := range m.objectByDBID {
		if obj.Parent != 0 {
			if _, ok := m.objectByDBID[obj.Parent]; !ok {
				return errors.Wrapf(cdberr.ErrReferenceTargetMissing, "dbid=%d parent=%d", dbid, obj.Parent)
			}
		}
	}
	for source, edges := range m.edgesBySource {
		if _, ok := m.objectByDBID[source]; !ok {
			return errors.Wrapf(cdberr.ErrReferenceTargetMissing, "edge source dbid=%d", source)
		}
		for _, e := range edges {
			if _, ok := m.objectByDBID[e.TargetID]; !ok {
				return errors.Wrapf(cdberr.ErrReferenceTargetMissing, "dbid=%d target=%d", source, e.TargetID)
			}
		}
	}
	return nil
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
