// Copyright 2026 The CDB Tool Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package resourceid implements the (dir, file, ext) resource identity
// that names every object in a compiled material database, along with
// its canonical external string form.
//
// Deriving a hash64 from a path belongs to the upstream tooling: this
// package only defines the shape of the function and a fallback
// implementation documented as non-authoritative.
package resourceid

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ID is the stable, content-addressed identity of an object: a triple
// of (dir, file, ext) hashes. Equality is structural.
type ID struct {
	Dir  uint32
	File uint32
	Ext  uint32
}

// Key collapses an ID to the value used for hashing/indexing: the
// extension is effectively constant per domain (e.g. all materials are
// "mat"), so only Dir and File need to participate.
func (id ID) Key() uint64 {
	return (uint64(id.Dir) << 32) | uint64(id.File)
}

// IsZero reports whether id is the zero value (no known identity).
func (id ID) IsZero() bool {
	return id.Dir == 0 && id.File == 0 && id.Ext == 0
}

func (id ID) String() string {
	return Format(id)
}

// HashFunc derives a hash64 from a path string. The real derivation is
// the CRC-like recipe used by the upstream tooling; it is intentionally
// not reproduced here.
type HashFunc func(path string) uint64

// DefaultHash is a stand-in FNV-1a 64 hash. It is NOT bit-compatible
// with the upstream tooling's CRC64 and must not be relied on to
// reproduce hashes found in a real database; callers that need
// bit-exact behavior must supply their own HashFunc.
func DefaultHash(path string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToLower(path)))
	return h.Sum64()
}

// Format renders id in the canonical external string form used by
// exported material JSON: three 8-digit hex groups separated by colons,
// e.g. "0000002a:0000beef:0074616d". Format/Parse round-trip.
func Format(id ID) string {
	return fmt.Sprintf("%08x:%08x:%08x", id.Dir, id.File, id.Ext)
}

// Parse inverts Format. It is used when re-reading exported material
// JSON that carries formatted external IDs rather than decimal DB-IDs.
func Parse(s string) (ID, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return ID{}, errors.Errorf("resourceid: malformed id %q", s)
	}
	vals := [3]uint32{}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 32)
		if err != nil {
			return ID{}, errors.Wrapf(err, "resourceid: malformed id %q", s)
		}
		vals[i] = uint32(v)
	}
	return ID{Dir: vals[0], File: vals[1], Ext: vals[2]}, nil
}

// ExtTam is the canonical material extension: the bytes "mat\x00" read
// as a little-endian uint32, matching the on-disk PersistentID.ext
// convention.
const ExtTam uint32 = 0x74616d

// IsMaterial reports whether id names a material object.
func IsMaterial(id ID) bool {
	return id.Ext == ExtTam
}
