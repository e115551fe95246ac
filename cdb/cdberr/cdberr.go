// Copyright 2026 The CDB Tool Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package cdberr defines the sentinel error kinds used throughout the
// cdb codec. Callers use errors.Is to
// test for a kind after a wrapped error (github.com/pkg/errors) has
// added stream offset and component context.
package cdberr

import "errors"

var (
	// ErrShortRead means the stream ended before a value's declared
	// width could be read.
	ErrShortRead = errors.New("cdb: short read")
	// ErrBadSignature means a chunk header carried an unrecognized
	// 4-char signature.
	ErrBadSignature = errors.New("cdb: bad chunk signature")
	// ErrUnknownType means a TypeRef resolved to neither a builtin nor
	// a class in the schema.
	ErrUnknownType = errors.New("cdb: unknown type reference")
	// ErrUnresolvedRef means a Ref field's inner TypeRef could not be
	// resolved to a class.
	ErrUnresolvedRef = errors.New("cdb: unresolved ref type")
	// ErrEmptyContinuationQueue means a LIST/MAPC/USER/USRD chunk
	// arrived with no pending deferred slot to populate.
	ErrEmptyContinuationQueue = errors.New("cdb: continuation chunk with empty queue")
	// ErrBadMapKey means a map's key type was neither a builtin scalar
	// nor BSResource::ID.
	ErrBadMapKey = errors.New("cdb: unsupported map key type")
	// ErrFieldIndexOutOfRange means a DIFF field index did not name a
	// field declared on the target class.
	ErrFieldIndexOutOfRange = errors.New("cdb: diff field index out of range")
	// ErrMissingParentPath means no ancestor of an exported object had
	// a known external path.
	ErrMissingParentPath = errors.New("cdb: no ancestor with a known external path")
	// ErrReferenceTargetMissing means a reference component's Data.ID
	// named an object absent from the database.
	ErrReferenceTargetMissing = errors.New("cdb: reference target object missing")
	// ErrChunkSizeMismatch means a computed chunk size did not match
	// what was actually emitted, or totalChunkCount disagreed with the
	// number of chunks read in strict mode.
	ErrChunkSizeMismatch = errors.New("cdb: chunk size mismatch")
	// ErrIO wraps an underlying I/O failure.
	ErrIO = errors.New("cdb: io error")
	// ErrUserTrailerNonZero means a USER/USRD chunk's trailing u32 was
	// not the universally-observed value of 0.
	ErrUserTrailerNonZero = errors.New("cdb: user cast trailer was not zero")
	// ErrUnsupportedCircular means a database's Circular list was
	// non-empty; what a receiver should do with one is undefined.
	ErrUnsupportedCircular = errors.New("cdb: non-empty circular list")
	// ErrBadReferenceID means UpdateDatabaseIds, in strict mode,
	// encountered an ID string that parsed neither as a non-negative
	// decimal integer nor as a formatted resourceid.
	ErrBadReferenceID = errors.New("cdb: malformed reference id")
	// ErrCyclicParent means a parent chain did not terminate within the
	// number of known objects.
	ErrCyclicParent = errors.New("cdb: cyclic parent chain")
)
