// Copyright 2026 The CDB Tool Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package chunk implements the CDB's primitive encodings and chunk
// framing: fixed-width little-endian integers, length-prefixed
// strings, and the 8-byte chunk header that precedes every body chunk.
package chunk

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"

	"github.com/matdb/cdbtool/cdb/cdberr"
)

// Sig is a 4-byte chunk signature, stored and compared in on-disk byte
// order (i.e. Sig{'B','E','T','H'} reads "BETH" in a hex dump).
type Sig [4]byte

func (s Sig) String() string { return string(s[:]) }

var (
	SigBETH = Sig{'B', 'E', 'T', 'H'}
	SigSTRT = Sig{'S', 'T', 'R', 'T'}
	SigTYPE = Sig{'T', 'Y', 'P', 'E'}
	SigCLAS = Sig{'C', 'L', 'A', 'S'}
	SigOBJT = Sig{'O', 'B', 'J', 'T'}
	SigDIFF = Sig{'D', 'I', 'F', 'F'}
	SigUSER = Sig{'U', 'S', 'E', 'R'}
	SigUSRD = Sig{'U', 'S', 'R', 'D'}
	SigMAPC = Sig{'M', 'A', 'P', 'C'}
	SigLIST = Sig{'L', 'I', 'S', 'T'}
)

// Header is the 8-byte chunk framing: a signature followed by a
// little-endian payload size that excludes the header itself.
type Header struct {
	Sig  Sig
	Size uint32
}

// IsDiff reports whether the header signature is a partial-value
// chunk (DIFF or USRD).
func (h Header) IsDiff() bool { return h.Sig == SigDIFF || h.Sig == SigUSRD }

// IsUser reports whether the header signature is a user-cast chunk
// (USER or USRD).
func (h Header) IsUser() bool { return h.Sig == SigUSER || h.Sig == SigUSRD }

// IsType reports whether the header signature carries a top-level
// typed value (OBJT or DIFF).
func (h Header) IsType() bool { return h.Sig == SigOBJT || h.Sig == SigDIFF }

const HeaderSize = 8

// ReadHeader reads one 8-byte chunk header.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, errors.Wrap(wrapShortRead(err), "chunk: read header")
	}
	var h Header
	copy(h.Sig[:], buf[0:4])
	h.Size = binary.LittleEndian.Uint32(buf[4:8])
	return h, nil
}

// WriteHeader writes an 8-byte chunk header.
func WriteHeader(w io.Writer, sig Sig, size uint32) error {
	var buf [HeaderSize]byte
	copy(buf[0:4], sig[:])
	binary.LittleEndian.PutUint32(buf[4:8], size)
	_, err := w.Write(buf[:])
	return errors.Wrap(err, "chunk: write header")
}

func wrapShortRead(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errors.Wrap(cdberr.ErrShortRead, err.Error())
	}
	return errors.Wrap(cdberr.ErrIO, err.Error())
}

// ReadU8/ReadU16/... read fixed-width little-endian integers.

func ReadU8(r io.Reader) (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, wrapShortRead(err)
	}
	return b[0], nil
}

func ReadU16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, wrapShortRead(err)
	}
	return binary.LittleEndian.Uint16(b[:]), nil
}

func ReadU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, wrapShortRead(err)
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

func ReadU64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, wrapShortRead(err)
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

func ReadI8(r io.Reader) (int8, error) {
	v, err := ReadU8(r)
	return int8(v), err
}
func ReadI16(r io.Reader) (int16, error) {
	v, err := ReadU16(r)
	return int16(v), err
}
func ReadI32(r io.Reader) (int32, error) {
	v, err := ReadU32(r)
	return int32(v), err
}
func ReadI64(r io.Reader) (int64, error) {
	v, err := ReadU64(r)
	return int64(v), err
}

func ReadBool(r io.Reader) (bool, error) {
	v, err := ReadU8(r)
	return v != 0, err
}

func ReadF32(r io.Reader) (float32, error) {
	v, err := ReadU32(r)
	return math.Float32frombits(v), err
}
func ReadF64(r io.Reader) (float64, error) {
	v, err := ReadU64(r)
	return math.Float64frombits(v), err
}

func WriteU8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return errors.Wrap(err, "chunk: write u8")
}
func WriteU16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return errors.Wrap(err, "chunk: write u16")
}
func WriteU32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return errors.Wrap(err, "chunk: write u32")
}
func WriteU64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return errors.Wrap(err, "chunk: write u64")
}
func WriteI8(w io.Writer, v int8) error   { return WriteU8(w, uint8(v)) }
func WriteI16(w io.Writer, v int16) error { return WriteU16(w, uint16(v)) }
func WriteI32(w io.Writer, v int32) error { return WriteU32(w, uint32(v)) }
func WriteI64(w io.Writer, v int64) error { return WriteU64(w, uint64(v)) }
func WriteBool(w io.Writer, v bool) error {
	if v {
		return WriteU8(w, 1)
	}
	return WriteU8(w, 0)
}
func WriteF32(w io.Writer, v float32) error { return WriteU32(w, math.Float32bits(v)) }
func WriteF64(w io.Writer, v float64) error { return WriteU64(w, math.Float64bits(v)) }

// ReadString reads a length-prefixed string: u16 byteLen followed by
// byteLen raw bytes, the last of which is a trailing NUL. The returned
// string excludes the NUL.
func ReadString(r io.Reader) (string, error) {
	n, err := ReadU16(r)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", wrapShortRead(err)
	}
	if buf[n-1] != 0 {
		return "", errors.Wrap(cdberr.ErrShortRead, "chunk: string missing trailing NUL")
	}
	return string(buf[:n-1]), nil
}

// WriteString writes s as a length-prefixed, NUL-terminated string.
func WriteString(w io.Writer, s string) error {
	n := uint16(len(s)) + 1
	if err := WriteU16(w, n); err != nil {
		return err
	}
	if _, err := io.WriteString(w, s); err != nil {
		return errors.Wrap(err, "chunk: write string bytes")
	}
	return WriteU8(w, 0)
}

// StringByteLen returns the on-disk byte length of s once encoded,
// including its u16 length prefix and trailing NUL.
func StringByteLen(s string) uint32 {
	return 2 + uint32(len(s)) + 1
}
