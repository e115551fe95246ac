// Copyright 2026 The CDB Tool Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package chunk_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matdb/cdbtool/cdb/cdberr"
	"github.com/matdb/cdbtool/cdb/chunk"
)

func TestHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, chunk.WriteHeader(&buf, chunk.SigOBJT, 42))
	h, err := chunk.ReadHeader(&buf)
	require.NoError(t, err)
	require.Equal(t, chunk.SigOBJT, h.Sig)
	require.Equal(t, uint32(42), h.Size)
}

func TestHeaderShortRead(t *testing.T) {
	_, err := chunk.ReadHeader(bytes.NewReader([]byte{1, 2, 3}))
	require.ErrorIs(t, err, cdberr.ErrShortRead)
}

func TestScalarRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, chunk.WriteU32(&buf, 0xdeadbeef))
	require.NoError(t, chunk.WriteI64(&buf, -12345))
	require.NoError(t, chunk.WriteBool(&buf, true))
	require.NoError(t, chunk.WriteF64(&buf, 3.5))

	u, err := chunk.ReadU32(&buf)
	require.NoError(t, err)
	require.Equal(t, uint32(0xdeadbeef), u)

	i, err := chunk.ReadI64(&buf)
	require.NoError(t, err)
	require.Equal(t, int64(-12345), i)

	b, err := chunk.ReadBool(&buf)
	require.NoError(t, err)
	require.True(t, b)

	f, err := chunk.ReadF64(&buf)
	require.NoError(t, err)
	require.Equal(t, 3.5, f)
}

func TestStringRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, chunk.WriteString(&buf, "hello world"))
	require.Equal(t, chunk.StringByteLen("hello world"), uint32(buf.Len()))
	s, err := chunk.ReadString(&buf)
	require.NoError(t, err)
	require.Equal(t, "hello world", s)
}

func TestEmptyStringRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, chunk.WriteString(&buf, ""))
	s, err := chunk.ReadString(&buf)
	require.NoError(t, err)
	require.Equal(t, "", s)
}

func TestReadStringMissingTrailingNUL(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, chunk.WriteU16(&buf, 1))
	buf.WriteByte('x')
	_, err := chunk.ReadString(&buf)
	require.Error(t, err)
}

var _ io.Reader = (*bytes.Buffer)(nil)
