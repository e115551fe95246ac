// Copyright 2026 The CDB Tool Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xcompress wraps zstd for databases that arrive or ship
// compressed. Archive parsing itself lives elsewhere; this package
// only handles bytes already extracted from one.
package xcompress

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Decompress returns the zstd-decompressed contents of src.
func Decompress(src []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, errors.Wrap(err, "xcompress: new decoder")
	}
	defer dec.Close()
	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, errors.Wrap(err, "xcompress: decompress")
	}
	return out, nil
}

// Compress returns src compressed at the given zstd level. A level of
// 0 selects the encoder's default.
func Compress(src []byte, level int) ([]byte, error) {
	opts := []zstd.EOption{}
	if level != 0 {
		opts = append(opts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	}
	enc, err := zstd.NewWriter(nil, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "xcompress: new encoder")
	}
	defer enc.Close()
	return enc.EncodeAll(src, nil), nil
}
