// Copyright 2026 The CDB Tool Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package resourceid_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matdb/cdbtool/resourceid"
)

func TestFormatParseRoundTrip(t *testing.T) {
	id := resourceid.ID{Dir: 0x2a, File: 0xbeef, Ext: resourceid.ExtTam}
	s := resourceid.Format(id)
	require.Equal(t, "0000002a:0000beef:0074616d", s)

	back, err := resourceid.Parse(s)
	require.NoError(t, err)
	require.Equal(t, id, back)
	require.True(t, resourceid.IsMaterial(back))
}

func TestParseMalformed(t *testing.T) {
	_, err := resourceid.Parse("not-an-id")
	require.Error(t, err)
	_, err = resourceid.Parse("01:02")
	require.Error(t, err)
}

func TestIsZero(t *testing.T) {
	require.True(t, resourceid.ID{}.IsZero())
	require.False(t, resourceid.ID{Dir: 1}.IsZero())
}

func TestDefaultHashCaseInsensitive(t *testing.T) {
	require.Equal(t, resourceid.DefaultHash("Materials/Steel.mat"), resourceid.DefaultHash("materials/steel.mat"))
}
