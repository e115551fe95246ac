// Copyright 2026 The CDB Tool Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package reader

import "strconv"

func formatInt(v int64) string    { return strconv.FormatInt(v, 10) }
func formatUint(v uint64) string  { return strconv.FormatUint(v, 10) }
func formatFloat(v float64, bits int) string {
	return strconv.FormatFloat(v, 'g', -1, bits)
}
