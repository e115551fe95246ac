// Copyright 2026 The CDB Tool Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package batch fans a list of per-material export or recompile jobs
// out across a bounded pool of goroutines, collecting the first
// failure and cancelling the rest.
package batch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Job is one unit of work: export or recompile of a single material.
type Job func(ctx context.Context) error

// Run executes jobs with at most concurrency goroutines in flight,
// returning the first error encountered. A concurrency of 0 or less
// means unbounded.
func Run(ctx context.Context, concurrency int, jobs []Job) error {
	group, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		group.SetLimit(concurrency)
	}
	for _, job := range jobs {
		job := job
		group.Go(func() error { return job(ctx) })
	}
	return group.Wait()
}
