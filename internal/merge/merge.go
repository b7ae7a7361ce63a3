// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package merge implements the parallel drain of every worker's
// private cache into the global table at the end of a run:
// aggregate/hybrid.c's AggregateMergeLite, fanned out with
// golang.org/x/sync/errgroup like internal/dispatch.
package merge

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/aristanetworks/aggregion/internal/global"
	"github.com/aristanetworks/aggregion/internal/private"
)

// Run drains caches into g. Each of the len(caches) threads owns a
// disjoint range of private-bucket indices and, for that range, scans
// every cache (not just its own) so that a key buffered anywhere ends
// up combined into g exactly once, regardless of which thread
// originally cached it.
func Run(ctx context.Context, caches []*private.Cache, g *global.Table) error {
	n := len(caches)
	if n == 0 {
		return nil
	}

	grp, _ := errgroup.WithContext(ctx)
	for owner := 0; owner < n; owner++ {
		owner := owner
		start := owner * private.NumBuckets / n
		end := (owner + 1) * private.NumBuckets / n
		grp.Go(func() error {
			for _, c := range caches {
				c.FlushRange(start, end, g)
			}
			return nil
		})
	}
	return grp.Wait()
}
