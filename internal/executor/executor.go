// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package executor implements the three bulk aggregation variants a
// partition runs over its remainder once the sampler and chooser have
// picked a strategy: GLOBAL goes straight to the shared table, HYBRID
// goes through the private cache, RUNS collapses consecutive same-key
// tuples before flushing through either.
package executor

import (
	"github.com/aristanetworks/aggregion/internal/combine"
	"github.com/aristanetworks/aggregion/internal/global"
	"github.com/aristanetworks/aggregion/internal/private"
	"github.com/aristanetworks/aggregion/internal/tuple"
)

// Global folds tuples[start:end) directly into g, one atomic upsert
// per tuple (aggregate/aggregate_atomic.c's AggregateAtomic).
func Global(tuples []tuple.Tuple, start, end int, g *global.Table) {
	for i := start; i < end; i++ {
		g.UpsertTuple(tuples[i].Key, &tuples[i].Values)
	}
}

// Hybrid folds tuples[start:end) through cache, letting LRU evictions
// spill into g (aggregate/hybrid.c's AggregateHybrid). The bucket
// index is derived from the key by private.Cache.Probe itself, so
// there is no separate index variable that could be computed before
// the key that determines it.
func Hybrid(tuples []tuple.Tuple, start, end int, cache *private.Cache, g *global.Table) {
	for i := start; i < end; i++ {
		cache.Probe(tuples[i].Key, &tuples[i].Values, g)
	}
}

// Runs collapses every maximal run of consecutive same-key tuples in
// tuples[start:end) into a single accumulated delta, flushing each
// run either through the private cache (viaCache true: "RUNS-over-
// HYBRID") or straight to the global table (viaCache false: "RUNS-
// direct") when the key changes (runs.c's AggregateRuns /
// AggregateRunsGlobal, generalized across flavors). A new run is
// seeded from the tuple that ended the previous run (tuples[i], not
// tuples[start]), and the seed's counts start at 1.
func Runs(flavor combine.Flavor, tuples []tuple.Tuple, start, end int, cache *private.Cache, g *global.Table, viaCache bool) {
	if start >= end {
		return
	}

	key := tuples[start].Key
	acc := combine.Seed(flavor, &tuples[start].Values)

	flush := func(k uint64, s *combine.State) {
		if viaCache {
			cache.ProbeState(k, s, g)
		} else {
			g.UpsertState(k, s)
		}
	}

	for i := start + 1; i < end; i++ {
		if tuples[i].Key == key {
			combine.AccumulateLocal(flavor, &acc, &tuples[i].Values)
			continue
		}
		flush(key, &acc)
		key = tuples[i].Key
		acc = combine.Seed(flavor, &tuples[i].Values)
	}
	flush(key, &acc)
}
