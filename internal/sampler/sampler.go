// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package sampler implements the warm-up + measurement probe:
// aggregate_resample.c's AggregateOperate sampling block, using
// internal/private's Probe to fold tuples into the cache while
// separately counting hits and run boundaries over a fixed prefix of
// a partition.
package sampler

import (
	"github.com/aristanetworks/aggregion/internal/global"
	"github.com/aristanetworks/aggregion/internal/private"
	"github.com/aristanetworks/aggregion/internal/tuple"
)

// Warmup and SampleSize fix the length of the two-stage probe; they
// are part of the engine's calibrated behavior and must not be tuned.
const (
	Warmup     = 2000
	SampleSize = 1500
)

// Top is how many per-bucket max-access counts the strategy chooser
// consumes.
const Top = 7

// Window is the number of tuples the sampler observes per partition.
const Window = Warmup + SampleSize

// Stats summarizes one partition's sampling pass.
type Stats struct {
	Hits         int
	Runs         int
	MissRate     float64
	AvgRunLength float64
	Top          [Top]uint32
}

// Run executes the sampler over tuples[start:start+Window], folding
// every tuple into cache exactly as the bulk executors would (the
// data must be aggregated regardless of whether it is being sampled),
// while counting hits and run boundaries only during the SampleSize
// portion that follows the Warmup portion, matching
// aggregate_resample.c's two-call split (AggregateSample is invoked
// once over the warmup range discarding its counters, then again over
// the sample range).
func Run(cache *private.Cache, tuples []tuple.Tuple, start int, g *global.Table) Stats {
	warmupEnd := start + Warmup
	sampleEnd := warmupEnd + SampleSize

	_, warmupRuns := sample(cache, tuples, start, warmupEnd, g)
	hits, sampleRuns := sample(cache, tuples, warmupEnd, sampleEnd, g)

	// AggregateOperate seeds num_runs at 1 before either sampling
	// call and accumulates each call's local run-boundary count on
	// top of it; reproduced here rather than counting boundaries over
	// the two ranges as one continuous scan.
	runs := 1 + warmupRuns + sampleRuns

	var top [Top]uint32
	for i := 0; i < private.NumBuckets; i++ {
		insertMax(&top, cache.AccessCount(i))
	}

	return Stats{
		Hits:         hits,
		Runs:         runs,
		MissRate:     float64(SampleSize-hits) / float64(SampleSize),
		AvgRunLength: float64(Window) / float64(runs),
		Top:          top,
	}
}

// sample folds tuples[start:end) into cache, reporting hits and the
// number of run boundaries crossed (a tuple whose key differs from
// its predecessor's). The first tuple in the range is not compared
// with anything and is not counted; Run adds the single initial run
// itself, matching AggregateOperate's num_runs initialization.
func sample(cache *private.Cache, tuples []tuple.Tuple, start, end int, g *global.Table) (hits, runs int) {
	var prevKey uint64
	for i := start; i < end; i++ {
		key := tuples[i].Key
		if i > start && key != prevKey {
			runs++
		}
		if cache.Probe(key, &tuples[i].Values, g) {
			hits++
		}
		prevKey = key
	}
	return hits, runs
}

// insertMax keeps top sorted descending, inserting v if it beats the
// smallest tracked maximum, mirroring AggregateOperate's insertion-sort
// of the top-7 access counts.
func insertMax(top *[Top]uint32, v uint32) {
	for j := 0; j < Top; j++ {
		if top[j] < v {
			for k := Top - 1; k > j; k-- {
				top[k] = top[k-1]
			}
			top[j] = v
			return
		}
	}
}
