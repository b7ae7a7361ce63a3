// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package strategy implements the per-partition executor chooser:
// aggregate_resample.c's post-sample if/else-if cascade, with the
// empirically-chosen constants preserved exactly. These magic
// constants are deliberate and must not be "cleaned up" to round
// numbers; doing so changes which strategy gets picked.
package strategy

import (
	"github.com/aristanetworks/aggregion/internal/combine"
	"github.com/aristanetworks/aggregion/internal/sampler"
)

// Strategy is the bulk executor a partition should run after sampling.
type Strategy int

const (
	Global Strategy = iota
	Hybrid
	Runs
)

func (s Strategy) String() string {
	switch s {
	case Global:
		return "global"
	case Hybrid:
		return "hybrid"
	case Runs:
		return "runs"
	default:
		return "unknown"
	}
}

// runLengthThreshold is 8/7: above this average run length, RUNS wins
// regardless of miss rate or access skew.
const runLengthThreshold = 8.0 / 7.0

// accessFreqFloor is 1/7.58: the per-bucket access frequency below
// which the chooser stops accumulating the contention estimate,
// because the top-7 access counts are non-increasing so no later one
// can meet the threshold either.
const accessFreqFloor = 1.0 / 7.58

const (
	estimateScale  = 25.1
	estimateOffset = 3.31
)

// Choose selects RUNS, HYBRID, or GLOBAL from one partition's sample
// statistics. The DISTINCT flavor omits the middle (miss-rate/
// contention) branch entirely and chooses only between RUNS and
// GLOBAL.
func Choose(flavor combine.Flavor, stats sampler.Stats) Strategy {
	if stats.AvgRunLength > runLengthThreshold {
		return Runs
	}
	if flavor == combine.DistinctFlavor {
		return Global
	}

	var estimate float64
	for _, accessCount := range stats.Top {
		f := float64(accessCount) / float64(sampler.Window)
		if f < accessFreqFloor {
			break
		}
		estimate += estimateScale*f - estimateOffset
	}

	if stats.MissRate < 0.5 || estimate >= 1.0 {
		return Hybrid
	}
	return Global
}
