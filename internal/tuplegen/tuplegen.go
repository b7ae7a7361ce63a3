// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package tuplegen builds fixture input distributions matching
// duplicate_elim/main.c's distribution codes: these are external
// collaborators, not part of the engine, kept here only so
// cmd/aggregion-bench and the package's own property tests have
// something to aggregate. Seeded generation uses golang.org/x/exp/rand.
package tuplegen

import (
	"math"

	"golang.org/x/exp/rand"

	"github.com/aristanetworks/aggregion/internal/tuple"
)

// Distribution names the six input shapes main.c's CLI accepted by
// code (0-5).
type Distribution int

const (
	Uniform Distribution = iota
	Sorted
	HeavyHitter
	RepeatedRuns
	Zipf
	SelfSimilar
)

// zipfTheta and selfSimilarH are the parameters main.c's usage text
// documents as fixed for distributions 4 and 5.
const (
	zipfTheta    = 0.5
	selfSimilarH = 0.2
)

// Generate builds nTups tuples over nGroups keys [0, nGroups) in the
// requested distribution, with pseudo-random payload values seeded by
// seed for reproducibility.
func Generate(dist Distribution, nTups, nGroups int, seed uint64) []tuple.Tuple {
	r := rand.New(rand.NewSource(seed))
	switch dist {
	case Sorted:
		return sorted(r, nTups, nGroups)
	case HeavyHitter:
		return heavyHitter(r, nTups, nGroups)
	case RepeatedRuns:
		return repeatedRuns(r, nTups, nGroups)
	case Zipf:
		return zipf(r, nTups, nGroups)
	case SelfSimilar:
		return selfSimilar(r, nTups, nGroups)
	default:
		return uniform(r, nTups, nGroups)
	}
}

func newTuple(r *rand.Rand, key uint64) tuple.Tuple {
	var t tuple.Tuple
	t.Key = key
	for i := range t.Values {
		t.Values[i] = r.Uint64() % 1000
	}
	return t
}

// uniform picks each tuple's key uniformly at random over [0, nGroups).
func uniform(r *rand.Rand, nTups, nGroups int) []tuple.Tuple {
	out := make([]tuple.Tuple, nTups)
	for i := range out {
		out[i] = newTuple(r, uint64(r.Intn(nGroups)))
	}
	return out
}

// sorted assigns consecutive tuples the same key in fixed-length runs
// (key = i/runLen), a distribution that forces a high average run
// length and favors the RUNS strategy.
func sorted(r *rand.Rand, nTups, nGroups int) []tuple.Tuple {
	out := make([]tuple.Tuple, nTups)
	runLen := nTups / nGroups
	if runLen < 1 {
		runLen = 1
	}
	for i := range out {
		out[i] = newTuple(r, uint64(i/runLen)%uint64(nGroups))
	}
	return out
}

// heavyHitter makes half the tuples carry key 0, with the rest spread
// uniformly over the remaining nGroups-1 keys.
func heavyHitter(r *rand.Rand, nTups, nGroups int) []tuple.Tuple {
	out := make([]tuple.Tuple, nTups)
	half := nTups / 2
	for i := range out {
		if i < half {
			out[i] = newTuple(r, 0)
			continue
		}
		key := uint64(0)
		if nGroups > 1 {
			key = 1 + uint64(r.Intn(nGroups-1))
		}
		out[i] = newTuple(r, key)
	}
	return out
}

// repeatedRuns cycles through every group key in order, each cycle's
// run length drawn independently, repeating until nTups tuples are
// produced (main.c's "Repeated Sorted Runs", distribution 3).
func repeatedRuns(r *rand.Rand, nTups, nGroups int) []tuple.Tuple {
	out := make([]tuple.Tuple, nTups)
	avgRunLen := nTups / (nGroups * 4)
	if avgRunLen < 1 {
		avgRunLen = 1
	}
	i := 0
	group := 0
	for i < nTups {
		runLen := 1 + r.Intn(2*avgRunLen)
		for j := 0; j < runLen && i < nTups; j++ {
			out[i] = newTuple(r, uint64(group))
			i++
		}
		group = (group + 1) % nGroups
	}
	return out
}

// zipf samples keys from a Zipfian distribution with the theta the
// original CLI's usage text documents for distribution code 4,
// implemented as the standard rejection-inversion-free harmonic
// method rather than stdlib math/rand.NewZipf, since x/exp/rand's
// Source does not satisfy math/rand.Source64.
func zipf(r *rand.Rand, nTups, nGroups int) []tuple.Tuple {
	weights := make([]float64, nGroups)
	var total float64
	for i := 0; i < nGroups; i++ {
		w := 1.0 / math.Pow(float64(i+1), zipfTheta)
		weights[i] = w
		total += w
	}
	cumulative := make([]float64, nGroups)
	running := 0.0
	for i, w := range weights {
		running += w / total
		cumulative[i] = running
	}

	out := make([]tuple.Tuple, nTups)
	for i := range out {
		target := r.Float64()
		key := sampleCumulative(cumulative, target)
		out[i] = newTuple(r, uint64(key))
	}
	return out
}

func sampleCumulative(cumulative []float64, target float64) int {
	lo, hi := 0, len(cumulative)-1
	for lo < hi {
		mid := (lo + hi) / 2
		if cumulative[mid] < target {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// selfSimilar recursively splits the key range so a fraction 1-h of
// tuples land in the first h-fraction of the key space, recursing
// into that sub-range (main.c's "Self-similar (h = 0.2)",
// distribution 5: the classic 80/20 self-similar generator).
func selfSimilar(r *rand.Rand, nTups, nGroups int) []tuple.Tuple {
	out := make([]tuple.Tuple, nTups)
	for i := range out {
		key := selfSimilarKey(r, 0, nGroups)
		out[i] = newTuple(r, uint64(key))
	}
	return out
}

func selfSimilarKey(r *rand.Rand, lo, hi int) int {
	for hi-lo > 1 {
		mid := lo + int(float64(hi-lo)*selfSimilarH)
		if mid <= lo {
			mid = lo + 1
		}
		if r.Float64() < 1-selfSimilarH {
			hi = mid
		} else {
			lo = mid
		}
	}
	return lo
}
