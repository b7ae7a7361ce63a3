// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package combine provides the aggregate-flavor capability the rest
// of the engine is parameterized over: a single State shape plus
// Flavor-dispatched Seed/AccumulateLocal/AtomicCombine operations,
// replacing the four near-duplicate SUM/MIN-MAX/DISTINCT/partitioned
// source variants with one generic path.
package combine

import (
	"sync/atomic"

	"github.com/aristanetworks/aggregion/internal/tuple"
)

// Flavor selects which commutative-associative fold the engine
// maintains per group.
type Flavor int

const (
	// SumFlavor keeps (count, sum, sum-of-squares) per value column,
	// mirroring aggregate/hybrid.c's count1..4/sum1..4/squares1..4.
	SumFlavor Flavor = iota
	// MinMaxFlavor keeps (min, max, min-alt), mirroring
	// min_max/atomic.c's min/max/min2.
	MinMaxFlavor
	// DistinctFlavor keeps nothing beyond key presence, mirroring
	// duplicate_elim's valid-only hash cells.
	DistinctFlavor
)

// NumValues returns how many of a Tuple's value columns this flavor
// reads: four for SUM, one for MIN/MAX, zero for DISTINCT.
func (f Flavor) NumValues() int {
	switch f {
	case SumFlavor:
		return tuple.MaxValues
	case MinMaxFlavor:
		return 1
	default:
		return 0
	}
}

// State is the per-group combinable state. It is shaped generically
// across flavors so a single global bucket and private slot type can
// host any of them: SUM populates Count/Sum/SumSq per column,
// MIN/MAX populates Min/Max/MinAlt in column 0, DISTINCT populates
// nothing (its "state" degenerates to the zero value).
type State struct {
	Count  [tuple.MaxValues]uint64
	Sum    [tuple.MaxValues]uint64
	SumSq  [tuple.MaxValues]uint64
	Min    [tuple.MaxValues]uint64
	Max    [tuple.MaxValues]uint64
	MinAlt [tuple.MaxValues]uint64
}

// Seed builds the initial state for a key's first-seen tuple. Every
// first-insert count starts at 1.
func Seed(f Flavor, values *[tuple.MaxValues]uint64) State {
	var s State
	switch f {
	case SumFlavor:
		for i := 0; i < tuple.MaxValues; i++ {
			v := values[i]
			s.Count[i] = 1
			s.Sum[i] = v
			s.SumSq[i] = v * v
		}
	case MinMaxFlavor:
		v := values[0]
		s.Min[0], s.Max[0], s.MinAlt[0] = v, v, v
	case DistinctFlavor:
		// presence only; no fields to seed.
	}
	return s
}

// AccumulateLocal folds one more tuple's values into s in place,
// non-atomically. Used by the private cache (single owning thread)
// and by the RUNS executor's run accumulator.
func AccumulateLocal(f Flavor, s *State, values *[tuple.MaxValues]uint64) {
	switch f {
	case SumFlavor:
		for i := 0; i < tuple.MaxValues; i++ {
			v := values[i]
			s.Count[i]++
			s.Sum[i] += v
			s.SumSq[i] += v * v
		}
	case MinMaxFlavor:
		v := values[0]
		if v < s.Min[0] {
			s.Min[0] = v
		}
		if v > s.Max[0] {
			s.Max[0] = v
		}
		if v < s.MinAlt[0] {
			s.MinAlt[0] = v
		}
	case DistinctFlavor:
	}
}

// MergeLocal folds another already-built state (e.g. a run's
// accumulated delta, or a private slot's evicted state) into dst
// in place, non-atomically. Used when the private cache absorbs a
// pre-combined delta instead of one tuple's raw values.
func MergeLocal(f Flavor, dst *State, src *State) {
	switch f {
	case SumFlavor:
		for i := 0; i < tuple.MaxValues; i++ {
			dst.Count[i] += src.Count[i]
			dst.Sum[i] += src.Sum[i]
			dst.SumSq[i] += src.SumSq[i]
		}
	case MinMaxFlavor:
		if src.Min[0] < dst.Min[0] {
			dst.Min[0] = src.Min[0]
		}
		if src.Max[0] > dst.Max[0] {
			dst.Max[0] = src.Max[0]
		}
		if src.MinAlt[0] < dst.MinAlt[0] {
			dst.MinAlt[0] = src.MinAlt[0]
		}
	case DistinctFlavor:
	}
}

// AtomicCombine folds delta into dst's fields using a lock-free
// per-field primitive: sequentially consistent atomic add for SUM, a
// CAS retry loop for MIN/MAX, a no-op for DISTINCT. dst must already
// be published (visible to other threads); this is the operation that
// may race concurrently with other AtomicCombine calls against the
// same entry.
func AtomicCombine(f Flavor, dst *State, delta *State) {
	switch f {
	case SumFlavor:
		for i := 0; i < tuple.MaxValues; i++ {
			atomic.AddUint64(&dst.Count[i], delta.Count[i])
			atomic.AddUint64(&dst.Sum[i], delta.Sum[i])
			atomic.AddUint64(&dst.SumSq[i], delta.SumSq[i])
		}
	case MinMaxFlavor:
		casMin(&dst.Min[0], delta.Min[0])
		casMax(&dst.Max[0], delta.Max[0])
		casMin(&dst.MinAlt[0], delta.MinAlt[0])
	case DistinctFlavor:
	}
}

// casMin retries the compare-and-swap until *addr <= value or the
// swap succeeds, mirroring min_max/atomic.c's min-update loop.
func casMin(addr *uint64, value uint64) {
	for {
		cur := atomic.LoadUint64(addr)
		if value >= cur {
			return
		}
		if atomic.CompareAndSwapUint64(addr, cur, value) {
			return
		}
	}
}

// casMax is casMin's mirror image for the running maximum.
func casMax(addr *uint64, value uint64) {
	for {
		cur := atomic.LoadUint64(addr)
		if value <= cur {
			return
		}
		if atomic.CompareAndSwapUint64(addr, cur, value) {
			return
		}
	}
}
