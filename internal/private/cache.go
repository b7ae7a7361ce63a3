// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package private implements the per-thread set-associative cache
// table and its LRU-on-miss insert/evict primitive: aggregate/hybrid.c's
// inline private-bucket probe/evict logic, generalized over
// combine.Flavor. A Cache is never shared; the caller owns it
// exclusively and no synchronization is used inside it.
package private

import (
	"golang.org/x/sys/cpu"

	"github.com/aristanetworks/aggregion/internal/combine"
	"github.com/aristanetworks/aggregion/internal/global"
	"github.com/aristanetworks/aggregion/internal/hashkey"
	"github.com/aristanetworks/aggregion/internal/tuple"
)

// NumBuckets is the fixed private-table size.
const NumBuckets = 512

// Associativity is the fixed per-bucket slot count.
const Associativity = 3

var logSize = hashkey.Log2(NumBuckets, NumBuckets)

// bucket is one set-associative slot group. Slot 0 is MRU. The
// CacheLinePad fields keep each thread's table on its own cache line
// and stagger it from the next thread's table; cache-line alignment
// and page-coloring offsets are load-bearing for contention behavior,
// not incidental tuning.
type bucket struct {
	valid       [Associativity]bool
	keys        [Associativity]uint64
	states      [Associativity]combine.State
	accessCount uint32
	_           cpu.CacheLinePad
}

// Cache is one worker thread's private table.
type Cache struct {
	flavor  combine.Flavor
	buckets [NumBuckets]bucket
	// pad staggers this Cache's start offset relative to the other
	// Caches that aggregion.Create allocates one per worker thread,
	// approximating the source's page-coloring stride.
	pad cpu.CacheLinePad
}

// New allocates a zeroed private cache for flavor.
func New(flavor combine.Flavor) *Cache {
	return &Cache{flavor: flavor}
}

// Reset zeroes every slot's validity and every bucket's access count.
// The public Reset operation calls it between runs; between
// partitions of one run the engine calls ResetAccessCounts instead,
// so resident keys are kept.
func (c *Cache) Reset() {
	for i := range c.buckets {
		b := &c.buckets[i]
		b.valid = [Associativity]bool{}
		b.accessCount = 0
	}
}

// ResetAccessCounts zeroes only the access counters, matching the
// source's ResetLocalTable which runs once per partition without
// touching slot validity: the cache's resident keys persist across
// partitions, only its access-count statistics reset.
func (c *Cache) ResetAccessCounts() {
	for i := range c.buckets {
		c.buckets[i].accessCount = 0
	}
}

// AccessCount reports bucket i's access counter, used by the sampler
// to compute the top-7 max-access statistics.
func (c *Cache) AccessCount(i int) uint32 {
	return c.buckets[i].accessCount
}

// Probe folds one tuple into the cache, spilling the LRU slot to g
// when the target bucket is full and the key is not already resident.
// It reports whether the tuple was a cache hit (an already-resident
// key), which the sampler uses to compute miss rate.
func (c *Cache) Probe(key uint64, values *[tuple.MaxValues]uint64, g *global.Table) (hit bool) {
	index := hashkey.Hash(key, logSize)
	b := &c.buckets[index]
	b.accessCount++

	j := 0
	for j < Associativity && b.valid[j] && b.keys[j] != key {
		j++
	}

	if j < Associativity {
		if b.valid[j] {
			combine.AccumulateLocal(c.flavor, &b.states[j], values)
			return true
		}
		b.keys[j] = key
		b.states[j] = combine.Seed(c.flavor, values)
		b.valid[j] = true
		return false
	}

	// Every slot occupied by a different key: evict the LRU slot
	// (last) to the global table, shift the rest down one (MRU
	// discipline), and install the new key at slot 0.
	g.UpsertState(b.keys[Associativity-1], &b.states[Associativity-1])
	for k := Associativity - 1; k > 0; k-- {
		b.keys[k] = b.keys[k-1]
		b.states[k] = b.states[k-1]
	}
	b.keys[0] = key
	b.states[0] = combine.Seed(c.flavor, values)
	return false
}

// ProbeState folds an already-built delta (a RUNS accumulator) into
// the cache, using the same LRU discipline as Probe. It is Probe's
// counterpart for the RUNS-over-HYBRID executor, which has already
// collapsed a run into one state before it ever reaches the private
// table.
func (c *Cache) ProbeState(key uint64, delta *combine.State, g *global.Table) {
	index := hashkey.Hash(key, logSize)
	b := &c.buckets[index]
	b.accessCount++

	j := 0
	for j < Associativity && b.valid[j] && b.keys[j] != key {
		j++
	}

	if j < Associativity {
		if b.valid[j] {
			combine.MergeLocal(c.flavor, &b.states[j], delta)
		} else {
			b.keys[j] = key
			b.states[j] = *delta
			b.valid[j] = true
		}
		return
	}

	g.UpsertState(b.keys[Associativity-1], &b.states[Associativity-1])
	for k := Associativity - 1; k > 0; k-- {
		b.keys[k] = b.keys[k-1]
		b.states[k] = b.states[k-1]
	}
	b.keys[0] = key
	b.states[0] = *delta
}

// FlushRange upserts every valid slot in buckets [start, end) into g.
// The slots stay valid afterwards (only Reset clears them), so
// flushing the same range twice combines its states into g twice.
// The parallel merge gives each thread a disjoint bucket range to scan
// across every cache so the whole table is drained exactly once with
// no cross-thread coordination beyond the range split itself.
func (c *Cache) FlushRange(start, end int, g *global.Table) {
	for i := start; i < end; i++ {
		b := &c.buckets[i]
		for j := 0; j < Associativity && b.valid[j]; j++ {
			g.UpsertState(b.keys[j], &b.states[j])
		}
	}
}

// Flush upserts every valid slot in the cache into g, leaving the
// slots valid.
func (c *Cache) Flush(g *global.Table) {
	c.FlushRange(0, NumBuckets, g)
}
