// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package global implements the shared chained hash table and its
// atomic find-or-insert-and-combine primitive: aggregate/hybrid.c's
// AddToGlobalAtomic and min_max/atomic.c's CAS variant, generalized
// over combine.Flavor.
package global

import (
	"bufio"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/aristanetworks/aggregion/internal/combine"
	"github.com/aristanetworks/aggregion/internal/hashkey"
	"github.com/aristanetworks/aggregion/internal/tuple"
)

// cell is one overflow chain node, heap-allocated on demand by the
// first inserter to find a full bucket head. Once published its key
// never changes and next is immutable; only state is combined into
// afterwards.
type cell struct {
	key   uint64
	state combine.State
	next  atomic.Pointer[cell]
}

// bucketHead is one slot of the fixed-size global array. Go's generic
// atomic.Pointer stands in for an immutable-index arena cell, rather
// than hand-rolling arena chunking.
type bucketHead struct {
	mu    sync.Mutex
	valid atomic.Bool
	key   uint64
	state combine.State
	next  atomic.Pointer[cell]
}

// Table is the shared global hash table. All fields reachable from a
// worker goroutine after Create are either read-only (flavor, logSize)
// or internally synchronized (buckets); Table itself carries no
// process-global state, it is passed explicitly by every caller.
type Table struct {
	flavor  combine.Flavor
	logSize uint
	buckets []bucketHead
}

// New allocates a table sized for nGroups distinct keys: the bucket
// count is max(32, next-power-of-two(2*nGroups)). make() already
// zero-initializes the backing array, so no manual parallel-init loop
// is needed here even for large tables.
func New(flavor combine.Flavor, nGroups int) *Table {
	logSize := hashkey.Log2(2*nGroups, 32)
	return &Table{
		flavor:  flavor,
		logSize: logSize,
		buckets: make([]bucketHead, 1<<logSize),
	}
}

// UpsertTuple folds one tuple's values into the entry for key,
// allocating the entry if this is the first time key is seen. This is
// the GLOBAL executor's and the RUNS-direct flush's entry point.
func (t *Table) UpsertTuple(key uint64, values *[tuple.MaxValues]uint64) {
	delta := combine.Seed(t.flavor, values)
	t.UpsertState(key, &delta)
}

// UpsertState folds an already-built delta (a private-cache eviction,
// a run's accumulated state, or a Seed of one tuple) into the entry
// for key: find-or-insert followed by a lock-free combine.
func (t *Table) UpsertState(key uint64, delta *combine.State) {
	index := hashkey.Hash(key, t.logSize)
	head := &t.buckets[index]

	if !head.valid.Load() {
		head.mu.Lock()
		if !head.valid.Load() {
			head.key = key
			head.state = *delta
			head.next.Store(nil)
			head.valid.Store(true) // release: publishes the fields above
			head.mu.Unlock()
			return
		}
		head.mu.Unlock()
	}

	for {
		if head.key == key {
			combine.AtomicCombine(t.flavor, &head.state, delta)
			return
		}

		first := head.next.Load() // acquire: pairs with the Store below
		for c := first; c != nil; c = c.next.Load() {
			if c.key == key {
				combine.AtomicCombine(t.flavor, &c.state, delta)
				return
			}
		}

		head.mu.Lock()
		if head.next.Load() == first {
			c := &cell{key: key, state: *delta}
			c.next.Store(first)
			head.next.Store(c) // release: publishes c's fields
			head.mu.Unlock()
			return
		}
		// overflow_head changed underneath us; someone else linked a
		// cell. Restart the chain walk rather than lose the insert.
		head.mu.Unlock()
	}
}

// Flavor reports the aggregate flavor the table was built for.
func (t *Table) Flavor() combine.Flavor {
	return t.flavor
}

// NumBuckets reports the size of the global bucket array (power of two).
func (t *Table) NumBuckets() int {
	return len(t.buckets)
}

// Reset clears every chain and validity flag, leaving the table ready
// for another Run over the same input. A fresh backing array is the
// simplest correct way to drop every overflow chain at once; the old
// array and its cells become garbage.
func (t *Table) Reset() {
	t.buckets = make([]bucketHead, 1<<t.logSize)
}

// Entries returns every (key, state) pair currently in the table. It
// walks the same head-then-chain order Print does and is intended for
// tests that compare against a sequential reference fold, not for the
// hot path.
func (t *Table) Entries() map[uint64]combine.State {
	out := make(map[uint64]combine.State)
	for i := range t.buckets {
		head := &t.buckets[i]
		if !head.valid.Load() {
			continue
		}
		out[head.key] = head.state
		for c := head.next.Load(); c != nil; c = c.next.Load() {
			out[c.key] = c.state
		}
	}
	return out
}

// Print writes one line per valid entry (head, then its chain) in the
// original engine's column layout, generalized across flavors: count,
// bucket index, key, then the per-column aggregate fields the flavor
// defines (SUM: count/sum/sum_sq per column; MIN/MAX: min/max/min_alt;
// DISTINCT: key only).
func (t *Table) Print(w *bufio.Writer) error {
	count := 0
	for i := range t.buckets {
		head := &t.buckets[i]
		if !head.valid.Load() {
			continue
		}
		count++
		if err := printEntry(w, t.flavor, count, i, head.key, &head.state); err != nil {
			return err
		}
		for c := head.next.Load(); c != nil; c = c.next.Load() {
			count++
			if err := printEntry(w, t.flavor, count, i, c.key, &c.state); err != nil {
				return err
			}
		}
	}
	return w.Flush()
}

func printEntry(w *bufio.Writer, f combine.Flavor, count, bucket int, key uint64, s *combine.State) error {
	if _, err := fmt.Fprintf(w, "%d\t%d\t%d", count, bucket, key); err != nil {
		return err
	}
	switch f {
	case combine.SumFlavor:
		for i := 0; i < f.NumValues(); i++ {
			if _, err := fmt.Fprintf(w, "\t%d\t%d\t%d",
				s.Count[i], s.Sum[i], s.SumSq[i]); err != nil {
				return err
			}
		}
	case combine.MinMaxFlavor:
		if _, err := fmt.Fprintf(w, "\t%d\t%d\t%d", s.Min[0], s.Max[0], s.MinAlt[0]); err != nil {
			return err
		}
	case combine.DistinctFlavor:
		// key only; no aggregate columns.
	}
	_, err := fmt.Fprintln(w)
	return err
}
