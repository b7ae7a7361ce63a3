// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package aggregion is the adaptive parallel group-by aggregation
// engine's public API. It wires together the internal global table,
// private caches, sampler, chooser, executors, dispatcher, and merge
// into a Create/Run/Merge/Reset/Print/MissRate/Destroy lifecycle.
package aggregion

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/aristanetworks/glog"

	"github.com/aristanetworks/aggregion/internal/combine"
	"github.com/aristanetworks/aggregion/internal/dispatch"
	"github.com/aristanetworks/aggregion/internal/executor"
	"github.com/aristanetworks/aggregion/internal/global"
	"github.com/aristanetworks/aggregion/internal/merge"
	"github.com/aristanetworks/aggregion/internal/monitorsrv"
	"github.com/aristanetworks/aggregion/internal/private"
	"github.com/aristanetworks/aggregion/internal/sampler"
	"github.com/aristanetworks/aggregion/internal/strategy"
	"github.com/aristanetworks/aggregion/internal/tuple"
)

// Flavor selects which aggregate family a run computes. It is a
// re-export of the internal combine package's Flavor so callers never
// need to import an internal path.
type Flavor = combine.Flavor

const (
	Sum      = combine.SumFlavor
	MinMax   = combine.MinMaxFlavor
	Distinct = combine.DistinctFlavor
)

// Tuple is one input record: a group-by key plus up to four payload
// columns, only as many of which are read as Flavor.NumValues()
// reports.
type Tuple = tuple.Tuple

// Config is the immutable configuration an Aggregate is built from.
type Config struct {
	// NThreads is the number of worker goroutines that share the
	// global table during Run and Merge. Must be >= 1.
	NThreads int
	// NGroups is the caller's estimate of the number of distinct
	// group keys in the input; it only sizes the global table and is
	// not itself validated against the data. Must be > 0.
	NGroups int
	// ResampleRate multiplies NThreads into the total partition
	// count; 1 disables work stealing (one partition per thread).
	// Must be >= 1.
	ResampleRate int
	// Flavor selects SUM, MIN/MAX, or DISTINCT.
	Flavor Flavor
	// Metrics, if non-nil, receives per-partition strategy counts
	// alongside whatever the caller separately records for
	// RunDuration/MergeDuration/MissRate/PartitionsTotal.
	Metrics *monitorsrv.Metrics
}

func (c Config) validate() error {
	if c.NThreads < 1 {
		return fmt.Errorf("aggregion: n_threads must be >= 1, got %d", c.NThreads)
	}
	if c.NGroups <= 0 {
		return fmt.Errorf("aggregion: n_groups must be > 0, got %d", c.NGroups)
	}
	if c.ResampleRate < 1 {
		return fmt.Errorf("aggregion: resample_rate must be >= 1, got %d", c.ResampleRate)
	}
	return nil
}

// Aggregate is the opaque handle callers drive an aggregation through.
// It is not safe for concurrent use by the caller across its own
// methods (Run/Merge already parallelize internally); the caller
// calls Run, optionally Merge, then Reset or Destroy sequentially.
type Aggregate interface {
	// Run executes one aggregation pass over the input and returns
	// elapsed wall-clock time.
	Run(ctx context.Context) (time.Duration, error)
	// Merge combines every valid entry of every worker's private
	// cache into the global table. Every partition longer than the
	// sampling window leaves tuples in its worker's cache, because the
	// sampler folds that window through the cache whichever strategy
	// is chosen afterwards, so Merge is needed after any Run that
	// sampled a partition; when no partition was sampled it only scans
	// the caches. Cache entries stay valid until Reset, so a second
	// Merge without a Reset combines them into the global table again.
	// Returns elapsed wall-clock time.
	Merge(ctx context.Context) (time.Duration, error)
	// Reset clears the global table and every private cache so the
	// same input can be Run again, with MissRate reporting only the
	// new run's sampling result afterward.
	Reset()
	// Print writes one line per valid global-table entry to w.
	Print(w io.Writer) error
	// MissRate reports the fraction of sampled tuples that missed
	// every worker's private cache, aggregated over all threads. It
	// is 0.0 before the first Run.
	MissRate() float64
	// Destroy releases the engine's storage. The handle must not be
	// used afterward.
	Destroy()
}

type aggregate struct {
	cfg    Config
	tuples []Tuple

	global     *global.Table
	caches     []*private.Cache
	dispatcher *dispatch.Dispatcher
	hits       []int64
	ran        atomic.Bool
}

// Create allocates a new Aggregate over tuples. tuples must remain
// untouched for the handle's lifetime: every worker reads it
// concurrently without its own copy or lock. Configuration errors are
// returned rather than aborting the process, validating at the API
// boundary instead of on the hot path.
func Create(cfg Config, tuples []Tuple) (Aggregate, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(tuples) == 0 {
		return nil, fmt.Errorf("aggregion: tuples must be non-empty")
	}

	caches := make([]*private.Cache, cfg.NThreads)
	for i := range caches {
		caches[i] = private.New(cfg.Flavor)
	}

	return &aggregate{
		cfg:        cfg,
		tuples:     tuples,
		global:     global.New(cfg.Flavor, cfg.NGroups),
		caches:     caches,
		dispatcher: dispatch.New(len(tuples), cfg.NThreads, cfg.ResampleRate),
		hits:       make([]int64, cfg.NThreads),
	}, nil
}

// Run executes one pass: the dispatcher hands each worker a partition,
// the worker samples it, the chooser picks an executor, and the
// executor processes the remainder.
func (a *aggregate) Run(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	a.dispatcher = dispatch.New(len(a.tuples), a.cfg.NThreads, a.cfg.ResampleRate)

	err := dispatch.Run(ctx, a.cfg.NThreads, func(ctx context.Context, worker int) error {
		cache := a.caches[worker]
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			p, ok := a.dispatcher.Next()
			if !ok {
				return nil
			}
			partitionStart, partitionEnd := a.dispatcher.Bounds(p)
			cache.ResetAccessCounts()

			// aggregate_resample.c asserts a partition is larger than
			// WARMUP+SAMPLE_SIZE; the source is only ever run over
			// multi-million-tuple inputs. A partition too small to
			// sample skips straight to the GLOBAL executor over its
			// whole range instead of asserting.
			if partitionEnd-partitionStart <= sampler.Window {
				executor.Global(a.tuples, partitionStart, partitionEnd, a.global)
				continue
			}

			stats := sampler.Run(cache, a.tuples, partitionStart, a.global)
			s := strategy.Choose(a.cfg.Flavor, stats)
			a.dispatcher.LogStrategy(p, s)
			if a.cfg.Metrics != nil {
				a.cfg.Metrics.StrategyChosen.WithLabelValues(s.String()).Inc()
			}

			remainderStart := partitionStart + sampler.Window
			switch s {
			case strategy.Global:
				executor.Global(a.tuples, remainderStart, partitionEnd, a.global)
			case strategy.Hybrid:
				executor.Hybrid(a.tuples, remainderStart, partitionEnd, cache, a.global)
			case strategy.Runs:
				executor.Runs(a.cfg.Flavor, a.tuples, remainderStart, partitionEnd, cache, a.global, true)
			}
			// Mirrors aggregate_resample.c's AggregateOperate: a->hits[id]
			// is overwritten every iteration, so it ends up holding only
			// the most recently sampled partition's hit count per
			// thread, not a running total.
			atomic.StoreInt64(&a.hits[worker], int64(stats.Hits))
		}
	})
	if err != nil {
		return time.Since(start), err
	}
	a.ran.Store(true)
	return time.Since(start), nil
}

// Merge drains every private cache into the global table.
func (a *aggregate) Merge(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	err := merge.Run(ctx, a.caches, a.global)
	return time.Since(start), err
}

// Reset clears the global table, every private cache, and the
// per-worker hit counters; MissRate is per-run, not cumulative
// across Reset.
func (a *aggregate) Reset() {
	a.global.Reset()
	for _, c := range a.caches {
		c.Reset()
	}
	for i := range a.hits {
		atomic.StoreInt64(&a.hits[i], 0)
	}
	a.ran.Store(false)
}

// Print writes the global table's contents for inspection/testing.
func (a *aggregate) Print(w io.Writer) error {
	bw := bufio.NewWriter(w)
	return a.global.Print(bw)
}

// MissRate reports AggregateMissRate's formula from
// aggregate_resample.c: (SAMPLE_SIZE*n_threads - Σhits[i])/
// (SAMPLE_SIZE*n_threads), where each hits[i] is worker i's most
// recently sampled partition's hit count (the source overwrites
// a->hits[id] every partition rather than accumulating it, so this
// is a snapshot statistic, not a run-wide average). It is 0.0 before
// the first Run, where the formula alone would give 1.0 because every
// hits[i] is still zero.
func (a *aggregate) MissRate() float64 {
	if !a.ran.Load() {
		return 0.0
	}
	var totalHits int64
	for i := range a.hits {
		totalHits += atomic.LoadInt64(&a.hits[i])
	}
	denom := float64(sampler.SampleSize * a.cfg.NThreads)
	return (denom - float64(totalHits)) / denom
}

// Destroy releases the engine's storage. Go's garbage collector does
// the actual reclamation; Destroy exists to make reuse-after-destroy a
// caller bug that shows up as a nil-pointer panic rather than silent
// corruption.
func (a *aggregate) Destroy() {
	a.global = nil
	a.caches = nil
	a.dispatcher = nil
	glog.V(2).Infof("aggregion: destroyed aggregate over %d tuples", len(a.tuples))
	a.tuples = nil
}
