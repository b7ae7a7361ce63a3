// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

// Package dispatch implements the work-stealing partition dispatcher:
// aggregate_resample.c's atomic_inc_uint_nv counter loop,
// reimplemented with sync/atomic and fanned out with
// golang.org/x/sync/errgroup.
package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/aristanetworks/glog"
)

// strategyLogRate is the process-wide default rate (log lines per
// second) for LogStrategy, stored as hundredths of a line-per-second
// so it fits an atomic.Int64. It is read by every new Dispatcher and
// can be adjusted live through SetStrategyLogRate. It caps the line on
// top of the glog.V(2) gate: nothing is written while glog verbosity
// is below 2, and at 2 or above this rate limits how many strategy
// lines per second get through.
var strategyLogRate atomic.Int64

func init() {
	strategyLogRate.Store(defaultStrategyLogRateCentiHz)
}

const defaultStrategyLogRateCentiHz = 2000 // 20.00 lines/sec

// SetStrategyLogRate changes the rate new Dispatchers throttle
// LogStrategy to, and returns the previous rate so a caller (the
// debug/loglevel endpoint) can restore it later.
func SetStrategyLogRate(perSecond float64) (previous float64) {
	old := strategyLogRate.Swap(int64(perSecond * 100))
	return float64(old) / 100
}

// StrategyLogRate reports the rate new Dispatchers are currently
// built with.
func StrategyLogRate() float64 {
	return float64(strategyLogRate.Load()) / 100
}

// Dispatcher hands out partitions [0, total) to whichever worker asks
// next, via an atomic fetch-add. Every partition is equal-size and
// resampled independently; resample_rate multiplies the partition
// count so finer-grained stealing is possible without adding threads.
type Dispatcher struct {
	nTups   int
	total   int
	next    atomic.Int64
	logGate *semaphore.Weighted
	logRate *rate.Limiter
}

// New builds a dispatcher for nTups tuples split across nThreads
// workers at resampleRate partitions per thread (total partitions =
// nThreads * resampleRate).
func New(nTups, nThreads, resampleRate int) *Dispatcher {
	return &Dispatcher{
		nTups: nTups,
		total: nThreads * resampleRate,
		// logGate is a single-permit semaphore guarding the rate-
		// limited strategy log line below so two workers logging a
		// partition boundary at the same instant never interleave a
		// single log line.
		logGate: semaphore.NewWeighted(1),
		logRate: rate.NewLimiter(rate.Limit(StrategyLogRate()), 1),
	}
}

// Total reports the total partition count (N·R).
func (d *Dispatcher) Total() int {
	return d.total
}

// Next returns the next partition index to process and true, or
// (0, false) once every partition in [0, total) has been claimed.
// Every call observes the counter advancing strictly: no partition
// index is ever handed out twice, and every index in [0, total) is
// handed out to exactly one caller.
func (d *Dispatcher) Next() (int, bool) {
	n := d.next.Add(1)
	if n > int64(d.total) {
		return 0, false
	}
	return int(n - 1), true
}

// Bounds returns the contiguous tuple-index range [start, end) owned
// by partition p, splitting nTups into total equal-size ranges.
func (d *Dispatcher) Bounds(p int) (start, end int) {
	start = p * d.nTups / d.total
	end = (p + 1) * d.nTups / d.total
	return start, end
}

// LogStrategy rate-limit-logs a partition's chosen strategy at
// glog.V(2), a leveled-logging convention for per-partition decisions
// that avoids spamming the log once per partition when resample_rate
// is large.
func (d *Dispatcher) LogStrategy(partition int, strategy fmt.Stringer) {
	if !d.logRate.Allow() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	if err := d.logGate.Acquire(ctx, 1); err != nil {
		return
	}
	defer d.logGate.Release(1)
	glog.V(2).Infof("dispatch: partition %d strategy=%s", partition, strategy)
}

// Run fans nThreads worker goroutines out over the dispatcher using
// errgroup rather than a hand-rolled WaitGroup + error channel.
func Run(ctx context.Context, nThreads int, work func(ctx context.Context, worker int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < nThreads; w++ {
		w := w
		g.Go(func() error {
			return work(ctx, w)
		})
	}
	return g.Wait()
}
