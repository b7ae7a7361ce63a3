// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package dispatch

import (
	"context"
	"sync"
	"testing"
)

func TestBoundsCoverWholeRangeWithoutOverlap(t *testing.T) {
	d := New(1000, 4, 2)
	var prevEnd int
	for p := 0; p < d.Total(); p++ {
		start, end := d.Bounds(p)
		if start != prevEnd {
			t.Fatalf("partition %d start=%d, want %d (contiguous with previous end)", p, start, prevEnd)
		}
		if end < start {
			t.Fatalf("partition %d end=%d < start=%d", p, end, start)
		}
		prevEnd = end
	}
	if prevEnd != 1000 {
		t.Errorf("final partition end = %d, want 1000", prevEnd)
	}
}

func TestNextHandsOutEveryPartitionExactlyOnce(t *testing.T) {
	d := New(1000, 4, 3)
	const workers = 8
	seen := make([]int, d.Total())
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				p, ok := d.Next()
				if !ok {
					return
				}
				mu.Lock()
				seen[p]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	for p, count := range seen {
		if count != 1 {
			t.Errorf("partition %d handed out %d times, want 1", p, count)
		}
	}
}

func TestNextExhaustedReturnsFalse(t *testing.T) {
	d := New(10, 1, 1)
	if _, ok := d.Next(); !ok {
		t.Fatal("expected one partition available")
	}
	if _, ok := d.Next(); ok {
		t.Fatal("expected dispatcher to be exhausted")
	}
}

func TestSetStrategyLogRateAppliesToNewDispatchers(t *testing.T) {
	prev := SetStrategyLogRate(5)
	defer SetStrategyLogRate(prev)

	if got := StrategyLogRate(); got != 5 {
		t.Fatalf("StrategyLogRate() = %f, want 5", got)
	}
	d := New(100, 1, 1)
	if got := float64(d.logRate.Limit()); got != 5 {
		t.Errorf("new Dispatcher's logRate limit = %f, want 5", got)
	}
}

func TestRunFansOutAndCollectsErrors(t *testing.T) {
	var mu sync.Mutex
	seenWorkers := make(map[int]bool)
	err := Run(context.Background(), 4, func(ctx context.Context, worker int) error {
		mu.Lock()
		seenWorkers[worker] = true
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %s", err)
	}
	if len(seenWorkers) != 4 {
		t.Errorf("len(seenWorkers) = %d, want 4", len(seenWorkers))
	}
}
