// Copyright (c) 2024 Arista Networks, Inc.
// Use of this source code is governed by the Apache License 2.0
// that can be found in the COPYING file.

package aggregion

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/aristanetworks/aggregion/internal/combine"
	"github.com/aristanetworks/aggregion/internal/global"
	"github.com/aristanetworks/aggregion/internal/private"
	"github.com/aristanetworks/aggregion/internal/sampler"
	"github.com/aristanetworks/aggregion/internal/strategy"
	"github.com/aristanetworks/aggregion/internal/tuple"
)

func twoGroupTuples() []Tuple {
	return []Tuple{
		{Key: 1, Values: [4]uint64{10, 0, 0, 0}},
		{Key: 2, Values: [4]uint64{20, 0, 0, 0}},
		{Key: 1, Values: [4]uint64{5, 0, 0, 0}},
		{Key: 2, Values: [4]uint64{1, 0, 0, 0}},
		{Key: 1, Values: [4]uint64{7, 0, 0, 0}},
	}
}

func TestCreateRejectsBadConfig(t *testing.T) {
	tuples := twoGroupTuples()
	tests := []Config{
		{NThreads: 0, NGroups: 2, ResampleRate: 1, Flavor: Sum},
		{NThreads: 1, NGroups: 0, ResampleRate: 1, Flavor: Sum},
		{NThreads: 1, NGroups: 2, ResampleRate: 0, Flavor: Sum},
	}
	for _, cfg := range tests {
		if _, err := Create(cfg, tuples); err == nil {
			t.Errorf("Create(%+v) succeeded, want error", cfg)
		}
	}
}

func TestCreateRejectsEmptyTuples(t *testing.T) {
	cfg := Config{NThreads: 1, NGroups: 2, ResampleRate: 1, Flavor: Sum}
	if _, err := Create(cfg, nil); err == nil {
		t.Error("Create with no tuples succeeded, want error")
	}
}

func TestRunSmallInputMatchesSequentialSum(t *testing.T) {
	tuples := twoGroupTuples()
	cfg := Config{NThreads: 2, NGroups: 2, ResampleRate: 1, Flavor: Sum}
	agg, err := Create(cfg, tuples)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	defer agg.Destroy()

	if _, err := agg.Run(context.Background()); err != nil {
		t.Fatalf("Run: %s", err)
	}
	if _, err := agg.Merge(context.Background()); err != nil {
		t.Fatalf("Merge: %s", err)
	}

	var buf bytes.Buffer
	if err := agg.Print(&buf); err != nil {
		t.Fatalf("Print: %s", err)
	}
	out := buf.String()

	// Sequential reference: key 1 -> count 3 sum 22; key 2 -> count 2 sum 21.
	if !strings.Contains(out, "\t1\t3\t22\t") {
		t.Errorf("output missing key 1's expected aggregate (count=3 sum=22): %q", out)
	}
	if !strings.Contains(out, "\t2\t2\t21\t") {
		t.Errorf("output missing key 2's expected aggregate (count=2 sum=21): %q", out)
	}
}

func TestMissRateZeroBeforeRun(t *testing.T) {
	cfg := Config{NThreads: 1, NGroups: 2, ResampleRate: 1, Flavor: Sum}
	agg, err := Create(cfg, twoGroupTuples())
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	defer agg.Destroy()

	if got := agg.MissRate(); got != 0.0 {
		t.Errorf("MissRate before Run = %f, want 0.0", got)
	}
}

func TestResetAllowsRerunAndClearsMissRate(t *testing.T) {
	cfg := Config{NThreads: 1, NGroups: 2, ResampleRate: 1, Flavor: Sum}
	agg, err := Create(cfg, twoGroupTuples())
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	defer agg.Destroy()

	if _, err := agg.Run(context.Background()); err != nil {
		t.Fatalf("Run: %s", err)
	}
	agg.Reset()
	if got := agg.MissRate(); got != 0.0 {
		t.Errorf("MissRate after Reset = %f, want 0.0", got)
	}

	if _, err := agg.Run(context.Background()); err != nil {
		t.Fatalf("second Run after Reset: %s", err)
	}
	var buf bytes.Buffer
	if err := agg.Print(&buf); err != nil {
		t.Fatalf("Print: %s", err)
	}
	if buf.Len() == 0 {
		t.Error("expected output after re-running post-Reset")
	}
}

func TestMinMaxFlavorEndToEnd(t *testing.T) {
	tuples := []Tuple{
		{Key: 1, Values: [4]uint64{5}},
		{Key: 1, Values: [4]uint64{1}},
		{Key: 1, Values: [4]uint64{9}},
	}
	cfg := Config{NThreads: 1, NGroups: 2, ResampleRate: 1, Flavor: MinMax}
	agg, err := Create(cfg, tuples)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	defer agg.Destroy()

	if _, err := agg.Run(context.Background()); err != nil {
		t.Fatalf("Run: %s", err)
	}
	if _, err := agg.Merge(context.Background()); err != nil {
		t.Fatalf("Merge: %s", err)
	}

	var buf bytes.Buffer
	if err := agg.Print(&buf); err != nil {
		t.Fatalf("Print: %s", err)
	}
	line := strings.TrimSpace(buf.String())
	fields := strings.Fields(line)
	// count, bucket, key, min, max, minalt
	if len(fields) != 6 {
		t.Fatalf("got %d fields, want 6: %q", len(fields), line)
	}
	if fields[2] != "1" || fields[3] != "1" || fields[4] != "9" {
		t.Errorf("expected key=1 min=1 max=9, got key=%s min=%s max=%s", fields[2], fields[3], fields[4])
	}
}

func TestDistinctFlavorEndToEnd(t *testing.T) {
	tuples := []Tuple{{Key: 1}, {Key: 2}, {Key: 1}, {Key: 3}}
	cfg := Config{NThreads: 2, NGroups: 4, ResampleRate: 1, Flavor: Distinct}
	agg, err := Create(cfg, tuples)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	defer agg.Destroy()

	if _, err := agg.Run(context.Background()); err != nil {
		t.Fatalf("Run: %s", err)
	}
	if _, err := agg.Merge(context.Background()); err != nil {
		t.Fatalf("Merge: %s", err)
	}

	var buf bytes.Buffer
	if err := agg.Print(&buf); err != nil {
		t.Fatalf("Print: %s", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d distinct-key lines, want 3: %q", len(lines), buf.String())
	}
}

// sumCounts runs a SUM-flavor aggregate to completion and returns, per
// key, (count, sum) read back from Print's column layout.
func sumCounts(t *testing.T, cfg Config, tuples []Tuple) map[uint64][2]uint64 {
	t.Helper()
	agg, err := Create(cfg, tuples)
	if err != nil {
		t.Fatalf("Create: %s", err)
	}
	defer agg.Destroy()
	if _, err := agg.Run(context.Background()); err != nil {
		t.Fatalf("Run: %s", err)
	}
	if _, err := agg.Merge(context.Background()); err != nil {
		t.Fatalf("Merge: %s", err)
	}
	var buf bytes.Buffer
	if err := agg.Print(&buf); err != nil {
		t.Fatalf("Print: %s", err)
	}
	out := make(map[uint64][2]uint64)
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		var key, count, sum uint64
		fmt.Sscanf(fields[2], "%d", &key)
		fmt.Sscanf(fields[3], "%d", &count)
		fmt.Sscanf(fields[4], "%d", &sum)
		out[key] = [2]uint64{count, sum}
	}
	return out
}

// TestRunIsInvariantUnderInputPermutation checks that the resulting
// global table for a given multiset of tuples does not depend on the
// order the tuples were supplied in.
func TestRunIsInvariantUnderInputPermutation(t *testing.T) {
	const nTups, nGroups = 20000, 64
	r := rand.New(rand.NewSource(7))
	base := make([]Tuple, nTups)
	for i := range base {
		base[i] = Tuple{Key: uint64(r.Intn(nGroups)), Values: [4]uint64{1, 1, 1, 1}}
	}
	permuted := append([]Tuple(nil), base...)
	r.Shuffle(len(permuted), func(i, j int) { permuted[i], permuted[j] = permuted[j], permuted[i] })

	cfg := Config{NThreads: 4, NGroups: nGroups, ResampleRate: 2, Flavor: Sum}
	got := sumCounts(t, cfg, base)
	gotPermuted := sumCounts(t, cfg, permuted)

	if len(got) != len(gotPermuted) {
		t.Fatalf("distinct key counts differ: %d vs %d", len(got), len(gotPermuted))
	}
	for k, v := range got {
		if gotPermuted[k] != v {
			t.Errorf("key %d: unpermuted %v, permuted %v", k, v, gotPermuted[k])
		}
	}
}

// TestSortedRunsForcesRunsStrategy checks that key = i/16 over 65536
// tuples yields 4096 groups of count 16 each, and that the sampler's
// average run length exceeds 8/7 so the chooser picks RUNS.
func TestSortedRunsForcesRunsStrategy(t *testing.T) {
	const nTups, runLen = 65536, 16
	nGroups := nTups / runLen
	tuples := make([]Tuple, nTups)
	for i := range tuples {
		tuples[i] = Tuple{Key: uint64(i / runLen), Values: [4]uint64{1, 0, 0, 0}}
	}

	cfg := Config{NThreads: 1, NGroups: nGroups, ResampleRate: 1, Flavor: Sum}
	got := sumCounts(t, cfg, tuples)
	if len(got) != nGroups {
		t.Fatalf("got %d groups, want %d", len(got), nGroups)
	}
	for k, v := range got {
		if v[0] != runLen {
			t.Errorf("key %d count = %d, want %d", k, v[0], runLen)
		}
	}

	// Confirm the sampler/chooser actually pick RUNS over this same
	// sorted-runs distribution, independent of the end-to-end count
	// check above.
	rawTuples := make([]tuple.Tuple, nTups)
	for i := range rawTuples {
		rawTuples[i] = tuple.Tuple{Key: uint64(i / runLen), Values: [tuple.MaxValues]uint64{1, 0, 0, 0}}
	}
	cache := private.New(combine.SumFlavor)
	g := global.New(combine.SumFlavor, nGroups)
	stats := sampler.Run(cache, rawTuples, 0, g)
	if stats.AvgRunLength <= 8.0/7.0 {
		t.Fatalf("AvgRunLength = %f, want > 8/7", stats.AvgRunLength)
	}
	if got := strategy.Choose(combine.SumFlavor, stats); got != strategy.Runs {
		t.Fatalf("strategy.Choose() = %v, want Runs", got)
	}
}

// TestHeavyHitterSplitsHalfTotalIntoOneKey checks a heavy-hitter input
// at reduced scale: half the tuples share one hot key, the rest are
// spread over the remaining keys, and the total count across every
// group equals the input size regardless of which strategy each
// partition chose.
func TestHeavyHitterSplitsHalfTotalIntoOneKey(t *testing.T) {
	const nTups, nGroups = 200000, 1024
	r := rand.New(rand.NewSource(11))
	tuples := make([]Tuple, nTups)
	half := nTups / 2
	for i := range tuples {
		key := uint64(0)
		if i >= half {
			key = 1 + uint64(r.Intn(nGroups-1))
		}
		tuples[i] = Tuple{Key: key, Values: [4]uint64{1, 0, 0, 0}}
	}

	cfg := Config{NThreads: 4, NGroups: nGroups, ResampleRate: 2, Flavor: Sum}
	got := sumCounts(t, cfg, tuples)

	if got[0][0] != uint64(half) {
		t.Errorf("hot key count = %d, want %d", got[0][0], half)
	}
	var total uint64
	for _, v := range got {
		total += v[0]
	}
	if total != uint64(nTups) {
		t.Errorf("total count across all groups = %d, want %d", total, nTups)
	}
}

// TestSingleBucketContentionNoLostInserts checks that every tuple
// sharing one degenerate key, aggregated by several threads contending
// on the same bucket, does not lose or duplicate a single update.
func TestSingleBucketContentionNoLostInserts(t *testing.T) {
	const nTups = 200000
	tuples := make([]Tuple, nTups)
	for i := range tuples {
		tuples[i] = Tuple{Key: 42, Values: [4]uint64{1, 0, 0, 0}}
	}

	cfg := Config{NThreads: 8, NGroups: 1, ResampleRate: 4, Flavor: Sum}
	got := sumCounts(t, cfg, tuples)
	if len(got) != 1 {
		t.Fatalf("got %d distinct keys, want 1", len(got))
	}
	if got[42][0] != uint64(nTups) || got[42][1] != uint64(nTups) {
		t.Errorf("key 42 = (count=%d, sum=%d), want (%d, %d)", got[42][0], got[42][1], nTups, nTups)
	}
}
